package dashboard

import (
	"cmp"
	"slices"

	"github.com/matsen/scholartab/internal/paper"
)

// Year bounds reported when no paper has a publish date.
const (
	DefaultMinYear = 2000
	DefaultMaxYear = 2023
)

// YearRange is an inclusive year filter. A zero bound is open.
type YearRange struct {
	From int `json:"from"`
	To   int `json:"to"`
}

// Contains reports whether a known year lies in the range. Year 0 means
// unknown and never matches.
func (r YearRange) Contains(year int) bool {
	if year == 0 {
		return false
	}
	return (r.From == 0 || year >= r.From) && (r.To == 0 || year <= r.To)
}

// Count is one bar of a frequency chart.
type Count struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

type YearCount struct {
	Year  int `json:"year"`
	Count int `json:"count"`
}

// CodeCount groups classification links by abbreviation.
type CodeCount struct {
	Abbreviation string   `json:"abbreviation"`
	Count        int      `json:"count"`
	FullNames    []string `json:"full_names"`
}

type TrendPoint struct {
	Year         int    `json:"year"`
	Abbreviation string `json:"abbreviation"`
	Count        int    `json:"count"`
}

// countryNames maps affiliation countries to the names used by world
// map boundary data.
var countryNames = map[string]string{
	"Russian Federation":        "Russia",
	"United States":             "United States of America",
	"Viet Nam":                  "Vietnam",
	"North Macedonia":           "Macedonia",
	"Democratic Republic Congo": "Democratic Republic of the Congo",
	"Cote d'Ivoire":             "Ivory Coast",
	"Brunei Darussalam":         "Brunei",
	"Czech Republic":            "Czechia",
	"Syria":                     "Syrian Arab Republic",
	"Swaziland":                 "Eswatini",
}

// MapCountry returns the map name for an affiliation country.
func MapCountry(country string) string {
	if mapped, ok := countryNames[country]; ok {
		return mapped
	}
	return country
}

// Snapshot is an immutable view of the tables with lookup indexes.
type Snapshot struct {
	Tables *paper.Tables

	years map[string]int
	codes map[string]paper.ClassificationCode
	affs  map[string]paper.Affiliation
}

// NewSnapshot indexes t. t must not be modified afterwards.
func NewSnapshot(t *paper.Tables) *Snapshot {
	s := &Snapshot{
		Tables: t,
		years:  make(map[string]int, len(t.Papers)),
		codes:  make(map[string]paper.ClassificationCode, len(t.ClassificationCodes)),
		affs:   make(map[string]paper.Affiliation, len(t.Affiliations)),
	}
	for _, p := range t.Papers {
		s.years[p.ID] = p.Year()
	}
	for _, c := range t.ClassificationCodes {
		s.codes[c.Code] = c
	}
	for _, a := range t.Affiliations {
		s.affs[a.ID] = a
	}
	return s
}

func (s *Snapshot) inRange(paperID string, r YearRange) bool {
	return r.Contains(s.years[paperID])
}

// YearBounds returns the earliest and latest publication year.
func (s *Snapshot) YearBounds() YearRange {
	var b YearRange
	for _, y := range s.years {
		if y == 0 {
			continue
		}
		if b.From == 0 || y < b.From {
			b.From = y
		}
		if y > b.To {
			b.To = y
		}
	}
	if b.From == 0 {
		return YearRange{From: DefaultMinYear, To: DefaultMaxYear}
	}
	return b
}

// PapersByYear counts papers per publication year, ascending by year.
func (s *Snapshot) PapersByYear(r YearRange) []YearCount {
	counts := make(map[int]int)
	for _, p := range s.Tables.Papers {
		if y := s.years[p.ID]; r.Contains(y) {
			counts[y]++
		}
	}

	out := make([]YearCount, 0, len(counts))
	for y, n := range counts {
		out = append(out, YearCount{Year: y, Count: n})
	}
	slices.SortFunc(out, func(a, b YearCount) int { return cmp.Compare(a.Year, b.Year) })
	return out
}

// TopJournals returns the n most frequent publication names.
func (s *Snapshot) TopJournals(r YearRange, n int) []Count {
	counts := make(map[string]int)
	for _, p := range s.Tables.Papers {
		if p.PublicationName != "" && s.inRange(p.ID, r) {
			counts[p.PublicationName]++
		}
	}
	return top(counts, n)
}

// TopCodes returns the n most linked classification abbreviations with
// the full names seen for each.
func (s *Snapshot) TopCodes(r YearRange, n int) []CodeCount {
	byAbbrev := make(map[string]*CodeCount)
	for _, l := range s.Tables.PaperClassificationCodes {
		code, ok := s.codes[l.Code]
		if !ok || !s.inRange(l.PaperID, r) {
			continue
		}
		cc := byAbbrev[code.Abbreviation]
		if cc == nil {
			cc = &CodeCount{Abbreviation: code.Abbreviation}
			byAbbrev[code.Abbreviation] = cc
		}
		cc.Count++
		if code.Name != "" && !slices.Contains(cc.FullNames, code.Name) {
			cc.FullNames = append(cc.FullNames, code.Name)
		}
	}

	out := make([]CodeCount, 0, len(byAbbrev))
	for _, cc := range byAbbrev {
		out = append(out, *cc)
	}
	slices.SortFunc(out, func(a, b CodeCount) int {
		if c := cmp.Compare(b.Count, a.Count); c != 0 {
			return c
		}
		return cmp.Compare(a.Abbreviation, b.Abbreviation)
	})
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

// Trends counts links per year for the topN abbreviations overall.
// Points are ordered by year, then abbreviation.
func (s *Snapshot) Trends(r YearRange, topN int) []TrendPoint {
	keep := make(map[string]bool)
	for _, cc := range s.TopCodes(r, topN) {
		keep[cc.Abbreviation] = true
	}

	type key struct {
		year   int
		abbrev string
	}
	counts := make(map[key]int)
	for _, l := range s.Tables.PaperClassificationCodes {
		code, ok := s.codes[l.Code]
		if !ok || !keep[code.Abbreviation] || !s.inRange(l.PaperID, r) {
			continue
		}
		counts[key{s.years[l.PaperID], code.Abbreviation}]++
	}

	out := make([]TrendPoint, 0, len(counts))
	for k, n := range counts {
		out = append(out, TrendPoint{Year: k.year, Abbreviation: k.abbrev, Count: n})
	}
	slices.SortFunc(out, func(a, b TrendPoint) int {
		if c := cmp.Compare(a.Year, b.Year); c != 0 {
			return c
		}
		return cmp.Compare(a.Abbreviation, b.Abbreviation)
	})
	return out
}

// Countries counts paper-affiliation links per country, using map names.
func (s *Snapshot) Countries(r YearRange) []Count {
	counts := make(map[string]int)
	for _, l := range s.Tables.PaperAffiliations {
		a, ok := s.affs[l.AffiliationID]
		if !ok || a.Country == "" || !s.inRange(l.PaperID, r) {
			continue
		}
		counts[MapCountry(a.Country)]++
	}
	return top(counts, 0)
}

// Keywords returns the n most frequent keywords.
func (s *Snapshot) Keywords(r YearRange, n int) []Count {
	counts := make(map[string]int)
	for _, l := range s.Tables.PaperKeywords {
		if s.inRange(l.PaperID, r) {
			counts[l.Keyword]++
		}
	}
	return top(counts, n)
}

// TopAuthors ranks cited author names by the number of papers in range
// citing them. An author cited twice by one paper counts once.
func (s *Snapshot) TopAuthors(r YearRange, n int) []Count {
	type key struct{ name, paperID string }
	seen := make(map[key]bool)
	counts := make(map[string]int)
	for _, a := range s.Tables.ReferenceAuthors {
		k := key{a.Name, a.PaperID}
		if seen[k] || !s.inRange(a.PaperID, r) {
			continue
		}
		seen[k] = true
		counts[a.Name]++
	}
	return top(counts, n)
}

// top sorts by descending count, then name. n <= 0 keeps everything.
func top(counts map[string]int, n int) []Count {
	out := make([]Count, 0, len(counts))
	for name, c := range counts {
		out = append(out, Count{Name: name, Count: c})
	}
	slices.SortFunc(out, func(a, b Count) int {
		if c := cmp.Compare(b.Count, a.Count); c != 0 {
			return c
		}
		return cmp.Compare(a.Name, b.Name)
	})
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}
