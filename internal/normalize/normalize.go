// Package normalize explodes merged flat records into deduplicated entity
// and link tables.
package normalize

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/matsen/scholartab/internal/check"
	"github.com/matsen/scholartab/internal/extract"
	"github.com/matsen/scholartab/internal/flatten"
	"github.com/matsen/scholartab/internal/observability"
	"github.com/matsen/scholartab/internal/paper"
)

// Column specs map output columns to paths inside one list element.
var (
	ClassificationCodeSpec = map[string]string{
		"code":         "@code",
		"name":         flatten.TextKey,
		"abbreviation": "@abbrev",
	}
	AffiliationSpec = map[string]string{
		"id":      "@id",
		"name":    "affilname",
		"city":    "affiliation-city",
		"country": "affiliation-country",
		"href":    "@href",
	}
	ReferenceSpec = map[string]string{
		"reference_id": "@id",
		"full_text":    "ref-fulltext",
		"title":        "ref-info.ref-title.ref-titletext",
		"source_title": "ref-info.ref-sourcetitle",
		"text":         "ref-info.ref-text",
	}
	KeywordSpec = map[string]string{
		"keyword": flatten.TextKey,
	}

	ReferenceAuthorsPath = "ref-info.ref-authors.author"
	AuthorNamePath       = "ce:indexed-name"
)

// Stats reports what normalization skipped. Dropped counts rows without
// a key; repeated reference ids within a paper are DuplicateReferences.
type Stats struct {
	Records             int            `json:"records"`
	DuplicatePapers     int            `json:"duplicate_papers"`
	DuplicateReferences int            `json:"duplicate_references,omitempty"`
	Dropped             map[string]int `json:"dropped,omitempty"`
	Conflicts           map[string]int `json:"conflicts,omitempty"`
}

// Normalizer converts merged records to tables.
type Normalizer struct {
	logger  zerolog.Logger
	metrics *observability.Metrics

	codes      *extract.Lookup
	affs       *extract.Lookup
	refs       *extract.Lookup
	keywords   *extract.Lookup
	authorList extract.Path
	authorName extract.Path
}

// New creates a Normalizer. Metrics may be nil.
func New(logger zerolog.Logger, metrics *observability.Metrics) *Normalizer {
	return &Normalizer{
		logger:     observability.WithComponent(logger, "normalize"),
		metrics:    metrics,
		codes:      extract.NewLookup(ClassificationCodeSpec),
		affs:       extract.NewLookup(AffiliationSpec),
		refs:       extract.NewLookup(ReferenceSpec),
		keywords:   extract.NewLookup(KeywordSpec),
		authorList: extract.ParsePath(ReferenceAuthorsPath),
		authorName: extract.ParsePath(AuthorNamePath),
	}
}

// Normalize builds all tables from records with a silent Normalizer.
func Normalize(records []paper.FlatRecord) (*paper.Tables, Stats, error) {
	return New(zerolog.Nop(), nil).Run(records)
}

// Run builds the nine tables. Rows follow the order of records and, within
// a record, the order of its list elements. The first occurrence of a
// dimension key wins. The result is checked for integrity before it is
// returned; a violation is an error wrapping check.ErrIntegrity.
func (n *Normalizer) Run(records []paper.FlatRecord) (*paper.Tables, Stats, error) {
	b := newBuilder()
	stats := Stats{Records: len(records)}

	for _, rec := range records {
		if !b.paperIDs.add(rec.ID) {
			stats.DuplicatePapers++
			n.logger.Warn().Str("paper_id", rec.ID).Str("source", rec.Source).Msg("duplicate paper id, keeping first")
			continue
		}
		b.tables.Papers = append(b.tables.Papers, paperRow(rec))

		if err := n.explodeCodes(b, rec); err != nil {
			return nil, stats, err
		}
		if err := n.explodeAffiliations(b, rec); err != nil {
			return nil, stats, err
		}
		if err := n.explodeReferences(b, rec); err != nil {
			return nil, stats, err
		}
		if err := n.explodeKeywords(b, rec); err != nil {
			return nil, stats, err
		}
	}

	stats.DuplicateReferences = b.duplicateRefs
	stats.Dropped = b.dropped
	stats.Conflicts = b.conflicts
	n.record(b.tables, stats)

	if err := check.Verify(b.tables); err != nil {
		return nil, stats, fmt.Errorf("normalizing: %w", err)
	}
	return b.tables, stats, nil
}

func (n *Normalizer) record(t *paper.Tables, stats Stats) {
	counts := t.Counts()
	ev := n.logger.Info().Int("records", stats.Records).Int("duplicate_papers", stats.DuplicatePapers).
		Int("duplicate_references", stats.DuplicateReferences)
	for _, name := range paper.TableNames {
		ev = ev.Int(name, counts[name])
	}
	ev.Msg("normalize complete")

	if n.metrics == nil {
		return
	}
	for name, c := range counts {
		n.metrics.TableRows.WithLabelValues(name).Set(float64(c))
	}
	for name, c := range stats.Dropped {
		n.metrics.DroppedRows.WithLabelValues(name).Add(float64(c))
	}
}

func paperRow(rec paper.FlatRecord) paper.Paper {
	return paper.Paper{
		ID:              rec.ID,
		Title:           rec.Title,
		PublicationName: rec.PublicationName,
		Abstract:        rec.Abstract,
		PublishDate:     rec.PublishDate,
		CitedByCount:    rec.CitedByCount,
		ReferenceCount:  rec.ReferenceCount,
	}
}

// project resolves a column spec against one element and keeps only the
// columns with text, so absent values never become empty attributes.
func project(l *extract.Lookup, elem paper.Object) map[string]any {
	out := l.Project(elem)
	for k, v := range out {
		s := flatten.Text(v)
		if s == "" {
			delete(out, k)
			continue
		}
		out[k] = s
	}
	return out
}

func (n *Normalizer) explodeCodes(b *builder, rec paper.FlatRecord) error {
	for _, elem := range rec.ClassificationCodes {
		var c paper.ClassificationCode
		if err := paper.Decode(project(n.codes, elem), &c); err != nil {
			return fmt.Errorf("paper %s: classification code: %w", rec.ID, err)
		}
		if c.Code == "" {
			b.drop(paper.TablePaperClassificationCodes)
			continue
		}
		if b.codes.add(c.Code) {
			b.codeRows[c.Code] = c
			b.tables.ClassificationCodes = append(b.tables.ClassificationCodes, c)
		} else if b.codeRows[c.Code] != c {
			b.conflict(paper.TableClassificationCodes)
		}
		link := paper.PaperClassificationCode{PaperID: rec.ID, Code: c.Code}
		if b.codeLinks.add(link) {
			b.tables.PaperClassificationCodes = append(b.tables.PaperClassificationCodes, link)
		}
	}
	return nil
}

func (n *Normalizer) explodeAffiliations(b *builder, rec paper.FlatRecord) error {
	for _, elem := range rec.Affiliations {
		var a paper.Affiliation
		if err := paper.Decode(project(n.affs, elem), &a); err != nil {
			return fmt.Errorf("paper %s: affiliation: %w", rec.ID, err)
		}
		if a.ID == "" {
			b.drop(paper.TablePaperAffiliations)
			continue
		}
		if b.affs.add(a.ID) {
			b.affRows[a.ID] = a
			b.tables.Affiliations = append(b.tables.Affiliations, a)
		} else if b.affRows[a.ID] != a {
			b.conflict(paper.TableAffiliations)
		}
		link := paper.PaperAffiliation{PaperID: rec.ID, AffiliationID: a.ID}
		if b.affLinks.add(link) {
			b.tables.PaperAffiliations = append(b.tables.PaperAffiliations, link)
		}
	}
	return nil
}

func (n *Normalizer) explodeReferences(b *builder, rec paper.FlatRecord) error {
	for _, elem := range rec.References {
		row := project(n.refs, elem)
		row["paper_id"] = rec.ID

		var r paper.Reference
		if err := paper.Decode(row, &r); err != nil {
			return fmt.Errorf("paper %s: reference: %w", rec.ID, err)
		}
		if r.ReferenceID == "" {
			b.drop(paper.TableReferences)
			continue
		}
		if !b.refs.add(refKey{r.PaperID, r.ReferenceID}) {
			b.duplicateRefs++
			continue
		}
		b.tables.References = append(b.tables.References, r)

		authors := flatten.Coerce(extract.Get(elem, n.authorList)).Objects()
		for _, author := range authors {
			name := flatten.Text(extract.Get(author, n.authorName))
			if name == "" {
				b.drop(paper.TableReferenceAuthors)
				continue
			}
			ra := paper.ReferenceAuthor{PaperID: rec.ID, ReferenceID: r.ReferenceID, Name: name}
			if b.refAuthors.add(ra) {
				b.tables.ReferenceAuthors = append(b.tables.ReferenceAuthors, ra)
			}
		}
	}
	return nil
}

func (n *Normalizer) explodeKeywords(b *builder, rec paper.FlatRecord) error {
	for _, elem := range rec.Keywords {
		var k paper.Keyword
		if err := paper.Decode(project(n.keywords, elem), &k); err != nil {
			return fmt.Errorf("paper %s: keyword: %w", rec.ID, err)
		}
		if k.Keyword == "" {
			b.drop(paper.TablePaperKeywords)
			continue
		}
		if b.keywords.add(k.Keyword) {
			b.tables.Keywords = append(b.tables.Keywords, k)
		}
		link := paper.PaperKeyword{PaperID: rec.ID, Keyword: k.Keyword}
		if b.keywordLinks.add(link) {
			b.tables.PaperKeywords = append(b.tables.PaperKeywords, link)
		}
	}
	return nil
}
