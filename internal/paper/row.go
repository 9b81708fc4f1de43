package paper

import (
	"fmt"
	"strconv"

	"github.com/go-viper/mapstructure/v2"
)

// Kind is the storage type of a column.
type Kind int

const (
	KindString Kind = iota
	KindInt
)

// Column describes one output column.
type Column struct {
	Name string
	Kind Kind
}

// Row is implemented by every table row type. Values returns one entry per
// column: a string for KindString, a *int64 (nil when absent) for KindInt.
type Row interface {
	Values() []any
}

func strCol(names ...string) []Column {
	cols := make([]Column, len(names))
	for i, n := range names {
		cols[i] = Column{Name: n}
	}
	return cols
}

var (
	PaperColumns = []Column{
		{Name: "id"},
		{Name: "title"},
		{Name: "publication_name"},
		{Name: "abstract"},
		{Name: "publish_date"},
		{Name: "cited_by_count", Kind: KindInt},
		{Name: "reference_count", Kind: KindInt},
	}
	ClassificationCodeColumns      = strCol("code", "name", "abbreviation")
	PaperClassificationCodeColumns = strCol("paper_id", "code")
	AffiliationColumns             = strCol("id", "name", "city", "country", "href")
	PaperAffiliationColumns        = strCol("paper_id", "affiliation_id")
	ReferenceColumns               = strCol("paper_id", "reference_id", "full_text", "title", "source_title", "text")
	ReferenceAuthorColumns         = strCol("paper_id", "reference_id", "name")
	KeywordColumns                 = strCol("keyword")
	PaperKeywordColumns            = strCol("paper_id", "keyword")
)

func (p Paper) Values() []any {
	return []any{p.ID, p.Title, p.PublicationName, p.Abstract, p.PublishDate, p.CitedByCount, p.ReferenceCount}
}

func (c ClassificationCode) Values() []any { return []any{c.Code, c.Name, c.Abbreviation} }

func (l PaperClassificationCode) Values() []any { return []any{l.PaperID, l.Code} }

func (a Affiliation) Values() []any { return []any{a.ID, a.Name, a.City, a.Country, a.Href} }

func (l PaperAffiliation) Values() []any { return []any{l.PaperID, l.AffiliationID} }

func (r Reference) Values() []any {
	return []any{r.PaperID, r.ReferenceID, r.FullText, r.Title, r.SourceTitle, r.Text}
}

func (a ReferenceAuthor) Values() []any { return []any{a.PaperID, a.ReferenceID, a.Name} }

func (k Keyword) Values() []any { return []any{k.Keyword} }

func (l PaperKeyword) Values() []any { return []any{l.PaperID, l.Keyword} }

// FormatValue renders a row value as text. Absent integers render empty.
func FormatValue(v any) string {
	switch tv := v.(type) {
	case string:
		return tv
	case *int64:
		if tv == nil {
			return ""
		}
		return strconv.FormatInt(*tv, 10)
	case nil:
		return ""
	default:
		return fmt.Sprint(tv)
	}
}

// Decode fills out (a pointer to a row struct) from a column -> value map.
// Input is weakly typed, so numeric identifiers decode into string fields
// and numeric strings into integer fields. Keys missing from m leave the
// field at its zero value, which keeps absent integers nil.
func Decode(m map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           out,
		TagName:          "mapstructure",
	})
	if err != nil {
		return fmt.Errorf("creating decoder: %w", err)
	}
	if err := dec.Decode(m); err != nil {
		return fmt.Errorf("decoding row: %w", err)
	}
	return nil
}
