package paper

// Table names, also used as output file stems.
const (
	TablePapers                   = "papers"
	TableClassificationCodes      = "classification_codes"
	TablePaperClassificationCodes = "paper_to_classification_code"
	TableAffiliations             = "affiliations"
	TablePaperAffiliations        = "paper_to_affiliation"
	TableReferences               = "references"
	TableReferenceAuthors         = "paper_reference_author"
	TableKeywords                 = "keywords"
	TablePaperKeywords            = "paper_to_keyword"
)

// TableNames lists all tables in persistence order.
var TableNames = []string{
	TablePapers,
	TableClassificationCodes,
	TablePaperClassificationCodes,
	TableAffiliations,
	TablePaperAffiliations,
	TableReferences,
	TableReferenceAuthors,
	TableKeywords,
	TablePaperKeywords,
}

// Tables is the normalized relational form of the merged records.
type Tables struct {
	Papers                   []Paper
	ClassificationCodes      []ClassificationCode
	PaperClassificationCodes []PaperClassificationCode
	Affiliations             []Affiliation
	PaperAffiliations        []PaperAffiliation
	References               []Reference
	ReferenceAuthors         []ReferenceAuthor
	Keywords                 []Keyword
	PaperKeywords            []PaperKeyword
}

// Table is a generic view of one table for writers.
type Table struct {
	Name    string
	Columns []Column
	Rows    []Row
}

func rows[T Row](xs []T) []Row {
	out := make([]Row, len(xs))
	for i, x := range xs {
		out[i] = x
	}
	return out
}

// List returns every table in persistence order.
func (t *Tables) List() []Table {
	return []Table{
		{TablePapers, PaperColumns, rows(t.Papers)},
		{TableClassificationCodes, ClassificationCodeColumns, rows(t.ClassificationCodes)},
		{TablePaperClassificationCodes, PaperClassificationCodeColumns, rows(t.PaperClassificationCodes)},
		{TableAffiliations, AffiliationColumns, rows(t.Affiliations)},
		{TablePaperAffiliations, PaperAffiliationColumns, rows(t.PaperAffiliations)},
		{TableReferences, ReferenceColumns, rows(t.References)},
		{TableReferenceAuthors, ReferenceAuthorColumns, rows(t.ReferenceAuthors)},
		{TableKeywords, KeywordColumns, rows(t.Keywords)},
		{TablePaperKeywords, PaperKeywordColumns, rows(t.PaperKeywords)},
	}
}

// Counts returns the row count of every table.
func (t *Tables) Counts() map[string]int {
	out := make(map[string]int, len(TableNames))
	for _, tbl := range t.List() {
		out[tbl.Name] = len(tbl.Rows)
	}
	return out
}

// ColumnsFor returns the column layout of the named table.
func ColumnsFor(name string) ([]Column, bool) {
	switch name {
	case TablePapers:
		return PaperColumns, true
	case TableClassificationCodes:
		return ClassificationCodeColumns, true
	case TablePaperClassificationCodes:
		return PaperClassificationCodeColumns, true
	case TableAffiliations:
		return AffiliationColumns, true
	case TablePaperAffiliations:
		return PaperAffiliationColumns, true
	case TableReferences:
		return ReferenceColumns, true
	case TableReferenceAuthors:
		return ReferenceAuthorColumns, true
	case TableKeywords:
		return KeywordColumns, true
	case TablePaperKeywords:
		return PaperKeywordColumns, true
	}
	return nil, false
}

// Append decodes one column -> value row into the named table.
func (t *Tables) Append(name string, m map[string]any) error {
	switch name {
	case TablePapers:
		return appendDecoded(&t.Papers, m)
	case TableClassificationCodes:
		return appendDecoded(&t.ClassificationCodes, m)
	case TablePaperClassificationCodes:
		return appendDecoded(&t.PaperClassificationCodes, m)
	case TableAffiliations:
		return appendDecoded(&t.Affiliations, m)
	case TablePaperAffiliations:
		return appendDecoded(&t.PaperAffiliations, m)
	case TableReferences:
		return appendDecoded(&t.References, m)
	case TableReferenceAuthors:
		return appendDecoded(&t.ReferenceAuthors, m)
	case TableKeywords:
		return appendDecoded(&t.Keywords, m)
	case TablePaperKeywords:
		return appendDecoded(&t.PaperKeywords, m)
	}
	return &UnknownTableError{Name: name}
}

// CopyTable sets the named table of t to share src's rows.
func (t *Tables) CopyTable(name string, src *Tables) error {
	switch name {
	case TablePapers:
		t.Papers = src.Papers
	case TableClassificationCodes:
		t.ClassificationCodes = src.ClassificationCodes
	case TablePaperClassificationCodes:
		t.PaperClassificationCodes = src.PaperClassificationCodes
	case TableAffiliations:
		t.Affiliations = src.Affiliations
	case TablePaperAffiliations:
		t.PaperAffiliations = src.PaperAffiliations
	case TableReferences:
		t.References = src.References
	case TableReferenceAuthors:
		t.ReferenceAuthors = src.ReferenceAuthors
	case TableKeywords:
		t.Keywords = src.Keywords
	case TablePaperKeywords:
		t.PaperKeywords = src.PaperKeywords
	default:
		return &UnknownTableError{Name: name}
	}
	return nil
}

func appendDecoded[T any](dst *[]T, m map[string]any) error {
	var row T
	if err := Decode(m, &row); err != nil {
		return err
	}
	*dst = append(*dst, row)
	return nil
}

// UnknownTableError is returned for a table name outside TableNames.
type UnknownTableError struct {
	Name string
}

func (e *UnknownTableError) Error() string {
	return "unknown table: " + e.Name
}
