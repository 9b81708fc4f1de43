// Package paper defines the domain types for normalized bibliographic records.
package paper

// Object is a decoded JSON object.
type Object = map[string]any

// FlatRecord is one raw document reduced to paper scalars plus the four
// list-valued sections, each already coerced to a uniform list.
// It is the row type of the merged checkpoint.
type FlatRecord struct {
	// Identity
	ID string `json:"id"`

	// Scalars (empty string or nil means absent)
	Title           string `json:"title,omitempty"`
	PublicationName string `json:"publication_name,omitempty"`
	Abstract        string `json:"abstract,omitempty"`
	PublishDate     string `json:"publish_date,omitempty"` // YYYY-MM-DD
	CitedByCount    *int64 `json:"cited_by_count,omitempty"`
	ReferenceCount  *int64 `json:"reference_count,omitempty"`

	// List sections
	ClassificationCodes []Object `json:"classification_codes,omitempty"`
	Affiliations        []Object `json:"affiliations,omitempty"`
	References          []Object `json:"references,omitempty"`
	Keywords            []Object `json:"keywords,omitempty"`

	// Source file the record was flattened from
	Source string `json:"source,omitempty"`
}

// Paper is one row of the papers table.
type Paper struct {
	ID              string `mapstructure:"id" validate:"required"`
	Title           string `mapstructure:"title"`
	PublicationName string `mapstructure:"publication_name"`
	Abstract        string `mapstructure:"abstract"`
	PublishDate     string `mapstructure:"publish_date" validate:"omitempty,datetime=2006-01-02"`
	CitedByCount    *int64 `mapstructure:"cited_by_count" validate:"omitempty,gte=0"`
	ReferenceCount  *int64 `mapstructure:"reference_count" validate:"omitempty,gte=0"`
}

// Year returns the publication year, or 0 when the date is absent.
func (p Paper) Year() int {
	if len(p.PublishDate) < 4 {
		return 0
	}
	y := 0
	for _, c := range p.PublishDate[:4] {
		if c < '0' || c > '9' {
			return 0
		}
		y = y*10 + int(c-'0')
	}
	return y
}

// ClassificationCode is a subject-area dimension row.
type ClassificationCode struct {
	Code         string `mapstructure:"code" validate:"required"`
	Name         string `mapstructure:"name"`
	Abbreviation string `mapstructure:"abbreviation"`
}

// PaperClassificationCode links a paper to a subject area.
type PaperClassificationCode struct {
	PaperID string `mapstructure:"paper_id" validate:"required"`
	Code    string `mapstructure:"code" validate:"required"`
}

// Affiliation is an institution dimension row.
type Affiliation struct {
	ID      string `mapstructure:"id" validate:"required"`
	Name    string `mapstructure:"name"`
	City    string `mapstructure:"city"`
	Country string `mapstructure:"country"`
	Href    string `mapstructure:"href"`
}

// PaperAffiliation links a paper to an institution.
type PaperAffiliation struct {
	PaperID       string `mapstructure:"paper_id" validate:"required"`
	AffiliationID string `mapstructure:"affiliation_id" validate:"required"`
}

// Reference is one cited work, keyed by (paper_id, reference_id).
type Reference struct {
	PaperID     string `mapstructure:"paper_id" validate:"required"`
	ReferenceID string `mapstructure:"reference_id" validate:"required"`
	FullText    string `mapstructure:"full_text"`
	Title       string `mapstructure:"title"`
	SourceTitle string `mapstructure:"source_title"`
	Text        string `mapstructure:"text"`
}

// ReferenceAuthor is one author name of a cited work.
type ReferenceAuthor struct {
	PaperID     string `mapstructure:"paper_id" validate:"required"`
	ReferenceID string `mapstructure:"reference_id" validate:"required"`
	Name        string `mapstructure:"name" validate:"required"`
}

// Keyword is an author keyword vocabulary entry.
type Keyword struct {
	Keyword string `mapstructure:"keyword" validate:"required"`
}

// PaperKeyword links a paper to a keyword.
type PaperKeyword struct {
	PaperID string `mapstructure:"paper_id" validate:"required"`
	Keyword string `mapstructure:"keyword" validate:"required"`
}
