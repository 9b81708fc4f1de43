package check

import (
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/matsen/scholartab/internal/paper"
)

// Validator checks rows against the struct tags declared on the paper types.
type Validator struct {
	v *validator.Validate
}

// NewValidator creates a Validator that reports fields by column name.
func NewValidator() *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("mapstructure"), ",", 2)[0]
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	return &Validator{v: v}
}

// Rows validates every row of every table. Negative counts, malformed
// dates and empty keys are reported here rather than failing the run.
func (val *Validator) Rows(t *paper.Tables) []Issue {
	var issues []Issue
	for _, tbl := range t.List() {
		for _, row := range tbl.Rows {
			err := val.v.Struct(row)
			if err == nil {
				continue
			}
			var verrs validator.ValidationErrors
			if !errors.As(err, &verrs) {
				issues = append(issues, Issue{Type: IssueInvalidRow, Table: tbl.Name, Key: rowKey(tbl.Name, row), Reason: err.Error()})
				continue
			}
			for _, fe := range verrs {
				issues = append(issues, Issue{
					Type:   IssueInvalidRow,
					Table:  tbl.Name,
					Key:    rowKey(tbl.Name, row),
					Field:  fe.Field(),
					Reason: reason(fe),
				})
			}
		}
	}
	return issues
}

// Rows validates t with a default Validator.
func Rows(t *paper.Tables) []Issue {
	return NewValidator().Rows(t)
}

// All runs the integrity and row checks together.
func All(t *paper.Tables) []Issue {
	return append(Integrity(t), Rows(t)...)
}

func reason(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "gte":
		return "must be >= " + fe.Param()
	case "datetime":
		return "must match " + fe.Param()
	default:
		return "failed " + fe.Tag()
	}
}

// rowKey renders the natural key of a row: the first column of entity
// tables, the first two of references, and every column of link tables.
func rowKey(table string, row paper.Row) string {
	vals := row.Values()
	width := len(vals)
	switch table {
	case paper.TablePapers, paper.TableClassificationCodes, paper.TableAffiliations, paper.TableKeywords:
		width = 1
	case paper.TableReferences:
		width = 2
	}
	parts := make([]string, 0, width)
	for _, v := range vals[:width] {
		parts = append(parts, paper.FormatValue(v))
	}
	return strings.Join(parts, "/")
}
