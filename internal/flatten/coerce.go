package flatten

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/araddon/dateparse"
	"github.com/spf13/cast"

	"github.com/matsen/scholartab/internal/paper"
)

// TextKey is the key Scopus uses for the text content of an element.
const TextKey = "$"

// Shape is the observed shape of a field that may be one object or many.
type Shape int

const (
	ShapeAbsent Shape = iota
	ShapeSingle
	ShapeList
)

func (s Shape) String() string {
	switch s {
	case ShapeSingle:
		return "single"
	case ShapeList:
		return "list"
	default:
		return "absent"
	}
}

// RawList is a field value tagged with its shape.
type RawList struct {
	Shape Shape
	items []any
}

// Coerce classifies v. A nil value is absent, a JSON array is a list, and
// anything else is a single element.
func Coerce(v any) RawList {
	switch tv := v.(type) {
	case nil:
		return RawList{Shape: ShapeAbsent}
	case []any:
		return RawList{Shape: ShapeList, items: tv}
	default:
		return RawList{Shape: ShapeSingle, items: []any{tv}}
	}
}

// Len returns the number of raw elements, including nulls.
func (l RawList) Len() int {
	return len(l.items)
}

// Objects returns the elements as a uniform list of objects. Null elements
// are dropped and bare scalars become {"$": scalar}. An absent field
// returns nil.
func (l RawList) Objects() []paper.Object {
	if len(l.items) == 0 {
		return nil
	}
	out := make([]paper.Object, 0, len(l.items))
	for _, item := range l.items {
		switch tv := item.(type) {
		case nil:
			continue
		case map[string]any:
			out = append(out, tv)
		default:
			out = append(out, paper.Object{TextKey: tv})
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// Text returns the text of a scalar or of a {"$": ...} element.
// Objects without "$", lists and nulls have no text.
func Text(v any) string {
	switch tv := v.(type) {
	case string:
		return strings.TrimSpace(tv)
	case json.Number:
		return tv.String()
	case int64:
		return strconv.FormatInt(tv, 10)
	case int:
		return strconv.Itoa(tv)
	case float64:
		return strconv.FormatFloat(tv, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(tv)
	case map[string]any:
		if inner, ok := tv[TextKey]; ok {
			return Text(inner)
		}
	}
	return ""
}

// Count parses a base-10 count that may arrive as a string or a number.
// Leading zeros and a zero fraction ("12.0") are accepted; prefixed
// forms like "0x1F" are not. Unparsable or absent counts return nil.
// Negative values are kept.
func Count(v any) *int64 {
	s, ok := decimal(Text(v))
	if !ok {
		return nil
	}
	n, err := cast.ToInt64E(s)
	if err != nil {
		return nil
	}
	return &n
}

// decimal reduces s to an optional sign and digits without leading zeros,
// so the result cannot be read in any base but 10.
func decimal(s string) (string, bool) {
	sign := ""
	if strings.HasPrefix(s, "-") || strings.HasPrefix(s, "+") {
		if s[0] == '-' {
			sign = "-"
		}
		s = s[1:]
	}
	if whole, frac, found := strings.Cut(s, "."); found {
		if frac == "" || strings.Trim(frac, "0") != "" {
			return "", false
		}
		s = whole
	}
	if s == "" {
		return "", false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return "", false
		}
	}
	s = strings.TrimLeft(s, "0")
	if s == "" {
		return "0", true
	}
	return sign + s, true
}

// DateLayout is the normalized publication date format.
const DateLayout = "2006-01-02"

// Date normalizes a date string to YYYY-MM-DD. Unparsable dates are absent.
func Date(v any) string {
	s := Text(v)
	if s == "" {
		return ""
	}
	t, err := dateparse.ParseAny(s)
	if err != nil {
		return ""
	}
	return t.Format(DateLayout)
}
