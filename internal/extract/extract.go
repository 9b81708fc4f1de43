// Package extract looks up values inside decoded JSON documents by key path.
package extract

import (
	"strings"

	"github.com/ohler55/ojg/jp"
)

// Path is a sequence of object keys, outermost first.
type Path []string

// ParsePath splits a dotted path such as "coredata.dc:title" into keys.
// An empty string yields an empty path, which addresses the document itself.
func ParsePath(dotted string) Path {
	if dotted == "" {
		return Path{}
	}
	return Path(strings.Split(dotted, "."))
}

// String returns the dotted form of the path.
func (p Path) String() string {
	return strings.Join(p, ".")
}

// Expr compiles the path into a child-only JSONPath expression.
func (p Path) Expr() jp.Expr {
	x := jp.R()
	for _, key := range p {
		x = x.C(key)
	}
	return x
}

// Get returns the value at path, or nil when any step is missing, null,
// or not an object. It never panics and never errors.
func Get(doc any, path Path) any {
	if len(path) == 0 {
		return doc
	}
	return path.Expr().First(doc)
}

// GetString is Get with a dotted path.
func GetString(doc any, dotted string) any {
	return Get(doc, ParsePath(dotted))
}

// Lookup compiles a set of dotted paths once and resolves them against
// many documents.
type Lookup struct {
	exprs map[string]jp.Expr
}

// NewLookup builds a Lookup for the given name -> dotted path pairs.
func NewLookup(spec map[string]string) *Lookup {
	l := &Lookup{exprs: make(map[string]jp.Expr, len(spec))}
	for name, dotted := range spec {
		l.exprs[name] = ParsePath(dotted).Expr()
	}
	return l
}

// Project returns name -> value for every path present in doc.
// Absent paths are left out of the result.
func (l *Lookup) Project(doc any) map[string]any {
	out := make(map[string]any, len(l.exprs))
	for name, x := range l.exprs {
		if v := x.First(doc); v != nil {
			out[name] = v
		}
	}
	return out
}
