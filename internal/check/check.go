// Package check verifies the structural and row-level post-conditions of
// normalized tables.
package check

import (
	"errors"
	"fmt"
	"strings"

	"github.com/matsen/scholartab/internal/paper"
)

// ErrIntegrity marks a structural violation: a duplicate key or an
// unresolved foreign key. It is always fatal.
var ErrIntegrity = errors.New("integrity violation")

// Issue types.
const (
	IssueDuplicateKey  = "duplicate_key"
	IssueDuplicateLink = "duplicate_link"
	IssueOrphanedLink  = "orphaned_link"
	IssueInvalidRow    = "invalid_row"
)

// Issue represents a single problem found in the tables.
type Issue struct {
	Type   string `json:"type"`
	Table  string `json:"table"`
	Key    string `json:"key"`
	Count  int    `json:"count,omitempty"`
	Field  string `json:"field,omitempty"`
	Reason string `json:"reason,omitempty"`
}

func (i Issue) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s[%s]", i.Type, i.Table, i.Key)
	if i.Field != "" {
		fmt.Fprintf(&b, " %s", i.Field)
	}
	if i.Reason != "" {
		fmt.Fprintf(&b, ": %s", i.Reason)
	}
	return b.String()
}

// IntegrityError carries the structural issues behind ErrIntegrity.
type IntegrityError struct {
	Issues []Issue
}

func (e *IntegrityError) Error() string {
	if len(e.Issues) == 0 {
		return ErrIntegrity.Error()
	}
	return fmt.Sprintf("%s: %d issue(s), first: %s", ErrIntegrity, len(e.Issues), e.Issues[0])
}

func (e *IntegrityError) Is(target error) bool {
	return target == ErrIntegrity
}

// Verify runs Integrity and returns an *IntegrityError when any issue exists.
func Verify(t *paper.Tables) error {
	if issues := Integrity(t); len(issues) > 0 {
		return &IntegrityError{Issues: issues}
	}
	return nil
}

// Integrity checks natural-key uniqueness of every dimension table, tuple
// uniqueness of every link table, and that every foreign key resolves.
// Issues are reported in table order and, within a table, in row order.
func Integrity(t *paper.Tables) []Issue {
	var issues []Issue

	paperIDs := keySet(t.Papers, func(p paper.Paper) string { return p.ID })
	codes := keySet(t.ClassificationCodes, func(c paper.ClassificationCode) string { return c.Code })
	affIDs := keySet(t.Affiliations, func(a paper.Affiliation) string { return a.ID })
	keywords := keySet(t.Keywords, func(k paper.Keyword) string { return k.Keyword })
	refKeys := keySet(t.References, func(r paper.Reference) string { return join(r.PaperID, r.ReferenceID) })

	issues = append(issues, duplicates(paper.TablePapers, IssueDuplicateKey, t.Papers,
		func(p paper.Paper) string { return p.ID })...)
	issues = append(issues, duplicates(paper.TableClassificationCodes, IssueDuplicateKey, t.ClassificationCodes,
		func(c paper.ClassificationCode) string { return c.Code })...)
	issues = append(issues, duplicates(paper.TableAffiliations, IssueDuplicateKey, t.Affiliations,
		func(a paper.Affiliation) string { return a.ID })...)
	issues = append(issues, duplicates(paper.TableReferences, IssueDuplicateKey, t.References,
		func(r paper.Reference) string { return join(r.PaperID, r.ReferenceID) })...)
	issues = append(issues, duplicates(paper.TableKeywords, IssueDuplicateKey, t.Keywords,
		func(k paper.Keyword) string { return k.Keyword })...)

	issues = append(issues, duplicates(paper.TablePaperClassificationCodes, IssueDuplicateLink, t.PaperClassificationCodes,
		func(l paper.PaperClassificationCode) string { return join(l.PaperID, l.Code) })...)
	issues = append(issues, duplicates(paper.TablePaperAffiliations, IssueDuplicateLink, t.PaperAffiliations,
		func(l paper.PaperAffiliation) string { return join(l.PaperID, l.AffiliationID) })...)
	issues = append(issues, duplicates(paper.TableReferenceAuthors, IssueDuplicateLink, t.ReferenceAuthors,
		func(a paper.ReferenceAuthor) string { return join(a.PaperID, a.ReferenceID, a.Name) })...)
	issues = append(issues, duplicates(paper.TablePaperKeywords, IssueDuplicateLink, t.PaperKeywords,
		func(l paper.PaperKeyword) string { return join(l.PaperID, l.Keyword) })...)

	for _, l := range t.PaperClassificationCodes {
		if reason := orphanReason(paperIDs[l.PaperID], codes[l.Code], "paper", "code"); reason != "" {
			issues = append(issues, orphan(paper.TablePaperClassificationCodes, join(l.PaperID, l.Code), reason))
		}
	}
	for _, l := range t.PaperAffiliations {
		if reason := orphanReason(paperIDs[l.PaperID], affIDs[l.AffiliationID], "paper", "affiliation"); reason != "" {
			issues = append(issues, orphan(paper.TablePaperAffiliations, join(l.PaperID, l.AffiliationID), reason))
		}
	}
	for _, r := range t.References {
		if !paperIDs[r.PaperID] {
			issues = append(issues, orphan(paper.TableReferences, join(r.PaperID, r.ReferenceID), "missing_paper"))
		}
	}
	for _, a := range t.ReferenceAuthors {
		if !refKeys[join(a.PaperID, a.ReferenceID)] {
			issues = append(issues, orphan(paper.TableReferenceAuthors, join(a.PaperID, a.ReferenceID, a.Name), "missing_reference"))
		}
	}
	for _, l := range t.PaperKeywords {
		if reason := orphanReason(paperIDs[l.PaperID], keywords[l.Keyword], "paper", "keyword"); reason != "" {
			issues = append(issues, orphan(paper.TablePaperKeywords, join(l.PaperID, l.Keyword), reason))
		}
	}

	return issues
}

// join builds a composite key. The separator cannot appear in Scopus ids.
func join(parts ...string) string {
	return strings.Join(parts, "\x1f")
}

// DisplayKey renders a composite key for humans.
func DisplayKey(key string) string {
	return strings.ReplaceAll(key, "\x1f", "/")
}

func keySet[T any](rows []T, key func(T) string) map[string]bool {
	set := make(map[string]bool, len(rows))
	for _, r := range rows {
		set[key(r)] = true
	}
	return set
}

func duplicates[T any](table, issueType string, rows []T, key func(T) string) []Issue {
	counts := make(map[string]int, len(rows))
	var order []string
	for _, r := range rows {
		k := key(r)
		if counts[k] == 0 {
			order = append(order, k)
		}
		counts[k]++
	}

	var issues []Issue
	for _, k := range order {
		if counts[k] > 1 {
			issues = append(issues, Issue{Type: issueType, Table: table, Key: DisplayKey(k), Count: counts[k]})
		}
	}
	return issues
}

func orphanReason(leftOK, rightOK bool, left, right string) string {
	switch {
	case leftOK && rightOK:
		return ""
	case !leftOK && !rightOK:
		return "missing_both"
	case !leftOK:
		return "missing_" + left
	default:
		return "missing_" + right
	}
}

func orphan(table, key, reason string) Issue {
	return Issue{Type: IssueOrphanedLink, Table: table, Key: DisplayKey(key), Reason: reason}
}
