package normalize

import "github.com/matsen/scholartab/internal/paper"

// set records first occurrences.
type set[K comparable] map[K]struct{}

// add reports whether k was new.
func (s set[K]) add(k K) bool {
	if _, ok := s[k]; ok {
		return false
	}
	s[k] = struct{}{}
	return true
}

type refKey struct {
	paperID     string
	referenceID string
}

type builder struct {
	tables *paper.Tables

	paperIDs     set[string]
	codes        set[string]
	codeLinks    set[paper.PaperClassificationCode]
	affs         set[string]
	affLinks     set[paper.PaperAffiliation]
	refs         set[refKey]
	refAuthors   set[paper.ReferenceAuthor]
	keywords     set[string]
	keywordLinks set[paper.PaperKeyword]

	codeRows map[string]paper.ClassificationCode
	affRows  map[string]paper.Affiliation

	dropped       map[string]int
	conflicts     map[string]int
	duplicateRefs int
}

func newBuilder() *builder {
	return &builder{
		tables:       &paper.Tables{},
		paperIDs:     set[string]{},
		codes:        set[string]{},
		codeLinks:    set[paper.PaperClassificationCode]{},
		affs:         set[string]{},
		affLinks:     set[paper.PaperAffiliation]{},
		refs:         set[refKey]{},
		refAuthors:   set[paper.ReferenceAuthor]{},
		keywords:     set[string]{},
		keywordLinks: set[paper.PaperKeyword]{},
		codeRows:     map[string]paper.ClassificationCode{},
		affRows:      map[string]paper.Affiliation{},
		dropped:      map[string]int{},
		conflicts:    map[string]int{},
	}
}

func (b *builder) drop(table string) {
	b.dropped[table]++
}

// conflict counts a later row whose key matched an earlier one but whose
// attributes differed. The earlier row is kept.
func (b *builder) conflict(table string) {
	b.conflicts[table]++
}
