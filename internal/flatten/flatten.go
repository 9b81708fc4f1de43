// Package flatten reduces one Scopus abstract-retrieval document to a
// paper.FlatRecord.
package flatten

import (
	"errors"
	"fmt"

	"github.com/ohler55/ojg/oj"

	"github.com/matsen/scholartab/internal/extract"
	"github.com/matsen/scholartab/internal/paper"
)

// Root is the top-level key of every abstract-retrieval document.
const Root = "abstracts-retrieval-response"

// ErrMissingID is returned for documents without an EID.
var ErrMissingID = errors.New("document has no coredata.eid")

// Source paths relative to Root.
const (
	PathID                  = "coredata.eid"
	PathTitle               = "coredata.dc:title"
	PathPublicationName     = "coredata.prism:publicationName"
	PathAbstract            = "item.bibrecord.head.abstracts"
	PathPublishDate         = "coredata.prism:coverDate"
	PathCitedByCount        = "coredata.citedby-count"
	PathReferenceCount      = "item.bibrecord.tail.bibliography.@refcount"
	PathClassificationCodes = "subject-areas.subject-area"
	PathAffiliations        = "affiliation"
	PathReferences          = "item.bibrecord.tail.bibliography.reference"
	PathKeywords            = "authkeywords.author-keyword"
)

var (
	rootPath = extract.Path{Root}

	idPath              = extract.ParsePath(PathID)
	titlePath           = extract.ParsePath(PathTitle)
	publicationNamePath = extract.ParsePath(PathPublicationName)
	abstractPath        = extract.ParsePath(PathAbstract)
	publishDatePath     = extract.ParsePath(PathPublishDate)
	citedByCountPath    = extract.ParsePath(PathCitedByCount)
	referenceCountPath  = extract.ParsePath(PathReferenceCount)
	codesPath           = extract.ParsePath(PathClassificationCodes)
	affiliationsPath    = extract.ParsePath(PathAffiliations)
	referencesPath      = extract.ParsePath(PathReferences)
	keywordsPath        = extract.ParsePath(PathKeywords)
)

// Flatten builds a FlatRecord from a decoded document. Missing sections
// produce absent fields; only a missing EID is an error.
func Flatten(doc any) (paper.FlatRecord, error) {
	body := extract.Get(doc, rootPath)

	id := Text(extract.Get(body, idPath))
	if id == "" {
		return paper.FlatRecord{}, ErrMissingID
	}

	return paper.FlatRecord{
		ID:                  id,
		Title:               Text(extract.Get(body, titlePath)),
		PublicationName:     Text(extract.Get(body, publicationNamePath)),
		Abstract:            Text(extract.Get(body, abstractPath)),
		PublishDate:         Date(extract.Get(body, publishDatePath)),
		CitedByCount:        Count(extract.Get(body, citedByCountPath)),
		ReferenceCount:      Count(extract.Get(body, referenceCountPath)),
		ClassificationCodes: Coerce(extract.Get(body, codesPath)).Objects(),
		Affiliations:        Coerce(extract.Get(body, affiliationsPath)).Objects(),
		References:          Coerce(extract.Get(body, referencesPath)).Objects(),
		Keywords:            Coerce(extract.Get(body, keywordsPath)).Objects(),
	}, nil
}

// Parse decodes raw JSON bytes and flattens the result.
func Parse(data []byte) (paper.FlatRecord, error) {
	doc, err := oj.Parse(data)
	if err != nil {
		return paper.FlatRecord{}, fmt.Errorf("parsing JSON: %w", err)
	}
	return Flatten(doc)
}
