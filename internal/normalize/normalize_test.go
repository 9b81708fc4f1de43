package normalize

import (
	"errors"
	"testing"

	"github.com/matsen/scholartab/internal/check"
	"github.com/matsen/scholartab/internal/flatten"
	"github.com/matsen/scholartab/internal/paper"
)

func mustParse(t *testing.T, doc string) paper.FlatRecord {
	t.Helper()
	rec, err := flatten.Parse([]byte(doc))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	return rec
}

func TestCodesWithoutAffiliations(t *testing.T) {
	rec := mustParse(t, `{"abstracts-retrieval-response": {
		"coredata": {"eid": "p1"},
		"subject-areas": {"subject-area": [{"$": "Computer Science", "@code": "1700", "@abbrev": "COMP"}]}}}`)

	tables, _, err := Normalize([]paper.FlatRecord{rec})
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}

	if len(tables.ClassificationCodes) != 1 {
		t.Fatalf("got %d codes, want 1", len(tables.ClassificationCodes))
	}
	want := paper.ClassificationCode{Code: "1700", Name: "Computer Science", Abbreviation: "COMP"}
	if tables.ClassificationCodes[0] != want {
		t.Errorf("code = %+v, want %+v", tables.ClassificationCodes[0], want)
	}
	if len(tables.PaperClassificationCodes) != 1 || tables.PaperClassificationCodes[0] != (paper.PaperClassificationCode{PaperID: "p1", Code: "1700"}) {
		t.Errorf("links = %+v", tables.PaperClassificationCodes)
	}
	if len(tables.PaperAffiliations) != 0 || len(tables.Affiliations) != 0 {
		t.Errorf("expected no affiliation rows, got %+v / %+v", tables.Affiliations, tables.PaperAffiliations)
	}
}

func TestSharedAffiliation(t *testing.T) {
	a := mustParse(t, `{"abstracts-retrieval-response": {"coredata": {"eid": "p1"},
		"affiliation": {"@id": "60000001", "affilname": "Uni A", "affiliation-country": "Russian Federation"}}}`)
	b := mustParse(t, `{"abstracts-retrieval-response": {"coredata": {"eid": "p2"},
		"affiliation": [{"@id": "60000001", "affilname": "Uni A", "affiliation-country": "Russian Federation"}]}}`)

	tables, _, err := Normalize([]paper.FlatRecord{a, b})
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if len(tables.Affiliations) != 1 {
		t.Errorf("got %d affiliations, want 1", len(tables.Affiliations))
	}
	if len(tables.PaperAffiliations) != 2 {
		t.Errorf("got %d affiliation links, want 2", len(tables.PaperAffiliations))
	}
}

func TestFirstOccurrenceWins(t *testing.T) {
	a := mustParse(t, `{"abstracts-retrieval-response": {"coredata": {"eid": "p1"},
		"subject-areas": {"subject-area": {"$": "Computer Science", "@code": "1700", "@abbrev": "COMP"}}}}`)
	b := mustParse(t, `{"abstracts-retrieval-response": {"coredata": {"eid": "p2"},
		"subject-areas": {"subject-area": {"$": "Computing", "@code": "1700", "@abbrev": "CS"}}}}`)

	tables, stats, err := Normalize([]paper.FlatRecord{a, b})
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if len(tables.ClassificationCodes) != 1 {
		t.Fatalf("got %d codes, want 1", len(tables.ClassificationCodes))
	}
	if got := tables.ClassificationCodes[0]; got.Name != "Computer Science" || got.Abbreviation != "COMP" {
		t.Errorf("kept %+v, want the first occurrence", got)
	}
	if stats.Conflicts[paper.TableClassificationCodes] != 1 {
		t.Errorf("conflicts = %v, want 1 for classification codes", stats.Conflicts)
	}
	if len(tables.PaperClassificationCodes) != 2 {
		t.Errorf("got %d links, want 2", len(tables.PaperClassificationCodes))
	}
}

func TestDuplicatePaperSkipped(t *testing.T) {
	a := mustParse(t, `{"abstracts-retrieval-response": {"coredata": {"eid": "p1", "dc:title": "First"},
		"authkeywords": {"author-keyword": {"$": "first"}}}}`)
	b := mustParse(t, `{"abstracts-retrieval-response": {"coredata": {"eid": "p1", "dc:title": "Second"},
		"authkeywords": {"author-keyword": {"$": "second"}}}}`)

	tables, stats, err := Normalize([]paper.FlatRecord{a, b})
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if len(tables.Papers) != 1 || tables.Papers[0].Title != "First" {
		t.Errorf("papers = %+v", tables.Papers)
	}
	if stats.DuplicatePapers != 1 {
		t.Errorf("DuplicatePapers = %d, want 1", stats.DuplicatePapers)
	}
	if len(tables.Keywords) != 1 || tables.Keywords[0].Keyword != "first" {
		t.Errorf("keywords = %+v, the duplicate's lists should be skipped", tables.Keywords)
	}
}

func TestReferencesAndAuthors(t *testing.T) {
	rec := mustParse(t, `{"abstracts-retrieval-response": {"coredata": {"eid": "p1"},
		"item": {"bibrecord": {"tail": {"bibliography": {"@refcount": "3", "reference": [
			{"@id": "1", "ref-fulltext": "Smith J., Doe A. Graphs.",
			 "ref-info": {"ref-title": {"ref-titletext": "Graphs"}, "ref-sourcetitle": "Nature",
			              "ref-authors": {"author": [{"ce:indexed-name": "Smith J."}, {"ce:indexed-name": "Doe A."},
			                                         {"ce:indexed-name": "Smith J."}]}}},
			{"@id": "2", "ref-info": {"ref-authors": {"author": {"ce:indexed-name": "Roe R."}}}},
			{"ref-fulltext": "no id"}
		]}}}}}}`)

	tables, stats, err := Normalize([]paper.FlatRecord{rec})
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}

	if len(tables.References) != 2 {
		t.Fatalf("got %d references, want 2", len(tables.References))
	}
	want := paper.Reference{PaperID: "p1", ReferenceID: "1", FullText: "Smith J., Doe A. Graphs.", Title: "Graphs", SourceTitle: "Nature"}
	if tables.References[0] != want {
		t.Errorf("reference = %+v, want %+v", tables.References[0], want)
	}
	if len(tables.ReferenceAuthors) != 3 {
		t.Fatalf("got %d reference authors, want 3: %+v", len(tables.ReferenceAuthors), tables.ReferenceAuthors)
	}
	if tables.ReferenceAuthors[2] != (paper.ReferenceAuthor{PaperID: "p1", ReferenceID: "2", Name: "Roe R."}) {
		t.Errorf("single author object should become one row, got %+v", tables.ReferenceAuthors[2])
	}
	if stats.Dropped[paper.TableReferences] != 1 {
		t.Errorf("dropped = %v, want 1 reference", stats.Dropped)
	}
}

func TestDuplicateReferenceNotCountedAsDropped(t *testing.T) {
	rec := mustParse(t, `{"abstracts-retrieval-response": {"coredata": {"eid": "p1"},
		"item": {"bibrecord": {"tail": {"bibliography": {"reference": [
			{"@id": "1", "ref-fulltext": "first"},
			{"@id": "1", "ref-fulltext": "again"},
			{"@id": "2"}
		]}}}}}}`)

	tables, stats, err := Normalize([]paper.FlatRecord{rec})
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if len(tables.References) != 2 || tables.References[0].FullText != "first" {
		t.Errorf("references = %+v, want ids 1 and 2 with the first full text", tables.References)
	}
	if stats.DuplicateReferences != 1 {
		t.Errorf("DuplicateReferences = %d, want 1", stats.DuplicateReferences)
	}
	if stats.Dropped[paper.TableReferences] != 0 {
		t.Errorf("dropped = %v, want no dropped references", stats.Dropped)
	}
}

func TestCodeWithoutCodeDropped(t *testing.T) {
	rec := mustParse(t, `{"abstracts-retrieval-response": {"coredata": {"eid": "p1"},
		"subject-areas": {"subject-area": [{"$": "Mystery", "@abbrev": "MYST"}, {"$": "Mathematics", "@code": "2600", "@abbrev": "MATH"}]}}}`)

	tables, stats, err := Normalize([]paper.FlatRecord{rec})
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if len(tables.ClassificationCodes) != 1 || tables.ClassificationCodes[0].Code != "2600" {
		t.Errorf("codes = %+v, want only 2600", tables.ClassificationCodes)
	}
	if len(tables.PaperClassificationCodes) != 1 {
		t.Errorf("links = %+v, want one", tables.PaperClassificationCodes)
	}
	if stats.Dropped[paper.TablePaperClassificationCodes] != 1 {
		t.Errorf("dropped = %v, want 1 code link", stats.Dropped)
	}
}

func TestAffiliationWithoutIDDropped(t *testing.T) {
	rec := mustParse(t, `{"abstracts-retrieval-response": {"coredata": {"eid": "p1"},
		"affiliation": {"affilname": "Nowhere", "affiliation-country": "Atlantis"}}}`)

	tables, stats, err := Normalize([]paper.FlatRecord{rec})
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if len(tables.Affiliations) != 0 || len(tables.PaperAffiliations) != 0 {
		t.Errorf("expected no affiliation rows, got %+v / %+v", tables.Affiliations, tables.PaperAffiliations)
	}
	if stats.Dropped[paper.TablePaperAffiliations] != 1 {
		t.Errorf("dropped = %v, want 1 affiliation link", stats.Dropped)
	}
	if len(tables.Papers) != 1 {
		t.Errorf("paper row should survive, got %d", len(tables.Papers))
	}
}

func TestKeywords(t *testing.T) {
	a := mustParse(t, `{"abstracts-retrieval-response": {"coredata": {"eid": "p1"},
		"authkeywords": {"author-keyword": [{"$": "graphs", "@_fa": "true"}, {"$": "citation"}, {"@_fa": "true"}]}}}`)
	b := mustParse(t, `{"abstracts-retrieval-response": {"coredata": {"eid": "p2"},
		"authkeywords": {"author-keyword": "graphs"}}}`)

	tables, stats, err := Normalize([]paper.FlatRecord{a, b})
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if len(tables.Keywords) != 2 {
		t.Errorf("got %d keywords, want 2: %+v", len(tables.Keywords), tables.Keywords)
	}
	if len(tables.PaperKeywords) != 3 {
		t.Errorf("got %d keyword links, want 3", len(tables.PaperKeywords))
	}
	if stats.Dropped[paper.TablePaperKeywords] != 1 {
		t.Errorf("dropped = %v, want 1 keyword link", stats.Dropped)
	}
}

func TestNormalizedTablesPassChecks(t *testing.T) {
	var recs []paper.FlatRecord
	for _, doc := range []string{
		`{"abstracts-retrieval-response": {"coredata": {"eid": "p1", "citedby-count": "5"},
			"affiliation": [{"@id": "1"}, {"@id": "2"}, {"@id": "1"}],
			"subject-areas": {"subject-area": [{"@code": "1700", "$": "CS"}, {"@code": "1700", "$": "CS"}]}}}`,
		`{"abstracts-retrieval-response": {"coredata": {"eid": "p2"},
			"affiliation": {"@id": "2"},
			"item": {"bibrecord": {"tail": {"bibliography": {"reference": [{"@id": "1"}, {"@id": "1"}]}}}}}}`,
	} {
		recs = append(recs, mustParse(t, doc))
	}

	tables, _, err := Normalize(recs)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if issues := check.All(tables); len(issues) != 0 {
		t.Errorf("expected clean tables, got %v", issues)
	}
	if len(tables.PaperAffiliations) != 3 {
		t.Errorf("got %d affiliation links, want 3", len(tables.PaperAffiliations))
	}
}

func TestNegativeCountFailsValidation(t *testing.T) {
	rec := mustParse(t, `{"abstracts-retrieval-response": {"coredata": {"eid": "p1", "citedby-count": "-3"}}}`)

	tables, _, err := Normalize([]paper.FlatRecord{rec})
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if got := tables.Papers[0].CitedByCount; got == nil || *got != -3 {
		t.Fatalf("CitedByCount = %v, want -3", got)
	}
	issues := check.Rows(tables)
	if len(issues) != 1 || issues[0].Field != "cited_by_count" {
		t.Errorf("issues = %v, want one cited_by_count issue", issues)
	}
}

func TestIntegrityFailureIsFatal(t *testing.T) {
	// Run cannot produce orphans from flat records; build one by hand.
	err := check.Verify(&paper.Tables{PaperKeywords: []paper.PaperKeyword{{PaperID: "p1", Keyword: "k"}}})
	if !errors.Is(err, check.ErrIntegrity) {
		t.Errorf("err = %v, want ErrIntegrity", err)
	}
}

func TestEmptyInput(t *testing.T) {
	tables, stats, err := Normalize(nil)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	for name, c := range tables.Counts() {
		if c != 0 {
			t.Errorf("%s has %d rows, want 0", name, c)
		}
	}
	if stats.Records != 0 {
		t.Errorf("Records = %d", stats.Records)
	}
}
