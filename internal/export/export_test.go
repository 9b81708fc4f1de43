package export

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/parquet"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"

	"github.com/matsen/scholartab/internal/paper"
)

func i64(n int64) *int64 { return &n }

func sampleTables() *paper.Tables {
	return &paper.Tables{
		Papers: []paper.Paper{
			{ID: "p1", Title: "Graphs, networks and \"quotes\"", PublishDate: "2021-03-15", CitedByCount: i64(5), ReferenceCount: i64(2)},
			{ID: "p2", Title: "Multi\nline", PublishDate: "2019-06-01"},
		},
		ClassificationCodes:      []paper.ClassificationCode{{Code: "1700", Name: "Computer Science", Abbreviation: "COMP"}},
		PaperClassificationCodes: []paper.PaperClassificationCode{{PaperID: "p1", Code: "1700"}},
		Affiliations:             []paper.Affiliation{{ID: "60000001", Name: "Uni A", City: "Zurich", Country: "Switzerland"}},
		PaperAffiliations:        []paper.PaperAffiliation{{PaperID: "p1", AffiliationID: "60000001"}},
		References:               []paper.Reference{{PaperID: "p1", ReferenceID: "1", Title: "Graphs"}},
		ReferenceAuthors:         []paper.ReferenceAuthor{{PaperID: "p1", ReferenceID: "1", Name: "Smith J."}},
		Keywords:                 []paper.Keyword{{Keyword: "citation"}},
		PaperKeywords:            []paper.PaperKeyword{{PaperID: "p1", Keyword: "citation"}},
	}
}

func TestWriteCSV(t *testing.T) {
	dir := t.TempDir()
	paths, err := WriteCSV(dir, sampleTables())
	if err != nil {
		t.Fatalf("WriteCSV: %v", err)
	}
	if len(paths) != len(paper.TableNames) {
		t.Fatalf("got %d files, want %d", len(paths), len(paper.TableNames))
	}

	data, err := os.ReadFile(CSVPath(dir, paper.TablePapers))
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.SplitN(string(data), "\n", 2)
	if lines[0] != "id,title,publication_name,abstract,publish_date,cited_by_count,reference_count" {
		t.Errorf("header = %q", lines[0])
	}
}

func TestWriteCSVIdempotent(t *testing.T) {
	dir := t.TempDir()
	if _, err := WriteCSV(dir, sampleTables()); err != nil {
		t.Fatalf("WriteCSV: %v", err)
	}
	first := readAll(t, dir)

	if _, err := WriteCSV(dir, sampleTables()); err != nil {
		t.Fatalf("WriteCSV again: %v", err)
	}
	second := readAll(t, dir)

	if len(first) != len(second) {
		t.Fatalf("file count changed: %d vs %d", len(first), len(second))
	}
	for name, b := range first {
		if !bytes.Equal(b, second[name]) {
			t.Errorf("%s differs between runs", name)
		}
	}
}

func readAll(t *testing.T, dir string) map[string][]byte {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	out := make(map[string][]byte)
	for _, e := range entries {
		b, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			t.Fatal(err)
		}
		out[e.Name()] = b
	}
	return out
}

func TestCSVRoundTrip(t *testing.T) {
	dir := t.TempDir()
	want := sampleTables()
	if _, err := WriteCSV(dir, want); err != nil {
		t.Fatalf("WriteCSV: %v", err)
	}

	got, err := ReadCSV(dir)
	if err != nil {
		t.Fatalf("ReadCSV: %v", err)
	}

	if len(got.Papers) != 2 {
		t.Fatalf("got %d papers, want 2", len(got.Papers))
	}
	if got.Papers[0].Title != want.Papers[0].Title || got.Papers[1].Title != "Multi\nline" {
		t.Errorf("titles = %q, %q", got.Papers[0].Title, got.Papers[1].Title)
	}
	if got.Papers[0].CitedByCount == nil || *got.Papers[0].CitedByCount != 5 {
		t.Errorf("CitedByCount = %v, want 5", got.Papers[0].CitedByCount)
	}
	if got.Papers[1].CitedByCount != nil {
		t.Error("absent count should read back as nil")
	}
	if got.Affiliations[0] != want.Affiliations[0] {
		t.Errorf("affiliation = %+v, want %+v", got.Affiliations[0], want.Affiliations[0])
	}
	for name, c := range want.Counts() {
		if got.Counts()[name] != c {
			t.Errorf("%s: %d rows, want %d", name, got.Counts()[name], c)
		}
	}
}

func TestReadCSVMissingDir(t *testing.T) {
	got, err := ReadCSV(filepath.Join(t.TempDir(), "nope"))
	if err != nil {
		t.Fatalf("ReadCSV: %v", err)
	}
	if len(got.Papers) != 0 {
		t.Errorf("expected empty tables")
	}
}

func TestReadCSVWrongHeader(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(CSVPath(dir, paper.TableKeywords), []byte("word\ngraphs\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := ReadCSV(dir); err == nil {
		t.Error("expected header mismatch error")
	}
}

func TestWriteParquet(t *testing.T) {
	dir := t.TempDir()
	paths, err := WriteParquet(dir, sampleTables())
	if err != nil {
		t.Fatalf("WriteParquet: %v", err)
	}
	if len(paths) != len(paper.TableNames) {
		t.Fatalf("got %d files, want %d", len(paths), len(paper.TableNames))
	}

	data, err := os.ReadFile(ParquetPath(dir, paper.TablePapers))
	if err != nil {
		t.Fatal(err)
	}
	tbl, err := pqarrow.ReadTable(context.Background(), bytes.NewReader(data),
		parquet.NewReaderProperties(memory.DefaultAllocator), pqarrow.ArrowReadProperties{}, memory.DefaultAllocator)
	if err != nil {
		t.Fatalf("ReadTable: %v", err)
	}
	defer tbl.Release()

	if tbl.NumRows() != 2 {
		t.Errorf("rows = %d, want 2", tbl.NumRows())
	}
	if tbl.NumCols() != int64(len(paper.PaperColumns)) {
		t.Errorf("cols = %d, want %d", tbl.NumCols(), len(paper.PaperColumns))
	}
	if name := tbl.Schema().Field(5).Name; name != "cited_by_count" {
		t.Errorf("field 5 = %q", name)
	}
}

func TestSchema(t *testing.T) {
	s := Schema(paper.PaperColumns)
	if s.NumFields() != 7 {
		t.Fatalf("fields = %d", s.NumFields())
	}
	if s.Field(5).Type.ID() != s.Field(6).Type.ID() || s.Field(0).Type.ID() == s.Field(5).Type.ID() {
		t.Error("count columns should be int64 and id a string")
	}
}
