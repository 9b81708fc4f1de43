package loader

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"reflect"
	"sort"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/spf13/afero"

	"github.com/matsen/scholartab/internal/flatten"
	"github.com/matsen/scholartab/internal/observability"
)

func docJSON(eid, affID string) string {
	return fmt.Sprintf(`{"abstracts-retrieval-response": {
		"coredata": {"eid": %q, "dc:title": "Paper %s", "citedby-count": "1"},
		"affiliation": {"@id": %q, "affilname": "Uni"}}}`, eid, eid, affID)
}

// writeCorpus lays out n valid documents across two subdirectories, one
// hidden file, one hidden directory, one malformed file and one document
// without an id.
func writeCorpus(t *testing.T, n int) afero.Fs {
	t.Helper()
	fs := afero.NewMemMapFs()
	for i := 0; i < n; i++ {
		dir := "raw/2020"
		if i%2 == 1 {
			dir = "raw/2021"
		}
		path := filepath.Join(dir, fmt.Sprintf("doc%03d.json", i))
		if err := afero.WriteFile(fs, path, []byte(docJSON(fmt.Sprintf("2-s2.0-%d", i), "600")), 0644); err != nil {
			t.Fatalf("writing %s: %v", path, err)
		}
	}
	files := map[string]string{
		"raw/.DS_Store":           "junk",
		"raw/.cache/ignored.json": docJSON("hidden", "1"),
		"raw/2020/broken.json":    `{"abstracts-retrieval-response": `,
		"raw/2021/noid.json":      `{"abstracts-retrieval-response": {"coredata": {}}}`,
	}
	for path, body := range files {
		if err := afero.WriteFile(fs, path, []byte(body), 0644); err != nil {
			t.Fatalf("writing %s: %v", path, err)
		}
	}
	return fs
}

func TestDiscover(t *testing.T) {
	fs := writeCorpus(t, 4)

	paths, err := Discover(fs, "raw")
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if len(paths) != 6 {
		t.Fatalf("got %d paths, want 6: %v", len(paths), paths)
	}
	if !sort.StringsAreSorted(paths) {
		t.Errorf("paths not sorted: %v", paths)
	}
	for _, p := range paths {
		if filepath.Base(p)[0] == '.' || filepath.Base(filepath.Dir(p)) == ".cache" {
			t.Errorf("hidden path discovered: %s", p)
		}
	}
}

func TestDiscoverMissingRoot(t *testing.T) {
	if _, err := Discover(afero.NewMemMapFs(), "nope"); err == nil {
		t.Error("expected error for missing root")
	}
}

func TestShard(t *testing.T) {
	paths := make([]string, 50)
	for i := range paths {
		paths[i] = fmt.Sprintf("raw/doc%02d.json", i)
	}

	shards := Shard(paths, 4)
	if len(shards) != 4 {
		t.Fatalf("got %d shards, want 4", len(shards))
	}

	seen := make(map[string]int)
	for i, shard := range shards {
		for _, p := range shard {
			if prev, ok := seen[p]; ok {
				t.Errorf("%s in shards %d and %d", p, prev, i)
			}
			seen[p] = i
		}
		if !sort.StringsAreSorted(shard) {
			t.Errorf("shard %d lost input order", i)
		}
	}
	if len(seen) != len(paths) {
		t.Errorf("got %d assigned paths, want %d", len(seen), len(paths))
	}

	// Deterministic across calls.
	if !reflect.DeepEqual(shards, Shard(paths, 4)) {
		t.Error("Shard is not deterministic")
	}

	if got := Shard(paths, 0); len(got) != 1 || len(got[0]) != len(paths) {
		t.Error("n < 1 should yield a single shard")
	}
}

func TestLoadSkipsFailures(t *testing.T) {
	fs := writeCorpus(t, 6)
	metrics := observability.NewMetrics()
	l := New(WithFs(fs), WithWorkers(3), WithMetrics(metrics))

	res, err := l.LoadDir(context.Background(), "raw")
	if err != nil {
		t.Fatalf("LoadDir: %v", err)
	}

	if len(res.Records) != 6 {
		t.Errorf("got %d records, want 6", len(res.Records))
	}
	if len(res.Failures) != 2 {
		t.Fatalf("got %d failures, want 2: %v", len(res.Failures), res.Failures)
	}
	if res.Files != 8 {
		t.Errorf("Files = %d, want 8", res.Files)
	}

	var sawMissingID bool
	for _, f := range res.Failures {
		if errors.Is(f, flatten.ErrMissingID) {
			sawMissingID = true
		}
	}
	if !sawMissingID {
		t.Error("expected a missing-id failure")
	}
	if res.Err() == nil {
		t.Error("Err() should combine failures")
	}

	if got := testutil.ToFloat64(metrics.FilesLoaded); got != 6 {
		t.Errorf("files_loaded_total = %v, want 6", got)
	}
	if got := testutil.ToFloat64(metrics.FilesFailed); got != 2 {
		t.Errorf("files_failed_total = %v, want 2", got)
	}

	for _, rec := range res.Records {
		if rec.Source == "" {
			t.Errorf("record %s has no source", rec.ID)
		}
	}
}

func TestPartitionInvariance(t *testing.T) {
	fs := writeCorpus(t, 25)
	ctx := context.Background()

	one, err := New(WithFs(fs), WithWorkers(1)).LoadDir(ctx, "raw")
	if err != nil {
		t.Fatalf("LoadDir (1 shard): %v", err)
	}
	many, err := New(WithFs(fs), WithWorkers(7)).LoadDir(ctx, "raw")
	if err != nil {
		t.Fatalf("LoadDir (7 shards): %v", err)
	}

	ids := func(r *Result) []string {
		out := make([]string, len(r.Records))
		for i, rec := range r.Records {
			out[i] = rec.ID
		}
		sort.Strings(out)
		return out
	}
	if !reflect.DeepEqual(ids(one), ids(many)) {
		t.Errorf("record sets differ:\n1 shard: %v\n7 shards: %v", ids(one), ids(many))
	}
}

func TestLoadOrderIsStable(t *testing.T) {
	fs := writeCorpus(t, 20)
	ctx := context.Background()
	l := New(WithFs(fs), WithWorkers(5))

	first, err := l.LoadDir(ctx, "raw")
	if err != nil {
		t.Fatalf("LoadDir: %v", err)
	}
	for i := 0; i < 5; i++ {
		again, err := l.LoadDir(ctx, "raw")
		if err != nil {
			t.Fatalf("LoadDir: %v", err)
		}
		if !reflect.DeepEqual(first.Records, again.Records) {
			t.Fatal("record order changed between runs with the same shard count")
		}
	}
}

func TestLoadCancelled(t *testing.T) {
	fs := writeCorpus(t, 10)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := New(WithFs(fs), WithWorkers(2)).LoadDir(ctx, "raw"); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}
