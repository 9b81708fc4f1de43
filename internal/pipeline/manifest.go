package pipeline

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/matsen/scholartab/internal/paper"
	"github.com/matsen/scholartab/internal/storage"
)

// Manifest describes one run's outputs. It is written next to the tables.
type Manifest struct {
	RunID          string          `yaml:"run_id" json:"run_id"`
	CreatedAt      time.Time       `yaml:"created_at" json:"created_at"`
	CheckpointHash string          `yaml:"checkpoint_hash" json:"checkpoint_hash"`
	Fingerprint    string          `yaml:"fingerprint,omitempty" json:"fingerprint,omitempty"`
	Formats        []string        `yaml:"formats" json:"formats"`
	Tables         []ManifestTable `yaml:"tables" json:"tables"`
}

// ManifestTable lists one table's files, columns and row count. File
// names are relative to the manifest's directory.
type ManifestTable struct {
	Name    string   `yaml:"name" json:"name"`
	Files   []string `yaml:"files" json:"files"`
	Columns []string `yaml:"columns" json:"columns"`
	Rows    int      `yaml:"rows" json:"rows"`
}

// NewManifest builds a manifest for t. files maps table name to the
// written paths.
func NewManifest(runID, hash, fingerprint string, formats []string, t *paper.Tables, files map[string][]string, dir string) *Manifest {
	m := &Manifest{
		RunID:          runID,
		CreatedAt:      time.Now().UTC().Truncate(time.Second),
		CheckpointHash: hash,
		Fingerprint:    fingerprint,
		Formats:        formats,
	}
	for _, tbl := range t.List() {
		cols := make([]string, len(tbl.Columns))
		for i, c := range tbl.Columns {
			cols[i] = c.Name
		}
		var rel []string
		for _, f := range files[tbl.Name] {
			if r, err := filepath.Rel(dir, f); err == nil {
				f = r
			}
			rel = append(rel, f)
		}
		m.Tables = append(m.Tables, ManifestTable{Name: tbl.Name, Files: rel, Columns: cols, Rows: len(tbl.Rows)})
	}
	return m
}

// WriteManifest writes m as YAML atomically.
func WriteManifest(path string, m *Manifest) error {
	return storage.WriteAtomic(path, ".tmp-*.yml", func(w io.Writer) error {
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(m); err != nil {
			return fmt.Errorf("encoding manifest: %w", err)
		}
		return enc.Close()
	})
}

// ReadManifest reads a manifest written by WriteManifest.
func ReadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading manifest: %w", err)
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parsing manifest: %w", err)
	}
	return &m, nil
}
