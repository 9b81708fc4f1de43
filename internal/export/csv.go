// Package export writes normalized tables to flat files and reads them back.
package export

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/matsen/scholartab/internal/paper"
	"github.com/matsen/scholartab/internal/storage"
)

// CSVPath returns the file a table is written to.
func CSVPath(dir, table string) string {
	return filepath.Join(dir, table+".csv")
}

// WriteCSV writes one CSV file per table into dir. Each file is replaced
// atomically, so reruns overwrite and identical tables give identical bytes.
// Returns the written paths in table order.
func WriteCSV(dir string, t *paper.Tables) ([]string, error) {
	var paths []string
	for _, tbl := range t.List() {
		path := CSVPath(dir, tbl.Name)
		if err := storage.WriteAtomic(path, ".tmp-*.csv", func(w io.Writer) error {
			return EncodeCSV(w, tbl)
		}); err != nil {
			return nil, fmt.Errorf("writing %s: %w", tbl.Name, err)
		}
		paths = append(paths, path)
	}
	return paths, nil
}

// EncodeCSV writes a header row followed by every row in order.
func EncodeCSV(w io.Writer, tbl paper.Table) error {
	cw := csv.NewWriter(w)

	header := make([]string, len(tbl.Columns))
	for i, c := range tbl.Columns {
		header[i] = c.Name
	}
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}

	record := make([]string, len(tbl.Columns))
	for i, row := range tbl.Rows {
		for j, v := range row.Values() {
			record[j] = paper.FormatValue(v)
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("writing row %d: %w", i, err)
		}
	}

	cw.Flush()
	return cw.Error()
}

// ReadCSV reads every table file in dir. A missing file reads as an empty
// table, so partially exported directories can still be inspected.
func ReadCSV(dir string) (*paper.Tables, error) {
	t := &paper.Tables{}
	for _, name := range paper.TableNames {
		if err := ReadTableCSV(CSVPath(dir, name), name, t); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// ReadTableCSV reads a single table file into t. Empty cells are absent
// values.
func ReadTableCSV(path, name string, t *paper.Tables) error {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	cols, ok := paper.ColumnsFor(name)
	if !ok {
		return &paper.UnknownTableError{Name: name}
	}

	r := csv.NewReader(f)
	r.FieldsPerRecord = len(cols)

	header, err := r.Read()
	if err == io.EOF {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading %s header: %w", name, err)
	}
	for i, c := range cols {
		if header[i] != c.Name {
			return fmt.Errorf("%s: column %d is %q, want %q", name, i, header[i], c.Name)
		}
	}

	line := 1
	for {
		rec, err := r.Read()
		if err == io.EOF {
			return nil
		}
		line++
		if err != nil {
			return fmt.Errorf("reading %s: %w", name, err)
		}
		m := make(map[string]any, len(cols))
		for i, c := range cols {
			if rec[i] != "" {
				m[c.Name] = rec[i]
			}
		}
		if err := t.Append(name, m); err != nil {
			return fmt.Errorf("%s line %d: %w", name, line, err)
		}
	}
}
