// Package storage persists the merged checkpoint as JSONL and mirrors the
// normalized tables into SQLite.
package storage

import (
	"bufio"
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"

	"github.com/matsen/scholartab/internal/paper"
)

// MaxJSONLLineCapacity is the maximum buffer size for one checkpoint line.
// Records carry full reference lists, so lines run far past 1MB.
const MaxJSONLLineCapacity = 16 * 1024 * 1024

// ReadCheckpoint reads all records from a JSONL checkpoint. Numbers inside
// list sections are kept as json.Number so identifiers survive exactly.
func ReadCheckpoint(path string) ([]paper.FlatRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil // Missing checkpoint reads as empty
		}
		return nil, fmt.Errorf("opening checkpoint: %w", err)
	}
	defer f.Close()

	var records []paper.FlatRecord
	scanner := bufio.NewScanner(f)
	buf := make([]byte, 64*1024)
	scanner.Buffer(buf, MaxJSONLLineCapacity)

	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		dec := json.NewDecoder(bytes.NewReader(line))
		dec.UseNumber()
		var rec paper.FlatRecord
		if err := dec.Decode(&rec); err != nil {
			return nil, fmt.Errorf("parsing line %d: %w", lineNum, err)
		}
		records = append(records, rec)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading checkpoint: %w", err)
	}

	return records, nil
}

// WriteCheckpoint writes all records to a JSONL file atomically.
// Uses temp file + rename so a reader never sees a partial checkpoint.
func WriteCheckpoint(path string, records []paper.FlatRecord) error {
	return WriteAtomic(path, ".tmp-*.jsonl", func(w io.Writer) error {
		bw := bufio.NewWriter(w)
		for i, rec := range records {
			data, err := json.Marshal(rec)
			if err != nil {
				return fmt.Errorf("encoding record %d (%s): %w", i, rec.ID, err)
			}
			if _, err := bw.Write(data); err != nil {
				return fmt.Errorf("writing record %d: %w", i, err)
			}
			if err := bw.WriteByte('\n'); err != nil {
				return fmt.Errorf("writing newline: %w", err)
			}
		}
		return bw.Flush()
	})
}

// WriteAtomic writes through fill into a temp file in the target's
// directory, then renames it over path.
func WriteAtomic(path, pattern string, fill func(io.Writer) error) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating directory: %w", err)
	}
	tmpFile, err := os.CreateTemp(dir, pattern)
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			tmpFile.Close()
			os.Remove(tmpPath)
		}
	}()

	if err := tmpFile.Chmod(0644); err != nil {
		return fmt.Errorf("setting permissions: %w", err)
	}
	if err := fill(tmpFile); err != nil {
		return err
	}
	if err := tmpFile.Sync(); err != nil {
		return fmt.Errorf("syncing temp file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("renaming temp file: %w", err)
	}

	success = true
	return nil
}

// ComputeHash computes a SHA256 hash of a file's contents. A missing file
// hashes as empty.
func ComputeHash(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			h := sha256.Sum256([]byte{})
			return hex.EncodeToString(h[:]), nil
		}
		return "", fmt.Errorf("opening file: %w", err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("reading file: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Fingerprint summarizes a raw corpus by the path, size and modification
// time of each file. paths must be in a stable order.
func Fingerprint(fs afero.Fs, paths []string) (string, error) {
	h := sha256.New()
	for _, p := range paths {
		info, err := fs.Stat(p)
		if err != nil {
			return "", fmt.Errorf("stat %s: %w", p, err)
		}
		fmt.Fprintf(h, "%s\x00%d\x00%d\n", p, info.Size(), info.ModTime().UnixNano())
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// ReadFingerprint returns the stored fingerprint, or "" when none exists.
func ReadFingerprint(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("reading fingerprint: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

// WriteFingerprint stores a fingerprint atomically.
func WriteFingerprint(path, fingerprint string) error {
	return WriteAtomic(path, ".tmp-*.fingerprint", func(w io.Writer) error {
		_, err := io.WriteString(w, fingerprint+"\n")
		return err
	})
}
