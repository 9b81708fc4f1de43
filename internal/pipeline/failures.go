package pipeline

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/matsen/scholartab/internal/storage"
)

// WriteFailures records the files a load skipped so a later run that
// reuses the checkpoint can report them.
func WriteFailures(path string, failures []Failure) error {
	if failures == nil {
		failures = []Failure{}
	}
	return storage.WriteAtomic(path, ".tmp-*.json", func(w io.Writer) error {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(failures); err != nil {
			return fmt.Errorf("encoding failures: %w", err)
		}
		return nil
	})
}

// ReadFailures reads failures written by WriteFailures. found is false
// when no file exists.
func ReadFailures(path string) (failures []Failure, found bool, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("reading failures: %w", err)
	}
	if err := json.Unmarshal(data, &failures); err != nil {
		return nil, false, fmt.Errorf("parsing failures: %w", err)
	}
	return failures, true, nil
}
