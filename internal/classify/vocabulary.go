// Package classify predicts subject areas for paper text through an
// external classifier service.
package classify

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
)

// Subject is one entry of the subject vocabulary.
type Subject struct {
	Abbreviation string `json:"abbreviation"`
	Name         string `json:"subject_area"`
	Supergroup   string `json:"supergroup"`
}

// Vocabulary maps subject abbreviations to their full names and supergroups.
type Vocabulary struct {
	subjects map[string]Subject
}

var vocabularyHeader = []string{"abbreviation", "subject_area", "supergroup"}

// LoadVocabulary reads a subjects CSV file.
func LoadVocabulary(path string) (*Vocabulary, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening subjects: %w", err)
	}
	defer f.Close()
	return ReadVocabulary(f)
}

// ReadVocabulary parses CSV with an abbreviation,subject_area,supergroup
// header. Columns may appear in any order; extra columns are ignored.
func ReadVocabulary(r io.Reader) (*Vocabulary, error) {
	cr := csv.NewReader(r)
	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("reading subjects header: %w", err)
	}

	idx := make([]int, len(vocabularyHeader))
	for i, name := range vocabularyHeader {
		idx[i] = slices.Index(header, name)
		if idx[i] < 0 {
			return nil, fmt.Errorf("subjects header missing %q", name)
		}
	}

	v := &Vocabulary{subjects: make(map[string]Subject)}
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading subjects: %w", err)
		}
		s := Subject{
			Abbreviation: strings.TrimSpace(rec[idx[0]]),
			Name:         strings.TrimSpace(rec[idx[1]]),
			Supergroup:   strings.TrimSpace(rec[idx[2]]),
		}
		if s.Abbreviation == "" {
			continue
		}
		if _, dup := v.subjects[s.Abbreviation]; !dup {
			v.subjects[s.Abbreviation] = s
		}
	}
	return v, nil
}

// Len returns the number of subjects.
func (v *Vocabulary) Len() int {
	return len(v.subjects)
}

// Lookup returns the subject for an abbreviation.
func (v *Vocabulary) Lookup(abbrev string) (Subject, error) {
	s, ok := v.subjects[abbrev]
	if !ok {
		return Subject{}, fmt.Errorf("%w: %s", ErrUnknownSubject, abbrev)
	}
	return s, nil
}

// Prediction is the set of subjects predicted for one text.
type Prediction struct {
	Subjects []string
	vocab    *Vocabulary
}

// NewPrediction ties predicted abbreviations to a vocabulary.
func (v *Vocabulary) NewPrediction(subjects []string) Prediction {
	return Prediction{Subjects: subjects, vocab: v}
}

// FullNames returns the subject area names in prediction order.
func (p Prediction) FullNames() ([]string, error) {
	names := make([]string, 0, len(p.Subjects))
	for _, abbrev := range p.Subjects {
		s, err := p.vocab.Lookup(abbrev)
		if err != nil {
			return nil, err
		}
		names = append(names, s.Name)
	}
	return names, nil
}

// Supergroups returns the distinct supergroups in first-seen order.
func (p Prediction) Supergroups() ([]string, error) {
	var groups []string
	for _, abbrev := range p.Subjects {
		s, err := p.vocab.Lookup(abbrev)
		if err != nil {
			return nil, err
		}
		if !slices.Contains(groups, s.Supergroup) {
			groups = append(groups, s.Supergroup)
		}
	}
	return groups, nil
}
