package classify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const subjectsCSV = `abbreviation,subject_area,supergroup
COMP,Computer Science,Physical Sciences
MATH,Mathematics,Physical Sciences
MEDI,Medicine,Health Sciences
`

func testVocabulary(t *testing.T) *Vocabulary {
	t.Helper()
	v, err := ReadVocabulary(strings.NewReader(subjectsCSV))
	require.NoError(t, err)
	return v
}

func TestReadVocabulary(t *testing.T) {
	v := testVocabulary(t)
	assert.Equal(t, 3, v.Len())

	s, err := v.Lookup("MEDI")
	require.NoError(t, err)
	assert.Equal(t, "Medicine", s.Name)
	assert.Equal(t, "Health Sciences", s.Supergroup)

	_, err = v.Lookup("ZZZZ")
	assert.ErrorIs(t, err, ErrUnknownSubject)
}

func TestReadVocabularyColumnOrder(t *testing.T) {
	v, err := ReadVocabulary(strings.NewReader("supergroup,abbreviation,extra,subject_area\nLife Sciences,BIOC,x,Biochemistry\n"))
	require.NoError(t, err)

	s, err := v.Lookup("BIOC")
	require.NoError(t, err)
	assert.Equal(t, "Biochemistry", s.Name)
	assert.Equal(t, "Life Sciences", s.Supergroup)
}

func TestReadVocabularyMissingColumn(t *testing.T) {
	_, err := ReadVocabulary(strings.NewReader("abbreviation,subject_area\nCOMP,Computer Science\n"))
	assert.Error(t, err)
}

func TestLoadVocabulary(t *testing.T) {
	path := filepath.Join(t.TempDir(), "subjects.csv")
	require.NoError(t, os.WriteFile(path, []byte(subjectsCSV), 0644))

	v, err := LoadVocabulary(path)
	require.NoError(t, err)
	assert.Equal(t, 3, v.Len())

	_, err = LoadVocabulary(filepath.Join(t.TempDir(), "missing.csv"))
	assert.Error(t, err)
}

func TestPrediction(t *testing.T) {
	v := testVocabulary(t)
	p := v.NewPrediction([]string{"COMP", "MEDI", "MATH"})

	names, err := p.FullNames()
	require.NoError(t, err)
	assert.Equal(t, []string{"Computer Science", "Medicine", "Mathematics"}, names)

	groups, err := p.Supergroups()
	require.NoError(t, err)
	assert.Equal(t, []string{"Physical Sciences", "Health Sciences"}, groups)

	_, err = v.NewPrediction([]string{"NOPE"}).FullNames()
	assert.ErrorIs(t, err, ErrUnknownSubject)
}

func TestHTTPPredictor(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, PredictPath, r.URL.Path)
		assert.Equal(t, "secret", r.Header.Get("X-API-Key"))

		var req predictRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		labels := make([][]string, len(req.Texts))
		for i, text := range req.Texts {
			if strings.Contains(text, "neural") {
				labels[i] = []string{"COMP"}
			} else {
				labels[i] = []string{}
			}
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(predictResponse{Labels: labels})
	}))
	defer server.Close()

	p := NewHTTPPredictor(server.URL+"/", WithAPIKey("secret"), WithRateLimit(100))
	got, err := p.Predict(context.Background(), []string{"neural nets", "pottery"})
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"COMP"}, {}}, got)
}

func TestHTTPPredictorErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		check  func(t *testing.T, err error)
	}{
		{"unauthorized", http.StatusUnauthorized, "", func(t *testing.T, err error) {
			assert.ErrorIs(t, err, ErrAuthError)
		}},
		{"rate limited", http.StatusTooManyRequests, "", func(t *testing.T, err error) {
			assert.True(t, IsRateLimited(err))
		}},
		{"server error", http.StatusInternalServerError, "model not loaded", func(t *testing.T, err error) {
			var apiErr *APIError
			require.True(t, errors.As(err, &apiErr))
			assert.Equal(t, 500, apiErr.StatusCode)
			assert.Equal(t, "model not loaded", apiErr.Message)
		}},
		{"bad body", http.StatusOK, "not json", func(t *testing.T, err error) {
			assert.ErrorIs(t, err, ErrInvalidResponse)
		}},
		{"wrong label count", http.StatusOK, `{"labels": []}`, func(t *testing.T, err error) {
			assert.ErrorIs(t, err, ErrInvalidResponse)
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			_, err := NewHTTPPredictor(server.URL, WithRateLimit(100)).Predict(context.Background(), []string{"x"})
			require.Error(t, err)
			tt.check(t, err)
		})
	}
}

func TestHTTPPredictorNotConfigured(t *testing.T) {
	_, err := NewHTTPPredictor("").Predict(context.Background(), []string{"x"})
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestHTTPPredictorCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewHTTPPredictor("http://127.0.0.1:1").Predict(ctx, []string{"x"})
	assert.Error(t, err)
}

type stubPredictor struct {
	labels [][]string
	err    error
}

func (s stubPredictor) Predict(ctx context.Context, texts []string) ([][]string, error) {
	return s.labels, s.err
}

func TestClassifier(t *testing.T) {
	v := testVocabulary(t)

	c := New(stubPredictor{labels: [][]string{{"MATH", "COMP"}}}, v)
	res, err := c.Classify(context.Background(), "graph theory")
	require.NoError(t, err)
	assert.Equal(t, []string{"MATH", "COMP"}, res.Subjects)
	assert.Equal(t, []string{"Mathematics", "Computer Science"}, res.FullNames)
	assert.Equal(t, []string{"Physical Sciences"}, res.Supergroups)

	empty, err := New(stubPredictor{labels: [][]string{nil}}, v).Classify(context.Background(), "x")
	require.NoError(t, err)
	assert.Empty(t, empty.FullNames)
	assert.NotNil(t, empty.FullNames)

	_, err = New(stubPredictor{labels: [][]string{{"ZZZZ"}}}, v).Classify(context.Background(), "x")
	assert.ErrorIs(t, err, ErrUnknownSubject)

	_, err = New(stubPredictor{err: ErrNetworkError}, v).Classify(context.Background(), "x")
	assert.ErrorIs(t, err, ErrNetworkError)
}
