package classify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const (
	// DefaultTimeout is the default HTTP request timeout.
	DefaultTimeout = 30 * time.Second

	// DefaultRateLimit is requests per second when none is configured.
	DefaultRateLimit = 5.0

	// PredictPath is appended to the base URL.
	PredictPath = "/predict"

	maxErrorBody = 4096
)

// Predictor returns the predicted subject abbreviations for each text.
type Predictor interface {
	Predict(ctx context.Context, texts []string) ([][]string, error)
}

// HTTPPredictor is a rate-limited client for a classifier service that
// accepts {"texts": [...]} and answers {"labels": [[...], ...]}.
type HTTPPredictor struct {
	httpClient *http.Client
	limiter    *rate.Limiter
	apiKey     string
	baseURL    string
}

// Option configures an HTTPPredictor.
type Option func(*HTTPPredictor)

// WithAPIKey sets the API key sent in the X-API-Key header.
func WithAPIKey(key string) Option {
	return func(p *HTTPPredictor) {
		p.apiKey = key
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(p *HTTPPredictor) {
		p.httpClient = hc
	}
}

// WithRateLimit sets the maximum requests per second.
func WithRateLimit(perSecond float64) Option {
	return func(p *HTTPPredictor) {
		p.limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(p *HTTPPredictor) {
		p.httpClient = &http.Client{Timeout: d}
	}
}

// NewHTTPPredictor creates a client for the service at baseURL.
func NewHTTPPredictor(baseURL string, opts ...Option) *HTTPPredictor {
	p := &HTTPPredictor{
		httpClient: &http.Client{Timeout: DefaultTimeout},
		limiter:    rate.NewLimiter(rate.Limit(DefaultRateLimit), 1),
		baseURL:    strings.TrimRight(baseURL, "/"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

type predictRequest struct {
	Texts []string `json:"texts"`
}

type predictResponse struct {
	Labels [][]string `json:"labels"`
}

// Predict sends texts in one request. The response must hold one label
// list per text.
func (p *HTTPPredictor) Predict(ctx context.Context, texts []string) ([][]string, error) {
	if p.baseURL == "" {
		return nil, ErrNotConfigured
	}
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	body, err := json.Marshal(predictRequest{Texts: texts})
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+PredictPath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if p.apiKey != "" {
		req.Header.Set("X-API-Key", p.apiKey)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNetworkError, err)
	}
	defer resp.Body.Close()

	if err := checkHTTPErrors(resp); err != nil {
		return nil, err
	}

	var out predictResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	if len(out.Labels) != len(texts) {
		return nil, fmt.Errorf("%w: got %d label lists for %d texts", ErrInvalidResponse, len(out.Labels), len(texts))
	}
	return out.Labels, nil
}

func checkHTTPErrors(resp *http.Response) error {
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: status %d", ErrAuthError, resp.StatusCode)
	case resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w: status %d", ErrRateLimited, resp.StatusCode)
	case resp.StatusCode >= 400:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(msg))}
	}
	return nil
}

// Result is a prediction resolved against the vocabulary.
type Result struct {
	Subjects    []string `json:"subjects"`
	FullNames   []string `json:"full_names"`
	Supergroups []string `json:"supergroups"`
}

// Classifier resolves predictions to subject names and supergroups.
type Classifier struct {
	predictor Predictor
	vocab     *Vocabulary
}

// New returns a classifier backed by predictor and vocab.
func New(predictor Predictor, vocab *Vocabulary) *Classifier {
	return &Classifier{predictor: predictor, vocab: vocab}
}

// Classify predicts subjects for one title and/or abstract.
func (c *Classifier) Classify(ctx context.Context, text string) (Result, error) {
	labels, err := c.predictor.Predict(ctx, []string{text})
	if err != nil {
		return Result{}, err
	}
	if len(labels) != 1 {
		return Result{}, fmt.Errorf("%w: got %d label lists for 1 text", ErrInvalidResponse, len(labels))
	}

	pred := c.vocab.NewPrediction(labels[0])
	names, err := pred.FullNames()
	if err != nil {
		return Result{}, err
	}
	groups, err := pred.Supergroups()
	if err != nil {
		return Result{}, err
	}

	return Result{
		Subjects:    nonNil(pred.Subjects),
		FullNames:   nonNil(names),
		Supergroups: nonNil(groups),
	}, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
