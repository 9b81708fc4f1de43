package classify

import (
	"errors"
	"fmt"
)

// Common errors returned by the classifier client.
var (
	// ErrUnknownSubject indicates a predicted label missing from the vocabulary.
	ErrUnknownSubject = errors.New("unknown subject abbreviation")

	// ErrNotConfigured indicates no classifier URL is set.
	ErrNotConfigured = errors.New("classifier url not configured")

	// ErrAuthError indicates a missing or invalid API key.
	ErrAuthError = errors.New("classifier authentication error")

	// ErrRateLimited indicates the service rejected the request rate.
	ErrRateLimited = errors.New("classifier rate limit exceeded")

	// ErrNetworkError indicates a network connectivity issue.
	ErrNetworkError = errors.New("network error communicating with classifier")

	// ErrInvalidResponse indicates an unexpected response body.
	ErrInvalidResponse = errors.New("invalid response from classifier")
)

// APIError is a non-success HTTP status from the classifier service.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("classifier error (status %d): %s", e.StatusCode, e.Message)
}

// IsRateLimited returns true if the error indicates rate limiting.
func IsRateLimited(err error) bool {
	if errors.Is(err, ErrRateLimited) {
		return true
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 429
	}
	return false
}
