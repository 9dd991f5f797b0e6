package openalex

import (
	"errors"
	"fmt"
)

// Common errors returned by the OpenAlex client.
var (
	// ErrNotFound indicates the resource was not found.
	ErrNotFound = errors.New("not found in OpenAlex")

	// ErrRateLimited indicates the rate limit has been exceeded.
	ErrRateLimited = errors.New("OpenAlex rate limit exceeded")

	// ErrNetworkError indicates a network connectivity issue.
	ErrNetworkError = errors.New("network error communicating with OpenAlex")

	// ErrInvalidResponse indicates an unexpected API response.
	ErrInvalidResponse = errors.New("invalid response from OpenAlex")
)

// APIError represents an HTTP error status from the OpenAlex API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("OpenAlex API error (status %d): %s", e.StatusCode, e.Message)
}

// Retryable reports whether the status is worth retrying.
func (e *APIError) Retryable() bool {
	return e.StatusCode == 429 || e.StatusCode >= 500
}

// FetchError is returned when a request could not be completed, either
// because retries were exhausted or the failure was not retryable. Cursor is
// the page cursor that failed, so the operator can see how far a run got.
// Resource names the entity path for non-page requests (institutions/I123).
type FetchError struct {
	Cursor     string
	Resource   string
	Attempts   int
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	target := fmt.Sprintf("cursor %q", e.Cursor)
	if e.Resource != "" {
		target = e.Resource
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetching %s failed after %d attempt(s) (status %d): %v", target, e.Attempts, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("fetching %s failed after %d attempt(s): %v", target, e.Attempts, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// IsNotFound returns true if the error indicates a resource was not found.
func IsNotFound(err error) bool {
	if errors.Is(err, ErrNotFound) {
		return true
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 404
	}
	return false
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
