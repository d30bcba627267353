package cloudflare

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/yndnr/cfenv-go/internal/core/domain"
)

// APIError is a rejection reported by the Cloudflare API.
type APIError struct {
	StatusCode int
	Messages   []string
	// NonJSON is set when a JSON endpoint answered with something else.
	NonJSON bool
}

// Error implements the error interface.
func (e *APIError) Error() string {
	switch {
	case e.NonJSON:
		return fmt.Sprintf("cloudflare api returned non-JSON response (%d)", e.StatusCode)
	case len(e.Messages) > 0:
		return "cloudflare api: " + strings.Join(e.Messages, "; ")
	default:
		return fmt.Sprintf("cloudflare api request failed with HTTP %d", e.StatusCode)
	}
}

// Is matches domain.ErrRemoteRejected.
func (e *APIError) Is(target error) bool {
	return target == domain.ErrRemoteRejected
}

// NetworkError is a transport failure that exhausted the retry budget.
type NetworkError struct {
	Timeout bool
	// After is the per-attempt timeout that expired.
	After time.Duration
	Err   error
}

// Error implements the error interface.
func (e *NetworkError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("cloudflare api request timed out after %s", e.After)
	}
	return fmt.Sprintf("cloudflare api network error: %v", e.Err)
}

// Unwrap returns the underlying transport error.
func (e *NetworkError) Unwrap() error {
	return e.Err
}

// Is matches domain.ErrTransport.
func (e *NetworkError) Is(target error) bool {
	return target == domain.ErrTransport
}

type apiMessage struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type resultInfo struct {
	Cursor     string `json:"cursor"`
	Page       int    `json:"page"`
	PerPage    int    `json:"per_page"`
	Count      int    `json:"count"`
	TotalCount int    `json:"total_count"`
	TotalPages int    `json:"total_pages"`
}

type envelope struct {
	Success    bool            `json:"success"`
	Errors     []apiMessage    `json:"errors"`
	Result     json.RawMessage `json:"result"`
	ResultInfo *resultInfo     `json:"result_info"`
}

func (e *envelope) messages() []string {
	var out []string
	for _, m := range e.Errors {
		if m.Message != "" {
			out = append(out, m.Message)
		}
	}
	return out
}

// extractError builds an APIError from a raw (non-envelope) endpoint
// response: envelope messages first, then the body text.
func extractError(status int, body []byte) error {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		if text := strings.TrimSpace(string(body)); text != "" {
			return &APIError{StatusCode: status, Messages: []string{text}}
		}
		return &APIError{StatusCode: status}
	}
	return &APIError{StatusCode: status, Messages: env.messages()}
}

func isSuccess(status int) bool {
	return status >= http.StatusOK && status < http.StatusMultipleChoices
}
