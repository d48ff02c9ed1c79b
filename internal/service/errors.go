package service

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/timmy/modelcatalog/internal/codec"
)

var (
	// ErrNoProvider is returned when no text completion provider is configured.
	ErrNoProvider = errors.New("no validation provider configured")
	// ErrEmptyValidationResult is returned when a single-request validation decodes to zero records.
	ErrEmptyValidationResult = errors.New("validation reply contained no records")
	// ErrCancelled marks a run stopped by the user. It is an outcome, not a failure.
	ErrCancelled = errors.New("cancelled by user")
	// ErrValidationRunning is returned when a catalog validation is already in progress.
	ErrValidationRunning = errors.New("catalog validation already running")
	// ErrRecordNotFound is returned when a requested record id is not in the catalog.
	ErrRecordNotFound = errors.New("record not found")
)

// ProviderError is a non-2xx response from a text completion provider.
type ProviderError struct {
	StatusCode int
	Message    string
}

func (e *ProviderError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("provider returned HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("provider returned HTTP %d: %s", e.StatusCode, e.Message)
}

// ErrorKind is a user-actionable error category.
type ErrorKind string

const (
	ErrorKindNoProvider   ErrorKind = "no_provider"
	ErrorKindUnauthorized ErrorKind = "unauthorized"
	ErrorKindForbidden    ErrorKind = "forbidden"
	ErrorKindNotFound     ErrorKind = "not_found"
	ErrorKindRateLimited  ErrorKind = "rate_limited"
	ErrorKindServerError  ErrorKind = "server_error"
	ErrorKindStructural   ErrorKind = "structural"
	ErrorKindCancelled    ErrorKind = "cancelled"
	ErrorKindUnknown      ErrorKind = "unknown"
)

// ClassifiedError pairs an error with its category and a message fit for display.
type ClassifiedError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *ClassifiedError) Error() string {
	return e.Message
}

func (e *ClassifiedError) Unwrap() error {
	return e.Err
}

var statusPattern = regexp.MustCompile(`\b(401|403|404|429|5\d\d)\b`)

var kindMessages = map[ErrorKind]string{
	ErrorKindNoProvider:   "No validation provider is configured. Add an API key for a text completion provider.",
	ErrorKindUnauthorized: "Authentication failed (401). Check the provider API key.",
	ErrorKindForbidden:    "Access denied (403). The API key lacks permission for this model.",
	ErrorKindNotFound:     "Endpoint or model not found (404). The provider API may have changed.",
	ErrorKindRateLimited:  "Rate limited by the provider (429). Wait before retrying or lower concurrency.",
	ErrorKindServerError:  "The provider reported a server error (5xx). Try again later.",
	ErrorKindCancelled:    ErrCancelled.Error(),
}

// ClassifyError maps err onto the error taxonomy. Typed errors are checked
// first; otherwise the message is pattern matched. Unmatched errors keep
// their message verbatim. A nil error classifies to nil.
func ClassifyError(err error) *ClassifiedError {
	if err == nil {
		return nil
	}
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce
	}

	kind := classifyKind(err)
	msg, ok := kindMessages[kind]
	switch {
	case kind == ErrorKindStructural:
		msg = err.Error()
	case !ok:
		msg = err.Error()
	}
	return &ClassifiedError{Kind: kind, Message: msg, Err: err}
}

func classifyKind(err error) ErrorKind {
	switch {
	case errors.Is(err, ErrCancelled), errors.Is(err, context.Canceled):
		return ErrorKindCancelled
	case errors.Is(err, ErrNoProvider):
		return ErrorKindNoProvider
	case errors.Is(err, codec.ErrNoTabularHeader), errors.Is(err, ErrEmptyValidationResult):
		return ErrorKindStructural
	}

	var pe *ProviderError
	if errors.As(err, &pe) {
		if k := kindForStatus(pe.StatusCode); k != ErrorKindUnknown {
			return k
		}
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "no provider"), strings.Contains(msg, "api key not configured"):
		return ErrorKindNoProvider
	case strings.Contains(msg, "unauthorized"), strings.Contains(msg, "invalid api key"):
		return ErrorKindUnauthorized
	case strings.Contains(msg, "forbidden"):
		return ErrorKindForbidden
	case strings.Contains(msg, "rate limit"), strings.Contains(msg, "too many requests"):
		return ErrorKindRateLimited
	case strings.Contains(msg, "internal server error"):
		return ErrorKindServerError
	}
	if m := statusPattern.FindString(msg); m != "" {
		var code int
		fmt.Sscanf(m, "%d", &code)
		return kindForStatus(code)
	}
	return ErrorKindUnknown
}

func kindForStatus(code int) ErrorKind {
	switch {
	case code == 401:
		return ErrorKindUnauthorized
	case code == 403:
		return ErrorKindForbidden
	case code == 404:
		return ErrorKindNotFound
	case code == 429:
		return ErrorKindRateLimited
	case code >= 500 && code <= 599:
		return ErrorKindServerError
	default:
		return ErrorKindUnknown
	}
}

// IsCancellation reports whether err represents a user cancellation rather than a failure.
func IsCancellation(err error) bool {
	return errors.Is(err, ErrCancelled) || errors.Is(err, context.Canceled)
}
