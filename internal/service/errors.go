package service

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrNoDownload means the extractor resolved the link but offered nothing
// that can be delivered.
var ErrNoDownload = errors.New("no download available")

type ErrorType int

const (
	ErrResolve ErrorType = iota
	ErrNothingToDownload
	ErrDownload
	ErrDeliver
	ErrUnknown
)

func (t ErrorType) String() string {
	switch t {
	case ErrResolve:
		return "Resolve"
	case ErrNothingToDownload:
		return "NoDownload"
	case ErrDownload:
		return "Download"
	case ErrDeliver:
		return "Deliver"
	default:
		return "Unknown"
	}
}

// DownloadError is the failure of one download job.
type DownloadError struct {
	Type    ErrorType
	Message string
	Context map[string]any
	Cause   error
}

func NewError(errorType ErrorType, message string) *DownloadError {
	return &DownloadError{
		Type:    errorType,
		Message: message,
		Context: make(map[string]any),
	}
}

func NewErrorWithCause(errorType ErrorType, message string, cause error) *DownloadError {
	e := NewError(errorType, message)
	e.Cause = cause
	return e
}

func (e *DownloadError) Error() string {
	parts := []string{fmt.Sprintf("[%s] %s", e.Type, e.Message)}

	if len(e.Context) > 0 {
		keys := make([]string, 0, len(e.Context))
		for k := range e.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		ctxParts := make([]string, 0, len(keys))
		for _, k := range keys {
			ctxParts = append(ctxParts, fmt.Sprintf("%s=%v", k, e.Context[k]))
		}
		parts = append(parts, "context: "+strings.Join(ctxParts, ", "))
	}

	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("cause: %v", e.Cause))
	}
	return strings.Join(parts, " | ")
}

func (e *DownloadError) Unwrap() error {
	return e.Cause
}

func (e *DownloadError) WithContext(key string, value any) *DownloadError {
	e.Context[key] = value
	return e
}

// TypeOf returns the type of the first DownloadError in err's chain, or
// ErrUnknown.
func TypeOf(err error) ErrorType {
	var dlErr *DownloadError
	if errors.As(err, &dlErr) {
		return dlErr.Type
	}
	return ErrUnknown
}

func IsErrorType(err error, errorType ErrorType) bool {
	return TypeOf(err) == errorType
}

// Advice is a short hint shown to the user under the error text.
func Advice(err error) string {
	switch TypeOf(err) {
	case ErrResolve:
		return "Check that the link is public and points to a single video or track."
	case ErrNothingToDownload:
		return "The site did not offer a downloadable video or audio stream for this link."
	case ErrDownload:
		return "The download was interrupted. Try again in a few minutes."
	case ErrDeliver:
		return "The file could not be sent, possibly because it is too large."
	default:
		return ""
	}
}
