package preview

import (
	"errors"
	"strings"
)

// Kind classifies failures surfaced to clients.
type Kind string

// Error kinds as they appear in the "type" field of failure responses.
const (
	KindValidation       Kind = "VALIDATION_ERROR"
	KindNavigation       Kind = "NAVIGATION_FAILED"
	KindGeneration       Kind = "GENERATION_ERROR"
	KindCacheUnavailable Kind = "CACHE_UNAVAILABLE"
	KindUnknown          Kind = "UNKNOWN_ERROR"
)

// Client-facing messages shared by the HTTP and batch layers.
const (
	MsgURLRequired      = "URL is required"
	MsgInvalidURL       = "Invalid URL provided"
	MsgGenerationFailed = "Failed to generate preview"
)

// Error carries a Kind alongside an optional message and cause.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	var parts []string
	if e.Msg != "" {
		parts = append(parts, e.Msg)
	}
	if e.Err != nil {
		parts = append(parts, e.Err.Error())
	}
	if len(parts) == 0 {
		return strings.ToLower(string(e.Kind))
	}
	return strings.Join(parts, ": ")
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewValidationError reports bad client input.
func NewValidationError(msg string) *Error {
	return &Error{Kind: KindValidation, Msg: msg}
}

// Wrap attaches kind to err without changing its message.
func Wrap(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain, or KindUnknown.
func KindOf(err error) Kind {
	var perr *Error
	if errors.As(err, &perr) {
		return perr.Kind
	}
	return KindUnknown
}

// IsValidation reports whether err is a validation failure.
func IsValidation(err error) bool {
	return KindOf(err) == KindValidation
}
