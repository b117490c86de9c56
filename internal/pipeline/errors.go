package pipeline

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

type ErrorKind int

const (
	ErrPrecondition ErrorKind = iota
	ErrDownload
	ErrTranscode
	ErrProbe
	ErrPersistence
	ErrValidation
	ErrUnknown
)

func (k ErrorKind) String() string {
	switch k {
	case ErrPrecondition:
		return "PRECONDITION"
	case ErrDownload:
		return "DOWNLOAD"
	case ErrTranscode:
		return "TRANSCODE"
	case ErrProbe:
		return "PROBE"
	case ErrPersistence:
		return "PERSISTENCE"
	case ErrValidation:
		return "VALIDATION"
	default:
		return "UNKNOWN"
	}
}

// Retryable reports whether re-running the whole job may succeed.
func (k ErrorKind) Retryable() bool {
	switch k {
	case ErrPrecondition, ErrValidation:
		return false
	default:
		return true
	}
}

type Error struct {
	Kind    ErrorKind
	Message string
	Context map[string]any
	Cause   error
}

func NewError(kind ErrorKind, message string) *Error {
	return &Error{
		Kind:    kind,
		Message: message,
		Context: make(map[string]any),
	}
}

func NewErrorWithCause(kind ErrorKind, message string, cause error) *Error {
	return &Error{
		Kind:    kind,
		Message: message,
		Context: make(map[string]any),
		Cause:   cause,
	}
}

func (e *Error) Error() string {
	parts := []string{fmt.Sprintf("[%s] %s", e.Kind, e.Message)}

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

func (e *Error) Unwrap() error {
	return e.Cause
}

func (e *Error) WithContext(key string, value any) *Error {
	e.Context[key] = value
	return e
}

// KindOf returns the kind of the first *Error in err's chain, or ErrUnknown.
func KindOf(err error) ErrorKind {
	var perr *Error
	if errors.As(err, &perr) {
		return perr.Kind
	}
	return ErrUnknown
}

func IsRetryable(err error) bool {
	return KindOf(err).Retryable()
}
