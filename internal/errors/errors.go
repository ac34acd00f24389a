package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

type ErrorType string

const (
	// Pipeline taxonomy.
	ErrorTypeContent     ErrorType = "CONTENT"
	ErrorTypeBaseline    ErrorType = "BASELINE"
	ErrorTypeCapacity    ErrorType = "CAPACITY"
	ErrorTypeConsistency ErrorType = "CONSISTENCY"
	ErrorTypeOversize    ErrorType = "OVERSIZE"

	// HTTP surface.
	ErrorTypeNotFound   ErrorType = "NOT_FOUND"
	ErrorTypeValidation ErrorType = "VALIDATION"
	ErrorTypeInternal   ErrorType = "INTERNAL"
)

type Error struct {
	Type    ErrorType `json:"type"`
	Message string    `json:"message"`
	Code    int       `json:"code"`
	Details any       `json:"details,omitempty"`
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.cause
}

// Is matches any *Error of the same Type, so callers can write
// errors.Is(err, errors.Consistency) against the sentinels below.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Type == e.Type && (t.Message == "" || t.Message == e.Message)
}

// Sentinels for errors.Is.
var (
	Content     = &Error{Type: ErrorTypeContent}
	Baseline    = &Error{Type: ErrorTypeBaseline}
	Capacity    = &Error{Type: ErrorTypeCapacity}
	Consistency = &Error{Type: ErrorTypeConsistency}
	Oversize    = &Error{Type: ErrorTypeOversize}
)

func newError(t ErrorType, code int, cause error, format string, args ...any) *Error {
	return &Error{
		Type:    t,
		Message: fmt.Sprintf(format, args...),
		Code:    code,
		cause:   cause,
	}
}

func ContentError(cause error, format string, args ...any) *Error {
	return newError(ErrorTypeContent, http.StatusUnprocessableEntity, cause, format, args...)
}

func BaselineError(cause error, format string, args ...any) *Error {
	return newError(ErrorTypeBaseline, http.StatusConflict, cause, format, args...)
}

func CapacityError(cause error, format string, args ...any) *Error {
	return newError(ErrorTypeCapacity, http.StatusRequestEntityTooLarge, cause, format, args...)
}

func ConsistencyError(details any, format string, args ...any) *Error {
	e := newError(ErrorTypeConsistency, http.StatusInternalServerError, nil, format, args...)
	e.Details = details
	return e
}

func OversizeError(path string, tokens, budget int) *Error {
	e := newError(ErrorTypeOversize, http.StatusRequestEntityTooLarge, nil,
		"file %s needs %d tokens, budget is %d", path, tokens, budget)
	e.Details = map[string]any{"path": path, "tokens": tokens, "budget": budget}
	return e
}

func NotFound(message string) *Error {
	return &Error{
		Type:    ErrorTypeNotFound,
		Message: message,
		Code:    http.StatusNotFound,
	}
}

func ValidationError(message string, details any) *Error {
	return &Error{
		Type:    ErrorTypeValidation,
		Message: message,
		Code:    http.StatusBadRequest,
		Details: details,
	}
}

func Internal(cause error) *Error {
	return newError(ErrorTypeInternal, http.StatusInternalServerError, cause, "internal error")
}

// TypeOf returns the ErrorType of the first *Error in err's chain.
func TypeOf(err error) (ErrorType, bool) {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Type, true
	}
	return "", false
}

// HTTPCode maps err onto a status code, defaulting to 500.
func HTTPCode(err error) int {
	var e *Error
	if stderrors.As(err, &e) && e.Code != 0 {
		return e.Code
	}
	return http.StatusInternalServerError
}
