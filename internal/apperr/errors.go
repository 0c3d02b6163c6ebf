// Package apperr provides the coded error taxonomy shared by the orchestrator,
// the synthesis stack and the HTTP layer.
package apperr

import (
	"errors"
	"fmt"
	"strings"
)

// Code categorizes an error for programmatic handling.
type Code string

const (
	CodeInternal            Code = "INTERNAL_ERROR"
	CodeValidation          Code = "VALIDATION_ERROR"
	CodeNotFound            Code = "NOT_FOUND"
	CodeConflict            Code = "CONFLICT"
	CodeProviderUnavailable Code = "PROVIDER_UNAVAILABLE"
	CodeCacheWriteFailure   Code = "CACHE_WRITE_FAILED"
	CodePacingFailure       Code = "PACING_FAILED"
	CodeStageFailure        Code = "STAGE_FAILED"
	CodeQuotaExceeded       Code = "QUOTA_EXCEEDED"
	CodeCancelled           Code = "CANCELLED"
)

// Error is a coded error with the failing operation attached.
type Error struct {
	Code    Code
	Op      string
	Message string
	Err     error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString("[")
	b.WriteString(string(e.Code))
	b.WriteString("] ")
	b.WriteString(e.Message)
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error carrying the same code.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Code == t.Code
	}
	return false
}

// HTTPStatus maps the error code onto a response status.
func (e *Error) HTTPStatus() int {
	switch e.Code {
	case CodeValidation:
		return 400
	case CodeNotFound:
		return 404
	case CodeConflict:
		return 409
	case CodeQuotaExceeded:
		return 429
	case CodeProviderUnavailable:
		return 503
	default:
		return 500
	}
}

// Sentinels usable with errors.Is.
var (
	ErrNotFound            = &Error{Code: CodeNotFound}
	ErrProviderUnavailable = &Error{Code: CodeProviderUnavailable}
	ErrCacheWriteFailure   = &Error{Code: CodeCacheWriteFailure}
	ErrPacingFailure       = &Error{Code: CodePacingFailure}
	ErrStageFailure        = &Error{Code: CodeStageFailure}
	ErrValidation          = &Error{Code: CodeValidation}
	ErrConflict            = &Error{Code: CodeConflict}
)

// New creates an error with the given code.
func New(code Code, op, message string) *Error {
	return &Error{Code: code, Op: op, Message: message}
}

// Newf creates an error with a formatted message.
func Newf(code Code, op, format string, args ...any) *Error {
	return &Error{Code: code, Op: op, Message: fmt.Sprintf(format, args...)}
}

// Wrap wraps err, keeping its code when it is already coded.
func Wrap(err error, op, message string) *Error {
	if err == nil {
		return nil
	}
	return &Error{Code: GetCode(err), Op: op, Message: message, Err: err}
}

// WrapWithCode wraps err with an explicit code.
func WrapWithCode(err error, code Code, op, message string) *Error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Op: op, Message: message, Err: err}
}

// ProviderUnavailable reports a synthesis provider that stayed unreachable.
func ProviderUnavailable(provider string, err error) *Error {
	return WrapWithCode(err, CodeProviderUnavailable, "tts."+provider, "provider unavailable after retries")
}

// StageFailure reports an unrecoverable pipeline stage error.
func StageFailure(stage string, err error) *Error {
	return WrapWithCode(err, CodeStageFailure, "stage."+stage, "stage failed")
}

// NotFound reports an unknown resource.
func NotFound(resource, id string) *Error {
	return Newf(CodeNotFound, "", "%s not found: %s", resource, id)
}

// GetCode extracts the code from err, defaulting to CodeInternal.
func GetCode(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// GetHTTPStatus extracts the response status for err.
func GetHTTPStatus(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.HTTPStatus()
	}
	return 500
}

// As is re-exported so callers need not import both packages.
func As(err error, target any) bool { return errors.As(err, target) }
