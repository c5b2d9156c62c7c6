package usecase

import (
	"errors"
	"fmt"
)

type ErrorCode string

const (
	ErrorInvalidInput  ErrorCode = "INVALID_INPUT"
	ErrorRateLimited   ErrorCode = "RATE_LIMITED"
	ErrorBusy          ErrorCode = "BUSY"
	ErrorForbidden     ErrorCode = "FORBIDDEN"
	ErrorUnavailable   ErrorCode = "UNAVAILABLE"
	ErrorLoadFailed    ErrorCode = "LOAD_FAILED"
	ErrorSendFailed    ErrorCode = "SEND_FAILED"
	ErrorUploadInvalid ErrorCode = "UPLOAD_INVALID"
	ErrorUploadFailed  ErrorCode = "UPLOAD_FAILED"
	ErrorHandoffFailed ErrorCode = "HANDOFF_FAILED"
	ErrorUpstream      ErrorCode = "UPSTREAM_ERROR"
	ErrorInternal      ErrorCode = "INTERNAL_ERROR"
)

type Error struct {
	Code   ErrorCode
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return fmt.Sprintf("usecase: %s (%s)", e.Code, e.Reason)
	}
	return fmt.Sprintf("usecase: %s (%s): %v", e.Code, e.Reason, e.Err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func newError(code ErrorCode, reason string, err error) *Error {
	return &Error{Code: code, Reason: reason, Err: err}
}

// IsCode reports whether err carries a usecase error with the given code.
func IsCode(err error, code ErrorCode) bool {
	var ue *Error
	return errors.As(err, &ue) && ue.Code == code
}
