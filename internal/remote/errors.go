package remote

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrCode is the typed error code enum shared with the exam API.
type ErrCode string

const (
	ErrTokenRequired      ErrCode = "TOKEN_REQUIRED"
	ErrTokenInvalid       ErrCode = "TOKEN_INVALID"
	ErrTokenExpired       ErrCode = "TOKEN_EXPIRED"
	ErrSessionInvalidated ErrCode = "SESSION_INVALIDATED"
	ErrNotFound           ErrCode = "NOT_FOUND"
	ErrExamNotPublished   ErrCode = "EXAM_NOT_PUBLISHED"
	ErrValidation         ErrCode = "VALIDATION_ERROR"
	ErrInternal           ErrCode = "INTERNAL_ERROR"
)

// Machine-readable reasons carried by 403 responses when the session
// credential is dead.
const (
	ReasonSessionNotFound = "session_not_found"
	ReasonSessionExpired  = "session_expired"
	ReasonInvalidToken    = "invalid_token"
	ReasonWrongAttempt    = "wrong_attempt"
)

// APIError is a classifiable failure from the exam API. Anything that is
// not an APIError (timeouts, connection resets, 5xx without an envelope)
// counts as transient and is silently retried by the autosave pipeline.
type APIError struct {
	Status  int
	Code    ErrCode
	Reason  string
	Message string
}

func (e *APIError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("api error %d %s (%s)", e.Status, e.Code, e.Reason)
	}
	return fmt.Sprintf("api error %d %s", e.Status, e.Code)
}

// IsSessionInvalid reports whether the error means the session credential
// or the attempt itself is dead: 401, 404, or a 403 carrying one of the
// session-death reasons. Not retried; triggers the abort flow.
func IsSessionInvalid(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	switch apiErr.Status {
	case http.StatusUnauthorized, http.StatusNotFound:
		return true
	case http.StatusForbidden:
		switch apiErr.Reason {
		case ReasonSessionNotFound, ReasonSessionExpired, ReasonInvalidToken, ReasonWrongAttempt:
			return true
		}
		return apiErr.Code == ErrTokenExpired || apiErr.Code == ErrTokenInvalid ||
			apiErr.Code == ErrSessionInvalidated
	}
	return false
}

// IsDraft reports whether the error means the exam content behind the
// attempt was withdrawn mid-session. Not retried; triggers the abort flow
// with a distinct message but the same mechanics.
func IsDraft(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.Status == http.StatusConflict && apiErr.Code == ErrExamNotPublished
}

// IsTransient reports whether the error carries no abort-worthy
// classification and should be silently retried on the next cycle.
func IsTransient(err error) bool {
	return err != nil && !IsSessionInvalid(err) && !IsDraft(err)
}
