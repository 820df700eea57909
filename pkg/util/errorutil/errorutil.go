package util

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/jackc/pgx/v5"
)

// DomainError standardizes application errors.
type DomainError struct {
	Code       string
	Message    string
	HTTPStatus int
	Details    map[string]any
	Err        error
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// NewDomainError constructs a DomainError.
func NewDomainError(code, message string, status int, details map[string]any) *DomainError {
	return &DomainError{Code: code, Message: message, HTTPStatus: status, Details: details}
}

func NewValidationError(message string, details map[string]any) error {
	return NewDomainError("VALIDATION_FAILED", message, http.StatusBadRequest, details)
}

func NewNotFound(resource string, details map[string]any) error {
	if details == nil {
		details = map[string]any{}
	}
	return &DomainError{
		Code:       "NOT_FOUND",
		Message:    fmt.Sprintf("%s not found", resource),
		HTTPStatus: http.StatusNotFound,
		Details:    details,
	}
}

func NewUnauthorized(message string) error {
	return NewDomainError("UNAUTHORIZED", message, http.StatusUnauthorized, nil)
}

// NewAuthExpired marks a credential that failed verification because it expired.
// Distinguished from NewAuthInvalid only for client messaging; both deny access.
func NewAuthExpired(message string) error {
	return NewDomainError("AUTH_EXPIRED", message, http.StatusUnauthorized, nil)
}

// NewAuthInvalid marks a credential that is malformed or fails signature checks.
func NewAuthInvalid(message string) error {
	return NewDomainError("AUTH_INVALID", message, http.StatusUnauthorized, nil)
}

// NewRefreshFailed marks a terminal refresh-token failure; callers must treat
// it as a forced sign-out, not retry.
func NewRefreshFailed(message string) error {
	return NewDomainError("REFRESH_FAILED", message, http.StatusUnauthorized, nil)
}

// NewDuplicateInFlight rejects a second concurrent command on the same subject.
func NewDuplicateInFlight(message string) error {
	return NewDomainError("DUPLICATE_IN_FLIGHT", message, http.StatusConflict, nil)
}

// NewTimeout marks a saga that did not settle within its deadline.
func NewTimeout(message string) error {
	return NewDomainError("TIMEOUT", message, http.StatusRequestTimeout, nil)
}

// NewBrokerUnavailable collapses infrastructure failures on the message path
// so internal topology is not exposed to callers.
func NewBrokerUnavailable(err error) error {
	return &DomainError{
		Code:       "BROKER_UNAVAILABLE",
		Message:    "service temporarily unavailable",
		HTTPStatus: http.StatusBadGateway,
		Err:        err,
	}
}

func NewForbidden(message string) error {
	return NewDomainError("FORBIDDEN", message, http.StatusForbidden, nil)
}

func NewConflict(message string, details map[string]any) error {
	return NewDomainError("CONFLICT", message, http.StatusConflict, details)
}

func NewInternalError(err error) error {
	return &DomainError{
		Code:       "INTERNAL_ERROR",
		Message:    "internal server error",
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// ToDomainError converts generic errors to DomainError.
func ToDomainError(err error) *DomainError {
	if err == nil {
		return nil
	}
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr
	}
	if errors.Is(err, pgx.ErrNoRows) {
		if de, ok := NewNotFound("resource", nil).(*DomainError); ok {
			return de
		}
	}
	if de, ok := NewInternalError(err).(*DomainError); ok {
		return de
	}
	return &DomainError{
		Code:       "INTERNAL_ERROR",
		Message:    "internal server error",
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

func MapError(err error) error {
	return ToDomainError(err)
}

// HasCode reports whether err carries the given domain error code.
func HasCode(err error, code string) bool {
	var domainErr *DomainError
	if !errors.As(err, &domainErr) {
		return false
	}
	return domainErr.Code == code
}
