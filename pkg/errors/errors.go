package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode identifies the class of an application error
type ErrorCode int

// Reason narrows a Forbidden or Conflict error down to the rule that produced it
type Reason string

// AppError represents an application error
type AppError struct {
	Code    ErrorCode `json:"code"`
	Reason  Reason    `json:"reason,omitempty"`
	Message string    `json:"message"`
	Err     error     `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Is matches on code and reason so callers can compare against sentinel values.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Code == t.Code && (t.Reason == "" || e.Reason == t.Reason)
}

// StatusCode satisfies the interface the error middleware checks for.
func (e *AppError) StatusCode() int {
	return e.Code.HTTPStatus()
}

// Common error codes
const (
	ErrNotFound ErrorCode = iota + 1000
	ErrBadRequest
	ErrUnauthorized
	ErrForbidden
	ErrInternal
	ErrConflict
	ErrTransient
)

// Denial and conflict reasons
const (
	ReasonNotSelf           Reason = "NotSelf"
	ReasonForeignOrg        Reason = "ForeignOrg"
	ReasonNoRelationship    Reason = "NoRelationship"
	ReasonCrossOrgDenied    Reason = "CrossOrgDenied"
	ReasonMissingPermission Reason = "MissingPermission"
	ReasonAlreadyPaired     Reason = "AlreadyPaired"
	ReasonDuplicateEdge     Reason = "DuplicateEdge"
	ReasonHasMembers        Reason = "HasMembers"
	ReasonInvalidTransition Reason = "InvalidTransition"
	ReasonDuplicateUser     Reason = "DuplicateUser"
	ReasonLastOrganization  Reason = "LastOrganization"
)

func (c ErrorCode) String() string {
	switch c {
	case ErrNotFound:
		return "NotFound"
	case ErrBadRequest:
		return "BadRequest"
	case ErrUnauthorized:
		return "Unauthorized"
	case ErrForbidden:
		return "Forbidden"
	case ErrConflict:
		return "Conflict"
	case ErrTransient:
		return "Transient"
	default:
		return "Internal"
	}
}

// HTTPStatus maps an error code onto the status returned at the handler boundary.
func (c ErrorCode) HTTPStatus() int {
	switch c {
	case ErrNotFound:
		return http.StatusNotFound
	case ErrBadRequest:
		return http.StatusBadRequest
	case ErrUnauthorized:
		return http.StatusUnauthorized
	case ErrForbidden:
		return http.StatusForbidden
	case ErrConflict:
		return http.StatusConflict
	case ErrTransient:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Error constructors
func NewNotFound(resource string, err error) *AppError {
	return &AppError{
		Code:    ErrNotFound,
		Message: fmt.Sprintf("%s not found", resource),
		Err:     err,
	}
}

func NewBadRequest(message string, err error) *AppError {
	return &AppError{
		Code:    ErrBadRequest,
		Message: message,
		Err:     err,
	}
}

func NewInternal(err error) *AppError {
	return &AppError{
		Code:    ErrInternal,
		Message: "internal server error",
		Err:     err,
	}
}

// Common errors
func NotFound(resource string, err error) *AppError {
	return NewNotFound(resource, err)
}

func BadRequest(message string, err error) *AppError {
	return NewBadRequest(message, err)
}

func Internal(err error) *AppError {
	return NewInternal(err)
}

func Unauthorized(err error) *AppError {
	return &AppError{
		Code:    ErrUnauthorized,
		Message: "unauthorized",
		Err:     err,
	}
}

func Forbidden(reason Reason, message string) *AppError {
	if message == "" {
		message = "access denied"
	}
	return &AppError{
		Code:    ErrForbidden,
		Reason:  reason,
		Message: message,
	}
}

func Conflict(reason Reason, message string, err error) *AppError {
	return &AppError{
		Code:    ErrConflict,
		Reason:  reason,
		Message: message,
		Err:     err,
	}
}

// Transient marks a failure of an external dependency the caller may retry.
func Transient(message string, err error) *AppError {
	return &AppError{
		Code:    ErrTransient,
		Message: message,
		Err:     err,
	}
}

// CodeOf returns the code of the first AppError in the chain, ErrInternal otherwise.
func CodeOf(err error) ErrorCode {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrInternal
}

// ReasonOf returns the reason of the first AppError in the chain.
func ReasonOf(err error) Reason {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Reason
	}
	return ""
}

// As is errors.As re-exported so callers need not import both packages.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// Is is errors.Is re-exported so callers need not import both packages.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// New is errors.New re-exported so callers need not import both packages.
func New(text string) error {
	return errors.New(text)
}
