package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// AppError provides a structured error that can be rendered to API consumers.
type AppError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	StatusCode int    `json:"-"`
	Internal   error  `json:"-"`
}

func (e *AppError) Error() string {
	if e == nil {
		return "<nil>"
	}

	if e.Internal != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Internal)
	}

	return e.Message
}

// Unwrap exposes the internal error for errors.Is / errors.As compatibility.
func (e *AppError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Internal
}

// Is reports whether target is an AppError carrying the same code, so copies produced by
// WithInternal or WithMessage still match their sentinel.
func (e *AppError) Is(target error) bool {
	if e == nil {
		return false
	}
	var other *AppError
	if !errors.As(target, &other) || other == nil {
		return false
	}
	return other.Code == e.Code
}

// WithInternal returns a copy of the AppError with an attached internal error.
func (e *AppError) WithInternal(err error) *AppError {
	if e == nil {
		return nil
	}

	cpy := *e
	cpy.Internal = err
	return &cpy
}

// WithMessage returns a copy of the AppError with a caller-facing message.
func (e *AppError) WithMessage(message string) *AppError {
	if e == nil {
		return nil
	}

	cpy := *e
	cpy.Message = message
	return &cpy
}

// Common errors exposed to the rest of the application.
var (
	ErrUnauthorized = &AppError{
		Code:       "UNAUTHORIZED",
		Message:    "Authentication required",
		StatusCode: http.StatusUnauthorized,
	}

	ErrForbidden = &AppError{
		Code:       "FORBIDDEN",
		Message:    "Permission denied",
		StatusCode: http.StatusForbidden,
	}

	ErrNotFound = &AppError{
		Code:       "NOT_FOUND",
		Message:    "Resource not found",
		StatusCode: http.StatusNotFound,
	}

	ErrBadRequest = &AppError{
		Code:       "BAD_REQUEST",
		Message:    "Invalid request",
		StatusCode: http.StatusBadRequest,
	}

	ErrInternalServer = &AppError{
		Code:       "INTERNAL_SERVER_ERROR",
		Message:    "Internal server error",
		StatusCode: http.StatusInternalServerError,
	}

	// ErrValidation marks a missing or malformed required field. Surfaced to the initiating
	// user and never retried.
	ErrValidation = &AppError{
		Code:       "VALIDATION_ERROR",
		Message:    "Validation failed",
		StatusCode: http.StatusBadRequest,
	}

	// ErrAuthorization marks a role that may not perform the requested transition.
	ErrAuthorization = &AppError{
		Code:       "AUTHORIZATION_ERROR",
		Message:    "Role is not allowed to perform this action",
		StatusCode: http.StatusForbidden,
	}

	ErrInvalidTransition = &AppError{
		Code:       "INVALID_TRANSITION",
		Message:    "Ticket cannot move to the requested status",
		StatusCode: http.StatusConflict,
	}

	// ErrFeedInterrupted is raised when the change feed lost its link to the record store.
	// Consumers recover by re-fetching authoritative state.
	ErrFeedInterrupted = &AppError{
		Code:       "FEED_INTERRUPTED",
		Message:    "Change feed interrupted",
		StatusCode: http.StatusServiceUnavailable,
	}

	ErrUnsupportedPlatform = &AppError{
		Code:       "PUSH_UNSUPPORTED_PLATFORM",
		Message:    "Push notifications are not supported on this platform",
		StatusCode: http.StatusNotImplemented,
	}

	ErrPermissionDenied = &AppError{
		Code:       "PUSH_PERMISSION_DENIED",
		Message:    "Notification permission was denied",
		StatusCode: http.StatusForbidden,
	}

	ErrStoreFailure = &AppError{
		Code:       "STORE_WRITE_FAILED",
		Message:    "Record store write failed",
		StatusCode: http.StatusInternalServerError,
	}
)

// New builds a new application error with the provided metadata.
func New(code, message string, statusCode int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
	}
}

// Wrap turns any error into an AppError while keeping the original error for logging.
func Wrap(err error, message string) *AppError {
	return &AppError{
		Code:       "INTERNAL_ERROR",
		Message:    message,
		StatusCode: http.StatusInternalServerError,
		Internal:   err,
	}
}

// FromError converts a generic error into an AppError, defaulting to ErrInternalServer.
func FromError(err error) *AppError {
	if err == nil {
		return nil
	}

	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}

	return ErrInternalServer.WithInternal(err)
}

// NewBadRequest wraps validation errors with a helpful message.
func NewBadRequest(message string) *AppError {
	return &AppError{
		Code:       ErrBadRequest.Code,
		Message:    message,
		StatusCode: ErrBadRequest.StatusCode,
	}
}

// NewValidation reports a missing or invalid field.
func NewValidation(message string) *AppError {
	return ErrValidation.WithMessage(message)
}

// StoreFailure surfaces a record store write error verbatim to the caller.
func StoreFailure(err error) *AppError {
	if err == nil {
		return nil
	}
	out := ErrStoreFailure.WithInternal(err)
	out.Message = err.Error()
	return out
}
