package apperror

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound   = errors.New("not found")
	ErrValidation = errors.New("Validation Error")
	ErrConflict   = errors.New("conflict")

	// ErrTokenExchange marks a failed code-for-token exchange: provider
	// unreachable, rejected credentials, or a response without access_token.
	ErrTokenExchange = errors.New("token exchange failed")

	// ErrProfileFetch marks a failed userinfo call or an unusable profile.
	ErrProfileFetch = errors.New("profile fetch failed")
)

type AppError struct {
	Err     error  // kind sentinel
	Message string // Human-readable error message
	Field   string // Optional: field causing the error
	Cause   error  // Optional: underlying error that triggered this one
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

// Unwrap exposes both the kind and the cause, so errors.Is matches either.
func (e *AppError) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Err}
	}
	return []error{e.Err, e.Cause}
}

func NotFound(resource, id string) *AppError {
	return &AppError{
		Err:     ErrNotFound,
		Message: fmt.Sprintf("%s not found with id %s", resource, id),
	}
}

func ValidationFailed(field, message string) *AppError {
	return &AppError{
		Err:     ErrValidation,
		Message: message,
		Field:   field,
	}
}

func Conflict(resource, id string) *AppError {
	return &AppError{
		Err:     ErrConflict,
		Message: fmt.Sprintf("%s conflict with id %s", resource, id),
	}
}

// TokenExchange wraps cause as an ErrTokenExchange.
func TokenExchange(message string, cause error) *AppError {
	return &AppError{
		Err:     ErrTokenExchange,
		Message: message,
		Cause:   cause,
	}
}

// ProfileFetch wraps cause as an ErrProfileFetch.
func ProfileFetch(message string, cause error) *AppError {
	return &AppError{
		Err:     ErrProfileFetch,
		Message: message,
		Cause:   cause,
	}
}
