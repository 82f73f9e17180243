// Package apperror defines the error kinds surfaced by the extraction service
// and their HTTP mapping. Every kind carries a stable machine code and a fixed
// wording so the same failure reads the same on every endpoint.
package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindAuth
	KindNotFound
	KindStateConflict
	KindExternalService
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindAuth:
		return "auth"
	case KindNotFound:
		return "not_found"
	case KindStateConflict:
		return "state_conflict"
	case KindExternalService:
		return "external_service"
	default:
		return "internal"
	}
}

// Stable error codes returned to API clients.
const (
	CodeValidation      = "validation_failed"
	CodeInvalidToken    = "invalid_token"
	CodeJobNotFound     = "job_not_found"
	CodeJobNotCompleted = "job_not_completed"
	CodeNotCancellable  = "job_not_cancellable"
	CodeExternalService = "external_service_error"
	CodeInternal        = "internal_error"
)

type Error struct {
	Kind    Kind
	Code    string
	Title   string
	Message string
	Details map[string]string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

func Validation(message string, details map[string]string) *Error {
	return &Error{
		Kind:    KindValidation,
		Code:    CodeValidation,
		Title:   "Validation failed",
		Message: message,
		Details: details,
	}
}

func InvalidToken(message string, cause error) *Error {
	return &Error{
		Kind:    KindAuth,
		Code:    CodeInvalidToken,
		Title:   "Invalid API token",
		Message: message,
		Cause:   cause,
	}
}

func JobNotFound(id string) *Error {
	return &Error{
		Kind:    KindNotFound,
		Code:    CodeJobNotFound,
		Title:   "Job not found",
		Message: fmt.Sprintf("Job with ID %s does not exist", id),
	}
}

func JobNotCompleted(status string) *Error {
	return &Error{
		Kind:    KindStateConflict,
		Code:    CodeJobNotCompleted,
		Title:   "Job not completed",
		Message: fmt.Sprintf("Job is currently %s. Results are only available for completed jobs.", status),
	}
}

func NotCancellable(status string) *Error {
	return &Error{
		Kind:    KindStateConflict,
		Code:    CodeNotCancellable,
		Title:   "Cannot cancel job",
		Message: fmt.Sprintf("Job with status %q cannot be cancelled. Only pending or in-progress jobs can be cancelled.", status),
	}
}

func ExternalService(message string, cause error) *Error {
	return &Error{
		Kind:    KindExternalService,
		Code:    CodeExternalService,
		Title:   "External service error",
		Message: message,
		Cause:   cause,
	}
}

func Internal(cause error) *Error {
	return &Error{
		Kind:    KindInternal,
		Code:    CodeInternal,
		Title:   "Internal server error",
		Message: "An unexpected error occurred while processing the request.",
		Cause:   cause,
	}
}

// As unwraps err into an *Error; anything unrecognised becomes Internal.
func As(err error) *Error {
	if err == nil {
		return nil
	}
	var ae *Error
	if errors.As(err, &ae) {
		return ae
	}
	return Internal(err)
}

func IsKind(err error, k Kind) bool {
	var ae *Error
	return errors.As(err, &ae) && ae.Kind == k
}

// HTTPStatus returns the status code for err.
func HTTPStatus(err error) int {
	if err == nil {
		return http.StatusOK
	}
	switch As(err).Kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindAuth:
		return http.StatusUnauthorized
	case KindNotFound:
		return http.StatusNotFound
	case KindStateConflict:
		return http.StatusConflict
	case KindExternalService:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
