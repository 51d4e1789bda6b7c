package errors

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrSentenceNotFound     = errors.New("sentence not found")
	ErrSessionNotFound      = errors.New("session not found")
	ErrGroupNotFound        = errors.New("group not found")
	ErrDatasetNotLoaded     = errors.New("dataset not loaded")
	ErrConfigurationMissing = errors.New("configuration missing")
	ErrInvalidInput         = errors.New("invalid input")
	ErrUnauthorized         = errors.New("unauthorized")
	ErrInternal             = errors.New("internal error")
	ErrTimeout              = errors.New("operation timed out")
)

type AppError struct {
	Err        error
	Message    string
	StatusCode int
}

func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Err.Error(), e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func New(sentinel error, statusCode int, message string) *AppError {
	return &AppError{
		Err:        sentinel,
		Message:    message,
		StatusCode: statusCode,
	}
}

func Newf(sentinel error, statusCode int, format string, args ...any) *AppError {
	return &AppError{
		Err:        sentinel,
		Message:    fmt.Sprintf(format, args...),
		StatusCode: statusCode,
	}
}

// SentenceNotFound wraps ErrSentenceNotFound with the unresolved id.
func SentenceNotFound(id string) error {
	return Newf(ErrSentenceNotFound, http.StatusNotFound, "no sentence with id %q", id)
}

// ConfigurationMissing wraps ErrConfigurationMissing with the missing key.
func ConfigurationMissing(format string, args ...any) error {
	return Newf(ErrConfigurationMissing, http.StatusInternalServerError, format, args...)
}

func HTTPStatusCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}

	switch {
	case errors.Is(err, ErrSentenceNotFound), errors.Is(err, ErrSessionNotFound), errors.Is(err, ErrGroupNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrDatasetNotLoaded):
		return http.StatusConflict
	case errors.Is(err, ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, ErrTimeout):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
