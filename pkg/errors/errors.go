package errors

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrFileNotFound             = errors.New("file not found")
	ErrStorageUnavailable       = errors.New("blob storage unavailable")
	ErrStageConflict            = errors.New("stage transition conflict")
	ErrInvalidInput             = errors.New("invalid input")
	ErrExtractedTextUnavailable = errors.New("extracted text not available")
	ErrSearchUnavailable        = errors.New("search backend unavailable")
	ErrInternal                 = errors.New("internal error")
	ErrTimeout                  = errors.New("operation timed out")
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

func HTTPStatusCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}

	switch {
	case errors.Is(err, ErrFileNotFound), errors.Is(err, ErrExtractedTextUnavailable):
		return http.StatusNotFound
	case errors.Is(err, ErrStageConflict):
		return http.StatusConflict
	case errors.Is(err, ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, ErrStorageUnavailable), errors.Is(err, ErrSearchUnavailable), errors.Is(err, ErrTimeout):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
