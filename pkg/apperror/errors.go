package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

// AppError is a structured error that maps to HTTP responses.
type AppError struct {
	Code       string `json:"error_code"`
	Message    string `json:"message"`
	HTTPStatus int    `json:"-"`
	Err        error  `json:"-"` // Wrapped internal error (not exposed to client)
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError.
func New(code string, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
	}
}

// Wrap wraps an internal error with an AppError.
func Wrap(code string, message string, httpStatus int, err error) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Err:        err,
	}
}

// HasCode reports whether err is (or wraps) an AppError with the given code.
func HasCode(err error, code string) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Code == code
}

// ---- Amount validation (AMT) ----

func ErrInvalidAmount(message string) *AppError {
	return New("AMT_001", message, http.StatusBadRequest)
}

func ErrAmountBelowDust(asset string) *AppError {
	return New("AMT_002", fmt.Sprintf("Amount converts below the %s dust threshold", asset), http.StatusBadRequest)
}

// ---- Transport (NET) ----

func ErrTransport(err error) *AppError {
	return Wrap("NET_001", "Payment processor request failed", http.StatusBadGateway, err)
}

func ErrRateLimited(err error) *AppError {
	return Wrap("NET_002", "Payment processor rate limit exceeded", http.StatusTooManyRequests, err)
}

func ErrMalformedResponse(err error) *AppError {
	return Wrap("NET_003", "Unexpected payment processor response", http.StatusBadGateway, err)
}

// IsRateLimited reports whether err is a rate-limit transport error.
func IsRateLimited(err error) bool {
	return HasCode(err, "NET_002")
}

// IsTransport reports whether err is any retryable transport-class error
// (connection failure, non-2xx, rate limit, or malformed payload).
func IsTransport(err error) bool {
	return HasCode(err, "NET_001") || HasCode(err, "NET_002") || HasCode(err, "NET_003")
}

// ---- Payment lifecycle (PAY) ----

func ErrExpired() *AppError {
	return New("PAY_001", "Payment request expired", http.StatusGone)
}

func ErrCancelled() *AppError {
	return New("PAY_002", "Payment monitoring cancelled", http.StatusConflict)
}

func ErrProviderUnavailable(err error) *AppError {
	return Wrap("PAY_003", "Invoice provider unavailable", http.StatusServiceUnavailable, err)
}

func ErrSessionActive() *AppError {
	return New("PAY_004", "A monitoring session is already active", http.StatusConflict)
}

func ErrNotFound(entity string) *AppError {
	return New("PAY_005", fmt.Sprintf("%s not found", entity), http.StatusNotFound)
}

func ErrCannotRetry() *AppError {
	return New("PAY_006", "Payment session is not retryable", http.StatusConflict)
}

// ---- System & Infrastructure (SYS) ----

// InternalError wraps an internal error as a SYS_001 error.
func InternalError(err error) *AppError {
	return Wrap("SYS_001", "Internal server error", http.StatusInternalServerError, err)
}

// Validation returns an AMT_001-style validation error.
func Validation(message string) *AppError {
	return New("AMT_001", message, http.StatusBadRequest)
}
