package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is the stable, transport-independent classification of an error.
type Kind string

const (
	KindNotFound            Kind = "NOT_FOUND"
	KindInvalidAmount       Kind = "INVALID_AMOUNT"
	KindCardUnavailable     Kind = "CARD_UNAVAILABLE"
	KindInsufficientBalance Kind = "INSUFFICIENT_BALANCE"
	KindLimitExceeded       Kind = "LIMIT_EXCEEDED"
	KindInvalidReference    Kind = "INVALID_REFERENCE"
	KindAlreadyRefunded     Kind = "ALREADY_REFUNDED"
	KindBusy                Kind = "BUSY"
	KindStorageFailure      Kind = "STORAGE_FAILURE"
	KindValidation          Kind = "VALIDATION"
	KindConflict            Kind = "CONFLICT"
	KindUnauthorized        Kind = "UNAUTHORIZED"
	KindForbidden           Kind = "FORBIDDEN"
	KindRateLimited         Kind = "RATE_LIMITED"
	KindCanceled            Kind = "CANCELED"
	KindInternal            Kind = "INTERNAL"
)

// AppError is a structured error that maps to HTTP responses.
type AppError struct {
	Kind       Kind   `json:"kind"`
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
func New(kind Kind, code string, message string, httpStatus int) *AppError {
	return &AppError{
		Kind:       kind,
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
	}
}

// Wrap wraps an internal error with an AppError.
func Wrap(kind Kind, code string, message string, httpStatus int, err error) *AppError {
	return &AppError{
		Kind:       kind,
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Err:        err,
	}
}

// KindOf returns the kind of the first AppError in err's chain.
// Errors that carry no AppError are INTERNAL.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindInternal
}

// IsKind reports whether err carries an AppError of the given kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// IsRetryable reports whether an operation failing with err may succeed if repeated.
// Business declines and validation failures never are.
func IsRetryable(err error) bool {
	switch KindOf(err) {
	case KindBusy, KindStorageFailure, KindInternal:
		return true
	default:
		return false
	}
}

// ---- Ledger Business Logic (LED) ----

func ErrInvalidAmount() *AppError {
	return New(KindInvalidAmount, "LED_001", "Amount must be positive with at most two decimal places", http.StatusBadRequest)
}

func ErrInsufficientBalance() *AppError {
	return New(KindInsufficientBalance, "LED_002", "Insufficient card balance", http.StatusPaymentRequired)
}

func ErrLimitExceeded(which string) *AppError {
	return New(KindLimitExceeded, "LED_003", fmt.Sprintf("%s limit exceeded", which), http.StatusUnprocessableEntity)
}

func ErrInvalidReference() *AppError {
	return New(KindInvalidReference, "LED_004", "Referenced transaction is not a completed payment", http.StatusBadRequest)
}

func ErrAlreadyRefunded() *AppError {
	return New(KindAlreadyRefunded, "LED_005", "Transaction has already been refunded or reversed", http.StatusConflict)
}

func ErrNotFound(entity string) *AppError {
	return New(KindNotFound, "LED_006", fmt.Sprintf("%s not found", entity), http.StatusNotFound)
}

func ErrDuplicateTransaction() *AppError {
	return New(KindConflict, "LED_007", "Idempotency key reused with different parameters", http.StatusConflict)
}

// ---- Card Registry (CARD) ----

func ErrCardUnavailable(reason string) *AppError {
	return New(KindCardUnavailable, "CARD_001", fmt.Sprintf("Card unavailable: %s", reason), http.StatusForbidden)
}

func ErrCardKeyCollision(err error) *AppError {
	return Wrap(KindStorageFailure, "CARD_002", "Could not allocate unique card identifiers", http.StatusServiceUnavailable, err)
}

// ---- Settlement (STL) ----

func ErrInvalidSettlementTransition(from, to string) *AppError {
	return New(KindConflict, "STL_001", fmt.Sprintf("Settlement cannot move from %s to %s", from, to), http.StatusConflict)
}

func ErrSettlementMismatch() *AppError {
	return New(KindInternal, "STL_002", "Settlement amount does not match its transactions", http.StatusInternalServerError)
}

// ---- Authentication (AUTH) ----

func ErrInvalidCredentials() *AppError {
	return New(KindUnauthorized, "AUTH_001", "Invalid credentials", http.StatusUnauthorized)
}

func ErrUsernameExists() *AppError {
	return New(KindConflict, "AUTH_002", "Username already exists", http.StatusConflict)
}

func ErrInvalidToken() *AppError {
	return New(KindUnauthorized, "AUTH_003", "Invalid or expired token", http.StatusUnauthorized)
}

func ErrForbidden() *AppError {
	return New(KindForbidden, "AUTH_004", "Operation not permitted for this principal", http.StatusForbidden)
}

func ErrOperatorDisabled() *AppError {
	return New(KindForbidden, "AUTH_005", "Operator account is disabled", http.StatusForbidden)
}

// ---- Rate Limiting (RATE) ----

func ErrRateLimitExceeded() *AppError {
	return New(KindRateLimited, "RATE_001", "Rate limit exceeded", http.StatusTooManyRequests)
}

// ---- System & Infrastructure (SYS) ----

func ErrDatabaseError(err error) *AppError {
	return Wrap(KindStorageFailure, "SYS_001", "Internal database error", http.StatusInternalServerError, err)
}

func ErrBusy(err error) *AppError {
	return Wrap(KindBusy, "SYS_002", "Resource is busy, retry later", http.StatusServiceUnavailable, err)
}

func ErrStorageFailure(err error) *AppError {
	return Wrap(KindStorageFailure, "SYS_003", "Storage failure, operation not applied", http.StatusServiceUnavailable, err)
}

func ErrCanceled(err error) *AppError {
	return Wrap(KindCanceled, "SYS_004", "Request canceled", 499, err)
}

// InternalError wraps an internal error as a SYS_000 error.
func InternalError(err error) *AppError {
	return Wrap(KindInternal, "SYS_000", "Internal server error", http.StatusInternalServerError, err)
}

// Validation returns a VAL_001 validation error.
func Validation(message string) *AppError {
	return New(KindValidation, "VAL_001", message, http.StatusBadRequest)
}
