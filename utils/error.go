package utils

import (
	"errors"
	"fmt"
)

var ErrorRecordNotFound = errors.New("record not found")

// ErrorKind classifies user-visible failures so callers can decide whether a
// retry (possibly with an override) makes sense.
type ErrorKind string

const (
	ErrorKindValidation    ErrorKind = "VALIDATION"
	ErrorKindLockDate      ErrorKind = "LOCK_DATE_VIOLATION"
	ErrorKindMultiCurrency ErrorKind = "MULTICURRENCY_NOT_SUPPORTED"
	ErrorKindConflict      ErrorKind = "CONFLICT"
	ErrorKindNegativeStock ErrorKind = "NEGATIVE_STOCK"
	ErrorKindInternal      ErrorKind = "INTERNAL"
)

// AppError carries the taxonomy kind plus structured detail (e.g. the list of
// offending items for NEGATIVE_STOCK). Any AppError returned from inside a
// posting/void/match transaction rolls the whole transaction back.
type AppError struct {
	Kind    ErrorKind      `json:"kind"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func NewAppError(kind ErrorKind, message string) *AppError {
	return &AppError{Kind: kind, Message: message}
}

func (e *AppError) WithDetail(key string, value any) *AppError {
	if e.Details == nil {
		e.Details = map[string]any{}
	}
	e.Details[key] = value
	return e
}

func Validationf(format string, args ...any) *AppError {
	return NewAppError(ErrorKindValidation, fmt.Sprintf(format, args...))
}

func Conflictf(format string, args ...any) *AppError {
	return NewAppError(ErrorKindConflict, fmt.Sprintf(format, args...))
}

func LockDatef(format string, args ...any) *AppError {
	return NewAppError(ErrorKindLockDate, fmt.Sprintf(format, args...))
}

func MultiCurrencyf(format string, args ...any) *AppError {
	return NewAppError(ErrorKindMultiCurrency, fmt.Sprintf(format, args...))
}

func NegativeStockf(format string, args ...any) *AppError {
	return NewAppError(ErrorKindNegativeStock, fmt.Sprintf(format, args...))
}

func Internalf(format string, args ...any) *AppError {
	return NewAppError(ErrorKindInternal, fmt.Sprintf(format, args...))
}

// AsAppError unwraps err into an AppError, defaulting to INTERNAL so that
// unexpected DB/transaction failures never leak as a retryable kind.
func AsAppError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	if errors.Is(err, ErrorRecordNotFound) {
		return NewAppError(ErrorKindValidation, err.Error())
	}
	return NewAppError(ErrorKindInternal, err.Error())
}

// KindOf returns the taxonomy kind of err.
func KindOf(err error) ErrorKind {
	return AsAppError(err).Kind
}
