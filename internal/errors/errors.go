// Package errors provides custom error types for domain-specific errors.
package errors

import (
	"errors"
	"fmt"
)

// Standard sentinel errors
var (
	ErrConnectionFailed = errors.New("connection failed")
	ErrTimeout          = errors.New("operation timed out")
	ErrConfigInvalid    = errors.New("invalid configuration")
	ErrDataNotFound     = errors.New("data not found")
	ErrDatabaseError    = errors.New("database error")
	ErrReadOnlyMode     = errors.New("operation blocked: read-only mode enabled")
	ErrInputValidation  = errors.New("input validation failed")
	ErrNoExpirations    = errors.New("no future expirations available")
	ErrLegIndex         = errors.New("leg index out of range")
)

// SupplierError represents an error from a chain-data supplier.
type SupplierError struct {
	Supplier  string
	Operation string
	Err       error
}

func (e *SupplierError) Error() string {
	return fmt.Sprintf("supplier error [%s] %s: %v", e.Supplier, e.Operation, e.Err)
}

func (e *SupplierError) Unwrap() error {
	return e.Err
}

// NewSupplierError creates a new SupplierError.
func NewSupplierError(supplier, operation string, err error) *SupplierError {
	return &SupplierError{
		Supplier:  supplier,
		Operation: operation,
		Err:       err,
	}
}

// ValidationError represents a validation error.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s (%v): %s", e.Field, e.Value, e.Message)
}

// Unwrap lets callers match any validation failure with errors.Is(err, ErrInputValidation).
func (e *ValidationError) Unwrap() error {
	return ErrInputValidation
}

// NewValidationError creates a new ValidationError.
func NewValidationError(field string, value interface{}, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Value:   value,
		Message: message,
	}
}

// DataError represents a data-related error.
type DataError struct {
	DataType   string
	Underlying string
	Message    string
	Err        error
}

func (e *DataError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("data error [%s] %s: %s: %v", e.DataType, e.Underlying, e.Message, e.Err)
	}
	return fmt.Sprintf("data error [%s] %s: %s", e.DataType, e.Underlying, e.Message)
}

func (e *DataError) Unwrap() error {
	return e.Err
}

// NewDataError creates a new DataError.
func NewDataError(dataType, underlying, message string, err error) *DataError {
	return &DataError{
		DataType:   dataType,
		Underlying: underlying,
		Message:    message,
		Err:        err,
	}
}

// Wrap wraps an error with additional context.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with formatted context.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
