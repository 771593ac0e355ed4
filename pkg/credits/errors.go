package credits

import (
	"errors"
	"fmt"
)

// Domain-level error values returned by the credits service.
var (
	ErrInsufficientBalance      = errors.New("insufficient balance")
	ErrDuplicateReference       = errors.New("duplicate external reference")
	ErrUserNotFound             = errors.New("user not found")
	ErrMalformedEvent           = errors.New("malformed settlement event")
	ErrInvalidUserID            = errors.New("invalid user id")
	ErrInvalidExternalReference = errors.New("invalid external reference")
	ErrInvalidAmount            = errors.New("invalid credit amount")
	ErrInvalidTransactionType   = errors.New("invalid transaction type")
	ErrInvalidTransactionStatus = errors.New("invalid transaction status")
	ErrInvalidMetadataJSON      = errors.New("invalid metadata json")
	ErrInvalidActivityKind      = errors.New("invalid activity kind")
	ErrInvalidServiceConfig     = errors.New("invalid service config")
)

// OperationError wraps a failure with a stable operation code.
type OperationError struct {
	operation string
	subject   string
	code      string
	err       error
}

// Error returns the formatted error message.
func (operationError OperationError) Error() string {
	return fmt.Sprintf("%s.%s.%s: %v", operationError.operation, operationError.subject, operationError.code, operationError.err)
}

// Unwrap returns the underlying error.
func (operationError OperationError) Unwrap() error {
	return operationError.err
}

// Operation returns the operation segment.
func (operationError OperationError) Operation() string {
	return operationError.operation
}

// Subject returns the subject segment.
func (operationError OperationError) Subject() string {
	return operationError.subject
}

// Code returns the stable error code segment.
func (operationError OperationError) Code() string {
	return operationError.code
}

// WrapError wraps an error with operation, subject, and code metadata.
func WrapError(operation string, subject string, code string, err error) error {
	if err == nil {
		return nil
	}
	return OperationError{
		operation: operation,
		subject:   subject,
		code:      code,
		err:       err,
	}
}

// IsPermanent reports whether an error will not be cured by a provider retry.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrMalformedEvent) || errors.Is(err, ErrUserNotFound)
}
