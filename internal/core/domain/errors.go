package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInvalidInput      = errors.New("invalid input")
	ErrValidation        = errors.New("file validation failed")
	ErrPackageIntegrity  = errors.New("package integrity check failed")
	ErrTransfer          = errors.New("transfer failed")
	ErrCancelled         = errors.New("upload cancelled")
	ErrNormalization     = errors.New("malformed extraction payload")
	ErrUploadNotFound    = errors.New("upload not found")
	ErrTaskNotFound      = errors.New("task not found")
	ErrTemporary         = errors.New("temporary failure")
	ErrPollTimeout       = errors.New("processing timed out")
	ErrInvalidTransition = errors.New("invalid task status transition")
)

// WrapError preserves typed semantic errors with operation context.
func WrapError(kind error, operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", operation, kind, err)
}

func IsKind(err error, kind error) bool {
	return errors.Is(err, kind)
}

// ValidationError carries every reason a file or package was rejected.
type ValidationError struct {
	Kind   error
	Errors []string
}

func NewValidationError(kind error, reasons []string) *ValidationError {
	out := make([]string, len(reasons))
	copy(out, reasons)
	return &ValidationError{Kind: kind, Errors: out}
}

func (e *ValidationError) Error() string {
	if e == nil {
		return "validation error"
	}
	kind := e.Kind
	if kind == nil {
		kind = ErrValidation
	}
	if len(e.Errors) == 0 {
		return kind.Error()
	}
	return kind.Error() + ": " + strings.Join(e.Errors, ", ")
}

func (e *ValidationError) Unwrap() error {
	if e == nil || e.Kind == nil {
		return ErrValidation
	}
	return e.Kind
}
