package models

import (
	"errors"
	"fmt"
)

// ErrorType represents different categories of errors
type ErrorType int

const (
	ErrUnknown ErrorType = iota
	ErrNativeEngine
	ErrDisposedBuilder
	ErrKeyParse
	ErrSignerUnavailable
	ErrInvalidConfig
	ErrFileOp
)

// String returns the string representation of ErrorType
func (e ErrorType) String() string {
	switch e {
	case ErrNativeEngine:
		return "NativeEngine"
	case ErrDisposedBuilder:
		return "DisposedBuilder"
	case ErrKeyParse:
		return "KeyParse"
	case ErrSignerUnavailable:
		return "SignerUnavailable"
	case ErrInvalidConfig:
		return "InvalidConfig"
	case ErrFileOp:
		return "FileOp"
	default:
		return "Unknown"
	}
}

// SignError represents an error raised by the signing layer.
// Op names the engine operation or builder method that failed.
type SignError struct {
	Type ErrorType
	Op   string
	Err  error
}

// Error implements the error interface
func (e *SignError) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("[%s] %s: %v", e.Type, e.Op, e.Err)
	}
	return fmt.Sprintf("[%s] %v", e.Type, e.Err)
}

// Unwrap returns the wrapped error
func (e *SignError) Unwrap() error {
	return e.Err
}

// Kinded is implemented by errors from other packages that carry their own
// ErrorType, such as key parse errors.
type Kinded interface {
	Kind() ErrorType
}

// NewError wraps err with the given type and operation.
func NewError(t ErrorType, op string, err error) *SignError {
	return &SignError{Type: t, Op: op, Err: err}
}

// KindOf returns the outermost ErrorType found in err's chain.
func KindOf(err error) ErrorType {
	for err != nil {
		switch e := err.(type) {
		case *SignError:
			return e.Type
		case Kinded:
			return e.Kind()
		}
		err = errors.Unwrap(err)
	}
	return ErrUnknown
}

// IsType reports whether err is classified as t.
func IsType(err error, t ErrorType) bool {
	return err != nil && KindOf(err) == t
}
