// Package apperr defines the error kinds shared across layers.
//
// Store failures are Repository, remote API failures are ExternalService,
// SQL gateway rejections are Validation. Layers wrap with %w as usual;
// KindOf walks the chain so callers can map a kind without string checks.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for propagation policy and HTTP mapping.
type Kind int

const (
	Unknown Kind = iota
	NotFound
	Validation
	Repository
	ExternalService
	Configuration
)

func (k Kind) String() string {
	switch k {
	case NotFound:
		return "not_found"
	case Validation:
		return "validation"
	case Repository:
		return "repository"
	case ExternalService:
		return "external_service"
	case Configuration:
		return "configuration"
	default:
		return "unknown"
	}
}

// Error is a kinded error with an optional wrapped cause.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// New creates a kinded error with a formatted message.
func New(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind and message to an existing error. A nil err
// returns nil so call sites can wrap unconditionally.
func Wrap(kind Kind, err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: err}
}

// KindOf returns the kind of the first *Error in the chain, or Unknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Unknown
}

// Is reports whether the error chain contains the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
