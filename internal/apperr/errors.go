package apperr

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindInvalidContentType Kind = "invalid_content_type"
	KindInvalidImage       Kind = "invalid_image"
	KindPayload            Kind = "payload"
	KindInference          Kind = "inference"
	KindStartup            Kind = "startup"
	KindConfig             Kind = "config"
	KindUnknown            Kind = "unknown"
)

type Error struct {
	Kind    Kind
	Op      string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Kind, e.Op, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Kind, e.Op, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Wrap annotates err with a kind. An err that already carries a kind is
// returned as is so the innermost classification wins.
func Wrap(kind Kind, op, message string, err error) *Error {
	if err == nil {
		return nil
	}

	var typed *Error
	if errors.As(err, &typed) {
		return typed
	}

	return &Error{
		Kind:    kind,
		Op:      op,
		Message: message,
		Cause:   err,
	}
}

func New(kind Kind, op, message string) *Error {
	return &Error{
		Kind:    kind,
		Op:      op,
		Message: message,
	}
}

// IsKind checks whether the first typed error in the chain matches kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// KindOf returns the kind of the first typed error in the chain.
func KindOf(err error) Kind {
	var target *Error
	if errors.As(err, &target) {
		return target.Kind
	}
	return KindUnknown
}
