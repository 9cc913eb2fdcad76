package orders

import (
	"errors"
	"fmt"
)

// Error kinds. Compare with errors.Is.
var (
	ErrNotFound           = errors.New("not found")
	ErrInvalidRequest     = errors.New("invalid request")
	ErrInvalidOrderState  = errors.New("invalid order state")
	ErrServiceUnavailable = errors.New("service unavailable")
)

// Error is a failure of an order operation that the caller can act on.
type Error struct {
	Kind    error
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Is(target error) bool {
	return target == e.Kind
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind error, cause error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: cause}
}

// Message returns the caller-facing text of err without the wrapped cause.
func Message(err error) string {
	var oe *Error
	if errors.As(err, &oe) {
		return oe.Message
	}
	return err.Error()
}
