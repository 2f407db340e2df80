package driver

import (
	"errors"
	"fmt"
)

// Failure classes for device transport errors. Classify with errors.Is.
var (
	ErrAuth        = errors.New("authentication failed")
	ErrUnreachable = errors.New("device unreachable")
	ErrCommand     = errors.New("command rejected")
	ErrTimeout     = errors.New("operation timed out")
	ErrSession     = errors.New("session failed")
)

// Error is a classified transport failure.
type Error struct {
	Kind    error
	Device  string
	Command string
	Cause   error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %v", e.Device, e.Kind)
	if e.Command != "" {
		msg = fmt.Sprintf("%s: %q %v", e.Device, e.Command, e.Kind)
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap exposes the failure class to errors.Is.
func (e *Error) Unwrap() error {
	return e.Kind
}

// NextCredential reports whether trying another credential can succeed
// after err. Protocol negotiation failures cannot: they fail identically
// for every credential.
func NextCredential(err error) bool {
	return errors.Is(err, ErrAuth) || errors.Is(err, ErrUnreachable) ||
		errors.Is(err, ErrTimeout) || errors.Is(err, ErrCommand)
}

// Retriable reports whether a later attempt against the same device can
// succeed. Only transient transport failures qualify; auth and command
// rejections are permanent.
func Retriable(err error) bool {
	return errors.Is(err, ErrUnreachable) || errors.Is(err, ErrTimeout)
}

// ClassOf names err's failure class for result details and logs.
func ClassOf(err error) string {
	switch {
	case errors.Is(err, ErrAuth):
		return "auth"
	case errors.Is(err, ErrUnreachable):
		return "unreachable"
	case errors.Is(err, ErrCommand):
		return "command"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrSession):
		return "session"
	default:
		return "error"
	}
}
