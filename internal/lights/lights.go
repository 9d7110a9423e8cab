package lights

import (
	"context"
	"errors"
	"fmt"
)

// Client delivers commands to a lamp. A nil error means the lamp accepted
// the command; otherwise the error should be a *SendError.
type Client interface {
	Send(ctx context.Context, cmd Command) error
}

type ErrorKind int

const (
	// Transient failures are retried on the next tick and count toward the
	// cooldown threshold.
	Transient ErrorKind = iota
	// Fatal failures abort the tick without counting.
	Fatal
)

func (k ErrorKind) String() string {
	switch k {
	case Transient:
		return "transient"
	case Fatal:
		return "fatal"
	default:
		return fmt.Sprintf("ErrorKind(%d)", int(k))
	}
}

type SendError struct {
	Kind ErrorKind
	Err  error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("%s send failure: %v", e.Kind, e.Err)
}

func (e *SendError) Unwrap() error {
	return e.Err
}

func TransientError(err error) error {
	return &SendError{Kind: Transient, Err: err}
}

func FatalError(err error) error {
	return &SendError{Kind: Fatal, Err: err}
}

// Classify reports the kind of a send error. Errors that carry no
// classification are transient.
func Classify(err error) ErrorKind {
	var se *SendError
	if errors.As(err, &se) {
		return se.Kind
	}
	return Transient
}

func IsTransient(err error) bool {
	return err != nil && Classify(err) == Transient
}

func IsFatal(err error) bool {
	return err != nil && Classify(err) == Fatal
}
