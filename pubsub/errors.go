package pubsub

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrClosed is returned by operations on a closed connection, session,
	// producer or consumer.
	ErrClosed = errors.New("pubsub: resource is closed")
	// ErrNotStarted is returned by Receive when the connection has not been
	// started yet.
	ErrNotStarted = errors.New("pubsub: connection not started")
	// ErrNotTransacted is returned by Commit and Rollback on an
	// AutoAcknowledge session.
	ErrNotTransacted = errors.New("pubsub: session is not transacted")
	// ErrNotTopic is returned when a durable subscription is requested for a
	// queue.
	ErrNotTopic = errors.New("pubsub: durable subscriptions require a topic")
)

// Error is a broker client failure. It records which provider and which
// operation failed and keeps the underlying error so its chain of causes
// can be inspected as data.
type Error struct {
	Provider string
	Op       string
	Err      error
}

// NewError will wrap err as an *Error. A nil err returns nil.
func NewError(provider, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Provider: provider, Op: op, Err: err}
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s: %s", e.Provider, e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Causes will return the chain of errors beneath e, outermost first.
func (e *Error) Causes() []error {
	return Causes(e.Err)
}

type causer interface {
	Cause() error
}

// Causes will walk err and everything it wraps, outermost first. Both
// Unwrap and pkg/errors style Cause chains are followed.
func Causes(err error) []error {
	var chain []error
	for err != nil {
		chain = append(chain, err)
		next := errors.Unwrap(err)
		if next == nil {
			if c, ok := err.(causer); ok {
				next = c.Cause()
			}
		}
		if next == err {
			break
		}
		err = next
	}
	return chain
}
