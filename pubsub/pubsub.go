package pubsub

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// Log is the structured logger used throughout the package.
var Log = logrus.New()

// TransportMode selects how a connection reaches its broker.
type TransportMode int

const (
	// TransportClient connects over the network to an explicit host and port.
	TransportClient TransportMode = iota
	// TransportBindings connects through the provider's local or default
	// endpoint and ignores host and port.
	TransportBindings
)

func (m TransportMode) String() string {
	switch m {
	case TransportClient:
		return "client"
	case TransportBindings:
		return "bindings"
	}
	return fmt.Sprintf("TransportMode(%d)", int(m))
}

// SessionMode selects how a session completes the work done through it.
type SessionMode int

const (
	// AutoAcknowledge sessions send immediately and acknowledge every message
	// as it is returned from Receive.
	AutoAcknowledge SessionMode = iota
	// Transacted sessions hold sent messages until Commit.
	Transacted
)

func (m SessionMode) String() string {
	switch m {
	case AutoAcknowledge:
		return "auto-acknowledge"
	case Transacted:
		return "transacted"
	}
	return fmt.Sprintf("SessionMode(%d)", int(m))
}

// Provider is a generic interface to encapsulate how a broker client is
// configured. A Provider plays the role of a connection factory: the
// Properties passed to Connect describe the broker to reach.
type Provider interface {
	// Connect will open a new connection to the broker.
	Connect(context.Context, Properties) (Connection, error)
}

// Connection is a live connection to a broker.
type Connection interface {
	// NewSession will open a session on the connection.
	NewSession(context.Context, SessionMode) (Session, error)
	// Start will begin delivery of messages to consumers.
	Start(context.Context) error
	// Close will release the connection and every session opened on it.
	Close() error
}

// Session is a single-threaded context for producing and consuming
// messages.
type Session interface {
	// NewProducer will create a producer that sends to the destination.
	NewProducer(context.Context, Destination) (Producer, error)
	// NewConsumer will create a consumer that receives from the destination.
	NewConsumer(context.Context, Destination) (Consumer, error)
	// NewDurableSubscriber will create a named subscription to a topic that
	// keeps messages while no consumer is attached.
	NewDurableSubscriber(ctx context.Context, topic Destination, name string) (Consumer, error)
	// Commit will make every message sent since the last commit visible.
	// It is an error on an AutoAcknowledge session.
	Commit(context.Context) error
	// Rollback will discard every message sent since the last commit.
	Rollback(context.Context) error
	// Close will release the session, discarding uncommitted work.
	Close() error
}

// Producer sends messages to a single destination.
type Producer interface {
	// Send will emit the message. Inside a Transacted session the message
	// is not visible until the session commits.
	Send(context.Context, *Message) error
	// Close will release the producer.
	Close() error
}

// Consumer receives messages from a single destination.
type Consumer interface {
	// Receive will block for at most timeout waiting for a message. It
	// returns a nil message and a nil error when the timeout elapses. A
	// timeout of zero waits until a message arrives or the context is done.
	Receive(ctx context.Context, timeout time.Duration) (*Message, error)
	// Close will release the consumer.
	Close() error
}
