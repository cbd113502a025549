package pubsubtest

import (
	"context"
	"time"

	"github.com/NYTimes/mqcli/pubsub"
)

// TestConsumer is a simple implementation of pubsub.Consumer meant to
// help mock out any implementations. It replays Messages in order, one per
// Receive, and then reports timeouts.
type TestConsumer struct {
	// Messages are returned by Receive in order. A nil entry simulates a
	// timeout at that position.
	Messages []*pubsub.Message

	// Calls counts Receive calls.
	Calls int
	// Timeouts records the timeout passed to each Receive call.
	Timeouts []time.Duration

	// GivenReceiveError will be returned by Receive once Messages are
	// exhausted. Good for testing error scenarios.
	GivenReceiveError error

	// GivenCloseError will be returned by the TestConsumer on Close.
	GivenCloseError error

	Closed bool
}

var _ pubsub.Consumer = &TestConsumer{}

// Receive will return the next scripted message.
func (c *TestConsumer) Receive(ctx context.Context, timeout time.Duration) (*pubsub.Message, error) {
	c.Calls++
	c.Timeouts = append(c.Timeouts, timeout)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if c.Calls <= len(c.Messages) {
		return c.Messages[c.Calls-1], nil
	}
	return nil, c.GivenReceiveError
}

// Close will mark the consumer closed and return GivenCloseError.
func (c *TestConsumer) Close() error {
	c.Closed = true
	return c.GivenCloseError
}
