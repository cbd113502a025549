package pubsubtest

import (
	"context"

	"github.com/NYTimes/mqcli/pubsub"
)

// TestProducer is a simple implementation of pubsub.Producer meant to
// help mock out any implementations.
type TestProducer struct {
	// Destination is the destination the producer was created for.
	Destination pubsub.Destination

	// Sent will contain a list of all messages that have been sent.
	Sent []*pubsub.Message

	// GivenSendError will be returned by the TestProducer on Send.
	// Good for testing error scenarios.
	GivenSendError error

	// GivenCloseError will be returned by the TestProducer on Close.
	GivenCloseError error

	Closed bool
}

var _ pubsub.Producer = &TestProducer{}

// Send will record the message and return GivenSendError.
func (p *TestProducer) Send(_ context.Context, m *pubsub.Message) error {
	if p.GivenSendError != nil {
		return p.GivenSendError
	}
	if err := pubsub.Stamp(m, p.Destination); err != nil {
		return err
	}
	p.Sent = append(p.Sent, m)
	return nil
}

// Close will mark the producer closed and return GivenCloseError.
func (p *TestProducer) Close() error {
	p.Closed = true
	return p.GivenCloseError
}
