package pubsubtest

import (
	"context"

	"github.com/NYTimes/mqcli/pubsub"
)

type (
	// TestProvider is a simple implementation of pubsub.Provider that always
	// hands out Connection.
	TestProvider struct {
		Connection *TestConnection

		// Connected records the properties of every Connect call.
		Connected []pubsub.Properties

		// GivenConnectError will be returned by Connect.
		GivenConnectError error
	}

	// TestConnection is a simple implementation of pubsub.Connection that
	// always hands out Session.
	TestConnection struct {
		Session *TestSession

		// Modes records the mode of every NewSession call.
		Modes []pubsub.SessionMode

		GivenSessionError error
		GivenStartError   error
		GivenCloseError   error

		Started bool
		Closed  bool
	}

	// TestSession is a simple implementation of pubsub.Session that always
	// hands out Producer and Consumer.
	TestSession struct {
		Producer *TestProducer
		Consumer *TestConsumer

		// Destinations records the destination of every producer or
		// consumer created.
		Destinations []pubsub.Destination
		// DurableNames records the names of durable subscriptions created.
		DurableNames []string

		Commits   int
		Rollbacks int

		GivenProducerError error
		GivenConsumerError error
		GivenCommitError   error
		GivenCloseError    error

		Closed bool
	}
)

var (
	_ pubsub.Provider   = &TestProvider{}
	_ pubsub.Connection = &TestConnection{}
	_ pubsub.Session    = &TestSession{}
)

// NewTestProvider will wire a provider, connection, session, producer and
// consumer together.
func NewTestProvider() *TestProvider {
	return &TestProvider{
		Connection: &TestConnection{
			Session: &TestSession{
				Producer: &TestProducer{},
				Consumer: &TestConsumer{},
			},
		},
	}
}

// Connect will record props and return Connection.
func (p *TestProvider) Connect(_ context.Context, props pubsub.Properties) (pubsub.Connection, error) {
	p.Connected = append(p.Connected, props)
	if p.GivenConnectError != nil {
		return nil, p.GivenConnectError
	}
	return p.Connection, nil
}

// NewSession will record the mode and return Session.
func (c *TestConnection) NewSession(_ context.Context, mode pubsub.SessionMode) (pubsub.Session, error) {
	c.Modes = append(c.Modes, mode)
	if c.GivenSessionError != nil {
		return nil, c.GivenSessionError
	}
	return c.Session, nil
}

// Start will mark the connection started.
func (c *TestConnection) Start(context.Context) error {
	c.Started = true
	return c.GivenStartError
}

// Close will mark the connection closed.
func (c *TestConnection) Close() error {
	c.Closed = true
	return c.GivenCloseError
}

// NewProducer will return Producer bound to dest.
func (s *TestSession) NewProducer(_ context.Context, dest pubsub.Destination) (pubsub.Producer, error) {
	s.Destinations = append(s.Destinations, dest)
	if s.GivenProducerError != nil {
		return nil, s.GivenProducerError
	}
	s.Producer.Destination = dest
	return s.Producer, nil
}

// NewConsumer will return Consumer.
func (s *TestSession) NewConsumer(_ context.Context, dest pubsub.Destination) (pubsub.Consumer, error) {
	s.Destinations = append(s.Destinations, dest)
	if s.GivenConsumerError != nil {
		return nil, s.GivenConsumerError
	}
	return s.Consumer, nil
}

// NewDurableSubscriber will record the name and return Consumer.
func (s *TestSession) NewDurableSubscriber(_ context.Context, topic pubsub.Destination, name string) (pubsub.Consumer, error) {
	s.Destinations = append(s.Destinations, topic)
	s.DurableNames = append(s.DurableNames, name)
	if s.GivenConsumerError != nil {
		return nil, s.GivenConsumerError
	}
	if !topic.IsTopic() {
		return nil, pubsub.ErrNotTopic
	}
	return s.Consumer, nil
}

// Commit will count the commit and return GivenCommitError.
func (s *TestSession) Commit(context.Context) error {
	if s.GivenCommitError != nil {
		return s.GivenCommitError
	}
	s.Commits++
	return nil
}

// Rollback will count the rollback.
func (s *TestSession) Rollback(context.Context) error {
	s.Rollbacks++
	return nil
}

// Close will mark the session closed.
func (s *TestSession) Close() error {
	s.Closed = true
	return s.GivenCloseError
}
