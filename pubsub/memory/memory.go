package memory // import "github.com/NYTimes/mqcli/pubsub/memory"

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/NYTimes/mqcli/pubsub"
)

const name = "memory"

// Provider hands out connections to in-process brokers, one per queue
// manager name.
type Provider struct {
	mu      sync.Mutex
	brokers map[string]*Broker
}

var _ pubsub.Provider = &Provider{}

// NewProvider will create a Provider with no brokers.
func NewProvider() *Provider {
	return &Provider{brokers: map[string]*Broker{}}
}

var defaultProvider = NewProvider()

// Default returns the process wide Provider.
func Default() *Provider {
	return defaultProvider
}

// Broker returns the broker for the queue manager, creating it if needed.
func (p *Provider) Broker(queueManager string) *Broker {
	p.mu.Lock()
	defer p.mu.Unlock()
	b, ok := p.brokers[queueManager]
	if !ok {
		b = newBroker(queueManager)
		p.brokers[queueManager] = b
	}
	return b
}

// Connect will open a connection to the broker named by the queue manager.
// Host, port and channel have no meaning in-process and are ignored.
func (p *Provider) Connect(ctx context.Context, props pubsub.Properties) (pubsub.Connection, error) {
	if err := ctx.Err(); err != nil {
		return nil, pubsub.NewError(name, "connect", err)
	}
	if props.QueueManager == "" {
		return nil, pubsub.NewError(name, "connect", errors.New("queue manager name is required"))
	}
	pubsub.Log.Debugf("memory: connecting to broker %s", props.QueueManager)
	return &connection{
		broker:   p.Broker(props.QueueManager),
		clientID: props.ClientID,
		closed:   make(chan struct{}),
	}, nil
}

type connection struct {
	broker   *Broker
	clientID string

	mu       sync.Mutex
	started  bool
	sessions []*session

	closeOnce sync.Once
	closed    chan struct{}
}

func (c *connection) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func (c *connection) NewSession(_ context.Context, mode pubsub.SessionMode) (pubsub.Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.isClosed() {
		return nil, pubsub.NewError(name, "create session", pubsub.ErrClosed)
	}
	s := &session{conn: c, mode: mode, closed: make(chan struct{})}
	c.sessions = append(c.sessions, s)
	return s, nil
}

func (c *connection) Start(context.Context) error {
	if c.isClosed() {
		return pubsub.NewError(name, "start", pubsub.ErrClosed)
	}
	c.mu.Lock()
	c.started = true
	c.mu.Unlock()
	return nil
}

func (c *connection) isStarted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.started
}

func (c *connection) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		sessions := c.sessions
		c.sessions = nil
		c.mu.Unlock()
		for _, s := range sessions {
			s.Close()
		}
		close(c.closed)
	})
	return nil
}

type session struct {
	conn *connection
	mode pubsub.SessionMode
	txn  pubsub.Txn

	mu        sync.Mutex
	consumers []*consumer

	closeOnce sync.Once
	closed    chan struct{}
}

func (s *session) isClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

func (s *session) NewProducer(_ context.Context, dest pubsub.Destination) (pubsub.Producer, error) {
	if s.isClosed() {
		return nil, pubsub.NewError(name, "create producer", pubsub.ErrClosed)
	}
	return &producer{sess: s, dest: dest}, nil
}

func (s *session) NewConsumer(_ context.Context, dest pubsub.Destination) (pubsub.Consumer, error) {
	if s.isClosed() {
		return nil, pubsub.NewError(name, "create consumer", pubsub.ErrClosed)
	}
	c := &consumer{sess: s, dest: dest, done: make(chan struct{})}
	if dest.IsTopic() {
		c.box = s.conn.broker.subscribe(dest.Name, "")
		c.ephemeral = true
	} else {
		c.box = s.conn.broker.queue(dest.Name)
	}
	s.track(c)
	return c, nil
}

func (s *session) NewDurableSubscriber(_ context.Context, topic pubsub.Destination, subName string) (pubsub.Consumer, error) {
	if s.isClosed() {
		return nil, pubsub.NewError(name, "create durable subscriber", pubsub.ErrClosed)
	}
	if !topic.IsTopic() {
		return nil, pubsub.NewError(name, "create durable subscriber", pubsub.ErrNotTopic)
	}
	if subName == "" {
		return nil, pubsub.NewError(name, "create durable subscriber", errors.New("subscription name is required"))
	}
	c := &consumer{
		sess: s,
		dest: topic,
		box:  s.conn.broker.subscribe(topic.Name, durableKey(s.conn.clientID, subName)),
		done: make(chan struct{}),
	}
	s.track(c)
	return c, nil
}

func (s *session) track(c *consumer) {
	s.mu.Lock()
	s.consumers = append(s.consumers, c)
	s.mu.Unlock()
}

func (s *session) Commit(ctx context.Context) error {
	if s.isClosed() {
		return pubsub.NewError(name, "commit", pubsub.ErrClosed)
	}
	if s.mode != pubsub.Transacted {
		return pubsub.NewError(name, "commit", pubsub.ErrNotTransacted)
	}
	return pubsub.NewError(name, "commit", s.txn.Commit(ctx))
}

func (s *session) Rollback(context.Context) error {
	if s.isClosed() {
		return pubsub.NewError(name, "rollback", pubsub.ErrClosed)
	}
	if s.mode != pubsub.Transacted {
		return pubsub.NewError(name, "rollback", pubsub.ErrNotTransacted)
	}
	s.txn.Rollback()
	return nil
}

func (s *session) Close() error {
	s.closeOnce.Do(func() {
		if n := s.txn.Rollback(); n > 0 {
			pubsub.Log.Debugf("memory: discarded %d uncommitted messages", n)
		}
		s.mu.Lock()
		consumers := s.consumers
		s.consumers = nil
		s.mu.Unlock()
		for _, c := range consumers {
			c.Close()
		}
		close(s.closed)
	})
	return nil
}

type producer struct {
	sess   *session
	dest   pubsub.Destination
	closed bool
}

func (p *producer) Send(ctx context.Context, m *pubsub.Message) error {
	if p.closed || p.sess.isClosed() {
		return pubsub.NewError(name, "send", pubsub.ErrClosed)
	}
	if err := pubsub.Stamp(m, p.dest); err != nil {
		return pubsub.NewError(name, "send", err)
	}
	cp := *m
	broker := p.sess.conn.broker
	return pubsub.Dispatch(ctx, p.sess.mode, &p.sess.txn, func(context.Context) error {
		broker.publish(p.dest, &cp)
		return nil
	})
}

func (p *producer) Close() error {
	p.closed = true
	return nil
}

type consumer struct {
	sess      *session
	dest      pubsub.Destination
	box       *mailbox
	ephemeral bool

	closeOnce sync.Once
	done      chan struct{}
}

func (c *consumer) Receive(ctx context.Context, timeout time.Duration) (*pubsub.Message, error) {
	select {
	case <-c.done:
		return nil, pubsub.NewError(name, "receive", pubsub.ErrClosed)
	default:
	}
	if !c.sess.conn.isStarted() {
		return nil, pubsub.NewError(name, "receive", pubsub.ErrNotStarted)
	}
	m, err := c.box.take(ctx, timeout, c.done)
	if err != nil {
		return nil, pubsub.NewError(name, "receive", err)
	}
	return m, nil
}

func (c *consumer) Close() error {
	c.closeOnce.Do(func() {
		if c.ephemeral {
			c.sess.conn.broker.unsubscribe(c.dest.Name, c.box)
		}
		close(c.done)
	})
	return nil
}
