package nats

import (
	"context"
	"strconv"
	"sync"
	"time"

	gonats "github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/pkg/errors"

	"github.com/NYTimes/mqcli/pubsub"
)

// minFetchWait is the shortest pull request the provider issues.
const minFetchWait = time.Second

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

func (s *session) NewProducer(ctx context.Context, dest pubsub.Destination) (pubsub.Producer, error) {
	const op = "create producer"
	if s.isClosed() {
		return nil, pubsub.NewError(name, op, pubsub.ErrClosed)
	}
	if dest.Name == "" {
		return nil, pubsub.NewError(name, op, errors.New("destination name is required"))
	}
	stream, err := s.conn.ensureStream(ctx, dest)
	if err != nil {
		return nil, pubsub.NewError(name, op, err)
	}
	return &producer{sess: s, dest: dest, subject: stream.CachedInfo().Config.Subjects[0]}, nil
}

func (s *session) NewConsumer(ctx context.Context, dest pubsub.Destination) (pubsub.Consumer, error) {
	const op = "create consumer"
	if dest.IsTopic() {
		return s.newConsumer(ctx, op, dest, jetstream.ConsumerConfig{
			AckPolicy:         jetstream.AckExplicitPolicy,
			DeliverPolicy:     jetstream.DeliverNewPolicy,
			InactiveThreshold: time.Minute,
		}, true)
	}
	return s.newConsumer(ctx, op, dest, jetstream.ConsumerConfig{
		Durable:   "QUEUE_" + token(dest.Name),
		AckPolicy: jetstream.AckExplicitPolicy,
	}, false)
}

func (s *session) NewDurableSubscriber(ctx context.Context, topic pubsub.Destination, subName string) (pubsub.Consumer, error) {
	const op = "create durable subscriber"
	if !topic.IsTopic() {
		return nil, pubsub.NewError(name, op, pubsub.ErrNotTopic)
	}
	if subName == "" {
		return nil, pubsub.NewError(name, op, errors.New("subscription name is required"))
	}
	durable := subName
	if s.conn.clientID != "" {
		durable = s.conn.clientID + "_" + subName
	}
	return s.newConsumer(ctx, op, topic, jetstream.ConsumerConfig{
		Durable:       token(durable),
		AckPolicy:     jetstream.AckExplicitPolicy,
		DeliverPolicy: jetstream.DeliverNewPolicy,
	}, false)
}

func (s *session) newConsumer(ctx context.Context, op string, dest pubsub.Destination, ccfg jetstream.ConsumerConfig, ephemeral bool) (pubsub.Consumer, error) {
	if s.isClosed() {
		return nil, pubsub.NewError(name, op, pubsub.ErrClosed)
	}
	if dest.Name == "" {
		return nil, pubsub.NewError(name, op, errors.New("destination name is required"))
	}
	stream, err := s.conn.ensureStream(ctx, dest)
	if err != nil {
		return nil, pubsub.NewError(name, op, err)
	}

	var cons jetstream.Consumer
	if ephemeral {
		cons, err = stream.CreateConsumer(ctx, ccfg)
	} else {
		cons, err = stream.CreateOrUpdateConsumer(ctx, ccfg)
	}
	if err != nil {
		return nil, pubsub.NewError(name, op, err)
	}
	pubsub.Log.Debugf("nats: consuming %s through %s", dest, cons.CachedInfo().Name)

	c := &consumer{sess: s, dest: dest, stream: stream, cons: cons, ephemeral: ephemeral, done: make(chan struct{})}
	s.mu.Lock()
	s.consumers = append(s.consumers, c)
	s.mu.Unlock()
	return c, nil
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
	var err error
	s.closeOnce.Do(func() {
		if n := s.txn.Rollback(); n > 0 {
			pubsub.Log.Debugf("nats: discarded %d uncommitted messages", n)
		}
		s.mu.Lock()
		consumers := s.consumers
		s.consumers = nil
		s.mu.Unlock()
		for _, c := range consumers {
			if cerr := c.Close(); cerr != nil && err == nil {
				err = cerr
			}
		}
		close(s.closed)
	})
	return err
}

type producer struct {
	sess    *session
	dest    pubsub.Destination
	subject string
	closed  bool
}

// Send will publish the message to the destination's stream and wait for
// the server's acknowledgement. The message ID doubles as the JetStream
// deduplication ID.
func (p *producer) Send(ctx context.Context, m *pubsub.Message) error {
	if p.closed || p.sess.isClosed() {
		return pubsub.NewError(name, "send", pubsub.ErrClosed)
	}
	if err := pubsub.Stamp(m, p.dest); err != nil {
		return pubsub.NewError(name, "send", err)
	}
	msg := gonats.NewMsg(p.subject)
	msg.Data = []byte(m.Text)
	msg.Header.Set(gonats.MsgIdHdr, m.ID)
	msg.Header.Set(pubsub.MessageIDHeader, m.ID)

	js := p.sess.conn.js
	return pubsub.NewError(name, "send", pubsub.Dispatch(ctx, p.sess.mode, &p.sess.txn, func(ctx context.Context) error {
		ack, err := js.PublishMsg(ctx, msg)
		if err != nil {
			return err
		}
		pubsub.Log.Debugf("nats: stored %s in %s at %d", m.ID, ack.Stream, ack.Sequence)
		return nil
	}))
}

func (p *producer) Close() error {
	p.closed = true
	return nil
}

type consumer struct {
	sess      *session
	dest      pubsub.Destination
	stream    jetstream.Stream
	cons      jetstream.Consumer
	ephemeral bool

	closeOnce sync.Once
	closeErr  error
	done      chan struct{}
}

// Receive will pull one message at a time until one arrives or the timeout
// passes. Pull requests last at least minFetchWait, so very short timeouts
// may be overrun by up to that much.
func (c *consumer) Receive(ctx context.Context, timeout time.Duration) (*pubsub.Message, error) {
	select {
	case <-c.done:
		return nil, pubsub.NewError(name, "receive", pubsub.ErrClosed)
	default:
	}
	if !c.sess.conn.isStarted() {
		return nil, pubsub.NewError(name, "receive", pubsub.ErrNotStarted)
	}

	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	for {
		if err := ctx.Err(); err != nil {
			return nil, pubsub.NewError(name, "receive", err)
		}
		wait := 5 * time.Second
		if !deadline.IsZero() {
			remaining := time.Until(deadline)
			if remaining <= 0 {
				return nil, nil
			}
			if remaining < wait {
				wait = remaining
			}
		}
		if wait < minFetchWait {
			wait = minFetchWait
		}

		msg, err := c.fetch(ctx, wait)
		if err != nil {
			return nil, pubsub.NewError(name, "receive", err)
		}
		if msg == nil {
			continue
		}
		if err := msg.Ack(); err != nil {
			return nil, pubsub.NewError(name, "acknowledge", err)
		}
		return c.toMessage(msg), nil
	}
}

// fetch will issue a single message pull request. A nil message means the
// request expired empty.
func (c *consumer) fetch(ctx context.Context, wait time.Duration) (jetstream.Msg, error) {
	batch, err := c.cons.Fetch(1, jetstream.FetchMaxWait(wait))
	if err != nil {
		if errors.Is(err, gonats.ErrTimeout) {
			return nil, nil
		}
		return nil, err
	}
	select {
	case msg, ok := <-batch.Messages():
		if !ok {
			if err := batch.Error(); err != nil && !errors.Is(err, gonats.ErrTimeout) {
				return nil, err
			}
			return nil, nil
		}
		return msg, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *consumer) toMessage(msg jetstream.Msg) *pubsub.Message {
	m := &pubsub.Message{
		Destination: c.dest,
		Text:        string(msg.Data()),
	}
	if h := msg.Headers(); h != nil {
		m.ID = h.Get(pubsub.MessageIDHeader)
		if m.ID == "" {
			m.ID = h.Get(gonats.MsgIdHdr)
		}
	}
	if meta, err := msg.Metadata(); err == nil {
		m.Timestamp = meta.Timestamp
		if m.ID == "" {
			m.ID = "ID:" + meta.Stream + "-" + strconv.FormatUint(meta.Sequence.Stream, 10)
		}
	}
	return m
}

// Close will delete an ephemeral consumer. Durable consumers keep their
// position on the server.
func (c *consumer) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		if c.ephemeral {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			err := c.stream.DeleteConsumer(ctx, c.cons.CachedInfo().Name)
			if err != nil && !errors.Is(err, jetstream.ErrConsumerNotFound) {
				c.closeErr = pubsub.NewError(name, "close consumer", err)
			}
		}
	})
	return c.closeErr
}
