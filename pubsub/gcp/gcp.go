package gcp // import "github.com/NYTimes/mqcli/pubsub/gcp"

import (
	"context"
	"strings"
	"sync"
	"time"

	gpubsub "cloud.google.com/go/pubsub"
	uuid "github.com/nu7hatch/gouuid"
	"github.com/pkg/errors"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"github.com/NYTimes/mqcli/pubsub"
)

const name = "gcp"

// Provider is a pubsub.Provider for Google Cloud PubSub. GCP has topics
// only, so a queue Q is a topic and a single shared subscription, both with
// the ID queue.Q. A topic T has the ID topic.T and every consumer gets its
// own subscription to it.
type Provider struct {
	cfg Config
}

var _ pubsub.Provider = &Provider{}

// NewProvider will create a GCP provider from cfg.
func NewProvider(cfg Config) *Provider {
	if cfg.AckDeadline == 0 {
		cfg.AckDeadline = 10 * time.Second
	}
	return &Provider{cfg: cfg}
}

// Connect will create a PubSub client for the project named by the queue
// manager. Client transport talks plaintext gRPC to host:port, which is how
// the PubSub emulator is reached.
func (p *Provider) Connect(ctx context.Context, props pubsub.Properties) (pubsub.Connection, error) {
	project := props.QueueManager
	if project == "" {
		project = p.cfg.ProjectID
	}
	if project == "" {
		return nil, pubsub.NewError(name, "connect", errors.New("project ID is required"))
	}
	if props.Authenticate {
		pubsub.Log.Warn("gcp: user and password are ignored, use GCP_JSON_AUTH_PATH or GCP_AUTH_TOKEN")
	}

	var opts []option.ClientOption
	if props.Transport == pubsub.TransportClient {
		opts = append(opts,
			option.WithEndpoint(props.Addr()),
			option.WithoutAuthentication(),
			option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
		)
	} else {
		opt, err := p.cfg.ClientOption(ctx, gpubsub.ScopePubSub)
		if err != nil {
			return nil, pubsub.NewError(name, "connect", err)
		}
		opts = append(opts, opt)
	}

	client, err := gpubsub.NewClient(ctx, project, opts...)
	if err != nil {
		return nil, pubsub.NewError(name, "connect", err)
	}
	pubsub.Log.Debugf("gcp: connected to project %s", project)

	return &connection{
		cfg:    p.cfg,
		client: client,
		closed: make(chan struct{}),
	}, nil
}

type connection struct {
	cfg    Config
	client *gpubsub.Client

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
	var err error
	c.closeOnce.Do(func() {
		c.mu.Lock()
		sessions := c.sessions
		c.sessions = nil
		c.mu.Unlock()
		for _, s := range sessions {
			if serr := s.Close(); serr != nil && err == nil {
				err = serr
			}
		}
		if cerr := c.client.Close(); cerr != nil && err == nil {
			err = pubsub.NewError(name, "close connection", cerr)
		}
		close(c.closed)
	})
	return err
}

// ensureTopic will return the topic, creating it if needed.
func (c *connection) ensureTopic(ctx context.Context, id string) (*gpubsub.Topic, error) {
	topic := c.client.Topic(id)
	exists, err := topic.Exists(ctx)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to look up topic %s", id)
	}
	if exists {
		return topic, nil
	}
	created, err := c.client.CreateTopic(ctx, id)
	if status.Code(err) == codes.AlreadyExists {
		return topic, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "unable to create topic %s", id)
	}
	pubsub.Log.Debugf("gcp: created topic %s", id)
	return created, nil
}

// ensureSubscription will return the subscription, creating it on topic if
// needed.
func (c *connection) ensureSubscription(ctx context.Context, id string, topic *gpubsub.Topic) (*gpubsub.Subscription, error) {
	sub := c.client.Subscription(id)
	exists, err := sub.Exists(ctx)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to look up subscription %s", id)
	}
	if exists {
		return sub, nil
	}
	created, err := c.client.CreateSubscription(ctx, id, gpubsub.SubscriptionConfig{
		Topic:       topic,
		AckDeadline: c.cfg.AckDeadline,
	})
	if status.Code(err) == codes.AlreadyExists {
		return sub, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "unable to create subscription %s", id)
	}
	pubsub.Log.Debugf("gcp: created subscription %s", id)
	return created, nil
}

// resourceID will build a legal topic or subscription ID from parts.
func resourceID(parts ...string) string {
	id := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case strings.ContainsRune("-_.~+%", r):
			return r
		}
		return '_'
	}, strings.Join(parts, "."))
	if len(id) > 255 {
		id = id[:255]
	}
	return id
}

func queueID(queue string) string { return resourceID("queue", queue) }

func topicID(topic string) string { return resourceID("topic", topic) }

type session struct {
	conn *connection
	mode pubsub.SessionMode
	txn  pubsub.Txn

	mu        sync.Mutex
	producers []*producer
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

	var (
		topic *gpubsub.Topic
		err   error
	)
	if dest.IsTopic() {
		topic, err = s.conn.ensureTopic(ctx, topicID(dest.Name))
	} else {
		// the shared subscription has to exist before the first publish or
		// the message is dropped.
		topic, err = s.conn.ensureTopic(ctx, queueID(dest.Name))
		if err == nil {
			_, err = s.conn.ensureSubscription(ctx, queueID(dest.Name), topic)
		}
	}
	if err != nil {
		return nil, pubsub.NewError(name, op, err)
	}

	p := &producer{sess: s, dest: dest, topic: topic}
	s.mu.Lock()
	s.producers = append(s.producers, p)
	s.mu.Unlock()
	return p, nil
}

func (s *session) NewConsumer(ctx context.Context, dest pubsub.Destination) (pubsub.Consumer, error) {
	const op = "create consumer"
	if dest.IsTopic() {
		id, err := uuid.NewV4()
		if err != nil {
			return nil, pubsub.NewError(name, op, err)
		}
		return s.newConsumer(ctx, op, dest, topicID(dest.Name), resourceID("topic", dest.Name, id.String()), true)
	}
	return s.newConsumer(ctx, op, dest, queueID(dest.Name), queueID(dest.Name), false)
}

func (s *session) NewDurableSubscriber(ctx context.Context, topic pubsub.Destination, subName string) (pubsub.Consumer, error) {
	const op = "create durable subscriber"
	if !topic.IsTopic() {
		return nil, pubsub.NewError(name, op, pubsub.ErrNotTopic)
	}
	if subName == "" {
		return nil, pubsub.NewError(name, op, errors.New("subscription name is required"))
	}
	return s.newConsumer(ctx, op, topic, topicID(topic.Name), resourceID("topic", topic.Name, subName), false)
}

func (s *session) newConsumer(ctx context.Context, op string, dest pubsub.Destination, topicID, subID string, temporary bool) (pubsub.Consumer, error) {
	if s.isClosed() {
		return nil, pubsub.NewError(name, op, pubsub.ErrClosed)
	}
	if dest.Name == "" {
		return nil, pubsub.NewError(name, op, errors.New("destination name is required"))
	}

	topic, err := s.conn.ensureTopic(ctx, topicID)
	if err != nil {
		return nil, pubsub.NewError(name, op, err)
	}
	defer topic.Stop()
	sub, err := s.conn.ensureSubscription(ctx, subID, topic)
	if err != nil {
		return nil, pubsub.NewError(name, op, err)
	}
	sub.ReceiveSettings.MaxOutstandingMessages = 1
	sub.ReceiveSettings.NumGoroutines = 1

	c := &consumer{sess: s, dest: dest, sub: sub, temporary: temporary, done: make(chan struct{})}
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
			pubsub.Log.Debugf("gcp: discarded %d uncommitted messages", n)
		}
		s.mu.Lock()
		producers, consumers := s.producers, s.consumers
		s.producers, s.consumers = nil, nil
		s.mu.Unlock()
		for _, c := range consumers {
			if cerr := c.Close(); cerr != nil && err == nil {
				err = cerr
			}
		}
		for _, p := range producers {
			p.Close()
		}
		close(s.closed)
	})
	return err
}

type producer struct {
	sess  *session
	dest  pubsub.Destination
	topic *gpubsub.Topic

	closeOnce sync.Once
	closed    bool
}

// Send will publish the message text and wait for the server to accept it.
func (p *producer) Send(ctx context.Context, m *pubsub.Message) error {
	if p.closed || p.sess.isClosed() {
		return pubsub.NewError(name, "send", pubsub.ErrClosed)
	}
	if err := pubsub.Stamp(m, p.dest); err != nil {
		return pubsub.NewError(name, "send", err)
	}
	msg := &gpubsub.Message{
		Data:       []byte(m.Text),
		Attributes: map[string]string{pubsub.MessageIDHeader: m.ID},
	}
	return pubsub.NewError(name, "send", pubsub.Dispatch(ctx, p.sess.mode, &p.sess.txn, func(ctx context.Context) error {
		serverID, err := p.topic.Publish(ctx, msg).Get(ctx)
		if err != nil {
			return err
		}
		pubsub.Log.Debugf("gcp: published %s as %s", m.ID, serverID)
		return nil
	}))
}

// Close will flush and stop the topic's publish goroutines.
func (p *producer) Close() error {
	p.closeOnce.Do(func() {
		p.closed = true
		p.topic.Stop()
	})
	return nil
}

type consumer struct {
	sess      *session
	dest      pubsub.Destination
	sub       *gpubsub.Subscription
	temporary bool

	closeOnce sync.Once
	closeErr  error
	done      chan struct{}
}

// Receive will run a streaming pull until the first message arrives or the
// timeout passes. The message is acknowledged before it is returned.
func (c *consumer) Receive(ctx context.Context, timeout time.Duration) (*pubsub.Message, error) {
	select {
	case <-c.done:
		return nil, pubsub.NewError(name, "receive", pubsub.ErrClosed)
	default:
	}
	if !c.sess.conn.isStarted() {
		return nil, pubsub.NewError(name, "receive", pubsub.ErrNotStarted)
	}

	var (
		rctx   context.Context
		cancel context.CancelFunc
	)
	if timeout > 0 {
		rctx, cancel = context.WithTimeout(ctx, timeout)
	} else {
		rctx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	var (
		mu  sync.Mutex
		got *gpubsub.Message
	)
	err := c.sub.Receive(rctx, func(_ context.Context, msg *gpubsub.Message) {
		mu.Lock()
		defer mu.Unlock()
		if got != nil {
			msg.Nack()
			return
		}
		got = msg
		msg.Ack()
		cancel()
	})
	if err != nil {
		return nil, pubsub.NewError(name, "receive", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if got == nil {
		if err := ctx.Err(); err != nil {
			return nil, pubsub.NewError(name, "receive", err)
		}
		return nil, nil
	}

	m := &pubsub.Message{
		ID:          got.Attributes[pubsub.MessageIDHeader],
		Destination: c.dest,
		Timestamp:   got.PublishTime,
		Text:        string(got.Data),
	}
	if m.ID == "" {
		m.ID = "ID:" + got.ID
	}
	return m, nil
}

// Close will delete the subscription of a temporary topic consumer.
func (c *consumer) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		if c.temporary {
			c.closeErr = pubsub.NewError(name, "close consumer", c.sub.Delete(context.Background()))
		}
	})
	return c.closeErr
}
