package aws // import "github.com/NYTimes/mqcli/pubsub/aws"

import (
	"context"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	awssession "github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/sns"
	"github.com/aws/aws-sdk-go/service/sns/snsiface"
	"github.com/aws/aws-sdk-go/service/sqs"
	"github.com/aws/aws-sdk-go/service/sqs/sqsiface"
	"github.com/pkg/errors"

	"github.com/NYTimes/mqcli/pubsub"
)

const name = "aws"

// Provider is a pubsub.Provider backed by Amazon SQS for queues and Amazon
// SNS for topics. Topic subscriptions are SQS queues subscribed to the topic
// with raw message delivery.
type Provider struct {
	cfg Config

	newClients func(cfg Config, awsCfg *aws.Config) (sqsiface.SQSAPI, snsiface.SNSAPI, error)
}

var _ pubsub.Provider = &Provider{}

// NewProvider will create an AWS provider from cfg.
func NewProvider(cfg Config) *Provider {
	defaultConfig(&cfg)
	return &Provider{cfg: cfg, newClients: newClients}
}

func newClients(cfg Config, awsCfg *aws.Config) (sqsiface.SQSAPI, snsiface.SNSAPI, error) {
	sess, err := awssession.NewSession()
	if err != nil {
		return nil, nil, err
	}
	if awsCfg.Credentials == nil {
		awsCfg.Credentials = cfg.Credentials(sess)
	}
	return sqs.New(sess, awsCfg), sns.New(sess, awsCfg), nil
}

// Connect will set up the SQS and SNS clients. The queue manager names the
// region. Client transport points both clients at http://host:port, which
// suits emulators such as localstack. Supplied credentials take precedence
// over the environment.
func (p *Provider) Connect(ctx context.Context, props pubsub.Properties) (pubsub.Connection, error) {
	if err := ctx.Err(); err != nil {
		return nil, pubsub.NewError(name, "connect", err)
	}

	region := props.QueueManager
	if region == "" {
		region = p.cfg.Region
	}
	if region == "" {
		return nil, pubsub.NewError(name, "connect", errors.New("region is required"))
	}

	awsCfg := &aws.Config{Region: aws.String(region), Endpoint: p.cfg.EndpointURL}
	if props.Transport == pubsub.TransportClient {
		awsCfg.Endpoint = aws.String("http://" + props.Addr())
	}
	if props.Authenticate {
		awsCfg.Credentials = credentials.NewStaticCredentials(props.User, props.Password, "")
	}

	sqsAPI, snsAPI, err := p.newClients(p.cfg, awsCfg)
	if err != nil {
		return nil, pubsub.NewError(name, "connect", err)
	}
	pubsub.Log.Debugf("aws: connected to region %s", region)

	return &connection{
		cfg:      p.cfg,
		sqs:      sqsAPI,
		sns:      snsAPI,
		clientID: props.ClientID,
		closed:   make(chan struct{}),
	}, nil
}

type connection struct {
	cfg      Config
	sqs      sqsiface.SQSAPI
	sns      snsiface.SNSAPI
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
		close(c.closed)
	})
	return err
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

func (s *session) NewProducer(ctx context.Context, dest pubsub.Destination) (pubsub.Producer, error) {
	const op = "create producer"
	if s.isClosed() {
		return nil, pubsub.NewError(name, op, pubsub.ErrClosed)
	}
	if dest.Name == "" {
		return nil, pubsub.NewError(name, op, errors.New("destination name is required"))
	}

	if dest.IsTopic() {
		topicARN, err := s.conn.createTopic(ctx, dest.Name)
		if err != nil {
			return nil, pubsub.NewError(name, op, err)
		}
		return &producer{sess: s, dest: dest, send: s.conn.publisher(topicARN)}, nil
	}

	queueURL, err := s.conn.queueURL(ctx, dest.Name)
	if err != nil {
		return nil, pubsub.NewError(name, op, err)
	}
	return &producer{sess: s, dest: dest, send: s.conn.sender(queueURL)}, nil
}

func (s *session) NewConsumer(ctx context.Context, dest pubsub.Destination) (pubsub.Consumer, error) {
	const op = "create consumer"
	if s.isClosed() {
		return nil, pubsub.NewError(name, op, pubsub.ErrClosed)
	}
	if dest.Name == "" {
		return nil, pubsub.NewError(name, op, errors.New("destination name is required"))
	}

	if dest.IsTopic() {
		sub, err := s.conn.subscribe(ctx, dest.Name, "", true)
		if err != nil {
			return nil, pubsub.NewError(name, op, err)
		}
		return s.track(&consumer{sess: s, dest: dest, queueURL: sub.queueURL, sub: sub}), nil
	}

	queueURL, err := s.conn.queueURL(ctx, dest.Name)
	if err != nil {
		return nil, pubsub.NewError(name, op, err)
	}
	return s.track(&consumer{sess: s, dest: dest, queueURL: queueURL}), nil
}

func (s *session) NewDurableSubscriber(ctx context.Context, topic pubsub.Destination, subName string) (pubsub.Consumer, error) {
	const op = "create durable subscriber"
	if s.isClosed() {
		return nil, pubsub.NewError(name, op, pubsub.ErrClosed)
	}
	if !topic.IsTopic() {
		return nil, pubsub.NewError(name, op, pubsub.ErrNotTopic)
	}
	if subName == "" {
		return nil, pubsub.NewError(name, op, errors.New("subscription name is required"))
	}
	sub, err := s.conn.subscribe(ctx, topic.Name, subName, false)
	if err != nil {
		return nil, pubsub.NewError(name, op, err)
	}
	return s.track(&consumer{sess: s, dest: topic, queueURL: sub.queueURL}), nil
}

func (s *session) track(c *consumer) *consumer {
	c.done = make(chan struct{})
	s.mu.Lock()
	s.consumers = append(s.consumers, c)
	s.mu.Unlock()
	return c
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
			pubsub.Log.Debugf("aws: discarded %d uncommitted messages", n)
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
	sess   *session
	dest   pubsub.Destination
	send   func(context.Context, *pubsub.Message) error
	closed bool
}

// Send will emit the message text as the SQS message body or SNS message.
// The message ID travels as a message attribute.
func (p *producer) Send(ctx context.Context, m *pubsub.Message) error {
	if p.closed || p.sess.isClosed() {
		return pubsub.NewError(name, "send", pubsub.ErrClosed)
	}
	if err := pubsub.Stamp(m, p.dest); err != nil {
		return pubsub.NewError(name, "send", err)
	}
	cp := *m
	return pubsub.NewError(name, "send", pubsub.Dispatch(ctx, p.sess.mode, &p.sess.txn, func(ctx context.Context) error {
		return p.send(ctx, &cp)
	}))
}

func (p *producer) Close() error {
	p.closed = true
	return nil
}

// resourceName will make name legal as an SQS queue or SNS topic name.
func resourceName(parts ...string) string {
	joined := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '_', r == '-':
			return r
		}
		return '_'
	}, strings.Join(parts, "-"))
	// SQS queue names are limited to 80 characters.
	if len(joined) > 80 {
		joined = joined[:80]
	}
	return joined
}
