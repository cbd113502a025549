package kafka // import "github.com/NYTimes/mqcli/pubsub/kafka"

import (
	"context"
	"strings"
	"sync"

	"github.com/Shopify/sarama"
	uuid "github.com/nu7hatch/gouuid"
	"github.com/pkg/errors"

	"github.com/NYTimes/mqcli/pubsub"
)

const name = "kafka"

var (
	// RequiredAcks will be used in Kafka configs
	// to set the 'RequiredAcks' value.
	RequiredAcks = sarama.WaitForAll
)

// Provider is a pubsub.Provider for Kafka using the Shopify/sarama library.
// Queues and topics both map onto Kafka topics of the same name. Queue
// consumers share a consumer group named after the queue so they compete for
// messages, while every topic subscription gets a group of its own.
type Provider struct {
	cfg *Config

	newProducer      func(addrs []string, cfg *sarama.Config) (sarama.SyncProducer, error)
	newConsumerGroup func(addrs []string, groupID string, cfg *sarama.Config) (sarama.ConsumerGroup, error)
}

var _ pubsub.Provider = &Provider{}

// NewProvider will create a Kafka provider. A nil cfg is loaded from the
// environment.
func NewProvider(cfg *Config) *Provider {
	if cfg == nil {
		cfg = LoadConfigFromEnv()
	}
	cfg.splitHosts()
	return &Provider{
		cfg:              cfg,
		newProducer:      sarama.NewSyncProducer,
		newConsumerGroup: sarama.NewConsumerGroup,
	}
}

// Connect will validate the client settings for the broker. Kafka has no
// connection handshake of its own, so the brokers are first dialed when a
// producer or consumer is created.
func (p *Provider) Connect(ctx context.Context, props pubsub.Properties) (pubsub.Connection, error) {
	if err := ctx.Err(); err != nil {
		return nil, pubsub.NewError(name, "connect", err)
	}

	brokers := p.cfg.BrokerHosts
	if props.Transport == pubsub.TransportClient {
		brokers = []string{props.Addr()}
	}
	if len(brokers) == 0 {
		return nil, pubsub.NewError(name, "connect", errors.New("at least 1 broker host is required"))
	}

	sconfig, err := p.saramaConfig(props)
	if err != nil {
		return nil, pubsub.NewError(name, "connect", err)
	}
	pubsub.Log.Debugf("kafka: using brokers %v as client %s", brokers, sconfig.ClientID)

	return &connection{
		provider: p,
		brokers:  brokers,
		sconfig:  sconfig,
		clientID: props.ClientID,
		closed:   make(chan struct{}),
	}, nil
}

func (p *Provider) saramaConfig(props pubsub.Properties) (*sarama.Config, error) {
	var sconfig *sarama.Config
	if p.cfg.Config != nil {
		// each connection gets its own copy so identities never leak
		// between connections.
		cp := *p.cfg.Config
		sconfig = &cp
	} else {
		sconfig = sarama.NewConfig()
		sconfig.Producer.Retry.Max = p.cfg.MaxRetry
		sconfig.Producer.RequiredAcks = RequiredAcks
	}
	// we always want successes to return
	sconfig.Producer.Return.Successes = true
	sconfig.ClientID = clientID(props)

	if p.cfg.Version != "" {
		v, err := sarama.ParseKafkaVersion(p.cfg.Version)
		if err != nil {
			return nil, err
		}
		sconfig.Version = v
	}
	if props.Authenticate {
		sconfig.Net.SASL.Enable = true
		sconfig.Net.SASL.Mechanism = sarama.SASLTypePlaintext
		sconfig.Net.SASL.User = props.User
		sconfig.Net.SASL.Password = props.Password
	}
	if err := sconfig.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid sarama config")
	}
	return sconfig, nil
}

// clientID joins the queue manager and client ID into a legal Kafka client
// or group ID.
func clientID(props pubsub.Properties) string {
	id := props.QueueManager
	if props.ClientID != "" {
		if id != "" {
			id += "."
		}
		id += props.ClientID
	}
	if id == "" {
		return "mqcli"
	}
	return sanitize(id)
}

func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '.', r == '_', r == '-':
			return r
		}
		return '_'
	}, s)
}

type connection struct {
	provider *Provider
	brokers  []string
	sconfig  *sarama.Config
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

func (s *session) NewProducer(_ context.Context, dest pubsub.Destination) (pubsub.Producer, error) {
	if s.isClosed() {
		return nil, pubsub.NewError(name, "create producer", pubsub.ErrClosed)
	}
	if dest.Name == "" {
		return nil, pubsub.NewError(name, "create producer", errors.New("topic name is required"))
	}
	sp, err := s.conn.provider.newProducer(s.conn.brokers, s.conn.sconfig)
	if err != nil {
		return nil, pubsub.NewError(name, "create producer", err)
	}
	p := &producer{sess: s, dest: dest, producer: sp}
	s.mu.Lock()
	s.producers = append(s.producers, p)
	s.mu.Unlock()
	return p, nil
}

func (s *session) NewConsumer(ctx context.Context, dest pubsub.Destination) (pubsub.Consumer, error) {
	if dest.IsTopic() {
		id, err := uuid.NewV4()
		if err != nil {
			return nil, pubsub.NewError(name, "create consumer", err)
		}
		return s.newConsumer(ctx, "create consumer", dest, "mqcli-"+id.String(), sarama.OffsetNewest)
	}
	return s.newConsumer(ctx, "create consumer", dest, sanitize(dest.Name), sarama.OffsetOldest)
}

func (s *session) NewDurableSubscriber(ctx context.Context, topic pubsub.Destination, subName string) (pubsub.Consumer, error) {
	const op = "create durable subscriber"
	if !topic.IsTopic() {
		return nil, pubsub.NewError(name, op, pubsub.ErrNotTopic)
	}
	if subName == "" {
		return nil, pubsub.NewError(name, op, errors.New("subscription name is required"))
	}
	group := subName
	if s.conn.clientID != "" {
		group = s.conn.clientID + "." + subName
	}
	return s.newConsumer(ctx, op, topic, sanitize(group), sarama.OffsetOldest)
}

func (s *session) newConsumer(_ context.Context, op string, dest pubsub.Destination, groupID string, initial int64) (pubsub.Consumer, error) {
	if s.isClosed() {
		return nil, pubsub.NewError(name, op, pubsub.ErrClosed)
	}
	if dest.Name == "" {
		return nil, pubsub.NewError(name, op, errors.New("topic name is required"))
	}

	// every group gets its own copy so the initial offset does not leak
	// between consumers.
	sconfig := *s.conn.sconfig
	sconfig.Consumer.Offsets.Initial = initial
	group, err := s.conn.provider.newConsumerGroup(s.conn.brokers, groupID, &sconfig)
	if err != nil {
		return nil, pubsub.NewError(name, op, err)
	}
	pubsub.Log.Debugf("kafka: joined group %s for %s", groupID, dest)

	c := newConsumer(s, dest, groupID, group)
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
			pubsub.Log.Debugf("kafka: discarded %d uncommitted messages", n)
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
			if perr := p.Close(); perr != nil && err == nil {
				err = perr
			}
		}
		close(s.closed)
	})
	return err
}

type producer struct {
	sess     *session
	dest     pubsub.Destination
	producer sarama.SyncProducer

	closeOnce sync.Once
	closed    bool
}

// Send will emit the message text to the Kafka topic. The message ID rides
// along as the record key and as a header.
func (p *producer) Send(ctx context.Context, m *pubsub.Message) error {
	if p.closed || p.sess.isClosed() {
		return pubsub.NewError(name, "send", pubsub.ErrClosed)
	}
	if err := pubsub.Stamp(m, p.dest); err != nil {
		return pubsub.NewError(name, "send", err)
	}
	msg := &sarama.ProducerMessage{
		Topic: p.dest.Name,
		Key:   sarama.StringEncoder(m.ID),
		Value: sarama.StringEncoder(m.Text),
		Headers: []sarama.RecordHeader{
			{Key: []byte(pubsub.MessageIDHeader), Value: []byte(m.ID)},
		},
		Timestamp: m.Timestamp,
	}
	return pubsub.NewError(name, "send", pubsub.Dispatch(ctx, p.sess.mode, &p.sess.txn, func(context.Context) error {
		partition, offset, err := p.producer.SendMessage(msg)
		if err != nil {
			return err
		}
		pubsub.Log.Debugf("kafka: sent %s to %s partition %d offset %d", m.ID, msg.Topic, partition, offset)
		return nil
	}))
}

// Close will close the underlying sarama producer.
func (p *producer) Close() error {
	var err error
	p.closeOnce.Do(func() {
		p.closed = true
		err = pubsub.NewError(name, "close producer", p.producer.Close())
	})
	return err
}
