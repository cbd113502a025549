package nats // import "github.com/NYTimes/mqcli/pubsub/nats"

import (
	"context"
	"fmt"
	"strings"
	"sync"

	gonats "github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/pkg/errors"

	"github.com/NYTimes/mqcli/pubsub"
)

const name = "nats"

// Provider is a pubsub.Provider for NATS JetStream. A queue Q is a work
// queue stream QUEUE_Q on subject queue.Q read through one shared durable
// consumer. A topic T is a stream TOPIC_T on subject topic.T and every
// subscription is a consumer of its own.
type Provider struct {
	cfg Config
}

var _ pubsub.Provider = &Provider{}

// NewProvider will create a NATS provider from cfg.
func NewProvider(cfg Config) *Provider {
	defaultConfig(&cfg)
	return &Provider{cfg: cfg}
}

// Connect will dial the NATS server. The queue manager names the connection
// and supplied credentials are sent as user info.
func (p *Provider) Connect(ctx context.Context, props pubsub.Properties) (pubsub.Connection, error) {
	if err := ctx.Err(); err != nil {
		return nil, pubsub.NewError(name, "connect", err)
	}

	url := p.cfg.URL
	if props.Transport == pubsub.TransportClient {
		url = "nats://" + props.Addr()
	}
	opts := []gonats.Option{gonats.Timeout(p.cfg.ConnectTimeout)}
	if props.QueueManager != "" {
		opts = append(opts, gonats.Name(props.QueueManager))
	}
	if props.Authenticate {
		opts = append(opts, gonats.UserInfo(props.User, props.Password))
	}

	nc, err := gonats.Connect(url, opts...)
	if err != nil {
		return nil, pubsub.NewError(name, "connect", err)
	}
	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, pubsub.NewError(name, "connect", err)
	}
	pubsub.Log.Debugf("nats: connected to %s", nc.ConnectedUrlRedacted())

	return &connection{
		cfg:      p.cfg,
		nc:       nc,
		js:       js,
		clientID: props.ClientID,
		closed:   make(chan struct{}),
	}, nil
}

type connection struct {
	cfg      Config
	nc       *gonats.Conn
	js       jetstream.JetStream
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

// Close will close every session and then drain the connection.
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
		if derr := c.nc.Drain(); derr != nil {
			c.nc.Close()
			if err == nil {
				err = pubsub.NewError(name, "close connection", derr)
			}
		}
		close(c.closed)
	})
	return err
}

// token will make s safe to use as a stream or consumer name. Letters,
// digits and '-' are kept and every other byte becomes '_' and two hex
// digits, so distinct names never share a token.
func token(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-':
			b.WriteByte(c)
		default:
			fmt.Fprintf(&b, "_%02X", c)
		}
	}
	return b.String()
}

// subject will make s safe to use as subject tokens. Dots are kept so
// hierarchical names map onto hierarchical subjects.
func subject(prefix, s string) string {
	return prefix + "." + strings.Map(func(r rune) rune {
		switch r {
		case '*', '>', ' ', '\t', '\r', '\n':
			return '_'
		}
		return r
	}, s)
}

func streamConfig(dest pubsub.Destination, cfg Config) jetstream.StreamConfig {
	if dest.IsTopic() {
		return jetstream.StreamConfig{
			Name:     "TOPIC_" + token(dest.Name),
			Subjects: []string{subject("topic", dest.Name)},
			MaxAge:   cfg.MaxAge,
		}
	}
	return jetstream.StreamConfig{
		Name:      "QUEUE_" + token(dest.Name),
		Subjects:  []string{subject("queue", dest.Name)},
		Retention: jetstream.WorkQueuePolicy,
	}
}

// ensureStream will create the destination's stream or return the existing
// one.
func (c *connection) ensureStream(ctx context.Context, dest pubsub.Destination) (jetstream.Stream, error) {
	scfg := streamConfig(dest, c.cfg)
	stream, err := c.js.CreateStream(ctx, scfg)
	if errors.Is(err, jetstream.ErrStreamNameAlreadyInUse) {
		stream, err = c.js.Stream(ctx, scfg.Name)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "unable to set up stream %s", scfg.Name)
	}
	if subjects := stream.CachedInfo().Config.Subjects; len(subjects) == 0 || subjects[0] != scfg.Subjects[0] {
		return nil, errors.Errorf("stream %s serves %v, not %s", scfg.Name, subjects, scfg.Subjects[0])
	}
	return stream, nil
}
