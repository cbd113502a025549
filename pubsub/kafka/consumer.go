package kafka

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Shopify/sarama"
	"github.com/pkg/errors"

	"github.com/NYTimes/mqcli/pubsub"
)

// consumer runs a consumer group session in the background and hands its
// messages to Receive one at a time. A message is marked as consumed only
// once Receive has taken it.
type consumer struct {
	sess    *session
	dest    pubsub.Destination
	groupID string
	group   sarama.ConsumerGroup

	msgs   chan *sarama.ConsumerMessage
	cancel context.CancelFunc
	done   chan struct{}

	mu   sync.Mutex
	kerr error

	closeOnce sync.Once
}

func newConsumer(s *session, dest pubsub.Destination, groupID string, group sarama.ConsumerGroup) *consumer {
	ctx, cancel := context.WithCancel(context.Background())
	c := &consumer{
		sess:    s,
		dest:    dest,
		groupID: groupID,
		group:   group,
		msgs:    make(chan *sarama.ConsumerMessage),
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	go c.run(ctx)
	return c
}

func (c *consumer) run(ctx context.Context) {
	defer close(c.done)
	for {
		// Consume returns at every rebalance, so it is called in a loop.
		if err := c.group.Consume(ctx, []string{c.dest.Name}, c); err != nil {
			if !errors.Is(err, sarama.ErrClosedConsumerGroup) {
				c.mu.Lock()
				c.kerr = err
				c.mu.Unlock()
			}
			return
		}
		if ctx.Err() != nil {
			return
		}
	}
}

// Err returns the error that stopped the consumer group, if any.
func (c *consumer) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.kerr
}

// Setup is run at the beginning of a new group session.
func (c *consumer) Setup(sarama.ConsumerGroupSession) error { return nil }

// Cleanup is run at the end of a group session.
func (c *consumer) Cleanup(sarama.ConsumerGroupSession) error { return nil }

// ConsumeClaim will hand each claimed message to a waiting Receive call.
func (c *consumer) ConsumeClaim(gs sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			select {
			case c.msgs <- msg:
				gs.MarkMessage(msg, "")
			case <-gs.Context().Done():
				return nil
			}
		case <-gs.Context().Done():
			return nil
		}
	}
}

func (c *consumer) Receive(ctx context.Context, timeout time.Duration) (*pubsub.Message, error) {
	select {
	case <-c.done:
		if err := c.Err(); err != nil {
			return nil, pubsub.NewError(name, "receive", err)
		}
		return nil, pubsub.NewError(name, "receive", pubsub.ErrClosed)
	default:
	}
	if !c.sess.conn.isStarted() {
		return nil, pubsub.NewError(name, "receive", pubsub.ErrNotStarted)
	}

	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case msg := <-c.msgs:
		return c.toMessage(msg), nil
	case <-expired:
		return nil, nil
	case <-ctx.Done():
		return nil, pubsub.NewError(name, "receive", ctx.Err())
	case <-c.done:
		if err := c.Err(); err != nil {
			return nil, pubsub.NewError(name, "receive", err)
		}
		return nil, pubsub.NewError(name, "receive", pubsub.ErrClosed)
	}
}

func (c *consumer) toMessage(msg *sarama.ConsumerMessage) *pubsub.Message {
	m := &pubsub.Message{
		Destination: c.dest,
		Timestamp:   msg.Timestamp,
		Text:        string(msg.Value),
	}
	for _, h := range msg.Headers {
		if h != nil && string(h.Key) == pubsub.MessageIDHeader {
			m.ID = string(h.Value)
		}
	}
	if m.ID == "" {
		m.ID = fmt.Sprintf("ID:%s-%d-%d", msg.Topic, msg.Partition, msg.Offset)
	}
	return m
}

// Close will leave the consumer group and wait for the background session
// to finish.
func (c *consumer) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		<-c.done
		err = pubsub.NewError(name, "close consumer", c.group.Close())
	})
	return err
}
