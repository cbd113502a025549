package memory

import (
	"context"
	"sync"
	"time"

	"github.com/NYTimes/mqcli/pubsub"
)

// mailbox is a FIFO of messages shared by any number of receivers.
type mailbox struct {
	mu    sync.Mutex
	msgs  []*pubsub.Message
	ready chan struct{}
}

func newMailbox() *mailbox {
	return &mailbox{ready: make(chan struct{})}
}

func (b *mailbox) put(m *pubsub.Message) {
	b.mu.Lock()
	b.msgs = append(b.msgs, m)
	// wake every waiter; they race for the message under the lock
	close(b.ready)
	b.ready = make(chan struct{})
	b.mu.Unlock()
}

func (b *mailbox) len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.msgs)
}

// take will pop the oldest message, waiting up to timeout for one to
// arrive. A zero timeout waits until ctx or closed is done.
func (b *mailbox) take(ctx context.Context, timeout time.Duration, closed <-chan struct{}) (*pubsub.Message, error) {
	var expired <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		expired = t.C
	}

	for {
		b.mu.Lock()
		if len(b.msgs) > 0 {
			m := b.msgs[0]
			b.msgs[0] = nil
			b.msgs = b.msgs[1:]
			b.mu.Unlock()
			return m, nil
		}
		ready := b.ready
		b.mu.Unlock()

		select {
		case <-ready:
		case <-expired:
			return nil, nil
		case <-closed:
			return nil, pubsub.ErrClosed
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}
