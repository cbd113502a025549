package pubsub

import (
	"context"
	"sync"
)

// Txn collects the sends of a transacted session until Commit. Providers
// without native transactions use it to hold messages back from the broker.
type Txn struct {
	mu      sync.Mutex
	pending []func(context.Context) error
}

// Add will queue a send to run on the next Commit.
func (t *Txn) Add(send func(context.Context) error) {
	t.mu.Lock()
	t.pending = append(t.pending, send)
	t.mu.Unlock()
}

// Len returns the number of queued sends.
func (t *Txn) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

// Commit will run every queued send in order and clear the queue. It stops
// at the first failure; the sends after it are discarded.
func (t *Txn) Commit(ctx context.Context) error {
	t.mu.Lock()
	pending := t.pending
	t.pending = nil
	t.mu.Unlock()

	for _, send := range pending {
		if err := send(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Rollback will discard every queued send and return how many there were.
func (t *Txn) Rollback() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := len(t.pending)
	t.pending = nil
	return n
}

// Dispatch will run send now for AutoAcknowledge sessions or queue it on txn
// for Transacted ones.
func Dispatch(ctx context.Context, mode SessionMode, txn *Txn, send func(context.Context) error) error {
	if mode == Transacted {
		txn.Add(send)
		return nil
	}
	return send(ctx)
}
