package memory

import (
	"sync"

	"github.com/NYTimes/mqcli/pubsub"
)

// Broker is an in-process message broker holding queues and topics.
type Broker struct {
	Name string

	mu     sync.Mutex
	queues map[string]*mailbox
	topics map[string]*topic
}

type topic struct {
	// durable subscriptions outlive their consumers
	durables  map[string]*mailbox
	ephemeral map[*mailbox]struct{}
}

func newBroker(name string) *Broker {
	return &Broker{
		Name:   name,
		queues: map[string]*mailbox{},
		topics: map[string]*topic{},
	}
}

func (b *Broker) queue(name string) *mailbox {
	b.mu.Lock()
	defer b.mu.Unlock()
	q, ok := b.queues[name]
	if !ok {
		q = newMailbox()
		b.queues[name] = q
	}
	return q
}

func (b *Broker) topic(name string) *topic {
	t, ok := b.topics[name]
	if !ok {
		t = &topic{
			durables:  map[string]*mailbox{},
			ephemeral: map[*mailbox]struct{}{},
		}
		b.topics[name] = t
	}
	return t
}

// publish will hand each receiver of dest its own copy of m.
func (b *Broker) publish(dest pubsub.Destination, m *pubsub.Message) {
	if dest.Kind == pubsub.Queue {
		cp := *m
		b.queue(dest.Name).put(&cp)
		return
	}

	b.mu.Lock()
	t := b.topic(dest.Name)
	var boxes []*mailbox
	for _, mb := range t.durables {
		boxes = append(boxes, mb)
	}
	for mb := range t.ephemeral {
		boxes = append(boxes, mb)
	}
	b.mu.Unlock()

	for _, mb := range boxes {
		cp := *m
		mb.put(&cp)
	}
}

// subscribe will return the mailbox of the durable subscription key, creating
// it if needed. An empty key creates a new non-durable subscription.
func (b *Broker) subscribe(topicName, key string) *mailbox {
	b.mu.Lock()
	defer b.mu.Unlock()
	t := b.topic(topicName)
	if key == "" {
		mb := newMailbox()
		t.ephemeral[mb] = struct{}{}
		return mb
	}
	mb, ok := t.durables[key]
	if !ok {
		mb = newMailbox()
		t.durables[key] = mb
	}
	return mb
}

func (b *Broker) unsubscribe(topicName string, mb *mailbox) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if t, ok := b.topics[topicName]; ok {
		delete(t.ephemeral, mb)
	}
}

// Put will place a message directly on a destination, bypassing any
// session. It is meant for seeding a broker.
func (b *Broker) Put(dest pubsub.Destination, text string) error {
	m := pubsub.NewTextMessage(text)
	if err := pubsub.Stamp(m, dest); err != nil {
		return err
	}
	b.publish(dest, m)
	return nil
}

// QueueDepth returns the number of messages waiting on a queue.
func (b *Broker) QueueDepth(name string) int {
	return b.queue(name).len()
}

// SubscriptionDepth returns the number of messages waiting on the durable
// subscription name of clientID to a topic, or -1 if it does not exist.
func (b *Broker) SubscriptionDepth(topicName, clientID, name string) int {
	b.mu.Lock()
	t, ok := b.topics[topicName]
	var mb *mailbox
	if ok {
		mb = t.durables[durableKey(clientID, name)]
	}
	b.mu.Unlock()
	if mb == nil {
		return -1
	}
	return mb.len()
}

func durableKey(clientID, name string) string {
	return clientID + "/" + name
}
