package nats

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"

	"github.com/NYTimes/mqcli/pubsub"
)

func runServer(t *testing.T) pubsub.Properties {
	t.Helper()
	opts := natsserver.Options{
		Host:      "127.0.0.1",
		Port:      -1,
		JetStream: true,
		StoreDir:  t.TempDir(),
		NoLog:     true,
		NoSigs:    true,
	}
	s, err := natsserver.NewServer(&opts)
	if err != nil {
		t.Fatalf("unable to create server: %s", err)
	}
	s.Start()
	t.Cleanup(s.Shutdown)
	if !s.ReadyForConnections(5 * time.Second) {
		t.Fatal("nats server did not start")
	}

	addr := s.Addr().(*net.TCPAddr)
	return pubsub.Properties{Host: addr.IP.String(), Port: addr.Port, QueueManager: "QM1"}
}

func openSession(t *testing.T, props pubsub.Properties, mode pubsub.SessionMode) (pubsub.Connection, pubsub.Session) {
	t.Helper()
	ctx := context.Background()
	conn, err := NewProvider(Config{}).Connect(ctx, props)
	if err != nil {
		t.Fatalf("unable to connect: %s", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := conn.Start(ctx); err != nil {
		t.Fatalf("unable to start: %s", err)
	}
	sess, err := conn.NewSession(ctx, mode)
	if err != nil {
		t.Fatalf("unable to create session: %s", err)
	}
	return conn, sess
}

func TestConnectRefused(t *testing.T) {
	props := runServer(t)
	props.Port++
	_, err := NewProvider(Config{ConnectTimeout: 200 * time.Millisecond}).Connect(context.Background(), props)
	if err == nil {
		t.Fatal("expected an error dialing a closed port")
	}
	var perr *pubsub.Error
	if !errors.As(err, &perr) || perr.Op != "connect" {
		t.Errorf("expected a connect *pubsub.Error, got %#v", err)
	}
}

func TestQueueTransactedRoundTrip(t *testing.T) {
	props := runServer(t)
	ctx := context.Background()
	q := pubsub.ParseDestination("Q1")

	_, psess := openSession(t, props, pubsub.Transacted)
	prod, err := psess.NewProducer(ctx, q)
	if err != nil {
		t.Fatalf("unable to create producer: %s", err)
	}
	sent := pubsub.NewTextMessage("hello")
	if err := prod.Send(ctx, sent); err != nil {
		t.Fatalf("unable to send: %s", err)
	}

	_, csess := openSession(t, props, pubsub.AutoAcknowledge)
	cons, err := csess.NewConsumer(ctx, q)
	if err != nil {
		t.Fatalf("unable to create consumer: %s", err)
	}
	if m, err := cons.Receive(ctx, time.Second); m != nil || err != nil {
		t.Fatalf("expected nothing before commit, got %v, %v", m, err)
	}

	if err := psess.Commit(ctx); err != nil {
		t.Fatalf("unable to commit: %s", err)
	}
	got, err := cons.Receive(ctx, 5*time.Second)
	if err != nil || got == nil {
		t.Fatalf("expected a message, got %v, %v", got, err)
	}
	if got.ID != sent.ID || got.Text != "hello" || got.Destination.Name != "Q1" || got.Timestamp.IsZero() {
		t.Errorf("unexpected message: %+v", got)
	}

	// acknowledged messages are removed from the work queue.
	if m, err := cons.Receive(ctx, time.Second); m != nil || err != nil {
		t.Errorf("expected the queue to be empty, got %v, %v", m, err)
	}
}

func TestDurableSubscriberRetains(t *testing.T) {
	props := runServer(t)
	props.ClientID = "D-001"
	ctx := context.Background()
	topic := pubsub.ParseDestination("topic://news")

	conn, sess := openSession(t, props, pubsub.AutoAcknowledge)
	if _, err := sess.NewDurableSubscriber(ctx, topic, "D-001"); err != nil {
		t.Fatalf("unable to subscribe: %s", err)
	}
	if err := conn.Close(); err != nil {
		t.Fatalf("unable to close: %s", err)
	}

	_, psess := openSession(t, props, pubsub.AutoAcknowledge)
	prod, err := psess.NewProducer(ctx, topic)
	if err != nil {
		t.Fatalf("unable to create producer: %s", err)
	}
	if err := prod.Send(ctx, pubsub.NewTextMessage("extra extra")); err != nil {
		t.Fatalf("unable to send: %s", err)
	}

	_, sess = openSession(t, props, pubsub.AutoAcknowledge)
	cons, err := sess.NewDurableSubscriber(ctx, topic, "D-001")
	if err != nil {
		t.Fatalf("unable to subscribe again: %s", err)
	}
	m, err := cons.Receive(ctx, 5*time.Second)
	if err != nil || m == nil {
		t.Fatalf("expected the retained message, got %v, %v", m, err)
	}
	if m.Text != "extra extra" || !m.Destination.IsTopic() {
		t.Errorf("unexpected message: %+v", m)
	}
}

func TestEphemeralConsumerOnlySeesNewMessages(t *testing.T) {
	props := runServer(t)
	ctx := context.Background()
	topic := pubsub.ParseDestination("topic://news")

	_, psess := openSession(t, props, pubsub.AutoAcknowledge)
	prod, err := psess.NewProducer(ctx, topic)
	if err != nil {
		t.Fatalf("unable to create producer: %s", err)
	}
	if err := prod.Send(ctx, pubsub.NewTextMessage("old news")); err != nil {
		t.Fatalf("unable to send: %s", err)
	}

	_, csess := openSession(t, props, pubsub.AutoAcknowledge)
	cons, err := csess.NewConsumer(ctx, topic)
	if err != nil {
		t.Fatalf("unable to create consumer: %s", err)
	}
	if err := prod.Send(ctx, pubsub.NewTextMessage("breaking")); err != nil {
		t.Fatalf("unable to send: %s", err)
	}

	m, err := cons.Receive(ctx, 5*time.Second)
	if err != nil || m == nil {
		t.Fatalf("expected a message, got %v, %v", m, err)
	}
	if m.Text != "breaking" {
		t.Errorf("expected only the new message, got %q", m.Text)
	}

	if err := cons.Close(); err != nil {
		t.Errorf("unable to close consumer: %s", err)
	}
	if _, err := cons.Receive(ctx, time.Second); !errors.Is(err, pubsub.ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
}

func TestReceiveCancelled(t *testing.T) {
	props := runServer(t)
	_, sess := openSession(t, props, pubsub.AutoAcknowledge)
	cons, err := sess.NewConsumer(context.Background(), pubsub.ParseDestination("Q1"))
	if err != nil {
		t.Fatalf("unable to create consumer: %s", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	m, err := cons.Receive(ctx, 0)
	if m != nil || !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected the context error, got %v, %v", m, err)
	}
}

func TestDurableSubscriberRequiresTopic(t *testing.T) {
	props := runServer(t)
	_, sess := openSession(t, props, pubsub.AutoAcknowledge)
	_, err := sess.NewDurableSubscriber(context.Background(), pubsub.ParseDestination("Q1"), "D-001")
	if !errors.Is(err, pubsub.ErrNotTopic) {
		t.Errorf("expected ErrNotTopic, got %v", err)
	}
}

func TestNames(t *testing.T) {
	cfg := streamConfig(pubsub.ParseDestination("orders.eu west"), Config{})
	if cfg.Name != "QUEUE_orders_2Eeu_20west" || cfg.Subjects[0] != "queue.orders.eu_west" {
		t.Errorf("unexpected queue stream: %s %v", cfg.Name, cfg.Subjects)
	}
	cfg = streamConfig(pubsub.ParseDestination("topic://a>b"), Config{})
	if cfg.Name != "TOPIC_a_3Eb" || cfg.Subjects[0] != "topic.a_b" {
		t.Errorf("unexpected topic stream: %s %v", cfg.Name, cfg.Subjects)
	}

	dotted := streamConfig(pubsub.ParseDestination("topic://a.b"), Config{})
	underscored := streamConfig(pubsub.ParseDestination("topic://a_b"), Config{})
	if dotted.Name == underscored.Name {
		t.Errorf("expected distinct streams, both are %s", dotted.Name)
	}
}

func TestSimilarTopicsStaySeparate(t *testing.T) {
	props := runServer(t)
	ctx := context.Background()
	dotted := pubsub.ParseDestination("topic://a.b")
	underscored := pubsub.ParseDestination("topic://a_b")

	_, sess := openSession(t, props, pubsub.AutoAcknowledge)
	dcons, err := sess.NewConsumer(ctx, dotted)
	if err != nil {
		t.Fatalf("unable to create consumer: %s", err)
	}
	ucons, err := sess.NewConsumer(ctx, underscored)
	if err != nil {
		t.Fatalf("unable to create consumer: %s", err)
	}

	for dest, text := range map[pubsub.Destination]string{dotted: "dotted", underscored: "underscored"} {
		prod, err := sess.NewProducer(ctx, dest)
		if err != nil {
			t.Fatalf("unable to create producer for %s: %s", dest, err)
		}
		if err := prod.Send(ctx, pubsub.NewTextMessage(text)); err != nil {
			t.Fatalf("unable to send to %s: %s", dest, err)
		}
	}

	for cons, want := range map[pubsub.Consumer]string{dcons: "dotted", ucons: "underscored"} {
		m, err := cons.Receive(ctx, 5*time.Second)
		if err != nil || m == nil {
			t.Fatalf("expected %q, got %v, %v", want, m, err)
		}
		if m.Text != want {
			t.Errorf("expected %q, got %q", want, m.Text)
		}
	}
}
