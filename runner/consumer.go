package runner

import (
	"context"
	"time"

	"github.com/NYTimes/mqcli/config"
	"github.com/NYTimes/mqcli/pubsub"
)

// consume will receive from a queue, or through the durable subscription
// SubscriberID on a topic, until a receive times out.
func (r *run) consume(ctx context.Context, p pubsub.Provider, cfg *config.Config) {
	res := &resources{}
	defer r.shutdown(res)

	if err := connect(ctx, p, cfg, pubsub.AutoAcknowledge, res); err != nil {
		r.recordFailure(err)
		return
	}
	cons, err := openConsumer(ctx, res.sess, cfg.Destination())
	if err != nil {
		r.recordFailure(err)
		return
	}
	res.consumer = cons

	if err := res.conn.Start(ctx); err != nil {
		r.recordFailure(err)
		return
	}
	if err := r.consumeLoop(ctx, cons, cfg.Timeout); err != nil {
		r.recordFailure(err)
		return
	}
	Log.Errorf("No message received in %d seconds!", cfg.Timeout/time.Second)
	r.recordSuccess()
}

func openConsumer(ctx context.Context, sess pubsub.Session, dest pubsub.Destination) (pubsub.Consumer, error) {
	if dest.IsTopic() {
		return sess.NewDurableSubscriber(ctx, dest, SubscriberID)
	}
	return sess.NewConsumer(ctx, dest)
}

// consumeLoop will log messages until Receive returns none.
func (r *run) consumeLoop(ctx context.Context, cons pubsub.Consumer, timeout time.Duration) error {
	for {
		msg, err := cons.Receive(ctx, timeout)
		if err != nil {
			return err
		}
		if msg == nil {
			return nil
		}
		r.metrics.Received.Add(1)
		Log.Infof("Received message:\n%s", msg)
	}
}
