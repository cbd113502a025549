package runner

import (
	"context"

	"github.com/NYTimes/mqcli/config"
	"github.com/NYTimes/mqcli/pubsub"
)

// SubscriberID is both the client ID of the consumer's connection and the
// name of its durable subscription.
const SubscriberID = "D-001"

// properties will map a parsed configuration onto connection properties.
func properties(cfg *config.Config) pubsub.Properties {
	props := pubsub.Properties{
		Host:         cfg.Host,
		Port:         cfg.Port,
		Channel:      cfg.Channel,
		QueueManager: cfg.QueueManager,
		Transport:    cfg.Transport,
	}
	if cfg.Mode == config.Consumer {
		props.ClientID = SubscriberID
	}
	if cfg.HasCredentials() {
		props.User = cfg.User
		props.Password = cfg.Password
		props.Authenticate = true
	}
	return props
}

// resources are the broker objects a run opened. Only non-nil fields are
// closed on shutdown.
type resources struct {
	conn     pubsub.Connection
	sess     pubsub.Session
	producer pubsub.Producer
	consumer pubsub.Consumer
}

// connect will open a connection and a session of the given mode. res is
// filled in as each step succeeds so a failure part way still gets cleaned
// up.
func connect(ctx context.Context, p pubsub.Provider, cfg *config.Config, mode pubsub.SessionMode, res *resources) error {
	props := properties(cfg)
	Log.Infof("Connection properties are %s", props)

	conn, err := p.Connect(ctx, props)
	if err != nil {
		return err
	}
	res.conn = conn

	sess, err := conn.NewSession(ctx, mode)
	if err != nil {
		return err
	}
	res.sess = sess
	Log.Infof("Session is %s", mode)
	return nil
}
