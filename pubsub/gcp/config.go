package gcp

import (
	"time"

	"github.com/NYTimes/mqcli/config"
	"github.com/NYTimes/mqcli/config/gcp"
)

// Config holds common credentials and config values for
// working with GCP PubSub.
type Config struct {
	gcp.Config

	// AckDeadline is set on subscriptions the provider creates.
	AckDeadline time.Duration `envconfig:"GCP_PUBSUB_ACK_DEADLINE" default:"10s"`
}

// LoadConfigFromEnv will attempt to load a PubSub config
// from environment variables.
func LoadConfigFromEnv() Config {
	var ps Config
	config.LoadEnvConfig(&ps)
	return ps
}
