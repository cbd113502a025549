package nats

import (
	"time"

	gonats "github.com/nats-io/nats.go"

	"github.com/NYTimes/mqcli/config"
)

// Config holds the settings for working with NATS JetStream.
type Config struct {
	// URL is dialed for bindings transport connections. Client transport
	// connections dial nats://host:port instead.
	URL string `envconfig:"NATS_URL"`

	ConnectTimeout time.Duration `envconfig:"NATS_CONNECT_TIMEOUT" default:"2s"`

	// MaxAge limits how long topic streams keep messages. Zero keeps them
	// until the stream limits are hit.
	MaxAge time.Duration `envconfig:"NATS_STREAM_MAX_AGE"`
}

// LoadConfigFromEnv will attempt to load a NATS Config
// from environment variables.
func LoadConfigFromEnv() Config {
	var cfg Config
	config.LoadEnvConfig(&cfg)
	return cfg
}

func defaultConfig(cfg *Config) {
	if cfg.URL == "" {
		cfg.URL = gonats.DefaultURL
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = gonats.DefaultTimeout
	}
}
