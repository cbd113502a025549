package aws

import (
	"time"

	"github.com/kelseyhightower/envconfig"

	awsconfig "github.com/NYTimes/mqcli/config/aws"
)

var (
	// defaultSQSTimeoutSeconds is the longest long poll SQS allows.
	defaultSQSTimeoutSeconds int64 = 20
	// defaultSQSSleepInterval is the default time.Duration the
	// consumer will wait if it sees no messages on the queue.
	defaultSQSSleepInterval = 250 * time.Millisecond
)

// Config holds the info required to work with Amazon SQS and SNS.
type Config struct {
	awsconfig.Config

	// QueueOwnerAccountID is used when looking up queues owned by another
	// account.
	QueueOwnerAccountID string `envconfig:"AWS_SQS_OWNER_ACCOUNT_ID"`
	// TimeoutSeconds will override the defaultSQSTimeoutSeconds. It is
	// further capped by each Receive call's timeout.
	TimeoutSeconds *int64 `envconfig:"AWS_SQS_TIMEOUT_SECONDS"`
	// SleepInterval will override the defaultSQSSleepInterval.
	SleepInterval *time.Duration `envconfig:"AWS_SQS_SLEEP_INTERVAL"`
}

// LoadConfigFromEnv will attempt to load the Config struct
// from environment variables.
func LoadConfigFromEnv() Config {
	var cfg Config
	envconfig.Process("", &cfg)
	return cfg
}

func defaultConfig(cfg *Config) {
	if cfg.TimeoutSeconds == nil || *cfg.TimeoutSeconds > defaultSQSTimeoutSeconds {
		cfg.TimeoutSeconds = &defaultSQSTimeoutSeconds
	}
	if cfg.SleepInterval == nil {
		cfg.SleepInterval = &defaultSQSSleepInterval
	}
}
