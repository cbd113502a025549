package runner

import (
	"strings"

	"github.com/pkg/errors"

	"github.com/NYTimes/mqcli/config"
	"github.com/NYTimes/mqcli/pubsub"
	"github.com/NYTimes/mqcli/pubsub/aws"
	"github.com/NYTimes/mqcli/pubsub/gcp"
	"github.com/NYTimes/mqcli/pubsub/kafka"
	"github.com/NYTimes/mqcli/pubsub/memory"
	"github.com/NYTimes/mqcli/pubsub/nats"
)

// NewProvider will build the provider named by env.Provider from its
// environment config. When env.ProviderConfig names a JSON file it is laid
// over that config.
func NewProvider(env config.Env) (pubsub.Provider, error) {
	overlay := func(cfg interface{}) error {
		if env.ProviderConfig == "" {
			return nil
		}
		return config.LoadJSONFile(env.ProviderConfig, cfg)
	}

	switch strings.ToLower(env.Provider) {
	case "memory":
		return memory.Default(), nil
	case "kafka":
		cfg := kafka.LoadConfigFromEnv()
		if err := overlay(cfg); err != nil {
			return nil, err
		}
		return kafka.NewProvider(cfg), nil
	case "aws":
		cfg := aws.LoadConfigFromEnv()
		if err := overlay(&cfg); err != nil {
			return nil, err
		}
		return aws.NewProvider(cfg), nil
	case "gcp":
		cfg := gcp.LoadConfigFromEnv()
		if err := overlay(&cfg); err != nil {
			return nil, err
		}
		return gcp.NewProvider(cfg), nil
	case "nats", "":
		cfg := nats.LoadConfigFromEnv()
		if err := overlay(&cfg); err != nil {
			return nil, err
		}
		return nats.NewProvider(cfg), nil
	}
	return nil, errors.Errorf("unknown provider %q: expected memory, kafka, aws, gcp or nats", env.Provider)
}
