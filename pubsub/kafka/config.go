package kafka

import (
	"strings"

	"github.com/Shopify/sarama"
	"github.com/kelseyhightower/envconfig"
)

// Config holds the basic information for working with Kafka.
type Config struct {
	// BrokerHosts are dialed for bindings transport connections. Client
	// transport connections dial the host and port they are given instead.
	BrokerHosts []string
	// BrokerHostsString is used when loading the list from environment variables.
	// If loaded via the LoadConfigFromEnv() func, BrokerHosts will get updated with these
	// values.
	BrokerHostsString string `envconfig:"KAFKA_BROKER_HOSTS" default:"localhost:9092"`

	// Version is the Kafka protocol version to speak, such as "2.8.0". The
	// sarama default is used when it is empty.
	Version string `envconfig:"KAFKA_VERSION"`

	MaxRetry int `envconfig:"KAFKA_MAX_RETRY" default:"3"`

	// Config is a sarama config struct for more control over the underlying Kafka client.
	Config *sarama.Config `json:"-"`
}

// LoadConfigFromEnv will attempt to load a Kafka Config
// from environment variables.
func LoadConfigFromEnv() *Config {
	var kafka Config
	envconfig.Process("", &kafka)
	kafka.splitHosts()
	return &kafka
}

func (c *Config) splitHosts() {
	if c.BrokerHostsString == "" {
		return
	}
	c.BrokerHosts = nil
	for _, host := range strings.Split(c.BrokerHostsString, ",") {
		if host = strings.TrimSpace(host); host != "" {
			c.BrokerHosts = append(c.BrokerHosts, host)
		}
	}
}
