package config

import (
	"encoding/json"
	"fmt"
	"io/ioutil"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/NYTimes/mqcli/pubsub"
)

const (
	// DefaultHost is used when neither -h nor MQ_HOST is given.
	DefaultHost = "localhost"
	// DefaultPort is used when neither -p nor MQ_PORT is given.
	DefaultPort = 1414
	// DefaultChannel is used when neither -l nor MQ_CHANNEL is given.
	DefaultChannel = "SYSTEM.DEF.SVRCONN"
	// DefaultTimeout is the consumer receive timeout when neither -t nor
	// MQ_TIMEOUT is given.
	DefaultTimeout = 15 * time.Second
	// DefaultProvider is the broker used when MQ_PROVIDER is not set.
	DefaultProvider = "nats"
)

// Env holds the process level settings both tools read from the
// environment. Command line flags take precedence over the defaults it
// carries.
type Env struct {
	Provider  string        `envconfig:"MQ_PROVIDER" default:"nats"`
	Host      string        `envconfig:"MQ_HOST" default:"localhost"`
	Port      int           `envconfig:"MQ_PORT" default:"1414"`
	Channel   string        `envconfig:"MQ_CHANNEL" default:"SYSTEM.DEF.SVRCONN"`
	Transport string        `envconfig:"MQ_TRANSPORT" default:"client"`
	Timeout   time.Duration `envconfig:"MQ_TIMEOUT" default:"15s"`

	// ProviderConfig is an optional JSON file whose contents are laid over
	// the provider's environment config.
	ProviderConfig string `envconfig:"MQ_PROVIDER_CONFIG"`

	// Log is a file to write logs to. Logs go to stderr when it is empty.
	Log string `envconfig:"APP_LOG"`
	// LogLevel will override the default log level of 'info'.
	LogLevel string `envconfig:"APP_LOG_LEVEL"`
}

// DefaultEnv returns the settings used when the environment is empty.
func DefaultEnv() Env {
	return Env{
		Provider:  DefaultProvider,
		Host:      DefaultHost,
		Port:      DefaultPort,
		Channel:   DefaultChannel,
		Transport: pubsub.TransportClient.String(),
		Timeout:   DefaultTimeout,
	}
}

// EnvAppName is used as a prefix for environment variable
// names when using the LoadXFromEnv funcs.
// It defaults to empty.
var EnvAppName = ""

// LoadEnvConfig will use envconfig to load the
// given config struct from the environment.
func LoadEnvConfig(c interface{}) error {
	if err := envconfig.Process(EnvAppName, c); err != nil {
		return fmt.Errorf("unable to load env variable: %s", err)
	}
	return nil
}

// LoadEnv will load an Env from environment variables, falling back to
// DefaultEnv for anything unset.
func LoadEnv() (Env, error) {
	var env Env
	if err := LoadEnvConfig(&env); err != nil {
		return env, err
	}
	if _, err := ParseTransport(env.Transport); err != nil {
		return env, err
	}
	if env.Timeout < 0 {
		return env, fmt.Errorf("MQ_TIMEOUT must not be negative: %s", env.Timeout)
	}
	return env, nil
}

// ParseTransport will convert "client" or "bindings" into a
// pubsub.TransportMode.
func ParseTransport(s string) (pubsub.TransportMode, error) {
	switch strings.ToLower(s) {
	case "", "client":
		return pubsub.TransportClient, nil
	case "bindings", "binding", "local":
		return pubsub.TransportBindings, nil
	}
	return pubsub.TransportClient, fmt.Errorf("unknown transport mode %q: expected client or bindings", s)
}

// LoadJSONFile is a helper function to read a config file into whatever
// config struct you need, such as a provider's Config.
func LoadJSONFile(fileName string, cfg interface{}) error {
	cb, err := ioutil.ReadFile(fileName)
	if err != nil {
		return fmt.Errorf("unable to read config file '%s': %s", fileName, err)
	}

	if err = json.Unmarshal(cb, cfg); err != nil {
		return fmt.Errorf("unable to parse JSON in config file '%s': %s", fileName, err)
	}
	return nil
}
