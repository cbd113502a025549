package config

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/NYTimes/mqcli/pubsub"
)

// Mode tells the argument parser which tool it is parsing for.
type Mode int

const (
	// Producer publishes lines read from stdin.
	Producer Mode = iota
	// Consumer receives until a timeout passes without a message.
	Consumer
)

func (m Mode) String() string {
	if m == Consumer {
		return "consumer"
	}
	return "producer"
}

// Config is the immutable result of parsing a tool's arguments.
type Config struct {
	Mode         Mode
	Host         string
	Port         int
	Channel      string
	QueueManager string
	// DestinationName is the raw -d value, including any topic prefix.
	DestinationName string
	User            string
	Password        string
	Transport       pubsub.TransportMode
	// Timeout is the consumer's receive timeout. Zero waits forever.
	Timeout time.Duration
}

// Destination will classify DestinationName as a queue or topic.
func (c *Config) Destination() pubsub.Destination {
	return pubsub.ParseDestination(c.DestinationName)
}

// HasCredentials reports whether a user or password was given. An empty
// user with a password is still presented to the broker.
func (c *Config) HasCredentials() bool {
	return c.User != "" || c.Password != ""
}

// UsageError is returned by ParseArgs for any malformed argument list.
type UsageError struct {
	Reason string
}

func (e *UsageError) Error() string {
	return e.Reason
}

func usageErrorf(format string, args ...interface{}) error {
	return &UsageError{Reason: fmt.Sprintf(format, args...)}
}

// ParseArgs will turn a flat list of flag/value pairs into a Config. Only the
// first letter after the '-' of each flag counts and it is case-insensitive,
// so -h, -H and -host are the same flag. Values not given on the command line
// come from env.
func ParseArgs(mode Mode, args []string, env Env) (*Config, error) {
	transport, err := ParseTransport(env.Transport)
	if err != nil {
		return nil, &UsageError{Reason: err.Error()}
	}
	cfg := &Config{
		Mode:      mode,
		Host:      env.Host,
		Port:      env.Port,
		Channel:   env.Channel,
		Transport: transport,
	}
	if mode == Consumer {
		cfg.Timeout = env.Timeout
	}
	var userSet, passwordSet bool

	if len(args) == 0 {
		return nil, usageErrorf("No arguments! Mandatory arguments must be specified.")
	}
	if len(args)%2 != 0 {
		return nil, usageErrorf("Incorrect number of arguments!")
	}

	for i := 0; i < len(args); i += 2 {
		flag, value := args[i], args[i+1]
		if !strings.HasPrefix(flag, "-") {
			return nil, usageErrorf("Expected a '-' character next: %s", flag)
		}
		letters := []rune(flag)
		if len(letters) < 2 {
			return nil, usageErrorf("Expected a flag letter after '-'")
		}

		switch opt := unicode.ToLower(letters[1]); opt {
		case 'h':
			cfg.Host = value
			cfg.Transport = pubsub.TransportClient
		case 'p':
			port, err := strconv.Atoi(value)
			if err != nil {
				return nil, usageErrorf("Port must be a whole number: %s", value)
			}
			cfg.Port = port
		case 'l':
			cfg.Channel = value
		case 'm':
			cfg.QueueManager = value
		case 'd':
			cfg.DestinationName = value
		case 'u':
			cfg.User = value
			userSet = true
		case 'w':
			cfg.Password = value
			passwordSet = true
		case 't':
			if mode != Consumer {
				return nil, usageErrorf("Unknown argument: %c", opt)
			}
			timeout, err := parseTimeout(value)
			if err != nil {
				return nil, err
			}
			cfg.Timeout = timeout
		default:
			return nil, usageErrorf("Unknown argument: %c", opt)
		}
	}

	if cfg.QueueManager == "" {
		return nil, usageErrorf("A queueManager name must be specified.")
	}
	if cfg.DestinationName == "" {
		return nil, usageErrorf("A destination name must be specified.")
	}
	if cfg.Timeout < 0 {
		return nil, usageErrorf("Timeout must be a whole number of seconds")
	}
	if userSet != passwordSet {
		return nil, usageErrorf("A userid and password must be specified together")
	}
	return cfg, nil
}

func parseTimeout(value string) (time.Duration, error) {
	secs, err := strconv.ParseInt(value, 10, 64)
	if err != nil || secs < 0 || secs > math.MaxInt64/int64(time.Second) {
		return 0, usageErrorf("Timeout must be a whole number of seconds")
	}
	return time.Duration(secs) * time.Second, nil
}

// Usage returns the usage text for the tool named program.
func Usage(mode Mode, program string) string {
	var b strings.Builder
	b.WriteString("\nUsage:\n")
	fmt.Fprintf(&b, "%s -m queueManagerName -d destinationName [-h host -p port -l channel] [-u user -w passWord]", program)
	if mode == Consumer {
		b.WriteString(" [-t timeout_seconds]")
	}
	b.WriteString("\n\nDestinations starting with topic:// are topics, everything else is a queue.\n")
	b.WriteString("The broker is chosen with MQ_PROVIDER (memory, kafka, aws, gcp, nats).\n")
	return b.String()
}
