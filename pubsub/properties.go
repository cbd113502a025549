package pubsub

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// Properties holds the connection factory settings handed to a Provider.
// Providers map the generic fields onto whatever their client library
// understands and ignore the ones that have no equivalent.
type Properties struct {
	Host         string
	Port         int
	Channel      string
	QueueManager string
	Transport    TransportMode

	// ClientID identifies the connection to the broker. Durable
	// subscriptions are scoped to it.
	ClientID string

	User     string
	Password string
	// Authenticate is set when User and Password must be presented to the
	// broker.
	Authenticate bool
}

// Addr will return the host and port joined for dialing.
func (p Properties) Addr() string {
	return net.JoinHostPort(p.Host, strconv.Itoa(p.Port))
}

// String will render the properties for logging. The password is masked.
func (p Properties) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "host=%s port=%d channel=%s queueManager=%s transport=%s",
		p.Host, p.Port, p.Channel, p.QueueManager, p.Transport)
	if p.ClientID != "" {
		fmt.Fprintf(&b, " clientID=%s", p.ClientID)
	}
	if p.Authenticate {
		fmt.Fprintf(&b, " user=%s password=******** authenticate=true", p.User)
	}
	return b.String()
}
