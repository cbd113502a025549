package pubsub

import "strings"

// TopicPrefix marks a destination name as a publish/subscribe topic.
const TopicPrefix = "topic://"

// DestinationKind tells queues and topics apart.
type DestinationKind int

const (
	// Queue destinations deliver each message to exactly one consumer.
	Queue DestinationKind = iota
	// Topic destinations deliver each message to every subscription.
	Topic
)

func (k DestinationKind) String() string {
	if k == Topic {
		return "topic"
	}
	return "queue"
}

// Destination is a queue or a topic on the broker.
type Destination struct {
	Kind DestinationKind
	// Name is the destination name without the topic prefix.
	Name string
}

// ParseDestination will classify the given name. Names starting with
// TopicPrefix are topics, everything else is a queue.
func ParseDestination(name string) Destination {
	if strings.HasPrefix(name, TopicPrefix) {
		return Destination{Kind: Topic, Name: strings.TrimPrefix(name, TopicPrefix)}
	}
	return Destination{Kind: Queue, Name: name}
}

// IsTopic reports whether d is a topic.
func (d Destination) IsTopic() bool {
	return d.Kind == Topic
}

func (d Destination) String() string {
	if d.Kind == Topic {
		return TopicPrefix + d.Name
	}
	return d.Name
}
