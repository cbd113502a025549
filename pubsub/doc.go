/*
Package pubsub contains a generic, provider neutral contract for talking to a message broker
through connections, sessions, producers and consumers.

    // Provider is a generic interface to encapsulate how a broker client is
    // configured.
    type Provider interface {
        Connect(ctx context.Context, props Properties) (Connection, error)
    }

A Connection opens Sessions. A Session creates Producers and Consumers for a Destination and,
when it is Transacted, holds sent messages back until Commit. A Consumer's Receive blocks for at
most the given timeout and returns a nil message when nothing arrived.

Destinations are classified by name: anything starting with "topic://" is a publish/subscribe
topic, everything else is a point-to-point queue.

    dest := pubsub.ParseDestination("topic://prices")

Failures from a provider are returned as *Error values, whose Causes method lists the nested
errors from the client library.

There are currently 4 implementations of the contract backed by real brokers:

For Kafka topics via Shopify/sarama, you can use the `pubsub/kafka` package.

For Amazon's SQS queues and SNS topics, you can use the `pubsub/aws` package.

For Google's Pubsub, you can use the `pubsub/gcp` package.

For NATS JetStream, you can use the `pubsub/nats` package.

The `pubsub/memory` package holds an in-process broker and the `pubsub/pubsubtest` package
holds scripted fakes for tests.
*/
package pubsub // import "github.com/NYTimes/mqcli/pubsub"
