/*
Package runner holds the shared body of the mqproducer and mqconsumer tools.

Each tool parses its arguments into a config.Config, connects to the broker
selected by MQ_PROVIDER through the pubsub contract, runs its message loop and
closes everything it opened before returning an exit code:

	os.Exit(runner.Main(config.Producer, os.Args))

Main is the only place that touches the process environment. Runner.Run can
be driven directly with any pubsub.Provider, reader and writers, which is how
the tools are tested.
*/
package runner // import "github.com/NYTimes/mqcli/runner"
