// Command mqconsumer logs the messages on a queue, or on a durable topic
// subscription, until none arrives within the timeout.
package main

import (
	"os"

	"github.com/NYTimes/mqcli/config"
	"github.com/NYTimes/mqcli/runner"
)

func main() {
	os.Exit(runner.Main(config.Consumer, os.Args))
}
