// Command mqproducer sends each line typed on stdin to a queue or topic as a
// message of its own transaction.
package main

import (
	"os"

	"github.com/NYTimes/mqcli/config"
	"github.com/NYTimes/mqcli/runner"
)

func main() {
	os.Exit(runner.Main(config.Producer, os.Args))
}
