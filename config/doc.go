/*
Package config contains the settings shared by the mqproducer and mqconsumer tools.

There are two layers:

    * Env, loaded from environment variables with envconfig, carries the
      broker provider, connection defaults and logging settings.
    * Config, built by ParseArgs from the command line, carries everything
      a single run needs. Command line values win over Env.

Cloud credential structs used by the AWS and GCP providers live in the aws
and gcp subpackages and the Pushgateway settings live in metrics. Each provider keeps its own broker settings next to its
implementation.
*/
package config // import "github.com/NYTimes/mqcli/config"
