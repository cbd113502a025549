package metrics

import (
	"github.com/NYTimes/mqcli/config"
)

// Metrics config can be used to configure where the counters of a run are
// sent. The tools exit as soon as their loop ends, so counters are pushed
// to a Prometheus Pushgateway rather than scraped.
type Metrics struct {
	// Pushgateway is the base URL of the gateway. Nothing is pushed when it
	// is empty.
	Pushgateway string `envconfig:"MQ_METRICS_PUSHGATEWAY"`

	// Namespace is prefixed onto every metric name.
	Namespace string `envconfig:"METRICS_NAMESPACE" default:"mqcli"`

	// Job names the push group. If empty, the tool name is used.
	Job string `envconfig:"METRICS_JOB"`
}

// LoadFromEnv will attempt to load a Metrics object
// from environment variables.
func LoadFromEnv() Metrics {
	var mets Metrics
	config.LoadEnvConfig(&mets)
	return mets
}

// Enabled reports whether counters should be pushed at all.
func (cfg Metrics) Enabled() bool {
	return cfg.Pushgateway != ""
}

// JobName returns Job, falling back to tool.
func (cfg Metrics) JobName(tool string) string {
	if cfg.Job != "" {
		return cfg.Job
	}
	return tool
}
