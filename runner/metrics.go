package runner

import (
	kitmetrics "github.com/go-kit/kit/metrics"
	kitprometheus "github.com/go-kit/kit/metrics/prometheus"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/push"

	"github.com/NYTimes/mqcli/config"
	"github.com/NYTimes/mqcli/config/metrics"
)

// Metrics counts what a single run did. The tools are short lived, so the
// counters live in a registry of their own that is pushed to a Prometheus
// Pushgateway when the run ends.
type Metrics struct {
	Registry *prometheus.Registry

	Sent          kitmetrics.Counter
	Commits       kitmetrics.Counter
	Received      kitmetrics.Counter
	CloseFailures kitmetrics.Counter
	// Runs is labelled with the final status of the run.
	Runs kitmetrics.Counter
}

// NewMetrics will register a fresh set of counters for mode under the
// namespace of cfg. A namespace that does not make valid metric names is an
// error.
func NewMetrics(cfg metrics.Metrics, mode config.Mode) (*Metrics, error) {
	reg := prometheus.NewRegistry()
	var regErr error
	counter := func(name, help string, labels ...string) kitmetrics.Counter {
		cv := prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: mode.String(),
			Name:      name,
			Help:      help,
		}, labels)
		if err := reg.Register(cv); err != nil && regErr == nil {
			regErr = errors.Wrapf(err, "invalid metrics namespace %q", cfg.Namespace)
		}
		return kitprometheus.NewCounter(cv)
	}
	m := &Metrics{
		Registry:      reg,
		Sent:          counter("messages_sent_total", "Messages handed to the producer."),
		Commits:       counter("commits_total", "Transactions committed."),
		Received:      counter("messages_received_total", "Messages returned by the consumer."),
		CloseFailures: counter("close_failures_total", "Resources that failed to close.", "resource"),
		Runs:          counter("runs_total", "Completed runs by final status.", "status"),
	}
	if regErr != nil {
		return nil, regErr
	}
	return m, nil
}

// Push will send every counter to the Pushgateway at url under job.
func (m *Metrics) Push(url, job string) error {
	return push.New(url, job).Gatherer(m.Registry).Push()
}
