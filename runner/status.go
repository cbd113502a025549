package runner

import (
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/NYTimes/mqcli/pubsub"
)

// Status is the outcome of a run. Its value is the process exit code.
type Status int

const (
	// StatusSuccess is recorded once a message loop finishes cleanly.
	StatusSuccess Status = 0
	// StatusUnset is the exit code of a run that never recorded an outcome.
	StatusUnset Status = 1
	// StatusFailure is recorded by any failure. It is never cleared.
	StatusFailure Status = -1
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusFailure:
		return "failure"
	}
	return "unset"
}

// run tracks the outcome of one tool invocation.
type run struct {
	status  Status
	metrics *Metrics
}

func newRun(m *Metrics) *run {
	return &run{status: StatusUnset, metrics: m}
}

func (r *run) recordSuccess() {
	Log.Info("SUCCESS")
	if r.status != StatusFailure {
		r.status = StatusSuccess
	}
}

// recordFailure will log err and every error beneath it and mark the run as
// failed.
func (r *run) recordFailure(err error) {
	if err != nil {
		var perr *pubsub.Error
		if errors.As(err, &perr) {
			Log.WithFields(logrus.Fields{
				"provider":  perr.Provider,
				"operation": perr.Op,
			}).Error(err)
			if causes := perr.Causes(); len(causes) > 0 {
				Log.Error("Inner exception(s):")
				for _, cause := range causes {
					Log.Errorf("Inner exception %s", cause)
				}
			}
		} else {
			Log.Errorf("The exception is :: %s", err)
		}
	}
	Log.Error("FAILURE")
	r.status = StatusFailure
}
