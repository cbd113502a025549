package runner

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/pkg/errors"

	"github.com/NYTimes/mqcli/config"
	"github.com/NYTimes/mqcli/config/metrics"
	"github.com/NYTimes/mqcli/pubsub"
)

// Runner is one invocation of a tool. Program is the name printed in the
// usage text.
type Runner struct {
	Mode     config.Mode
	Program  string
	Env      config.Env
	Provider pubsub.Provider
	Metrics  metrics.Metrics

	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}

// Main will run the tool for mode against the environment and standard
// streams of the process and return its exit code. args includes the
// program name.
func Main(mode config.Mode, args []string) int {
	program := filepath.Base(args[0])
	env, err := config.LoadEnv()
	if err == nil {
		err = SetupLog(env, os.Stderr)
	}
	if err != nil {
		Log.Error(err)
		return int(StatusFailure)
	}

	provider, err := NewProvider(env)
	if err != nil {
		Log.Error(err)
		fmt.Fprint(os.Stderr, config.Usage(mode, program))
		return int(StatusFailure)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(ch)
	go func() {
		select {
		case sig := <-ch:
			Log.Infof("Received signal %s", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	r := &Runner{
		Mode:     mode,
		Program:  program,
		Env:      env,
		Provider: provider,
		Metrics:  metrics.LoadFromEnv(),
		Stdin:    os.Stdin,
		Stdout:   os.Stdout,
		Stderr:   os.Stderr,
	}
	return r.Run(ctx, args[1:])
}

// Run will parse args, run the message loop and close everything it opened.
// Usage errors are reported before the provider is touched.
func (r *Runner) Run(ctx context.Context, args []string) int {
	cfg, err := config.ParseArgs(r.Mode, args, r.Env)
	if err != nil {
		Log.Error(err)
		fmt.Fprint(r.Stderr, config.Usage(r.Mode, r.Program))
		return int(StatusFailure)
	}

	m, err := NewMetrics(r.Metrics, r.Mode)
	if err != nil {
		Log.Error(err)
		return int(StatusFailure)
	}
	st := newRun(m)
	switch r.Mode {
	case config.Consumer:
		st.consume(ctx, r.Provider, cfg)
	default:
		st.produce(ctx, r.Provider, cfg, r.Stdin, r.Stdout)
	}
	if ctx.Err() != nil && st.status != StatusFailure {
		st.recordFailure(errors.Wrap(ctx.Err(), "run interrupted"))
	}
	m.Runs.With("status", st.status.String()).Add(1)

	if r.Metrics.Enabled() {
		job := r.Metrics.JobName("mq" + r.Mode.String())
		if err := m.Push(r.Metrics.Pushgateway, job); err != nil {
			Log.Warnf("unable to push metrics to %s: %s", r.Metrics.Pushgateway, err)
		}
	}
	return int(st.status)
}
