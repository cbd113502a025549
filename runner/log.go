package runner

import (
	"io"

	"github.com/NYTimes/logrotate"
	"github.com/sirupsen/logrus"

	"github.com/NYTimes/mqcli/config"
	"github.com/NYTimes/mqcli/pubsub"
)

// Log is the global logger for both tools. The pubsub providers log through
// it as well once SetupLog has run.
var Log = logrus.New()

// SetupLog will send logs to the logrotate file named by env.Log as JSON,
// or to w as text when no file is configured.
func SetupLog(env config.Env, w io.Writer) error {
	if env.Log != "" {
		lf, err := logrotate.NewFile(env.Log)
		if err != nil {
			return err
		}
		Log.Out = lf
		// json output when writing to file
		Log.Formatter = &logrus.JSONFormatter{}
	} else {
		Log.Out = w
		Log.Formatter = &logrus.TextFormatter{}
	}
	SetLogLevel(env)
	pubsub.Log = Log
	return nil
}

// SetLogLevel will set the appropriate logrus log level
// given the environment.
func SetLogLevel(env config.Env) {
	switch env.LogLevel {
	case "debug":
		Log.SetLevel(logrus.DebugLevel)
	case "warn":
		Log.SetLevel(logrus.WarnLevel)
	case "error":
		Log.SetLevel(logrus.ErrorLevel)
	case "fatal":
		Log.SetLevel(logrus.FatalLevel)
	default:
		Log.SetLevel(logrus.InfoLevel)
	}
}
