package gcp // import "github.com/NYTimes/mqcli/config/gcp"

import (
	"context"
	"io/ioutil"

	"github.com/pkg/errors"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"

	"github.com/NYTimes/mqcli/config"
)

// Config holds common Google Cloud Platform credentials.
type Config struct {
	ProjectID string `envconfig:"GCP_PROJECT_ID"`

	// JSONAuthPath points to a file containing a JWT JSON config.
	// This is meant to be a fall back for development environments.
	JSONAuthPath string `envconfig:"GCP_JSON_AUTH_PATH"`

	// Token is a JWT JSON config and may be needed for container
	// environments.
	Token string `envconfig:"GCP_AUTH_TOKEN"`
}

// LoadConfigFromEnv will attempt to load a GCP config
// from environment variables.
func LoadConfigFromEnv() Config {
	var gcp Config
	config.LoadEnvConfig(&gcp)
	return gcp
}

// ClientOption will attempt create a new option.ClientOption from
// the Token or JSONAuthPath fields if provided. Otherwise only the given
// scopes are set and application default credentials apply.
func (g Config) ClientOption(ctx context.Context, scopes ...string) (option.ClientOption, error) {
	if len(g.Token) > 0 {
		return g.optionFromJSON(ctx, []byte(g.Token), scopes...)
	}

	if len(g.JSONAuthPath) > 0 {
		jsonKey, err := ioutil.ReadFile(g.JSONAuthPath)
		if err != nil {
			return nil, errors.Wrap(err, "unable to read GCP credentials")
		}
		return g.optionFromJSON(ctx, jsonKey, scopes...)
	}

	return option.WithScopes(scopes...), nil
}

func (g Config) optionFromJSON(ctx context.Context, jsonKey []byte, scopes ...string) (option.ClientOption, error) {
	conf, err := google.JWTConfigFromJSON(jsonKey, scopes...)
	if err != nil {
		return nil, errors.Wrap(err, "invalid GCP JWT config")
	}
	return option.WithTokenSource(conf.TokenSource(ctx)), nil
}
