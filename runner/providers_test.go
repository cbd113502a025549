package runner

import (
	"io/ioutil"
	"path/filepath"
	"testing"

	"github.com/NYTimes/mqcli/config"
	"github.com/NYTimes/mqcli/pubsub"
	"github.com/NYTimes/mqcli/pubsub/aws"
	"github.com/NYTimes/mqcli/pubsub/gcp"
	"github.com/NYTimes/mqcli/pubsub/kafka"
	"github.com/NYTimes/mqcli/pubsub/memory"
	"github.com/NYTimes/mqcli/pubsub/nats"
)

func TestNewProvider(t *testing.T) {
	tests := []struct {
		given string
		check func(pubsub.Provider) bool
	}{
		{"memory", func(p pubsub.Provider) bool { _, ok := p.(*memory.Provider); return ok }},
		{"Kafka", func(p pubsub.Provider) bool { _, ok := p.(*kafka.Provider); return ok }},
		{"aws", func(p pubsub.Provider) bool { _, ok := p.(*aws.Provider); return ok }},
		{"gcp", func(p pubsub.Provider) bool { _, ok := p.(*gcp.Provider); return ok }},
		{"nats", func(p pubsub.Provider) bool { _, ok := p.(*nats.Provider); return ok }},
		{"", func(p pubsub.Provider) bool { _, ok := p.(*nats.Provider); return ok }},
	}
	for _, tt := range tests {
		env := config.DefaultEnv()
		env.Provider = tt.given
		p, err := NewProvider(env)
		if err != nil {
			t.Errorf("provider %q: unexpected error: %s", tt.given, err)
			continue
		}
		if !tt.check(p) {
			t.Errorf("provider %q: unexpected type %T", tt.given, p)
		}
	}
}

func TestNewProviderUnknown(t *testing.T) {
	env := config.DefaultEnv()
	env.Provider = "websphere"
	if _, err := NewProvider(env); err == nil {
		t.Error("expected an error for an unknown provider")
	}
}

func TestNewProviderConfigFile(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "nats.json")
	if err := ioutil.WriteFile(good, []byte(`{"URL": "nats://broker:4222"}`), 0600); err != nil {
		t.Fatal(err)
	}
	bad := filepath.Join(dir, "bad.json")
	if err := ioutil.WriteFile(bad, []byte(`{"URL": `), 0600); err != nil {
		t.Fatal(err)
	}

	env := config.DefaultEnv()
	env.ProviderConfig = good
	if _, err := NewProvider(env); err != nil {
		t.Errorf("unexpected error loading %s: %s", good, err)
	}
	for _, file := range []string{bad, filepath.Join(dir, "missing.json")} {
		env.ProviderConfig = file
		if _, err := NewProvider(env); err == nil {
			t.Errorf("expected an error loading %s", file)
		}
	}
}
