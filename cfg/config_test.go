package cfg

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate_DefaultConfig(t *testing.T) {
	conf := Default()
	if err := conf.Validate(); err != nil {
		t.Errorf("Expected no error for default config, got: %v", err)
	}
}

func TestValidate_InvalidValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Configuration)
	}{
		{"empty service name", func(c *Configuration) { c.Service.Name = "" }},
		{"empty source", func(c *Configuration) { c.Service.Source = "" }},
		{"empty event bus", func(c *Configuration) { c.Service.EventBus = "" }},
		{"zero workers", func(c *Configuration) { c.Pipeline.Workers = 0 }},
		{"zero invocation timeout", func(c *Configuration) { c.Pipeline.InvocationTimeoutMS = 0 }},
		{"bad partition mode", func(c *Configuration) { c.Pipeline.PartitionFailureMode = "skip" }},
		{"bad driver", func(c *Configuration) { c.Enrichment.Driver = "postgres" }},
		{"negative cache size", func(c *Configuration) { c.Enrichment.CacheSize = -1 }},
		{"cache without ttl", func(c *Configuration) { c.Enrichment.CacheTTLMS = 0 }},
		{"zero dedupe ttl", func(c *Configuration) { c.Dedupe.TTLHours = 0 }},
		{"unknown dedupe store", func(c *Configuration) { c.Dedupe.Store = "redis" }},
		{"pebble without path", func(c *Configuration) {
			c.Dedupe.Store = DedupePebble
			c.Dedupe.PebblePath = ""
		}},
		{"dynamodb without table", func(c *Configuration) { c.Dedupe.Store = DedupeDynamoDB }},
		{"nats without url", func(c *Configuration) { c.Dedupe.Store = DedupeNATS }},
		{"empty sink", func(c *Configuration) { c.Publisher.Sink = "" }},
		{"negative retries", func(c *Configuration) { c.Publisher.MaxRetries = -1 }},
		{"shrinking backoff", func(c *Configuration) { c.Publisher.RetryMultiplier = 0.5 }},
		{"bad http port", func(c *Configuration) { c.HTTP.Port = 70000 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conf := Default()
			tt.mutate(conf)
			assert.Error(t, conf.Validate())
		})
	}
}

func TestValidate_CacheDisabledNeedsNoTTL(t *testing.T) {
	conf := Default()
	conf.Enrichment.CacheSize = 0
	conf.Enrichment.CacheTTLMS = 0
	assert.NoError(t, conf.Validate())
}

func TestLoad_NonExistentFile(t *testing.T) {
	conf, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	require.NoError(t, err)

	assert.Equal(t, "cdcrelay", conf.Service.Name)
	assert.Equal(t, DedupeMemory, conf.Dedupe.Store)
	assert.NotEmpty(t, conf.Service.InstanceID)
}

func TestLoad_FromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
[service]
name = "tenant-cdc"
event_bus = "tenant-bus"
instance_id = "node-a"

[pipeline]
workers = 3
invocation_timeout_ms = 1500
partition_failure_mode = "continue"

[dedupe]
store = "pebble"
pebble_path = "/tmp/dedupe"
ttl_hours = 72

[publisher]
sink = "kafka"
brokers = ["localhost:9092"]
topic = "cdc-events"

[filter]
exclude_tables = ["audit_*"]
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	conf, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, conf.Validate())

	assert.Equal(t, "tenant-cdc", conf.Service.Name)
	assert.Equal(t, "cdcrelay.cdc", conf.Service.Source, "unset keys keep defaults")
	assert.Equal(t, "tenant-bus", conf.Service.EventBus)
	assert.Equal(t, "node-a", conf.Service.InstanceID)
	assert.Equal(t, 3, conf.Pipeline.Workers)
	assert.Equal(t, 1500*time.Millisecond, conf.InvocationTimeout())
	assert.Equal(t, PartitionContinue, conf.Pipeline.PartitionFailureMode)
	assert.Equal(t, DedupePebble, conf.Dedupe.Store)
	assert.Equal(t, 72*time.Hour, conf.DedupeTTL())
	assert.Equal(t, "kafka", conf.Publisher.Sink)
	assert.Equal(t, []string{"localhost:9092"}, conf.Publisher.Brokers)
	assert.Equal(t, []string{"audit_*"}, conf.Filter.ExcludeTables)
}

func TestLoad_InvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("[service\nname = "), 0644))

	_, err := Load(path)
	assert.Error(t, err)
}
