package cfg

import (
	"fmt"
	"hash/fnv"
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/denisbrodbeck/machineid"
	"github.com/rs/zerolog/log"
)

// Dedupe store backends
const (
	DedupeMemory   = "memory"
	DedupePebble   = "pebble"
	DedupeDynamoDB = "dynamodb"
	DedupeNATS     = "nats"
)

// Partition failure modes
const (
	PartitionHalt     = "halt"     // Fail the rest of the partition after a retryable failure
	PartitionContinue = "continue" // Keep processing the partition after a retryable failure
)

// ServiceConfiguration identifies the relay in published envelopes
type ServiceConfiguration struct {
	Name          string `toml:"name"`           // metadata.service
	Source        string `toml:"source"`         // envelope source
	EventBus      string `toml:"event_bus"`      // envelope eventBusTarget
	SchemaVersion string `toml:"schema_version"` // metadata.schemaVersion
	InstanceID    string `toml:"instance_id"`    // Auto-derived from machine id when empty
}

// PipelineConfiguration controls batch orchestration
type PipelineConfiguration struct {
	Workers              int    `toml:"workers"`               // Concurrent partition chains
	InvocationTimeoutMS  int    `toml:"invocation_timeout_ms"` // Overall deadline per batch
	PartitionFailureMode string `toml:"partition_failure_mode"`
}

// EnrichmentConfiguration controls the lookup repository and its cache
type EnrichmentConfiguration struct {
	Driver         string `toml:"driver"` // "mysql" or "sqlite3"
	DSN            string `toml:"dsn"`
	QueryTimeoutMS int    `toml:"query_timeout_ms"`
	MaxOpenConns   int    `toml:"max_open_conns"`
	CacheSize      int    `toml:"cache_size"` // 0 disables the cache
	CacheTTLMS     int    `toml:"cache_ttl_ms"`
}

// DedupeConfiguration controls the deduplication store
type DedupeConfiguration struct {
	Store                string `toml:"store"`
	KeyPrefix            string `toml:"key_prefix"`
	TTLHours             int    `toml:"ttl_hours"`
	TimeoutMS            int    `toml:"timeout_ms"`
	PebblePath           string `toml:"pebble_path"`
	SweepIntervalSeconds int    `toml:"sweep_interval_seconds"`
	DynamoDBTable        string `toml:"dynamodb_table"`
	AWSRegion            string `toml:"aws_region"`
	NatsURL              string `toml:"nats_url"`
	NatsBucket           string `toml:"nats_bucket"`
}

// PublisherConfiguration controls the downstream sink
type PublisherConfiguration struct {
	Sink            string   `toml:"sink"` // "eventbridge", "kafka", "nats"
	AWSRegion       string   `toml:"aws_region"`
	Brokers         []string `toml:"brokers"`
	Topic           string   `toml:"topic"`
	NatsURL         string   `toml:"nats_url"`
	MaxBatchSize    int      `toml:"max_batch_size"` // 0 uses the sink maximum
	FlushIntervalMS int      `toml:"flush_interval_ms"`
	TimeoutMS       int      `toml:"timeout_ms"`
	RetryInitialMS  int      `toml:"retry_initial_ms"`
	RetryMaxMS      int      `toml:"retry_max_ms"`
	RetryMultiplier float64  `toml:"retry_multiplier"`
	MaxRetries      int      `toml:"max_retries"`
}

// FilterConfiguration selects which tables are relayed
type FilterConfiguration struct {
	IncludeTables  []string `toml:"include_tables"`
	ExcludeTables  []string `toml:"exclude_tables"`
	IncludeSchemas []string `toml:"include_schemas"`
}

// HTTPConfiguration for the batch intake endpoint
type HTTPConfiguration struct {
	BindAddress  string `toml:"bind_address"`
	Port         int    `toml:"port"`
	MaxBodyBytes int64  `toml:"max_body_bytes"`
}

// LoggingConfiguration controls logging behavior
type LoggingConfiguration struct {
	Verbose bool   `toml:"verbose"`
	Format  string `toml:"format"` // "console" or "json"
}

// PrometheusConfiguration for metrics
type PrometheusConfiguration struct {
	Enabled bool `toml:"enabled"`
}

// TracingConfiguration for OpenTelemetry export
type TracingConfiguration struct {
	Enabled  bool   `toml:"enabled"`
	Endpoint string `toml:"endpoint"` // OTLP/HTTP host:port
}

// Configuration is the main configuration structure
type Configuration struct {
	Service    ServiceConfiguration    `toml:"service"`
	Pipeline   PipelineConfiguration   `toml:"pipeline"`
	Enrichment EnrichmentConfiguration `toml:"enrichment"`
	Dedupe     DedupeConfiguration     `toml:"dedupe"`
	Publisher  PublisherConfiguration  `toml:"publisher"`
	Filter     FilterConfiguration     `toml:"filter"`
	HTTP       HTTPConfiguration       `toml:"http"`
	Logging    LoggingConfiguration    `toml:"logging"`
	Prometheus PrometheusConfiguration `toml:"prometheus"`
	Tracing    TracingConfiguration    `toml:"tracing"`
}

// Default returns a configuration populated with defaults
func Default() *Configuration {
	return &Configuration{
		Service: ServiceConfiguration{
			Name:          "cdcrelay",
			Source:        "cdcrelay.cdc",
			EventBus:      "default",
			SchemaVersion: "1.0",
		},

		Pipeline: PipelineConfiguration{
			Workers:              8,
			InvocationTimeoutMS:  60000,
			PartitionFailureMode: PartitionHalt,
		},

		Enrichment: EnrichmentConfiguration{
			Driver:         "mysql",
			QueryTimeoutMS: 2000,
			MaxOpenConns:   8,
			CacheSize:      4096,
			CacheTTLMS:     5000,
		},

		Dedupe: DedupeConfiguration{
			Store:                DedupeMemory,
			KeyPrefix:            "cdc#",
			TTLHours:             48, // Longer than the 24h default stream retention
			TimeoutMS:            2000,
			PebblePath:           "./cdcrelay-data/dedupe",
			SweepIntervalSeconds: 300,
			NatsBucket:           "cdc_dedupe",
		},

		Publisher: PublisherConfiguration{
			Sink:            "eventbridge",
			FlushIntervalMS: 5,
			TimeoutMS:       5000,
			RetryInitialMS:  50,
			RetryMaxMS:      1000,
			RetryMultiplier: 2.0,
			MaxRetries:      3,
		},

		HTTP: HTTPConfiguration{
			BindAddress:  "0.0.0.0",
			Port:         8080,
			MaxBodyBytes: 6 << 20, // 6MB
		},

		Logging: LoggingConfiguration{
			Verbose: false,
			Format:  "console",
		},

		Prometheus: PrometheusConfiguration{
			Enabled: true,
		},

		Tracing: TracingConfiguration{
			Enabled:  false,
			Endpoint: "localhost:4318",
		},
	}
}

// Load builds a configuration from defaults and the given file, if present
func Load(configPath string) (*Configuration, error) {
	conf := Default()

	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			log.Info().Str("path", configPath).Msg("Loading configuration")
			if _, err := toml.DecodeFile(configPath, conf); err != nil {
				return nil, fmt.Errorf("failed to decode config: %w", err)
			}
		} else {
			log.Warn().Str("path", configPath).Msg("Config file not found, using defaults")
		}
	}

	if conf.Service.InstanceID == "" {
		id, err := generateInstanceID(conf.Service.Name)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to derive instance ID from machine ID, using hostname")
			id, _ = os.Hostname()
		}
		conf.Service.InstanceID = id
	}

	return conf, nil
}

// generateInstanceID derives a stable instance id from the machine id
func generateInstanceID(app string) (string, error) {
	id, err := machineid.ProtectedID(app)
	if err != nil {
		return "", err
	}

	h := fnv.New64a()
	h.Write([]byte(id))
	return strconv.FormatUint(h.Sum64(), 16), nil
}

// Validate checks configuration for errors
func (c *Configuration) Validate() error {
	if c.Service.Name == "" {
		return fmt.Errorf("service name is required")
	}
	if c.Service.Source == "" {
		return fmt.Errorf("service source is required")
	}
	if c.Service.EventBus == "" {
		return fmt.Errorf("service event bus is required")
	}

	if c.Pipeline.Workers < 1 {
		return fmt.Errorf("pipeline workers must be >= 1")
	}
	if c.Pipeline.InvocationTimeoutMS < 1 {
		return fmt.Errorf("pipeline invocation timeout must be >= 1ms")
	}
	switch c.Pipeline.PartitionFailureMode {
	case PartitionHalt, PartitionContinue:
	default:
		return fmt.Errorf("invalid partition failure mode: %s", c.Pipeline.PartitionFailureMode)
	}

	switch c.Enrichment.Driver {
	case "mysql", "sqlite3":
	default:
		return fmt.Errorf("invalid enrichment driver: %s", c.Enrichment.Driver)
	}
	if c.Enrichment.QueryTimeoutMS < 1 {
		return fmt.Errorf("enrichment query timeout must be >= 1ms")
	}
	if c.Enrichment.CacheSize < 0 {
		return fmt.Errorf("enrichment cache size must be >= 0")
	}
	if c.Enrichment.CacheSize > 0 && c.Enrichment.CacheTTLMS < 1 {
		return fmt.Errorf("enrichment cache TTL must be >= 1ms when the cache is enabled")
	}

	if c.Dedupe.TTLHours < 1 {
		return fmt.Errorf("dedupe TTL must be >= 1 hour")
	}
	if c.Dedupe.TimeoutMS < 1 {
		return fmt.Errorf("dedupe timeout must be >= 1ms")
	}
	switch c.Dedupe.Store {
	case DedupeMemory:
	case DedupePebble:
		if c.Dedupe.PebblePath == "" {
			return fmt.Errorf("dedupe pebble_path is required for the pebble store")
		}
	case DedupeDynamoDB:
		if c.Dedupe.DynamoDBTable == "" {
			return fmt.Errorf("dedupe dynamodb_table is required for the dynamodb store")
		}
	case DedupeNATS:
		if c.Dedupe.NatsURL == "" || c.Dedupe.NatsBucket == "" {
			return fmt.Errorf("dedupe nats_url and nats_bucket are required for the nats store")
		}
	default:
		return fmt.Errorf("invalid dedupe store: %s", c.Dedupe.Store)
	}

	if c.Publisher.Sink == "" {
		return fmt.Errorf("publisher sink is required")
	}
	if c.Publisher.MaxBatchSize < 0 {
		return fmt.Errorf("publisher max batch size must be >= 0")
	}
	if c.Publisher.TimeoutMS < 1 {
		return fmt.Errorf("publisher timeout must be >= 1ms")
	}
	if c.Publisher.MaxRetries < 0 {
		return fmt.Errorf("publisher max retries must be >= 0")
	}
	if c.Publisher.RetryMultiplier < 1 {
		return fmt.Errorf("publisher retry multiplier must be >= 1")
	}

	if c.HTTP.Port < 1 || c.HTTP.Port > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTP.Port)
	}

	return nil
}

// InvocationTimeout returns the per-batch deadline
func (c *Configuration) InvocationTimeout() time.Duration {
	return time.Duration(c.Pipeline.InvocationTimeoutMS) * time.Millisecond
}

// DedupeTTL returns how long a claim is remembered
func (c *Configuration) DedupeTTL() time.Duration {
	return time.Duration(c.Dedupe.TTLHours) * time.Hour
}
