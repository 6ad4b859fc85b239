package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/papercomputeco/stacks/pkg/dotdir"
)

// InitViper creates and returns a configured *viper.Viper.
// It sets defaults from NewDefaultConfig(), reads the config.toml file
// (if found via dotdir resolution), and binds environment variables
// with the STACKS_ prefix.
//
// Config precedence (highest to lowest):
//  1. CLI flags (once bound via BindRegisteredFlags)
//  2. Environment variables (STACKS_API_LISTEN, STACKS_EMBEDDING_API_KEY, etc.)
//  3. config.toml file values
//  4. Defaults from NewDefaultConfig()
func InitViper(configDir string) (*viper.Viper, error) {
	v := viper.New()

	// 1. Register all defaults from NewDefaultConfig().
	setViperDefaults(v)

	// 2. Config file discovery via dotdir resolution.
	v.SetConfigName("config")
	v.SetConfigType("toml")

	ddm := dotdir.NewManager()
	target, err := ddm.Target(configDir)
	if err != nil {
		return nil, fmt.Errorf("resolving config dir: %w", err)
	}

	if target != "" {
		v.AddConfigPath(target)
	}

	if err := v.ReadInConfig(); err != nil {
		// Config file not found errors are fine, defaults will apply.
		if !errors.As(err, &viper.ConfigFileNotFoundError{}) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	// 3. Environment variables: STACKS_API_LISTEN, STACKS_INGEST_BATCH_SIZE, etc.
	v.SetEnvPrefix("STACKS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return v, nil
}

// FromViper resolves every config key through v's precedence chain.
func FromViper(v *viper.Viper) (*Config, error) {
	cfg := &Config{Version: v.GetInt("version")}

	for _, key := range orderedKeys {
		value := v.GetString(key)
		if value == "" {
			continue
		}
		if err := configKeys[key].set(cfg, value); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// setViperDefaults registers defaults from NewDefaultConfig() into viper
// using dotted-key notation. This keeps defaults.go as the single source of truth.
func setViperDefaults(v *viper.Viper) {
	d := NewDefaultConfig()

	v.SetDefault("version", d.Version)

	// API
	v.SetDefault("api.listen", d.API.Listen)

	// Client
	v.SetDefault("client.api_target", d.Client.APITarget)

	// Vector store
	v.SetDefault("vector_store.provider", d.VectorStore.Provider)
	v.SetDefault("vector_store.target", d.VectorStore.Target)
	v.SetDefault("vector_store.collection", d.VectorStore.Collection)

	// Embedding
	v.SetDefault("embedding.provider", d.Embedding.Provider)
	v.SetDefault("embedding.target", d.Embedding.Target)
	v.SetDefault("embedding.model", d.Embedding.Model)
	v.SetDefault("embedding.dimensions", d.Embedding.Dimensions)
	v.SetDefault("embedding.api_key", d.Embedding.APIKey)

	// Ingest
	v.SetDefault("ingest.batch_size", d.Ingest.BatchSize)
	v.SetDefault("ingest.batch_interval_ms", d.Ingest.BatchIntervalMS)
	v.SetDefault("ingest.call_timeout_ms", d.Ingest.CallTimeoutMS)
	v.SetDefault("ingest.workers", d.Ingest.Workers)
	v.SetDefault("ingest.queue_size", d.Ingest.QueueSize)
	v.SetDefault("ingest.job_timeout_ms", d.Ingest.JobTimeoutMS)
	v.SetDefault("ingest.max_consecutive_failures", d.Ingest.MaxConsecutiveFailures)
	v.SetDefault("ingest.upsert_retries", d.Ingest.UpsertRetries)
	v.SetDefault("ingest.simulation_interval_ms", d.Ingest.SimulationIntervalMS)

	// Chunking
	v.SetDefault("chunking.target_size", d.Chunking.TargetSize)
	v.SetDefault("chunking.overlap", d.Chunking.OverlapOrDefault())

	// Retrieval
	v.SetDefault("retrieval.max_passages", d.Retrieval.MaxPassages)
	v.SetDefault("retrieval.max_context_chars", d.Retrieval.MaxContextChars)

	// Jobs
	v.SetDefault("jobs.provider", d.Jobs.Provider)
	v.SetDefault("jobs.dsn", d.Jobs.DSN)
	v.SetDefault("jobs.retention_ms", d.Jobs.RetentionMS)

	// Events
	v.SetDefault("events.provider", d.Events.Provider)
	v.SetDefault("events.brokers", d.Events.Brokers)
	v.SetDefault("events.topic", d.Events.Topic)
}
