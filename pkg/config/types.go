package config

import (
	"fmt"
	"strconv"
)

// Config represents the persistent stacks configuration stored as config.toml
// in the .stacks/ directory. The TOML layout uses sections for logical grouping.
type Config struct {
	Version     int               `toml:"version"`
	API         APIConfig         `toml:"api"`
	Client      ClientConfig      `toml:"client"`
	VectorStore VectorStoreConfig `toml:"vector_store"`
	Embedding   EmbeddingConfig   `toml:"embedding"`
	Ingest      IngestConfig      `toml:"ingest"`
	Chunking    ChunkingConfig    `toml:"chunking"`
	Retrieval   RetrievalConfig   `toml:"retrieval"`
	Jobs        JobsConfig        `toml:"jobs"`
	Events      EventsConfig      `toml:"events"`
}

// APIConfig holds API server settings.
type APIConfig struct {
	Listen string `toml:"listen,omitempty"`
}

// ClientConfig holds settings for CLI commands that connect to a running
// API server (e.g. stacks ingest, stacks status, stacks context).
// Values are full URLs (scheme + host + port).
type ClientConfig struct {
	APITarget string `toml:"api_target,omitempty"`
}

// VectorStoreConfig holds vector store settings.
type VectorStoreConfig struct {
	Provider   string `toml:"provider,omitempty"`
	Target     string `toml:"target,omitempty"`
	Collection string `toml:"collection,omitempty"`
}

// EmbeddingConfig holds embedding provider settings.
type EmbeddingConfig struct {
	Provider   string `toml:"provider,omitempty"`
	Target     string `toml:"target,omitempty"`
	Model      string `toml:"model,omitempty"`
	Dimensions uint   `toml:"dimensions,omitempty"`
	APIKey     string `toml:"api_key,omitempty"`
}

// IngestConfig holds batch job runner settings. Durations are milliseconds.
type IngestConfig struct {
	BatchSize              uint `toml:"batch_size,omitempty"`
	BatchIntervalMS        uint `toml:"batch_interval_ms,omitempty"`
	CallTimeoutMS          uint `toml:"call_timeout_ms,omitempty"`
	Workers                uint `toml:"workers,omitempty"`
	QueueSize              uint `toml:"queue_size,omitempty"`
	JobTimeoutMS           uint `toml:"job_timeout_ms,omitempty"`
	MaxConsecutiveFailures uint `toml:"max_consecutive_failures,omitempty"`
	UpsertRetries          uint `toml:"upsert_retries,omitempty"`
	SimulationIntervalMS   uint `toml:"simulation_interval_ms,omitempty"`
}

// ChunkingConfig holds passage sizing, in characters.
type ChunkingConfig struct {
	TargetSize uint `toml:"target_size,omitempty"`

	// Overlap is a pointer because zero is a valid overlap; nil means unset.
	Overlap *uint `toml:"overlap,omitempty"`
}

// OverlapOrDefault returns the configured overlap, or the default when unset.
func (c ChunkingConfig) OverlapOrDefault() uint {
	if c.Overlap == nil {
		return defaultChunkOverlap
	}
	return *c.Overlap
}

// RetrievalConfig holds default context assembly bounds.
type RetrievalConfig struct {
	MaxPassages     uint `toml:"max_passages,omitempty"`
	MaxContextChars uint `toml:"max_context_chars,omitempty"`
}

// JobsConfig selects the job tracker backend.
type JobsConfig struct {
	Provider    string `toml:"provider,omitempty"`
	DSN         string `toml:"dsn,omitempty"`
	RetentionMS uint   `toml:"retention_ms,omitempty"`
}

// EventsConfig selects where job events are published.
type EventsConfig struct {
	Provider string `toml:"provider,omitempty"`

	// Brokers is a comma separated broker list.
	Brokers string `toml:"brokers,omitempty"`
	Topic   string `toml:"topic,omitempty"`
}

// configKeyInfo maps a user-facing dotted key name to a getter and setter on *Config.
type configKeyInfo struct {
	get func(c *Config) string
	set func(c *Config, v string) error
}

func stringKey(field func(c *Config) *string) configKeyInfo {
	return configKeyInfo{
		get: func(c *Config) string { return *field(c) },
		set: func(c *Config, v string) error { *field(c) = v; return nil },
	}
}

// uintKey renders zero as unset.
func uintKey(name string, field func(c *Config) *uint) configKeyInfo {
	return configKeyInfo{
		get: func(c *Config) string {
			if *field(c) == 0 {
				return ""
			}
			return strconv.FormatUint(uint64(*field(c)), 10)
		},
		set: func(c *Config, v string) error {
			n, err := strconv.ParseUint(v, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid value for %s: %w", name, err)
			}
			*field(c) = uint(n)
			return nil
		},
	}
}

// optionalUintKey is uintKey for fields where zero is a real value. Only a
// nil pointer renders as unset.
func optionalUintKey(name string, field func(c *Config) **uint) configKeyInfo {
	return configKeyInfo{
		get: func(c *Config) string {
			if *field(c) == nil {
				return ""
			}
			return strconv.FormatUint(uint64(**field(c)), 10)
		},
		set: func(c *Config, v string) error {
			n, err := strconv.ParseUint(v, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid value for %s: %w", name, err)
			}
			u := uint(n)
			*field(c) = &u
			return nil
		},
	}
}

// configKeys is the authoritative map of all supported config keys.
// Keys use dotted notation matching the TOML section structure.
var configKeys = map[string]configKeyInfo{
	"api.listen":        stringKey(func(c *Config) *string { return &c.API.Listen }),
	"client.api_target": stringKey(func(c *Config) *string { return &c.Client.APITarget }),

	"vector_store.provider":   stringKey(func(c *Config) *string { return &c.VectorStore.Provider }),
	"vector_store.target":     stringKey(func(c *Config) *string { return &c.VectorStore.Target }),
	"vector_store.collection": stringKey(func(c *Config) *string { return &c.VectorStore.Collection }),

	"embedding.provider":   stringKey(func(c *Config) *string { return &c.Embedding.Provider }),
	"embedding.target":     stringKey(func(c *Config) *string { return &c.Embedding.Target }),
	"embedding.model":      stringKey(func(c *Config) *string { return &c.Embedding.Model }),
	"embedding.dimensions": uintKey("embedding.dimensions", func(c *Config) *uint { return &c.Embedding.Dimensions }),
	"embedding.api_key":    stringKey(func(c *Config) *string { return &c.Embedding.APIKey }),

	"ingest.batch_size":               uintKey("ingest.batch_size", func(c *Config) *uint { return &c.Ingest.BatchSize }),
	"ingest.batch_interval_ms":        uintKey("ingest.batch_interval_ms", func(c *Config) *uint { return &c.Ingest.BatchIntervalMS }),
	"ingest.call_timeout_ms":          uintKey("ingest.call_timeout_ms", func(c *Config) *uint { return &c.Ingest.CallTimeoutMS }),
	"ingest.workers":                  uintKey("ingest.workers", func(c *Config) *uint { return &c.Ingest.Workers }),
	"ingest.queue_size":               uintKey("ingest.queue_size", func(c *Config) *uint { return &c.Ingest.QueueSize }),
	"ingest.job_timeout_ms":           uintKey("ingest.job_timeout_ms", func(c *Config) *uint { return &c.Ingest.JobTimeoutMS }),
	"ingest.max_consecutive_failures": uintKey("ingest.max_consecutive_failures", func(c *Config) *uint { return &c.Ingest.MaxConsecutiveFailures }),
	"ingest.upsert_retries":           uintKey("ingest.upsert_retries", func(c *Config) *uint { return &c.Ingest.UpsertRetries }),
	"ingest.simulation_interval_ms":   uintKey("ingest.simulation_interval_ms", func(c *Config) *uint { return &c.Ingest.SimulationIntervalMS }),

	"chunking.target_size": uintKey("chunking.target_size", func(c *Config) *uint { return &c.Chunking.TargetSize }),
	"chunking.overlap":     optionalUintKey("chunking.overlap", func(c *Config) **uint { return &c.Chunking.Overlap }),

	"retrieval.max_passages":      uintKey("retrieval.max_passages", func(c *Config) *uint { return &c.Retrieval.MaxPassages }),
	"retrieval.max_context_chars": uintKey("retrieval.max_context_chars", func(c *Config) *uint { return &c.Retrieval.MaxContextChars }),

	"jobs.provider":     stringKey(func(c *Config) *string { return &c.Jobs.Provider }),
	"jobs.dsn":          stringKey(func(c *Config) *string { return &c.Jobs.DSN }),
	"jobs.retention_ms": uintKey("jobs.retention_ms", func(c *Config) *uint { return &c.Jobs.RetentionMS }),

	"events.provider": stringKey(func(c *Config) *string { return &c.Events.Provider }),
	"events.brokers":  stringKey(func(c *Config) *string { return &c.Events.Brokers }),
	"events.topic":    stringKey(func(c *Config) *string { return &c.Events.Topic }),
}

// orderedKeys lists the keys in TOML section order.
var orderedKeys = []string{
	"api.listen",
	"client.api_target",
	"vector_store.provider",
	"vector_store.target",
	"vector_store.collection",
	"embedding.provider",
	"embedding.target",
	"embedding.model",
	"embedding.dimensions",
	"embedding.api_key",
	"ingest.batch_size",
	"ingest.batch_interval_ms",
	"ingest.call_timeout_ms",
	"ingest.workers",
	"ingest.queue_size",
	"ingest.job_timeout_ms",
	"ingest.max_consecutive_failures",
	"ingest.upsert_retries",
	"ingest.simulation_interval_ms",
	"chunking.target_size",
	"chunking.overlap",
	"retrieval.max_passages",
	"retrieval.max_context_chars",
	"jobs.provider",
	"jobs.dsn",
	"jobs.retention_ms",
	"events.provider",
	"events.brokers",
	"events.topic",
}
