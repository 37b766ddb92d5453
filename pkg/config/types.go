package config

import (
	"fmt"
	"strconv"
	"strings"
)

// Config represents the persistent spool configuration stored as config.toml
// in the .spool/ directory. The TOML layout uses sections for logical grouping.
type Config struct {
	Version     int               `toml:"version"`
	Storage     StorageConfig     `toml:"storage"`
	API         APIConfig         `toml:"api"`
	Index       IndexConfig       `toml:"index"`
	VectorStore VectorStoreConfig `toml:"vector_store"`
	Embedding   EmbeddingConfig   `toml:"embedding"`
	Summarizer  SummarizerConfig  `toml:"summarizer"`
	Pipeline    PipelineConfig    `toml:"pipeline"`
	Lifecycle   LifecycleConfig   `toml:"lifecycle"`
	Eventstream EventstreamConfig `toml:"eventstream"`
	Context     ContextConfig     `toml:"context"`
}

// StorageConfig holds the data directory. Transcripts, the catalog, and the
// local index databases all live underneath it.
type StorageConfig struct {
	DataDir string `toml:"data_dir,omitempty"`
}

// APIConfig holds API server settings.
type APIConfig struct {
	Listen string `toml:"listen,omitempty"`
}

// IndexConfig holds keyword index settings.
type IndexConfig struct {
	// Provider is "sqlite" or "postgres".
	Provider string `toml:"provider,omitempty"`

	// PostgresDSN is required when Provider is "postgres".
	PostgresDSN string `toml:"postgres_dsn,omitempty"`
}

// VectorStoreConfig holds vector index settings.
type VectorStoreConfig struct {
	// Provider is "sqlite", "qdrant", or "none".
	Provider string `toml:"provider,omitempty"`

	// Target is the qdrant host:port when Provider is "qdrant".
	Target string `toml:"target,omitempty"`
	APIKey string `toml:"api_key,omitempty"`
	UseTLS bool   `toml:"use_tls,omitempty"`
}

// EmbeddingConfig holds embedding provider settings.
type EmbeddingConfig struct {
	Provider   string `toml:"provider,omitempty"`
	Target     string `toml:"target,omitempty"`
	Model      string `toml:"model,omitempty"`
	Dimensions uint   `toml:"dimensions,omitempty"`
}

// SummarizerConfig holds summarization provider settings.
type SummarizerConfig struct {
	Provider string `toml:"provider,omitempty"`
	Target   string `toml:"target,omitempty"`
	Model    string `toml:"model,omitempty"`
}

// PipelineConfig holds abbreviation pipeline settings.
type PipelineConfig struct {
	// SweepInterval is a duration string (e.g. "5m") between retry sweeps.
	SweepInterval string `toml:"sweep_interval,omitempty"`
}

// LifecycleConfig holds lifecycle settings.
type LifecycleConfig struct {
	// IdleTimeout is a duration string (e.g. "10m") of inactivity before a
	// conversation goes idle.
	IdleTimeout string `toml:"idle_timeout,omitempty"`
}

// EventstreamConfig holds event publishing settings.
type EventstreamConfig struct {
	// Provider is "none" or "kafka".
	Provider string   `toml:"provider,omitempty"`
	Brokers  []string `toml:"brokers,omitempty"`
	Topic    string   `toml:"topic,omitempty"`
}

// ContextConfig holds context hydration settings.
type ContextConfig struct {
	// MaxTurns is the default tail window for hydration.
	MaxTurns int `toml:"max_turns,omitempty"`
}

// configKeyInfo maps a user-facing dotted key name to a getter and setter on *Config.
type configKeyInfo struct {
	get func(c *Config) string
	set func(c *Config, v string) error
}

// configKeys is the authoritative map of all supported config keys.
// Keys use dotted notation matching the TOML section structure.
var configKeys = map[string]configKeyInfo{
	"storage.data_dir": {
		get: func(c *Config) string { return c.Storage.DataDir },
		set: func(c *Config, v string) error { c.Storage.DataDir = v; return nil },
	},
	"api.listen": {
		get: func(c *Config) string { return c.API.Listen },
		set: func(c *Config, v string) error { c.API.Listen = v; return nil },
	},
	"index.provider": {
		get: func(c *Config) string { return c.Index.Provider },
		set: func(c *Config, v string) error { c.Index.Provider = v; return nil },
	},
	"index.postgres_dsn": {
		get: func(c *Config) string { return c.Index.PostgresDSN },
		set: func(c *Config, v string) error { c.Index.PostgresDSN = v; return nil },
	},
	"vector_store.provider": {
		get: func(c *Config) string { return c.VectorStore.Provider },
		set: func(c *Config, v string) error { c.VectorStore.Provider = v; return nil },
	},
	"vector_store.target": {
		get: func(c *Config) string { return c.VectorStore.Target },
		set: func(c *Config, v string) error { c.VectorStore.Target = v; return nil },
	},
	"vector_store.api_key": {
		get: func(c *Config) string { return c.VectorStore.APIKey },
		set: func(c *Config, v string) error { c.VectorStore.APIKey = v; return nil },
	},
	"vector_store.use_tls": {
		get: func(c *Config) string { return strconv.FormatBool(c.VectorStore.UseTLS) },
		set: func(c *Config, v string) error {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("invalid value for vector_store.use_tls: %w", err)
			}
			c.VectorStore.UseTLS = b
			return nil
		},
	},
	"embedding.provider": {
		get: func(c *Config) string { return c.Embedding.Provider },
		set: func(c *Config, v string) error { c.Embedding.Provider = v; return nil },
	},
	"embedding.target": {
		get: func(c *Config) string { return c.Embedding.Target },
		set: func(c *Config, v string) error { c.Embedding.Target = v; return nil },
	},
	"embedding.model": {
		get: func(c *Config) string { return c.Embedding.Model },
		set: func(c *Config, v string) error { c.Embedding.Model = v; return nil },
	},
	"embedding.dimensions": {
		get: func(c *Config) string {
			if c.Embedding.Dimensions == 0 {
				return ""
			}
			return strconv.FormatUint(uint64(c.Embedding.Dimensions), 10)
		},
		set: func(c *Config, v string) error {
			n, err := strconv.ParseUint(v, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid value for embedding.dimensions: %w", err)
			}
			c.Embedding.Dimensions = uint(n)
			return nil
		},
	},
	"summarizer.provider": {
		get: func(c *Config) string { return c.Summarizer.Provider },
		set: func(c *Config, v string) error { c.Summarizer.Provider = v; return nil },
	},
	"summarizer.target": {
		get: func(c *Config) string { return c.Summarizer.Target },
		set: func(c *Config, v string) error { c.Summarizer.Target = v; return nil },
	},
	"summarizer.model": {
		get: func(c *Config) string { return c.Summarizer.Model },
		set: func(c *Config, v string) error { c.Summarizer.Model = v; return nil },
	},
	"pipeline.sweep_interval": {
		get: func(c *Config) string { return c.Pipeline.SweepInterval },
		set: func(c *Config, v string) error { c.Pipeline.SweepInterval = v; return nil },
	},
	"lifecycle.idle_timeout": {
		get: func(c *Config) string { return c.Lifecycle.IdleTimeout },
		set: func(c *Config, v string) error { c.Lifecycle.IdleTimeout = v; return nil },
	},
	"eventstream.provider": {
		get: func(c *Config) string { return c.Eventstream.Provider },
		set: func(c *Config, v string) error { c.Eventstream.Provider = v; return nil },
	},
	"eventstream.brokers": {
		get: func(c *Config) string { return strings.Join(c.Eventstream.Brokers, ",") },
		set: func(c *Config, v string) error {
			c.Eventstream.Brokers = splitNonEmpty(v)
			return nil
		},
	},
	"eventstream.topic": {
		get: func(c *Config) string { return c.Eventstream.Topic },
		set: func(c *Config, v string) error { c.Eventstream.Topic = v; return nil },
	},
	"context.max_turns": {
		get: func(c *Config) string {
			if c.Context.MaxTurns == 0 {
				return ""
			}
			return strconv.Itoa(c.Context.MaxTurns)
		},
		set: func(c *Config, v string) error {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("invalid value for context.max_turns: %w", err)
			}
			c.Context.MaxTurns = n
			return nil
		},
	},
}

func splitNonEmpty(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if s := strings.TrimSpace(part); s != "" {
			out = append(out, s)
		}
	}
	return out
}
