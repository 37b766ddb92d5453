package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/spoolhq/spool/pkg/dotdir"
)

// InitViper creates and returns a configured *viper.Viper.
// It sets defaults from NewDefaultConfig(), reads the config.toml file
// (if found via dotdir resolution), and binds environment variables
// with the SPOOL_ prefix.
//
// Config precedence (highest to lowest):
//  1. CLI flags (once bound via BindRegisteredFlags)
//  2. Environment variables (SPOOL_API_LISTEN, SPOOL_EMBEDDING_MODEL, etc.)
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

	// 3. Environment variables: SPOOL_API_LISTEN, SPOOL_STORAGE_DATA_DIR, etc.
	v.SetEnvPrefix("SPOOL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return v, nil
}

// setViperDefaults registers defaults from NewDefaultConfig() into viper
// using dotted-key notation. This keeps defaults.go as the single source of truth.
func setViperDefaults(v *viper.Viper) {
	d := NewDefaultConfig()

	v.SetDefault("version", d.Version)

	// Storage
	v.SetDefault("storage.data_dir", d.Storage.DataDir)

	// API
	v.SetDefault("api.listen", d.API.Listen)

	// Keyword index
	v.SetDefault("index.provider", d.Index.Provider)
	v.SetDefault("index.postgres_dsn", d.Index.PostgresDSN)

	// Vector store
	v.SetDefault("vector_store.provider", d.VectorStore.Provider)
	v.SetDefault("vector_store.target", d.VectorStore.Target)
	v.SetDefault("vector_store.api_key", d.VectorStore.APIKey)
	v.SetDefault("vector_store.use_tls", d.VectorStore.UseTLS)

	// Embedding
	v.SetDefault("embedding.provider", d.Embedding.Provider)
	v.SetDefault("embedding.target", d.Embedding.Target)
	v.SetDefault("embedding.model", d.Embedding.Model)
	v.SetDefault("embedding.dimensions", d.Embedding.Dimensions)

	// Summarizer
	v.SetDefault("summarizer.provider", d.Summarizer.Provider)
	v.SetDefault("summarizer.target", d.Summarizer.Target)
	v.SetDefault("summarizer.model", d.Summarizer.Model)

	// Pipeline
	v.SetDefault("pipeline.sweep_interval", d.Pipeline.SweepInterval)

	// Lifecycle
	v.SetDefault("lifecycle.idle_timeout", d.Lifecycle.IdleTimeout)

	// Eventstream
	v.SetDefault("eventstream.provider", d.Eventstream.Provider)
	v.SetDefault("eventstream.brokers", d.Eventstream.Brokers)
	v.SetDefault("eventstream.topic", d.Eventstream.Topic)

	// Context hydration
	v.SetDefault("context.max_turns", d.Context.MaxTurns)
}
