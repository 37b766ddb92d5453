// Package servecmder provides the serve command for running the spool server.
package servecmder

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/spoolhq/spool/api"
	"github.com/spoolhq/spool/api/mcp"
	"github.com/spoolhq/spool/pkg/catalog"
	"github.com/spoolhq/spool/pkg/config"
	"github.com/spoolhq/spool/pkg/conversations"
	"github.com/spoolhq/spool/pkg/dotdir"
	"github.com/spoolhq/spool/pkg/embeddings"
	ollamaembed "github.com/spoolhq/spool/pkg/embeddings/ollama"
	"github.com/spoolhq/spool/pkg/eventstream"
	"github.com/spoolhq/spool/pkg/eventstream/kafka"
	"github.com/spoolhq/spool/pkg/eventstream/nop"
	"github.com/spoolhq/spool/pkg/index"
	"github.com/spoolhq/spool/pkg/lifecycle"
	"github.com/spoolhq/spool/pkg/logger"
	"github.com/spoolhq/spool/pkg/pipeline"
	"github.com/spoolhq/spool/pkg/search"
	"github.com/spoolhq/spool/pkg/summarize"
	ollamasum "github.com/spoolhq/spool/pkg/summarize/ollama"
	"github.com/spoolhq/spool/pkg/transcript"
	"github.com/spoolhq/spool/pkg/vector"
	"github.com/spoolhq/spool/pkg/vector/qdrant"
	"github.com/spoolhq/spool/pkg/vector/sqlitevec"
)

// serveFlags is the registry of flags the serve command exposes. Each entry
// maps a CLI flag to its dotted viper key so flag > env > file > default
// precedence holds without per-flag glue code.
var serveFlags = config.FlagSet{
	config.FlagAPIListen: {
		Name: "listen", Shorthand: "l", ViperKey: "api.listen",
		Description: "Address for the API server to listen on",
	},
	config.FlagDataDir: {
		Name: "data-dir", ViperKey: "storage.data_dir",
		Description: "Directory for transcripts and local databases (default: .spool/data)",
	},
	config.FlagIndexProv: {
		Name: "index-provider", ViperKey: "index.provider",
		Description: "Keyword index provider (sqlite, postgres)",
	},
	config.FlagIndexDSN: {
		Name: "index-postgres-dsn", ViperKey: "index.postgres_dsn",
		Description: "Postgres connection string when the index provider is postgres",
	},
	config.FlagVectorStoreProv: {
		Name: "vector-store-provider", ViperKey: "vector_store.provider",
		Description: "Vector store provider (sqlite, qdrant, none)",
	},
	config.FlagVectorStoreTgt: {
		Name: "vector-store-target", ViperKey: "vector_store.target",
		Description: "Qdrant host:port when the vector store provider is qdrant",
	},
	config.FlagEmbeddingProv: {
		Name: "embedding-provider", ViperKey: "embedding.provider",
		Description: "Embedding provider (ollama)",
	},
	config.FlagEmbeddingTgt: {
		Name: "embedding-target", ViperKey: "embedding.target",
		Description: "Embedding provider URL",
	},
	config.FlagEmbeddingModel: {
		Name: "embedding-model", ViperKey: "embedding.model",
		Description: "Embedding model name (e.g., nomic-embed-text)",
	},
	config.FlagEmbeddingDims: {
		Name: "embedding-dimensions", ViperKey: "embedding.dimensions",
		Description: "Embedding vector dimensions",
	},
	config.FlagSummarizerProv: {
		Name: "summarizer-provider", ViperKey: "summarizer.provider",
		Description: "Summarizer provider (ollama)",
	},
	config.FlagSummarizerTgt: {
		Name: "summarizer-target", ViperKey: "summarizer.target",
		Description: "Summarizer provider URL",
	},
	config.FlagSummarizerModel: {
		Name: "summarizer-model", ViperKey: "summarizer.model",
		Description: "Summarizer chat model name",
	},
	config.FlagSweepInterval: {
		Name: "sweep-interval", ViperKey: "pipeline.sweep_interval",
		Description: "Interval between pipeline retry sweeps (e.g., 5m)",
	},
	config.FlagIdleTimeout: {
		Name: "idle-timeout", ViperKey: "lifecycle.idle_timeout",
		Description: "Inactivity window before a conversation goes idle (e.g., 10m)",
	},
	config.FlagEventProv: {
		Name: "eventstream-provider", ViperKey: "eventstream.provider",
		Description: "Event publisher (none, kafka)",
	},
}

var serveFlagKeys = []string{
	config.FlagAPIListen,
	config.FlagDataDir,
	config.FlagIndexProv,
	config.FlagIndexDSN,
	config.FlagVectorStoreProv,
	config.FlagVectorStoreTgt,
	config.FlagEmbeddingProv,
	config.FlagEmbeddingTgt,
	config.FlagEmbeddingModel,
	config.FlagEmbeddingDims,
	config.FlagSummarizerProv,
	config.FlagSummarizerTgt,
	config.FlagSummarizerModel,
	config.FlagSweepInterval,
	config.FlagIdleTimeout,
	config.FlagEventProv,
}

type serveCommander struct {
	configDir string
	debug     bool

	cfg    *config.Config
	logger *slog.Logger
}

const serveLongDesc string = `Run the spool server.

Serves the conversation API and MCP tool endpoint, appends turns to
per-conversation transcripts, keeps the keyword index in sync, and runs
the background summarize-and-embed pipeline and idle lifecycle timers.

On startup the derived stores are reconciled against the transcripts, so
a deleted index database is rebuilt automatically.

Configuration comes from flags, SPOOL_* environment variables, and the
config.toml in the .spool/ directory, in that order of precedence.`

const serveShortDesc string = "Run the spool server"

func NewServeCmd() *cobra.Command {
	cmder := &serveCommander{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: serveShortDesc,
		Long:  serveLongDesc,
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			cmder.configDir, _ = cmd.Flags().GetString("config-dir")

			v, err := config.InitViper(cmder.configDir)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			config.BindRegisteredFlags(v, cmd, serveFlags, serveFlagKeys)

			cmder.cfg = &config.Config{
				Version: config.CurrentV,
				Storage: config.StorageConfig{
					DataDir: v.GetString("storage.data_dir"),
				},
				API: config.APIConfig{
					Listen: v.GetString("api.listen"),
				},
				Index: config.IndexConfig{
					Provider:    v.GetString("index.provider"),
					PostgresDSN: v.GetString("index.postgres_dsn"),
				},
				VectorStore: config.VectorStoreConfig{
					Provider: v.GetString("vector_store.provider"),
					Target:   v.GetString("vector_store.target"),
					APIKey:   v.GetString("vector_store.api_key"),
					UseTLS:   v.GetBool("vector_store.use_tls"),
				},
				Embedding: config.EmbeddingConfig{
					Provider:   v.GetString("embedding.provider"),
					Target:     v.GetString("embedding.target"),
					Model:      v.GetString("embedding.model"),
					Dimensions: v.GetUint("embedding.dimensions"),
				},
				Summarizer: config.SummarizerConfig{
					Provider: v.GetString("summarizer.provider"),
					Target:   v.GetString("summarizer.target"),
					Model:    v.GetString("summarizer.model"),
				},
				Pipeline: config.PipelineConfig{
					SweepInterval: v.GetString("pipeline.sweep_interval"),
				},
				Lifecycle: config.LifecycleConfig{
					IdleTimeout: v.GetString("lifecycle.idle_timeout"),
				},
				Eventstream: config.EventstreamConfig{
					Provider: v.GetString("eventstream.provider"),
					Brokers:  v.GetStringSlice("eventstream.brokers"),
					Topic:    v.GetString("eventstream.topic"),
				},
				Context: config.ContextConfig{
					MaxTurns: v.GetInt("context.max_turns"),
				},
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			var err error
			cmder.debug, err = cmd.Flags().GetBool("debug")
			if err != nil {
				return fmt.Errorf("could not get debug flag: %w", err)
			}
			return cmder.run()
		},
	}

	for _, key := range serveFlagKeys {
		if key == config.FlagEmbeddingDims {
			var dims uint
			config.AddUintFlag(cmd, serveFlags, key, &dims)
			continue
		}
		config.AddStringFlag(cmd, serveFlags, key, new(string))
	}

	return cmd
}

func (c *serveCommander) run() error {
	c.logger = logger.New(logger.WithDebug(c.debug))

	dataDir, err := c.resolveDataDir()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("creating data dir: %w", err)
	}

	// Pretty output on stdout, structured JSON in the data dir for later
	// inspection.
	logFile, err := os.OpenFile(filepath.Join(dataDir, "spool.log"),
		os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("opening log file: %w", err)
	}
	defer logFile.Close()
	c.logger = logger.Multi(
		c.logger,
		logger.New(logger.WithWriter(logFile), logger.WithJSON(true), logger.WithDebug(c.debug)),
	)

	ctx := context.Background()

	log, err := transcript.NewLog(transcript.Config{
		Dir: filepath.Join(dataDir, "transcripts"),
	}, c.logger)
	if err != nil {
		return fmt.Errorf("opening transcript log: %w", err)
	}

	store, err := catalog.NewStore(catalog.Config{
		DBPath: filepath.Join(dataDir, "catalog.db"),
	}, c.logger)
	if err != nil {
		return fmt.Errorf("opening catalog: %w", err)
	}
	defer store.Close()

	idx, err := c.newIndexDriver(ctx, dataDir)
	if err != nil {
		return err
	}
	defer idx.Close()

	embedder, err := c.newEmbedder()
	if err != nil {
		return err
	}
	defer embedder.Close()

	vectors, err := c.newVectorDriver(ctx, dataDir, embedder.Model())
	if err != nil {
		return err
	}
	if vectors != nil {
		defer vectors.Close()
	}

	summarizer, err := c.newSummarizer()
	if err != nil {
		return err
	}
	defer summarizer.Close()

	publisher, err := c.newPublisher()
	if err != nil {
		return err
	}
	defer publisher.Close()

	pipe := pipeline.New(pipeline.Config{
		SweepInterval: c.cfg.SweepDuration(),
	}, log, store, summarizer, embedder, vectors, publisher, c.logger)
	defer pipe.Close()

	lifecycleMgr := lifecycle.NewManager(lifecycle.Config{
		IdleTimeout: c.cfg.IdleDuration(),
	}, pipe, publisher, c.logger)
	defer lifecycleMgr.Close()

	fusion := search.NewFusion(idx, vectors, embedder, store, c.logger)

	core := conversations.New(conversations.Config{
		HydrateTurns: c.cfg.Context.MaxTurns,
	}, conversations.Deps{
		Log:       log,
		Store:     store,
		Index:     idx,
		Vectors:   vectors,
		Embedder:  embedder,
		Lifecycle: lifecycleMgr,
		Pipeline:  pipe,
		Fusion:    fusion,
		Publisher: publisher,
		Logger:    c.logger,
	})

	recoverStart := time.Now()
	stats, err := core.Recover(ctx)
	if err != nil {
		return fmt.Errorf("startup recovery: %w", err)
	}
	c.logger.Info("startup recovery complete",
		"conversations", stats.Conversations,
		"created_rows", stats.CreatedRows,
		"reindexed", stats.Reindexed,
		"enqueued", stats.Enqueued,
		"orphan_rows", stats.OrphanRows,
		"elapsed", time.Since(recoverStart),
	)

	server := api.NewServer(api.Config{
		ListenAddr: c.cfg.API.Listen,
	}, core, c.logger)

	mcpServer, err := mcp.NewServer(mcp.Config{
		Core:   core,
		Logger: c.logger,
	})
	if err != nil {
		return fmt.Errorf("creating MCP server: %w", err)
	}
	server.Mount("/mcp", mcpServer.Handler())

	c.logger.Info("starting server",
		"listen", c.cfg.API.Listen,
		"data_dir", dataDir,
		"index_provider", c.cfg.Index.Provider,
		"vector_store_provider", c.cfg.VectorStore.Provider,
	)

	errChan := make(chan error, 1)
	go func() {
		if err := server.Run(); err != nil {
			errChan <- fmt.Errorf("API server error: %w", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return err
	case sig := <-sigChan:
		c.logger.Info("received signal, shutting down", "signal", sig.String())
		return server.Shutdown()
	}
}

// resolveDataDir picks the storage root: the configured directory when set,
// otherwise data/ inside the resolved .spool/ directory.
func (c *serveCommander) resolveDataDir() (string, error) {
	if c.cfg.Storage.DataDir != "" {
		return c.cfg.Storage.DataDir, nil
	}

	ddm := dotdir.NewManager()
	target, err := ddm.Target(c.configDir)
	if err != nil {
		return "", fmt.Errorf("resolving data dir: %w", err)
	}
	return filepath.Join(target, "data"), nil
}

func (c *serveCommander) newIndexDriver(ctx context.Context, dataDir string) (index.Driver, error) {
	switch c.cfg.Index.Provider {
	case "", "sqlite":
		driver, err := index.NewSQLiteDriver(index.SQLiteConfig{
			DBPath: filepath.Join(dataDir, "index.db"),
		}, c.logger)
		if err != nil {
			return nil, fmt.Errorf("opening keyword index: %w", err)
		}
		return driver, nil
	case "postgres":
		driver, err := index.NewPostgresDriver(ctx, index.PostgresConfig{
			DSN: c.cfg.Index.PostgresDSN,
		}, c.logger)
		if err != nil {
			return nil, fmt.Errorf("connecting keyword index: %w", err)
		}
		return driver, nil
	default:
		return nil, fmt.Errorf("unknown index provider: %q", c.cfg.Index.Provider)
	}
}

// newVectorDriver returns nil for provider "none"; search then degrades to
// keyword-only ranking.
func (c *serveCommander) newVectorDriver(ctx context.Context, dataDir, model string) (vector.Driver, error) {
	switch c.cfg.VectorStore.Provider {
	case "none":
		c.logger.Info("vector store disabled, search is keyword-only")
		return nil, nil
	case "", "sqlite":
		driver, err := sqlitevec.NewDriver(sqlitevec.Config{
			DBPath:     filepath.Join(dataDir, "vectors.db"),
			Dimensions: c.cfg.Embedding.Dimensions,
			Model:      model,
		}, c.logger)
		if err != nil {
			return nil, fmt.Errorf("opening vector store: %w", err)
		}
		return driver, nil
	case "qdrant":
		driver, err := qdrant.NewDriver(ctx, qdrant.Config{
			Address:    c.cfg.VectorStore.Target,
			APIKey:     c.cfg.VectorStore.APIKey,
			UseTLS:     c.cfg.VectorStore.UseTLS,
			Dimensions: c.cfg.Embedding.Dimensions,
			Model:      model,
		}, c.logger)
		if err != nil {
			return nil, fmt.Errorf("connecting vector store: %w", err)
		}
		return driver, nil
	default:
		return nil, fmt.Errorf("unknown vector store provider: %q", c.cfg.VectorStore.Provider)
	}
}

func (c *serveCommander) newEmbedder() (embeddings.Embedder, error) {
	switch c.cfg.Embedding.Provider {
	case "", "ollama":
		embedder, err := ollamaembed.NewEmbedder(ollamaembed.EmbedderConfig{
			BaseURL: c.cfg.Embedding.Target,
			Model:   c.cfg.Embedding.Model,
		})
		if err != nil {
			return nil, fmt.Errorf("creating embedder: %w", err)
		}
		return embedder, nil
	default:
		return nil, fmt.Errorf("unknown embedding provider: %q", c.cfg.Embedding.Provider)
	}
}

func (c *serveCommander) newSummarizer() (summarize.Summarizer, error) {
	switch c.cfg.Summarizer.Provider {
	case "", "ollama":
		summarizer, err := ollamasum.NewSummarizer(ollamasum.Config{
			BaseURL: c.cfg.Summarizer.Target,
			Model:   c.cfg.Summarizer.Model,
		})
		if err != nil {
			return nil, fmt.Errorf("creating summarizer: %w", err)
		}
		return summarizer, nil
	default:
		return nil, fmt.Errorf("unknown summarizer provider: %q", c.cfg.Summarizer.Provider)
	}
}

func (c *serveCommander) newPublisher() (eventstream.Publisher, error) {
	switch c.cfg.Eventstream.Provider {
	case "", "none":
		return nop.NewPublisher(), nil
	case "kafka":
		publisher, err := kafka.NewPublisher(kafka.Config{
			Brokers: c.cfg.Eventstream.Brokers,
			Topic:   c.cfg.Eventstream.Topic,
		}, c.logger)
		if err != nil {
			return nil, fmt.Errorf("creating kafka publisher: %w", err)
		}
		return publisher, nil
	default:
		return nil, fmt.Errorf("unknown eventstream provider: %q", c.cfg.Eventstream.Provider)
	}
}
