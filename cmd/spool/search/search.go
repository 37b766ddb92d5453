// Package searchcmder provides the search command for hybrid retrieval over
// stored conversations.
package searchcmder

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/spoolhq/spool/pkg/catalog"
	"github.com/spoolhq/spool/pkg/cliui"
	"github.com/spoolhq/spool/pkg/config"
	"github.com/spoolhq/spool/pkg/dotdir"
	"github.com/spoolhq/spool/pkg/embeddings"
	ollamaembed "github.com/spoolhq/spool/pkg/embeddings/ollama"
	"github.com/spoolhq/spool/pkg/index"
	"github.com/spoolhq/spool/pkg/logger"
	"github.com/spoolhq/spool/pkg/search"
	"github.com/spoolhq/spool/pkg/vector"
	"github.com/spoolhq/spool/pkg/vector/qdrant"
	"github.com/spoolhq/spool/pkg/vector/sqlitevec"
)

var (
	rankStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("82")).Bold(true)
	scoreStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	idStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("39"))
	titleStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("252")).Bold(true)
	snippetStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
	headerStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("252")).Bold(true)
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

type searchCommander struct {
	query   string
	limit   int
	channel string
	quiet   bool

	configDir string
	dataDir   string
	debug     bool

	cfg    *config.Config
	logger *slog.Logger
}

const searchLongDesc string = `Search stored conversations.

Runs hybrid retrieval over the local data directory: keyword matches from
the full-text index fused with semantic matches from the vector index. When
the vector index is empty or disabled, keyword ranking is used alone.

Use --quiet to output only conversation ids, one per line, for piping.

Example:
  spool search "postgres connection pooling"
  spool search "deploy incident" --channel ops --limit 3
  spool tail $(spool search "deploy incident" --quiet --limit 1)`

const searchShortDesc string = "Search stored conversations"

func NewSearchCmd() *cobra.Command {
	cmder := &searchCommander{}

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: searchShortDesc,
		Long:  searchLongDesc,
		Args:  cobra.ExactArgs(1),
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			cmder.configDir, _ = cmd.Flags().GetString("config-dir")

			cfger, err := config.NewConfiger(cmder.configDir)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			cmder.cfg, err = cfger.LoadConfig()
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}

			if !cmd.Flags().Changed("data-dir") {
				cmder.dataDir = cmder.cfg.Storage.DataDir
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			cmder.query = args[0]

			var err error
			cmder.debug, err = cmd.Flags().GetBool("debug")
			if err != nil {
				return fmt.Errorf("could not get debug flag: %w", err)
			}

			return cmder.run()
		},
	}

	cmd.Flags().IntVarP(&cmder.limit, "limit", "k", 5, "Number of results to return")
	cmd.Flags().StringVar(&cmder.channel, "channel", "", "Restrict results to one channel")
	cmd.Flags().BoolVarP(&cmder.quiet, "quiet", "q", false, "Output only conversation ids, one per line (for piping)")
	cmd.Flags().StringVar(&cmder.dataDir, "data-dir", "", "Data directory to search (default: .spool/data)")

	return cmd
}

func (c *searchCommander) run() error {
	c.logger = logger.New(logger.WithDebug(c.debug))

	var results []search.Result
	doSearch := func() error {
		dataDir, err := c.resolveDataDir()
		if err != nil {
			return err
		}

		ctx := context.Background()

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

		embedder, vectors, err := c.newVectorBranch(ctx, dataDir)
		if err != nil {
			return err
		}
		if embedder != nil {
			defer embedder.Close()
		}
		if vectors != nil {
			defer vectors.Close()
		}

		fusion := search.NewFusion(idx, vectors, embedder, store, c.logger)

		results, err = fusion.Search(ctx, c.query, search.Options{
			Limit:   c.limit,
			Channel: c.channel,
		})
		if err != nil {
			return fmt.Errorf("searching: %w", err)
		}
		return nil
	}

	// The spinner goes to stderr so --quiet output stays pipeable.
	var err error
	if c.quiet {
		err = doSearch()
	} else {
		err = cliui.Step(os.Stderr, "Searching", doSearch)
	}
	if err != nil {
		return err
	}

	if len(results) == 0 {
		if !c.quiet {
			fmt.Println("No results found.")
		}
		return nil
	}

	if c.quiet {
		for _, result := range results {
			fmt.Println(result.ConversationID)
		}
		return nil
	}

	fmt.Printf("\n%s %s\n\n",
		headerStyle.Render("Search results for:"),
		idStyle.Render(fmt.Sprintf("%q", c.query)),
	)

	for i, result := range results {
		printResult(i+1, result)
	}

	return nil
}

func printResult(rank int, result search.Result) {
	fmt.Printf("  %s  %s  %s\n",
		rankStyle.Render(fmt.Sprintf("#%d", rank)),
		scoreStyle.Render(fmt.Sprintf("score: %.4f", result.Score)),
		idStyle.Render(result.ConversationID),
	)

	if result.Title != "" {
		fmt.Printf("      %s\n", titleStyle.Render(result.Title))
	}

	if result.Snippet != "" {
		snippet := result.Snippet
		if len(snippet) > 120 {
			snippet = snippet[:117] + "..."
		}
		if result.Turn > 0 {
			fmt.Printf("      %s %s\n",
				dimStyle.Render(fmt.Sprintf("turn %d:", result.Turn)),
				snippetStyle.Render(snippet),
			)
		} else {
			fmt.Printf("      %s\n", snippetStyle.Render(snippet))
		}
	}

	if !result.UpdatedAt.IsZero() {
		fmt.Printf("      %s\n", dimStyle.Render(result.UpdatedAt.Local().Format("2006-01-02 15:04")))
	}

	fmt.Println()
}

func (c *searchCommander) resolveDataDir() (string, error) {
	if c.dataDir != "" {
		return c.dataDir, nil
	}

	ddm := dotdir.NewManager()
	target, err := ddm.Target(c.configDir)
	if err != nil {
		return "", fmt.Errorf("resolving data dir: %w", err)
	}
	return filepath.Join(target, "data"), nil
}

func (c *searchCommander) newIndexDriver(ctx context.Context, dataDir string) (index.Driver, error) {
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

// newVectorBranch opens the embedder and vector driver for the semantic
// branch, or returns nils when the vector store is disabled so the fusion
// falls back to keyword-only ranking.
func (c *searchCommander) newVectorBranch(ctx context.Context, dataDir string) (embeddings.Embedder, vector.Driver, error) {
	if c.cfg.VectorStore.Provider == "none" {
		return nil, nil, nil
	}

	embedder, err := ollamaembed.NewEmbedder(ollamaembed.EmbedderConfig{
		BaseURL: c.cfg.Embedding.Target,
		Model:   c.cfg.Embedding.Model,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("creating embedder: %w", err)
	}

	var vectors vector.Driver
	switch c.cfg.VectorStore.Provider {
	case "", "sqlite":
		vectors, err = sqlitevec.NewDriver(sqlitevec.Config{
			DBPath:     filepath.Join(dataDir, "vectors.db"),
			Dimensions: c.cfg.Embedding.Dimensions,
			Model:      embedder.Model(),
		}, c.logger)
	case "qdrant":
		vectors, err = qdrant.NewDriver(ctx, qdrant.Config{
			Address:    c.cfg.VectorStore.Target,
			APIKey:     c.cfg.VectorStore.APIKey,
			UseTLS:     c.cfg.VectorStore.UseTLS,
			Dimensions: c.cfg.Embedding.Dimensions,
			Model:      embedder.Model(),
		}, c.logger)
	default:
		embedder.Close()
		return nil, nil, fmt.Errorf("unknown vector store provider: %q", c.cfg.VectorStore.Provider)
	}
	if err != nil {
		embedder.Close()
		return nil, nil, fmt.Errorf("opening vector store: %w", err)
	}

	return embedder, vectors, nil
}
