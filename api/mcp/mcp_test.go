package mcp

import (
	"context"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/spoolhq/spool/pkg/catalog"
	"github.com/spoolhq/spool/pkg/conversations"
	"github.com/spoolhq/spool/pkg/index"
	"github.com/spoolhq/spool/pkg/lifecycle"
	"github.com/spoolhq/spool/pkg/logger"
	"github.com/spoolhq/spool/pkg/pipeline"
	"github.com/spoolhq/spool/pkg/search"
	"github.com/spoolhq/spool/pkg/transcript"
	testutils "github.com/spoolhq/spool/pkg/utils/test"
)

// newTestCore wires a conversation core over temp storage with mocked model
// backends for exercising the MCP tools directly.
func newTestCore(dir string) (*conversations.Core, func()) {
	log, err := transcript.NewLog(transcript.Config{Dir: filepath.Join(dir, "transcripts")}, logger.Nop())
	Expect(err).NotTo(HaveOccurred())

	store, err := catalog.NewStore(catalog.Config{DBPath: filepath.Join(dir, "catalog.db")}, logger.Nop())
	Expect(err).NotTo(HaveOccurred())

	idx, err := index.NewSQLiteDriver(index.SQLiteConfig{DBPath: filepath.Join(dir, "index.db")}, logger.Nop())
	Expect(err).NotTo(HaveOccurred())

	vectors := testutils.NewMockVectorDriver()
	embedder := testutils.NewMockEmbedder()
	summarizer := testutils.NewMockSummarizer()
	publisher := testutils.NewMockPublisher()

	pipe := pipeline.New(
		pipeline.Config{SweepInterval: -1},
		log, store, summarizer, embedder, vectors, publisher, logger.Nop(),
	)
	lfc := lifecycle.NewManager(lifecycle.Config{IdleTimeout: -1}, pipe, publisher, logger.Nop())

	fusion := search.NewFusion(idx, vectors, embedder, store, logger.Nop())

	core := conversations.New(conversations.Config{}, conversations.Deps{
		Log:       log,
		Store:     store,
		Index:     idx,
		Vectors:   vectors,
		Embedder:  embedder,
		Lifecycle: lfc,
		Pipeline:  pipe,
		Fusion:    fusion,
		Publisher: publisher,
		Logger:    logger.Nop(),
	})

	cleanup := func() {
		Expect(lfc.Close()).To(Succeed())
		Expect(pipe.Close()).To(Succeed())
		Expect(idx.Close()).To(Succeed())
		Expect(store.Close()).To(Succeed())
	}
	return core, cleanup
}

var _ = Describe("MCP Server", func() {
	var (
		core    *conversations.Core
		cleanup func()
	)

	BeforeEach(func() {
		core, cleanup = newTestCore(GinkgoT().TempDir())
	})

	AfterEach(func() {
		cleanup()
	})

	Describe("NewServer", func() {
		It("returns an error when the core is nil", func() {
			_, err := NewServer(Config{Logger: logger.Nop()})
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("conversation core is required"))
		})

		It("returns an error when logger is nil", func() {
			_, err := NewServer(Config{Core: core})
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("logger is required"))
		})

		It("creates a noop server without dependencies", func() {
			server, err := NewServer(Config{Noop: true})
			Expect(err).NotTo(HaveOccurred())
			Expect(server).NotTo(BeNil())
		})

		It("creates a server with a handler", func() {
			server, err := NewServer(Config{Core: core, Logger: logger.Nop()})
			Expect(err).NotTo(HaveOccurred())
			Expect(server.Handler()).NotTo(BeNil())
		})
	})

	Describe("search_conversations tool", func() {
		var server *Server

		BeforeEach(func() {
			var err error
			server, err = NewServer(Config{Core: core, Logger: logger.Nop()})
			Expect(err).NotTo(HaveOccurred())

			ctx := context.Background()
			_, err = core.AppendTurn(ctx, "", transcript.RoleUser, "the postgres server keeps crashing", conversations.TurnMeta{Channel: "telegram"})
			Expect(err).NotTo(HaveOccurred())
			_, err = core.AppendTurn(ctx, "", transcript.RoleUser, "baking sourdough bread this weekend", conversations.TurnMeta{Channel: "email"})
			Expect(err).NotTo(HaveOccurred())
		})

		It("returns matching conversations", func() {
			result, output, err := server.handleSearch(context.Background(), nil, SearchInput{Query: "postgres"})
			Expect(err).NotTo(HaveOccurred())
			Expect(result.IsError).To(BeFalse())
			Expect(output.Count).To(Equal(1))
			Expect(output.Results[0].Snippet).To(ContainSubstring("postgres"))
		})

		It("honors the channel filter", func() {
			_, output, err := server.handleSearch(context.Background(), nil, SearchInput{Query: "postgres", Channel: "email"})
			Expect(err).NotTo(HaveOccurred())
			Expect(output.Count).To(Equal(0))
		})

		It("returns empty results for a query with no matches", func() {
			result, output, err := server.handleSearch(context.Background(), nil, SearchInput{Query: "kubernetes"})
			Expect(err).NotTo(HaveOccurred())
			Expect(result.IsError).To(BeFalse())
			Expect(output.Count).To(Equal(0))
		})
	})

	Describe("fetch_turns tool", func() {
		var (
			server *Server
			convID string
		)

		BeforeEach(func() {
			var err error
			server, err = NewServer(Config{Core: core, Logger: logger.Nop()})
			Expect(err).NotTo(HaveOccurred())

			ctx := context.Background()
			res, err := core.AppendTurn(ctx, "", transcript.RoleUser, "how do I tune the query planner?", conversations.TurnMeta{Channel: "telegram"})
			Expect(err).NotTo(HaveOccurred())
			convID = res.ConversationID

			_, err = core.AppendTurn(ctx, convID, transcript.RoleAssistant, "start with ANALYZE and the stats targets", conversations.TurnMeta{})
			Expect(err).NotTo(HaveOccurred())
		})

		It("requires a conversation id", func() {
			result, _, err := server.handleFetchTurns(context.Background(), nil, FetchTurnsInput{})
			Expect(err).NotTo(HaveOccurred())
			Expect(result.IsError).To(BeTrue())
		})

		It("returns the turns of a conversation", func() {
			result, output, err := server.handleFetchTurns(context.Background(), nil, FetchTurnsInput{ConversationID: convID})
			Expect(err).NotTo(HaveOccurred())
			Expect(result.IsError).To(BeFalse())
			Expect(output.Count).To(Equal(2))
			Expect(output.Turns[0].Role).To(Equal(transcript.RoleUser))
			Expect(output.Turns[1].Content).To(ContainSubstring("ANALYZE"))
		})

		It("reports an error for an unknown conversation", func() {
			result, _, err := server.handleFetchTurns(context.Background(), nil, FetchTurnsInput{ConversationID: "nope"})
			Expect(err).NotTo(HaveOccurred())
			Expect(result.IsError).To(BeTrue())
		})
	})
})
