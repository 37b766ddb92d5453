package search_test

import (
	"context"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/spoolhq/spool/pkg/catalog"
	"github.com/spoolhq/spool/pkg/index"
	"github.com/spoolhq/spool/pkg/logger"
	"github.com/spoolhq/spool/pkg/search"
	testutils "github.com/spoolhq/spool/pkg/utils/test"
	"github.com/spoolhq/spool/pkg/vector"
)

var _ = Describe("Fusion", func() {
	var (
		ctx      context.Context
		idx      *index.SQLiteDriver
		store    *catalog.Store
		vectors  *testutils.MockVectorDriver
		embedder *testutils.MockEmbedder
		f        *search.Fusion
	)

	seedConversation := func(id, channel string, updated time.Time, turns ...string) {
		Expect(store.Create(ctx, catalog.Conversation{
			ID:        id,
			Channel:   channel,
			TurnCount: len(turns),
			CreatedAt: updated,
			UpdatedAt: updated,
		})).To(Succeed())

		for i, content := range turns {
			role := "user"
			if i%2 == 1 {
				role = "assistant"
			}
			Expect(idx.IndexTurn(ctx, index.Row{
				ConversationID: id,
				Turn:           i + 1,
				Role:           role,
				Channel:        channel,
				Timestamp:      updated,
				Content:        role + ": " + content,
			})).To(Succeed())
		}
	}

	BeforeEach(func() {
		ctx = context.Background()
		dir := GinkgoT().TempDir()

		var err error
		idx, err = index.NewSQLiteDriver(index.SQLiteConfig{DBPath: filepath.Join(dir, "index.db")}, logger.Nop())
		Expect(err).NotTo(HaveOccurred())

		store, err = catalog.NewStore(catalog.Config{DBPath: filepath.Join(dir, "catalog.db")}, logger.Nop())
		Expect(err).NotTo(HaveOccurred())

		vectors = testutils.NewMockVectorDriver()
		embedder = testutils.NewMockEmbedder()
		f = search.NewFusion(idx, vectors, embedder, store, logger.Nop())
	})

	AfterEach(func() {
		Expect(idx.Close()).To(Succeed())
		Expect(store.Close()).To(Succeed())
	})

	It("ranks the keyword-matching conversation above the rest", func() {
		now := time.Now().UTC()
		seedConversation("conv-a", "telegram", now, "Hello", "Hi there")
		seedConversation("conv-b", "telegram", now, "Server status?", "All green")

		// Both conversations are semantically close to the query; only B
		// matches it lexically.
		vectors.Documents["conv-a"] = vector.Document{ConversationID: "conv-a"}
		vectors.Documents["conv-b"] = vector.Document{ConversationID: "conv-b"}
		vectors.Results = []vector.QueryResult{
			{Document: vector.Document{ConversationID: "conv-a"}, Score: 0.9},
			{Document: vector.Document{ConversationID: "conv-b"}, Score: 0.8},
		}

		results, err := f.Search(ctx, "server", search.Options{})
		Expect(err).NotTo(HaveOccurred())
		Expect(results).To(HaveLen(2))
		Expect(results[0].ConversationID).To(Equal("conv-b"))
		Expect(results[1].ConversationID).To(Equal("conv-a"))
		Expect(results[0].Snippet).To(ContainSubstring("Server"))
	})

	It("degrades to keyword-only when the embedder fails", func() {
		now := time.Now().UTC()
		seedConversation("conv-b", "telegram", now, "Server status?", "All green")

		vectors.Documents["conv-b"] = vector.Document{ConversationID: "conv-b"}
		embedder.FailAll = true

		results, err := f.Search(ctx, "server", search.Options{})
		Expect(err).NotTo(HaveOccurred())
		Expect(results).To(HaveLen(1))
		Expect(results[0].ConversationID).To(Equal("conv-b"))
	})

	It("skips the vector branch entirely when the index is empty", func() {
		now := time.Now().UTC()
		seedConversation("conv-b", "telegram", now, "Server status?", "All green")

		results, err := f.Search(ctx, "server", search.Options{})
		Expect(err).NotTo(HaveOccurred())
		Expect(results).To(HaveLen(1))
	})

	It("works with no vector backend at all", func() {
		now := time.Now().UTC()
		seedConversation("conv-b", "telegram", now, "Server status?", "All green")

		keywordOnly := search.NewFusion(idx, nil, nil, store, logger.Nop())
		results, err := keywordOnly.Search(ctx, "server", search.Options{})
		Expect(err).NotTo(HaveOccurred())
		Expect(results).To(HaveLen(1))
	})

	It("breaks score ties by most recently updated", func() {
		older := time.Now().UTC().Add(-time.Hour)
		newer := time.Now().UTC()
		// conv-kw appears only in the keyword branch at rank 0; conv-vec
		// only in the vector branch at rank 0. Identical RRF scores, so
		// recency decides.
		seedConversation("conv-kw", "telegram", older, "deploy the service")
		seedConversation("conv-vec", "telegram", newer, "unrelated chatter")

		vectors.Documents["conv-vec"] = vector.Document{ConversationID: "conv-vec"}
		vectors.Results = []vector.QueryResult{
			{Document: vector.Document{ConversationID: "conv-vec"}, Score: 0.9},
		}

		results, err := f.Search(ctx, "deploy", search.Options{})
		Expect(err).NotTo(HaveOccurred())
		Expect(results).To(HaveLen(2))
		Expect(results[0].Score).To(Equal(results[1].Score))
		Expect(results[0].ConversationID).To(Equal("conv-vec"))
	})

	It("filters by channel", func() {
		now := time.Now().UTC()
		seedConversation("conv-tg", "telegram", now, "server restarted")
		seedConversation("conv-mail", "email", now, "server restarted")

		results, err := f.Search(ctx, "server", search.Options{Channel: "email"})
		Expect(err).NotTo(HaveOccurred())
		Expect(results).To(HaveLen(1))
		Expect(results[0].ConversationID).To(Equal("conv-mail"))
	})

	It("caps results at the requested limit", func() {
		now := time.Now().UTC()
		for _, id := range []string{"c1", "c2", "c3"} {
			seedConversation(id, "telegram", now, "server maintenance notes")
		}

		results, err := f.Search(ctx, "server", search.Options{Limit: 2})
		Expect(err).NotTo(HaveOccurred())
		Expect(results).To(HaveLen(2))
	})

	It("drops vector hits for conversations missing from the catalog", func() {
		vectors.Documents["ghost"] = vector.Document{ConversationID: "ghost"}
		vectors.Results = []vector.QueryResult{
			{Document: vector.Document{ConversationID: "ghost"}, Score: 0.9},
		}

		results, err := f.Search(ctx, "anything", search.Options{})
		Expect(err).NotTo(HaveOccurred())
		Expect(results).To(BeEmpty())
	})
})
