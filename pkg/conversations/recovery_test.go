package conversations_test

import (
	"context"
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/spoolhq/spool/pkg/catalog"
	"github.com/spoolhq/spool/pkg/conversations"
	"github.com/spoolhq/spool/pkg/search"
	"github.com/spoolhq/spool/pkg/transcript"
)

var _ = Describe("Recover", func() {
	var (
		ctx context.Context
		h   *harness
	)

	BeforeEach(func() {
		ctx = context.Background()
		h = newHarness(GinkgoT().TempDir())
	})

	AfterEach(func() {
		h.close()
	})

	seed := func(turns ...string) string {
		var id string
		for _, content := range turns {
			res, err := h.core.AppendTurn(ctx, id, transcript.RoleUser, content, conversations.TurnMeta{Channel: "telegram"})
			Expect(err).NotTo(HaveOccurred())
			id = res.ConversationID
		}
		return id
	}

	It("is a no-op on a consistent store", func() {
		seed("hello", "server status")

		stats, err := h.core.Recover(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(stats.Conversations).To(Equal(1))
		Expect(stats.CreatedRows).To(BeZero())
		Expect(stats.Reindexed).To(BeZero())
		Expect(stats.OrphanRows).To(BeZero())
	})

	It("reports catalog rows whose transcript is missing", func() {
		id := seed("hello", "hi")

		Expect(os.Remove(h.log.Path(id))).To(Succeed())

		stats, err := h.core.Recover(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(stats.Conversations).To(BeZero())
		Expect(stats.OrphanRows).To(Equal(1))

		// The row stays; only the scan reports it.
		_, err = h.core.Get(ctx, id)
		Expect(err).NotTo(HaveOccurred())
	})

	It("rebuilds the catalog and keyword index from transcripts alone", func() {
		id := seed("restart the api server", "done")

		// Simulate losing every derived store: fresh harness over the same
		// transcript directory.
		h.close()
		for _, pattern := range []string{"catalog.db*", "index.db*"} {
			matches, err := filepath.Glob(filepath.Join(h.dir, pattern))
			Expect(err).NotTo(HaveOccurred())
			for _, m := range matches {
				Expect(os.Remove(m)).To(Succeed())
			}
		}
		h = newHarness(h.dir)

		stats, err := h.core.Recover(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(stats.Conversations).To(Equal(1))
		Expect(stats.CreatedRows).To(Equal(1))
		Expect(stats.Reindexed).To(Equal(1))

		conv, err := h.core.Get(ctx, id)
		Expect(err).NotTo(HaveOccurred())
		Expect(conv.Channel).To(Equal("telegram"))
		Expect(conv.TurnCount).To(Equal(2))

		results, err := h.core.Search(ctx, "restart", search.Options{})
		Expect(err).NotTo(HaveOccurred())
		Expect(results).To(HaveLen(1))
		Expect(results[0].ConversationID).To(Equal(id))
	})

	It("re-indexes a conversation whose index row count drifted", func() {
		id := seed("one", "two", "three")

		Expect(h.idx.DeleteConversation(ctx, id)).To(Succeed())

		stats, err := h.core.Recover(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(stats.Reindexed).To(Equal(1))

		results, err := h.core.Search(ctx, "three", search.Options{})
		Expect(err).NotTo(HaveOccurred())
		Expect(results).To(HaveLen(1))
	})

	It("re-enqueues conversations flagged for abbreviation", func() {
		id := seed("hello")
		Expect(h.store.SetNeedsAbbreviation(ctx, id, true)).To(Succeed())

		stats, err := h.core.Recover(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(stats.Enqueued).To(Equal(1))

		Eventually(func() bool {
			conv, err := h.core.Get(ctx, id)
			Expect(err).NotTo(HaveOccurred())
			return conv.NeedsAbbreviation
		}).Should(BeFalse())
	})

	It("re-enqueues conversations with no abbreviation record", func() {
		seed("hello")

		stats, err := h.core.Recover(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(stats.Enqueued).To(Equal(1))
	})

	It("re-embeds when the embedding model changed", func() {
		id := seed("hello")

		Expect(h.store.SetAbbreviation(ctx, catalog.AbbreviationRecord{
			ConversationID: id,
			Abbreviation:   "an old digest",
			EmbeddingModel: "previous-model",
			GeneratedAt:    time.Now().UTC(),
		})).To(Succeed())

		stats, err := h.core.Recover(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(stats.Enqueued).To(Equal(1))

		Eventually(func() string {
			rec, err := h.store.GetAbbreviation(ctx, id)
			Expect(err).NotTo(HaveOccurred())
			return rec.EmbeddingModel
		}).Should(Equal("test-embed"))
	})

	It("does not re-enqueue an up-to-date conversation", func() {
		id := seed("hello")

		Expect(h.store.SetAbbreviation(ctx, catalog.AbbreviationRecord{
			ConversationID: id,
			Abbreviation:   "a digest",
			EmbeddingModel: "test-embed",
			GeneratedAt:    time.Now().UTC(),
		})).To(Succeed())

		stats, err := h.core.Recover(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(stats.Enqueued).To(BeZero())
	})
})
