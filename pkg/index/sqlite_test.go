package index_test

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/spoolhq/spool/pkg/index"
	"github.com/spoolhq/spool/pkg/logger"
)

var _ = Describe("SQLiteDriver", func() {
	var (
		driver *index.SQLiteDriver
		ctx    context.Context
	)

	row := func(conv string, turn int, content string) index.Row {
		return index.Row{
			ConversationID: conv,
			Turn:           turn,
			Role:           "user",
			Timestamp:      time.Now(),
			Content:        "user: " + content,
		}
	}

	BeforeEach(func() {
		ctx = context.Background()

		var err error
		driver, err = index.NewSQLiteDriver(index.SQLiteConfig{DBPath: ":memory:"}, logger.Nop())
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		Expect(driver.Close()).To(Succeed())
	})

	It("implements index.Driver", func() {
		var _ index.Driver = (*index.SQLiteDriver)(nil)
	})

	Describe("Search", func() {
		BeforeEach(func() {
			Expect(driver.IndexTurn(ctx, row("conv-a", 1, "hello there"))).To(Succeed())
			Expect(driver.IndexTurn(ctx, row("conv-a", 2, "how is the weather"))).To(Succeed())
			Expect(driver.IndexTurn(ctx, row("conv-b", 1, "server status please"))).To(Succeed())
			Expect(driver.IndexTurn(ctx, row("conv-b", 2, "the server is green"))).To(Succeed())
		})

		It("finds matching turns", func() {
			hits, err := driver.Search(ctx, "server", 10, index.Filters{})
			Expect(err).NotTo(HaveOccurred())
			Expect(hits).To(HaveLen(1))
			Expect(hits[0].ConversationID).To(Equal("conv-b"))
			Expect(hits[0].Snippet).To(ContainSubstring("server"))
		})

		It("deduplicates by conversation keeping the best turn", func() {
			hits, err := driver.Search(ctx, "server status", 10, index.Filters{})
			Expect(err).NotTo(HaveOccurred())
			Expect(hits).To(HaveLen(1))
			Expect(hits[0].Turn).To(Equal(1))
		})

		It("returns nothing for an empty query", func() {
			hits, err := driver.Search(ctx, "   ", 10, index.Filters{})
			Expect(err).NotTo(HaveOccurred())
			Expect(hits).To(BeEmpty())
		})

		It("is immune to FTS5 syntax in the query", func() {
			_, err := driver.Search(ctx, `NEAR( "unbalanced`, 10, index.Filters{})
			Expect(err).NotTo(HaveOccurred())
		})

		It("filters by channel", func() {
			r := row("conv-c", 1, "server maintenance window")
			r.Channel = "email"
			Expect(driver.IndexTurn(ctx, r)).To(Succeed())

			hits, err := driver.Search(ctx, "server", 10, index.Filters{Channel: "email"})
			Expect(err).NotTo(HaveOccurred())
			Expect(hits).To(HaveLen(1))
			Expect(hits[0].ConversationID).To(Equal("conv-c"))
		})
	})

	Describe("CountTurns and DeleteConversation", func() {
		It("tracks per-conversation row counts", func() {
			Expect(driver.IndexTurn(ctx, row("conv-a", 1, "one"))).To(Succeed())
			Expect(driver.IndexTurn(ctx, row("conv-a", 1, "two"))).To(Succeed())

			count, err := driver.CountTurns(ctx, "conv-a")
			Expect(err).NotTo(HaveOccurred())
			Expect(count).To(Equal(2))

			Expect(driver.DeleteConversation(ctx, "conv-a")).To(Succeed())

			count, err = driver.CountTurns(ctx, "conv-a")
			Expect(err).NotTo(HaveOccurred())
			Expect(count).To(BeZero())
		})
	})
})
