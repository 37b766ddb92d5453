package index_test

import (
	"context"
	"os"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/spoolhq/spool/pkg/index"
	"github.com/spoolhq/spool/pkg/logger"
)

// These tests need a running Postgres and are skipped unless
// SPOOL_TEST_POSTGRES_DSN is set.
var _ = Describe("PostgresDriver", func() {
	var (
		driver *index.PostgresDriver
		ctx    context.Context
	)

	BeforeEach(func() {
		dsn := os.Getenv("SPOOL_TEST_POSTGRES_DSN")
		if dsn == "" {
			Skip("SPOOL_TEST_POSTGRES_DSN not set")
		}

		ctx = context.Background()

		var err error
		driver, err = index.NewPostgresDriver(ctx, index.PostgresConfig{DSN: dsn}, logger.Nop())
		Expect(err).NotTo(HaveOccurred())

		Expect(driver.DeleteConversation(ctx, "pg-conv-a")).To(Succeed())
		Expect(driver.DeleteConversation(ctx, "pg-conv-b")).To(Succeed())
	})

	AfterEach(func() {
		if driver != nil {
			Expect(driver.Close()).To(Succeed())
		}
	})

	It("implements index.Driver", func() {
		var _ index.Driver = (*index.PostgresDriver)(nil)
	})

	It("indexes and searches turns", func() {
		Expect(driver.IndexTurn(ctx, index.Row{
			ConversationID: "pg-conv-a",
			Turn:           1,
			Role:           "user",
			Timestamp:      time.Now(),
			Content:        "user: deployment failed on the api server",
		})).To(Succeed())
		Expect(driver.IndexTurn(ctx, index.Row{
			ConversationID: "pg-conv-b",
			Turn:           1,
			Role:           "user",
			Timestamp:      time.Now(),
			Content:        "user: lunch plans for friday",
		})).To(Succeed())

		hits, err := driver.Search(ctx, "deployment server", 10, index.Filters{})
		Expect(err).NotTo(HaveOccurred())
		Expect(hits).To(HaveLen(1))
		Expect(hits[0].ConversationID).To(Equal("pg-conv-a"))

		count, err := driver.CountTurns(ctx, "pg-conv-a")
		Expect(err).NotTo(HaveOccurred())
		Expect(count).To(Equal(1))
	})
})
