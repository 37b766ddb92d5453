package sqlitevec_test

import (
	"context"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/spoolhq/spool/pkg/logger"
	"github.com/spoolhq/spool/pkg/vector"
	"github.com/spoolhq/spool/pkg/vector/sqlitevec"
)

var _ = Describe("Driver", func() {
	var (
		driver *sqlitevec.Driver
		ctx    context.Context
	)

	BeforeEach(func() {
		ctx = context.Background()

		var err error
		driver, err = sqlitevec.NewDriver(sqlitevec.Config{
			DBPath:     filepath.Join(GinkgoT().TempDir(), "vectors.db"),
			Dimensions: 4,
			Model:      "test-embed:v1",
		}, logger.Nop())
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		Expect(driver.Close()).To(Succeed())
	})

	Describe("NewDriver", func() {
		It("requires a database path", func() {
			_, err := sqlitevec.NewDriver(sqlitevec.Config{
				Dimensions: 4,
				Model:      "test-embed:v1",
			}, logger.Nop())
			Expect(err).To(HaveOccurred())
		})

		It("requires dimensions", func() {
			_, err := sqlitevec.NewDriver(sqlitevec.Config{
				DBPath: filepath.Join(GinkgoT().TempDir(), "v.db"),
				Model:  "test-embed:v1",
			}, logger.Nop())
			Expect(err).To(HaveOccurred())
		})

		It("requires a model identifier", func() {
			_, err := sqlitevec.NewDriver(sqlitevec.Config{
				DBPath:     filepath.Join(GinkgoT().TempDir(), "v.db"),
				Dimensions: 4,
			}, logger.Nop())
			Expect(err).To(HaveOccurred())
		})

		It("keeps vectors from different models in separate tables", func() {
			path := filepath.Join(GinkgoT().TempDir(), "shared.db")

			a, err := sqlitevec.NewDriver(sqlitevec.Config{
				DBPath: path, Dimensions: 4, Model: "model-a",
			}, logger.Nop())
			Expect(err).NotTo(HaveOccurred())
			defer a.Close()

			Expect(a.Upsert(ctx, []vector.Document{
				{ConversationID: "conv-1", Embedding: []float32{1, 0, 0, 0}},
			})).To(Succeed())

			b, err := sqlitevec.NewDriver(sqlitevec.Config{
				DBPath: path, Dimensions: 4, Model: "model-b",
			}, logger.Nop())
			Expect(err).NotTo(HaveOccurred())
			defer b.Close()

			count, err := b.Count(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(count).To(Equal(0))
		})
	})

	Describe("Upsert and Query", func() {
		It("returns the nearest conversations first", func() {
			Expect(driver.Upsert(ctx, []vector.Document{
				{ConversationID: "conv-1", Embedding: []float32{1, 0, 0, 0}},
				{ConversationID: "conv-2", Embedding: []float32{0, 1, 0, 0}},
				{ConversationID: "conv-3", Embedding: []float32{0.9, 0.1, 0, 0}},
			})).To(Succeed())

			results, err := driver.Query(ctx, []float32{1, 0, 0, 0}, 2)
			Expect(err).NotTo(HaveOccurred())
			Expect(results).To(HaveLen(2))
			Expect(results[0].ConversationID).To(Equal("conv-1"))
			Expect(results[1].ConversationID).To(Equal("conv-3"))
			Expect(results[0].Score).To(BeNumerically(">", results[1].Score))
		})

		It("replaces the vector on repeated upsert for the same conversation", func() {
			Expect(driver.Upsert(ctx, []vector.Document{
				{ConversationID: "conv-1", Embedding: []float32{1, 0, 0, 0}},
			})).To(Succeed())
			Expect(driver.Upsert(ctx, []vector.Document{
				{ConversationID: "conv-1", Embedding: []float32{0, 0, 0, 1}},
			})).To(Succeed())

			count, err := driver.Count(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(count).To(Equal(1))

			results, err := driver.Query(ctx, []float32{0, 0, 0, 1}, 1)
			Expect(err).NotTo(HaveOccurred())
			Expect(results).To(HaveLen(1))
			Expect(results[0].ConversationID).To(Equal("conv-1"))
		})

		It("handles an empty upsert", func() {
			Expect(driver.Upsert(ctx, nil)).To(Succeed())
		})
	})

	Describe("Delete", func() {
		It("removes documents by conversation id", func() {
			Expect(driver.Upsert(ctx, []vector.Document{
				{ConversationID: "conv-1", Embedding: []float32{1, 0, 0, 0}},
				{ConversationID: "conv-2", Embedding: []float32{0, 1, 0, 0}},
			})).To(Succeed())

			Expect(driver.Delete(ctx, []string{"conv-1", "conv-missing"})).To(Succeed())

			count, err := driver.Count(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(count).To(Equal(1))

			results, err := driver.Query(ctx, []float32{1, 0, 0, 0}, 5)
			Expect(err).NotTo(HaveOccurred())
			Expect(results).To(HaveLen(1))
			Expect(results[0].ConversationID).To(Equal("conv-2"))
		})
	})

	Describe("Count", func() {
		It("starts at zero", func() {
			count, err := driver.Count(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(count).To(Equal(0))
		})
	})
})
