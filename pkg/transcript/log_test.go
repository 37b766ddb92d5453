package transcript_test

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/spoolhq/spool/pkg/logger"
	"github.com/spoolhq/spool/pkg/transcript"
)

var _ = Describe("Log", func() {
	var (
		log *transcript.Log
		dir string
		ctx context.Context
	)

	newTurn := func(role string, number int, content string) transcript.Line {
		return transcript.NewTurnLine(transcript.Turn{
			Role:      role,
			Content:   content,
			Number:    number,
			Timestamp: time.Now(),
		})
	}

	BeforeEach(func() {
		dir = GinkgoT().TempDir()
		ctx = context.Background()

		var err error
		log, err = transcript.NewLog(transcript.Config{Dir: dir}, logger.Nop())
		Expect(err).NotTo(HaveOccurred())
	})

	Describe("NewLog", func() {
		It("requires a directory", func() {
			_, err := transcript.NewLog(transcript.Config{}, logger.Nop())
			Expect(err).To(HaveOccurred())
		})

		It("creates the directory if missing", func() {
			nested := filepath.Join(dir, "a", "b")
			_, err := transcript.NewLog(transcript.Config{Dir: nested}, logger.Nop())
			Expect(err).NotTo(HaveOccurred())
			Expect(nested).To(BeADirectory())
		})
	})

	Describe("Append", func() {
		It("rejects structurally invalid lines", func() {
			err := log.Append(ctx, "conv-1", transcript.Line{Type: "bogus"})
			Expect(err).To(MatchError(transcript.ErrInvalidLine))
		})

		It("rejects a turn with an unknown role", func() {
			err := log.Append(ctx, "conv-1", transcript.NewTurnLine(transcript.Turn{
				Role: "narrator", Content: "x", Number: 1, Timestamp: time.Now(),
			}))
			Expect(err).To(MatchError(transcript.ErrInvalidLine))
		})

		It("persists lines durably as JSONL", func() {
			Expect(log.Append(ctx, "conv-1",
				transcript.NewMetaLine("conv-1", "whatsapp", time.Now(), []string{"ana"}))).To(Succeed())
			Expect(log.Append(ctx, "conv-1", newTurn(transcript.RoleUser, 1, "hello"))).To(Succeed())

			data, err := os.ReadFile(log.Path("conv-1"))
			Expect(err).NotTo(HaveOccurred())
			lines := strings.Split(strings.TrimSpace(string(data)), "\n")
			Expect(lines).To(HaveLen(2))
			Expect(lines[0]).To(ContainSubstring(`"type":"meta"`))
			Expect(lines[1]).To(ContainSubstring(`"hello"`))
		})

		It("holds a line when the write fails and flushes it before the next one", func() {
			// A directory at the transcript path makes the open fail.
			path := log.Path("conv-1")
			Expect(os.Mkdir(path, 0o755)).To(Succeed())

			err := log.Append(ctx, "conv-1", newTurn(transcript.RoleUser, 1, "first"))
			Expect(err).To(HaveOccurred())
			Expect(log.HeldCount("conv-1")).To(Equal(1))

			Expect(os.Remove(path)).To(Succeed())

			Expect(log.Append(ctx, "conv-1", newTurn(transcript.RoleAssistant, 1, "second"))).To(Succeed())
			Expect(log.HeldCount("conv-1")).To(Equal(0))

			var contents []string
			Expect(log.ReadAll(ctx, "conv-1", func(line transcript.Line) error {
				contents = append(contents, line.Turn.Content)
				return nil
			})).To(Succeed())
			Expect(contents).To(Equal([]string{"first", "second"}))
		})
	})

	Describe("ReadAll", func() {
		BeforeEach(func() {
			Expect(log.Append(ctx, "conv-1",
				transcript.NewMetaLine("conv-1", "whatsapp", time.Now(), nil))).To(Succeed())
			Expect(log.Append(ctx, "conv-1", newTurn(transcript.RoleUser, 1, "first"))).To(Succeed())
			Expect(log.Append(ctx, "conv-1", newTurn(transcript.RoleAssistant, 1, "second"))).To(Succeed())
		})

		It("streams lines in file order", func() {
			var types []string
			err := log.ReadAll(ctx, "conv-1", func(line transcript.Line) error {
				types = append(types, line.Type)
				return nil
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(types).To(Equal([]string{"meta", "turn", "turn"}))
		})

		It("returns ErrNotFound for unknown conversations", func() {
			err := log.ReadAll(ctx, "missing", func(transcript.Line) error { return nil })
			Expect(err).To(MatchError(transcript.ErrNotFound))
		})

		It("skips a corrupt line between two valid turns with exactly one warning", func() {
			// Inject garbage between the two turn lines.
			path := log.Path("conv-1")
			data, err := os.ReadFile(path)
			Expect(err).NotTo(HaveOccurred())
			lines := strings.SplitAfter(string(data), "\n")
			corrupted := lines[0] + lines[1] + "{not json at all\n" + lines[2]
			Expect(os.WriteFile(path, []byte(corrupted), 0o644)).To(Succeed())

			var warnings bytes.Buffer
			warnLog, err := transcript.NewLog(transcript.Config{Dir: dir},
				logger.New(logger.WithWriter(&warnings)))
			Expect(err).NotTo(HaveOccurred())

			var turns []string
			err = warnLog.ReadAll(ctx, "conv-1", func(line transcript.Line) error {
				if line.Type == transcript.TypeTurn {
					turns = append(turns, line.Turn.Content)
				}
				return nil
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(turns).To(Equal([]string{"first", "second"}))
			Expect(strings.Count(warnings.String(), "skipping malformed transcript line")).To(Equal(1))
		})
	})

	Describe("ReadTail", func() {
		BeforeEach(func() {
			Expect(log.Append(ctx, "conv-1",
				transcript.NewMetaLine("conv-1", "whatsapp", time.Now(), nil))).To(Succeed())
			for i := 1; i <= 5; i++ {
				Expect(log.Append(ctx, "conv-1", newTurn(transcript.RoleUser, i, "msg"))).To(Succeed())
			}
			Expect(log.Append(ctx, "conv-1", transcript.NewEventLine(transcript.Event{
				Subtype:           transcript.EventCompression,
				Timestamp:         time.Now(),
				CompressedThrough: 3,
				Summary:           "earlier discussion",
			}))).To(Succeed())
		})

		It("returns the most recent N turns in order", func() {
			tail, err := log.ReadTail(ctx, "conv-1", 2)
			Expect(err).NotTo(HaveOccurred())
			Expect(tail.Turns).To(HaveLen(2))
			Expect(tail.Turns[0].Number).To(Equal(4))
			Expect(tail.Turns[1].Number).To(Equal(5))
		})

		It("carries the latest compression event", func() {
			tail, err := log.ReadTail(ctx, "conv-1", 2)
			Expect(err).NotTo(HaveOccurred())
			Expect(tail.Compression).NotTo(BeNil())
			Expect(tail.Compression.CompressedThrough).To(Equal(3))
			Expect(tail.Compression.Summary).To(Equal("earlier discussion"))
		})

		It("returns all turns when maxTurns is zero", func() {
			tail, err := log.ReadTail(ctx, "conv-1", 0)
			Expect(err).NotTo(HaveOccurred())
			Expect(tail.Turns).To(HaveLen(5))
			Expect(tail.Meta).NotTo(BeNil())
		})
	})

	Describe("List", func() {
		It("enumerates conversation ids from transcript files", func() {
			Expect(log.Append(ctx, "conv-a",
				transcript.NewMetaLine("conv-a", "email", time.Now(), nil))).To(Succeed())
			Expect(log.Append(ctx, "conv-b",
				transcript.NewMetaLine("conv-b", "email", time.Now(), nil))).To(Succeed())

			ids, err := log.List(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(ids).To(ConsistOf("conv-a", "conv-b"))
		})
	})

	Describe("CountTurns", func() {
		It("counts only turn lines", func() {
			Expect(log.Append(ctx, "conv-1",
				transcript.NewMetaLine("conv-1", "whatsapp", time.Now(), nil))).To(Succeed())
			Expect(log.Append(ctx, "conv-1", newTurn(transcript.RoleUser, 1, "q"))).To(Succeed())
			Expect(log.Append(ctx, "conv-1", newTurn(transcript.RoleAssistant, 1, "a"))).To(Succeed())

			count, err := log.CountTurns(ctx, "conv-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(count).To(Equal(2))
		})
	})
})
