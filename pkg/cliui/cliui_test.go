package cliui_test

import (
	"bytes"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/spoolhq/spool/pkg/cliui"
)

var _ = Describe("Step", func() {
	It("runs the function and prints a success mark", func() {
		var buf bytes.Buffer
		ran := false

		err := cliui.Step(&buf, "opening stores", func() error {
			ran = true
			return nil
		})

		Expect(err).ToNot(HaveOccurred())
		Expect(ran).To(BeTrue())
		Expect(buf.String()).To(ContainSubstring("opening stores"))
		Expect(buf.String()).To(ContainSubstring("✓"))
	})

	It("returns the function's error and prints a failure mark", func() {
		var buf bytes.Buffer
		boom := errors.New("boom")

		err := cliui.Step(&buf, "opening stores", func() error {
			return boom
		})

		Expect(err).To(MatchError(boom))
		Expect(buf.String()).To(ContainSubstring("✗"))
	})
})

var _ = Describe("Mark", func() {
	It("marks nil errors as success", func() {
		Expect(cliui.Mark(nil)).To(Equal(cliui.SuccessMark))
	})

	It("marks non-nil errors as failure", func() {
		Expect(cliui.Mark(errors.New("boom"))).To(Equal(cliui.FailMark))
	})
})

var _ = Describe("FormatDuration", func() {
	It("renders sub-second durations in milliseconds", func() {
		Expect(cliui.FormatDuration(12 * time.Millisecond)).To(Equal("12ms"))
	})

	It("renders longer durations in seconds", func() {
		Expect(cliui.FormatDuration(3200 * time.Millisecond)).To(Equal("3.2s"))
	})
})
