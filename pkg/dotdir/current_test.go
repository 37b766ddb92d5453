package dotdir_test

import (
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/spoolhq/spool/pkg/dotdir"
)

var _ = Describe("dotdir.Manager current conversation", func() {
	var tmpDir string
	var m *dotdir.Manager

	BeforeEach(func() {
		var err error
		tmpDir, err = os.MkdirTemp("", "dotdir-test-*")
		Expect(err).NotTo(HaveOccurred())
		m = dotdir.NewManager()
	})

	AfterEach(func() {
		os.RemoveAll(tmpDir)
	})

	Describe("LoadCurrent", func() {
		It("returns nil when no state file exists", func() {
			state, err := m.LoadCurrent(tmpDir)
			Expect(err).NotTo(HaveOccurred())
			Expect(state).To(BeNil())
		})

		It("loads a valid state file", func() {
			data := `{"conversation_id":"conv-123","title":"Debugging the scheduler"}`
			err := os.WriteFile(filepath.Join(tmpDir, "current.json"), []byte(data), 0o644)
			Expect(err).NotTo(HaveOccurred())

			state, err := m.LoadCurrent(tmpDir)
			Expect(err).NotTo(HaveOccurred())
			Expect(state).NotTo(BeNil())
			Expect(state.ConversationID).To(Equal("conv-123"))
			Expect(state.Title).To(Equal("Debugging the scheduler"))
		})

		It("returns error for invalid JSON", func() {
			err := os.WriteFile(filepath.Join(tmpDir, "current.json"), []byte("not json"), 0o644)
			Expect(err).NotTo(HaveOccurred())

			state, err := m.LoadCurrent(tmpDir)
			Expect(err).To(HaveOccurred())
			Expect(state).To(BeNil())
		})
	})

	Describe("SaveCurrent", func() {
		It("persists state to disk", func() {
			state := &dotdir.CurrentState{
				ConversationID: "conv-456",
				Title:          "Planning the migration",
			}

			err := m.SaveCurrent(state, tmpDir)
			Expect(err).NotTo(HaveOccurred())

			// Verify the file exists
			_, err = os.Stat(filepath.Join(tmpDir, "current.json"))
			Expect(err).NotTo(HaveOccurred())

			// Load it back and verify
			loaded, err := m.LoadCurrent(tmpDir)
			Expect(err).NotTo(HaveOccurred())
			Expect(loaded).To(Equal(state))
		})

		It("returns error for nil state", func() {
			err := m.SaveCurrent(nil, tmpDir)
			Expect(err).To(HaveOccurred())
		})

		It("returns error for state without a conversation id", func() {
			err := m.SaveCurrent(&dotdir.CurrentState{Title: "untitled"}, tmpDir)
			Expect(err).To(HaveOccurred())
		})

		It("overwrites an existing state file", func() {
			first := &dotdir.CurrentState{ConversationID: "conv-1"}
			second := &dotdir.CurrentState{ConversationID: "conv-2"}

			Expect(m.SaveCurrent(first, tmpDir)).To(Succeed())
			Expect(m.SaveCurrent(second, tmpDir)).To(Succeed())

			loaded, err := m.LoadCurrent(tmpDir)
			Expect(err).NotTo(HaveOccurred())
			Expect(loaded.ConversationID).To(Equal("conv-2"))
		})
	})

	Describe("ClearCurrent", func() {
		It("removes an existing state file", func() {
			state := &dotdir.CurrentState{ConversationID: "conv-789"}
			Expect(m.SaveCurrent(state, tmpDir)).To(Succeed())

			Expect(m.ClearCurrent(tmpDir)).To(Succeed())

			loaded, err := m.LoadCurrent(tmpDir)
			Expect(err).NotTo(HaveOccurred())
			Expect(loaded).To(BeNil())
		})

		It("returns nil when no state file exists", func() {
			Expect(m.ClearCurrent(tmpDir)).To(Succeed())
		})
	})
})
