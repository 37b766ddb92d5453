package eventstream_test

import (
	"encoding/json"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/spoolhq/spool/pkg/eventstream"
)

var _ = Describe("Event", func() {
	It("marshals ConversationEvent with expected top-level keys", func() {
		now := time.Unix(1735689600, 0).UTC()
		event := eventstream.ConversationEvent{
			SchemaVersion:  eventstream.SchemaVersionV1,
			EventType:      eventstream.EventTypeConversationRenamed,
			EventID:        "evt_123",
			EmittedAt:      now,
			ConversationID: "conv-1",
			Channel:        "telegram",
			Title:          "Trip planning",
			OldTitle:       "Untitled",
		}

		payload, err := json.Marshal(event)
		Expect(err).NotTo(HaveOccurred())

		var got map[string]any
		Expect(json.Unmarshal(payload, &got)).To(Succeed())

		Expect(got).To(HaveKey("schema_version"))
		Expect(got).To(HaveKey("event_type"))
		Expect(got).To(HaveKey("event_id"))
		Expect(got).To(HaveKey("emitted_at"))
		Expect(got).To(HaveKey("conversation_id"))
		Expect(got).To(HaveKey("title"))
		Expect(got).To(HaveKey("old_title"))
	})

	It("omits state fields from rename payloads", func() {
		event := eventstream.ConversationEvent{
			SchemaVersion:  eventstream.SchemaVersionV1,
			EventType:      eventstream.EventTypeConversationRenamed,
			ConversationID: "conv-1",
			Title:          "Trip planning",
		}

		payload, err := json.Marshal(event)
		Expect(err).NotTo(HaveOccurred())

		var got map[string]any
		Expect(json.Unmarshal(payload, &got)).To(Succeed())
		Expect(got).NotTo(HaveKey("state"))
		Expect(got).NotTo(HaveKey("old_state"))
	})

	It("defines stable event constants", func() {
		Expect(eventstream.SchemaVersionV1).To(BeNumerically(">", 0))
		Expect(eventstream.EventTypeConversationCreated).To(Equal("spool.conversation.created"))
		Expect(eventstream.EventTypeConversationRenamed).To(Equal("spool.conversation.renamed"))
		Expect(eventstream.EventTypeStateChanged).To(Equal("spool.conversation.state_changed"))
	})

	It("provides ErrNilEvent for nil payload validation", func() {
		Expect(eventstream.ErrNilEvent).NotTo(BeNil())
		Expect(eventstream.ErrNilEvent).To(MatchError("nil conversation event"))
	})
})
