package testutils

import (
	"context"
	"fmt"

	"github.com/spoolhq/spool/pkg/vector"
)

// MockVectorDriver is a test vector driver that stores documents in memory.
type MockVectorDriver struct {
	// Documents maps conversation id to the last upserted document.
	Documents map[string]vector.Document

	// Results is returned by Query regardless of the embedding.
	Results []vector.QueryResult

	// FailUpsert causes Upsert to return an error.
	FailUpsert bool
}

func NewMockVectorDriver() *MockVectorDriver {
	return &MockVectorDriver{
		Documents: make(map[string]vector.Document),
	}
}

func (m *MockVectorDriver) Upsert(_ context.Context, docs []vector.Document) error {
	if m.FailUpsert {
		return fmt.Errorf("mock upsert failure")
	}
	for _, doc := range docs {
		m.Documents[doc.ConversationID] = doc
	}
	return nil
}

func (m *MockVectorDriver) Query(_ context.Context, _ []float32, topK int) ([]vector.QueryResult, error) {
	if len(m.Results) < topK {
		return m.Results, nil
	}
	return m.Results[:topK], nil
}

func (m *MockVectorDriver) Delete(_ context.Context, conversationIDs []string) error {
	for _, id := range conversationIDs {
		delete(m.Documents, id)
	}
	return nil
}

func (m *MockVectorDriver) Count(_ context.Context) (int, error) {
	return len(m.Documents), nil
}

func (m *MockVectorDriver) Close() error {
	return nil
}
