package testutils

import (
	"context"
	"fmt"
	"sync"

	"github.com/spoolhq/spool/pkg/summarize"
)

// MockSummarizer is a test summarizer that records calls and returns
// configurable results.
type MockSummarizer struct {
	mu sync.Mutex

	// Requests accumulates every request passed to Summarize.
	Requests []summarize.Request

	// Result is returned for every call unless Fail is set.
	Result summarize.Result

	// Fail causes Summarize to return an error.
	Fail bool
}

func NewMockSummarizer() *MockSummarizer {
	return &MockSummarizer{
		Result: summarize.Result{
			Abbreviation: "a test conversation",
			Title:        "Test Conversation",
			Topics:       []string{"testing"},
		},
	}
}

func (m *MockSummarizer) Summarize(_ context.Context, req summarize.Request) (summarize.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Requests = append(m.Requests, req)
	if m.Fail {
		return summarize.Result{}, fmt.Errorf("mock summarize failure")
	}
	return m.Result, nil
}

// CallCount reports how many times Summarize was invoked.
func (m *MockSummarizer) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Requests)
}

func (m *MockSummarizer) Close() error {
	return nil
}
