// Package ollama implements pkg/summarize's Summarizer against Ollama's chat API
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spoolhq/spool/pkg/summarize"
)

const (
	// DefaultModel is the default model used for summarization.
	DefaultModel = "llama3.2"

	// DefaultBaseURL is the default Ollama API URL.
	DefaultBaseURL = "http://localhost:11434"
)

const abbreviationPrompt = `You condense conversations. Given a transcript, produce a JSON object with:
- "abbreviation": a 2-4 sentence digest of what the conversation covers, written so it can be matched against future search queries
- "title": a short descriptive title (5 words or fewer)
- "topics": up to 5 single-word or two-word topic tags

Respond with only the JSON object.`

// Summarizer wraps Ollama's chat API.
type Summarizer struct {
	baseURL    string
	model      string
	httpClient *http.Client
}

// Config holds configuration for the Ollama summarizer.
type Config struct {
	// BaseURL is the Ollama API URL. Defaults to DefaultBaseURL if empty.
	BaseURL string

	// Model is the chat model to use. Defaults to DefaultModel if empty.
	Model string
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Format   string        `json:"format,omitempty"`
	Stream   bool          `json:"stream"`
}

type chatResponse struct {
	Message chatMessage `json:"message"`
}

// digest is the JSON shape the model is asked to produce.
type digest struct {
	Abbreviation string   `json:"abbreviation"`
	Title        string   `json:"title"`
	Topics       []string `json:"topics"`
}

// NewSummarizer creates a summarizer backed by Ollama's chat API.
func NewSummarizer(cfg Config) (*Summarizer, error) {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}

	return &Summarizer{
		baseURL: baseURL,
		model:   model,
		httpClient: &http.Client{
			Timeout: 120 * time.Second,
		},
	}, nil
}

// Summarize produces an abbreviation, and a title when requested, from
// the conversation content.
func (s *Summarizer) Summarize(ctx context.Context, req summarize.Request) (summarize.Result, error) {
	var sb strings.Builder
	if req.Title != "" {
		fmt.Fprintf(&sb, "Current title: %s\n\n", req.Title)
	}
	if req.Summary != "" {
		fmt.Fprintf(&sb, "Summary of earlier turns:\n%s\n\n", req.Summary)
	}
	sb.WriteString("Transcript:\n")
	for _, turn := range req.Turns {
		sb.WriteString(turn)
		sb.WriteByte('\n')
	}

	reqBody := chatRequest{
		Model: s.model,
		Messages: []chatMessage{
			{Role: "system", Content: abbreviationPrompt},
			{Role: "user", Content: sb.String()},
		},
		Format: "json",
		Stream: false,
	}

	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return summarize.Result{}, fmt.Errorf("marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", s.baseURL+"/api/chat", bytes.NewReader(jsonBody))
	if err != nil {
		return summarize.Result{}, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(httpReq)
	if err != nil {
		return summarize.Result{}, fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return summarize.Result{}, fmt.Errorf("ollama returned status %d: %s", resp.StatusCode, string(body))
	}

	var chatResp chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return summarize.Result{}, fmt.Errorf("decoding response: %w", err)
	}

	var d digest
	if err := json.Unmarshal([]byte(chatResp.Message.Content), &d); err != nil {
		return summarize.Result{}, fmt.Errorf("parsing model output: %w", err)
	}

	if strings.TrimSpace(d.Abbreviation) == "" {
		return summarize.Result{}, fmt.Errorf("model returned empty abbreviation")
	}

	result := summarize.Result{
		Abbreviation: strings.TrimSpace(d.Abbreviation),
	}
	if req.WantTitle {
		result.Title = strings.TrimSpace(d.Title)
		result.Topics = d.Topics
	}

	return result, nil
}

// Close releases resources held by the summarizer.
func (s *Summarizer) Close() error {
	return nil
}

var _ summarize.Summarizer = (*Summarizer)(nil)
