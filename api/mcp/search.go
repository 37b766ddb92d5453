package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/spoolhq/spool/pkg/search"
)

var (
	searchToolName    = "search_conversations"
	searchDescription = "Search past conversations with hybrid keyword and semantic retrieval. Returns the most relevant conversations for the query text, each with its title, a matching snippet, and a fused relevance score."
)

// SearchInput represents the input arguments for the search tool.
type SearchInput struct {
	Query   string `json:"query" jsonschema:"the search query text to find relevant conversations"`
	Limit   int    `json:"limit,omitempty" jsonschema:"number of results to return (default: 10)"`
	Channel string `json:"channel,omitempty" jsonschema:"restrict results to conversations on one channel"`
}

// SearchResult represents a single search result.
type SearchResult struct {
	ConversationID string    `json:"conversation_id"`
	Title          string    `json:"title,omitempty"`
	Snippet        string    `json:"snippet,omitempty"`
	Score          float64   `json:"score"`
	Turn           int       `json:"turn,omitempty"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// SearchOutput represents the output of the search tool.
type SearchOutput struct {
	Query   string         `json:"query"`
	Results []SearchResult `json:"results"`
	Count   int            `json:"count"`
}

// handleSearch processes a search request.
func (s *Server) handleSearch(ctx context.Context, _ *mcp.CallToolRequest, input SearchInput) (*mcp.CallToolResult, SearchOutput, error) {
	logger := s.config.Logger

	logger.Debug("MCP search request", "query", input.Query, "limit", input.Limit)

	results, err := s.config.Core.Search(ctx, input.Query, search.Options{
		Limit:   input.Limit,
		Channel: input.Channel,
	})
	if err != nil {
		logger.Error("search failed", "error", err)
		return &mcp.CallToolResult{
			IsError: true,
			Content: []mcp.Content{
				&mcp.TextContent{Text: fmt.Sprintf("Search failed: %v", err)},
			},
		}, SearchOutput{}, nil
	}

	searchResults := make([]SearchResult, 0, len(results))
	for _, result := range results {
		searchResults = append(searchResults, SearchResult{
			ConversationID: result.ConversationID,
			Title:          result.Title,
			Snippet:        result.Snippet,
			Score:          result.Score,
			Turn:           result.Turn,
			UpdatedAt:      result.UpdatedAt,
		})
	}

	output := SearchOutput{
		Query:   input.Query,
		Results: searchResults,
		Count:   len(searchResults),
	}

	// Serialize the structured output as JSON for the text field
	// Per MCP spec: tools returning structured content should also return
	// serialized JSON in a TextContent block for backwards compatibility
	jsonBytes, err := json.Marshal(output)
	if err != nil {
		logger.Error("failed to marshal search output", "error", err)
		return &mcp.CallToolResult{
			IsError: true,
			Content: []mcp.Content{
				&mcp.TextContent{Text: fmt.Sprintf("Failed to serialize results: %v", err)},
			},
		}, SearchOutput{}, nil
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: string(jsonBytes)},
		},
	}, output, nil
}
