package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

var (
	fetchTurnsToolName    = "fetch_turns"
	fetchTurnsDescription = "Fetch the full text of turns from a past conversation by turn number range. Use this after search_conversations to pull the exact exchange around a match."
)

// FetchTurnsInput represents the input arguments for the fetch_turns tool.
type FetchTurnsInput struct {
	ConversationID string `json:"conversation_id" jsonschema:"the id of the conversation to fetch turns from"`
	From           int    `json:"from,omitempty" jsonschema:"lowest turn number to include (default: start of conversation)"`
	To             int    `json:"to,omitempty" jsonschema:"highest turn number to include (default: end of conversation)"`
}

// FetchedTurn is a single turn of the fetched range.
type FetchedTurn struct {
	Number    int       `json:"number"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Sender    string    `json:"sender,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// FetchTurnsOutput represents the structured output of a fetch_turns call.
type FetchTurnsOutput struct {
	ConversationID string        `json:"conversation_id"`
	Turns          []FetchedTurn `json:"turns"`
	Count          int           `json:"count"`
}

// handleFetchTurns processes a fetch_turns request.
func (s *Server) handleFetchTurns(ctx context.Context, _ *mcp.CallToolRequest, input FetchTurnsInput) (*mcp.CallToolResult, FetchTurnsOutput, error) {
	if input.ConversationID == "" {
		return &mcp.CallToolResult{
			IsError: true,
			Content: []mcp.Content{
				&mcp.TextContent{Text: "conversation_id is required"},
			},
		}, FetchTurnsOutput{}, nil
	}

	turns, err := s.config.Core.FetchTurns(ctx, input.ConversationID, input.From, input.To)
	if err != nil {
		return &mcp.CallToolResult{
			IsError: true,
			Content: []mcp.Content{
				&mcp.TextContent{Text: fmt.Sprintf("Fetching turns failed: %v", err)},
			},
		}, FetchTurnsOutput{}, nil
	}

	fetched := make([]FetchedTurn, 0, len(turns))
	for _, turn := range turns {
		fetched = append(fetched, FetchedTurn{
			Number:    turn.Number,
			Role:      turn.Role,
			Content:   turn.Content,
			Sender:    turn.Sender,
			Timestamp: turn.Timestamp,
		})
	}

	output := FetchTurnsOutput{
		ConversationID: input.ConversationID,
		Turns:          fetched,
		Count:          len(fetched),
	}

	jsonBytes, err := json.Marshal(output)
	if err != nil {
		return &mcp.CallToolResult{
			IsError: true,
			Content: []mcp.Content{
				&mcp.TextContent{Text: fmt.Sprintf("Failed to serialize results: %v", err)},
			},
		}, FetchTurnsOutput{}, nil
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: string(jsonBytes)},
		},
	}, output, nil
}
