package api

import (
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/spoolhq/spool/pkg/catalog"
	"github.com/spoolhq/spool/pkg/conversations"
	"github.com/spoolhq/spool/pkg/search"
	"github.com/spoolhq/spool/pkg/transcript"
)

// ErrorResponse is the JSON error body returned by all handlers.
type ErrorResponse struct {
	Error string `json:"error"`
}

// AppendTurnRequest is the body of POST /conversations/turns and
// POST /conversations/:id/turns.
type AppendTurnRequest struct {
	Role         string            `json:"role"`
	Content      string            `json:"content"`
	Channel      string            `json:"channel,omitempty"`
	Sender       string            `json:"sender,omitempty"`
	Participants []string          `json:"participants,omitempty"`
	Usage        *transcript.Usage `json:"usage,omitempty"`
}

// CompressionRequest is the body of POST /conversations/:id/compression.
type CompressionRequest struct {
	Through int    `json:"through"`
	Summary string `json:"summary"`
}

// RenameRequest is the body of POST /conversations/:id/rename.
type RenameRequest struct {
	Title string `json:"title"`
}

// handlePing returns a simple health check response.
func (s *Server) handlePing(c *fiber.Ctx) error {
	return c.JSON("pong")
}

// handleAppendTurn durably records a turn. Without an :id path parameter a
// new conversation is created for it.
func (s *Server) handleAppendTurn(c *fiber.Ctx) error {
	var req AppendTurnRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "invalid request body"})
	}

	result, err := s.core.AppendTurn(c.Context(), c.Params("id"), req.Role, req.Content, conversations.TurnMeta{
		Channel:      req.Channel,
		Sender:       req.Sender,
		Participants: req.Participants,
		Usage:        req.Usage,
	})
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: err.Error()})
	}

	status := fiber.StatusOK
	if result.Created {
		status = fiber.StatusCreated
	}
	return c.Status(status).JSON(result)
}

// handleListConversations returns all conversations, most recently updated first.
func (s *Server) handleListConversations(c *fiber.Ctx) error {
	convs, err := s.core.List(c.Context())
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: "failed to list conversations"})
	}

	return c.JSON(map[string]any{
		"count":         len(convs),
		"conversations": convs,
	})
}

// handleGetConversation returns a single conversation's catalog entry.
func (s *Server) handleGetConversation(c *fiber.Ctx) error {
	conv, err := s.core.Get(c.Context(), c.Params("id"))
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(ErrorResponse{Error: "conversation not found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: "failed to get conversation"})
	}

	return c.JSON(conv)
}

// handleFetchTurns returns turns in an inclusive number range.
// Query parameters:
//   - from (optional): lowest turn number to include
//   - to (optional): highest turn number to include
func (s *Server) handleFetchTurns(c *fiber.Ctx) error {
	from, err := queryInt(c, "from")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "from must be a non-negative integer"})
	}
	to, err := queryInt(c, "to")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "to must be a non-negative integer"})
	}

	turns, err := s.core.FetchTurns(c.Context(), c.Params("id"), from, to)
	if err != nil {
		if errors.Is(err, transcript.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(ErrorResponse{Error: "conversation not found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: "failed to read turns"})
	}

	return c.JSON(map[string]any{
		"conversation_id": c.Params("id"),
		"count":           len(turns),
		"turns":           turns,
	})
}

// handleContext rebuilds the working context for a conversation.
// Query parameters:
//   - max_turns (optional): size of the tail window
func (s *Server) handleContext(c *fiber.Ctx) error {
	maxTurns, err := queryInt(c, "max_turns")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "max_turns must be a non-negative integer"})
	}

	var hydrated *conversations.Context
	if maxTurns > 0 {
		hydrated, err = s.core.Hydrate(c.Context(), c.Params("id"), maxTurns)
	} else {
		hydrated, err = s.core.HydrateContext(c.Context(), c.Params("id"))
	}
	if err != nil {
		if errors.Is(err, transcript.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(ErrorResponse{Error: "conversation not found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: "failed to hydrate context"})
	}

	return c.JSON(hydrated)
}

// handleCompression records a compression notification from the
// conversational engine.
func (s *Server) handleCompression(c *fiber.Ctx) error {
	var req CompressionRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "invalid request body"})
	}

	if err := s.core.OnCompression(c.Context(), c.Params("id"), req.Through, req.Summary); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: err.Error()})
	}

	return c.SendStatus(fiber.StatusNoContent)
}

// handleRename applies a user-chosen title to a conversation.
func (s *Server) handleRename(c *fiber.Ctx) error {
	var req RenameRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "invalid request body"})
	}

	if err := s.core.Rename(c.Context(), c.Params("id"), req.Title); err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(ErrorResponse{Error: "conversation not found"})
		}
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: err.Error()})
	}

	return c.SendStatus(fiber.StatusNoContent)
}

// handleSwitch marks a conversation as switched away from, sending it idle.
func (s *Server) handleSwitch(c *fiber.Ctx) error {
	s.core.Switch(c.Params("id"))
	return c.SendStatus(fiber.StatusNoContent)
}

// handleSearch handles GET /search requests.
// Query parameters:
//   - q (required): the search query text
//   - limit (optional): number of results to return
//   - channel (optional): restrict results to one channel
func (s *Server) handleSearch(c *fiber.Ctx) error {
	query := c.Query("q")
	if query == "" {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "q parameter is required"})
	}

	limit, err := queryInt(c, "limit")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "limit must be a non-negative integer"})
	}

	results, err := s.core.Search(c.Context(), query, search.Options{
		Limit:   limit,
		Channel: c.Query("channel"),
	})
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: err.Error()})
	}

	return c.JSON(map[string]any{
		"query":   query,
		"count":   len(results),
		"results": results,
	})
}

// queryInt parses an optional non-negative integer query parameter,
// returning 0 when absent.
func queryInt(c *fiber.Ctx, name string) (int, error) {
	raw := c.Query(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, errors.New("invalid integer")
	}
	return n, nil
}
