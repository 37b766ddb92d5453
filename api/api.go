package api

import (
	"log/slog"
	"net/http"

	"github.com/gofiber/adaptor/v2"
	"github.com/gofiber/fiber/v2"

	"github.com/spoolhq/spool/pkg/conversations"
)

// Server is the API server for the spool conversation system.
type Server struct {
	config Config
	core   *conversations.Core
	logger *slog.Logger
	app    *fiber.App
}

// NewServer creates a new API server.
// The core is injected to allow sharing with other components
// (e.g., the MCP server and CLI one-shot commands).
func NewServer(config Config, core *conversations.Core, logger *slog.Logger) *Server {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
	})

	s := &Server{
		config: config,
		core:   core,
		logger: logger,
		app:    app,
	}

	app.Get("/ping", s.handlePing)
	app.Get("/conversations", s.handleListConversations)
	app.Get("/conversations/:id", s.handleGetConversation)
	app.Post("/conversations/turns", s.handleAppendTurn)
	app.Post("/conversations/:id/turns", s.handleAppendTurn)
	app.Get("/conversations/:id/turns", s.handleFetchTurns)
	app.Get("/conversations/:id/context", s.handleContext)
	app.Post("/conversations/:id/compression", s.handleCompression)
	app.Post("/conversations/:id/rename", s.handleRename)
	app.Post("/conversations/:id/switch", s.handleSwitch)
	app.Get("/search", s.handleSearch)

	return s
}

// Mount attaches an additional net/http handler under the given prefix,
// used to serve the MCP endpoint from the same listener.
func (s *Server) Mount(prefix string, h http.Handler) {
	s.app.All(prefix, adaptor.HTTPHandler(h))
	s.app.All(prefix+"/*", adaptor.HTTPHandler(h))
}

// Run starts the API server on the configured address.
func (s *Server) Run() error {
	s.logger.Info("starting API server", "listen", s.config.ListenAddr)
	return s.app.Listen(s.config.ListenAddr)
}

// Shutdown gracefully shuts down the API server.
func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}
