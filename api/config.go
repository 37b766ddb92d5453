// Package api provides the HTTP API server for appending turns, hydrating
// context, and searching conversations.
package api

// Config is the API server configuration.
type Config struct {
	// ListenAddr is the address to listen on (e.g., ":8080")
	ListenAddr string
}
