package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Store is the SQLite-backed catalog.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Config holds configuration for the catalog store.
type Config struct {
	// DBPath is the path to the SQLite database file.
	// Use ":memory:" for an in-memory database.
	DBPath string
}

// NewStore opens (and migrates) the catalog database.
func NewStore(c Config, logger *slog.Logger) (*Store, error) {
	if c.DBPath == "" {
		return nil, fmt.Errorf("database path is required")
	}

	db, err := sql.Open("sqlite3", c.DBPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("applying %s: %w", pragma, err)
		}
	}

	schema := `
		CREATE TABLE IF NOT EXISTS conversations (
			id                 TEXT PRIMARY KEY,
			channel            TEXT NOT NULL,
			title              TEXT NOT NULL DEFAULT '',
			topics             TEXT NOT NULL DEFAULT '[]',
			participants       TEXT NOT NULL DEFAULT '[]',
			turn_count         INTEGER NOT NULL DEFAULT 0,
			abbreviation       TEXT NOT NULL DEFAULT '',
			needs_abbreviation INTEGER NOT NULL DEFAULT 0,
			manually_named     INTEGER NOT NULL DEFAULT 0,
			last_renamed_turn  INTEGER NOT NULL DEFAULT 0,
			created_at         TIMESTAMP NOT NULL,
			updated_at         TIMESTAMP NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_conversations_updated
			ON conversations(updated_at DESC);
		CREATE INDEX IF NOT EXISTS idx_conversations_needs_abbrev
			ON conversations(needs_abbreviation);

		CREATE TABLE IF NOT EXISTS abbreviations (
			conversation_id TEXT PRIMARY KEY REFERENCES conversations(id),
			abbreviation    TEXT NOT NULL,
			embedding_model TEXT NOT NULL,
			generated_at    TIMESTAMP NOT NULL
		);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating catalog schema: %w", err)
	}

	logger.Debug("catalog store initialized", "db_path", c.DBPath)

	return &Store{db: db, logger: logger}, nil
}

// Create inserts a new conversation row.
func (s *Store) Create(ctx context.Context, conv Conversation) error {
	topics, err := json.Marshal(emptyIfNil(conv.Topics))
	if err != nil {
		return fmt.Errorf("encoding topics: %w", err)
	}
	participants, err := json.Marshal(emptyIfNil(conv.Participants))
	if err != nil {
		return fmt.Errorf("encoding participants: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO conversations
			(id, channel, title, topics, participants, turn_count,
			 abbreviation, needs_abbreviation, manually_named,
			 last_renamed_turn, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		conv.ID, conv.Channel, conv.Title, string(topics), string(participants),
		conv.TurnCount, conv.Abbreviation, conv.NeedsAbbreviation,
		conv.ManuallyNamed, conv.LastRenamedTurn, conv.CreatedAt, conv.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting conversation %s: %w", conv.ID, err)
	}

	return nil
}

// Get retrieves one conversation by id.
func (s *Store) Get(ctx context.Context, id string) (*Conversation, error) {
	row := s.db.QueryRowContext(ctx, selectColumns+` WHERE id = ?`, id)
	conv, err := scanConversation(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("querying conversation %s: %w", id, err)
	}
	return conv, nil
}

// List returns all conversations, most recently updated first.
func (s *Store) List(ctx context.Context) ([]Conversation, error) {
	rows, err := s.db.QueryContext(ctx, selectColumns+` ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("listing conversations: %w", err)
	}
	defer rows.Close()

	var convs []Conversation
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning conversation: %w", err)
		}
		convs = append(convs, *conv)
	}

	return convs, rows.Err()
}

// Touch records a new turn: bumps the turn count and updated timestamp.
func (s *Store) Touch(ctx context.Context, id string, turnCount int, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE conversations SET turn_count = ?, updated_at = ? WHERE id = ?
	`, turnCount, at, id)
	if err != nil {
		return fmt.Errorf("touching conversation %s: %w", id, err)
	}
	return requireRow(res, id)
}

// SetTitle updates the title and topics. When explicit is false the update
// is an auto-rename and is ignored for manually named conversations; when
// true it is a user edit and additionally sets the manually_named flag.
func (s *Store) SetTitle(ctx context.Context, id, title string, topics []string, explicit bool) (bool, error) {
	encoded, err := json.Marshal(emptyIfNil(topics))
	if err != nil {
		return false, fmt.Errorf("encoding topics: %w", err)
	}

	var res sql.Result
	if explicit {
		res, err = s.db.ExecContext(ctx, `
			UPDATE conversations
			SET title = ?, topics = ?, manually_named = 1, updated_at = ?
			WHERE id = ?
		`, title, string(encoded), time.Now().UTC(), id)
	} else {
		res, err = s.db.ExecContext(ctx, `
			UPDATE conversations
			SET title = ?, topics = ?, updated_at = ?
			WHERE id = ? AND manually_named = 0
		`, title, string(encoded), time.Now().UTC(), id)
	}
	if err != nil {
		return false, fmt.Errorf("renaming conversation %s: %w", id, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("renaming conversation %s: %w", id, err)
	}

	return n > 0, nil
}

// SetLastRenamedTurn records the turn count at the most recent auto-naming.
func (s *Store) SetLastRenamedTurn(ctx context.Context, id string, turn int) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE conversations SET last_renamed_turn = ? WHERE id = ?
	`, turn, id)
	if err != nil {
		return fmt.Errorf("updating rename marker for %s: %w", id, err)
	}
	return requireRow(res, id)
}

// SetAbbreviation persists the abbreviation record and clears the retry
// flag in one transaction. Regeneration replaces the previous record.
func (s *Store) SetAbbreviation(ctx context.Context, rec AbbreviationRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO abbreviations (conversation_id, abbreviation, embedding_model, generated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(conversation_id) DO UPDATE SET
			abbreviation = excluded.abbreviation,
			embedding_model = excluded.embedding_model,
			generated_at = excluded.generated_at
	`, rec.ConversationID, rec.Abbreviation, rec.EmbeddingModel, rec.GeneratedAt); err != nil {
		return fmt.Errorf("upserting abbreviation for %s: %w", rec.ConversationID, err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE conversations
		SET abbreviation = ?, needs_abbreviation = 0
		WHERE id = ?
	`, rec.Abbreviation, rec.ConversationID); err != nil {
		return fmt.Errorf("updating conversation %s: %w", rec.ConversationID, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing abbreviation for %s: %w", rec.ConversationID, err)
	}

	return nil
}

// SetAbbreviationText stores only the abbreviation text, leaving the retry
// flag set. Used when summarization succeeded but embedding failed: the text
// is still useful for display while the embed is retried later.
func (s *Store) SetAbbreviationText(ctx context.Context, id, text string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE conversations SET abbreviation = ?, needs_abbreviation = 1 WHERE id = ?
	`, text, id)
	if err != nil {
		return fmt.Errorf("updating abbreviation text for %s: %w", id, err)
	}
	return requireRow(res, id)
}

// SetNeedsAbbreviation sets or clears the retry flag.
func (s *Store) SetNeedsAbbreviation(ctx context.Context, id string, needs bool) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE conversations SET needs_abbreviation = ? WHERE id = ?
	`, needs, id)
	if err != nil {
		return fmt.Errorf("flagging conversation %s: %w", id, err)
	}
	return requireRow(res, id)
}

// ListNeedingAbbreviation returns ids of conversations flagged for a
// pipeline retry.
func (s *Store) ListNeedingAbbreviation(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id FROM conversations WHERE needs_abbreviation = 1
	`)
	if err != nil {
		return nil, fmt.Errorf("listing flagged conversations: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning conversation id: %w", err)
		}
		ids = append(ids, id)
	}

	return ids, rows.Err()
}

// GetAbbreviation returns the current abbreviation record, or ErrNotFound
// if the conversation has never completed a pipeline pass.
func (s *Store) GetAbbreviation(ctx context.Context, id string) (*AbbreviationRecord, error) {
	var rec AbbreviationRecord
	err := s.db.QueryRowContext(ctx, `
		SELECT conversation_id, abbreviation, embedding_model, generated_at
		FROM abbreviations WHERE conversation_id = ?
	`, id).Scan(&rec.ConversationID, &rec.Abbreviation, &rec.EmbeddingModel, &rec.GeneratedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("querying abbreviation for %s: %w", id, err)
	}
	return &rec, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

const selectColumns = `
	SELECT id, channel, title, topics, participants, turn_count,
	       abbreviation, needs_abbreviation, manually_named,
	       last_renamed_turn, created_at, updated_at
	FROM conversations`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConversation(row rowScanner) (*Conversation, error) {
	var (
		conv                 Conversation
		topics, participants string
	)
	err := row.Scan(
		&conv.ID, &conv.Channel, &conv.Title, &topics, &participants,
		&conv.TurnCount, &conv.Abbreviation, &conv.NeedsAbbreviation,
		&conv.ManuallyNamed, &conv.LastRenamedTurn,
		&conv.CreatedAt, &conv.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(topics), &conv.Topics); err != nil {
		return nil, fmt.Errorf("decoding topics: %w", err)
	}
	if err := json.Unmarshal([]byte(participants), &conv.Participants); err != nil {
		return nil, fmt.Errorf("decoding participants: %w", err)
	}

	return &conv, nil
}

func requireRow(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

func emptyIfNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
