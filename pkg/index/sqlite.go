package index

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteDriver implements Driver using SQLite FTS5 with bm25 ranking.
type SQLiteDriver struct {
	db     *sql.DB
	logger *slog.Logger
}

// SQLiteConfig holds configuration for the FTS5 keyword index.
type SQLiteConfig struct {
	// DBPath is the path to the SQLite database file.
	// Use ":memory:" for an in-memory database.
	DBPath string
}

// NewSQLiteDriver opens the keyword index, creating the FTS5 table if
// needed.
func NewSQLiteDriver(c SQLiteConfig, logger *slog.Logger) (*SQLiteDriver, error) {
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
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("applying %s: %w", pragma, err)
		}
	}

	_, err = db.Exec(`
		CREATE VIRTUAL TABLE IF NOT EXISTS turns_fts USING fts5(
			content,
			conversation_id UNINDEXED,
			turn UNINDEXED,
			role UNINDEXED,
			channel UNINDEXED,
			ts UNINDEXED
		)
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating fts5 table: %w", err)
	}

	logger.Debug("fts5 keyword index initialized", "db_path", c.DBPath)

	return &SQLiteDriver{db: db, logger: logger}, nil
}

// IndexTurn inserts one turn row.
func (d *SQLiteDriver) IndexTurn(ctx context.Context, row Row) error {
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO turns_fts (content, conversation_id, turn, role, channel, ts)
		VALUES (?, ?, ?, ?, ?, ?)
	`, row.Content, row.ConversationID, row.Turn, row.Role, row.Channel,
		row.Timestamp.UTC().Format("2006-01-02 15:04:05"))
	if err != nil {
		return fmt.Errorf("indexing turn %d of %s: %w", row.Turn, row.ConversationID, err)
	}
	return nil
}

// Search runs a bm25-ranked FTS5 query, keeping the best hit per
// conversation.
func (d *SQLiteDriver) Search(ctx context.Context, query string, limit int, f Filters) ([]Hit, error) {
	if limit <= 0 {
		limit = 10
	}

	match := sanitizeQuery(query)
	if match == "" {
		return nil, nil
	}

	sqlStr := `
		SELECT conversation_id, turn, snip, score FROM (
			SELECT
				conversation_id,
				turn,
				snippet(turns_fts, 0, '', '', '…', 16) AS snip,
				rank AS score,
				ROW_NUMBER() OVER (
					PARTITION BY conversation_id ORDER BY rank
				) AS rn
			FROM turns_fts
			WHERE turns_fts MATCH ?`
	args := []any{match}

	if f.Channel != "" {
		sqlStr += ` AND channel = ?`
		args = append(args, f.Channel)
	}

	sqlStr += `
		)
		WHERE rn = 1
		ORDER BY score
		LIMIT ?`
	args = append(args, limit)

	rows, err := d.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("keyword search: %w", err)
	}
	defer rows.Close()

	var hits []Hit
	for rows.Next() {
		var hit Hit
		if err := rows.Scan(&hit.ConversationID, &hit.Turn, &hit.Snippet, &hit.Score); err != nil {
			return nil, fmt.Errorf("scanning keyword hit: %w", err)
		}
		hits = append(hits, hit)
	}

	return hits, rows.Err()
}

// CountTurns reports the number of indexed rows for a conversation.
func (d *SQLiteDriver) CountTurns(ctx context.Context, conversationID string) (int, error) {
	var count int
	err := d.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM turns_fts WHERE conversation_id = ?
	`, conversationID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting rows for %s: %w", conversationID, err)
	}
	return count, nil
}

// DeleteConversation drops all rows for a conversation.
func (d *SQLiteDriver) DeleteConversation(ctx context.Context, conversationID string) error {
	_, err := d.db.ExecContext(ctx, `
		DELETE FROM turns_fts WHERE conversation_id = ?
	`, conversationID)
	if err != nil {
		return fmt.Errorf("deleting rows for %s: %w", conversationID, err)
	}
	return nil
}

// Close closes the underlying database.
func (d *SQLiteDriver) Close() error {
	return d.db.Close()
}

// sanitizeQuery wraps each term in quotes so user input cannot inject FTS5
// query syntax. "fix auth bug" becomes `"fix" "auth" "bug"`.
func sanitizeQuery(query string) string {
	words := strings.Fields(query)
	for i, w := range words {
		w = strings.Trim(w, `"`)
		words[i] = `"` + w + `"`
	}
	return strings.Join(words, " ")
}
