package index

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresDriver implements Driver using a Postgres tsvector index. It is
// the backend for deployments that already run Postgres and do not want a
// local SQLite file alongside it.
type PostgresDriver struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// PostgresConfig holds configuration for the Postgres keyword index.
type PostgresConfig struct {
	// DSN is the Postgres connection string.
	DSN string
}

// NewPostgresDriver connects to Postgres and creates the index table if
// needed.
func NewPostgresDriver(ctx context.Context, c PostgresConfig, logger *slog.Logger) (*PostgresDriver, error) {
	if c.DSN == "" {
		return nil, fmt.Errorf("postgres DSN is required")
	}

	pool, err := pgxpool.New(ctx, c.DSN)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	schema := `
		CREATE TABLE IF NOT EXISTS turn_index (
			conversation_id TEXT NOT NULL,
			turn            INT NOT NULL,
			role            TEXT NOT NULL,
			channel         TEXT NOT NULL DEFAULT '',
			ts              TIMESTAMPTZ NOT NULL,
			content         TEXT NOT NULL,
			tsv             tsvector GENERATED ALWAYS AS (to_tsvector('english', content)) STORED
		);
		CREATE INDEX IF NOT EXISTS idx_turn_index_tsv ON turn_index USING GIN (tsv);
		CREATE INDEX IF NOT EXISTS idx_turn_index_conversation ON turn_index (conversation_id);
	`
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("creating turn_index schema: %w", err)
	}

	logger.Debug("postgres keyword index initialized")

	return &PostgresDriver{pool: pool, logger: logger}, nil
}

// IndexTurn inserts one turn row.
func (d *PostgresDriver) IndexTurn(ctx context.Context, row Row) error {
	_, err := d.pool.Exec(ctx, `
		INSERT INTO turn_index (conversation_id, turn, role, channel, ts, content)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, row.ConversationID, row.Turn, row.Role, row.Channel, row.Timestamp, row.Content)
	if err != nil {
		return fmt.Errorf("indexing turn %d of %s: %w", row.Turn, row.ConversationID, err)
	}
	return nil
}

// Search runs a websearch_to_tsquery query ranked by ts_rank, keeping the
// best hit per conversation.
func (d *PostgresDriver) Search(ctx context.Context, query string, limit int, f Filters) ([]Hit, error) {
	if limit <= 0 {
		limit = 10
	}

	sqlStr := `
		SELECT conversation_id, turn, snip, score FROM (
			SELECT DISTINCT ON (conversation_id)
				conversation_id,
				turn,
				left(content, 160) AS snip,
				ts_rank(tsv, websearch_to_tsquery('english', $1)) AS score
			FROM turn_index
			WHERE tsv @@ websearch_to_tsquery('english', $1)`
	args := []any{query}

	if f.Channel != "" {
		sqlStr += ` AND channel = $2`
		args = append(args, f.Channel)
	}

	sqlStr += `
			ORDER BY conversation_id, score DESC
		) best
		ORDER BY score DESC
		LIMIT ` + fmt.Sprintf("$%d", len(args)+1)
	args = append(args, limit)

	rows, err := d.pool.Query(ctx, sqlStr, args...)
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
func (d *PostgresDriver) CountTurns(ctx context.Context, conversationID string) (int, error) {
	var count int
	err := d.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM turn_index WHERE conversation_id = $1
	`, conversationID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting rows for %s: %w", conversationID, err)
	}
	return count, nil
}

// DeleteConversation drops all rows for a conversation.
func (d *PostgresDriver) DeleteConversation(ctx context.Context, conversationID string) error {
	_, err := d.pool.Exec(ctx, `
		DELETE FROM turn_index WHERE conversation_id = $1
	`, conversationID)
	if err != nil {
		return fmt.Errorf("deleting rows for %s: %w", conversationID, err)
	}
	return nil
}

// Close closes the connection pool.
func (d *PostgresDriver) Close() error {
	d.pool.Close()
	return nil
}
