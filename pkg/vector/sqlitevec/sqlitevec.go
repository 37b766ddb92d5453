// Package sqlitevec provides a SQLite-backed vector driver using sqlite-vec.
//
// Tables are versioned by the embedding model identifier: switching models
// lands in fresh tables instead of mixing vectors of different dimensions,
// and recovery then schedules a full re-embed.
package sqlitevec

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"log/slog"
	"math"
	"strings"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"

	"github.com/spoolhq/spool/pkg/vector"
)

// Driver implements vector.Driver using SQLite with the sqlite-vec
// extension.
type Driver struct {
	db        *sql.DB
	docsTable string
	vecsTable string
	logger    *slog.Logger
}

// Config holds configuration for the sqlite-vec driver.
type Config struct {
	// DBPath is the path to the SQLite database file.
	// Use ":memory:" for an in-memory database.
	DBPath string

	// Dimensions is the number of dimensions of the embedding vectors.
	Dimensions uint

	// Model is the embedding model identifier; it versions the tables so
	// vectors from different models are never mixed.
	Model string
}

// NewDriver creates a sqlite-vec backed vector driver.
func NewDriver(c Config, logger *slog.Logger) (*Driver, error) {
	// enable connections to have the sqlite-vec extension
	sqlite_vec.Auto()

	if c.DBPath == "" {
		return nil, fmt.Errorf("database path is required")
	}
	if c.Dimensions == 0 {
		return nil, fmt.Errorf("embedding dimensions cannot be 0, must be configured")
	}
	if c.Model == "" {
		return nil, fmt.Errorf("embedding model identifier is required")
	}

	db, err := sql.Open("sqlite3", c.DBPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Verify sqlite-vec is loaded.
	var vecVersion string
	if err := db.QueryRow("SELECT vec_version()").Scan(&vecVersion); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: sqlite-vec not available: %v", vector.ErrConnection, err)
	}

	tag := modelTag(c.Model)
	d := &Driver{
		db:        db,
		docsTable: "abbrev_documents_" + tag,
		vecsTable: "abbrev_vectors_" + tag,
		logger:    logger,
	}

	// vec0 virtual tables use integer rowids, so a mapping table converts
	// conversation ids to rowids.
	_, err = db.Exec(fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			rowid INTEGER PRIMARY KEY AUTOINCREMENT,
			conversation_id TEXT NOT NULL UNIQUE
		)
	`, d.docsTable))
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating documents table: %w", err)
	}

	createVec := fmt.Sprintf(
		`CREATE VIRTUAL TABLE IF NOT EXISTS %s USING vec0(embedding float[%d])`,
		d.vecsTable, c.Dimensions,
	)
	if _, err := db.Exec(createVec); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating vec0 table: %w", err)
	}

	logger.Info("sqlite-vec vector driver initialized",
		"db_path", c.DBPath,
		"dimensions", c.Dimensions,
		"model", c.Model,
		"vec_version", vecVersion,
	)

	return d, nil
}

// modelTag turns a model identifier into a safe table-name suffix.
func modelTag(model string) string {
	var sb strings.Builder
	for _, r := range strings.ToLower(model) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			sb.WriteRune(r)
		default:
			sb.WriteByte('_')
		}
	}
	return sb.String()
}

// serializeFloat32 converts a float32 slice to the little-endian BLOB
// format sqlite-vec expects.
func serializeFloat32(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// Upsert stores documents, replacing existing vectors for the same
// conversation.
func (d *Driver) Upsert(ctx context.Context, docs []vector.Document) error {
	if len(docs) == 0 {
		return nil
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	for _, doc := range docs {
		embBlob := serializeFloat32(doc.Embedding)

		var existingRowID int64
		err := tx.QueryRowContext(ctx,
			fmt.Sprintf(`SELECT rowid FROM %s WHERE conversation_id = ?`, d.docsTable),
			doc.ConversationID,
		).Scan(&existingRowID)

		switch err {
		case nil:
			// vec0 does not support UPDATE, so replace via DELETE + INSERT.
			if _, err := tx.ExecContext(ctx,
				fmt.Sprintf(`DELETE FROM %s WHERE rowid = ?`, d.vecsTable), existingRowID,
			); err != nil {
				return fmt.Errorf("deleting old embedding for %s: %w", doc.ConversationID, err)
			}
			if _, err := tx.ExecContext(ctx,
				fmt.Sprintf(`INSERT INTO %s(rowid, embedding) VALUES (?, ?)`, d.vecsTable),
				existingRowID, embBlob,
			); err != nil {
				return fmt.Errorf("re-inserting embedding for %s: %w", doc.ConversationID, err)
			}
		case sql.ErrNoRows:
			result, err := tx.ExecContext(ctx,
				fmt.Sprintf(`INSERT INTO %s(conversation_id) VALUES (?)`, d.docsTable),
				doc.ConversationID,
			)
			if err != nil {
				return fmt.Errorf("inserting document %s: %w", doc.ConversationID, err)
			}

			rowID, err := result.LastInsertId()
			if err != nil {
				return fmt.Errorf("getting rowid for %s: %w", doc.ConversationID, err)
			}

			if _, err := tx.ExecContext(ctx,
				fmt.Sprintf(`INSERT INTO %s(rowid, embedding) VALUES (?, ?)`, d.vecsTable),
				rowID, embBlob,
			); err != nil {
				return fmt.Errorf("inserting embedding for %s: %w", doc.ConversationID, err)
			}
		default:
			return fmt.Errorf("checking for existing document %s: %w", doc.ConversationID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}

	d.logger.Debug("upserted documents to sqlite-vec", "count", len(docs))

	return nil
}

// Query finds the topK conversations most similar to the embedding.
func (d *Driver) Query(ctx context.Context, embedding []float32, topK int) ([]vector.QueryResult, error) {
	if topK <= 0 {
		topK = 10
	}

	queryBlob := serializeFloat32(embedding)

	rows, err := d.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT
			doc.conversation_id,
			ve.distance
		FROM %s ve
		INNER JOIN %s doc ON doc.rowid = ve.rowid
		WHERE ve.embedding MATCH ?
			AND ve.k = ?
		ORDER BY ve.distance
	`, d.vecsTable, d.docsTable), queryBlob, topK)
	if err != nil {
		return nil, fmt.Errorf("querying vectors: %w", err)
	}
	defer rows.Close()

	var results []vector.QueryResult
	for rows.Next() {
		var conversationID string
		var distance float64
		if err := rows.Scan(&conversationID, &distance); err != nil {
			return nil, fmt.Errorf("scanning query result: %w", err)
		}

		results = append(results, vector.QueryResult{
			Document: vector.Document{ConversationID: conversationID},
			// Lower distance = higher similarity.
			Score: float32(1.0 / (1.0 + distance)),
		})
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating query results: %w", err)
	}

	return results, nil
}

// Delete removes documents by conversation id.
func (d *Driver) Delete(ctx context.Context, conversationIDs []string) error {
	if len(conversationIDs) == 0 {
		return nil
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	for _, id := range conversationIDs {
		var rowID int64
		err := tx.QueryRowContext(ctx,
			fmt.Sprintf(`SELECT rowid FROM %s WHERE conversation_id = ?`, d.docsTable), id,
		).Scan(&rowID)
		if err == sql.ErrNoRows {
			continue
		}
		if err != nil {
			return fmt.Errorf("querying rowid for %s: %w", id, err)
		}

		if _, err := tx.ExecContext(ctx,
			fmt.Sprintf(`DELETE FROM %s WHERE rowid = ?`, d.vecsTable), rowID,
		); err != nil {
			return fmt.Errorf("deleting embedding for %s: %w", id, err)
		}
		if _, err := tx.ExecContext(ctx,
			fmt.Sprintf(`DELETE FROM %s WHERE rowid = ?`, d.docsTable), rowID,
		); err != nil {
			return fmt.Errorf("deleting document %s: %w", id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}

	return nil
}

// Count reports the number of stored documents.
func (d *Driver) Count(ctx context.Context) (int, error) {
	var count int
	err := d.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT COUNT(*) FROM %s`, d.docsTable),
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting documents: %w", err)
	}
	return count, nil
}

// Close releases resources held by the driver.
func (d *Driver) Close() error {
	return d.db.Close()
}
