package transcript

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

const (
	// maxLineBytes bounds a single transcript line during reads.
	maxLineBytes = 10 * 1024 * 1024

	fileSuffix = ".jsonl"
)

// ErrNotFound is returned when a conversation has no transcript file.
var ErrNotFound = errors.New("transcript not found")

// Tail is the result of a ReadTail call: the most recent turns in order,
// plus the latest compression event and the meta line if present.
type Tail struct {
	Meta  *Meta
	Turns []Turn

	// Compression is the most recent compression event in the log, nil if
	// the conversation has never been compressed.
	Compression *Event
}

// Log stores one append-only JSONL file per conversation under a single
// directory. Appends are durable: the line is written and fsynced before
// Append returns. A failed append is retried once; a line that still cannot
// be written is held in memory and flushed ahead of the next append, so no
// turn is ever silently dropped.
type Log struct {
	dir    string
	logger *slog.Logger

	mu   sync.Mutex
	held map[string][]Line
}

// Config holds configuration for the transcript log.
type Config struct {
	// Dir is the directory holding one JSONL file per conversation.
	Dir string
}

// NewLog creates a transcript log rooted at the configured directory,
// creating it if needed.
func NewLog(c Config, logger *slog.Logger) (*Log, error) {
	if c.Dir == "" {
		return nil, fmt.Errorf("transcript directory is required")
	}

	if err := os.MkdirAll(c.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating transcript directory: %w", err)
	}

	return &Log{
		dir:    c.Dir,
		logger: logger,
		held:   make(map[string][]Line),
	}, nil
}

// Path returns the transcript file path for a conversation.
func (l *Log) Path(conversationID string) string {
	return filepath.Join(l.dir, conversationID+fileSuffix)
}

// Append durably writes a line to a conversation's transcript. Held lines
// from earlier failed appends are flushed first, preserving order.
func (l *Log) Append(ctx context.Context, conversationID string, line Line) error {
	if err := line.Validate(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	pending := append(l.held[conversationID], line)

	if err := l.writeLines(conversationID, pending); err != nil {
		// One immediate retry before the line is parked.
		if retryErr := l.writeLines(conversationID, pending); retryErr != nil {
			l.held[conversationID] = pending
			l.logger.Error("transcript append failed, line held for retry",
				"conversation_id", conversationID,
				"held", len(pending),
				"error", retryErr,
			)
			return fmt.Errorf("appending transcript line: %w", retryErr)
		}
	}

	delete(l.held, conversationID)

	return nil
}

// writeLines appends the given lines as JSONL in one file session and
// fsyncs before closing.
func (l *Log) writeLines(conversationID string, lines []Line) error {
	f, err := os.OpenFile(l.Path(conversationID), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("opening transcript: %w", err)
	}
	defer f.Close()

	var buf strings.Builder
	for _, line := range lines {
		data, err := json.Marshal(line)
		if err != nil {
			return fmt.Errorf("encoding transcript line: %w", err)
		}
		buf.Write(data)
		buf.WriteByte('\n')
	}

	if _, err := f.WriteString(buf.String()); err != nil {
		return fmt.Errorf("writing transcript: %w", err)
	}

	if err := f.Sync(); err != nil {
		return fmt.Errorf("syncing transcript: %w", err)
	}

	return nil
}

// HeldCount reports how many lines are parked for a conversation after
// failed appends.
func (l *Log) HeldCount(conversationID string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.held[conversationID])
}

// ReadAll streams every parseable line of a conversation's transcript to fn
// in file order. A malformed line is skipped with one logged warning;
// surrounding lines remain valid. fn returning an error stops the stream.
func (l *Log) ReadAll(ctx context.Context, conversationID string, fn func(Line) error) error {
	f, err := os.Open(l.Path(conversationID))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrNotFound, conversationID)
		}
		return fmt.Errorf("opening transcript: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		if err := ctx.Err(); err != nil {
			return err
		}

		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}

		var line Line
		if err := json.Unmarshal(raw, &line); err != nil {
			l.logger.Warn("skipping malformed transcript line",
				"conversation_id", conversationID,
				"line", lineNo,
				"error", err,
			)
			continue
		}
		if err := line.Validate(); err != nil {
			l.logger.Warn("skipping malformed transcript line",
				"conversation_id", conversationID,
				"line", lineNo,
				"error", err,
			)
			continue
		}

		if err := fn(line); err != nil {
			return err
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading transcript: %w", err)
	}

	return nil
}

// ReadTail returns the most recent maxTurns turns plus the latest
// compression event. maxTurns <= 0 returns every turn.
func (l *Log) ReadTail(ctx context.Context, conversationID string, maxTurns int) (*Tail, error) {
	tail := &Tail{}

	err := l.ReadAll(ctx, conversationID, func(line Line) error {
		switch line.Type {
		case TypeMeta:
			tail.Meta = line.Meta
		case TypeTurn:
			tail.Turns = append(tail.Turns, *line.Turn)
		case TypeEvent:
			if line.Event.Subtype == EventCompression {
				tail.Compression = line.Event
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if maxTurns > 0 && len(tail.Turns) > maxTurns {
		tail.Turns = tail.Turns[len(tail.Turns)-maxTurns:]
	}

	return tail, nil
}

// CountTurns returns the number of turn lines in a conversation's transcript.
func (l *Log) CountTurns(ctx context.Context, conversationID string) (int, error) {
	count := 0
	err := l.ReadAll(ctx, conversationID, func(line Line) error {
		if line.Type == TypeTurn {
			count++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

// List enumerates every conversation id with a transcript file.
func (l *Log) List(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return nil, fmt.Errorf("listing transcripts: %w", err)
	}

	var ids []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, fileSuffix) {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, fileSuffix))
	}

	return ids, nil
}

// Exists reports whether a conversation has a transcript file.
func (l *Log) Exists(conversationID string) bool {
	_, err := os.Stat(l.Path(conversationID))
	return err == nil
}
