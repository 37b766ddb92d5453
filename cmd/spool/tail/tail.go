// Package tailcmder provides the tail command for live-following a
// conversation transcript.
package tailcmder

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/charmbracelet/lipgloss"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/spoolhq/spool/pkg/config"
	"github.com/spoolhq/spool/pkg/dotdir"
	"github.com/spoolhq/spool/pkg/transcript"
)

var (
	roleStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("39")).Bold(true)
	numberStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	eventStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("82"))
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	contentStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
)

type tailCommander struct {
	conversationID string
	fromStart      bool
	raw            bool

	configDir string
	dataDir   string
}

const tailLongDesc string = `Follow a conversation transcript live.

Prints turns and events as they are appended to the conversation's JSONL
transcript. Without an id, follows the conversation marked current via
"spool use".

Use --from-start to print the whole transcript before following, and --raw
to emit the unformatted JSONL lines.

Example:
  spool tail
  spool tail 7f3b9c
  spool tail 7f3b9c --from-start --raw | jq .`

const tailShortDesc string = "Follow a conversation transcript"

func NewTailCmd() *cobra.Command {
	cmder := &tailCommander{}

	cmd := &cobra.Command{
		Use:   "tail [conversation-id]",
		Short: tailShortDesc,
		Long:  tailLongDesc,
		Args:  cobra.MaximumNArgs(1),
		PreRunE: func(cmd *cobra.Command, args []string) error {
			cmder.configDir, _ = cmd.Flags().GetString("config-dir")

			if len(args) == 1 {
				cmder.conversationID = args[0]
				return nil
			}

			ddm := dotdir.NewManager()
			state, err := ddm.LoadCurrent(cmder.configDir)
			if err != nil {
				return fmt.Errorf("loading current conversation: %w", err)
			}
			if state == nil {
				return fmt.Errorf("no conversation id given and none marked current; run \"spool use <id>\" first")
			}
			cmder.conversationID = state.ConversationID
			return nil
		},
		RunE: func(_ *cobra.Command, _ []string) error {
			return cmder.run()
		},
	}

	cmd.Flags().BoolVar(&cmder.fromStart, "from-start", false, "Print the whole transcript before following")
	cmd.Flags().BoolVar(&cmder.raw, "raw", false, "Emit raw JSONL lines instead of formatted output")
	cmd.Flags().StringVar(&cmder.dataDir, "data-dir", "", "Data directory holding transcripts (default: .spool/data)")

	return cmd
}

func (c *tailCommander) run() error {
	path, err := c.transcriptPath()
	if err != nil {
		return err
	}

	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("no transcript for conversation %q: %w", c.conversationID, err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	err = c.follow(ctx, path, os.Stdout)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (c *tailCommander) transcriptPath() (string, error) {
	dataDir := c.dataDir
	if dataDir == "" {
		cfger, err := config.NewConfiger(c.configDir)
		if err != nil {
			return "", fmt.Errorf("loading config: %w", err)
		}
		cfg, err := cfger.LoadConfig()
		if err != nil {
			return "", fmt.Errorf("loading config: %w", err)
		}
		dataDir = cfg.Storage.DataDir
	}

	if dataDir == "" {
		ddm := dotdir.NewManager()
		target, err := ddm.Target(c.configDir)
		if err != nil {
			return "", fmt.Errorf("resolving data dir: %w", err)
		}
		dataDir = filepath.Join(target, "data")
	}

	return filepath.Join(dataDir, "transcripts", c.conversationID+".jsonl"), nil
}

// follow prints the transcript file as it grows, watching the directory for
// writes. Partial trailing lines are held until the closing newline lands.
func (c *tailCommander) follow(ctx context.Context, path string, out io.Writer) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening transcript: %w", err)
	}
	defer file.Close()

	if !c.fromStart {
		stat, err := file.Stat()
		if err != nil {
			return fmt.Errorf("stat transcript: %w", err)
		}
		if _, err := file.Seek(stat.Size(), io.SeekStart); err != nil {
			return fmt.Errorf("seek transcript: %w", err)
		}
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating transcript watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("watching transcript dir: %w", err)
	}

	buf := make([]byte, 4096)
	var carry []byte
	readAvailable := func() error {
		for {
			n, err := file.Read(buf)
			if n > 0 {
				carry = append(carry, buf[:n]...)
				for {
					nl := bytes.IndexByte(carry, '\n')
					if nl < 0 {
						break
					}
					line := carry[:nl]
					carry = carry[nl+1:]
					if writeErr := c.writeLine(out, line); writeErr != nil {
						return writeErr
					}
				}
			}
			if err != nil {
				if errors.Is(err, io.EOF) {
					return nil
				}
				return err
			}
		}
	}

	if err := readAvailable(); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event := <-watcher.Events:
			if filepath.Clean(event.Name) != filepath.Clean(path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if err := readAvailable(); err != nil {
				return err
			}
		case err := <-watcher.Errors:
			return fmt.Errorf("transcript watcher error: %w", err)
		}
	}
}

func (c *tailCommander) writeLine(out io.Writer, raw []byte) error {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}

	if c.raw {
		_, err := fmt.Fprintf(out, "%s\n", raw)
		return err
	}

	var line transcript.Line
	if err := json.Unmarshal(raw, &line); err != nil {
		// Corrupt or foreign line; show it rather than dying mid-follow.
		_, werr := fmt.Fprintf(out, "%s %s\n", dimStyle.Render("?"), raw)
		return werr
	}

	_, err := fmt.Fprint(out, formatLine(line))
	return err
}

func formatLine(line transcript.Line) string {
	switch line.Type {
	case transcript.TypeMeta:
		if line.Meta == nil {
			return ""
		}
		return fmt.Sprintf("%s %s\n",
			eventStyle.Render("• conversation started"),
			dimStyle.Render(fmt.Sprintf("channel=%s %s",
				line.Meta.Channel,
				line.Meta.CreatedAt.Local().Format("2006-01-02 15:04:05"),
			)),
		)
	case transcript.TypeTurn:
		if line.Turn == nil {
			return ""
		}
		role := line.Turn.Role
		if line.Turn.Sender != "" {
			role = role + "/" + line.Turn.Sender
		}
		return fmt.Sprintf("%s %s %s\n",
			numberStyle.Render(fmt.Sprintf("[%d]", line.Turn.Number)),
			roleStyle.Render(role+":"),
			contentStyle.Render(line.Turn.Content),
		)
	case transcript.TypeEvent:
		if line.Event == nil {
			return ""
		}
		return fmt.Sprintf("%s\n", eventStyle.Render("• "+describeEvent(*line.Event)))
	default:
		return ""
	}
}

func describeEvent(event transcript.Event) string {
	switch event.Subtype {
	case transcript.EventTitleAssigned:
		return fmt.Sprintf("titled %q", event.Title)
	case transcript.EventCompression:
		return fmt.Sprintf("compressed through turn %d", event.CompressedThrough)
	case transcript.EventAbbreviation:
		return "abbreviation updated"
	case transcript.EventMetaUpdate:
		if event.Channel != "" {
			return "moved to channel " + event.Channel
		}
		return "participants updated: " + strings.Join(event.Participants, ", ")
	default:
		return event.Subtype
	}
}
