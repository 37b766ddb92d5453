// Package usecmder provides the use command for marking a conversation as
// current.
package usecmder

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/spoolhq/spool/pkg/cliui"
	"github.com/spoolhq/spool/pkg/dotdir"
)

type useCommander struct {
	conversationID string
	title          string

	configDir string
}

const useLongDesc string = `Mark a conversation as current.

The current conversation is stored in the .spool/ directory and is what
"spool tail" follows when no id is given. Run without arguments to show
the current conversation, or with --clear to unset it.

Example:
  spool use 7f3b9c
  spool use 7f3b9c --title "deploy incident"
  spool use
  spool use --clear`

const useShortDesc string = "Mark a conversation as current"

func NewUseCmd() *cobra.Command {
	cmder := &useCommander{}
	var clear bool

	cmd := &cobra.Command{
		Use:   "use [conversation-id]",
		Short: useShortDesc,
		Long:  useLongDesc,
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmder.configDir, _ = cmd.Flags().GetString("config-dir")

			if clear {
				return cmder.runClear()
			}
			if len(args) == 0 {
				return cmder.runShow()
			}
			cmder.conversationID = args[0]
			return cmder.runSet()
		},
	}

	cmd.Flags().StringVarP(&cmder.title, "title", "t", "", "Title to remember alongside the conversation id")
	cmd.Flags().BoolVar(&clear, "clear", false, "Unset the current conversation")

	return cmd
}

func (c *useCommander) runSet() error {
	ddm := dotdir.NewManager()
	state := &dotdir.CurrentState{
		ConversationID: c.conversationID,
		Title:          c.title,
	}
	if err := ddm.SaveCurrent(state, c.configDir); err != nil {
		return fmt.Errorf("saving current conversation: %w", err)
	}

	fmt.Printf("  %s Now using %s\n",
		cliui.SuccessMark,
		cliui.ValueStyle.Render(c.conversationID),
	)
	return nil
}

func (c *useCommander) runShow() error {
	ddm := dotdir.NewManager()
	state, err := ddm.LoadCurrent(c.configDir)
	if err != nil {
		return fmt.Errorf("loading current conversation: %w", err)
	}

	if state == nil {
		fmt.Printf("  %s\n", cliui.DimStyle.Render("No current conversation. Run \"spool use <id>\" to set one."))
		return nil
	}

	fmt.Printf("  %s  %s\n", cliui.KeyStyle.Render("current"), cliui.ValueStyle.Render(state.ConversationID))
	if state.Title != "" {
		fmt.Printf("  %s  %s\n", cliui.KeyStyle.Render("title  "), cliui.ValueStyle.Render(state.Title))
	}
	return nil
}

func (c *useCommander) runClear() error {
	ddm := dotdir.NewManager()
	if err := ddm.ClearCurrent(c.configDir); err != nil {
		return fmt.Errorf("clearing current conversation: %w", err)
	}

	fmt.Printf("  %s Cleared current conversation\n", cliui.SuccessMark)
	return nil
}
