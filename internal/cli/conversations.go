// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/spf13/cobra"

	"github.com/jeranaias/rigrun-chat/internal/model"
	"github.com/jeranaias/rigrun-chat/internal/storage"
	"github.com/jeranaias/rigrun-chat/internal/util"
)

// openHistory opens the configured conversation store.
func openHistory() (storage.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return storage.Open(cfg.History.Backend, cfg.History.Dir)
}

func newConversationsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "conversations",
		Aliases: []string{"conv"},
		Short:   "Inspect and delete stored conversations",
	}
	cmd.AddCommand(newConversationsListCmd())
	cmd.AddCommand(newConversationsShowCmd())
	cmd.AddCommand(newConversationsDeleteCmd())
	cmd.AddCommand(newConversationsClearCmd())
	return cmd
}

// =============================================================================
// LIST
// =============================================================================

func newConversationsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List conversations, most recent first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openHistory()
			if err != nil {
				return err
			}
			defer store.Close()

			metas, err := store.List()
			if err != nil {
				return err
			}
			if len(metas) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), DimStyle.Render("No conversations."))
				return nil
			}
			fmt.Fprint(cmd.OutOrStdout(), RenderConversationTable(metas, GetTerminalWidth()))
			return nil
		},
	}
}

// RenderConversationTable lays out conversation metadata in columns that fit
// width terminal cells. Titles are cut to the space that is left.
func RenderConversationTable(metas []model.ConversationMeta, width int) string {
	idWidth := len("ID")
	for _, m := range metas {
		if w := util.StringWidth(m.ID); w > idWidth {
			idWidth = w
		}
	}
	const (
		updatedWidth = 16 // 2006-01-02 15:04
		countWidth   = 5
		gaps         = 3 * 2
	)
	titleWidth := width - idWidth - updatedWidth - countWidth - gaps
	if titleWidth < 10 {
		titleWidth = 10
	}

	var b strings.Builder
	header := util.PadRight("ID", idWidth) + "  " +
		util.PadRight("UPDATED", updatedWidth) + "  " +
		util.PadRight("MSGS", countWidth) + "  " +
		"TITLE"
	b.WriteString(HeaderStyle.Render(header))
	b.WriteString("\n")

	for _, m := range metas {
		updated := time.UnixMilli(m.LastUpdated).Format("2006-01-02 15:04")
		b.WriteString(util.PadRight(m.ID, idWidth))
		b.WriteString("  ")
		b.WriteString(DimStyle.Render(util.PadRight(updated, updatedWidth)))
		b.WriteString("  ")
		b.WriteString(util.PadRight(strconv.Itoa(m.MessageCount), countWidth))
		b.WriteString("  ")
		b.WriteString(util.TruncateWidth(m.Title, titleWidth))
		b.WriteString("\n")
	}
	return b.String()
}

// =============================================================================
// SHOW
// =============================================================================

func newConversationsShowCmd() *cobra.Command {
	var raw bool
	cmd := &cobra.Command{
		Use:   "show [id]",
		Short: "Print a conversation (default: the most recent)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openHistory()
			if err != nil {
				return err
			}
			defer store.Close()

			id := ""
			if len(args) == 1 {
				id = args[0]
			} else {
				metas, err := store.List()
				if err != nil {
					return err
				}
				if len(metas) == 0 {
					return errors.New("no conversations")
				}
				id = metas[0].ID
			}

			conv, err := store.Load(id)
			if err != nil {
				return err
			}
			return printConversation(cmd.OutOrStdout(), conv, !raw && IsStdoutTTY())
		},
	}
	cmd.Flags().BoolVar(&raw, "raw", false, "print markdown source instead of rendering it")
	return cmd
}

// ConversationMarkdown formats a conversation as a markdown document.
func ConversationMarkdown(conv *model.Conversation) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", conv.Title())
	fmt.Fprintf(&b, "_%s, updated %s_\n\n", conv.ID, time.UnixMilli(conv.LastUpdated).Format(time.RFC1123))
	for _, msg := range conv.Messages {
		fmt.Fprintf(&b, "## %s\n\n%s\n\n", msg.Role, strings.TrimSpace(msg.Content))
	}
	return b.String()
}

func printConversation(out io.Writer, conv *model.Conversation, render bool) error {
	md := ConversationMarkdown(conv)
	if !render {
		_, err := io.WriteString(out, md)
		return err
	}

	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(GetTerminalWidth()-4),
	)
	if err != nil {
		_, err = io.WriteString(out, md)
		return err
	}
	rendered, err := renderer.Render(md)
	if err != nil {
		rendered = md
	}
	_, err = io.WriteString(out, rendered)
	return err
}

// =============================================================================
// DELETE / CLEAR
// =============================================================================

func newConversationsDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>...",
		Short: "Delete conversations",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openHistory()
			if err != nil {
				return err
			}
			defer store.Close()

			var failed []error
			for _, id := range args {
				if err := store.Delete(id); err != nil {
					failed = append(failed, fmt.Errorf("%s: %w", id, err))
					continue
				}
				fmt.Fprintln(cmd.OutOrStdout(), SuccessStyle.Render("Deleted"), id)
			}
			return errors.Join(failed...)
		},
	}
}

func newConversationsClearCmd() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete every conversation",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return errors.New("refusing to delete all conversations without --yes")
			}
			store, err := openHistory()
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.Clear(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), SuccessStyle.Render("All conversations deleted"))
			return nil
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "confirm deletion")
	return cmd
}
