package cmd

import (
	"context"
	"fmt"

	tea "charm.land/bubbletea/v2"
	"github.com/spf13/cobra"

	"github.com/sightline/sightline/internal/tui"
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start the interactive session (default)",
	RunE:  runChat,
}

func init() {
	rootCmd.AddCommand(chatCmd)
}

func runChat(cmd *cobra.Command, args []string) error {
	cfg, logger, api, err := setup()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	model, err := tui.New(ctx, cfg, api, logger)
	if err != nil {
		return fmt.Errorf("create TUI: %w", err)
	}
	program := tea.NewProgram(model, tea.WithContext(ctx))

	if _, err = program.Run(); err != nil {
		return fmt.Errorf("TUI exited: %w", err)
	}
	return nil
}
