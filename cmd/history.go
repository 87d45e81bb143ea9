package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var flagHistorySession string

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Print the task/response history of a session",
	Args:  cobra.NoArgs,
	RunE:  runHistory,
}

func init() {
	historyCmd.Flags().StringVar(&flagHistorySession, "session", "", "session id (required)")
	_ = historyCmd.MarkFlagRequired("session")
	rootCmd.AddCommand(historyCmd)
}

func runHistory(cmd *cobra.Command, args []string) error {
	cfg, _, api, err := setup()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), unaryTimeout(cfg))
	defer cancel()

	exchanges, err := api.History(ctx, flagHistorySession)
	if err != nil {
		return fmt.Errorf("history: %w", err)
	}

	out := cmd.OutOrStdout()
	if len(exchanges) == 0 {
		fmt.Fprintln(out, "No history.")
		return nil
	}
	for _, exchange := range exchanges {
		fmt.Fprintf(out, "You> %s\n", exchange.Task)
		if exchange.Response != "" {
			fmt.Fprintf(out, "Agent> %s\n", exchange.Response)
		}
	}
	return nil
}
