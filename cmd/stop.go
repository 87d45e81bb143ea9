package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Ask the server to stop the running operation",
	Args:  cobra.NoArgs,
	RunE:  runStop,
}

func init() {
	rootCmd.AddCommand(stopCmd)
}

func runStop(cmd *cobra.Command, args []string) error {
	cfg, _, api, err := setup()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), unaryTimeout(cfg))
	defer cancel()

	if err := api.Stop(ctx); err != nil {
		return fmt.Errorf("stop: %w", err)
	}

	fmt.Fprintln(cmd.OutOrStdout(), "Stop requested.")
	return nil
}
