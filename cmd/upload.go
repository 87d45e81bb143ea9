package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var uploadCmd = &cobra.Command{
	Use:   "upload [path]",
	Short: "Upload a screenshot and print its server-side path",
	Args:  cobra.ExactArgs(1),
	RunE:  runUpload,
}

func init() {
	rootCmd.AddCommand(uploadCmd)
}

func runUpload(cmd *cobra.Command, args []string) error {
	cfg, _, api, err := setup()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), unaryTimeout(cfg))
	defer cancel()

	result, err := api.Upload(ctx, args[0])
	if err != nil {
		return fmt.Errorf("upload %s: %w", args[0], err)
	}

	fmt.Fprintln(cmd.OutOrStdout(), result.Path)
	return nil
}
