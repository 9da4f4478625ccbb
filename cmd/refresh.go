package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newRefreshCmd(state *rootState) *cobra.Command {
	return &cobra.Command{
		Use:   "refresh [URL]",
		Short: "Reloads the company directory from a listing CSV",
		Long: `Downloads the company listing and atomically replaces the directory
contents. Without an argument the configured directory.listing_url is used.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := state.appOrErr()
			if err != nil {
				return err
			}
			var url string
			if len(args) == 1 {
				url = args[0]
			}
			if err := a.Service.Refresh(cmd.Context(), url); err != nil {
				return fmt.Errorf("refresh: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "directory refreshed")
			return nil
		},
	}
}
