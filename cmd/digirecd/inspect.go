package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/xtxerr/digirec/internal/storage"
)

func inspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <container>...",
		Short: "Print layout, row counts and configuration of recordings",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, path := range args {
				in, err := storage.Inspect(cmd.Context(), path)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "== %s\n%s", path, in)
			}
			return nil
		},
	}
}
