package main

import (
	"context"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

// newRunCmd drives every phase of the loaded catalog to completion without
// operator interaction: every phase predicate defaults to "proceed".
func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Dispatch every phase of the catalog in order, non-interactively.",
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := loadDispatcher()
			if err != nil {
				return err
			}
			defer d.Close()

			if err := d.Run(context.Background()); err != nil {
				color.Red("run failed: %v", err)
				return err
			}

			color.Green("all phases complete")
			return nil
		},
	}
}
