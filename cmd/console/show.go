package main

import (
	"github.com/davecgh/go-spew/spew"
	"github.com/spf13/cobra"

	"github.com/distlab/fleetctl/internal/catalog"
)

// newShowCmd pretty-prints the loaded Catalog for operator inspection
// before running, mirroring the original console.py "show" command.
func newShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the loaded catalog (commands, phases, targets).",
		RunE: func(cmd *cobra.Command, args []string) error {
			cat, err := catalog.Load(catalogPath)
			if err != nil {
				return err
			}
			spew.Dump(cat)
			return nil
		},
	}
}
