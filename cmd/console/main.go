// Command console is the operator-facing binary that loads a Catalog and
// drives a fleet of Process Managers through it, either as one non-
// interactive phased run or through the interactive prompt described in
// spec.md §4.3 (setup, connect, run, stop, shutdown, close, show).
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/distlab/fleetctl/internal/logger"
)

var (
	catalogPath string
	verbose     bool
)

func main() {
	root := &cobra.Command{
		Use:   "console",
		Short: "Drive a fleet of Process Managers through a phased catalog of commands.",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if verbose {
				logger.SetLevel(logger.Debug)
			}
		},
	}

	root.PersistentFlags().StringVarP(&catalogPath, "catalog", "c", "catalog.yaml", "path to the catalog YAML file")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "turn on debug logging")

	root.AddCommand(newRunCmd())
	root.AddCommand(newShowCmd())
	root.AddCommand(newInteractiveCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "fleetctl: %v\n", err)
		os.Exit(1)
	}
}
