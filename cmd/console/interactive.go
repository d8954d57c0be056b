package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/davecgh/go-spew/spew"
	"github.com/fatih/color"
	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"

	"github.com/distlab/fleetctl/internal/dispatcher"
)

// newInteractiveCmd opens the operator prompt loop: setup, connect, run,
// stop, shutdown, close, show, quit. This replaces the original console.py's
// bare `raw_input('> ')` REPL with promptui.Prompt, and uses fatih/color in
// place of its plain print statements to distinguish status lines from
// errors.
func newInteractiveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "interactive",
		Short: "Open an interactive prompt to drive the catalog phase by phase.",
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := loadDispatcher()
			if err != nil {
				return err
			}
			defer d.Close()

			wirePromptPredicates(d)
			runREPL(d)
			return nil
		},
	}
}

// wirePromptPredicates replaces every phase's default "always proceed"
// predicate with one that asks the operator for confirmation, so a bad
// phase can be caught before the next one fires.
func wirePromptPredicates(d *dispatcher.Dispatcher) {
	for _, phase := range d.Phases() {
		phase := phase
		d.SetPredicate(phase, func(int) bool {
			prompt := promptui.Prompt{
				Label:     fmt.Sprintf("phase %d complete, proceed", phase),
				IsConfirm: true,
			}
			_, err := prompt.Run()
			return err == nil
		})
	}
}

func runREPL(d *dispatcher.Dispatcher) {
	color.Cyan("fleetctl console ready — setup, connect, run, stop [alias], shutdown, close, show, quit")

	for {
		prompt := promptui.Prompt{Label: "console"}
		line, err := prompt.Run()
		if err != nil {
			// Ctrl-C / Ctrl-D: treat like an explicit "quit".
			fmt.Println()
			return
		}

		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}

		verb, rest := fields[0], fields[1:]

		if !dispatchVerb(d, verb, rest) {
			return
		}
	}
}

// dispatchVerb applies one REPL line. Returns false when the loop should
// exit (quit, or after shutdown completes).
func dispatchVerb(d *dispatcher.Dispatcher, verb string, rest []string) bool {
	switch verb {
	case "setup":
		// Provisioning (machine images, file transfer, remote shell) is an
		// external collaborator out of this core's scope; this verb is kept
		// only as a pointer for operators used to console.py's workflow.
		color.Yellow("setup: provisioning is out of scope for this core; run it out of band before connect")

	case "connect", "con":
		if err := d.ConnectAll(context.Background()); err != nil {
			color.Red("connect: %v", err)
		} else {
			color.Green("connected to every target")
		}

	case "run":
		if err := d.Run(context.Background()); err != nil {
			color.Red("run: %v", err)
		} else {
			color.Green("all phases complete")
		}

	case "stop":
		var err error
		if len(rest) == 0 {
			err = d.StopAll()
		} else {
			err = d.StopAlias(rest[0])
		}
		if err != nil {
			color.Red("stop: %v", err)
		} else {
			color.Green("stop sent")
		}

	case "shutdown":
		if err := d.Shutdown(); err != nil {
			color.Red("shutdown: %v", err)
			return true
		}
		color.Green("shutdown acknowledged by every target")
		return false

	case "close":
		d.Close()
		color.Green("closed all connections")

	case "show":
		spew.Dump(d.Catalog())

	case "quit", "exit":
		return false

	default:
		color.Yellow("unknown command %q", verb)
	}

	return true
}
