package main

import (
	"fmt"

	"github.com/distlab/fleetctl/internal/catalog"
	"github.com/distlab/fleetctl/internal/dispatcher"
	"github.com/distlab/fleetctl/internal/logger"
)

// loadDispatcher loads the Catalog at catalogPath and builds a Dispatcher
// over it. Every phase predicate defaults to "always proceed"; the
// interactive prompt lets the operator swap that for a manual gate before
// starting the next phase.
func loadDispatcher() (*dispatcher.Dispatcher, error) {
	cat, err := catalog.Load(catalogPath)
	if err != nil {
		return nil, fmt.Errorf("loading catalog: %w", err)
	}

	d := dispatcher.New(cat)
	for _, phase := range d.Phases() {
		d.SetPredicate(phase, func(phase int) bool {
			logger.Infof("phase %d: predicate not overridden, proceeding\n", phase)
			return true
		})
	}

	return d, nil
}
