// SPDX-FileCopyrightText: 2022 SoftIron Limited <info@softiron.com>
// SPDX-License-Identifier: GNU General Public License v2.0 only WITH Classpath exception 2.0

/* Package dispatcher drives the Console's phased, multiplexed rollout: one
ProxyTo per Process Manager, commands grouped by integer phase, fired
concurrently within a phase and gathered with a shared fan-in channel —
the same "heterogeneous handles funneled into one channel, polled by a
single task" shape internal/procmgr's readiness loop uses on the other
end of the wire.
*/
package dispatcher

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
	"golang.org/x/sync/errgroup"

	"github.com/distlab/fleetctl/internal/catalog"
	"github.com/distlab/fleetctl/internal/logger"
)

// PhasePredicate gates progression from one phase to the next. A false
// return aborts all later phases.
type PhasePredicate func(phase int) bool

// Dispatcher holds one ProxyTo per distinct target in the catalog and runs
// the phased dispatch algorithm over them.
type Dispatcher struct {
	cat     *catalog.Catalog
	proxies map[catalog.Target]*ProxyTo

	predicates map[int]PhasePredicate

	ConnectTimeout time.Duration
	GatherTimeout  time.Duration

	ackChannel chan ackLine
}

// New builds a Dispatcher with one disconnected ProxyTo per target named in
// the catalog.
func New(cat *catalog.Catalog) *Dispatcher {
	d := &Dispatcher{
		cat:            cat,
		proxies:        make(map[catalog.Target]*ProxyTo),
		predicates:     make(map[int]PhasePredicate),
		ConnectTimeout: 5 * time.Second,
		GatherTimeout:  10 * time.Second,
		ackChannel:     make(chan ackLine, 64),
	}

	for _, t := range cat.Targets() {
		d.proxies[t] = newProxyTo(t, cat.ForTarget(t))
	}

	return d
}

// SetPredicate registers the operator-supplied predicate gating progression
// past the given phase. Phases with no registered predicate always proceed.
func (d *Dispatcher) SetPredicate(phase int, predicate PhasePredicate) {
	d.predicates[phase] = predicate
}

// Phases - The distinct phase values present in the catalog, ascending.
func (d *Dispatcher) Phases() []int {
	seen := make(map[int]struct{})
	for _, cmd := range d.cat.Commands {
		seen[cmd.Phase] = struct{}{}
	}

	phases := maps.Keys(seen)
	slices.Sort(phases)
	return phases
}

// ConnectAll ensures every proxy is connected, attempting to connect any
// that are not, concurrently. Returns the first connection error, if any.
func (d *Dispatcher) ConnectAll(ctx context.Context) error {
	g, _ := errgroup.WithContext(ctx)

	for _, p := range d.proxies {
		p := p
		if p.IsConnected() {
			continue
		}
		g.Go(func() error {
			return p.Connect(d.ConnectTimeout, d.ackChannel)
		})
	}

	return g.Wait()
}

// Run executes every phase in ascending order: connect, fan out, gather,
// then run the phase predicate. Stops at the first phase whose predicate
// returns false, or whose connect/gather step fails.
func (d *Dispatcher) Run(ctx context.Context) error {
	for _, phase := range d.Phases() {
		logger.Infof("phase %d: starting\n", phase)

		if err := d.ConnectAll(ctx); err != nil {
			return fmt.Errorf("phase %d: connecting proxies: %w", phase, err)
		}

		if err := d.runPhase(phase); err != nil {
			return fmt.Errorf("phase %d: %w", phase, err)
		}

		if predicate, ok := d.predicates[phase]; ok {
			if !predicate(phase) {
				logger.Warnf("phase %d: predicate failed, aborting further phases\n", phase)
				return nil
			}
		}

		logger.Infof("phase %d: complete\n", phase)
	}

	return nil
}

// runPhase performs the fan-out/gather step for one phase.
func (d *Dispatcher) runPhase(phase int) error {
	pending := make(map[catalog.Target]bool)

	for target, p := range d.proxies {
		done, err := p.StartRun(phase)
		if err != nil {
			logger.Warnf("phase %d: %v\n", phase, err)
			continue
		}
		if !done {
			pending[target] = true
		}
	}

	deadline := time.Now().Add(d.GatherTimeout)

	for len(pending) > 0 {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return fmt.Errorf("timed out waiting for acknowledgements from %d target(s)", len(pending))
		}

		select {
		case al := <-d.ackChannel:
			if !pending[al.target] {
				continue
			}

			if al.err != nil {
				logger.Warnf("phase %d: proxy %v failed: %v\n", phase, al.target, al.err)
				delete(pending, al.target)
				d.proxies[al.target].Close()
				continue
			}

			p := d.proxies[al.target]
			if err := p.HandleAck(al.line); err != nil {
				logger.Warnf("phase %d: %v\n", phase, err)
				continue
			}
			if !p.PendingForPhase(phase) {
				delete(pending, al.target)
			}

		case <-time.After(remaining):
			return fmt.Errorf("timed out waiting for acknowledgements from %d target(s)", len(pending))
		}
	}

	return nil
}

// StopAlias sends a stop for one alias to whichever connected proxy owns
// it.
func (d *Dispatcher) StopAlias(alias string) error {
	for _, p := range d.proxies {
		if !p.HasAlias(alias) {
			continue
		}
		if !p.IsConnected() {
			return fmt.Errorf("stop %v: proxy %v is not connected", alias, p.RemoteAddr())
		}
		return p.Stop(alias)
	}
	return fmt.Errorf("stop %v: no catalog entry owns that alias", alias)
}

// StopAll sends a stop-all to every connected proxy.
func (d *Dispatcher) StopAll() error {
	var firstErr error
	for _, p := range d.proxies {
		if !p.IsConnected() {
			continue
		}
		if err := p.Stop(""); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Shutdown fans `shutdown` out to every connected proxy, then waits for
// socket EOF on each as the acknowledgement.
func (d *Dispatcher) Shutdown() error {
	pending := make(map[catalog.Target]bool)

	for target, p := range d.proxies {
		if !p.IsConnected() {
			continue
		}
		if err := p.StartShutdown(); err != nil {
			logger.Warnf("shutdown: %v\n", err)
			continue
		}
		pending[target] = true
	}

	deadline := time.Now().Add(d.GatherTimeout)

	for len(pending) > 0 {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return fmt.Errorf("timed out waiting for shutdown acknowledgement from %d target(s)", len(pending))
		}

		select {
		case al := <-d.ackChannel:
			if !pending[al.target] {
				continue
			}
			if al.err != nil {
				delete(pending, al.target)
				d.proxies[al.target].Close()
			}

		case <-time.After(remaining):
			return fmt.Errorf("timed out waiting for shutdown acknowledgement from %d target(s)", len(pending))
		}
	}

	return nil
}

// Close detaches every proxy's connection without asking the remote side to
// stop anything (the Console-level `close` verb).
func (d *Dispatcher) Close() {
	for _, p := range d.proxies {
		p.Close()
	}
}

// Targets - Every target this Dispatcher holds a proxy for.
func (d *Dispatcher) Targets() []catalog.Target {
	return maps.Keys(d.proxies)
}

// ProxyFor - The proxy for one target, or nil if unknown.
func (d *Dispatcher) ProxyFor(t catalog.Target) *ProxyTo {
	return d.proxies[t]
}

// Catalog - The catalog this Dispatcher was built from, for inspection
// (e.g. the Console's `show` command).
func (d *Dispatcher) Catalog() *catalog.Catalog {
	return d.cat
}
