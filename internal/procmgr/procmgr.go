// SPDX-FileCopyrightText: 2022 SoftIron Limited <info@softiron.com>
// SPDX-License-Identifier: GNU General Public License v2.0 only WITH Classpath exception 2.0

/* Package procmgr implements the Process Manager: it accepts one Console
connection at a time, owns a keyed collection of Supervisors, and
multiplexes their control channels with Console socket I/O through a single
readiness loop. Every Supervisor's outbound token channel is fanned into
one shared channel read by that one loop, so a dynamic, changing set of
Supervisors can still be waited on with a single select statement.
*/
package procmgr

import (
	"fmt"
	"io"
	"sync"

	"github.com/distlab/fleetctl/internal/comms"
	"github.com/distlab/fleetctl/internal/logger"
	"github.com/distlab/fleetctl/internal/protocol"
	"github.com/distlab/fleetctl/internal/supervisor"
)

// interest - Which lifecycle event, if any, the Console is waiting to be
// acknowledged for a given Supervisor.
type interest int

const (
	interestNone interest = iota
	interestLaunched
	interestFinished
)

type supervisorEntry struct {
	sup      *supervisor.Supervisor
	interest interest
}

// tokenEvent - One lifecycle token, tagged with the alias it came from, as
// delivered on the shared fan-in channel.
type tokenEvent struct {
	alias string
	token supervisor.Token
}

// ProcessManager - Owns a TCP listener, the current Console connection (if
// any), and every live Supervisor.
type ProcessManager struct {
	listener *comms.Listener

	console   *comms.Connection
	consoleRx chan *comms.ReceivedLine

	supervisors  map[string]*supervisorEntry
	tokenChannel chan tokenEvent

	// runningTasks tracks outstanding Supervisor.Run goroutines so that
	// shutdown can reap them all before closing the Console socket and the
	// listener.
	runningTasks sync.WaitGroup
}

// New - Create an idle ProcessManager. Call Run to start listening and
// enter the readiness loop.
func New() *ProcessManager {
	return &ProcessManager{
		supervisors:  make(map[string]*supervisorEntry),
		tokenChannel: make(chan tokenEvent, 64),
	}
}

// Listen binds the configured listen port. Separated from Serve so a caller
// (or a test) can learn the bound address before the readiness loop starts,
// which matters when the configured port is 0.
func (pm *ProcessManager) Listen() error {
	endpoint := fmt.Sprintf(":%d", GetConfig().ListenPort)

	listener, err := comms.ListenTCP(endpoint)
	if err != nil {
		return fmt.Errorf("binding listen port: %w", err)
	}
	pm.listener = listener

	logger.Infof("process manager listening on %v\n", listener.Addr())
	return nil
}

// ListenOn installs an already-bound listener in place of calling Listen.
// Used under a graceful-restart manager, which owns the raw net.Listener
// and hands it to us across an exec boundary.
func (pm *ProcessManager) ListenOn(listener *comms.Listener) {
	pm.listener = listener
	logger.Infof("process manager listening on %v\n", listener.Addr())
}

// Addr - The address this Process Manager is bound to. Valid after Listen.
func (pm *ProcessManager) Addr() string {
	return pm.listener.Addr().String()
}

// Serve runs the readiness loop until a `shutdown` command is received.
// Listen must have been called first.
func (pm *ProcessManager) Serve() {
	pm.loop()
}

// Run - Listen then Serve. Returns nil on clean shutdown, or a listen
// error (the only failure that is fatal to a Process Manager).
func (pm *ProcessManager) Run() error {
	if err := pm.Listen(); err != nil {
		return err
	}
	pm.Serve()
	return nil
}

// loop - The readiness loop: waits on (a) the shared Supervisor token
// channel, (b) new accepted connections, (c) lines from the current
// Console connection. A nil consoleRx is never selected (a receive on a nil
// channel blocks forever), which is what lets the loop run with or without
// an attached Console. A closed Accepted channel (listener stopped) is
// latched to nil locally so a closed-channel read doesn't spin the loop.
func (pm *ProcessManager) loop() {
	accepted := pm.listener.Accepted

	for {
		select {
		case ev := <-pm.tokenChannel:
			pm.handleSupervisorToken(ev)

		case conn, ok := <-accepted:
			if !ok {
				accepted = nil
				continue
			}
			pm.handleNewConnection(conn)

		case rl := <-pm.consoleRx:
			if pm.handleConsoleLine(rl) {
				return
			}
		}
	}
}

func (pm *ProcessManager) handleSupervisorToken(ev tokenEvent) {
	entry, ok := pm.supervisors[ev.alias]
	if !ok {
		logger.Debugf("ignoring %v token from removed supervisor %v\n", ev.token, ev.alias)
		return
	}

	switch ev.token {
	case supervisor.TokenReady:
		entry.sup.Inbound() <- supervisor.TokenLaunch

	case supervisor.TokenLaunched:
		if entry.interest == interestLaunched {
			pm.sendAck(ev.alias)
			entry.interest = interestNone
		}

	case supervisor.TokenDied:
		entry.sup.Inbound() <- supervisor.TokenRelaunch

	case supervisor.TokenFinished:
		if entry.interest == interestFinished {
			pm.sendAck(ev.alias)
			entry.interest = interestNone
		}
		delete(pm.supervisors, ev.alias)

	default:
		logger.Warnf("unexpected token %v from %v\n", ev.token, ev.alias)
	}
}

func (pm *ProcessManager) sendAck(alias string) {
	if pm.console == nil {
		return
	}
	ack := protocol.Ack{Alias: alias, Kind: protocol.AckOK}
	if err := pm.console.Send(ack.Encode()); err != nil {
		logger.Warnf("sending ack for %v: %v\n", alias, err)
		pm.detachConsole()
	}
}

func (pm *ProcessManager) handleNewConnection(conn *comms.Connection) {
	if pm.console != nil {
		logger.Warnf("rejecting connection from %v: console already attached\n", conn.RemoteAddr())
		conn.Close()
		return
	}

	logger.Infof("console connected from %v\n", conn.RemoteAddr())
	pm.console = conn
	pm.consoleRx = make(chan *comms.ReceivedLine, 8)
	conn.ReceiveToChannel(pm.consoleRx)
}

func (pm *ProcessManager) detachConsole() {
	if pm.console == nil {
		return
	}
	pm.console.Close()
	pm.console = nil
	pm.consoleRx = nil
}

// handleConsoleLine processes one received line (or the terminal error that
// ended the stream). Returns true if the readiness loop should exit.
func (pm *ProcessManager) handleConsoleLine(rl *comms.ReceivedLine) bool {
	if rl.Err != nil {
		if rl.Err == io.EOF {
			logger.Infof("console disconnected\n")
		} else {
			logger.Warnf("console socket error: %v\n", rl.Err)
		}
		pm.detachConsole()
		return false
	}

	cmd, err := protocol.ParseCommand(rl.Line)
	if err != nil {
		logger.Warnf("malformed command %q: %v\n", rl.Line, err)
		return false
	}

	switch c := cmd.(type) {
	case protocol.RunCommand:
		pm.handleRun(c)
	case protocol.StopCommand:
		pm.handleStop(c)
	case protocol.ShutdownCommand:
		pm.handleShutdown()
		return true
	}

	return false
}

func (pm *ProcessManager) handleRun(c protocol.RunCommand) {
	if _, exists := pm.supervisors[c.Alias]; exists {
		ack := protocol.Ack{Alias: c.Alias, Kind: protocol.AckDuplicatedAlias}
		if pm.console != nil {
			if err := pm.console.Send(ack.Encode()); err != nil {
				logger.Warnf("sending duplicate-alias ack for %v: %v\n", c.Alias, err)
				pm.detachConsole()
			}
		}
		return
	}

	want := interestLaunched
	if c.Wait {
		want = interestFinished
	}

	sup := supervisor.New(c.Alias, c.Argv)
	pm.supervisors[c.Alias] = &supervisorEntry{sup: sup, interest: want}

	pm.runningTasks.Add(1)
	go func() {
		defer pm.runningTasks.Done()
		sup.Run()
	}()
	go forwardTokens(c.Alias, sup.Outbound(), pm.tokenChannel)
}

func (pm *ProcessManager) handleStop(c protocol.StopCommand) {
	if c.All {
		for alias, entry := range pm.supervisors {
			entry.sup.Stop()
			delete(pm.supervisors, alias)
		}
		return
	}

	if entry, ok := pm.supervisors[c.Alias]; ok {
		entry.sup.Stop()
		delete(pm.supervisors, c.Alias)
	}
}

func (pm *ProcessManager) handleShutdown() {
	logger.Infof("shutting down\n")

	for alias, entry := range pm.supervisors {
		entry.sup.Stop()
		delete(pm.supervisors, alias)
	}

	// Reap every Supervisor task before we tear down the sockets (see
	// Supervisor.Run for the emitted-token/task-reap ordering), so we wait
	// here explicitly rather than leaving it to chance.
	pm.runningTasks.Wait()

	pm.detachConsole()
	pm.listener.StopListening()
}

// forwardTokens relays one Supervisor's tokens onto the Process Manager's
// shared fan-in channel, tagging each with its alias. Exits when the
// Supervisor closes its outbound channel (Run returning).
func forwardTokens(alias string, outbound <-chan supervisor.Token, sink chan<- tokenEvent) {
	for tok := range outbound {
		sink <- tokenEvent{alias: alias, token: tok}
	}
}
