// SPDX-FileCopyrightText: 2022 SoftIron Limited <info@softiron.com>
// SPDX-License-Identifier: GNU General Public License v2.0 only WITH Classpath exception 2.0

package dispatcher

import (
	"fmt"
	"time"

	"github.com/distlab/fleetctl/internal/catalog"
	"github.com/distlab/fleetctl/internal/comms"
	"github.com/distlab/fleetctl/internal/protocol"
)

// ackLine - One line (or terminal error) received from a ProxyTo's
// connection, tagged with the target it came from.
type ackLine struct {
	target catalog.Target
	line   string
	err    error
}

// ProxyTo owns a connection to one Process Manager and the subset of the
// catalog assigned to it.
type ProxyTo struct {
	target   catalog.Target
	commands []*catalog.CommandDescriptor

	conn *comms.Connection
	rx   chan *comms.ReceivedLine
}

func newProxyTo(target catalog.Target, commands []*catalog.CommandDescriptor) *ProxyTo {
	return &ProxyTo{target: target, commands: commands}
}

// Connect opens the TCP connection and starts streaming received lines onto
// sink, tagged with this proxy's target.
func (p *ProxyTo) Connect(timeout time.Duration, sink chan<- ackLine) error {
	conn, err := comms.ConnectTCP(p.target.String(), timeout)
	if err != nil {
		return fmt.Errorf("connecting to %v: %w", p.target, err)
	}

	p.conn = conn
	p.rx = make(chan *comms.ReceivedLine, 16)
	conn.ReceiveToChannel(p.rx)

	go p.forward(sink)

	return nil
}

func (p *ProxyTo) forward(sink chan<- ackLine) {
	for rl := range p.rx {
		sink <- ackLine{target: p.target, line: rl.Line, err: rl.Err}
	}
}

// IsConnected reports whether this proxy currently has a live connection.
func (p *ProxyTo) IsConnected() bool {
	return p.conn != nil
}

// Close detaches this proxy's connection without telling the remote
// Process Manager anything (distinct from StartShutdown, which asks the
// remote side to stop its supervised children first).
func (p *ProxyTo) Close() {
	if p.conn == nil {
		return
	}
	p.conn.Close()
	p.conn = nil
	p.rx = nil
}

// StartRun sends one `run …` line per command descriptor in this phase and
// marks each READY. Returns done=true if nothing was sent (no descriptors
// in this phase), meaning this proxy can be excluded from the gather.
func (p *ProxyTo) StartRun(phase int) (done bool, err error) {
	sentAny := false

	for _, cmd := range p.commands {
		if cmd.Phase != phase {
			continue
		}

		cmd.State = catalog.Ready
		line := protocol.EncodeRun(cmd.Alias, cmd.WaitForFinish, cmd.ShellCommandLine)
		if err := p.conn.Send(line); err != nil {
			return false, fmt.Errorf("sending run for %v on %v: %w", cmd.Alias, p.target, err)
		}
		sentAny = true
	}

	return !sentAny, nil
}

// PendingForPhase reports whether any of this proxy's descriptors in the
// given phase are still READY.
func (p *ProxyTo) PendingForPhase(phase int) bool {
	for _, cmd := range p.commands {
		if cmd.Phase == phase && cmd.State == catalog.Ready {
			return true
		}
	}
	return false
}

// HandleAck applies one acknowledgement line to the matching command
// descriptor, transitioning it from READY to DONE.
func (p *ProxyTo) HandleAck(line string) error {
	ack, err := protocol.ParseAck(line)
	if err != nil {
		return fmt.Errorf("parsing ack %q from %v: %w", line, p.target, err)
	}

	for _, cmd := range p.commands {
		if cmd.Alias == ack.Alias {
			cmd.State = catalog.Done
			return nil
		}
	}

	return fmt.Errorf("ack for unknown alias %q from %v", ack.Alias, p.target)
}

// Stop sends a stop command for one alias, or every supervised process if
// alias is empty.
func (p *ProxyTo) Stop(alias string) error {
	var cmd protocol.StopCommand
	if alias == "" {
		cmd = protocol.StopCommand{All: true}
	} else {
		cmd = protocol.StopCommand{Alias: alias}
	}
	return p.conn.Send(cmd.Encode())
}

// StartShutdown sends the shutdown command. The acknowledgement is the
// remote side closing the connection (EOF); Dispatcher.Shutdown waits for it
// on the shared ack channel.
func (p *ProxyTo) StartShutdown() error {
	return p.conn.Send(protocol.ShutdownCommand{}.Encode())
}

// HasAlias reports whether this proxy owns a command descriptor with the
// given alias.
func (p *ProxyTo) HasAlias(alias string) bool {
	for _, cmd := range p.commands {
		if cmd.Alias == alias {
			return true
		}
	}
	return false
}

// RemoteAddr - The target address this proxy talks (or would talk) to.
func (p *ProxyTo) RemoteAddr() string {
	return p.target.String()
}
