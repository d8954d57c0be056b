// SPDX-FileCopyrightText: 2022 SoftIron Limited <info@softiron.com>
// SPDX-License-Identifier: GNU General Public License v2.0 only WITH Classpath exception 2.0

package dispatcher

import (
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/distlab/fleetctl/internal/catalog"
	"github.com/distlab/fleetctl/internal/procmgr"
)

// startTestProcessManager binds a Process Manager to an ephemeral port in a
// fresh temp directory (so its log rotation has somewhere to write) and
// returns its address.
func startTestProcessManager(t *testing.T) string {
	t.Helper()

	dir := t.TempDir()
	old, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Chdir(old) })

	procmgr.SetConfig(procmgr.Config{ListenPort: 0})
	pm := procmgr.New()
	if err := pm.Listen(); err != nil {
		t.Fatalf("Listen: %v", err)
	}
	go pm.Serve()

	return pm.Addr()
}

func targetFromAddr(t *testing.T, addr string) catalog.Target {
	t.Helper()

	// addr is "host:port" from net.Listener.Addr().String(); split from the
	// right so an IPv6 "[::]:port" form still works.
	idx := -1
	for i := len(addr) - 1; i >= 0; i-- {
		if addr[i] == ':' {
			idx = i
			break
		}
	}
	if idx < 0 {
		t.Fatalf("bad address %q", addr)
	}

	host := addr[:idx]
	if host == "" || host == "::" {
		host = "127.0.0.1"
	}

	port, err := strconv.Atoi(addr[idx+1:])
	if err != nil {
		t.Fatalf("bad port in %q: %v", addr, err)
	}

	return catalog.Target{Host: host, Port: port}
}

func TestProxyConnectRunAndAck(t *testing.T) {
	addr := startTestProcessManager(t)
	target := targetFromAddr(t, addr)

	commands := []*catalog.CommandDescriptor{
		{Alias: "one", ShellCommandLine: "/bin/true", Phase: 0, Target: target, State: catalog.Ready},
	}

	p := newProxyTo(target, commands)
	sink := make(chan ackLine, 8)

	if err := p.Connect(2*time.Second, sink); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer p.Close()

	done, err := p.StartRun(0)
	if err != nil {
		t.Fatalf("StartRun: %v", err)
	}
	if done {
		t.Fatalf("StartRun reported done with a pending command")
	}

	select {
	case al := <-sink:
		if al.err != nil {
			t.Fatalf("ackLine.err = %v", al.err)
		}
		if err := p.HandleAck(al.line); err != nil {
			t.Fatalf("HandleAck(%q): %v", al.line, err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for ack")
	}

	if p.PendingForPhase(0) {
		t.Fatalf("expected phase 0 to be fully acknowledged")
	}
	if commands[0].State != catalog.Done {
		t.Fatalf("command state = %v, want DONE", commands[0].State)
	}
}

func TestProxyStartRunNoCommandsInPhaseIsDone(t *testing.T) {
	addr := startTestProcessManager(t)
	target := targetFromAddr(t, addr)

	commands := []*catalog.CommandDescriptor{
		{Alias: "one", ShellCommandLine: "/bin/true", Phase: 1, Target: target},
	}
	p := newProxyTo(target, commands)

	sink := make(chan ackLine, 8)
	if err := p.Connect(2*time.Second, sink); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer p.Close()

	done, err := p.StartRun(0)
	if err != nil {
		t.Fatalf("StartRun: %v", err)
	}
	if !done {
		t.Fatalf("expected StartRun(0) to report done when no phase-0 commands exist")
	}
}

func TestProxyHasAlias(t *testing.T) {
	target := catalog.Target{Host: "h", Port: 1}
	p := newProxyTo(target, []*catalog.CommandDescriptor{{Alias: "a"}, {Alias: "b"}})

	if !p.HasAlias("a") || !p.HasAlias("b") {
		t.Fatalf("expected both aliases to be found")
	}
	if p.HasAlias("c") {
		t.Fatalf("did not expect alias c to be found")
	}
}

func TestProxyHandleAckUnknownAlias(t *testing.T) {
	target := catalog.Target{Host: "h", Port: 1}
	p := newProxyTo(target, []*catalog.CommandDescriptor{{Alias: "a"}})

	if err := p.HandleAck("zzz ok"); err == nil {
		t.Fatalf("expected an error for an ack with an unknown alias")
	}
}
