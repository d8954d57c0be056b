// SPDX-FileCopyrightText: 2022 SoftIron Limited <info@softiron.com>
// SPDX-License-Identifier: GNU General Public License v2.0 only WITH Classpath exception 2.0

package supervisor

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func withTempDir(t *testing.T) string {
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
	return dir
}

func drain(t *testing.T, ch <-chan Token, want Token) {
	t.Helper()
	select {
	case got := <-ch:
		if got != want {
			t.Fatalf("got token %v, want %v", got, want)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for token %v", want)
	}
}

func TestSupervisorFinishesCleanly(t *testing.T) {
	withTempDir(t)

	sup := New("okcmd", []string{"/bin/sh", "-c", "exit 0"})
	go sup.Run()

	drain(t, sup.Outbound(), TokenReady)
	sup.Inbound() <- TokenLaunch
	drain(t, sup.Outbound(), TokenLaunched)
	drain(t, sup.Outbound(), TokenFinished)
}

func TestSupervisorRelaunchesAfterNonZeroExit(t *testing.T) {
	withTempDir(t)

	sup := New("failcmd", []string{"/bin/sh", "-c", "exit 1"})
	go sup.Run()

	drain(t, sup.Outbound(), TokenReady)
	sup.Inbound() <- TokenLaunch
	drain(t, sup.Outbound(), TokenLaunched)
	drain(t, sup.Outbound(), TokenDied)

	sup.Inbound() <- TokenRelaunch
	drain(t, sup.Outbound(), TokenReady)
	sup.Inbound() <- TokenLaunch
	drain(t, sup.Outbound(), TokenLaunched)
	drain(t, sup.Outbound(), TokenDied)

	sup.Stop()
}

func TestSupervisorStopTerminatesRunningChild(t *testing.T) {
	withTempDir(t)

	sup := New("longcmd", []string{"/bin/sh", "-c", "sleep 30"})
	go sup.Run()

	drain(t, sup.Outbound(), TokenReady)
	sup.Inbound() <- TokenLaunch
	drain(t, sup.Outbound(), TokenLaunched)

	sup.Stop()

	select {
	case _, ok := <-sup.Outbound():
		if ok {
			t.Fatalf("expected no further tokens after Stop, Run should return")
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("Run did not exit after Stop")
	}
}

func TestSupervisorStopBeforeLaunchPreventsFork(t *testing.T) {
	withTempDir(t)

	sup := New("neverlaunched", []string{"/bin/true"})
	go sup.Run()

	drain(t, sup.Outbound(), TokenReady)
	sup.Stop() // closes Inbound(): Run() is blocked reading it in BLOCKED-ON-LAUNCH, so this alone unblocks and terminates it

	select {
	case _, ok := <-sup.Outbound():
		if ok {
			t.Fatalf("expected Run to have already returned after Stop raced launch")
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("Run did not exit")
	}
}

func TestLogRotationCompressesPreviousLog(t *testing.T) {
	dir := withTempDir(t)

	logPath := filepath.Join(dir, "rot_proc.log")
	if err := os.WriteFile(logPath, []byte("first run\n"), 0644); err != nil {
		t.Fatal(err)
	}

	sup := New("rot", []string{"/bin/sh", "-c", "echo second run; exit 0"})
	go sup.Run()

	drain(t, sup.Outbound(), TokenReady)
	sup.Inbound() <- TokenLaunch
	drain(t, sup.Outbound(), TokenLaunched)
	drain(t, sup.Outbound(), TokenFinished)

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}

	var sawActive, sawCompressedRotation bool
	for _, e := range entries {
		switch {
		case e.Name() == "rot_proc.log":
			sawActive = true
		case filepath.Ext(e.Name()) == ".gz":
			sawCompressedRotation = true
		}
	}

	if !sawActive {
		t.Errorf("expected an active rot_proc.log after the new run")
	}
	if !sawCompressedRotation {
		t.Errorf("expected the previous log to have been rotated and gzip-compressed")
	}
}
