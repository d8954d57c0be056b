// SPDX-FileCopyrightText: 2022 SoftIron Limited <info@softiron.com>
// SPDX-License-Identifier: GNU General Public License v2.0 only WITH Classpath exception 2.0

/* Package supervisor owns a single child process and exposes the six-token
bidirectional control channel: ready, launch, launched, died, relaunch,
finished.

One dedicated goroutine per child, two unidirectional queues, one mutex
around fork/terminate: a pair of Go channels and a sync.Mutex around
exec.Cmd.Start() in place of a pair of os.pipe() descriptors and a
threading.Lock around Popen().
*/
package supervisor

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"

	"github.com/distlab/fleetctl/internal/logger"
)

// Token - One of the six lifecycle tokens exchanged on the control channel.
type Token int

const (
	TokenReady Token = iota
	TokenLaunch
	TokenLaunched
	TokenDied
	TokenRelaunch
	TokenFinished
)

func (t Token) String() string {
	switch t {
	case TokenReady:
		return "ready"
	case TokenLaunch:
		return "launch"
	case TokenLaunched:
		return "launched"
	case TokenDied:
		return "died"
	case TokenRelaunch:
		return "relaunch"
	case TokenFinished:
		return "finished"
	default:
		return "unknown"
	}
}

// Supervisor - Owns one child process. Create with New, then run its event
// loop with Run (intended to be called as `go sup.Run()`).
type Supervisor struct {
	Alias string
	Argv  []string

	// id tags log-rotation generations alongside the rotation timestamp, so
	// two rotations racing within the same process-clock tick never collide.
	id string

	outbound chan Token // Supervisor -> Process Manager
	inbound  chan Token // Process Manager -> Supervisor

	mu   sync.Mutex // taken only around fork and termination signal
	done bool
	cmd  *exec.Cmd
}

// New - Create a Supervisor for the given alias/argv. The Supervisor is
// idle until Run is started as a goroutine.
func New(alias string, argv []string) *Supervisor {
	return &Supervisor{
		Alias:    alias,
		Argv:     argv,
		id:       uuid.NewString(),
		outbound: make(chan Token, 1),
		inbound:  make(chan Token, 1),
	}
}

// Outbound - The channel on which this Supervisor emits lifecycle tokens.
func (s *Supervisor) Outbound() <-chan Token {
	return s.outbound
}

// Inbound - The channel on which directives (launch/relaunch) are sent to
// this Supervisor.
func (s *Supervisor) Inbound() chan<- Token {
	return s.inbound
}

// Run - The Supervisor's state machine. Blocks until the
// Supervisor reaches TERMINAL: either a directive stream close/unexpected
// token, a natural zero-exit finish, or Stop().
//
// The emitted token and the process reap share no explicit drain barrier.
// The Process Manager's readiness loop must read the `finished`/`died` token off
// Outbound() before it considers this Supervisor's lifecycle advanced; since
// s.outbound is buffered (capacity 1) the send below never blocks on the
// reader being ready, so the token is never lost even if the reader is
// momentarily busy.
func (s *Supervisor) Run() {
	defer close(s.outbound)

	for {
		s.outbound <- TokenReady

		tok, ok := <-s.inbound
		if !ok || tok != TokenLaunch {
			return
		}

		cmd, stdin, logFile, err := s.launch()
		if err != nil {
			if err == errStopped {
				return
			}
			logger.Errorf("Supervisor %v: failed to launch: %v\n", s.Alias, err)
			// Treat a launch failure the same as an immediate crash: we
			// never got to emit `launched`, so go straight to `died`.
			s.outbound <- TokenDied
			if !s.awaitRelaunch() {
				return
			}
			continue
		}

		s.outbound <- TokenLaunched

		waitErr := cmd.Wait()
		stdin.Close()
		logFile.Close()

		if s.isDone() {
			return
		}

		if waitErr == nil {
			s.outbound <- TokenFinished
			return
		}

		logger.Warnf("Supervisor %v: child exited: %v\n", s.Alias, waitErr)
		s.outbound <- TokenDied

		if !s.awaitRelaunch() {
			return
		}
	}
}

func (s *Supervisor) awaitRelaunch() bool {
	tok, ok := <-s.inbound
	return ok && tok == TokenRelaunch
}

var errStopped = fmt.Errorf("supervisor stopped before fork")

// launch forks the child process. Performed under s.mu, which Stop also
// takes, so a Stop racing a fork either happens before launch observes
// s.done (and launch bails out with errStopped) or after the child is
// already recorded in s.cmd (and Stop can signal it).
func (s *Supervisor) launch() (cmd *exec.Cmd, stdin io.WriteCloser, logFile *os.File, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.done {
		return nil, nil, nil, errStopped
	}

	logFile, err = s.openRotatedLogFile()
	if err != nil {
		return nil, nil, nil, err
	}

	cwd, err := os.Getwd()
	if err != nil {
		logFile.Close()
		return nil, nil, nil, err
	}

	env := os.Environ()
	for i, kv := range env {
		if len(kv) > 5 && kv[:5] == "PATH=" {
			env[i] = "PATH=" + cwd + string(os.PathListSeparator) + kv[5:]
		}
	}

	cmd = exec.Command(s.Argv[0], s.Argv[1:]...)
	cmd.Env = env
	cmd.Stdout = logFile
	cmd.Stderr = logFile

	stdin, err = cmd.StdinPipe()
	if err != nil {
		logFile.Close()
		return nil, nil, nil, err
	}

	if err = cmd.Start(); err != nil {
		stdin.Close()
		logFile.Close()
		return nil, nil, nil, err
	}

	s.cmd = cmd
	return cmd, stdin, logFile, nil
}

// Stop - Idempotent. Sets done and, if a child is running, signals it to
// terminate. A failure of the termination signal because the child exited
// between check and signal is not an error.
//
// Closing inbound (rather than merely setting a flag) is what lets this
// reach a Supervisor currently blocked reading its directive channel in
// BLOCKED-ON-LAUNCH or BLOCKED-ON-RELAUNCH: the state machine already
// treats channel close there as a transition to TERMINAL. Inbound has a
// single writer (the caller of Stop/Inbound), so closing it here is safe.
func (s *Supervisor) Stop() {
	s.mu.Lock()

	if s.done {
		s.mu.Unlock()
		return
	}
	s.done = true

	if s.cmd != nil && s.cmd.Process != nil {
		_ = s.cmd.Process.Kill() // ignore: process may have already exited
	}

	s.mu.Unlock()

	close(s.inbound)
}

func (s *Supervisor) isDone() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

// openRotatedLogFile rotates any existing <alias>_proc.log out of the way
// (renaming it with a timestamp+id suffix distinct from any existing file,
// then gzip-compressing it) and opens a fresh log file for the child about
// to be forked.
func (s *Supervisor) openRotatedLogFile() (*os.File, error) {
	logPath := s.Alias + "_proc.log"

	if _, err := os.Stat(logPath); err == nil {
		rotated := s.distinctRotatedName(logPath)
		if err := os.Rename(logPath, rotated); err != nil {
			return nil, fmt.Errorf("rotating %v: %w", logPath, err)
		}
		if err := gzipAndRemove(rotated); err != nil {
			// A failed compression shouldn't stop us from supervising the
			// child; the uncompressed rotated file is still on disk.
			logger.Warnf("Supervisor %v: could not compress rotated log %v: %v\n", s.Alias, rotated, err)
		}
	}

	return os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
}

func (s *Supervisor) distinctRotatedName(logPath string) string {
	for {
		candidate := fmt.Sprintf("%s_%d_%s", logPath, time.Now().UnixNano(), s.id)
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			return candidate
		}
	}
}

func gzipAndRemove(path string) error {
	in, err := os.Open(path)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(path + ".gz")
	if err != nil {
		return err
	}

	gz := gzip.NewWriter(out)
	if _, err := io.Copy(gz, in); err != nil {
		gz.Close()
		out.Close()
		return err
	}
	if err := gz.Close(); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}

	return os.Remove(path)
}

// LogPath - The (unrotated, active) log file path for this Supervisor's alias.
func LogPath(alias string) string {
	return filepath.Join(".", alias+"_proc.log")
}
