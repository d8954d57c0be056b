/* Package protocol implements the line-oriented wire grammar between the
Console and a Process Manager.

Commands are modeled as a small tagged-variant type (RunCommand, StopCommand,
ShutdownCommand behind a single Command interface) instead of matching on
raw strings at every call site: one parser and one encoder own the wire
grammar, and callers get a typed switch instead of re-deriving it.
*/
package protocol

import (
	"fmt"
	"strings"

	"github.com/mattn/go-shellwords"
)

// Command - A command sent from the Console to a Process Manager.
type Command interface {
	// Encode - Render this command as the line that would be sent on the wire
	// (without a trailing newline; comms.Connection.Send adds one).
	Encode() string
	isCommand()
}

// RunCommand - "run [-as <alias>] [-w] <argv…>".
type RunCommand struct {
	Alias            string
	Argv             []string
	ShellCommandLine string // the raw text after flags, as received/sent on the wire
	Wait             bool
}

func (RunCommand) isCommand() {}

func (c RunCommand) Encode() string {
	parts := make([]string, 0, 5)
	parts = append(parts, "run")
	if c.Alias != "" {
		parts = append(parts, "-as", c.Alias)
	}
	if c.Wait {
		parts = append(parts, "-w")
	}
	parts = append(parts, c.ShellCommandLine)
	return strings.Join(parts, " ")
}

// StopCommand - "stop [<alias>]". All is true when the alias was omitted
// (stop every supervised process).
type StopCommand struct {
	Alias string
	All   bool
}

func (StopCommand) isCommand() {}

func (c StopCommand) Encode() string {
	if c.All {
		return "stop"
	}
	return "stop " + c.Alias
}

// ShutdownCommand - "shutdown".
type ShutdownCommand struct{}

func (ShutdownCommand) isCommand() {}

func (ShutdownCommand) Encode() string {
	return "shutdown"
}

// ParseCommand accepts exactly the grammar described above: "run" may be followed
// by optional "-as <token>" then optional "-w", then the remainder of the
// line as the shell-style command; or "stop [<alias>]"; or "shutdown".
func ParseCommand(line string) (Command, error) {
	line = strings.TrimRight(line, "\n")

	switch {
	case line == "shutdown":
		return ShutdownCommand{}, nil

	case line == "stop":
		return StopCommand{All: true}, nil

	case strings.HasPrefix(line, "stop "):
		alias := strings.TrimSpace(strings.TrimPrefix(line, "stop "))
		if alias == "" {
			return StopCommand{All: true}, nil
		}
		return StopCommand{Alias: alias}, nil

	case line == "run" || strings.HasPrefix(line, "run "):
		return parseRun(line)

	default:
		return nil, fmt.Errorf("malformed command: %q", line)
	}
}

func parseRun(line string) (Command, error) {
	rest := strings.TrimSpace(strings.TrimPrefix(line, "run"))
	if rest == "" {
		return nil, fmt.Errorf("run command missing arguments: %q", line)
	}

	var alias string
	var wait bool

	if rest == "-as" || strings.HasPrefix(rest, "-as ") {
		rest = strings.TrimSpace(strings.TrimPrefix(rest, "-as"))
		idx := strings.IndexAny(rest, " \t")
		if idx < 0 {
			return nil, fmt.Errorf("run -as missing alias and command: %q", line)
		}
		alias = rest[:idx]
		rest = strings.TrimSpace(rest[idx:])
	}

	if rest == "-w" || strings.HasPrefix(rest, "-w ") {
		wait = true
		rest = strings.TrimSpace(strings.TrimPrefix(rest, "-w"))
	}

	if rest == "" {
		return nil, fmt.Errorf("run command missing shell command line: %q", line)
	}

	argv, err := shellwords.Parse(rest)
	if err != nil {
		return nil, fmt.Errorf("bad shell quoting in run command %q: %w", line, err)
	}
	if len(argv) == 0 {
		return nil, fmt.Errorf("run command has empty argv: %q", line)
	}

	if alias == "" {
		alias = argv[0]
	}

	return RunCommand{Alias: alias, Argv: argv, ShellCommandLine: rest, Wait: wait}, nil
}

// EncodeRun builds the wire line for a run command without parsing it back,
// for callers (the Console's proxies) that already know alias/wait/argv and
// never need the Command variant.
func EncodeRun(alias string, wait bool, shellCommandLine string) string {
	return RunCommand{Alias: alias, ShellCommandLine: shellCommandLine, Wait: wait}.Encode()
}

// AckKind - The kind of acknowledgement a Process Manager sends back.
type AckKind int

const (
	AckOK AckKind = iota
	AckDuplicatedAlias
)

// Ack - "<alias> ok" or "<alias> duplicated alias".
type Ack struct {
	Alias string
	Kind  AckKind
}

func (a Ack) Encode() string {
	switch a.Kind {
	case AckDuplicatedAlias:
		return a.Alias + " duplicated alias"
	default:
		return a.Alias + " ok"
	}
}

// ParseAck parses a single acknowledgement line.
func ParseAck(line string) (Ack, error) {
	line = strings.TrimRight(line, "\n")

	idx := strings.IndexByte(line, ' ')
	if idx < 0 {
		return Ack{}, fmt.Errorf("malformed acknowledgement: %q", line)
	}

	alias := line[:idx]
	rest := line[idx+1:]

	switch rest {
	case "ok":
		return Ack{Alias: alias, Kind: AckOK}, nil
	case "duplicated alias":
		return Ack{Alias: alias, Kind: AckDuplicatedAlias}, nil
	default:
		return Ack{}, fmt.Errorf("unknown acknowledgement kind in %q", line)
	}
}
