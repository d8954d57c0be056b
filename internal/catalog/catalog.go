// SPDX-FileCopyrightText: 2022 SoftIron Limited <info@softiron.com>
// SPDX-License-Identifier: GNU General Public License v2.0 only WITH Classpath exception 2.0

/* Package catalog models the explicit description of commands, phases, and
targets that the configuration layer hands to the Console Dispatcher at
construction, in place of accumulating global state through top-level calls
(command lists, phase predicates, log path) the way console.py's module-level
functions do.

The catalog itself is just data; a YAML loader is the minimal stand-in for
the configuration surface that produces it, which is out of scope here.
*/
package catalog

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"
)

// State - Where a CommandDescriptor stands within its phase.
type State int

const (
	Ready State = iota
	Done
)

func (s State) String() string {
	if s == Done {
		return "DONE"
	}
	return "READY"
}

// Target - A (host, port) pair identifying one Process Manager.
type Target struct {
	Host string
	Port int
}

func (t Target) String() string {
	return fmt.Sprintf("%s:%d", t.Host, t.Port)
}

// CommandDescriptor - One process the Dispatcher will ask some Process
// Manager to run, tagged with the phase it belongs to.
type CommandDescriptor struct {
	Alias            string `yaml:"alias"`
	ShellCommandLine string `yaml:"shell_command_line"`
	Target           Target `yaml:"-"`
	Host             string `yaml:"host"`
	Port             int    `yaml:"port"`
	Phase            int    `yaml:"phase"`
	WaitForFinish    bool   `yaml:"wait_for_finish"`
	State            State  `yaml:"-"`
}

// Catalog - The full set of commands a test run will dispatch.
type Catalog struct {
	Commands []CommandDescriptor
}

type document struct {
	Commands []CommandDescriptor `yaml:"commands"`
}

// Load reads a YAML catalog document from path and validates it: aliases
// must be unique per target machine.
func Load(path string) (*Catalog, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading catalog %v: %w", path, err)
	}
	return Parse(raw)
}

// Parse decodes a YAML catalog document from bytes.
func Parse(raw []byte) (*Catalog, error) {
	var doc document
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parsing catalog: %w", err)
	}

	c := &Catalog{Commands: doc.Commands}
	for i := range c.Commands {
		c.Commands[i].Target = Target{Host: c.Commands[i].Host, Port: c.Commands[i].Port}
		c.Commands[i].State = Ready
	}

	if err := c.validate(); err != nil {
		return nil, err
	}

	return c, nil
}

func (c *Catalog) validate() error {
	seen := make(map[Target]map[string]bool)

	for _, cmd := range c.Commands {
		if cmd.Alias == "" {
			return fmt.Errorf("catalog entry with shell command %q has no alias", cmd.ShellCommandLine)
		}
		if cmd.ShellCommandLine == "" {
			return fmt.Errorf("catalog entry %q has no shell_command_line", cmd.Alias)
		}
		if cmd.Phase < 0 {
			return fmt.Errorf("catalog entry %q has a negative phase", cmd.Alias)
		}

		byAlias, ok := seen[cmd.Target]
		if !ok {
			byAlias = make(map[string]bool)
			seen[cmd.Target] = byAlias
		}
		if byAlias[cmd.Alias] {
			return fmt.Errorf("duplicate alias %q on target %v", cmd.Alias, cmd.Target)
		}
		byAlias[cmd.Alias] = true
	}

	return nil
}

// Targets - The distinct set of Process Manager targets referenced by this catalog.
func (c *Catalog) Targets() []Target {
	seen := make(map[Target]bool)
	var targets []Target
	for _, cmd := range c.Commands {
		if !seen[cmd.Target] {
			seen[cmd.Target] = true
			targets = append(targets, cmd.Target)
		}
	}
	return targets
}

// ForTarget - The commands destined for one Process Manager, in catalog order.
func (c *Catalog) ForTarget(t Target) []*CommandDescriptor {
	var out []*CommandDescriptor
	for i := range c.Commands {
		if c.Commands[i].Target == t {
			out = append(out, &c.Commands[i])
		}
	}
	return out
}
