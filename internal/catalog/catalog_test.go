// SPDX-FileCopyrightText: 2022 SoftIron Limited <info@softiron.com>
// SPDX-License-Identifier: GNU General Public License v2.0 only WITH Classpath exception 2.0

package catalog

import "testing"

const sampleYAML = `
commands:
  - alias: store0
    shell_command_line: "mongod --dbpath /var/lib/mongodb/"
    host: 10.0.0.1
    port: 2900
    phase: 0
  - alias: store1
    shell_command_line: "mongod --dbpath /var/lib/mongodb/"
    host: 10.0.0.2
    port: 2900
    phase: 0
  - alias: router0
    shell_command_line: "mongos --configdb cfg/10.0.0.1:27019"
    host: 10.0.0.3
    port: 2900
    phase: 1
    wait_for_finish: false
`

func TestParseValidCatalog(t *testing.T) {
	c, err := Parse([]byte(sampleYAML))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if len(c.Commands) != 3 {
		t.Fatalf("got %d commands, want 3", len(c.Commands))
	}

	targets := c.Targets()
	if len(targets) != 3 {
		t.Fatalf("got %d targets, want 3", len(targets))
	}

	store0 := c.ForTarget(Target{Host: "10.0.0.1", Port: 2900})
	if len(store0) != 1 || store0[0].Alias != "store0" {
		t.Fatalf("ForTarget(10.0.0.1:2900) = %+v", store0)
	}

	for _, cmd := range c.Commands {
		if cmd.State != Ready {
			t.Errorf("command %v starts in state %v, want READY", cmd.Alias, cmd.State)
		}
	}
}

func TestParseRejectsDuplicateAliasOnSameTarget(t *testing.T) {
	doc := `
commands:
  - alias: x
    shell_command_line: "/bin/true"
    host: 10.0.0.1
    port: 2900
    phase: 0
  - alias: x
    shell_command_line: "/bin/false"
    host: 10.0.0.1
    port: 2900
    phase: 1
`
	if _, err := Parse([]byte(doc)); err == nil {
		t.Fatalf("expected duplicate alias error")
	}
}

func TestParseAllowsSameAliasOnDifferentTargets(t *testing.T) {
	doc := `
commands:
  - alias: x
    shell_command_line: "/bin/true"
    host: 10.0.0.1
    port: 2900
    phase: 0
  - alias: x
    shell_command_line: "/bin/true"
    host: 10.0.0.2
    port: 2900
    phase: 0
`
	if _, err := Parse([]byte(doc)); err != nil {
		t.Fatalf("Parse: %v", err)
	}
}

func TestParseRejectsMissingFields(t *testing.T) {
	cases := []string{
		"commands:\n  - shell_command_line: \"/bin/true\"\n    host: h\n    port: 1\n",
		"commands:\n  - alias: x\n    host: h\n    port: 1\n",
		"commands:\n  - alias: x\n    shell_command_line: \"/bin/true\"\n    host: h\n    port: 1\n    phase: -1\n",
	}
	for _, doc := range cases {
		if _, err := Parse([]byte(doc)); err == nil {
			t.Errorf("Parse(%q) expected error, got nil", doc)
		}
	}
}
