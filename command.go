// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2025 Daniel Schmidt

package ine

import (
	"fmt"
	"strconv"
	"strings"
)

// Command builds one appliance command line
//
// Command is a value type: every method returns a new Command and leaves
// the receiver untouched, so a common prefix can be shared. The first
// invalid argument is recorded and all later calls become no-ops; String
// and Err report it. Values are never escaped, only rejected: the protocol
// has no escape syntax for quotes or line breaks.
//
// Example:
//
//	cmd := ine.NewCommand().
//	    Scope("--emulationId", 5).
//	    Quoted("--addVi", "Internet")
//	line, err := cmd.String()
//	// line == `--emulationId 5 --addVi "Internet"`
type Command struct {
	args []string
	err  error
}

// NewCommand creates an empty command
func NewCommand() Command {
	return Command{}
}

// with returns a copy of the command with extra tokens
func (c Command) with(tokens ...string) Command {
	args := make([]string, len(c.args), len(c.args)+len(tokens))
	copy(args, c.args)
	return Command{args: append(args, tokens...)}
}

func (c Command) fail(err error) Command {
	return Command{args: c.args, err: err}
}

// Flag appends a bare flag such as "--getAllPorts"
func (c Command) Flag(name string) Command {
	if c.err != nil {
		return c
	}
	if err := validateFlag(name); err != nil {
		return c.fail(err)
	}
	return c.with(name)
}

// Arg appends an unquoted value. Integers, floats and strings without
// whitespace or quotes are accepted.
func (c Command) Arg(value any) Command {
	if c.err != nil {
		return c
	}
	s := formatArg(value)
	if s == "" {
		return c.fail(fmt.Errorf("empty unquoted argument"))
	}
	if strings.ContainsAny(s, " \t\r\n\"") {
		return c.fail(fmt.Errorf("unquoted argument %q contains whitespace or quotes", s))
	}
	return c.with(s)
}

// Scope appends a flag followed by an unquoted value, e.g. `--emulationId 5`
func (c Command) Scope(flag string, value any) Command {
	return c.Flag(flag).Arg(value)
}

// Quoted appends a flag followed by a double-quoted value, e.g. `--addVi "Outer"`
func (c Command) Quoted(flag, value string) Command {
	if c.err != nil {
		return c
	}
	if err := validateFlag(flag); err != nil {
		return c.fail(err)
	}
	if strings.ContainsAny(value, "\"\r\n") {
		return c.fail(fmt.Errorf("value for %s contains a quote or line break", flag))
	}
	return c.with(flag, `"`+value+`"`)
}

// Module appends a terminated `--procModule "name;slot;k;v;"` argument
func (c Command) Module(m Module) Command {
	if c.err != nil {
		return c
	}
	if err := m.validate(); err != nil {
		return c.fail(err)
	}
	return c.Quoted("--procModule", m.String())
}

// PortModule appends an unterminated `--portModule "name;iface;k;v"` argument.
// The module slot is unused; port modules address an interface instead.
func (c Command) PortModule(m Module, iface string) Command {
	if c.err != nil {
		return c
	}
	if err := m.validate(); err != nil {
		return c.fail(err)
	}
	if iface == "" || strings.ContainsAny(iface, ";\" \t\r\n") {
		return c.fail(fmt.Errorf("invalid port module interface %q", iface))
	}
	return c.Quoted("--portModule", m.portString(iface))
}

// Err returns the first error recorded while building
func (c Command) Err() error {
	return c.err
}

// String returns the command line without session prefix or terminator
func (c Command) String() (string, error) {
	if c.err != nil {
		return "", c.err
	}
	if len(c.args) == 0 {
		return "", fmt.Errorf("empty command")
	}
	return strings.Join(c.args, " "), nil
}

func validateFlag(name string) error {
	if !strings.HasPrefix(name, "--") || len(name) < 3 {
		return fmt.Errorf("invalid flag %q", name)
	}
	if strings.ContainsAny(name, " \t\r\n\";") {
		return fmt.Errorf("invalid flag %q", name)
	}
	return nil
}

func formatArg(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		return formatNumber(v)
	case fmt.Stringer:
		return v.String()
	default:
		return fmt.Sprint(v)
	}
}

// formatNumber prints integral values without a fractional part
func formatNumber(v float64) string {
	if v == float64(int64(v)) {
		return strconv.FormatInt(int64(v), 10)
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}
