// Package terminal implements functions for responding to user
// input and dispatching to appropriate backend commands.
package terminal

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/cosiner/argv"
	"github.com/derekparker/trie"

	"github.com/amxdbg/amxdbg/pkg/amx"
	"github.com/amxdbg/amxdbg/pkg/transport"
	"github.com/amxdbg/amxdbg/service"
	"github.com/amxdbg/amxdbg/service/api"
)

type cmdfunc func(t *Term, ctx context.Context, args string) error

type command struct {
	aliases        []string
	builtinAliases []string
	group          commandGroup
	helpMsg        string
	cmdFn          cmdfunc
}

// Returns true if the command string matches one of the aliases for this command
func (c command) match(cmdstr string) bool {
	for _, v := range c.aliases {
		if v == cmdstr {
			return true
		}
	}
	return false
}

// Commands represents the commands for the amxdbg terminal.
type Commands struct {
	cmds   []command
	client service.Client
	// index maps every alias to the position of its command in cmds.
	index *trie.Trie
}

// DebugCommands returns a Commands struct with default commands defined.
func DebugCommands(client service.Client) *Commands {
	c := &Commands{client: client}

	c.cmds = []command{
		{aliases: []string{"help", "h"}, cmdFn: c.help, helpMsg: `Prints the help message.

	help [command]

Type "help" followed by the name of a command for more information about it.`},
		{aliases: []string{"run", "r", "continue", "c"}, group: runCmds, cmdFn: run, helpMsg: `Resumes the virtual machine.

	run

Execution continues until a breakpoint is hit or the target is halted. Breakpoint hits are reported as they happen.`},
		{aliases: []string{"halt", "stop", "break"}, group: runCmds, cmdFn: halt, helpMsg: `Suspends the virtual machine.

	halt

The target is stopped by single stepping it. Does nothing if it is already stopped.`},
		{aliases: []string{"step", "s", "si"}, group: runCmds, cmdFn: stepSingle, helpMsg: `Executes a single instruction.

	step

A running target is stopped first.`},
		{aliases: []string{"line", "l", "next", "n"}, group: runCmds, cmdFn: stepLine, helpMsg: `Executes up to the next source line.

	line

A running target is stopped first.`},
		{aliases: []string{"breakpoint", "bp", "b"}, group: breakCmds, cmdFn: breakpoint, helpMsg: `Manages breakpoints.

	breakpoint add <address>
	breakpoint remove <address>
	breakpoint list

"a" and "r" are accepted in place of "add" and "remove". Addresses are values of CIP, decimal or prefixed with 0x. Without arguments the armed breakpoints are listed.`},
		{aliases: []string{"memory", "m", "x"}, group: dataCmds, cmdFn: c.memory, helpMsg: `Reads memory of the virtual machine.

	memory [-fmt <format>] <offset> [length]

Reads length cells (by default 10, see memory-length in the configuration file) starting at offset and prints them as a table.
Format can be hex (default), dec, oct or bin.

For example:

    memory -fmt bin 0x20 4`},
		{aliases: []string{"registers", "regs"}, group: dataCmds, cmdFn: registers, helpMsg: `Prints all registers.

	registers [force]

Without "force" the last known values are printed. With "force" the registers are queried first, even if the target is running.`},
		{aliases: []string{"register", "reg"}, group: dataCmds, cmdFn: register, helpMsg: `Prints a single register.

	register <name> [force]

Name is one of PRI, ALT, COD, DAT, HLW, HEA, STP, STK, FRM and CIP. With "force" the registers are queried first.`},
		{aliases: []string{"status", "st"}, cmdFn: status, helpMsg: `Prints the state of the session.

	status`},
		{aliases: []string{"exit", "quit", "q", "bye"}, cmdFn: exitCommand, helpMsg: `Exit the debugger.

	exit`},
	}

	c.buildIndex()
	return c
}

func (c *Commands) buildIndex() {
	c.index = trie.New()
	for i := range c.cmds {
		for _, alias := range c.cmds[i].aliases {
			c.index.Add(alias, i)
		}
	}
}

// Find will look up the command function for the given command input.
// An alias matches exactly, any other input is resolved as an
// unambiguous prefix of an alias.
func (c *Commands) Find(cmdstr string) cmdfunc {
	if cmdstr == "" {
		return nullCommand
	}

	for _, v := range c.cmds {
		if v.match(cmdstr) {
			return v.cmdFn
		}
	}

	found := map[int]bool{}
	for _, key := range c.index.PrefixSearch(cmdstr) {
		if node, ok := c.index.Find(key); ok {
			found[node.Meta().(int)] = true
		}
	}
	switch len(found) {
	case 0:
		return noCmdAvailable
	case 1:
		for i := range found {
			return c.cmds[i].cmdFn
		}
	}
	names := make([]string, 0, len(found))
	for i := range found {
		names = append(names, c.cmds[i].aliases[0])
	}
	sort.Strings(names)
	return func(t *Term, ctx context.Context, args string) error {
		return fmt.Errorf("ambiguous command %q, could be: %s", cmdstr, strings.Join(names, ", "))
	}
}

// Complete returns the aliases starting with prefix.
func (c *Commands) Complete(prefix string) []string {
	r := c.index.PrefixSearch(strings.ToLower(prefix))
	sort.Strings(r)
	return r
}

// Call takes a command to execute.
func (c *Commands) Call(ctx context.Context, cmdstr string, t *Term) error {
	vals := strings.SplitN(strings.ToLower(strings.TrimSpace(cmdstr)), " ", 2)
	cmdname := vals[0]
	var args string
	if len(vals) > 1 {
		args = strings.TrimSpace(vals[1])
	}
	return c.Find(cmdname)(t, ctx, args)
}

// Merge takes aliases defined in the config struct and merges them with the default aliases.
func (c *Commands) Merge(allAliases map[string][]string) {
	for i := range c.cmds {
		if c.cmds[i].builtinAliases != nil {
			c.cmds[i].aliases = append(c.cmds[i].aliases[:0], c.cmds[i].builtinAliases...)
		}
	}
	for i := range c.cmds {
		if aliases, ok := allAliases[c.cmds[i].aliases[0]]; ok {
			if c.cmds[i].builtinAliases == nil {
				c.cmds[i].builtinAliases = make([]string, len(c.cmds[i].aliases))
				copy(c.cmds[i].builtinAliases, c.cmds[i].aliases)
			}
			c.cmds[i].aliases = append(c.cmds[i].aliases, aliases...)
		}
	}
	c.buildIndex()
}

var noCmdError = errors.New("command not available")

func noCmdAvailable(t *Term, ctx context.Context, args string) error {
	return noCmdError
}

func nullCommand(t *Term, ctx context.Context, args string) error {
	return nil
}

func (c *Commands) help(t *Term, ctx context.Context, args string) error {
	if args != "" {
		for _, cmd := range c.cmds {
			for _, alias := range cmd.aliases {
				if alias == args {
					fmt.Fprintln(t.stdout, cmd.helpMsg)
					return nil
				}
			}
		}
		return noCmdError
	}

	fmt.Fprintln(t.stdout, "The following commands are available:")

	for _, cgd := range commandGroupDescriptions {
		fmt.Fprintf(t.stdout, "\n%s:\n", cgd.description)
		w := new(tabwriter.Writer)
		w.Init(t.stdout, 0, 8, 0, '-', 0)
		for _, cmd := range c.cmds {
			if cmd.group != cgd.group {
				continue
			}
			h := cmd.helpMsg
			if idx := strings.Index(h, "\n"); idx >= 0 {
				h = h[:idx]
			}
			if len(cmd.aliases) > 1 {
				fmt.Fprintf(w, "    %s (alias: %s) \t %s\n", cmd.aliases[0], strings.Join(cmd.aliases[1:], " | "), h)
			} else {
				fmt.Fprintf(w, "    %s \t %s\n", cmd.aliases[0], h)
			}
		}
		if err := w.Flush(); err != nil {
			return err
		}
	}

	fmt.Fprintln(t.stdout)
	fmt.Fprintln(t.stdout, "Type help followed by a command for full documentation.")
	return nil
}

// OfflineCommandError is returned by commands that could not reach the
// remote debugger.
type OfflineCommandError struct {
	Action string
	Err    error
}

func (e *OfflineCommandError) Error() string {
	return fmt.Sprintf("Debugger is offline, could not %s: %v", e.Action, e.Err)
}

func (e *OfflineCommandError) Unwrap() error {
	return e.Err
}

func offline(action string, err error) error {
	if transport.IsOffline(err) {
		return &OfflineCommandError{Action: action, Err: err}
	}
	return err
}

func splitArgs(args string) ([]string, error) {
	if args == "" {
		return nil, nil
	}
	v, err := argv.Argv(args,
		func(s string) (string, error) {
			return "", fmt.Errorf("backtick not supported in '%s'", s)
		},
		nil)
	if err != nil {
		return nil, err
	}
	if len(v) != 1 {
		return nil, fmt.Errorf("illegal arguments '%s'", args)
	}
	return v[0], nil
}

func parseUint32(what, s string) (uint32, error) {
	n, err := strconv.ParseUint(s, 0, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q", what, s)
	}
	return uint32(n), nil
}

func run(t *Term, ctx context.Context, args string) error {
	ok, err := t.client.Run(ctx)
	if err != nil {
		return offline("run", err)
	}
	if ok {
		fmt.Fprintln(t.stdout, "Target is running")
	} else {
		fmt.Fprintln(t.stdout, "Target was already running or refused to start")
	}
	return nil
}

func halt(t *Term, ctx context.Context, args string) error {
	ok, err := t.client.Stop(ctx)
	if err != nil {
		return offline("stop", err)
	}
	if !ok {
		fmt.Fprintln(t.stdout, "Target is already stopped")
		return nil
	}
	t.printCurrentInstruction()
	return nil
}

func stepSingle(t *Term, ctx context.Context, args string) error {
	if err := t.client.StepSingle(ctx); err != nil {
		return offline("step", err)
	}
	t.printCurrentInstruction()
	return nil
}

func stepLine(t *Term, ctx context.Context, args string) error {
	if err := t.client.StepLine(ctx); err != nil {
		return offline("step", err)
	}
	t.printCurrentInstruction()
	return nil
}

func breakpoint(t *Term, ctx context.Context, args string) error {
	v, err := splitArgs(args)
	if err != nil {
		return err
	}
	if len(v) == 0 || v[0] == "list" || v[0] == "l" {
		fmt.Fprintf(t.stdout, "Breakpoints: %s\n", api.FormatBreakpoints(t.client.Breakpoints()))
		return nil
	}
	if len(v) != 2 {
		return errors.New("wrong number of arguments: breakpoint add|remove <address>")
	}
	cip, err := parseUint32("address", v[1])
	if err != nil {
		return err
	}

	switch v[0] {
	case "add", "a":
		ok, err := t.client.BreakpointAdd(ctx, cip)
		if err != nil {
			return offline("add breakpoint", err)
		}
		if ok {
			fmt.Fprintf(t.stdout, "Breakpoint set at 0x%X\n", cip)
		} else {
			fmt.Fprintf(t.stdout, "Remote debugger refused breakpoint at 0x%X\n", cip)
		}
	case "remove", "r":
		ok, err := t.client.BreakpointRemove(ctx, cip)
		if err != nil {
			return offline("remove breakpoint", err)
		}
		if ok {
			fmt.Fprintf(t.stdout, "Breakpoint at 0x%X cleared\n", cip)
		} else {
			fmt.Fprintf(t.stdout, "Remote debugger has no breakpoint at 0x%X\n", cip)
		}
	default:
		return fmt.Errorf("unknown breakpoint action %q", v[0])
	}
	return nil
}

func (c *Commands) memory(t *Term, ctx context.Context, args string) error {
	v, err := splitArgs(args)
	if err != nil {
		return err
	}
	priFmt := byte('x')
	if len(v) > 0 && v[0] == "-fmt" {
		if len(v) < 2 {
			return errors.New("expected argument after -fmt")
		}
		var ok bool
		priFmt, ok = memoryFormats[v[1]]
		if !ok {
			return fmt.Errorf("%q is not a valid format", v[1])
		}
		v = v[2:]
	}
	if len(v) == 0 {
		return errors.New("offset is required")
	}
	if len(v) > 2 {
		return errors.New("too many arguments: memory [-fmt <format>] <offset> [length]")
	}
	offset, err := parseUint32("offset", v[0])
	if err != nil {
		return err
	}
	length := uint32(t.conf.GetMemoryLength())
	if len(v) == 2 {
		if length, err = parseUint32("length", v[1]); err != nil {
			return err
		}
	}

	region, err := c.client.QueryMemory(ctx, offset, length)
	if err != nil {
		return offline("read memory", err)
	}
	if region.Volatile {
		fmt.Fprintln(t.stdout, api.VolatileRegistersNote)
	}
	fmt.Fprint(t.stdout, api.PrettyExamineMemory(region.Offset, region.Cells, priFmt))
	return nil
}

var memoryFormats = map[string]byte{
	"oct":         'o',
	"octal":       'o',
	"hex":         'x',
	"hexadecimal": 'x',
	"dec":         'd',
	"decimal":     'd',
	"bin":         'b',
	"binary":      'b',
}

func parseForce(args []string) (bool, error) {
	switch {
	case len(args) == 0:
		return false, nil
	case len(args) == 1 && args[0] == "force":
		return true, nil
	}
	return false, fmt.Errorf("unexpected argument %q", strings.Join(args, " "))
}

func refreshRegisters(t *Term, ctx context.Context, force bool) error {
	if !force {
		if t.client.Status() == api.Running {
			fmt.Fprintln(t.stdout, api.StaleRegistersNote)
		}
		return nil
	}
	if t.client.Status() == api.Stopped {
		fmt.Fprintln(t.stdout, "Target is stopped, the registers cannot have changed")
	}
	if _, err := t.client.QueryRegisters(ctx); err != nil {
		return offline("update registers", err)
	}
	fmt.Fprintln(t.stdout, api.VolatileRegistersNote)
	return nil
}

func registers(t *Term, ctx context.Context, args string) error {
	v, err := splitArgs(args)
	if err != nil {
		return err
	}
	force, err := parseForce(v)
	if err != nil {
		return err
	}
	if err := refreshRegisters(t, ctx, force); err != nil {
		return err
	}
	api.PrettyRegisters(t.stdout, t.client.Registers(), t.colorize)
	return nil
}

func register(t *Term, ctx context.Context, args string) error {
	v, err := splitArgs(args)
	if err != nil {
		return err
	}
	if len(v) == 0 {
		return errors.New("register name is required")
	}
	reg, err := amx.ParseRegister(v[0])
	if err != nil {
		return err
	}
	force, err := parseForce(v[1:])
	if err != nil {
		return err
	}
	if force {
		if _, err := t.client.QueryRegisters(ctx); err != nil {
			return offline("update registers", err)
		}
		fmt.Fprintln(t.stdout, api.VolatileRegistersNote)
	}
	regs := t.client.Registers()
	api.PrettyRegister(t.stdout, reg, regs.Get(reg), t.colorize)
	return nil
}

func status(t *Term, ctx context.Context, args string) error {
	s := t.client.State()
	connected := "no"
	if s.Connected {
		connected = "yes"
	}
	fmt.Fprintf(t.stdout, "Status: %s\n", s.Status)
	fmt.Fprintf(t.stdout, "Connected: %s (%s)\n", connected, s.Addr)
	fmt.Fprintf(t.stdout, "Breakpoints: %s\n", api.FormatBreakpoints(s.Breakpoints))
	fmt.Fprintf(t.stdout, "Breakpoint hits: %d\n", s.Hits)
	return nil
}

// ExitRequestError is returned when the user
// exits amxdbg.
type ExitRequestError struct{}

func (ere ExitRequestError) Error() string {
	return ""
}

func exitCommand(t *Term, ctx context.Context, args string) error {
	return ExitRequestError{}
}
