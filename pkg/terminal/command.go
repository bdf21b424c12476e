// Package terminal implements functions for responding to user
// input and dispatching to appropriate backend commands.
package terminal

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/cosiner/argv"
	"github.com/derekparker/trie"

	"github.com/tdbg-dev/tdbg/pkg/proc"
	"github.com/tdbg-dev/tdbg/service"
)

type cmdfunc func(t *Term, args []string) error

type command struct {
	aliases        []string
	builtinAliases []string
	helpMsg        string
	cmdFn          cmdfunc
}

// commandTable resolves command names. A name selects the command it is
// an alias of, or else a command with an alias it is a prefix of; when
// several commands match the one declared first wins.
type commandTable struct {
	cmds  []command
	names *trie.Trie
}

func newCommandTable(cmds []command) *commandTable {
	ct := &commandTable{cmds: cmds}
	ct.rebuild()
	return ct
}

func (ct *commandTable) rebuild() {
	ct.names = trie.New()
	for i := range ct.cmds {
		for _, alias := range ct.cmds[i].aliases {
			if _, ok := ct.names.Find(alias); ok {
				// keep the command declared first
				continue
			}
			ct.names.Add(alias, i)
		}
	}
}

func (ct *commandTable) lookup(cmdstr string) (*command, bool) {
	if cmdstr == "" {
		return nil, false
	}
	if node, ok := ct.names.Find(cmdstr); ok {
		return &ct.cmds[node.Meta().(int)], true
	}
	best := -1
	for _, name := range ct.names.PrefixSearch(cmdstr) {
		node, ok := ct.names.Find(name)
		if !ok {
			continue
		}
		if i := node.Meta().(int); best < 0 || i < best {
			best = i
		}
	}
	if best < 0 {
		return nil, false
	}
	return &ct.cmds[best], true
}

// Commands represents the commands for the tdbg terminal process.
type Commands struct {
	*commandTable
	client service.Client

	registerCmds *commandTable
	memoryCmds   *commandTable
}

var (
	errNotImplemented    = errors.New("not implemented")
	errMalformedArgument = errors.New("malformed argument")
)

// ExitRequestError is returned when the user
// exits tdbg.
type ExitRequestError struct{}

func (ere ExitRequestError) Error() string {
	return ""
}

// DebugCommands returns a Commands struct with default commands defined.
func DebugCommands(client service.Client) *Commands {
	c := &Commands{client: client}

	c.commandTable = newCommandTable([]command{
		{aliases: []string{"help", "h"}, cmdFn: c.help, helpMsg: `Prints the help message.

	help [command]

Type "help" followed by the name of a command for more information about it.`},
		{aliases: []string{"break", "b"}, cmdFn: breakpoint, helpMsg: `Sets a breakpoint.

	break 0x<address>

The address is a hexadecimal instruction address, the 0x prefix is required.`},
		{aliases: []string{"breakpoints", "bp"}, cmdFn: breakpoints, helpMsg: "Print out info for active breakpoints."},
		{aliases: []string{"continue", "c"}, cmdFn: cont, helpMsg: `Run until breakpoint or program termination.

If the target stopped on a breakpoint the instruction under it is executed
before resuming, so the same breakpoint is not hit again right away.`},
		{aliases: []string{"stepi", "si"}, cmdFn: stepInstruction, helpMsg: "Single step a single cpu instruction."},
		{aliases: []string{"register"}, cmdFn: c.register, helpMsg: `Inspect and modify registers.

	register dump
	register read <name>
	register write <name> 0x<value>

Register names are lower case: rax, rip, eflags, fs_base, ...`},
		{aliases: []string{"memory"}, cmdFn: c.memory, helpMsg: `Inspect and modify memory.

	memory read 0x<address>
	memory write 0x<address> 0x<value>

Memory is accessed one 8 byte little endian word at a time.`},
		{aliases: []string{"exit", "quit", "q"}, cmdFn: exitCommand, helpMsg: `Exit the debugger.

The target process is killed.`},
	})

	c.registerCmds = newCommandTable([]command{
		{aliases: []string{"dump"}, cmdFn: registerDump},
		{aliases: []string{"read"}, cmdFn: registerRead},
		{aliases: []string{"write"}, cmdFn: registerWrite},
	})
	c.memoryCmds = newCommandTable([]command{
		{aliases: []string{"read"}, cmdFn: memoryRead},
		{aliases: []string{"write"}, cmdFn: memoryWrite},
	})

	return c
}

// Find will look up the command function for the given command input.
// If it cannot find the command it will default to noCmdAvailable().
// If the command is an empty string it will do nothing.
func (c *Commands) Find(cmdstr string) cmdfunc {
	if cmdstr == "" {
		return nullCommand
	}
	if cmd, ok := c.lookup(cmdstr); ok {
		return cmd.cmdFn
	}
	return noCmdAvailable
}

// Call takes a command to execute.
func (c *Commands) Call(cmdstr string, t *Term) error {
	args, err := splitCommandLine(cmdstr)
	if err != nil {
		return err
	}
	if len(args) == 0 {
		return nil
	}
	return c.Find(args[0])(t, args[1:])
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
	c.rebuild()
}

// complete returns the command names starting with line.
func (c *Commands) complete(line string) []string {
	var r []string
	for _, cmd := range c.cmds {
		for _, alias := range cmd.aliases {
			if strings.HasPrefix(alias, line) {
				r = append(r, alias)
			}
		}
	}
	return r
}

// splitCommandLine splits a line into words. Quotes group words together,
// backticks and pipes are rejected.
func splitCommandLine(line string) ([]string, error) {
	if strings.TrimSpace(line) == "" {
		return nil, nil
	}
	v, err := argv.Argv(line, func(s string) (string, error) {
		return "", fmt.Errorf("backtick not supported in '%s'", s)
	}, nil)
	if err != nil {
		return nil, err
	}
	if len(v) > 1 {
		return nil, errors.New("pipes are not supported")
	}
	if len(v) == 0 {
		return nil, nil
	}
	return v[0], nil
}

func noCmdAvailable(t *Term, args []string) error {
	return errNotImplemented
}

func nullCommand(t *Term, args []string) error {
	return nil
}

func (c *Commands) help(t *Term, args []string) error {
	if len(args) > 0 {
		cmd, ok := c.lookup(args[0])
		if !ok {
			return errNotImplemented
		}
		fmt.Fprintln(t.stdout, cmd.helpMsg)
		return nil
	}

	fmt.Fprintln(t.stdout, "The following commands are available:")
	w := new(tabwriter.Writer)
	w.Init(t.stdout, 0, 8, 0, '-', 0)
	for _, cmd := range c.cmds {
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
	fmt.Fprintln(t.stdout)
	fmt.Fprintln(t.stdout, "Type help followed by a command for full documentation.")
	return nil
}

// subcommand dispatches the first word of args through table.
func subcommand(table *commandTable, t *Term, args []string) error {
	if len(args) == 0 {
		return errNotImplemented
	}
	cmd, ok := table.lookup(args[0])
	if !ok {
		return errNotImplemented
	}
	return cmd.cmdFn(t, args[1:])
}

func (c *Commands) register(t *Term, args []string) error {
	return subcommand(c.registerCmds, t, args)
}

func (c *Commands) memory(t *Term, args []string) error {
	return subcommand(c.memoryCmds, t, args)
}

func exitCommand(t *Term, args []string) error {
	return ExitRequestError{}
}

// parseHex parses a 0x prefixed hexadecimal number.
func parseHex(s string) (uint64, error) {
	digits := strings.TrimPrefix(s, "0x")
	if digits == s || digits == "" {
		return 0, fmt.Errorf("%w %q: expected 0x followed by hexadecimal digits", errMalformedArgument, s)
	}
	v, err := strconv.ParseUint(digits, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("%w %q: %v", errMalformedArgument, s, err)
	}
	return v, nil
}

func checkArgs(args []string, usage string, n int) error {
	if len(args) != n {
		return fmt.Errorf("%w: usage: %s", errMalformedArgument, usage)
	}
	return nil
}

func breakpoint(t *Term, args []string) error {
	if err := checkArgs(args, "break 0x<address>", 1); err != nil {
		return err
	}
	addr, err := parseHex(args[0])
	if err != nil {
		return err
	}
	bp, err := t.client.CreateBreakpoint(addr)
	if err != nil {
		return err
	}
	fmt.Fprintf(t.stdout, "Breakpoint %d set at %#x\n", bp.ID, bp.Addr)
	return nil
}

func breakpoints(t *Term, args []string) error {
	bps := t.client.Breakpoints()
	if len(bps) == 0 {
		fmt.Fprintln(t.stdout, "No breakpoints set")
		return nil
	}
	for _, bp := range bps {
		fmt.Fprintln(t.stdout, bp.String())
	}
	return nil
}

func cont(t *Term, args []string) error {
	state, err := t.client.Continue()
	if err != nil {
		return err
	}
	printStop(t, state)
	return nil
}

func stepInstruction(t *Term, args []string) error {
	state, err := t.client.StepInstruction()
	if err != nil {
		return err
	}
	printStop(t, state)
	return nil
}

// printStop reports why the target stopped and, if configured, the
// instruction it stopped at.
func printStop(t *Term, state proc.StopState) {
	addr := state.Addr()
	switch state.Reason {
	case proc.StopBreakpoint:
		t.printColored(ansiGreen, "> ", fmt.Sprintf("Breakpoint %d hit at %#x", state.Breakpoint.ID, addr))
	case proc.StopSignal:
		t.printColored(ansiYellow, "> ", fmt.Sprintf("Received signal %v at %#x", state.Signal, addr))
	case proc.StopSingleStep:
		t.printColored(ansiGreen, "> ", fmt.Sprintf("Stopped at %#x", addr))
	default:
		t.printColored(ansiRed, "> ", fmt.Sprintf("Stopped by unknown trap at %#x", addr))
	}

	if !t.conf.GetShowStopInstruction() {
		return
	}
	asm, err := t.client.CurrentInstruction(addr)
	if err != nil {
		t.log.Debugf("could not disassemble %#x: %v", addr, err)
		return
	}
	t.Println("=> ", fmt.Sprintf("%#x:\t% x\t%s", asm.Loc, asm.Bytes, asm.Text))
}

func registerDump(t *Term, args []string) error {
	if err := checkArgs(args, "register dump", 0); err != nil {
		return err
	}
	regs, err := t.client.Registers()
	if err != nil {
		return err
	}
	w := new(tabwriter.Writer)
	w.Init(t.stdout, 0, 8, 1, ' ', 0)
	for _, rv := range regs.Slice() {
		fmt.Fprintf(w, "%s\t0x%016x\n", rv.Reg, rv.Value)
	}
	return w.Flush()
}

func registerRead(t *Term, args []string) error {
	if err := checkArgs(args, "register read <name>", 1); err != nil {
		return err
	}
	v, err := t.client.ReadRegister(args[0])
	if err != nil {
		return err
	}
	fmt.Fprintf(t.stdout, "0x%016x\n", v)
	return nil
}

func registerWrite(t *Term, args []string) error {
	if err := checkArgs(args, "register write <name> 0x<value>", 2); err != nil {
		return err
	}
	v, err := parseHex(args[1])
	if err != nil {
		return err
	}
	return t.client.WriteRegister(args[0], v)
}

func memoryRead(t *Term, args []string) error {
	if err := checkArgs(args, "memory read 0x<address>", 1); err != nil {
		return err
	}
	addr, err := parseHex(args[0])
	if err != nil {
		return err
	}
	v, err := t.client.ReadMemory(addr)
	if err != nil {
		return err
	}
	fmt.Fprintf(t.stdout, "0x%016x\n", v)
	return nil
}

func memoryWrite(t *Term, args []string) error {
	if err := checkArgs(args, "memory write 0x<address> 0x<value>", 2); err != nil {
		return err
	}
	addr, err := parseHex(args[0])
	if err != nil {
		return err
	}
	v, err := parseHex(args[1])
	if err != nil {
		return err
	}
	return t.client.WriteMemory(addr, v)
}
