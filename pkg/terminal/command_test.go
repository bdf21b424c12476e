package terminal

import (
	"bufio"
	"bytes"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/ioutil"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/go-delve/liner"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tdbg-dev/tdbg/pkg/config"
	"github.com/tdbg-dev/tdbg/pkg/logflags"
	"github.com/tdbg-dev/tdbg/pkg/proc"
	protest "github.com/tdbg-dev/tdbg/pkg/proc/test"
)

func TestMain(m *testing.M) {
	var logConf string
	flag.StringVar(&logConf, "log", "", "configures logging")
	flag.Parse()
	logflags.Setup(logConf != "", logConf, "")
	os.Exit(m.Run())
}

// fakeClient serves a proc.Target running on a FakeProcess.
type fakeClient struct {
	tgt *proc.Target
}

func (c *fakeClient) ProcessPid() int {
	return c.tgt.Pid()
}

func (c *fakeClient) Exited() bool {
	return c.tgt.Exited()
}

func (c *fakeClient) Detach(kill bool) error {
	return c.tgt.Detach(kill)
}

func (c *fakeClient) Continue() (proc.StopState, error) {
	return c.tgt.Continue()
}

func (c *fakeClient) StepInstruction() (proc.StopState, error) {
	return c.tgt.StepInstruction()
}

func (c *fakeClient) CreateBreakpoint(addr uint64) (*proc.Breakpoint, error) {
	return c.tgt.SetBreakpoint(addr)
}

func (c *fakeClient) Breakpoints() []*proc.Breakpoint {
	return c.tgt.Breakpoints.Sorted()
}

func (c *fakeClient) Registers() (*proc.AMD64PtraceRegs, error) {
	return c.tgt.Registers()
}

func (c *fakeClient) ReadRegister(name string) (uint64, error) {
	reg, err := proc.ParseRegister(name)
	if err != nil {
		return 0, err
	}
	return c.tgt.ReadRegister(reg)
}

func (c *fakeClient) WriteRegister(name string, value uint64) error {
	reg, err := proc.ParseRegister(name)
	if err != nil {
		return err
	}
	return c.tgt.WriteRegister(reg, value)
}

func (c *fakeClient) ReadMemory(addr uint64) (uint64, error) {
	return c.tgt.ReadMemory(addr)
}

func (c *fakeClient) WriteMemory(addr, value uint64) error {
	return c.tgt.WriteMemory(addr, value)
}

func (c *fakeClient) CurrentInstruction(addr uint64) (*proc.AsmInstruction, error) {
	return c.tgt.Disassemble(addr, proc.IntelFlavour)
}

// fakeLineReader returns lines in order, then io.EOF.
type fakeLineReader struct {
	lines     []string
	history   []string
	completer liner.Completer
	closed    bool
}

func (l *fakeLineReader) Prompt(string) (string, error) {
	if len(l.lines) == 0 {
		return "", io.EOF
	}
	line := l.lines[0]
	l.lines = l.lines[1:]
	return line, nil
}

func (l *fakeLineReader) AppendHistory(item string) {
	l.history = append(l.history, item)
}

func (l *fakeLineReader) ReadHistory(r io.Reader) (int, error) {
	s := bufio.NewScanner(r)
	n := 0
	for s.Scan() {
		l.history = append(l.history, s.Text())
		n++
	}
	return n, s.Err()
}

func (l *fakeLineReader) WriteHistory(w io.Writer) (int, error) {
	n := 0
	for _, item := range l.history {
		if _, err := fmt.Fprintln(w, item); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

func (l *fakeLineReader) SetCompleter(f liner.Completer) { l.completer = f }

func (l *fakeLineReader) Close() error {
	l.closed = true
	return nil
}

type FakeTerminal struct {
	*Term
	p      *protest.FakeProcess
	line   *fakeLineReader
	stdout *bytes.Buffer
	stderr *bytes.Buffer
	t      testing.TB
}

func (ft *FakeTerminal) Exec(cmdstr string) (string, error) {
	ft.stdout.Reset()
	err := ft.cmds.Call(cmdstr, ft.Term)
	return ft.stdout.String(), err
}

func (ft *FakeTerminal) MustExec(cmdstr string) string {
	outstr, err := ft.Exec(cmdstr)
	if err != nil {
		ft.t.Errorf("output of %q: %q", cmdstr, outstr)
		ft.t.Fatalf("Error executing <%s>: %v", cmdstr, err)
	}
	return outstr
}

func (ft *FakeTerminal) AssertExec(cmdstr, tgt string) {
	ft.t.Helper()
	out := ft.MustExec(cmdstr)
	if out != tgt {
		ft.t.Fatalf("error executing %q, expected %q got %q", cmdstr, tgt, out)
	}
}

func (ft *FakeTerminal) AssertExecError(cmdstr string, tgterr error) {
	ft.t.Helper()
	_, err := ft.Exec(cmdstr)
	if err == nil {
		ft.t.Fatalf("Expected error executing %q", cmdstr)
	}
	if !errors.Is(err, tgterr) {
		ft.t.Fatalf("Expected error %q executing %q, got error %q", tgterr, cmdstr, err)
	}
}

func withTestTerminal(name string, t *testing.T, conf *config.Config, fn func(*FakeTerminal)) {
	t.Setenv("TDBG_CONFIG_DIR", t.TempDir())
	p := protest.NewFakeProcess(name)
	client := &fakeClient{tgt: proc.NewTarget(p)}
	line := &fakeLineReader{}
	var stdout, stderr bytes.Buffer
	ft := &FakeTerminal{
		Term:   newTerm(client, conf, line, &stdout, &stderr, true),
		p:      p,
		line:   line,
		stdout: &stdout,
		stderr: &stderr,
		t:      t,
	}
	fn(ft)
}

func findCmdName(c *Commands, cmdstr string) string {
	cmd, ok := c.lookup(cmdstr)
	if !ok {
		return ""
	}
	return cmd.aliases[0]
}

func TestCommandPrefix(t *testing.T) {
	cmds := DebugCommands(nil)
	for _, tc := range []struct{ in, out string }{
		{"c", "continue"},
		{"cont", "continue"},
		{"b", "break"},
		{"br", "break"},
		{"breakp", "breakpoints"},
		{"bp", "breakpoints"},
		{"s", "stepi"},
		{"si", "stepi"},
		{"reg", "register"},
		{"r", "register"},
		{"m", "memory"},
		{"e", "exit"},
		{"q", "exit"},
		{"h", "help"},
		{"x", ""},
		{"continuex", ""},
		{"", ""},
	} {
		assert.Equal(t, tc.out, findCmdName(cmds, tc.in), "lookup of %q", tc.in)
	}
}

func TestSubcommandPrefix(t *testing.T) {
	cmds := DebugCommands(nil)
	assert.Equal(t, "dump", findCmdName(&Commands{commandTable: cmds.registerCmds}, "d"))
	assert.Equal(t, "write", findCmdName(&Commands{commandTable: cmds.registerCmds}, "w"))
	assert.Equal(t, "read", findCmdName(&Commands{commandTable: cmds.memoryCmds}, "rea"))
}

func TestMergeAliases(t *testing.T) {
	cmds := DebugCommands(nil)
	cmds.Merge(map[string][]string{"continue": {"go"}, "stepi": {"n"}})
	assert.Equal(t, "continue", findCmdName(cmds, "go"))
	assert.Equal(t, "continue", findCmdName(cmds, "g"))
	assert.Equal(t, "stepi", findCmdName(cmds, "n"))

	// merging again starts from the builtin aliases
	cmds.Merge(map[string][]string{"continue": {"go"}})
	assert.Equal(t, "", findCmdName(cmds, "n"))
	for _, cmd := range cmds.cmds {
		if cmd.aliases[0] == "continue" {
			assert.Equal(t, []string{"continue", "c", "go"}, cmd.aliases)
		}
	}
}

func TestComplete(t *testing.T) {
	cmds := DebugCommands(nil)
	assert.Equal(t, []string{"break", "b", "breakpoints", "bp"}, cmds.complete("b"))
	assert.Equal(t, []string{"memory"}, cmds.complete("me"))
	assert.Empty(t, cmds.complete("z"))
}

func TestSplitCommandLine(t *testing.T) {
	args, err := splitCommandLine(`  memory   write 0x10 "0x20" `)
	require.NoError(t, err)
	assert.Equal(t, []string{"memory", "write", "0x10", "0x20"}, args)

	args, err = splitCommandLine("   ")
	require.NoError(t, err)
	assert.Empty(t, args)

	_, err = splitCommandLine("break `x`")
	assert.Error(t, err)
	_, err = splitCommandLine("continue | grep x")
	assert.Error(t, err)
}

func TestParseHex(t *testing.T) {
	v, err := parseHex("0x40007d")
	require.NoError(t, err)
	assert.Equal(t, uint64(0x40007d), v)

	v, err = parseHex("0xffffffffffffffff")
	require.NoError(t, err)
	assert.Equal(t, ^uint64(0), v)

	for _, s := range []string{"40007d", "0x", "0xg", "0X10", "-0x1", "0x1ffffffffffffffff", "0x-1"} {
		_, err := parseHex(s)
		assert.True(t, errors.Is(err, errMalformedArgument), "parseHex(%q) = %v", s, err)
	}
}

func TestCommandNotImplemented(t *testing.T) {
	withTestTerminal("exit", t, nil, func(term *FakeTerminal) {
		term.AssertExecError("bogus", errNotImplemented)
		term.AssertExecError("register", errNotImplemented)
		term.AssertExecError("register bogus", errNotImplemented)
		term.AssertExecError("memory", errNotImplemented)
		term.AssertExecError("help bogus", errNotImplemented)
		term.AssertExec("", "")
		term.AssertExec("   ", "")
	})
}

func TestMalformedArguments(t *testing.T) {
	withTestTerminal("exit", t, nil, func(term *FakeTerminal) {
		term.AssertExecError("break", errMalformedArgument)
		term.AssertExecError("break 400078", errMalformedArgument)
		term.AssertExecError("break 0x400078 0x400079", errMalformedArgument)
		term.AssertExecError("memory read", errMalformedArgument)
		term.AssertExecError("memory read 0xzz", errMalformedArgument)
		term.AssertExecError("memory write 0x400078", errMalformedArgument)
		term.AssertExecError("memory write 0x400078 12", errMalformedArgument)
		term.AssertExecError("register read", errMalformedArgument)
		term.AssertExecError("register write rax", errMalformedArgument)
		term.AssertExecError("register write rax 1", errMalformedArgument)
		term.AssertExecError("register dump rax", errMalformedArgument)
		assert.Empty(t, term.client.Breakpoints())
		assert.Equal(t, 0, term.p.RegPushes)
	})
}

func TestRegisterCommands(t *testing.T) {
	withTestTerminal("exit", t, nil, func(term *FakeTerminal) {
		out := term.MustExec("register dump")
		lines := strings.Split(strings.TrimSuffix(out, "\n"), "\n")
		require.Len(t, lines, len(proc.AllRegisters()))
		assert.Regexp(t, regexp.MustCompile(`^r15\s+0x0000000000000000$`), lines[0])
		assert.Regexp(t, regexp.MustCompile(`^rip\s+0x0000000000400078$`), lines[proc.Rip])
		assert.Regexp(t, regexp.MustCompile(`^gs\s+0x[0-9a-f]{16}$`), lines[len(lines)-1])

		term.AssertExec("register read rip", "0x0000000000400078\n")
		term.AssertExec("register write rax 0xdeadbeef", "")
		term.AssertExec("register read rax", "0x00000000deadbeef\n")
		term.AssertExec("reg r rax", "0x00000000deadbeef\n")

		_, err := term.Exec("register read xmm0")
		var rerr proc.UnknownRegisterError
		require.True(t, errors.As(err, &rerr))
		assert.Equal(t, "xmm0", rerr.Name)
	})
}

func TestMemoryCommands(t *testing.T) {
	withTestTerminal("loop", t, nil, func(term *FakeTerminal) {
		term.AssertExec("memory read 0x400078", "0x75c9ff00000003b9\n")
		term.AssertExec("break 0x40007d", "Breakpoint 1 set at 0x40007d\n")
		// breakpoint traps are visible to raw reads
		term.AssertExec("memory read 0x400078", "0x75c9cc00000003b9\n")

		term.AssertExec("memory write 0x7ffffffdd000 0x1122334455667788", "")
		term.AssertExec("memory read 0x7ffffffdd000", "0x1122334455667788\n")

		_, err := term.Exec("memory read 0x10")
		var merr *proc.MemoryAccessError
		require.True(t, errors.As(err, &merr))
		assert.Equal(t, uint64(0x10), merr.Addr)
	})
}

func TestBreakAndContinue(t *testing.T) {
	withTestTerminal("loop", t, nil, func(term *FakeTerminal) {
		term.AssertExec("break 0x40007d", "Breakpoint 1 set at 0x40007d\n")
		_, err := term.Exec("break 0x40007d")
		var bperr proc.BreakpointExistsError
		require.True(t, errors.As(err, &bperr))

		term.AssertExec("breakpoints", "Breakpoint 1 at 0x40007d (enabled)\n")

		for _, rcx := range []string{"3", "2", "1"} {
			term.AssertExec("continue", "> Breakpoint 1 hit at 0x40007d\n=> 0x40007d:\tff c9\tdec ecx\n")
			term.AssertExec("register read rcx", "0x000000000000000"+rcx+"\n")
		}

		_, err = term.Exec("c")
		var pe proc.ProcessExitedError
		require.True(t, errors.As(err, &pe))
		assert.Equal(t, 7, pe.Status)
		assert.True(t, term.client.Exited())
	})
}

func TestStepInstruction(t *testing.T) {
	off := false
	withTestTerminal("loop", t, &config.Config{ShowStopInstruction: &off}, func(term *FakeTerminal) {
		term.AssertExec("stepi", "> Stopped at 0x40007d\n")
		term.AssertExec("register read rcx", "0x0000000000000003\n")

		term.AssertExec("break 0x40007f", "Breakpoint 1 set at 0x40007f\n")
		term.AssertExec("si", "> Breakpoint 1 hit at 0x40007f\n")
		term.AssertExec("si", "> Stopped at 0x40007d\n")
		term.AssertExec("register read rcx", "0x0000000000000002\n")
	})
}

func TestHelp(t *testing.T) {
	withTestTerminal("exit", t, nil, func(term *FakeTerminal) {
		out := term.MustExec("help")
		for _, name := range []string{"help", "break", "breakpoints", "continue", "stepi", "register", "memory", "exit"} {
			assert.Contains(t, out, "    "+name+" ")
		}
		assert.Contains(t, term.MustExec("help mem"), "memory write 0x<address> 0x<value>")
	})
}

func TestRunSession(t *testing.T) {
	withTestTerminal("loop", t, nil, func(term *FakeTerminal) {
		term.line.lines = []string{"continue", "register read rax", "bogus", "break 12", ""}
		status, err := term.Run()
		require.NoError(t, err)
		assert.Equal(t, 0, status)
		assert.True(t, term.line.closed)
		assert.NotNil(t, term.line.completer)

		out := term.stdout.String()
		assert.Contains(t, out, "Started to debug process 4242\n")
		assert.Equal(t, 2, strings.Count(out, "Process 4242 has exited with status 7\n"))
		assert.True(t, strings.HasSuffix(out, "exit\n"))

		errout := term.stderr.String()
		assert.Contains(t, errout, "not implemented\n")
		assert.Contains(t, errout, "Command failed: malformed argument")
		assert.NotContains(t, errout, "Process 4242")

		assert.Equal(t, []string{"continue", "register read rax", "bogus", "break 12"}, term.line.history)
	})
}

func TestRunExitKillsProcess(t *testing.T) {
	withTestTerminal("loop", t, nil, func(term *FakeTerminal) {
		term.line.lines = []string{"stepi", "quit", "continue"}
		status, err := term.Run()
		require.NoError(t, err)
		assert.Equal(t, 0, status)
		assert.True(t, term.client.Exited())
		assert.False(t, term.p.Detached())
		assert.Equal(t, []string{"continue"}, term.line.lines)
	})
}

func TestHistory(t *testing.T) {
	maxHistory := 2
	withTestTerminal("exit", t, &config.Config{MaxHistory: &maxHistory}, func(term *FakeTerminal) {
		path, err := config.GetConfigFilePath(historyFile)
		require.NoError(t, err)
		require.NoError(t, ioutil.WriteFile(path, []byte("stepi\nbreak 0x1\nregister dump\ncontinue\n"), 0600))

		term.line.lines = []string{"memory read 0x400078"}
		_, err = term.Run()
		require.NoError(t, err)

		data, err := ioutil.ReadFile(filepath.Clean(path))
		require.NoError(t, err)
		assert.Equal(t, "register dump\ncontinue\nmemory read 0x400078\n", string(data))
	})
}
