package terminal

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/go-delve/liner"

	"github.com/tdbg-dev/tdbg/pkg/config"
	"github.com/tdbg-dev/tdbg/pkg/logflags"
	"github.com/tdbg-dev/tdbg/pkg/proc"
	"github.com/tdbg-dev/tdbg/service"
)

const historyFile string = ".tdbg_history"

// LineReader reads command lines from the operator. It is implemented by
// *liner.State.
type LineReader interface {
	Prompt(prompt string) (string, error)
	AppendHistory(item string)
	ReadHistory(r io.Reader) (int, error)
	WriteHistory(w io.Writer) (int, error)
	SetCompleter(f liner.Completer)
	Close() error
}

// Term represents the terminal running tdbg.
type Term struct {
	client service.Client
	conf   *config.Config
	prompt string
	line   LineReader
	cmds   *Commands
	dumb   bool
	stdout io.Writer
	stderr io.Writer
	log    logflags.Logger
}

// New returns a new Term.
func New(client service.Client, conf *config.Config) *Term {
	var w io.Writer
	dumb := isDumbTerminal()
	if dumb {
		w = os.Stdout
	} else {
		w = getColorableWriter()
	}
	line := liner.NewLiner()
	line.SetCtrlCAborts(true)
	return newTerm(client, conf, line, w, os.Stderr, dumb)
}

func newTerm(client service.Client, conf *config.Config, line LineReader, stdout, stderr io.Writer, dumb bool) *Term {
	if conf == nil {
		conf = &config.Config{}
	}
	cmds := DebugCommands(client)
	if conf.Aliases != nil {
		cmds.Merge(conf.Aliases)
	}
	return &Term{
		client: client,
		conf:   conf,
		prompt: conf.GetPrompt(),
		line:   line,
		cmds:   cmds,
		dumb:   dumb,
		stdout: stdout,
		stderr: stderr,
		log:    logflags.TerminalLogger(),
	}
}

// Close returns the terminal to its previous mode.
func (t *Term) Close() {
	t.line.Close()
}

// sigintGuard stops the target when the operator presses ^C while it is
// running. The signal is discarded by the next resume. It returns once
// done is closed.
func (t *Term) sigintGuard(ch <-chan os.Signal, done <-chan struct{}, pid int) {
	for {
		select {
		case <-ch:
			fmt.Fprintf(t.stdout, "received SIGINT, stopping process (will not forward signal)\n")
			if err := syscall.Kill(pid, syscall.SIGINT); err != nil {
				fmt.Fprintf(t.stderr, "%v\n", err)
			}
		case <-done:
			return
		}
	}
}

// Run begins running tdbg in the terminal.
func (t *Term) Run() (int, error) {
	defer t.Close()

	pid := t.client.ProcessPid()
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT)
	done, guardExited := make(chan struct{}), make(chan struct{})
	go func() {
		t.sigintGuard(ch, done, pid)
		close(guardExited)
	}()
	defer func() {
		signal.Stop(ch)
		close(done)
		<-guardExited
	}()

	t.line.SetCompleter(t.cmds.complete)
	t.loadHistory()

	fmt.Fprintf(t.stdout, "Started to debug process %d\n", pid)
	fmt.Fprintln(t.stdout, "Type 'help' for list of commands.")

	for {
		cmdstr, err := t.promptForInput()
		if err != nil {
			if err == io.EOF {
				fmt.Fprintln(t.stdout, "exit")
				return t.handleExit()
			}
			if err == liner.ErrPromptAborted {
				continue
			}
			return 1, fmt.Errorf("Prompt for input failed.\n")
		}

		if logflags.Terminal() {
			t.log.Debugf("command %q", cmdstr)
		}
		if err := t.cmds.Call(cmdstr, t); err != nil {
			if _, ok := err.(ExitRequestError); ok {
				return t.handleExit()
			}
			t.printError(err)
		}
	}
}

// printError reports the failure of a command. Process exits are
// notifications and go to standard output.
func (t *Term) printError(err error) {
	switch {
	case proc.IsProcessExited(err):
		fmt.Fprintln(t.stdout, err.Error())
	case errors.Is(err, errNotImplemented):
		fmt.Fprintln(t.stderr, err.Error())
	default:
		fmt.Fprintf(t.stderr, "Command failed: %s\n", err)
	}
}

// Println prints a line to the terminal.
func (t *Term) Println(prefix, str string) {
	t.printColored(ansiBlue, prefix, str)
}

func (t *Term) printColored(color int, prefix, str string) {
	if !t.dumb {
		terminalColorEscapeCode := fmt.Sprintf(terminalHighlightEscapeCode, color)
		prefix = fmt.Sprintf("%s%s%s", terminalColorEscapeCode, prefix, terminalResetEscapeCode)
	}
	fmt.Fprintf(t.stdout, "%s%s\n", prefix, str)
}

func (t *Term) promptForInput() (string, error) {
	l, err := t.line.Prompt(t.prompt)
	if err != nil {
		return "", err
	}

	l = strings.TrimSuffix(l, "\n")
	if l != "" {
		t.line.AppendHistory(l)
	}

	return l, nil
}

// loadHistory feeds the history file to the line reader, keeping only the
// last max-history lines when that option is set.
func (t *Term) loadHistory() {
	fullHistoryFile, err := config.GetConfigFilePath(historyFile)
	if err != nil {
		fmt.Fprintf(t.stderr, "Unable to load history file: %v.\n", err)
		return
	}

	f, err := os.Open(fullHistoryFile)
	if err != nil {
		f, err = os.Create(fullHistoryFile)
		if err != nil {
			fmt.Fprintf(t.stderr, "Unable to open history file: %v. History will not be saved for this session.\n", err)
			return
		}
	}
	defer f.Close()

	var lines []string
	s := bufio.NewScanner(f)
	for s.Scan() {
		lines = append(lines, s.Text())
	}
	if t.conf.MaxHistory != nil && *t.conf.MaxHistory >= 0 && len(lines) > *t.conf.MaxHistory {
		lines = lines[len(lines)-*t.conf.MaxHistory:]
	}
	if len(lines) > 0 {
		t.line.ReadHistory(strings.NewReader(strings.Join(lines, "\n") + "\n"))
	}
}

func (t *Term) saveHistory() {
	fullHistoryFile, err := config.GetConfigFilePath(historyFile)
	if err != nil {
		fmt.Fprintln(t.stderr, "Error saving history file:", err)
		return
	}
	f, err := os.OpenFile(fullHistoryFile, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		fmt.Fprintln(t.stderr, "Error saving history file:", err)
		return
	}
	defer f.Close()
	if _, err := t.line.WriteHistory(f); err != nil {
		fmt.Fprintln(t.stderr, "readline history error:", err)
	}
}

// handleExit saves the history and kills the target if it is still
// alive.
func (t *Term) handleExit() (int, error) {
	t.saveHistory()

	if !t.client.Exited() {
		if err := t.client.Detach(true); err != nil {
			return 1, err
		}
	}
	return 0, nil
}
