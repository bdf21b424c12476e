//go:build linux && amd64

package native

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"strings"
	"syscall"
	"time"

	isatty "github.com/mattn/go-isatty"
	sys "golang.org/x/sys/unix"

	"github.com/tdbg-dev/tdbg/pkg/logflags"
	"github.com/tdbg-dev/tdbg/pkg/proc"
)

const (
	statusZombie = 'Z'

	personalityGetPersonality = 0xffffffff // argument to pass to personality syscall to get the current personality
	_ADDR_NO_RANDOMIZE        = 0x0040000  // ADDR_NO_RANDOMIZE linux constant
)

// Launch creates and begins debugging a new process. The first
// element of cmd is the executable, the others its arguments.
// The process is stopped at its first instruction when Launch returns.
func Launch(cmd []string, wd string, flags proc.LaunchFlags, tty string) (*proc.Target, error) {
	if len(cmd) == 0 {
		return nil, errors.New("no executable specified")
	}

	var (
		process *exec.Cmd
		err     error
	)

	foreground := flags&proc.LaunchForeground != 0
	if tty != "" || !isatty.IsTerminal(os.Stdin.Fd()) {
		// exec.(*Process).Start will fail if we try to send a process to
		// foreground but we are not attached to a terminal.
		foreground = false
	}

	dbp := newProcess(0)
	defer func() {
		if err == nil {
			return
		}
		if dbp.pid != 0 {
			_ = dbp.Detach(true)
		} else {
			dbp.postExit()
		}
	}()
	dbp.execPtraceFunc(func() {
		if flags&proc.LaunchDisableASLR != 0 {
			oldPersonality, _, err := syscall.Syscall(sys.SYS_PERSONALITY, personalityGetPersonality, 0, 0)
			if err == syscall.Errno(0) {
				newPersonality := oldPersonality | _ADDR_NO_RANDOMIZE
				syscall.Syscall(sys.SYS_PERSONALITY, newPersonality, 0, 0)
				defer syscall.Syscall(sys.SYS_PERSONALITY, oldPersonality, 0, 0)
			}
		}

		process = exec.Command(cmd[0])
		process.Args = cmd
		process.Stdin = os.Stdin
		process.Stdout = os.Stdout
		process.Stderr = os.Stderr
		process.SysProcAttr = &syscall.SysProcAttr{
			Ptrace:     true,
			Setpgid:    true,
			Foreground: foreground,
		}
		if foreground {
			signal.Ignore(syscall.SIGTTOU, syscall.SIGTTIN)
		}
		if tty != "" {
			dbp.ctty, err = attachProcessToTTY(process, tty)
			if err != nil {
				return
			}
		}
		if wd != "" {
			process.Dir = wd
		}
		err = process.Start()
	})
	if err != nil {
		return nil, err
	}
	dbp.pid = process.Process.Pid
	dbp.log = dbp.log.WithField("pid", dbp.pid)

	var status *sys.WaitStatus
	_, status, err = dbp.wait(dbp.pid, 0)
	if err != nil {
		return nil, fmt.Errorf("waiting for target execve failed: %s", err)
	}
	if status == nil || !status.Stopped() {
		err = fmt.Errorf("process %d did not stop after execve", dbp.pid)
		return nil, err
	}

	comm, _ := os.ReadFile(fmt.Sprintf("/proc/%d/comm", dbp.pid))
	dbp.comm = strings.ReplaceAll(strings.TrimSuffix(string(comm), "\n"), "%", "%%")
	dbp.log.Debugf("launched %q", strings.Join(cmd, " "))

	return proc.NewTarget(dbp), nil
}

// Resume continues the process without delivering any signal.
func (dbp *nativeProcess) Resume() (err error) {
	if err := dbp.checkValid(); err != nil {
		return err
	}
	if logflags.Ptrace() {
		dbp.log.Debugf("PTRACE_CONT pid=%d", dbp.pid)
	}
	dbp.execPtraceFunc(func() { err = ptraceCont(dbp.pid, 0) })
	return
}

// SingleStep executes one instruction of the process.
func (dbp *nativeProcess) SingleStep() (err error) {
	if err := dbp.checkValid(); err != nil {
		return err
	}
	if logflags.Ptrace() {
		dbp.log.Debugf("PTRACE_SINGLESTEP pid=%d", dbp.pid)
	}
	dbp.execPtraceFunc(func() { err = ptraceSingleStep(dbp.pid, 0) })
	return
}

// Wait waits for the next stop of the process.
func (dbp *nativeProcess) Wait() (proc.StopEvent, error) {
	if err := dbp.checkValid(); err != nil {
		return proc.StopEvent{}, err
	}
	_, status, err := dbp.wait(dbp.pid, 0)
	if err != nil {
		return proc.StopEvent{}, fmt.Errorf("wait4 failed: %w", err)
	}
	switch {
	case status == nil:
		// zombie, the exit status was already collected
		dbp.setExited()
		return proc.StopEvent{}, proc.ProcessExitedError{Pid: dbp.pid}
	case status.Exited():
		dbp.setExited()
		return proc.StopEvent{}, proc.ProcessExitedError{Pid: dbp.pid, Status: status.ExitStatus()}
	case status.Signaled():
		dbp.setExited()
		return proc.StopEvent{}, proc.ProcessExitedError{Pid: dbp.pid, Status: -1, Signal: status.Signal()}
	case status.Stopped():
		dbp.log.Debugf("stopped with signal %v", status.StopSignal())
		return proc.StopEvent{Signal: status.StopSignal()}, nil
	}
	return proc.StopEvent{}, fmt.Errorf("unexpected wait status %#x", uint32(*status))
}

func (dbp *nativeProcess) setExited() {
	dbp.exited = true
	dbp.postExit()
}

func status(pid int, comm string) rune {
	f, err := os.Open(fmt.Sprintf("/proc/%d/stat", pid))
	if err != nil {
		return '\000'
	}
	defer f.Close()
	rd := bufio.NewReader(f)

	var (
		p     int
		state rune
	)

	// The second field of /proc/pid/stat is the name of the task in
	// parentheses, it can contain both spaces and parentheses.
	_, _ = fmt.Fscanf(rd, "%d ("+comm+")  %c", &p, &state)
	return state
}

func (dbp *nativeProcess) wait(pid, options int) (int, *sys.WaitStatus, error) {
	var s sys.WaitStatus
	if dbp.comm == "" {
		wpid, err := sys.Wait4(pid, &s, sys.WALL|options, nil)
		return wpid, &s, err
	}
	// wait4 on the leader of a thread group that exited leaving zombies
	// behind hangs forever, poll and give up once the process is a zombie.
	for {
		wpid, err := sys.Wait4(pid, &s, sys.WNOHANG|sys.WALL|options, nil)
		if err != nil {
			return 0, nil, err
		}
		if wpid != 0 {
			return wpid, &s, err
		}
		if status(pid, dbp.comm) == statusZombie {
			return pid, nil, nil
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// Detach stops tracing the process. If kill is true the process is killed
// and reaped first.
func (dbp *nativeProcess) Detach(kill bool) error {
	if dbp.exited || dbp.detached {
		return nil
	}
	if kill {
		return dbp.kill()
	}
	var err error
	dbp.execPtraceFunc(func() { err = ptraceDetach(dbp.pid, 0) })
	if err != nil {
		return err
	}
	dbp.detached = true
	dbp.postExit()
	// The process will sometimes enter stopped state after a detach, this
	// doesn't happen immediately either.
	time.Sleep(50 * time.Millisecond)
	if s := status(dbp.pid, dbp.comm); s == 'T' {
		_ = sys.Kill(dbp.pid, sys.SIGCONT)
	}
	return nil
}

func (dbp *nativeProcess) kill() error {
	if err := sys.Kill(dbp.pid, sys.SIGKILL); err != nil {
		return errors.New("could not deliver signal " + err.Error())
	}
	for {
		_, status, err := dbp.wait(dbp.pid, 0)
		if err != nil {
			if errors.Is(err, sys.ECHILD) {
				break
			}
			return err
		}
		if status == nil || status.Exited() || status.Signaled() {
			break
		}
	}
	dbp.setExited()
	return nil
}
