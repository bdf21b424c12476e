package native

import (
	"os"
	"runtime"

	"github.com/tdbg-dev/tdbg/pkg/logflags"
	"github.com/tdbg-dev/tdbg/pkg/proc"
)

// nativeProcess represents all of the information the debugger
// is holding onto regarding the process we are debugging.
type nativeProcess struct {
	pid  int    // Process Pid
	comm string // Name of the executable, as reported by the kernel

	log logflags.Logger

	// ctty is the controlling terminal of the target when it was started
	// with a tty.
	ctty *os.File

	ptraceChan     chan func()
	ptraceDoneChan chan interface{}

	exited, detached bool
}

// newProcess returns an initialized nativeProcess struct. Before returning,
// it will also launch a goroutine in order to handle ptrace(2)
// functions. For more information, see the documentation on
// `handlePtraceFuncs`.
func newProcess(pid int) *nativeProcess {
	dbp := &nativeProcess{
		pid:            pid,
		log:            logflags.PtraceLogger(),
		ptraceChan:     make(chan func()),
		ptraceDoneChan: make(chan interface{}),
	}
	go dbp.handlePtraceFuncs()
	return dbp
}

// Pid returns the process pid.
func (dbp *nativeProcess) Pid() int {
	return dbp.pid
}

// checkValid returns an error if the process can not receive any more
// ptrace requests.
func (dbp *nativeProcess) checkValid() error {
	if dbp.exited {
		return proc.ProcessExitedError{Pid: dbp.pid}
	}
	if dbp.detached {
		return proc.ErrProcessDetached
	}
	return nil
}

// handlePtraceFuncs runs every function sent on ptraceChan on the same
// OS thread. The kernel only accepts ptrace requests from the thread that
// became the tracer by starting the process.
func (dbp *nativeProcess) handlePtraceFuncs() {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	for fn := range dbp.ptraceChan {
		fn()
		dbp.ptraceDoneChan <- nil
	}
}

func (dbp *nativeProcess) execPtraceFunc(fn func()) {
	dbp.ptraceChan <- fn
	<-dbp.ptraceDoneChan
}

// postExit releases the ptrace thread and the controlling terminal once
// the process is gone or no longer traced.
func (dbp *nativeProcess) postExit() {
	if dbp.ptraceChan == nil {
		return
	}
	close(dbp.ptraceChan)
	dbp.ptraceChan = nil
	if dbp.ctty != nil {
		dbp.ctty.Close()
		dbp.ctty = nil
	}
}
