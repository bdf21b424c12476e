package proc

import (
	"errors"
	"fmt"
	"syscall"
)

// LaunchFlags modify how a new process is started.
type LaunchFlags uint8

const (
	// LaunchDisableASLR starts the target with address space layout
	// randomization disabled, so that numeric breakpoint addresses stay
	// valid across runs.
	LaunchDisableASLR LaunchFlags = 1 << iota
	// LaunchForeground gives the target access to the controlling terminal.
	LaunchForeground
)

// ProcessExitedError indicates that the process has exited and contains both
// process id and exit status.
type ProcessExitedError struct {
	Pid    int
	Status int
	// Signal is the signal that killed the process, zero if it exited
	// normally.
	Signal syscall.Signal
}

func (pe ProcessExitedError) Error() string {
	if pe.Signal != 0 {
		return fmt.Sprintf("Process %d has been killed by signal %v", pe.Pid, pe.Signal)
	}
	return fmt.Sprintf("Process %d has exited with status %d", pe.Pid, pe.Status)
}

// IsProcessExited returns true if err is, or wraps, a ProcessExitedError.
func IsProcessExited(err error) bool {
	var pe ProcessExitedError
	return errors.As(err, &pe)
}

// StopEvent is what a backend reports when the tracee stops.
type StopEvent struct {
	Signal syscall.Signal
}

// StopReason describes why the target stopped.
type StopReason uint8

const (
	// StopUnknown is an unclassified stop.
	StopUnknown StopReason = iota
	// StopBreakpoint means the target stopped because of a breakpoint.
	StopBreakpoint
	// StopSingleStep means a single instruction was executed.
	StopSingleStep
	// StopSignal means the target received a signal other than the
	// breakpoint trap.
	StopSignal
)

func (sr StopReason) String() string {
	switch sr {
	case StopBreakpoint:
		return "breakpoint"
	case StopSingleStep:
		return "single step"
	case StopSignal:
		return "signal"
	default:
		return "unknown"
	}
}

// StopState is the result of a resume operation.
type StopState struct {
	Reason StopReason
	// PC is the value of the instruction pointer after the stop.
	PC uint64
	// Breakpoint is the breakpoint that was hit, if Reason is StopBreakpoint.
	Breakpoint *Breakpoint
	// Signal is the signal reported by the stop.
	Signal syscall.Signal
}

// Addr returns the address the stop should be reported at: the breakpoint
// address for breakpoint stops, the PC otherwise.
func (s StopState) Addr() uint64 {
	if s.Breakpoint != nil {
		return s.Breakpoint.Addr
	}
	return s.PC
}
