package service

import (
	"github.com/tdbg-dev/tdbg/pkg/proc"
)

// Client represents a debugger service client. All client methods are
// synchronous.
type Client interface {
	// ProcessPid returns the pid of the process we are debugging.
	ProcessPid() int
	// Exited returns true if the process has exited or was killed.
	Exited() bool
	// Detach detaches the debugger, optionally killing the process.
	Detach(killProcess bool) error

	// Continue resumes process execution until the next stop.
	Continue() (proc.StopState, error)
	// StepInstruction executes a single instruction.
	StepInstruction() (proc.StopState, error)

	// CreateBreakpoint creates a new breakpoint at addr.
	CreateBreakpoint(addr uint64) (*proc.Breakpoint, error)
	// Breakpoints returns the list of breakpoints, ordered by address.
	Breakpoints() []*proc.Breakpoint

	// Registers returns a snapshot of every register.
	Registers() (*proc.AMD64PtraceRegs, error)
	// ReadRegister returns the value of a register.
	ReadRegister(name string) (uint64, error)
	// WriteRegister sets the value of a register.
	WriteRegister(name string, value uint64) error

	// ReadMemory reads the word at addr.
	ReadMemory(addr uint64) (uint64, error)
	// WriteMemory writes a word at addr.
	WriteMemory(addr, value uint64) error

	// CurrentInstruction decodes the instruction at addr.
	CurrentInstruction(addr uint64) (*proc.AsmInstruction, error)
}
