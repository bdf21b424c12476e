package proc

// Process represents the raw process-control primitives of a backend. A
// Target drives a Process; it never talks to the operating system
// directly.
//
// Every method, except Pid, may only be called while the tracee is
// stopped.
type Process interface {
	Info
	ProcessManipulation
	MemoryReadWriter
	RegisterAccess
}

// Info is an interface that provides general information on the target.
type Info interface {
	Pid() int
}

// ProcessManipulation is an interface for changing the execution state of
// a process.
type ProcessManipulation interface {
	// Resume restarts the tracee without single-stepping. It does not wait.
	Resume() error
	// SingleStep asks the tracee to execute exactly one instruction. It does
	// not wait.
	SingleStep() error
	// Wait blocks until the tracee stops again. If the tracee exits or is
	// killed instead, Wait returns a ProcessExitedError.
	Wait() (StopEvent, error)
	// Detach releases the tracee, killing it if kill is true.
	Detach(kill bool) error
}

// RegisterAccess transfers the whole general purpose register file.
// Single-register transfers are not supported by the kernel interface.
type RegisterAccess interface {
	GetRegs(regs *AMD64PtraceRegs) error
	SetRegs(regs *AMD64PtraceRegs) error
}
