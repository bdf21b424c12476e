package proc

import (
	"errors"
	"fmt"
	"syscall"

	lru "github.com/hashicorp/golang-lru"

	"github.com/tdbg-dev/tdbg/pkg/logflags"
)

// ErrProcessDetached indicates that we detached from the target process.
var ErrProcessDetached = errors.New("detached from the process")

const disasmCacheSize = 256

// Target represents the process being debugged.
type Target struct {
	proc Process

	// Breakpoints records the breakpoints currently set.
	Breakpoints BreakpointMap

	log logflags.Logger

	// exited is set once a wait observed the end of the process.
	exited   *ProcessExitedError
	detached bool

	// trapped is the breakpoint the last resume stopped on. The instruction
	// pointer is one byte past its address until the next resume.
	trapped *Breakpoint

	disasm *lru.Cache
}

// NewTarget returns a Target controlling p, which must be stopped.
func NewTarget(p Process) *Target {
	cache, err := lru.New(disasmCacheSize)
	if err != nil {
		panic(err)
	}
	return &Target{
		proc:        p,
		Breakpoints: NewBreakpointMap(),
		log:         logflags.DebuggerLogger().WithField("pid", p.Pid()),
		disasm:      cache,
	}
}

// Pid returns the process id of the target.
func (t *Target) Pid() int {
	return t.proc.Pid()
}

// Exited returns true if the target process has exited or was killed.
func (t *Target) Exited() bool {
	return t.exited != nil
}

// checkAlive returns an error if the process can not be operated on
// anymore.
func (t *Target) checkAlive() error {
	if t.detached {
		return ErrProcessDetached
	}
	if t.exited != nil {
		return *t.exited
	}
	return nil
}

// Detach releases the target process, optionally killing it. When the
// process is left running every breakpoint is removed from its memory
// first.
func (t *Target) Detach(kill bool) error {
	if t.detached || t.exited != nil {
		return nil
	}
	if !kill {
		for _, bp := range t.Breakpoints.Sorted() {
			if err := bp.Disable(t.proc); err != nil {
				return fmt.Errorf("could not clear %v: %w", bp, err)
			}
		}
	}
	if err := t.proc.Detach(kill); err != nil {
		return err
	}
	t.detached = true
	t.trapped = nil
	if kill {
		t.exited = &ProcessExitedError{Pid: t.proc.Pid(), Signal: syscall.SIGKILL}
	}
	return nil
}

func (t *Target) registers() (*AMD64PtraceRegs, error) {
	var regs AMD64PtraceRegs
	if err := t.proc.GetRegs(&regs); err != nil {
		return nil, fmt.Errorf("could not get registers: %w", err)
	}
	return &regs, nil
}

func (t *Target) setRegisters(regs *AMD64PtraceRegs) error {
	if err := t.proc.SetRegs(regs); err != nil {
		return fmt.Errorf("could not set registers: %w", err)
	}
	return nil
}

// Registers returns a fresh snapshot of the register file.
func (t *Target) Registers() (*AMD64PtraceRegs, error) {
	if err := t.checkAlive(); err != nil {
		return nil, err
	}
	return t.registers()
}

// ReadRegister returns the current value of reg.
func (t *Target) ReadRegister(reg Register) (uint64, error) {
	regs, err := t.Registers()
	if err != nil {
		return 0, err
	}
	return regs.Get(reg)
}

// WriteRegister sets reg to value. The whole register file is read and
// written back.
func (t *Target) WriteRegister(reg Register, value uint64) error {
	regs, err := t.Registers()
	if err != nil {
		return err
	}
	if err := regs.Set(reg, value); err != nil {
		return err
	}
	return t.setRegisters(regs)
}

// ReadMemory reads the word at addr. Breakpoint instructions are not
// hidden.
func (t *Target) ReadMemory(addr uint64) (uint64, error) {
	if err := t.checkAlive(); err != nil {
		return 0, err
	}
	return ReadWord(t.proc, addr)
}

// WriteMemory writes the word value at addr.
func (t *Target) WriteMemory(addr, value uint64) error {
	if err := t.checkAlive(); err != nil {
		return err
	}
	return WriteWord(t.proc, addr, value)
}

// SetBreakpoint sets and enables a breakpoint at addr.
func (t *Target) SetBreakpoint(addr uint64) (*Breakpoint, error) {
	if err := t.checkAlive(); err != nil {
		return nil, err
	}
	bp, err := t.Breakpoints.Set(t.proc, addr)
	if err != nil {
		return bp, err
	}
	t.log.Debugf("set %v", bp)
	return bp, nil
}
