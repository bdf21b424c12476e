package proc

import (
	"errors"
	"fmt"
	"syscall"
)

// Continue resumes the target until it stops again and classifies the
// stop. If the target is sitting on a breakpoint it is stepped past it
// first, so that the same breakpoint does not trap again immediately.
//
// If the process exits a ProcessExitedError is returned.
func (t *Target) Continue() (StopState, error) {
	if err := t.checkAlive(); err != nil {
		return StopState{}, err
	}
	if _, err := t.stepOverBreakpoint(); err != nil {
		return StopState{}, err
	}
	t.log.Debug("resuming")
	if err := t.proc.Resume(); err != nil {
		return StopState{}, fmt.Errorf("could not resume process: %w", err)
	}
	ev, err := t.wait()
	if err != nil {
		return StopState{}, err
	}
	return t.classifyStop(ev)
}

// StepInstruction executes exactly one instruction. Breakpoints at the
// current position are stepped over.
func (t *Target) StepInstruction() (StopState, error) {
	if err := t.checkAlive(); err != nil {
		return StopState{}, err
	}
	stepped, err := t.stepOverBreakpoint()
	if err != nil {
		return StopState{}, err
	}
	if !stepped {
		if err := t.singleStep(); err != nil {
			return StopState{}, err
		}
		t.trapped = nil
	}
	regs, err := t.registers()
	if err != nil {
		return StopState{}, err
	}
	state := StopState{Reason: StopSingleStep, PC: regs.PC(), Signal: syscall.SIGTRAP}
	if bp, ok := t.Breakpoints.Lookup(regs.PC()); ok && bp.IsEnabled() {
		// landed on a breakpoint without executing its trap
		state.Reason = StopBreakpoint
		state.Breakpoint = bp
	}
	return state, nil
}

// classifyStop decides whether the stop described by ev was caused by one
// of our breakpoints. After the trap instruction executes the instruction
// pointer is one past the breakpoint address.
func (t *Target) classifyStop(ev StopEvent) (StopState, error) {
	t.trapped = nil
	regs, err := t.registers()
	if err != nil {
		return StopState{}, err
	}
	pc := regs.PC()
	state := StopState{Reason: StopSignal, PC: pc, Signal: ev.Signal}
	if ev.Signal != syscall.SIGTRAP {
		t.log.Debugf("stopped by signal %v at %#x", ev.Signal, pc)
		return state, nil
	}
	state.Reason = StopUnknown
	if bp, ok := t.Breakpoints.Lookup(pc - 1); ok {
		state.Reason = StopBreakpoint
		state.Breakpoint = bp
		t.trapped = bp
		t.log.Debugf("hit %v", bp)
	}
	return state, nil
}

// stepOverBreakpoint moves the target past the breakpoint it is stopped
// on, if any, leaving the breakpoint enabled. It returns true if an
// instruction was executed.
//
// Two positions count as being on a breakpoint: one byte past a
// breakpoint that was just hit (the trap already executed and the
// instruction pointer must be rewound), and exactly at an enabled
// breakpoint reached without executing its trap.
func (t *Target) stepOverBreakpoint() (bool, error) {
	regs, err := t.registers()
	if err != nil {
		return false, err
	}
	pc := regs.PC()

	var (
		bp     *Breakpoint
		rewind bool
	)
	switch {
	case t.trapped != nil && t.trapped.IsEnabled() && pc-1 == t.trapped.Addr:
		bp, rewind = t.trapped, true
	default:
		if b, ok := t.Breakpoints.Lookup(pc); ok && b.IsEnabled() {
			bp = b
		}
	}
	if bp == nil {
		return false, nil
	}

	t.log.Debugf("stepping over %v", bp)
	if err := bp.Disable(t.proc); err != nil {
		return false, err
	}
	if rewind {
		regs.SetPC(bp.Addr)
		if err := t.setRegisters(regs); err != nil {
			return false, t.abortStepOver(bp, false, err)
		}
	}
	if err := t.proc.SingleStep(); err != nil {
		return false, t.abortStepOver(bp, rewind, fmt.Errorf("could not single step: %w", err))
	}
	if err := t.waitSingleStep(); err != nil {
		if !IsProcessExited(err) {
			t.restoreAfterFailedStep(bp)
		}
		return false, err
	}
	t.trapped = nil
	if err := bp.Enable(t.proc); err != nil {
		return true, fmt.Errorf("could not restore %v: %w", bp, err)
	}
	return true, nil
}

// abortStepOver puts the target back the way stepOverBreakpoint found it
// and returns cause.
func (t *Target) abortStepOver(bp *Breakpoint, rewound bool, cause error) error {
	if rewound {
		if regs, err := t.registers(); err == nil {
			regs.SetPC(bp.Addr + 1)
			if err := t.setRegisters(regs); err != nil {
				t.log.Errorf("could not restore instruction pointer: %v", err)
			}
		}
	}
	if err := bp.Enable(t.proc); err != nil {
		t.log.Errorf("could not restore %v: %v", bp, err)
	}
	return cause
}

// restoreAfterFailedStep re-enables bp after the single step over it was
// lost. Whether the instruction executed is unknown; if it did not, the
// instruction pointer is at bp.Addr and the next resume steps over it.
func (t *Target) restoreAfterFailedStep(bp *Breakpoint) {
	t.trapped = nil
	if err := bp.Enable(t.proc); err != nil {
		t.log.Errorf("could not restore %v: %v", bp, err)
	}
}

func (t *Target) singleStep() error {
	if err := t.proc.SingleStep(); err != nil {
		return fmt.Errorf("could not single step: %w", err)
	}
	return t.waitSingleStep()
}

// waitSingleStep waits for the trap that ends a single step. Other
// signals delivered in the meantime are discarded and the step is
// requested again.
func (t *Target) waitSingleStep() error {
	for {
		ev, err := t.wait()
		if err != nil {
			return err
		}
		if ev.Signal == syscall.SIGTRAP {
			return nil
		}
		t.log.Warnf("discarding signal %v received while single stepping", ev.Signal)
		if err := t.proc.SingleStep(); err != nil {
			return fmt.Errorf("could not single step: %w", err)
		}
	}
}

func (t *Target) wait() (StopEvent, error) {
	ev, err := t.proc.Wait()
	if err != nil {
		var pe ProcessExitedError
		if errors.As(err, &pe) {
			t.log.Debugf("process exited: %v", pe)
			t.exited = &pe
			t.trapped = nil
		}
		return StopEvent{}, err
	}
	return ev, nil
}
