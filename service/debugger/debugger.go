package debugger

import (
	"errors"
	"fmt"
	"sync"

	"github.com/tdbg-dev/tdbg/pkg/logflags"
	"github.com/tdbg-dev/tdbg/pkg/proc"
	"github.com/tdbg-dev/tdbg/pkg/proc/native"
	"github.com/tdbg-dev/tdbg/service"
)

var _ service.Client = (*Debugger)(nil)

// Debugger service.
//
// Debugger provides a higher level of abstraction over proc.Target. It
// owns the target for the whole session and serializes every request
// made to it.
type Debugger struct {
	config *Config
	// arguments to launch a new process.
	processArgs []string

	processMutex sync.Mutex
	target       *proc.Target
	log          logflags.Logger
}

// Config provides the configuration to start a Debugger.
type Config struct {
	// WorkingDir is working directory of the new process.
	WorkingDir string

	// TTY is the path of the terminal the new process should use.
	TTY string

	// DisableASLR starts the new process with address space layout
	// randomization disabled.
	DisableASLR bool

	// Foreground lets target process access stdin.
	Foreground bool

	// Flavour is the assembly syntax used by CurrentInstruction.
	Flavour proc.AssemblyFlavour
}

// launch starts the target process, tests replace it with a fake backend.
var launch = native.Launch

// ErrNoProcessArgs is returned by New when there is no executable to run.
var ErrNoProcessArgs = errors.New("no executable specified")

// New creates a new Debugger. ProcessArgs specify the commandline
// arguments for the new process.
func New(config *Config, processArgs []string) (*Debugger, error) {
	if len(processArgs) == 0 {
		return nil, ErrNoProcessArgs
	}
	if config == nil {
		config = &Config{}
	}
	d := &Debugger{
		config:      config,
		processArgs: processArgs,
		log:         logflags.DebuggerLogger(),
	}

	var flags proc.LaunchFlags
	if d.config.DisableASLR {
		flags |= proc.LaunchDisableASLR
	}
	if d.config.Foreground {
		flags |= proc.LaunchForeground
	}

	d.log.Infof("launching process with args: %v", d.processArgs)
	t, err := launch(d.processArgs, d.config.WorkingDir, flags, d.config.TTY)
	if err != nil {
		return nil, fmt.Errorf("could not launch process: %w", err)
	}
	d.target = t
	return d, nil
}

// ProcessPid returns the PID of the process the debugger is attached to.
func (d *Debugger) ProcessPid() int {
	d.processMutex.Lock()
	defer d.processMutex.Unlock()
	return d.target.Pid()
}

// Exited returns true if the process has exited or was killed.
func (d *Debugger) Exited() bool {
	d.processMutex.Lock()
	defer d.processMutex.Unlock()
	return d.target.Exited()
}

// Detach detaches from the target process.
// If `kill` is true we will kill the process after
// detaching.
func (d *Debugger) Detach(kill bool) error {
	d.processMutex.Lock()
	defer d.processMutex.Unlock()

	d.log.Debugf("detaching, kill=%v", kill)
	return d.target.Detach(kill)
}

// Continue resumes the process until the next stop.
func (d *Debugger) Continue() (proc.StopState, error) {
	d.processMutex.Lock()
	defer d.processMutex.Unlock()

	state, err := d.target.Continue()
	if err != nil {
		if proc.IsProcessExited(err) {
			d.log.Infof("%v", err)
		}
		return state, err
	}
	d.log.Debugf("stopped: %v at %#x", state.Reason, state.Addr())
	return state, nil
}

// StepInstruction executes a single instruction.
func (d *Debugger) StepInstruction() (proc.StopState, error) {
	d.processMutex.Lock()
	defer d.processMutex.Unlock()

	return d.target.StepInstruction()
}

// CreateBreakpoint creates a breakpoint at addr.
func (d *Debugger) CreateBreakpoint(addr uint64) (*proc.Breakpoint, error) {
	d.processMutex.Lock()
	defer d.processMutex.Unlock()

	bp, err := d.target.SetBreakpoint(addr)
	if err != nil {
		return nil, err
	}
	d.log.Infof("created breakpoint: %v", bp)
	return bp, nil
}

// Breakpoints returns the list of current breakpoints, ordered by address.
func (d *Debugger) Breakpoints() []*proc.Breakpoint {
	d.processMutex.Lock()
	defer d.processMutex.Unlock()

	return d.target.Breakpoints.Sorted()
}

// Registers returns a snapshot of every register.
func (d *Debugger) Registers() (*proc.AMD64PtraceRegs, error) {
	d.processMutex.Lock()
	defer d.processMutex.Unlock()

	return d.target.Registers()
}

// ReadRegister returns the value of the register called name.
func (d *Debugger) ReadRegister(name string) (uint64, error) {
	reg, err := proc.ParseRegister(name)
	if err != nil {
		return 0, err
	}

	d.processMutex.Lock()
	defer d.processMutex.Unlock()

	return d.target.ReadRegister(reg)
}

// WriteRegister sets the register called name to value.
func (d *Debugger) WriteRegister(name string, value uint64) error {
	reg, err := proc.ParseRegister(name)
	if err != nil {
		return err
	}

	d.processMutex.Lock()
	defer d.processMutex.Unlock()

	if logflags.Debugger() {
		d.log.Debugf("setting %s to %#x", reg, value)
	}
	return d.target.WriteRegister(reg, value)
}

// ReadMemory reads the word at addr.
func (d *Debugger) ReadMemory(addr uint64) (uint64, error) {
	d.processMutex.Lock()
	defer d.processMutex.Unlock()

	return d.target.ReadMemory(addr)
}

// WriteMemory writes the word value at addr.
func (d *Debugger) WriteMemory(addr, value uint64) error {
	d.processMutex.Lock()
	defer d.processMutex.Unlock()

	if logflags.Debugger() {
		d.log.Debugf("writing %#x at %#x", value, addr)
	}
	return d.target.WriteMemory(addr, value)
}

// CurrentInstruction decodes the instruction at addr using the configured
// assembly flavour.
func (d *Debugger) CurrentInstruction(addr uint64) (*proc.AsmInstruction, error) {
	d.processMutex.Lock()
	defer d.processMutex.Unlock()

	return d.target.Disassemble(addr, d.config.Flavour)
}
