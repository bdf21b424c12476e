package test

import (
	"errors"
	"fmt"
	"syscall"

	"github.com/tdbg-dev/tdbg/pkg/proc"
)

const (
	eflagsZF     = 1 << 6
	stackAddress = 0x7ffffffde000
	pageSize     = 0x1000

	// maxFakeSteps bounds a resume of a program that never traps.
	maxFakeSteps = 1 << 20
)

// ErrNotStopped is returned by FakeProcess when an operation requires a
// stopped process or a pending stop.
var ErrNotStopped = errors.New("process is not stopped")

// FakeProcess is an in-memory proc.Process that interprets the small
// subset of x86-64 used by Programs. Memory is byte granular; reads and
// writes touching an unmapped byte fail with EFAULT.
type FakeProcess struct {
	PID  int
	Regs proc.AMD64PtraceRegs
	Mem  map[uint64]byte

	// Signal, if not zero, is delivered instead of executing anything the
	// next time the process is resumed or stepped.
	Signal syscall.Signal
	// FailWrites makes every WriteMemory fail.
	FailWrites bool
	// ReadOnly, if not zero, is a mapped address that can be read but not
	// written.
	ReadOnly uint64
	// WaitErr, if not nil, is returned by the next Wait instead of the stop.
	WaitErr error
	// StepErr, if not nil, is returned by the next SingleStep.
	StepErr error

	// Counters of the primitives invoked.
	Resumes, SingleSteps, RegPushes, RegFetches int

	pending  *proc.StopEvent
	exited   *proc.ProcessExitedError
	detached bool
}

// NewFakeProcess returns a stopped FakeProcess with the program called
// name loaded at EntryPoint and the instruction pointer on its first
// instruction.
func NewFakeProcess(name string) *FakeProcess {
	code, ok := Programs[name]
	if !ok {
		panic(fmt.Sprintf("unknown fixture %q", name))
	}
	p := &FakeProcess{PID: 4242, Mem: make(map[uint64]byte)}
	image := make([]byte, pageSize)
	copy(image, ELF(code))
	p.Map(LoadAddress, image)
	p.Map(stackAddress-pageSize, make([]byte, pageSize))
	p.Regs.Rip = EntryPoint
	p.Regs.Rsp = stackAddress
	p.Regs.Cs = 0x33
	p.Regs.Ss = 0x2b
	p.Regs.Eflags = 0x200
	return p
}

// Map makes data readable and writable at addr.
func (p *FakeProcess) Map(addr uint64, data []byte) {
	for i, b := range data {
		p.Mem[addr+uint64(i)] = b
	}
}

// Bytes returns n bytes of memory at addr, ignoring unmapped bytes.
func (p *FakeProcess) Bytes(addr uint64, n int) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = p.Mem[addr+uint64(i)]
	}
	return out
}

func (p *FakeProcess) Pid() int {
	return p.PID
}

func (p *FakeProcess) check() error {
	if p.detached || p.exited != nil {
		return syscall.ESRCH
	}
	return nil
}

func (p *FakeProcess) ReadMemory(buf []byte, addr uintptr) (int, error) {
	if err := p.check(); err != nil {
		return 0, err
	}
	for i := range buf {
		b, ok := p.Mem[uint64(addr)+uint64(i)]
		if !ok {
			return i, syscall.EFAULT
		}
		buf[i] = b
	}
	return len(buf), nil
}

func (p *FakeProcess) WriteMemory(addr uintptr, data []byte) (int, error) {
	if err := p.check(); err != nil {
		return 0, err
	}
	if p.FailWrites {
		return 0, syscall.EIO
	}
	// like the kernel, bytes before the first bad one are written
	for i, b := range data {
		a := uint64(addr) + uint64(i)
		if _, ok := p.Mem[a]; !ok || (p.ReadOnly != 0 && a == p.ReadOnly) {
			return i, syscall.EFAULT
		}
		p.Mem[a] = b
	}
	return len(data), nil
}

func (p *FakeProcess) GetRegs(regs *proc.AMD64PtraceRegs) error {
	if err := p.check(); err != nil {
		return err
	}
	p.RegFetches++
	*regs = p.Regs
	return nil
}

func (p *FakeProcess) SetRegs(regs *proc.AMD64PtraceRegs) error {
	if err := p.check(); err != nil {
		return err
	}
	p.RegPushes++
	p.Regs = *regs
	return nil
}

func (p *FakeProcess) Resume() error {
	if err := p.check(); err != nil {
		return err
	}
	p.Resumes++
	if p.deliverSignal() {
		return nil
	}
	for i := 0; i < maxFakeSteps; i++ {
		if p.step() {
			return nil
		}
	}
	p.pending = &proc.StopEvent{Signal: syscall.SIGXCPU}
	return nil
}

func (p *FakeProcess) SingleStep() error {
	if err := p.check(); err != nil {
		return err
	}
	if err := p.StepErr; err != nil {
		p.StepErr = nil
		return err
	}
	p.SingleSteps++
	if p.deliverSignal() {
		return nil
	}
	if !p.step() {
		p.pending = &proc.StopEvent{Signal: syscall.SIGTRAP}
	}
	return nil
}

func (p *FakeProcess) Wait() (proc.StopEvent, error) {
	if p.exited != nil {
		return proc.StopEvent{}, *p.exited
	}
	if err := p.WaitErr; err != nil {
		p.WaitErr = nil
		p.pending = nil
		return proc.StopEvent{}, err
	}
	if p.pending == nil {
		return proc.StopEvent{}, ErrNotStopped
	}
	ev := *p.pending
	p.pending = nil
	return ev, nil
}

func (p *FakeProcess) Detach(kill bool) error {
	if err := p.check(); err != nil {
		return err
	}
	if kill {
		p.exited = &proc.ProcessExitedError{Pid: p.PID, Signal: syscall.SIGKILL}
		return nil
	}
	p.detached = true
	return nil
}

// Detached returns true if the process was released without being killed.
func (p *FakeProcess) Detached() bool {
	return p.detached
}

func (p *FakeProcess) deliverSignal() bool {
	if p.Signal == 0 {
		return false
	}
	p.pending = &proc.StopEvent{Signal: p.Signal}
	p.Signal = 0
	return true
}

func (p *FakeProcess) fetch(off uint64) (byte, bool) {
	b, ok := p.Mem[p.Regs.Rip+off]
	return b, ok
}

func (p *FakeProcess) imm32(off uint64) (uint64, bool) {
	var v uint64
	for i := uint64(0); i < 4; i++ {
		b, ok := p.fetch(off + i)
		if !ok {
			return 0, false
		}
		v |= uint64(b) << (8 * i)
	}
	return v, true
}

func (p *FakeProcess) stop(sig syscall.Signal) bool {
	p.pending = &proc.StopEvent{Signal: sig}
	return true
}

// step executes one instruction. It returns true if the process stopped
// or exited as a result.
func (p *FakeProcess) step() bool {
	r := &p.Regs
	op, ok := p.fetch(0)
	if !ok {
		return p.stop(syscall.SIGSEGV)
	}
	switch op {
	case 0x90: // nop
		r.Rip++
	case 0xcc: // int3
		r.Rip++
		return p.stop(syscall.SIGTRAP)
	case 0xb8, 0xb9, 0xbf: // mov r32, imm32
		v, ok := p.imm32(1)
		if !ok {
			return p.stop(syscall.SIGSEGV)
		}
		switch op {
		case 0xb8:
			r.Rax = v
		case 0xb9:
			r.Rcx = v
		case 0xbf:
			r.Rdi = v
		}
		r.Rip += 5
	case 0x31, 0xff, 0x0f:
		modrm, ok := p.fetch(1)
		if !ok {
			return p.stop(syscall.SIGSEGV)
		}
		switch {
		case op == 0x31 && modrm == 0xff: // xor edi, edi
			r.Rdi = 0
			r.Eflags |= eflagsZF
		case op == 0xff && modrm == 0xc9: // dec ecx
			r.Rcx = uint64(uint32(r.Rcx) - 1)
			if r.Rcx == 0 {
				r.Eflags |= eflagsZF
			} else {
				r.Eflags &^= eflagsZF
			}
		case op == 0x0f && modrm == 0x05: // syscall
			r.Rip += 2
			return p.syscall()
		default:
			return p.stop(syscall.SIGILL)
		}
		r.Rip += 2
	case 0x75, 0xeb: // jnz rel8, jmp rel8
		rel, ok := p.fetch(1)
		if !ok {
			return p.stop(syscall.SIGSEGV)
		}
		r.Rip += 2
		if op == 0xeb || r.Eflags&eflagsZF == 0 {
			r.Rip = uint64(int64(r.Rip) + int64(int8(rel)))
		}
	default:
		return p.stop(syscall.SIGILL)
	}
	return false
}

func (p *FakeProcess) syscall() bool {
	r := &p.Regs
	r.Rcx = r.Rip
	switch r.Rax {
	case 60, 231: // exit, exit_group
		p.exited = &proc.ProcessExitedError{Pid: p.PID, Status: int(r.Rdi & 0xff)}
		p.pending = nil
		return true
	default:
		errno := int64(syscall.ENOSYS)
		r.Rax = uint64(-errno)
	}
	return false
}
