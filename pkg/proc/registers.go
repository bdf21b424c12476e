package proc

import (
	"fmt"
)

// AMD64PtraceRegs is the struct used by the linux kernel to return the
// general purpose registers for AMD64 CPUs. Its layout matches
// unix.PtraceRegs field for field.
type AMD64PtraceRegs struct {
	R15      uint64
	R14      uint64
	R13      uint64
	R12      uint64
	Rbp      uint64
	Rbx      uint64
	R11      uint64
	R10      uint64
	R9       uint64
	R8       uint64
	Rax      uint64
	Rcx      uint64
	Rdx      uint64
	Rsi      uint64
	Rdi      uint64
	Orig_rax uint64
	Rip      uint64
	Cs       uint64
	Eflags   uint64
	Rsp      uint64
	Ss       uint64
	Fs_base  uint64
	Gs_base  uint64
	Ds       uint64
	Es       uint64
	Fs       uint64
	Gs       uint64
}

// PC returns the value of RIP register.
func (r *AMD64PtraceRegs) PC() uint64 {
	return r.Rip
}

// SetPC sets RIP to pc.
func (r *AMD64PtraceRegs) SetPC(pc uint64) {
	r.Rip = pc
}

// SP returns the value of RSP register.
func (r *AMD64PtraceRegs) SP() uint64 {
	return r.Rsp
}

// Register identifies one slot of AMD64PtraceRegs.
type Register uint8

// Registers in the order the kernel lays them out.
const (
	R15 Register = iota
	R14
	R13
	R12
	Rbp
	Rbx
	R11
	R10
	R9
	R8
	Rax
	Rcx
	Rdx
	Rsi
	Rdi
	OrigRax
	Rip
	Cs
	Eflags
	Rsp
	Ss
	FsBase
	GsBase
	Ds
	Es
	Fs
	Gs

	numRegisters
)

var registerNames = [numRegisters]string{
	R15:     "r15",
	R14:     "r14",
	R13:     "r13",
	R12:     "r12",
	Rbp:     "rbp",
	Rbx:     "rbx",
	R11:     "r11",
	R10:     "r10",
	R9:      "r9",
	R8:      "r8",
	Rax:     "rax",
	Rcx:     "rcx",
	Rdx:     "rdx",
	Rsi:     "rsi",
	Rdi:     "rdi",
	OrigRax: "orig_rax",
	Rip:     "rip",
	Cs:      "cs",
	Eflags:  "eflags",
	Rsp:     "rsp",
	Ss:      "ss",
	FsBase:  "fs_base",
	GsBase:  "gs_base",
	Ds:      "ds",
	Es:      "es",
	Fs:      "fs",
	Gs:      "gs",
}

var registersByName = func() map[string]Register {
	m := make(map[string]Register, numRegisters)
	for i, name := range registerNames {
		m[name] = Register(i)
	}
	return m
}()

func (reg Register) String() string {
	if reg >= numRegisters {
		return fmt.Sprintf("Register(%d)", uint8(reg))
	}
	return registerNames[reg]
}

// AllRegisters returns every register in kernel order.
func AllRegisters() []Register {
	r := make([]Register, numRegisters)
	for i := range r {
		r[i] = Register(i)
	}
	return r
}

// UnknownRegisterError is returned for register names that are not part of
// the general purpose register file.
type UnknownRegisterError struct {
	Name string
}

func (e UnknownRegisterError) Error() string {
	return fmt.Sprintf("unknown register %q", e.Name)
}

// ParseRegister returns the register called name.
func ParseRegister(name string) (Register, error) {
	reg, ok := registersByName[name]
	if !ok {
		return 0, UnknownRegisterError{Name: name}
	}
	return reg, nil
}

// slot returns a pointer to the field of r holding reg.
func (r *AMD64PtraceRegs) slot(reg Register) *uint64 {
	switch reg {
	case R15:
		return &r.R15
	case R14:
		return &r.R14
	case R13:
		return &r.R13
	case R12:
		return &r.R12
	case Rbp:
		return &r.Rbp
	case Rbx:
		return &r.Rbx
	case R11:
		return &r.R11
	case R10:
		return &r.R10
	case R9:
		return &r.R9
	case R8:
		return &r.R8
	case Rax:
		return &r.Rax
	case Rcx:
		return &r.Rcx
	case Rdx:
		return &r.Rdx
	case Rsi:
		return &r.Rsi
	case Rdi:
		return &r.Rdi
	case OrigRax:
		return &r.Orig_rax
	case Rip:
		return &r.Rip
	case Cs:
		return &r.Cs
	case Eflags:
		return &r.Eflags
	case Rsp:
		return &r.Rsp
	case Ss:
		return &r.Ss
	case FsBase:
		return &r.Fs_base
	case GsBase:
		return &r.Gs_base
	case Ds:
		return &r.Ds
	case Es:
		return &r.Es
	case Fs:
		return &r.Fs
	case Gs:
		return &r.Gs
	}
	return nil
}

// Get returns the value of reg.
func (r *AMD64PtraceRegs) Get(reg Register) (uint64, error) {
	p := r.slot(reg)
	if p == nil {
		return 0, UnknownRegisterError{Name: reg.String()}
	}
	return *p, nil
}

// Set changes the value of reg. Only r is modified, the caller must push
// the snapshot back to the tracee.
func (r *AMD64PtraceRegs) Set(reg Register, value uint64) error {
	p := r.slot(reg)
	if p == nil {
		return UnknownRegisterError{Name: reg.String()}
	}
	*p = value
	return nil
}

// RegisterValue is a (register, value) pair of a snapshot.
type RegisterValue struct {
	Reg   Register
	Value uint64
}

// Slice returns the registers as a list of (register, value) pairs in
// kernel order.
func (r *AMD64PtraceRegs) Slice() []RegisterValue {
	out := make([]RegisterValue, 0, numRegisters)
	for _, reg := range AllRegisters() {
		out = append(out, RegisterValue{Reg: reg, Value: *r.slot(reg)})
	}
	return out
}
