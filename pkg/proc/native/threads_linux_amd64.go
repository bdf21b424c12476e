//go:build linux && amd64

package native

import (
	sys "golang.org/x/sys/unix"

	"github.com/tdbg-dev/tdbg/pkg/proc"
)

// WriteMemory writes data at addr with PTRACE_POKEDATA. Writes to read-only
// mappings, such as the text segment, succeed.
func (dbp *nativeProcess) WriteMemory(addr uintptr, data []byte) (written int, err error) {
	if err := dbp.checkValid(); err != nil {
		return 0, err
	}
	if len(data) == 0 {
		return
	}
	dbp.execPtraceFunc(func() { written, err = sys.PtracePokeData(dbp.pid, addr, data) })
	return
}

// ReadMemory reads len(data) bytes at addr. process_vm_readv is tried first,
// it does not see pages that are not readable so PTRACE_PEEKDATA is used as
// a fallback.
func (dbp *nativeProcess) ReadMemory(data []byte, addr uintptr) (n int, err error) {
	if err := dbp.checkValid(); err != nil {
		return 0, err
	}
	if len(data) == 0 {
		return
	}
	n, err = processVmRead(dbp.pid, addr, data)
	if err == nil && n == len(data) {
		return n, nil
	}
	dbp.execPtraceFunc(func() { n, err = sys.PtracePeekData(dbp.pid, addr, data) })
	return
}

// GetRegs fetches the general purpose registers with PTRACE_GETREGS.
func (dbp *nativeProcess) GetRegs(regs *proc.AMD64PtraceRegs) (err error) {
	if err := dbp.checkValid(); err != nil {
		return err
	}
	dbp.execPtraceFunc(func() { err = sys.PtraceGetRegs(dbp.pid, (*sys.PtraceRegs)(regs)) })
	return
}

// SetRegs writes the general purpose registers with PTRACE_SETREGS.
func (dbp *nativeProcess) SetRegs(regs *proc.AMD64PtraceRegs) (err error) {
	if err := dbp.checkValid(); err != nil {
		return err
	}
	dbp.execPtraceFunc(func() { err = sys.PtraceSetRegs(dbp.pid, (*sys.PtraceRegs)(regs)) })
	return
}
