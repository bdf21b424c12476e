package proc

import (
	"fmt"
	"sort"
)

// breakpointInstruction is INT 3, the one byte software breakpoint trap.
const breakpointInstruction byte = 0xCC

// BreakpointState is the patch state of a breakpoint.
type BreakpointState uint8

const (
	// BreakpointUninitialized breakpoints have never been written to memory.
	BreakpointUninitialized BreakpointState = iota
	// BreakpointEnabled breakpoints have the trap instruction in memory.
	BreakpointEnabled
	// BreakpointDisabled breakpoints have the original word restored.
	BreakpointDisabled
)

func (s BreakpointState) String() string {
	switch s {
	case BreakpointEnabled:
		return "enabled"
	case BreakpointDisabled:
		return "disabled"
	default:
		return "uninitialized"
	}
}

// Breakpoint represents a software breakpoint. Stores the word of data
// that originally was stored at its address.
//
// While enabled the word resident in memory at Addr is savedWord with its
// lowest byte replaced by the trap instruction; while disabled it is
// savedWord itself.
type Breakpoint struct {
	Addr uint64 // Address breakpoint is set for.
	ID   int

	state     BreakpointState
	savedWord uint64
}

func (bp *Breakpoint) String() string {
	return fmt.Sprintf("Breakpoint %d at %#x (%s)", bp.ID, bp.Addr, bp.state)
}

// State returns the patch state of bp.
func (bp *Breakpoint) State() BreakpointState {
	return bp.state
}

// IsEnabled returns true if the trap instruction is currently in memory.
func (bp *Breakpoint) IsEnabled() bool {
	return bp.state == BreakpointEnabled
}

// OriginalByte returns the instruction byte replaced by the trap. It is
// only meaningful once the breakpoint has been enabled.
func (bp *Breakpoint) OriginalByte() byte {
	return byte(bp.savedWord)
}

// Enable saves the word at bp.Addr and writes it back with the trap
// instruction in its lowest byte. Enabling an enabled breakpoint does
// nothing: re-reading memory would save the trap instead of the original
// instruction.
// If reading or writing memory fails bp is left unchanged.
func (bp *Breakpoint) Enable(mem MemoryReadWriter) error {
	if bp.state == BreakpointEnabled {
		return nil
	}
	word, err := ReadWord(mem, bp.Addr)
	if err != nil {
		return err
	}
	patched := (word &^ 0xff) | uint64(breakpointInstruction)
	if err := WriteWord(mem, bp.Addr, patched); err != nil {
		return err
	}
	bp.savedWord = word
	bp.state = BreakpointEnabled
	return nil
}

// Disable writes the saved word back. Disabling a disabled breakpoint
// rewrites the same word, a breakpoint that was never enabled has nothing
// to restore.
func (bp *Breakpoint) Disable(mem MemoryReadWriter) error {
	if bp.state == BreakpointUninitialized {
		return nil
	}
	if err := WriteWord(mem, bp.Addr, bp.savedWord); err != nil {
		return err
	}
	bp.state = BreakpointDisabled
	return nil
}

// BreakpointExistsError is returned when trying to set a breakpoint at
// an address that already has an enabled breakpoint set for it.
type BreakpointExistsError struct {
	Addr uint64
}

func (bpe BreakpointExistsError) Error() string {
	return fmt.Sprintf("Breakpoint exists at %#x", bpe.Addr)
}

// BreakpointMap represents an (address, breakpoint) map. The map is the
// only owner of its breakpoints, callers get pointers into it.
type BreakpointMap struct {
	M map[uint64]*Breakpoint

	breakpointIDCounter int
}

// NewBreakpointMap creates a new BreakpointMap.
func NewBreakpointMap() BreakpointMap {
	return BreakpointMap{
		M: make(map[uint64]*Breakpoint),
	}
}

// Set creates a breakpoint at addr and enables it. The breakpoint is only
// added to the map if writing it to memory succeeds.
// An enabled breakpoint already at addr is reported as a
// BreakpointExistsError, a disabled one is replaced.
func (bpmap *BreakpointMap) Set(mem MemoryReadWriter, addr uint64) (*Breakpoint, error) {
	if bp, ok := bpmap.M[addr]; ok && bp.IsEnabled() {
		return bp, BreakpointExistsError{Addr: addr}
	}

	newBreakpoint := &Breakpoint{Addr: addr}
	if err := newBreakpoint.Enable(mem); err != nil {
		return nil, err
	}
	bpmap.breakpointIDCounter++
	newBreakpoint.ID = bpmap.breakpointIDCounter
	bpmap.M[addr] = newBreakpoint
	return newBreakpoint, nil
}

// Lookup returns the breakpoint at addr.
func (bpmap *BreakpointMap) Lookup(addr uint64) (*Breakpoint, bool) {
	bp, ok := bpmap.M[addr]
	return bp, ok
}

// Contains returns true if there is a breakpoint at addr.
func (bpmap *BreakpointMap) Contains(addr uint64) bool {
	_, ok := bpmap.M[addr]
	return ok
}

// Sorted returns all breakpoints ordered by address.
func (bpmap *BreakpointMap) Sorted() []*Breakpoint {
	bps := make([]*Breakpoint, 0, len(bpmap.M))
	for _, bp := range bpmap.M {
		bps = append(bps, bp)
	}
	sort.Slice(bps, func(i, j int) bool { return bps[i].Addr < bps[j].Addr })
	return bps
}

// unpatch replaces, in buf read from addr, every trap instruction written
// by an enabled breakpoint with the original byte.
func (bpmap *BreakpointMap) unpatch(addr uint64, buf []byte) {
	for _, bp := range bpmap.M {
		if !bp.IsEnabled() || bp.Addr < addr || bp.Addr >= addr+uint64(len(buf)) {
			continue
		}
		buf[bp.Addr-addr] = bp.OriginalByte()
	}
}
