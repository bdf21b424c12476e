package proc

import (
	"encoding/binary"
	"fmt"

	"golang.org/x/arch/x86/x86asm"
)

// AssemblyFlavour is the assembly syntax to display.
type AssemblyFlavour int

const (
	// IntelFlavour will display Intel assembly syntax.
	IntelFlavour = AssemblyFlavour(iota)
	// GNUFlavour will display GNU assembly syntax.
	GNUFlavour
)

// AsmInstruction represents one assembly instruction.
type AsmInstruction struct {
	Loc   uint64
	Bytes []byte
	Text  string
	// Breakpoint is true if a breakpoint is enabled at Loc. Bytes and Text
	// describe the original instruction, not the trap.
	Breakpoint bool
}

type disasmKey struct {
	addr    uint64
	flavour AssemblyFlavour
	raw     [2 * wordSize]byte
}

// Disassemble decodes the instruction at addr. Trap instructions written
// by breakpoints are replaced with the bytes they patched over before
// decoding.
func (t *Target) Disassemble(addr uint64, flavour AssemblyFlavour) (*AsmInstruction, error) {
	if err := t.checkAlive(); err != nil {
		return nil, err
	}

	var key disasmKey
	key.addr, key.flavour = addr, flavour
	n := 0
	for i := 0; i < 2; i++ {
		word, err := ReadWord(t.proc, addr+uint64(i*wordSize))
		if err != nil {
			if i == 0 {
				return nil, err
			}
			// the second word may be past the end of the mapping
			break
		}
		binary.LittleEndian.PutUint64(key.raw[i*wordSize:], word)
		n += wordSize
	}
	buf := key.raw[:n]
	t.Breakpoints.unpatch(addr, buf)

	var asm AsmInstruction
	if v, ok := t.disasm.Get(key); ok {
		asm = *v.(*AsmInstruction)
	} else {
		inst, err := x86asm.Decode(buf, 64)
		if err != nil {
			return nil, fmt.Errorf("could not decode instruction at %#x: %w", addr, err)
		}
		asm = AsmInstruction{
			Loc:   addr,
			Bytes: append([]byte(nil), buf[:inst.Len]...),
			Text:  asmText(inst, addr, flavour),
		}
		cached := asm
		t.disasm.Add(key, &cached)
	}
	if bp, ok := t.Breakpoints.Lookup(addr); ok && bp.IsEnabled() {
		asm.Breakpoint = true
	}
	return &asm, nil
}

func asmText(inst x86asm.Inst, pc uint64, flavour AssemblyFlavour) string {
	switch flavour {
	case GNUFlavour:
		return x86asm.GNUSyntax(inst, pc, nil)
	default:
		return x86asm.IntelSyntax(inst, pc, nil)
	}
}
