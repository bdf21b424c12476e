package test

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

// LoadAddress is the virtual address fixtures are linked at. The first
// instruction follows the ELF and program headers.
const LoadAddress = 0x400000

const headerSize = 64 + 56

// EntryPoint is the address of the first instruction of every fixture.
const EntryPoint = LoadAddress + headerSize

// Programs maps fixture names to their machine code. Every program ends
// with an exit system call.
var Programs = map[string][]byte{
	// exit(0) after a first, harmless, instruction.
	"exit": {
		0xb8, 0x37, 0x13, 0x00, 0x00, // mov eax, 0x1337
		0xb8, 0x3c, 0x00, 0x00, 0x00, // mov eax, 60
		0x31, 0xff, // xor edi, edi
		0x0f, 0x05, // syscall
	},
	// runs the instruction at offset 5 three times, then exit(7).
	"loop": {
		0xb9, 0x03, 0x00, 0x00, 0x00, // mov ecx, 3
		0xff, 0xc9, // dec ecx
		0x75, 0xfc, // jnz -4
		0xb8, 0x3c, 0x00, 0x00, 0x00, // mov eax, 60
		0xbf, 0x07, 0x00, 0x00, 0x00, // mov edi, 7
		0x0f, 0x05, // syscall
	},
}

// Fixture is a test binary.
type Fixture struct {
	// Name is the short name of the fixture.
	Name string
	// Path is the absolute path to the test binary.
	Path string
	// Code is the machine code loaded at EntryPoint.
	Code []byte
}

// Addr returns the address of the instruction at offset off of the
// fixture's code.
func (f Fixture) Addr(off int) uint64 {
	return EntryPoint + uint64(off)
}

// Fixtures is a map of Fixture.Name to Fixture.
var Fixtures = make(map[string]Fixture)

var fixturesDir string

// BuildFixture writes the program called name as a static ELF executable.
func BuildFixture(name string) Fixture {
	if f, ok := Fixtures[name]; ok {
		return f
	}
	code, ok := Programs[name]
	if !ok {
		panic(fmt.Sprintf("unknown fixture %q", name))
	}
	dir := fixturesDir
	if dir == "" {
		dir = os.TempDir()
	}
	path := filepath.Join(dir, name)
	if err := ioutil.WriteFile(path, ELF(code), 0755); err != nil {
		fmt.Printf("Error writing %s: %s\n", path, err)
		os.Exit(1)
	}
	Fixtures[name] = Fixture{Name: name, Path: path, Code: code}
	return Fixtures[name]
}

// ELF returns a minimal static x86_64 executable with a single loadable
// segment holding code.
func ELF(code []byte) []byte {
	size := uint64(headerSize + len(code))
	hdr := elf.Header64{
		Type:      uint16(elf.ET_EXEC),
		Machine:   uint16(elf.EM_X86_64),
		Version:   uint32(elf.EV_CURRENT),
		Entry:     EntryPoint,
		Phoff:     64,
		Ehsize:    64,
		Phentsize: 56,
		Phnum:     1,
	}
	copy(hdr.Ident[:], elf.ELFMAG)
	hdr.Ident[elf.EI_CLASS] = byte(elf.ELFCLASS64)
	hdr.Ident[elf.EI_DATA] = byte(elf.ELFDATA2LSB)
	hdr.Ident[elf.EI_VERSION] = byte(elf.EV_CURRENT)
	hdr.Ident[elf.EI_OSABI] = byte(elf.ELFOSABI_NONE)

	prog := elf.Prog64{
		Type:   uint32(elf.PT_LOAD),
		Flags:  uint32(elf.PF_R | elf.PF_X),
		Off:    0,
		Vaddr:  LoadAddress,
		Paddr:  LoadAddress,
		Filesz: size,
		Memsz:  size,
		Align:  0x1000,
	}

	var buf bytes.Buffer
	binary.Write(&buf, binary.LittleEndian, &hdr)
	binary.Write(&buf, binary.LittleEndian, &prog)
	buf.Write(code)
	return buf.Bytes()
}

// RunTestsWithFixtures creates the directory fixtures are written to, runs
// the tests and removes it.
func RunTestsWithFixtures(m *testing.M) int {
	dir, err := ioutil.TempDir("", "tdbg-fixtures")
	if err != nil {
		fmt.Printf("Error creating fixtures directory: %v\n", err)
		return 1
	}
	fixturesDir = dir
	status := m.Run()
	SafeRemoveAll(dir)
	fixturesDir = ""
	Fixtures = make(map[string]Fixture)
	return status
}

// NativeSupported skips the test unless it runs on linux/amd64, the only
// platform the native backend supports.
func NativeSupported(t testing.TB) {
	if runtime.GOOS != "linux" || runtime.GOARCH != "amd64" {
		t.Skipf("native backend not supported on %s/%s", runtime.GOOS, runtime.GOARCH)
	}
}

// SafeRemoveAll removes dir and its contents but only as long as dir does
// not contain directories.
func SafeRemoveAll(dir string) {
	dh, err := os.Open(dir)
	if err != nil {
		return
	}
	defer dh.Close()
	fis, err := dh.Readdir(-1)
	if err != nil {
		return
	}
	for _, fi := range fis {
		if fi.IsDir() {
			return
		}
	}
	for _, fi := range fis {
		if err := os.Remove(filepath.Join(dir, fi.Name())); err != nil {
			return
		}
	}
	os.Remove(dir)
}
