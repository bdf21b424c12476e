package proc

import (
	"encoding/binary"
	"fmt"
)

// wordSize is the granularity of memory accesses.
const wordSize = 8

// MemoryReader is like io.ReaderAt, but the offset is a uintptr so that it
// can address all of 64-bit memory.
type MemoryReader interface {
	// ReadMemory is just like io.ReaderAt.ReadAt.
	ReadMemory(buf []byte, addr uintptr) (n int, err error)
}

// MemoryReadWriter is a MemoryReader that can also write.
type MemoryReadWriter interface {
	MemoryReader
	WriteMemory(addr uintptr, data []byte) (written int, err error)
}

// MemoryAccessError is returned when reading or writing the memory of the
// target fails.
type MemoryAccessError struct {
	Addr  uint64
	Write bool
	Err   error
}

func (e *MemoryAccessError) Error() string {
	op := "read"
	if e.Write {
		op = "write"
	}
	return fmt.Sprintf("could not %s memory at %#x: %v", op, e.Addr, e.Err)
}

func (e *MemoryAccessError) Unwrap() error {
	return e.Err
}

// ReadWord reads the 8 byte little endian word at addr.
func ReadWord(mem MemoryReader, addr uint64) (uint64, error) {
	buf := make([]byte, wordSize)
	n, err := mem.ReadMemory(buf, uintptr(addr))
	if err == nil && n != wordSize {
		err = fmt.Errorf("short read (%d bytes)", n)
	}
	if err != nil {
		return 0, &MemoryAccessError{Addr: addr, Err: err}
	}
	return binary.LittleEndian.Uint64(buf), nil
}

// WriteWord writes value as an 8 byte little endian word at addr. The
// word is read first so that a range reaching into unmapped memory fails
// before anything is written. If the write still stops short the bytes
// already written are put back.
func WriteWord(mem MemoryReadWriter, addr, value uint64) error {
	orig := make([]byte, wordSize)
	if n, err := mem.ReadMemory(orig, uintptr(addr)); err != nil || n != wordSize {
		if err == nil {
			err = fmt.Errorf("short read (%d bytes)", n)
		}
		return &MemoryAccessError{Addr: addr, Write: true, Err: err}
	}

	buf := make([]byte, wordSize)
	binary.LittleEndian.PutUint64(buf, value)
	n, err := mem.WriteMemory(uintptr(addr), buf)
	if err == nil && n != wordSize {
		err = fmt.Errorf("short write (%d bytes)", n)
	}
	if err != nil {
		if n > 0 {
			if _, rerr := mem.WriteMemory(uintptr(addr), orig[:n]); rerr != nil {
				err = fmt.Errorf("%v (restoring %d bytes failed: %v)", err, n, rerr)
			}
		}
		return &MemoryAccessError{Addr: addr, Write: true, Err: err}
	}
	return nil
}
