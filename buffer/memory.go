package buffer

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Buffer envelope layout. Byte 0 is a reserved format tag, bytes 1..3 hold
// the big endian address of the root value record (0 = absent), and the heap
// of freely allocated records begins at byte 3. Addresses are byte offsets
// into the buffer, so address 0 can never name a record and doubles as the
// universal "no value" sentinel.
const (
	formatTagOffset   = 0
	rootPointerOffset = 1
	heapStart         = 3

	maxBufferBytes = math.MaxUint16
)

// memory owns the byte vector backing a buffer. Allocation is append only:
// records are never moved or freed in place, which keeps every live address
// stable and makes a partially applied mutation harmless (dead space only).
type memory struct {
	b []byte
}

func newMemory() *memory {
	return &memory{b: []byte{0, 0, 0}}
}

func openMemory(b []byte) (*memory, error) {
	if len(b) < heapStart {
		return nil, fmt.Errorf("buffer shorter than its envelope: %w", ErrMalformed)
	}
	if len(b) > maxBufferBytes {
		return nil, fmt.Errorf("buffer exceeds %d bytes: %w", maxBufferBytes, ErrMalformed)
	}
	return &memory{b: b}, nil
}

func (m *memory) length() int { return len(m.b) }

// allocate appends n zero bytes and returns the address of the first.
func (m *memory) allocate(n int) (int, error) {
	if len(m.b)+n > maxBufferBytes {
		return 0, ErrBufferFull
	}
	addr := len(m.b)
	m.b = append(m.b, make([]byte, n)...)
	return addr, nil
}

// region returns the n bytes at addr, bounds checked.
func (m *memory) region(addr, n int) ([]byte, error) {
	if addr < heapStart || n < 0 || addr+n > len(m.b) {
		return nil, fmt.Errorf("address %d+%d outside buffer of %d bytes: %w", addr, n, len(m.b), ErrMalformed)
	}
	return m.b[addr : addr+n], nil
}

func (m *memory) readU16(addr int) (int, error) {
	r, err := m.region(addr, 2)
	if err != nil {
		return 0, err
	}
	return int(binary.BigEndian.Uint16(r)), nil
}

func (m *memory) writeU16(addr, v int) error {
	r, err := m.region(addr, 2)
	if err != nil {
		return err
	}
	binary.BigEndian.PutUint16(r, uint16(v))
	return nil
}

func u16(b []byte) uint16 { return binary.BigEndian.Uint16(b) }

func putU16(b []byte, v int) { binary.BigEndian.PutUint16(b, uint16(v)) }

func (m *memory) root() int {
	return int(binary.BigEndian.Uint16(m.b[rootPointerOffset:]))
}

func (m *memory) setRoot(addr int) {
	binary.BigEndian.PutUint16(m.b[rootPointerOffset:], uint16(addr))
}
