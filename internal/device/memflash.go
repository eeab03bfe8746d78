package device

import (
	"bytes"
	"sync"

	"otad/internal/partition"
)

// WriteOp records one call to Write.
type WriteOp struct {
	Addr uint32
	Len  int
}

// MemFlash is a volatile flash held in memory.  It logs every erase
// and write so callers can inspect the access pattern.
type MemFlash struct {
	mu     sync.Mutex
	data   []byte
	writes []WriteOp
	erases []int
}

// NewMemFlash returns an erased device of size bytes.
func NewMemFlash(size int) *MemFlash {
	return &MemFlash{data: bytes.Repeat([]byte{0xFF}, size)}
}

func (m *MemFlash) EraseSector(index int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	addr, err := sectorAddr(index, len(m.data))
	if err != nil {
		return err
	}
	for i := addr; i < addr+partition.SectorSize; i++ {
		m.data[i] = 0xFF
	}
	m.erases = append(m.erases, index)
	return nil
}

func (m *MemFlash) Write(addr uint32, p []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := checkRange("write", addr, len(p), len(m.data)); err != nil {
		return err
	}
	for i, b := range p {
		m.data[int(addr)+i] &= b
	}
	m.writes = append(m.writes, WriteOp{Addr: addr, Len: len(p)})
	return nil
}

func (m *MemFlash) Read(addr uint32, n int) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := checkRange("read", addr, n, len(m.data)); err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, m.data[addr:])
	return out, nil
}

// Writes returns a copy of the write log.
func (m *MemFlash) Writes() []WriteOp {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]WriteOp(nil), m.writes...)
}

// Erases returns a copy of the erased sector indices, in order.
func (m *MemFlash) Erases() []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]int(nil), m.erases...)
}

// Load copies p into the device at addr without logging, as a
// programmer would before the device boots.
func (m *MemFlash) Load(addr uint32, p []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	copy(m.data[addr:], p)
}
