// Package physmem provides the physical address space shared by all cores of
// a cluster, backed by Akita's storage.
package physmem

import (
	"encoding/binary"
	"fmt"
	"sort"
	"sync"

	"github.com/sarchlab/akita/v4/mem/mem"
)

// BusError is a transaction-level failure of a physical access. It is not an
// architectural fault; the MMU reports it as an external abort.
type BusError struct {
	Addr  uint64
	Size  int
	Write bool
}

func (e *BusError) Error() string {
	dir := "read"
	if e.Write {
		dir = "write"
	}
	return fmt.Sprintf("bus error: %d-byte %s at %#x", e.Size, dir, e.Addr)
}

type abortRange struct {
	start, end uint64
}

// Memory is a byte-addressable physical address space.
type Memory struct {
	storage  *mem.Storage
	capacity uint64

	mu     sync.RWMutex
	aborts []abortRange
}

// New creates a physical memory of capacity bytes.
func New(capacity uint64) *Memory {
	return &Memory{
		storage:  mem.NewStorage(capacity),
		capacity: capacity,
	}
}

// Capacity returns the size of the address space in bytes.
func (m *Memory) Capacity() uint64 {
	return m.capacity
}

// AddAbortRegion makes every access to [start, start+size) fail with a
// BusError. It models unpopulated or faulting bus regions.
func (m *Memory) AddAbortRegion(start, size uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.aborts = append(m.aborts, abortRange{start: start, end: start + size})
	sort.Slice(m.aborts, func(i, j int) bool {
		return m.aborts[i].start < m.aborts[j].start
	})
}

func (m *Memory) check(addr uint64, size int, write bool) error {
	end := addr + uint64(size)
	if end < addr || end > m.capacity {
		return &BusError{Addr: addr, Size: size, Write: write}
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, r := range m.aborts {
		if addr < r.end && end > r.start {
			return &BusError{Addr: addr, Size: size, Write: write}
		}
	}
	return nil
}

// Read copies size bytes starting at addr.
func (m *Memory) Read(addr uint64, size int) ([]byte, error) {
	if err := m.check(addr, size, false); err != nil {
		return nil, err
	}
	data, err := m.storage.Read(addr, uint64(size))
	if err != nil {
		return nil, fmt.Errorf("read %#x: %w", addr, err)
	}
	return data, nil
}

// Write stores data at addr.
func (m *Memory) Write(addr uint64, data []byte) error {
	if err := m.check(addr, len(data), true); err != nil {
		return err
	}
	if err := m.storage.Write(addr, data); err != nil {
		return fmt.Errorf("write %#x: %w", addr, err)
	}
	return nil
}

func order(bigEndian bool) binary.ByteOrder {
	if bigEndian {
		return binary.BigEndian
	}
	return binary.LittleEndian
}

// Load32 reads a 32-bit value in the requested byte order.
func (m *Memory) Load32(addr uint64, bigEndian bool) (uint32, error) {
	b, err := m.Read(addr, 4)
	if err != nil {
		return 0, err
	}
	return order(bigEndian).Uint32(b), nil
}

// Load64 reads a 64-bit value in the requested byte order.
func (m *Memory) Load64(addr uint64, bigEndian bool) (uint64, error) {
	b, err := m.Read(addr, 8)
	if err != nil {
		return 0, err
	}
	return order(bigEndian).Uint64(b), nil
}

// Store32 writes a 32-bit value in the requested byte order.
func (m *Memory) Store32(addr uint64, v uint32, bigEndian bool) error {
	b := make([]byte, 4)
	order(bigEndian).PutUint32(b, v)
	return m.Write(addr, b)
}

// Store64 writes a 64-bit value in the requested byte order.
func (m *Memory) Store64(addr uint64, v uint64, bigEndian bool) error {
	b := make([]byte, 8)
	order(bigEndian).PutUint64(b, v)
	return m.Write(addr, b)
}

// Read8 reads one byte.
func (m *Memory) Read8(addr uint64) (uint8, error) {
	b, err := m.Read(addr, 1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

// Write8 writes one byte.
func (m *Memory) Write8(addr uint64, v uint8) error {
	return m.Write(addr, []byte{v})
}
