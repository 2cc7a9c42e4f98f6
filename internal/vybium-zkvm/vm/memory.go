package vm

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	pageSize  = 4096
	pageShift = 12

	// DefaultMaxPages bounds guest memory to 64 MiB.
	DefaultMaxPages = 16384
)

var (
	ErrPageLimit = errors.New("vm: page allocation limit exceeded")
	ErrUnaligned = errors.New("vm: unaligned memory access")
	ErrBadWidth  = errors.New("vm: unsupported access width")
)

// Memory is sparse, page-allocated guest memory covering the 32-bit address
// space.
type Memory struct {
	pages    map[uint32][]byte
	maxPages int
}

// NewMemory creates an empty memory bounded to maxPages pages.
func NewMemory(maxPages int) *Memory {
	if maxPages <= 0 {
		maxPages = DefaultMaxPages
	}
	return &Memory{
		pages:    make(map[uint32][]byte),
		maxPages: maxPages,
	}
}

func (m *Memory) page(addr uint32, allocate bool) ([]byte, error) {
	idx := addr >> pageShift
	if p, ok := m.pages[idx]; ok {
		return p, nil
	}
	if !allocate {
		return nil, nil
	}
	if len(m.pages) >= m.maxPages {
		return nil, ErrPageLimit
	}
	p := make([]byte, pageSize)
	m.pages[idx] = p
	return p, nil
}

// Load reads width bytes (1, 2 or 4) at addr, zero-extended. Unwritten
// memory reads as zero.
func (m *Memory) Load(addr uint32, width int) (uint32, error) {
	if err := checkAccess(addr, width); err != nil {
		return 0, err
	}
	p, err := m.page(addr, false)
	if err != nil || p == nil {
		return 0, err
	}
	off := addr & (pageSize - 1)
	switch width {
	case 1:
		return uint32(p[off]), nil
	case 2:
		return uint32(binary.LittleEndian.Uint16(p[off:])), nil
	default:
		return binary.LittleEndian.Uint32(p[off:]), nil
	}
}

// Store writes the low width bytes of value at addr.
func (m *Memory) Store(addr uint32, width int, value uint32) error {
	if err := checkAccess(addr, width); err != nil {
		return err
	}
	p, err := m.page(addr, true)
	if err != nil {
		return err
	}
	off := addr & (pageSize - 1)
	switch width {
	case 1:
		p[off] = byte(value)
	case 2:
		binary.LittleEndian.PutUint16(p[off:], uint16(value))
	default:
		binary.LittleEndian.PutUint32(p[off:], value)
	}
	return nil
}

// LoadSegment copies data into memory starting at base.
func (m *Memory) LoadSegment(base uint32, data []byte) error {
	if uint64(base)+uint64(len(data)) > 1<<32 {
		return fmt.Errorf("vm: segment at 0x%08x of %d bytes overflows address space", base, len(data))
	}
	for i, b := range data {
		if err := m.Store(base+uint32(i), 1, uint32(b)); err != nil {
			return err
		}
	}
	return nil
}

// PageCount returns the number of allocated pages.
func (m *Memory) PageCount() int {
	return len(m.pages)
}

func checkAccess(addr uint32, width int) error {
	switch width {
	case 1, 2, 4:
	default:
		return fmt.Errorf("%w: %d", ErrBadWidth, width)
	}
	if addr%uint32(width) != 0 {
		return fmt.Errorf("%w: %d bytes at 0x%08x", ErrUnaligned, width, addr)
	}
	return nil
}
