// Package loader places guest images into physical memory: ARM and AArch64
// ELF executables, or raw binaries at a fixed address.
package loader

import (
	"debug/elf"
	"fmt"
	"io"
	"os"

	"github.com/sarchlab/armsys/physmem"
)

// SegmentFlags represents memory protection flags for a segment.
type SegmentFlags uint32

const (
	// SegmentFlagExecute indicates the segment is executable.
	SegmentFlagExecute SegmentFlags = 1 << iota
	// SegmentFlagWrite indicates the segment is writable.
	SegmentFlagWrite
	// SegmentFlagRead indicates the segment is readable.
	SegmentFlagRead
)

// Segment represents a loadable segment of an image.
type Segment struct {
	// PhysAddr is where the segment is placed in physical memory. Guests
	// start with the MMU off, so this is the ELF p_paddr.
	PhysAddr uint64
	// VirtAddr is the linked virtual address.
	VirtAddr uint64
	// Data contains the segment contents from the file.
	Data []byte
	// MemSize is the size in memory (may be larger than len(Data) for BSS).
	MemSize uint64
	// Flags contains the segment protection flags.
	Flags SegmentFlags
}

// Program is a guest image ready to be placed in memory.
type Program struct {
	// EntryPoint is the address execution starts at, with the Thumb bit
	// removed.
	EntryPoint uint64
	// AArch64 is set for ELF64 images.
	AArch64 bool
	// Thumb is set when an AArch32 entry point has bit 0 set.
	Thumb bool
	// Segments contains all loadable segments.
	Segments []Segment
}

// Load parses an ELF executable for AArch64 (ELF64) or AArch32 (ELF32).
func Load(path string) (*Program, error) {
	f, err := elf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open ELF file: %w", err)
	}
	defer func() { _ = f.Close() }()

	prog := &Program{EntryPoint: f.Entry}
	switch {
	case f.Class == elf.ELFCLASS64 && f.Machine == elf.EM_AARCH64:
		prog.AArch64 = true
	case f.Class == elf.ELFCLASS32 && f.Machine == elf.EM_ARM:
		prog.Thumb = f.Entry&1 != 0
		prog.EntryPoint = f.Entry &^ 1
	default:
		return nil, fmt.Errorf("not an ARM ELF file (class %v, machine %v)", f.Class, f.Machine)
	}

	for _, ph := range f.Progs {
		if ph.Type != elf.PT_LOAD {
			continue
		}
		seg, err := readSegment(ph)
		if err != nil {
			return nil, err
		}
		prog.Segments = append(prog.Segments, seg)
	}

	return prog, nil
}

var elfFlags = [...]struct {
	elf  elf.ProgFlag
	flag SegmentFlags
}{
	{elf.PF_X, SegmentFlagExecute},
	{elf.PF_W, SegmentFlagWrite},
	{elf.PF_R, SegmentFlagRead},
}

func readSegment(ph *elf.Prog) (Segment, error) {
	seg := Segment{
		PhysAddr: ph.Paddr,
		VirtAddr: ph.Vaddr,
		Data:     make([]byte, ph.Filesz),
		MemSize:  ph.Memsz,
	}
	if _, err := io.ReadFull(ph.Open(), seg.Data); err != nil {
		return Segment{}, fmt.Errorf("failed to read segment at 0x%x: %w", ph.Paddr, err)
	}
	for _, f := range elfFlags {
		if ph.Flags&f.elf != 0 {
			seg.Flags |= f.flag
		}
	}
	return seg, nil
}

// LoadRaw reads a flat binary that executes from addr. aarch64 selects the
// execution state the image is meant for.
func LoadRaw(path string, addr uint64, aarch64 bool) (*Program, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read image: %w", err)
	}

	return &Program{
		EntryPoint: addr,
		AArch64:    aarch64,
		Segments: []Segment{{
			PhysAddr: addr,
			VirtAddr: addr,
			Data:     data,
			MemSize:  uint64(len(data)),
			Flags:    SegmentFlagRead | SegmentFlagWrite | SegmentFlagExecute,
		}},
	}, nil
}

// LoadIntoMemory copies every segment to its physical address and clears
// the bytes between the file and memory sizes.
func (p *Program) LoadIntoMemory(m *physmem.Memory) error {
	for _, seg := range p.Segments {
		if len(seg.Data) > 0 {
			if err := m.Write(seg.PhysAddr, seg.Data); err != nil {
				return fmt.Errorf("loading segment at 0x%x: %w", seg.PhysAddr, err)
			}
		}

		filesz := uint64(len(seg.Data))
		if seg.MemSize > filesz {
			zeros := make([]byte, seg.MemSize-filesz)
			if err := m.Write(seg.PhysAddr+filesz, zeros); err != nil {
				return fmt.Errorf("clearing segment at 0x%x: %w", seg.PhysAddr, err)
			}
		}
	}
	return nil
}
