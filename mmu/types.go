// Package mmu implements the page-table walk engine: short-descriptor v5
// and v6 formats, the long-descriptor format for both translation stages,
// and the PMSAv5/PMSAv7 region-based protection units.
package mmu

import (
	"fmt"

	"github.com/sarchlab/armsys/arch"
)

// AccessType is the kind of memory access being translated.
type AccessType uint8

// Access types.
const (
	AccessLoad AccessType = iota
	AccessStore
	AccessFetch
)

func (a AccessType) String() string {
	switch a {
	case AccessLoad:
		return "load"
	case AccessStore:
		return "store"
	case AccessFetch:
		return "fetch"
	}
	return fmt.Sprintf("AccessType(%d)", uint8(a))
}

// Prot is a set of page permissions.
type Prot uint8

// Page permissions.
const (
	ProtRead Prot = 1 << iota
	ProtWrite
	ProtExec

	ProtRW  = ProtRead | ProtWrite
	ProtRWX = ProtRead | ProtWrite | ProtExec
)

// Allows reports whether p permits an access of type a.
func (p Prot) Allows(a AccessType) bool {
	return p&a.need() != 0
}

func (a AccessType) need() Prot {
	switch a {
	case AccessStore:
		return ProtWrite
	case AccessFetch:
		return ProtExec
	}
	return ProtRead
}

func (p Prot) String() string {
	b := []byte("---")
	if p&ProtRead != 0 {
		b[0] = 'r'
	}
	if p&ProtWrite != 0 {
		b[1] = 'w'
	}
	if p&ProtExec != 0 {
		b[2] = 'x'
	}
	return string(b)
}

// FaultType classifies an MMU fault.
type FaultType uint8

// Fault types.
const (
	FaultNone FaultType = iota
	FaultTranslation
	FaultPermission
	FaultAccessFlag
	FaultDomain
	FaultAddressSize
	FaultSyncExternal
	FaultSyncExternalOnWalk
	FaultBackground
	FaultAlignment
)

var faultNames = [...]string{
	"none", "translation", "permission", "access-flag", "domain",
	"address-size", "sync-external", "sync-external-on-walk", "background",
	"alignment",
}

func (f FaultType) String() string {
	if int(f) < len(faultNames) {
		return faultNames[f]
	}
	return fmt.Sprintf("FaultType(%d)", uint8(f))
}

// FaultInfo describes why a translation failed. It is produced and consumed
// within one translation attempt.
type FaultInfo struct {
	Type FaultType
	// Level is the lookup level the fault was detected at.
	Level int
	// Domain is the short-descriptor domain, when relevant.
	Domain int
	// Stage2 is set when the fault was raised by a stage-2 walk.
	Stage2 bool
	// S1PTW is set when a stage-2 fault happened while translating the
	// address of a stage-1 descriptor.
	S1PTW bool
	// IPA is the intermediate physical address of a stage-2 fault.
	IPA uint64
	// EA is the implementation-defined external abort type.
	EA uint8

	// Addr and Access describe the faulting access.
	Addr   uint64
	Access AccessType
}

func (f *FaultInfo) Error() string {
	s := fmt.Sprintf("%s fault at level %d (%s %#x)", f.Type, f.Level, f.Access, f.Addr)
	if f.Stage2 {
		s += fmt.Sprintf(" stage 2 ipa=%#x", f.IPA)
		if f.S1PTW {
			s += " s1ptw"
		}
	}
	return s
}

// CacheAttrs are the memory attributes of a translation, in MAIR format.
type CacheAttrs struct {
	Attrs uint8
	// Shareability: 0 non-shareable, 2 outer, 3 inner.
	Shareability uint8
}

// IsDevice reports whether the attributes describe device memory.
func (c CacheAttrs) IsDevice() bool {
	return c.Attrs&0xf0 == 0
}

// Shareability values.
const (
	ShareNone  = 0
	ShareOuter = 2
	ShareInner = 3
)

// Result is a successful translation.
type Result struct {
	PhysAddr uint64
	Prot     Prot
	PageSize uint64
	Attrs    CacheAttrs
	// Global is false for entries tied to the current ASID.
	Global bool
	// NS is set when the output address is in the non-secure space.
	NS bool
}

// Controls is a snapshot of the registers governing one translation
// regime. It is taken from the live register bank for every walk.
type Controls struct {
	Features arch.Features
	// AArch64 is set when the regime's exception level uses AArch64.
	AArch64 bool
	Secure  bool

	SCTLR uint64
	// TCR holds TTBCR, TCR_ELx, HTCR or VTCR depending on the regime.
	TCR uint64
	// TTBR0 holds VTTBR for the stage-2 regime.
	TTBR0, TTBR1 uint64
	MAIR         uint64
	DACR         uint32
	FCSEIDR      uint32
	HCR          uint64

	// Stage2Enabled is set when EL1&0 accesses also go through stage 2.
	Stage2Enabled bool

	// PMSAv5 region registers and extended access permissions.
	PMSARegions [8]uint32
	PMSADataAP  uint32
	PMSAInsnAP  uint32

	// PMSAv7 region registers.
	DRBAR, DRSR, DRACR []uint32
}

// ControlSource supplies the controls of a regime.
type ControlSource interface {
	Controls(idx arch.MMUIndex) Controls
}

// Memory is the physical memory descriptors are fetched from.
type Memory interface {
	Load32(addr uint64, bigEndian bool) (uint32, error)
	Load64(addr uint64, bigEndian bool) (uint64, error)
}

// SCTLR bits used by the walker.
const (
	SCTLRM    = 1 << 0
	SCTLRS    = 1 << 8
	SCTLRR    = 1 << 9
	SCTLRI    = 1 << 12
	SCTLRV    = 1 << 13
	SCTLRBR   = 1 << 17
	SCTLRWXN  = 1 << 19
	SCTLRUWXN = 1 << 20
	SCTLRXP   = 1 << 23
	SCTLREE   = 1 << 25
	SCTLRTRE  = 1 << 28
	SCTLRAFE  = 1 << 29
)

// HCR_EL2 bits used by the walker.
const (
	HCRVM  = 1 << 0
	HCRPTW = 1 << 2
	HCRDC  = 1 << 12
	HCRCD  = 1 << 32
)

// TTBCR.EAE selects the long-descriptor format in AArch32.
const TTBCREAE = 1 << 31
