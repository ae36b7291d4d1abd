package tlb

import (
	"fmt"

	"github.com/sarchlab/akita/v4/mem/vm"

	"github.com/sarchlab/armsys/arch"
)

// FlushKind selects which entries of the targeted indexes a Flush drops.
type FlushKind uint8

// Flush kinds.
const (
	// FlushEverything drops all entries.
	FlushEverything FlushKind = iota
	// FlushASID drops the non-global entries of one ASID.
	FlushASID
	// FlushVA drops entries covering Addr that are global or belong to ASID.
	FlushVA
	// FlushVAAllASIDs drops entries covering Addr regardless of ASID.
	FlushVAAllASIDs
	// FlushIPA drops stage-2 entries covering the IPA in Addr.
	FlushIPA
)

// Flush is an invalidation resolved to concrete MMU indexes.
type Flush struct {
	Kind    FlushKind
	Indexes arch.MMUIndexMask
	Addr    uint64
	ASID    uint16
	VMID    uint16
	// AnyVMID disables VMID matching for VMID-tagged indexes.
	AnyVMID bool
}

func (f Flush) matches(p vm.PID, e *entry, vmidTagged bool) bool {
	if vmidTagged && !f.AnyVMID && pidVMID(p) != f.VMID&0x7fff {
		return false
	}

	switch f.Kind {
	case FlushEverything:
		return true
	case FlushASID:
		return !pidGlobal(p) && pidASID(p) == f.ASID
	case FlushVA:
		return e.covers(f.Addr) && (pidGlobal(p) || pidASID(p) == f.ASID)
	case FlushVAAllASIDs, FlushIPA:
		return e.covers(f.Addr)
	}
	return false
}

// Op is a TLB maintenance operation class. AArch32 TLBI* operations map
// onto the same classes.
type Op uint8

// Operations.
const (
	// OpVMAllE1 is TLBI VMALLE1 and AArch32 TLBIALL.
	OpVMAllE1 Op = iota
	// OpASIDE1 is TLBI ASIDE1 and TLBIASID.
	OpASIDE1
	// OpVAE1 is TLBI VAE1/VALE1 and TLBIMVA/TLBIMVAL.
	OpVAE1
	// OpVAAE1 is TLBI VAAE1/VAALE1 and TLBIMVAA/TLBIMVAAL.
	OpVAAE1
	// OpAllE1 is TLBI ALLE1 and TLBIALLNSNH.
	OpAllE1
	// OpVMAllS12E1 is TLBI VMALLS12E1.
	OpVMAllS12E1
	// OpIPAS2E1 is TLBI IPAS2E1/IPAS2LE1 and TLBIIPAS2/TLBIIPAS2L.
	OpIPAS2E1
	// OpAllE2 is TLBI ALLE2 and TLBIALLH.
	OpAllE2
	// OpVAE2 is TLBI VAE2/VALE2 and TLBIMVAH/TLBIMVALH.
	OpVAE2
	// OpAllE3 is TLBI ALLE3.
	OpAllE3
	// OpVAE3 is TLBI VAE3/VALE3.
	OpVAE3
)

var opNames = [...]string{
	"VMALLE1", "ASIDE1", "VAE1", "VAAE1", "ALLE1", "VMALLS12E1", "IPAS2E1",
	"ALLE2", "VAE2", "ALLE3", "VAE3",
}

func (o Op) String() string {
	if int(o) < len(opNames) {
		return opNames[o]
	}
	return fmt.Sprintf("Op(%d)", uint8(o))
}

// Request is an invalidation as issued by a maintenance instruction.
type Request struct {
	Op Op
	// Addr is the VA or IPA operand, already shifted into an address.
	Addr uint64
	// ASID is the ASID operand of by-ASID and by-VA operations.
	ASID uint16
	// Broadcast is set for the inner-shareable variants.
	Broadcast bool
}

// State is the part of the issuing core's context that scopes a request.
type State struct {
	EL     arch.EL
	Secure bool
	// EL2Enabled is set when EL2 exists and is enabled in the current
	// security state.
	EL2Enabled bool
	// E2H, TGE and FB mirror HCR_EL2.
	E2H, TGE, FB bool
	// VMID is the current VTTBR VMID.
	VMID uint16
}

// e1Mask returns the indexes affected by EL1 operations: the EL2&0 host
// regime under E2H+TGE, otherwise the EL1&0 regime of the current
// security state.
func (st State) e1Mask() arch.MMUIndexMask {
	switch {
	case st.E2H && st.TGE && !st.Secure:
		return arch.MaskE20
	case st.Secure:
		return arch.MaskSE10
	}
	return arch.MaskE10
}

func (st State) e1Stage2Mask() arch.MMUIndexMask {
	if st.Secure {
		return arch.MaskSE10
	}
	m := arch.MaskE10
	if st.EL2Enabled {
		m |= arch.MaskStage2
	}
	return m
}

// Resolve maps req onto the MMU indexes and entries it invalidates.
func (st State) Resolve(req Request) (Flush, error) {
	f := Flush{Addr: req.Addr, ASID: req.ASID, VMID: st.VMID}

	switch req.Op {
	case OpVMAllE1:
		f.Kind, f.Indexes = FlushEverything, st.e1Mask()
	case OpASIDE1:
		f.Kind, f.Indexes = FlushASID, st.e1Mask()
	case OpVAE1:
		f.Kind, f.Indexes = FlushVA, st.e1Mask()
	case OpVAAE1:
		f.Kind, f.Indexes = FlushVAAllASIDs, st.e1Mask()
	case OpAllE1:
		f.Kind, f.Indexes, f.AnyVMID = FlushEverything, st.e1Stage2Mask(), true
	case OpVMAllS12E1:
		f.Kind, f.Indexes = FlushEverything, st.e1Stage2Mask()
	case OpIPAS2E1:
		f.Kind = FlushIPA
		if !st.Secure {
			f.Indexes = arch.MaskStage2
		}
	case OpAllE2:
		f.Kind, f.Indexes, f.AnyVMID = FlushEverything, arch.MaskE2|arch.MaskE20, true
	case OpVAE2:
		if st.E2H {
			f.Kind, f.Indexes = FlushVA, arch.MaskE20
		} else {
			f.Kind, f.Indexes = FlushVAAllASIDs, arch.MaskE2
		}
	case OpAllE3:
		f.Kind, f.Indexes, f.AnyVMID = FlushEverything, arch.MaskE3, true
	case OpVAE3:
		f.Kind, f.Indexes = FlushVAAllASIDs, arch.MaskE3
	default:
		return Flush{}, fmt.Errorf("tlb: unknown operation %d", uint8(req.Op))
	}
	return f, nil
}

// Broadcast reports whether req must reach every core. HCR_EL2.FB
// promotes local requests issued at non-secure EL1.
func (st State) Broadcast(req Request) bool {
	if req.Broadcast {
		return true
	}
	return st.FB && !st.Secure && st.EL == arch.EL1
}
