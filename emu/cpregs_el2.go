package emu

import (
	"github.com/sarchlab/armsys/arch"
	"github.com/sarchlab/armsys/sysreg"
)

func (m *Model) el2Regs() []desc {
	midr := uint64(m.config.MIDR)
	hpmn := uint64(m.config.PMUCounters)
	return []desc{
		{Name: "HCR_EL2", State: sysreg.StateBoth, Op0: 3, Op1: 4, CRn: 1, CRm: 1, Op2: 0,
			Perm: sysreg.PL2RW, Type: sysreg.TypeEL2, Field: fHCR, WriteFn: writeHCR},
		{Name: "HCR2", State: sysreg.StateAA32, Op1: 4, CRn: 1, CRm: 1, Op2: 4,
			Perm: sysreg.PL2RW, Type: sysreg.TypeEL2 | sysreg.TypeAlias, Field: fHCR,
			Shift: 32, WriteFn: writeHCR, Requires: feats(arch.FeatureV8)},
		{Name: "MDCR_EL2", State: sysreg.StateBoth, Op0: 3, Op1: 4, CRn: 1, CRm: 1, Op2: 1,
			Perm: sysreg.PL2RW, Type: sysreg.TypeEL2, Field: fMDCR2, ResetFn: resetTo(hpmn)},
		{Name: "HSTR_EL2", State: sysreg.StateBoth, Op0: 3, Op1: 4, CRn: 1, CRm: 1, Op2: 3,
			Perm: sysreg.PL2RW, Type: sysreg.TypeEL2, Field: fHSTR},
		{Name: "VTCR_EL2", State: sysreg.StateBoth, Op0: 3, Op1: 4, CRn: 2, CRm: 1, Op2: 2,
			Perm: sysreg.PL2RW, Type: sysreg.TypeEL2, Field: fVTCR, WriteFn: writeTCR,
			Opaque: arch.MaskE10 | arch.MaskStage2},
		{Name: "VTTBR_EL2", State: sysreg.StateAA64, Op0: 3, Op1: 4, CRn: 2, CRm: 1, Op2: 0,
			Perm: sysreg.PL2RW, Type: sysreg.TypeEL2, Field: fVTTBR, WriteFn: writeVTTBR},
		{Name: "VTTBR", State: sysreg.StateAA32, Op1: 6, CRm: 2,
			Perm: sysreg.PL2RW, Type: sysreg.TypeEL2 | sysreg.Type64Bit | sysreg.TypeAlias,
			Field: fVTTBR, WriteFn: writeVTTBR},
		{Name: "VPIDR_EL2", State: sysreg.StateBoth, Op0: 3, Op1: 4, CRn: 0, CRm: 0, Op2: 0,
			Perm: sysreg.PL2RW, Type: sysreg.TypeEL2, Field: fVPIDR, ResetFn: resetTo(midr)},
		{Name: "VMPIDR_EL2", State: sysreg.StateBoth, Op0: 3, Op1: 4, CRn: 0, CRm: 0, Op2: 5,
			Perm: sysreg.PL2RW, Type: sysreg.TypeEL2, Field: fVMPIDR,
			ResetFn: func(c *Core, r *register) { c.fields[fVMPIDR] = c.mpidr() }},
	}
}

// writeHCR recomputes everything that depends on HCR_EL2: the MMU index,
// cached translations and the virtual interrupt lines.
func writeHCR(c *Core, r *register, v uint64) {
	v &= hcrValidMask
	if !c.has(arch.FeatureVHE) {
		v &^= hcrE2H
	}
	if !c.has(arch.FeatureAArch64) {
		v &^= hcrRW
	}

	old := c.fields[fHCR]
	c.fields[fHCR] = v
	if (old^v)&(hcrVM|hcrPTW|hcrDC|hcrE2H|hcrTGE) != 0 {
		c.tlb.FlushAll()
	}
	c.updateContext()
	c.updateVirtualLines()
}

// writeVTTBR drops stage-2 and EL1&0 translations when the VMID or the
// table base changes.
func writeVTTBR(c *Core, r *register, v uint64) {
	if c.fields[fVTTBR] == v {
		return
	}
	c.fields[fVTTBR] = v
	c.tlb.FlushIndexes(arch.MaskE10 | arch.MaskStage2)
}

func (m *Model) el3Regs() []desc {
	el3 := feats(arch.FeatureEL3)
	el3aa64 := feats(arch.FeatureEL3, arch.FeatureAArch64)
	aa64 := feats(arch.FeatureAArch64)
	return []desc{
		{Name: "SCR_EL3", State: sysreg.StateAA64, Op0: 3, Op1: 6, CRn: 1, CRm: 1, Op2: 0,
			Perm: sysreg.PL3RW, Field: fSCR, WriteFn: writeSCR, Requires: el3aa64},
		{Name: "SCR", State: sysreg.StateAA32, CRn: 1, CRm: 1, Op2: 0,
			Perm: sysreg.PL1RW, Type: sysreg.TypeSecureOnly, Field: fSCR, WriteFn: writeSCR,
			Requires: el3, Excludes: aa64},
		{Name: "NSACR", State: sysreg.StateAA32, CRn: 1, CRm: 1, Op2: 2,
			Perm: sysreg.PL1R | sysreg.PL3W, Field: fNSACR, Requires: el3, Excludes: aa64},
		{Name: "MVBAR", State: sysreg.StateAA32, CRn: 12, CRm: 0, Op2: 1,
			Perm: sysreg.PL1RW, Type: sysreg.TypeSecureOnly, Field: fMVBAR,
			WriteFn: writeVBAR, Requires: el3, Excludes: aa64},
		{Name: "MDCR_EL3", State: sysreg.StateAA64, Op0: 3, Op1: 6, CRn: 1, CRm: 3, Op2: 1,
			Perm: sysreg.PL3RW, Field: fMDCR3, Requires: el3aa64},
		{Name: "SDCR", State: sysreg.StateAA32, CRn: 1, CRm: 3, Op2: 1,
			Perm: sysreg.PL1RW, Type: sysreg.TypeSecureOnly, Field: fMDCR3,
			Requires: feats(arch.FeatureEL3, arch.FeatureV8), Excludes: aa64},
	}
}

// writeSCR masks SCR to the bits the model implements. A change of NS or
// RW moves the core to another context.
func writeSCR(c *Core, r *register, v uint64) {
	mask := uint64(scrNS | scrIRQ | scrFIQ | scrEA | scrFW | scrAW | scrSMD)
	if c.has(arch.FeatureEL2) {
		mask |= scrHCE
	}
	if c.has(arch.FeatureAArch64) {
		mask |= scrRW
	}
	if c.has(arch.FeatureV8) {
		mask |= scrTWI | scrTWE
	}
	c.fields[fSCR] = v & mask
	c.updateContext()
	c.updateVirtualLines()
}
