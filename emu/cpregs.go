package emu

import (
	"github.com/sarchlab/armsys/arch"
	"github.com/sarchlab/armsys/sysreg"
)

func (m *Model) idRegs() []desc {
	midr := uint64(m.config.MIDR)
	return []desc{
		{Name: "MIDR", State: sysreg.StateBoth, Op0: 3, CRn: 0, CRm: 0, Op2: 0,
			Perm: sysreg.PL1R, ReadFn: readMIDR, Reset: midr},
		{Name: "MPIDR", State: sysreg.StateBoth, Op0: 3, CRn: 0, CRm: 0, Op2: 5,
			Perm: sysreg.PL1R, ReadFn: readMPIDR, Requires: feats(arch.FeatureV7MP)},
		{Name: "CTR", State: sysreg.StateAA32, CRn: 0, CRm: 0, Op2: 1,
			Perm: sysreg.PL1R, Type: sysreg.TypeConst, Reset: 0x8444c004},
		{Name: "CTR_EL0", State: sysreg.StateAA64, Op0: 3, Op1: 3, CRn: 0, CRm: 0, Op2: 1,
			Perm: sysreg.PL0R, Type: sysreg.TypeConst, Reset: 0x8444c004,
			AccessFn: accessEL0SCTLR(sctlrUCT)},
		{Name: "MPUIR", State: sysreg.StateAA32, CRn: 0, CRm: 0, Op2: 4,
			Perm: sysreg.PL1R, Type: sysreg.TypeConst,
			Reset:    uint64(m.config.PMSARegions) << 8,
			Requires: feats(arch.FeaturePMSA, arch.FeatureV7)},

		{Name: "CCSIDR", State: sysreg.StateBoth, Op0: 3, Op1: 1, CRn: 0, CRm: 0, Op2: 0,
			Perm: sysreg.PL1R, ReadFn: readCCSIDR, Type: sysreg.TypeNoRaw,
			Requires: feats(arch.FeatureV7)},
		{Name: "CLIDR", State: sysreg.StateBoth, Op0: 3, Op1: 1, CRn: 0, CRm: 0, Op2: 1,
			Perm: sysreg.PL1R, Type: sysreg.TypeConst, Reset: 0x0a200023,
			Requires: feats(arch.FeatureV7)},
		{Name: "AIDR", State: sysreg.StateBoth, Op0: 3, Op1: 1, CRn: 0, CRm: 0, Op2: 7,
			Perm: sysreg.PL1R, Type: sysreg.TypeConst, Requires: feats(arch.FeatureV7)},
		{Name: "CSSELR", State: sysreg.StateBoth, Op0: 3, Op1: 2, CRn: 0, CRm: 0, Op2: 0,
			Perm: sysreg.PL1RW, Field: fCSSELR, Requires: feats(arch.FeatureV7)},

		{Name: "ID_PFR0", State: sysreg.StateBoth, Op0: 3, CRn: 0, CRm: 1, Op2: 0,
			Perm: sysreg.PL1R, Type: sysreg.TypeConst, Reset: m.idPFR0(),
			AccessFn: accessTID3, Requires: feats(arch.FeatureV6)},
		{Name: "ID_PFR1", State: sysreg.StateBoth, Op0: 3, CRn: 0, CRm: 1, Op2: 1,
			Perm: sysreg.PL1R, Type: sysreg.TypeConst, Reset: m.idPFR1(),
			AccessFn: accessTID3, Requires: feats(arch.FeatureV6)},
		{Name: "ID_MMFR0", State: sysreg.StateBoth, Op0: 3, CRn: 0, CRm: 1, Op2: 4,
			Perm: sysreg.PL1R, Type: sysreg.TypeConst, Reset: m.idMMFR0(),
			AccessFn: accessTID3, Requires: feats(arch.FeatureV6)},

		{Name: "ID_AA64PFR0_EL1", State: sysreg.StateAA64, Op0: 3, CRn: 0, CRm: 4, Op2: 0,
			Perm: sysreg.PL1R, Type: sysreg.TypeConst, Reset: m.idAA64PFR0(),
			AccessFn: accessTID3, Requires: feats(arch.FeatureAArch64)},
		{Name: "ID_AA64PFR1_EL1", State: sysreg.StateAA64, Op0: 3, CRn: 0, CRm: 4, Op2: 1,
			Perm: sysreg.PL1R, Type: sysreg.TypeConst, Reset: m.idAA64PFR1(),
			AccessFn: accessTID3, Requires: feats(arch.FeatureAArch64)},
		{Name: "ID_AA64MMFR0_EL1", State: sysreg.StateAA64, Op0: 3, CRn: 0, CRm: 7, Op2: 0,
			Perm: sysreg.PL1R, Type: sysreg.TypeConst, Reset: 0x00001124,
			AccessFn: accessTID3, Requires: feats(arch.FeatureAArch64)},
		{Name: "ID_AA64MMFR1_EL1", State: sysreg.StateAA64, Op0: 3, CRn: 0, CRm: 7, Op2: 1,
			Perm: sysreg.PL1R, Type: sysreg.TypeConst, Reset: m.idAA64MMFR1(),
			AccessFn: accessTID3, Requires: feats(arch.FeatureAArch64)},
	}
}

func (m *Model) idPFR0() uint64 {
	if m.has(arch.FeatureThumb2) {
		return 0x00000031
	}
	return 0x00000011
}

func (m *Model) idPFR1() uint64 {
	var v uint64
	if m.has(arch.FeatureEL3) {
		v |= 1 << 4
	}
	if m.has(arch.FeatureEL2) {
		v |= 1 << 12
	}
	return v
}

func (m *Model) idMMFR0() uint64 {
	var vmsa, pmsa uint64
	switch {
	case m.has(arch.FeaturePMSA) && m.has(arch.FeatureV7):
		pmsa = 3
	case m.has(arch.FeaturePMSA):
		pmsa = 1
	case m.has(arch.FeatureLPAE):
		vmsa = 5
	case m.has(arch.FeatureV7):
		vmsa = 3
	default:
		vmsa = 2
	}
	return 0x00100100 | pmsa<<4 | vmsa
}

func (m *Model) idAA64PFR0() uint64 {
	v := uint64(2) | 2<<4
	if m.has(arch.FeatureEL2) {
		v |= 2 << 8
	}
	if m.has(arch.FeatureEL3) {
		v |= 2 << 12
	}
	return v
}

func (m *Model) idAA64PFR1() uint64 {
	if m.has(arch.FeatureMTE) {
		return 2 << 8
	}
	return 0
}

func (m *Model) idAA64MMFR1() uint64 {
	var v uint64
	if m.has(arch.FeatureVHE) {
		v |= 1 << 8
	}
	if m.has(arch.FeaturePAN) {
		v |= 1 << 20
	}
	return v
}

// readMIDR returns VPIDR_EL2 to non-secure EL1 when EL2 is present.
func readMIDR(c *Core, r *register) uint64 {
	if c.ctx.EL == arch.EL1 && c.el2Enabled() {
		return c.fields[fVPIDR]
	}
	return r.Reset
}

func (c *Core) mpidr() uint64 {
	return 1<<31 | uint64(c.id)&0xff
}

// readMPIDR returns VMPIDR_EL2 to non-secure EL1 when EL2 is present.
func readMPIDR(c *Core, r *register) uint64 {
	if c.ctx.EL == arch.EL1 && c.el2Enabled() {
		return c.fields[fVMPIDR]
	}
	return c.mpidr()
}

func readCCSIDR(c *Core, r *register) uint64 {
	switch c.fields[fCSSELR] & 0xf {
	case 0:
		return 0x700fe01a
	case 1:
		return 0x201fe012
	case 2:
		return 0x707fe07a
	}
	return 0
}

func (m *Model) controlRegs() []desc {
	sctlr := resetTo(m.sctlrReset())
	return []desc{
		{Name: "SCTLR", State: sysreg.StateBoth, Sec: sysreg.SecBanked,
			Op0: 3, CRn: 1, CRm: 0, Op2: 0, Perm: sysreg.PL1RW,
			Field: fSCTLR1, FieldS: fSCTLR3,
			WriteFn: writeFlush, ResetFn: sctlr, AccessFn: accessTVM},
		{Name: "SCTLR_EL2", State: sysreg.StateBoth, Op0: 3, Op1: 4, CRn: 1, CRm: 0, Op2: 0,
			Perm: sysreg.PL2RW, Type: sysreg.TypeEL2, Field: fSCTLR2,
			WriteFn: writeFlush, ResetFn: sctlr},
		{Name: "SCTLR_EL3", State: sysreg.StateAA64, Op0: 3, Op1: 6, CRn: 1, CRm: 0, Op2: 0,
			Perm: sysreg.PL3RW, Field: fSCTLR3, WriteFn: writeFlush, ResetFn: sctlr,
			Requires: feats(arch.FeatureEL3, arch.FeatureAArch64)},

		{Name: "ACTLR", State: sysreg.StateBoth, Op0: 3, CRn: 1, CRm: 0, Op2: 1,
			Perm: sysreg.PL1RW, Field: fACTLR1},
		{Name: "ACTLR_EL2", State: sysreg.StateBoth, Op0: 3, Op1: 4, CRn: 1, CRm: 0, Op2: 1,
			Perm: sysreg.PL2RW, Type: sysreg.TypeEL2, Field: fACTLR2},
		{Name: "ACTLR_EL3", State: sysreg.StateAA64, Op0: 3, Op1: 6, CRn: 1, CRm: 0, Op2: 1,
			Perm: sysreg.PL3RW, Field: fACTLR3,
			Requires: feats(arch.FeatureEL3, arch.FeatureAArch64)},

		{Name: "CPACR", State: sysreg.StateBoth, Op0: 3, CRn: 1, CRm: 0, Op2: 2,
			Perm: sysreg.PL1RW, Field: fCPACR, AccessFn: accessCPACR,
			Requires: feats(arch.FeatureV6)},
		{Name: "CPTR_EL2", State: sysreg.StateBoth, Op0: 3, Op1: 4, CRn: 1, CRm: 1, Op2: 2,
			Perm: sysreg.PL2RW, Type: sysreg.TypeEL2, Field: fCPTR2, AccessFn: accessCPTR2},
		{Name: "CPTR_EL3", State: sysreg.StateAA64, Op0: 3, Op1: 6, CRn: 1, CRm: 1, Op2: 2,
			Perm: sysreg.PL3RW, Field: fCPTR3,
			Requires: feats(arch.FeatureEL3, arch.FeatureAArch64)},
	}
}

// accessCPACR applies CPTR_EL2.TCPAC and CPTR_EL3.TCPAC.
func accessCPACR(c *Core, r *register, isRead bool) sysreg.Result {
	if !c.has(arch.FeatureV8) {
		return sysreg.Allow
	}
	switch {
	case c.ctx.EL == arch.EL1 && c.el2Enabled() && c.fields[fCPTR2]&cptrTCPAC != 0:
		return sysreg.TrapEL2
	case c.ctx.EL < arch.EL3 && c.has(arch.FeatureEL3) && c.fields[fCPTR3]&cptrTCPAC != 0:
		return sysreg.TrapEL3
	}
	return sysreg.Allow
}

// accessCPTR2 applies CPTR_EL3.TCPAC to EL2 accesses.
func accessCPTR2(c *Core, r *register, isRead bool) sysreg.Result {
	if c.ctx.EL == arch.EL2 && c.has(arch.FeatureEL3) && c.fields[fCPTR3]&cptrTCPAC != 0 {
		return sysreg.TrapEL3
	}
	return sysreg.Allow
}

func (m *Model) vmsaRegs() []desc {
	vmsa := feats(arch.FeaturePMSA)
	lpae := feats(arch.FeatureLPAE)
	return []desc{
		{Name: "TTBR0", State: sysreg.StateBoth, Sec: sysreg.SecBanked,
			Op0: 3, CRn: 2, CRm: 0, Op2: 0, Perm: sysreg.PL1RW,
			Field: fTTBR0_1, FieldS: fTTBR0_3, WriteFn: writeTTBR,
			AccessFn: accessTVM, Excludes: vmsa},
		{Name: "TTBR1", State: sysreg.StateBoth, Sec: sysreg.SecBanked,
			Op0: 3, CRn: 2, CRm: 0, Op2: 1, Perm: sysreg.PL1RW,
			Field: fTTBR1_1, FieldS: fTTBR1S, WriteFn: writeTTBR,
			AccessFn: accessTVM, Excludes: vmsa, Requires: feats(arch.FeatureV6)},
		{Name: "TTBR0_64", State: sysreg.StateAA32, Sec: sysreg.SecBanked,
			CRm: 2, Op1: 0, Perm: sysreg.PL1RW, Type: sysreg.Type64Bit,
			Field: fTTBR0_1, FieldS: fTTBR0_3, WriteFn: writeTTBR,
			AccessFn: accessTVM, Requires: lpae},
		{Name: "TTBR1_64", State: sysreg.StateAA32, Sec: sysreg.SecBanked,
			CRm: 2, Op1: 1, Perm: sysreg.PL1RW, Type: sysreg.Type64Bit,
			Field: fTTBR1_1, FieldS: fTTBR1S, WriteFn: writeTTBR,
			AccessFn: accessTVM, Requires: lpae},
		{Name: "TTBCR", State: sysreg.StateBoth, Sec: sysreg.SecBanked,
			Op0: 3, CRn: 2, CRm: 0, Op2: 2, Perm: sysreg.PL1RW,
			Field: fTCR1, FieldS: fTCR3, WriteFn: writeTCR,
			AccessFn: accessTVM, Excludes: vmsa, Requires: feats(arch.FeatureV6)},

		{Name: "TTBR0_EL2", State: sysreg.StateAA64, Op0: 3, Op1: 4, CRn: 2, CRm: 0, Op2: 0,
			Perm: sysreg.PL2RW, Type: sysreg.TypeEL2, Field: fTTBR0_2, WriteFn: writeTTBR,
			Opaque: arch.MaskE2 | arch.MaskE20},
		{Name: "HTTBR", State: sysreg.StateAA32, CRm: 2, Op1: 4,
			Perm: sysreg.PL2RW, Type: sysreg.Type64Bit | sysreg.TypeEL2,
			Field: fTTBR0_2, WriteFn: writeTTBR, Opaque: arch.MaskE2},
		{Name: "TTBR1_EL2", State: sysreg.StateAA64, Op0: 3, Op1: 4, CRn: 2, CRm: 0, Op2: 1,
			Perm: sysreg.PL2RW, Type: sysreg.TypeEL2, Field: fTTBR1_2, WriteFn: writeTTBR,
			Opaque: arch.MaskE20, Requires: feats(arch.FeatureVHE)},
		{Name: "TCR_EL2", State: sysreg.StateBoth, Op0: 3, Op1: 4, CRn: 2, CRm: 0, Op2: 2,
			Perm: sysreg.PL2RW, Type: sysreg.TypeEL2, Field: fTCR2, WriteFn: writeTCR,
			Opaque: arch.MaskE2 | arch.MaskE20},
		{Name: "TTBR0_EL3", State: sysreg.StateAA64, Op0: 3, Op1: 6, CRn: 2, CRm: 0, Op2: 0,
			Perm: sysreg.PL3RW, Field: fTTBR0_3, WriteFn: writeTTBR, Opaque: arch.MaskE3,
			Requires: feats(arch.FeatureEL3, arch.FeatureAArch64)},
		{Name: "TCR_EL3", State: sysreg.StateAA64, Op0: 3, Op1: 6, CRn: 2, CRm: 0, Op2: 2,
			Perm: sysreg.PL3RW, Field: fTCR3, WriteFn: writeTCR, Opaque: arch.MaskE3,
			Requires: feats(arch.FeatureEL3, arch.FeatureAArch64)},

		{Name: "DACR", State: sysreg.StateAA32, Sec: sysreg.SecBanked, CRn: 3, CRm: 0,
			Perm: sysreg.PL1RW, Field: fDACR, FieldS: fDACRS, WriteFn: writeDACR,
			AccessFn: accessTVM, Excludes: vmsa},
		{Name: "DACR32_EL2", State: sysreg.StateAA64, Op0: 3, Op1: 4, CRn: 3, CRm: 0, Op2: 0,
			Perm: sysreg.PL2RW, Type: sysreg.TypeEL2 | sysreg.TypeAlias, Field: fDACR,
			WriteFn: writeDACR},

		{Name: "MAIR_EL1", State: sysreg.StateAA64, Op0: 3, CRn: 10, CRm: 2, Op2: 0,
			Perm: sysreg.PL1RW, Field: fMAIR1, AccessFn: accessTVM,
			Requires: feats(arch.FeatureAArch64)},
		{Name: "PRRR", State: sysreg.StateAA32, Sec: sysreg.SecBanked, CRn: 10, CRm: 2, Op2: 0,
			Perm: sysreg.PL1RW, Field: fMAIR1, FieldS: fMAIR3, AccessFn: accessTVM,
			Requires: feats(arch.FeatureV7), Excludes: vmsa},
		{Name: "NMRR", State: sysreg.StateAA32, Sec: sysreg.SecBanked, CRn: 10, CRm: 2, Op2: 1,
			Perm: sysreg.PL1RW, Field: fMAIR1, FieldS: fMAIR3, Shift: 32, AccessFn: accessTVM,
			Requires: feats(arch.FeatureV7), Excludes: vmsa},
		{Name: "MAIR_EL2", State: sysreg.StateAA64, Op0: 3, Op1: 4, CRn: 10, CRm: 2, Op2: 0,
			Perm: sysreg.PL2RW, Type: sysreg.TypeEL2, Field: fMAIR2},
		{Name: "HMAIR0", State: sysreg.StateAA32, Op1: 4, CRn: 10, CRm: 2, Op2: 0,
			Perm: sysreg.PL2RW, Type: sysreg.TypeEL2 | sysreg.TypeAlias, Field: fMAIR2},
		{Name: "HMAIR1", State: sysreg.StateAA32, Op1: 4, CRn: 10, CRm: 2, Op2: 1,
			Perm: sysreg.PL2RW, Type: sysreg.TypeEL2 | sysreg.TypeAlias, Field: fMAIR2, Shift: 32},
		{Name: "MAIR_EL3", State: sysreg.StateAA64, Op0: 3, Op1: 6, CRn: 10, CRm: 2, Op2: 0,
			Perm: sysreg.PL3RW, Field: fMAIR3,
			Requires: feats(arch.FeatureEL3, arch.FeatureAArch64)},

		{Name: "VBAR", State: sysreg.StateBoth, Sec: sysreg.SecBanked,
			Op0: 3, CRn: 12, CRm: 0, Op2: 0, Perm: sysreg.PL1RW,
			Field: fVBAR1, FieldS: fVBAR3, WriteFn: writeVBAR, Requires: feats(arch.FeatureV7)},
		{Name: "VBAR_EL2", State: sysreg.StateBoth, Op0: 3, Op1: 4, CRn: 12, CRm: 0, Op2: 0,
			Perm: sysreg.PL2RW, Type: sysreg.TypeEL2, Field: fVBAR2, WriteFn: writeVBAR},
		{Name: "VBAR_EL3", State: sysreg.StateAA64, Op0: 3, Op1: 6, CRn: 12, CRm: 0, Op2: 0,
			Perm: sysreg.PL3RW, Field: fVBAR3, WriteFn: writeVBAR,
			Requires: feats(arch.FeatureEL3, arch.FeatureAArch64)},

		{Name: "CONTEXTIDR", State: sysreg.StateBoth, Sec: sysreg.SecBanked,
			Op0: 3, CRn: 13, CRm: 0, Op2: 1, Perm: sysreg.PL1RW,
			Field: fCONTEXTIDR1, FieldS: fCONTEXTIDRS, WriteFn: writeCONTEXTIDR,
			AccessFn: accessTVM, Requires: feats(arch.FeatureV6)},
		{Name: "CONTEXTIDR_EL2", State: sysreg.StateAA64, Op0: 3, Op1: 4, CRn: 13, CRm: 0, Op2: 1,
			Perm: sysreg.PL2RW, Type: sysreg.TypeEL2, Field: fCONTEXTIDR2,
			Requires: feats(arch.FeatureVHE)},
		{Name: "FCSEIDR", State: sysreg.StateAA32, Sec: sysreg.SecBanked, CRn: 13, CRm: 0, Op2: 0,
			Perm: sysreg.PL1RW, Field: fFCSEIDR, FieldS: fFCSEIDRS, WriteFn: writeFCSEIDR,
			AccessFn: accessTVM, Excludes: feats(arch.FeatureV8, arch.FeaturePMSA)},
		{Name: "FCSEIDR", State: sysreg.StateAA32, CRn: 13, CRm: 0, Op2: 0,
			Perm: sysreg.PL1RW, Type: sysreg.TypeRAZWI, Requires: feats(arch.FeatureV8)},
	}
}

// regimeMask returns the MMU indexes cached translations of r's regime
// live in.
func regimeMask(r *register) arch.MMUIndexMask {
	if m, ok := r.Opaque.(arch.MMUIndexMask); ok {
		return m
	}
	if r.Sec == sysreg.SecSecure {
		return arch.MaskSE10 | arch.MaskE3
	}
	return arch.MaskE10
}

// writeTTBR flushes the regime when the ASID field changes.
func writeTTBR(c *Core, r *register, v uint64) {
	old := c.fields[r.Field]
	c.fields[r.Field] = v
	if (old^v)>>48 != 0 {
		c.tlb.FlushIndexes(regimeMask(r))
	}
}

func writeTCR(c *Core, r *register, v uint64) {
	if !r.IsAArch64() && !c.has(arch.FeatureLPAE) {
		v &= 0x37
	}
	if c.fields[r.Field] == v {
		return
	}
	c.fields[r.Field] = v
	c.tlb.FlushIndexes(regimeMask(r))
}

func writeDACR(c *Core, r *register, v uint64) {
	writeFlush(c, r, uint64(uint32(v)))
}

func writeVBAR(c *Core, r *register, v uint64) {
	if r.IsAArch64() {
		v &^= 0x7ff
	} else {
		v &^= 0x1f
	}
	c.fields[r.Field] = v
}

// lpaeInUse reports whether the EL1&0 regime of the bank r belongs to uses
// the long-descriptor format.
func (c *Core) lpaeInUse(secureBank bool) bool {
	if c.elIsAA64(arch.EL1) {
		return true
	}
	if !c.has(arch.FeatureLPAE) {
		return false
	}
	tcr := c.fields[fTCR1]
	if secureBank {
		tcr = c.fields[fTCR3]
	}
	return tcr&(1<<31) != 0
}

// writeCONTEXTIDR flushes the TLB when the short-descriptor ASID it holds
// changes.
func writeCONTEXTIDR(c *Core, r *register, v uint64) {
	old := c.fields[r.Field]
	c.fields[r.Field] = v
	if old != v && !c.has(arch.FeaturePMSA) && !c.lpaeInUse(r.Sec == sysreg.SecSecure) {
		c.tlb.FlushAll()
	}
}

func writeFCSEIDR(c *Core, r *register, v uint64) {
	writeFlush(c, r, v&0xfe000000)
}

func (m *Model) faultRegs() []desc {
	return []desc{
		{Name: "DFSR", State: sysreg.StateAA32, Sec: sysreg.SecBanked, CRn: 5, CRm: 0, Op2: 0,
			Perm: sysreg.PL1RW, Field: fDFSR, FieldS: fDFSRS, AccessFn: accessTVM},
		{Name: "IFSR", State: sysreg.StateAA32, Sec: sysreg.SecBanked, CRn: 5, CRm: 0, Op2: 1,
			Perm: sysreg.PL1RW, Field: fIFSR, FieldS: fIFSRS, AccessFn: accessTVM,
			Requires: feats(arch.FeatureV6)},
		{Name: "AFSR0", State: sysreg.StateBoth, Op0: 3, CRn: 5, CRm: 1, Op2: 0,
			Perm: sysreg.PL1RW, Type: sysreg.TypeNOP, Requires: feats(arch.FeatureV7)},
		{Name: "AFSR1", State: sysreg.StateBoth, Op0: 3, CRn: 5, CRm: 1, Op2: 1,
			Perm: sysreg.PL1RW, Type: sysreg.TypeNOP, Requires: feats(arch.FeatureV7)},
		{Name: "ESR_EL1", State: sysreg.StateAA64, Op0: 3, CRn: 5, CRm: 2, Op2: 0,
			Perm: sysreg.PL1RW, Field: fESR1, AccessFn: accessTVM,
			Requires: feats(arch.FeatureAArch64)},
		{Name: "ESR_EL2", State: sysreg.StateBoth, Op0: 3, Op1: 4, CRn: 5, CRm: 2, Op2: 0,
			Perm: sysreg.PL2RW, Type: sysreg.TypeEL2, Field: fESR2},
		{Name: "ESR_EL3", State: sysreg.StateAA64, Op0: 3, Op1: 6, CRn: 5, CRm: 2, Op2: 0,
			Perm: sysreg.PL3RW, Field: fESR3,
			Requires: feats(arch.FeatureEL3, arch.FeatureAArch64)},
		{Name: "IFSR32_EL2", State: sysreg.StateAA64, Op0: 3, Op1: 4, CRn: 5, CRm: 0, Op2: 1,
			Perm: sysreg.PL2RW, Type: sysreg.TypeEL2 | sysreg.TypeAlias, Field: fIFSR},

		{Name: "DFAR", State: sysreg.StateAA32, Sec: sysreg.SecBanked, CRn: 6, CRm: 0, Op2: 0,
			Perm: sysreg.PL1RW, Field: fFAR1, FieldS: fFARS, AccessFn: accessTVM},
		{Name: "IFAR", State: sysreg.StateAA32, Sec: sysreg.SecBanked, CRn: 6, CRm: 0, Op2: 2,
			Perm: sysreg.PL1RW, Field: fFAR1, FieldS: fFARS, Shift: 32, AccessFn: accessTVM,
			Requires: feats(arch.FeatureV6)},
		{Name: "FAR_EL1", State: sysreg.StateAA64, Op0: 3, CRn: 6, CRm: 0, Op2: 0,
			Perm: sysreg.PL1RW, Field: fFAR1, AccessFn: accessTVM,
			Requires: feats(arch.FeatureAArch64)},
		{Name: "FAR_EL2", State: sysreg.StateAA64, Op0: 3, Op1: 4, CRn: 6, CRm: 0, Op2: 0,
			Perm: sysreg.PL2RW, Type: sysreg.TypeEL2, Field: fFAR2},
		{Name: "HDFAR", State: sysreg.StateAA32, Op1: 4, CRn: 6, CRm: 0, Op2: 0,
			Perm: sysreg.PL2RW, Type: sysreg.TypeEL2 | sysreg.TypeAlias, Field: fFAR2},
		{Name: "HIFAR", State: sysreg.StateAA32, Op1: 4, CRn: 6, CRm: 0, Op2: 2,
			Perm: sysreg.PL2RW, Type: sysreg.TypeEL2 | sysreg.TypeAlias, Field: fFAR2, Shift: 32},
		{Name: "HPFAR", State: sysreg.StateBoth, Op0: 3, Op1: 4, CRn: 6, CRm: 0, Op2: 4,
			Perm: sysreg.PL2RW, Type: sysreg.TypeEL2, Field: fHPFAR},
		{Name: "FAR_EL3", State: sysreg.StateAA64, Op0: 3, Op1: 6, CRn: 6, CRm: 0, Op2: 0,
			Perm: sysreg.PL3RW, Field: fFAR3,
			Requires: feats(arch.FeatureEL3, arch.FeatureAArch64)},

		// PAR shares CRn 7 with the cache maintenance block and must be
		// registered first.
		{Name: "PAR", State: sysreg.StateBoth, Sec: sysreg.SecBanked,
			Op0: 3, CRn: 7, CRm: 4, Op2: 0, Perm: sysreg.PL1RW,
			Field: fPAR, FieldS: fPARS, Requires: feats(arch.FeatureVAPA)},
		{Name: "PAR_64", State: sysreg.StateAA32, Sec: sysreg.SecBanked, CRm: 7, Op1: 0,
			Perm: sysreg.PL1RW, Type: sysreg.Type64Bit, Field: fPAR, FieldS: fPARS,
			Requires: feats(arch.FeatureVAPA, arch.FeatureLPAE)},
	}
}

func (m *Model) threadRegs() []desc {
	v6k := feats(arch.FeatureV6K)
	return []desc{
		{Name: "TPIDRURW", State: sysreg.StateAA32, CRn: 13, CRm: 0, Op2: 2,
			Perm: sysreg.PL0RW, Field: fTPIDR0, Requires: v6k},
		{Name: "TPIDR_EL0", State: sysreg.StateAA64, Op0: 3, Op1: 3, CRn: 13, CRm: 0, Op2: 2,
			Perm: sysreg.PL0RW, Field: fTPIDR0, Requires: feats(arch.FeatureAArch64)},
		{Name: "TPIDRURO", State: sysreg.StateAA32, CRn: 13, CRm: 0, Op2: 3,
			Perm: sysreg.PL0R | sysreg.PL1W, Field: fTPIDRRO0, Requires: v6k},
		{Name: "TPIDRRO_EL0", State: sysreg.StateAA64, Op0: 3, Op1: 3, CRn: 13, CRm: 0, Op2: 3,
			Perm: sysreg.PL0R | sysreg.PL1W, Field: fTPIDRRO0, Requires: feats(arch.FeatureAArch64)},
		{Name: "TPIDR_EL1", State: sysreg.StateBoth, Op0: 3, CRn: 13, CRm: 0, Op2: 4,
			Perm: sysreg.PL1RW, Field: fTPIDR1, Requires: v6k},
		{Name: "TPIDR_EL2", State: sysreg.StateBoth, Op0: 3, Op1: 4, CRn: 13, CRm: 0, Op2: 2,
			Perm: sysreg.PL2RW, Type: sysreg.TypeEL2, Field: fTPIDR2},
		{Name: "TPIDR_EL3", State: sysreg.StateAA64, Op0: 3, Op1: 6, CRn: 13, CRm: 0, Op2: 2,
			Perm: sysreg.PL3RW, Field: fTPIDR3,
			Requires: feats(arch.FeatureEL3, arch.FeatureAArch64)},
	}
}

func (m *Model) pstateRegs() []desc {
	aa64 := feats(arch.FeatureAArch64)
	return []desc{
		{Name: "CurrentEL", State: sysreg.StateAA64, Op0: 3, CRn: 4, CRm: 2, Op2: 2,
			Perm: sysreg.PL1R, Type: sysreg.TypeNoRaw, Requires: aa64,
			ReadFn: func(c *Core, r *register) uint64 { return uint64(c.ctx.EL) << 2 }},
		{Name: "NZCV", State: sysreg.StateAA64, Op0: 3, Op1: 3, CRn: 4, CRm: 2, Op2: 0,
			Perm: sysreg.PL0RW, Type: sysreg.TypeNoRaw, Requires: aa64,
			ReadFn: readNZCV, WriteFn: writeNZCV},
		{Name: "DAIF", State: sysreg.StateAA64, Op0: 3, Op1: 3, CRn: 4, CRm: 2, Op2: 1,
			Perm: sysreg.PL0RW, Type: sysreg.TypeNoRaw, Requires: aa64,
			ReadFn: readDAIF, WriteFn: writeDAIF, AccessFn: accessEL0SCTLR(sctlrUMA)},
		{Name: "SPSel", State: sysreg.StateAA64, Op0: 3, CRn: 4, CRm: 2, Op2: 0,
			Perm: sysreg.PL1RW, Type: sysreg.TypeNoRaw, Requires: aa64,
			ReadFn: readSPSel, WriteFn: writeSPSel},
		{Name: "PAN", State: sysreg.StateAA64, Op0: 3, CRn: 4, CRm: 2, Op2: 3,
			Perm: sysreg.PL1RW, Type: sysreg.TypeNoRaw, Requires: feats(arch.FeaturePAN),
			ReadFn: readPAN, WriteFn: writePAN},

		{Name: "SP_EL0", State: sysreg.StateAA64, Op0: 3, CRn: 4, CRm: 1, Op2: 0,
			Perm: sysreg.PL1RW, Requires: aa64, Opaque: 0,
			ReadFn: readSP, WriteFn: writeSP, AccessFn: accessSPEL0},
		{Name: "SP_EL1", State: sysreg.StateAA64, Op0: 3, Op1: 4, CRn: 4, CRm: 1, Op2: 0,
			Perm: sysreg.PL2RW, Requires: aa64, Opaque: 1, ReadFn: readSP, WriteFn: writeSP},
		{Name: "SP_EL2", State: sysreg.StateAA64, Op0: 3, Op1: 6, CRn: 4, CRm: 1, Op2: 0,
			Perm: sysreg.PL3RW, Requires: feats(arch.FeatureEL3, arch.FeatureAArch64),
			Opaque: 2, ReadFn: readSP, WriteFn: writeSP},

		{Name: "ELR_EL1", State: sysreg.StateAA64, Op0: 3, CRn: 4, CRm: 0, Op2: 1,
			Perm: sysreg.PL1RW, Requires: aa64, Opaque: 1, ReadFn: readELR, WriteFn: writeELR},
		{Name: "ELR_EL2", State: sysreg.StateAA64, Op0: 3, Op1: 4, CRn: 4, CRm: 0, Op2: 1,
			Perm: sysreg.PL2RW, Type: sysreg.TypeEL2, Requires: aa64, Opaque: 2,
			ReadFn: readELR, WriteFn: writeELR},
		{Name: "ELR_EL3", State: sysreg.StateAA64, Op0: 3, Op1: 6, CRn: 4, CRm: 0, Op2: 1,
			Perm: sysreg.PL3RW, Requires: feats(arch.FeatureEL3, arch.FeatureAArch64), Opaque: 3,
			ReadFn: readELR, WriteFn: writeELR},
		{Name: "SPSR_EL1", State: sysreg.StateAA64, Op0: 3, CRn: 4, CRm: 0, Op2: 0,
			Perm: sysreg.PL1RW, Requires: aa64, Opaque: arch.EL1,
			ReadFn: readSPSR, WriteFn: writeSPSR},
		{Name: "SPSR_EL2", State: sysreg.StateAA64, Op0: 3, Op1: 4, CRn: 4, CRm: 0, Op2: 0,
			Perm: sysreg.PL2RW, Type: sysreg.TypeEL2, Requires: aa64, Opaque: arch.EL2,
			ReadFn: readSPSR, WriteFn: writeSPSR},
		{Name: "SPSR_EL3", State: sysreg.StateAA64, Op0: 3, Op1: 6, CRn: 4, CRm: 0, Op2: 0,
			Perm: sysreg.PL3RW, Requires: feats(arch.FeatureEL3, arch.FeatureAArch64),
			Opaque: arch.EL3, ReadFn: readSPSR, WriteFn: writeSPSR},

		{Name: "MDSCR_EL1", State: sysreg.StateAA64, Op0: 2, CRn: 0, CRm: 2, Op2: 2,
			Perm: sysreg.PL1RW, Field: fMDSCR, Requires: aa64},
	}
}

func readNZCV(c *Core, r *register) uint64 {
	p := c.regs.PSTATE
	return p.packFlags() & 0xf0000000
}

func writeNZCV(c *Core, r *register, v uint64) {
	p := &c.regs.PSTATE
	p.N, p.Z = arch.Bit(v, psrN), arch.Bit(v, psrZ)
	p.C, p.V = arch.Bit(v, psrC), arch.Bit(v, psrV)
}

func readDAIF(c *Core, r *register) uint64 {
	return c.regs.PSTATE.Pack64() & 0x3c0
}

func writeDAIF(c *Core, r *register, v uint64) {
	p := &c.regs.PSTATE
	p.D, p.A = arch.Bit(v, psrD), arch.Bit(v, psrA)
	p.I, p.F = arch.Bit(v, psrI), arch.Bit(v, psrF)
}

func readSPSel(c *Core, r *register) uint64 {
	if c.regs.PSTATE.SP {
		return 1
	}
	return 0
}

func writeSPSel(c *Core, r *register, v uint64) {
	c.regs.PSTATE.SP = v&1 != 0
}

func readPAN(c *Core, r *register) uint64 {
	if c.regs.PSTATE.PAN {
		return 1 << psrPAN
	}
	return 0
}

func writePAN(c *Core, r *register, v uint64) {
	c.regs.PSTATE.PAN = arch.Bit(v, psrPAN)
	c.updateContext()
}

// accessSPEL0 makes SP_EL0 undefined while it is the current stack pointer.
func accessSPEL0(c *Core, r *register, isRead bool) sysreg.Result {
	if !c.regs.PSTATE.SP {
		return sysreg.Undefined
	}
	return sysreg.Allow
}

func readSP(c *Core, r *register) uint64 {
	return c.regs.SP[r.Opaque.(int)]
}

func writeSP(c *Core, r *register, v uint64) {
	c.regs.SP[r.Opaque.(int)] = v
}

func readELR(c *Core, r *register) uint64 {
	return c.regs.ELR[r.Opaque.(int)]
}

func writeELR(c *Core, r *register, v uint64) {
	c.regs.ELR[r.Opaque.(int)] = v
}

func readSPSR(c *Core, r *register) uint64 {
	return c.regs.BankedSPSR[spsrBank(r.Opaque.(arch.EL))]
}

func writeSPSR(c *Core, r *register, v uint64) {
	c.regs.BankedSPSR[spsrBank(r.Opaque.(arch.EL))] = v
}

func (m *Model) cacheRegs() []desc {
	v6 := feats(arch.FeatureV6)
	return []desc{
		{Name: "CP15ISB", State: sysreg.StateAA32, CRn: 7, CRm: 5, Op2: 4,
			Perm: sysreg.PL0W, Type: sysreg.TypeNOP, Requires: v6},
		{Name: "CP15DSB", State: sysreg.StateAA32, CRn: 7, CRm: 10, Op2: 4,
			Perm: sysreg.PL0W, Type: sysreg.TypeNOP, Requires: v6},
		{Name: "CP15DMB", State: sysreg.StateAA32, CRn: 7, CRm: 10, Op2: 5,
			Perm: sysreg.PL0W, Type: sysreg.TypeNOP, Requires: v6},
		{Name: "CACHEMAINT", State: sysreg.StateAA32, CRn: 7, CRm: sysreg.Any, Op2: sysreg.Any,
			Perm: sysreg.PL1W, Type: sysreg.TypeNOP},
		{Name: "DC_IC_EL1", State: sysreg.StateAA64, Op0: 1, CRn: 7, CRm: sysreg.Any,
			Op2: sysreg.Any, Perm: sysreg.PL1W, Type: sysreg.TypeNOP,
			Requires: feats(arch.FeatureAArch64)},
		{Name: "DC_IC_EL0", State: sysreg.StateAA64, Op0: 1, Op1: 3, CRn: 7, CRm: sysreg.Any,
			Op2: sysreg.Any, Perm: sysreg.PL0W, Type: sysreg.TypeNOP,
			AccessFn: accessEL0SCTLR(sctlrUCI), Requires: feats(arch.FeatureAArch64)},
	}
}

// idSpaceRegs fills the unallocated parts of the ID register space, which
// read as zero.
func (m *Model) idSpaceRegs() []desc {
	return []desc{
		{Name: "ID_RAZ", State: sysreg.StateAA32, CRn: 0, CRm: sysreg.Any, Op2: sysreg.Any,
			Perm: sysreg.PL1R, Type: sysreg.TypeConst, AccessFn: accessTID3,
			Requires: feats(arch.FeatureV6)},
		{Name: "ID_AA64_RAZ", State: sysreg.StateAA64, Op0: 3, CRn: 0, CRm: sysreg.Any,
			Op2: sysreg.Any, Perm: sysreg.PL1R, Type: sysreg.TypeConst, AccessFn: accessTID3,
			Requires: feats(arch.FeatureAArch64)},
	}
}
