package emu

import (
	"github.com/sarchlab/armsys/arch"
	"github.com/sarchlab/armsys/mmu"
	"github.com/sarchlab/armsys/sysreg"
)

// pmsaState holds the PMSAv7 region registers, indexed by RGNR.
type pmsaState struct {
	drbar, drsr, dracr []uint32
}

func newPMSAState(n int) pmsaState {
	return pmsaState{
		drbar: make([]uint32, n),
		drsr:  make([]uint32, n),
		dracr: make([]uint32, n),
	}
}

func (p *pmsaState) reset() {
	for i := range p.drbar {
		p.drbar[i], p.drsr[i], p.dracr[i] = 0, 0, 0
	}
}

// pmsaControls adds the protection-unit registers to ctl.
func (c *Core) pmsaControls(ctl *mmu.Controls) {
	f := c.fields
	for n := range ctl.PMSARegions {
		ctl.PMSARegions[n] = uint32(f[fPMSARegion0+n])
	}
	ctl.PMSADataAP = uint32(f[fPMSADataAP])
	ctl.PMSAInsnAP = uint32(f[fPMSAInsnAP])
	ctl.DRBAR = c.pmsa.drbar
	ctl.DRSR = c.pmsa.drsr
	ctl.DRACR = c.pmsa.dracr
}

// simpleAP packs the low two bits of each extended access-permission
// nibble; extendedAP is its inverse.
func simpleAP(v uint64) uint64 {
	var out uint64
	for n := uint(0); n < 8; n++ {
		out |= (v >> (n * 4) & 3) << (n * 2)
	}
	return out
}

func extendedAP(v uint64) uint64 {
	var out uint64
	for n := uint(0); n < 8; n++ {
		out |= (v >> (n * 2) & 3) << (n * 4)
	}
	return out
}

func (m *Model) pmsaRegs() []desc {
	if !m.has(arch.FeaturePMSA) {
		return nil
	}
	if m.has(arch.FeatureV7) {
		return pmsav7Regs()
	}

	v5 := []desc{
		{Name: "DATA_AP", State: sysreg.StateAA32, CRn: 5, CRm: 0, Op2: 0,
			Perm: sysreg.PL1RW, Type: sysreg.TypeAlias | sysreg.TypeOverride,
			Field: fPMSADataAP,
			ReadFn: func(c *Core, r *register) uint64 {
				return simpleAP(c.fields[fPMSADataAP])
			},
			WriteFn: func(c *Core, r *register, v uint64) {
				writePMSA(c, fPMSADataAP, extendedAP(v))
			}},
		{Name: "INSN_AP", State: sysreg.StateAA32, CRn: 5, CRm: 0, Op2: 1,
			Perm: sysreg.PL1RW, Type: sysreg.TypeAlias | sysreg.TypeOverride,
			Field: fPMSAInsnAP,
			ReadFn: func(c *Core, r *register) uint64 {
				return simpleAP(c.fields[fPMSAInsnAP])
			},
			WriteFn: func(c *Core, r *register, v uint64) {
				writePMSA(c, fPMSAInsnAP, extendedAP(v))
			}},
		{Name: "DATA_EXT_AP", State: sysreg.StateAA32, CRn: 5, CRm: 0, Op2: 2,
			Perm: sysreg.PL1RW, Field: fPMSADataAP, WriteFn: writePMSAField},
		{Name: "INSN_EXT_AP", State: sysreg.StateAA32, CRn: 5, CRm: 0, Op2: 3,
			Perm: sysreg.PL1RW, Field: fPMSAInsnAP, WriteFn: writePMSAField},
	}
	for n := 0; n < 8; n++ {
		v5 = append(v5, desc{Name: "PRBS" + string(rune('0'+n)), State: sysreg.StateAA32,
			CRn: 6, CRm: uint8(n), Op2: sysreg.Any, Perm: sysreg.PL1RW,
			Field: fPMSARegion0 + n, WriteFn: writePMSAField})
	}
	return v5
}

func pmsav7Regs() []desc {
	return []desc{
		{Name: "RGNR", State: sysreg.StateAA32, CRn: 6, CRm: 2, Op2: 0,
			Perm: sysreg.PL1RW, Field: fRGNR, WriteFn: writeRGNR},
		{Name: "DRBAR", State: sysreg.StateAA32, CRn: 6, CRm: 1, Op2: 0,
			Perm: sysreg.PL1RW, Type: sysreg.TypeNoRaw,
			ReadFn:  pmsaRegionRead(func(p *pmsaState) []uint32 { return p.drbar }),
			WriteFn: pmsaRegionWrite(func(p *pmsaState) []uint32 { return p.drbar })},
		{Name: "DRSR", State: sysreg.StateAA32, CRn: 6, CRm: 1, Op2: 2,
			Perm: sysreg.PL1RW, Type: sysreg.TypeNoRaw,
			ReadFn:  pmsaRegionRead(func(p *pmsaState) []uint32 { return p.drsr }),
			WriteFn: pmsaRegionWrite(func(p *pmsaState) []uint32 { return p.drsr })},
		{Name: "DRACR", State: sysreg.StateAA32, CRn: 6, CRm: 1, Op2: 4,
			Perm: sysreg.PL1RW, Type: sysreg.TypeNoRaw,
			ReadFn:  pmsaRegionRead(func(p *pmsaState) []uint32 { return p.dracr }),
			WriteFn: pmsaRegionWrite(func(p *pmsaState) []uint32 { return p.dracr })},
	}
}

func writePMSA(c *Core, field int, v uint64) {
	c.fields[field] = v
	c.tlb.FlushAll()
}

func writePMSAField(c *Core, r *register, v uint64) {
	writePMSA(c, r.Field, v)
}

// writeRGNR ignores region numbers the unit does not implement.
func writeRGNR(c *Core, r *register, v uint64) {
	if v >= uint64(len(c.pmsa.drbar)) {
		c.logger.Warn("RGNR write out of range", "core", c.id, "value", v,
			"regions", len(c.pmsa.drbar))
		return
	}
	c.fields[fRGNR] = v
}

func pmsaRegionRead(sel func(*pmsaState) []uint32) sysreg.ReadFunc[*Core] {
	return func(c *Core, r *register) uint64 {
		regs := sel(&c.pmsa)
		if n := c.fields[fRGNR]; n < uint64(len(regs)) {
			return uint64(regs[n])
		}
		return 0
	}
}

func pmsaRegionWrite(sel func(*pmsaState) []uint32) sysreg.WriteFunc[*Core] {
	return func(c *Core, r *register, v uint64) {
		regs := sel(&c.pmsa)
		n := c.fields[fRGNR]
		if n >= uint64(len(regs)) {
			return
		}
		regs[n] = uint32(v)
		c.tlb.FlushAll()
	}
}
