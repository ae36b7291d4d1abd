package emu

import (
	"errors"
	"fmt"

	"github.com/sarchlab/armsys/arch"
	"github.com/sarchlab/armsys/mmu"
	"github.com/sarchlab/armsys/sysreg"
	"github.com/sarchlab/armsys/tlb"
)

// tlbiOp is the Opaque payload of a TLB maintenance register.
type tlbiOp struct {
	op        tlb.Op
	broadcast bool
}

func (m *Model) tlbiRegs() []desc {
	var out []desc
	add := func(d desc, op tlb.Op, bcast bool) {
		d.Type |= sysreg.TypeNoRaw
		d.WriteFn = writeTLBI
		d.Opaque = tlbiOp{op: op, broadcast: bcast}
		out = append(out, d)
	}

	aa64 := feats(arch.FeatureAArch64)
	e1 := []struct {
		op2  uint8
		name string
		op   tlb.Op
	}{
		{0, "VMALLE1", tlb.OpVMAllE1},
		{1, "VAE1", tlb.OpVAE1},
		{2, "ASIDE1", tlb.OpASIDE1},
		{3, "VAAE1", tlb.OpVAAE1},
		{5, "VALE1", tlb.OpVAE1},
		{7, "VAALE1", tlb.OpVAAE1},
	}
	e2 := []struct {
		op2  uint8
		name string
		op   tlb.Op
	}{
		{0, "ALLE2", tlb.OpAllE2},
		{1, "VAE2", tlb.OpVAE2},
		{4, "ALLE1", tlb.OpAllE1},
		{5, "VALE2", tlb.OpVAE2},
		{6, "VMALLS12E1", tlb.OpVMAllS12E1},
	}
	e3 := []struct {
		op2  uint8
		name string
		op   tlb.Op
	}{
		{0, "ALLE3", tlb.OpAllE3},
		{1, "VAE3", tlb.OpVAE3},
		{5, "VALE3", tlb.OpVAE3},
	}

	for _, crm := range []uint8{3, 7} {
		bcast := crm == 3
		sfx := ""
		if bcast {
			sfx = "IS"
		}
		for _, e := range e1 {
			add(desc{Name: "TLBI_" + e.name + sfx, State: sysreg.StateAA64, Op0: 1,
				CRn: 8, CRm: crm, Op2: e.op2, Perm: sysreg.PL1W, Requires: aa64}, e.op, bcast)
		}
		for _, e := range e2 {
			add(desc{Name: "TLBI_" + e.name + sfx, State: sysreg.StateAA64, Op0: 1, Op1: 4,
				CRn: 8, CRm: crm, Op2: e.op2, Perm: sysreg.PL2W, Type: sysreg.TypeEL2,
				Requires: aa64}, e.op, bcast)
		}
		for _, e := range e3 {
			add(desc{Name: "TLBI_" + e.name + sfx, State: sysreg.StateAA64, Op0: 1, Op1: 6,
				CRn: 8, CRm: crm, Op2: e.op2, Perm: sysreg.PL3W,
				Requires: feats(arch.FeatureEL3, arch.FeatureAArch64)}, e.op, bcast)
		}
	}
	for _, crm := range []uint8{0, 4} {
		bcast := crm == 0
		sfx := ""
		if bcast {
			sfx = "IS"
		}
		add(desc{Name: "TLBI_IPAS2E1" + sfx, State: sysreg.StateAA64, Op0: 1, Op1: 4,
			CRn: 8, CRm: crm, Op2: 1, Perm: sysreg.PL2W, Type: sysreg.TypeEL2,
			Requires: aa64}, tlb.OpIPAS2E1, bcast)
		add(desc{Name: "TLBI_IPAS2LE1" + sfx, State: sysreg.StateAA64, Op0: 1, Op1: 4,
			CRn: 8, CRm: crm, Op2: 5, Perm: sysreg.PL2W, Type: sysreg.TypeEL2,
			Requires: aa64}, tlb.OpIPAS2E1, bcast)
	}

	a32 := []struct {
		op2  uint8
		name string
		op   tlb.Op
		req  arch.Features
	}{
		{0, "TLBIALL", tlb.OpVMAllE1, 0},
		{1, "TLBIMVA", tlb.OpVAE1, 0},
		{2, "TLBIASID", tlb.OpASIDE1, feats(arch.FeatureV6)},
		{3, "TLBIMVAA", tlb.OpVAAE1, feats(arch.FeatureV7)},
		{5, "TLBIMVAL", tlb.OpVAE1, feats(arch.FeatureV8)},
		{7, "TLBIMVAAL", tlb.OpVAAE1, feats(arch.FeatureV8)},
	}
	for _, crm := range []uint8{3, 5, 6, 7} {
		var prefix, sfx string
		req := arch.Features(0)
		switch crm {
		case 3:
			sfx, req = "IS", feats(arch.FeatureV7MP)
		case 5:
			prefix = "I"
		case 6:
			prefix = "D"
		}
		for _, e := range a32 {
			if (crm == 5 || crm == 6) && e.op2 > 2 {
				continue
			}
			name := e.name
			if prefix != "" {
				name = prefix + name
			}
			add(desc{Name: name + sfx, State: sysreg.StateAA32, CRn: 8, CRm: crm,
				Op2: e.op2, Perm: sysreg.PL1W, Requires: req | e.req,
				Excludes: feats(arch.FeaturePMSA)}, e.op, crm == 3)
		}
	}

	hyp := []struct {
		crm, op2 uint8
		name     string
		op       tlb.Op
	}{
		{7, 0, "TLBIALLH", tlb.OpAllE2},
		{7, 1, "TLBIMVAH", tlb.OpVAE2},
		{7, 4, "TLBIALLNSNH", tlb.OpAllE1},
		{7, 5, "TLBIMVALH", tlb.OpVAE2},
		{3, 0, "TLBIALLHIS", tlb.OpAllE2},
		{3, 1, "TLBIMVAHIS", tlb.OpVAE2},
		{3, 4, "TLBIALLNSNHIS", tlb.OpAllE1},
		{3, 5, "TLBIMVALHIS", tlb.OpVAE2},
		{4, 1, "TLBIIPAS2", tlb.OpIPAS2E1},
		{4, 5, "TLBIIPAS2L", tlb.OpIPAS2E1},
		{0, 1, "TLBIIPAS2IS", tlb.OpIPAS2E1},
		{0, 5, "TLBIIPAS2LIS", tlb.OpIPAS2E1},
	}
	for _, e := range hyp {
		add(desc{Name: e.name, State: sysreg.StateAA32, Op1: 4, CRn: 8, CRm: e.crm,
			Op2: e.op2, Perm: sysreg.PL2W, Type: sysreg.TypeEL2},
			e.op, e.crm == 3 || e.crm == 0)
	}
	return out
}

// decodeTLBIOperand extracts the address and ASID of a TLB maintenance
// operand.
func decodeTLBIOperand(op tlb.Op, aarch64 bool, v uint64) (addr uint64, asid uint16) {
	if aarch64 {
		switch op {
		case tlb.OpIPAS2E1:
			return (v & 0xfffffffff) << 12, 0
		case tlb.OpASIDE1:
			return 0, uint16(v >> 48)
		}
		return arch.SignExtend(v<<12, 56), uint16(v >> 48)
	}

	switch op {
	case tlb.OpIPAS2E1:
		return (v & 0xfffffff) << 12, 0
	case tlb.OpASIDE1:
		return 0, uint16(v & 0xff)
	}
	return v & 0xfffff000, uint16(v & 0xff)
}

// tlbState returns the context TLB maintenance is scoped by.
func (c *Core) tlbState() tlb.State {
	hcr := c.effectiveHCR()
	return tlb.State{
		EL:         c.ctx.EL,
		Secure:     c.ctx.Secure,
		EL2Enabled: c.el2Enabled(),
		E2H:        hcr&hcrE2H != 0,
		TGE:        hcr&hcrTGE != 0,
		FB:         hcr&hcrFB != 0,
		VMID:       c.vmid(),
	}
}

func writeTLBI(c *Core, r *register, v uint64) {
	tlbi := r.Opaque.(tlbiOp)
	req := tlb.Request{Op: tlbi.op, Broadcast: tlbi.broadcast}
	req.Addr, req.ASID = decodeTLBIOperand(tlbi.op, r.IsAArch64(), v)

	st := c.tlbState()
	if err := c.coord.Issue(c.tlb, st, req); err != nil {
		c.logger.Error("tlb maintenance failed", "core", c.id, "op", tlbi.op, "error", err)
		return
	}

	// Secure PL1 runs at EL3 when EL3 is AArch32; its EL1 operations also
	// cover the SE3 regime.
	if c.ctx.EL == arch.EL3 && c.el3AArch32() && tlbi.op <= tlb.OpVAAE1 {
		f := tlb.Flush{Kind: tlb.FlushEverything, Indexes: arch.MaskE3, AnyVMID: true}
		if st.Broadcast(req) {
			c.coord.Broadcast(f)
		} else {
			c.tlb.Apply(f)
		}
	}
}

// atOp is the Opaque payload of an address translation operation.
type atOp struct {
	// el is the exception level of the translation regime, and stage12
	// selects a full two-stage translation.
	el      arch.EL
	stage12 bool
	write   bool
}

func (m *Model) atRegs() []desc {
	var out []desc
	add := func(d desc, el arch.EL, s12, write bool) {
		d.Type |= sysreg.TypeNoRaw
		d.WriteFn = writeAT
		d.Opaque = atOp{el: el, stage12: s12, write: write}
		out = append(out, d)
	}

	vapa := feats(arch.FeatureVAPA)
	for op2, name := range []string{"ATS1CPR", "ATS1CPW", "ATS1CUR", "ATS1CUW"} {
		el := arch.EL1
		if op2 >= 2 {
			el = arch.EL0
		}
		add(desc{Name: name, State: sysreg.StateAA32, CRn: 7, CRm: 8, Op2: uint8(op2),
			Perm: sysreg.PL1W, Requires: vapa, Excludes: feats(arch.FeaturePMSA)},
			el, false, op2%2 == 1)
	}
	for i, name := range []string{"ATS12NSOPR", "ATS12NSOPW", "ATS12NSOUR", "ATS12NSOUW"} {
		el := arch.EL1
		if i >= 2 {
			el = arch.EL0
		}
		add(desc{Name: name, State: sysreg.StateAA32, CRn: 7, CRm: 8, Op2: uint8(4 + i),
			Perm: sysreg.PL2W, Type: sysreg.TypeEL2, Requires: vapa},
			el, true, i%2 == 1)
	}
	add(desc{Name: "ATS1HR", State: sysreg.StateAA32, Op1: 4, CRn: 7, CRm: 8, Op2: 0,
		Perm: sysreg.PL2W, Type: sysreg.TypeEL2}, arch.EL2, false, false)
	add(desc{Name: "ATS1HW", State: sysreg.StateAA32, Op1: 4, CRn: 7, CRm: 8, Op2: 1,
		Perm: sysreg.PL2W, Type: sysreg.TypeEL2}, arch.EL2, false, true)

	aa64 := feats(arch.FeatureAArch64)
	a64 := []struct {
		op1, op2 uint8
		name     string
		el       arch.EL
		s12      bool
	}{
		{0, 0, "AT_S1E1R", arch.EL1, false},
		{0, 1, "AT_S1E1W", arch.EL1, false},
		{0, 2, "AT_S1E0R", arch.EL0, false},
		{0, 3, "AT_S1E0W", arch.EL0, false},
		{4, 0, "AT_S1E2R", arch.EL2, false},
		{4, 1, "AT_S1E2W", arch.EL2, false},
		{4, 4, "AT_S12E1R", arch.EL1, true},
		{4, 5, "AT_S12E1W", arch.EL1, true},
		{4, 6, "AT_S12E0R", arch.EL0, true},
		{4, 7, "AT_S12E0W", arch.EL0, true},
		{6, 0, "AT_S1E3R", arch.EL3, false},
		{6, 1, "AT_S1E3W", arch.EL3, false},
	}
	for _, e := range a64 {
		d := desc{Name: e.name, State: sysreg.StateAA64, Op0: 1, Op1: e.op1, CRn: 7, CRm: 8,
			Op2: e.op2, Perm: sysreg.PL1W, Requires: aa64}
		switch e.op1 {
		case 4:
			d.Perm, d.Type = sysreg.PL2W, sysreg.TypeEL2
		case 6:
			d.Perm, d.Requires = sysreg.PL3W, feats(arch.FeatureEL3, arch.FeatureAArch64)
		}
		add(d, e.el, e.s12, e.op2%2 == 1)
	}
	return out
}

// atIndex picks the MMU index an address translation operation walks.
func (c *Core) atIndex(op atOp) arch.MMUIndex {
	switch op.el {
	case arch.EL3:
		return arch.MMUIdxE3
	case arch.EL2:
		if c.fields[fHCR]&hcrE2H != 0 {
			return arch.MMUIdxE20_2
		}
		return arch.MMUIdxE2
	}

	user := op.el == arch.EL0
	switch {
	case op.stage12 && user:
		return arch.MMUIdxE10_0
	case op.stage12:
		return arch.MMUIdxE10_1
	case c.ctx.EL == arch.EL3 && c.el3AArch32():
		if user {
			return arch.MMUIdxSE10_0
		}
		return arch.MMUIdxSE3
	case c.ctx.Secure && user:
		return arch.MMUIdxSE10_0
	case c.ctx.Secure:
		return arch.MMUIdxSE10_1
	case c.hostRegime() && user:
		return arch.MMUIdxE20_0
	case c.hostRegime():
		return arch.MMUIdxE20_2
	case user:
		return arch.MMUIdxStage1E0
	}
	return arch.MMUIdxStage1E1
}

func writeAT(c *Core, r *register, v uint64) {
	op := r.Opaque.(atOp)
	va := v
	if !r.IsAArch64() {
		va = uint64(uint32(v))
	}
	at := mmu.AccessLoad
	if op.write {
		at = mmu.AccessStore
	}

	idx := c.atIndex(op)
	long := r.IsAArch64() || c.Controls(idx).AArch64 || c.regimeUsesLPAE(idx) ||
		(op.stage12 && c.Controls(idx).Stage2Enabled)

	res, err := c.walker.Translate(va, at, idx)
	var fi *mmu.FaultInfo
	if err != nil && !errors.As(err, &fi) {
		panic(fmt.Sprintf("emu: unexpected translation error: %v", err))
	}

	par := parValue(res, fi, long, c.has(arch.FeatureV7))
	field := fPAR
	if !r.IsAArch64() && !c.nsBank() {
		field = fPARS
	}
	c.fields[field] = par
	c.logger.Debug("address translation", "core", c.id, "op", r.Name, "va", va,
		"par", par)
}

// regimeUsesLPAE reports whether the stage-1 regime of idx uses the
// long-descriptor format.
func (c *Core) regimeUsesLPAE(idx arch.MMUIndex) bool {
	ctl := c.Controls(idx)
	if ctl.AArch64 {
		return true
	}
	if !c.has(arch.FeatureLPAE) {
		return false
	}
	return idx.RegimeEL() == arch.EL2 || ctl.TCR&mmu.TTBCREAE != 0
}

// parValue encodes the result of an address translation operation in PAR
// format. v7 selects the supersection form of the short-format PAR.
func parValue(res mmu.Result, fi *mmu.FaultInfo, long, v7 bool) uint64 {
	var ns uint64
	if res.NS {
		ns = 1
	}

	switch {
	case fi != nil && long:
		par := uint64(1) | uint64(fi.LongFSC())<<1 | 1<<11
		if fi.S1PTW {
			par |= 1 << 8
		}
		if fi.Stage2 {
			par |= 1 << 9
		}
		return par
	case fi != nil:
		fsr := uint64(fi.ShortFSR())
		return (fsr&(1<<10))>>5 | (fsr&(1<<12))>>6 | (fsr&0xf)<<1 | 1
	case long:
		return res.PhysAddr&0xfffffffff000 | uint64(res.Attrs.Attrs)<<56 |
			uint64(res.Attrs.Shareability)<<7 | ns<<9 | 1<<11
	case v7 && res.PageSize == 1<<24:
		// PAR[23:16] holds PA[39:32].
		return res.PhysAddr&0xff000000 | (res.PhysAddr>>32&0xff)<<16 | ns<<9 | 1<<1
	}
	return res.PhysAddr&0xfffff000 | ns<<9
}
