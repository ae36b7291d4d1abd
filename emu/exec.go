package emu

import (
	"errors"

	"github.com/sarchlab/armsys/arch"
	"github.com/sarchlab/armsys/insts"
)

// ErrNotSystem is returned by Execute for instructions it does not model.
var ErrNotSystem = errors.New("not a system instruction")

// CPSR bits an MSR or MRS never sees: J, IT and T.
const cpsrExecMask = 1<<24 | 0x0600fc00 | 1<<psrT

// CPSR bits writable from User mode: NZCVQ, GE and E.
const cpsrUserMask = 0xf8000000 | 0x000f0000 | 1<<psrE

// Execute performs a decoded system instruction. PC must hold the address
// of the instruction. On return PC holds the next instruction, the
// exception vector, or the return address of an exception return.
// Exceptions the instruction raises are delivered and are not errors.
func (c *Core) Execute(inst *insts.Instruction) error {
	if inst.ISA != insts.ISAA64 && !c.condPasses(inst.Cond) {
		c.regs.PC += uint64(inst.Size)
		return nil
	}

	switch inst.Op {
	case insts.OpMRS, insts.OpMSR, insts.OpSYS, insts.OpSYSL:
		c.execSysReg64(inst)
	case insts.OpMSRImm:
		c.execMSRImm(inst)
	case insts.OpMRC, insts.OpMCR, insts.OpMRRC, insts.OpMCRR:
		c.execCoproc(inst)
	case insts.OpSVC, insts.OpHVC, insts.OpSMC:
		c.execCall(inst)
	case insts.OpBRK, insts.OpBKPT:
		c.TakeException(Exception{Kind: ExcBreakpoint, Imm: inst.Imm})
	case insts.OpHLT:
		c.TakeException(Exception{Kind: ExcHLT, Imm: inst.Imm})
	case insts.OpUDF:
		c.TakeException(Exception{Kind: ExcUndefined})
	case insts.OpERET:
		c.ExceptionReturn()
	case insts.OpSUBSPCLR:
		c.execSubsPCLR(inst)
	case insts.OpMRSPSR:
		c.execMRSPSR(inst)
	case insts.OpMSRPSR:
		c.execMSRPSR(inst)
	case insts.OpCPS:
		c.execCPS(inst)
	case insts.OpHint:
		c.execHint(inst)
	case insts.OpBarrier:
		c.regs.PC += uint64(inst.Size)
	default:
		return ErrNotSystem
	}
	return nil
}

// condPasses evaluates an AArch32 condition against PSTATE.
func (c *Core) condPasses(cond insts.Cond) bool {
	p := &c.regs.PSTATE
	var r bool
	switch cond >> 1 {
	case 0:
		r = p.Z
	case 1:
		r = p.C
	case 2:
		r = p.N
	case 3:
		r = p.V
	case 4:
		r = p.C && !p.Z
	case 5:
		r = p.N == p.V
	case 6:
		r = p.N == p.V && !p.Z
	default:
		return true
	}
	if cond&1 != 0 {
		return !r
	}
	return r
}

func (c *Core) execSysReg64(inst *insts.Instruction) {
	a := Access{
		AArch64: true,
		Op0:     inst.Op0,
		Op1:     inst.Op1,
		CRn:     inst.CRn,
		CRm:     inst.CRm,
		Op2:     inst.Op2,
		Rt:      inst.Rt,
		IsRead:  inst.IsRead,
		Value:   c.regs.ReadReg(inst.Rt),
	}
	v, err := c.AccessSysReg(a)
	if err != nil {
		return
	}
	if inst.IsRead {
		c.regs.WriteReg(inst.Rt, v)
	}
	c.regs.PC += 4
}

// execMSRImm writes a PSTATE field through the register of the same
// field, so that the register's traps apply.
func (c *Core) execMSRImm(inst *insts.Instruction) {
	a := Access{AArch64: true, Op0: 3, CRn: 4, CRm: 2}
	imm := uint64(inst.Imm)

	switch inst.Op1<<3 | inst.Op2 {
	case insts.PSTATEDAIFSet:
		a.Op1, a.Op2 = 3, 1
		a.Value = readDAIF(c, nil) | imm<<psrF
	case insts.PSTATEDAIFClr:
		a.Op1, a.Op2 = 3, 1
		a.Value = readDAIF(c, nil) &^ (imm << psrF)
	case insts.PSTATESPSel:
		a.Op2 = 0
		a.Value = imm & 1
	case insts.PSTATEPAN:
		a.Op2 = 3
		a.Value = (imm & 1) << psrPAN
	default:
		c.TakeException(Exception{Kind: ExcUndefined})
		return
	}

	if _, err := c.AccessSysReg(a); err != nil {
		return
	}
	c.regs.PC += 4
}

func (c *Core) execCoproc(inst *insts.Instruction) {
	a := Access{
		CP:     inst.CP,
		Op1:    inst.Op1,
		CRn:    inst.CRn,
		CRm:    inst.CRm,
		Op2:    inst.Op2,
		Is64:   inst.Op == insts.OpMRRC || inst.Op == insts.OpMCRR,
		Rt:     inst.Rt,
		Rt2:    inst.Rt2,
		IsRead: inst.IsRead,
	}
	if !inst.IsRead {
		a.Value = uint64(c.reg32(inst.Rt))
		if a.Is64 {
			a.Value |= uint64(c.reg32(inst.Rt2)) << 32
		}
	}

	v, err := c.AccessSysReg(a)
	if err != nil {
		return
	}

	switch {
	case !inst.IsRead:
	case a.Is64:
		c.setReg32(inst.Rt, uint32(v))
		c.setReg32(inst.Rt2, uint32(v>>32))
	case inst.Rt == 15:
		// MRC to PC sets the condition flags.
		p := &c.regs.PSTATE
		p.N, p.Z = arch.Bit(v, psrN), arch.Bit(v, psrZ)
		p.C, p.V = arch.Bit(v, psrC), arch.Bit(v, psrV)
	default:
		c.setReg32(inst.Rt, uint32(v))
	}
	c.regs.PC += uint64(inst.Size)
}

func (c *Core) reg32(n uint8) uint32 {
	if n >= 15 {
		return uint32(c.regs.PC)
	}
	return c.regs.R[n]
}

func (c *Core) setReg32(n uint8, v uint32) {
	if n < 15 {
		c.regs.R[n] = v
	}
}

// execCall executes SVC, HVC and SMC. Their preferred return address is
// the next instruction, unless the call is trapped or undefined.
func (c *Core) execCall(inst *insts.Instruction) {
	var kind ExceptionKind
	switch inst.Op {
	case insts.OpSVC:
		kind = ExcSVC
	case insts.OpHVC:
		kind = ExcHVC
		if c.hvcUndefined() {
			c.TakeException(Exception{Kind: ExcUndefined})
			return
		}
	case insts.OpSMC:
		kind = ExcSMC
		if c.smcTrapped() {
			c.TakeException(Exception{Kind: ExcSMC, Imm: inst.Imm, Target: arch.EL2})
			return
		}
		if c.smcUndefined() {
			c.TakeException(Exception{Kind: ExcUndefined})
			return
		}
	}

	c.regs.PC += uint64(inst.Size)
	c.TakeException(Exception{Kind: kind, Imm: inst.Imm})
}

func (c *Core) hvcUndefined() bool {
	if c.psciCall(Exception{Kind: ExcHVC}) {
		return false
	}
	switch {
	case c.ctx.EL == arch.EL0:
		return true
	case !c.has(arch.FeatureEL2):
		return true
	case c.ctx.Secure && c.ctx.EL == arch.EL1:
		return true
	case c.has(arch.FeatureEL3):
		return c.fields[fSCR]&scrHCE == 0
	}
	return c.fields[fHCR]&hcrHCD != 0
}

// smcTrapped applies HCR_EL2.TSC, which takes priority over PSCI.
func (c *Core) smcTrapped() bool {
	return c.ctx.EL == arch.EL1 && !c.ctx.Secure && c.effectiveHCR()&hcrTSC != 0
}

func (c *Core) smcUndefined() bool {
	if c.ctx.EL == arch.EL0 {
		return true
	}
	if c.psciCall(Exception{Kind: ExcSMC}) {
		return false
	}
	if !c.has(arch.FeatureEL3) {
		return true
	}
	smd := c.fields[fSCR]&scrSMD != 0
	if !c.has(arch.FeatureAArch64) {
		smd = smd && !c.ctx.Secure
	}
	return smd
}

func (c *Core) execSubsPCLR(inst *insts.Instruction) {
	switch c.regs.PSTATE.Mode {
	case arch.ModeUSR, arch.ModeSYS, arch.ModeHYP:
		c.TakeException(Exception{Kind: ExcUndefined})
		return
	}
	c.returnTo32(c.regs.R[14] - inst.Imm)
}

func (c *Core) execMRSPSR(inst *insts.Instruction) {
	var v uint32
	if inst.SPSR {
		if !c.hasSPSR() {
			c.TakeException(Exception{Kind: ExcUndefined})
			return
		}
		v = c.regs.SPSR
	} else {
		v = c.regs.PSTATE.Pack32() &^ cpsrExecMask
	}
	c.setReg32(inst.Rt, v)
	c.regs.PC += uint64(inst.Size)
}

func (c *Core) execMSRPSR(inst *insts.Instruction) {
	val := inst.Imm
	if !inst.ImmValue {
		val = c.reg32(inst.Rt)
	}
	var mask uint32
	for i := range 4 {
		if inst.Mask&(1<<i) != 0 {
			mask |= 0xff << (8 * i)
		}
	}

	if inst.SPSR {
		if !c.hasSPSR() {
			c.TakeException(Exception{Kind: ExcUndefined})
			return
		}
		c.regs.SPSR = c.regs.SPSR&^mask | val&mask
		c.regs.PC += uint64(inst.Size)
		return
	}

	mask &^= cpsrExecMask
	if c.regs.PSTATE.Mode == arch.ModeUSR {
		mask &= cpsrUserMask
	}
	c.regs.PC += uint64(inst.Size)
	c.CPSRWrite(val, mask, CPSRWriteByInstr)
}

func (c *Core) hasSPSR() bool {
	m := c.regs.PSTATE.Mode
	return m != arch.ModeUSR && m != arch.ModeSYS
}

// execCPS executes CPS. It is a no-op in User mode.
func (c *Core) execCPS(inst *insts.Instruction) {
	c.regs.PC += uint64(inst.Size)
	if c.regs.PSTATE.Mode == arch.ModeUSR {
		return
	}

	var val, mask uint32
	if inst.IMod&0b10 != 0 {
		aif := uint32(inst.AIF) << psrF
		mask |= aif
		if inst.IMod&1 != 0 {
			val |= aif
		}
	}
	if inst.ChangeMode {
		mask |= psrM
		val |= uint32(inst.Mode)
	}
	c.CPSRWrite(val, mask, CPSRWriteByInstr)
}

// execHint executes hints. WFI and WFE complete at once unless they are
// trapped to a higher level.
func (c *Core) execHint(inst *insts.Instruction) {
	switch inst.Hint {
	case insts.HintWFI, insts.HintWFE:
		if el, ok := c.wfxTarget(inst.Hint == insts.HintWFE); ok {
			syn := uint32(ecWFx<<26 | synIL)
			if inst.ISA != insts.ISAA64 {
				syn |= 1<<24 | uint32(inst.Cond)<<20
			}
			if inst.Hint == insts.HintWFE {
				syn |= 1
			}
			c.TakeException(Exception{Kind: ExcSysRegTrap, Syndrome: syn, Target: el})
			return
		}
	}
	c.regs.PC += uint64(inst.Size)
}

// wfxTarget returns the level a WFI or WFE traps to, if any.
func (c *Core) wfxTarget(wfe bool) (arch.EL, bool) {
	sctlrBit, hcrBit, scrBit := uint64(sctlrNTWI), uint64(hcrTWI), uint64(scrTWI)
	if wfe {
		sctlrBit, hcrBit, scrBit = sctlrNTWE, hcrTWE, scrTWE
	}
	cur := c.ctx.EL

	if cur == arch.EL0 && c.has(arch.FeatureV8) {
		sctlr := c.fields[fSCTLR1]
		if c.hostRegime() {
			sctlr = c.fields[fSCTLR2]
		}
		if sctlr&sctlrBit == 0 {
			return arch.EL1, true
		}
	}
	if cur < arch.EL2 && c.el2Enabled() && c.fields[fHCR]&hcrBit != 0 {
		return arch.EL2, true
	}
	if cur < arch.EL3 && c.has(arch.FeatureEL3) && c.fields[fSCR]&scrBit != 0 {
		return arch.EL3, true
	}
	return 0, false
}
