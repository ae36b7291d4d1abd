package emu

import (
	"fmt"

	"github.com/sarchlab/armsys/arch"
)

// CPSRWriteType says who is writing CPSR, which decides the checks
// applied.
type CPSRWriteType uint8

// CPSR write types.
const (
	// CPSRWriteByInstr is an MSR or CPS executed by the guest.
	CPSRWriteByInstr CPSRWriteType = iota
	// CPSRWriteExceptionReturn restores CPSR from SPSR.
	CPSRWriteExceptionReturn
	// CPSRWriteRaw skips all checks and does not switch register banks.
	CPSRWriteRaw
	// CPSRWriteByDebugger is a debugger write; it is checked but never
	// sets PSTATE.IL.
	CPSRWriteByDebugger
)

func (t CPSRWriteType) String() string {
	switch t {
	case CPSRWriteByInstr:
		return "instruction"
	case CPSRWriteExceptionReturn:
		return "exception-return"
	case CPSRWriteRaw:
		return "raw"
	case CPSRWriteByDebugger:
		return "debugger"
	}
	return fmt.Sprintf("CPSRWriteType(%d)", uint8(t))
}

// CPSRWrite writes the bits of val selected by mask into the AArch32
// CPSR. A mode change that the current state does not allow leaves the
// mode unchanged and, on ARMv8, sets PSTATE.IL.
func (c *Core) CPSRWrite(val, mask uint32, wt CPSRWriteType) {
	p := &c.regs.PSTATE
	if !p.NRW {
		c.logger.Warn("CPSR write in AArch64 state ignored", "core", c.id)
		return
	}
	old := p.Pack32()
	if wt == CPSRWriteRaw && !arch.Mode(val&psrM).Valid() {
		mask &^= psrM
	}

	if wt != CPSRWriteRaw && !c.has(arch.FeatureV8) && c.has(arch.FeatureEL3) &&
		!c.has(arch.FeatureEL2) && !c.ctx.Secure {
		scr := c.fields[fSCR]
		if scr&scrAW == 0 {
			mask &^= 1 << psrA
		}
		if scr&scrFW == 0 {
			mask &^= 1 << psrF
		}
	}

	if wt != CPSRWriteRaw && (old^val)&mask&psrM != 0 {
		to := arch.Mode(val & psrM)
		switch {
		case p.Mode == arch.ModeUSR:
			mask &^= psrM
		case c.badModeSwitch(to, wt):
			mask &^= psrM
			if wt != CPSRWriteByDebugger && c.has(arch.FeatureV8) {
				mask |= 1 << psrIL
				val |= 1 << psrIL
			}
			c.logger.Warn("illegal AArch32 mode switch", "core", c.id,
				"from", p.Mode, "to", to, "by", wt)
		default:
			c.regs.switchMode(p.Mode, to)
		}
	}

	p.Unpack32(old&^mask | val&mask)
	c.updateContext()
}

// badModeSwitch reports whether changing from the current mode to mode is
// forbidden.
func (c *Core) badModeSwitch(mode arch.Mode, wt CPSRWriteType) bool {
	cur := c.regs.PSTATE.Mode
	if wt == CPSRWriteByInstr && (cur == arch.ModeHYP || mode == arch.ModeHYP) {
		return true
	}

	switch mode {
	case arch.ModeUSR:
		return false
	case arch.ModeSYS, arch.ModeSVC, arch.ModeABT, arch.ModeUND, arch.ModeIRQ, arch.ModeFIQ:
		// MSR from Monitor to non-secure PL1 while HCR.TGE is set is
		// UNPREDICTABLE; it is refused.
		return wt == CPSRWriteByInstr && cur == arch.ModeMON &&
			c.fields[fHCR]&hcrTGE != 0 && !c.secureBelowEL3()
	case arch.ModeHYP:
		return !c.el2Enabled() || c.ctx.EL < arch.EL2
	case arch.ModeMON:
		return c.ctx.EL < arch.EL3
	}
	return true
}

// ExceptionReturn performs ERET in AArch64, or the AArch32 exception return
// (ERET in Hyp mode, SUBS PC, LR otherwise). An AArch64 return to a state
// the core cannot enter is an illegal exception return: it stays at the
// current level with PSTATE.IL set.
func (c *Core) ExceptionReturn() {
	if c.ctx.AArch64 {
		c.eret64()
		return
	}
	c.eret32()
}

func (c *Core) eret32() {
	p := &c.regs.PSTATE
	if p.Mode == arch.ModeUSR || p.Mode == arch.ModeSYS {
		c.TakeException(Exception{Kind: ExcUndefined})
		return
	}

	ret := c.regs.R[14]
	if p.Mode == arch.ModeHYP {
		ret = uint32(c.regs.ELR[arch.EL2])
	}
	c.returnTo32(ret)
}

// returnTo32 restores CPSR from the current SPSR and branches to ret.
func (c *Core) returnTo32(ret uint32) {
	c.CPSRWrite(c.regs.SPSR, ^uint32(0), CPSRWriteExceptionReturn)
	if c.regs.PSTATE.T {
		ret &^= 1
	} else {
		ret &^= 3
	}
	c.regs.PC = uint64(ret)
}

func (c *Core) eret64() {
	cur := c.ctx.EL
	if cur == arch.EL0 {
		c.TakeException(Exception{Kind: ExcUndefined})
		return
	}

	spsr := c.regs.BankedSPSR[spsrBank(cur)]
	elr := c.regs.ELR[cur]

	if arch.Bit(spsr, psrNRW) {
		mode := arch.Mode(spsr & psrM)
		if !c.legalReturnTo32(mode, cur) {
			c.illegalReturn(spsr, elr)
			return
		}

		p := &c.regs.PSTATE
		p.Unpack32(uint32(spsr))
		c.regs.sync64To32(mode)
		c.regs.SPSR = uint32(c.regs.BankedSPSR[mode.Bank()])
		if p.T {
			c.regs.PC = uint64(uint32(elr) &^ 1)
		} else {
			c.regs.PC = uint64(uint32(elr) &^ 3)
		}
		c.updateContext()
		return
	}

	newEL := arch.EL(spsr>>2) & 3
	if !c.legalReturnTo64(spsr, newEL, cur) {
		c.illegalReturn(spsr, elr)
		return
	}
	c.regs.PSTATE.Unpack64(spsr)
	c.regs.PC = elr
	c.updateContext()
}

func (c *Core) tgeReturnBlocked(newEL arch.EL) bool {
	return newEL == arch.EL1 && !c.secureBelowEL3() && c.effectiveHCR()&hcrTGE != 0
}

func (c *Core) legalReturnTo32(mode arch.Mode, cur arch.EL) bool {
	if !mode.Valid() {
		return false
	}
	newEL := mode.EL(c.secureBelowEL3(), c.el3AArch32())
	switch {
	case newEL > cur:
		return false
	case newEL != arch.EL0 && c.elIsAA64(newEL):
		return false
	case newEL == arch.EL2 && !c.el2Enabled():
		return false
	case c.tgeReturnBlocked(newEL):
		return false
	}
	return true
}

func (c *Core) legalReturnTo64(spsr uint64, newEL, cur arch.EL) bool {
	switch {
	case spsr&2 != 0:
		return false
	case newEL > cur:
		return false
	case !c.elIsAA64(max(newEL, arch.EL1)):
		return false
	case newEL == arch.EL2 && !c.el2Enabled():
		return false
	case c.tgeReturnBlocked(newEL):
		return false
	case newEL == arch.EL0 && spsr&1 != 0:
		return false
	}
	return true
}

// illegalReturn keeps the current level and state, takes NZCV and DAIF
// from spsr and sets PSTATE.IL.
func (c *Core) illegalReturn(spsr, elr uint64) {
	p := &c.regs.PSTATE
	c.logger.Warn("illegal exception return", "core", c.id, "el", c.ctx.EL,
		"spsr", fmt.Sprintf("%#x", spsr), "elr", fmt.Sprintf("%#x", elr))

	p.N, p.Z = arch.Bit(spsr, psrN), arch.Bit(spsr, psrZ)
	p.C, p.V = arch.Bit(spsr, psrC), arch.Bit(spsr, psrV)
	p.D, p.A = arch.Bit(spsr, psrD), arch.Bit(spsr, psrA)
	p.I, p.F = arch.Bit(spsr, psrI), arch.Bit(spsr, psrF)
	p.IL = true
	p.SS = false
	c.regs.PC = elr
	c.updateContext()
}
