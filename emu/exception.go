package emu

import (
	"fmt"

	"github.com/sarchlab/armsys/arch"
	"github.com/sarchlab/armsys/mmu"
)

// ExceptionKind identifies the cause of an exception.
type ExceptionKind uint8

// Exception kinds.
const (
	ExcUndefined ExceptionKind = iota
	ExcSVC
	ExcHVC
	ExcSMC
	ExcPrefetchAbort
	ExcDataAbort
	ExcBreakpoint
	ExcHLT
	ExcSysRegTrap
	ExcIRQ
	ExcFIQ
	ExcVIRQ
	ExcVFIQ
	ExcSError
	ExcVSError
)

var excNames = [...]string{
	"undefined", "svc", "hvc", "smc", "prefetch-abort", "data-abort",
	"breakpoint", "hlt", "sysreg-trap", "irq", "fiq", "virq", "vfiq",
	"serror", "vserror",
}

func (k ExceptionKind) String() string {
	if int(k) < len(excNames) {
		return excNames[k]
	}
	return fmt.Sprintf("ExceptionKind(%d)", uint8(k))
}

func (k ExceptionKind) isInterrupt() bool {
	switch k {
	case ExcIRQ, ExcFIQ, ExcVIRQ, ExcVFIQ, ExcSError, ExcVSError:
		return true
	}
	return false
}

// Exception describes one exception to deliver.
//
// PC must hold the preferred return address on entry: the faulting
// instruction for aborts, traps and undefined instructions, the following
// instruction for SVC, HVC, SMC and interrupts.
type Exception struct {
	Kind ExceptionKind
	// Syndrome is the ESR value. It is derived from Kind, Imm and Fault
	// when zero.
	Syndrome uint32
	// Target forces the level of a trap. Zero routes by kind.
	Target arch.EL
	// Addr is the faulting virtual address of an abort.
	Addr  uint64
	Fault *mmu.FaultInfo
	// Imm is the immediate of SVC, HVC, SMC, BRK, BKPT or HLT.
	Imm uint32
}

func isExternal(fi *mmu.FaultInfo) bool {
	return fi.Type == mmu.FaultSyncExternal || fi.Type == mmu.FaultSyncExternalOnWalk
}

// RaiseMMUFault delivers the abort of a failed translation and returns
// the level it was taken to.
func (c *Core) RaiseMMUFault(fi *mmu.FaultInfo) arch.EL {
	kind := ExcDataAbort
	if fi.Access == mmu.AccessFetch {
		kind = ExcPrefetchAbort
	}
	return c.TakeException(Exception{Kind: kind, Addr: fi.Addr, Fault: fi})
}

// TakeException delivers exc and returns the level it was taken to.
// Semihosting calls and PSCI calls are serviced in place instead, and
// leave the core at its current level.
func (c *Core) TakeException(exc Exception) arch.EL {
	if c.semihostingCall(exc) {
		c.handleSemihosting(exc)
		return c.ctx.EL
	}
	if c.psciCall(exc) {
		c.handlePSCI()
		return c.ctx.EL
	}

	var target arch.EL
	if exc.Kind.isInterrupt() {
		target = c.routeAsync(exc.Kind)
	} else {
		target = c.routeSync(exc)
	}
	exc.Syndrome = c.syndrome(exc, target)

	c.logger.Debug("taking exception", "core", c.id, "kind", exc.Kind,
		"from", c.ctx.EL, "to", target, "pc", fmt.Sprintf("%#x", c.regs.PC),
		"syndrome", fmt.Sprintf("%#x", exc.Syndrome))

	switch {
	case c.elIsAA64(target):
		c.deliver64(exc, target)
	case target == arch.EL2:
		c.deliverHyp(exc)
	default:
		c.deliver32(exc, target)
	}
	return target
}

// syndrome returns the ESR value reported for exc when taken to target.
func (c *Core) syndrome(exc Exception, target arch.EL) uint32 {
	if exc.Syndrome != 0 {
		return exc.Syndrome
	}

	aa64 := c.ctx.AArch64
	var il uint32 = synIL
	if !aa64 && c.regs.PSTATE.T {
		il = 0
	}
	imm := exc.Imm & 0xffff

	switch exc.Kind {
	case ExcSVC:
		if aa64 {
			return ecSVC64<<26 | synIL | imm
		}
		return ecSVC32<<26 | il | imm
	case ExcHVC:
		if aa64 {
			return ecHVC64<<26 | synIL | imm
		}
		return ecHVC32<<26 | synIL | imm
	case ExcSMC:
		if aa64 {
			return ecSMC64<<26 | synIL | imm
		}
		return ecSMC32<<26 | synIL
	case ExcBreakpoint:
		if aa64 {
			return ecBRK64<<26 | synIL | imm
		}
		return ecBKPT32<<26 | il | imm
	case ExcPrefetchAbort, ExcDataAbort:
		if exc.Fault != nil {
			return abortSyndrome(exc, target == c.ctx.EL)
		}
	case ExcSError, ExcVSError:
		return ecSError<<26 | synIL
	case ExcIRQ, ExcFIQ, ExcVIRQ, ExcVFIQ:
		return 0
	}
	return ecUncategorized<<26 | synIL
}

func abortSyndrome(exc Exception, sameEL bool) uint32 {
	fi := exc.Fault
	var ec uint32
	switch {
	case exc.Kind == ExcPrefetchAbort && sameEL:
		ec = ecInsnAbortSame
	case exc.Kind == ExcPrefetchAbort:
		ec = ecInsnAbortLow
	case sameEL:
		ec = ecDataAbortSame
	default:
		ec = ecDataAbortLow
	}

	iss := fi.LongFSC()
	if fi.EA != 0 {
		iss |= 1 << 9
	}
	if fi.S1PTW {
		iss |= 1 << 7
	}
	if exc.Kind == ExcDataAbort && fi.Access == mmu.AccessStore {
		iss |= 1 << 6
	}
	return ec<<26 | synIL | iss
}

func (exc Exception) faultAddr() uint64 {
	if exc.Fault != nil && exc.Addr == 0 {
		return exc.Fault.Addr
	}
	return exc.Addr
}

func (exc Exception) isAbort() bool {
	return exc.Kind == ExcPrefetchAbort || exc.Kind == ExcDataAbort
}

// writeHPFAR records the IPA of a stage-2 fault.
func (c *Core) writeHPFAR(exc Exception) {
	if exc.Fault != nil && exc.Fault.Stage2 {
		c.fields[fHPFAR] = (exc.Fault.IPA >> 12) << 4
	}
}

// vectorOffset64 returns the offset into the AArch64 vector table.
func (c *Core) vectorOffset64(k ExceptionKind, target arch.EL) uint64 {
	cur := c.ctx.EL
	p := &c.regs.PSTATE

	var off uint64
	switch {
	case cur < target:
		var lowerAA64 bool
		switch {
		case target == arch.EL3:
			lowerAA64 = c.elIsAA64(arch.EL2)
		case target == arch.EL2 && !c.hostRegime():
			lowerAA64 = c.elIsAA64(arch.EL1)
		default:
			lowerAA64 = !p.NRW
		}
		if lowerAA64 {
			off = 0x400
		} else {
			off = 0x600
		}
	case p.SP:
		off = 0x200
	}

	switch k {
	case ExcIRQ, ExcVIRQ:
		off += 0x80
	case ExcFIQ, ExcVFIQ:
		off += 0x100
	case ExcSError, ExcVSError:
		off += 0x180
	}
	return off
}

var (
	esrFields  = [4]int{0, fESR1, fESR2, fESR3}
	farFields  = [4]int{0, fFAR1, fFAR2, fFAR3}
	vbarFields = [4]int{0, fVBAR1, fVBAR2, fVBAR3}
)

// deliver64 takes exc to an AArch64 exception level.
func (c *Core) deliver64(exc Exception, target arch.EL) {
	p := &c.regs.PSTATE
	old := *p
	vector := c.fields[vbarFields[target]] + c.vectorOffset64(exc.Kind, target)

	var spsr uint64
	if old.NRW {
		spsr = uint64(old.Pack32())
		c.regs.BankedSPSR[old.Mode.Bank()] = uint64(c.regs.SPSR)
		c.regs.sync32To64(old.Mode)
	} else {
		spsr = old.Pack64()
	}
	c.regs.BankedSPSR[spsrBank(target)] = spsr
	c.regs.ELR[target] = c.regs.PC

	if !exc.Kind.isInterrupt() || exc.Kind == ExcSError || exc.Kind == ExcVSError {
		c.fields[esrFields[target]] = uint64(exc.Syndrome)
	}
	if exc.isAbort() {
		c.fields[farFields[target]] = exc.faultAddr()
		c.writeHPFAR(exc)
	}

	*p = PSTATE{EL: target, SP: true, D: true, A: true, I: true, F: true}
	if c.has(arch.FeaturePAN) {
		p.PAN = old.PAN
		if target == arch.EL1 || (target == arch.EL2 && c.hostRegime()) {
			if c.sctlrFor(target)&sctlrSPAN == 0 {
				p.PAN = true
			}
		}
	}
	if c.has(arch.FeatureMTE) {
		p.TCO = true
	}

	c.regs.PC = vector
	c.updateContext()
}

// aarch32Entry describes how an exception enters an AArch32 PL1 mode.
type aarch32Entry struct {
	mode    arch.Mode
	vector  uint32
	a, i, f bool
	// lrOffset is added to the preferred return address to form LR.
	lrOffset uint32
}

func (c *Core) aarch32Entry(exc Exception, target arch.EL) aarch32Entry {
	scr := c.fields[fSCR]
	toMon := func(bit uint64) bool { return target == arch.EL3 && scr&bit != 0 }

	switch exc.Kind {
	case ExcSVC:
		return aarch32Entry{mode: arch.ModeSVC, vector: 0x08, i: true}
	case ExcPrefetchAbort, ExcBreakpoint:
		e := aarch32Entry{mode: arch.ModeABT, vector: 0x0c, a: true, i: true, lrOffset: 4}
		if toMon(scrEA) && exc.Kind == ExcPrefetchAbort {
			e.mode = arch.ModeMON
		}
		return e
	case ExcDataAbort, ExcSError, ExcVSError:
		e := aarch32Entry{mode: arch.ModeABT, vector: 0x10, a: true, i: true, lrOffset: 8}
		if toMon(scrEA) && exc.Kind != ExcVSError {
			e.mode = arch.ModeMON
		}
		return e
	case ExcIRQ, ExcVIRQ:
		e := aarch32Entry{mode: arch.ModeIRQ, vector: 0x18, a: true, i: true, lrOffset: 4}
		if toMon(scrIRQ) && exc.Kind == ExcIRQ {
			e.mode, e.f = arch.ModeMON, true
		}
		return e
	case ExcFIQ, ExcVFIQ:
		e := aarch32Entry{mode: arch.ModeFIQ, vector: 0x1c, a: true, i: true, f: true, lrOffset: 4}
		if toMon(scrFIQ) && exc.Kind == ExcFIQ {
			e.mode = arch.ModeMON
		}
		return e
	case ExcSMC:
		return aarch32Entry{mode: arch.ModeMON, vector: 0x08, a: true, i: true, f: true}
	}

	e := aarch32Entry{mode: arch.ModeUND, vector: 0x04, i: true, lrOffset: 4}
	if c.regs.PSTATE.T {
		e.lrOffset = 2
	}
	return e
}

// writeAArch32FaultRegs records an abort in DFSR/DFAR or IFSR/IFAR of the
// bank belonging to target.
func (c *Core) writeAArch32FaultRegs(exc Exception, target arch.EL) {
	secure := target == arch.EL3
	dfsr, ifsr, far := fDFSR, fIFSR, fFAR1
	if secure && c.has(arch.FeatureEL3) {
		dfsr, ifsr, far = fDFSRS, fIFSRS, fFARS
	}
	long := c.lpaeInUse(secure)

	var fsr uint32
	switch {
	case exc.Kind == ExcBreakpoint && long:
		fsr = 1<<9 | 0x22
	case exc.Kind == ExcBreakpoint:
		fsr = 0x2
	case exc.Fault == nil && long:
		fsr = 1<<9 | 0x11
	case exc.Fault == nil:
		fsr = 0x406
	case long:
		fsr = exc.Fault.LongFSR()
	default:
		fsr = exc.Fault.ShortFSR()
	}

	addr := uint64(uint32(exc.faultAddr()))
	switch exc.Kind {
	case ExcPrefetchAbort, ExcBreakpoint:
		c.fields[ifsr] = uint64(fsr)
		if exc.Kind == ExcPrefetchAbort {
			c.fields[far] = arch.Deposit(c.fields[far], 32, 32, addr)
		}
	default:
		if exc.Fault != nil && exc.Fault.Access == mmu.AccessStore {
			fsr |= 1 << 11
		}
		c.fields[dfsr] = uint64(fsr)
		if exc.Fault != nil {
			c.fields[far] = arch.Deposit(c.fields[far], 0, 32, addr)
		}
	}
}

// deliver32 takes exc to an AArch32 PL1 mode: EL1, or EL3 when EL3 is
// AArch32.
func (c *Core) deliver32(exc Exception, target arch.EL) {
	p := &c.regs.PSTATE
	e := c.aarch32Entry(exc, target)

	sctlr, vbar := c.fields[fSCTLR1], c.fields[fVBAR1]
	if target == arch.EL3 && c.has(arch.FeatureEL3) {
		sctlr, vbar = c.fields[fSCTLR3], c.fields[fVBAR3]
	}
	var base uint64
	switch {
	case e.mode == arch.ModeMON:
		base = c.fields[fMVBAR]
	case sctlr&mmu.SCTLRV != 0:
		base = 0xffff0000
	default:
		base = vbar
	}

	switch exc.Kind {
	case ExcPrefetchAbort, ExcBreakpoint, ExcDataAbort, ExcSError, ExcVSError:
		c.writeAArch32FaultRegs(exc, target)
	}

	if p.Mode == arch.ModeMON {
		c.fields[fSCR] &^= scrNS
	}

	old := *p
	cpsr := old.Pack32() &^ (1 << psrSS)
	c.regs.switchMode(old.Mode, e.mode)
	c.regs.SPSR = cpsr

	p.Mode = e.mode
	p.IT = 0
	p.IL, p.SS = false, false
	p.A = p.A || e.a
	p.I = p.I || e.i
	p.F = p.F || e.f
	p.E = sctlr&mmu.SCTLREE != 0
	if c.has(arch.FeatureV4T) {
		p.T = sctlr&sctlrTE != 0
	}
	if c.has(arch.FeaturePAN) && (target == arch.EL1 || c.secureBelowEL3()) &&
		sctlr&sctlrSPAN == 0 {
		p.PAN = true
	}

	c.regs.R[14] = uint32(c.regs.PC) + e.lrOffset
	c.regs.PC = base + uint64(e.vector)
	c.updateContext()
}

// deliverHyp takes exc to Hyp mode.
func (c *Core) deliverHyp(exc Exception) {
	p := &c.regs.PSTATE

	var vector uint64
	switch exc.Kind {
	case ExcSVC, ExcHVC:
		vector = 0x08
	case ExcPrefetchAbort, ExcBreakpoint:
		vector = 0x0c
		c.fields[fFAR2] = arch.Deposit(c.fields[fFAR2], 32, 32, uint64(uint32(exc.faultAddr())))
	case ExcDataAbort:
		vector = 0x10
		c.fields[fFAR2] = arch.Deposit(c.fields[fFAR2], 0, 32, uint64(uint32(exc.faultAddr())))
	case ExcSysRegTrap:
		vector = 0x14
	case ExcIRQ, ExcVIRQ:
		vector = 0x18
	case ExcFIQ, ExcVFIQ:
		vector = 0x1c
	case ExcSError, ExcVSError:
		vector = 0x10
	default:
		vector = 0x04
	}
	if exc.Kind != ExcIRQ && exc.Kind != ExcFIQ {
		c.fields[fESR2] = uint64(exc.Syndrome)
	}
	if exc.isAbort() {
		c.writeHPFAR(exc)
	}
	if c.ctx.EL != arch.EL2 && vector < 0x14 {
		vector = 0x14
	}

	scr := c.fields[fSCR]
	old := *p
	cpsr := old.Pack32() &^ (1 << psrSS)
	c.regs.switchMode(old.Mode, arch.ModeHYP)
	c.regs.SPSR = cpsr

	sctlr := c.fields[fSCTLR2]
	p.Mode = arch.ModeHYP
	p.IT = 0
	p.IL, p.SS = false, false
	p.A = p.A || scr&scrEA == 0
	p.I = p.I || scr&scrIRQ == 0
	p.F = p.F || scr&scrFIQ == 0
	p.E = sctlr&mmu.SCTLREE != 0
	p.T = sctlr&sctlrTE != 0

	c.regs.ELR[arch.EL2] = uint64(uint32(c.regs.PC))
	c.regs.PC = c.fields[fVBAR2] + vector
	c.updateContext()
}
