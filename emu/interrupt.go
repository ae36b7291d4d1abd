package emu

import "github.com/sarchlab/armsys/arch"

// Line is an interrupt input of a core.
type Line uint8

// Interrupt lines. The virtual lines are driven by a virtual interrupt
// controller; HCR_EL2.VI and VF assert them too.
const (
	LineIRQ Line = iota
	LineFIQ
	LineVIRQ
	LineVFIQ
)

// Bits of Core.lines driven from HCR_EL2.
const (
	hcrLineVIRQ    = 1 << 4
	hcrLineVFIQ    = 1 << 5
	hcrLineVSError = 1 << 6
	hcrLines       = hcrLineVIRQ | hcrLineVFIQ | hcrLineVSError
)

// SetInterruptLine raises or lowers an interrupt input. It may be called
// from any goroutine; the interrupt is taken by TakePendingInterrupt on
// the goroutine running the core.
func (c *Core) SetInterruptLine(l Line, level bool) {
	bit := uint32(1) << l
	if level {
		c.lines.Or(bit)
	} else {
		c.lines.And(^bit)
	}
}

// updateVirtualLines mirrors HCR_EL2.VI, VF and VSE into the line state.
func (c *Core) updateVirtualLines() {
	hcr := c.effectiveHCR()
	var v uint32
	if hcr&hcrVI != 0 {
		v |= hcrLineVIRQ
	}
	if hcr&hcrVF != 0 {
		v |= hcrLineVFIQ
	}
	if hcr&hcrVSE != 0 {
		v |= hcrLineVSError
	}
	for {
		old := c.lines.Load()
		if c.lines.CompareAndSwap(old, old&^hcrLines|v) {
			return
		}
	}
}

// PendingInterrupt returns the highest-priority interrupt that is pending
// and unmasked in the current context. Priority is FIQ, IRQ, VIRQ, VFIQ,
// then virtual SError.
func (c *Core) PendingInterrupt() (ExceptionKind, bool) {
	lines := c.lines.Load()
	pending := []struct {
		kind ExceptionKind
		on   bool
	}{
		{ExcFIQ, lines&(1<<LineFIQ) != 0},
		{ExcIRQ, lines&(1<<LineIRQ) != 0},
		{ExcVIRQ, lines&(1<<LineVIRQ|hcrLineVIRQ) != 0},
		{ExcVFIQ, lines&(1<<LineVFIQ|hcrLineVFIQ) != 0},
		{ExcVSError, lines&hcrLineVSError != 0},
	}
	for _, e := range pending {
		if e.on && c.unmasked(e.kind) {
			return e.kind, true
		}
	}
	return 0, false
}

// TakePendingInterrupt delivers the interrupt PendingInterrupt reports,
// if any, and returns the level it was taken to.
func (c *Core) TakePendingInterrupt() (arch.EL, bool) {
	k, ok := c.PendingInterrupt()
	if !ok {
		return 0, false
	}
	return c.TakeException(Exception{Kind: k}), true
}

// unmasked reports whether a pending interrupt of kind k would be taken
// now. Interrupts routed above the current level may ignore PSTATE masks.
func (c *Core) unmasked(k ExceptionKind) bool {
	p := &c.regs.PSTATE
	cur := c.ctx.EL
	hcr := c.effectiveHCR()

	virtual := func(route uint64, masked bool) bool {
		if hcr&route == 0 || hcr&hcrTGE != 0 {
			return false
		}
		return cur <= arch.EL1 && !masked
	}
	switch k {
	case ExcVIRQ:
		return virtual(hcrIMO, p.I)
	case ExcVFIQ:
		return virtual(hcrFMO, p.F)
	case ExcVSError:
		return virtual(hcrAMO, p.A)
	}

	target, ok := c.PhysicalTarget(k)
	if !ok {
		return false
	}
	masked := p.I
	if k == ExcFIQ {
		masked = p.F
	}

	if target > cur && target != arch.EL1 {
		if c.has(arch.FeatureAArch64) {
			switch target {
			case arch.EL2:
				if hcr&(hcrE2H|hcrTGE) != hcrE2H|hcrTGE {
					return true
				}
			case arch.EL3:
				return true
			}
		} else {
			scr := c.fields[fSCR]
			var hcrBit, scrBit bool
			if k == ExcFIQ {
				hcrBit = hcr&hcrFMO != 0
				scrBit = scr&scrFIQ != 0 && !(scr&scrFW != 0 && !hcrBit)
			} else {
				hcrBit = hcr&hcrIMO != 0
			}
			if (scrBit || hcrBit) && !c.ctx.Secure {
				return true
			}
		}
	}
	return !masked
}
