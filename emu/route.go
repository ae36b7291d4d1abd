package emu

import "github.com/sarchlab/armsys/arch"

// physTargets gives the exception level a physical IRQ, FIQ or external
// abort is taken to, indexed by
// [EL3 is AArch64][SCR routing bit][RW][HCR routing bit][secure][current EL].
// -1 marks states that cannot occur.
var physTargets = [2][2][2][2][2][4]int8{
	{ // EL3 AArch32 or absent
		{ // SCR bit clear
			{
				{{1, 1, 2, -1}, {3, -1, -1, 3}},
				{{2, 2, 2, -1}, {3, -1, -1, 3}},
			},
			{
				{{1, 1, 2, -1}, {3, -1, -1, 3}},
				{{2, 2, 2, -1}, {3, -1, -1, 3}},
			},
		},
		{ // SCR bit set
			{
				{{3, 3, 3, -1}, {3, -1, -1, 3}},
				{{3, 3, 3, -1}, {3, -1, -1, 3}},
			},
			{
				{{3, 3, 3, -1}, {3, -1, -1, 3}},
				{{3, 3, 3, -1}, {3, -1, -1, 3}},
			},
		},
	},
	{ // EL3 AArch64
		{
			{ // EL2 AArch32
				{{1, 1, 2, -1}, {1, 1, -1, 1}},
				{{2, 2, 2, -1}, {2, 2, -1, 1}},
			},
			{ // EL2 AArch64
				{{1, 1, 1, -1}, {1, 1, 1, 1}},
				{{2, 2, 2, -1}, {2, 2, 2, 1}},
			},
		},
		{
			{
				{{3, 3, 3, -1}, {3, 3, -1, 3}},
				{{3, 3, 3, -1}, {3, 3, -1, 3}},
			},
			{
				{{3, 3, 3, -1}, {3, 3, 3, 3}},
				{{3, 3, 3, -1}, {3, 3, 3, 3}},
			},
		},
	},
}

// Routing is the routing-relevant state for one physical exception.
type Routing struct {
	// EL3AArch64 is set when the highest level uses AArch64.
	EL3AArch64 bool
	// SCR is the SCR routing bit of the exception: IRQ, FIQ or EA.
	SCR bool
	// RW is SCR.RW when EL3 is implemented, otherwise EL3AArch64.
	RW bool
	// HCR is the effective HCR routing bit: IMO, FMO, AMO or TEA.
	HCR     bool
	Secure  bool
	Current arch.EL
}

func b2i(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Target returns the exception level the exception is taken to. It
// returns false for states that cannot occur.
func (r Routing) Target() (arch.EL, bool) {
	t := physTargets[b2i(r.EL3AArch64)][b2i(r.SCR)][b2i(r.RW)][b2i(r.HCR)][b2i(r.Secure)][r.Current]
	if t < 0 {
		return 0, false
	}
	return arch.EL(t), true
}

// routing builds the Routing of a physical exception of kind k.
func (c *Core) routing(k ExceptionKind) Routing {
	scr := c.fields[fSCR]
	hcr := c.effectiveHCR()
	r := Routing{
		EL3AArch64: c.elIsAA64(arch.EL3),
		Secure:     c.ctx.Secure,
		Current:    c.ctx.EL,
	}
	if !c.has(arch.FeatureEL3) {
		scr = 0
		r.EL3AArch64 = c.has(arch.FeatureAArch64)
	}
	if c.has(arch.FeatureEL3) {
		r.RW = scr&scrRW != 0
	} else {
		r.RW = r.EL3AArch64
	}

	switch k {
	case ExcIRQ:
		r.SCR, r.HCR = scr&scrIRQ != 0, hcr&hcrIMO != 0
	case ExcFIQ:
		r.SCR, r.HCR = scr&scrFIQ != 0, hcr&hcrFMO != 0
	case ExcSError:
		r.SCR, r.HCR = scr&scrEA != 0, hcr&hcrAMO != 0
	default:
		r.SCR, r.HCR = scr&scrEA != 0, hcr&hcrTEA != 0
	}
	return r
}

// PhysicalTarget returns the level a physical exception of kind k would
// be taken to from the current context, and false when it cannot be taken
// from here.
func (c *Core) PhysicalTarget(k ExceptionKind) (arch.EL, bool) {
	t, ok := c.routing(k).Target()
	if !ok || t < c.ctx.EL {
		return 0, false
	}
	return t, true
}

// routeSync picks the target level of a synchronous exception.
func (c *Core) routeSync(exc Exception) arch.EL {
	cur := c.ctx.EL
	tge := !c.ctx.Secure && c.effectiveHCR()&hcrTGE != 0

	var t arch.EL
	switch {
	case exc.Kind == ExcHVC:
		return arch.EL2
	case exc.Kind == ExcSMC && exc.Target == arch.EL2:
		return arch.EL2
	case exc.Kind == ExcSMC:
		return arch.EL3
	case exc.Target != 0:
		t = exc.Target
	case exc.Fault != nil && exc.Fault.Stage2:
		return arch.EL2
	case exc.Fault != nil && isExternal(exc.Fault):
		if et, ok := c.PhysicalTarget(ExcDataAbort); ok {
			return et
		}
		t = max(cur, arch.EL1)
	default:
		t = max(cur, arch.EL1)
	}

	if t == arch.EL1 && cur == arch.EL0 && tge {
		return arch.EL2
	}
	if t == arch.EL1 && c.ctx.Secure && c.el3AArch32() {
		return arch.EL3
	}
	return t
}

// routeAsync picks the target level of an interrupt or SError taken
// without checking masks. Virtual exceptions always go to EL1.
func (c *Core) routeAsync(k ExceptionKind) arch.EL {
	switch k {
	case ExcVIRQ, ExcVFIQ, ExcVSError:
		return arch.EL1
	}
	if t, ok := c.PhysicalTarget(k); ok {
		return t
	}
	return max(c.ctx.EL, arch.EL1)
}
