package emu

import (
	"github.com/sarchlab/armsys/arch"
	"github.com/sarchlab/armsys/sysreg"
)

// PMU event numbers.
const (
	EventSWIncr        = 0x00
	EventL1ITLBRefill  = 0x02
	EventL1DTLBRefill  = 0x05
	EventInstRetired   = 0x08
	EventCPUCycles     = 0x11
	eventCycleCounter  = 31
	pmcrWritableMask   = 0x3f
	pmcrE              = 1 << 0
	pmcrP              = 1 << 1
	pmcrC              = 1 << 2
	pmuserenrEN        = 1 << 0
	pmuserenrSW        = 1 << 1
	pmuserenrMask      = 0xf
	pmccfiltrWriteMask = 0xf8000000
)

type pmuEvent struct {
	number    uint16
	name      string
	supported func(fs arch.Features) bool
}

func eventAlways(arch.Features) bool { return true }

func notPMSA(fs arch.Features) bool { return !fs.Has(arch.FeaturePMSA) }

var pmuEvents = []pmuEvent{
	{EventSWIncr, "SW_INCR", eventAlways},
	{EventL1ITLBRefill, "L1I_TLB_REFILL", notPMSA},
	{EventL1DTLBRefill, "L1D_TLB_REFILL", notPMSA},
	{EventInstRetired, "INST_RETIRED", eventAlways},
	{EventCPUCycles, "CPU_CYCLES", eventAlways},
}

// eventTable is the immutable per-model set of implemented PMU events.
type eventTable struct {
	supported map[uint16]pmuEvent
	ceid0     uint32
}

func newEventTable(fs arch.Features) *eventTable {
	t := &eventTable{supported: make(map[uint16]pmuEvent)}
	if !fs.Has(arch.FeaturePMU) {
		return t
	}
	for _, e := range pmuEvents {
		if !e.supported(fs) {
			continue
		}
		t.supported[e.number] = e
		if e.number < 32 {
			t.ceid0 |= 1 << e.number
		}
	}
	return t
}

// Supports reports whether the model counts event n.
func (m *Model) Supports(event uint16) bool {
	_, ok := m.events.supported[event]
	return ok
}

// pmuState holds the event counters and their type registers.
type pmuState struct {
	counters []uint32
	evtype   []uint32
}

func newPMUState(n int) pmuState {
	return pmuState{counters: make([]uint32, n), evtype: make([]uint32, n)}
}

func (p *pmuState) reset() {
	for i := range p.counters {
		p.counters[i] = 0
		p.evtype[i] = 0
	}
}

// counterMask returns the PMCNTEN/PMOVS/PMINTEN bits that exist.
func (c *Core) counterMask() uint64 {
	return 1<<31 | (1<<uint(len(c.pmu.counters)) - 1)
}

// CountEvent adds n occurrences of event to every enabled counter
// selecting it. Events the model does not implement are ignored.
func (c *Core) CountEvent(event uint16, n uint64) {
	if !c.model.Supports(event) || c.fields[fPMCR]&pmcrE == 0 {
		return
	}
	en := c.fields[fPMCNTEN]
	for i := range c.pmu.counters {
		if en&(1<<uint(i)) == 0 || uint16(c.pmu.evtype[i]&0xffff) != event {
			continue
		}
		c.addCounter(i, n)
	}
	if event == EventCPUCycles && en&(1<<eventCycleCounter) != 0 {
		old := c.fields[fPMCCNTR]
		c.fields[fPMCCNTR] += n
		if c.fields[fPMCCNTR] < old {
			c.fields[fPMOVS] |= 1 << eventCycleCounter
		}
	}
}

func (c *Core) addCounter(i int, n uint64) {
	old := c.pmu.counters[i]
	sum := uint64(old) + n
	c.pmu.counters[i] = uint32(sum)
	if sum>>32 != 0 {
		c.fields[fPMOVS] |= 1 << uint(i)
	}
}

// Retire accounts for n retired instructions, each taking one cycle.
func (c *Core) Retire(n uint64) {
	c.CountEvent(EventInstRetired, n)
	c.CountEvent(EventCPUCycles, n)
}

// EventCounter returns the value of event counter i.
func (c *Core) EventCounter(i int) uint32 {
	return c.pmu.counters[i]
}

// accessPMU applies PMUSERENR at EL0 and the MDCR_EL2/MDCR_EL3 TPM traps.
func accessPMU(c *Core, r *register, isRead bool) sysreg.Result {
	el := c.ctx.EL
	if el == arch.EL0 && c.fields[fPMUSERENR]&pmuserenrEN == 0 {
		return sysreg.TrapEL1
	}
	return accessPMUHyp(c, el)
}

func accessPMUHyp(c *Core, el arch.EL) sysreg.Result {
	switch {
	case el < arch.EL2 && c.el2Enabled() && c.fields[fMDCR2]&mdcrTPM != 0:
		return sysreg.TrapEL2
	case el < arch.EL3 && c.has(arch.FeatureEL3) && c.fields[fMDCR3]&mdcrTPM != 0:
		return sysreg.TrapEL3
	}
	return sysreg.Allow
}

// accessPMUSWInc also accepts PMUSERENR.SW at EL0.
func accessPMUSWInc(c *Core, r *register, isRead bool) sysreg.Result {
	el := c.ctx.EL
	if el == arch.EL0 && c.fields[fPMUSERENR]&(pmuserenrEN|pmuserenrSW) == 0 {
		return sysreg.TrapEL1
	}
	return accessPMUHyp(c, el)
}

func accessPMUPL1(c *Core, r *register, isRead bool) sysreg.Result {
	return accessPMUHyp(c, c.ctx.EL)
}

func accessPMUSERENR(c *Core, r *register, isRead bool) sysreg.Result {
	if c.ctx.EL == arch.EL0 {
		return sysreg.Allow
	}
	return accessPMUHyp(c, c.ctx.EL)
}

func (m *Model) pmuRegs() []desc {
	if !m.has(arch.FeaturePMU) {
		return nil
	}
	n := uint64(m.config.PMUCounters)

	type pmuReg struct {
		name     string
		crm, op2 uint8
		aa64     string
		perm     sysreg.Perm
		typ      sysreg.Type
		field    int
		read     sysreg.ReadFunc[*Core]
		write    sysreg.WriteFunc[*Core]
		access   sysreg.AccessFunc[*Core]
		reset    uint64
	}
	regs := []pmuReg{
		{name: "PMCR", crm: 12, op2: 0, aa64: "PMCR_EL0", perm: sysreg.PL0RW, field: fPMCR,
			read: func(c *Core, r *register) uint64 {
				return c.fields[fPMCR] | n<<11 | 0x41<<24
			},
			write: writePMCR},
		{name: "PMCNTENSET", crm: 12, op2: 1, aa64: "PMCNTENSET_EL0", perm: sysreg.PL0RW,
			field: fPMCNTEN, write: pmuSetBits(fPMCNTEN)},
		{name: "PMCNTENCLR", crm: 12, op2: 2, aa64: "PMCNTENCLR_EL0", perm: sysreg.PL0RW,
			field: fPMCNTEN, typ: sysreg.TypeAlias, write: pmuClearBits(fPMCNTEN)},
		{name: "PMOVSR", crm: 12, op2: 3, aa64: "PMOVSCLR_EL0", perm: sysreg.PL0RW,
			field: fPMOVS, write: pmuClearBits(fPMOVS)},
		{name: "PMSWINC", crm: 12, op2: 4, aa64: "PMSWINC_EL0", perm: sysreg.PL0W,
			typ: sysreg.TypeNoRaw, write: writePMSWINC, access: accessPMUSWInc},
		{name: "PMSELR", crm: 12, op2: 5, aa64: "PMSELR_EL0", perm: sysreg.PL0RW,
			field: fPMSELR, write: func(c *Core, r *register, v uint64) {
				c.fields[fPMSELR] = v & 0x1f
			}},
		{name: "PMCEID0", crm: 12, op2: 6, aa64: "PMCEID0_EL0", perm: sysreg.PL0R,
			typ: sysreg.TypeConst, reset: uint64(m.events.ceid0)},
		{name: "PMCEID1", crm: 12, op2: 7, aa64: "PMCEID1_EL0", perm: sysreg.PL0R,
			typ: sysreg.TypeConst},
		{name: "PMCCNTR", crm: 13, op2: 0, aa64: "PMCCNTR_EL0", perm: sysreg.PL0RW,
			field: fPMCCNTR},
		{name: "PMXEVTYPER", crm: 13, op2: 1, aa64: "PMXEVTYPER_EL0", perm: sysreg.PL0RW,
			typ: sysreg.TypeNoRaw, read: readPMXEVTYPER, write: writePMXEVTYPER},
		{name: "PMXEVCNTR", crm: 13, op2: 2, aa64: "PMXEVCNTR_EL0", perm: sysreg.PL0RW,
			typ: sysreg.TypeNoRaw, read: readPMXEVCNTR, write: writePMXEVCNTR},
		{name: "PMUSERENR", crm: 14, op2: 0, aa64: "PMUSERENR_EL0",
			perm: sysreg.PL0R | sysreg.PL1W, field: fPMUSERENR, access: accessPMUSERENR,
			write: func(c *Core, r *register, v uint64) {
				c.fields[fPMUSERENR] = v & pmuserenrMask
			}},
		{name: "PMINTENSET", crm: 14, op2: 1, aa64: "PMINTENSET_EL1", perm: sysreg.PL1RW,
			field: fPMINTEN, write: pmuSetBits(fPMINTEN), access: accessPMUPL1},
		{name: "PMINTENCLR", crm: 14, op2: 2, aa64: "PMINTENCLR_EL1", perm: sysreg.PL1RW,
			field: fPMINTEN, typ: sysreg.TypeAlias, write: pmuClearBits(fPMINTEN),
			access: accessPMUPL1},
		{name: "PMOVSSET", crm: 14, op2: 3, aa64: "PMOVSSET_EL0", perm: sysreg.PL0RW,
			field: fPMOVS, typ: sysreg.TypeAlias, write: pmuSetBits(fPMOVS)},
	}

	var out []desc
	for _, p := range regs {
		access := p.access
		if access == nil {
			access = accessPMU
		}
		d := desc{Name: p.name, State: sysreg.StateAA32, CRn: 9, CRm: p.crm, Op2: p.op2,
			Perm: p.perm, Type: p.typ, Field: p.field, ReadFn: p.read, WriteFn: p.write,
			AccessFn: access, Reset: p.reset}
		out = append(out, d)

		if !m.has(arch.FeatureAArch64) {
			continue
		}
		d64 := d
		d64.Name, d64.State, d64.Op0, d64.Op1 = p.aa64, sysreg.StateAA64, 3, 3
		d64.Type |= sysreg.TypeAlias
		if p.perm == sysreg.PL1RW {
			d64.Op1 = 0
		}
		out = append(out, d64)
	}

	out = append(out,
		desc{Name: "PMCCNTR_64", State: sysreg.StateAA32, CRm: 9, Op1: 0,
			Perm: sysreg.PL0RW, Type: sysreg.Type64Bit | sysreg.TypeAlias,
			Field: fPMCCNTR, AccessFn: accessPMU, Requires: feats(arch.FeatureV8)},
		desc{Name: "PMCCFILTR_EL0", State: sysreg.StateAA64, Op0: 3, Op1: 3, CRn: 14, CRm: 15,
			Op2: 7, Perm: sysreg.PL0RW, Field: fPMCCFILTR, AccessFn: accessPMU,
			WriteFn: func(c *Core, r *register, v uint64) {
				c.fields[fPMCCFILTR] = v & pmccfiltrWriteMask
			},
			Requires: feats(arch.FeatureAArch64)},
	)
	return out
}

func writePMCR(c *Core, r *register, v uint64) {
	if v&pmcrC != 0 {
		c.fields[fPMCCNTR] = 0
	}
	if v&pmcrP != 0 {
		for i := range c.pmu.counters {
			c.pmu.counters[i] = 0
		}
	}
	c.fields[fPMCR] = v & pmcrWritableMask &^ (pmcrP | pmcrC)
}

func pmuSetBits(field int) sysreg.WriteFunc[*Core] {
	return func(c *Core, r *register, v uint64) {
		c.fields[field] |= v & c.counterMask()
	}
}

// pmuClearBits builds the write side of the *CLR registers. A narrow view
// deposits into the current value, so only the low word is the request.
func pmuClearBits(field int) sysreg.WriteFunc[*Core] {
	return func(c *Core, r *register, v uint64) {
		c.fields[field] &^= v & c.counterMask()
	}
}

func writePMSWINC(c *Core, r *register, v uint64) {
	if c.fields[fPMCR]&pmcrE == 0 {
		return
	}
	en := c.fields[fPMCNTEN]
	for i := range c.pmu.counters {
		bit := uint64(1) << uint(i)
		if v&bit != 0 && en&bit != 0 && c.pmu.evtype[i]&0xffff == EventSWIncr {
			c.addCounter(i, 1)
		}
	}
}

func readPMXEVTYPER(c *Core, r *register) uint64 {
	sel := int(c.fields[fPMSELR])
	switch {
	case sel == eventCycleCounter:
		return c.fields[fPMCCFILTR]
	case sel < len(c.pmu.evtype):
		return uint64(c.pmu.evtype[sel])
	}
	return 0
}

func writePMXEVTYPER(c *Core, r *register, v uint64) {
	sel := int(c.fields[fPMSELR])
	switch {
	case sel == eventCycleCounter:
		c.fields[fPMCCFILTR] = v & pmccfiltrWriteMask
	case sel < len(c.pmu.evtype):
		c.pmu.evtype[sel] = uint32(v)
	}
}

func readPMXEVCNTR(c *Core, r *register) uint64 {
	if sel := int(c.fields[fPMSELR]); sel < len(c.pmu.counters) {
		return uint64(c.pmu.counters[sel])
	}
	return 0
}

func writePMXEVCNTR(c *Core, r *register, v uint64) {
	if sel := int(c.fields[fPMSELR]); sel < len(c.pmu.counters) {
		c.pmu.counters[sel] = uint32(v)
	}
}
