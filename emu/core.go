package emu

import (
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"

	"github.com/sarchlab/armsys/arch"
	"github.com/sarchlab/armsys/mmu"
	"github.com/sarchlab/armsys/physmem"
	"github.com/sarchlab/armsys/tlb"
)

// Context is the execution context of a core. It is recomputed whenever
// PSTATE, SCR or HCR change.
type Context struct {
	EL      arch.EL
	Secure  bool
	AArch64 bool
	MMUIdx  arch.MMUIndex
	// Bank is the register bank of the current AArch32 mode, or the bank
	// holding SPSR_ELx in AArch64.
	Bank int
}

// Core is one emulated processor.
type Core struct {
	id     int
	model  *Model
	fields []uint64
	regs   RegFile
	ctx    Context

	mem     *physmem.Memory
	tlb     *tlb.TLB
	coord   *tlb.Coordinator
	walker  *mmu.Walker
	cluster *Cluster

	logger    *slog.Logger
	stdout    io.Writer
	stderr    io.Writer
	semihost  SemihostingHandler
	powerMu   sync.Mutex
	poweredOn bool

	pmu  pmuState
	pmsa pmsaState

	// lines holds the external interrupt lines and, from bit 4, the
	// virtual lines driven by HCR_EL2.VI/VF.
	lines atomic.Uint32

	exited   bool
	exitCode int64
	event    SystemEvent
}

// CoreOption is a functional option for configuring a Core.
type CoreOption func(*Core)

// WithLogger sets the logger used for exception and guest-error tracing.
func WithLogger(logger *slog.Logger) CoreOption {
	return func(c *Core) {
		c.logger = logger
	}
}

// WithStdout sets the writer semihosting output goes to.
func WithStdout(w io.Writer) CoreOption {
	return func(c *Core) {
		c.stdout = w
	}
}

// WithStderr sets the writer semihosting error output goes to.
func WithStderr(w io.Writer) CoreOption {
	return func(c *Core) {
		c.stderr = w
	}
}

// WithSemihostingHandler replaces the default semihosting handler.
func WithSemihostingHandler(h SemihostingHandler) CoreOption {
	return func(c *Core) {
		c.semihost = h
	}
}

// WithMemory makes the core use mem as its physical address space.
func WithMemory(mem *physmem.Memory) CoreOption {
	return func(c *Core) {
		c.mem = mem
	}
}

func withCluster(cl *Cluster, id int) CoreOption {
	return func(c *Core) {
		c.cluster = cl
		c.id = id
	}
}

// NewCore creates a core of the given model and resets it. Without
// WithMemory the core gets a private physical memory of the configured
// size.
func NewCore(model *Model, opts ...CoreOption) *Core {
	c := &Core{
		model:     model,
		fields:    make([]uint64, numFields),
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		stdout:    os.Stdout,
		stderr:    os.Stderr,
		poweredOn: true,
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.mem == nil {
		c.mem = physmem.New(model.config.PhysMemSize)
	}
	c.tlb = tlb.New(tlb.Config{Sets: model.config.TLBSets, Ways: model.config.TLBWays})
	c.walker = mmu.NewWalker(c.mem, c)
	if c.cluster == nil {
		c.coord = tlb.NewCoordinator(tlb.WithLogger(c.logger))
		c.coord.Attach(c.tlb)
	}
	if c.semihost == nil {
		c.semihost = NewDefaultSemihostingHandler(c.stdout, c.stderr)
	}

	c.pmu = newPMUState(model.config.PMUCounters)
	c.pmsa = newPMSAState(model.config.PMSARegions)
	c.Reset()
	return c
}

// ID returns the position of the core in its cluster.
func (c *Core) ID() int {
	return c.id
}

// Model returns the CPU model of the core.
func (c *Core) Model() *Model {
	return c.model
}

// RegFile returns the core's register file.
func (c *Core) RegFile() *RegFile {
	return &c.regs
}

// Memory returns the core's physical memory.
func (c *Core) Memory() *physmem.Memory {
	return c.mem
}

// TLB returns the core's TLB.
func (c *Core) TLB() *tlb.TLB {
	return c.tlb
}

// Context returns the current execution context.
func (c *Core) Context() Context {
	return c.ctx
}

// CurrentEL returns the current exception level.
func (c *Core) CurrentEL() arch.EL {
	return c.ctx.EL
}

// IsSecure reports whether the core executes in the secure state.
func (c *Core) IsSecure() bool {
	return c.ctx.Secure
}

// Fields returns the system-register storage.
func (c *Core) Fields() []uint64 {
	return c.fields
}

// Exited reports whether the guest requested termination, and its code.
func (c *Core) Exited() (int64, bool) {
	return c.exitCode, c.exited
}

// PoweredOn reports whether the core is running.
func (c *Core) PoweredOn() bool {
	c.powerMu.Lock()
	defer c.powerMu.Unlock()
	return c.poweredOn
}

func (c *Core) features() arch.Features {
	return c.model.features
}

func (c *Core) has(f arch.Feature) bool {
	return c.model.features.Has(f)
}

// Reset puts the core in its reset state: every register at its reset
// value, executing at the highest implemented exception level with all
// interrupts masked.
func (c *Core) Reset() {
	c.regs = RegFile{}
	for i := range c.fields {
		c.fields[i] = 0
	}
	c.pmu.reset()
	c.pmsa.reset()
	c.model.table.Reset(c)
	c.exited = false
	c.exitCode = 0
	c.event = SystemNone

	p := &c.regs.PSTATE
	p.D, p.A, p.I, p.F = true, true, true, true
	if c.has(arch.FeatureAArch64) {
		p.EL = c.highestEL()
		p.SP = true
	} else {
		p.NRW = true
		p.Mode = arch.ModeSVC
		p.T = c.fields[fSCTLR1]&sctlrTE != 0 && c.has(arch.FeatureThumb2)
		if c.fields[fSCTLR1]&mmu.SCTLRV != 0 || c.fields[fSCTLR3]&mmu.SCTLRV != 0 {
			c.regs.PC = 0xffff0000
		}
	}

	c.updateContext()
	c.updateVirtualLines()
	c.tlb.FlushAll()
}

func (c *Core) highestEL() arch.EL {
	switch {
	case c.has(arch.FeatureEL3):
		return arch.EL3
	case c.has(arch.FeatureEL2):
		return arch.EL2
	}
	return arch.EL1
}

// secureBelowEL3 reports whether EL0-EL2 execute in the secure state.
// Without EL3 the core is non-secure.
func (c *Core) secureBelowEL3() bool {
	return c.has(arch.FeatureEL3) && c.fields[fSCR]&scrNS == 0
}

// el2Enabled reports whether EL2 exists in the current security state.
func (c *Core) el2Enabled() bool {
	return c.has(arch.FeatureEL2) && !c.secureBelowEL3()
}

// el3AArch32 reports whether EL3 exists and uses AArch32.
func (c *Core) el3AArch32() bool {
	return c.has(arch.FeatureEL3) && !c.has(arch.FeatureAArch64)
}

// elIsAA64 reports whether el uses AArch64. EL0 follows EL1.
func (c *Core) elIsAA64(el arch.EL) bool {
	aa64 := c.has(arch.FeatureAArch64)
	if el == arch.EL3 {
		return aa64
	}
	if c.has(arch.FeatureEL3) {
		aa64 = aa64 && c.fields[fSCR]&scrRW != 0
	}
	if el == arch.EL2 {
		return aa64
	}
	if c.el2Enabled() {
		aa64 = aa64 && c.fields[fHCR]&hcrRW != 0
	}
	return aa64
}

// effectiveHCR returns HCR_EL2 as it applies to the current security
// state: zero when EL2 is not enabled, with IMO/FMO/AMO forced by TGE.
func (c *Core) effectiveHCR() uint64 {
	if !c.el2Enabled() {
		return 0
	}
	hcr := c.fields[fHCR]
	if hcr&hcrTGE != 0 {
		hcr |= hcrIMO | hcrFMO | hcrAMO
	}
	return hcr
}

// nsBank reports whether AArch32 accesses use the non-secure copy of
// banked registers.
func (c *Core) nsBank() bool {
	return !(c.el3AArch32() && c.fields[fSCR]&scrNS == 0)
}

func (c *Core) hostRegime() bool {
	hcr := c.effectiveHCR()
	return hcr&hcrE2H != 0 && hcr&hcrTGE != 0
}

// updateContext recomputes the execution context from PSTATE and the
// routing registers.
func (c *Core) updateContext() {
	p := &c.regs.PSTATE
	ctx := Context{AArch64: !p.NRW}

	if p.NRW {
		secure := p.Mode == arch.ModeMON || c.secureBelowEL3()
		ctx.EL = p.Mode.EL(secure, c.el3AArch32())
		ctx.Bank = p.Mode.Bank()
		p.EL = ctx.EL
	} else {
		ctx.EL = p.EL
		ctx.Bank = spsrBank(p.EL)
	}
	ctx.Secure = ctx.EL == arch.EL3 || c.secureBelowEL3()
	ctx.MMUIdx = c.mmuIndexFor(ctx.EL, ctx.Secure, p.PAN && c.has(arch.FeaturePAN))
	c.ctx = ctx
}

func (c *Core) mmuIndexFor(el arch.EL, secure, pan bool) arch.MMUIndex {
	switch el {
	case arch.EL0:
		switch {
		case secure:
			return arch.MMUIdxSE10_0
		case c.hostRegime():
			return arch.MMUIdxE20_0
		}
		return arch.MMUIdxE10_0
	case arch.EL1:
		switch {
		case secure && pan:
			return arch.MMUIdxSE10_1PAN
		case secure:
			return arch.MMUIdxSE10_1
		case pan:
			return arch.MMUIdxE10_1PAN
		}
		return arch.MMUIdxE10_1
	case arch.EL2:
		if c.fields[fHCR]&hcrE2H != 0 {
			if pan {
				return arch.MMUIdxE20_2PAN
			}
			return arch.MMUIdxE20_2
		}
		return arch.MMUIdxE2
	}
	if c.has(arch.FeatureAArch64) {
		return arch.MMUIdxE3
	}
	return arch.MMUIdxSE3
}

// Controls implements mmu.ControlSource. It snapshots the registers of
// the regime idx translates through.
func (c *Core) Controls(idx arch.MMUIndex) mmu.Controls {
	f := c.fields
	ctl := mmu.Controls{
		Features: c.features(),
		Secure:   idx.IsSecure(),
	}

	if idx == arch.MMUIdxStage2 {
		ctl.AArch64 = c.elIsAA64(arch.EL2)
		ctl.SCTLR = f[fSCTLR2]
		ctl.TCR = f[fVTCR]
		ctl.TTBR0 = f[fVTTBR]
		ctl.HCR = c.effectiveHCR()
		return ctl
	}

	switch idx.RegimeEL() {
	case arch.EL1:
		ctl.AArch64 = c.elIsAA64(arch.EL1)
		ctl.HCR = c.effectiveHCR()
		if idx.IsSecure() && c.el3AArch32() {
			c.secureBankControls(&ctl)
		} else {
			ctl.SCTLR = f[fSCTLR1]
			ctl.TCR = f[fTCR1]
			ctl.TTBR0 = f[fTTBR0_1]
			ctl.TTBR1 = f[fTTBR1_1]
			ctl.MAIR = f[fMAIR1]
			ctl.DACR = uint32(f[fDACR])
			ctl.FCSEIDR = uint32(f[fFCSEIDR])
		}
		ctl.Stage2Enabled = !idx.IsSecure() && c.el2Enabled() &&
			f[fHCR]&(mmu.HCRVM|mmu.HCRDC) != 0
		if c.has(arch.FeaturePMSA) {
			c.pmsaControls(&ctl)
		}
	case arch.EL2:
		ctl.AArch64 = c.elIsAA64(arch.EL2)
		ctl.SCTLR = f[fSCTLR2]
		ctl.TCR = f[fTCR2]
		ctl.TTBR0 = f[fTTBR0_2]
		ctl.TTBR1 = f[fTTBR1_2]
		ctl.MAIR = f[fMAIR2]
	case arch.EL3:
		ctl.AArch64 = c.has(arch.FeatureAArch64)
		if ctl.AArch64 {
			ctl.SCTLR = f[fSCTLR3]
			ctl.TCR = f[fTCR3]
			ctl.TTBR0 = f[fTTBR0_3]
			ctl.MAIR = f[fMAIR3]
		} else {
			c.secureBankControls(&ctl)
		}
	}
	return ctl
}

// secureBankControls fills ctl from the secure copies of the AArch32
// translation registers.
func (c *Core) secureBankControls(ctl *mmu.Controls) {
	f := c.fields
	ctl.SCTLR = f[fSCTLR3]
	ctl.TCR = f[fTCR3]
	ctl.TTBR0 = f[fTTBR0_3]
	ctl.TTBR1 = f[fTTBR1S]
	ctl.MAIR = f[fMAIR3]
	ctl.DACR = uint32(f[fDACRS])
	ctl.FCSEIDR = uint32(f[fFCSEIDRS])
}

// sctlrFor returns the SCTLR governing el.
func (c *Core) sctlrFor(el arch.EL) uint64 {
	switch el {
	case arch.EL2:
		return c.fields[fSCTLR2]
	case arch.EL3:
		return c.fields[fSCTLR3]
	}
	return c.fields[fSCTLR1]
}

// GPR reads general-purpose register n of the current execution state:
// Xn in AArch64, Rn in AArch32.
func (c *Core) GPR(n int) uint64 {
	if c.ctx.AArch64 {
		return c.regs.X[n]
	}
	return uint64(c.regs.R[n])
}

// SetGPR writes general-purpose register n of the current execution state.
func (c *Core) SetGPR(n int, v uint64) {
	if c.ctx.AArch64 {
		c.regs.X[n] = v
		return
	}
	c.regs.R[n] = uint32(v)
}
