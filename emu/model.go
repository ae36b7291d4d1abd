package emu

import (
	"fmt"

	"github.com/sarchlab/armsys/arch"
	"github.com/sarchlab/armsys/config"
	"github.com/sarchlab/armsys/sysreg"
)

type (
	desc     = sysreg.Descriptor[*Core]
	register = sysreg.Register[*Core]
)

// Model is a CPU model: the feature set, the register table built for it
// and the PMU events it implements. A Model is immutable once built and is
// shared by every core of that model.
type Model struct {
	config   *config.CoreConfig
	features arch.Features
	table    *sysreg.Table[*Core]
	events   *eventTable
}

// NewModel validates cfg and builds the model's register table. A
// malformed register definition is reported as a *sysreg.ConfigError.
func NewModel(cfg *config.CoreConfig) (*Model, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid core config: %w", err)
	}

	features := cfg.FeatureSet()
	if cfg.ResetAArch32 {
		features &^= arch.Features(arch.FeatureAArch64 | arch.FeatureMTE)
	}

	m := &Model{
		config:   cfg.Clone(),
		features: features,
		events:   newEventTable(features),
	}

	t := sysreg.NewTable[*Core](features)
	groups := []struct {
		name string
		regs []desc
	}{
		{"identification", m.idRegs()},
		{"control", m.controlRegs()},
		{"translation", m.vmsaRegs()},
		{"fault", m.faultRegs()},
		{"thread", m.threadRegs()},
		{"hypervisor", m.el2Regs()},
		{"secure monitor", m.el3Regs()},
		{"pstate", m.pstateRegs()},
		{"tlb maintenance", m.tlbiRegs()},
		{"address translation", m.atRegs()},
		{"pmu", m.pmuRegs()},
		{"pmsa", m.pmsaRegs()},
		{"cache maintenance", m.cacheRegs()},
		{"id space", m.idSpaceRegs()},
	}
	for _, g := range groups {
		if err := t.RegisterAll(g.regs); err != nil {
			return nil, fmt.Errorf("building %s registers of %s: %w", g.name, cfg.Name, err)
		}
	}
	t.SetAccessHook(hypTrapHook)
	t.Freeze()
	m.table = t

	return m, nil
}

// Name returns the configured model name.
func (m *Model) Name() string {
	return m.config.Name
}

// Config returns a copy of the model's configuration.
func (m *Model) Config() *config.CoreConfig {
	return m.config.Clone()
}

// Features returns the model's resolved feature set.
func (m *Model) Features() arch.Features {
	return m.features
}

// Table returns the model's register table.
func (m *Model) Table() *sysreg.Table[*Core] {
	return m.table
}

func (m *Model) has(f arch.Feature) bool {
	return m.features.Has(f)
}

// sctlrReset is the reset value of every SCTLR of the model.
func (m *Model) sctlrReset() uint64 {
	var v uint64
	switch {
	case m.has(arch.FeaturePMSA):
		v = 0x00000078
	case m.has(arch.FeatureV8):
		v = 0x00c50838
	case m.has(arch.FeatureV7):
		v = 0x00c50078
	default:
		v = 0x00050078
	}
	if m.config.ResetHighVectors && !m.has(arch.FeatureAArch64) {
		v |= 1 << 13
	}
	return v
}

// feats builds the feature masks of descriptors.
func feats(f ...arch.Feature) arch.Features {
	var out arch.Features
	for _, x := range f {
		out |= arch.Features(x)
	}
	return out
}

// Generic accessors.

func readField(c *Core, r *register) uint64 {
	return c.fields[r.Field]
}

func writeField(c *Core, r *register, v uint64) {
	c.fields[r.Field] = v
}

// writeFlush stores the value and, when it changed, drops every cached
// translation of the core.
func writeFlush(c *Core, r *register, v uint64) {
	// TODO: re-check the unchanged-value skip against controls added after
	// ARMv8.0, such as TCR2_EL1 and the FEAT_HAFDBS bits of TCR.
	if c.fields[r.Field] == v {
		return
	}
	c.fields[r.Field] = v
	c.tlb.FlushAll()
}

func resetTo(v uint64) sysreg.ResetFunc[*Core] {
	return func(c *Core, r *register) {
		c.fields[r.Field] = v
	}
}
