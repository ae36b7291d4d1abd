package emu

import (
	"github.com/sarchlab/armsys/arch"
)

// PSCI function IDs in the SMC32 range. The SMC64 variants set bit 30.
const (
	PSCIVersion          uint32 = 0x84000000
	PSCICPUSuspend       uint32 = 0x84000001
	PSCICPUOff           uint32 = 0x84000002
	PSCICPUOn            uint32 = 0x84000003
	PSCIAffinityInfo     uint32 = 0x84000004
	PSCIMigrateInfoType  uint32 = 0x84000006
	PSCISystemOff        uint32 = 0x84000008
	PSCISystemReset      uint32 = 0x84000009
	PSCIFeatures         uint32 = 0x8400000a
	psciFn64             uint32 = 1 << 30
	psciFnMask           uint32 = 0xffffffe0
	psciVersion11        uint64 = 0x10001
	psciMigrateNotNeeded uint64 = 2
)

// PSCI return codes.
const (
	PSCISuccess           int64 = 0
	PSCINotSupported      int64 = -1
	PSCIInvalidParameters int64 = -2
	PSCIDenied            int64 = -3
	PSCIAlreadyOn         int64 = -4
)

// Affinity states reported by AFFINITY_INFO.
const (
	psciAffinityOn  = 0
	psciAffinityOff = 1
)

// SystemEvent is a machine-wide request raised by firmware calls.
type SystemEvent uint8

// System events.
const (
	SystemNone SystemEvent = iota
	SystemOff
	SystemReset
)

func (e SystemEvent) String() string {
	switch e {
	case SystemOff:
		return "off"
	case SystemReset:
		return "reset"
	}
	return "none"
}

// psciCall reports whether exc is a PSCI call on the configured conduit.
func (c *Core) psciCall(exc Exception) bool {
	switch c.model.config.PSCIConduit {
	case "smc":
		if exc.Kind != ExcSMC {
			return false
		}
	case "hvc":
		if exc.Kind != ExcHVC {
			return false
		}
	default:
		return false
	}
	if c.ctx.EL == arch.EL0 || exc.Target != 0 {
		return false
	}

	fn := c.GPR(0)
	if fn>>32 != 0 {
		return false
	}
	id := uint32(fn)
	if id&psciFn64 != 0 && !c.ctx.AArch64 {
		return false
	}
	return id&^psciFn64&psciFnMask == PSCIVersion
}

func psciSupported(id uint32) bool {
	switch id &^ psciFn64 {
	case PSCIVersion, PSCICPUOff, PSCICPUOn, PSCIAffinityInfo, PSCIMigrateInfoType,
		PSCISystemOff, PSCISystemReset, PSCIFeatures:
		return true
	}
	return false
}

// handlePSCI services the PSCI call in X0-X3/R0-R3.
func (c *Core) handlePSCI() {
	id := uint32(c.GPR(0))
	arg := func(n int) uint64 {
		v := c.GPR(n)
		if id&psciFn64 == 0 {
			v = uint64(uint32(v))
		}
		return v
	}
	ret := func(v int64) { c.SetGPR(0, uint64(v)) }

	c.logger.Debug("psci call", "core", c.id, "function", id)

	switch id &^ psciFn64 {
	case PSCIVersion:
		ret(int64(psciVersion11))
	case PSCICPUOn:
		ret(c.psciCPUOn(arg(1), arg(2), arg(3)))
	case PSCICPUOff:
		c.powerOff()
	case PSCIAffinityInfo:
		ret(c.psciAffinityInfo(arg(1), arg(2)))
	case PSCIMigrateInfoType:
		ret(int64(psciMigrateNotNeeded))
	case PSCISystemOff:
		c.raiseSystemEvent(SystemOff)
	case PSCISystemReset:
		c.raiseSystemEvent(SystemReset)
	case PSCIFeatures:
		if psciSupported(uint32(arg(1))) {
			ret(PSCISuccess)
		} else {
			ret(PSCINotSupported)
		}
	default:
		ret(PSCINotSupported)
	}
}

// coreByMPIDR finds the core with the given affinity.
func (c *Core) coreByMPIDR(mpidr uint64) *Core {
	if c.cluster == nil {
		if mpidr&0xffffff == c.mpidr()&0xffffff {
			return c
		}
		return nil
	}
	for _, o := range c.cluster.cores {
		if mpidr&0xffffff == o.mpidr()&0xffffff {
			return o
		}
	}
	return nil
}

func (c *Core) psciCPUOn(mpidr, entry, contextID uint64) int64 {
	target := c.coreByMPIDR(mpidr)
	if target == nil {
		return PSCIInvalidParameters
	}
	if !target.powerOn(entry, contextID, c.ctx.EL, c.ctx.AArch64) {
		return PSCIAlreadyOn
	}
	c.logger.Info("cpu on", "core", c.id, "target", target.id,
		"entry", entry)
	return PSCISuccess
}

func (c *Core) psciAffinityInfo(mpidr, level uint64) int64 {
	if level != 0 {
		return PSCIInvalidParameters
	}
	target := c.coreByMPIDR(mpidr)
	if target == nil {
		return PSCIInvalidParameters
	}
	if target.PoweredOn() {
		return psciAffinityOn
	}
	return psciAffinityOff
}

// powerOn starts a powered-off core at entry, in the given level and
// execution width, with the context ID in X0/R0. It returns false if the
// core is already on.
func (c *Core) powerOn(entry, contextID uint64, el arch.EL, aarch64 bool) bool {
	c.powerMu.Lock()
	defer c.powerMu.Unlock()
	if c.poweredOn {
		return false
	}

	c.Reset()
	c.firmwareReset(el, aarch64)

	p := &c.regs.PSTATE
	if aarch64 {
		*p = PSTATE{EL: el, SP: true, D: true, A: true, I: true, F: true}
		c.regs.PC = entry
	} else {
		mode := arch.ModeSVC
		if el == arch.EL2 {
			mode = arch.ModeHYP
		}
		c.regs.switchMode(p.Mode, mode)
		*p = PSTATE{NRW: true, Mode: mode, A: true, I: true, F: true, T: entry&1 != 0}
		c.regs.PC = entry &^ 1
	}
	c.updateContext()
	c.SetGPR(0, contextID)
	c.poweredOn = true
	return true
}

// firmwareReset sets up the higher-level controls firmware would leave
// behind when starting a core below EL3 or EL2.
func (c *Core) firmwareReset(el arch.EL, aarch64 bool) {
	if c.has(arch.FeatureEL3) && el < arch.EL3 {
		scr := uint64(scrNS)
		if c.has(arch.FeatureEL2) {
			scr |= scrHCE
		}
		if aarch64 && c.has(arch.FeatureAArch64) {
			scr |= scrRW
		}
		c.fields[fSCR] = scr
	}
	if c.has(arch.FeatureEL2) && el < arch.EL2 && aarch64 {
		c.fields[fHCR] |= hcrRW
	}
}

func (c *Core) powerOff() {
	c.powerMu.Lock()
	defer c.powerMu.Unlock()
	c.poweredOn = false
	c.logger.Info("cpu off", "core", c.id)
}

func (c *Core) raiseSystemEvent(ev SystemEvent) {
	c.exited = true
	c.event = ev
	if c.cluster != nil {
		c.cluster.raise(ev)
	}
	c.logger.Info("system event", "core", c.id, "event", ev)
}

// SystemEvent returns the machine-wide request this core raised, if any.
func (c *Core) SystemEvent() SystemEvent {
	return c.event
}

func (e SystemEvent) String() string {
	switch e {
	case SystemOff:
		return "off"
	case SystemReset:
		return "reset"
	}
	return "none"
}
