package emu

import (
	"fmt"

	"github.com/sarchlab/armsys/arch"
	"github.com/sarchlab/armsys/sysreg"
)

// Access is one system-register access instruction: MRS, MSR or SYS in
// AArch64, MRC, MCR, MRRC or MCRR in AArch32.
type Access struct {
	AArch64 bool

	// Op0 is only meaningful in AArch64. For AArch32 accesses Op1 and Op2
	// hold opc1 and opc2.
	Op0, Op1, CRn, CRm, Op2 uint8

	// CP is the AArch32 coprocessor, 14 or 15.
	CP uint8
	// Is64 selects MCRR/MRRC.
	Is64 bool

	Rt, Rt2 uint8
	IsRead  bool
	// Value is the value written.
	Value uint64
}

// Key returns the table key of the access. ns selects the non-secure bank
// of AArch32 registers.
func (a Access) Key(ns bool) sysreg.Key {
	if a.AArch64 {
		return sysreg.Key64(a.Op0, a.Op1, a.CRn, a.CRm, a.Op2)
	}
	cp := a.CP
	if cp == 0 {
		cp = 15
	}
	if a.Is64 {
		return sysreg.Key32x64(cp, a.CRm, a.Op1, ns)
	}
	return sysreg.Key32(cp, a.CRn, a.CRm, a.Op1, a.Op2, ns)
}

// Exception classes used in syndromes.
const (
	ecUncategorized = 0x00
	ecWFx           = 0x01
	ecMCRMRC15      = 0x03
	ecMCRRMRRC15    = 0x04
	ecMCRMRC14      = 0x05
	ecMRRC14        = 0x0c
	ecIllegalState  = 0x0e
	ecSVC32         = 0x11
	ecHVC32         = 0x12
	ecSMC32         = 0x13
	ecSVC64         = 0x15
	ecHVC64         = 0x16
	ecSMC64         = 0x17
	ecSysReg        = 0x18
	ecInsnAbortLow  = 0x20
	ecInsnAbortSame = 0x21
	ecDataAbortLow  = 0x24
	ecDataAbortSame = 0x25
	ecSError        = 0x2f
	ecBKPT32        = 0x38
	ecBRK64         = 0x3c
)

const synIL = 1 << 25

// syndrome returns the ESR value of a trapped access.
func (a Access) syndrome() uint32 {
	var rd uint32
	if a.IsRead {
		rd = 1
	}
	if a.AArch64 {
		return ecSysReg<<26 | synIL | uint32(a.Op0)<<20 | uint32(a.Op2)<<17 |
			uint32(a.Op1)<<14 | uint32(a.CRn)<<10 | uint32(a.Rt)<<5 |
			uint32(a.CRm)<<1 | rd
	}

	// Condition code valid, AL.
	const cv = 1<<24 | 0xe<<20
	if a.Is64 {
		ec := uint32(ecMCRRMRRC15)
		if a.CP == 14 {
			ec = ecMRRC14
		}
		return ec<<26 | synIL | cv | uint32(a.Op1)<<16 | uint32(a.Rt2)<<10 |
			uint32(a.Rt)<<5 | uint32(a.CRm)<<1 | rd
	}
	ec := uint32(ecMCRMRC15)
	if a.CP == 14 {
		ec = ecMCRMRC14
	}
	return ec<<26 | synIL | cv | uint32(a.Op2)<<17 | uint32(a.Op1)<<14 |
		uint32(a.CRn)<<10 | uint32(a.Rt)<<5 | uint32(a.CRm)<<1 | rd
}

// AccessTrap is returned by AccessSysReg when the access did not complete.
// The corresponding exception has already been delivered.
type AccessTrap struct {
	Key    sysreg.Key
	Name   string
	Result sysreg.Result
	// Target is the exception level the exception was taken to.
	Target   arch.EL
	Syndrome uint32
}

func (e *AccessTrap) Error() string {
	name := e.Name
	if name == "" {
		name = "unallocated register"
	}
	return fmt.Sprintf("%s (%v): %s, exception taken to %v", name, e.Key, e.Result, e.Target)
}

// AccessSysReg performs a system-register access from the current
// context. A successful read returns the register value. When the access
// traps or is undefined, the exception is delivered and an *AccessTrap is
// returned; PC must hold the address of the accessing instruction.
func (c *Core) AccessSysReg(a Access) (uint64, error) {
	key := a.Key(c.nsBank())
	r, ok := c.model.table.Lookup(key)

	res := sysreg.Undefined
	if ok {
		res = c.model.table.CheckAccess(r, c, a.IsRead)
	}

	if res == sysreg.Allow {
		if a.IsRead {
			return r.ReadValue(c), nil
		}
		r.WriteValue(c, a.Value)
		return 0, nil
	}

	trap := &AccessTrap{Key: key, Result: res}
	if ok {
		trap.Name = r.Name
	}

	exc := Exception{Kind: ExcUndefined, Syndrome: ecUncategorized<<26 | synIL}
	if el, isTrap := res.TargetEL(); isTrap {
		exc = Exception{Kind: ExcSysRegTrap, Syndrome: a.syndrome(), Target: el}
	}
	c.logger.Debug("system register access did not complete",
		"core", c.id, "key", key, "name", trap.Name, "result", res)

	trap.Target = c.TakeException(exc)
	trap.Syndrome = exc.Syndrome
	return 0, trap
}

// ReadSysReg reads an AArch64 register by encoding. It is a convenience for
// MRS.
func (c *Core) ReadSysReg(op0, op1, crn, crm, op2 uint8) (uint64, error) {
	return c.AccessSysReg(Access{AArch64: true, Op0: op0, Op1: op1, CRn: crn,
		CRm: crm, Op2: op2, IsRead: true})
}

// WriteSysReg writes an AArch64 register by encoding. It is a convenience
// for MSR and SYS.
func (c *Core) WriteSysReg(op0, op1, crn, crm, op2 uint8, v uint64) error {
	_, err := c.AccessSysReg(Access{AArch64: true, Op0: op0, Op1: op1, CRn: crn,
		CRm: crm, Op2: op2, Value: v})
	return err
}

// hypTrapHook applies the HSTR_EL2 and HCR_EL2.TIDCP traps, which depend
// on the encoding rather than on any one register.
func hypTrapHook(c *Core, r *register, isRead bool) sysreg.Result {
	el := c.ctx.EL
	if el >= arch.EL2 || !c.el2Enabled() {
		return sysreg.Allow
	}

	if !r.IsAArch64() && r.CP == 15 {
		t := r.CRn
		if r.Type&sysreg.Type64Bit != 0 {
			t = r.CRm
		}
		if t != 4 && t != 14 && c.fields[fHSTR]&(1<<t) != 0 {
			return sysreg.TrapEL2
		}
	}

	if el == arch.EL1 && c.fields[fHCR]&hcrTIDCP != 0 && implementationDefined(r) {
		return sysreg.TrapEL2
	}
	return sysreg.Allow
}

// implementationDefined reports whether r lies in the IMPLEMENTATION
// DEFINED encoding space.
func implementationDefined(r *register) bool {
	if r.IsAArch64() {
		return r.Op0 == 3 && (r.CRn == 11 || r.CRn == 15)
	}
	if r.CP != 15 || r.Type&sysreg.Type64Bit != 0 {
		return false
	}
	switch r.CRn {
	case 11, 15:
		return true
	case 9:
		return r.CRm <= 2 || (r.CRm >= 5 && r.CRm <= 8)
	case 10:
		return r.CRm <= 1 || r.CRm == 4 || r.CRm == 8
	}
	return false
}

// Access predicates shared by several registers.

// accessTVM traps writes under HCR_EL2.TVM and reads under HCR_EL2.TRVM
// from non-secure EL1.
func accessTVM(c *Core, r *register, isRead bool) sysreg.Result {
	if c.ctx.EL != arch.EL1 || !c.el2Enabled() {
		return sysreg.Allow
	}
	hcr := c.fields[fHCR]
	if (!isRead && hcr&hcrTVM != 0) || (isRead && hcr&hcrTRVM != 0) {
		return sysreg.TrapEL2
	}
	return sysreg.Allow
}

// accessTID3 traps ID register reads under HCR_EL2.TID3.
func accessTID3(c *Core, r *register, isRead bool) sysreg.Result {
	if c.ctx.EL == arch.EL1 && c.el2Enabled() && c.fields[fHCR]&hcrTID3 != 0 {
		return sysreg.TrapEL2
	}
	return sysreg.Allow
}

// accessEL0SCTLR returns an access predicate allowing EL0 only when the
// given SCTLR_EL1 bit is set.
func accessEL0SCTLR(bit uint64) sysreg.AccessFunc[*Core] {
	return func(c *Core, r *register, isRead bool) sysreg.Result {
		if c.ctx.EL == arch.EL0 && c.fields[fSCTLR1]&bit == 0 {
			return sysreg.TrapEL1
		}
		return sysreg.Allow
	}
}
