package sysreg

import (
	"fmt"

	"github.com/sarchlab/armsys/arch"
)

// State is the execution state a register is visible in.
type State uint8

// Register states.
const (
	StateAA32 State = 1 << iota
	StateAA64
	StateBoth = StateAA32 | StateAA64
)

// SecState describes AArch32 security banking.
type SecState uint8

// Security banking of an AArch32 register.
const (
	// SecNone registers have one copy visible from both worlds.
	SecNone SecState = iota
	// SecBanked registers have a secure and a non-secure copy when the
	// core implements EL3.
	SecBanked
	// SecSecure and SecNonSecure are the concrete halves of SecBanked.
	SecSecure
	SecNonSecure
)

// Perm is a set of access permissions, one read and one write bit per EL.
type Perm uint8

// Permission bits. The PLn_* combinations include the higher levels.
const (
	PL3W Perm = 0x40
	PL3R Perm = 0x80
	PL2W Perm = 0x10 | PL3W
	PL2R Perm = 0x20 | PL3R
	PL1W Perm = 0x04 | PL2W
	PL1R Perm = 0x08 | PL2R
	PL0W Perm = 0x01 | PL1W
	PL0R Perm = 0x02 | PL1R

	PL3RW = PL3R | PL3W
	PL2RW = PL2R | PL2W
	PL1RW = PL1R | PL1W
	PL0RW = PL0R | PL0W

	permWriteBits Perm = 0x55
	permReadBits  Perm = 0xaa
)

// Allows reports whether the permission set grants the access at el.
func (p Perm) Allows(el arch.EL, isRead bool) bool {
	bit := uint(el) * 2
	if isRead {
		bit++
	}
	return p&(1<<bit) != 0
}

// Readable reports whether any level may read.
func (p Perm) Readable() bool { return p&permReadBits != 0 }

// Writable reports whether any level may write.
func (p Perm) Writable() bool { return p&permWriteBits != 0 }

// Type holds the software flags of a register.
type Type uint32

// Register type flags.
const (
	// TypeConst registers always read as their reset value.
	TypeConst Type = 1 << iota
	// Type64Bit registers are 64 bits wide in AArch32 (MCRR/MRRC).
	Type64Bit
	// TypeAlias entries share storage with a canonical entry and skip
	// reset and migration.
	TypeAlias
	// TypeNoRaw registers cannot be accessed through the debug path.
	TypeNoRaw
	// TypeOverride allows a definition to replace an existing key.
	TypeOverride
	// TypeIO marks registers with side effects on the outside world.
	TypeIO
	// TypeNOP registers read as zero and ignore writes; used for cache
	// maintenance and barriers.
	TypeNOP
	// TypeRAZWI registers read as zero and ignore writes. Set when an EL2
	// register exists only as RES0 on a core with EL3 but without EL2.
	TypeRAZWI
	// TypeEL2 registers belong to EL2.
	TypeEL2
	// TypeEL3NoEL2Undef registers are UNDEFINED, rather than RES0, when the
	// core has EL3 but not EL2.
	TypeEL3NoEL2Undef
	// TypeSecureOnly registers are UNDEFINED outside the secure state.
	TypeSecureOnly
	// TypeNoReset registers keep their value across Reset.
	TypeNoReset
)

// Result is the outcome of an access check.
type Result uint8

// Access check results.
const (
	Allow Result = iota
	TrapEL1
	TrapEL2
	TrapEL3
	Undefined
)

// TrapTo returns the trap result targeting el.
func TrapTo(el arch.EL) Result {
	switch el {
	case arch.EL2:
		return TrapEL2
	case arch.EL3:
		return TrapEL3
	}
	return TrapEL1
}

// TargetEL returns the exception level of a trap result. It returns false
// for Allow and Undefined.
func (r Result) TargetEL() (arch.EL, bool) {
	switch r {
	case TrapEL1:
		return arch.EL1, true
	case TrapEL2:
		return arch.EL2, true
	case TrapEL3:
		return arch.EL3, true
	}
	return 0, false
}

func (r Result) String() string {
	switch r {
	case Allow:
		return "allow"
	case TrapEL1:
		return "trap-el1"
	case TrapEL2:
		return "trap-el2"
	case TrapEL3:
		return "trap-el3"
	case Undefined:
		return "undefined"
	}
	return fmt.Sprintf("Result(%d)", uint8(r))
}

// ConfigError reports a malformed register definition.
type ConfigError struct {
	Name   string
	Key    Key
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("register %s (%v): %s", e.Name, e.Key, e.Reason)
}
