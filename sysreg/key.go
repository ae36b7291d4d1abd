// Package sysreg implements the system-register descriptor table and the
// access evaluator that decides whether a register access is allowed,
// trapped to a higher exception level, or undefined.
package sysreg

import "fmt"

// Key is the packed encoding of a concrete register.
//
// AArch64 keys: bit 28 set, op0<<14 | op1<<11 | CRn<<7 | CRm<<3 | op2.
// AArch32 keys: ns<<29 | cp<<16 | is64<<15 | CRn<<11 | CRm<<7 | opc1<<3 | opc2.
type Key uint32

const aa64Marker = 1 << 28

// Any marks an encoding field that matches every value.
const Any = 0xff

// Key64 packs an AArch64 MRS/MSR encoding.
func Key64(op0, op1, crn, crm, op2 uint8) Key {
	return aa64Marker | Key(op0)<<14 | Key(op1)<<11 | Key(crn)<<7 |
		Key(crm)<<3 | Key(op2)
}

// Key32 packs an AArch32 MCR/MRC encoding. ns selects the non-secure bank.
func Key32(cp, crn, crm, opc1, opc2 uint8, ns bool) Key {
	k := Key(cp)<<16 | Key(crn)<<11 | Key(crm)<<7 | Key(opc1)<<3 | Key(opc2)
	if ns {
		k |= 1 << 29
	}
	return k
}

// Key32x64 packs an AArch32 MCRR/MRRC encoding.
func Key32x64(cp, crm, opc1 uint8, ns bool) Key {
	return Key32(cp, 0, crm, opc1, 0, ns) | 1<<15
}

// IsAArch64 reports whether k is an AArch64 encoding.
func (k Key) IsAArch64() bool {
	return k&aa64Marker != 0
}

// NS reports whether an AArch32 key selects the non-secure bank.
func (k Key) NS() bool {
	return !k.IsAArch64() && k&(1<<29) != 0
}

// Is64 reports whether an AArch32 key is a 64-bit (MCRR) encoding.
func (k Key) Is64() bool {
	return !k.IsAArch64() && k&(1<<15) != 0
}

func (k Key) String() string {
	if k.IsAArch64() {
		return fmt.Sprintf("S%d_%d_C%d_C%d_%d",
			(k>>14)&3, (k>>11)&7, (k>>7)&15, (k>>3)&15, k&7)
	}
	bank := "S"
	if k.NS() {
		bank = "NS"
	}
	if k.Is64() {
		return fmt.Sprintf("p%d,%d,c%d(%s)", (k>>16)&15, (k>>3)&15, (k>>7)&15, bank)
	}
	return fmt.Sprintf("p%d,%d,c%d,c%d,%d(%s)",
		(k>>16)&15, (k>>3)&7, (k>>11)&15, (k>>7)&15, k&7, bank)
}
