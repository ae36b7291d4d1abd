package mmu

import "github.com/sarchlab/armsys/arch"

// level1Table returns the address of the first-level descriptor for va
// under the short-descriptor format.
func (wk *walk) level1Table(va uint32) (uint64, bool) {
	ttbcr := uint32(wk.c.TCR)
	n := ttbcr & 7

	var table uint32
	if n != 0 && va&^(0xffffffff>>n) != 0 {
		if ttbcr&(1<<5) != 0 {
			return 0, false
		}
		table = uint32(wk.c.TTBR1) & 0xffffc000
	} else {
		if ttbcr&(1<<4) != 0 {
			return 0, false
		}
		table = uint32(wk.c.TTBR0) & ^(uint32(0x3fff) >> n)
	}
	table |= (va >> 18) & 0x3ffc
	return uint64(table), true
}

func (wk *walk) domainProt(domain uint32) uint32 {
	return (wk.c.DACR >> (domain * 2)) & 3
}

// apToProt decodes the full AP[2:0] short-descriptor permission model.
// Manager domains bypass the permission check.
func (wk *walk) apToProt(ap, domainProt uint32) Prot {
	if domainProt == 3 {
		return ProtRW
	}
	user := wk.isUser()
	switch ap {
	case 0:
		if wk.c.Features.Has(arch.FeatureV7) {
			return 0
		}
		switch wk.c.SCTLR & (SCTLRS | SCTLRR) {
		case SCTLRS:
			if user {
				return 0
			}
			return ProtRead
		case SCTLRR:
			return ProtRead
		}
		return 0
	case 1:
		if user {
			return 0
		}
		return ProtRW
	case 2:
		if user {
			return ProtRead
		}
		return ProtRW
	case 3:
		return ProtRW
	case 5:
		if user {
			return 0
		}
		return ProtRead
	case 6:
		return ProtRead
	case 7:
		if !wk.c.Features.Has(arch.FeatureV6K) {
			return 0
		}
		return ProtRead
	}
	return 0
}

// simpleAPToProt decodes the two-bit AP[2:1] model used by the access-flag
// variant of short descriptors and by long descriptors.
func simpleAPToProt(ap uint32, user bool) Prot {
	switch ap & 3 {
	case 0:
		if user {
			return 0
		}
		return ProtRW
	case 1:
		return ProtRW
	case 2:
		if user {
			return 0
		}
		return ProtRead
	}
	return ProtRead
}

// shortAttrs derives MAIR-format attributes from TEX/C/B with TEX remap
// disabled.
func shortAttrs(tex, c, b uint32, shared bool) CacheAttrs {
	out := CacheAttrs{}
	if shared {
		out.Shareability = ShareInner
	}
	policy := [4]uint8{0x4, 0xf, 0xa, 0xe}

	switch {
	case tex&4 != 0:
		out.Attrs = policy[tex&3]<<4 | policy[c<<1|b]
	case tex == 0 && c == 0 && b == 0:
		out.Attrs = 0x00
	case tex == 0 && c == 0 && b == 1, tex == 2 && c == 0 && b == 0:
		out.Attrs = 0x04
	case tex == 0 && c == 1 && b == 0:
		out.Attrs = 0xaa
	case tex == 0 && c == 1 && b == 1:
		out.Attrs = 0xee
	case tex == 1 && c == 0 && b == 0:
		out.Attrs = 0x44
	case tex == 1 && c == 1 && b == 1:
		out.Attrs = 0xff
	}
	if out.IsDevice() || out.Attrs == 0x44 {
		out.Shareability = ShareOuter
	}
	return out
}

// shortV5 walks the ARMv5 short-descriptor format: sections, coarse and
// fine second-level tables, and 64KB/4KB/1KB pages.
func (wk *walk) shortV5() (Result, *FaultInfo) {
	va := uint32(wk.va)
	table, ok := wk.level1Table(va)
	if !ok {
		return Result{}, wk.fault(FaultTranslation, 1)
	}
	desc, fi := wk.load32(table, 1)
	if fi != nil {
		return Result{}, fi
	}

	typ := desc & 3
	domain := (desc >> 5) & 0xf
	dprot := wk.domainProt(domain)

	if typ == 0 {
		return Result{}, &FaultInfo{Type: FaultTranslation, Level: 1, Domain: int(domain)}
	}
	level := 1
	if typ != 2 {
		level = 2
	}
	if dprot == 0 || dprot == 2 {
		return Result{}, &FaultInfo{Type: FaultDomain, Level: level, Domain: int(domain)}
	}

	var (
		phys, ap uint32
		size     uint64
		c, b     uint32
		tex      uint32
	)
	if typ == 2 {
		phys = (desc & 0xfff00000) | (va & 0x000fffff)
		ap = (desc >> 10) & 3
		size = 1 << 20
		c, b = (desc>>3)&1, (desc>>2)&1
	} else {
		if typ == 1 {
			table = uint64((desc & 0xfffffc00) | ((va >> 10) & 0x3fc))
		} else {
			table = uint64((desc & 0xfffff000) | ((va >> 8) & 0xffc))
		}
		desc, fi = wk.load32(table, 2)
		if fi != nil {
			fi.Domain = int(domain)
			return Result{}, fi
		}
		c, b = (desc>>3)&1, (desc>>2)&1
		switch desc & 3 {
		case 0:
			return Result{}, &FaultInfo{Type: FaultTranslation, Level: 2, Domain: int(domain)}
		case 1:
			phys = (desc & 0xffff0000) | (va & 0xffff)
			ap = (desc >> (4 + ((va >> 13) & 6))) & 3
			size = 1 << 16
			tex = (desc >> 12) & 7
		case 2:
			phys = (desc & 0xfffff000) | (va & 0xfff)
			ap = (desc >> (4 + ((va >> 9) & 6))) & 3
			size = 1 << 12
		case 3:
			if typ == 1 {
				if !wk.c.Features.Has(arch.FeatureXScale) && !wk.c.Features.Has(arch.FeatureV6) {
					return Result{}, &FaultInfo{Type: FaultTranslation, Level: 2, Domain: int(domain)}
				}
				phys = (desc & 0xfffff000) | (va & 0xfff)
				size = 1 << 12
				tex = (desc >> 6) & 7
			} else {
				phys = (desc & 0xfffffc00) | (va & 0x3ff)
				size = 1 << 10
			}
			ap = (desc >> 4) & 3
		}
	}

	prot := wk.apToProt(ap, dprot)
	if prot != 0 {
		prot |= ProtExec
	}
	if !prot.Allows(wk.access) {
		return Result{}, &FaultInfo{Type: FaultPermission, Level: level, Domain: int(domain)}
	}

	return Result{
		PhysAddr: uint64(phys),
		Prot:     prot,
		PageSize: size,
		Attrs:    shortAttrs(tex, c, b, false),
		Global:   true,
		NS:       !wk.c.Secure,
	}, nil
}

// shortV6 walks the ARMv6/v7 short-descriptor format: adds supersections,
// XN/PXN, the access flag model and non-global entries.
func (wk *walk) shortV6() (Result, *FaultInfo) {
	va := uint32(wk.va)
	table, ok := wk.level1Table(va)
	if !ok {
		return Result{}, wk.fault(FaultTranslation, 1)
	}
	desc, fi := wk.load32(table, 1)
	if fi != nil {
		return Result{}, fi
	}

	hasPXN := wk.c.Features.Has(arch.FeaturePXN)
	typ := desc & 3
	if typ == 0 || (typ == 3 && !hasPXN) {
		return Result{}, wk.fault(FaultTranslation, 1)
	}

	var domain uint32
	if typ == 1 || desc&(1<<18) == 0 {
		domain = (desc >> 5) & 0xf
	}
	dprot := wk.domainProt(domain)
	if dprot == 0 || dprot == 2 {
		level := 1
		if typ == 1 {
			level = 2
		}
		return Result{}, &FaultInfo{Type: FaultDomain, Level: level, Domain: int(domain)}
	}

	var (
		phys          uint64
		ap, xn, pxn   uint32
		ns, ng        uint32
		size          uint64
		level         int
		tex, c, b, sh uint32
	)
	if typ != 1 {
		if desc&(1<<18) != 0 {
			phys = uint64(desc&0xff000000) | uint64(va&0x00ffffff)
			phys |= uint64(arch.Extract(uint64(desc), 20, 4)) << 32
			phys |= uint64(arch.Extract(uint64(desc), 5, 4)) << 36
			size = 1 << 24
		} else {
			phys = uint64(desc&0xfff00000) | uint64(va&0x000fffff)
			size = 1 << 20
		}
		ap = ((desc >> 10) & 3) | ((desc >> 13) & 4)
		xn = (desc >> 4) & 1
		pxn = desc & 1
		ns = (desc >> 19) & 1
		ng = (desc >> 17) & 1
		tex, c, b, sh = (desc>>12)&7, (desc>>3)&1, (desc>>2)&1, (desc>>16)&1
		level = 1
	} else {
		if hasPXN {
			pxn = (desc >> 2) & 1
		}
		ns = (desc >> 3) & 1
		table = uint64((desc & 0xfffffc00) | ((va >> 10) & 0x3fc))
		desc, fi = wk.load32(table, 2)
		if fi != nil {
			fi.Domain = int(domain)
			return Result{}, fi
		}
		ap = ((desc >> 4) & 3) | ((desc >> 7) & 4)
		c, b, sh = (desc>>3)&1, (desc>>2)&1, (desc>>10)&1
		switch desc & 3 {
		case 0:
			return Result{}, &FaultInfo{Type: FaultTranslation, Level: 2, Domain: int(domain)}
		case 1:
			phys = uint64((desc & 0xffff0000) | (va & 0xffff))
			xn = (desc >> 15) & 1
			tex = (desc >> 12) & 7
			size = 1 << 16
		default:
			phys = uint64((desc & 0xfffff000) | (va & 0xfff))
			xn = desc & 1
			tex = (desc >> 6) & 7
			size = 1 << 12
		}
		ng = (desc >> 11) & 1
		level = 2
	}

	var prot Prot
	if dprot == 3 {
		prot = ProtRWX
	} else {
		if pxn != 0 && !wk.isUser() {
			xn = 1
		}
		if wk.c.SCTLR&SCTLRAFE != 0 {
			if ap&1 == 0 {
				return Result{}, &FaultInfo{Type: FaultAccessFlag, Level: level, Domain: int(domain)}
			}
			prot = simpleAPToProt(ap>>1, wk.isUser())
		} else {
			prot = wk.apToProt(ap, dprot)
		}
		if xn != 0 && wk.access == AccessFetch {
			return Result{}, &FaultInfo{Type: FaultPermission, Level: level, Domain: int(domain)}
		}
		if prot != 0 && xn == 0 {
			prot |= ProtExec
		}
		if !prot.Allows(wk.access) {
			return Result{}, &FaultInfo{Type: FaultPermission, Level: level, Domain: int(domain)}
		}
	}

	return Result{
		PhysAddr: phys,
		Prot:     prot,
		PageSize: size,
		Attrs:    shortAttrs(tex, c, b, sh != 0),
		Global:   ng == 0,
		NS:       !wk.c.Secure || ns != 0,
	}, nil
}
