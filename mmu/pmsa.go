package mmu

import "github.com/sarchlab/armsys/arch"

const pmsaPageSize = 1 << 10

// pmsav5 checks an access against the eight PMSAv5 protection regions. The
// highest-numbered matching region wins.
func (wk *walk) pmsav5() (Result, *FaultInfo) {
	res := Result{PhysAddr: wk.va, PageSize: pmsaPageSize, Global: true, NS: true,
		Attrs: CacheAttrs{Attrs: 0xff}}

	if wk.c.SCTLR&SCTLRM == 0 {
		res.Prot = ProtRWX
		return res, nil
	}

	va := uint32(wk.va)
	n := 7
	for ; n >= 0; n-- {
		base := wk.c.PMSARegions[n]
		if base&1 == 0 {
			continue
		}
		mask := uint32(1) << ((base >> 1) & 0x1f)
		mask = mask<<1 - 1
		if (base^va)&^mask == 0 {
			break
		}
	}
	if n < 0 {
		return Result{}, wk.fault(FaultBackground, 0)
	}

	ap := wk.c.PMSADataAP
	if wk.access == AccessFetch {
		ap = wk.c.PMSAInsnAP
	}
	ap = (ap >> (uint(n) * 4)) & 0xf

	user := wk.isUser()
	var prot Prot
	switch ap {
	case 1:
		if !user {
			prot = ProtRW
		}
	case 2:
		prot = ProtRead
		if !user {
			prot |= ProtWrite
		}
	case 3:
		prot = ProtRW
	case 5:
		if !user {
			prot = ProtRead
		}
	case 6:
		prot = ProtRead
	}
	if prot != 0 {
		prot |= ProtExec
	}
	if !prot.Allows(wk.access) {
		return Result{}, &FaultInfo{Type: FaultPermission, Level: 1, Domain: n}
	}
	res.Prot = prot
	return res, nil
}

// pmsav7Default is the background memory map used when no region matches
// and the background region is enabled, or when the MPU is off.
func (wk *walk) pmsav7Default(va uint32) Prot {
	prot := ProtRW
	switch {
	case va < 0x80000000:
		prot |= ProtExec
	case va >= 0xf0000000 && wk.c.SCTLR&SCTLRV != 0:
		prot |= ProtExec
	}
	return prot
}

// pmsav7 checks an access against the PMSAv7 regions, honouring
// subregion disables and the privileged background region.
func (wk *walk) pmsav7() (Result, *FaultInfo) {
	va := uint32(wk.va)
	res := Result{PhysAddr: wk.va, PageSize: pmsaPageSize, Global: true, NS: true,
		Attrs: CacheAttrs{Attrs: 0xff}}
	user := wk.isUser()

	if wk.c.SCTLR&SCTLRM == 0 {
		res.Prot = wk.pmsav7Default(va)
		return res, nil
	}

	hit := -1
	for n := len(wk.c.DRSR) - 1; n >= 0; n-- {
		drsr := wk.c.DRSR[n]
		if drsr&1 == 0 {
			continue
		}
		rsize := arch.Extract(uint64(drsr), 1, 5)
		if rsize == 0 {
			continue
		}
		rsize++
		rmask := uint64(1)<<rsize - 1
		base := uint64(wk.c.DRBAR[n])
		if base&rmask != 0 {
			continue
		}
		if uint64(va) < base || uint64(va) > base+rmask {
			continue
		}
		if rsize >= 8 {
			snd := (uint64(va) - base) >> (rsize - 3) & 7
			if arch.Bit(uint64(drsr), uint(snd)+8) {
				continue
			}
		}
		hit = n
		break
	}

	if hit < 0 {
		if user || wk.c.SCTLR&SCTLRBR == 0 {
			return Result{}, wk.fault(FaultBackground, 0)
		}
		res.Prot = wk.pmsav7Default(va)
	} else {
		dracr := uint64(wk.c.DRACR[hit])
		ap := arch.Extract(dracr, 8, 3)
		// AP values 4 and 7 are reserved and grant nothing.
		var prot Prot
		if user {
			switch ap {
			case 3:
				prot = ProtRW | ProtExec
			case 2, 6:
				prot = ProtRead | ProtExec
			}
		} else {
			switch ap {
			case 1, 2, 3:
				prot = ProtRW | ProtExec
			case 5, 6:
				prot = ProtRead | ProtExec
			}
		}
		if arch.Bit(dracr, 12) {
			prot &^= ProtExec
		}
		res.Prot = prot
		tex := uint32(arch.Extract(dracr, 3, 3))
		res.Attrs = shortAttrs(tex, uint32(arch.Extract(dracr, 1, 1)),
			uint32(arch.Extract(dracr, 0, 1)), arch.Bit(dracr, 2))
	}

	if !res.Prot.Allows(wk.access) {
		return Result{}, &FaultInfo{Type: FaultPermission, Level: 1}
	}
	return res, nil
}
