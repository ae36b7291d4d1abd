package mmu

// ShortFSC returns the five-bit short-descriptor fault status code.
func (f *FaultInfo) ShortFSC() uint32 {
	lvl2 := f.Level >= 2
	pick := func(l1, l2 uint32) uint32 {
		if lvl2 {
			return l2
		}
		return l1
	}
	switch f.Type {
	case FaultAccessFlag:
		return pick(0x3, 0x6)
	case FaultTranslation:
		return pick(0x5, 0x7)
	case FaultPermission:
		return pick(0xd, 0xf)
	case FaultDomain:
		return pick(0x9, 0xb)
	case FaultSyncExternal:
		return 0x8
	case FaultSyncExternalOnWalk:
		return pick(0xc, 0xe)
	case FaultAlignment:
		return 0x1
	case FaultBackground:
		return 0x0
	}
	return 0x5
}

// ShortFSR formats a short-descriptor DFSR/IFSR value: FS[4] in bit 10,
// the domain in bits 7:4 and ExT in bit 12.
func (f *FaultInfo) ShortFSR() uint32 {
	fsc := f.ShortFSC()
	fsr := fsc&0xf | (fsc&0x10)<<6 | uint32(f.Domain&0xf)<<4
	if f.EA != 0 {
		fsr |= 1 << 12
	}
	return fsr
}

// LongFSC returns the six-bit long-descriptor fault status code used by
// LPAE FSRs and ESR ISS encodings.
func (f *FaultInfo) LongFSC() uint32 {
	lvl := uint32(f.Level & 3)
	switch f.Type {
	case FaultAddressSize:
		return 0x00 | lvl
	case FaultTranslation:
		return 0x04 | lvl
	case FaultAccessFlag:
		return 0x08 | lvl
	case FaultPermission:
		return 0x0c | lvl
	case FaultSyncExternal:
		return 0x10
	case FaultSyncExternalOnWalk:
		return 0x14 | lvl
	case FaultAlignment:
		return 0x21
	case FaultDomain:
		return 0x3c | lvl
	case FaultBackground:
		return 0x00
	}
	return 0x04 | lvl
}

// LongFSR formats an AArch32 long-descriptor DFSR/IFSR value.
func (f *FaultInfo) LongFSR() uint32 {
	fsr := 1<<9 | f.LongFSC()
	if f.EA != 0 {
		fsr |= 1 << 12
	}
	return fsr
}
