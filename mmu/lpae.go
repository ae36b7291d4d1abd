package mmu

import "github.com/sarchlab/armsys/arch"

// regime is the walk configuration derived from a TCR/TTBR pair.
type regime struct {
	inputSize  uint
	outputSize uint
	stride     uint
	startLevel int
	ttbr       uint64
	tbi        bool
	hpd        bool
	epd        bool
	sel        uint64
	sl0        uint64
}

var psBits = [8]uint{32, 36, 40, 42, 44, 48, 48, 48}

// tg0Stride decodes TCR.TG0 (and VTCR.TG0).
func tg0Stride(tg uint64) uint {
	switch tg {
	case 1:
		return 13
	case 2:
		return 11
	}
	return 9
}

// tg1Stride decodes TCR.TG1, whose encoding differs from TG0.
func tg1Stride(tg uint64) uint {
	switch tg {
	case 1:
		return 11
	case 3:
		return 13
	}
	return 9
}

func (wk *walk) regime() regime {
	c := wk.c
	tcr := c.TCR
	va := wk.va
	var r regime

	if c.AArch64 {
		var tsz uint64
		switch {
		case wk.stage2:
			tsz = tcr & 0x3f
			r.stride = tg0Stride((tcr >> 14) & 3)
			r.outputSize = psBits[(tcr>>16)&7]
			r.sl0 = (tcr >> 6) & 3
			r.ttbr = c.TTBR0
		case wk.idx.IsTwoRanges():
			r.sel = (va >> 55) & 1
			if r.sel == 0 {
				tsz = tcr & 0x3f
				r.stride = tg0Stride((tcr >> 14) & 3)
				r.epd = arch.Bit(tcr, 7)
				r.tbi = arch.Bit(tcr, 37)
				r.hpd = arch.Bit(tcr, 41)
				r.ttbr = c.TTBR0
			} else {
				tsz = (tcr >> 16) & 0x3f
				r.stride = tg1Stride((tcr >> 30) & 3)
				r.epd = arch.Bit(tcr, 23)
				r.tbi = arch.Bit(tcr, 38)
				r.hpd = arch.Bit(tcr, 42)
				r.ttbr = c.TTBR1
			}
			r.outputSize = psBits[(tcr>>32)&7]
		default:
			tsz = tcr & 0x3f
			r.stride = tg0Stride((tcr >> 14) & 3)
			r.outputSize = psBits[(tcr>>16)&7]
			r.tbi = arch.Bit(tcr, 20)
			r.hpd = arch.Bit(tcr, 24)
			r.ttbr = c.TTBR0
		}
		tsz = min(max(tsz, 16), 39)
		r.inputSize = uint(64 - tsz)
	} else {
		r.stride = 9
		r.outputSize = 40
		switch {
		case wk.stage2:
			tsz := int64(arch.SignExtend(tcr&0xf, 4))
			r.inputSize = uint(32 - tsz)
			r.sl0 = (tcr >> 6) & 3
			r.ttbr = c.TTBR0
		case wk.idx.RegimeEL() == arch.EL2:
			r.inputSize = uint(32 - tcr&7)
			r.hpd = arch.Bit(tcr, 24)
			r.ttbr = c.TTBR0
		default:
			t0sz, t1sz := uint(tcr&7), uint((tcr>>16)&7)
			va32 := uint32(va)
			if t1sz == 0 {
				if va32 > 0xffffffff>>t0sz {
					r.sel = 1
				}
			} else if va32 >= ^uint32(0xffffffff>>t1sz) {
				r.sel = 1
			}
			if r.sel == 0 {
				r.inputSize = 32 - t0sz
				r.epd = arch.Bit(tcr, 7)
				r.ttbr = c.TTBR0
			} else {
				r.inputSize = 32 - t1sz
				r.epd = arch.Bit(tcr, 23)
				r.ttbr = c.TTBR1
			}
		}
	}

	if wk.stage2 {
		if r.stride == 9 {
			r.startLevel = 2 - int(r.sl0)
		} else {
			r.startLevel = 3 - int(r.sl0)
		}
	} else {
		r.startLevel = 4 - int((r.inputSize-4)/r.stride)
	}
	return r
}

// addressInRange checks the bits above the input size against the
// pattern the selected range expects.
func (wk *walk) addressInRange(r regime) bool {
	va := wk.va
	if !wk.c.AArch64 {
		if va>>32 != 0 {
			return false
		}
		hi := va >> r.inputSize
		if r.sel == 0 {
			return hi == 0
		}
		return hi == (uint64(1)<<(32-r.inputSize))-1
	}

	top := uint(63)
	if r.tbi {
		top = 55
	}
	if top < r.inputSize {
		return true
	}
	field := arch.Extract(va, r.inputSize, top-r.inputSize+1)
	if r.sel == 0 {
		return field == 0
	}
	return field == (uint64(1)<<(top-r.inputSize+1))-1
}

// stage2StartValid checks VTCR.SL0 against the input size: the start
// level must resolve all input bits with at most 16 concatenated tables.
func stage2StartValid(r regime) bool {
	if r.startLevel < 0 || r.startLevel > 3 || r.sl0 == 3 {
		return false
	}
	if r.stride != 9 && r.startLevel == 0 {
		return false
	}
	grain := r.stride + 3
	check := int(r.inputSize) - ((3-r.startLevel)*int(r.stride) + int(grain))
	return check >= 1 && check <= int(r.stride)+4
}

// lpae walks a long-descriptor table for either stage.
func (wk *walk) lpae() (Result, *FaultInfo) {
	r := wk.regime()

	if !wk.addressInRange(r) {
		// An AArch32 stage 1 address between the TTBR0 and TTBR1 ranges.
		if !wk.c.AArch64 && !wk.stage2 {
			return Result{}, wk.fault(FaultTranslation, 1)
		}
		return Result{}, wk.fault(FaultAddressSize, 0)
	}
	if r.epd {
		return Result{}, wk.fault(FaultTranslation, 0)
	}
	if wk.stage2 && !stage2StartValid(r) {
		return Result{}, wk.fault(FaultTranslation, 0)
	}

	stride := r.stride
	level := r.startLevel
	grainMask := uint64(1)<<(stride+3) - 1
	indexMask := uint64(1)<<(r.inputSize-stride*uint(4-level)) - 1
	addrMask := (uint64(1)<<48 - 1) &^ grainMask

	descAddr := r.ttbr & (uint64(1)<<48 - 1)
	descAddr &^= indexMask
	var tableAttrs uint64
	var desc uint64

	for {
		descAddr |= (wk.va >> (stride * uint(4-level))) & indexMask
		descAddr &^= 7

		var fi *FaultInfo
		desc, fi = wk.load64(descAddr, level)
		if fi != nil {
			return Result{}, fi
		}
		if desc&1 == 0 || (desc&2 == 0 && level == 3) {
			return Result{}, wk.fault(FaultTranslation, level)
		}

		descAddr = desc & addrMask
		if r.outputSize < 48 && descAddr>>r.outputSize != 0 {
			return Result{}, wk.fault(FaultAddressSize, level)
		}

		if desc&2 != 0 && level < 3 {
			if !wk.stage2 {
				if r.hpd {
					tableAttrs |= arch.Extract(desc, 63, 1) << 4
				} else {
					tableAttrs |= arch.Extract(desc, 59, 5)
				}
			}
			level++
			indexMask = grainMask
			continue
		}

		if desc&2 == 0 && (level == 0 || (level == 1 && stride != 9)) {
			return Result{}, wk.fault(FaultTranslation, level)
		}
		break
	}

	pageSize := uint64(1) << (stride*uint(4-level) + 3)
	attrs := arch.Extract(desc, 2, 10) | arch.Extract(desc, 52, 12)<<10

	res := Result{
		PhysAddr: (descAddr &^ (pageSize - 1)) | (wk.va & (pageSize - 1)),
		PageSize: pageSize,
		Global:   true,
		NS:       !wk.c.Secure,
	}

	if wk.stage2 {
		if !arch.Bit(attrs, 8) {
			return Result{}, wk.fault(FaultAccessFlag, level)
		}
		res.Prot = wk.s2Prot(attrs)
		res.Attrs = CacheAttrs{
			Attrs:        convertS2Attrs(wk.c.HCR, arch.Extract(attrs, 0, 4)),
			Shareability: uint8(arch.Extract(attrs, 6, 2)),
		}
	} else {
		attrs |= arch.Extract(tableAttrs, 4, 1) << 3
		if tableAttrs&2 != 0 {
			attrs |= 1 << 12
		}
		if tableAttrs&1 != 0 {
			attrs |= 1 << 11
		}
		if tableAttrs&4 != 0 {
			attrs &^= 1 << 4
		}
		if tableAttrs&8 != 0 {
			attrs |= 1 << 5
		}
		if !arch.Bit(attrs, 8) {
			return Result{}, wk.fault(FaultAccessFlag, level)
		}

		res.Prot = wk.s1Prot(arch.Extract(attrs, 4, 2), arch.Extract(attrs, 12, 1),
			arch.Extract(attrs, 11, 1))
		idx := arch.Extract(attrs, 0, 3)
		res.Attrs = CacheAttrs{
			Attrs:        uint8(wk.c.MAIR >> (idx * 8)),
			Shareability: uint8(arch.Extract(attrs, 6, 2)),
		}
		res.NS = !wk.c.Secure || arch.Bit(attrs, 3)
		if wk.idx.IsTwoRanges() {
			res.Global = !arch.Bit(attrs, 9)
		}
	}
	if res.Attrs.IsDevice() || res.Attrs.Attrs == 0x44 {
		res.Attrs.Shareability = ShareOuter
	}

	if !res.Prot.Allows(wk.access) {
		return Result{}, wk.fault(FaultPermission, level)
	}
	return res, nil
}

// s1Prot computes stage-1 permissions from AP[2:1], XN/UXN and PXN.
func (wk *walk) s1Prot(ap, xn, pxn uint64) Prot {
	user := wk.isUser()
	twoRanges := wk.idx.IsTwoRanges()
	protRW := simpleAPToProt(uint32(ap), user)

	var userRW Prot
	if twoRanges {
		userRW = simpleAPToProt(uint32(ap), true)
		if protRW != 0 && !user && userRW != 0 && wk.idx.IsPAN() {
			protRW = 0
		}
	}

	wxn := wk.c.SCTLR&SCTLRWXN != 0
	noExec := xn != 0
	switch {
	case wk.c.AArch64:
		if twoRanges && !user {
			noExec = pxn != 0 || userRW&ProtWrite != 0
		}
	case wk.c.Features.Has(arch.FeatureV7):
		switch wk.idx.RegimeEL() {
		case arch.EL1, arch.EL3:
			if user {
				noExec = noExec || protRW&ProtRead == 0
			} else {
				uwxn := wk.c.SCTLR&SCTLRUWXN != 0
				noExec = noExec || protRW&ProtRead == 0 || pxn != 0 ||
					(uwxn && userRW&ProtWrite != 0)
			}
		}
	default:
		noExec, wxn = false, false
	}

	if noExec || (wxn && protRW&ProtWrite != 0) {
		return protRW
	}
	return protRW | ProtExec
}

// s2Prot computes stage-2 permissions from S2AP and XN.
func (wk *walk) s2Prot(attrs uint64) Prot {
	s2ap := arch.Extract(attrs, 4, 2)
	var prot Prot
	if s2ap&1 != 0 {
		prot |= ProtRead
	}
	if s2ap&2 != 0 {
		prot |= ProtWrite
	}
	if !arch.Bit(attrs, 12) && (wk.c.AArch64 || prot&ProtRead != 0) {
		prot |= ProtExec
	}
	return prot
}
