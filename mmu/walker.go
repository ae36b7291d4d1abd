package mmu

import (
	"github.com/sarchlab/armsys/arch"
)

// Walker translates addresses by walking page tables in physical memory.
// It holds no translation state of its own; every call re-reads the
// controls of the regime it walks.
type Walker struct {
	mem Memory
	src ControlSource
}

// NewWalker creates a walker reading descriptors from mem.
func NewWalker(mem Memory, src ControlSource) *Walker {
	return &Walker{mem: mem, src: src}
}

// Translate translates va for an access of type at through regime idx. A
// failed translation returns a *FaultInfo error.
func (w *Walker) Translate(va uint64, at AccessType, idx arch.MMUIndex) (Result, error) {
	res, fi := w.translate(va, at, idx)
	if fi != nil {
		fi.Addr = va
		fi.Access = at
		return Result{}, fi
	}
	return res, nil
}

func (w *Walker) translate(va uint64, at AccessType, idx arch.MMUIndex) (Result, *FaultInfo) {
	if idx == arch.MMUIdxStage2 {
		return w.stage2(va, at, false)
	}

	c := w.src.Controls(idx)
	if idx.Stage1() == idx || !c.Stage2Enabled || idx.RegimeEL() != arch.EL1 || idx.IsSecure() {
		return w.stage1(va, at, idx, c, false)
	}

	s1, fi := w.stage1(va, at, idx.Stage1(), c, true)
	if fi != nil {
		return Result{}, fi
	}
	s2, fi := w.stage2(s1.PhysAddr, at, false)
	if fi != nil {
		return Result{}, fi
	}
	return combineStages(s1, s2), nil
}

func combineStages(s1, s2 Result) Result {
	out := Result{
		PhysAddr: s2.PhysAddr,
		Prot:     s1.Prot & s2.Prot,
		PageSize: min(s1.PageSize, s2.PageSize),
		Global:   s1.Global,
		NS:       s1.NS,
	}
	out.Attrs = combineAttrs(s1.Attrs, s2.Attrs)
	return out
}

func (w *Walker) stage1(va uint64, at AccessType, idx arch.MMUIndex, c Controls,
	twoStage bool) (Result, *FaultInfo) {
	wk := &walk{w: w, c: c, idx: idx, access: at, va: va, twoStage: twoStage}

	if c.Features.Has(arch.FeaturePMSA) {
		if c.Features.Has(arch.FeatureV7) {
			return wk.pmsav7()
		}
		return wk.pmsav5()
	}

	if !c.AArch64 && !c.Features.Has(arch.FeatureV8) &&
		idx.RegimeEL() == arch.EL1 && va < 1<<25 {
		wk.va = va + uint64(c.FCSEIDR&0xfe000000)
	}

	if c.SCTLR&SCTLRM == 0 || wk.dcOverride() {
		return wk.flat()
	}

	switch {
	case wk.usesLPAE():
		return wk.lpae()
	case c.Features.Has(arch.FeatureV7) || c.SCTLR&SCTLRXP != 0:
		return wk.shortV6()
	}
	return wk.shortV5()
}

// stage2 translates an IPA through the stage-2 regime. s1ptw marks walks
// made on behalf of a stage-1 descriptor fetch.
func (w *Walker) stage2(ipa uint64, at AccessType, s1ptw bool) (Result, *FaultInfo) {
	c := w.src.Controls(arch.MMUIdxStage2)
	wk := &walk{w: w, c: c, idx: arch.MMUIdxStage2, access: at, va: ipa,
		stage2: true, s1ptw: s1ptw}

	res, fi := wk.lpae()
	if fi != nil {
		fi.Stage2 = true
		fi.S1PTW = s1ptw
		fi.IPA = ipa
		return Result{}, fi
	}
	return res, nil
}

// walk is the transient state of one page-table walk.
type walk struct {
	w      *Walker
	c      Controls
	idx    arch.MMUIndex
	access AccessType
	va     uint64

	stage2   bool
	s1ptw    bool
	twoStage bool
}

func (wk *walk) isUser() bool {
	return wk.idx.IsUser()
}

func (wk *walk) bigEndian() bool {
	return wk.c.SCTLR&SCTLREE != 0
}

func (wk *walk) usesLPAE() bool {
	if wk.c.AArch64 {
		return true
	}
	if !wk.c.Features.Has(arch.FeatureLPAE) {
		return false
	}
	return wk.idx.RegimeEL() == arch.EL2 || wk.c.TCR&TTBCREAE != 0
}

func (wk *walk) dcOverride() bool {
	return wk.idx.RegimeEL() == arch.EL1 && !wk.c.Secure && wk.c.HCR&HCRDC != 0
}

func (wk *walk) fault(t FaultType, level int) *FaultInfo {
	return &FaultInfo{Type: t, Level: level}
}

// descAddr resolves the physical address of a descriptor, going through
// stage 2 when this is a stage-1 walk of a two-stage regime.
func (wk *walk) descAddr(addr uint64) (uint64, *FaultInfo) {
	if !wk.twoStage {
		return addr, nil
	}
	res, fi := wk.w.stage2(addr, AccessLoad, true)
	if fi != nil {
		return 0, fi
	}
	if wk.c.HCR&HCRPTW != 0 && res.Attrs.IsDevice() {
		return 0, &FaultInfo{Type: FaultPermission, Level: 1, Stage2: true,
			S1PTW: true, IPA: addr}
	}
	return res.PhysAddr, nil
}

// busFault converts a failed descriptor fetch. Any memory error is an
// external abort on the walk.
func (wk *walk) busFault(level int) *FaultInfo {
	fi := wk.fault(FaultSyncExternalOnWalk, level)
	fi.Stage2 = wk.stage2
	fi.S1PTW = wk.s1ptw
	return fi
}

func (wk *walk) load32(addr uint64, level int) (uint32, *FaultInfo) {
	pa, fi := wk.descAddr(addr)
	if fi != nil {
		return 0, fi
	}
	v, err := wk.w.mem.Load32(pa, wk.bigEndian())
	if err != nil {
		return 0, wk.busFault(level)
	}
	return v, nil
}

func (wk *walk) load64(addr uint64, level int) (uint64, *FaultInfo) {
	pa, fi := wk.descAddr(addr)
	if fi != nil {
		return 0, fi
	}
	v, err := wk.w.mem.Load64(pa, wk.bigEndian())
	if err != nil {
		return 0, wk.busFault(level)
	}
	return v, nil
}

// flat handles a regime whose MMU is disabled.
func (wk *walk) flat() (Result, *FaultInfo) {
	res := Result{
		PhysAddr: wk.va,
		Prot:     ProtRWX,
		PageSize: 4096,
		Global:   true,
		NS:       !wk.c.Secure,
		Attrs:    CacheAttrs{Shareability: ShareOuter},
	}
	switch {
	case wk.dcOverride():
		res.Attrs = CacheAttrs{Attrs: 0xff, Shareability: ShareNone}
	case wk.access == AccessFetch && wk.c.SCTLR&SCTLRI != 0:
		res.Attrs.Attrs = 0xaa
	case wk.access == AccessFetch:
		res.Attrs.Attrs = 0x44
	}
	if wk.c.AArch64 && wk.va>>48 != 0 {
		return Result{}, wk.fault(FaultAddressSize, 0)
	}
	return res, nil
}
