package emu

import (
	"errors"

	"github.com/sarchlab/armsys/arch"
	"github.com/sarchlab/armsys/mmu"
	"github.com/sarchlab/armsys/physmem"
)

// Translate translates va for an access from the current context.
func (c *Core) Translate(va uint64, at mmu.AccessType) (mmu.Result, error) {
	return c.TranslateWith(va, at, c.ctx.MMUIdx)
}

// TranslateWith translates va through regime idx, consulting the TLB
// first. A cached entry that does not permit the access is walked again
// so the fault reflects the current tables.
func (c *Core) TranslateWith(va uint64, at mmu.AccessType, idx arch.MMUIndex) (mmu.Result, error) {
	asid, vmid := c.asid(idx), c.vmidFor(idx)
	if res, ok := c.tlb.Lookup(idx, va, asid, vmid); ok && res.Prot.Allows(at) {
		return res, nil
	}

	res, err := c.walker.Translate(va, at, idx)
	if err != nil {
		return mmu.Result{}, err
	}
	if !idx.HasTLB() {
		return res, nil
	}

	c.tlb.Insert(idx, va, asid, vmid, res)
	if at == mmu.AccessFetch {
		c.CountEvent(EventL1ITLBRefill, 1)
	} else {
		c.CountEvent(EventL1DTLBRefill, 1)
	}
	return res, nil
}

// asid returns the address-space identifier current for regime idx.
// Short-descriptor regimes take it from CONTEXTIDR; long-descriptor
// regimes from the TTBR that TCR.A1 selects.
func (c *Core) asid(idx arch.MMUIndex) uint16 {
	f := c.fields
	var tcr, ttbr0, ttbr1, contextidr uint64

	switch {
	case idx == arch.MMUIdxStage2 || (!idx.IsTwoRanges() && idx != arch.MMUIdxSE3):
		return 0
	case idx.RegimeEL() == arch.EL2:
		tcr, ttbr0, ttbr1 = f[fTCR2], f[fTTBR0_2], f[fTTBR1_2]
	case idx.IsSecure() && c.el3AArch32():
		tcr, ttbr0, ttbr1, contextidr = f[fTCR3], f[fTTBR0_3], f[fTTBR1S], f[fCONTEXTIDRS]
	default:
		tcr, ttbr0, ttbr1, contextidr = f[fTCR1], f[fTTBR0_1], f[fTTBR1_1], f[fCONTEXTIDR1]
	}

	if !c.regimeUsesLPAE(idx) {
		return uint16(contextidr & 0xff)
	}
	ttbr := ttbr0
	if tcr&tcrA1 != 0 {
		ttbr = ttbr1
	}
	asid := uint16(ttbr >> 48)
	if !c.Controls(idx).AArch64 || tcr&tcrAS == 0 {
		asid &= 0xff
	}
	return asid
}

// vmid returns the current VMID from VTTBR.
func (c *Core) vmid() uint16 {
	return uint16(c.fields[fVTTBR]>>48) & 0xff
}

// vmidFor returns the VMID tagging translations of idx. Only the
// non-secure EL1&0 regime and stage 2 are per-VM.
func (c *Core) vmidFor(idx arch.MMUIndex) uint16 {
	if !c.el2Enabled() {
		return 0
	}
	if idx == arch.MMUIdxStage2 || (idx.RegimeEL() == arch.EL1 && !idx.IsSecure()) {
		return c.vmid()
	}
	return 0
}

// ReadVirtual reads n bytes at va through the current regime.
func (c *Core) ReadVirtual(va uint64, n int) ([]byte, error) {
	return c.readVirtual(va, n, mmu.AccessLoad)
}

// FetchVirtual reads n bytes of instructions at va. A bus error on the
// fetch is reported as a synchronous external abort.
func (c *Core) FetchVirtual(va uint64, n int) ([]byte, error) {
	b, err := c.readVirtual(va, n, mmu.AccessFetch)
	var be *physmem.BusError
	if errors.As(err, &be) {
		return nil, &mmu.FaultInfo{Type: mmu.FaultSyncExternal, Addr: va, Access: mmu.AccessFetch}
	}
	return b, err
}

func (c *Core) readVirtual(va uint64, n int, at mmu.AccessType) ([]byte, error) {
	out := make([]byte, 0, n)
	for n > 0 {
		res, err := c.Translate(va, at)
		if err != nil {
			return nil, err
		}
		chunk := min(n, pageRemaining(res, va))
		b, err := c.mem.Read(res.PhysAddr, chunk)
		if err != nil {
			return nil, err
		}
		out = append(out, b...)
		va += uint64(chunk)
		n -= chunk
	}
	return out, nil
}

// WriteVirtual writes data at va through the current regime.
func (c *Core) WriteVirtual(va uint64, data []byte) error {
	for len(data) > 0 {
		res, err := c.Translate(va, mmu.AccessStore)
		if err != nil {
			return err
		}
		chunk := min(len(data), pageRemaining(res, va))
		if err := c.mem.Write(res.PhysAddr, data[:chunk]); err != nil {
			return err
		}
		va += uint64(chunk)
		data = data[chunk:]
	}
	return nil
}

func pageRemaining(res mmu.Result, va uint64) int {
	size := res.PageSize
	if size == 0 {
		size = 4096
	}
	return int(size - va&(size-1))
}
