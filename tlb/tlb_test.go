package tlb_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/armsys/arch"
	"github.com/sarchlab/armsys/mmu"
	"github.com/sarchlab/armsys/tlb"
)

func page(pa, size uint64, global bool) mmu.Result {
	return mmu.Result{
		PhysAddr: pa,
		Prot:     mmu.ProtRW,
		PageSize: size,
		Global:   global,
		NS:       true,
	}
}

var _ = Describe("TLB", func() {
	var t *tlb.TLB

	BeforeEach(func() {
		t = tlb.New(tlb.DefaultConfig())
	})

	It("should miss when empty", func() {
		_, ok := t.Lookup(arch.MMUIdxE10_1, 0x1000, 1, 0)
		Expect(ok).To(BeFalse())
		Expect(t.Stats().Misses).To(Equal(uint64(1)))
	})

	It("should hit on the same page and rebase the offset", func() {
		t.Insert(arch.MMUIdxE10_1, 0x1234, 1, 0, page(0x80001234, 4096, false))

		res, ok := t.Lookup(arch.MMUIdxE10_1, 0x1238, 1, 0)
		Expect(ok).To(BeTrue())
		Expect(res.PhysAddr).To(Equal(uint64(0x80001238)))
		Expect(t.Stats().Hits).To(Equal(uint64(1)))
	})

	It("should keep indexes apart", func() {
		t.Insert(arch.MMUIdxE10_1, 0x1000, 1, 0, page(0x80001000, 4096, true))

		_, ok := t.Lookup(arch.MMUIdxE10_0, 0x1000, 1, 0)
		Expect(ok).To(BeFalse())
	})

	It("should match global entries under any ASID", func() {
		t.Insert(arch.MMUIdxE10_1, 0x1000, 1, 0, page(0x80001000, 4096, true))
		t.Insert(arch.MMUIdxE10_1, 0x2000, 1, 0, page(0x80002000, 4096, false))

		_, ok := t.Lookup(arch.MMUIdxE10_1, 0x1000, 7, 0)
		Expect(ok).To(BeTrue())
		_, ok = t.Lookup(arch.MMUIdxE10_1, 0x2000, 7, 0)
		Expect(ok).To(BeFalse())
	})

	It("should separate entries by VMID", func() {
		t.Insert(arch.MMUIdxE10_1, 0x1000, 1, 3, page(0x80001000, 4096, true))

		_, ok := t.Lookup(arch.MMUIdxE10_1, 0x1000, 1, 4)
		Expect(ok).To(BeFalse())
	})

	It("should evict the least recently used way", func() {
		t = tlb.New(tlb.Config{Sets: 1, Ways: 2})
		t.Insert(arch.MMUIdxE10_1, 0x1000, 1, 0, page(0x1000, 1024, true))
		t.Insert(arch.MMUIdxE10_1, 0x2000, 1, 0, page(0x2000, 1024, true))
		_, ok := t.Lookup(arch.MMUIdxE10_1, 0x1000, 1, 0)
		Expect(ok).To(BeTrue())

		t.Insert(arch.MMUIdxE10_1, 0x3000, 1, 0, page(0x3000, 1024, true))

		Expect(t.Stats().Evictions).To(Equal(uint64(1)))
		_, ok = t.Lookup(arch.MMUIdxE10_1, 0x2000, 1, 0)
		Expect(ok).To(BeFalse())
		_, ok = t.Lookup(arch.MMUIdxE10_1, 0x1000, 1, 0)
		Expect(ok).To(BeTrue())
	})

	Describe("invalidation", func() {
		BeforeEach(func() {
			t.Insert(arch.MMUIdxE10_1, 0x1000, 1, 0, page(0x80001000, 4096, false))
			t.Insert(arch.MMUIdxE10_1, 0x5000, 2, 0, page(0x80005000, 4096, false))
			t.Insert(arch.MMUIdxE10_1, 0x9000, 1, 0, page(0x80009000, 4096, true))
			t.Insert(arch.MMUIdxE2, 0x1000, 0, 0, page(0x90001000, 4096, true))
		})

		It("should drop one ASID's non-global entries", func() {
			n := t.Apply(tlb.Flush{Kind: tlb.FlushASID, Indexes: arch.MaskE10, ASID: 1})
			Expect(n).To(Equal(1))
			Expect(t.Len(arch.MMUIdxE10_1)).To(Equal(2))
		})

		It("should drop an address for one ASID and globals", func() {
			n := t.Apply(tlb.Flush{Kind: tlb.FlushVA, Indexes: arch.MaskE10,
				Addr: 0x1800, ASID: 2})
			Expect(n).To(Equal(0))

			n = t.Apply(tlb.Flush{Kind: tlb.FlushVA, Indexes: arch.MaskE10,
				Addr: 0x1800, ASID: 1})
			Expect(n).To(Equal(1))
		})

		It("should drop an address for all ASIDs", func() {
			n := t.Apply(tlb.Flush{Kind: tlb.FlushVAAllASIDs, Indexes: arch.MaskE10,
				Addr: 0x9000})
			Expect(n).To(Equal(1))
			_, ok := t.Lookup(arch.MMUIdxE10_1, 0x9000, 1, 0)
			Expect(ok).To(BeFalse())
		})

		It("should drop a large page from any address inside it", func() {
			t.Insert(arch.MMUIdxE10_1, 0x40123000, 1, 0, page(0x80123000, 1<<21, true))

			n := t.Apply(tlb.Flush{Kind: tlb.FlushVAAllASIDs, Indexes: arch.MaskE10,
				Addr: 0x401ff000})
			Expect(n).To(Equal(1))
		})

		It("should leave other indexes alone", func() {
			t.FlushIndexes(arch.MaskE10)
			Expect(t.Len(arch.MMUIdxE10_1)).To(Equal(0))
			Expect(t.Len(arch.MMUIdxE2)).To(Equal(1))
		})

		It("should be a no-op on an empty scope", func() {
			t.FlushIndexes(arch.MaskE10)
			n := t.Apply(tlb.Flush{Kind: tlb.FlushEverything, Indexes: arch.MaskE10})
			Expect(n).To(Equal(0))

			res, ok := t.Lookup(arch.MMUIdxE2, 0x1010, 0, 0)
			Expect(ok).To(BeTrue())
			Expect(res.PhysAddr).To(Equal(uint64(0x90001010)))
		})

		It("should match VMIDs only when asked", func() {
			t.Insert(arch.MMUIdxE10_1, 0x20000, 1, 5, page(0x20000, 4096, true))

			n := t.Apply(tlb.Flush{Kind: tlb.FlushEverything, Indexes: arch.MaskE10, VMID: 5})
			Expect(n).To(Equal(1))

			n = t.Apply(tlb.Flush{Kind: tlb.FlushEverything, Indexes: arch.MaskE10, AnyVMID: true})
			Expect(n).To(Equal(3))
		})
	})
})
