package tlb_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/armsys/arch"
	"github.com/sarchlab/armsys/tlb"
)

var _ = Describe("Scope resolution", func() {
	nsEL1 := tlb.State{EL: arch.EL1, EL2Enabled: true, VMID: 3}

	DescribeTable("indexes per operation",
		func(st tlb.State, op tlb.Op, expected arch.MMUIndexMask, kind tlb.FlushKind) {
			f, err := st.Resolve(tlb.Request{Op: op})
			Expect(err).NotTo(HaveOccurred())
			Expect(f.Indexes).To(Equal(expected))
			Expect(f.Kind).To(Equal(kind))
		},
		Entry("VMALLE1, non-secure", nsEL1, tlb.OpVMAllE1, arch.MaskE10, tlb.FlushEverything),
		Entry("VMALLE1, secure", tlb.State{EL: arch.EL1, Secure: true},
			tlb.OpVMAllE1, arch.MaskSE10, tlb.FlushEverything),
		Entry("VAE1 under E2H and TGE",
			tlb.State{EL: arch.EL2, EL2Enabled: true, E2H: true, TGE: true},
			tlb.OpVAE1, arch.MaskE20, tlb.FlushVA),
		Entry("ALLE1 with EL2", nsEL1, tlb.OpAllE1,
			arch.MaskE10|arch.MaskStage2, tlb.FlushEverything),
		Entry("VMALLS12E1 without EL2", tlb.State{EL: arch.EL1},
			tlb.OpVMAllS12E1, arch.MaskE10, tlb.FlushEverything),
		Entry("IPAS2E1", nsEL1, tlb.OpIPAS2E1, arch.MaskStage2, tlb.FlushIPA),
		Entry("ALLE2", nsEL1, tlb.OpAllE2, arch.MaskE2|arch.MaskE20, tlb.FlushEverything),
		Entry("VAE2 without E2H", nsEL1, tlb.OpVAE2, arch.MaskE2, tlb.FlushVAAllASIDs),
		Entry("ALLE3", tlb.State{EL: arch.EL3, Secure: true}, tlb.OpAllE3,
			arch.MaskE3, tlb.FlushEverything),
	)

	It("should carry the VMID for EL1 operations", func() {
		f, err := nsEL1.Resolve(tlb.Request{Op: tlb.OpVMAllS12E1})
		Expect(err).NotTo(HaveOccurred())
		Expect(f.VMID).To(Equal(uint16(3)))
		Expect(f.AnyVMID).To(BeFalse())
	})

	It("should reject unknown operations", func() {
		_, err := nsEL1.Resolve(tlb.Request{Op: tlb.Op(99)})
		Expect(err).To(HaveOccurred())
	})

	It("should promote requests under HCR_EL2.FB at non-secure EL1", func() {
		st := nsEL1
		Expect(st.Broadcast(tlb.Request{Op: tlb.OpVAE1})).To(BeFalse())

		st.FB = true
		Expect(st.Broadcast(tlb.Request{Op: tlb.OpVAE1})).To(BeTrue())

		st.EL = arch.EL2
		Expect(st.Broadcast(tlb.Request{Op: tlb.OpVAE1})).To(BeFalse())
	})
})

var _ = Describe("Coordinator", func() {
	var (
		c      *tlb.Coordinator
		t0, t1 *tlb.TLB
		st     tlb.State
	)

	BeforeEach(func() {
		c = tlb.NewCoordinator()
		t0 = tlb.New(tlb.DefaultConfig())
		t1 = tlb.New(tlb.DefaultConfig())
		Expect(c.Attach(t0)).To(Equal(0))
		Expect(c.Attach(t1)).To(Equal(1))
		st = tlb.State{EL: arch.EL1}

		for _, t := range []*tlb.TLB{t0, t1} {
			t.Insert(arch.MMUIdxE10_1, 0x4000, 1, 0, page(0x84000, 4096, true))
			t.Insert(arch.MMUIdxE10_1, 0x8000, 1, 0, page(0x88000, 4096, true))
		}
	})

	It("should apply local requests to the issuing TLB only", func() {
		Expect(c.Issue(t0, st, tlb.Request{Op: tlb.OpVAAE1, Addr: 0x4000})).To(Succeed())

		_, ok := t0.Lookup(arch.MMUIdxE10_1, 0x4000, 1, 0)
		Expect(ok).To(BeFalse())
		_, ok = t1.Lookup(arch.MMUIdxE10_1, 0x4000, 1, 0)
		Expect(ok).To(BeTrue())
	})

	It("should clear every core before a broadcast returns", func() {
		req := tlb.Request{Op: tlb.OpVAAE1, Addr: 0x4000, Broadcast: true}
		Expect(c.Issue(t0, st, req)).To(Succeed())

		for _, t := range []*tlb.TLB{t0, t1} {
			_, ok := t.Lookup(arch.MMUIdxE10_1, 0x4000, 1, 0)
			Expect(ok).To(BeFalse())
			_, ok = t.Lookup(arch.MMUIdxE10_1, 0x8000, 1, 0)
			Expect(ok).To(BeTrue())
		}
	})

	It("should count the entries a broadcast drops", func() {
		n := c.Broadcast(tlb.Flush{Kind: tlb.FlushEverything, Indexes: arch.MaskAll,
			AnyVMID: true})
		Expect(n).To(Equal(4))

		n = c.Broadcast(tlb.Flush{Kind: tlb.FlushEverything, Indexes: arch.MaskAll,
			AnyVMID: true})
		Expect(n).To(Equal(0))
	})

	It("should propagate resolution errors", func() {
		Expect(c.Issue(t0, st, tlb.Request{Op: tlb.Op(42)})).NotTo(Succeed())
	})
})
