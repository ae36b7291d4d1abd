package mmu_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/armsys/arch"
	"github.com/sarchlab/armsys/mmu"
)

var _ = Describe("Protection units", func() {
	var (
		src *fakeSource
		w   *mmu.Walker
	)

	BeforeEach(func() {
		src = &fakeSource{}
		w = mmu.NewWalker(newMemory(), src)
	})

	Describe("PMSAv5", func() {
		BeforeEach(func() {
			src.s1 = mmu.Controls{
				Features:   features(arch.FeatureV5, arch.FeaturePMSA),
				SCTLR:      mmu.SCTLRM,
				PMSADataAP: 3 | 6<<8,
				PMSAInsnAP: 3,
			}
			src.s1.PMSARegions[0] = 31<<1 | 1
			src.s1.PMSARegions[2] = 0x10000 | 11<<1 | 1
		})

		It("should let the highest matching region win", func() {
			_, err := w.Translate(0x10010, mmu.AccessStore, arch.MMUIdxE10_1)
			fi := faultOf(err)
			Expect(fi.Type).To(Equal(mmu.FaultPermission))
			Expect(fi.Domain).To(Equal(2))

			res, err := w.Translate(0x10010, mmu.AccessLoad, arch.MMUIdxE10_0)
			Expect(err).NotTo(HaveOccurred())
			Expect(res.PhysAddr).To(Equal(uint64(0x10010)))
			Expect(res.PageSize).To(Equal(uint64(1024)))

			_, err = w.Translate(0x20000, mmu.AccessStore, arch.MMUIdxE10_0)
			Expect(err).NotTo(HaveOccurred())
		})

		It("should use the instruction permissions for fetches", func() {
			_, err := w.Translate(0x10010, mmu.AccessFetch, arch.MMUIdxE10_1)
			fi := faultOf(err)
			Expect(fi.Type).To(Equal(mmu.FaultPermission))
			Expect(fi.Access).To(Equal(mmu.AccessFetch))
		})

		It("should report a background fault when nothing matches", func() {
			src.s1.PMSARegions = [8]uint32{}

			_, err := w.Translate(0x10010, mmu.AccessLoad, arch.MMUIdxE10_1)
			fi := faultOf(err)
			Expect(fi.Type).To(Equal(mmu.FaultBackground))
			Expect(fi.ShortFSC()).To(Equal(uint32(0)))
		})
	})

	Describe("PMSAv7", func() {
		BeforeEach(func() {
			src.s1 = mmu.Controls{
				Features: features(arch.FeatureV7, arch.FeaturePMSA),
				SCTLR:    mmu.SCTLRM,
				DRBAR:    []uint32{0, 0x00100000},
				DRSR:     []uint32{28<<1 | 1, 17<<1 | 1 | 1<<10},
				DRACR:    []uint32{3 << 8, 6<<8 | 1<<12},
			}
		})

		It("should apply the matching region's permissions", func() {
			res, err := w.Translate(0x00100000, mmu.AccessLoad, arch.MMUIdxE10_1)
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Prot).To(Equal(mmu.ProtRead))

			_, err = w.Translate(0x00100000, mmu.AccessStore, arch.MMUIdxE10_1)
			Expect(faultOf(err).Type).To(Equal(mmu.FaultPermission))

			_, err = w.Translate(0x00100000, mmu.AccessFetch, arch.MMUIdxE10_1)
			Expect(faultOf(err).Type).To(Equal(mmu.FaultPermission))
		})

		It("should grant no access for the reserved AP value 7", func() {
			src.s1.DRACR[1] = 7 << 8

			_, err := w.Translate(0x00100000, mmu.AccessLoad, arch.MMUIdxE10_0)
			Expect(faultOf(err).Type).To(Equal(mmu.FaultPermission))

			_, err = w.Translate(0x00100000, mmu.AccessLoad, arch.MMUIdxE10_1)
			Expect(faultOf(err).Type).To(Equal(mmu.FaultPermission))
		})

		It("should skip disabled subregions", func() {
			res, err := w.Translate(0x00110000, mmu.AccessStore, arch.MMUIdxE10_0)
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Prot).To(Equal(mmu.ProtRWX))
		})

		It("should only use the background region when enabled and privileged", func() {
			_, err := w.Translate(0x30000000, mmu.AccessLoad, arch.MMUIdxE10_1)
			Expect(faultOf(err).Type).To(Equal(mmu.FaultBackground))

			src.s1.SCTLR |= mmu.SCTLRBR
			res, err := w.Translate(0x30000000, mmu.AccessFetch, arch.MMUIdxE10_1)
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Prot).To(Equal(mmu.ProtRWX))

			_, err = w.Translate(0x30000000, mmu.AccessLoad, arch.MMUIdxE10_0)
			Expect(faultOf(err).Type).To(Equal(mmu.FaultBackground))
		})

		It("should use the default map when the MPU is off", func() {
			src.s1.SCTLR = 0

			res, err := w.Translate(0x90000000, mmu.AccessLoad, arch.MMUIdxE10_0)
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Prot).To(Equal(mmu.ProtRW))
		})
	})
})

var _ = Describe("Fault status encodings", func() {
	DescribeTable("short and long formats",
		func(fi mmu.FaultInfo, short, long uint32) {
			Expect(fi.ShortFSR()).To(Equal(short))
			Expect(fi.LongFSR()).To(Equal(long))
		},
		Entry("translation, level 2",
			mmu.FaultInfo{Type: mmu.FaultTranslation, Level: 2}, uint32(0x7), uint32(0x206)),
		Entry("permission, level 1, domain 5",
			mmu.FaultInfo{Type: mmu.FaultPermission, Level: 1, Domain: 5}, uint32(0x5d), uint32(0x20d)),
		Entry("external abort on walk, level 2",
			mmu.FaultInfo{Type: mmu.FaultSyncExternalOnWalk, Level: 2}, uint32(0xe), uint32(0x216)),
		Entry("alignment",
			mmu.FaultInfo{Type: mmu.FaultAlignment}, uint32(0x1), uint32(0x221)),
		Entry("external abort with EA",
			mmu.FaultInfo{Type: mmu.FaultSyncExternal, EA: 1}, uint32(0x1008), uint32(0x1210)),
	)
})
