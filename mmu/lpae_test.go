package mmu_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/armsys/arch"
	"github.com/sarchlab/armsys/mmu"
	"github.com/sarchlab/armsys/physmem"
)

const (
	descValid = 1
	descTable = 3
	descPage  = 3
	descAF    = 1 << 10
	apRWAll   = 1 << 6
	apROPriv  = 2 << 6

	// VA 0x80_4060_1abc indexes L0[1], L1[1], L2[3], L3[1].
	testVA = uint64(0x80_4060_1abc)
)

// buildWalk installs the four-level 4K-granule tables for testVA and
// returns the address of the L3 entry.
func buildWalk(mem *physmem.Memory) uint64 {
	Expect(mem.Store64(0x10008, 0x11000|descTable, false)).To(Succeed())
	Expect(mem.Store64(0x11008, 0x12000|descTable, false)).To(Succeed())
	Expect(mem.Store64(0x12018, 0x13000|descTable, false)).To(Succeed())
	Expect(mem.Store64(0x13008, 0x500000|descAF|apRWAll|descPage, false)).To(Succeed())
	return 0x13008
}

var _ = Describe("Long descriptors", func() {
	var (
		mem *physmem.Memory
		src *fakeSource
		w   *mmu.Walker
	)

	BeforeEach(func() {
		mem = newMemory()
		src = &fakeSource{}
		w = mmu.NewWalker(mem, src)
	})

	Describe("AArch64 stage 1", func() {
		BeforeEach(func() {
			src.s1 = mmu.Controls{
				Features: features(arch.FeatureV8, arch.FeatureAArch64),
				AArch64:  true,
				SCTLR:    mmu.SCTLRM,
				TCR:      16 | 5<<32,
				TTBR0:    0x10000,
				MAIR:     0x04ff,
			}
		})

		DescribeTable("leaf descriptors",
			func(level int, expected, size uint64) {
				buildWalk(mem)
				switch level {
				case 1:
					Expect(mem.Store64(0x11008, 0x40000000|descAF|descValid, false)).To(Succeed())
				case 2:
					Expect(mem.Store64(0x12018, 0x600000|descAF|descValid, false)).To(Succeed())
				}

				res, err := w.Translate(testVA, mmu.AccessLoad, arch.MMUIdxE10_1)
				Expect(err).NotTo(HaveOccurred())
				Expect(res.PhysAddr).To(Equal(expected))
				Expect(res.PageSize).To(Equal(size))
			},
			Entry("1GB block at level 1", 1, uint64(0x40601abc), uint64(1<<30)),
			Entry("2MB block at level 2", 2, uint64(0x601abc), uint64(1<<21)),
			Entry("4KB page at level 3", 3, uint64(0x500abc), uint64(1<<12)),
		)

		It("should apply the two-range execute rules", func() {
			buildWalk(mem)

			res, err := w.Translate(testVA, mmu.AccessLoad, arch.MMUIdxE10_1)
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Prot).To(Equal(mmu.ProtRW))
			Expect(res.Attrs.Attrs).To(Equal(uint8(0xff)))
			Expect(res.Global).To(BeTrue())
			Expect(res.NS).To(BeTrue())

			res, err = w.Translate(testVA, mmu.AccessLoad, arch.MMUIdxE10_0)
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Prot).To(Equal(mmu.ProtRWX))
		})

		It("should use MAIR for the memory type", func() {
			l3 := buildWalk(mem)
			Expect(mem.Store64(l3, 0x500000|descAF|apRWAll|1<<2|descPage, false)).To(Succeed())

			res, err := w.Translate(testVA, mmu.AccessLoad, arch.MMUIdxE10_0)
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Attrs.Attrs).To(Equal(uint8(0x04)))
			Expect(res.Attrs.IsDevice()).To(BeTrue())
			Expect(res.Attrs.Shareability).To(Equal(mmu.ShareOuter))
		})

		It("should fault when the level 1 entry is invalid", func() {
			buildWalk(mem)
			Expect(mem.Store64(0x11008, 0, false)).To(Succeed())

			_, err := w.Translate(testVA, mmu.AccessLoad, arch.MMUIdxE10_1)
			fi := faultOf(err)
			Expect(fi.Type).To(Equal(mmu.FaultTranslation))
			Expect(fi.Level).To(Equal(1))
			Expect(fi.Addr).To(Equal(testVA))
			Expect(fi.LongFSC()).To(Equal(uint32(0x05)))
		})

		It("should reject blocks at level 0", func() {
			buildWalk(mem)
			Expect(mem.Store64(0x10008, descAF|descValid, false)).To(Succeed())

			_, err := w.Translate(testVA, mmu.AccessLoad, arch.MMUIdxE10_1)
			fi := faultOf(err)
			Expect(fi.Type).To(Equal(mmu.FaultTranslation))
			Expect(fi.Level).To(Equal(0))
		})

		It("should report the access flag before permission", func() {
			l3 := buildWalk(mem)
			Expect(mem.Store64(l3, 0x500000|3<<6|descPage, false)).To(Succeed())

			_, err := w.Translate(testVA, mmu.AccessStore, arch.MMUIdxE10_1)
			fi := faultOf(err)
			Expect(fi.Type).To(Equal(mmu.FaultAccessFlag))
			Expect(fi.Level).To(Equal(3))
		})

		It("should deny stores to read-only pages", func() {
			l3 := buildWalk(mem)
			Expect(mem.Store64(l3, 0x500000|descAF|apROPriv|descPage, false)).To(Succeed())

			_, err := w.Translate(testVA, mmu.AccessStore, arch.MMUIdxE10_1)
			fi := faultOf(err)
			Expect(fi.Type).To(Equal(mmu.FaultPermission))
			Expect(fi.Access).To(Equal(mmu.AccessStore))
			Expect(fi.LongFSC()).To(Equal(uint32(0x0f)))
		})

		It("should inherit APTable restrictions", func() {
			buildWalk(mem)
			Expect(mem.Store64(0x10008, 0x11000|1<<62|descTable, false)).To(Succeed())

			_, err := w.Translate(testVA, mmu.AccessLoad, arch.MMUIdxE10_1)
			Expect(err).NotTo(HaveOccurred())

			_, err = w.Translate(testVA, mmu.AccessStore, arch.MMUIdxE10_1)
			Expect(faultOf(err).Type).To(Equal(mmu.FaultPermission))
		})

		It("should deny privileged access to user pages under PAN", func() {
			buildWalk(mem)

			_, err := w.Translate(testVA, mmu.AccessLoad, arch.MMUIdxE10_1PAN)
			Expect(faultOf(err).Type).To(Equal(mmu.FaultPermission))
		})

		It("should report non-global pages", func() {
			l3 := buildWalk(mem)
			Expect(mem.Store64(l3, 0x500000|descAF|1<<11|descPage, false)).To(Succeed())

			res, err := w.Translate(testVA, mmu.AccessLoad, arch.MMUIdxE10_1)
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Global).To(BeFalse())
		})

		It("should reject addresses outside the input range", func() {
			_, err := w.Translate(1<<48, mmu.AccessLoad, arch.MMUIdxE10_1)
			fi := faultOf(err)
			Expect(fi.Type).To(Equal(mmu.FaultAddressSize))
			Expect(fi.Level).To(Equal(0))
		})

		It("should ignore the top byte when TBI is set", func() {
			buildWalk(mem)
			src.s1.TCR |= 1 << 37

			res, err := w.Translate(0x5a00_0000_0000_0000|testVA, mmu.AccessLoad,
				arch.MMUIdxE10_1)
			Expect(err).NotTo(HaveOccurred())
			Expect(res.PhysAddr).To(Equal(uint64(0x500abc)))
		})

		It("should report a translation fault when the walk is disabled", func() {
			src.s1.TCR |= 1 << 7

			_, err := w.Translate(testVA, mmu.AccessLoad, arch.MMUIdxE10_1)
			fi := faultOf(err)
			Expect(fi.Type).To(Equal(mmu.FaultTranslation))
			Expect(fi.Level).To(Equal(0))
		})

		It("should report external aborts on the walk", func() {
			mem.AddAbortRegion(0x10000, 0x1000)

			_, err := w.Translate(testVA, mmu.AccessLoad, arch.MMUIdxE10_1)
			fi := faultOf(err)
			Expect(fi.Type).To(Equal(mmu.FaultSyncExternalOnWalk))
			Expect(fi.Level).To(Equal(0))
			Expect(fi.LongFSC()).To(Equal(uint32(0x14)))
		})

		It("should treat stage 1 as flat when HCR.DC is set", func() {
			src.s1.HCR = mmu.HCRDC

			res, err := w.Translate(0x1234, mmu.AccessLoad, arch.MMUIdxE10_1)
			Expect(err).NotTo(HaveOccurred())
			Expect(res.PhysAddr).To(Equal(uint64(0x1234)))
			Expect(res.Attrs.Attrs).To(Equal(uint8(0xff)))
		})
	})

	Describe("AArch32 LPAE stage 1", func() {
		BeforeEach(func() {
			src.s1 = mmu.Controls{
				Features: features(arch.FeatureV7, arch.FeatureLPAE),
				SCTLR:    mmu.SCTLRM,
				TCR:      mmu.TTBCREAE,
				TTBR0:    0x20000,
				MAIR:     0xff,
			}
		})

		It("should fault on an invalid level 1 entry", func() {
			_, err := w.Translate(0x40000000, mmu.AccessLoad, arch.MMUIdxE10_1)
			fi := faultOf(err)
			Expect(fi.Type).To(Equal(mmu.FaultTranslation))
			Expect(fi.Level).To(Equal(1))
			Expect(fi.LongFSR()).To(Equal(uint32(0x205)))
		})

		It("should report a translation fault between the TTBR0 and TTBR1 ranges", func() {
			src.s1.TCR = mmu.TTBCREAE | 2<<16 | 2
			src.s1.TTBR1 = 0x30000

			_, err := w.Translate(0x50000000, mmu.AccessLoad, arch.MMUIdxE10_1)
			fi := faultOf(err)
			Expect(fi.Type).To(Equal(mmu.FaultTranslation))
			Expect(fi.Level).To(Equal(1))
			Expect(fi.LongFSC()).To(Equal(uint32(0x05)))
		})

		It("should map a level 1 block", func() {
			Expect(mem.Store64(0x20000, 0x80000000|descAF|apRWAll|descValid, false)).To(Succeed())

			res, err := w.Translate(0x00123456, mmu.AccessFetch, arch.MMUIdxE10_1)
			Expect(err).NotTo(HaveOccurred())
			Expect(res.PhysAddr).To(Equal(uint64(0x80123456)))
			Expect(res.Prot).To(Equal(mmu.ProtRWX))
		})
	})

	Describe("two-stage translation", func() {
		BeforeEach(func() {
			buildWalk(mem)
			src.s1 = mmu.Controls{
				Features:      features(arch.FeatureV8, arch.FeatureAArch64, arch.FeatureEL2),
				AArch64:       true,
				SCTLR:         mmu.SCTLRM,
				TCR:           16 | 5<<32,
				TTBR0:         0x10000,
				MAIR:          0x04ff,
				Stage2Enabled: true,
			}
			src.s2 = mmu.Controls{
				Features: src.s1.Features,
				AArch64:  true,
				TCR:      24 | 1<<6 | 2<<16,
				TTBR0:    0x20000,
			}
		})

		s2Block := func(attrs uint64) {
			Expect(mem.Store64(0x20000, attrs|descAF|descValid, false)).To(Succeed())
		}

		It("should combine both stages", func() {
			s2Block(3<<6 | 0xf<<2)

			res, err := w.Translate(testVA, mmu.AccessLoad, arch.MMUIdxE10_1)
			Expect(err).NotTo(HaveOccurred())
			Expect(res.PhysAddr).To(Equal(uint64(0x500abc)))
			Expect(res.Prot).To(Equal(mmu.ProtRW))
			Expect(res.PageSize).To(Equal(uint64(4096)))
			Expect(res.Attrs.Attrs).To(Equal(uint8(0xff)))
		})

		It("should let stage 2 device memory dominate", func() {
			s2Block(3<<6 | 1<<2)

			res, err := w.Translate(testVA, mmu.AccessLoad, arch.MMUIdxE10_1)
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Attrs.Attrs).To(Equal(uint8(0x04)))
			Expect(res.Attrs.Shareability).To(Equal(mmu.ShareOuter))
		})

		It("should report stage 2 faults on the stage 1 walk", func() {
			_, err := w.Translate(testVA, mmu.AccessLoad, arch.MMUIdxE10_1)
			fi := faultOf(err)
			Expect(fi.Type).To(Equal(mmu.FaultTranslation))
			Expect(fi.Level).To(Equal(1))
			Expect(fi.Stage2).To(BeTrue())
			Expect(fi.S1PTW).To(BeTrue())
			Expect(fi.IPA).To(Equal(uint64(0x10008)))
		})

		It("should report stage 2 permission faults on the final access", func() {
			s2Block(1<<6 | 0xf<<2)

			_, err := w.Translate(testVA, mmu.AccessStore, arch.MMUIdxE10_1)
			fi := faultOf(err)
			Expect(fi.Type).To(Equal(mmu.FaultPermission))
			Expect(fi.Stage2).To(BeTrue())
			Expect(fi.S1PTW).To(BeFalse())
			Expect(fi.IPA).To(Equal(uint64(0x500abc)))
			Expect(fi.Addr).To(Equal(testVA))
		})

		It("should fault walks through device memory when HCR.PTW is set", func() {
			s2Block(3<<6 | 1<<2)
			src.s1.HCR = mmu.HCRPTW

			_, err := w.Translate(testVA, mmu.AccessLoad, arch.MMUIdxE10_1)
			fi := faultOf(err)
			Expect(fi.Type).To(Equal(mmu.FaultPermission))
			Expect(fi.Stage2).To(BeTrue())
			Expect(fi.S1PTW).To(BeTrue())
		})

		It("should skip stage 2 for secure regimes", func() {
			res, err := w.Translate(testVA, mmu.AccessLoad, arch.MMUIdxSE10_1)
			Expect(err).NotTo(HaveOccurred())
			Expect(res.PhysAddr).To(Equal(uint64(0x500abc)))
		})

		It("should reject an invalid stage 2 start level", func() {
			src.s2.TCR = 24 | 3<<6 | 2<<16

			_, err := w.Translate(0x1000, mmu.AccessLoad, arch.MMUIdxStage2)
			fi := faultOf(err)
			Expect(fi.Type).To(Equal(mmu.FaultTranslation))
			Expect(fi.Level).To(Equal(0))
			Expect(fi.Stage2).To(BeTrue())
		})

		It("should translate IPAs directly", func() {
			s2Block(3<<6 | 0xf<<2)

			res, err := w.Translate(0x3000_1234, mmu.AccessFetch, arch.MMUIdxStage2)
			Expect(err).NotTo(HaveOccurred())
			Expect(res.PhysAddr).To(Equal(uint64(0x3000_1234)))
			Expect(res.Prot).To(Equal(mmu.ProtRWX))
		})
	})
})
