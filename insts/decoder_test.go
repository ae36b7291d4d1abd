package insts_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/armsys/insts"
)

var _ = Describe("Decoder", func() {
	var decoder *insts.Decoder

	BeforeEach(func() {
		decoder = insts.NewDecoder()
	})

	Describe("A64 system register moves", func() {
		// MRS X0, SCTLR_EL1 -> 0xd5381000
		It("should decode MRS X0, SCTLR_EL1", func() {
			inst := decoder.Decode(0xd5381000)

			Expect(inst.Op).To(Equal(insts.OpMRS))
			Expect(inst.Format).To(Equal(insts.FormatSysReg))
			Expect(inst.IsRead).To(BeTrue())
			Expect(inst.Op0).To(Equal(uint8(3)))
			Expect(inst.Op1).To(Equal(uint8(0)))
			Expect(inst.CRn).To(Equal(uint8(1)))
			Expect(inst.CRm).To(Equal(uint8(0)))
			Expect(inst.Op2).To(Equal(uint8(0)))
			Expect(inst.Rt).To(Equal(uint8(0)))
		})

		// MSR TTBR0_EL1, X1 -> 0xd5182001
		It("should decode MSR TTBR0_EL1, X1", func() {
			inst := decoder.Decode(0xd5182001)

			Expect(inst.Op).To(Equal(insts.OpMSR))
			Expect(inst.IsRead).To(BeFalse())
			Expect(inst.CRn).To(Equal(uint8(2)))
			Expect(inst.Rt).To(Equal(uint8(1)))
		})

		// MRS X2, CurrentEL -> 0xd5384242
		It("should decode MRS X2, CurrentEL", func() {
			inst := decoder.Decode(0xd5384242)

			Expect(inst.Op).To(Equal(insts.OpMRS))
			Expect(inst.CRn).To(Equal(uint8(4)))
			Expect(inst.CRm).To(Equal(uint8(2)))
			Expect(inst.Op2).To(Equal(uint8(2)))
			Expect(inst.Rt).To(Equal(uint8(2)))
		})

		// TLBI VMALLE1IS -> 0xd508831f
		It("should decode TLBI VMALLE1IS as SYS", func() {
			inst := decoder.Decode(0xd508831f)

			Expect(inst.Op).To(Equal(insts.OpSYS))
			Expect(inst.Op0).To(Equal(uint8(1)))
			Expect(inst.CRn).To(Equal(uint8(8)))
			Expect(inst.CRm).To(Equal(uint8(3)))
			Expect(inst.Rt).To(Equal(uint8(31)))
		})
	})

	Describe("A64 PSTATE and hints", func() {
		// MSR DAIFSet, #2 -> 0xd50342df
		It("should decode MSR DAIFSet, #2", func() {
			inst := decoder.Decode(0xd50342df)

			Expect(inst.Op).To(Equal(insts.OpMSRImm))
			Expect(inst.Format).To(Equal(insts.FormatPSTATE))
			Expect(inst.Op1<<3 | inst.Op2).To(Equal(uint8(insts.PSTATEDAIFSet)))
			Expect(inst.Imm).To(Equal(uint32(2)))
		})

		It("should decode NOP and WFI", func() {
			Expect(decoder.Decode(0xd503201f).Hint).To(Equal(insts.HintNOP))

			inst := decoder.Decode(0xd503207f)
			Expect(inst.Op).To(Equal(insts.OpHint))
			Expect(inst.Hint).To(Equal(insts.HintWFI))
		})

		It("should decode ISB as a barrier", func() {
			Expect(decoder.Decode(0xd5033fdf).Op).To(Equal(insts.OpBarrier))
		})

		It("should decode ERET", func() {
			inst := decoder.Decode(0xd69f03e0)

			Expect(inst.Op).To(Equal(insts.OpERET))
			Expect(inst.Format).To(Equal(insts.FormatReturn))
		})
	})

	Describe("A64 exception generation", func() {
		DescribeTable("should decode",
			func(word uint32, op insts.Op, imm uint32) {
				inst := decoder.Decode(word)

				Expect(inst.Op).To(Equal(op))
				Expect(inst.Format).To(Equal(insts.FormatException))
				Expect(inst.Imm).To(Equal(imm))
				Expect(inst.Size).To(Equal(uint8(4)))
			},
			Entry("SVC #0", uint32(0xd4000001), insts.OpSVC, uint32(0)),
			Entry("HVC #0x10", uint32(0xd4000202), insts.OpHVC, uint32(0x10)),
			Entry("SMC #0", uint32(0xd4000003), insts.OpSMC, uint32(0)),
			Entry("BRK #1", uint32(0xd4200020), insts.OpBRK, uint32(1)),
			Entry("HLT #0xf000", uint32(0xd45e0000), insts.OpHLT, uint32(0xf000)),
		)

		It("should leave data processing instructions unknown", func() {
			// ADD X0, X1, #42
			inst := decoder.Decode(0x9100a820)

			Expect(inst.Op).To(Equal(insts.OpUnknown))
			Expect(inst.Format).To(Equal(insts.FormatUnknown))
		})
	})

	Describe("A32 coprocessor transfers", func() {
		// MRC p15, 0, r0, c1, c0, 0 -> 0xee110f10
		It("should decode MRC p15, 0, r0, c1, c0, 0", func() {
			inst := decoder.DecodeA32(0xee110f10)

			Expect(inst.Op).To(Equal(insts.OpMRC))
			Expect(inst.Format).To(Equal(insts.FormatCoproc))
			Expect(inst.ISA).To(Equal(insts.ISAA32))
			Expect(inst.Cond).To(Equal(insts.CondAL))
			Expect(inst.CP).To(Equal(uint8(15)))
			Expect(inst.CRn).To(Equal(uint8(1)))
			Expect(inst.CRm).To(Equal(uint8(0)))
			Expect(inst.Op1).To(Equal(uint8(0)))
			Expect(inst.Op2).To(Equal(uint8(0)))
			Expect(inst.Rt).To(Equal(uint8(0)))
			Expect(inst.IsRead).To(BeTrue())
		})

		// MCR p15, 0, r1, c2, c0, 0 -> 0xee021f10
		It("should decode MCR p15, 0, r1, c2, c0, 0", func() {
			inst := decoder.DecodeA32(0xee021f10)

			Expect(inst.Op).To(Equal(insts.OpMCR))
			Expect(inst.CRn).To(Equal(uint8(2)))
			Expect(inst.Rt).To(Equal(uint8(1)))
			Expect(inst.IsRead).To(BeFalse())
		})

		// MCRR p15, 0, r2, r3, c2 -> 0xec432f02
		It("should decode MCRR and MRRC", func() {
			inst := decoder.DecodeA32(0xec432f02)

			Expect(inst.Op).To(Equal(insts.OpMCRR))
			Expect(inst.Rt).To(Equal(uint8(2)))
			Expect(inst.Rt2).To(Equal(uint8(3)))
			Expect(inst.CRm).To(Equal(uint8(2)))
			Expect(inst.Op1).To(Equal(uint8(0)))

			Expect(decoder.DecodeA32(0xec532f02).Op).To(Equal(insts.OpMRRC))
		})

		It("should keep the condition of a conditional MRC", func() {
			inst := decoder.DecodeA32(0x1e110f10)

			Expect(inst.Op).To(Equal(insts.OpMRC))
			Expect(inst.Cond).To(Equal(insts.CondNE))
		})

		It("should not decode floating-point coprocessors", func() {
			// VMRS r0, FPSCR
			Expect(decoder.DecodeA32(0xeef10a10).Op).To(Equal(insts.OpUnknown))
		})
	})

	Describe("A32 exception generation", func() {
		DescribeTable("should decode",
			func(word uint32, op insts.Op, imm uint32) {
				inst := decoder.DecodeA32(word)

				Expect(inst.Op).To(Equal(op))
				Expect(inst.Imm).To(Equal(imm))
			},
			Entry("SVC #0x123456", uint32(0xef123456), insts.OpSVC, uint32(0x123456)),
			Entry("HVC #0", uint32(0xe1400070), insts.OpHVC, uint32(0)),
			Entry("SMC #0", uint32(0xe1600070), insts.OpSMC, uint32(0)),
			Entry("BKPT #0x12", uint32(0xe1200172), insts.OpBKPT, uint32(0x12)),
			Entry("HLT #0xf000", uint32(0xe10f0070), insts.OpHLT, uint32(0xf000)),
			Entry("UDF #0", uint32(0xe7f000f0), insts.OpUDF, uint32(0)),
		)
	})

	Describe("A32 status register and returns", func() {
		It("should decode MRS r0, CPSR and MRS r1, SPSR", func() {
			inst := decoder.DecodeA32(0xe10f0000)
			Expect(inst.Op).To(Equal(insts.OpMRSPSR))
			Expect(inst.SPSR).To(BeFalse())
			Expect(inst.Rt).To(Equal(uint8(0)))

			inst = decoder.DecodeA32(0xe14f1000)
			Expect(inst.Op).To(Equal(insts.OpMRSPSR))
			Expect(inst.SPSR).To(BeTrue())
			Expect(inst.Rt).To(Equal(uint8(1)))
		})

		It("should decode MSR with a register", func() {
			inst := decoder.DecodeA32(0xe16ff002)

			Expect(inst.Op).To(Equal(insts.OpMSRPSR))
			Expect(inst.SPSR).To(BeTrue())
			Expect(inst.Mask).To(Equal(uint8(0xf)))
			Expect(inst.Rt).To(Equal(uint8(2)))
			Expect(inst.ImmValue).To(BeFalse())
		})

		It("should decode MSR with a rotated immediate", func() {
			inst := decoder.DecodeA32(0xe321f0d3)
			Expect(inst.Op).To(Equal(insts.OpMSRPSR))
			Expect(inst.ImmValue).To(BeTrue())
			Expect(inst.Mask).To(Equal(uint8(1)))
			Expect(inst.Imm).To(Equal(uint32(0xd3)))

			inst = decoder.DecodeA32(0xe328f20f)
			Expect(inst.Mask).To(Equal(uint8(8)))
			Expect(inst.Imm).To(Equal(uint32(0xf0000000)))
		})

		It("should decode hints in the MSR immediate space", func() {
			inst := decoder.DecodeA32(0xe320f003)

			Expect(inst.Op).To(Equal(insts.OpHint))
			Expect(inst.Hint).To(Equal(insts.HintWFI))
		})

		It("should decode ERET and SUBS PC, LR", func() {
			Expect(decoder.DecodeA32(0xe160006e).Op).To(Equal(insts.OpERET))

			inst := decoder.DecodeA32(0xe25ef004)
			Expect(inst.Op).To(Equal(insts.OpSUBSPCLR))
			Expect(inst.Imm).To(Equal(uint32(4)))

			Expect(decoder.DecodeA32(0xe1b0f00e).Op).To(Equal(insts.OpSUBSPCLR))
		})

		It("should decode CPS", func() {
			// CPSID if
			inst := decoder.DecodeA32(0xf10c00c0)
			Expect(inst.Op).To(Equal(insts.OpCPS))
			Expect(inst.IMod).To(Equal(uint8(0b11)))
			Expect(inst.AIF).To(Equal(uint8(0b011)))
			Expect(inst.ChangeMode).To(BeFalse())

			// CPS #0x13
			inst = decoder.DecodeA32(0xf1020013)
			Expect(inst.Op).To(Equal(insts.OpCPS))
			Expect(inst.ChangeMode).To(BeTrue())
			Expect(inst.Mode).To(Equal(uint8(0x13)))
		})
	})

	Describe("Thumb", func() {
		DescribeTable("should decode 16-bit encodings",
			func(hw uint32, op insts.Op, imm uint32) {
				inst := decoder.DecodeThumb(hw)

				Expect(inst.Op).To(Equal(op))
				Expect(inst.Imm).To(Equal(imm))
				Expect(inst.Size).To(Equal(uint8(2)))
				Expect(inst.ISA).To(Equal(insts.ISAT32))
			},
			Entry("SVC #0xab", uint32(0xdfab), insts.OpSVC, uint32(0xab)),
			Entry("BKPT #0xab", uint32(0xbeab), insts.OpBKPT, uint32(0xab)),
			Entry("HLT #0x3c", uint32(0xbabc), insts.OpHLT, uint32(0x3c)),
			Entry("UDF #1", uint32(0xde01), insts.OpUDF, uint32(1)),
		)

		It("should decode CPSID i and WFI", func() {
			inst := decoder.DecodeThumb(0xb672)
			Expect(inst.Op).To(Equal(insts.OpCPS))
			Expect(inst.IMod).To(Equal(uint8(0b11)))
			Expect(inst.AIF).To(Equal(uint8(0b010)))

			inst = decoder.DecodeThumb(0xbf30)
			Expect(inst.Op).To(Equal(insts.OpHint))
			Expect(inst.Hint).To(Equal(insts.HintWFI))
		})

		It("should decode 32-bit coprocessor transfers", func() {
			inst := decoder.DecodeThumb(0xee110f10)

			Expect(inst.Op).To(Equal(insts.OpMRC))
			Expect(inst.Size).To(Equal(uint8(4)))
			Expect(inst.CRn).To(Equal(uint8(1)))
		})

		It("should decode ERET, SUBS PC, LR and HVC", func() {
			Expect(decoder.DecodeThumb(0xf3de8f00).Op).To(Equal(insts.OpERET))

			inst := decoder.DecodeThumb(0xf3de8f04)
			Expect(inst.Op).To(Equal(insts.OpSUBSPCLR))
			Expect(inst.Imm).To(Equal(uint32(4)))

			inst = decoder.DecodeThumb(0xf7e18234)
			Expect(inst.Op).To(Equal(insts.OpHVC))
			Expect(inst.Imm).To(Equal(uint32(0x1234)))
		})

		It("should decode MRS and MSR", func() {
			inst := decoder.DecodeThumb(0xf3ff8300)
			Expect(inst.Op).To(Equal(insts.OpMRSPSR))
			Expect(inst.SPSR).To(BeTrue())
			Expect(inst.Rt).To(Equal(uint8(3)))

			inst = decoder.DecodeThumb(0xf3848100)
			Expect(inst.Op).To(Equal(insts.OpMSRPSR))
			Expect(inst.SPSR).To(BeFalse())
			Expect(inst.Rt).To(Equal(uint8(4)))
			Expect(inst.Mask).To(Equal(uint8(1)))
		})
	})
})
