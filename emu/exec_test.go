package emu_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/armsys/arch"
	"github.com/sarchlab/armsys/config"
	"github.com/sarchlab/armsys/emu"
	"github.com/sarchlab/armsys/insts"
)

var _ = Describe("Execute", func() {
	var c *emu.Core

	BeforeEach(func() {
		c = newCore(config.DefaultCoreConfig())
		debugWrite(c, "VBAR", 0x8000)
		debugWrite(c, "VBAR_EL2", 0x10000)
		debugWrite(c, "VBAR_EL3", 0x20000)
		dropTo(c, spsrEL1h, 0x4000)
	})

	It("should clear and set the DAIF masks", func() {
		p := &c.RegFile().PSTATE

		exec(c, 0xd5034fff) // MSR DAIFClr, #0xf
		Expect([]bool{p.D, p.A, p.I, p.F}).To(Equal([]bool{false, false, false, false}))

		exec(c, 0xd50342df) // MSR DAIFSet, #2
		Expect([]bool{p.D, p.A, p.I, p.F}).To(Equal([]bool{false, false, true, false}))
		Expect(c.RegFile().PC).To(Equal(uint64(0x4008)))
	})

	It("should step over NOP and barriers", func() {
		exec(c, 0xd503201f) // NOP
		exec(c, 0xd5033f9f) // DSB SY
		Expect(c.RegFile().PC).To(Equal(uint64(0x4008)))
	})

	It("should complete WFI that is not trapped", func() {
		exec(c, 0xd503207f) // WFI
		Expect(c.CurrentEL()).To(Equal(arch.EL1))
		Expect(c.RegFile().PC).To(Equal(uint64(0x4004)))
	})

	It("should trap WFI to EL2 under HCR_EL2.TWI", func() {
		debugWrite(c, "HCR_EL2", hcrRW|1<<13)

		exec(c, 0xd503207f) // WFI

		Expect(c.CurrentEL()).To(Equal(arch.EL2))
		Expect(debugRead(c, "ESR_EL2")).To(Equal(uint64(0x06000000)))
		Expect(debugRead(c, "ELR_EL2")).To(Equal(uint64(0x4000)))
		Expect(c.RegFile().PC).To(Equal(uint64(0x10400)))
	})

	It("should trap WFE to EL3 under SCR_EL3.TWE", func() {
		debugWrite(c, "SCR_EL3", scrNonSecureAArch64|1<<13)

		exec(c, 0xd503205f) // WFE

		Expect(c.CurrentEL()).To(Equal(arch.EL3))
		Expect(debugRead(c, "ESR_EL3")).To(Equal(uint64(0x06000001)))
		Expect(c.RegFile().PC).To(Equal(uint64(0x20400)))
	})

	It("should trap WFE at EL0 when SCTLR_EL1.nTWE is clear", func() {
		debugWrite(c, "SCTLR", 0x00c50838&^(1<<18))
		debugWrite(c, "SPSR_EL1", spsrEL0t)
		debugWrite(c, "ELR_EL1", 0x5000)
		c.ExceptionReturn()
		Expect(c.CurrentEL()).To(Equal(arch.EL0))

		exec(c, 0xd503205f) // WFE

		Expect(c.CurrentEL()).To(Equal(arch.EL1))
		Expect(debugRead(c, "ESR_EL1")).To(Equal(uint64(0x06000001)))
		Expect(debugRead(c, "ELR_EL1")).To(Equal(uint64(0x5000)))
	})

	It("should reject instructions outside the system space", func() {
		inst := insts.NewDecoder().Decode(0x9100a820) // ADD X0, X1, #42

		Expect(c.Execute(inst)).To(MatchError(emu.ErrNotSystem))
		Expect(c.RegFile().PC).To(Equal(uint64(0x4000)))
	})

	It("should not model unallocated exception-generating encodings", func() {
		inst := insts.NewDecoder().Decode(0xd4000000)
		Expect(c.Execute(inst)).To(MatchError(emu.ErrNotSystem))
	})
})

var _ = Describe("Execute in AArch32", func() {
	var c *emu.Core

	BeforeEach(func() {
		c = newCore(aarch32Config("v7"))
		debugWrite(c, "VBAR", 0x8000)
		c.RegFile().PC = 0x1000
	})

	It("should read CPSR with MRS", func() {
		execA32(c, 0xe10f0000) // MRS r0, CPSR

		Expect(c.RegFile().R[0]).To(Equal(uint32(0x1d3)))
		Expect(c.RegFile().PC).To(Equal(uint64(0x1004)))
	})

	It("should move SPSR through MSR and MRS", func() {
		c.RegFile().R[1] = 0x80000010
		execA32(c, 0xe16ff001) // MSR SPSR_fsxc, r1
		execA32(c, 0xe14f2000) // MRS r2, SPSR

		Expect(c.RegFile().R[2]).To(Equal(uint32(0x80000010)))
		Expect(c.RegFile().SPSR).To(Equal(uint32(0x80000010)))
	})

	It("should make SPSR accesses undefined in User mode", func() {
		c.CPSRWrite(uint32(arch.ModeUSR), psrM, emu.CPSRWriteByInstr)

		execA32(c, 0xe14f2000) // MRS r2, SPSR

		Expect(c.RegFile().PSTATE.Mode).To(Equal(arch.ModeUND))
		Expect(c.RegFile().PC).To(Equal(uint64(0x8004)))
	})

	It("should step over WFI", func() {
		execA32(c, 0xe320f003) // WFI
		Expect(c.RegFile().PC).To(Equal(uint64(0x1004)))
	})

	It("should write system registers with MCR", func() {
		c.RegFile().R[3] = 0x12345000
		execA32(c, 0xee0d3f70) // MCR p15, 0, r3, c13, c0, 3

		Expect(debugRead(c, "TPIDRURO")).To(Equal(uint64(0x12345000)))
		Expect(c.RegFile().PC).To(Equal(uint64(0x1004)))
	})
})
