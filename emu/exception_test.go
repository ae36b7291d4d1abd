package emu_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/armsys/arch"
	"github.com/sarchlab/armsys/config"
	"github.com/sarchlab/armsys/emu"
	"github.com/sarchlab/armsys/mmu"
)

var _ = Describe("Exception routing", func() {
	DescribeTable("physical interrupt targets",
		func(r emu.Routing, expected arch.EL) {
			el, ok := r.Target()
			Expect(ok).To(BeTrue())
			Expect(el).To(Equal(expected))
		},
		Entry("stays at EL1 without routing bits",
			emu.Routing{EL3AArch64: true, RW: true, Current: arch.EL1}, arch.EL1),
		Entry("goes to EL2 under HCR routing",
			emu.Routing{EL3AArch64: true, RW: true, HCR: true, Current: arch.EL0}, arch.EL2),
		Entry("goes to EL3 under SCR routing",
			emu.Routing{EL3AArch64: true, SCR: true, RW: true, Current: arch.EL1}, arch.EL3),
		Entry("goes to Monitor mode from AArch32 secure state",
			emu.Routing{SCR: true, Secure: true, Current: arch.EL0}, arch.EL3),
		Entry("stays in EL2 with an AArch32 EL2",
			emu.Routing{EL3AArch64: true, HCR: true, Current: arch.EL2}, arch.EL2),
	)

	It("should reject states that cannot occur", func() {
		_, ok := emu.Routing{Current: arch.EL3}.Target()
		Expect(ok).To(BeFalse())
	})
})

var _ = Describe("AArch64 exception entry", func() {
	var c *emu.Core

	BeforeEach(func() {
		c = newCore(config.DefaultCoreConfig())
		debugWrite(c, "VBAR", 0x8000)
		debugWrite(c, "VBAR_EL2", 0x10000)
		debugWrite(c, "VBAR_EL3", 0x20000)
		dropTo(c, spsrEL1h, 0x4000)
	})

	It("should take SVC to the current level with the next PC", func() {
		exec(c, 0xd4000021) // SVC #1

		Expect(c.CurrentEL()).To(Equal(arch.EL1))
		Expect(c.RegFile().PC).To(Equal(uint64(0x8200)))
		Expect(debugRead(c, "ELR_EL1")).To(Equal(uint64(0x4004)))
		Expect(debugRead(c, "ESR_EL1")).To(Equal(uint64(0x56000001)))
		Expect(debugRead(c, "SPSR_EL1")).To(Equal(uint64(spsrEL1h)))
	})

	It("should take HVC to EL2", func() {
		exec(c, 0xd4024682) // HVC #0x1234

		Expect(c.CurrentEL()).To(Equal(arch.EL2))
		Expect(c.RegFile().PC).To(Equal(uint64(0x10400)))
		Expect(debugRead(c, "ELR_EL2")).To(Equal(uint64(0x4004)))
		Expect(debugRead(c, "ESR_EL2")).To(Equal(uint64(0x5a001234)))
	})

	It("should make HVC undefined while SCR_EL3.HCE is clear", func() {
		debugWrite(c, "SCR_EL3", scrNonSecureAArch64&^(1<<8))

		exec(c, 0xd4024682) // HVC #0x1234

		Expect(c.CurrentEL()).To(Equal(arch.EL1))
		Expect(debugRead(c, "ELR_EL1")).To(Equal(uint64(0x4000)))
		Expect(debugRead(c, "ESR_EL1")).To(Equal(uint64(0x02000000)))
	})

	It("should trap SMC to EL2 under HCR_EL2.TSC", func() {
		debugWrite(c, "HCR_EL2", hcrRW|1<<19)

		exec(c, 0xd4000003) // SMC #0

		Expect(c.CurrentEL()).To(Equal(arch.EL2))
		Expect(debugRead(c, "ELR_EL2")).To(Equal(uint64(0x4000)))
		Expect(debugRead(c, "ESR_EL2")).To(Equal(uint64(0x5e000000)))
	})

	It("should report a data abort in ESR_EL1 and FAR_EL1", func() {
		el := c.RaiseMMUFault(&mmu.FaultInfo{
			Type:   mmu.FaultTranslation,
			Level:  2,
			Addr:   0x7000,
			Access: mmu.AccessStore,
		})

		Expect(el).To(Equal(arch.EL1))
		Expect(debugRead(c, "ESR_EL1")).To(Equal(uint64(0x96000046)))
		Expect(debugRead(c, "FAR_EL1")).To(Equal(uint64(0x7000)))
		Expect(debugRead(c, "ELR_EL1")).To(Equal(uint64(0x4000)))
		Expect(c.RegFile().PC).To(Equal(uint64(0x8200)))
	})

	It("should take a stage-2 fault to EL2 and record the IPA", func() {
		el := c.RaiseMMUFault(&mmu.FaultInfo{
			Type:   mmu.FaultTranslation,
			Level:  1,
			Stage2: true,
			IPA:    0x45000,
			Addr:   0x9000,
			Access: mmu.AccessLoad,
		})

		Expect(el).To(Equal(arch.EL2))
		Expect(debugRead(c, "ESR_EL2")).To(Equal(uint64(0x92000005)))
		Expect(debugRead(c, "FAR_EL2")).To(Equal(uint64(0x9000)))
		Expect(debugRead(c, "HPFAR")).To(Equal(uint64(0x450)))
		Expect(c.RegFile().PC).To(Equal(uint64(0x10400)))
	})

	Describe("interrupts", func() {
		BeforeEach(func() {
			exec(c, 0xd50342ff) // MSR DAIFClr, #2
		})

		It("should take an unmasked IRQ to EL1", func() {
			c.SetInterruptLine(emu.LineIRQ, true)

			kind, ok := c.PendingInterrupt()
			Expect(ok).To(BeTrue())
			Expect(kind).To(Equal(emu.ExcIRQ))

			el, taken := c.TakePendingInterrupt()
			Expect(taken).To(BeTrue())
			Expect(el).To(Equal(arch.EL1))
			Expect(c.RegFile().PC).To(Equal(uint64(0x8280)))
			Expect(debugRead(c, "ELR_EL1")).To(Equal(uint64(0x4004)))
			Expect(c.RegFile().PSTATE.I).To(BeTrue())
		})

		It("should route an IRQ to EL3 under SCR_EL3.IRQ", func() {
			debugWrite(c, "SCR_EL3", scrNonSecureAArch64|1<<1)
			c.SetInterruptLine(emu.LineIRQ, true)

			el, taken := c.TakePendingInterrupt()
			Expect(taken).To(BeTrue())
			Expect(el).To(Equal(arch.EL3))
			Expect(c.RegFile().PC).To(Equal(uint64(0x20480)))
		})

		It("should hold a masked IRQ", func() {
			exec(c, 0xd50342df) // MSR DAIFSet, #2
			c.SetInterruptLine(emu.LineIRQ, true)

			_, ok := c.PendingInterrupt()
			Expect(ok).To(BeFalse())
		})

		It("should take a virtual IRQ driven by HCR_EL2.VI", func() {
			debugWrite(c, "HCR_EL2", hcrRW|1<<4|1<<7)

			kind, ok := c.PendingInterrupt()
			Expect(ok).To(BeTrue())
			Expect(kind).To(Equal(emu.ExcVIRQ))

			el, _ := c.TakePendingInterrupt()
			Expect(el).To(Equal(arch.EL1))
			Expect(c.RegFile().PC).To(Equal(uint64(0x8280)))
		})
	})
})

var _ = Describe("AArch32 exception entry", func() {
	var c *emu.Core

	BeforeEach(func() {
		c = newCore(aarch32Config("v7"))
		debugWrite(c, "VBAR", 0x8000)
		c.CPSRWrite(uint32(arch.ModeUSR), 0x1f, emu.CPSRWriteByInstr)
		c.RegFile().PC = 0x1000
	})

	It("should start in Supervisor mode at EL1", func() {
		c := newCore(aarch32Config("v7"))
		Expect(c.RegFile().PSTATE.Mode).To(Equal(arch.ModeSVC))
		Expect(c.CurrentEL()).To(Equal(arch.EL1))
		Expect(c.Context().AArch64).To(BeFalse())
	})

	It("should bank r13 across SVC and return", func() {
		regs := c.RegFile()
		regs.R[13] = 0x111

		execA32(c, 0xef000001) // SVC #1

		Expect(regs.PSTATE.Mode).To(Equal(arch.ModeSVC))
		Expect(regs.PC).To(Equal(uint64(0x8008)))
		Expect(regs.R[14]).To(Equal(uint32(0x1004)))
		Expect(regs.SPSR & 0x1f).To(Equal(uint32(arch.ModeUSR)))
		Expect(regs.R[13]).NotTo(Equal(uint32(0x111)))

		execA32(c, 0xe25ef000) // SUBS PC, LR, #0

		Expect(regs.PSTATE.Mode).To(Equal(arch.ModeUSR))
		Expect(regs.PC).To(Equal(uint64(0x1004)))
		Expect(regs.R[13]).To(Equal(uint32(0x111)))
	})

	It("should enter Undefined mode for UDF", func() {
		execA32(c, 0xe7f000f0) // UDF #0

		regs := c.RegFile()
		Expect(regs.PSTATE.Mode).To(Equal(arch.ModeUND))
		Expect(regs.PC).To(Equal(uint64(0x8004)))
		Expect(regs.R[14]).To(Equal(uint32(0x1004)))
	})

	It("should report a data abort in DFSR and DFAR", func() {
		c.RaiseMMUFault(&mmu.FaultInfo{
			Type:   mmu.FaultTranslation,
			Level:  2,
			Addr:   0x7000,
			Access: mmu.AccessStore,
		})

		regs := c.RegFile()
		Expect(regs.PSTATE.Mode).To(Equal(arch.ModeABT))
		Expect(regs.PC).To(Equal(uint64(0x8010)))
		Expect(regs.R[14]).To(Equal(uint32(0x1008)))
		Expect(debugRead(c, "DFSR")).To(Equal(uint64(0x807)))
		Expect(debugRead(c, "DFAR")).To(Equal(uint64(0x7000)))
	})

	It("should skip an instruction whose condition fails", func() {
		execA32(c, 0x0f000001) // SVCEQ #1

		Expect(c.RegFile().PSTATE.Mode).To(Equal(arch.ModeUSR))
		Expect(c.RegFile().PC).To(Equal(uint64(0x1004)))
	})
})

var _ = Describe("Execution state changes", func() {
	It("should run AArch32 EL0 under an AArch64 EL1", func() {
		c := newCore(config.DefaultCoreConfig())
		debugWrite(c, "VBAR", 0x8000)
		dropTo(c, spsrEL1h, 0x4000)

		c.SetGPR(0, 5)
		c.SetGPR(13, 0x1234)
		debugWrite(c, "SPSR_EL1", uint64(arch.ModeUSR))
		debugWrite(c, "ELR_EL1", 0x7000)
		c.ExceptionReturn()

		regs := c.RegFile()
		Expect(c.Context().AArch64).To(BeFalse())
		Expect(c.CurrentEL()).To(Equal(arch.EL0))
		Expect(regs.PC).To(Equal(uint64(0x7000)))
		Expect(regs.R[0]).To(Equal(uint32(5)))
		Expect(regs.R[13]).To(Equal(uint32(0x1234)))

		regs.R[13] = 0x4321
		execA32(c, 0xef000000) // SVC #0

		Expect(c.Context().AArch64).To(BeTrue())
		Expect(c.CurrentEL()).To(Equal(arch.EL1))
		Expect(regs.PC).To(Equal(uint64(0x8600)))
		Expect(c.GPR(13)).To(Equal(uint64(0x4321)))
		Expect(debugRead(c, "ESR_EL1")).To(Equal(uint64(0x46000000)))
		Expect(debugRead(c, "ELR_EL1")).To(Equal(uint64(0x7004)))
		Expect(debugRead(c, "SPSR_EL1")).To(Equal(uint64(arch.ModeUSR)))
	})
})
