package emu_test

import (
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/armsys/arch"
	"github.com/sarchlab/armsys/config"
	"github.com/sarchlab/armsys/emu"
	"github.com/sarchlab/armsys/sysreg"
)

var _ = Describe("Debug access", func() {
	var c *emu.Core

	BeforeEach(func() {
		c = newCore(config.DefaultCoreConfig())
	})

	It("should list the registers of the model", func() {
		byName := map[string]emu.RegisterInfo{}
		for _, r := range c.Registers() {
			if _, ok := byName[r.Name]; !ok || r.AArch64 {
				byName[r.Name] = r
			}
		}

		Expect(byName).To(HaveKey("SCTLR"))
		Expect(byName["SCTLR"].AArch64).To(BeTrue())
		Expect(byName).To(HaveKey("SCR"))
		Expect(byName["SCR"].AArch64).To(BeFalse())
		Expect(byName["TLBI_VMALLE1IS"].Raw).To(BeFalse())
		Expect(byName).NotTo(HaveKey("MPUIR"))
	})

	It("should read and write registers by name", func() {
		debugWrite(c, "TPIDR_EL1", 0x1234)
		Expect(debugRead(c, "TPIDR_EL1")).To(Equal(uint64(0x1234)))

		v, err := c.DebugReadKey(sysreg.Key64(3, 0, 13, 0, 4))
		Expect(err).NotTo(HaveOccurred())
		Expect(v).To(Equal(uint64(0x1234)))
	})

	It("should report unknown registers", func() {
		_, err := c.DebugRead("NOT_A_REGISTER")
		Expect(errors.Is(err, emu.ErrNotFound)).To(BeTrue())
		Expect(errors.Is(c.DebugWrite("NOT_A_REGISTER", 0), emu.ErrNotFound)).To(BeTrue())
	})

	It("should refuse writes to constant registers", func() {
		Expect(c.DebugWrite("PMCEID1_EL0", 1)).NotTo(Succeed())
	})

	It("should refuse reads of registers without a raw view", func() {
		_, err := c.DebugRead("TLBI_VMALLE1IS")
		Expect(err).To(HaveOccurred())
	})

	It("should not trap debugger accesses", func() {
		debugWrite(c, "VBAR", 0x8000)
		dropTo(c, spsrEL0t, 0x5000)

		Expect(debugRead(c, "SCR_EL3")).To(Equal(uint64(scrNonSecureAArch64)))
		Expect(c.CurrentEL()).To(Equal(arch.EL0))
	})

	It("should report translations in PAR", func() {
		dropTo(c, spsrEL1h, 0x4000)

		Expect(c.WriteSysReg(1, 0, 7, 8, 0, 0x12345678)).To(Succeed()) // AT S1E1R

		par := debugRead(c, "PAR")
		Expect(par & 1).To(BeZero())
		Expect(par & 0xfffffffff000).To(Equal(uint64(0x12345000)))
		Expect(par & (1 << 9)).NotTo(BeZero())
		Expect(par & (1 << 11)).NotTo(BeZero())
	})
})
