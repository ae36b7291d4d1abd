package emu_test

import (
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/armsys/config"
	"github.com/sarchlab/armsys/emu"
	"github.com/sarchlab/armsys/sysreg"
)

// AArch64 encodings of the PMU registers, as {op1, CRn, CRm, op2}.
var (
	pmcr       = [4]uint8{3, 9, 12, 0}
	pmcntenset = [4]uint8{3, 9, 12, 1}
	pmovsclr   = [4]uint8{3, 9, 12, 3}
	pmswinc    = [4]uint8{3, 9, 12, 4}
	pmselr     = [4]uint8{3, 9, 12, 5}
	pmccntr    = [4]uint8{3, 9, 13, 0}
	pmxevtyper = [4]uint8{3, 9, 13, 1}
	pmxevcntr  = [4]uint8{3, 9, 13, 2}
)

func msr(c *emu.Core, r [4]uint8, v uint64) {
	Expect(c.WriteSysReg(3, r[0], r[1], r[2], r[3], v)).To(Succeed())
}

func mrs(c *emu.Core, r [4]uint8) uint64 {
	v, err := c.ReadSysReg(3, r[0], r[1], r[2], r[3])
	Expect(err).NotTo(HaveOccurred())
	return v
}

var _ = Describe("PMU", func() {
	var c *emu.Core

	BeforeEach(func() {
		c = newCore(config.DefaultCoreConfig())
	})

	It("should list the implemented events", func() {
		m, err := emu.NewModel(config.DefaultCoreConfig())
		Expect(err).NotTo(HaveOccurred())
		Expect(m.Supports(emu.EventInstRetired)).To(BeTrue())
		Expect(m.Supports(emu.EventCPUCycles)).To(BeTrue())
		Expect(m.Supports(0x40)).To(BeFalse())

		noPMU, err := emu.NewModel(aarch32Config("v7"))
		Expect(err).NotTo(HaveOccurred())
		Expect(noPMU.Supports(emu.EventInstRetired)).To(BeFalse())
	})

	It("should report the counter count in PMCR", func() {
		Expect((mrs(c, pmcr) >> 11) & 0x1f).To(Equal(uint64(4)))
	})

	It("should count retired instructions and cycles", func() {
		msr(c, pmcr, 1)
		msr(c, pmcntenset, 1|1<<31)
		msr(c, pmselr, 0)
		msr(c, pmxevtyper, emu.EventInstRetired)

		c.Retire(5)

		Expect(c.EventCounter(0)).To(Equal(uint32(5)))
		Expect(mrs(c, pmxevcntr)).To(Equal(uint64(5)))
		Expect(mrs(c, pmccntr)).To(Equal(uint64(5)))
	})

	It("should not count while PMCR.E is clear", func() {
		msr(c, pmcntenset, 1|1<<31)
		msr(c, pmxevtyper, emu.EventInstRetired)

		c.Retire(5)

		Expect(c.EventCounter(0)).To(Equal(uint32(0)))
		Expect(mrs(c, pmccntr)).To(Equal(uint64(0)))
	})

	It("should reset the cycle counter through PMCR.C", func() {
		msr(c, pmcr, 1)
		msr(c, pmcntenset, 1<<31)
		c.Retire(3)
		Expect(mrs(c, pmccntr)).To(Equal(uint64(3)))

		msr(c, pmcr, 1|1<<2)

		Expect(mrs(c, pmccntr)).To(Equal(uint64(0)))
		Expect(mrs(c, pmcr) & (1 << 2)).To(BeZero())
	})

	It("should increment software counters through PMSWINC", func() {
		msr(c, pmcr, 1)
		msr(c, pmcntenset, 1<<1)
		msr(c, pmselr, 1)
		msr(c, pmxevtyper, emu.EventSWIncr)

		msr(c, pmswinc, 1<<1|1<<2)

		Expect(c.EventCounter(1)).To(Equal(uint32(1)))
		Expect(c.EventCounter(2)).To(Equal(uint32(0)))
	})

	It("should flag counter overflow", func() {
		msr(c, pmcr, 1)
		msr(c, pmcntenset, 1)
		msr(c, pmselr, 0)
		msr(c, pmxevtyper, emu.EventInstRetired)
		msr(c, pmxevcntr, 0xffffffff)

		c.Retire(2)

		Expect(c.EventCounter(0)).To(Equal(uint32(1)))
		Expect(mrs(c, pmovsclr)).To(Equal(uint64(1)))

		msr(c, pmovsclr, 1)
		Expect(mrs(c, pmovsclr)).To(BeZero())
	})

	It("should trap EL0 accesses unless PMUSERENR.EN is set", func() {
		debugWrite(c, "VBAR", 0x8000)
		dropTo(c, spsrEL0t, 0x5000)

		_, err := c.ReadSysReg(3, 3, 9, 12, 0)
		var trap *emu.AccessTrap
		Expect(errors.As(err, &trap)).To(BeTrue())
		Expect(trap.Result).To(Equal(sysreg.TrapEL1))
	})

	It("should allow EL0 accesses once PMUSERENR.EN is set", func() {
		debugWrite(c, "PMUSERENR", 1)
		dropTo(c, spsrEL0t, 0x5000)

		_, err := c.ReadSysReg(3, 3, 9, 12, 0)
		Expect(err).NotTo(HaveOccurred())
	})
})
