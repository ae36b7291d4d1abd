package emu_test

import (
	"bytes"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/armsys/config"
	"github.com/sarchlab/armsys/emu"
)

const hltSemihost = 0xd45e0000 // HLT #0xf000

var _ = Describe("Semihosting", func() {
	var (
		c      *emu.Core
		stdout *bytes.Buffer
	)

	newSemihostingCore := func(cfg *config.CoreConfig) *emu.Core {
		cfg.Semihosting = true
		m, err := emu.NewModel(cfg)
		Expect(err).NotTo(HaveOccurred())
		stdout = &bytes.Buffer{}
		return emu.NewCore(m, emu.WithStdout(stdout))
	}

	// call runs semihosting operation op with a parameter block at 0x2000.
	call := func(op uint64, block ...uint64) uint64 {
		if len(block) > 0 {
			Expect(c.WriteVirtual(0x2000, words64(block...))).To(Succeed())
		}
		c.SetGPR(0, op)
		c.SetGPR(1, 0x2000)
		exec(c, hltSemihost)
		return c.GPR(0)
	}

	BeforeEach(func() {
		c = newSemihostingCore(config.DefaultCoreConfig())
	})

	It("should step over the HLT", func() {
		c.RegFile().PC = 0x1000
		call(emu.SemihostTime)
		Expect(c.RegFile().PC).To(Equal(uint64(0x1004)))
	})

	It("should map :tt to the console handles", func() {
		Expect(c.WriteVirtual(0x3000, []byte(":tt"))).To(Succeed())
		Expect(call(emu.SemihostOpen, 0x3000, 4, 3)).To(Equal(uint64(1)))
		Expect(call(emu.SemihostIsTTY, 1)).To(Equal(uint64(1)))
	})

	It("should write to the console", func() {
		Expect(c.WriteVirtual(0x4000, []byte("abc"))).To(Succeed())
		Expect(call(emu.SemihostWrite, 1, 0x4000, 3)).To(Equal(uint64(0)))
		Expect(stdout.String()).To(Equal("abc"))
	})

	It("should work with host files", func() {
		path := filepath.Join(GinkgoT().TempDir(), "out.bin")
		Expect(c.WriteVirtual(0x3000, []byte(path))).To(Succeed())
		Expect(c.WriteVirtual(0x4000, []byte("abc"))).To(Succeed())

		fd := call(emu.SemihostOpen, 0x3000, 6, uint64(len(path))) // "w+"
		Expect(fd).To(Equal(uint64(3)))

		Expect(call(emu.SemihostWrite, fd, 0x4000, 3)).To(Equal(uint64(0)))
		Expect(call(emu.SemihostFlen, fd)).To(Equal(uint64(3)))
		Expect(call(emu.SemihostSeek, fd, 0)).To(Equal(uint64(0)))
		Expect(call(emu.SemihostRead, fd, 0x5000, 3)).To(Equal(uint64(0)))
		Expect(call(emu.SemihostIsTTY, fd)).To(Equal(uint64(0)))
		Expect(call(emu.SemihostClose, fd)).To(Equal(uint64(0)))

		back, err := c.ReadVirtual(0x5000, 3)
		Expect(err).NotTo(HaveOccurred())
		Expect(string(back)).To(Equal("abc"))

		data, err := os.ReadFile(path)
		Expect(err).NotTo(HaveOccurred())
		Expect(string(data)).To(Equal("abc"))
	})

	It("should report errors through SYS_ERRNO", func() {
		Expect(call(emu.SemihostClose, 9)).To(Equal(^uint64(0)))
		Expect(call(emu.SemihostErrno)).To(Equal(uint64(emu.EBADF)))

		missing := filepath.Join(GinkgoT().TempDir(), "missing")
		Expect(c.WriteVirtual(0x3000, []byte(missing))).To(Succeed())
		Expect(call(emu.SemihostOpen, 0x3000, 0, uint64(len(missing)))).To(Equal(^uint64(0)))
		Expect(call(emu.SemihostErrno)).To(Equal(uint64(emu.ENOENT)))
	})

	It("should exit with a status", func() {
		call(emu.SemihostExit, 0x20026, 3)

		code, exited := c.Exited()
		Expect(exited).To(BeTrue())
		Expect(code).To(Equal(int64(3)))
	})

	It("should treat other exit reasons as failures", func() {
		call(emu.SemihostExitExtended, 0x20023, 0)

		code, exited := c.Exited()
		Expect(exited).To(BeTrue())
		Expect(code).To(Equal(int64(1)))
	})

	It("should accept SVC 0x123456 in A32", func() {
		c = newSemihostingCore(aarch32Config("v7"))
		c.RegFile().R[0] = uint32(emu.SemihostExit)
		c.RegFile().R[1] = 0x20026

		execA32(c, 0xef123456) // SVC #0x123456

		code, exited := c.Exited()
		Expect(exited).To(BeTrue())
		Expect(code).To(BeZero())
	})
})
