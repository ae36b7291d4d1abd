package emu_test

import (
	"bytes"
	"encoding/binary"
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/armsys/config"
	"github.com/sarchlab/armsys/emu"
)

func program(words ...uint32) []byte {
	b := make([]byte, 4*len(words))
	for i, w := range words {
		binary.LittleEndian.PutUint32(b[4*i:], w)
	}
	return b
}

func words64(vs ...uint64) []byte {
	b := make([]byte, 8*len(vs))
	for i, v := range vs {
		binary.LittleEndian.PutUint64(b[8*i:], v)
	}
	return b
}

var _ = Describe("Emulator", func() {
	var (
		cl     *emu.Cluster
		e      *emu.Emulator
		stdout *bytes.Buffer
		stderr *bytes.Buffer
	)

	build := func(opts ...emu.EmulatorOption) {
		cfg := config.DefaultCoreConfig()
		cfg.Semihosting = true

		stdout, stderr = &bytes.Buffer{}, &bytes.Buffer{}
		var err error
		cl, err = emu.NewCluster(cfg, emu.WithStdout(stdout), emu.WithStderr(stderr))
		Expect(err).NotTo(HaveOccurred())

		opts = append(opts, emu.WithEmulatorStderr(stderr))
		e = emu.NewEmulator(cl, opts...)
	}

	It("should run until the guest exits through semihosting", func() {
		build()
		Expect(e.LoadProgram(0x1000, 0x1000, program(
			0xd503201f, // NOP
			0xd5384245, // MRS X5, CurrentEL
			0xd45e0000, // HLT #0xf000
		))).To(Succeed())
		Expect(cl.Memory().Write(0x2000, words64(0x20026, 7))).To(Succeed())

		core := cl.Core(0)
		core.SetGPR(0, emu.SemihostExitExtended)
		core.SetGPR(1, 0x2000)

		Expect(e.Run()).To(Equal(int64(7)))
		Expect(core.GPR(5)).To(Equal(uint64(12)))
		Expect(e.InstructionCount()).To(Equal(uint64(3)))
		Expect(core.RegFile().PC).To(Equal(uint64(0x100c)))
	})

	It("should write strings to the console", func() {
		build()
		Expect(e.LoadProgram(0x1000, 0x1000, program(
			0xd45e0000, // HLT #0xf000
		))).To(Succeed())
		Expect(cl.Memory().Write(0x3000, []byte("hello\x00"))).To(Succeed())

		core := cl.Core(0)
		core.SetGPR(0, emu.SemihostWrite0)
		core.SetGPR(1, 0x3000)

		result := e.Step()
		Expect(result.Err).NotTo(HaveOccurred())
		Expect(result.Exited).To(BeFalse())
		Expect(stdout.String()).To(Equal("hello"))
		Expect(core.RegFile().PC).To(Equal(uint64(0x1004)))
	})

	It("should stop at the instruction limit", func() {
		build(emu.WithMaxInstructions(2))
		Expect(e.LoadProgram(0x1000, 0x1000, program(
			0xd503201f, 0xd503201f, 0xd503201f,
		))).To(Succeed())

		Expect(e.Run()).To(Equal(int64(-1)))
		Expect(e.InstructionCount()).To(Equal(uint64(2)))
		Expect(stderr.String()).To(ContainSubstring("max instructions reached"))
	})

	It("should report instructions it does not model", func() {
		build()
		Expect(e.LoadProgram(0x1000, 0x1000, program(
			0x9100a820, // ADD X0, X1, #42
		))).To(Succeed())

		result := e.Step()
		Expect(errors.Is(result.Err, emu.ErrNotSystem)).To(BeTrue())
	})

	It("should take a pending interrupt before fetching", func() {
		build()
		core := cl.Core(0)
		debugWrite(core, "VBAR_EL3", 0x8000)
		debugWrite(core, "SCR_EL3", 1<<1)
		Expect(e.LoadProgram(0x1000, 0x1000, program(
			0xd50342ff, // MSR DAIFClr, #2
			0xd503201f, // NOP
		))).To(Succeed())

		Expect(e.Step().Err).NotTo(HaveOccurred())
		core.SetInterruptLine(emu.LineIRQ, true)
		Expect(e.Step().Err).NotTo(HaveOccurred())

		Expect(core.RegFile().PC).To(Equal(uint64(0x8280)))
		Expect(debugRead(core, "ELR_EL3")).To(Equal(uint64(0x1004)))
	})
})
