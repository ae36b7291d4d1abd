package emu_test

import (
	"io"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/armsys/emu"
)

var _ = Describe("FDTable", func() {
	var (
		table *emu.FDTable
		path  string
	)

	BeforeEach(func() {
		table = emu.NewFDTable()
		path = filepath.Join(GinkgoT().TempDir(), "guest.txt")
		Expect(os.WriteFile(path, []byte("guest data"), 0o644)).To(Succeed())
	})

	AfterEach(func() {
		table.CloseAll()
	})

	It("should hand out handles after the console streams", func() {
		fd, err := table.Open(path, 0) // "r"
		Expect(err).NotTo(HaveOccurred())
		Expect(fd).To(Equal(uint64(3)))

		fd2, err := table.Open(path, 1) // "rb"
		Expect(err).NotTo(HaveOccurred())
		Expect(fd2).To(Equal(uint64(4)))
	})

	It("should read the host file through its handle", func() {
		fd, err := table.Open(path, 0)
		Expect(err).NotTo(HaveOccurred())

		f, ok := table.Get(fd)
		Expect(ok).To(BeTrue())
		data, err := io.ReadAll(f)
		Expect(err).NotTo(HaveOccurred())
		Expect(string(data)).To(Equal("guest data"))
	})

	It("should truncate files opened for writing", func() {
		fd, err := table.Open(path, 4) // "w"
		Expect(err).NotTo(HaveOccurred())
		Expect(table.Close(fd)).To(Succeed())

		data, err := os.ReadFile(path)
		Expect(err).NotTo(HaveOccurred())
		Expect(data).To(BeEmpty())
	})

	It("should forget closed handles", func() {
		fd, err := table.Open(path, 0)
		Expect(err).NotTo(HaveOccurred())
		Expect(table.Close(fd)).To(Succeed())

		_, ok := table.Get(fd)
		Expect(ok).To(BeFalse())
		Expect(table.Close(fd)).NotTo(Succeed())
	})

	It("should reject bad modes and missing files", func() {
		_, err := table.Open(path, 12)
		Expect(err).To(MatchError(os.ErrInvalid))

		_, err = table.Open(filepath.Join(filepath.Dir(path), "missing"), 0)
		Expect(os.IsNotExist(err)).To(BeTrue())
	})
})
