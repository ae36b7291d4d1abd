package emu

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"io/fs"
	"time"
)

// Semihosting operation numbers.
const (
	SemihostOpen         uint64 = 0x01
	SemihostClose        uint64 = 0x02
	SemihostWriteC       uint64 = 0x03
	SemihostWrite0       uint64 = 0x04
	SemihostWrite        uint64 = 0x05
	SemihostRead         uint64 = 0x06
	SemihostReadC        uint64 = 0x07
	SemihostIsTTY        uint64 = 0x09
	SemihostSeek         uint64 = 0x0a
	SemihostFlen         uint64 = 0x0c
	SemihostTime         uint64 = 0x11
	SemihostErrno        uint64 = 0x13
	SemihostExit         uint64 = 0x18
	SemihostExitExtended uint64 = 0x20
)

// adpStoppedApplicationExit is the EXIT reason of a normal termination.
const adpStoppedApplicationExit = 0x20026

// Host errno values reported through SYS_ERRNO.
const (
	ENOENT = 2
	EBADF  = 9
	EIO    = 5
	EFAULT = 14
	ENOSYS = 38
)

// Semihosting call immediates.
const (
	semihostHLT     = 0xf000
	semihostHLTT32  = 0x3c
	semihostSVCA32  = 0x123456
	semihostThumbAB = 0xab
)

// SemihostingResult represents the result of a semihosting call.
type SemihostingResult struct {
	// Exited is true if the call terminated the program.
	Exited bool

	// ExitCode is the exit status if Exited is true.
	ExitCode int64
}

// SemihostingHandler services semihosting calls.
type SemihostingHandler interface {
	// Handle executes the call described by the core's registers:
	//   - Operation number in X0/R0
	//   - Parameter or parameter block address in X1/R1
	//   - Return value in X0/R0
	Handle(c *Core) SemihostingResult
}

// DefaultSemihostingHandler implements the console, host file and exit
// subset of the semihosting interface. Handles 0, 1 and 2 are the console
// streams; host files get handles from 3.
type DefaultSemihostingHandler struct {
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
	files  *FDTable
	errno  uint64
}

// NewDefaultSemihostingHandler creates a default semihosting handler.
func NewDefaultSemihostingHandler(stdout, stderr io.Writer) *DefaultSemihostingHandler {
	return &DefaultSemihostingHandler{
		stdout: stdout,
		stderr: stderr,
		files:  NewFDTable(),
	}
}

// Close releases the host files the guest left open.
func (h *DefaultSemihostingHandler) Close() {
	h.files.CloseAll()
}

// SetStdin sets the reader SYS_READC and SYS_READ consume.
func (h *DefaultSemihostingHandler) SetStdin(stdin io.Reader) {
	h.stdin = stdin
}

// Handle executes the semihosting call in the core's registers.
func (h *DefaultSemihostingHandler) Handle(c *Core) SemihostingResult {
	call := semihostCall{c: c, h: h}
	op := c.GPR(0)
	if !c.ctx.AArch64 {
		op &= 0xffffffff
	}

	switch op {
	case SemihostOpen:
		return call.open()
	case SemihostClose:
		return call.close()
	case SemihostWriteC:
		return call.writeC()
	case SemihostWrite0:
		return call.write0()
	case SemihostWrite:
		return call.write()
	case SemihostRead:
		return call.read()
	case SemihostReadC:
		return call.readC()
	case SemihostIsTTY:
		return call.isTTY()
	case SemihostSeek:
		return call.seek()
	case SemihostFlen:
		return call.flen()
	case SemihostTime:
		return call.ret(uint64(time.Now().Unix()))
	case SemihostErrno:
		return call.ret(h.errno)
	case SemihostExit:
		return call.exit()
	case SemihostExitExtended:
		return call.exitExtended()
	}

	c.logger.Warn("unsupported semihosting call", "core", c.id, "op", op)
	return call.fail(ENOSYS)
}

// semihostCall carries one call's core and handler.
type semihostCall struct {
	c *Core
	h *DefaultSemihostingHandler
}

func (s semihostCall) wordSize() int {
	if s.c.ctx.AArch64 {
		return 8
	}
	return 4
}

func (s semihostCall) ret(v uint64) SemihostingResult {
	s.c.SetGPR(0, v)
	return SemihostingResult{}
}

func (s semihostCall) fail(errno uint64) SemihostingResult {
	s.h.errno = errno
	return s.ret(^uint64(0))
}

// args reads n words of the parameter block X1/R1 points to.
func (s semihostCall) args(n int) ([]uint64, bool) {
	size := s.wordSize()
	b, err := s.c.ReadVirtual(s.c.GPR(1), n*size)
	if err != nil {
		return nil, false
	}
	out := make([]uint64, n)
	for i := range out {
		w := b[i*size : (i+1)*size]
		if size == 8 {
			out[i] = binary.LittleEndian.Uint64(w)
		} else {
			out[i] = uint64(binary.LittleEndian.Uint32(w))
		}
	}
	return out, true
}

func (s semihostCall) stream(handle uint64) io.Writer {
	switch handle {
	case 1:
		return s.h.stdout
	case 2:
		return s.h.stderr
	}
	if f, ok := s.h.files.Get(handle); ok {
		return f
	}
	return nil
}

func hostErrno(err error) uint64 {
	if errors.Is(err, fs.ErrNotExist) {
		return ENOENT
	}
	return EIO
}

// open maps the console pseudo-file ":tt" to the console handles: modes
// 0-3 open stdin, 4-7 stdout and 8-11 stderr. Other names are host files.
func (s semihostCall) open() SemihostingResult {
	a, ok := s.args(3)
	if !ok {
		return s.fail(EFAULT)
	}
	name, err := s.c.ReadVirtual(a[0], int(a[2]))
	if err != nil {
		return s.fail(EFAULT)
	}
	if a[1] > 11 {
		return s.fail(ENOSYS)
	}
	if string(name) == ":tt" {
		return s.ret(a[1] / 4)
	}

	fd, err := s.h.files.Open(string(name), a[1])
	if err != nil {
		return s.fail(hostErrno(err))
	}
	return s.ret(fd)
}

func (s semihostCall) close() SemihostingResult {
	a, ok := s.args(1)
	if !ok {
		return s.fail(EFAULT)
	}
	if a[0] < firstFileHandle {
		return s.ret(0)
	}
	if err := s.h.files.Close(a[0]); err != nil {
		return s.fail(EBADF)
	}
	return s.ret(0)
}

func (s semihostCall) seek() SemihostingResult {
	a, ok := s.args(2)
	if !ok {
		return s.fail(EFAULT)
	}
	f, ok := s.h.files.Get(a[0])
	if !ok {
		return s.fail(EBADF)
	}
	if _, err := f.Seek(int64(a[1]), io.SeekStart); err != nil {
		return s.fail(EIO)
	}
	return s.ret(0)
}

func (s semihostCall) flen() SemihostingResult {
	a, ok := s.args(1)
	if !ok {
		return s.fail(EFAULT)
	}
	f, ok := s.h.files.Get(a[0])
	if !ok {
		return s.fail(EBADF)
	}
	st, err := f.Stat()
	if err != nil {
		return s.fail(EIO)
	}
	return s.ret(uint64(st.Size()))
}

func (s semihostCall) writeC() SemihostingResult {
	b, err := s.c.ReadVirtual(s.c.GPR(1), 1)
	if err != nil {
		return s.fail(EFAULT)
	}
	if _, err := s.h.stdout.Write(b); err != nil {
		return s.fail(EIO)
	}
	return SemihostingResult{}
}

func (s semihostCall) write0() SemihostingResult {
	va := s.c.GPR(1)
	var buf bytes.Buffer
	for {
		b, err := s.c.ReadVirtual(va, 1)
		if err != nil {
			return s.fail(EFAULT)
		}
		if b[0] == 0 {
			break
		}
		buf.WriteByte(b[0])
		va++
	}
	if _, err := s.h.stdout.Write(buf.Bytes()); err != nil {
		return s.fail(EIO)
	}
	return SemihostingResult{}
}

// write returns the number of bytes not written.
func (s semihostCall) write() SemihostingResult {
	a, ok := s.args(3)
	if !ok {
		return s.fail(EFAULT)
	}
	w := s.stream(a[0])
	if w == nil {
		return s.fail(EBADF)
	}
	data, err := s.c.ReadVirtual(a[1], int(a[2]))
	if err != nil {
		return s.fail(EFAULT)
	}
	n, err := w.Write(data)
	if err != nil {
		s.h.errno = EIO
	}
	return s.ret(a[2] - uint64(n))
}

// read returns the number of bytes not read.
func (s semihostCall) read() SemihostingResult {
	a, ok := s.args(3)
	if !ok {
		return s.fail(EFAULT)
	}
	var r io.Reader
	switch f, ok := s.h.files.Get(a[0]); {
	case a[0] == 0:
		r = s.h.stdin
	case ok:
		r = f
	default:
		return s.fail(EBADF)
	}
	if r == nil {
		return s.ret(a[2])
	}
	buf := make([]byte, a[2])
	var n int
	if a[0] == 0 {
		n, _ = r.Read(buf)
	} else {
		n, _ = io.ReadFull(r, buf)
	}
	if err := s.c.WriteVirtual(a[1], buf[:n]); err != nil {
		return s.fail(EFAULT)
	}
	return s.ret(a[2] - uint64(n))
}

func (s semihostCall) readC() SemihostingResult {
	if s.h.stdin == nil {
		return s.fail(EIO)
	}
	b := make([]byte, 1)
	if n, _ := s.h.stdin.Read(b); n == 0 {
		return s.fail(EIO)
	}
	return s.ret(uint64(b[0]))
}

func (s semihostCall) isTTY() SemihostingResult {
	a, ok := s.args(1)
	if !ok {
		return s.fail(EFAULT)
	}
	if a[0] < firstFileHandle {
		return s.ret(1)
	}
	if _, ok := s.h.files.Get(a[0]); !ok {
		return s.fail(EBADF)
	}
	return s.ret(0)
}

// exit takes the reason in R1 from AArch32, and a {reason, subcode} block
// from AArch64.
func (s semihostCall) exit() SemihostingResult {
	if !s.c.ctx.AArch64 {
		return s.exitWith(s.c.GPR(1), 0, false)
	}
	a, ok := s.args(2)
	if !ok {
		return s.fail(EFAULT)
	}
	return s.exitWith(a[0], a[1], true)
}

func (s semihostCall) exitExtended() SemihostingResult {
	a, ok := s.args(2)
	if !ok {
		return s.fail(EFAULT)
	}
	return s.exitWith(a[0], a[1], true)
}

func (s semihostCall) exitWith(reason, subcode uint64, hasCode bool) SemihostingResult {
	code := int64(1)
	if reason == adpStoppedApplicationExit {
		code = 0
		if hasCode {
			code = int64(int32(subcode))
		}
	}
	return SemihostingResult{Exited: true, ExitCode: code}
}

// semihostingCall reports whether exc is a semihosting trap the core
// services itself.
func (c *Core) semihostingCall(exc Exception) bool {
	if !c.model.config.Semihosting || c.ctx.EL == 0 {
		return false
	}
	aa64 := c.ctx.AArch64
	thumb := !aa64 && c.regs.PSTATE.T

	switch exc.Kind {
	case ExcHLT:
		if thumb {
			return exc.Imm == semihostHLTT32
		}
		return exc.Imm == semihostHLT
	case ExcSVC:
		if aa64 {
			return false
		}
		if thumb {
			return exc.Imm == semihostThumbAB
		}
		return exc.Imm == semihostSVCA32
	case ExcBreakpoint:
		return thumb && exc.Imm == semihostThumbAB
	}
	return false
}

// handleSemihosting services the call and steps over HLT and BKPT, whose
// preferred return address is the instruction itself.
func (c *Core) handleSemihosting(exc Exception) {
	res := c.semihost.Handle(c)
	if res.Exited {
		c.exited, c.exitCode = true, res.ExitCode
		c.logger.Info("guest exited through semihosting", "core", c.id, "code", res.ExitCode)
	}

	switch {
	case exc.Kind != ExcHLT && exc.Kind != ExcBreakpoint:
	case !c.ctx.AArch64 && c.regs.PSTATE.T:
		c.regs.PC += 2
	default:
		c.regs.PC += 4
	}
}
