// Package emu models the privileged state of an ARM core: the banked
// register file, the system-register bank and its accessors, the MMU and
// TLB glue, and exception delivery.
package emu

import "github.com/sarchlab/armsys/arch"

// RegFile holds the general-purpose and banked registers of a core.
//
// AArch64 state lives in X, SP and ELR. AArch32 state lives in R with the
// registers of inactive modes kept in the Banked* arrays; the two views are
// synchronized when the core changes execution width.
type RegFile struct {
	// X holds X0-X30.
	X [31]uint64
	// SP holds SP_EL0 to SP_EL3.
	SP [4]uint64
	// ELR holds ELR_EL1 to ELR_EL3; ELR[2] doubles as ELR_hyp.
	ELR [4]uint64

	// PC is shared by both execution states.
	PC uint64

	// PSTATE is the current processor state.
	PSTATE PSTATE

	// R holds r0-r14 of the current AArch32 mode.
	R [15]uint32
	// SPSR is the saved program status of the current AArch32 mode.
	SPSR uint32

	// BankedR13, BankedR14 and BankedSPSR are indexed by arch.Mode.Bank.
	// BankedSPSR also holds SPSR_EL1 (bank 1), SPSR_EL2 (bank 6) and
	// SPSR_EL3 (bank 7).
	BankedR13  [arch.NumBanks]uint32
	BankedR14  [arch.NumBanks]uint32
	BankedSPSR [arch.NumBanks]uint64

	// UsrRegs holds r8-r12 of the non-FIQ modes while in FIQ mode, and
	// FIQRegs the FIQ copies otherwise.
	UsrRegs [5]uint32
	FIQRegs [5]uint32
}

// ReadReg reads X register reg. Register 31 reads as zero.
func (r *RegFile) ReadReg(reg uint8) uint64 {
	if reg >= 31 {
		return 0
	}
	return r.X[reg]
}

// WriteReg writes X register reg. Writes to register 31 are ignored.
func (r *RegFile) WriteReg(reg uint8, value uint64) {
	if reg >= 31 {
		return
	}
	r.X[reg] = value
}

// spsrBank maps an AArch64 exception level to the bank holding its SPSR.
func spsrBank(el arch.EL) int {
	switch el {
	case arch.EL2:
		return arch.ModeHYP.Bank()
	case arch.EL3:
		return arch.ModeMON.Bank()
	}
	return arch.ModeSVC.Bank()
}

// r14Bank returns the bank holding r14 of a mode. Hyp mode shares the
// user LR and keeps its return address in ELR_hyp.
func r14Bank(m arch.Mode) int {
	if m == arch.ModeHYP {
		return arch.ModeUSR.Bank()
	}
	return m.Bank()
}

// switchMode swaps the banked registers of the current AArch32 mode for
// those of mode. It does not touch PSTATE.Mode.
func (r *RegFile) switchMode(from, to arch.Mode) {
	if from == to {
		return
	}

	switch {
	case from == arch.ModeFIQ:
		copy(r.FIQRegs[:], r.R[8:13])
		copy(r.R[8:13], r.UsrRegs[:])
	case to == arch.ModeFIQ:
		copy(r.UsrRegs[:], r.R[8:13])
		copy(r.R[8:13], r.FIQRegs[:])
	}

	i := from.Bank()
	r.BankedR13[i] = r.R[13]
	r.BankedSPSR[i] = uint64(r.SPSR)
	i = to.Bank()
	r.R[13] = r.BankedR13[i]
	r.SPSR = uint32(r.BankedSPSR[i])

	r.BankedR14[r14Bank(from)] = r.R[14]
	r.R[14] = r.BankedR14[r14Bank(to)]
}

// r13r14 returns pointers to the AArch32 r13/r14 of mode m as seen from
// the current mode cur.
func (r *RegFile) r13r14(cur, m arch.Mode) (*uint32, *uint32) {
	sp, lr := &r.BankedR13[m.Bank()], &r.BankedR14[r14Bank(m)]
	if cur.Bank() == m.Bank() {
		sp = &r.R[13]
	}
	if r14Bank(cur) == r14Bank(m) {
		lr = &r.R[14]
	}
	return sp, lr
}

// sync32To64 copies the AArch32 view into X0-X30 using the architectural
// mapping of banked registers.
func (r *RegFile) sync32To64(cur arch.Mode) {
	for i := 0; i < 8; i++ {
		r.X[i] = uint64(r.R[i])
	}
	for i := 8; i < 13; i++ {
		if cur == arch.ModeFIQ {
			r.X[i] = uint64(r.UsrRegs[i-8])
			r.X[i+16] = uint64(r.R[i])
		} else {
			r.X[i] = uint64(r.R[i])
			r.X[i+16] = uint64(r.FIQRegs[i-8])
		}
	}

	pairs := []struct {
		mode   arch.Mode
		sp, lr int
	}{
		{arch.ModeUSR, 13, 14},
		{arch.ModeIRQ, 17, 16},
		{arch.ModeSVC, 19, 18},
		{arch.ModeABT, 21, 20},
		{arch.ModeUND, 23, 22},
		{arch.ModeFIQ, 29, 30},
	}
	for _, p := range pairs {
		sp, lr := r.r13r14(cur, p.mode)
		r.X[p.sp] = uint64(*sp)
		r.X[p.lr] = uint64(*lr)
	}
	hypSP, _ := r.r13r14(cur, arch.ModeHYP)
	r.X[15] = uint64(*hypSP)
}

// sync64To32 is the inverse of sync32To64. cur is the AArch32 mode being
// entered.
func (r *RegFile) sync64To32(cur arch.Mode) {
	for i := 0; i < 8; i++ {
		r.R[i] = uint32(r.X[i])
	}
	for i := 8; i < 13; i++ {
		if cur == arch.ModeFIQ {
			r.UsrRegs[i-8] = uint32(r.X[i])
			r.R[i] = uint32(r.X[i+16])
		} else {
			r.R[i] = uint32(r.X[i])
			r.FIQRegs[i-8] = uint32(r.X[i+16])
		}
	}

	pairs := []struct {
		mode   arch.Mode
		sp, lr int
	}{
		{arch.ModeUSR, 13, 14},
		{arch.ModeIRQ, 17, 16},
		{arch.ModeSVC, 19, 18},
		{arch.ModeABT, 21, 20},
		{arch.ModeUND, 23, 22},
		{arch.ModeFIQ, 29, 30},
	}
	for _, p := range pairs {
		sp, lr := r.r13r14(cur, p.mode)
		*sp = uint32(r.X[p.sp])
		*lr = uint32(r.X[p.lr])
	}
	hypSP, _ := r.r13r14(cur, arch.ModeHYP)
	*hypSP = uint32(r.X[15])
}

// PSTATE is the processor state of both execution states. Fields that do
// not exist in the current state are kept at zero.
type PSTATE struct {
	N, Z, C, V bool

	// D, A, I and F are the exception mask bits.
	D, A, I, F bool

	// EL and SP are the AArch64 exception level and stack select.
	EL arch.EL
	SP bool

	// NRW is set while executing in AArch32.
	NRW bool
	// Mode is the AArch32 mode.
	Mode arch.Mode

	// T and E are the AArch32 Thumb and big-endian data bits.
	T, E bool
	// IL is the illegal execution state bit.
	IL bool
	SS bool
	PAN bool
	UAO bool
	TCO bool
	Q   bool
	IT  uint8
	GE  uint8
}

// PSTATE bit positions in SPSR/CPSR format.
const (
	psrN   = 31
	psrZ   = 30
	psrC   = 29
	psrV   = 28
	psrQ   = 27
	psrTCO = 25
	psrUAO = 23
	psrPAN = 22
	psrSS  = 21
	psrIL  = 20
	psrE   = 9
	psrD   = 9
	psrA   = 8
	psrI   = 7
	psrF   = 6
	psrT   = 5
	psrNRW = 4
)

// CPSR mode mask.
const psrM = 0x1f

func setBit(v *uint64, n uint, b bool) {
	if b {
		*v |= 1 << n
	}
}

func (p *PSTATE) packFlags() uint64 {
	var v uint64
	setBit(&v, psrN, p.N)
	setBit(&v, psrZ, p.Z)
	setBit(&v, psrC, p.C)
	setBit(&v, psrV, p.V)
	setBit(&v, psrPAN, p.PAN)
	setBit(&v, psrSS, p.SS)
	setBit(&v, psrIL, p.IL)
	setBit(&v, psrA, p.A)
	setBit(&v, psrI, p.I)
	setBit(&v, psrF, p.F)
	return v
}

// Pack64 returns the state in AArch64 SPSR format.
func (p *PSTATE) Pack64() uint64 {
	v := p.packFlags()
	setBit(&v, psrTCO, p.TCO)
	setBit(&v, psrUAO, p.UAO)
	setBit(&v, psrD, p.D)
	v |= uint64(p.EL) << 2
	setBit(&v, 0, p.SP)
	return v
}

// Pack32 returns the state in AArch32 CPSR/SPSR format.
func (p *PSTATE) Pack32() uint32 {
	v := p.packFlags()
	setBit(&v, psrQ, p.Q)
	setBit(&v, psrE, p.E)
	setBit(&v, psrT, p.T)
	v |= uint64(p.IT&3) << 25
	v |= uint64(p.IT>>2) << 10
	v |= uint64(p.GE&0xf) << 16
	v |= uint64(p.Mode) & psrM
	return uint32(v)
}

// Pack returns the state in the format of the current execution state.
func (p *PSTATE) Pack() uint64 {
	if p.NRW {
		return uint64(p.Pack32())
	}
	return p.Pack64()
}

func (p *PSTATE) unpackFlags(v uint64) {
	p.N = arch.Bit(v, psrN)
	p.Z = arch.Bit(v, psrZ)
	p.C = arch.Bit(v, psrC)
	p.V = arch.Bit(v, psrV)
	p.PAN = arch.Bit(v, psrPAN)
	p.SS = arch.Bit(v, psrSS)
	p.IL = arch.Bit(v, psrIL)
	p.A = arch.Bit(v, psrA)
	p.I = arch.Bit(v, psrI)
	p.F = arch.Bit(v, psrF)
}

// Unpack64 loads an AArch64 SPSR value, switching the state to AArch64.
func (p *PSTATE) Unpack64(v uint64) {
	*p = PSTATE{}
	p.unpackFlags(v)
	p.TCO = arch.Bit(v, psrTCO)
	p.UAO = arch.Bit(v, psrUAO)
	p.D = arch.Bit(v, psrD)
	p.EL = arch.EL(v>>2) & 3
	p.SP = arch.Bit(v, 0)
}

// Unpack32 loads an AArch32 CPSR/SPSR value, switching the state to
// AArch32. EL is left for the caller to derive from the mode.
func (p *PSTATE) Unpack32(v uint32) {
	*p = PSTATE{}
	w := uint64(v)
	p.unpackFlags(w)
	p.NRW = true
	p.Q = arch.Bit(w, psrQ)
	p.E = arch.Bit(w, psrE)
	p.T = arch.Bit(w, psrT)
	p.IT = uint8(arch.Extract(w, 25, 2)) | uint8(arch.Extract(w, 10, 6))<<2
	p.GE = uint8(arch.Extract(w, 16, 4))
	p.Mode = arch.Mode(w & psrM)
}
