package emu

// SCR_EL3 bits.
const (
	scrNS  = 1 << 0
	scrIRQ = 1 << 1
	scrFIQ = 1 << 2
	scrEA  = 1 << 3
	scrFW  = 1 << 4
	scrAW  = 1 << 5
	scrSMD = 1 << 7
	scrHCE = 1 << 8
	scrRW  = 1 << 10
	scrTWI = 1 << 12
	scrTWE = 1 << 13
)

// HCR_EL2 bits.
const (
	hcrVM    = 1 << 0
	hcrSWIO  = 1 << 1
	hcrPTW   = 1 << 2
	hcrFMO   = 1 << 3
	hcrIMO   = 1 << 4
	hcrAMO   = 1 << 5
	hcrVF    = 1 << 6
	hcrVI    = 1 << 7
	hcrVSE   = 1 << 8
	hcrFB    = 1 << 9
	hcrDC    = 1 << 12
	hcrTWI   = 1 << 13
	hcrTWE   = 1 << 14
	hcrTSC   = 1 << 19
	hcrTID3  = 1 << 18
	hcrTIDCP = 1 << 20
	hcrTVM   = 1 << 26
	hcrTGE   = 1 << 27
	hcrHCD   = 1 << 29
	hcrRW    = 1 << 31
	hcrTRVM  = 1 << 30
	hcrCD    = 1 << 32
	hcrE2H   = 1 << 34
	hcrTEA   = 1 << 37

	hcrValidMask = 1<<38 - 1
)

// SCTLR bits not used by the walker.
const (
	sctlrUMA  = 1 << 9
	sctlrUCT  = 1 << 15
	sctlrNTWI = 1 << 16
	sctlrNTWE = 1 << 18
	sctlrSPAN = 1 << 23
	sctlrUCI  = 1 << 26
	sctlrTE   = 1 << 30
)

// CPTR_ELx.TCPAC.
const cptrTCPAC = 1 << 31

// MDCR_ELx.TPM.
const mdcrTPM = 1 << 6

// TCR_EL1/TTBCR fields used for ASID selection.
const (
	tcrA1 = 1 << 22
	tcrAS = 1 << 36
)
