package emu

// Storage fields of the system-register bank. A secure AArch32 copy of an
// EL1 register shares storage with the corresponding EL3 register, as the
// architecture maps them.
const (
	fNone = iota

	fSCTLR1
	fSCTLR2
	fSCTLR3
	fACTLR1
	fACTLR2
	fACTLR3
	fCPACR
	fCPTR2
	fCPTR3

	fTTBR0_1
	fTTBR1_1
	fTTBR0_2
	fTTBR1_2
	fTTBR0_3
	fTTBR1S
	fTCR1
	fTCR2
	fTCR3
	fMAIR1
	fMAIR2
	fMAIR3
	fDACR
	fDACRS
	fFCSEIDR
	fFCSEIDRS
	fCONTEXTIDR1
	fCONTEXTIDRS
	fCONTEXTIDR2

	fVBAR1
	fVBAR2
	fVBAR3
	fMVBAR

	fESR1
	fESR2
	fESR3
	fFAR1
	fFAR2
	fFAR3
	fFARS
	fDFSR
	fDFSRS
	fIFSR
	fIFSRS
	fPAR
	fPARS
	fHPFAR

	fTPIDR0
	fTPIDRRO0
	fTPIDR1
	fTPIDR2
	fTPIDR3

	fHCR
	fHSTR
	fVTCR
	fVTTBR
	fVPIDR
	fVMPIDR
	fMDCR2

	fSCR
	fNSACR
	fMDCR3

	fMDSCR
	fCSSELR

	fPMCR
	fPMCNTEN
	fPMOVS
	fPMINTEN
	fPMSELR
	fPMUSERENR
	fPMCCNTR
	fPMCCFILTR

	fPMSARegion0
	fPMSARegion1
	fPMSARegion2
	fPMSARegion3
	fPMSARegion4
	fPMSARegion5
	fPMSARegion6
	fPMSARegion7
	fPMSADataAP
	fPMSAInsnAP
	fRGNR

	numFields
)
