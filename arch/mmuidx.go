package arch

import "fmt"

// MMUIndex selects one of the concurrent translation regimes a core may
// access memory through.
type MMUIndex uint8

// MMU indexes. The indexes up to and including MMUIdxStage2 own a TLB; the
// Stage1 ones only describe the first stage of a two-stage regime.
const (
	MMUIdxE10_0 MMUIndex = iota
	MMUIdxE10_1
	MMUIdxE10_1PAN
	MMUIdxE20_0
	MMUIdxE20_2
	MMUIdxE20_2PAN
	MMUIdxE2
	MMUIdxE3
	MMUIdxSE10_0
	MMUIdxSE10_1
	MMUIdxSE10_1PAN
	MMUIdxSE3
	MMUIdxStage2
	MMUIdxStage1E0
	MMUIdxStage1E1
	MMUIdxStage1E1PAN

	// NumTLBIndexes is the number of indexes that own a TLB.
	NumTLBIndexes = int(MMUIdxStage2) + 1
)

var mmuIdxNames = [...]string{
	"E10_0", "E10_1", "E10_1_PAN", "E20_0", "E20_2", "E20_2_PAN", "E2", "E3",
	"SE10_0", "SE10_1", "SE10_1_PAN", "SE3", "Stage2",
	"Stage1_E0", "Stage1_E1", "Stage1_E1_PAN",
}

func (i MMUIndex) String() string {
	if int(i) < len(mmuIdxNames) {
		return mmuIdxNames[i]
	}
	return fmt.Sprintf("MMUIndex(%d)", uint8(i))
}

// MMUIndexMask is a set of MMU indexes.
type MMUIndexMask uint32

// Mask returns the single-element set containing i.
func (i MMUIndex) Mask() MMUIndexMask {
	return 1 << i
}

// Has reports whether i is in m.
func (m MMUIndexMask) Has(i MMUIndex) bool {
	return m&(1<<i) != 0
}

// Indexes returns the members of m in ascending order.
func (m MMUIndexMask) Indexes() []MMUIndex {
	var out []MMUIndex
	for i := MMUIndex(0); i <= MMUIdxStage1E1PAN; i++ {
		if m.Has(i) {
			out = append(out, i)
		}
	}
	return out
}

// HasTLB reports whether translations through i are cached.
func (i MMUIndex) HasTLB() bool {
	return int(i) < NumTLBIndexes
}

// RegimeEL returns the exception level whose registers control i.
func (i MMUIndex) RegimeEL() EL {
	switch i {
	case MMUIdxE20_0, MMUIdxE20_2, MMUIdxE20_2PAN, MMUIdxE2, MMUIdxStage2:
		return EL2
	case MMUIdxE3, MMUIdxSE3:
		return EL3
	case MMUIdxE10_0, MMUIdxE10_1, MMUIdxE10_1PAN, MMUIdxSE10_0, MMUIdxSE10_1,
		MMUIdxSE10_1PAN, MMUIdxStage1E0, MMUIdxStage1E1, MMUIdxStage1E1PAN:
		return EL1
	}
	panic(fmt.Sprintf("arch: unknown MMU index %d", uint8(i)))
}

// IsUser reports whether accesses through i are unprivileged.
func (i MMUIndex) IsUser() bool {
	switch i {
	case MMUIdxE10_0, MMUIdxE20_0, MMUIdxSE10_0, MMUIdxStage1E0:
		return true
	}
	return false
}

// IsPAN reports whether i is a privileged-access-never variant.
func (i MMUIndex) IsPAN() bool {
	switch i {
	case MMUIdxE10_1PAN, MMUIdxE20_2PAN, MMUIdxSE10_1PAN, MMUIdxStage1E1PAN:
		return true
	}
	return false
}

// IsSecure reports whether i translates secure accesses.
func (i MMUIndex) IsSecure() bool {
	switch i {
	case MMUIdxE3, MMUIdxSE3, MMUIdxSE10_0, MMUIdxSE10_1, MMUIdxSE10_1PAN:
		return true
	}
	return false
}

// IsTwoRanges reports whether the regime of i has both TTBR0 and TTBR1.
// The EL2&0 host regime has two ranges, plain EL2 has one.
func (i MMUIndex) IsTwoRanges() bool {
	switch i.RegimeEL() {
	case EL1:
		return true
	case EL2:
		return i == MMUIdxE20_0 || i == MMUIdxE20_2 || i == MMUIdxE20_2PAN
	}
	return false
}

// Stage1 maps a combined EL1&0 index to the index describing its first
// stage. Other indexes are returned unchanged.
func (i MMUIndex) Stage1() MMUIndex {
	switch i {
	case MMUIdxE10_0:
		return MMUIdxStage1E0
	case MMUIdxE10_1:
		return MMUIdxStage1E1
	case MMUIdxE10_1PAN:
		return MMUIdxStage1E1PAN
	}
	return i
}

// Combined is the inverse of Stage1.
func (i MMUIndex) Combined() MMUIndex {
	switch i {
	case MMUIdxStage1E0:
		return MMUIdxE10_0
	case MMUIdxStage1E1:
		return MMUIdxE10_1
	case MMUIdxStage1E1PAN:
		return MMUIdxE10_1PAN
	}
	return i
}

// Standard index sets used by TLB maintenance.
const (
	MaskE10 = MMUIndexMask(1<<MMUIdxE10_0 | 1<<MMUIdxE10_1 | 1<<MMUIdxE10_1PAN)
	MaskE20 = MMUIndexMask(1<<MMUIdxE20_0 | 1<<MMUIdxE20_2 | 1<<MMUIdxE20_2PAN)
	MaskSE10 = MMUIndexMask(1<<MMUIdxSE10_0 | 1<<MMUIdxSE10_1 |
		1<<MMUIdxSE10_1PAN)
	MaskE2     = MMUIndexMask(1 << MMUIdxE2)
	MaskE3     = MMUIndexMask(1<<MMUIdxE3 | 1<<MMUIdxSE3)
	MaskStage2 = MMUIndexMask(1 << MMUIdxStage2)
	MaskAll    = MMUIndexMask(1<<NumTLBIndexes - 1)
)
