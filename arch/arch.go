// Package arch holds the architectural vocabulary shared by the register
// table, the MMU and the core: exception levels, AArch32 modes, CPU
// features and MMU indexes.
package arch

import "fmt"

// EL is an exception (privilege) level, 0 being the least privileged.
type EL uint8

// Exception levels.
const (
	EL0 EL = iota
	EL1
	EL2
	EL3
)

// String returns the conventional name of the level.
func (el EL) String() string {
	return fmt.Sprintf("EL%d", uint8(el))
}

// Mode is an AArch32 processor mode as encoded in CPSR.M[4:0].
type Mode uint32

// AArch32 modes.
const (
	ModeUSR Mode = 0x10
	ModeFIQ Mode = 0x11
	ModeIRQ Mode = 0x12
	ModeSVC Mode = 0x13
	ModeMON Mode = 0x16
	ModeABT Mode = 0x17
	ModeHYP Mode = 0x1a
	ModeUND Mode = 0x1b
	ModeSYS Mode = 0x1f
)

var modeNames = map[Mode]string{
	ModeUSR: "usr",
	ModeFIQ: "fiq",
	ModeIRQ: "irq",
	ModeSVC: "svc",
	ModeMON: "mon",
	ModeABT: "abt",
	ModeHYP: "hyp",
	ModeUND: "und",
	ModeSYS: "sys",
}

// String returns the lower-case mode mnemonic.
func (m Mode) String() string {
	if n, ok := modeNames[m]; ok {
		return n
	}
	return fmt.Sprintf("mode(%#x)", uint32(m))
}

// Valid reports whether m is one of the architected modes.
func (m Mode) Valid() bool {
	_, ok := modeNames[m]
	return ok
}

// Number of banked register sets.
const NumBanks = 8

// Bank returns the register bank number of a mode. USR and SYS share bank 0.
// Calling it with an unsupported mode is a defect in the caller; guest
// controlled values must be filtered with Valid first.
func (m Mode) Bank() int {
	switch m {
	case ModeUSR, ModeSYS:
		return 0
	case ModeSVC:
		return 1
	case ModeABT:
		return 2
	case ModeUND:
		return 3
	case ModeIRQ:
		return 4
	case ModeFIQ:
		return 5
	case ModeHYP:
		return 6
	case ModeMON:
		return 7
	}
	panic(fmt.Sprintf("arch: bad mode %#x", uint32(m)))
}

// EL returns the exception level a mode executes at. When EL3 is AArch32,
// secure PL1 modes run at EL3.
func (m Mode) EL(secure, el3AArch32 bool) EL {
	switch m {
	case ModeUSR:
		return EL0
	case ModeHYP:
		return EL2
	case ModeMON:
		return EL3
	}
	if secure && el3AArch32 {
		return EL3
	}
	return EL1
}

// Feature is a single optional architectural capability.
type Feature uint64

// Features. Later architecture versions imply the earlier ones, see Resolve.
const (
	FeatureV4T Feature = 1 << iota
	FeatureV5
	FeatureV6
	FeatureV6K
	FeatureV7
	FeatureV8
	FeatureVAPA
	FeaturePMSA
	FeatureMPU
	FeatureV7MP
	FeatureLPAE
	FeaturePXN
	FeatureXScale
	FeatureOMAPCP
	FeatureEL2
	FeatureEL3
	FeatureAArch64
	FeaturePAN
	FeatureVHE
	FeatureMTE
	FeaturePMU
	FeatureCBAR
	FeatureThumb2
)

// Features is a bitmask of Feature values.
type Features uint64

var featureNames = map[string]Feature{
	"v4t":     FeatureV4T,
	"v5":      FeatureV5,
	"v6":      FeatureV6,
	"v6k":     FeatureV6K,
	"v7":      FeatureV7,
	"v8":      FeatureV8,
	"vapa":    FeatureVAPA,
	"pmsa":    FeaturePMSA,
	"mpu":     FeatureMPU,
	"v7mp":    FeatureV7MP,
	"lpae":    FeatureLPAE,
	"pxn":     FeaturePXN,
	"xscale":  FeatureXScale,
	"omapcp":  FeatureOMAPCP,
	"el2":     FeatureEL2,
	"el3":     FeatureEL3,
	"aarch64": FeatureAArch64,
	"pan":     FeaturePAN,
	"vhe":     FeatureVHE,
	"mte":     FeatureMTE,
	"pmu":     FeaturePMU,
	"cbar":    FeatureCBAR,
	"thumb2":  FeatureThumb2,
}

// ParseFeatures converts feature names into a resolved feature set.
func ParseFeatures(names []string) (Features, error) {
	var fs Features
	for _, n := range names {
		f, ok := featureNames[n]
		if !ok {
			return 0, fmt.Errorf("unknown CPU feature %q", n)
		}
		fs |= Features(f)
	}
	return fs.Resolve(), nil
}

// Has reports whether f is present.
func (fs Features) Has(f Feature) bool {
	return fs&Features(f) != 0
}

// With returns fs plus f, resolved.
func (fs Features) With(f ...Feature) Features {
	for _, x := range f {
		fs |= Features(x)
	}
	return fs.Resolve()
}

// Resolve adds the features implied by the ones already present.
func (fs Features) Resolve() Features {
	imply := func(have, add Feature) {
		if fs.Has(have) {
			fs |= Features(add)
		}
	}
	imply(FeatureAArch64, FeatureV8)
	imply(FeaturePAN, FeatureV8)
	imply(FeatureVHE, FeatureEL2)
	imply(FeatureMTE, FeatureAArch64)
	imply(FeatureV8, FeatureV7)
	imply(FeatureV8, FeatureLPAE)
	imply(FeatureV8, FeaturePXN)
	imply(FeatureV8, FeatureV7MP)
	imply(FeatureLPAE, FeatureV7MP)
	imply(FeatureV7MP, FeatureV7)
	imply(FeatureV7, FeatureV6K)
	imply(FeatureV7, FeatureThumb2)
	imply(FeatureV7, FeatureVAPA)
	imply(FeatureV6K, FeatureV6)
	imply(FeatureV6, FeatureV5)
	imply(FeatureMPU, FeaturePMSA)
	imply(FeatureV5, FeatureV4T)
	return fs
}

// Names returns the names of the features in fs, in no particular order.
func (fs Features) Names() []string {
	var out []string
	for n, f := range featureNames {
		if fs.Has(f) {
			out = append(out, n)
		}
	}
	return out
}

// Extract returns the length-bit field of v starting at bit start.
func Extract(v uint64, start, length uint) uint64 {
	return (v >> start) & (1<<length - 1)
}

// Deposit returns v with the length-bit field at start replaced by field.
func Deposit(v uint64, start, length uint, field uint64) uint64 {
	mask := uint64(1<<length-1) << start
	return (v &^ mask) | ((field << start) & mask)
}

// SignExtend sign-extends the low bits bits of v.
func SignExtend(v uint64, bits uint) uint64 {
	shift := 64 - bits
	return uint64(int64(v<<shift) >> shift)
}

// Bit reports whether bit n of v is set.
func Bit(v uint64, n uint) bool {
	return v&(1<<n) != 0
}
