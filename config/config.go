// Package config holds the JSON configuration of an emulated cluster.
package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/sarchlab/armsys/arch"
)

// CoreConfig describes one CPU model and the cluster built from it.
type CoreConfig struct {
	// Name is a free-form model name used in logs.
	Name string `json:"name"`

	// Features lists the architectural features of the model, e.g.
	// "v8", "aarch64", "el2", "el3", "pan", "pmu". Implied features are
	// added automatically.
	Features []string `json:"features"`

	// MIDR is the main ID register value.
	MIDR uint32 `json:"midr"`

	// NumCores is the number of cores in the cluster. Default: 1.
	NumCores int `json:"num_cores"`

	// PhysMemSize is the size of physical memory in bytes. Default: 256MB.
	PhysMemSize uint64 `json:"phys_mem_size"`

	// TLBSets and TLBWays give the geometry of each per-index TLB.
	// Default: 64 sets, 4 ways.
	TLBSets int `json:"tlb_sets"`
	TLBWays int `json:"tlb_ways"`

	// Semihosting enables interception of semihosting calls.
	Semihosting bool `json:"semihosting"`

	// PSCIConduit selects the instruction PSCI calls arrive through:
	// "", "smc" or "hvc". Empty disables PSCI interception.
	PSCIConduit string `json:"psci_conduit"`

	// ResetHighVectors sets SCTLR.V at reset on AArch32 cores.
	ResetHighVectors bool `json:"reset_high_vectors"`

	// ResetAArch32 starts AArch64-capable cores in AArch32 at their highest EL.
	ResetAArch32 bool `json:"reset_aarch32"`

	// PMUCounters is the number of event counters. Default: 4.
	PMUCounters int `json:"pmu_counters"`

	// PMSARegions is the number of PMSAv7 MPU regions. Default: 8.
	PMSARegions int `json:"pmsa_regions"`
}

// DefaultCoreConfig returns an ARMv8 AArch64 core with EL2 and EL3.
func DefaultCoreConfig() *CoreConfig {
	return &CoreConfig{
		Name:        "cortex-a57",
		Features:    []string{"aarch64", "el2", "el3", "pmu", "pan", "cbar"},
		MIDR:        0x411fd070,
		NumCores:    1,
		PhysMemSize: 256 << 20,
		TLBSets:     64,
		TLBWays:     4,
		PSCIConduit: "smc",
		PMUCounters: 4,
		PMSARegions: 8,
	}
}

// LoadConfig loads a CoreConfig from a JSON file. Missing fields keep their
// defaults.
func LoadConfig(path string) (*CoreConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read core config file: %w", err)
	}

	config := DefaultCoreConfig()
	if err := json.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse core config: %w", err)
	}

	return config, nil
}

// SaveConfig writes a CoreConfig to a JSON file.
func (c *CoreConfig) SaveConfig(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize core config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write core config file: %w", err)
	}

	return nil
}

// Validate checks that the configuration describes a buildable cluster.
func (c *CoreConfig) Validate() error {
	fs, err := arch.ParseFeatures(c.Features)
	if err != nil {
		return err
	}
	if c.NumCores <= 0 {
		return fmt.Errorf("num_cores must be > 0")
	}
	if c.PhysMemSize == 0 {
		return fmt.Errorf("phys_mem_size must be > 0")
	}
	if c.TLBSets <= 0 || c.TLBSets&(c.TLBSets-1) != 0 {
		return fmt.Errorf("tlb_sets must be a power of two")
	}
	if c.TLBWays <= 0 {
		return fmt.Errorf("tlb_ways must be > 0")
	}
	switch c.PSCIConduit {
	case "", "smc", "hvc":
	default:
		return fmt.Errorf("psci_conduit must be \"\", \"smc\" or \"hvc\"")
	}
	if c.PSCIConduit == "smc" && !fs.Has(arch.FeatureEL3) {
		return fmt.Errorf("psci_conduit smc requires el3")
	}
	if c.PSCIConduit == "hvc" && !fs.Has(arch.FeatureEL2) {
		return fmt.Errorf("psci_conduit hvc requires el2")
	}
	if c.PMUCounters < 0 || c.PMUCounters > 31 {
		return fmt.Errorf("pmu_counters must be in [0, 31]")
	}
	if fs.Has(arch.FeaturePMSA) && fs.Has(arch.FeatureV7) &&
		(c.PMSARegions <= 0 || c.PMSARegions > 255) {
		return fmt.Errorf("pmsa_regions must be in [1, 255]")
	}
	if fs.Has(arch.FeaturePMSA) && fs.Has(arch.FeatureAArch64) {
		return fmt.Errorf("pmsa and aarch64 are mutually exclusive")
	}
	return nil
}

// FeatureSet returns the resolved feature bitmask. Validate must have
// succeeded.
func (c *CoreConfig) FeatureSet() arch.Features {
	fs, _ := arch.ParseFeatures(c.Features)
	return fs
}

// Clone returns a deep copy of the CoreConfig.
func (c *CoreConfig) Clone() *CoreConfig {
	clone := *c
	clone.Features = append([]string(nil), c.Features...)
	return &clone
}
