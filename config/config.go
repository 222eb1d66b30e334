// Package config loads the tunable budgets the flush planner consults —
// the shared meta buffer size, the per-command-buffer workload cap, the
// memory headroom fraction, and the EWMA decay used to track the
// device's working-set estimate — from an optional YAML file, falling
// back to the defaults the original implementation hardcodes.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/oxy-gpu/tensorcore/common"
)

// Config holds the planner's tunable budgets.
type Config struct {
	// MetaBufferSize is the byte size of the shared meta/uniform buffer
	// (binding slot 1). The original hardcodes this to 10000 bytes.
	MetaBufferSize uint32 `yaml:"meta_buffer_size"`

	// MaxWorkloadSize caps the total estimated per-element work folded
	// into a single command buffer before set_buffers splits the batch.
	MaxWorkloadSize uint64 `yaml:"max_workload_size"`

	// MemoryHeadroomNumerator/Denominator scale the two-pass memory
	// simulation's peak estimate before comparing it against the
	// tracked max_memory_allowed. Default 5/4 (25% headroom).
	MemoryHeadroomNumerator   uint64 `yaml:"memory_headroom_numerator"`
	MemoryHeadroomDenominator uint64 `yaml:"memory_headroom_denominator"`

	// EWMADecayNumerator/Denominator weight the running max_memory_allowed
	// estimate against each flush's freshly observed peak. Default 7/8.
	EWMADecayNumerator   uint64 `yaml:"ewma_decay_numerator"`
	EWMADecayDenominator uint64 `yaml:"ewma_decay_denominator"`

	// MinStorageBufferOffsetAlignmentFallback is used only if the device
	// reports zero for this limit (never true for a real adapter, but
	// keeps the meta packer total on a synthetic/fake device used in
	// tests).
	MinStorageBufferOffsetAlignmentFallback uint32 `yaml:"min_storage_buffer_offset_alignment_fallback"`
}

// Default returns the spec's hardcoded defaults.
func Default() Config {
	return Config{
		MetaBufferSize:                           10000,
		MaxWorkloadSize:                           8 * 1024 * 1024,
		MemoryHeadroomNumerator:                   5,
		MemoryHeadroomDenominator:                 4,
		EWMADecayNumerator:                        7,
		EWMADecayDenominator:                      8,
		MinStorageBufferOffsetAlignmentFallback:   256,
	}
}

// applyDefaults fills any zero-valued field with its spec-matching
// default, so a partially-specified YAML document (or a zero-value
// Config{}) is always safe to use.
func (c *Config) applyDefaults() {
	d := Default()
	c.MetaBufferSize = common.Coalesce(c.MetaBufferSize, d.MetaBufferSize)
	c.MaxWorkloadSize = common.Coalesce(c.MaxWorkloadSize, d.MaxWorkloadSize)
	c.MemoryHeadroomNumerator = common.Coalesce(c.MemoryHeadroomNumerator, d.MemoryHeadroomNumerator)
	c.MemoryHeadroomDenominator = common.Coalesce(c.MemoryHeadroomDenominator, d.MemoryHeadroomDenominator)
	c.EWMADecayNumerator = common.Coalesce(c.EWMADecayNumerator, d.EWMADecayNumerator)
	c.EWMADecayDenominator = common.Coalesce(c.EWMADecayDenominator, d.EWMADecayDenominator)
	c.MinStorageBufferOffsetAlignmentFallback = common.Coalesce(c.MinStorageBufferOffsetAlignmentFallback, d.MinStorageBufferOffsetAlignmentFallback)
}

// Load reads and unmarshals a YAML config file at path, applying defaults
// for any field the file omits. A missing file is not an error — it
// returns Default().
func Load(path string) (Config, error) {
	c := Default()

	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return c, nil
		}
		return Config{}, fmt.Errorf("config: reading %q: %w", path, err)
	}

	if err := yaml.Unmarshal(raw, &c); err != nil {
		return Config{}, fmt.Errorf("config: parsing %q: %w", path, err)
	}
	c.applyDefaults()
	return c, nil
}
