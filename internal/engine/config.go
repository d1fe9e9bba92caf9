// Completion: 100% - Configuration complete
package engine

import (
	"fmt"
	"io"
	"math"
	"os"
	"time"

	"github.com/xyproto/env/v2"
)

// Config is the immutable run configuration, chosen once at startup
type Config struct {
	Arch             Arch
	Seed             int64
	Cores            int
	ReuseProbability float64 // chance a released region is served again
	OrderedSlots     bool    // src/dest slot search in ascending index order instead of seeded shuffle
	Verbose          bool
	Log              io.Writer // DEBUG output when Verbose is set

	MemoryBase   uint64 // virtual window of core 0
	CoreWindow   uint64 // size of each core's window; core n starts at MemoryBase + n*CoreWindow
	SharedBase   uint64 // physical window backing cross-core regions
	SharedWindow uint64
}

// DefaultConfig returns the configuration used when nothing is overridden
func DefaultConfig() Config {
	return Config{
		Arch:             ArchX86_64,
		Seed:             1,
		Cores:            1,
		ReuseProbability: 0.5,
		Log:              os.Stderr,
		MemoryBase:       0x8000_0000,
		CoreWindow:       0x0100_0000,
		SharedBase:       0xc000_0000,
		SharedWindow:     0x0100_0000,
	}
}

// ConfigFromEnv starts from DefaultConfig and applies INSTGEN_* environment variables.
// INSTGEN_SEED defaults to the current time when unset.
func ConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()

	arch, err := ParseArch(env.Str("INSTGEN_ARCH", cfg.Arch.String()))
	if err != nil {
		return cfg, err
	}
	cfg.Arch = arch
	cfg.Seed = env.Int64("INSTGEN_SEED", time.Now().UnixNano())
	cfg.Cores = env.Int("INSTGEN_CORES", cfg.Cores)
	cfg.ReuseProbability = env.Float64("INSTGEN_REUSE", cfg.ReuseProbability)
	cfg.OrderedSlots = env.Bool("INSTGEN_ORDERED")
	cfg.Verbose = env.Bool("INSTGEN_VERBOSE")

	return cfg, cfg.Validate()
}

// Validate checks ranges and that the address windows do not overlap
func (c Config) Validate() error {
	if _, err := ProfileFor(c.Arch); err != nil {
		return err
	}
	if c.Cores < 1 {
		return fmt.Errorf("cores must be at least 1, got %d", c.Cores)
	}
	if c.ReuseProbability < 0 || c.ReuseProbability > 1 {
		return fmt.Errorf("reuse probability must be within [0, 1], got %g", c.ReuseProbability)
	}
	if c.CoreWindow == 0 || c.SharedWindow == 0 {
		return fmt.Errorf("memory windows must not be empty")
	}
	if c.CoreWindow > (math.MaxUint64-c.MemoryBase)/uint64(c.Cores) || c.SharedWindow > math.MaxUint64-c.SharedBase {
		return fmt.Errorf("memory windows exceed the 64-bit address space")
	}
	coresEnd := c.MemoryBase + uint64(c.Cores)*c.CoreWindow
	if c.SharedBase < coresEnd && c.MemoryBase < c.SharedBase+c.SharedWindow {
		return fmt.Errorf("cross-core window 0x%x overlaps the core windows 0x%x-0x%x", c.SharedBase, c.MemoryBase, coresEnd)
	}
	return nil
}

// coreWindow returns the virtual window of a core
func (c Config) coreWindow(core int) Window {
	return Window{Base: c.MemoryBase + uint64(core)*c.CoreWindow, Size: c.CoreWindow}
}
