// Completion: 100% - Core contexts and context switching complete
package engine

import (
	"errors"
	"fmt"
	"io"
	"math/rand"
	"os"
)

// labelMinter hands out unique names per prefix
type labelMinter struct {
	counters map[string]int
}

func newLabelMinter() *labelMinter {
	return &labelMinter{counters: make(map[string]int)}
}

func (m *labelMinter) next(prefix string) string {
	n := m.counters[prefix]
	m.counters[prefix] = n + 1
	return fmt.Sprintf("%s_%d", prefix, n)
}

// Context is everything one core's instruction stream is generated against:
// its register pool, its memory allocator and its listing
type Context struct {
	Core    int
	Profile *Profile
	Pool    *Pool
	Memory  *Allocator
	Listing *Listing

	catalog *Catalog
	cfg     Config
	rng     *rand.Rand
	labels  *labelMinter
	log     io.Writer
}

// NewContext builds a standalone single-core context
func NewContext(cfg Config, catalog *Catalog) (*Context, error) {
	m, err := NewMachine(cfg, catalog)
	if err != nil {
		return nil, err
	}
	return m.Current(), nil
}

// Rand returns the context's seeded random source
func (c *Context) Rand() *rand.Rand {
	return c.rng
}

// Catalog returns the template catalog
func (c *Context) Catalog() *Catalog {
	return c.catalog
}

// NewLabel mints a label unique across the whole machine
func (c *Context) NewLabel(prefix string) string {
	return c.labels.next(prefix)
}

// Emit appends lines to the context's listing
func (c *Context) Emit(ins ...Instruction) {
	c.Listing.Emit(ins...)
}

func (c *Context) debugf(format string, args ...any) {
	if c.cfg.Verbose {
		fmt.Fprintf(c.log, "DEBUG core%d: "+format+"\n", append([]any{c.Core}, args...)...)
	}
}

// Machine owns one context per core. Exactly one context is current; only
// Switch changes which.
type Machine struct {
	cfg      Config
	profile  *Profile
	catalog  *Catalog
	shared   *SharedMemory
	contexts []*Context
	current  *Context
}

// NewMachine creates the per-core contexts. A nil catalog selects the built-in
// templates of cfg.Arch.
func NewMachine(cfg Config, catalog *Catalog) (*Machine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	profile, err := ProfileFor(cfg.Arch)
	if err != nil {
		return nil, err
	}
	if catalog == nil {
		if catalog, err = BuiltinCatalog(cfg.Arch); err != nil {
			return nil, err
		}
	}
	if catalog.Arch() != cfg.Arch {
		return nil, fmt.Errorf("catalog is for %s, configuration selects %s", catalog.Arch(), cfg.Arch)
	}
	log := cfg.Log
	if log == nil {
		log = os.Stderr
	}

	m := &Machine{
		cfg:     cfg,
		profile: profile,
		catalog: catalog,
		shared:  NewSharedMemory(Window{Base: cfg.SharedBase, Size: cfg.SharedWindow}),
	}
	labels := newLabelMinter()
	for core := 0; core < cfg.Cores; core++ {
		// Per-core sources keep each stream reproducible regardless of switch order
		rng := rand.New(rand.NewSource(cfg.Seed*1_000_003 + int64(core)))
		mem := NewAllocator(core, cfg.coreWindow(core), m.shared, rng)
		mem.SetReuseProbability(cfg.ReuseProbability)
		m.contexts = append(m.contexts, &Context{
			Core:    core,
			Profile: profile,
			Pool:    NewPool(profile, rng),
			Memory:  mem,
			Listing: NewListing(profile.Dialect),
			catalog: catalog,
			cfg:     cfg,
			rng:     rng,
			labels:  labels,
			log:     log,
		})
	}
	m.current = m.contexts[0]
	return m, nil
}

// Current returns the active context
func (m *Machine) Current() *Context {
	return m.current
}

// Switch makes another core's context the active one
func (m *Machine) Switch(core int) (*Context, error) {
	if core < 0 || core >= len(m.contexts) {
		return nil, newError(ErrResourceNotFound, "no core %d (machine has %d)", core, len(m.contexts))
	}
	m.current = m.contexts[core]
	m.current.debugf("switched in")
	return m.current, nil
}

// Contexts returns every core context in core order
func (m *Machine) Contexts() []*Context {
	return append([]*Context(nil), m.contexts...)
}

// Config returns the machine configuration
func (m *Machine) Config() Config {
	return m.cfg
}

// Verify checks the allocation invariants across all cores: live regions of
// each core never overlap, and physical overlap only happens between
// cross-core mappings of the same backing
func (m *Machine) Verify() error {
	var all []*Region
	var errs []error
	for _, c := range m.contexts {
		live := c.Memory.Live()
		if err := CheckOverlap(live); err != nil {
			errs = append(errs, fmt.Errorf("core %d: %w", c.Core, err))
		}
		all = append(all, live...)
	}
	if err := checkPhysicalOverlap(all); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// WriteProgram writes the whole program: header, one text section per core,
// then every core's data declarations
func (m *Machine) WriteProgram(w io.Writer) error {
	d := m.profile.Dialect
	var lines []Instruction
	lines = append(lines, d.Header()...)
	lines = append(lines, Instruction{
		Kind:     KindDirective,
		Mnemonic: ".text",
		Comment:  fmt.Sprintf("instgen %s seed=%d cores=%d", m.cfg.Arch, m.cfg.Seed, m.cfg.Cores),
	})
	for _, c := range m.contexts {
		lines = append(lines,
			directive(".section", fmt.Sprintf(".text.core%d", c.Core)),
			directive(".globl", fmt.Sprintf("core%d_start", c.Core)),
			labelLine(fmt.Sprintf("core%d_start", c.Core)),
		)
		lines = append(lines, c.Listing.Lines()...)
	}
	for _, c := range m.contexts {
		lines = append(lines, c.Memory.Declarations()...)
	}
	_, err := writeLines(w, d, lines)
	return err
}
