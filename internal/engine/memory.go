// Completion: 100% - Memory region allocator complete
package engine

import (
	"fmt"
	"math/rand"
	"sort"
)

// Memory region allocator
//
// Each core context owns an Allocator carving regions out of its own virtual
// address window with a bump cursor. Released regions go to a free list and may
// be handed out again (address reuse is a hazard worth exercising). A region can
// act as a block: sub-regions are carved from it at aligned offsets.
//
// Cross-core regions take their physical backing from the machine-wide
// SharedMemory, so several cores can map the same bytes at different virtual
// addresses. Only the first mapping declares the backing store; later ones are
// no-load re-declarations.

// MemoryType tags what a region holds
type MemoryType int

const (
	MemData MemoryType = iota
	MemCode
	MemBootCode
	MemSharedData
	MemPreservedData
	MemStack
)

func (t MemoryType) String() string {
	switch t {
	case MemData:
		return "data"
	case MemCode:
		return "code"
	case MemBootCode:
		return "boot_code"
	case MemSharedData:
		return "shared_data"
	case MemPreservedData:
		return "preserved_data"
	case MemStack:
		return "stack"
	default:
		return "unknown"
	}
}

func (t MemoryType) section() string {
	switch t {
	case MemCode:
		return ".text"
	case MemBootCode:
		return ".text.boot"
	case MemSharedData:
		return ".data.shared"
	case MemPreservedData:
		return ".data.preserved"
	case MemStack:
		return ".bss.stack"
	default:
		return ".data"
	}
}

// Sharing describes who may reference a region
type Sharing int

const (
	SharingPrivate Sharing = iota
	SharingShared
	SharingCrossCore
)

func (s Sharing) String() string {
	switch s {
	case SharingPrivate:
		return "private"
	case SharingShared:
		return "shared"
	case SharingCrossCore:
		return "cross_core"
	default:
		return "unknown"
	}
}

// Region is a byte-addressable span
type Region struct {
	Name     string
	Address  uint64 // virtual
	Physical uint64
	Size     uint64
	Align    uint64
	Type     MemoryType
	Sharing  Sharing
	Block    *Region // parent block, nil for top-level regions
	Offset   uint64  // offset inside Block
	Core     int
	NoLoad   bool // backing declared by another core's mapping
	Reuses   int  // times served from the free list

	live     bool
	inline   bool   // code region whose contents are emitted in the instruction stream
	used     uint64 // bytes consumed by sub-regions
	children []*Region
}

// Live reports whether the region is currently allocated
func (r *Region) Live() bool {
	return r.live
}

// End returns the first address past the region
func (r *Region) End() uint64 {
	return r.Address + r.Size
}

// Symbol returns the top-level label the region is addressed from and the byte
// offset of the region relative to it
func (r *Region) Symbol() (string, uint64) {
	var off uint64
	for r.Block != nil {
		off += r.Offset
		r = r.Block
	}
	return r.Name, off
}

// Remaining returns the free bytes at the end of a block
func (r *Region) Remaining() uint64 {
	return r.Size - r.used
}

// Children returns the sub-regions carved from this block, in offset order
func (r *Region) Children() []*Region {
	return append([]*Region(nil), r.children...)
}

func (r *Region) String() string {
	return fmt.Sprintf("%s[0x%x+%d]", r.Name, r.Address, r.Size)
}

// AllocRequest describes a region to allocate
type AllocRequest struct {
	Size    uint64
	Align   uint64
	Type    MemoryType
	Sharing Sharing
	Parent  *Region // carve from this block instead of the address window
}

// Window is an address range [Base, Base+Size)
type Window struct {
	Base uint64
	Size uint64
}

// Allocator hands out regions for one core context
type Allocator struct {
	core    int
	window  Window
	cursor  uint64
	regions []*Region // every top-level region ever carved, in address order
	free    []*Region // released top-level regions, in address order
	reuse   float64
	rng     *rand.Rand
	shared  *SharedMemory
	names   *labelMinter
}

// NewAllocator creates an allocator carving from window. shared may be nil when
// no cross-core regions are needed.
func NewAllocator(core int, window Window, shared *SharedMemory, rng *rand.Rand) *Allocator {
	return &Allocator{
		core:   core,
		window: window,
		cursor: window.Base,
		reuse:  0.5,
		rng:    rng,
		shared: shared,
		names:  newLabelMinter(),
	}
}

// SetReuseProbability sets the chance that a compatible released region is
// served again instead of carving a fresh one (0 disables reuse)
func (a *Allocator) SetReuseProbability(p float64) {
	a.reuse = p
}

// Allocate returns a new or reused region
func (a *Allocator) Allocate(req AllocRequest) (*Region, error) {
	if req.Size == 0 {
		return nil, newError(ErrBlockOverflow, "zero-sized region request")
	}
	if req.Align == 0 {
		req.Align = 1
	}
	if req.Parent != nil {
		return a.carveFrom(req.Parent, req)
	}
	if r := a.reuseCandidate(req); r != nil {
		return r, nil
	}
	return a.carveFresh(req)
}

func (a *Allocator) carveFrom(block *Region, req AllocRequest) (*Region, error) {
	if !block.live {
		return nil, newError(ErrBlockOverflow, "block %s is not allocated", block.Name)
	}

	// A previously released slot is reused first-fit by offset
	for _, c := range block.children {
		if !c.live && c.Size >= req.Size && c.Address%req.Align == 0 {
			c.live = true
			c.Reuses++
			return c, nil
		}
	}

	start, ok := alignUp(block.Address+block.used, req.Align)
	offset := start - block.Address
	if !ok || !fitsBelow(offset, req.Size, block.Size) {
		return nil, newError(ErrBlockOverflow, "%d bytes aligned to %d do not fit in %s (%d of %d bytes used)",
			req.Size, req.Align, block.Name, block.used, block.Size)
	}

	typ := req.Type
	if typ == MemData {
		typ = block.Type
	}
	child := &Region{
		Name:     fmt.Sprintf("%s_%d", block.Name, len(block.children)),
		Address:  start,
		Physical: block.Physical + offset,
		Size:     req.Size,
		Align:    req.Align,
		Type:     typ,
		Sharing:  block.Sharing,
		Block:    block,
		Offset:   offset,
		Core:     a.core,
		NoLoad:   block.NoLoad,
		live:     true,
	}
	block.children = append(block.children, child)
	block.used = offset + req.Size
	return child, nil
}

func (a *Allocator) reuseCandidate(req AllocRequest) *Region {
	if a.reuse <= 0 || len(a.free) == 0 {
		return nil
	}
	if a.rng.Float64() >= a.reuse {
		return nil
	}
	for i, r := range a.free {
		if r.Type != req.Type || r.Sharing != req.Sharing || r.Size < req.Size || r.Address%req.Align != 0 {
			continue
		}
		a.free = append(a.free[:i], a.free[i+1:]...)
		r.live = true
		r.Reuses++
		r.used = 0
		r.children = nil
		return r
	}
	return nil
}

func (a *Allocator) carveFresh(req AllocRequest) (*Region, error) {
	start, ok := alignUp(a.cursor, req.Align)
	if !ok || !fitsBelow(start, req.Size, a.window.Base+a.window.Size) {
		return nil, newError(ErrResourceExhausted, "address window of core %d exhausted (%d bytes requested)", a.core, req.Size)
	}

	r := &Region{
		Name:     a.names.next(fmt.Sprintf("mem_c%d", a.core)),
		Address:  start,
		Physical: start,
		Size:     req.Size,
		Align:    req.Align,
		Type:     req.Type,
		Sharing:  req.Sharing,
		Core:     a.core,
		live:     true,
	}
	if req.Sharing == SharingCrossCore {
		if a.shared == nil {
			return nil, newError(ErrResourceExhausted, "core %d has no shared memory for a cross-core region", a.core)
		}
		phys, first, err := a.shared.mapBacking(a.core, req)
		if err != nil {
			return nil, err
		}
		r.Physical = phys
		r.NoLoad = !first
	}

	a.cursor = start + req.Size
	a.regions = append(a.regions, r)
	return r, nil
}

// Release returns a region to the allocator. Releasing twice is a no-op.
// Addresses stay mapped: the backing is still declared.
func (a *Allocator) Release(r *Region) {
	if r == nil || !r.live {
		return
	}
	r.live = false
	for _, c := range r.children {
		c.live = false
	}
	// Inline code stays in the image, so its range is never served again
	if r.Block != nil || r.inline {
		return
	}
	i := sort.Search(len(a.free), func(i int) bool { return a.free[i].Address >= r.Address })
	a.free = append(a.free, nil)
	copy(a.free[i+1:], a.free[i:])
	a.free[i] = r
}

// Live returns the allocated top-level regions sorted by address
func (a *Allocator) Live() []*Region {
	var out []*Region
	for _, r := range a.regions {
		if r.live {
			out = append(out, r)
		}
	}
	return out
}

// Regions returns every top-level region ever carved, sorted by address
func (a *Allocator) Regions() []*Region {
	return append([]*Region(nil), a.regions...)
}

// Declarations renders the backing-store directives for every region ever carved
func (a *Allocator) Declarations() []Instruction {
	var out []Instruction
	for _, r := range a.regions {
		if r.inline {
			continue
		}
		if r.NoLoad {
			owner := ""
			if a.shared != nil {
				owner = a.shared.owner(r.Physical)
			}
			out = append(out, Instruction{
				Kind:     KindDirective,
				Mnemonic: ".equ",
				Operands: []string{r.Name, fmt.Sprintf("0x%x", r.Address)},
				Comment:  fmt.Sprintf("noload: pa=0x%x backed by %s", r.Physical, owner),
			})
			continue
		}
		section := r.Type.section()
		if r.Sharing == SharingCrossCore {
			section = ".data.crosscore"
		}
		out = append(out,
			directive(".section", fmt.Sprintf("%s.core%d", section, a.core)),
			directive(".balign", fmt.Sprintf("%d", r.Align)),
			Instruction{Kind: KindLabel, Mnemonic: r.Name, Comment: fmt.Sprintf("va=0x%x pa=0x%x %s %s", r.Address, r.Physical, r.Type, r.Sharing)},
			directive(".space", fmt.Sprintf("%d", r.Size)),
		)
	}
	return out
}

// CheckOverlap verifies that regions of one address space do not overlap.
// Regions that are both cross-core with the same physical address are
// intentional aliases and allowed.
func CheckOverlap(regions []*Region) error {
	sorted := append([]*Region(nil), regions...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Address < sorted[j].Address })
	for i := 1; i < len(sorted); i++ {
		prev, cur := sorted[i-1], sorted[i]
		if cur.Address >= prev.End() {
			continue
		}
		if prev.Sharing == SharingCrossCore && cur.Sharing == SharingCrossCore && prev.Physical == cur.Physical {
			continue
		}
		return newError(ErrBlockOverflow, "%s overlaps %s", cur, prev)
	}
	return nil
}

// checkPhysicalOverlap is CheckOverlap over physical addresses, across cores
func checkPhysicalOverlap(regions []*Region) error {
	sorted := append([]*Region(nil), regions...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Physical < sorted[j].Physical })
	for i := 1; i < len(sorted); i++ {
		prev, cur := sorted[i-1], sorted[i]
		if cur.Physical >= prev.Physical+prev.Size {
			continue
		}
		if prev.Sharing == SharingCrossCore && cur.Sharing == SharingCrossCore && prev.Physical == cur.Physical {
			continue
		}
		return newError(ErrBlockOverflow, "%s physically overlaps %s", cur, prev)
	}
	return nil
}

// SharedMemory is the physical window backing cross-core regions
type SharedMemory struct {
	window   Window
	cursor   uint64
	backings []*backing
}

type backing struct {
	physical uint64
	size     uint64
	typ      MemoryType
	owner    string // core-qualified description of the first mapping
	mappedBy map[int]bool
}

// NewSharedMemory creates the cross-core physical window
func NewSharedMemory(window Window) *SharedMemory {
	return &SharedMemory{window: window, cursor: window.Base}
}

// mapBacking maps a backing this core has not mapped yet, or carves a new one.
// first reports whether this mapping declares the backing store.
func (s *SharedMemory) mapBacking(core int, req AllocRequest) (phys uint64, first bool, err error) {
	for _, b := range s.backings {
		if b.mappedBy[core] || b.typ != req.Type || b.size < req.Size || b.physical%req.Align != 0 {
			continue
		}
		b.mappedBy[core] = true
		return b.physical, false, nil
	}

	start, ok := alignUp(s.cursor, req.Align)
	if !ok || !fitsBelow(start, req.Size, s.window.Base+s.window.Size) {
		return 0, false, newError(ErrResourceExhausted, "cross-core window exhausted (%d bytes requested)", req.Size)
	}
	s.cursor = start + req.Size
	s.backings = append(s.backings, &backing{
		physical: start,
		size:     req.Size,
		typ:      req.Type,
		owner:    fmt.Sprintf("core %d", core),
		mappedBy: map[int]bool{core: true},
	})
	return start, true, nil
}

func (s *SharedMemory) owner(physical uint64) string {
	for _, b := range s.backings {
		if b.physical == physical {
			return b.owner
		}
	}
	return "unknown"
}
