// Completion: 100% - Resource pool complete
package engine

import (
	"fmt"
	"math/rand"
	"sort"
	"strings"
)

// ResourceClass is the hardware class of a register resource
type ResourceClass int

const (
	ClassGPR ResourceClass = iota
	ClassVector
	ClassPredicate
	ClassFloat
	ClassAny ResourceClass = -1
)

func (c ResourceClass) String() string {
	switch c {
	case ClassGPR:
		return "gpr"
	case ClassVector:
		return "vector"
	case ClassPredicate:
		return "predicate"
	case ClassFloat:
		return "float"
	case ClassAny:
		return "any"
	default:
		return "unknown"
	}
}

// Resource is one physical register. The reserved flag is only ever changed by a Pool.
type Resource struct {
	Name   string
	Class  ResourceClass
	Index  int
	Bank   string // architecture sub-class, e.g. "legacy", "extended", "compressible"
	Random bool   // false for fixed-purpose registers (stack pointer, zero register)

	forms    map[int]string // bit width -> textual form
	reserved bool
}

// Reserved reports whether the resource is currently held
func (r *Resource) Reserved() bool {
	return r.reserved
}

// HasWidth reports whether the register can be addressed at the given bit width
func (r *Resource) HasWidth(width int) bool {
	if width <= 0 {
		return true
	}
	_, ok := r.forms[width]
	return ok
}

// Text returns the size-specific name, or the canonical name when width is 0 or unknown
func (r *Resource) Text(width int) string {
	if s, ok := r.forms[width]; ok {
		return s
	}
	return r.Name
}

// Widths returns the supported bit widths in ascending order
func (r *Resource) Widths() []int {
	widths := make([]int, 0, len(r.forms))
	for w := range r.forms {
		widths = append(widths, w)
	}
	sort.Ints(widths)
	return widths
}

func (r *Resource) String() string {
	return r.Name
}

// Selector describes which resource a caller wants
type Selector struct {
	Name       string // exact register (or alias / sized form); empty for random selection
	Class      ResourceClass
	Width      int  // 0 accepts any width
	Restricted bool // slot encoding only reaches the low register bank
}

// Pool is the set of registers of one core context
type Pool struct {
	profile   *Profile
	rng       *rand.Rand
	resources []*Resource
	byName    map[string]*Resource
}

// NewPool populates a pool with the fixed register set of the profile
func NewPool(profile *Profile, rng *rand.Rand) *Pool {
	p := &Pool{
		profile:   profile,
		rng:       rng,
		resources: profile.newResources(),
		byName:    make(map[string]*Resource),
	}
	for _, r := range p.resources {
		p.byName[r.Name] = r
		for _, form := range r.forms {
			if _, taken := p.byName[form]; !taken {
				p.byName[form] = r
			}
		}
	}
	return p
}

// Profile returns the architecture profile the pool was built from
func (p *Pool) Profile() *Profile {
	return p.profile
}

// Resources returns every resource in pool order
func (p *Pool) Resources() []*Resource {
	return append([]*Resource(nil), p.resources...)
}

// Lookup finds a resource by canonical name, sized form or alias
func (p *Pool) Lookup(name string) (*Resource, error) {
	key := strings.ToLower(name)
	if alias, ok := p.profile.Aliases[key]; ok {
		key = alias
	}
	if r, ok := p.byName[key]; ok {
		return r, nil
	}

	err := newError(ErrResourceNotFound, "no register named %q on %s", name, p.profile.Arch)
	names := make([]string, 0, len(p.resources))
	for _, r := range p.resources {
		names = append(names, r.Name)
	}
	if similar := findSimilarNames(key, names, 3); len(similar) > 0 {
		err.Suggestion = fmt.Sprintf("did you mean %s?", strings.Join(similar, ", "))
	}
	return nil, err
}

// GetFree returns the unreserved resources of a class (ClassAny for all), in pool order
func (p *Pool) GetFree(class ResourceClass) []*Resource {
	var out []*Resource
	for _, r := range p.resources {
		if !r.reserved && (class == ClassAny || r.Class == class) {
			out = append(out, r)
		}
	}
	return out
}

// GetUsed returns the reserved resources of a class (ClassAny for all), in pool order
func (p *Pool) GetUsed(class ResourceClass) []*Resource {
	var out []*Resource
	for _, r := range p.resources {
		if r.reserved && (class == ClassAny || r.Class == class) {
			out = append(out, r)
		}
	}
	return out
}

// candidates returns the free, randomly selectable resources matching sel after the
// architecture preference rules have narrowed them
func (p *Pool) candidates(sel Selector) []*Resource {
	var out []*Resource
	for _, r := range p.resources {
		if r.reserved || !r.Random || r.Class != sel.Class || !r.HasWidth(sel.Width) {
			continue
		}
		out = append(out, r)
	}
	return p.profile.prefer(sel, out)
}

// Acquire returns a resource without reserving it.
// A named selector returns exactly that register regardless of its reservation.
func (p *Pool) Acquire(sel Selector) (*Resource, error) {
	if sel.Name != "" {
		return p.Lookup(sel.Name)
	}
	cands := p.candidates(sel)
	if len(cands) == 0 {
		return nil, newError(ErrResourceExhausted, "no free %s register (width %d) on %s", sel.Class, sel.Width, p.profile.Arch)
	}
	return cands[p.rng.Intn(len(cands))], nil
}

// AcquireAndReserve selects like Acquire and reserves the result in the same step
func (p *Pool) AcquireAndReserve(sel Selector) (*Resource, error) {
	r, err := p.Acquire(sel)
	if err != nil {
		return nil, err
	}
	if sel.Name != "" && r.reserved {
		return nil, newError(ErrResourceExhausted, "register %s is already reserved", r.Name)
	}
	r.reserved = true
	return r, nil
}

// Reserve marks a resource as used. Reserving twice is a no-op.
func (p *Pool) Reserve(r *Resource) {
	if r != nil {
		r.reserved = true
	}
}

// Free returns a resource to the pool. Freeing a free resource is a no-op.
func (p *Pool) Free(r *Resource) {
	if r != nil {
		r.reserved = false
	}
}

// Lease is a reservation whose Release is safe to call on every exit path
type Lease struct {
	pool     *Pool
	resource *Resource
	released bool
}

// Lease reserves a resource and returns a guard for it.
// Typical use: l, err := pool.Lease(sel); if err != nil {...}; defer l.Release()
func (p *Pool) Lease(sel Selector) (*Lease, error) {
	r, err := p.AcquireAndReserve(sel)
	if err != nil {
		return nil, err
	}
	return &Lease{pool: p, resource: r}, nil
}

// Resource returns the leased register
func (l *Lease) Resource() *Resource {
	return l.resource
}

// Release frees the leased register once; later calls do nothing
func (l *Lease) Release() {
	if l == nil || l.released {
		return
	}
	l.released = true
	l.pool.Free(l.resource)
}
