// Completion: 100% - Architecture profiles complete
package engine

// Profile is the immutable per-architecture description: register set, preference
// rules, condition codes and assembly dialect. Each Pool builds its own Resource
// instances from it, so profiles can be shared by every core context.
type Profile struct {
	Arch         Arch
	Conditions   []string          // valid condition mnemonics
	Aliases      map[string]string // portable alias -> register name
	AddressWidth int               // width of an address register, in bits
	Dialect      Dialect

	registers []registerSpec
	rules     []preferenceRule
	classes   map[OperandType]ResourceClass
}

// registerSpec is the template a Pool instantiates a Resource from
type registerSpec struct {
	name   string
	class  ResourceClass
	index  int
	bank   string
	random bool
	forms  map[int]string
}

// preferenceRule narrows the random candidate set for some selectors.
// A strict rule may leave nothing; a soft rule falls back to the unnarrowed set.
type preferenceRule struct {
	applies func(sel Selector) bool
	keep    func(r *Resource) bool
	strict  bool
}

func (p *Profile) newResources() []*Resource {
	out := make([]*Resource, 0, len(p.registers))
	for _, spec := range p.registers {
		forms := make(map[int]string, len(spec.forms))
		for w, s := range spec.forms {
			forms[w] = s
		}
		out = append(out, &Resource{
			Name:   spec.name,
			Class:  spec.class,
			Index:  spec.index,
			Bank:   spec.bank,
			Random: spec.random,
			forms:  forms,
		})
	}
	return out
}

func (p *Profile) prefer(sel Selector, cands []*Resource) []*Resource {
	for _, rule := range p.rules {
		if !rule.applies(sel) {
			continue
		}
		var kept []*Resource
		for _, r := range cands {
			if rule.keep(r) {
				kept = append(kept, r)
			}
		}
		if len(kept) > 0 || rule.strict {
			cands = kept
		}
	}
	return cands
}

// ClassFor maps a register operand type to the resource class that backs it
func (p *Profile) ClassFor(t OperandType) (ResourceClass, bool) {
	c, ok := p.classes[t]
	return c, ok
}

var profiles = map[Arch]*Profile{
	ArchX86_64:  x86_64Profile(),
	ArchARM64:   arm64Profile(),
	ArchRiscv64: riscv64Profile(),
}

// ProfileFor returns the resource profile of an architecture
func ProfileFor(arch Arch) (*Profile, error) {
	p, ok := profiles[arch]
	if !ok {
		return nil, newError(ErrResourceNotFound, "no resource profile for architecture %s", arch)
	}
	return p, nil
}

// sameForm maps every width to one name (RISC-V, mask and predicate registers)
func sameForm(name string, widths ...int) map[int]string {
	forms := make(map[int]string, len(widths))
	for _, w := range widths {
		forms[w] = name
	}
	return forms
}
