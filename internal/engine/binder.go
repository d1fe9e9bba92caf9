// Completion: 95% - Operand binder complete, one memory region per memory group
package engine

import (
	"strings"
)

// Operand binder
//
// Bind turns a template into concrete instructions:
//  1. find the slots that can take the caller's src and dest operands
//  2. pick a src slot and a dest slot that differ
//  3. materialize every memory operand: a region (caller's or freshly
//     allocated), a scratch register loaded with its address by a
//     prerequisite instruction, and the region's offset
//  4. fill every other slot from the pool, the immediate generator, fresh
//     labels, condition codes or option sets
//  5. emit prerequisites followed by the main instruction
//
// Scratch registers and regions allocated by the binder live for one
// instruction only; they are released on every return path.

// shiftMnemonics take an immediate bounded by the data width
var shiftMnemonics = map[string]bool{
	"shl": true, "shr": true, "sar": true, "sal": true, "rol": true, "ror": true,
	"lsl": true, "lsr": true, "asr": true,
	"slli": true, "srli": true, "srai": true, "slliw": true, "srliw": true, "sraiw": true,
}

// memGroup is one memory operand: either a single TypeMemory slot, or a run
// of adjacent sub-role slots (base, offset-immediate, offset-register)
type memGroup struct {
	slots  []int
	region *Region
}

type binding struct {
	ctx      *Context
	tmpl     *Template
	text     []string
	bound    []bool
	families map[string]string
	groups   []*memGroup
	leases   []*Lease
	borrowed []*Resource // caller registers held reserved while scratch registers are picked
	owned    []*Region   // regions allocated by this bind
	prereqs  []Instruction
	after    []Instruction
}

// Bind resolves every slot of t and returns the prerequisite instructions
// followed by the main instruction. src and dest are optional.
func (c *Context) Bind(t *Template, src, dest *Operand) ([]Instruction, error) {
	return c.bind(t, src, dest, "")
}

func (c *Context) bind(t *Template, src, dest *Operand, comment string) ([]Instruction, error) {
	b := &binding{
		ctx:      c,
		tmpl:     t,
		text:     make([]string, len(t.Slots)),
		bound:    make([]bool, len(t.Slots)),
		families: make(map[string]string),
		groups:   memGroups(t),
	}
	defer b.release()

	srcIdx, destIdx, err := c.placeOperands(t, src, dest)
	if err != nil {
		return nil, err
	}
	if srcIdx >= 0 {
		if err := b.bindSupplied(srcIdx, src); err != nil {
			return nil, err
		}
	}
	if destIdx >= 0 {
		if err := b.bindSupplied(destIdx, dest); err != nil {
			return nil, err
		}
	}
	if err := b.materializeMemory(); err != nil {
		return nil, err
	}
	for i := range t.Slots {
		if b.bound[i] {
			continue
		}
		if err := b.fill(i); err != nil {
			return nil, err
		}
	}

	main := Instruction{Kind: KindInstruction, Mnemonic: t.Mnemonic, Operands: b.operands(), Comment: comment}
	out := make([]Instruction, 0, len(b.prereqs)+1+len(b.after))
	out = append(out, b.prereqs...)
	out = append(out, main)
	out = append(out, b.after...)
	c.debugf("bound %s -> %s", t, main)
	return out, nil
}

// placeOperands picks the slot indices for src and dest (-1 when not supplied).
// Candidates are tried in seeded-shuffle order, or ascending index order when
// OrderedSlots is set; the first src/dest pair with distinct indices wins.
func (c *Context) placeOperands(t *Template, src, dest *Operand) (int, int, error) {
	var srcCands, destCands []int
	if src != nil {
		if srcCands = compatibleSlots(c.Profile, t, RoleSrc, src); len(srcCands) == 0 {
			return -1, -1, newError(ErrNoValidOperandAssignment, "no slot of %s accepts src %s", t, src)
		}
	}
	if dest != nil {
		if destCands = compatibleSlots(c.Profile, t, RoleDest, dest); len(destCands) == 0 {
			return -1, -1, newError(ErrNoValidOperandAssignment, "no slot of %s accepts dest %s", t, dest)
		}
	}
	if !c.cfg.OrderedSlots {
		c.rng.Shuffle(len(srcCands), func(i, j int) { srcCands[i], srcCands[j] = srcCands[j], srcCands[i] })
		c.rng.Shuffle(len(destCands), func(i, j int) { destCands[i], destCands[j] = destCands[j], destCands[i] })
	}

	switch {
	case src == nil && dest == nil:
		return -1, -1, nil
	case dest == nil:
		return srcCands[0], -1, nil
	case src == nil:
		return -1, destCands[0], nil
	}
	for _, s := range srcCands {
		for _, d := range destCands {
			if s != d {
				return s, d, nil
			}
		}
	}
	return -1, -1, newError(ErrNoValidOperandAssignment, "src %s and dest %s both only fit slot %d of %s", src, dest, srcCands[0], t)
}

func memGroups(t *Template) []*memGroup {
	var groups []*memGroup
	var open *memGroup
	for i, s := range t.Slots {
		switch {
		case s.Type == TypeMemory:
			groups = append(groups, &memGroup{slots: []int{i}})
			open = nil
		case s.MemRole == MemNone:
			open = nil
		case s.MemRole == MemBase && open != nil && open.has(t, MemBase), open == nil:
			open = &memGroup{slots: []int{i}}
			groups = append(groups, open)
		default:
			open.slots = append(open.slots, i)
		}
	}
	return groups
}

func (g *memGroup) has(t *Template, role MemRole) bool {
	for _, i := range g.slots {
		if t.Slots[i].MemRole == role {
			return true
		}
	}
	return false
}

func (b *binding) groupOf(slot int) *memGroup {
	for _, g := range b.groups {
		for _, i := range g.slots {
			if i == slot {
				return g
			}
		}
	}
	return nil
}

func (b *binding) bindSupplied(i int, op *Operand) error {
	s := b.tmpl.Slots[i]
	d := b.ctx.Profile.Dialect
	switch op.Kind {
	case OperandRegister:
		if !op.Register.Reserved() {
			b.ctx.Pool.Reserve(op.Register)
			b.borrowed = append(b.borrowed, op.Register)
		}
		text := op.Register.Text(s.Width)
		if len(s.Options) > 0 && s.Family != "" {
			text += "." + b.family(s)
		}
		b.text[i] = text
	case OperandRegion:
		g := b.groupOf(i)
		if g == nil {
			return newError(ErrInvalidOperandType, "slot %d of %s is not a memory operand", i, b.tmpl)
		}
		g.region = op.Region
		return nil // text is produced with the rest of the group
	case OperandImmediate:
		b.text[i] = d.Immediate(op.Value)
	case OperandLabel:
		b.text[i] = op.Label
	default:
		return newError(ErrInvalidOperandType, "operand kind %s", op.Kind)
	}
	b.bound[i] = true
	return nil
}

// dataWidth is the widest register, immediate or memory access in the template
func (b *binding) dataWidth() int {
	width := 0
	for _, s := range b.tmpl.Slots {
		if s.MemRole != MemNone {
			continue
		}
		if s.Type.isRegister() || s.Type == TypeMemory {
			width = max(width, s.Width)
		}
	}
	return width
}

func (b *binding) materializeMemory() error {
	c := b.ctx
	d := c.Profile.Dialect
	for _, g := range b.groups {
		region := g.region
		if region == nil {
			size := uint64(max(b.dataWidth(), 8) / 8)
			r, err := c.Memory.Allocate(AllocRequest{Size: size, Align: naturalAlign(size), Type: MemData, Sharing: SharingPrivate})
			if err != nil {
				return err
			}
			b.owned = append(b.owned, r)
			region = r
		}

		base, err := b.lease(Selector{Class: ClassGPR, Width: c.Profile.AddressWidth})
		if err != nil {
			return err
		}
		symbol, offset := region.Symbol()
		baseText := base.Text(c.Profile.AddressWidth)
		b.prereqs = append(b.prereqs, d.LoadAddress(baseText, symbol))

		ref := MemoryRef{Base: baseText, Offset: int64(offset)}
		for _, i := range g.slots {
			s := b.tmpl.Slots[i]
			switch {
			case s.Type == TypeMemory:
				ref.Width = s.Width
			case s.MemRole == MemOffsetReg:
				index, err := b.lease(Selector{Class: ClassGPR, Width: c.Profile.AddressWidth})
				if err != nil {
					return err
				}
				ref.Index = index.Text(c.Profile.AddressWidth)
				b.prereqs = append(b.prereqs, d.LoadImmediate(ref.Index, 0))
			}
		}
		// The whole group renders as one operand at its first slot
		for n, i := range g.slots {
			b.bound[i] = true
			if n == 0 {
				b.text[i] = d.Memory(ref)
			}
		}
	}
	return nil
}

func (b *binding) lease(sel Selector) (*Resource, error) {
	l, err := b.ctx.Pool.Lease(sel)
	if err != nil {
		return nil, err
	}
	b.leases = append(b.leases, l)
	return l.Resource(), nil
}

func (b *binding) fill(i int) error {
	c := b.ctx
	s := b.tmpl.Slots[i]
	switch s.Type {
	case TypeGPR, TypeVector, TypePredicate, TypeFloat:
		class, ok := c.Profile.ClassFor(s.Type)
		if !ok {
			return newError(ErrInvalidOperandType, "%s has no %s registers (slot %d of %s)", c.Profile.Arch, s.Type, i, b.tmpl)
		}
		r, err := c.Pool.Acquire(Selector{Class: class, Width: s.Width, Restricted: s.Restricted})
		if err != nil {
			return err
		}
		text := r.Text(s.Width)
		if len(s.Options) > 0 && s.Family != "" {
			text += "." + b.family(s)
		}
		b.text[i] = text
	case TypeImmediate:
		b.text[i] = b.immediate(s)
	case TypeLabel:
		name := c.NewLabel("L")
		b.text[i] = name
		// Fresh targets are placed right after the instruction so the branch is well-formed
		b.after = append(b.after, labelLine(name))
	case TypeCondition:
		choices := s.Options
		if len(choices) == 0 {
			choices = c.Profile.Conditions
		}
		choices = without(choices, s.Exclude)
		if len(choices) == 0 {
			return newError(ErrNoValidOperandAssignment, "no condition left for slot %d of %s", i, b.tmpl)
		}
		b.text[i] = choices[c.rng.Intn(len(choices))]
	case TypeOption:
		if len(without(s.Options, s.Exclude)) == 0 {
			return newError(ErrInvalidOperandType, "option slot %d of %s has no options", i, b.tmpl)
		}
		b.text[i] = b.family(s)
	default:
		return newError(ErrInvalidOperandType, "slot %d of %s has type %s", i, b.tmpl, s.Type)
	}
	b.bound[i] = true
	return nil
}

// family picks one of the slot's options; slots of the same family agree
func (b *binding) family(s Slot) string {
	if s.Family != "" {
		if v, ok := b.families[s.Family]; ok {
			return v
		}
	}
	choices := without(s.Options, s.Exclude)
	if len(choices) == 0 {
		return ""
	}
	v := choices[b.ctx.rng.Intn(len(choices))]
	if s.Family != "" {
		b.families[s.Family] = v
	}
	return v
}

// immediate draws a value within the slot's encoded width and renders it.
// Unsigned 64-bit values are rendered from a uint64 so they never print negative.
func (b *binding) immediate(s Slot) string {
	rng := b.ctx.rng
	d := b.ctx.Profile.Dialect
	if shiftMnemonics[strings.ToLower(b.tmpl.Mnemonic)] || b.tmpl.Attributes["shift"] == "true" {
		if w := b.dataWidth(); w > 0 {
			limit := int64(w)
			if s.Width > 0 && s.Width < 63 {
				limit = min(limit, int64(1)<<s.Width)
			}
			return d.Immediate(rng.Int63n(limit))
		}
	}
	w := s.Width
	switch {
	case w <= 0:
		w = 8
	case w >= 64 && s.Signed:
		return d.Immediate(int64(rng.Uint64()))
	case w >= 64:
		return d.UnsignedImmediate(rng.Uint64())
	case w == 63 && s.Signed:
		return d.Immediate(rng.Int63() - int64(1)<<62)
	case w == 63:
		return d.Immediate(rng.Int63())
	}
	if s.Signed {
		return d.Immediate(rng.Int63n(int64(1)<<w) - int64(1)<<(w-1))
	}
	return d.Immediate(rng.Int63n(int64(1) << w))
}

// operands returns the bound text in slot order; memory groups contribute one operand
func (b *binding) operands() []string {
	var out []string
	for i, text := range b.text {
		if g := b.groupOf(i); g != nil && g.slots[0] != i {
			continue
		}
		out = append(out, text)
	}
	return out
}

func (b *binding) release() {
	for _, l := range b.leases {
		l.Release()
	}
	for _, r := range b.borrowed {
		b.ctx.Pool.Free(r)
	}
	for _, r := range b.owned {
		b.ctx.Memory.Release(r)
	}
}

func without(choices, exclude []string) []string {
	if len(exclude) == 0 {
		return choices
	}
	skip := make(map[string]bool, len(exclude))
	for _, e := range exclude {
		skip[e] = true
	}
	var out []string
	for _, c := range choices {
		if !skip[c] {
			out = append(out, c)
		}
	}
	return out
}
