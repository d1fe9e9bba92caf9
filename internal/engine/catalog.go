// Completion: 100% - Instruction catalog and query complete
package engine

import (
	"fmt"
	"math/rand"
	"strings"
)

// Role is how an instruction uses an operand slot
type Role int

const (
	RoleSrc Role = iota
	RoleDest
	RoleSrcDest
)

func (r Role) String() string {
	switch r {
	case RoleSrc:
		return "src"
	case RoleDest:
		return "dest"
	case RoleSrcDest:
		return "src_dest"
	default:
		return "unknown"
	}
}

// covers reports whether a slot with role r can hold an operand supplied as want
func (r Role) covers(want Role) bool {
	return r == want || r == RoleSrcDest
}

// OperandType is the kind of value a slot takes
type OperandType int

const (
	TypeGPR OperandType = iota
	TypeVector
	TypePredicate
	TypeFloat
	TypeImmediate
	TypeMemory
	TypeLabel
	TypeCondition
	TypeOption
)

func (t OperandType) String() string {
	switch t {
	case TypeGPR:
		return "gpr"
	case TypeVector:
		return "vector"
	case TypePredicate:
		return "predicate"
	case TypeFloat:
		return "float"
	case TypeImmediate:
		return "imm"
	case TypeMemory:
		return "mem"
	case TypeLabel:
		return "label"
	case TypeCondition:
		return "cond"
	case TypeOption:
		return "option"
	default:
		return fmt.Sprintf("type(%d)", int(t))
	}
}

func (t OperandType) isRegister() bool {
	switch t {
	case TypeGPR, TypeVector, TypePredicate, TypeFloat:
		return true
	}
	return false
}

// MemRole is the part of a memory operand a slot provides
type MemRole int

const (
	MemNone MemRole = iota
	MemBase
	MemOffsetImm
	MemOffsetReg
)

// Slot is one operand position of a template
type Slot struct {
	Name       string
	Role       Role
	Type       OperandType
	Width      int
	Signed     bool     // immediates: two's complement range
	Restricted bool     // registers: encoding reaches the low bank only
	Options    []string // enumerated choices (option slots, condition subsets, register suffixes)
	Family     string   // slots sharing a family resolve Options identically
	Exclude    []string // choices invalid for this instruction form
	MemRole    MemRole
}

func (s Slot) String() string {
	name := s.Name
	if name == "" {
		name = s.Role.String()
	}
	if s.Width > 0 {
		return fmt.Sprintf("%s:%s%d", name, s.Type, s.Width)
	}
	return fmt.Sprintf("%s:%s", name, s.Type)
}

// Template is an immutable catalog entry
type Template struct {
	Mnemonic       string
	Slots          []Slot
	Class          string // steering class: alu, load, store, branch, vector, ...
	Latency        int
	Attributes     map[string]string
	RandomGenerate bool
}

func (t *Template) String() string {
	parts := make([]string, len(t.Slots))
	for i, s := range t.Slots {
		parts[i] = s.String()
	}
	return strings.TrimSpace(t.Mnemonic + " " + strings.Join(parts, ", "))
}

// TemplateSource is the read-only instruction database
type TemplateSource interface {
	All() []*Template
}

// Constraint requires a template to have a slot accepting operand in role
type Constraint struct {
	Role    Role
	Operand *Operand
}

// Catalog answers queries over the templates of one architecture
type Catalog struct {
	profile   *Profile
	templates []*Template
}

// NewCatalog builds a catalog from a template source
func NewCatalog(arch Arch, src TemplateSource) (*Catalog, error) {
	profile, err := ProfileFor(arch)
	if err != nil {
		return nil, err
	}
	return &Catalog{profile: profile, templates: src.All()}, nil
}

// Templates is a TemplateSource backed by a slice
type Templates []*Template

// All returns every template
func (ts Templates) All() []*Template {
	return ts
}

// All returns every template, eligible for random generation or not
func (c *Catalog) All() []*Template {
	return append([]*Template(nil), c.templates...)
}

// Arch returns the catalog's architecture
func (c *Catalog) Arch() Arch {
	return c.profile.Arch
}

// Query returns the random-generate templates matching p (nil matches all) that
// have, for every constraint, at least one slot accepting the operand
func (c *Catalog) Query(p Predicate, cons ...Constraint) []*Template {
	var out []*Template
	for _, t := range c.templates {
		if !t.RandomGenerate {
			continue
		}
		if p != nil && !p.Match(t) {
			continue
		}
		if !c.satisfies(t, cons) {
			continue
		}
		out = append(out, t)
	}
	return out
}

func (c *Catalog) satisfies(t *Template, cons []Constraint) bool {
	for _, con := range cons {
		if con.Operand == nil {
			continue
		}
		if len(compatibleSlots(c.profile, t, con.Role, con.Operand)) == 0 {
			return false
		}
	}
	return true
}

// Pick selects one matching template uniformly at random
func (c *Catalog) Pick(rng *rand.Rand, p Predicate, cons ...Constraint) (*Template, error) {
	matches := c.Query(p, cons...)
	if len(matches) == 0 {
		return nil, newError(ErrNoMatchingInstruction, "no %s template matches %s", c.profile.Arch, describeQuery(p, cons))
	}
	return matches[rng.Intn(len(matches))], nil
}

func describeQuery(p Predicate, cons []Constraint) string {
	var parts []string
	if p != nil {
		parts = append(parts, fmt.Sprint(p))
	}
	for _, con := range cons {
		if con.Operand != nil {
			parts = append(parts, fmt.Sprintf("%s=%s", con.Role, con.Operand))
		}
	}
	if len(parts) == 0 {
		return "any query"
	}
	return strings.Join(parts, " with ")
}

// compatibleSlots returns the indices of the slots of t that can hold op in role
func compatibleSlots(profile *Profile, t *Template, role Role, op *Operand) []int {
	var idx []int
	for i, s := range t.Slots {
		if s.Role.covers(role) && accepts(profile, s, op) {
			idx = append(idx, i)
		}
	}
	return idx
}

// accepts checks operand kind, type family and width against one slot
func accepts(profile *Profile, s Slot, op *Operand) bool {
	switch op.Kind {
	case OperandRegister:
		if s.MemRole != MemNone || !s.Type.isRegister() || op.Register == nil {
			return false
		}
		class, ok := profile.ClassFor(s.Type)
		return ok && op.Register.Class == class && op.Register.HasWidth(s.Width)
	case OperandRegion:
		return op.Region != nil && (s.Type == TypeMemory || s.MemRole == MemBase)
	case OperandImmediate:
		return s.Type == TypeImmediate && s.MemRole == MemNone && immediateFits(op.Value, s.Width, s.Signed)
	case OperandLabel:
		return s.Type == TypeLabel
	default:
		return false
	}
}

func immediateFits(v int64, width int, signed bool) bool {
	if width <= 0 || width >= 64 {
		return true
	}
	if signed {
		lo, hi := -(int64(1) << (width - 1)), int64(1)<<(width-1)-1
		return v >= lo && v <= hi
	}
	return v >= 0 && v <= int64(1)<<width-1
}
