package engine

import "fmt"

// OperandKind tags the variant held by an Operand
type OperandKind int

const (
	OperandRegister OperandKind = iota
	OperandRegion
	OperandImmediate
	OperandLabel
)

func (k OperandKind) String() string {
	switch k {
	case OperandRegister:
		return "register"
	case OperandRegion:
		return "region"
	case OperandImmediate:
		return "immediate"
	case OperandLabel:
		return "label"
	default:
		return "unknown"
	}
}

// Operand is a caller-supplied src or dest value. Exactly the field matching Kind is set.
type Operand struct {
	Kind     OperandKind
	Register *Resource
	Region   *Region
	Value    int64
	Label    string
}

// Reg wraps a register
func Reg(r *Resource) *Operand {
	return &Operand{Kind: OperandRegister, Register: r}
}

// Mem wraps a memory region
func Mem(r *Region) *Operand {
	return &Operand{Kind: OperandRegion, Region: r}
}

// Imm wraps an immediate value
func Imm(v int64) *Operand {
	return &Operand{Kind: OperandImmediate, Value: v}
}

// Label wraps a branch target
func Label(name string) *Operand {
	return &Operand{Kind: OperandLabel, Label: name}
}

func (o *Operand) String() string {
	if o == nil {
		return "<nil>"
	}
	switch o.Kind {
	case OperandRegister:
		return o.Register.String()
	case OperandRegion:
		return o.Region.String()
	case OperandImmediate:
		return fmt.Sprintf("%d", o.Value)
	case OperandLabel:
		return o.Label
	default:
		return fmt.Sprintf("operand(%d)", int(o.Kind))
	}
}
