package engine

import (
	"fmt"
	"strings"
)

// MemoryRef is a materialized memory operand: a base register plus an optional
// index register and displacement
type MemoryRef struct {
	Width  int // access width in bits, 0 when the syntax carries no size
	Base   string
	Index  string
	Offset int64
}

// Dialect renders operand text and the fixed instruction sequences the engine
// emits on its own (address loads, loop control, branches)
type Dialect interface {
	CommentPrefix() string
	Header() []Instruction
	Immediate(v int64) string
	UnsignedImmediate(v uint64) string
	Memory(ref MemoryRef) string
	LoadAddress(dst, symbol string) Instruction
	LoadImmediate(dst string, v int64) Instruction
	Store(src string, ref MemoryRef) Instruction
	Branch(label string) Instruction
	BranchRegister(reg string) Instruction
	// LoopStep closes a loop: step the counter, compare, branch back to label.
	// bound is empty unless NeedsBound returned true.
	LoopStep(counter, bound string, dir Direction, count int64, label string) []Instruction
	NeedsBound(dir Direction, count int64) bool
}

func instr(mnemonic string, operands ...string) Instruction {
	return Instruction{Kind: KindInstruction, Mnemonic: mnemonic, Operands: operands}
}

func directive(name string, operands ...string) Instruction {
	return Instruction{Kind: KindDirective, Mnemonic: name, Operands: operands}
}

func labelLine(name string) Instruction {
	return Instruction{Kind: KindLabel, Mnemonic: name}
}

// x86_64 in GNU as Intel syntax

type x86Dialect struct{}

func (x86Dialect) CommentPrefix() string { return "#" }

func (x86Dialect) Header() []Instruction {
	return []Instruction{directive(".intel_syntax", "noprefix")}
}

func (x86Dialect) Immediate(v int64) string {
	if v < 0 {
		return fmt.Sprintf("%d", v)
	}
	return fmt.Sprintf("0x%x", v)
}

func (x86Dialect) UnsignedImmediate(v uint64) string {
	return fmt.Sprintf("%#x", v)
}

func x86PtrSize(width int) string {
	switch width {
	case 8:
		return "byte ptr "
	case 16:
		return "word ptr "
	case 32:
		return "dword ptr "
	case 64:
		return "qword ptr "
	case 128:
		return "xmmword ptr "
	case 256:
		return "ymmword ptr "
	case 512:
		return "zmmword ptr "
	default:
		return ""
	}
}

func (x86Dialect) Memory(ref MemoryRef) string {
	var sb strings.Builder
	sb.WriteString(x86PtrSize(ref.Width))
	sb.WriteString("[")
	sb.WriteString(ref.Base)
	if ref.Index != "" {
		sb.WriteString(" + ")
		sb.WriteString(ref.Index)
	}
	if ref.Offset > 0 {
		fmt.Fprintf(&sb, " + %d", ref.Offset)
	} else if ref.Offset < 0 {
		fmt.Fprintf(&sb, " - %d", -ref.Offset)
	}
	sb.WriteString("]")
	return sb.String()
}

func (x86Dialect) LoadAddress(dst, symbol string) Instruction {
	return instr("lea", dst, "[rip + "+symbol+"]")
}

func (d x86Dialect) LoadImmediate(dst string, v int64) Instruction {
	return instr("mov", dst, d.Immediate(v))
}

func (d x86Dialect) Store(src string, ref MemoryRef) Instruction {
	return instr("mov", d.Memory(ref), src)
}

func (x86Dialect) Branch(label string) Instruction { return instr("jmp", label) }

func (x86Dialect) BranchRegister(reg string) Instruction { return instr("jmp", reg) }

// cmp sign-extends a 32-bit immediate
func (x86Dialect) NeedsBound(dir Direction, count int64) bool {
	return dir == Increment && count > 0x7fffffff
}

func (d x86Dialect) LoopStep(counter, bound string, dir Direction, count int64, label string) []Instruction {
	if dir == Decrement {
		return []Instruction{
			instr("sub", counter, d.Immediate(1)),
			instr("jg", label),
		}
	}
	cmp := instr("cmp", counter, d.Immediate(count))
	if bound != "" {
		cmp = instr("cmp", counter, bound)
	}
	return []Instruction{
		instr("add", counter, d.Immediate(1)),
		cmp,
		instr("jl", label),
	}
}

// AArch64 in GNU as syntax

type arm64Dialect struct{}

func (arm64Dialect) CommentPrefix() string { return "//" }

func (arm64Dialect) Header() []Instruction { return nil }

func (arm64Dialect) Immediate(v int64) string {
	return fmt.Sprintf("#%d", v)
}

func (arm64Dialect) UnsignedImmediate(v uint64) string {
	return fmt.Sprintf("#%#x", v)
}

func (d arm64Dialect) Memory(ref MemoryRef) string {
	switch {
	case ref.Index != "":
		return fmt.Sprintf("[%s, %s]", ref.Base, ref.Index)
	case ref.Offset != 0:
		return fmt.Sprintf("[%s, %s]", ref.Base, d.Immediate(ref.Offset))
	default:
		return fmt.Sprintf("[%s]", ref.Base)
	}
}

func (arm64Dialect) LoadAddress(dst, symbol string) Instruction {
	return instr("adr", dst, symbol)
}

func (d arm64Dialect) LoadImmediate(dst string, v int64) Instruction {
	return instr("mov", dst, d.Immediate(v))
}

func (d arm64Dialect) Store(src string, ref MemoryRef) Instruction {
	return instr("str", src, d.Memory(ref))
}

func (arm64Dialect) Branch(label string) Instruction { return instr("b", label) }

func (arm64Dialect) BranchRegister(reg string) Instruction { return instr("br", reg) }

// cmp only encodes a 12-bit unsigned immediate
func (arm64Dialect) NeedsBound(dir Direction, count int64) bool {
	return dir == Increment && count > 4095
}

func (d arm64Dialect) LoopStep(counter, bound string, dir Direction, count int64, label string) []Instruction {
	if dir == Decrement {
		return []Instruction{
			instr("subs", counter, counter, d.Immediate(1)),
			instr("b.gt", label),
		}
	}
	cmp := instr("cmp", counter, d.Immediate(count))
	if bound != "" {
		cmp = instr("cmp", counter, bound)
	}
	return []Instruction{
		instr("add", counter, counter, d.Immediate(1)),
		cmp,
		instr("b.lt", label),
	}
}

// RISC-V in GNU as syntax

type riscv64Dialect struct{}

func (riscv64Dialect) CommentPrefix() string { return "#" }

func (riscv64Dialect) Header() []Instruction { return nil }

func (riscv64Dialect) Immediate(v int64) string {
	return fmt.Sprintf("%d", v)
}

func (riscv64Dialect) UnsignedImmediate(v uint64) string {
	return fmt.Sprintf("%#x", v)
}

// RISC-V has no register+register addressing, an index is ignored
func (riscv64Dialect) Memory(ref MemoryRef) string {
	return fmt.Sprintf("%d(%s)", ref.Offset, ref.Base)
}

func (riscv64Dialect) LoadAddress(dst, symbol string) Instruction {
	return instr("la", dst, symbol)
}

func (d riscv64Dialect) LoadImmediate(dst string, v int64) Instruction {
	return instr("li", dst, d.Immediate(v))
}

func (d riscv64Dialect) Store(src string, ref MemoryRef) Instruction {
	return instr("sd", src, d.Memory(ref))
}

func (riscv64Dialect) Branch(label string) Instruction { return instr("j", label) }

func (riscv64Dialect) BranchRegister(reg string) Instruction { return instr("jr", reg) }

// branches only compare registers
func (riscv64Dialect) NeedsBound(dir Direction, _ int64) bool {
	return dir == Increment
}

func (riscv64Dialect) LoopStep(counter, bound string, dir Direction, _ int64, label string) []Instruction {
	if dir == Decrement {
		return []Instruction{
			instr("addi", counter, counter, "-1"),
			instr("bgtz", counter, label),
		}
	}
	return []Instruction{
		instr("addi", counter, counter, "1"),
		instr("blt", counter, bound, label),
	}
}
