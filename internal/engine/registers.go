// Completion: 100% - Register definitions for all supported architectures
package engine

import "fmt"

// x86_64 general purpose registers in encoding order, with their 32/16/8-bit names
var x86_64GPRs = [16][4]string{
	{"rax", "eax", "ax", "al"},
	{"rcx", "ecx", "cx", "cl"},
	{"rdx", "edx", "dx", "dl"},
	{"rbx", "ebx", "bx", "bl"},
	{"rsp", "esp", "sp", "spl"},
	{"rbp", "ebp", "bp", "bpl"},
	{"rsi", "esi", "si", "sil"},
	{"rdi", "edi", "di", "dil"},
	{"r8", "r8d", "r8w", "r8b"},
	{"r9", "r9d", "r9w", "r9b"},
	{"r10", "r10d", "r10w", "r10b"},
	{"r11", "r11d", "r11w", "r11b"},
	{"r12", "r12d", "r12w", "r12b"},
	{"r13", "r13d", "r13w", "r13b"},
	{"r14", "r14d", "r14w", "r14b"},
	{"r15", "r15d", "r15w", "r15b"},
}

func x86_64Profile() *Profile {
	p := &Profile{
		Arch:         ArchX86_64,
		Conditions:   []string{"o", "no", "b", "ae", "e", "ne", "be", "a", "s", "ns", "p", "np", "l", "ge", "le", "g"},
		AddressWidth: 64,
		Dialect:      x86Dialect{},
		Aliases: map[string]string{
			"a": "rax", "b": "rbx", "c": "rcx", "d": "rdx",
			"e": "rsi", "f": "rdi", "s": "rsp", "p": "rbp",
		},
		classes: map[OperandType]ResourceClass{
			TypeGPR:       ClassGPR,
			TypeVector:    ClassVector,
			TypeFloat:     ClassVector,
			TypePredicate: ClassPredicate,
		},
	}

	for i, names := range x86_64GPRs {
		bank := "legacy"
		if i >= 8 {
			bank = "extended"
		}
		p.registers = append(p.registers, registerSpec{
			name:  names[0],
			class: ClassGPR,
			index: i,
			bank:  bank,
			// Stack and frame pointer are never handed out at random
			random: names[0] != "rsp" && names[0] != "rbp",
			forms:  map[int]string{64: names[0], 32: names[1], 16: names[2], 8: names[3]},
		})
	}

	for i := 0; i < 32; i++ {
		bank := "vex"
		if i >= 16 {
			bank = "evex"
		}
		p.registers = append(p.registers, registerSpec{
			name:   fmt.Sprintf("xmm%d", i),
			class:  ClassVector,
			index:  i,
			bank:   bank,
			random: true,
			forms: map[int]string{
				32:  fmt.Sprintf("xmm%d", i),
				64:  fmt.Sprintf("xmm%d", i),
				128: fmt.Sprintf("xmm%d", i),
				256: fmt.Sprintf("ymm%d", i),
				512: fmt.Sprintf("zmm%d", i),
			},
		})
	}

	for i := 0; i < 8; i++ {
		name := fmt.Sprintf("k%d", i)
		p.registers = append(p.registers, registerSpec{
			name:  name,
			class: ClassPredicate,
			index: i,
			bank:  "mask",
			// k0 cannot be used as a write mask
			random: i != 0,
			forms:  sameForm(name, 8, 16, 32, 64),
		})
	}

	p.rules = []preferenceRule{
		{
			// VEX encodings reach only xmm0-xmm15
			applies: func(sel Selector) bool {
				return sel.Class == ClassVector && (sel.Restricted || (sel.Width > 0 && sel.Width <= 256))
			},
			keep:   func(r *Resource) bool { return r.Index < 16 },
			strict: false,
		},
		{
			applies: func(sel Selector) bool { return sel.Class == ClassGPR && sel.Restricted },
			keep:    func(r *Resource) bool { return r.Bank == "legacy" },
			strict:  true,
		},
	}
	return p
}

func arm64Profile() *Profile {
	p := &Profile{
		Arch:         ArchARM64,
		Conditions:   []string{"eq", "ne", "cs", "cc", "mi", "pl", "vs", "vc", "hi", "ls", "ge", "lt", "gt", "le", "al"},
		AddressWidth: 64,
		Dialect:      arm64Dialect{},
		Aliases: map[string]string{
			"a": "x0", "b": "x1", "c": "x2", "d": "x3",
			"e": "x4", "f": "x5", "s": "sp", "p": "x29", "fp": "x29", "lr": "x30",
		},
		classes: map[OperandType]ResourceClass{
			TypeGPR:       ClassGPR,
			TypeVector:    ClassVector,
			TypeFloat:     ClassVector,
			TypePredicate: ClassPredicate,
		},
	}

	for i := 0; i <= 30; i++ {
		bank := "saved"
		switch {
		case i <= 7:
			bank = "argument"
		case i <= 17:
			bank = "temporary"
		case i >= 29:
			bank = "frame"
		}
		p.registers = append(p.registers, registerSpec{
			name:  fmt.Sprintf("x%d", i),
			class: ClassGPR,
			index: i,
			bank:  bank,
			// x18 is the platform register, x29/x30 frame and link
			random: i != 18 && i != 29 && i != 30,
			forms:  map[int]string{64: fmt.Sprintf("x%d", i), 32: fmt.Sprintf("w%d", i)},
		})
	}
	p.registers = append(p.registers,
		registerSpec{name: "sp", class: ClassGPR, index: 31, bank: "fixed", forms: map[int]string{64: "sp", 32: "wsp"}},
		registerSpec{name: "xzr", class: ClassGPR, index: 31, bank: "fixed", forms: map[int]string{64: "xzr", 32: "wzr"}},
	)

	for i := 0; i < 32; i++ {
		p.registers = append(p.registers, registerSpec{
			name:   fmt.Sprintf("v%d", i),
			class:  ClassVector,
			index:  i,
			bank:   "simd",
			random: true,
			forms: map[int]string{
				8:   fmt.Sprintf("b%d", i),
				16:  fmt.Sprintf("h%d", i),
				32:  fmt.Sprintf("s%d", i),
				64:  fmt.Sprintf("d%d", i),
				128: fmt.Sprintf("q%d", i),
			},
		})
	}

	for i := 0; i < 16; i++ {
		name := fmt.Sprintf("p%d", i)
		bank := "governing"
		if i >= 8 {
			bank = "high"
		}
		p.registers = append(p.registers, registerSpec{
			name:   name,
			class:  ClassPredicate,
			index:  i,
			bank:   bank,
			random: true,
			forms:  sameForm(name, 8, 16, 32, 64),
		})
	}

	p.rules = []preferenceRule{
		{
			// Governing predicates are encoded in 3 bits
			applies: func(sel Selector) bool { return sel.Class == ClassPredicate && sel.Restricted },
			keep:    func(r *Resource) bool { return r.Index < 8 },
			strict:  true,
		},
		{
			// Prefer caller-saved temporaries so generated code disturbs less state
			applies: func(sel Selector) bool { return sel.Class == ClassGPR && sel.Restricted },
			keep:    func(r *Resource) bool { return r.Bank == "temporary" || r.Bank == "argument" },
			strict:  false,
		},
	}
	return p
}

var riscv64ABINames = [32]string{
	"zero", "ra", "sp", "gp", "tp", "t0", "t1", "t2",
	"s0", "s1", "a0", "a1", "a2", "a3", "a4", "a5",
	"a6", "a7", "s2", "s3", "s4", "s5", "s6", "s7",
	"s8", "s9", "s10", "s11", "t3", "t4", "t5", "t6",
}

var riscv64FloatNames = [32]string{
	"ft0", "ft1", "ft2", "ft3", "ft4", "ft5", "ft6", "ft7",
	"fs0", "fs1", "fa0", "fa1", "fa2", "fa3", "fa4", "fa5",
	"fa6", "fa7", "fs2", "fs3", "fs4", "fs5", "fs6", "fs7",
	"fs8", "fs9", "fs10", "fs11", "ft8", "ft9", "ft10", "ft11",
}

func riscv64Profile() *Profile {
	p := &Profile{
		Arch:         ArchRiscv64,
		Conditions:   []string{"eq", "ne", "lt", "ge", "ltu", "geu"},
		AddressWidth: 64,
		Dialect:      riscv64Dialect{},
		Aliases: map[string]string{
			"a": "a0", "b": "a1", "c": "a2", "d": "a3",
			"e": "a4", "f": "a5", "s": "sp", "p": "s0", "fp": "s0",
		},
		classes: map[OperandType]ResourceClass{
			TypeGPR:    ClassGPR,
			TypeVector: ClassVector,
			TypeFloat:  ClassFloat,
		},
	}

	for i, name := range riscv64ABINames {
		bank := "base"
		if i >= 8 && i <= 15 {
			bank = "compressible"
		}
		p.registers = append(p.registers, registerSpec{
			name:  name,
			class: ClassGPR,
			index: i,
			bank:  bank,
			// zero, ra, sp, gp, tp and the frame pointer s0 are fixed-purpose
			random: i > 4 && i != 8,
			forms:  sameForm(name, 8, 16, 32, 64),
		})
	}

	for i, name := range riscv64FloatNames {
		bank := "base"
		if i >= 8 && i <= 15 {
			bank = "compressible"
		}
		p.registers = append(p.registers, registerSpec{
			name:   name,
			class:  ClassFloat,
			index:  i,
			bank:   bank,
			random: true,
			forms:  sameForm(name, 32, 64),
		})
	}

	for i := 0; i < 32; i++ {
		name := fmt.Sprintf("v%d", i)
		p.registers = append(p.registers, registerSpec{
			name:  name,
			class: ClassVector,
			index: i,
			bank:  "vector",
			// v0 holds the mask operand
			random: i != 0,
			forms:  sameForm(name, 64, 128),
		})
	}

	p.rules = []preferenceRule{
		{
			// Compressed encodings reach only x8-x15 / f8-f15
			applies: func(sel Selector) bool {
				return sel.Restricted && (sel.Class == ClassGPR || sel.Class == ClassFloat)
			},
			keep:   func(r *Resource) bool { return r.Bank == "compressible" },
			strict: true,
		},
	}
	return p
}
