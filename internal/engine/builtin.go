package engine

// Built-in templates
//
// A small hand-written instruction set per architecture, enough to drive the
// CLI and scenarios without an external instruction database.

func gpr(role Role, width int) Slot {
	return Slot{Role: role, Type: TypeGPR, Width: width}
}

func vec(role Role, width int) Slot {
	return Slot{Role: role, Type: TypeVector, Width: width}
}

func fp(role Role, width int) Slot {
	return Slot{Role: role, Type: TypeFloat, Width: width}
}

func imm(width int, signed bool) Slot {
	return Slot{Role: RoleSrc, Type: TypeImmediate, Width: width, Signed: signed}
}

func mem(role Role, width int) Slot {
	return Slot{Role: role, Type: TypeMemory, Width: width}
}

func memBase() Slot {
	return Slot{Role: RoleSrc, Type: TypeGPR, Width: 64, MemRole: MemBase}
}

func memOffset(width int) Slot {
	return Slot{Role: RoleSrc, Type: TypeImmediate, Width: width, Signed: true, MemRole: MemOffsetImm}
}

func memIndex() Slot {
	return Slot{Role: RoleSrc, Type: TypeGPR, Width: 64, MemRole: MemOffsetReg}
}

func tmpl(mnemonic, class string, latency int, slots ...Slot) *Template {
	return &Template{Mnemonic: mnemonic, Class: class, Latency: latency, Slots: slots, RandomGenerate: true}
}

func x86_64Templates() Templates {
	return Templates{
		tmpl("add", "alu", 1, gpr(RoleSrcDest, 64), gpr(RoleSrc, 64)),
		tmpl("sub", "alu", 1, gpr(RoleSrcDest, 32), gpr(RoleSrc, 32)),
		tmpl("xor", "alu", 1, gpr(RoleSrcDest, 64), gpr(RoleSrc, 64)),
		tmpl("and", "alu", 1, gpr(RoleSrcDest, 16), gpr(RoleSrc, 16)),
		tmpl("add", "alu", 1, gpr(RoleSrcDest, 64), imm(32, true)),
		tmpl("imul", "mul", 3, gpr(RoleDest, 64), gpr(RoleSrc, 64), imm(32, true)),
		tmpl("shl", "alu", 1, gpr(RoleSrcDest, 64), imm(8, false)),
		tmpl("ror", "alu", 1, gpr(RoleSrcDest, 32), imm(8, false)),
		tmpl("mov", "load", 4, gpr(RoleDest, 64), mem(RoleSrc, 64)),
		tmpl("mov", "store", 1, mem(RoleDest, 64), gpr(RoleSrc, 64)),
		tmpl("add", "load", 5, mem(RoleSrcDest, 32), gpr(RoleSrc, 32)),
		tmpl("lea", "agu", 1, gpr(RoleDest, 64), memBase(), memIndex(), memOffset(8)),
		tmpl("vaddps", "vector", 4, vec(RoleDest, 256), vec(RoleSrc, 256), vec(RoleSrc, 256)),
		tmpl("vpxord", "vector", 1, vec(RoleDest, 512), vec(RoleSrc, 512), vec(RoleSrc, 512)),
		tmpl("addsd", "float", 4, fp(RoleSrcDest, 128), fp(RoleSrc, 128)),
		tmpl("kandw", "mask", 1,
			Slot{Role: RoleDest, Type: TypePredicate, Width: 16},
			Slot{Role: RoleSrc, Type: TypePredicate, Width: 16},
			Slot{Role: RoleSrc, Type: TypePredicate, Width: 16}),
		tmpl("jmp", "branch", 1, Slot{Role: RoleSrc, Type: TypeLabel}),
		tmpl("nop", "misc", 1),
	}
}

func arm64Templates() Templates {
	arrangement := []string{"8b", "16b", "4h", "8h", "2s", "4s", "2d"}
	vecT := func(role Role) Slot {
		return Slot{Role: role, Type: TypeVector, Options: arrangement, Family: "T"}
	}
	return Templates{
		tmpl("add", "alu", 1, gpr(RoleDest, 64), gpr(RoleSrc, 64), gpr(RoleSrc, 64)),
		tmpl("sub", "alu", 1, gpr(RoleDest, 32), gpr(RoleSrc, 32), gpr(RoleSrc, 32)),
		tmpl("eor", "alu", 1, gpr(RoleDest, 64), gpr(RoleSrc, 64), gpr(RoleSrc, 64)),
		tmpl("add", "alu", 1, gpr(RoleDest, 64), gpr(RoleSrc, 64), imm(12, false)),
		tmpl("lsl", "alu", 1, gpr(RoleDest, 64), gpr(RoleSrc, 64), imm(6, false)),
		tmpl("mul", "mul", 3, gpr(RoleDest, 64), gpr(RoleSrc, 64), gpr(RoleSrc, 64)),
		tmpl("csel", "alu", 1, gpr(RoleDest, 64), gpr(RoleSrc, 64), gpr(RoleSrc, 64),
			Slot{Role: RoleSrc, Type: TypeCondition, Exclude: []string{"al"}}),
		tmpl("ldr", "load", 4, gpr(RoleDest, 64), memBase(), memOffset(9)),
		tmpl("str", "store", 1, gpr(RoleSrc, 64), memBase(), memOffset(9)),
		tmpl("ldr", "load", 4, gpr(RoleDest, 64), memBase(), memIndex()),
		tmpl("ldr", "load", 4, vec(RoleDest, 128), mem(RoleSrc, 128)),
		tmpl("add", "vector", 2, vecT(RoleDest), vecT(RoleSrc), vecT(RoleSrc)),
		tmpl("fadd", "float", 3, fp(RoleDest, 64), fp(RoleSrc, 64), fp(RoleSrc, 64)),
		tmpl("ptrue", "predicate", 1,
			Slot{Role: RoleDest, Type: TypePredicate, Options: []string{"b", "h", "s", "d"}, Family: "T"}),
		tmpl("b", "branch", 1, Slot{Role: RoleSrc, Type: TypeLabel}),
		tmpl("nop", "misc", 1),
	}
}

func riscv64Templates() Templates {
	return Templates{
		tmpl("add", "alu", 1, gpr(RoleDest, 64), gpr(RoleSrc, 64), gpr(RoleSrc, 64)),
		tmpl("sub", "alu", 1, gpr(RoleDest, 64), gpr(RoleSrc, 64), gpr(RoleSrc, 64)),
		tmpl("xor", "alu", 1, gpr(RoleDest, 64), gpr(RoleSrc, 64), gpr(RoleSrc, 64)),
		tmpl("addi", "alu", 1, gpr(RoleDest, 64), gpr(RoleSrc, 64), imm(12, true)),
		tmpl("slli", "alu", 1, gpr(RoleDest, 64), gpr(RoleSrc, 64), imm(6, false)),
		tmpl("mul", "mul", 3, gpr(RoleDest, 64), gpr(RoleSrc, 64), gpr(RoleSrc, 64)),
		tmpl("ld", "load", 4, gpr(RoleDest, 64), memOffset(12), memBase()),
		tmpl("sd", "store", 1, gpr(RoleSrc, 64), memOffset(12), memBase()),
		tmpl("c.add", "alu", 1,
			Slot{Role: RoleSrcDest, Type: TypeGPR, Width: 64, Restricted: true},
			Slot{Role: RoleSrc, Type: TypeGPR, Width: 64, Restricted: true}),
		tmpl("fadd.d", "float", 4, fp(RoleDest, 64), fp(RoleSrc, 64), fp(RoleSrc, 64)),
		tmpl("beq", "branch", 1, gpr(RoleSrc, 64), gpr(RoleSrc, 64), Slot{Role: RoleSrc, Type: TypeLabel}),
		tmpl("nop", "misc", 1),
	}
}

// BuiltinCatalog returns the built-in catalog of an architecture
func BuiltinCatalog(arch Arch) (*Catalog, error) {
	switch arch {
	case ArchX86_64:
		return NewCatalog(arch, x86_64Templates())
	case ArchARM64:
		return NewCatalog(arch, arm64Templates())
	case ArchRiscv64:
		return NewCatalog(arch, riscv64Templates())
	default:
		return nil, newError(ErrNoMatchingInstruction, "no built-in templates for %s", arch)
	}
}
