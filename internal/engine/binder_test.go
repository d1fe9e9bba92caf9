package engine

import (
	"errors"
	"io"
	"strconv"
	"strings"
	"testing"
)

// contextWith creates a single-core context whose catalog holds only the given templates
func contextWith(t *testing.T, arch Arch, seed int64, ts ...*Template) *Context {
	t.Helper()
	cat, err := NewCatalog(arch, Templates(ts))
	if err != nil {
		t.Fatal(err)
	}
	cfg := DefaultConfig()
	cfg.Arch = arch
	cfg.Seed = seed
	cfg.Log = io.Discard
	ctx, err := NewContext(cfg, cat)
	if err != nil {
		t.Fatal(err)
	}
	return ctx
}

func mustLookup(t *testing.T, ctx *Context, name string) *Resource {
	t.Helper()
	r, err := ctx.Pool.Lookup(name)
	if err != nil {
		t.Fatal(err)
	}
	return r
}

// TestBindThreeOperandWithSource places a supplied source into one of two source slots
func TestBindThreeOperandWithSource(t *testing.T) {
	add := tmpl("add", "alu", 1, gpr(RoleDest, 64), gpr(RoleSrc, 64), gpr(RoleSrc, 64))
	for seed := int64(1); seed <= 20; seed++ {
		ctx := contextWith(t, ArchARM64, seed, add)
		x1 := mustLookup(t, ctx, "x1")

		out, err := ctx.Bind(add, Reg(x1), nil)
		if err != nil {
			t.Fatalf("seed %d: %v", seed, err)
		}
		if len(out) != 1 {
			t.Fatalf("seed %d: expected one instruction, got %v", seed, out)
		}
		ops := out[0].Operands
		if len(ops) != 3 {
			t.Fatalf("seed %d: expected 3 operands, got %v", seed, ops)
		}
		if ops[0] == "x1" {
			t.Errorf("seed %d: the source register must not land in the destination slot: %v", seed, ops)
		}
		if (ops[1] == "x1") == (ops[2] == "x1") {
			t.Errorf("seed %d: expected x1 in exactly one source slot, got %v", seed, ops)
		}
		if x1.Reserved() {
			t.Errorf("seed %d: x1 was free before the bind and must be free after it", seed)
		}
	}
}

// TestBindMemoryOperand tests that a memory slot gets a fresh region and one address load
func TestBindMemoryOperand(t *testing.T) {
	load := tmpl("mov", "load", 4, gpr(RoleDest, 64), mem(RoleSrc, 64))
	ctx := contextWith(t, ArchX86_64, 1, load)
	usedBefore := len(ctx.Pool.GetUsed(ClassAny))

	out, err := ctx.Bind(load, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 2 {
		t.Fatalf("Expected an address load and the load itself, got %v", out)
	}
	lea, mov := out[0], out[1]
	if lea.Mnemonic != "lea" || mov.Mnemonic != "mov" {
		t.Fatalf("Unexpected sequence %v", out)
	}

	regions := ctx.Memory.Regions()
	if len(regions) != 1 {
		t.Fatalf("Expected one region, got %v", regions)
	}
	if want := "[rip + " + regions[0].Name + "]"; lea.Operands[1] != want {
		t.Errorf("Expected %s, got %s", want, lea.Operands[1])
	}
	if want := "qword ptr [" + lea.Operands[0] + "]"; mov.Operands[1] != want {
		t.Errorf("Expected %s, got %s", want, mov.Operands[1])
	}
	if got := len(ctx.Pool.GetUsed(ClassAny)); got != usedBefore {
		t.Errorf("Scratch register leaked: %d used before, %d after", usedBefore, got)
	}
	if regions[0].Live() {
		t.Error("Binder-owned region should be released after the instruction")
	}
}

func TestBindSuppliedRegion(t *testing.T) {
	store := tmpl("mov", "store", 1, mem(RoleDest, 64), gpr(RoleSrc, 64))
	ctx := contextWith(t, ArchX86_64, 1, store)

	block, _ := ctx.Memory.Allocate(AllocRequest{Size: 32, Align: 8})
	ctx.Memory.Allocate(AllocRequest{Size: 8, Align: 8, Parent: block})
	slot, _ := ctx.Memory.Allocate(AllocRequest{Size: 8, Align: 8, Parent: block})
	rdx := mustLookup(t, ctx, "rdx")

	out, err := ctx.Bind(store, Reg(rdx), Mem(slot))
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 2 {
		t.Fatalf("Expected 2 instructions, got %v", out)
	}
	if out[0].Operands[1] != "[rip + "+block.Name+"]" {
		t.Errorf("Expected the block symbol to be loaded, got %v", out[0])
	}
	base := out[0].Operands[0]
	if base == "rdx" {
		t.Error("The scratch base register collides with the supplied source")
	}
	if got := out[1].Format("#"); got != "\tmov qword ptr ["+base+" + 8], rdx" {
		t.Errorf("Unexpected store %q", got)
	}
	if !slot.Live() {
		t.Error("A caller-supplied region must stay allocated")
	}
}

// TestBindNoSlotCollision checks that src and dest never share a slot
func TestBindNoSlotCollision(t *testing.T) {
	add := tmpl("add", "alu", 1, gpr(RoleSrcDest, 64), gpr(RoleSrc, 64))
	for seed := int64(1); seed <= 10; seed++ {
		ctx := contextWith(t, ArchX86_64, seed, add)
		rax, rbx := mustLookup(t, ctx, "rax"), mustLookup(t, ctx, "rbx")

		out, err := ctx.Bind(add, Reg(rax), Reg(rbx))
		if err != nil {
			t.Fatalf("seed %d: %v", seed, err)
		}
		if got := out[0].Format("#"); got != "\tadd rbx, rax" {
			t.Errorf("seed %d: expected add rbx, rax, got %q", seed, got)
		}
	}

	inc := tmpl("inc", "alu", 1, gpr(RoleSrcDest, 64))
	ctx := contextWith(t, ArchX86_64, 1, inc)
	rax, rbx := mustLookup(t, ctx, "rax"), mustLookup(t, ctx, "rbx")
	if _, err := ctx.Bind(inc, Reg(rax), Reg(rbx)); !errors.Is(err, ErrNoValidOperandAssignment) {
		t.Errorf("Expected ErrNoValidOperandAssignment, got %v", err)
	}
	if rax.Reserved() || rbx.Reserved() {
		t.Error("A failed bind must not leave the supplied registers reserved")
	}
}

func TestBindOrderedSlots(t *testing.T) {
	add := tmpl("add", "alu", 1, gpr(RoleDest, 64), gpr(RoleSrc, 64), gpr(RoleSrc, 64))
	cat, _ := NewCatalog(ArchRiscv64, Templates{add})
	cfg := DefaultConfig()
	cfg.Arch = ArchRiscv64
	cfg.OrderedSlots = true
	cfg.Log = io.Discard
	ctx, err := NewContext(cfg, cat)
	if err != nil {
		t.Fatal(err)
	}
	a0 := mustLookup(t, ctx, "a0")
	for i := 0; i < 10; i++ {
		out, err := ctx.Bind(add, Reg(a0), nil)
		if err != nil {
			t.Fatal(err)
		}
		if out[0].Operands[1] != "a0" {
			t.Fatalf("Ordered slot search should use the first source slot, got %v", out[0])
		}
	}
}

func TestBindIncompatibleOperand(t *testing.T) {
	add := tmpl("add", "alu", 1, gpr(RoleSrcDest, 64), gpr(RoleSrc, 64))
	ctx := contextWith(t, ArchX86_64, 1, add)
	xmm0 := mustLookup(t, ctx, "xmm0")

	if _, err := ctx.Bind(add, Reg(xmm0), nil); !errors.Is(err, ErrNoValidOperandAssignment) {
		t.Errorf("Expected ErrNoValidOperandAssignment for a vector source, got %v", err)
	}
	if _, err := ctx.Bind(add, nil, Imm(4)); !errors.Is(err, ErrNoValidOperandAssignment) {
		t.Errorf("Expected ErrNoValidOperandAssignment for an immediate destination, got %v", err)
	}
}

func TestBindInvalidOperandType(t *testing.T) {
	bad := tmpl("vmand", "mask", 1, Slot{Role: RoleDest, Type: TypePredicate})
	ctx := contextWith(t, ArchRiscv64, 1, bad)
	if _, err := ctx.Bind(bad, nil, nil); !errors.Is(err, ErrInvalidOperandType) {
		t.Errorf("Expected ErrInvalidOperandType for a predicate on riscv64, got %v", err)
	}
}

// TestBindFailureReleasesEverything tests that a bind failing late frees its scratch state
func TestBindFailureReleasesEverything(t *testing.T) {
	broken := tmpl("mov", "load", 4, gpr(RoleDest, 64), mem(RoleSrc, 64), Slot{Role: RoleSrc, Type: TypeOption})
	ctx := contextWith(t, ArchX86_64, 1, broken)
	rcx := mustLookup(t, ctx, "rcx")

	if _, err := ctx.Bind(broken, nil, Reg(rcx)); !errors.Is(err, ErrInvalidOperandType) {
		t.Fatalf("Expected ErrInvalidOperandType, got %v", err)
	}
	if used := ctx.Pool.GetUsed(ClassAny); len(used) != 0 {
		t.Errorf("Expected no reserved registers, got %v", used)
	}
	if live := ctx.Memory.Live(); len(live) != 0 {
		t.Errorf("Expected no live regions, got %v", live)
	}
}

func TestBindExhaustedScratch(t *testing.T) {
	load := tmpl("mov", "load", 4, gpr(RoleDest, 64), mem(RoleSrc, 64))
	ctx := contextWith(t, ArchX86_64, 1, load)
	for {
		if _, err := ctx.Pool.AcquireAndReserve(Selector{Class: ClassGPR, Width: 64}); err != nil {
			break
		}
	}
	reserved := len(ctx.Pool.GetUsed(ClassGPR))

	if _, err := ctx.Bind(load, nil, nil); !errors.Is(err, ErrResourceExhausted) {
		t.Fatalf("Expected ErrResourceExhausted, got %v", err)
	}
	if got := len(ctx.Pool.GetUsed(ClassGPR)); got != reserved {
		t.Errorf("Reservation count changed from %d to %d", reserved, got)
	}
	if live := ctx.Memory.Live(); len(live) != 0 {
		t.Errorf("Expected the region to be released, got %v", live)
	}
}

func TestBindKeepsCallerReservation(t *testing.T) {
	add := tmpl("add", "alu", 1, gpr(RoleSrcDest, 64), gpr(RoleSrc, 64))
	ctx := contextWith(t, ArchX86_64, 1, add)
	r, err := ctx.Pool.AcquireAndReserve(Selector{Class: ClassGPR})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := ctx.Bind(add, Reg(r), nil); err != nil {
		t.Fatal(err)
	}
	if !r.Reserved() {
		t.Error("A register reserved by the caller must stay reserved")
	}
}

func TestBindLabel(t *testing.T) {
	jmp := tmpl("jmp", "branch", 1, Slot{Role: RoleSrc, Type: TypeLabel})
	ctx := contextWith(t, ArchX86_64, 1, jmp)

	out, err := ctx.Bind(jmp, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 2 || out[1].Kind != KindLabel || out[1].Mnemonic != out[0].Operands[0] {
		t.Errorf("Expected a branch followed by its fresh target, got %v", out)
	}

	out, err = ctx.Bind(jmp, Label("done"), nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 1 || out[0].Operands[0] != "done" {
		t.Errorf("Expected a branch to the supplied label, got %v", out)
	}
}

func TestBindFamilies(t *testing.T) {
	cat, _ := BuiltinCatalog(ArchARM64)
	var vadd *Template
	for _, tm := range cat.All() {
		if tm.Mnemonic == "add" && tm.Class == "vector" {
			vadd = tm
		}
	}
	if vadd == nil {
		t.Fatal("Missing vector add template")
	}
	ctx := contextWith(t, ArchARM64, 3, vadd)
	for i := 0; i < 30; i++ {
		out, err := ctx.Bind(vadd, nil, nil)
		if err != nil {
			t.Fatal(err)
		}
		var suffix string
		for n, op := range out[0].Operands {
			parts := strings.SplitN(op, ".", 2)
			if len(parts) != 2 || !strings.HasPrefix(parts[0], "v") {
				t.Fatalf("Expected vN.T operands, got %v", out[0].Operands)
			}
			if n == 0 {
				suffix = parts[1]
			} else if parts[1] != suffix {
				t.Fatalf("Arrangements disagree: %v", out[0].Operands)
			}
		}
	}
}

func TestBindConditionExclusion(t *testing.T) {
	csel := tmpl("csel", "alu", 1, gpr(RoleDest, 64), gpr(RoleSrc, 64), gpr(RoleSrc, 64),
		Slot{Role: RoleSrc, Type: TypeCondition, Exclude: []string{"al"}})
	ctx := contextWith(t, ArchARM64, 1, csel)
	for i := 0; i < 100; i++ {
		out, err := ctx.Bind(csel, nil, nil)
		if err != nil {
			t.Fatal(err)
		}
		if cond := out[0].Operands[3]; cond == "al" {
			t.Fatal("Excluded condition al was chosen")
		}
	}
}

func TestBindImmediateRanges(t *testing.T) {
	tests := []struct {
		arch   Arch
		t      *Template
		parse  func(s string) (int64, error)
		lo, hi int64
	}{
		{ArchX86_64, tmpl("shl", "alu", 1, gpr(RoleSrcDest, 64), imm(8, false)), parseX86Imm, 0, 63},
		{ArchX86_64, tmpl("ror", "alu", 1, gpr(RoleSrcDest, 32), imm(8, false)), parseX86Imm, 0, 31},
		{ArchARM64, tmpl("add", "alu", 1, gpr(RoleDest, 64), gpr(RoleSrc, 64), imm(12, false)), parseARMImm, 0, 4095},
		{ArchRiscv64, tmpl("addi", "alu", 1, gpr(RoleDest, 64), gpr(RoleSrc, 64), imm(12, true)), parsePlainImm, -2048, 2047},
	}
	for _, tt := range tests {
		ctx := contextWith(t, tt.arch, 5, tt.t)
		for i := 0; i < 200; i++ {
			out, err := ctx.Bind(tt.t, nil, nil)
			if err != nil {
				t.Fatal(err)
			}
			ops := out[0].Operands
			v, err := tt.parse(ops[len(ops)-1])
			if err != nil {
				t.Fatalf("%s: bad immediate %q: %v", tt.t.Mnemonic, ops[len(ops)-1], err)
			}
			if v < tt.lo || v > tt.hi {
				t.Fatalf("%s: immediate %d outside [%d, %d]", tt.t.Mnemonic, v, tt.lo, tt.hi)
			}
		}
	}
}

// TestBindWideImmediates tests 63- and 64-bit immediate slots
func TestBindWideImmediates(t *testing.T) {
	last := func(ins Instruction) string { return ins.Operands[len(ins.Operands)-1] }

	unsigned := map[Arch]string{ArchX86_64: "0x", ArchARM64: "#0x", ArchRiscv64: "0x"}
	for arch, prefix := range unsigned {
		mov := tmpl("mov", "alu", 1, gpr(RoleDest, 64), imm(64, false))
		ctx := contextWith(t, arch, 3, mov)
		sawHigh := false
		for i := 0; i < 200; i++ {
			out, err := ctx.Bind(mov, nil, nil)
			if err != nil {
				t.Fatal(err)
			}
			text := last(out[0])
			if !strings.HasPrefix(text, prefix) {
				t.Fatalf("%s: expected an unsigned hex immediate, got %q", arch, text)
			}
			v, err := strconv.ParseUint(strings.TrimPrefix(text, "#"), 0, 64)
			if err != nil {
				t.Fatalf("%s: bad immediate %q: %v", arch, text, err)
			}
			if v >= 1<<63 {
				sawHigh = true
			}
		}
		if !sawHigh {
			t.Errorf("%s: no value above 2^63 in 200 draws", arch)
		}
	}

	signed63 := tmpl("mov", "alu", 1, gpr(RoleDest, 64), imm(63, true))
	ctx := contextWith(t, ArchX86_64, 3, signed63)
	for i := 0; i < 200; i++ {
		out, err := ctx.Bind(signed63, nil, nil)
		if err != nil {
			t.Fatal(err)
		}
		v, err := parseX86Imm(last(out[0]))
		if err != nil {
			t.Fatal(err)
		}
		if v < -(1<<62) || v > 1<<62-1 {
			t.Fatalf("Immediate %d outside the signed 63-bit range", v)
		}
	}
}

func parseX86Imm(s string) (int64, error) { return strconv.ParseInt(s, 0, 64) }

func parseARMImm(s string) (int64, error) { return strconv.ParseInt(strings.TrimPrefix(s, "#"), 10, 64) }

func parsePlainImm(s string) (int64, error) { return strconv.ParseInt(s, 10, 64) }

func TestBindMemoryGroups(t *testing.T) {
	t.Run("riscv offset then base", func(t *testing.T) {
		ld := tmpl("ld", "load", 4, gpr(RoleDest, 64), memOffset(12), memBase())
		ctx := contextWith(t, ArchRiscv64, 1, ld)
		out, err := ctx.Bind(ld, nil, nil)
		if err != nil {
			t.Fatal(err)
		}
		if len(out) != 2 || out[0].Mnemonic != "la" {
			t.Fatalf("Expected la + ld, got %v", out)
		}
		if want := "0(" + out[0].Operands[0] + ")"; len(out[1].Operands) != 2 || out[1].Operands[1] != want {
			t.Errorf("Expected operands [dest %s], got %v", want, out[1].Operands)
		}
	})

	t.Run("arm64 base plus index", func(t *testing.T) {
		ldr := tmpl("ldr", "load", 4, gpr(RoleDest, 64), memBase(), memIndex())
		ctx := contextWith(t, ArchARM64, 1, ldr)
		out, err := ctx.Bind(ldr, nil, nil)
		if err != nil {
			t.Fatal(err)
		}
		if len(out) != 3 || out[0].Mnemonic != "adr" || out[1].Mnemonic != "mov" {
			t.Fatalf("Expected adr, mov, ldr, got %v", out)
		}
		base, index := out[0].Operands[0], out[1].Operands[0]
		if base == index {
			t.Errorf("Base and index share register %s", base)
		}
		if want := "[" + base + ", " + index + "]"; out[2].Operands[1] != want {
			t.Errorf("Expected %s, got %v", want, out[2].Operands)
		}
		if used := ctx.Pool.GetUsed(ClassAny); len(used) != 0 {
			t.Errorf("Scratch registers leaked: %v", used)
		}
	})

	t.Run("supplied base region", func(t *testing.T) {
		str := tmpl("str", "store", 1, gpr(RoleSrc, 64), memBase(), memOffset(9))
		ctx := contextWith(t, ArchARM64, 1, str)
		region, _ := ctx.Memory.Allocate(AllocRequest{Size: 8, Align: 8})
		out, err := ctx.Bind(str, nil, Mem(region))
		if err == nil {
			t.Fatalf("A store base slot is a source, a region destination should not fit: %v", out)
		}
		out, err = ctx.Bind(str, Mem(region), nil)
		if err != nil {
			t.Fatal(err)
		}
		if out[0].Operands[1] != region.Name {
			t.Errorf("Expected the address of %s, got %v", region.Name, out[0])
		}
	})
}
