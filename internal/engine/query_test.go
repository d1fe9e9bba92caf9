package engine

import (
	"errors"
	"math/rand"
	"testing"
)

func builtinX86(t *testing.T) *Catalog {
	t.Helper()
	c, err := BuiltinCatalog(ArchX86_64)
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func mnemonics(ts []*Template) map[string]int {
	out := make(map[string]int)
	for _, t := range ts {
		out[t.Mnemonic]++
	}
	return out
}

func TestParseQuery(t *testing.T) {
	cat := builtinX86(t)
	total := len(cat.Query(nil))

	tests := []struct {
		query string
		count int
	}{
		{"", total},
		{"class == load && latency >= 4", 2},
		{"mnemonic ^= v || class == mask", 3},
		{"!(class == alu)", total - 7},
		{"mnemonic == ADD", 3},
		{"slots == 0", 1},
		{"slots > 2 && class != vector", 3},
		{"mnemonic ~= or", 3},
		{"(class == alu || class == mul) && latency > 1", 1},
		{"class == 'branch'", 1},
		{"attr.shift != true", total},
	}
	for _, tt := range tests {
		p, err := ParseQuery(tt.query)
		if err != nil {
			t.Errorf("ParseQuery(%q) failed: %v", tt.query, err)
			continue
		}
		if got := len(cat.Query(p)); got != tt.count {
			t.Errorf("Query(%q) matched %d templates, expected %d (%v)", tt.query, got, tt.count, mnemonics(cat.Query(p)))
		}
	}
}

func TestParseQueryErrors(t *testing.T) {
	bad := []string{
		"class ==",
		"class = alu",
		"colour == red",
		"(class == alu",
		"class == alu )",
		"class == alu &&",
		"class == \"alu",
		"&& class == alu",
	}
	for _, q := range bad {
		if _, err := ParseQuery(q); err == nil {
			t.Errorf("Expected ParseQuery(%q) to fail", q)
		}
	}
}

func TestAttributeQuery(t *testing.T) {
	src := Templates{
		{Mnemonic: "rol", Class: "alu", Attributes: map[string]string{"shift": "true", "ext": "base"}, RandomGenerate: true},
		{Mnemonic: "andn", Class: "alu", Attributes: map[string]string{"ext": "bmi1"}, RandomGenerate: true},
		{Mnemonic: "ud2", Class: "misc"},
	}
	cat, err := NewCatalog(ArchX86_64, src)
	if err != nil {
		t.Fatal(err)
	}

	if got := cat.Query(Attr("ext", OpEq, "bmi1")); len(got) != 1 || got[0].Mnemonic != "andn" {
		t.Errorf("Expected only andn, got %v", mnemonics(got))
	}
	if got := cat.Query(Attr("shift", OpNe, true)); len(got) != 1 || got[0].Mnemonic != "andn" {
		t.Errorf("A missing attribute should satisfy !=, got %v", mnemonics(got))
	}
	if got := cat.Query(And(Where(FieldClass, OpEq, "alu"), Not(Attr("ext", OpPrefix, "bmi")))); len(got) != 1 || got[0].Mnemonic != "rol" {
		t.Errorf("Expected only rol, got %v", mnemonics(got))
	}
	if got := cat.Query(nil); len(got) != 2 {
		t.Errorf("Templates not marked for random generation must be skipped, got %v", mnemonics(got))
	}
	if got := len(cat.All()); got != 3 {
		t.Errorf("All should list every template, got %d", got)
	}
}

// TestQueryConstraints tests that operand constraints filter by slot role, type and width
func TestQueryConstraints(t *testing.T) {
	cat := builtinX86(t)
	region := &Region{Name: "r", Size: 8, live: true}

	got := cat.Query(nil, Constraint{Role: RoleDest, Operand: Mem(region)})
	if len(got) != 2 {
		t.Errorf("Expected the store and the read-modify-write add, got %v", mnemonics(got))
	}
	for _, tmpl := range got {
		if tmpl.Class == "agu" {
			t.Error("An address-generation base slot cannot take a memory destination")
		}
	}

	got = cat.Query(nil, Constraint{Role: RoleSrc, Operand: Imm(300)})
	if m := mnemonics(got); len(got) != 2 || m["add"] != 1 || m["imul"] != 1 {
		t.Errorf("Expected add and imul for a 300 immediate, got %v", m)
	}

	got = cat.Query(Where(FieldClass, OpEq, "alu"), Constraint{Role: RoleDest, Operand: Imm(1)})
	if len(got) != 0 {
		t.Errorf("No template takes an immediate destination, got %v", mnemonics(got))
	}

	profile, _ := ProfileFor(ArchX86_64)
	pool := NewPool(profile, rand.New(rand.NewSource(1)))
	k1, _ := pool.Lookup("k1")
	got = cat.Query(nil, Constraint{Role: RoleSrc, Operand: Reg(k1)})
	if len(got) != 1 || got[0].Mnemonic != "kandw" {
		t.Errorf("Expected only kandw for a mask register, got %v", mnemonics(got))
	}
}

func TestPickNoMatch(t *testing.T) {
	cat := builtinX86(t)
	p, _ := ParseQuery("mnemonic == fsqrt")
	_, err := cat.Pick(rand.New(rand.NewSource(1)), p)
	if !errors.Is(err, ErrNoMatchingInstruction) {
		t.Errorf("Expected ErrNoMatchingInstruction, got %v", err)
	}
}

func TestPickIsUniform(t *testing.T) {
	cat := builtinX86(t)
	p, _ := ParseQuery("class == vector")
	rng := rand.New(rand.NewSource(4))
	seen := make(map[string]int)
	for i := 0; i < 200; i++ {
		tmpl, err := cat.Pick(rng, p)
		if err != nil {
			t.Fatal(err)
		}
		seen[tmpl.Mnemonic]++
	}
	if seen["vaddps"] == 0 || seen["vpxord"] == 0 {
		t.Errorf("Expected both vector templates to be picked, got %v", seen)
	}
}

func TestBuiltinCatalogs(t *testing.T) {
	for _, arch := range SupportedArchs() {
		cat, err := BuiltinCatalog(arch)
		if err != nil {
			t.Fatalf("%s: %v", arch, err)
		}
		if cat.Arch() != arch || len(cat.Query(nil)) == 0 {
			t.Errorf("%s: unexpected catalog %v with %d templates", arch, cat.Arch(), len(cat.Query(nil)))
		}
	}
	if _, err := BuiltinCatalog(ArchUnknown); err == nil {
		t.Error("Expected an error for an unknown architecture")
	}
}
