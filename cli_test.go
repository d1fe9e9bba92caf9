package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/xyproto/instgen/internal/engine"
)

func testOptions(arch engine.Arch) Options {
	cfg := engine.DefaultConfig()
	cfg.Arch = arch
	cfg.Seed = 11
	cfg.Log = io.Discard
	return Options{Config: cfg, Count: 20, Programs: 1, Output: "-"}
}

func TestOutputPath(t *testing.T) {
	tests := []struct {
		out      string
		i, total int
		expected string
	}{
		{"out.s", 0, 1, "out.s"},
		{"out.s", 0, 3, "out.0.s"},
		{"out.s", 2, 3, "out.2.s"},
		{"dir/prog", 1, 2, "dir/prog.1"},
		{"-", 1, 2, "-"},
	}
	for _, tt := range tests {
		if got := outputPath(tt.out, tt.i, tt.total); got != tt.expected {
			t.Errorf("outputPath(%q, %d, %d) = %q, expected %q", tt.out, tt.i, tt.total, got, tt.expected)
		}
	}
}

func TestRunToStdout(t *testing.T) {
	for _, arch := range engine.SupportedArchs() {
		opts := testOptions(arch)
		opts.Config.Cores = 2
		var buf bytes.Buffer
		if err := Run(context.Background(), opts, &buf, NewErrorCollector(0)); err != nil {
			t.Fatalf("%s: %v", arch, err)
		}
		text := buf.String()
		if !strings.Contains(text, "core0_start:") || !strings.Contains(text, "core1_start:") {
			t.Errorf("%s: expected both cores in output:\n%s", arch, text)
		}
	}
}

// TestRunIsReproducible tests that the same options render the same bytes
func TestRunIsReproducible(t *testing.T) {
	opts := testOptions(engine.ArchARM64)
	opts.Programs = 3
	var a, b bytes.Buffer
	if err := Run(context.Background(), opts, &a, NewErrorCollector(0)); err != nil {
		t.Fatal(err)
	}
	opts.Jobs = 1
	if err := Run(context.Background(), opts, &b, NewErrorCollector(0)); err != nil {
		t.Fatal(err)
	}
	if a.String() != b.String() {
		t.Error("Parallel and sequential runs differ")
	}
	if n := strings.Count(a.String(), "core0_start:"); n != 3 {
		t.Errorf("Expected 3 programs, got %d", n)
	}
}

func TestRunWritesFiles(t *testing.T) {
	dir := t.TempDir()
	opts := testOptions(engine.ArchRiscv64)
	opts.Programs = 2
	opts.Output = filepath.Join(dir, "out", "prog.s")

	if err := Run(context.Background(), opts, io.Discard, NewErrorCollector(0)); err != nil {
		t.Fatal(err)
	}
	var first []byte
	for i := 0; i < 2; i++ {
		data, err := os.ReadFile(filepath.Join(dir, "out", "prog."+string(rune('0'+i))+".s"))
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.Contains(data, []byte("core0_start:")) {
			t.Errorf("Program %d has no code", i)
		}
		if i == 0 {
			first = data
		} else if bytes.Equal(first, data) {
			t.Error("Programs with different seeds are identical")
		}
	}
}

func TestWriteOutputTruncates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prog.s")
	if err := writeOutput(path, []byte("a much longer first version\n")); err != nil {
		t.Fatal(err)
	}
	if err := writeOutput(path, []byte("short\n")); err != nil {
		t.Fatal(err)
	}
	data, _ := os.ReadFile(path)
	if string(data) != "short\n" {
		t.Errorf("Expected the file to be replaced, got %q", data)
	}
}

func TestRunCollectsFailures(t *testing.T) {
	opts := testOptions(engine.ArchX86_64)
	opts.Programs = 4
	opts.Query = "mnemonic == fsqrt"
	ec := NewErrorCollector(0)

	var buf bytes.Buffer
	err := Run(context.Background(), opts, &buf, ec)
	if !errors.Is(err, ErrProgramsFailed) {
		t.Fatalf("Expected ErrProgramsFailed, got %v", err)
	}
	if buf.Len() != 0 {
		t.Errorf("Failed programs produced output: %q", buf.String())
	}
	errs := ec.Errors()
	if len(errs) == 0 {
		t.Fatal("Expected collected errors")
	}
	for i := 1; i < len(errs); i++ {
		if errs[i].Index < errs[i-1].Index {
			t.Error("Errors are not ordered by program")
		}
	}
	if !errors.Is(errs[0], engine.ErrNoMatchingInstruction) {
		t.Errorf("Expected the engine sentinel, got %v", errs[0])
	}

	report := ec.Report(false)
	if !strings.Contains(report, "catalog error: no matching instruction") || !strings.Contains(report, "error(s) found") {
		t.Errorf("Unexpected report:\n%s", report)
	}
}

func TestRunScenario(t *testing.T) {
	path := filepath.Join(t.TempDir(), "loop.lua")
	script := `
loop(4, "dec", function()
	generate(3, "class == alu")
end)
`
	if err := os.WriteFile(path, []byte(script), 0o644); err != nil {
		t.Fatal(err)
	}
	opts := testOptions(engine.ArchX86_64)
	opts.Scenario = path
	var buf bytes.Buffer
	if err := Run(context.Background(), opts, &buf, NewErrorCollector(0)); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "jg loop_0") {
		t.Errorf("Expected the scenario loop in the output:\n%s", buf.String())
	}
}

func TestRunRejectsBadOptions(t *testing.T) {
	opts := testOptions(engine.ArchX86_64)
	opts.Programs = 0
	if err := Run(context.Background(), opts, io.Discard, NewErrorCollector(0)); err == nil {
		t.Error("Expected an error for zero programs")
	}
	opts = testOptions(engine.ArchX86_64)
	opts.Config.Cores = 0
	if err := Run(context.Background(), opts, io.Discard, NewErrorCollector(0)); err == nil {
		t.Error("Expected an error for zero cores")
	}
}

func TestRunCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := Run(ctx, testOptions(engine.ArchX86_64), io.Discard, NewErrorCollector(0)); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}

func TestErrorCollectorStops(t *testing.T) {
	ec := NewErrorCollector(2)
	ec.AddError(ProgramError{Index: 3, Err: errors.New("x")})
	if ec.ShouldStop() {
		t.Error("Stopped after one error")
	}
	ec.AddError(ProgramError{Index: 1, Err: errors.New("y")})
	if !ec.ShouldStop() {
		t.Error("Expected to stop after two errors")
	}
	if errs := ec.Errors(); errs[0].Index != 1 {
		t.Errorf("Expected program 1 first, got %d", errs[0].Index)
	}
	if colored := ec.Report(true); !strings.Contains(colored, "\033[1;31m2 error(s)") {
		t.Errorf("Expected a colored summary, got %q", colored)
	}
}
