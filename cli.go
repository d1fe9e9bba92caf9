// Completion: 95% - Program generation, scenario runs and output files
package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/xyproto/instgen/internal/engine"
	"github.com/xyproto/instgen/internal/scenario"
	"golang.org/x/sync/errgroup"
)

// cli.go - everything main does after the flags are parsed
//
// One run generates Programs independent programs. Program i uses the
// seed Config.Seed+i and its own Machine, so the programs share nothing
// and are rendered in parallel. With a scenario the Lua script drives
// each machine; otherwise every core gets Count instructions matching Query.

// Options holds the execution context for one instgen run
type Options struct {
	Config   engine.Config
	Count    int    // instructions per core without a scenario
	Query    string // catalog filter without a scenario, empty for all
	Scenario string // Lua script path
	Programs int
	Output   string // "-" for stdout
	Jobs     int    // parallel renders, 0 for GOMAXPROCS
}

// ErrProgramsFailed is returned when at least one program could not be generated
var ErrProgramsFailed = errors.New("program generation failed")

// programSeed derives the seed of program i
func programSeed(seed int64, i int) int64 {
	return seed + int64(i)
}

// outputPath returns where program i is written: out.s becomes out.0.s, out.1.s, ...
// when there is more than one program
func outputPath(out string, i, programs int) string {
	if programs <= 1 || out == "-" {
		return out
	}
	ext := filepath.Ext(out)
	return fmt.Sprintf("%s.%d%s", strings.TrimSuffix(out, ext), i, ext)
}

// Run generates all programs and writes them out. Generation failures are
// collected in ec and reported as ErrProgramsFailed; I/O failures stop the run.
func Run(ctx context.Context, opts Options, stdout io.Writer, ec *ErrorCollector) error {
	if opts.Programs < 1 {
		return fmt.Errorf("programs must be at least 1, got %d", opts.Programs)
	}
	if opts.Scenario == "" && opts.Count < 0 {
		return fmt.Errorf("instruction count must not be negative, got %d", opts.Count)
	}
	if err := opts.Config.Validate(); err != nil {
		return err
	}
	catalog, err := engine.BuiltinCatalog(opts.Config.Arch)
	if err != nil {
		return err
	}

	jobs := opts.Jobs
	if jobs <= 0 {
		jobs = runtime.GOMAXPROCS(0)
	}
	outputs := make([][]byte, opts.Programs)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(jobs)
	for i := 0; i < opts.Programs; i++ {
		i := i
		g.Go(func() error {
			if gctx.Err() != nil || ec.ShouldStop() {
				return nil
			}
			seed := programSeed(opts.Config.Seed, i)
			text, err := render(opts, seed, catalog)
			if err != nil {
				ec.AddError(ProgramError{Index: i, Seed: seed, Err: err})
				return nil
			}
			outputs[i] = text
			if opts.Output == "-" {
				return nil
			}
			return writeOutput(outputPath(opts.Output, i, opts.Programs), text)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if opts.Output == "-" {
		for _, text := range outputs {
			if text == nil {
				continue
			}
			if _, err := stdout.Write(text); err != nil {
				return err
			}
		}
	}
	if ec.HasErrors() {
		return fmt.Errorf("%w: %d of %d", ErrProgramsFailed, ec.ErrorCount(), opts.Programs)
	}
	return nil
}

// render generates one program with its own machine
func render(opts Options, seed int64, catalog *engine.Catalog) ([]byte, error) {
	cfg := opts.Config
	cfg.Seed = seed
	m, err := engine.NewMachine(cfg, catalog)
	if err != nil {
		return nil, err
	}

	if opts.Scenario != "" {
		r := scenario.NewRunner(m)
		defer r.Close()
		if err := r.RunFile(opts.Scenario); err != nil {
			return nil, err
		}
	} else {
		for _, c := range m.Contexts() {
			if _, err := c.GenerateQuery(opts.Count, opts.Query, nil, nil, ""); err != nil {
				return nil, fmt.Errorf("core %d: %w", c.Core, err)
			}
		}
	}
	if err := m.Verify(); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := m.WriteProgram(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// writeOutput replaces the contents of path while holding an advisory lock
func writeOutput(path string, data []byte) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := lockFile(f); err != nil {
		return fmt.Errorf("failed to lock %s: %w", path, err)
	}
	defer unlockFile(f)

	if err := f.Truncate(0); err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}
