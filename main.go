// Completion: 95% - CLI interface complete, all flags working
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"

	"github.com/xyproto/instgen/internal/engine"
	"golang.org/x/term"
)

// A random instruction stream generator for x86_64, aarch64 and riscv64

const versionString = "instgen 0.4.1"

func main() {
	// Environment first, flags override
	cfg, err := engine.ConfigFromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	var archFlag = flag.String("arch", cfg.Arch.String(), "target architecture (amd64, arm64, riscv64)")
	var seedFlag = flag.Int64("seed", cfg.Seed, "random seed of the first program")
	var countFlag = flag.Int("n", 100, "instructions per core (ignored with -scenario)")
	var coresFlag = flag.Int("cores", cfg.Cores, "number of cores")
	var queryFlag = flag.String("query", "", "instruction filter, e.g. \"class == alu && latency <= 3\"")
	var scenarioFlag = flag.String("scenario", "", "Lua scenario script driving each program")
	var programsFlag = flag.Int("programs", 1, "number of programs, generated in parallel with consecutive seeds")
	var jobsFlag = flag.Int("j", 0, "parallel jobs (0 for all CPUs)")
	var outputFlag = flag.String("o", "-", "output file, \"-\" for stdout (out.s becomes out.0.s, out.1.s, ... with -programs)")
	var reuseFlag = flag.Float64("reuse", cfg.ReuseProbability, "probability that a released region is reused")
	var orderedFlag = flag.Bool("ordered", cfg.OrderedSlots, "pick operand slots in template order instead of at random")
	var verbose = flag.Bool("v", cfg.Verbose, "verbose mode (DEBUG lines on stderr)")
	var version = flag.Bool("version", false, "print version information and exit")
	flag.Parse()

	if *version {
		fmt.Println(versionString)
		os.Exit(0)
	}

	arch, err := engine.ParseArch(*archFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: Invalid -arch '%s': %v\n", *archFlag, err)
		os.Exit(1)
	}
	cfg.Arch = arch
	cfg.Seed = *seedFlag
	cfg.Cores = *coresFlag
	cfg.ReuseProbability = *reuseFlag
	cfg.OrderedSlots = *orderedFlag
	cfg.Verbose = *verbose
	cfg.Log = os.Stderr

	if cfg.Verbose {
		fmt.Fprintf(os.Stderr, "DEBUG main: arch=%s seed=%d cores=%d programs=%d\n", cfg.Arch, cfg.Seed, cfg.Cores, *programsFlag)
	}

	opts := Options{
		Config:   cfg,
		Count:    *countFlag,
		Query:    *queryFlag,
		Scenario: *scenarioFlag,
		Programs: *programsFlag,
		Output:   *outputFlag,
		Jobs:     *jobsFlag,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	useColor := term.IsTerminal(int(os.Stderr.Fd()))
	ec := NewErrorCollector(10)
	if err := Run(ctx, opts, os.Stdout, ec); err != nil {
		if errors.Is(err, ErrProgramsFailed) {
			fmt.Fprint(os.Stderr, ec.Report(useColor))
		} else {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		stop()
		os.Exit(1)
	}
}
