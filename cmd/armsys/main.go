// Package main provides the armsys command line, which boots a guest image
// on an emulated ARM cluster and runs it until the guest exits through
// semihosting or PSCI.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/sarchlab/armsys/arch"
	"github.com/sarchlab/armsys/config"
	"github.com/sarchlab/armsys/emu"
	"github.com/sarchlab/armsys/loader"
)

var (
	configPath  = flag.String("config", "", "Path to core configuration JSON file")
	rawAddr     = flag.String("raw", "", "Load the image as a flat binary at this physical address")
	raw32       = flag.Bool("raw32", false, "Run a flat binary in AArch32")
	numCores    = flag.Int("cores", 0, "Override the number of cores")
	semihosting = flag.Bool("semihosting", true, "Intercept semihosting calls (overrides the config file when set)")
	maxInsts    = flag.Uint64("max", 0, "Stop after this many instructions (0 means no limit)")
	verbose     = flag.Bool("v", false, "Verbose output")
	trace       = flag.Bool("trace", false, "Log exceptions and guest errors to stderr")
)

func main() {
	flag.Parse()

	if flag.NArg() < 1 {
		fmt.Fprintf(os.Stderr, "Usage: armsys [options] <image>\n")
		fmt.Fprintf(os.Stderr, "\nOptions:\n")
		flag.PrintDefaults()
		os.Exit(1)
	}

	imagePath := flag.Arg(0)

	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	prog, err := loadImage(imagePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading image: %v\n", err)
		os.Exit(1)
	}

	if !prog.AArch64 && cfg.FeatureSet().Has(arch.FeatureAArch64) {
		cfg.ResetAArch32 = true
	}

	if *verbose {
		fmt.Printf("Loaded: %s\n", imagePath)
		fmt.Printf("Entry point: 0x%X\n", prog.EntryPoint)
		fmt.Printf("Segments: %d\n", len(prog.Segments))
		fmt.Printf("Model: %s, %d core(s)\n", cfg.Name, cfg.NumCores)
	}

	os.Exit(int(run(cfg, prog, imagePath)))
}

func loadConfig() (*config.CoreConfig, error) {
	cfg := config.DefaultCoreConfig()
	if *configPath != "" {
		var err error
		cfg, err = config.LoadConfig(*configPath)
		if err != nil {
			return nil, err
		}
	}

	if *numCores > 0 {
		cfg.NumCores = *numCores
	}
	if *configPath == "" || flagSet("semihosting") {
		cfg.Semihosting = *semihosting
	}

	return cfg, cfg.Validate()
}

// flagSet reports whether the named flag was given on the command line.
func flagSet(name string) bool {
	set := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == name {
			set = true
		}
	})
	return set
}

func loadImage(path string) (*loader.Program, error) {
	if *rawAddr == "" {
		return loader.Load(path)
	}

	addr, err := strconv.ParseUint(*rawAddr, 0, 64)
	if err != nil {
		return nil, fmt.Errorf("bad -raw address %q: %w", *rawAddr, err)
	}
	return loader.LoadRaw(path, addr, !*raw32)
}

// run boots prog on a fresh cluster and returns the guest's exit code.
func run(cfg *config.CoreConfig, prog *loader.Program, imagePath string) int64 {
	var opts []emu.CoreOption
	if *trace {
		logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
		opts = append(opts, emu.WithLogger(logger))
	}

	cl, err := emu.NewCluster(cfg, opts...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating cluster: %v\n", err)
		return 1
	}

	if err := prog.LoadIntoMemory(cl.Memory()); err != nil {
		fmt.Fprintf(os.Stderr, "Error loading image: %v\n", err)
		return 1
	}

	boot := cl.Core(0).RegFile()
	boot.PC = prog.EntryPoint
	boot.PSTATE.T = prog.Thumb

	var emuOpts []emu.EmulatorOption
	if *maxInsts > 0 {
		emuOpts = append(emuOpts, emu.WithMaxInstructions(*maxInsts))
	}
	emulator := emu.NewEmulator(cl, emuOpts...)

	exitCode := emulator.Run()

	if *verbose {
		fmt.Printf("\nImage: %s\n", imagePath)
		fmt.Printf("Exit code: %d\n", exitCode)
		fmt.Printf("System event: %v\n", cl.SystemEvent())
		fmt.Printf("Instructions executed: %d\n", emulator.InstructionCount())
	}

	return exitCode
}
