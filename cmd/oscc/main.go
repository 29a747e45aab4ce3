// oscc compiles a small C-like systems language to 32-bit x86 machine code
// and either runs the result in an embedded machine or writes it out as an
// executable image.
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"

	"oscc/pkg/compiler"
	"oscc/pkg/image"
)

func main() {
	run := flag.Bool("run", false, "Compile and run in the embedded machine")
	out := flag.String("o", "", "Write an executable image to this path")
	sym := flag.Bool("sym", false, "Also write a <output>.sym debug sidecar (with -o)")
	execute := flag.String("x", "", "Run a previously written image instead of compiling")
	configPath := flag.String("config", "", "Path to an oscc.toml configuration file")
	maxSteps := flag.Uint64("max-steps", 0, "Instruction budget for -run (overrides config)")
	verbose := flag.Bool("v", false, "Verbose logging")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: oscc [options] file.c\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  oscc -run prog.c          # compile and run\n")
		fmt.Fprintf(os.Stderr, "  oscc -o prog.ocx prog.c   # compile to an image\n")
		fmt.Fprintf(os.Stderr, "  oscc -x prog.ocx          # run an image\n")
		fmt.Fprintf(os.Stderr, "  oscc prog.c               # compile only, report errors\n")
	}
	flag.Parse()

	verbosity := 0
	if *verbose {
		verbosity = 2
	}
	commonlog.Configure(verbosity, nil)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fail(err)
	}
	if *maxSteps != 0 {
		cfg.Run.MaxSteps = *maxSteps
	}

	if *execute != "" {
		img, err := image.ReadFile(*execute)
		if err != nil {
			fail(err)
		}
		os.Exit(runImage(cfg, img))
	}

	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}
	srcPath := flag.Arg(0)
	src, err := os.ReadFile(srcPath)
	if err != nil {
		fail(err)
	}

	table := newHostTable(cfg)
	prog, err := compiler.Compile(string(src), cfg.compilerConfig(table.Bindings()))
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %s\n", srcPath, err)
		os.Exit(1)
	}
	commonlog.NewInfoMessage(0, fmt.Sprintf("compiled %s: %d code bytes, %d data bytes",
		srcPath, len(prog.Code), len(prog.Data)))

	if *out != "" {
		if err := image.WriteFile(*out, image.FromProgram(prog)); err != nil {
			fail(err)
		}
		if *sym {
			if err := image.WriteSymbolsFile(symPath(*out), image.SymbolsFromProgram(prog)); err != nil {
				fail(err)
			}
		}
	}

	if *run {
		os.Exit(runProgram(cfg, table, prog))
	}
}

func symPath(out string) string {
	if i := strings.LastIndexByte(out, '.'); i > 0 {
		return out[:i] + ".sym"
	}
	return out + ".sym"
}

func fail(err error) {
	fmt.Fprintf(os.Stderr, "oscc: %s\n", err)
	os.Exit(1)
}
