package main

import (
	"fmt"
	"os"

	"oscc/pkg/compiler"
	"oscc/pkg/host"
	"oscc/pkg/image"
)

func newHostTable(cfg Config) *host.Table {
	return host.NewTable(cfg.hostOptions())
}

// runProgram executes a freshly compiled unit and returns its exit code.
func runProgram(cfg Config, table *host.Table, prog *compiler.Program) int {
	m := cfg.newMachine()
	if err := m.Load(prog.Code, prog.CodeBase, prog.Data, prog.DataBase, prog.Entry); err != nil {
		fmt.Fprintf(os.Stderr, "oscc: %s\n", err)
		return 1
	}
	table.Attach(m)
	if err := m.Run(cfg.Run.MaxSteps); err != nil {
		fmt.Fprintf(os.Stderr, "oscc: %s\n", err)
		return 1
	}
	return int(m.ExitCode)
}

// runImage executes a previously written image. The image must have been
// built against the same host binding layout this build provides.
func runImage(cfg Config, img *image.Image) int {
	m := cfg.newMachine()
	if err := m.Load(img.Code, img.CodeBase, img.Data, img.DataBase, img.Entry); err != nil {
		fmt.Fprintf(os.Stderr, "oscc: %s\n", err)
		return 1
	}
	newHostTable(cfg).Attach(m)
	if err := m.Run(cfg.Run.MaxSteps); err != nil {
		fmt.Fprintf(os.Stderr, "oscc: %s\n", err)
		return 1
	}
	return int(m.ExitCode)
}
