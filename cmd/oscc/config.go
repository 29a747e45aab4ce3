package main

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"

	"oscc/pkg/compiler"
	"oscc/pkg/host"
	"oscc/pkg/machine"
)

// Config is an oscc.toml file: memory layout, resource limits and execution
// budget. Every field is optional and falls back to the defaults below.
type Config struct {
	Layout Layout `toml:"layout"`
	Limits Limits `toml:"limits"`
	Run    Run    `toml:"run"`
}

// Layout places the program segments and the heap.
type Layout struct {
	CodeBase uint32 `toml:"code-base"`
	DataBase uint32 `toml:"data-base"`
	HeapBase uint32 `toml:"heap-base"`
	HeapSize uint32 `toml:"heap-size"`
}

// Limits bounds what one compilation may produce.
type Limits struct {
	CodeLimit int `toml:"code-limit"`
	DataLimit int `toml:"data-limit"`
}

// Run bounds execution.
type Run struct {
	MemorySize int    `toml:"memory-size"`
	MaxSteps   uint64 `toml:"max-steps"`
}

const (
	defaultMemorySize = 16 * 1024 * 1024
	defaultMaxSteps   = 100_000_000
)

// loadConfig reads a toml config file; an empty path yields the defaults.
func loadConfig(path string) (Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("cannot read %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse error in %s: %w", path, err)
		}
	}
	if cfg.Run.MemorySize == 0 {
		cfg.Run.MemorySize = defaultMemorySize
	}
	if cfg.Run.MaxSteps == 0 {
		cfg.Run.MaxSteps = defaultMaxSteps
	}
	return cfg, nil
}

// compilerConfig builds the compiler view of the configuration.
func (cfg Config) compilerConfig(bindings []compiler.HostBinding) compiler.Config {
	return compiler.Config{
		CodeBase:  cfg.Layout.CodeBase,
		DataBase:  cfg.Layout.DataBase,
		CodeLimit: cfg.Limits.CodeLimit,
		DataLimit: cfg.Limits.DataLimit,
		Bindings:  bindings,
	}
}

// hostOptions builds the host view of the configuration.
func (cfg Config) hostOptions() host.Options {
	return host.Options{
		Console:  os.Stdout,
		Input:    os.Stdin,
		HeapBase: cfg.Layout.HeapBase,
		HeapSize: cfg.Layout.HeapSize,
	}
}

// newMachine allocates the execution machine.
func (cfg Config) newMachine() *machine.Machine {
	return machine.New(cfg.Run.MemorySize)
}
