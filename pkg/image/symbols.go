package image

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/fxamacker/cbor/v2"

	"oscc/pkg/compiler"
)

// cborEnc is the canonical encoding mode, so identical symbol maps always
// produce identical sidecar bytes.
var cborEnc cbor.EncMode

func init() {
	var err error
	cborEnc, err = cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
}

// FuncEntry names one compiled function.
type FuncEntry struct {
	Name string `cbor:"name"`
	Addr uint32 `cbor:"addr"`
}

// LineEntry maps a source line to its first instruction.
type LineEntry struct {
	Line int    `cbor:"line"`
	Addr uint32 `cbor:"addr"`
}

// SymbolMap is the debug sidecar written next to an image: enough to turn
// an address back into a function name and source line.
type SymbolMap struct {
	Functions []FuncEntry `cbor:"functions"`
	Lines     []LineEntry `cbor:"lines"`
}

// SymbolsFromProgram extracts the sidecar contents from a compiled unit.
func SymbolsFromProgram(p *compiler.Program) *SymbolMap {
	sm := &SymbolMap{}
	for _, f := range p.Funcs {
		sm.Functions = append(sm.Functions, FuncEntry{Name: f.Name, Addr: f.Addr})
	}
	for _, l := range p.Lines {
		sm.Lines = append(sm.Lines, LineEntry{Line: l.Line, Addr: l.Addr})
	}
	return sm
}

// FuncAt returns the name of the function containing addr, or "".
func (sm *SymbolMap) FuncAt(addr uint32) string {
	name := ""
	best := uint32(0)
	for _, f := range sm.Functions {
		if f.Addr <= addr && f.Addr >= best {
			name = f.Name
			best = f.Addr
		}
	}
	return name
}

// Marshal encodes the map canonically.
func (sm *SymbolMap) Marshal() ([]byte, error) {
	return cborEnc.Marshal(sm)
}

// UnmarshalSymbols decodes a sidecar.
func UnmarshalSymbols(data []byte) (*SymbolMap, error) {
	var sm SymbolMap
	if err := cbor.Unmarshal(data, &sm); err != nil {
		return nil, fmt.Errorf("decoding symbol map: %w", err)
	}
	return &sm, nil
}

// WriteSymbolsFile writes the sidecar through a temporary file.
func WriteSymbolsFile(path string, sm *SymbolMap) error {
	data, err := sm.Marshal()
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".oscc-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// ReadSymbolsFile loads a sidecar from disk.
func ReadSymbolsFile(path string) (*SymbolMap, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return UnmarshalSymbols(data)
}
