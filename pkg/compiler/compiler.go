// Package compiler translates a small C-like systems language directly into
// 32-bit x86 machine code in a single pass: the recursive-descent parser
// emits code as it recognizes each construct, with no intermediate
// representation. Forward references are handled by a patch resolver that
// backfills call displacements once the whole unit has been parsed.
package compiler

import "fmt"

// Default memory layout and resource ceilings.
const (
	DefaultCodeBase  = 0x00400000
	DefaultDataBase  = 0x00600000
	DefaultCodeLimit = 512 * 1024
	DefaultDataLimit = 256 * 1024
)

// HostBinding declares one function the runtime provides to compiled
// programs. Addr is the absolute address calls are emitted against;
// NumParams is the fixed argument count, or -1 for a variadic binding whose
// callers push their argument count on top of the arguments.
type HostBinding struct {
	Name      string
	Addr      uint32
	NumParams int
}

// Config controls code layout and the environment a unit compiles against.
// The zero value gets the default bases and limits.
type Config struct {
	CodeBase  uint32
	DataBase  uint32
	CodeLimit int
	DataLimit int
	Bindings  []HostBinding
}

func (cfg Config) withDefaults() Config {
	if cfg.CodeBase == 0 {
		cfg.CodeBase = DefaultCodeBase
	}
	if cfg.DataBase == 0 {
		cfg.DataBase = DefaultDataBase
	}
	if cfg.CodeLimit == 0 {
		cfg.CodeLimit = DefaultCodeLimit
	}
	if cfg.DataLimit == 0 {
		cfg.DataLimit = DefaultDataLimit
	}
	return cfg
}

// FuncSym locates one compiled function for debuggers and the symbol
// sidecar.
type FuncSym struct {
	Name string
	Addr uint32
}

// LineMark maps a source line to the address of its first instruction.
type LineMark struct {
	Line int
	Addr uint32
}

// Program is a successfully compiled unit. Entry points at a shim that
// calls main and hands its return value to the host exit binding.
type Program struct {
	Code     []byte
	Data     []byte
	CodeBase uint32
	DataBase uint32
	Entry    uint32
	Funcs    []FuncSym
	Lines    []LineMark
}

// loadMark remembers the most recently emitted memory load so assignment
// operators can rewind it and reuse the address it was computed from. It is
// valid only while end still equals the current code position.
type loadMark struct {
	at    int
	end   int
	width int
}

// Compiler holds all state for one compilation unit. The first error wins:
// errorf records it once and every later parsing step becomes a no-op, so
// the recursive descent unwinds without error plumbing on every call.
type Compiler struct {
	cfg Config
	lex *Lexer
	tok Token

	code []byte
	data []byte

	syms     symtab
	structs  []StructDef
	typedefs map[string]ExprType
	strCache map[string]uint32

	patches  []patch
	loops    []loopCtx
	lastLoad loadMark
	frameOff int

	entry      int // code offset of main, -1 until its definition is seen
	entryPatch int

	funcs []FuncSym
	lines []LineMark

	err error
}

// Compile translates one source unit against the given configuration.
func Compile(src string, cfg Config) (*Program, error) {
	if len(src) == 0 {
		return nil, fmt.Errorf("empty source")
	}
	if len(src) > MaxSourceLen {
		return nil, fmt.Errorf("source exceeds the %d byte limit", MaxSourceLen)
	}
	cfg = cfg.withDefaults()

	c := &Compiler{
		cfg:      cfg,
		lex:      NewLexer(src),
		typedefs: make(map[string]ExprType),
		strCache: make(map[string]uint32),
		entry:    -1,
	}
	for _, b := range cfg.Bindings {
		c.syms.add(Symbol{
			Name:      b.Name,
			Kind:      SymHost,
			Type:      typeInt(),
			Offset:    int(b.Addr),
			NumParams: b.NumParams,
		})
	}

	c.advance()
	c.emitStartup()
	c.parseProgram()
	c.finalize()
	if c.err != nil {
		return nil, c.err
	}

	return &Program{
		Code:     c.code,
		Data:     c.data,
		CodeBase: cfg.CodeBase,
		DataBase: cfg.DataBase,
		Entry:    cfg.CodeBase,
		Funcs:    c.funcs,
		Lines:    c.lines,
	}, nil
}

// emitStartup places the entry shim at the start of the code segment: call
// main, hand its return value to the host exit binding if one is bound, and
// otherwise return to whatever return address the loader planted.
func (c *Compiler) emitStartup() {
	c.entryPatch = c.callPlaceholder()
	if idx := c.syms.find("exit"); idx >= 0 && c.syms.at(idx).Kind == SymHost {
		c.pushAcc()
		c.callTo(uint32(c.syms.at(idx).Offset))
	}
	c.emit(0xC3) // ret
}

// finalize runs once the whole unit has been parsed: point the startup shim
// at main and resolve every pending forward call.
func (c *Compiler) finalize() {
	if c.err != nil {
		return
	}
	if c.entry < 0 {
		c.errorf(0, "entry point main is not defined")
		return
	}
	c.patch32(c.entryPatch, c.codeAddr(c.entry)-(c.codeAddr(c.entryPatch)+4))
	c.resolveAll()
}

// errorf records the first error and poisons the token stream so the parser
// unwinds quickly.
func (c *Compiler) errorf(line int, format string, args ...any) {
	if c.err != nil {
		return
	}
	if line > 0 {
		c.err = fmt.Errorf("line %d: %s", line, fmt.Sprintf(format, args...))
	} else {
		c.err = fmt.Errorf(format, args...)
	}
	c.tok = Token{Type: EOF, Line: line}
}

func (c *Compiler) failed() bool {
	return c.err != nil
}

// advance consumes the current token.
func (c *Compiler) advance() {
	if c.err != nil {
		return
	}
	tok, err := c.lex.Next()
	if err != nil {
		c.err = err
		c.tok = Token{Type: EOF}
		return
	}
	c.tok = tok
}

// expect consumes the current token if it has the wanted type and errors
// otherwise.
func (c *Compiler) expect(tt TokenType) {
	if c.err != nil {
		return
	}
	if c.tok.Type != tt {
		c.errorf(c.tok.Line, "expected %s, found %s", tt, c.tok.Type)
		return
	}
	c.advance()
}

// noteLine records the source line about to produce code, for the debug
// symbol sidecar.
func (c *Compiler) noteLine(line int) {
	addr := c.codeAddr(c.here())
	if n := len(c.lines); n > 0 && c.lines[n-1].Addr == addr {
		c.lines[n-1].Line = line
		return
	}
	c.lines = append(c.lines, LineMark{Line: line, Addr: addr})
}
