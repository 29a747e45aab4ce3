// Package host implements the functions the runtime exposes to compiled
// programs: console IO, a heap, string and memory helpers, port IO, file
// access backed by the virtual disk, and process control. Each binding
// occupies one slot in an address window above all real memory; calls that
// land there trap out of the machine and into Go.
package host

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/tliron/commonlog"

	"oscc/pkg/compiler"
	"oscc/pkg/machine"
	"oscc/pkg/vfs"
)

// Base is the start of the host-binding window. Slot i answers calls to
// Base+4*i.
const Base = 0xFFFF0000

// Heap layout defaults.
const (
	DefaultHeapBase = 0x00800000
	DefaultHeapSize = 4 * 1024 * 1024
)

// maxCString bounds string reads out of program memory.
const maxCString = 1 << 16

// errVal is the in-program error return, -1 as an unsigned word.
const errVal = 0xFFFFFFFF

var log = commonlog.GetLogger("oscc.host")

// Options configures a binding table. Zero fields get defaults: discarded
// console output, no input, a fresh empty disk.
type Options struct {
	Console  io.Writer
	Input    io.Reader
	Disk     *vfs.Disk
	HeapBase uint32
	HeapSize uint32
}

type fileHandle struct {
	path string
	pos  int
}

type freeBlock struct {
	addr uint32
	size uint32
}

type hostFunc struct {
	name      string
	numParams int // -1 marks variadic; callers push their count on top
	fn        func(t *Table, m *machine.Machine, args []uint32) (uint32, error)
}

// Table is one program's host environment.
type Table struct {
	console io.Writer
	input   io.Reader
	disk    *vfs.Disk

	heapBase uint32
	heapEnd  uint32
	heapNext uint32
	allocs   map[uint32]uint32
	freeList []freeBlock

	handles map[int32]*fileHandle
	nextFd  int32

	ports map[uint16]uint8
	start time.Time

	fns []hostFunc
}

// NewTable builds a binding table with the standard function set.
func NewTable(opts Options) *Table {
	if opts.Console == nil {
		opts.Console = io.Discard
	}
	if opts.Disk == nil {
		opts.Disk = vfs.NewDisk()
	}
	if opts.HeapBase == 0 {
		opts.HeapBase = DefaultHeapBase
	}
	if opts.HeapSize == 0 {
		opts.HeapSize = DefaultHeapSize
	}
	t := &Table{
		console:  opts.Console,
		input:    opts.Input,
		disk:     opts.Disk,
		heapBase: opts.HeapBase,
		heapEnd:  opts.HeapBase + opts.HeapSize,
		heapNext: opts.HeapBase,
		allocs:   make(map[uint32]uint32),
		handles:  make(map[int32]*fileHandle),
		nextFd:   3,
		ports:    make(map[uint16]uint8),
		start:    time.Now(),
	}
	t.fns = standardFuncs()
	return t
}

// Bindings returns the declarations the compiler needs to emit calls
// against this table.
func (t *Table) Bindings() []compiler.HostBinding {
	out := make([]compiler.HostBinding, len(t.fns))
	for i, f := range t.fns {
		out[i] = compiler.HostBinding{
			Name:      f.name,
			Addr:      Base + uint32(4*i),
			NumParams: f.numParams,
		}
	}
	return out
}

// Attach wires the table into a machine as its host-call handler.
func (t *Table) Attach(m *machine.Machine) {
	m.HostBase = Base
	m.OnHostCall = t.dispatch
}

// dispatch reads the arguments of slot index off the program stack and runs
// the binding. On entry ESP points at the return address; arguments were
// pushed left to right, so the first argument sits deepest. Variadic
// bindings find their argument count directly above the return address.
func (t *Table) dispatch(m *machine.Machine, index int) (uint32, error) {
	if index < 0 || index >= len(t.fns) {
		return 0, fmt.Errorf("call to unbound host slot %d", index)
	}
	f := t.fns[index]
	esp := m.Regs[machine.ESP]

	var args []uint32
	if f.numParams >= 0 {
		args = make([]uint32, f.numParams)
		for i := 0; i < f.numParams; i++ {
			v, err := m.ReadU32(esp + 4 + uint32(4*(f.numParams-1-i)))
			if err != nil {
				return 0, fmt.Errorf("host %s: %w", f.name, err)
			}
			args[i] = v
		}
	} else {
		n, err := m.ReadU32(esp + 4)
		if err != nil {
			return 0, fmt.Errorf("host %s: %w", f.name, err)
		}
		if n > 64 {
			return 0, fmt.Errorf("host %s: unreasonable argument count %d", f.name, n)
		}
		args = make([]uint32, n)
		for i := uint32(0); i < n; i++ {
			v, err := m.ReadU32(esp + 8 + 4*(n-1-i))
			if err != nil {
				return 0, fmt.Errorf("host %s: %w", f.name, err)
			}
			args[i] = v
		}
	}
	return f.fn(t, m, args)
}

// readCString copies a NUL-terminated string out of program memory.
func readCString(m *machine.Machine, addr uint32) (string, error) {
	var sb strings.Builder
	for i := 0; i < maxCString; i++ {
		b, err := m.ReadByte(addr + uint32(i))
		if err != nil {
			return "", err
		}
		if b == 0 {
			return sb.String(), nil
		}
		sb.WriteByte(b)
	}
	return "", fmt.Errorf("unterminated string at %#x", addr)
}

// writeCString stores a string plus NUL, truncating to fit max bytes.
func writeCString(m *machine.Machine, addr uint32, s string, max int) error {
	if len(s) >= max {
		s = s[:max-1]
	}
	for i := 0; i < len(s); i++ {
		if err := m.WriteByte(addr+uint32(i), s[i]); err != nil {
			return err
		}
	}
	return m.WriteByte(addr+uint32(len(s)), 0)
}

// ── heap ───────────────────────────────────────────────────────────────────

// alloc hands out 8-byte-aligned blocks, reusing freed blocks first-fit and
// bumping the high-water mark otherwise. Returns 0 when the heap is full.
func (t *Table) alloc(size uint32) uint32 {
	if size == 0 {
		size = 1
	}
	size = (size + 7) &^ 7
	for i, b := range t.freeList {
		if b.size >= size {
			t.freeList = append(t.freeList[:i], t.freeList[i+1:]...)
			t.allocs[b.addr] = b.size
			return b.addr
		}
	}
	if t.heapNext+size > t.heapEnd || t.heapNext+size < t.heapNext {
		return 0
	}
	addr := t.heapNext
	t.heapNext += size
	t.allocs[addr] = size
	return addr
}

func (t *Table) free(addr uint32) bool {
	size, ok := t.allocs[addr]
	if !ok {
		return false
	}
	delete(t.allocs, addr)
	t.freeList = append(t.freeList, freeBlock{addr: addr, size: size})
	return true
}
