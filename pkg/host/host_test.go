package host

import (
	"bytes"
	"testing"

	"oscc/pkg/machine"
)

func newTestTable() *Table {
	return NewTable(Options{HeapBase: 0x1000, HeapSize: 0x1000})
}

func TestAllocAlignmentAndBump(t *testing.T) {
	tab := newTestTable()
	a := tab.alloc(3)
	b := tab.alloc(1)
	if a != 0x1000 {
		t.Errorf("first block at %#x, want heap base", a)
	}
	if a%8 != 0 || b%8 != 0 {
		t.Errorf("blocks not 8-byte aligned: %#x %#x", a, b)
	}
	if b != a+8 {
		t.Errorf("3-byte request should round to one 8-byte block, next at %#x", b)
	}
}

func TestAllocZeroBytesStillAllocates(t *testing.T) {
	tab := newTestTable()
	a := tab.alloc(0)
	b := tab.alloc(0)
	if a == 0 || b == 0 || a == b {
		t.Errorf("zero-size allocations must be distinct: %#x %#x", a, b)
	}
}

func TestFreeAndReuse(t *testing.T) {
	tab := newTestTable()
	a := tab.alloc(64)
	tab.alloc(8) // keeps the bump pointer past a
	if !tab.free(a) {
		t.Fatal("free of a live block failed")
	}
	if tab.free(a) {
		t.Error("double free should report failure")
	}
	c := tab.alloc(16)
	if c != a {
		t.Errorf("freed block should be reused first-fit, got %#x want %#x", c, a)
	}
}

func TestAllocExhaustion(t *testing.T) {
	tab := newTestTable()
	if got := tab.alloc(0x2000); got != 0 {
		t.Errorf("oversized allocation should return 0, got %#x", got)
	}
	// consume the whole heap in chunks, then fail
	for i := 0; i < 0x1000/8; i++ {
		if tab.alloc(8) == 0 {
			t.Fatalf("heap exhausted early at block %d", i)
		}
	}
	if tab.alloc(8) != 0 {
		t.Error("allocation past the end of the heap should return 0")
	}
}

func TestCStringRoundTrip(t *testing.T) {
	m := machine.New(4096)
	if err := writeCString(m, 100, "hello", 32); err != nil {
		t.Fatalf("write: %v", err)
	}
	s, err := readCString(m, 100)
	if err != nil || s != "hello" {
		t.Errorf("read back %q, %v", s, err)
	}
}

func TestWriteCStringTruncates(t *testing.T) {
	m := machine.New(4096)
	if err := writeCString(m, 0, "abcdefgh", 4); err != nil {
		t.Fatalf("write: %v", err)
	}
	s, err := readCString(m, 0)
	if err != nil || s != "abc" {
		t.Errorf("truncated string = %q, %v", s, err)
	}
}

func TestReadCStringUnterminated(t *testing.T) {
	m := machine.New(4096)
	for i := range m.Mem {
		m.Mem[i] = 'x'
	}
	if _, err := readCString(m, 0); err == nil {
		t.Error("expected an error for a string with no terminator in range")
	}
}

func TestBindingsCoverStandardSet(t *testing.T) {
	tab := newTestTable()
	bindings := tab.Bindings()
	byName := make(map[string]int)
	for i, b := range bindings {
		byName[b.Name] = i
		if b.Addr != Base+uint32(4*i) {
			t.Errorf("%s bound at %#x, want slot %d", b.Name, b.Addr, i)
		}
	}
	for _, name := range []string{"print", "puts", "alloc", "free", "memset", "fopen", "exit"} {
		if _, ok := byName[name]; !ok {
			t.Errorf("standard binding %q missing", name)
		}
	}
	if bindings[byName["print"]].NumParams != -1 {
		t.Error("print should be variadic")
	}
}

func TestDispatchRejectsUnboundSlot(t *testing.T) {
	tab := newTestTable()
	m := machine.New(4096)
	if _, err := tab.dispatch(m, len(tab.fns)); err == nil {
		t.Error("expected an error for an out-of-range slot")
	}
}

func TestDispatchReadsFixedArgs(t *testing.T) {
	tab := NewTable(Options{})
	m := machine.New(4096)
	m.Regs[machine.ESP] = 2048

	// frame as outb(0x60, 7) sees it: args pushed left to right, then the
	// return address on top
	m.WriteU32(2048, 0x1234)  // return address
	m.WriteU32(2048+4, 7)     // second argument
	m.WriteU32(2048+8, 0x60)  // first argument

	var slot int
	for i, f := range tab.fns {
		if f.name == "outb" {
			slot = i
		}
	}
	if _, err := tab.dispatch(m, slot); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if tab.ports[0x60] != 7 {
		t.Errorf("port 0x60 = %d, want 7", tab.ports[0x60])
	}
}

func TestPrintFormatsVerbs(t *testing.T) {
	var out bytes.Buffer
	tab := NewTable(Options{Console: &out})
	m := machine.New(4096)

	// format string in program memory
	fmtAddr := uint32(64)
	for i, c := range []byte("n=%d h=%x c=%c p=%%\x00") {
		m.Mem[fmtAddr+uint32(i)] = c
	}

	// variadic frame: print(fmt, 42, 255, 'A') with count on top
	esp := uint32(2048)
	m.Regs[machine.ESP] = esp
	m.WriteU32(esp, 0x1234)     // return address
	m.WriteU32(esp+4, 4)        // argument count
	m.WriteU32(esp+8, 'A')      // last argument
	m.WriteU32(esp+12, 255)
	m.WriteU32(esp+16, 42)
	m.WriteU32(esp+20, fmtAddr) // first argument

	if _, err := tab.dispatch(m, 0); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if got := out.String(); got != "n=42 h=ff c=A p=%" {
		t.Errorf("print wrote %q", got)
	}
}
