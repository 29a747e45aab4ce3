package machine

import (
	"strings"
	"testing"
)

const (
	testMem      = 1 << 16
	testCodeBase = 0x1000
	testDataBase = 0x4000
)

func imm32(v int32) []byte {
	return immU32(uint32(v))
}

func immU32(u uint32) []byte {
	return []byte{byte(u), byte(u >> 8), byte(u >> 16), byte(u >> 24)}
}

func asm(chunks ...[]byte) []byte {
	var out []byte
	for _, c := range chunks {
		out = append(out, c...)
	}
	return out
}

// run loads the code at the usual test base and executes it until it
// returns to the halt sentinel.
func run(t *testing.T, code []byte) *Machine {
	t.Helper()
	m := New(testMem)
	if err := m.Load(code, testCodeBase, nil, testDataBase, testCodeBase); err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := m.Run(10_000); err != nil {
		t.Fatalf("run: %v", err)
	}
	if !m.Halted {
		t.Fatal("machine did not halt")
	}
	return m
}

func TestMovRetHalts(t *testing.T) {
	m := run(t, asm(
		[]byte{0xB8}, imm32(42), // mov eax, 42
		[]byte{0xC3}, // ret
	))
	if m.ExitCode != 42 {
		t.Errorf("exit code = %d, want 42", m.ExitCode)
	}
}

func TestPushPopXchg(t *testing.T) {
	m := run(t, asm(
		[]byte{0xB8}, imm32(7), // mov eax, 7
		[]byte{0x50},           // push eax
		[]byte{0xB8}, imm32(0), // mov eax, 0
		[]byte{0x59},       // pop ecx
		[]byte{0x91},       // xchg eax, ecx
		[]byte{0x90, 0xC3}, // nop; ret
	))
	if m.ExitCode != 7 {
		t.Errorf("exit code = %d, want 7", m.ExitCode)
	}
	if m.Regs[ECX] != 0 {
		t.Errorf("ecx = %d, want 0", m.Regs[ECX])
	}
}

func TestArithmeticAndFlags(t *testing.T) {
	m := run(t, asm(
		[]byte{0xB8}, imm32(40), // mov eax, 40
		[]byte{0xB9}, imm32(2), // mov ecx, 2
		[]byte{0x01, 0xC8}, // add eax, ecx
		[]byte{0xC3},
	))
	if m.ExitCode != 42 {
		t.Errorf("exit code = %d, want 42", m.ExitCode)
	}
	if m.ZF || m.SF {
		t.Errorf("unexpected flags after positive add: ZF=%v SF=%v", m.ZF, m.SF)
	}
}

func TestConditionalJumpTaken(t *testing.T) {
	// cmp eax, 5 sets ZF, je skips the mov that would zero the result.
	m := run(t, asm(
		[]byte{0xB8}, imm32(5), // mov eax, 5
		[]byte{0x3D}, imm32(5), // cmp eax, 5
		[]byte{0x0F, 0x84}, imm32(5), // je +5
		[]byte{0xB8}, imm32(0), // mov eax, 0 (skipped)
		[]byte{0xC3},
	))
	if m.ExitCode != 5 {
		t.Errorf("exit code = %d, want 5", m.ExitCode)
	}
}

func TestSetccProducesBool(t *testing.T) {
	m := run(t, asm(
		[]byte{0xB8}, imm32(3), // mov eax, 3
		[]byte{0x3D}, imm32(5), // cmp eax, 5
		[]byte{0x0F, 0x9C, 0xC0}, // setl al
		[]byte{0x0F, 0xB6, 0xC0}, // movzx eax, al
		[]byte{0xC3},
	))
	if m.ExitCode != 1 {
		t.Errorf("3 < 5 should yield 1, got %d", m.ExitCode)
	}
}

func TestSignedDivisionRoundsTowardZero(t *testing.T) {
	m := run(t, asm(
		[]byte{0xB8}, imm32(-7), // mov eax, -7
		[]byte{0x99},           // cdq
		[]byte{0xB9}, imm32(2), // mov ecx, 2
		[]byte{0xF7, 0xF9}, // idiv ecx
		[]byte{0xC3},
	))
	if m.ExitCode != -3 {
		t.Errorf("-7 / 2 = %d, want -3", m.ExitCode)
	}
	if int32(m.Regs[EDX]) != -1 {
		t.Errorf("-7 %% 2 = %d, want -1", int32(m.Regs[EDX]))
	}
}

func TestDivisionByZeroErrors(t *testing.T) {
	m := New(testMem)
	code := asm(
		[]byte{0xB8}, imm32(1),
		[]byte{0x99},
		[]byte{0xB9}, imm32(0),
		[]byte{0xF7, 0xF9},
	)
	if err := m.Load(code, testCodeBase, nil, testDataBase, testCodeBase); err != nil {
		t.Fatalf("load: %v", err)
	}
	err := m.Run(100)
	if err == nil || !strings.Contains(err.Error(), "division by zero") {
		t.Errorf("expected division-by-zero error, got %v", err)
	}
}

func TestCallAndReturn(t *testing.T) {
	// call +6 over a trap, callee returns 42.
	m := run(t, asm(
		[]byte{0xE8}, imm32(6), // call +6
		[]byte{0xC3},           // back here, then halt
		[]byte{0xB8}, imm32(0), // never reached
		[]byte{0xB8}, imm32(42), // callee
		[]byte{0xC3},
	))
	if m.ExitCode != 42 {
		t.Errorf("exit code = %d, want 42", m.ExitCode)
	}
}

func TestFramePrologueEpilogue(t *testing.T) {
	// push ebp; mov ebp, esp; sub esp, 8; store to a local; load it back;
	// leave; ret.
	m := run(t, asm(
		[]byte{0x55},             // push ebp
		[]byte{0x89, 0xE5},       // mov ebp, esp
		[]byte{0x81, 0xEC}, imm32(8), // sub esp, 8
		[]byte{0xB8}, imm32(42), // mov eax, 42
		[]byte{0x91},                 // xchg eax, ecx
		[]byte{0x8D, 0x85}, imm32(-4), // lea eax, [ebp-4]
		[]byte{0x89, 0x08},       // mov [eax], ecx
		[]byte{0x8B, 0x00},       // mov eax, [eax]
		[]byte{0xC9, 0xC3},       // leave; ret
	))
	if m.ExitCode != 42 {
		t.Errorf("exit code = %d, want 42", m.ExitCode)
	}
}

func TestByteStoreAndMovzx(t *testing.T) {
	m := run(t, asm(
		[]byte{0xB9}, imm32(0x1FF), // mov ecx, 0x1FF
		[]byte{0xB8}, imm32(testDataBase), // mov eax, data
		[]byte{0x88, 0x08},       // mov [eax], cl
		[]byte{0x0F, 0xB6, 0x00}, // movzx eax, byte [eax]
		[]byte{0xC3},
	))
	if m.ExitCode != 0xFF {
		t.Errorf("byte store should truncate to 0xFF, got %#x", m.ExitCode)
	}
}

func TestStackRelativeLoad(t *testing.T) {
	m := run(t, asm(
		[]byte{0xB8}, imm32(42),
		[]byte{0x50},           // push eax
		[]byte{0xB8}, imm32(0), // mov eax, 0
		[]byte{0x8B, 0x84, 0x24}, imm32(0), // mov eax, [esp+0]
		[]byte{0x81, 0xC4}, imm32(4), // add esp, 4
		[]byte{0xC3},
	))
	if m.ExitCode != 42 {
		t.Errorf("exit code = %d, want 42", m.ExitCode)
	}
}

func TestHostTrapDispatchesAndReturns(t *testing.T) {
	const hostBase = 0xFFFF0000

	m := New(testMem)
	// call slot 2 of the host window, then halt with its result.
	code := asm(
		[]byte{0xB8}, immU32(hostBase+8), // mov eax, slot 2
		[]byte{0xFF, 0xD0}, // call eax
		[]byte{0xC3},
	)
	if err := m.Load(code, testCodeBase, nil, testDataBase, testCodeBase); err != nil {
		t.Fatalf("load: %v", err)
	}

	var gotIndex int
	m.HostBase = hostBase
	m.OnHostCall = func(m *Machine, index int) (uint32, error) {
		gotIndex = index
		return 42, nil
	}
	if err := m.Run(100); err != nil {
		t.Fatalf("run: %v", err)
	}
	if gotIndex != 2 {
		t.Errorf("host index = %d, want 2", gotIndex)
	}
	if m.ExitCode != 42 {
		t.Errorf("exit code = %d, want 42", m.ExitCode)
	}
}

func TestHostTrapWithoutHandlerErrors(t *testing.T) {
	m := New(testMem)
	code := asm(
		[]byte{0xB8}, immU32(0xFFFF0000),
		[]byte{0xFF, 0xD0},
	)
	if err := m.Load(code, testCodeBase, nil, testDataBase, testCodeBase); err != nil {
		t.Fatalf("load: %v", err)
	}
	m.HostBase = 0xFFFF0000
	if err := m.Run(100); err == nil {
		t.Error("expected an error for a host call with no handler")
	}
}

func TestInvalidOpcodeErrors(t *testing.T) {
	m := New(testMem)
	if err := m.Load([]byte{0xF4}, testCodeBase, nil, testDataBase, testCodeBase); err != nil {
		t.Fatalf("load: %v", err)
	}
	err := m.Run(10)
	if err == nil || !strings.Contains(err.Error(), "invalid opcode") {
		t.Errorf("expected invalid-opcode error, got %v", err)
	}
}

func TestStepBudget(t *testing.T) {
	m := New(testMem)
	// jmp -5 loops on itself forever.
	code := asm([]byte{0xE9}, imm32(-5))
	if err := m.Load(code, testCodeBase, nil, testDataBase, testCodeBase); err != nil {
		t.Fatalf("load: %v", err)
	}
	err := m.Run(1000)
	if err == nil || !strings.Contains(err.Error(), "budget") {
		t.Errorf("expected step-budget error, got %v", err)
	}
}

func TestLoadRejectsOversizedSegments(t *testing.T) {
	m := New(1024)
	if err := m.Load(make([]byte, 2048), 0, nil, 512, 0); err == nil {
		t.Error("expected an error for a code segment larger than memory")
	}
	if err := m.Load([]byte{0xC3}, 0, make([]byte, 2048), 512, 0); err == nil {
		t.Error("expected an error for a data segment larger than memory")
	}
}
