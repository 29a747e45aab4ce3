// Package machine executes the 32-bit x86 subset produced by the compiler
// on a flat block of memory. It is an interpreter, not a full CPU model: it
// decodes exactly the encodings the code generator and inline assembly can
// produce, and anything else is an invalid-opcode error.
package machine

import "fmt"

// Register indices into Regs, in x86 encoding order.
const (
	EAX = 0
	ECX = 1
	EDX = 2
	EBX = 3
	ESP = 4
	EBP = 5
	ESI = 6
	EDI = 7
)

// HaltAddr is the synthetic return address planted at the bottom of the
// stack. Returning to it ends the program with the accumulator as the exit
// code.
const HaltAddr = 0xFFFFFFFC

// hostWindowSize bounds the address window reserved for host bindings.
const hostWindowSize = 0x1000

// Machine is one running program: flat memory, the eight general registers,
// and the four flags the generated code relies on. Control transfers into
// the host window trap to OnHostCall instead of fetching memory.
type Machine struct {
	Mem  []byte
	Regs [8]uint32
	EIP  uint32

	ZF bool
	SF bool
	OF bool
	CF bool

	Halted   bool
	ExitCode int32
	Steps    uint64

	// HostBase is the start of the host-binding window; zero disables it.
	HostBase   uint32
	OnHostCall func(m *Machine, index int) (uint32, error)
}

// New allocates a machine with the given memory size.
func New(memSize int) *Machine {
	return &Machine{Mem: make([]byte, memSize)}
}

// Load copies a program image into memory and points the machine at its
// entry, with the stack just below the top of memory and the halt sentinel
// as the outermost return address.
func (m *Machine) Load(code []byte, codeBase uint32, data []byte, dataBase uint32, entry uint32) error {
	if int(codeBase)+len(code) > len(m.Mem) {
		return fmt.Errorf("code segment [%#x, %#x) does not fit in %d bytes of memory",
			codeBase, int(codeBase)+len(code), len(m.Mem))
	}
	if int(dataBase)+len(data) > len(m.Mem) {
		return fmt.Errorf("data segment [%#x, %#x) does not fit in %d bytes of memory",
			dataBase, int(dataBase)+len(data), len(m.Mem))
	}
	copy(m.Mem[codeBase:], code)
	copy(m.Mem[dataBase:], data)

	m.Regs[ESP] = uint32(len(m.Mem) - 16)
	m.Regs[EBP] = m.Regs[ESP]
	if err := m.push(HaltAddr); err != nil {
		return err
	}
	m.EIP = entry
	m.Halted = false
	m.ExitCode = 0
	m.Steps = 0
	return nil
}

// Run steps the machine until it halts or the step budget runs out.
func (m *Machine) Run(maxSteps uint64) error {
	for !m.Halted {
		if m.Steps >= maxSteps {
			return fmt.Errorf("program exceeded the %d instruction budget", maxSteps)
		}
		if err := m.Step(); err != nil {
			return err
		}
	}
	return nil
}

// ── memory access ──────────────────────────────────────────────────────────

func (m *Machine) ReadByte(addr uint32) (byte, error) {
	if int(addr) >= len(m.Mem) {
		return 0, fmt.Errorf("byte read beyond memory at %#x", addr)
	}
	return m.Mem[addr], nil
}

func (m *Machine) WriteByte(addr uint32, v byte) error {
	if int(addr) >= len(m.Mem) {
		return fmt.Errorf("byte write beyond memory at %#x", addr)
	}
	m.Mem[addr] = v
	return nil
}

func (m *Machine) ReadU32(addr uint32) (uint32, error) {
	if int(addr)+4 > len(m.Mem) {
		return 0, fmt.Errorf("word read beyond memory at %#x", addr)
	}
	return uint32(m.Mem[addr]) | uint32(m.Mem[addr+1])<<8 |
		uint32(m.Mem[addr+2])<<16 | uint32(m.Mem[addr+3])<<24, nil
}

func (m *Machine) WriteU32(addr uint32, v uint32) error {
	if int(addr)+4 > len(m.Mem) {
		return fmt.Errorf("word write beyond memory at %#x", addr)
	}
	m.Mem[addr] = byte(v)
	m.Mem[addr+1] = byte(v >> 8)
	m.Mem[addr+2] = byte(v >> 16)
	m.Mem[addr+3] = byte(v >> 24)
	return nil
}

func (m *Machine) push(v uint32) error {
	m.Regs[ESP] -= 4
	return m.WriteU32(m.Regs[ESP], v)
}

func (m *Machine) pop() (uint32, error) {
	v, err := m.ReadU32(m.Regs[ESP])
	if err != nil {
		return 0, err
	}
	m.Regs[ESP] += 4
	return v, nil
}

// ── instruction fetch ──────────────────────────────────────────────────────

func (m *Machine) fetch8() (byte, error) {
	b, err := m.ReadByte(m.EIP)
	if err != nil {
		return 0, fmt.Errorf("instruction fetch at %#x: %w", m.EIP, err)
	}
	m.EIP++
	return b, nil
}

func (m *Machine) fetch32() (uint32, error) {
	v, err := m.ReadU32(m.EIP)
	if err != nil {
		return 0, fmt.Errorf("instruction fetch at %#x: %w", m.EIP, err)
	}
	m.EIP += 4
	return v, nil
}

// ── flags ──────────────────────────────────────────────────────────────────

func (m *Machine) flagsLogic(res uint32) {
	m.ZF = res == 0
	m.SF = res>>31 != 0
	m.OF = false
	m.CF = false
}

func (m *Machine) flagsAdd(a, b uint32) uint32 {
	res := a + b
	m.ZF = res == 0
	m.SF = res>>31 != 0
	m.OF = (a^res)&(b^res)>>31 != 0
	m.CF = res < a
	return res
}

func (m *Machine) flagsSub(a, b uint32) uint32 {
	res := a - b
	m.ZF = res == 0
	m.SF = res>>31 != 0
	m.OF = (a^b)&(a^res)>>31 != 0
	m.CF = a < b
	return res
}

// cond evaluates a condition code the way jcc and setcc interpret it.
func (m *Machine) cond(cc byte) bool {
	switch cc {
	case 0x4: // e
		return m.ZF
	case 0x5: // ne
		return !m.ZF
	case 0xC: // l
		return m.SF != m.OF
	case 0xD: // ge
		return m.SF == m.OF
	case 0xE: // le
		return m.ZF || m.SF != m.OF
	case 0xF: // g
		return !m.ZF && m.SF == m.OF
	case 0x2: // b
		return m.CF
	case 0x3: // ae
		return !m.CF
	}
	return false
}

// ── effective addresses ────────────────────────────────────────────────────

// ea resolves the memory forms of a modrm byte that the code generator
// produces: [reg], [reg+disp32], [esp+disp32] via SIB, and [disp32].
func (m *Machine) ea(mod, rm byte) (uint32, error) {
	if rm == 4 {
		sib, err := m.fetch8()
		if err != nil {
			return 0, err
		}
		if (sib>>3)&7 != 4 {
			return 0, fmt.Errorf("unsupported SIB %#02x at %#x", sib, m.EIP-1)
		}
		base := m.Regs[sib&7]
		switch mod {
		case 0:
			return base, nil
		case 2:
			disp, err := m.fetch32()
			if err != nil {
				return 0, err
			}
			return base + disp, nil
		}
		return 0, fmt.Errorf("unsupported SIB addressing mode %d", mod)
	}
	switch mod {
	case 0:
		if rm == 5 {
			return m.fetch32()
		}
		return m.Regs[rm], nil
	case 2:
		disp, err := m.fetch32()
		if err != nil {
			return 0, err
		}
		return m.Regs[rm] + disp, nil
	}
	return 0, fmt.Errorf("unsupported addressing mode %d/%d", mod, rm)
}

// ── execution ──────────────────────────────────────────────────────────────

// Step executes one instruction. Reaching the halt sentinel stops the
// machine; reaching the host window dispatches the binding at that slot and
// performs the return the callee would have done.
func (m *Machine) Step() error {
	if m.Halted {
		return nil
	}
	if m.EIP == HaltAddr {
		m.Halted = true
		m.ExitCode = int32(m.Regs[EAX])
		return nil
	}
	if m.HostBase != 0 && m.EIP >= m.HostBase && m.EIP < m.HostBase+hostWindowSize {
		if m.OnHostCall == nil {
			return fmt.Errorf("host call at %#x with no host attached", m.EIP)
		}
		index := int(m.EIP-m.HostBase) / 4
		ret, err := m.OnHostCall(m, index)
		if err != nil {
			return err
		}
		m.Regs[EAX] = ret
		addr, err := m.pop()
		if err != nil {
			return err
		}
		m.EIP = addr
		m.Steps++
		return nil
	}

	op, err := m.fetch8()
	if err != nil {
		return err
	}
	m.Steps++

	switch {
	case op >= 0xB8 && op <= 0xBF: // mov r, imm32
		v, err := m.fetch32()
		if err != nil {
			return err
		}
		m.Regs[op-0xB8] = v
		return nil
	case op >= 0x50 && op <= 0x57: // push r
		return m.push(m.Regs[op-0x50])
	case op >= 0x58 && op <= 0x5F: // pop r
		v, err := m.pop()
		if err != nil {
			return err
		}
		m.Regs[op-0x58] = v
		return nil
	case op > 0x90 && op <= 0x97: // xchg eax, r
		r := op - 0x90
		m.Regs[EAX], m.Regs[r] = m.Regs[r], m.Regs[EAX]
		return nil
	}

	switch op {
	case 0x90: // nop
		return nil

	case 0x01, 0x09, 0x21, 0x29, 0x31, 0x39, 0x89: // op r/m32, r
		return m.execGroupMR(op)

	case 0x88: // mov r/m8, r8
		modrm, err := m.fetch8()
		if err != nil {
			return err
		}
		mod, reg, rm := modrm>>6, (modrm>>3)&7, modrm&7
		if mod == 3 {
			return fmt.Errorf("unsupported byte register move at %#x", m.EIP-2)
		}
		addr, err := m.ea(mod, rm)
		if err != nil {
			return err
		}
		return m.WriteByte(addr, byte(m.Regs[reg]))

	case 0x8B: // mov r, r/m32
		modrm, err := m.fetch8()
		if err != nil {
			return err
		}
		mod, reg, rm := modrm>>6, (modrm>>3)&7, modrm&7
		if mod == 3 {
			m.Regs[reg] = m.Regs[rm]
			return nil
		}
		addr, err := m.ea(mod, rm)
		if err != nil {
			return err
		}
		v, err := m.ReadU32(addr)
		if err != nil {
			return err
		}
		m.Regs[reg] = v
		return nil

	case 0x8D: // lea r, m
		modrm, err := m.fetch8()
		if err != nil {
			return err
		}
		mod, reg, rm := modrm>>6, (modrm>>3)&7, modrm&7
		if mod == 3 {
			return fmt.Errorf("lea with register operand at %#x", m.EIP-2)
		}
		addr, err := m.ea(mod, rm)
		if err != nil {
			return err
		}
		m.Regs[reg] = addr
		return nil

	case 0x05: // add eax, imm32
		v, err := m.fetch32()
		if err != nil {
			return err
		}
		m.Regs[EAX] = m.flagsAdd(m.Regs[EAX], v)
		return nil

	case 0x2D: // sub eax, imm32
		v, err := m.fetch32()
		if err != nil {
			return err
		}
		m.Regs[EAX] = m.flagsSub(m.Regs[EAX], v)
		return nil

	case 0x3D: // cmp eax, imm32
		v, err := m.fetch32()
		if err != nil {
			return err
		}
		m.flagsSub(m.Regs[EAX], v)
		return nil

	case 0x69: // imul r, r/m32, imm32
		modrm, err := m.fetch8()
		if err != nil {
			return err
		}
		if modrm>>6 != 3 {
			return fmt.Errorf("unsupported imul operand at %#x", m.EIP-2)
		}
		v, err := m.fetch32()
		if err != nil {
			return err
		}
		reg, rm := (modrm>>3)&7, modrm&7
		m.Regs[reg] = uint32(int32(m.Regs[rm]) * int32(v))
		return nil

	case 0x81: // group: add/or/and/sub/xor/cmp r/m32, imm32
		modrm, err := m.fetch8()
		if err != nil {
			return err
		}
		if modrm>>6 != 3 {
			return fmt.Errorf("unsupported immediate-group operand at %#x", m.EIP-2)
		}
		ext, rm := (modrm>>3)&7, modrm&7
		v, err := m.fetch32()
		if err != nil {
			return err
		}
		a := m.Regs[rm]
		switch ext {
		case 0:
			m.Regs[rm] = m.flagsAdd(a, v)
		case 1:
			m.Regs[rm] = a | v
			m.flagsLogic(m.Regs[rm])
		case 4:
			m.Regs[rm] = a & v
			m.flagsLogic(m.Regs[rm])
		case 5:
			m.Regs[rm] = m.flagsSub(a, v)
		case 6:
			m.Regs[rm] = a ^ v
			m.flagsLogic(m.Regs[rm])
		case 7:
			m.flagsSub(a, v)
		default:
			return fmt.Errorf("unsupported immediate-group extension %d at %#x", ext, m.EIP-6)
		}
		return nil

	case 0x85: // test r/m32, r
		modrm, err := m.fetch8()
		if err != nil {
			return err
		}
		if modrm>>6 != 3 {
			return fmt.Errorf("unsupported test operand at %#x", m.EIP-2)
		}
		m.flagsLogic(m.Regs[modrm&7] & m.Regs[(modrm>>3)&7])
		return nil

	case 0x99: // cdq
		if int32(m.Regs[EAX]) < 0 {
			m.Regs[EDX] = 0xFFFFFFFF
		} else {
			m.Regs[EDX] = 0
		}
		return nil

	case 0xD3: // shift group by cl
		modrm, err := m.fetch8()
		if err != nil {
			return err
		}
		if modrm>>6 != 3 {
			return fmt.Errorf("unsupported shift operand at %#x", m.EIP-2)
		}
		ext, rm := (modrm>>3)&7, modrm&7
		count := m.Regs[ECX] & 31
		switch ext {
		case 4: // shl
			m.Regs[rm] <<= count
		case 5: // shr
			m.Regs[rm] >>= count
		case 7: // sar
			m.Regs[rm] = uint32(int32(m.Regs[rm]) >> count)
		default:
			return fmt.Errorf("unsupported shift extension %d at %#x", ext, m.EIP-2)
		}
		return nil

	case 0xF7: // group: not/neg/idiv
		modrm, err := m.fetch8()
		if err != nil {
			return err
		}
		if modrm>>6 != 3 {
			return fmt.Errorf("unsupported unary-group operand at %#x", m.EIP-2)
		}
		ext, rm := (modrm>>3)&7, modrm&7
		switch ext {
		case 2:
			m.Regs[rm] = ^m.Regs[rm]
		case 3:
			m.Regs[rm] = uint32(-int32(m.Regs[rm]))
		case 7:
			divisor := int32(m.Regs[rm])
			if divisor == 0 {
				return fmt.Errorf("integer division by zero at %#x", m.EIP-2)
			}
			dividend := int64(m.Regs[EDX])<<32 | int64(m.Regs[EAX])
			// the generated code always sign-extends with cdq first, so
			// the 64-bit dividend fits a 32-bit signed value
			d := int32(m.Regs[EAX])
			if m.Regs[EDX] != 0 && m.Regs[EDX] != 0xFFFFFFFF {
				return fmt.Errorf("idiv dividend %#x out of range at %#x", dividend, m.EIP-2)
			}
			m.Regs[EAX] = uint32(d / divisor)
			m.Regs[EDX] = uint32(d % divisor)
		default:
			return fmt.Errorf("unsupported unary-group extension %d at %#x", ext, m.EIP-2)
		}
		return nil

	case 0xE8: // call rel32
		disp, err := m.fetch32()
		if err != nil {
			return err
		}
		if err := m.push(m.EIP); err != nil {
			return err
		}
		m.EIP += disp
		return nil

	case 0xE9: // jmp rel32
		disp, err := m.fetch32()
		if err != nil {
			return err
		}
		m.EIP += disp
		return nil

	case 0xC3: // ret
		addr, err := m.pop()
		if err != nil {
			return err
		}
		m.EIP = addr
		return nil

	case 0xC9: // leave
		m.Regs[ESP] = m.Regs[EBP]
		v, err := m.pop()
		if err != nil {
			return err
		}
		m.Regs[EBP] = v
		return nil

	case 0xFF: // call r/m
		modrm, err := m.fetch8()
		if err != nil {
			return err
		}
		if modrm>>6 != 3 || (modrm>>3)&7 != 2 {
			return fmt.Errorf("unsupported 0xFF form %#02x at %#x", modrm, m.EIP-2)
		}
		if err := m.push(m.EIP); err != nil {
			return err
		}
		m.EIP = m.Regs[modrm&7]
		return nil

	case 0x0F:
		return m.execTwoByte()
	}

	return fmt.Errorf("invalid opcode %#02x at %#x", op, m.EIP-1)
}

// execGroupMR handles the shared register-to-r/m arithmetic group. Only the
// mov opcode supports memory destinations; the rest are register forms.
func (m *Machine) execGroupMR(op byte) error {
	modrm, err := m.fetch8()
	if err != nil {
		return err
	}
	mod, reg, rm := modrm>>6, (modrm>>3)&7, modrm&7

	if op == 0x89 && mod != 3 {
		addr, err := m.ea(mod, rm)
		if err != nil {
			return err
		}
		return m.WriteU32(addr, m.Regs[reg])
	}
	if mod != 3 {
		return fmt.Errorf("unsupported memory operand for opcode %#02x at %#x", op, m.EIP-2)
	}

	a, b := m.Regs[rm], m.Regs[reg]
	switch op {
	case 0x01:
		m.Regs[rm] = m.flagsAdd(a, b)
	case 0x09:
		m.Regs[rm] = a | b
		m.flagsLogic(m.Regs[rm])
	case 0x21:
		m.Regs[rm] = a & b
		m.flagsLogic(m.Regs[rm])
	case 0x29:
		m.Regs[rm] = m.flagsSub(a, b)
	case 0x31:
		m.Regs[rm] = a ^ b
		m.flagsLogic(m.Regs[rm])
	case 0x39:
		m.flagsSub(a, b)
	case 0x89:
		m.Regs[rm] = b
	}
	return nil
}

// execTwoByte handles the 0x0F-prefixed encodings: movzx, imul, setcc and
// the long conditional jumps.
func (m *Machine) execTwoByte() error {
	op2, err := m.fetch8()
	if err != nil {
		return err
	}

	switch {
	case op2 >= 0x80 && op2 <= 0x8F: // jcc rel32
		disp, err := m.fetch32()
		if err != nil {
			return err
		}
		if m.cond(op2 & 0xF) {
			m.EIP += disp
		}
		return nil

	case op2 >= 0x90 && op2 <= 0x9F: // setcc r/m8
		modrm, err := m.fetch8()
		if err != nil {
			return err
		}
		if modrm>>6 != 3 {
			return fmt.Errorf("unsupported setcc operand at %#x", m.EIP-2)
		}
		rm := modrm & 7
		if m.cond(op2 & 0xF) {
			m.Regs[rm] = m.Regs[rm]&^0xFF | 1
		} else {
			m.Regs[rm] &^= 0xFF
		}
		return nil
	}

	switch op2 {
	case 0xAF: // imul r, r/m32
		modrm, err := m.fetch8()
		if err != nil {
			return err
		}
		if modrm>>6 != 3 {
			return fmt.Errorf("unsupported imul operand at %#x", m.EIP-2)
		}
		reg, rm := (modrm>>3)&7, modrm&7
		m.Regs[reg] = uint32(int32(m.Regs[reg]) * int32(m.Regs[rm]))
		return nil

	case 0xB6: // movzx r32, r/m8
		modrm, err := m.fetch8()
		if err != nil {
			return err
		}
		mod, reg, rm := modrm>>6, (modrm>>3)&7, modrm&7
		if mod == 3 {
			m.Regs[reg] = m.Regs[rm] & 0xFF
			return nil
		}
		addr, err := m.ea(mod, rm)
		if err != nil {
			return err
		}
		b, err := m.ReadByte(addr)
		if err != nil {
			return err
		}
		m.Regs[reg] = uint32(b)
		return nil
	}

	return fmt.Errorf("invalid opcode 0x0F %#02x at %#x", op2, m.EIP-2)
}
