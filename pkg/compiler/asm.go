package compiler

// asmRegs maps register names to their x86 encoding numbers.
var asmRegs = map[string]byte{
	"eax": 0, "ecx": 1, "edx": 2, "ebx": 3,
	"esp": 4, "ebp": 5, "esi": 6, "edi": 7,
}

// asmRegReg is the opcode for the register-to-register form of each
// supported mnemonic (MR encoding, mod=11).
var asmRegReg = map[string]byte{
	"mov": 0x89,
	"add": 0x01,
	"sub": 0x29,
	"and": 0x21,
	"or":  0x09,
	"xor": 0x31,
	"cmp": 0x39,
}

// asmImmExt is the /ext field of the 0x81 group for register-immediate
// forms. mov reg, imm uses the short B8+reg encoding instead.
var asmImmExt = map[string]byte{
	"add": 0,
	"or":  1,
	"and": 4,
	"sub": 5,
	"xor": 6,
	"cmp": 7,
}

// parseAsmBlock compiles asm { ... }. Each instruction is a mnemonic with a
// register destination and either a register or an immediate source. The
// emitted bytes go straight into the code stream, so an asm block that
// clobbers registers the surrounding code relies on is the programmer's
// problem.
func (c *Compiler) parseAsmBlock() {
	c.expect(ASM)
	c.expect(LBRACE)

	for c.tok.Type != RBRACE && c.tok.Type != EOF && !c.failed() {
		line := c.tok.Line
		if c.tok.Type != IDENTIFIER {
			c.errorf(line, "expected instruction mnemonic in asm block")
			return
		}
		mn := c.tok.Lexeme
		c.advance()

		dst, ok := c.parseAsmReg(line)
		if !ok {
			return
		}
		c.expect(COMMA)

		if c.tok.Type == IDENTIFIER {
			op, known := asmRegReg[mn]
			if !known {
				c.errorf(line, "unknown asm instruction %q", mn)
				return
			}
			src, ok := c.parseAsmReg(line)
			if !ok {
				return
			}
			c.emit(op, 0xC0|src<<3|dst)
			continue
		}

		imm, ok := c.parseAsmImm(line)
		if !ok {
			return
		}
		if mn == "mov" {
			c.emit(0xB8 + dst)
			c.emitU32(uint32(imm))
			continue
		}
		ext, known := asmImmExt[mn]
		if !known {
			c.errorf(line, "unknown asm instruction %q", mn)
			return
		}
		c.emit(0x81, 0xC0|ext<<3|dst)
		c.emitU32(uint32(imm))
	}

	c.expect(RBRACE)
	c.lastLoad = loadMark{}
}

func (c *Compiler) parseAsmReg(line int) (byte, bool) {
	if c.tok.Type != IDENTIFIER {
		c.errorf(line, "expected register name in asm block")
		return 0, false
	}
	r, ok := asmRegs[c.tok.Lexeme]
	if !ok {
		c.errorf(line, "unknown register %q", c.tok.Lexeme)
		return 0, false
	}
	c.advance()
	return r, true
}

func (c *Compiler) parseAsmImm(line int) (int32, bool) {
	neg := false
	if c.tok.Type == MINUS {
		neg = true
		c.advance()
	}
	if c.tok.Type != INTEGER {
		c.errorf(line, "expected register or immediate in asm block")
		return 0, false
	}
	v := c.tok.Value
	c.advance()
	if neg {
		v = -v
	}
	return v, true
}
