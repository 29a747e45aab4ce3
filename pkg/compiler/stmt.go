package compiler

// parseStatement compiles one statement. Statements keep the machine stack
// balanced; expression statements simply leave their value in the
// accumulator to be overwritten.
func (c *Compiler) parseStatement() {
	if c.failed() {
		return
	}
	c.noteLine(c.tok.Line)

	switch c.tok.Type {
	case LBRACE:
		c.parseBlock()
	case IF:
		c.parseIf()
	case WHILE:
		c.parseWhile()
	case DO:
		c.parseDoWhile()
	case FOR:
		c.parseFor()
	case SWITCH:
		c.parseSwitch()
	case BREAK:
		c.parseBreak()
	case CONTINUE:
		c.parseContinue()
	case RETURN:
		c.parseReturn()
	case ASM:
		c.parseAsmBlock()
	case SEMICOLON:
		c.advance()
	default:
		if c.isTypeStart() {
			c.parseLocalDecl()
			return
		}
		c.parseExpression()
		c.expect(SEMICOLON)
	}
}

// parseBlock compiles { ... }. Declarations inside the block go out of
// scope at the closing brace; their frame slots are not reused.
func (c *Compiler) parseBlock() {
	c.expect(LBRACE)
	mark := c.syms.mark()
	for c.tok.Type != RBRACE && c.tok.Type != EOF && !c.failed() {
		c.parseStatement()
	}
	c.expect(RBRACE)
	c.syms.leave(mark)
}

func (c *Compiler) parseIf() {
	c.advance()
	c.expect(LPAREN)
	c.parseExpression()
	c.expect(RPAREN)
	c.testAcc()
	elseJ := c.jccForward(ccE)
	c.parseStatement()
	if c.tok.Type == ELSE {
		c.advance()
		endJ := c.jmpForward()
		c.patchJump(elseJ)
		c.parseStatement()
		c.patchJump(endJ)
	} else {
		c.patchJump(elseJ)
	}
}

func (c *Compiler) parseWhile() {
	c.advance()
	top := c.here()
	c.expect(LPAREN)
	c.parseExpression()
	c.expect(RPAREN)
	c.testAcc()
	endJ := c.jccForward(ccE)
	c.pushLoop(top, false)
	c.parseStatement()
	c.jmpTo(top)
	c.patchJump(endJ)
	c.popLoop(top)
}

// parseDoWhile runs the body first; continue targets the condition, whose
// position is unknown while the body is being compiled, so continues are
// collected as forward patches.
func (c *Compiler) parseDoWhile() {
	c.advance()
	body := c.here()
	c.pushLoop(-1, false)
	c.parseStatement()
	c.expect(WHILE)
	c.expect(LPAREN)
	cond := c.here()
	c.parseExpression()
	c.expect(RPAREN)
	c.expect(SEMICOLON)
	c.testAcc()
	c.jccTo(ccNE, body)
	c.popLoop(cond)
}

// parseFor lays the pieces out as cond, post, body so that all three are
// compiled in source order in a single pass: the condition falls through
// over the post clause into the body, the body jumps back to the post
// clause, and the post clause jumps back to the condition.
func (c *Compiler) parseFor() {
	c.advance()
	c.expect(LPAREN)
	mark := c.syms.mark()

	if c.tok.Type != SEMICOLON {
		if c.isTypeStart() {
			c.parseLocalDecl()
		} else {
			c.parseExpression()
			c.expect(SEMICOLON)
		}
	} else {
		c.advance()
	}

	cond := c.here()
	endJ := -1
	if c.tok.Type != SEMICOLON {
		c.parseExpression()
		c.testAcc()
		endJ = c.jccForward(ccE)
	}
	c.expect(SEMICOLON)

	bodyJ := c.jmpForward()
	post := c.here()
	if c.tok.Type != RPAREN {
		c.parseExpression()
	}
	c.expect(RPAREN)
	c.jmpTo(cond)

	c.patchJump(bodyJ)
	c.pushLoop(post, false)
	c.parseStatement()
	c.jmpTo(post)
	if endJ >= 0 {
		c.patchJump(endJ)
	}
	c.popLoop(post)
	c.syms.leave(mark)
}

// parseSwitch keeps the switch value on the machine stack for the duration
// of the statement and compares it against each case label in a linear
// chain. Case bodies fall through in source order; a body that runs into
// the next label jumps over that label's comparison. default must be the
// last label.
func (c *Compiler) parseSwitch() {
	line := c.tok.Line
	c.advance()
	c.expect(LPAREN)
	c.parseExpression()
	c.expect(RPAREN)
	c.pushAcc()
	c.pushLoop(-1, true)
	c.expect(LBRACE)

	if c.tok.Type != CASE && c.tok.Type != DEFAULT && c.tok.Type != RBRACE {
		c.errorf(c.tok.Line, "expected case or default at the start of switch")
	}

	pendJ := -1   // jump taken when the previous comparison failed
	first := true // no body to jump over before the first label
	sawDefault := false

	for c.tok.Type != RBRACE && !c.failed() {
		switch c.tok.Type {
		case CASE:
			caseLine := c.tok.Line
			c.advance()
			if sawDefault {
				c.errorf(caseLine, "default must be the last switch label")
				return
			}
			val := c.parseConstExpr()
			c.expect(COLON)
			var fallJ int
			if !first {
				fallJ = c.jmpForward()
			}
			if pendJ >= 0 {
				c.patchJump(pendJ)
			}
			c.loadStackRel(0)
			c.cmpAccImm(val)
			pendJ = c.jccForward(ccNE)
			if !first {
				c.patchJump(fallJ)
			}
			first = false

		case DEFAULT:
			defLine := c.tok.Line
			c.advance()
			c.expect(COLON)
			if sawDefault {
				c.errorf(defLine, "duplicate default label")
				return
			}
			sawDefault = true
			if pendJ >= 0 {
				c.patchJump(pendJ)
				pendJ = -1
			}
			first = false

		default:
			if first {
				// unreachable statement before any label was already
				// reported above; stop rather than loop
				c.errorf(line, "statement outside of any switch label")
				return
			}
			c.parseStatement()
		}
	}

	c.expect(RBRACE)
	if pendJ >= 0 {
		c.patchJump(pendJ)
	}
	c.popLoop(0)
	c.popSec()
}

func (c *Compiler) parseBreak() {
	line := c.tok.Line
	c.advance()
	c.expect(SEMICOLON)
	if len(c.loops) == 0 {
		c.errorf(line, "break outside of a loop or switch")
		return
	}
	ctx := &c.loops[len(c.loops)-1]
	ctx.breaks = append(ctx.breaks, c.jmpForward())
}

// parseContinue targets the innermost enclosing loop, skipping over switch
// contexts. Each skipped switch still has its value on the machine stack,
// which gets popped on the way out.
func (c *Compiler) parseContinue() {
	line := c.tok.Line
	c.advance()
	c.expect(SEMICOLON)
	i := len(c.loops) - 1
	for i >= 0 && c.loops[i].isSwitch {
		c.popSec()
		i--
	}
	if i < 0 {
		c.errorf(line, "continue outside of a loop")
		return
	}
	ctx := &c.loops[i]
	if ctx.contTarget >= 0 {
		c.jmpTo(ctx.contTarget)
	} else {
		c.emit(0xE9)
		at := c.here()
		c.emitU32(0)
		ctx.conts = append(ctx.conts, at)
	}
}

func (c *Compiler) parseReturn() {
	line := c.tok.Line
	c.advance()
	if c.tok.Type != SEMICOLON {
		t := c.parseExpression()
		if t.Kind == KindStruct {
			c.errorf(line, "cannot return a struct by value")
			return
		}
	}
	c.expect(SEMICOLON)
	c.epilogue()
}

// parseConstExpr evaluates a case label: an integer or character literal, an
// enum constant, or the negation of either.
func (c *Compiler) parseConstExpr() int32 {
	neg := false
	if c.tok.Type == MINUS {
		neg = true
		c.advance()
	}
	var v int32
	switch c.tok.Type {
	case INTEGER:
		v = c.tok.Value
		c.advance()
	case IDENTIFIER:
		idx := c.syms.find(c.tok.Lexeme)
		if idx < 0 || c.syms.at(idx).Kind != SymConst {
			c.errorf(c.tok.Line, "case label %q is not a constant", c.tok.Lexeme)
			return 0
		}
		v = c.syms.at(idx).Value
		c.advance()
	default:
		c.errorf(c.tok.Line, "case label must be a constant expression")
		return 0
	}
	if neg {
		v = -v
	}
	return v
}

// parseLocalDecl compiles one local declaration statement. Frame offsets
// grow downward and are never reused, so sibling blocks get distinct slots.
// Struct locals and struct arrays are cleared through the host memset
// binding; other locals start uninitialized unless an initializer is given.
func (c *Compiler) parseLocalDecl() {
	base, ok := c.parseBaseType()
	if !ok {
		return
	}

	for {
		line := c.tok.Line
		t := base
		for c.tok.Type == STAR {
			c.advance()
			t = c.pointerTo(t)
		}
		if c.tok.Type != IDENTIFIER {
			c.errorf(line, "expected name in declaration")
			return
		}
		name := c.tok.Lexeme
		c.advance()

		sym := Symbol{Name: name, Kind: SymLocal, Type: t}
		elemSize := c.sizeOf(t)

		if c.tok.Type == LBRACKET {
			sym.IsArray = true
			sym.ElemSize = elemSize
			sym.Dims[0] = c.parseArrayDim(line)
			if c.tok.Type == LBRACKET {
				sym.Dims[1] = c.parseArrayDim(line)
			}
		}

		if t.Kind == KindStruct && !c.structs[t.Struct].Complete {
			c.errorf(line, "use of incomplete struct %s", c.structs[t.Struct].Name)
			return
		}
		if t.Kind == KindVoid && !sym.IsArray {
			c.errorf(line, "cannot declare a void variable")
			return
		}

		size := elemSize
		if sym.IsArray {
			size = elemSize * sym.Dims[0]
			if sym.Dims[1] > 0 {
				size *= sym.Dims[1]
			}
		}
		c.frameOff -= alignUp(size, 4)
		sym.Offset = c.frameOff
		c.syms.add(sym)

		if t.Kind == KindStruct {
			c.genClearLocal(sym.Offset, size)
		}

		if c.tok.Type == ASSIGN {
			if sym.IsArray || t.Kind == KindStruct {
				c.errorf(line, "initializers are only allowed on scalar variables")
				return
			}
			c.advance()
			c.leaLocal(sym.Offset)
			c.pushAcc()
			c.parseAssign()
			c.popSec()
			c.storeInd(t.loadWidth())
		}

		if c.tok.Type != COMMA {
			break
		}
		c.advance()
	}
	c.expect(SEMICOLON)
}

// parseArrayDim reads one [N] suffix and returns N.
func (c *Compiler) parseArrayDim(line int) int {
	c.expect(LBRACKET)
	n := c.parseConstExpr()
	c.expect(RBRACKET)
	if n <= 0 {
		c.errorf(line, "array length must be positive")
		return 1
	}
	return int(n)
}

// genClearLocal zeroes a frame region through the host memset binding.
func (c *Compiler) genClearLocal(off, size int) {
	idx := c.syms.find("memset")
	if idx < 0 || c.syms.at(idx).Kind != SymHost {
		return
	}
	c.leaLocal(off)
	c.pushAcc()
	c.loadImm(0)
	c.pushAcc()
	c.loadImm(uint32(size))
	c.pushAcc()
	c.callTo(uint32(c.syms.at(idx).Offset))
	c.adjustStack(12)
}
