package compiler

// binPrec drives the precedence-climbing loop in parseBinary. Higher binds
// tighter; assignment and the conditional operator live above this table.
var binPrec = map[TokenType]int{
	OR_LOGICAL:  1,
	AND_LOGICAL: 2,
	PIPE:        3,
	CARET:       4,
	AND:         5,
	EQUALS:      6,
	NOT_EQ:      6,
	LESS:        7,
	GREATER:     7,
	LESS_EQ:     7,
	GREATER_EQ:  7,
	SHL_OP:      8,
	SHR_OP:      8,
	PLUS:        9,
	MINUS:       9,
	STAR:        10,
	SLASH:       10,
	PERCENT:     10,
}

func isCompoundAssign(tt TokenType) bool {
	return tt >= PLUS_ASSIGN && tt <= SHR_ASSIGN
}

// parseExpression compiles one full expression. The generated code leaves
// the value in the accumulator; the returned ExprType describes it.
func (c *Compiler) parseExpression() ExprType {
	return c.parseAssign()
}

// parseAssign handles = and the compound assignments. Assignment targets are
// recovered by rewinding the load the target expression just emitted, which
// leaves the target address back in the accumulator; anything whose code
// does not end in such a load is not assignable.
func (c *Compiler) parseAssign() ExprType {
	lt := c.parseTernary()
	op := c.tok.Type
	if op != ASSIGN && !isCompoundAssign(op) {
		return lt
	}
	line := c.tok.Line
	if c.lastLoad.end == 0 || c.lastLoad.end != c.here() {
		c.errorf(line, "expression is not assignable")
		return lt
	}
	width := c.lastLoad.width
	c.code = c.code[:c.lastLoad.at]
	c.advance()

	if op == ASSIGN {
		c.pushAcc()
		c.parseAssign()
		c.popSec()
		c.storeInd(width)
		return lt
	}

	// Compound: keep the address on the stack, read the old value through
	// it, combine with the right-hand side, write back.
	c.pushAcc()
	c.loadInd(width)
	c.pushAcc()
	c.parseAssign()
	if (op == PLUS_ASSIGN || op == MINUS_ASSIGN) && lt.isPointer() && lt.Elem > 1 {
		c.mulAccImm(int32(lt.Elem))
	}
	c.popSec()
	switch op {
	case PLUS_ASSIGN:
		c.addAccSec()
	case MINUS_ASSIGN:
		c.subSecAcc()
		c.movAccSec()
	case STAR_ASSIGN:
		c.mulAccSec()
	case SLASH_ASSIGN:
		c.swapAccSec()
		c.signedDivSec()
	case PERCENT_ASSIGN:
		c.swapAccSec()
		c.signedDivSec()
		c.movAccRem()
	case AND_ASSIGN:
		c.andAccSec()
	case OR_ASSIGN:
		c.orAccSec()
	case XOR_ASSIGN:
		c.xorAccSec()
	case SHL_ASSIGN:
		c.swapAccSec()
		c.shlAccCl()
	case SHR_ASSIGN:
		c.swapAccSec()
		c.sarAccCl()
	}
	c.popSec()
	c.storeInd(width)
	return lt
}

// parseTernary compiles cond ? a : b. Both arms leave their value in the
// accumulator; the result type follows the first arm.
func (c *Compiler) parseTernary() ExprType {
	t := c.parseBinary(1)
	if c.tok.Type != QUESTION {
		return t
	}
	c.advance()
	c.testAcc()
	elseJ := c.jccForward(ccE)
	thenT := c.parseExpression()
	endJ := c.jmpForward()
	c.expect(COLON)
	c.patchJump(elseJ)
	c.parseTernary()
	c.patchJump(endJ)
	return thenT
}

// parseBinary is the precedence climber. On entry the left operand has
// already been compiled when called recursively; at the top it compiles a
// unary expression first. && and || short-circuit and normalize to 0/1.
func (c *Compiler) parseBinary(minPrec int) ExprType {
	lt := c.parseUnary()
	for {
		if c.failed() {
			return lt
		}
		op := c.tok.Type
		prec, ok := binPrec[op]
		if !ok || prec < minPrec {
			return lt
		}
		line := c.tok.Line
		c.advance()

		switch op {
		case AND_LOGICAL:
			c.testAcc()
			f1 := c.jccForward(ccE)
			c.parseBinary(prec + 1)
			c.testAcc()
			f2 := c.jccForward(ccE)
			c.loadImm(1)
			end := c.jmpForward()
			c.patchJump(f1)
			c.patchJump(f2)
			c.loadImm(0)
			c.patchJump(end)
			lt = typeInt()
		case OR_LOGICAL:
			c.testAcc()
			t1 := c.jccForward(ccNE)
			c.parseBinary(prec + 1)
			c.testAcc()
			t2 := c.jccForward(ccNE)
			c.loadImm(0)
			end := c.jmpForward()
			c.patchJump(t1)
			c.patchJump(t2)
			c.loadImm(1)
			c.patchJump(end)
			lt = typeInt()
		default:
			c.pushAcc()
			rt := c.parseBinary(prec + 1)
			lt = c.genBinOp(op, lt, rt, line)
		}
	}
}

// genBinOp combines the left operand (on the machine stack) with the right
// operand (in the accumulator). Pointer operands scale their integer side by
// the element size; pointer difference divides back down.
func (c *Compiler) genBinOp(op TokenType, lt, rt ExprType, line int) ExprType {
	switch op {
	case PLUS:
		if lt.isPointer() && !rt.isPointer() {
			if lt.Elem > 1 {
				c.mulAccImm(int32(lt.Elem))
			}
			c.popSec()
			c.addAccSec()
			return lt
		}
		if rt.isPointer() && !lt.isPointer() {
			c.popSec()
			c.swapAccSec()
			if rt.Elem > 1 {
				c.mulAccImm(int32(rt.Elem))
			}
			c.addAccSec()
			return rt
		}
		c.popSec()
		c.addAccSec()
		return typeInt()

	case MINUS:
		if lt.isPointer() && rt.isPointer() {
			c.popSec()
			c.subSecAcc()
			c.movAccSec()
			if lt.Elem > 1 {
				c.loadSecImm(uint32(lt.Elem))
				c.signedDivSec()
			}
			return typeInt()
		}
		if lt.isPointer() {
			if lt.Elem > 1 {
				c.mulAccImm(int32(lt.Elem))
			}
			c.popSec()
			c.subSecAcc()
			c.movAccSec()
			return lt
		}
		c.popSec()
		c.subSecAcc()
		c.movAccSec()
		return typeInt()

	case STAR:
		c.popSec()
		c.mulAccSec()
	case SLASH:
		c.popSec()
		c.swapAccSec()
		c.signedDivSec()
	case PERCENT:
		c.popSec()
		c.swapAccSec()
		c.signedDivSec()
		c.movAccRem()
	case SHL_OP:
		c.popSec()
		c.swapAccSec()
		c.shlAccCl()
	case SHR_OP:
		c.popSec()
		c.swapAccSec()
		c.sarAccCl()
	case AND:
		c.popSec()
		c.andAccSec()
	case PIPE:
		c.popSec()
		c.orAccSec()
	case CARET:
		c.popSec()
		c.xorAccSec()

	case EQUALS:
		c.popSec()
		c.cmpSecAcc()
		c.setCond(ccE)
	case NOT_EQ:
		c.popSec()
		c.cmpSecAcc()
		c.setCond(ccNE)
	case LESS:
		c.popSec()
		c.cmpSecAcc()
		c.setCond(ccL)
	case GREATER:
		c.popSec()
		c.cmpSecAcc()
		c.setCond(ccG)
	case LESS_EQ:
		c.popSec()
		c.cmpSecAcc()
		c.setCond(ccLE)
	case GREATER_EQ:
		c.popSec()
		c.cmpSecAcc()
		c.setCond(ccGE)

	default:
		c.errorf(line, "unsupported binary operator %s", op)
	}
	return typeInt()
}

// parseUnary compiles the prefix operators.
func (c *Compiler) parseUnary() ExprType {
	if c.failed() {
		return typeInt()
	}
	line := c.tok.Line

	switch c.tok.Type {
	case MINUS:
		c.advance()
		c.parseUnary()
		c.negAcc()
		return typeInt()

	case NOT:
		c.advance()
		c.parseUnary()
		c.testAcc()
		c.setCond(ccE)
		return typeInt()

	case TILDE:
		c.advance()
		c.parseUnary()
		c.notAcc()
		return typeInt()

	case STAR:
		c.advance()
		t := c.parseUnary()
		dt, ok := c.deref(t)
		if !ok {
			c.errorf(line, "cannot dereference a value of type %s", t.Kind)
			return typeInt()
		}
		if dt.Kind == KindStruct {
			// a struct value is represented by its address
			return dt
		}
		c.loadInd(dt.loadWidth())
		return dt

	case AND:
		c.advance()
		t := c.parseUnary()
		if t.Kind == KindStruct {
			// a struct value is already represented by its address
			return c.pointerTo(t)
		}
		if c.lastLoad.end == 0 || c.lastLoad.end != c.here() {
			c.errorf(line, "cannot take the address of this expression")
			return c.pointerTo(t)
		}
		c.code = c.code[:c.lastLoad.at]
		return c.pointerTo(t)

	case PLUS_PLUS, MINUS_MINUS:
		op := c.tok.Type
		c.advance()
		t := c.parseUnary()
		if c.lastLoad.end == 0 || c.lastLoad.end != c.here() {
			c.errorf(line, "operand of %s is not assignable", op)
			return t
		}
		width := c.lastLoad.width
		c.code = c.code[:c.lastLoad.at]
		delta := int32(1)
		if t.isPointer() {
			delta = int32(t.Elem)
		}
		if op == MINUS_MINUS {
			delta = -delta
		}
		c.movSecAcc()
		c.loadInd(width)
		c.addAccImm(delta)
		c.storeInd(width)
		return t

	case SIZEOF:
		c.advance()
		c.expect(LPAREN)
		size := c.parseSizeofOperand()
		c.expect(RPAREN)
		c.loadImm(uint32(size))
		return typeInt()
	}

	return c.parsePrimary()
}

// parseSizeofOperand resolves sizeof for either a type name or an arbitrary
// expression. An expression operand is compiled normally to learn its type,
// then the code and any call patches it produced are thrown away.
func (c *Compiler) parseSizeofOperand() int {
	if c.isTypeStart() {
		t, _ := c.parseTypeName()
		return c.sizeOf(t)
	}
	mark := c.here()
	pmark := len(c.patches)
	t := c.parseExpression()
	c.code = c.code[:mark]
	c.patches = c.patches[:pmark]
	c.lastLoad = loadMark{}
	return c.sizeOf(t)
}

// parsePrimary compiles literals, parenthesized expressions and identifier
// references, then hands the result to the postfix loop.
func (c *Compiler) parsePrimary() ExprType {
	var t ExprType
	line := c.tok.Line

	switch c.tok.Type {
	case INTEGER:
		c.loadImm(uint32(c.tok.Value))
		c.advance()
		t = typeInt()

	case STRING:
		addr := c.dataString(c.tok.Lexeme)
		c.advance()
		c.loadImm(addr)
		t = typeBytePtr()

	case LPAREN:
		c.advance()
		t = c.parseExpression()
		c.expect(RPAREN)

	case IDENTIFIER:
		name := c.tok.Lexeme
		c.advance()
		if c.tok.Type == LPAREN {
			t = c.parseCall(name, line)
		} else {
			t = c.genIdent(name, line)
		}

	default:
		c.errorf(line, "unexpected %s in expression", c.tok.Type)
		return typeInt()
	}

	return c.parsePostfix(t)
}

// genIdent compiles a non-call identifier reference: enum constants become
// immediates, arrays and structs yield their address, scalars are loaded
// through their address so assignment can rewind the load.
func (c *Compiler) genIdent(name string, line int) ExprType {
	idx := c.syms.find(name)
	if idx < 0 {
		c.errorf(line, "undefined identifier %q", name)
		return typeInt()
	}
	sym := c.syms.at(idx)

	switch sym.Kind {
	case SymConst:
		c.loadImm(uint32(sym.Value))
		return typeInt()

	case SymFunc:
		if !sym.Defined {
			c.errorf(line, "function %q referenced before its body is defined", name)
			return typeInt()
		}
		c.loadImm(c.codeAddr(sym.Offset))
		return ExprType{Kind: KindFuncPtr, Struct: -1, Elem: 4}

	case SymHost:
		c.loadImm(uint32(sym.Offset))
		return ExprType{Kind: KindFuncPtr, Struct: -1, Elem: 4}

	case SymGlobal:
		c.loadImm(uint32(sym.Offset))
		if sym.IsArray {
			return c.arrayBaseType(sym)
		}
		if sym.Type.Kind == KindStruct {
			return sym.Type
		}
		c.loadInd(sym.Type.loadWidth())
		return sym.Type

	default: // SymLocal, SymParam
		c.leaLocal(sym.Offset)
		if sym.IsArray {
			return c.arrayBaseType(sym)
		}
		if sym.Type.Kind == KindStruct {
			return sym.Type
		}
		c.loadInd(sym.Type.loadWidth())
		return sym.Type
	}
}

// arrayBaseType is the decayed type of an array symbol used in an
// expression. A two-dimensional array decays to a row pointer whose Elem is
// the row stride and whose Inner remembers the element size for the second
// subscript.
func (c *Compiler) arrayBaseType(sym *Symbol) ExprType {
	pt := c.pointerTo(sym.Type)
	if sym.Dims[1] > 0 {
		pt.Inner = sym.ElemSize
		pt.Elem = sym.ElemSize * sym.Dims[1]
	}
	return pt
}

// parseArgs pushes call arguments left to right and returns the count.
func (c *Compiler) parseArgs() int {
	n := 0
	if c.tok.Type != RPAREN {
		for {
			line := c.tok.Line
			t := c.parseAssign()
			if t.Kind == KindStruct {
				c.errorf(line, "cannot pass a struct by value")
			}
			c.pushAcc()
			n++
			if c.tok.Type != COMMA {
				break
			}
			c.advance()
		}
	}
	c.expect(RPAREN)
	return n
}

// parseCall compiles name(args). Defined functions and host bindings call
// directly; not-yet-defined names emit a placeholder displacement that the
// patch resolver fills in at the end of the unit; a variable holding a
// function pointer turns into an indirect call.
func (c *Compiler) parseCall(name string, line int) ExprType {
	c.expect(LPAREN)

	idx := c.syms.find(name)
	var sym *Symbol
	if idx >= 0 {
		sym = c.syms.at(idx)
	}

	// Calling through a pointer variable: load the callee first so it sits
	// under the arguments.
	if sym != nil && sym.Kind != SymFunc && sym.Kind != SymHost {
		if sym.Kind == SymConst {
			c.errorf(line, "%q is not a function", name)
			return typeInt()
		}
		switch sym.Kind {
		case SymGlobal:
			c.loadImm(uint32(sym.Offset))
		default:
			c.leaLocal(sym.Offset)
		}
		c.loadInd(4)
		c.pushAcc()
		n := c.parseArgs()
		c.loadStackRel(4 * n)
		c.callAcc()
		c.adjustStack(4*n + 4)
		return typeInt()
	}

	n := c.parseArgs()

	switch {
	case sym != nil && sym.Kind == SymHost:
		if sym.NumParams >= 0 && n != sym.NumParams {
			c.errorf(line, "%q expects %d arguments, got %d", name, sym.NumParams, n)
			return typeInt()
		}
		if sym.NumParams < 0 {
			// variadic host call: the argument count rides on top
			c.loadImm(uint32(n))
			c.pushAcc()
			c.callTo(uint32(sym.Offset))
			c.adjustStack(4 * (n + 1))
		} else {
			c.callTo(uint32(sym.Offset))
			c.adjustStack(4 * n)
		}
		return typeInt()

	case sym != nil && sym.Kind == SymFunc:
		if n != sym.NumParams {
			c.errorf(line, "%q expects %d arguments, got %d", name, sym.NumParams, n)
			return typeInt()
		}
		if sym.Defined {
			c.callTo(c.codeAddr(sym.Offset))
		} else {
			at := c.callPlaceholder()
			c.recordPatch(at, name, line)
		}
		c.adjustStack(4 * n)
		return sym.Type

	default:
		// forward reference to a function defined later in the unit
		at := c.callPlaceholder()
		c.recordPatch(at, name, line)
		c.adjustStack(4 * n)
		return typeInt()
	}
}

// genIndirectCall compiles (expr)(args) with the callee value already in
// the accumulator.
func (c *Compiler) genIndirectCall() ExprType {
	c.pushAcc()
	c.expect(LPAREN)
	n := c.parseArgs()
	c.loadStackRel(4 * n)
	c.callAcc()
	c.adjustStack(4*n + 4)
	return typeInt()
}

// parsePostfix applies subscripts, member access, postfix increment and
// decrement, and calls through function-pointer values.
func (c *Compiler) parsePostfix(t ExprType) ExprType {
	for {
		if c.failed() {
			return t
		}
		line := c.tok.Line

		switch c.tok.Type {
		case LBRACKET:
			c.advance()
			if !t.isPointer() {
				c.errorf(line, "subscript applied to non-pointer %s", t.Kind)
				return t
			}
			c.pushAcc()
			c.parseExpression()
			c.expect(RBRACKET)
			if t.Elem > 1 {
				c.mulAccImm(int32(t.Elem))
			}
			c.popSec()
			c.addAccSec()
			if t.Inner > 0 {
				// first subscript of a 2-D array: the result is a row
				// pointer, not a loaded element
				t.Elem = t.Inner
				t.Inner = 0
				continue
			}
			et, _ := c.deref(t)
			if et.Kind == KindStruct {
				t = et
				continue
			}
			c.loadInd(et.loadWidth())
			t = et

		case DOT, ARROW:
			op := c.tok.Type
			c.advance()
			if op == DOT && t.Kind != KindStruct {
				c.errorf(line, "member access on non-struct %s", t.Kind)
				return t
			}
			if op == ARROW && t.Kind != KindStructPtr {
				c.errorf(line, "-> applied to non-struct-pointer %s", t.Kind)
				return t
			}
			if c.tok.Type != IDENTIFIER {
				c.errorf(line, "expected member name after %s", op)
				return t
			}
			fname := c.tok.Lexeme
			c.advance()
			f, ok := c.findField(t.Struct, fname)
			if !ok {
				c.errorf(line, "struct %s has no member %q", c.structs[t.Struct].Name, fname)
				return t
			}
			if f.Offset != 0 {
				c.addAccImm(int32(f.Offset))
			}
			switch {
			case f.ArrayLen > 0:
				t = c.pointerTo(f.Type)
			case f.Type.Kind == KindStruct:
				t = f.Type
			default:
				c.loadInd(f.Type.loadWidth())
				t = f.Type
			}

		case PLUS_PLUS, MINUS_MINUS:
			op := c.tok.Type
			c.advance()
			if c.lastLoad.end == 0 || c.lastLoad.end != c.here() {
				c.errorf(line, "operand of %s is not assignable", op)
				return t
			}
			width := c.lastLoad.width
			c.code = c.code[:c.lastLoad.at]
			delta := int32(1)
			if t.isPointer() {
				delta = int32(t.Elem)
			}
			if op == MINUS_MINUS {
				delta = -delta
			}
			c.movSecAcc()
			c.loadInd(width)
			c.pushAcc()
			c.addAccImm(delta)
			c.storeInd(width)
			c.popAcc()
			c.lastLoad = loadMark{}

		case LPAREN:
			if t.Kind != KindFuncPtr {
				c.errorf(line, "called value is not a function")
				return t
			}
			t = c.genIndirectCall()

		default:
			return t
		}
	}
}
