package compiler

// isTypeStart reports whether the current token can begin a declaration.
func (c *Compiler) isTypeStart() bool {
	switch c.tok.Type {
	case INT, CHAR, VOID, STRUCT:
		return true
	case IDENTIFIER:
		_, ok := c.typedefs[c.tok.Lexeme]
		return ok
	}
	return false
}

// parseBaseType consumes a declaration's base type: a builtin, a struct tag
// reference, or a typedef name. Declarator stars are handled by the caller
// since they bind per declarator.
func (c *Compiler) parseBaseType() (ExprType, bool) {
	line := c.tok.Line
	switch c.tok.Type {
	case INT:
		c.advance()
		return typeInt(), true
	case CHAR:
		c.advance()
		return typeByte(), true
	case VOID:
		c.advance()
		return typeVoid(), true
	case STRUCT:
		c.advance()
		if c.tok.Type != IDENTIFIER {
			c.errorf(line, "expected struct tag after struct")
			return typeInt(), false
		}
		idx := c.getOrCreateTag(c.tok.Lexeme)
		c.advance()
		return ExprType{Kind: KindStruct, Struct: idx, Elem: c.structs[idx].Size}, true
	case IDENTIFIER:
		if t, ok := c.typedefs[c.tok.Lexeme]; ok {
			c.advance()
			return t, true
		}
	}
	c.errorf(line, "expected type, found %s", c.tok.Type)
	return typeInt(), false
}

// parseTypeName is parseBaseType plus declarator stars, for sizeof.
func (c *Compiler) parseTypeName() (ExprType, bool) {
	t, ok := c.parseBaseType()
	for c.tok.Type == STAR {
		c.advance()
		t = c.pointerTo(t)
	}
	return t, ok
}

// parseProgram compiles declarations until the end of the unit.
func (c *Compiler) parseProgram() {
	for c.tok.Type != EOF && !c.failed() {
		switch c.tok.Type {
		case STRUCT:
			c.parseStructOrDecl()
		case ENUM:
			c.parseEnumDecl()
		case TYPEDEF:
			c.parseTypedef()
		default:
			base, ok := c.parseBaseType()
			if !ok {
				return
			}
			c.parseTopDecl(base)
		}
	}
}

// parseStructOrDecl disambiguates a struct definition from a declaration
// that merely uses a struct type: a brace after the tag starts a body.
func (c *Compiler) parseStructOrDecl() {
	line := c.tok.Line
	c.advance()
	if c.tok.Type != IDENTIFIER {
		c.errorf(line, "expected struct tag after struct")
		return
	}
	idx := c.getOrCreateTag(c.tok.Lexeme)
	c.advance()

	if c.tok.Type != LBRACE {
		base := ExprType{Kind: KindStruct, Struct: idx, Elem: c.structs[idx].Size}
		c.parseTopDecl(base)
		return
	}

	c.advance()
	var fields []Field
	for c.tok.Type != RBRACE && c.tok.Type != EOF && !c.failed() {
		fbase, ok := c.parseBaseType()
		if !ok {
			return
		}
		for {
			fline := c.tok.Line
			ft := fbase
			for c.tok.Type == STAR {
				c.advance()
				ft = c.pointerTo(ft)
			}
			if c.tok.Type != IDENTIFIER {
				c.errorf(fline, "expected field name")
				return
			}
			f := Field{Name: c.tok.Lexeme, Type: ft}
			c.advance()
			if c.tok.Type == LBRACKET {
				f.ArrayLen = c.parseArrayDim(fline)
			}
			if ft.Kind == KindStruct && !c.structs[ft.Struct].Complete {
				c.errorf(fline, "field %q has incomplete struct type %s", f.Name, c.structs[ft.Struct].Name)
				return
			}
			if ft.Kind == KindVoid {
				c.errorf(fline, "field %q cannot be void", f.Name)
				return
			}
			for _, prev := range fields {
				if prev.Name == f.Name {
					c.errorf(fline, "duplicate field %q in struct %s", f.Name, c.structs[idx].Name)
					return
				}
			}
			fields = append(fields, f)
			if c.tok.Type != COMMA {
				break
			}
			c.advance()
		}
		c.expect(SEMICOLON)
	}
	c.expect(RBRACE)
	c.expect(SEMICOLON)
	c.completeStruct(idx, fields, line)
}

// parseEnumDecl compiles enum { A, B = n, C }; members become compile-time
// integer constants numbered from zero, each explicit value resetting the
// counter.
func (c *Compiler) parseEnumDecl() {
	c.advance()
	if c.tok.Type == IDENTIFIER {
		// enum tags carry no meaning of their own
		c.advance()
	}
	c.expect(LBRACE)
	next := int32(0)
	for c.tok.Type != RBRACE && c.tok.Type != EOF && !c.failed() {
		if c.tok.Type != IDENTIFIER {
			c.errorf(c.tok.Line, "expected enum member name")
			return
		}
		name := c.tok.Lexeme
		mline := c.tok.Line
		c.advance()
		if c.tok.Type == ASSIGN {
			c.advance()
			next = c.parseConstExpr()
		}
		if c.syms.find(name) >= 0 {
			c.errorf(mline, "redefinition of %q", name)
			return
		}
		c.syms.add(Symbol{Name: name, Kind: SymConst, Type: typeInt(), Value: next})
		next++
		if c.tok.Type != COMMA {
			break
		}
		c.advance()
	}
	c.expect(RBRACE)
	c.expect(SEMICOLON)
}

// parseTypedef records a type alias. Aliases are global and cannot be
// redefined.
func (c *Compiler) parseTypedef() {
	line := c.tok.Line
	c.advance()
	t, ok := c.parseTypeName()
	if !ok {
		return
	}
	if c.tok.Type != IDENTIFIER {
		c.errorf(line, "expected name in typedef")
		return
	}
	name := c.tok.Lexeme
	if _, dup := c.typedefs[name]; dup {
		c.errorf(c.tok.Line, "redefinition of type %q", name)
		return
	}
	c.typedefs[name] = t
	c.advance()
	c.expect(SEMICOLON)
}

// parseTopDecl compiles either a function definition or a list of global
// variables, after the base type has been consumed.
func (c *Compiler) parseTopDecl(base ExprType) {
	first := true
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

		if first && c.tok.Type == LPAREN {
			c.parseFunction(t, name, line)
			return
		}
		first = false

		c.parseGlobalVar(t, name, line)
		if c.tok.Type != COMMA {
			break
		}
		c.advance()
	}
	c.expect(SEMICOLON)
}

// parseGlobalVar reserves zeroed data-segment storage for one global.
// Scalars accept a constant initializer; char pointers also accept a string
// literal.
func (c *Compiler) parseGlobalVar(t ExprType, name string, line int) {
	if c.syms.find(name) >= 0 {
		c.errorf(line, "redefinition of %q", name)
		return
	}
	if t.Kind == KindVoid {
		c.errorf(line, "cannot declare a void variable")
		return
	}

	sym := Symbol{Name: name, Kind: SymGlobal, Type: t}
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

	size := elemSize
	align := 4
	if sym.IsArray {
		size = elemSize * sym.Dims[0]
		if sym.Dims[1] > 0 {
			size *= sym.Dims[1]
		}
	} else if t.Kind == KindByte {
		align = 1
	}
	if t.Kind == KindStruct {
		align = c.structs[t.Struct].Align
	}

	off := c.dataReserve(size, align)
	if c.failed() {
		return
	}
	sym.Offset = int(c.dataAddr(off))

	if c.tok.Type == ASSIGN {
		if sym.IsArray || t.Kind == KindStruct {
			c.errorf(line, "initializers are only allowed on scalar variables")
			return
		}
		c.advance()
		if c.tok.Type == STRING && t.Kind == KindBytePtr {
			addr := c.dataString(c.tok.Lexeme)
			c.advance()
			c.dataPutU32(off, addr)
		} else {
			v := c.parseConstExpr()
			if t.Kind == KindByte {
				c.data[off] = byte(v)
			} else {
				c.dataPutU32(off, uint32(v))
			}
		}
	}

	c.syms.add(sym)
}

// parseFunction compiles a function definition or prototype. The function's
// symbol is created (or its prototype updated) before the body is compiled
// so recursive calls resolve directly; calls that arrived earlier are fixed
// up by the patch resolver once the unit is complete.
func (c *Compiler) parseFunction(ret ExprType, name string, line int) {
	if ret.Kind == KindStruct {
		c.errorf(line, "cannot return a struct by value")
		return
	}

	c.expect(LPAREN)
	type param struct {
		name string
		typ  ExprType
	}
	var params []param
	if c.tok.Type == VOID {
		// void parameter list
		c.advance()
		c.expect(RPAREN)
	} else if c.tok.Type == RPAREN {
		c.advance()
	} else {
		for {
			pline := c.tok.Line
			pb, ok := c.parseBaseType()
			if !ok {
				return
			}
			pt := pb
			for c.tok.Type == STAR {
				c.advance()
				pt = c.pointerTo(pt)
			}
			if pt.Kind == KindStruct {
				c.errorf(pline, "cannot pass a struct by value")
				return
			}
			if pt.Kind == KindVoid {
				c.errorf(pline, "parameter cannot be void")
				return
			}
			if c.tok.Type != IDENTIFIER {
				c.errorf(pline, "expected parameter name")
				return
			}
			params = append(params, param{name: c.tok.Lexeme, typ: pt})
			c.advance()
			if c.tok.Type != COMMA {
				break
			}
			c.advance()
		}
		c.expect(RPAREN)
	}
	n := len(params)

	// One symbol per function name for its whole life: a prototype creates
	// it undefined, the definition flips Defined and records the address.
	idx := c.syms.find(name)
	if idx >= 0 {
		sym := c.syms.at(idx)
		if sym.Kind != SymFunc {
			c.errorf(line, "redefinition of %q", name)
			return
		}
		if sym.NumParams != n {
			c.errorf(line, "%q redeclared with %d parameters, previously %d", name, n, sym.NumParams)
			return
		}
	}

	if c.tok.Type == SEMICOLON {
		c.advance()
		if idx < 0 {
			c.syms.add(Symbol{Name: name, Kind: SymFunc, Type: ret, NumParams: n})
		}
		return
	}

	funcOff := c.here()
	if idx >= 0 {
		sym := c.syms.at(idx)
		if sym.Defined {
			c.errorf(line, "redefinition of function %q", name)
			return
		}
		sym.Type = ret
		sym.Offset = funcOff
		sym.Defined = true
	} else {
		c.syms.add(Symbol{Name: name, Kind: SymFunc, Type: ret, Offset: funcOff, NumParams: n, Defined: true})
	}

	if name == "main" {
		if c.entry >= 0 {
			c.errorf(line, "duplicate definition of main")
			return
		}
		c.entry = funcOff
	}
	c.funcs = append(c.funcs, FuncSym{Name: name, Addr: c.codeAddr(funcOff)})

	mark := c.syms.mark()
	// arguments are pushed left to right, so the first parameter sits
	// deepest: parameter i lives at ebp+8+4*(n-1-i)
	for i, p := range params {
		c.syms.add(Symbol{
			Name:   p.name,
			Kind:   SymParam,
			Type:   p.typ,
			Offset: 8 + 4*(n-1-i),
		})
	}

	c.frameOff = 0
	framePatch := c.prologue()

	c.expect(LBRACE)
	for c.tok.Type != RBRACE && c.tok.Type != EOF && !c.failed() {
		c.parseStatement()
	}
	c.expect(RBRACE)

	// fallback for control paths that run off the end of the body
	c.epilogue()
	c.patch32(framePatch, uint32(alignUp(-c.frameOff, 4)))
	c.syms.leave(mark)
}
