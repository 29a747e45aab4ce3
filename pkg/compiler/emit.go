package compiler

import "encoding/binary"

// Condition codes shared by the setcc and long-jcc encodings.
const (
	ccE  = 0x4
	ccNE = 0x5
	ccL  = 0xC
	ccGE = 0xD
	ccLE = 0xE
	ccG  = 0xF
)

// ── code buffer ────────────────────────────────────────────────────────────

// here is the current code-buffer write offset.
func (c *Compiler) here() int {
	return len(c.code)
}

// room enforces the configured ceiling on generated code. The buffer itself
// grows on demand; crossing the ceiling sets the sticky resource error.
func (c *Compiler) room(n int) bool {
	if len(c.code)+n > c.cfg.CodeLimit {
		c.errorf(c.tok.Line, "generated code exceeds the %d byte limit", c.cfg.CodeLimit)
		return false
	}
	return c.err == nil
}

func (c *Compiler) emit(bs ...byte) {
	if !c.room(len(bs)) {
		return
	}
	c.code = append(c.code, bs...)
}

func (c *Compiler) emitU32(v uint32) {
	if !c.room(4) {
		return
	}
	c.code = binary.LittleEndian.AppendUint32(c.code, v)
}

// patch32 overwrites a previously emitted 4-byte little-endian field.
func (c *Compiler) patch32(off int, v uint32) {
	if off < 0 || off+4 > len(c.code) {
		return
	}
	binary.LittleEndian.PutUint32(c.code[off:], v)
}

// codeAddr maps a code-buffer offset to the runtime address the code is
// generated for.
func (c *Compiler) codeAddr(off int) uint32 {
	return c.cfg.CodeBase + uint32(off)
}

// ── data buffer ────────────────────────────────────────────────────────────

func (c *Compiler) dataAddr(off int) uint32 {
	return c.cfg.DataBase + uint32(off)
}

// dataReserve claims n zeroed bytes in the data segment and returns their
// offset. The alignment applies to the start of the block.
func (c *Compiler) dataReserve(n, align int) int {
	pad := alignUp(len(c.data), align) - len(c.data)
	if len(c.data)+pad+n > c.cfg.DataLimit {
		c.errorf(c.tok.Line, "data segment exceeds the %d byte limit", c.cfg.DataLimit)
		return 0
	}
	c.data = append(c.data, make([]byte, pad+n)...)
	return len(c.data) - n
}

// dataString interns a NUL-terminated string in the data segment and returns
// its absolute address. Identical literals share one copy.
func (c *Compiler) dataString(s string) uint32 {
	if addr, ok := c.strCache[s]; ok {
		return addr
	}
	off := c.dataReserve(len(s)+1, 1)
	if c.err != nil {
		return 0
	}
	copy(c.data[off:], s)
	addr := c.dataAddr(off)
	c.strCache[s] = addr
	return addr
}

// dataPutU32 writes a word into an already reserved data slot.
func (c *Compiler) dataPutU32(off int, v uint32) {
	if off+4 <= len(c.data) {
		binary.LittleEndian.PutUint32(c.data[off:], v)
	}
}

// ── accumulator / stack primitives ─────────────────────────────────────────
//
// The code generator works with one accumulator (EAX) and one secondary
// register (ECX). Every primitive below is a fixed encoding; the interpreter
// in pkg/machine decodes exactly this set.

// loadImm: mov eax, imm32
func (c *Compiler) loadImm(v uint32) {
	c.emit(0xB8)
	c.emitU32(v)
}

// loadSecImm: mov ecx, imm32
func (c *Compiler) loadSecImm(v uint32) {
	c.emit(0xB9)
	c.emitU32(v)
}

// pushAcc / popAcc / pushSec / popSec
func (c *Compiler) pushAcc() { c.emit(0x50) }
func (c *Compiler) popAcc()  { c.emit(0x58) }
func (c *Compiler) pushSec() { c.emit(0x51) }
func (c *Compiler) popSec()  { c.emit(0x59) }

// movSecAcc: mov ecx, eax
func (c *Compiler) movSecAcc() { c.emit(0x89, 0xC1) }

// movAccSec: mov eax, ecx
func (c *Compiler) movAccSec() { c.emit(0x89, 0xC8) }

// swapAccSec: xchg eax, ecx
func (c *Compiler) swapAccSec() { c.emit(0x91) }

// leaLocal: lea eax, [ebp+off] — address of a frame-relative slot.
func (c *Compiler) leaLocal(off int) {
	c.emit(0x8D, 0x85)
	c.emitU32(uint32(int32(off)))
}

// loadInd: mov eax, [eax] (width 4) or movzx eax, byte [eax] (width 1).
// Every loadInd is recorded so an enclosing assignment or increment can
// rewind it and recover the address still sitting in the accumulator.
func (c *Compiler) loadInd(width int) {
	at := c.here()
	if width == 1 {
		c.emit(0x0F, 0xB6, 0x00)
	} else {
		c.emit(0x8B, 0x00)
	}
	c.lastLoad = loadMark{at: at, end: c.here(), width: width}
}

// storeInd: mov [ecx], eax (width 4) or mov [ecx], al (width 1).
func (c *Compiler) storeInd(width int) {
	if width == 1 {
		c.emit(0x88, 0x01)
	} else {
		c.emit(0x89, 0x01)
	}
}

// loadStackRel: mov eax, [esp+off] — peeks a value buried under pushes.
func (c *Compiler) loadStackRel(off int) {
	c.emit(0x8B, 0x84, 0x24)
	c.emitU32(uint32(int32(off)))
}

// ── arithmetic ─────────────────────────────────────────────────────────────

func (c *Compiler) addAccSec() { c.emit(0x01, 0xC8) } // add eax, ecx
func (c *Compiler) subSecAcc() { c.emit(0x29, 0xC1) } // sub ecx, eax
func (c *Compiler) andAccSec() { c.emit(0x21, 0xC8) } // and eax, ecx
func (c *Compiler) orAccSec()  { c.emit(0x09, 0xC8) } // or  eax, ecx
func (c *Compiler) xorAccSec() { c.emit(0x31, 0xC8) } // xor eax, ecx
func (c *Compiler) cmpSecAcc() { c.emit(0x39, 0xC1) } // cmp ecx, eax
func (c *Compiler) mulAccSec() { c.emit(0x0F, 0xAF, 0xC1) }

func (c *Compiler) addAccImm(v int32) {
	c.emit(0x05)
	c.emitU32(uint32(v))
}

func (c *Compiler) subAccImm(v int32) {
	c.emit(0x2D)
	c.emitU32(uint32(v))
}

func (c *Compiler) cmpAccImm(v int32) {
	c.emit(0x3D)
	c.emitU32(uint32(v))
}

// mulAccImm: imul eax, eax, imm32 — subscript scaling.
func (c *Compiler) mulAccImm(v int32) {
	c.emit(0x69, 0xC0)
	c.emitU32(uint32(v))
}

func (c *Compiler) notAcc() { c.emit(0xF7, 0xD0) }
func (c *Compiler) negAcc() { c.emit(0xF7, 0xD8) }

// signedDivSec: sign-extend eax into edx:eax, divide by ecx.
// Quotient lands in eax, remainder in edx.
func (c *Compiler) signedDivSec() {
	c.emit(0x99)       // cdq
	c.emit(0xF7, 0xF9) // idiv ecx
}

// movAccRem: mov eax, edx — fetch the remainder after signedDivSec.
func (c *Compiler) movAccRem() { c.emit(0x89, 0xD0) }

func (c *Compiler) shlAccCl() { c.emit(0xD3, 0xE0) }
func (c *Compiler) sarAccCl() { c.emit(0xD3, 0xF8) }

// testAcc: test eax, eax — set ZF from the accumulator.
func (c *Compiler) testAcc() { c.emit(0x85, 0xC0) }

// setCond materializes a comparison as a canonical 0/1 in the accumulator.
func (c *Compiler) setCond(cc byte) {
	c.emit(0x0F, 0x90|cc, 0xC0) // setcc al
	c.emit(0x0F, 0xB6, 0xC0)    // movzx eax, al
}

// ── control transfer ───────────────────────────────────────────────────────
//
// Every placeholder emitter returns the buffer offset of its 4-byte
// displacement field; patchJump/patchRel later compute the displacement
// relative to the byte immediately following that field.

// jmpForward: jmp rel32 with a placeholder displacement.
func (c *Compiler) jmpForward() int {
	c.emit(0xE9)
	at := c.here()
	c.emitU32(0)
	return at
}

// jccForward: long conditional jump with a placeholder displacement.
func (c *Compiler) jccForward(cc byte) int {
	c.emit(0x0F, 0x80|cc)
	at := c.here()
	c.emitU32(0)
	return at
}

// jmpTo: jmp rel32 to a known code offset (typically backward).
func (c *Compiler) jmpTo(target int) {
	c.emit(0xE9)
	c.emitU32(uint32(int32(target - (c.here() + 4))))
}

// jccTo: conditional jump to a known code offset.
func (c *Compiler) jccTo(cc byte, target int) {
	c.emit(0x0F, 0x80|cc)
	c.emitU32(uint32(int32(target - (c.here() + 4))))
}

// patchJump resolves a forward jump placeholder to the current position.
func (c *Compiler) patchJump(at int) {
	c.patch32(at, uint32(int32(c.here()-(at+4))))
}

// callTo: call rel32 to an absolute runtime address (defined function or
// host binding). The displacement convention is target minus the address of
// the byte after the field.
func (c *Compiler) callTo(target uint32) {
	c.emit(0xE8)
	at := c.here()
	c.emitU32(target - (c.codeAddr(at) + 4))
}

// callPlaceholder: call rel32 whose target is not yet known. Returns the
// displacement-field offset for the patch resolver.
func (c *Compiler) callPlaceholder() int {
	c.emit(0xE8)
	at := c.here()
	c.emitU32(0)
	return at
}

// callAcc: call eax — indirect call through a function pointer.
func (c *Compiler) callAcc() { c.emit(0xFF, 0xD0) }

// adjustStack: add esp, imm32 — caller argument cleanup.
func (c *Compiler) adjustStack(n int) {
	if n == 0 {
		return
	}
	c.emit(0x81, 0xC4)
	c.emitU32(uint32(n))
}

// prologue emits push ebp; mov ebp, esp; sub esp, <placeholder> and returns
// the offset of the frame-size field, back-patched once the body is parsed
// and the true local usage is known.
func (c *Compiler) prologue() int {
	c.emit(0x55)       // push ebp
	c.emit(0x89, 0xE5) // mov ebp, esp
	c.emit(0x81, 0xEC) // sub esp, imm32
	at := c.here()
	c.emitU32(0)
	return at
}

// epilogue: leave; ret — the one epilogue shape, emitted inline at every
// return site.
func (c *Compiler) epilogue() {
	c.emit(0xC9, 0xC3)
}

// ── patch resolver ─────────────────────────────────────────────────────────

// patch records a call site whose 4-byte displacement field still has to be
// written once the target symbol is known.
type patch struct {
	off  int // code-buffer offset of the displacement field
	name string
	line int
}

// recordPatch registers a forward call for the final resolution pass.
func (c *Compiler) recordPatch(off int, name string, line int) {
	c.patches = append(c.patches, patch{off: off, name: name, line: line})
}

// resolveAll walks every recorded patch after the whole program has been
// parsed and backfills the displacement, or fails naming the identifier.
func (c *Compiler) resolveAll() {
	for _, p := range c.patches {
		if c.err != nil {
			return
		}
		idx := c.syms.find(p.name)
		if idx < 0 {
			c.errorf(p.line, "call to undefined function %q", p.name)
			return
		}
		sym := c.syms.at(idx)
		var target uint32
		switch {
		case sym.Kind == SymFunc && sym.Defined:
			target = c.codeAddr(sym.Offset)
		case sym.Kind == SymHost:
			target = uint32(sym.Offset)
		default:
			c.errorf(p.line, "call to undefined function %q", p.name)
			return
		}
		c.patch32(p.off, target-(c.codeAddr(p.off)+4))
	}
	c.patches = c.patches[:0]
}

// ── loop contexts ──────────────────────────────────────────────────────────

// loopCtx carries the innermost break/continue targets. contTarget is -1
// while the continue position is not yet known (do-while); conts collects
// forward patches for that case. isSwitch marks break-only contexts.
type loopCtx struct {
	contTarget int
	conts      []int
	breaks     []int
	isSwitch   bool
}

func (c *Compiler) pushLoop(contTarget int, isSwitch bool) {
	c.loops = append(c.loops, loopCtx{contTarget: contTarget, isSwitch: isSwitch})
}

// popLoop patches all pending break jumps to the current position and, if a
// continue position was supplied, all pending continue jumps as well.
func (c *Compiler) popLoop(contPos int) {
	ctx := &c.loops[len(c.loops)-1]
	for _, at := range ctx.breaks {
		c.patchJump(at)
	}
	for _, at := range ctx.conts {
		c.patch32(at, uint32(int32(contPos-(at+4))))
	}
	c.loops = c.loops[:len(c.loops)-1]
}
