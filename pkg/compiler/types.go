package compiler

import "fmt"

// Kind is the closed set of value types the language knows about.
type Kind int

const (
	KindVoid    Kind = iota
	KindInt          // 4-byte signed word
	KindByte         // 1-byte character
	KindPtr          // generic pointer (void*)
	KindIntPtr       // int*
	KindBytePtr      // char* (also the type of string literals)
	KindStruct       // struct by value; the value in the accumulator is its address
	KindStructPtr
	KindFuncPtr
)

var kindNames = [...]string{
	KindVoid:      "void",
	KindInt:       "int",
	KindByte:      "char",
	KindPtr:       "void*",
	KindIntPtr:    "int*",
	KindBytePtr:   "char*",
	KindStruct:    "struct",
	KindStructPtr: "struct*",
	KindFuncPtr:   "function*",
}

func (k Kind) String() string {
	if int(k) >= 0 && int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// ExprType is the static type every expression production returns alongside
// the code it emits. Elem is the pointer-arithmetic scaling unit (1 for char
// pointers, the struct size for struct pointers, 4 otherwise). Inner is
// nonzero only for a two-dimensional array base, where it carries the element
// size that applies after the first subscript peels off a row.
type ExprType struct {
	Kind   Kind
	Struct int // struct registry index, or -1
	Elem   int // element size used to scale subscripts / pointer arithmetic
	Inner  int // post-first-subscript element size for 2-D array bases
}

func typeVoid() ExprType    { return ExprType{Kind: KindVoid, Struct: -1} }
func typeInt() ExprType     { return ExprType{Kind: KindInt, Struct: -1, Elem: 4} }
func typeByte() ExprType    { return ExprType{Kind: KindByte, Struct: -1, Elem: 1} }
func typeIntPtr() ExprType  { return ExprType{Kind: KindIntPtr, Struct: -1, Elem: 4} }
func typeBytePtr() ExprType { return ExprType{Kind: KindBytePtr, Struct: -1, Elem: 1} }

// isPointer reports whether t supports subscripting and pointer arithmetic.
func (t ExprType) isPointer() bool {
	switch t.Kind {
	case KindPtr, KindIntPtr, KindBytePtr, KindStructPtr:
		return true
	}
	return false
}

// loadWidth is the memory access width when a value of this type is read or
// written through its address: 1 for char, 4 for everything else.
func (t ExprType) loadWidth() int {
	if t.Kind == KindByte {
		return 1
	}
	return 4
}

// pointerTo lifts a value type to the pointer type used by address-of.
func (c *Compiler) pointerTo(t ExprType) ExprType {
	switch t.Kind {
	case KindByte:
		return typeBytePtr()
	case KindStruct:
		return ExprType{Kind: KindStructPtr, Struct: t.Struct, Elem: c.structs[t.Struct].Size}
	case KindInt:
		return typeIntPtr()
	default:
		return ExprType{Kind: KindPtr, Struct: -1, Elem: 4}
	}
}

// deref is the value type obtained by dereferencing a pointer type.
func (c *Compiler) deref(t ExprType) (ExprType, bool) {
	switch t.Kind {
	case KindIntPtr, KindPtr:
		return typeInt(), true
	case KindBytePtr:
		return typeByte(), true
	case KindStructPtr:
		return ExprType{Kind: KindStruct, Struct: t.Struct, Elem: c.structs[t.Struct].Size}, true
	}
	return ExprType{}, false
}

// sizeOf is the in-memory footprint of a value of type t.
func (c *Compiler) sizeOf(t ExprType) int {
	switch t.Kind {
	case KindByte:
		return 1
	case KindStruct:
		return c.structs[t.Struct].Size
	case KindVoid:
		return 0
	default:
		return 4
	}
}

// Field is one member of a struct definition. Offset is assigned when the
// struct body is completed; ArrayLen is 0 for scalar fields.
type Field struct {
	Name     string
	Type     ExprType
	Offset   int
	ArrayLen int
}

// StructDef is a registered aggregate type. A tag becomes known (and
// indexable) on first mention; it stays incomplete until a body is parsed.
type StructDef struct {
	Name     string
	Fields   []Field
	Size     int
	Align    int
	Complete bool
}

// getOrCreateTag returns the registry index for a struct tag, creating an
// incomplete entry on first mention.
func (c *Compiler) getOrCreateTag(name string) int {
	for i := range c.structs {
		if c.structs[i].Name == name {
			return i
		}
	}
	c.structs = append(c.structs, StructDef{Name: name, Align: 1})
	return len(c.structs) - 1
}

// fieldAlign is the natural alignment of a field: 1 for char and char
// arrays, 4 for everything else.
func fieldAlign(f Field) int {
	if f.Type.Kind == KindByte {
		return 1
	}
	return 4
}

// fieldSize is the byte footprint of a field within its struct.
func (c *Compiler) fieldSize(f Field) int {
	elem := c.sizeOf(f.Type)
	if f.ArrayLen > 0 {
		return elem * f.ArrayLen
	}
	return elem
}

func alignUp(n, align int) int {
	return (n + align - 1) / align * align
}

// completeStruct lays out the given fields and marks the tag complete.
// Each field is aligned to its natural alignment; the struct's alignment is
// the maximum field alignment and its size is rounded up to that alignment.
// Completing an already-complete tag is a redefinition error.
func (c *Compiler) completeStruct(idx int, fields []Field, line int) {
	def := &c.structs[idx]
	if def.Complete {
		c.errorf(line, "redefinition of struct %s", def.Name)
		return
	}
	cursor := 0
	align := 1
	for i := range fields {
		fa := fieldAlign(fields[i])
		if fa > align {
			align = fa
		}
		cursor = alignUp(cursor, fa)
		fields[i].Offset = cursor
		cursor += c.fieldSize(fields[i])
	}
	def.Fields = fields
	def.Align = align
	def.Size = alignUp(cursor, align)
	if def.Size == 0 {
		def.Size = align
	}
	def.Complete = true
}

// findField looks a member name up in a struct definition. Self-referential
// pointer fields are recorded before their struct is complete, so the
// element size is refreshed from the registry on the way out.
func (c *Compiler) findField(idx int, name string) (Field, bool) {
	for _, f := range c.structs[idx].Fields {
		if f.Name == name {
			if (f.Type.Kind == KindStructPtr || f.Type.Kind == KindStruct) && f.Type.Struct >= 0 {
				f.Type.Elem = c.structs[f.Type.Struct].Size
			}
			return f, true
		}
	}
	return Field{}, false
}
