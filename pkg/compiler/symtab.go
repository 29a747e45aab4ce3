package compiler

// SymKind classifies a symbol table entry.
type SymKind int

const (
	SymGlobal SymKind = iota
	SymLocal
	SymParam
	SymFunc
	SymHost  // host-provided function; Offset is an absolute runtime address
	SymConst // enum member; Value is the compile-time constant
)

// Symbol is one named entity. Its storage location depends on the kind:
// frame offset for locals/parameters, absolute address for globals and host
// bindings, code-buffer offset for user functions.
type Symbol struct {
	Name      string
	Kind      SymKind
	Type      ExprType
	Offset    int   // see above
	Value     int32 // SymConst only
	NumParams int   // SymFunc / SymHost; -1 marks a variadic host binding
	Defined   bool  // SymFunc: body has been compiled
	IsArray   bool
	Dims      [2]int // element counts; Dims[1] is 0 for 1-D arrays
	ElemSize  int    // scalar element size for arrays
}

// symtab is an append-only table. A scope is the contiguous range
// [mark, len); entering a scope records the mark and leaving truncates back
// to it, which exposes the enclosing symbols again in O(1). Lookup scans
// backward so inner declarations shadow outer ones without special cases.
type symtab struct {
	syms []Symbol
}

// add appends a symbol and returns its index handle.
func (st *symtab) add(s Symbol) int {
	st.syms = append(st.syms, s)
	return len(st.syms) - 1
}

// find returns the index of the innermost visible symbol with the given
// name, or -1.
func (st *symtab) find(name string) int {
	for i := len(st.syms) - 1; i >= 0; i-- {
		if st.syms[i].Name == name {
			return i
		}
	}
	return -1
}

// at returns the symbol for a handle. The pointer is only valid until the
// next add.
func (st *symtab) at(i int) *Symbol {
	return &st.syms[i]
}

// mark records the current table end for a later leave.
func (st *symtab) mark() int {
	return len(st.syms)
}

// leave truncates the table back to a mark taken at scope entry.
func (st *symtab) leave(mark int) {
	st.syms = st.syms[:mark]
}
