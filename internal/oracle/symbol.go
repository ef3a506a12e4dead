package oracle

import "sort"

// SymFlags classifies a Symbol (spec.md §3).
type SymFlags uint16

const (
	SymLocal SymFlags = 1 << iota
	SymGlobal
	SymWeak
	SymDebug
	SymFunc
	SymFile
	SymObj
)

// Symbol is one entry of the symbol table (spec.md §3).
type Symbol struct {
	Name    string
	Address uint64
	Size    uint64
	Flags   SymFlags
	Section *Section
	SrcFile *string // for file-symbols that group following locals
}

func (s *Symbol) owns(addr uint64) bool {
	return addr >= s.Address && addr < s.Address+s.Size
}

// SymbolTable is a binary-searchable, address-ordered symbol array with a
// single cached last-hit entry (spec.md §4.3).
type SymbolTable struct {
	syms     []*Symbol
	cacheIdx int
}

// NewSymbolTable sorts syms by (address, weak?, debug?, global?, func?,
// name) per spec.md §4.3 and builds the table.
func NewSymbolTable(syms []*Symbol) *SymbolTable {
	sorted := append([]*Symbol(nil), syms...)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.Address != b.Address {
			return a.Address < b.Address
		}
		if wa, wb := a.Flags&SymWeak != 0, b.Flags&SymWeak != 0; wa != wb {
			return !wa // non-weak sorts first
		}
		if da, db := a.Flags&SymDebug != 0, b.Flags&SymDebug != 0; da != db {
			return !da
		}
		if ga, gb := a.Flags&SymGlobal != 0, b.Flags&SymGlobal != 0; ga != gb {
			return ga
		}
		if fa, fb := a.Flags&SymFunc != 0, b.Flags&SymFunc != 0; fa != fb {
			return fa
		}
		return a.Name < b.Name
	})
	return &SymbolTable{syms: sorted, cacheIdx: -1}
}

// Lookup returns the symbol owning addr, i.e. addr ∈ [sym.Address,
// sym.Address+sym.Size), preferring the cached last hit.
func (t *SymbolTable) Lookup(addr uint64) *Symbol {
	if t.cacheIdx >= 0 && t.cacheIdx < len(t.syms) && t.syms[t.cacheIdx].owns(addr) {
		return t.syms[t.cacheIdx]
	}
	// Binary search for the first symbol whose Address > addr: the common
	// case (non-overlapping function symbols) owns addr at or just below
	// that index. Overlapping symbols (e.g. a file symbol grouping
	// following locals) are rare enough that falling back to a full scan
	// on a cache miss is acceptable.
	end := sort.Search(len(t.syms), func(i int) bool { return t.syms[i].Address > addr })
	if end > 0 && t.syms[end-1].owns(addr) {
		t.cacheIdx = end - 1
		return t.syms[end-1]
	}
	for j, s := range t.syms {
		if s.owns(addr) {
			t.cacheIdx = j
			return s
		}
	}
	return nil
}
