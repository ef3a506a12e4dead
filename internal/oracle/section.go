// Package oracle answers "what is at this address": the raw instruction
// bytes, its decoded operands, and its symbol/source-line text. It is built
// from a pre-constructed section table and symbol table (spec.md §1: ELF
// and objdump invocation themselves are an external collaborator, out of
// scope for this package).
package oracle

import "nexusprof/internal/common"

// Section is a contiguous code region, struct-of-arrays over half-words
// (spec.md §3, §9's replace-raw-pointer-graphs guidance). Each teacher
// reference for this shape (common.MemoryBuffer, common.MultiRegionMemory)
// modeled a bounds-checked byte buffer with a bounds check on every access;
// this type keeps that discipline but is indexed in 16-bit code units since
// RISC-V instructions are always a whole number of half-words.
type Section struct {
	StartAddr uint64
	EndAddr   uint64 // exclusive
	Flags     uint32

	Code []uint16 // one entry per half-word; 32-bit instructions span two

	// Populated lazily by the disassembler adapter on first reference;
	// parallel to Code by half-word index. Diss/FileName/LineNumber are
	// only meaningful at the low half-word of a 32-bit instruction or the
	// sole half-word of a 16-bit one.
	Diss       []string
	FileName   []string
	LineNumber []int

	cachedDecode []*Decoded // lazily populated, never invalidated (spec.md §3 Lifecycles)
}

// NewSection allocates a Section covering [start, start+len(code)*2).
func NewSection(start uint64, code []uint16) *Section {
	return &Section{
		StartAddr:    start,
		EndAddr:      start + uint64(len(code))*2,
		Code:         code,
		cachedDecode: make([]*Decoded, len(code)),
	}
}

func (s *Section) contains(addr uint64) bool {
	return addr >= s.StartAddr && addr < s.EndAddr
}

// halfwordIndex converts an address to an index into Code, validating
// bounds and alignment.
func (s *Section) halfwordIndex(addr uint64) (int, error) {
	if !s.contains(addr) {
		return 0, common.NewErrorf(common.Err, "address %#x outside section [%#x,%#x)", addr, s.StartAddr, s.EndAddr)
	}
	if addr&1 != 0 {
		return 0, common.NewErrorf(common.Err, "address %#x is not half-word aligned", addr)
	}
	return int(addr-s.StartAddr) / 2, nil
}

// FetchWord reads the raw instruction word at addr and its size in bits
// (16 or 32), per spec.md §4.3's "Instruction fetch". Low two bits of the
// low half-word: 0b11 marks a 32-bit instruction, anything else is a 16-bit
// RVC opcode. A low5 of 0b11111 on top of that marks an instruction of 48
// bits or wider, which this decoder does not support (spec.md §4.3:
// "Instructions longer than 32 bits are an error").
func (s *Section) FetchWord(addr uint64) (word uint32, size int, err error) {
	i, err := s.halfwordIndex(addr)
	if err != nil {
		return 0, 0, err
	}
	lo := s.Code[i]
	if lo&0x3 != 0x3 {
		return uint32(lo), 16, nil
	}
	if lo&0x1F == 0x1F {
		return 0, 0, common.NewErrorf(common.Err, "instruction at %#x is 48 bits or wider, unsupported", addr)
	}
	if i+1 >= len(s.Code) {
		return 0, 0, common.NewErrorf(common.Err, "32-bit instruction at %#x truncated at section end", addr)
	}
	hi := s.Code[i+1]
	return uint32(lo) | (uint32(hi) << 16), 32, nil
}

// Table holds all sections for a session, address-ordered, with a one-slot
// cache of the last section hit (spec.md §4.3: "N typically < 16", linear
// scan acceptable).
type Table struct {
	sections []*Section
	cacheIdx int
}

// NewTable builds a Table from sections already ordered by StartAddr. The
// caller (the ELF/objdump adapter, out of scope here) is responsible for
// ordering and for rejecting overlaps before construction.
func NewTable(sections []*Section) *Table {
	return &Table{sections: sections, cacheIdx: -1}
}

// Lookup returns the section containing addr, consulting the one-entry
// cache first.
func (t *Table) Lookup(addr uint64) (*Section, error) {
	if t.cacheIdx >= 0 && t.cacheIdx < len(t.sections) && t.sections[t.cacheIdx].contains(addr) {
		return t.sections[t.cacheIdx], nil
	}
	for i, s := range t.sections {
		if s.contains(addr) {
			t.cacheIdx = i
			return s, nil
		}
	}
	return nil, common.NewErrorf(common.Err, "address %#x resolves to no section", addr)
}
