package oracle

import "testing"

func TestSectionLookupAndFetch(t *testing.T) {
	// A 32-bit word (0x00000013, addi x0,x0,0: low bits 0b11 mark it as
	// 32-bit) followed by a 16-bit instruction (0x4505, low bits 0b01).
	code := []uint16{0x0013 | 0x3, 0x0000, 0x4505} // [32-bit lo, 32-bit hi, 16-bit]
	sec := NewSection(0x80000000, code)
	table := NewTable([]*Section{sec})

	got, err := table.Lookup(0x80000000)
	if err != nil || got != sec {
		t.Fatalf("Lookup: %v", err)
	}

	word, size, err := sec.FetchWord(0x80000000)
	if err != nil {
		t.Fatalf("FetchWord: %v", err)
	}
	if size != 32 {
		t.Fatalf("got size %d, want 32", size)
	}
	_ = word

	word, size, err = sec.FetchWord(0x80000004)
	if err != nil {
		t.Fatalf("FetchWord: %v", err)
	}
	if size != 16 {
		t.Fatalf("got size %d, want 16", size)
	}
}

func TestSectionLookupOutOfRange(t *testing.T) {
	sec := NewSection(0x1000, []uint16{0x4505})
	table := NewTable([]*Section{sec})
	if _, err := table.Lookup(0x2000); err == nil {
		t.Fatalf("expected error for out-of-range address")
	}
}

func TestSymbolTableLookup(t *testing.T) {
	syms := []*Symbol{
		{Name: "main", Address: 0x1000, Size: 0x20, Flags: SymFunc | SymGlobal},
		{Name: "helper", Address: 0x1020, Size: 0x10, Flags: SymFunc},
	}
	st := NewSymbolTable(syms)
	if s := st.Lookup(0x1005); s == nil || s.Name != "main" {
		t.Fatalf("got %v, want main", s)
	}
	if s := st.Lookup(0x1025); s == nil || s.Name != "helper" {
		t.Fatalf("got %v, want helper", s)
	}
	if s := st.Lookup(0x5000); s != nil {
		t.Fatalf("expected no symbol, got %v", s)
	}
}

func TestDecodeJAL(t *testing.T) {
	// jal x1, 16 : imm=16 (0b10000), rd=1, opcode=0x6f
	// imm[20|10:1|11|19:12] encoding for imm=16: bits 10:1 = 0b0000001000
	w := uint32(0x6f) | (uint32(1) << 7) | (uint32(8) << 21)
	d := Decode(w, 32)
	if d.Class != ClassJAL {
		t.Fatalf("got class %v, want JAL", d.Class)
	}
	if d.Imm != 16 {
		t.Fatalf("got imm %d, want 16", d.Imm)
	}
	if d.Rd != 1 {
		t.Fatalf("got rd %d, want 1", d.Rd)
	}
}

func TestPathNormalizeUnix(t *testing.T) {
	got := Normalize("/a/./b/../c//d", StyleUnix, Rewrite{})
	if got != "/a/c/d" {
		t.Fatalf("got %q", got)
	}
}

func TestPathNormalizeRewrite(t *testing.T) {
	got := Normalize("/build/src/main.c", StyleUnix, Rewrite{CutPrefix: "/build", NewRoot: "/home/dev"})
	if got != "/home/dev/src/main.c" {
		t.Fatalf("got %q", got)
	}
}
