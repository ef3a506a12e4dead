package oracle

import (
	"fmt"

	"nexusprof/internal/common"
)

// Lookup is the resolved information for one address (spec.md §4.3): the
// decoded instruction plus its symbol/source-line text.
type Lookup struct {
	Addr       uint64
	Word       uint32
	Instr      *Decoded
	Text       string // disassembly text, cached on the owning Section
	File       string
	Line       int
	Func       string
}

// Oracle is the instruction oracle of spec.md §4.3: given an address,
// returns raw instruction bytes, decoded operands, and disassembly/source
// text, backed by pre-built Section and Symbol tables.
type Oracle struct {
	Sections *Table
	Symbols  *SymbolTable
	Source   *SourceCache
	Style    Style
	Rewrite  Rewrite

	log common.Logger
}

func New(sections *Table, symbols *SymbolTable, log common.Logger) *Oracle {
	if log == nil {
		log = common.NewNoOpLogger()
	}
	return &Oracle{Sections: sections, Symbols: symbols, Source: NewSourceCache(), log: log}
}

// Resolve fetches and decodes the instruction at addr and attaches symbol
// and source-line text when available. The decode result is cached on the
// owning section's cachedDecode slice, populated on first access and never
// invalidated (spec.md §3 Lifecycles).
func (o *Oracle) Resolve(addr uint64) (*Lookup, error) {
	sec, err := o.Sections.Lookup(addr)
	if err != nil {
		return nil, err
	}
	idx, err := sec.halfwordIndex(addr)
	if err != nil {
		return nil, err
	}

	var d *Decoded
	if sec.cachedDecode[idx] != nil {
		d = sec.cachedDecode[idx]
	} else {
		word, size, err := sec.FetchWord(addr)
		if err != nil {
			return nil, err
		}
		d = Decode(word, size)
		sec.cachedDecode[idx] = d
	}

	word, _, err := sec.FetchWord(addr)
	if err != nil {
		return nil, err
	}

	l := &Lookup{Addr: addr, Word: word, Instr: d}

	if idx < len(sec.Diss) {
		l.Text = sec.Diss[idx]
	}
	if idx < len(sec.FileName) {
		l.File = Normalize(sec.FileName[idx], o.Style, o.Rewrite)
	}
	if idx < len(sec.LineNumber) {
		l.Line = sec.LineNumber[idx]
	}

	if sym := o.Symbols.Lookup(addr); sym != nil {
		l.Func = sym.Name
	}

	return l, nil
}

// SourceLine returns the text of l.File at l.Line, if both are known and
// the file is readable.
func (o *Oracle) SourceLine(l *Lookup) (string, bool) {
	if l.File == "" || l.Line <= 0 {
		return "", false
	}
	return o.Source.Line(l.File, l.Line)
}

func (l *Lookup) String() string {
	return fmt.Sprintf("%#x: %s (%s:%d) %s", l.Addr, l.Func, l.File, l.Line, l.Text)
}
