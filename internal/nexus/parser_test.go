package nexus

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"nexusprof/internal/common"
)

func slice(data uint8, m mseo) byte {
	return byte(data<<2) | byte(m)
}

// TestVarFieldSingleVarEndIsZero covers spec.md §8 boundary case: "A
// variable field consisting solely of a single VAR_END slice decodes to
// value 0, width 6."
func TestVarFieldSingleVarEndIsZero(t *testing.T) {
	fr := newFieldReader([]byte{slice(0, mseoVarEnd)})
	val, width, err := fr.varField()
	if err != nil {
		t.Fatalf("varField: %v", err)
	}
	if val != 0 || width != 6 {
		t.Fatalf("got val=%d width=%d, want 0/6", val, width)
	}
}

func TestFixedAcrossSlices(t *testing.T) {
	// fixed(8) spans two 6-bit slices: low 6 bits from the first, 2 more
	// from the second.
	fr := newFieldReader([]byte{
		slice(0x2A, mseoNormal), // 0b101010
		slice(0x01, mseoEnd),    // contributes 2 more bits -> 0b01
	})
	val, err := fr.fixed(8)
	if err != nil {
		t.Fatalf("fixed: %v", err)
	}
	want := uint64(0x2A) | (uint64(0x01) << 6)
	if val&0xFF != want&0xFF {
		t.Fatalf("got %#x want %#x", val, want)
	}
}

// parsedFields is the subset of Message a grammar test cares about;
// comparing through it keeps cmp.Diff output to the fields under test
// instead of the whole Message (Raw, Offset, etc).
type parsedFields struct {
	TCode         TCode
	ICnt          uint64
	HaveICnt      bool
	HaveTimestamp bool
	SyncReason    int
	BType         BType
	HaveBType     bool
	FAddr         uint64
	HaveFAddr     bool
}

func fieldsOf(msg *Message) parsedFields {
	return parsedFields{
		TCode:         msg.TCode,
		ICnt:          msg.ICnt,
		HaveICnt:      msg.HaveICnt,
		HaveTimestamp: msg.HaveTimestamp,
		SyncReason:    msg.SyncReason,
		BType:         msg.BType,
		HaveBType:     msg.HaveBType,
		FAddr:         msg.FAddr,
		HaveFAddr:     msg.HaveFAddr,
	}
}

// TestParseDirectBranch exercises the DirectBranch grammar row of
// spec.md §4.1's per-TCode table, with no timestamp field present.
func TestParseDirectBranch(t *testing.T) {
	// TCode=3 (DirectBranch) fits in 6 bits: 0b000011.
	// i_cnt = 3, fits in one slice, terminated by END (no timestamp follows).
	raw := []byte{
		slice(3, mseoNormal), // tcode
		slice(3, mseoEnd),    // i_cnt = 3, message ends here
	}
	p := NewParser(0, nil)
	msg, err := p.Parse(raw, 0, 0)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	want := parsedFields{TCode: TCodeDirectBranch, ICnt: 3, HaveICnt: true}
	if diff := cmp.Diff(want, fieldsOf(msg)); diff != "" {
		t.Fatalf("parsed fields mismatch (-want +got):\n%s", diff)
	}
}

// TestParseIndirectBranchWSPacksReasonAndBType covers spec.md §4.1's
// IndirectBranchWS row, where reason(4) and b_type(2) are two fixed
// sub-fields packed into a single 6-bit slice rather than each claiming a
// whole slice of its own.
func TestParseIndirectBranchWSPacksReasonAndBType(t *testing.T) {
	raw := []byte{
		slice(12, mseoNormal), // tcode = IndirectBranchWS
		slice(21, mseoNormal), // reason=5 (bits 0-3) | b_type=1 (bits 4-5) = 0x15
		slice(7, mseoVarEnd),  // i_cnt = 7
		slice(2, mseoEnd),     // f_addr = 2, message ends here
	}
	p := NewParser(0, nil)
	msg, err := p.Parse(raw, 0, 0)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	want := parsedFields{
		TCode:      TCodeIndirectBranchWS,
		SyncReason: 5,
		BType:      BType(1),
		HaveBType:  true,
		ICnt:       7,
		HaveICnt:   true,
		FAddr:      2,
		HaveFAddr:  true,
	}
	if diff := cmp.Diff(want, fieldsOf(msg)); diff != "" {
		t.Fatalf("parsed fields mismatch (-want +got):\n%s", diff)
	}
}

func TestParseUnknownTCodeIsRecoverable(t *testing.T) {
	raw := []byte{slice(63, mseoEnd)} // tcode=63 is not in the grammar table
	p := NewParser(0, nil)
	_, err := p.Parse(raw, 0, 0)
	if err == nil {
		t.Fatalf("expected an error for an unknown tcode")
	}
	if cerr, ok := err.(*common.Error); !ok || !cerr.Code.IsRecoverable() {
		t.Fatalf("got %v, want a recoverable error", err)
	}
}
