package nexus

import "nexusprof/internal/common"

// mseo is the two low bits of a Nexus trace byte.
type mseo int

const (
	mseoNormal mseo = 0b00 // slice continues
	mseoVarEnd mseo = 0b01 // end of a variable-length field
	mseoRes    mseo = 0b10 // reserved, treated as a framing error
	mseoEnd    mseo = 0b11 // end of message
)

func sliceMSEO(b byte) mseo   { return mseo(b & 0x03) }
func sliceData(b byte) uint64 { return uint64(b >> 2) }

// fieldReader parses fixed and variable-width fields from one already-framed
// message (a byte slice running from its first byte through, and including,
// the byte whose MSEO is mseoEnd). It implements the bit primitives of
// spec.md §4.1.
//
// bitPos is a cursor into the message's concatenated 6-bit-per-slice data
// stream, not a byte index: several of the grammar's fixed sub-fields (e.g.
// reason(4)+b_type(2), evcode(4)+cdf(2), cksrc(4)+ckdf(2)) sum to exactly
// one slice's 6 data bits, so a field that consumes fewer than 6 bits must
// leave the remainder of that slice available to whatever field reads next,
// rather than discarding it and advancing to a fresh slice.
type fieldReader struct {
	bytes  []byte
	bitPos int
}

func newFieldReader(msg []byte) *fieldReader {
	return &fieldReader{bytes: msg}
}

func (r *fieldReader) atEnd() bool {
	return r.bitPos >= len(r.bytes)*6
}

// messageEnd reports whether every data bit of the framed message has been
// consumed and the final slice carried the END marker, i.e. there is
// nothing left to parse (spec.md §4.1).
func (r *fieldReader) messageEnd() bool {
	if !r.atEnd() || len(r.bytes) == 0 {
		return false
	}
	return sliceMSEO(r.bytes[len(r.bytes)-1]) == mseoEnd
}

// nextBits consumes up to want bits from the current slice (never crossing
// into the next slice, even if want is larger), returning the bits read,
// how many were actually available, and that slice's MSEO marker.
func (r *fieldReader) nextBits(want int) (bits uint64, n int, m mseo, err error) {
	idx := r.bitPos / 6
	bitOff := r.bitPos % 6
	if idx >= len(r.bytes) {
		return 0, 0, 0, common.NewErrorf(common.EndOfMessage, "ran past end of message")
	}
	b := r.bytes[idx]
	m = sliceMSEO(b)
	avail := 6 - bitOff
	n = want
	if n > avail {
		n = avail
	}
	bits = (sliceData(b) >> uint(bitOff)) & common.Mask[uint64](n)
	r.bitPos += n
	return bits, n, m, nil
}

// fixed reads w bits LSB-first, packing consecutive sub-slice fields into
// the same slice when they fit and only crossing into a new slice once the
// current one is exhausted (spec.md §4.1: "without consuming MSEO
// terminators"). It is an error to run past the message's END slice.
func (r *fieldReader) fixed(w int) (uint64, error) {
	var val uint64
	got := 0
	for got < w {
		bits, n, m, err := r.nextBits(w - got)
		if err != nil {
			return 0, err
		}
		val |= bits << uint(got)
		got += n
		if m == mseoEnd && got < w {
			return 0, common.NewErrorf(common.EndOfMessage, "fixed(%d): hit END slice early", w)
		}
	}
	return val, nil
}

// varField reads 6 bits per slice, continuing while MSEO is mseoNormal,
// stopping at the slice whose MSEO is mseoVarEnd or mseoEnd (that slice's
// bits are included). Returns the assembled value and its width in bits.
// If a preceding fixed field left the cursor mid-slice, the first chunk
// read here is whatever bits remain in that slice rather than a full 6,
// matching the continuous bitstream the MSEO framing rides on top of.
//
// A reconstructed width over 64 bits is only legal if every bit beyond bit
// 63 is zero (spec.md §4.1: "the encoding naturally produces 66 bits for a
// 64-bit value").
func (r *fieldReader) varField() (uint64, int, error) {
	var val uint64
	width := 0
	for {
		bits, n, m, err := r.nextBits(6)
		if err != nil {
			return 0, 0, err
		}
		if m == mseoRes {
			return 0, 0, common.NewErrorf(common.BadMessage, "var(): reserved MSEO value in slice")
		}
		if width >= 64 {
			if bits != 0 {
				return 0, 0, common.NewErrorf(common.BadMessage, "var(): width exceeds 64 bits with nonzero high data")
			}
		} else {
			if width+n > 64 && bits>>uint(64-width) != 0 {
				return 0, 0, common.NewErrorf(common.BadMessage, "var(): width exceeds 64 bits with nonzero high data")
			}
			val |= bits << uint(width)
		}
		width += n
		if m == mseoVarEnd || m == mseoEnd {
			break
		}
	}
	if width > 64 {
		width = 64
	}
	return val, width, nil
}
