package nexus

import "nexusprof/internal/common"

// Framer slices a raw trace byte stream into individual Nexus messages using
// the MSEO bits of each byte (spec.md §4.1). Its byte-by-byte resync style
// is grounded in the teacher's CoreSight frame demultiplexer
// (frame/demux.go), which steps one byte at a time through explicit framing
// states and resynchronizes on a recognized pattern rather than failing the
// whole stream; the concrete 2-bit MSEO framing here is unrelated to
// CoreSight's 16-byte ID-multiplexed frames, so only that stepping style
// carries over, not any literal algorithm.
type Framer struct {
	log common.Logger
}

func NewFramer(log common.Logger) *Framer {
	if log == nil {
		log = common.NewNoOpLogger()
	}
	return &Framer{log: log}
}

// Next consumes bytes from buf starting at *pos, discarding resynchronization
// padding (spec.md §4.1: "leading 0x00 and bytes with MSEO != 00 at the start
// of a message are discarded"), and returns the framed message bytes running
// through the terminating END slice. *pos is advanced past the consumed
// bytes (including discarded padding). ok is false if buf is exhausted
// before a complete message is found; the caller should retain the
// unconsumed tail and retry once more bytes arrive.
func (f *Framer) Next(buf []byte, pos *int) (msg []byte, ok bool) {
	p := *pos
	// Skip resynchronization padding: zero bytes, or any byte whose MSEO
	// marks it as a mid-field/end slice when we are not yet inside a
	// message.
	for p < len(buf) {
		b := buf[p]
		if b == 0x00 {
			p++
			continue
		}
		if sliceMSEO(b) != mseoNormal {
			f.log.Debug("nexus: discarding resync byte at start of message")
			p++
			continue
		}
		break
	}
	start := p
	for p < len(buf) {
		b := buf[p]
		p++
		if sliceMSEO(b) == mseoEnd {
			*pos = p
			return buf[start:p], true
		}
	}
	// Ran out of bytes mid-message: leave *pos at start so the caller can
	// re-present the same bytes (plus whatever arrives next) on retry.
	*pos = start
	return nil, false
}
