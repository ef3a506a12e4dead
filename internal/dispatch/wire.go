// Package dispatch implements the stream dispatcher of spec.md §4.4: a
// producer/consumer bridge that drives the Nexus parser and reconstruction
// state machine on a worker goroutine and streams reconstructed PCs to a
// UI front-end over the framed wire protocol of spec.md §6. Its worker
// topology (one goroutine per independent byte-deque consumer, joined via
// an error group) is grounded in the teacher's frame/demux.go pattern of
// stepping explicit byte queues on dedicated goroutines, generalized from
// single-threaded replay to the spec's multi-worker (decode, address
// search, histogram) fan-out.
package dispatch

import (
	"encoding/binary"
	"hash/crc32"
	"io"

	"nexusprof/internal/common"
)

// FrameType is the wire protocol's `type` field (spec.md §6).
type FrameType uint8

const (
	FrameInternal FrameType = 1
	FrameResponse FrameType = 2
)

// Opcode is the wire protocol's `opcode` field. The dispatcher only ever
// uses BulkWrite (control and data-batch frames alike; spec.md §6 and
// SPEC_FULL.md §C.1).
type Opcode uint8

const (
	OpBulkWrite Opcode = 1
)

// ackLiteral is the required value of an ACK frame's response payload
// (spec.md §6, §9 Open Question 4).
const ackLiteral uint32 = 0xDEADBEEF

const wireVersion byte = 1

// writeFrame writes one wire frame: version|type|opcode|payload-len|payload|crc
// (spec.md §6), all big-endian, CRC32-IEEE over everything preceding it.
func writeFrame(w io.Writer, ftype FrameType, op Opcode, payload []byte) error {
	buf := make([]byte, 0, 7+len(payload)+4)
	buf = append(buf, wireVersion, byte(ftype), byte(op))
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	buf = append(buf, lenBuf[:]...)
	buf = append(buf, payload...)
	crc := crc32.ChecksumIEEE(buf)
	var crcBuf [4]byte
	binary.BigEndian.PutUint32(crcBuf[:], crc)
	buf = append(buf, crcBuf[:]...)
	_, err := w.Write(buf)
	return err
}

// readFrame reads one wire frame and validates its CRC, returning the
// frame's type, opcode, and payload.
func readFrame(r io.Reader) (FrameType, Opcode, []byte, error) {
	var hdr [7]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return 0, 0, nil, common.NewErrorf(common.AckErr, "short frame header read: %v", err)
	}
	payloadLen := binary.BigEndian.Uint32(hdr[3:7])
	payload := make([]byte, payloadLen)
	if payloadLen > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return 0, 0, nil, common.NewErrorf(common.AckErr, "short frame payload read: %v", err)
		}
	}
	var crcBuf [4]byte
	if _, err := io.ReadFull(r, crcBuf[:]); err != nil {
		return 0, 0, nil, common.NewErrorf(common.AckErr, "short frame crc read: %v", err)
	}
	got := binary.BigEndian.Uint32(crcBuf[:])
	want := crc32.ChecksumIEEE(append(append([]byte{}, hdr[:]...), payload...))
	if got != want {
		return 0, 0, nil, common.NewError(common.AckErr, "frame crc mismatch")
	}
	return FrameType(hdr[1]), Opcode(hdr[2]), payload, nil
}

// writeAck writes a RESPONSE frame whose payload is the literal ackLiteral
// (spec.md §6). Used when this module itself must acknowledge a frame, per
// SPEC_FULL.md §C.6's resolution of the ACK-symmetry open question.
func writeAck(w io.Writer) error {
	var payload [4]byte
	binary.BigEndian.PutUint32(payload[:], ackLiteral)
	return writeFrame(w, FrameResponse, 0, payload[:])
}

// awaitAck reads one frame and requires it to be a well-formed ACK: type
// RESPONSE, 4-byte payload equal to ackLiteral. Any other value, a short
// read, or a CRC mismatch aborts the session with AckErr (spec.md §6, §7).
func awaitAck(r io.Reader) error {
	ftype, _, payload, err := readFrame(r)
	if err != nil {
		return err
	}
	if ftype != FrameResponse || len(payload) != 4 {
		return common.NewError(common.AckErr, "malformed ACK frame")
	}
	if binary.BigEndian.Uint32(payload) != ackLiteral {
		return common.NewError(common.AckErr, "ACK literal mismatch")
	}
	return nil
}

// writeControlFrame sends the session-start thread-index control message
// (SPEC_FULL.md §C.1, grounded in StartProfilingThread(threadIdx)) and
// awaits its ACK.
func writeControlFrame(rw io.ReadWriter, threadIdx uint32) error {
	var payload [4]byte
	binary.BigEndian.PutUint32(payload[:], threadIdx)
	if err := writeFrame(rw, FrameInternal, OpBulkWrite, payload[:]); err != nil {
		return err
	}
	return awaitAck(rw)
}

// writeDataBatch sends one data-batch message: a byte-count header frame
// (awaiting ACK) followed by the raw big-endian u64 PC buffer written
// directly to the socket (awaiting ACK) (spec.md §6).
func writeDataBatch(rw io.ReadWriter, pcs []uint64) error {
	var countPayload [4]byte
	binary.BigEndian.PutUint32(countPayload[:], uint32(len(pcs)*8))
	if err := writeFrame(rw, FrameInternal, OpBulkWrite, countPayload[:]); err != nil {
		return err
	}
	if err := awaitAck(rw); err != nil {
		return err
	}
	raw := make([]byte, len(pcs)*8)
	for i, pc := range pcs {
		binary.BigEndian.PutUint64(raw[i*8:], pc)
	}
	if _, err := rw.Write(raw); err != nil {
		return err
	}
	return awaitAck(rw)
}
