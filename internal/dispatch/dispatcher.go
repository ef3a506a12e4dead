package dispatch

import (
	"context"
	"io"
	"sync/atomic"

	"nexusprof/internal/common"
	"nexusprof/internal/nexus"
	"nexusprof/internal/reconstruct"
)

// outputBufferCapacity bounds the PC batch buffer (spec.md §4.4: "order
// 128K samples").
const outputBufferCapacity = 128 * 1024

// Dispatcher is the stream dispatcher of spec.md §4.4: it owns a Parser
// and a reconstruction Machine, pulls bytes pushed by a feeder, and writes
// framed PC batches to Conn, honoring flush points and UI-file
// segmentation.
type Dispatcher struct {
	ThreadIdx   uint32
	Conn        io.ReadWriter
	Parser      *nexus.Parser
	Framer      *nexus.Framer
	Machine     *reconstruct.Machine
	UISplitSize uint64
	CumInsCnt   func(count uint64, isEmptyFile bool)
	Log         common.Logger

	queue        *byteQueue
	flushOffsets flushOffsetQueue
	abort        atomic.Bool
	done         chan struct{}

	seg *segmenter

	offset   uint64
	prevAddr map[uint32]uint64
	outBuf   []uint64

	coreTimestamps map[uint32]uint64
}

// NewDispatcher builds a Dispatcher. threadIdx is reported to the UI on
// session start (SPEC_FULL.md §C.1).
func NewDispatcher(threadIdx uint32, conn io.ReadWriter, parser *nexus.Parser, machine *reconstruct.Machine, uiSplitSize uint64, cumInsCnt func(uint64, bool), log common.Logger) *Dispatcher {
	if log == nil {
		log = common.NewNoOpLogger()
	}
	d := &Dispatcher{
		ThreadIdx:      threadIdx,
		Conn:           conn,
		Parser:         parser,
		Framer:         nexus.NewFramer(log),
		Machine:        machine,
		UISplitSize:    uiSplitSize,
		CumInsCnt:      cumInsCnt,
		Log:            log,
		queue:          newByteQueue(),
		done:           make(chan struct{}),
		prevAddr:       make(map[uint32]uint64),
		coreTimestamps: make(map[uint32]uint64),
	}
	d.seg = newSegmenter(uiSplitSize, cumInsCnt)
	return d
}

// PushBytes appends raw trace bytes for the worker to consume (spec.md
// §4.4 push_bytes).
func (d *Dispatcher) PushBytes(buf []byte) { d.queue.Push(buf) }

// SetEndOfData signals that no further bytes will be pushed (spec.md §4.4
// set_end_of_data).
func (d *Dispatcher) SetEndOfData() { d.queue.SetEndOfData() }

// AddFlushDataOffset queues an explicit UI-split flush point (spec.md
// §4.4).
func (d *Dispatcher) AddFlushDataOffset(offset uint64) { d.flushOffsets.push(offset) }

// Abort requests cancellation; the worker observes it between PC
// emissions (spec.md §4.4/§5).
func (d *Dispatcher) Abort() { d.abort.Store(true) }

// WaitForCompletion blocks until Run has returned (spec.md §4.4
// wait_for_completion).
func (d *Dispatcher) WaitForCompletion() { <-d.done }

// Run is the decoder worker's body (spec.md §4.4). It blocks on (a) an
// empty input deque, (b) the outbound socket, (c) an awaited ACK read
// (spec.md §5); it never blocks the feeder. Run returns when end-of-data
// has drained fully, ctx is canceled, or a session-terminating error
// occurs. On end-of-data and on cancellation it first flushes pending
// output and reports a final segmentation tick (spec.md §5 "must still
// flush pending output... so downstream consumers observe a well-formed
// stream tail"); a session-terminating error is returned at once, without
// either.
func (d *Dispatcher) Run(ctx context.Context) error {
	defer close(d.done)

	if err := writeControlFrame(d.Conn, d.ThreadIdx); err != nil {
		return err
	}

	var pending []byte
	for {
		select {
		case <-ctx.Done():
			d.abort.Store(true)
		default:
		}
		if d.abort.Load() {
			return d.shutdown()
		}

		chunk, eof := d.queue.Drain()
		pending = append(pending, chunk...)

		pos := 0
		for {
			msgBytes, ok := d.Framer.Next(pending, &pos)
			if !ok {
				break
			}
			if err := d.processMessage(msgBytes); err != nil {
				return err
			}
			if d.abort.Load() {
				return d.shutdown()
			}
		}
		pending = pending[pos:]

		if eof && len(pending) == 0 {
			break
		}
	}
	return d.shutdown()
}

// processMessage parses and reconstructs one framed message, buffering any
// emitted PCs and updating the UI-split segmentation schedule. A
// per-message recoverable parse error (spec.md §7) is logged and skipped;
// a per-core reconstruction error is logged and that core simply stops
// contributing further samples (the Machine itself enters that core into
// StateError).
func (d *Dispatcher) processMessage(msgBytes []byte) error {
	off := d.offset
	d.offset += uint64(len(msgBytes))

	msg, err := d.Parser.Parse(msgBytes, off, 0)
	if err != nil {
		if code, ok := err.(*common.Error); ok && code.Code.IsRecoverable() {
			d.Log.Logf(common.SeverityWarning, "dropping unparsable message at offset %d: %v", off, err)
			d.checkSegmentation()
			return nil
		}
		return err
	}

	if msg.HaveTimestamp {
		prior := d.coreTimestamps[msg.CoreID]
		msg.Timestamp ^= prior
		d.coreTimestamps[msg.CoreID] = msg.Timestamp
	}

	samples, merr := d.Machine.Process(msg)
	for _, s := range samples {
		if d.abort.Load() {
			break
		}
		if err := d.appendSample(s); err != nil {
			return err
		}
	}
	if merr != nil {
		d.Log.Error(merr)
	}

	d.checkSegmentation()
	return nil
}

// checkSegmentation fires natural-boundary reports against the current
// input offset, then applies any explicit flush offsets queued by a
// feeder since the last message (spec.md §4.4).
func (d *Dispatcher) checkSegmentation() {
	d.seg.checkOffset(d.offset)
	for _, fo := range d.flushOffsets.popAll() {
		d.seg.flush(fo)
	}
}

// appendSample coalesces consecutive duplicate addresses per core before
// buffering (SPEC_FULL.md §C.4), flushing the output buffer when full. A
// flush failure here (ACK mismatch, socket write error) is session-
// terminating (spec.md §7) and must reach the caller, not just get logged.
func (d *Dispatcher) appendSample(s reconstruct.Sample) error {
	if prev, ok := d.prevAddr[s.CoreID]; ok && prev == s.Addr {
		return nil
	}
	d.prevAddr[s.CoreID] = s.Addr
	d.outBuf = append(d.outBuf, s.Addr)
	d.seg.onSample()
	if len(d.outBuf) >= outputBufferCapacity {
		return d.flushOutput()
	}
	return nil
}

func (d *Dispatcher) flushOutput() error {
	if len(d.outBuf) == 0 {
		return nil
	}
	if err := writeDataBatch(d.Conn, d.outBuf); err != nil {
		return err
	}
	d.outBuf = d.outBuf[:0]
	return nil
}

func (d *Dispatcher) shutdown() error {
	if err := d.flushOutput(); err != nil {
		return err
	}
	d.seg.final()
	return nil
}
