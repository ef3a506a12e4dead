package dispatch

import (
	"context"
	"sync"
	"sync/atomic"

	"nexusprof/internal/common"
	"nexusprof/internal/nexus"
	"nexusprof/internal/reconstruct"
)

// SearchWorker is the address-search companion thread of spec.md §4.4: it
// consumes its own independently-pushed byte stream and reports the first
// reconstructed PC falling in [AddrStart, AddrEnd), starting from
// (StartUIIdx, StartUIPos) and stopping at (StopUIIdx, StopUIPos). It
// shares no mutable state with a Dispatcher's emitting worker — even when
// both read bytes describing the same underlying trace, each owns its own
// Parser, Machine, and byteQueue.
type SearchWorker struct {
	Parser    *nexus.Parser
	Framer    *nexus.Framer
	Machine   *reconstruct.Machine
	AddrStart uint64
	AddrEnd   uint64 // exclusive

	StartUIIdx int
	StartUIPos int
	StopUIIdx  int
	StopUIPos  int

	Log common.Logger

	queue *byteQueue
	done  chan struct{}
	abort atomic.Bool

	mu      sync.Mutex
	found   bool
	foundUI int
	foundAt int

	offset  uint64
	uiIdx   int
	insSeen int
}

func NewSearchWorker(parser *nexus.Parser, machine *reconstruct.Machine, addrStart, addrEnd uint64, log common.Logger) *SearchWorker {
	if log == nil {
		log = common.NewNoOpLogger()
	}
	return &SearchWorker{
		Parser:    parser,
		Framer:    nexus.NewFramer(log),
		Machine:   machine,
		AddrStart: addrStart,
		AddrEnd:   addrEnd,
		Log:       log,
		queue:     newByteQueue(),
		done:      make(chan struct{}),
	}
}

func (w *SearchWorker) PushBytes(buf []byte) { w.queue.Push(buf) }
func (w *SearchWorker) SetEndOfData()        { w.queue.SetEndOfData() }
func (w *SearchWorker) Abort()               { w.abort.Store(true) }
func (w *SearchWorker) WaitForCompletion()   { <-w.done }

// Result reports whether a matching PC was found, and if so at which
// (ui_idx, ins_pos) it occurred (spec.md §4.4).
func (w *SearchWorker) Result() (found bool, uiIdx int, insPos int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.found, w.foundUI, w.foundAt
}

func (w *SearchWorker) Run(ctx context.Context) error {
	defer close(w.done)
	var pending []byte
	for {
		select {
		case <-ctx.Done():
			w.abort.Store(true)
		default:
		}
		if w.abort.Load() {
			return nil
		}

		chunk, eof := w.queue.Drain()
		pending = append(pending, chunk...)

		pos := 0
		for {
			msgBytes, ok := w.Framer.Next(pending, &pos)
			if !ok {
				break
			}
			off := w.offset
			w.offset += uint64(len(msgBytes))
			msg, err := w.Parser.Parse(msgBytes, off, 0)
			if err != nil {
				continue // per-message recoverable (spec.md §7); this worker only ever reports a position, diagnostics are not its concern
			}
			samples, _ := w.Machine.Process(msg)
			for _, s := range samples {
				if w.uiIdx < w.StartUIIdx || (w.uiIdx == w.StartUIIdx && w.insSeen < w.StartUIPos) {
					w.advance()
					continue
				}
				if w.stopped() {
					return nil
				}
				if s.Addr >= w.AddrStart && s.Addr < w.AddrEnd {
					w.mu.Lock()
					w.found = true
					w.foundUI = w.uiIdx
					w.foundAt = w.insSeen
					w.mu.Unlock()
					return nil
				}
				w.advance()
			}
			if w.abort.Load() {
				return nil
			}
		}
		pending = pending[pos:]
		if eof && len(pending) == 0 {
			return nil
		}
	}
}

// advance steps the (ui_idx, ins_pos) cursor by one instruction. Only
// ins_pos moves: this worker does not split its input into UI files, so
// uiIdx stays 0 for the whole stream and ins_pos counts instructions from
// the start of the stream. A StartUIIdx above 0 therefore matches no
// sample, a StopUIIdx above 0 never stops the search, and Result always
// reports ui_idx 0.
func (w *SearchWorker) advance() {
	w.insSeen++
}

func (w *SearchWorker) stopped() bool {
	return w.uiIdx > w.StopUIIdx || (w.uiIdx == w.StopUIIdx && w.insSeen >= w.StopUIPos && w.StopUIPos != 0)
}
