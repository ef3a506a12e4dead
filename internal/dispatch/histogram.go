package dispatch

import (
	"context"
	"sync/atomic"

	"nexusprof/internal/common"
	"nexusprof/internal/nexus"
	"nexusprof/internal/reconstruct"
)

// HistogramWorker aggregates PC samples into a pc -> count map instead of
// streaming them (spec.md §1 "a second mode aggregates PC samples into a
// histogram"; §6's histogram(map, is_complete) callback; SPEC_FULL.md §C.5).
// It is, like SearchWorker, a strict subset of the decoding machinery with
// its own byte deque and Machine instance.
type HistogramWorker struct {
	Parser    *nexus.Parser
	Framer    *nexus.Framer
	Machine   *reconstruct.Machine
	Histogram func(counts map[uint64]uint64, isComplete bool)
	Log       common.Logger

	queue *byteQueue
	done  chan struct{}
	abort atomic.Bool

	counts map[uint64]uint64
	offset uint64
}

func NewHistogramWorker(parser *nexus.Parser, machine *reconstruct.Machine, cb func(map[uint64]uint64, bool), log common.Logger) *HistogramWorker {
	if log == nil {
		log = common.NewNoOpLogger()
	}
	return &HistogramWorker{
		Parser:    parser,
		Framer:    nexus.NewFramer(log),
		Machine:   machine,
		Histogram: cb,
		Log:       log,
		queue:     newByteQueue(),
		done:      make(chan struct{}),
		counts:    make(map[uint64]uint64),
	}
}

func (w *HistogramWorker) PushBytes(buf []byte) { w.queue.Push(buf) }
func (w *HistogramWorker) SetEndOfData()        { w.queue.SetEndOfData() }
func (w *HistogramWorker) Abort()               { w.abort.Store(true) }
func (w *HistogramWorker) WaitForCompletion()   { <-w.done }

func (w *HistogramWorker) Run(ctx context.Context) error {
	defer close(w.done)
	var pending []byte
	for {
		select {
		case <-ctx.Done():
			w.abort.Store(true)
		default:
		}
		if w.abort.Load() {
			w.emit(true)
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
				continue
			}
			samples, merr := w.Machine.Process(msg)
			for _, s := range samples {
				w.counts[s.Addr]++
			}
			if merr != nil {
				w.Log.Error(merr)
			}
			if w.abort.Load() {
				w.emit(true)
				return nil
			}
		}
		pending = pending[pos:]
		if eof && len(pending) == 0 {
			w.emit(true)
			return nil
		}
	}
}

func (w *HistogramWorker) emit(complete bool) {
	if w.Histogram == nil {
		return
	}
	snapshot := make(map[uint64]uint64, len(w.counts))
	for k, v := range w.counts {
		snapshot[k] = v
	}
	w.Histogram(snapshot, complete)
}
