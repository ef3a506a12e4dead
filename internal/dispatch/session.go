package dispatch

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// worker is the common shape of Dispatcher, SearchWorker, and
// HistogramWorker: an independently-fed goroutine with a cancelable Run.
type worker interface {
	Run(ctx context.Context) error
}

// Session runs a decode worker alongside its optional address-search and
// histogram companions (spec.md §5: "Optional address-search worker and
// optional histogram worker: each independent, each with its own byte
// deque"). errgroup.Group gives the three goroutines a shared cancellation
// context — if one returns a session-terminating error, the others are
// canceled rather than left running against a socket nobody is reading
// (spec.md §7 "session-terminating" class) — which a bare sync.WaitGroup
// does not provide.
type Session struct {
	Decode    *Dispatcher
	Search    *SearchWorker
	Histogram *HistogramWorker
}

// Run starts every configured worker and blocks until all have returned,
// propagating the first non-nil error.
func (s *Session) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, w := range s.workers() {
		w := w
		g.Go(func() error { return w.Run(gctx) })
	}
	return g.Wait()
}

func (s *Session) workers() []worker {
	var ws []worker
	if s.Decode != nil {
		ws = append(ws, s.Decode)
	}
	if s.Search != nil {
		ws = append(ws, s.Search)
	}
	if s.Histogram != nil {
		ws = append(ws, s.Histogram)
	}
	return ws
}

// Abort requests cancellation of every configured worker (spec.md §4.4
// abort()).
func (s *Session) Abort() {
	if s.Decode != nil {
		s.Decode.Abort()
	}
	if s.Search != nil {
		s.Search.Abort()
	}
	if s.Histogram != nil {
		s.Histogram.Abort()
	}
}
