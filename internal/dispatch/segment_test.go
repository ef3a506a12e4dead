package dispatch

import "testing"

type segCall struct {
	count      uint64
	isEmptyFile bool
}

// TestSegmenterNaturalBoundary is spec.md §8 S4: after emitting 1234 PCs
// crossing the 8192-byte threshold, expect exactly one
// cum_ins_cnt(1234, false) and an internal reset.
func TestSegmenterNaturalBoundary(t *testing.T) {
	var calls []segCall
	s := newSegmenter(8192, func(c uint64, empty bool) {
		calls = append(calls, segCall{c, empty})
	})
	for i := 0; i < 1234; i++ {
		s.onSample()
	}
	s.checkOffset(8200)
	if len(calls) != 1 {
		t.Fatalf("got %d calls, want 1: %+v", len(calls), calls)
	}
	if calls[0].count != 1234 || calls[0].isEmptyFile {
		t.Fatalf("got %+v, want {1234 false}", calls[0])
	}
	if s.count != 0 {
		t.Fatalf("expected count reset, got %d", s.count)
	}
}

// TestSegmenterExplicitFlushNonZero is spec.md §8 S5: add_flush_data_offset(4096)
// at emission count 600 fires two calls, then the next natural boundary is
// 4096+8192=12288.
func TestSegmenterExplicitFlushNonZero(t *testing.T) {
	var calls []segCall
	s := newSegmenter(8192, func(c uint64, empty bool) {
		calls = append(calls, segCall{c, empty})
	})
	for i := 0; i < 600; i++ {
		s.onSample()
	}
	s.flush(4096)
	if len(calls) != 2 {
		t.Fatalf("got %d calls, want 2: %+v", len(calls), calls)
	}
	if calls[0] != (segCall{600, false}) || calls[1] != (segCall{600, true}) {
		t.Fatalf("got %+v, want [{600 false} {600 true}]", calls)
	}
	if s.nextSplit != 12288 {
		t.Fatalf("got nextSplit=%d, want 12288", s.nextSplit)
	}
}

// TestSegmenterExplicitFlushZero covers spec.md §4.4: "on an explicit
// flush at offset == 0: a single call with is_empty_file=false."
func TestSegmenterExplicitFlushZero(t *testing.T) {
	var calls []segCall
	s := newSegmenter(8192, func(c uint64, empty bool) {
		calls = append(calls, segCall{c, empty})
	})
	for i := 0; i < 10; i++ {
		s.onSample()
	}
	s.flush(0)
	if len(calls) != 1 || calls[0] != (segCall{10, false}) {
		t.Fatalf("got %+v, want [{10 false}]", calls)
	}
}

// TestSegmenterFinal covers the natural-completion terminating flush.
func TestSegmenterFinal(t *testing.T) {
	var calls []segCall
	s := newSegmenter(8192, func(c uint64, empty bool) {
		calls = append(calls, segCall{c, empty})
	})
	s.onSample()
	s.final()
	if len(calls) != 2 || calls[0].isEmptyFile || !calls[1].isEmptyFile {
		t.Fatalf("got %+v", calls)
	}
}
