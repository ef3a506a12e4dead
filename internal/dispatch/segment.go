package dispatch

// segmenter implements the UI-file segmentation policy of spec.md §4.4: it
// tracks instructions accumulated since the previous report and fires
// cum_ins_cnt callbacks at natural threshold boundaries and explicit
// flush points (scenarios S4/S5, spec.md §8).
type segmenter struct {
	splitSize uint64
	nextSplit uint64
	count     uint64
	cb        func(count uint64, isEmptyFile bool)
}

func newSegmenter(splitSize uint64, cb func(count uint64, isEmptyFile bool)) *segmenter {
	return &segmenter{splitSize: splitSize, nextSplit: splitSize, cb: cb}
}

// onSample records one PC accepted into the output buffer (after
// duplicate-address suppression, SPEC_FULL.md §C.4 — a coalesced repeat
// does not advance the count).
func (s *segmenter) onSample() {
	s.count++
}

// checkOffset fires a natural-boundary report for every multiple of
// splitSize that the input offset has now reached (spec.md §4.4: "one call
// with is_empty_file=false"), resetting the count after each.
func (s *segmenter) checkOffset(offset uint64) {
	if s.splitSize == 0 {
		return
	}
	for offset >= s.nextSplit {
		if s.cb != nil {
			s.cb(s.count, false)
		}
		s.count = 0
		s.nextSplit += s.splitSize
	}
}

// flush implements add_flush_data_offset (spec.md §4.4): at a nonzero
// offset it fires two reports (count, then an empty-file marker carrying
// the same count) and reschedules the next natural boundary relative to
// the flush point; at offset zero it fires a single report and leaves the
// schedule untouched.
func (s *segmenter) flush(offset uint64) {
	if offset == 0 {
		if s.cb != nil {
			s.cb(s.count, false)
		}
		s.count = 0
		return
	}
	if s.cb != nil {
		s.cb(s.count, false)
		s.cb(s.count, true)
	}
	s.count = 0
	s.nextSplit = offset + s.splitSize
}

// final emits the terminating empty segment on natural completion or
// abort, so downstream consumers see a well-formed stream tail (spec.md
// §4.4, §5).
func (s *segmenter) final() {
	if s.cb == nil {
		return
	}
	s.cb(s.count, false)
	s.cb(s.count, true)
	s.count = 0
}
