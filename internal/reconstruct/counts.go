// Package reconstruct implements the per-core reconstruction state machine
// of spec.md §4.2: it consumes parsed Nexus messages and the instruction
// oracle to emit one PC per retired instruction.
package reconstruct

import "nexusprof/internal/common"

// Counts holds the pending decode credits consumed by subsequent
// instructions (spec.md §3 "Counts", §4.2.1, §4.2.2). At most one of
// History/TakenCount/NotTakenCount is live at a time; priority when
// resolving a conditional branch outcome is history > taken > notTaken >
// i_cnt-only (fall-through assumed, corrected later by the next branch
// message).
type Counts struct {
	ICnt uint64

	History      uint64
	HistoryWidth int // total bit width remaining, including the stop bit
	HaveHistory  bool

	TakenCount    uint64
	NotTakenCount uint64
}

// hasBranchCounts reports whether a non-i_cnt-only resolution source is
// loaded.
func (c *Counts) hasBranchCounts() bool {
	return c.HaveHistory || c.TakenCount > 0 || c.NotTakenCount > 0
}

// loadHistory sets the history bit-vector, rejecting an attempt to load a
// second counter kind while one is already live (spec.md §4.2.1).
func (c *Counts) loadHistory(bits uint64) error {
	if c.TakenCount > 0 || c.NotTakenCount > 0 {
		return common.NewError(common.BadMessage, "history loaded while taken/not-taken already live")
	}
	width := highestSetBit(bits) + 1
	if width < 1 {
		width = 1
	}
	c.History = bits
	c.HistoryWidth = width
	c.HaveHistory = width > 1
	return nil
}

// loadICnt adds to the pending instruction-retirement countdown (spec.md
// §4.2.1: "i_cnt_remaining += message.i_cnt"). Unlike history/taken/
// notTaken, i_cnt always accumulates and never conflicts with the other
// counters.
func (c *Counts) loadICnt(n uint64) {
	c.ICnt += n
}

func (c *Counts) loadTaken(n uint64) error {
	if c.HaveHistory || c.NotTakenCount > 0 {
		return common.NewError(common.BadMessage, "taken_count loaded while another counter already live")
	}
	c.TakenCount = n
	return nil
}

func (c *Counts) loadNotTaken(n uint64) error {
	if c.HaveHistory || c.TakenCount > 0 {
		return common.NewError(common.BadMessage, "not_taken_count loaded while another counter already live")
	}
	c.NotTakenCount = n
	return nil
}

// resolveOutcome consumes one unit from the highest-priority live counter
// and reports whether the branch was taken (spec.md §4.2.2). It must only
// be called when hasBranchCounts() is true.
func (c *Counts) resolveOutcome() bool {
	switch {
	case c.HaveHistory:
		// The next outcome is the bit just below the current stop bit
		// (at position HistoryWidth-2); consuming it shrinks the vector
		// by one, moving the (implicit) stop bit down.
		bitPos := c.HistoryWidth - 2
		taken := (c.History>>uint(bitPos))&1 == 1
		c.HistoryWidth--
		if c.HistoryWidth <= 1 {
			c.HaveHistory = false
		}
		return taken
	case c.TakenCount > 0:
		c.TakenCount--
		return true
	case c.NotTakenCount > 0:
		c.NotTakenCount--
		return false
	default:
		return false
	}
}

// highestSetBit returns the index of the most significant set bit of v, or
// -1 if v is zero.
func highestSetBit(v uint64) int {
	if v == 0 {
		return -1
	}
	idx := -1
	for v != 0 {
		idx++
		v >>= 1
	}
	return idx
}
