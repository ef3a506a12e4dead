package reconstruct

import "nexusprof/internal/nexus"

// State is one of the per-core states of spec.md §4.2. GetStartTraceMsg is
// part of the grammar (skip-to-message-number sessions) but this module
// never starts a session that way, so it is declared for completeness and
// never entered.
type State int

const (
	StateGetFirstSyncMsg State = iota
	StateGetSecondMsg
	StateGetStartTraceMsg
	StateGetNextMsg
	StateGetNextInstruction
	StateRetireMessage
	StateDone
	StateError
)

func (s State) String() string {
	switch s {
	case StateGetFirstSyncMsg:
		return "GetFirstSyncMsg"
	case StateGetSecondMsg:
		return "GetSecondMsg"
	case StateGetStartTraceMsg:
		return "GetStartTraceMsg"
	case StateGetNextMsg:
		return "GetNextMsg"
	case StateGetNextInstruction:
		return "GetNextInstruction"
	case StateRetireMessage:
		return "RetireMessage"
	case StateDone:
		return "Done"
	case StateError:
		return "Error"
	default:
		return "Unknown"
	}
}

// directBranchSnapshot is what RepeatBranch replays: the address of the
// direct-branch instruction itself and the Counts as they stood
// immediately after that branch's message loaded them (spec.md §4.2,
// "counters reloaded from the snapshot taken when the preceding
// direct-branch was retired").
type directBranchSnapshot struct {
	branchAddr uint64
	counts     Counts
}

// PerCoreState is the reconstruction context for one core (spec.md §3). It
// is created on the first message seen for that core (its addresses are
// set by that core's first sync message) and mutated only by the Machine
// on that core's behalf; nothing here is shared across cores.
type PerCoreState struct {
	CoreID uint32
	State  State

	CurrentAddress uint64
	LastFAddr      uint64
	LastTime       uint64
	HaveTime       bool

	Counts Counts

	CallStack CallStack

	// pending is the message currently being retired: the one that
	// supplied the live Counts and whose address-producing effect
	// RetireMessage applies once Counts.ICnt reaches zero.
	pending *nexus.Message

	// lastDirectBranch is nil until the first direct branch is retired; a
	// RepeatBranch before that point is a decode error (spec.md §9 Open
	// Question 2).
	lastDirectBranch *directBranchSnapshot
}

func newPerCoreState(coreID uint32) *PerCoreState {
	return &PerCoreState{CoreID: coreID, State: StateGetFirstSyncMsg}
}
