// Package reconstruct implements the per-core reconstruction state machine
// of spec.md §4.2: it consumes parsed Nexus messages and the instruction
// oracle to emit one PC per retired instruction. Its state-as-tagged-enum,
// switch-driven transition style is grounded in the teacher's ptm.Decoder
// (ProcessPacket's switch over pkt.Type): one struct per core holding
// mutable synchronization/address state, one exported entry point per
// incoming unit of input, all side effects expressed as returned elements
// rather than output parameters or polymorphic dispatch (spec.md §9).
package reconstruct

import (
	"nexusprof/internal/common"
	"nexusprof/internal/nexus"
	"nexusprof/internal/oracle"
)

// Oracle is the subset of *oracle.Oracle the state machine needs: resolve
// an address to its decoded instruction. Expressed as an interface so
// tests can substitute a fake section map without building ELF-backed
// tables.
type Oracle interface {
	Resolve(addr uint64) (*oracle.Lookup, error)
}

// Sample is one reconstructed PC, tagged with the core that executed it
// (spec.md §4.4 "64-bit big-endian PCs").
type Sample struct {
	CoreID uint32
	Addr   uint64
}

// EdgeKind classifies a control-flow edge for the analytics accumulator
// (spec.md §1: accumulating counters is that module's job, out of scope
// here; this is the hook it observes through).
type EdgeKind int

const (
	EdgeBranchTaken EdgeKind = iota
	EdgeBranchNotTaken
	EdgeCall
	EdgeReturn
	EdgeIndirect
)

func (e EdgeKind) String() string {
	switch e {
	case EdgeBranchTaken:
		return "BranchTaken"
	case EdgeBranchNotTaken:
		return "BranchNotTaken"
	case EdgeCall:
		return "Call"
	case EdgeReturn:
		return "Return"
	case EdgeIndirect:
		return "Indirect"
	default:
		return "Unknown"
	}
}

// Machine drives zero or more PerCoreState instances from a stream of
// nexus.Message values, one core at a time, per spec.md §4.2. It holds no
// buffered messages: Process consumes exactly one message per call and
// returns every PC sample retired as a consequence, including any samples
// emitted by a RepeatBranch replay within that same call.
type Machine struct {
	Oracle Oracle
	log    common.Logger

	// OnSideEffect is called for messages retired without affecting
	// CurrentAddress (AuxAccessWrite, DataAcquisition, OwnershipTrace,
	// Error, TrapInfo) and, after applyICT has set CurrentAddress, for
	// In-Circuit-Trace events (spec.md §4.2 GetNextMsg, §9 Open Question 3).
	OnSideEffect func(coreID uint32, msg *nexus.Message)

	// OnBranchEdge is called whenever a control-flow edge is classified:
	// conditional branch outcomes and the call/return heuristic of
	// spec.md §4.2 "Call/return inference". It never influences
	// CurrentAddress.
	OnBranchEdge func(coreID uint32, kind EdgeKind)

	cores map[uint32]*PerCoreState
}

func NewMachine(o Oracle, log common.Logger) *Machine {
	if log == nil {
		log = common.NewNoOpLogger()
	}
	return &Machine{Oracle: o, log: log, cores: make(map[uint32]*PerCoreState)}
}

// CoreState returns the state for coreID, creating it in GetFirstSyncMsg if
// this is the first message seen for that core (spec.md §3 Lifecycles).
func (m *Machine) CoreState(coreID uint32) *PerCoreState {
	cs, ok := m.cores[coreID]
	if !ok {
		cs = newPerCoreState(coreID)
		m.cores[coreID] = cs
	}
	return cs
}

// Process advances the reconstruction state machine for msg.CoreID by one
// message and returns every PC retired as a result. A core that has
// entered StateError returns an "already in Error state" error on every
// subsequent call for that core, without touching other cores (spec.md §7 "the core enters
// Error state and stops emitting; other cores continue").
func (m *Machine) Process(msg *nexus.Message) ([]Sample, error) {
	cs := m.CoreState(msg.CoreID)
	if cs.State == StateError {
		return nil, common.NewErrorf(common.Err, "core %d: already in Error state", msg.CoreID)
	}

	// "Timestamps are never retried; a missing timestamp field simply
	// leaves last_time unchanged" (spec.md §7).
	if msg.HaveTimestamp {
		cs.LastTime = msg.Timestamp
		cs.HaveTime = true
	}

	switch cs.State {
	case StateGetFirstSyncMsg:
		return nil, m.handleFirstSync(cs, msg)
	case StateGetSecondMsg, StateGetNextMsg:
		return m.handleAwaitingMessage(cs, msg)
	default:
		return nil, common.NewErrorf(common.Err, "core %d: Process called while mid-retirement (state %s)", msg.CoreID, cs.State)
	}
}

// handleFirstSync implements GetFirstSyncMsg (spec.md §4.2): non-WS
// messages are surfaced (logged) but do not advance state; a sync-form
// message establishes LastFAddr/CurrentAddress and moves to GetSecondMsg.
func (m *Machine) handleFirstSync(cs *PerCoreState, msg *nexus.Message) error {
	if !msg.IsSyncForm() {
		m.log.Logf(common.SeverityDebug, "core %d: ignoring %s before first sync", cs.CoreID, msg.TCode)
		return nil
	}
	cs.LastFAddr = msg.FAddr << 1
	cs.CurrentAddress = cs.LastFAddr
	cs.State = StateGetSecondMsg
	return nil
}

// handleAwaitingMessage implements GetSecondMsg and GetNextMsg, which
// share every behavior spec.md §4.2 describes except that GetSecondMsg can
// never see a RepeatBranch (no direct branch has been retired yet) —
// which resolves to the same decode error retireRepeatBranch already
// reports for that case.
func (m *Machine) handleAwaitingMessage(cs *PerCoreState, msg *nexus.Message) ([]Sample, error) {
	switch {
	case msg.IsSideEffectOnly(), msg.TCode == nexus.TCodeTrapInfo:
		if m.OnSideEffect != nil {
			m.OnSideEffect(cs.CoreID, msg)
		}
		return nil, nil

	case msg.TCode == nexus.TCodeInCircuitTrace, msg.TCode == nexus.TCodeInCircuitTraceWS:
		m.applyICT(cs, msg)
		if m.OnSideEffect != nil {
			m.OnSideEffect(cs.CoreID, msg)
		}
		return nil, nil

	case msg.TCode == nexus.TCodeRepeatBranch:
		return m.retireRepeatBranch(cs, msg)

	case eligibleForCounts(msg.TCode):
		if err := m.loadCounts(cs, msg); err != nil {
			cs.State = StateError
			return nil, err
		}
		cs.pending = msg
		// i_cnt_remaining == 0 here means either the message legally
		// supplied i_cnt=0 (spec.md §8: "immediate retirement with no PC
		// emission") or it carried no i_cnt at all, only a branch-outcome
		// counter (a count-only ResourceFull: rcode history/taken/
		// notTaken never touches i_cnt). Either way there is no
		// instruction left to retire before applying this message's
		// effect, so GetNextInstruction must be skipped entirely —
		// entering it with ICnt==0 is not "no instructions pending", it
		// is the exhausted-count error case stepInstruction reports.
		if cs.Counts.ICnt == 0 {
			cs.State = StateRetireMessage
		} else {
			cs.State = StateGetNextInstruction
		}
		return m.drain(cs)

	default:
		m.log.Logf(common.SeverityDebug, "core %d: ignoring unexpected %s in state %s", cs.CoreID, msg.TCode, cs.State)
		return nil, nil
	}
}

// eligibleForCounts reports whether msg's TCode is one of the variants
// GetSecondMsg/GetNextMsg wait for: any message that carries i_cnt and/or
// a branch-resolution counter (spec.md §4.2.1).
func eligibleForCounts(tc nexus.TCode) bool {
	switch tc {
	case nexus.TCodeDirectBranch, nexus.TCodeIndirectBranch, nexus.TCodeSync,
		nexus.TCodeDirectBranchWS, nexus.TCodeIndirectBranchWS,
		nexus.TCodeIndirectBranchHistory, nexus.TCodeIndirectBranchHistoryWS,
		nexus.TCodeResourceFull, nexus.TCodeCorrelation:
		return true
	default:
		return false
	}
}

// loadCounts applies spec.md §4.2.1's counter-loading rules for msg.
func (m *Machine) loadCounts(cs *PerCoreState, msg *nexus.Message) error {
	switch msg.TCode {
	case nexus.TCodeDirectBranch, nexus.TCodeIndirectBranch, nexus.TCodeSync,
		nexus.TCodeDirectBranchWS, nexus.TCodeIndirectBranchWS:
		cs.Counts.loadICnt(msg.ICnt)

	case nexus.TCodeIndirectBranchHistory, nexus.TCodeIndirectBranchHistoryWS:
		cs.Counts.loadICnt(msg.ICnt)
		if msg.HaveHistory {
			return cs.Counts.loadHistory(msg.History)
		}

	case nexus.TCodeCorrelation:
		cs.Counts.loadICnt(msg.ICnt)
		if msg.CDF == 1 && msg.HaveHistory {
			return cs.Counts.loadHistory(msg.History)
		}

	case nexus.TCodeResourceFull:
		switch msg.RCode {
		case nexus.ResourceICnt:
			cs.Counts.loadICnt(msg.RData)
		case nexus.ResourceHistory:
			return cs.Counts.loadHistory(msg.RData)
		case nexus.ResourceTaken:
			return cs.Counts.loadTaken(msg.RData)
		case nexus.ResourceNotTaken:
			return cs.Counts.loadNotTaken(msg.RData)
		}
	}
	return nil
}

// drain runs GetNextInstruction/RetireMessage to completion for the
// current call, stopping only when the core needs a new external message
// (GetNextMsg) or has ended the trace (GetFirstSyncMsg, via Correlation)
// or has hit a session-terminating error.
func (m *Machine) drain(cs *PerCoreState) ([]Sample, error) {
	var samples []Sample
	for {
		switch cs.State {
		case StateGetNextInstruction:
			sample, terminal, err := m.stepInstruction(cs)
			if err != nil {
				cs.State = StateError
				return samples, err
			}
			samples = append(samples, sample)
			if terminal {
				cs.State = StateRetireMessage
			}

		case StateRetireMessage:
			next, err := m.retire(cs)
			if err != nil {
				cs.State = StateError
				return samples, err
			}
			cs.State = next
			if next != StateGetNextInstruction {
				return samples, nil
			}

		default:
			return samples, nil
		}
	}
}

// stepInstruction implements one iteration of GetNextInstruction (spec.md
// §4.2): fetch and emit the current instruction, decrement the pending
// i_cnt, and either advance CurrentAddress (mid-sequence, resolving a
// conditional branch outcome per §4.2.2) or report terminal so the caller
// moves to RetireMessage.
func (m *Machine) stepInstruction(cs *PerCoreState) (sample Sample, terminal bool, err error) {
	if cs.Counts.ICnt == 0 {
		return Sample{}, false, common.NewErrorf(common.Err, "core %d: i_cnt exhausted with no count available", cs.CoreID)
	}
	lookup, err := m.Oracle.Resolve(cs.CurrentAddress)
	if err != nil {
		return Sample{}, false, err
	}
	sample = Sample{CoreID: cs.CoreID, Addr: cs.CurrentAddress}
	cs.Counts.ICnt--

	if cs.Counts.ICnt == 0 {
		// Terminal instruction of this segment: CurrentAddress stays put
		// so RetireMessage can apply the pending message's
		// address-producing effect at this instruction.
		return sample, true, nil
	}

	size := uint64(lookup.Instr.Size)
	if lookup.Instr.Class.IsConditional() {
		taken := false
		if cs.Counts.hasBranchCounts() {
			taken = cs.Counts.resolveOutcome()
		}
		if m.OnBranchEdge != nil {
			if taken {
				m.OnBranchEdge(cs.CoreID, EdgeBranchTaken)
			} else {
				m.OnBranchEdge(cs.CoreID, EdgeBranchNotTaken)
			}
		}
		if taken {
			cs.CurrentAddress = addSigned(cs.CurrentAddress, lookup.Instr.Imm)
			return sample, false, nil
		}
	}
	cs.CurrentAddress += size
	return sample, false, nil
}

// retire implements RetireMessage (spec.md §4.2): applies the pending
// message's address-producing effect and reports the next state.
func (m *Machine) retire(cs *PerCoreState) (State, error) {
	msg := cs.pending
	switch msg.TCode {
	case nexus.TCodeDirectBranch:
		return m.retireDirectBranch(cs)

	case nexus.TCodeIndirectBranch, nexus.TCodeIndirectBranchHistory:
		m.retireIndirectBranch(cs, msg)
		return StateGetNextMsg, nil

	case nexus.TCodeSync, nexus.TCodeDirectBranchWS, nexus.TCodeIndirectBranchWS, nexus.TCodeIndirectBranchHistoryWS:
		cs.LastFAddr = msg.FAddr << 1
		cs.CurrentAddress = cs.LastFAddr
		return StateGetNextMsg, nil

	case nexus.TCodeCorrelation:
		return StateGetFirstSyncMsg, nil

	case nexus.TCodeResourceFull:
		return StateGetNextMsg, nil

	default:
		return StateError, common.NewErrorf(common.Err, "RetireMessage: unexpected pending tcode %s", msg.TCode)
	}
}

// retireDirectBranch applies a DirectBranch's address effect: decode the
// instruction at CurrentAddress and apply its target immediate. A JAL or
// C.JAL whose link register is ra (x1) or x5 pushes a return-address
// hint (spec.md §4.2 "Call/return inference").
func (m *Machine) retireDirectBranch(cs *PerCoreState) (State, error) {
	branchAddr := cs.CurrentAddress
	lookup, err := m.Oracle.Resolve(branchAddr)
	if err != nil {
		return StateError, err
	}
	if !lookup.Instr.Class.IsDirectBranch() {
		return StateError, common.NewErrorf(common.Err, "direct-branch message retired at non-branch instruction %#x", branchAddr)
	}
	if lookup.Instr.Class.IsLink() && isLinkReg(lookup.Instr.Rd) {
		cs.CallStack.Push(branchAddr + uint64(lookup.Instr.Size))
		if m.OnBranchEdge != nil {
			m.OnBranchEdge(cs.CoreID, EdgeCall)
		}
	}
	cs.CurrentAddress = addSigned(branchAddr, lookup.Instr.Imm)
	cs.lastDirectBranch = &directBranchSnapshot{branchAddr: branchAddr, counts: cs.Counts}
	return StateGetNextMsg, nil
}

// retireIndirectBranch applies an IndirectBranch/IndirectBranchHistory's
// address effect (the u_addr XOR reconstruction, spec.md §3) and runs the
// return-inference heuristic against the instruction being retired.
func (m *Machine) retireIndirectBranch(cs *PerCoreState, msg *nexus.Message) {
	branchAddr := cs.CurrentAddress
	cs.LastFAddr ^= msg.UAddr << 1
	cs.CurrentAddress = cs.LastFAddr

	lookup, err := m.Oracle.Resolve(branchAddr)
	if err != nil || m.OnBranchEdge == nil {
		return
	}
	if lookup.Instr.Class.IsIndirectBranch() && isLinkReg(lookup.Instr.Rs1) && cs.CallStack.PopIfMatch(cs.CurrentAddress) {
		m.OnBranchEdge(cs.CoreID, EdgeReturn)
		return
	}
	m.OnBranchEdge(cs.CoreID, EdgeIndirect)
}

// retireRepeatBranch replays the last retired direct branch b_cnt
// additional times, reloading Counts from the snapshot taken when that
// branch was retired (spec.md §4.2). A RepeatBranch before any direct
// branch has been retired is a decode error (spec.md §9 Open Question 2).
func (m *Machine) retireRepeatBranch(cs *PerCoreState, msg *nexus.Message) ([]Sample, error) {
	if cs.lastDirectBranch == nil {
		cs.State = StateError
		return nil, common.NewError(common.BadMessage, "RepeatBranch with no preceding direct branch")
	}
	var samples []Sample
	for i := uint64(0); i < msg.BCnt; i++ {
		cs.Counts = cs.lastDirectBranch.counts
		cs.CurrentAddress = cs.lastDirectBranch.branchAddr
		if cs.Counts.ICnt == 0 {
			cs.State = StateRetireMessage
		} else {
			cs.State = StateGetNextInstruction
		}
		s, err := m.drain(cs)
		samples = append(samples, s...)
		if err != nil {
			return samples, err
		}
	}
	return samples, nil
}

// applyICT sets CurrentAddress from an InCircuitTrace/InCircuitTraceWS
// message per its cksrc (spec.md §4.2 RetireMessage): most sources supply
// the next PC directly in ckdata[0]; InferableCall with ckdf==1 computes
// it as an XOR delta against the current address, mirroring u_addr.
func (m *Machine) applyICT(cs *PerCoreState, msg *nexus.Message) {
	if msg.ICT.CKSrc == nexus.ICTInferableCall && msg.ICT.CKDF == 1 {
		cs.CurrentAddress ^= msg.ICT.Data[1] << 1
		return
	}
	cs.CurrentAddress = msg.ICT.Data[0]
}

func isLinkReg(r uint8) bool { return r == 1 || r == 5 }

func addSigned(addr uint64, imm int64) uint64 {
	return uint64(int64(addr) + imm)
}
