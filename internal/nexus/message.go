package nexus

import "fmt"

// ICTData holds the cksrc-specific payload words of an in-circuit-trace
// message (spec.md §3: "ckdata[0..1]").
type ICTData struct {
	CKSrc ICTSource
	CKDF  int
	Data  [2]uint64
}

// Message is a tagged record for one decoded Nexus message: single struct,
// TCode discriminator, only the fields relevant to that TCode populated.
// Following spec.md §9's replace-inheritance-with-tagged-sum guidance, no
// polymorphism or per-TCode struct hierarchy is used; the state machine
// switches on TCode the same way the teacher's ptm.Packet switches on its
// Type field.
type Message struct {
	TCode  TCode
	CoreID uint32
	Offset uint64 // byte position in stream, for diagnostics and UI segmentation
	Raw    []byte // raw framed bytes, diagnostics only

	HaveTimestamp bool
	Timestamp     uint64 // reconstructed via running XOR against the previous message's timestamp

	ICnt     uint64
	HaveICnt bool

	UAddr     uint64
	HaveUAddr bool
	FAddr     uint64
	HaveFAddr bool

	BType     BType
	HaveBType bool

	SyncReason int

	History     uint64 // bit-vector, MSB stop bit not yet consumed
	HaveHistory bool

	RCode ResourceCode
	RData uint64

	CDF    int // correlation display flag
	EVCode int

	BCnt uint64 // repeat-branch count

	ICT ICTData

	EType int // Error message's error-type field

	Process uint64 // ownership-trace process tag

	AuxAddr uint64
	AuxData uint64

	DAIDTag uint64
	DAData  uint64

	TrapValue uint64
}

func (m *Message) String() string {
	return fmt.Sprintf("%s core=%d off=%d icnt=%d ts=%d", m.TCode, m.CoreID, m.Offset, m.ICnt, m.Timestamp)
}

// CarriesICnt reports whether this message's variant loads i_cnt per
// spec.md §4.2.1.
func (m *Message) CarriesICnt() bool {
	return m.HaveICnt
}

// IsSyncForm reports whether the message establishes current_address from a
// full address (Sync, *WS variants) rather than an XOR delta.
func (m *Message) IsSyncForm() bool {
	switch m.TCode {
	case TCodeSync, TCodeDirectBranchWS, TCodeIndirectBranchWS, TCodeIndirectBranchHistoryWS, TCodeInCircuitTraceWS:
		return true
	default:
		return false
	}
}

// IsSideEffectOnly reports the "side effect" messages of spec.md §4.2's
// GetNextMsg state: retired inline, current_address unchanged.
func (m *Message) IsSideEffectOnly() bool {
	switch m.TCode {
	case TCodeAuxAccessWrite, TCodeDataAcquisition, TCodeOwnershipTrace, TCodeError:
		return true
	default:
		return false
	}
}
