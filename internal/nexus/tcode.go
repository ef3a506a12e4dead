// Package nexus implements the bit-level Nexus 5001 message parser: MSEO
// byte framing, fixed/variable field primitives, and the per-TCode grammar
// table from spec.md §4.1.
package nexus

// TCode discriminates a Nexus message. Values follow the IEEE-ISTO 5001
// assignment used throughout the original DQR decoder this package's
// grammar was distilled from.
type TCode int

const (
	TCodeDirectBranch            TCode = 3
	TCodeIndirectBranch          TCode = 4
	TCodeDataAcquisition         TCode = 5
	TCodeOwnershipTrace          TCode = 6
	TCodeError                   TCode = 7
	TCodeSync                    TCode = 9
	TCodeDirectBranchWS          TCode = 11
	TCodeIndirectBranchWS        TCode = 12
	TCodeTrapInfo                TCode = 14
	TCodeAuxAccessWrite          TCode = 15
	TCodeIndirectBranchHistory   TCode = 28
	TCodeIndirectBranchHistoryWS TCode = 29
	TCodeRepeatBranch            TCode = 30
	TCodeResourceFull            TCode = 27
	TCodeCorrelation             TCode = 33
	TCodeInCircuitTrace          TCode = 25
	TCodeInCircuitTraceWS        TCode = 26
)

func (t TCode) String() string {
	switch t {
	case TCodeDirectBranch:
		return "DirectBranch"
	case TCodeIndirectBranch:
		return "IndirectBranch"
	case TCodeDataAcquisition:
		return "DataAcquisition"
	case TCodeOwnershipTrace:
		return "OwnershipTrace"
	case TCodeError:
		return "Error"
	case TCodeSync:
		return "Sync"
	case TCodeDirectBranchWS:
		return "DirectBranchWS"
	case TCodeIndirectBranchWS:
		return "IndirectBranchWS"
	case TCodeTrapInfo:
		return "TrapInfo"
	case TCodeAuxAccessWrite:
		return "AuxAccessWrite"
	case TCodeIndirectBranchHistory:
		return "IndirectBranchHistory"
	case TCodeIndirectBranchHistoryWS:
		return "IndirectBranchHistoryWS"
	case TCodeRepeatBranch:
		return "RepeatBranch"
	case TCodeResourceFull:
		return "ResourceFull"
	case TCodeCorrelation:
		return "Correlation"
	case TCodeInCircuitTrace:
		return "InCircuitTrace"
	case TCodeInCircuitTraceWS:
		return "InCircuitTraceWS"
	default:
		return "Reserved"
	}
}

// known reports whether t has a grammar entry in the per-TCode table.
// Unrecognized TCodes are a recoverable per-message decode error
// (spec.md §3, §7): "Unknown TCodes are a fatal decode error for that
// message only."
func (t TCode) known() bool {
	switch t {
	case TCodeDirectBranch, TCodeIndirectBranch, TCodeDataAcquisition,
		TCodeOwnershipTrace, TCodeError, TCodeSync, TCodeDirectBranchWS,
		TCodeIndirectBranchWS, TCodeTrapInfo, TCodeAuxAccessWrite,
		TCodeIndirectBranchHistory, TCodeIndirectBranchHistoryWS,
		TCodeRepeatBranch, TCodeResourceFull, TCodeCorrelation,
		TCodeInCircuitTrace, TCodeInCircuitTraceWS:
		return true
	default:
		return false
	}
}

// ICTSource enumerates the cksrc field of an InCircuitTrace message.
type ICTSource int

const (
	ICTExtTrig ICTSource = iota
	ICTWatchpoint
	ICTInferableCall
	ICTException
	ICTInterrupt
	ICTContext
	ICTPCSample
	ICTControl
)

// ResourceCode enumerates the rcode field of a ResourceFull message.
type ResourceCode int

const (
	ResourceICnt      ResourceCode = 0
	ResourceHistory   ResourceCode = 1
	ResourceNotTaken  ResourceCode = 8
	ResourceTaken     ResourceCode = 9
)

// BType classifies an indirect branch.
type BType int

const (
	BTypeIndirect BType = iota
	BTypeException
	BTypeHardware
	BTypeReserved
)
