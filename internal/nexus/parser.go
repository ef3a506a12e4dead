package nexus

import "nexusprof/internal/common"

// Parser decodes framed Nexus messages into Message values per the
// per-TCode grammar table in spec.md §4.1. It holds no per-core state; the
// reconstruction state machine (package reconstruct) owns that.
type Parser struct {
	// SrcBits is the width of the core_id field present immediately after
	// TCode when src_field_size_bits > 0 (spec.md §6).
	SrcBits int
	log     common.Logger
}

func NewParser(srcBits int, log common.Logger) *Parser {
	if log == nil {
		log = common.NewNoOpLogger()
	}
	return &Parser{SrcBits: srcBits, log: log}
}

// Parse decodes one already-framed message (as produced by Framer.Next).
// prevTimestamp is the running per-core timestamp used to reconstruct this
// message's timestamp via XOR-delta (spec.md §3). On a recoverable error
// (common.UnknownTCode, common.EndOfMessage, common.BadMessage) the caller
// should drop the message and continue with the next one (spec.md §4.1
// "Error conditions").
func (p *Parser) Parse(raw []byte, offset uint64, prevTimestamp uint64) (*Message, error) {
	fr := newFieldReader(raw)

	tcodeVal, err := fr.fixed(6)
	if err != nil {
		return nil, err
	}
	tc := TCode(tcodeVal)
	if !tc.known() {
		return nil, common.NewErrorf(common.UnknownTCode, "tcode %d", tcodeVal)
	}

	var coreID uint64
	if p.SrcBits > 0 {
		coreID, err = fr.fixed(p.SrcBits)
		if err != nil {
			return nil, err
		}
	}

	msg := &Message{TCode: tc, CoreID: uint32(coreID), Offset: offset, Raw: raw}

	if err := p.parseBody(fr, msg); err != nil {
		return nil, err
	}

	if !atMessageEnd(fr) {
		val, _, terr := fr.varField()
		if terr != nil {
			return nil, terr
		}
		msg.Timestamp = prevTimestamp ^ val
		msg.HaveTimestamp = true
	}

	if !atMessageEnd(fr) {
		return nil, common.NewError(common.BadMessage, "trailing bits after timestamp")
	}

	return msg, nil
}

func atMessageEnd(fr *fieldReader) bool {
	return fr.messageEnd()
}

func (p *Parser) parseBody(fr *fieldReader, msg *Message) error {
	switch msg.TCode {
	case TCodeDirectBranch:
		return readICnt(fr, msg)

	case TCodeIndirectBranch:
		if err := readBType(fr, msg); err != nil {
			return err
		}
		if err := readICnt(fr, msg); err != nil {
			return err
		}
		return readUAddr(fr, msg)

	case TCodeSync:
		if err := readReason(fr, msg); err != nil {
			return err
		}
		if err := readICnt(fr, msg); err != nil {
			return err
		}
		return readFAddr(fr, msg)

	case TCodeDirectBranchWS:
		if err := readReason(fr, msg); err != nil {
			return err
		}
		if err := readICnt(fr, msg); err != nil {
			return err
		}
		return readFAddr(fr, msg)

	case TCodeIndirectBranchWS:
		if err := readReason(fr, msg); err != nil {
			return err
		}
		if err := readBType(fr, msg); err != nil {
			return err
		}
		if err := readICnt(fr, msg); err != nil {
			return err
		}
		return readFAddr(fr, msg)

	case TCodeIndirectBranchHistory:
		if err := readBType(fr, msg); err != nil {
			return err
		}
		if err := readICnt(fr, msg); err != nil {
			return err
		}
		if err := readUAddr(fr, msg); err != nil {
			return err
		}
		return readHistory(fr, msg)

	case TCodeIndirectBranchHistoryWS:
		if err := readReason(fr, msg); err != nil {
			return err
		}
		if err := readBType(fr, msg); err != nil {
			return err
		}
		if err := readICnt(fr, msg); err != nil {
			return err
		}
		if err := readFAddr(fr, msg); err != nil {
			return err
		}
		return readHistory(fr, msg)

	case TCodeResourceFull:
		rcode, err := fr.fixed(4)
		if err != nil {
			return err
		}
		msg.RCode = ResourceCode(rcode)
		rdata, _, err := fr.varField()
		if err != nil {
			return err
		}
		msg.RData = rdata
		switch msg.RCode {
		case ResourceICnt:
			msg.ICnt = rdata
			msg.HaveICnt = true
		case ResourceHistory:
			msg.History = rdata
			msg.HaveHistory = true
		}
		return nil

	case TCodeCorrelation:
		evcode, err := fr.fixed(4)
		if err != nil {
			return err
		}
		msg.EVCode = int(evcode)
		cdf, err := fr.fixed(2)
		if err != nil {
			return err
		}
		msg.CDF = int(cdf)
		if err := readICnt(fr, msg); err != nil {
			return err
		}
		if msg.CDF == 1 {
			return readHistory(fr, msg)
		}
		return nil

	case TCodeRepeatBranch:
		bcnt, _, err := fr.varField()
		if err != nil {
			return err
		}
		msg.BCnt = bcnt
		return nil

	case TCodeInCircuitTrace, TCodeInCircuitTraceWS:
		cksrc, err := fr.fixed(4)
		if err != nil {
			return err
		}
		ckdf, err := fr.fixed(2)
		if err != nil {
			return err
		}
		msg.ICT.CKSrc = ICTSource(cksrc)
		msg.ICT.CKDF = int(ckdf)
		for i := 0; i <= int(ckdf) && i < 2; i++ {
			v, _, err := fr.varField()
			if err != nil {
				return err
			}
			msg.ICT.Data[i] = v
		}
		return nil

	case TCodeDataAcquisition:
		tag, _, err := fr.varField()
		if err != nil {
			return err
		}
		msg.DAIDTag = tag
		data, _, err := fr.varField()
		if err != nil {
			return err
		}
		msg.DAData = data
		return nil

	case TCodeAuxAccessWrite:
		addr, _, err := fr.varField()
		if err != nil {
			return err
		}
		msg.AuxAddr = addr
		data, _, err := fr.varField()
		if err != nil {
			return err
		}
		msg.AuxData = data
		return nil

	case TCodeOwnershipTrace:
		proc, _, err := fr.varField()
		if err != nil {
			return err
		}
		msg.Process = proc
		return nil

	case TCodeError:
		etype, err := fr.fixed(4)
		if err != nil {
			return err
		}
		msg.EType = int(etype)
		_, _, err = fr.varField() // pad
		return err

	case TCodeTrapInfo:
		if _, err := fr.fixed(2); err != nil { // reserved
			return err
		}
		v, _, err := fr.varField()
		if err != nil {
			return err
		}
		msg.TrapValue = v
		return nil

	default:
		return common.NewErrorf(common.UnknownTCode, "tcode %d has no grammar entry", msg.TCode)
	}
}

func readICnt(fr *fieldReader, msg *Message) error {
	v, _, err := fr.varField()
	if err != nil {
		return err
	}
	msg.ICnt = v
	msg.HaveICnt = true
	return nil
}

func readUAddr(fr *fieldReader, msg *Message) error {
	v, _, err := fr.varField()
	if err != nil {
		return err
	}
	msg.UAddr = v
	msg.HaveUAddr = true
	return nil
}

func readFAddr(fr *fieldReader, msg *Message) error {
	v, _, err := fr.varField()
	if err != nil {
		return err
	}
	msg.FAddr = v
	msg.HaveFAddr = true
	return nil
}

func readHistory(fr *fieldReader, msg *Message) error {
	v, _, err := fr.varField()
	if err != nil {
		return err
	}
	msg.History = v
	msg.HaveHistory = true
	return nil
}

func readBType(fr *fieldReader, msg *Message) error {
	v, err := fr.fixed(2)
	if err != nil {
		return err
	}
	msg.BType = BType(v)
	msg.HaveBType = true
	return nil
}

func readReason(fr *fieldReader, msg *Message) error {
	v, err := fr.fixed(4)
	if err != nil {
		return err
	}
	msg.SyncReason = int(v)
	return nil
}
