package dtm

import (
	"bytes"
	"fmt"

	xdr "github.com/rasky/go-xdr/xdr2"
)

// NoticeOpcode tags the kind of one-way notice carried over the wire
// (§6): a notification about a single history's state, or a full
// operation descriptor being redelivered.
type NoticeOpcode uint32

const (
	OpcodePersistent NoticeOpcode = 1
	OpcodeFixed      NoticeOpcode = 2
	OpcodeReset      NoticeOpcode = 3
	OpcodeUndo       NoticeOpcode = 4
	OpcodeRedo       NoticeOpcode = 5
)

func (op NoticeOpcode) String() string {
	switch op {
	case OpcodePersistent:
		return "PERSISTENT"
	case OpcodeFixed:
		return "FIXED"
	case OpcodeReset:
		return "RESET"
	case OpcodeUndo:
		return "UNDO"
	case OpcodeRedo:
		return "REDO"
	default:
		return fmt.Sprintf("opcode(%d)", uint32(op))
	}
}

// UpdateDescr is one participant's slice of an operation descriptor
// (§6): enough to reconstruct or fill in an Up on the receiving side.
type UpdateDescr struct {
	History HistoryID
	Ver     uint64
	OrigVer uint64
	Rule    Rule
	Payload []byte
}

// isUnknown mirrors the wire-level zero-value sentinel the original
// fol_remote_onp scans for (is_unk0_descr/is_unk0_update): an unused
// slot in an operation descriptor, distinct from Up.IsUnknown's
// gap-placeholder concept.
func (d UpdateDescr) isUnknown() bool {
	return d.Ver == 0 && d.OrigVer == 0 && d.Rule == RuleINC
}

// OperationDescr is the full set of per-history participations making
// up one Op, as carried by a REDO or PERSISTENT notice (§6).
type OperationDescr struct {
	Updates []UpdateDescr
}

// Notice is a one-way, best-effort wire record describing a single
// state change on one history, optionally carrying a full operation
// descriptor when Opcode is REDO or PERSISTENT (§6). From identifies the sending
// instance, letting a listener resolve which of its own Remotes
// delivered it without relying on any connection-level session state.
type Notice struct {
	From    ID
	History HistoryID
	Ver     uint64
	Opcode  NoticeOpcode
	Op      *OperationDescr
	IsLast  bool
}

type wireHistoryID struct {
	Kind uint32
	ID   [16]byte
}

type wireUpdateDescr struct {
	History wireHistoryID
	Ver     uint64
	OrigVer uint64
	Rule    uint32
	Payload []byte
}

type wireOpDescr struct {
	Updates []wireUpdateDescr
}

type wireNotice struct {
	From    [16]byte
	History wireHistoryID
	Ver     uint64
	Opcode  uint32
	HasOp   bool
	Op      wireOpDescr
	IsLast  bool
}

func toWireHistoryID(h HistoryID) wireHistoryID {
	return wireHistoryID{Kind: uint32(h.Kind), ID: h.ID}
}

func fromWireHistoryID(w wireHistoryID) HistoryID {
	return HistoryID{Kind: HKind(w.Kind), ID: w.ID}
}

func toWireUpdateDescr(d UpdateDescr) wireUpdateDescr {
	return wireUpdateDescr{
		History: toWireHistoryID(d.History),
		Ver:     d.Ver,
		OrigVer: d.OrigVer,
		Rule:    uint32(d.Rule),
		Payload: d.Payload,
	}
}

func fromWireUpdateDescr(w wireUpdateDescr) UpdateDescr {
	return UpdateDescr{
		History: fromWireHistoryID(w.History),
		Ver:     w.Ver,
		OrigVer: w.OrigVer,
		Rule:    Rule(w.Rule),
		Payload: w.Payload,
	}
}

// PackNotice encodes n into its on-wire XDR form (§6).
func PackNotice(n *Notice) ([]byte, error) {
	w := wireNotice{
		From:    n.From,
		History: toWireHistoryID(n.History),
		Ver:     n.Ver,
		Opcode:  uint32(n.Opcode),
		IsLast:  n.IsLast,
	}
	if n.Op != nil {
		w.HasOp = true
		w.Op.Updates = make([]wireUpdateDescr, len(n.Op.Updates))
		for i, d := range n.Op.Updates {
			w.Op.Updates[i] = toWireUpdateDescr(d)
		}
	}

	var buf bytes.Buffer
	if _, err := xdr.Marshal(&buf, w); err != nil {
		return nil, newErr(ErrProto, "notice.pack", "xdr marshal failed", err)
	}
	return buf.Bytes(), nil
}

// UnpackNotice decodes an on-wire notice produced by PackNotice.
func UnpackNotice(data []byte) (*Notice, error) {
	var w wireNotice
	if _, err := xdr.Unmarshal(bytes.NewReader(data), &w); err != nil {
		return nil, newErr(ErrProto, "notice.unpack", "xdr unmarshal failed", err)
	}

	n := &Notice{
		From:    w.From,
		History: fromWireHistoryID(w.History),
		Ver:     w.Ver,
		Opcode:  NoticeOpcode(w.Opcode),
		IsLast:  w.IsLast,
	}
	if w.HasOp {
		od := &OperationDescr{Updates: make([]UpdateDescr, len(w.Op.Updates))}
		for i, wd := range w.Op.Updates {
			od.Updates[i] = fromWireUpdateDescr(wd)
		}
		n.Op = od
	}
	return n, nil
}
