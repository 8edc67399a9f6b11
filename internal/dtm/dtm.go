package dtm

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"

	"github.com/cortx-motr/dtm/internal/logger"
)

// HistoryType names a family of histories sharing one HistoryOps table
// (§4.2), e.g. "fol" or "slot". A DTM instance registers exactly one
// HistoryType per HKind pair (owned kind, its remote mirror).
type HistoryType struct {
	Name string
	Kind HKind
	Ops  HistoryOps
}

// remoteKey identifies one peer's mirror of one history: the same
// content id can be mirrored by many peers at once (fan-out to every
// subscriber), so the peer id is part of the key.
type remoteKey struct {
	HistoryID
	Peer ID
}

// DTM is one instance's transaction-manager state: its own OWNED
// histories (FOL, SLOT) plus the catalogues of REMOTE histories it
// mirrors on behalf of peers, keyed by (history id, peer) (§4.2, §6).
type DTM struct {
	mu sync.Mutex

	id    ID
	types map[HKind]*HistoryType

	owned   map[HistoryID]*History
	remotes map[remoteKey]*History

	metrics *Metrics
}

// NewDTM allocates a DTM instance identified by id.
func NewDTM(id ID) *DTM {
	return &DTM{
		id:      id,
		types:   make(map[HKind]*HistoryType),
		owned:   make(map[HistoryID]*History),
		remotes: make(map[remoteKey]*History),
	}
}

// ID returns this instance's 128-bit identity.
func (d *DTM) ID() ID { return d.id }

// SetMetrics attaches the Prometheus instrumentation this instance
// reports Op/notice/history counters to. A nil *Metrics (the default)
// makes every observation a no-op.
func (d *DTM) SetMetrics(m *Metrics) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.metrics = m
}

func (d *DTM) metricsRef() *Metrics {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.metrics
}

// RegisterType binds a HistoryOps table to a history kind. Must be
// called once per owned kind (FOL, SLOT) before any history of that
// kind is opened.
func (d *DTM) RegisterType(ht *HistoryType) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.types[ht.Kind] = ht
	d.types[remoteKindOf(ht.Kind)] = ht
}

// OpenOwned creates or returns the OWNED history of the given kind and
// id (§4.2's history_open for a locally-minted history).
func (d *DTM) OpenOwned(kind HKind, id ID) *History {
	hid := HistoryID{Kind: kind, ID: id}

	d.mu.Lock()
	defer d.mu.Unlock()

	if h, ok := d.owned[hid]; ok {
		return h
	}
	h := newHistory(d, kind, id, FlagOwned|FlagEager, opsFor(d.types[kind]), d.types[kind])
	d.owned[hid] = h

	logger.Debug("dtm: opened owned history", logger.HistoryField(hid))
	return h
}

// OpenRemote creates or returns peer's mirror of the non-OWNED history
// of the given kind and id (§4.2, §6). rem identifies the peer this
// mirror receives notices from and sends acks through. Every mirror
// carries FlagEager: this instance runs eager-only, so Onp always
// processes a delivered REDO (fol.c's "no persistency for RFOL" bail-out
// only applies to a lazy DTM, which this package does not implement).
func (d *DTM) OpenRemote(kind HKind, id ID, rem *Remote) *History {
	hid := HistoryID{Kind: kind, ID: id}
	key := remoteKey{HistoryID: hid, Peer: rem.ID()}

	d.mu.Lock()
	defer d.mu.Unlock()

	if h, ok := d.remotes[key]; ok {
		return h
	}
	h := newHistory(d, kind, id, FlagEager, opsFor(d.types[kind]), d.types[kind])
	h.rem = rem
	d.remotes[key] = h

	logger.Debug("dtm: opened remote history", logger.HistoryField(hid), logger.Peer(rem.ID()))
	return h
}

// LookupOwned finds an OWNED history by id, or returns ErrUnknownHistory.
func (d *DTM) LookupOwned(hid HistoryID) (*History, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if h, ok := d.owned[hid]; ok {
		return h, nil
	}
	return nil, newErr(ErrProto, "dtm.lookup", "unknown owned history "+hid.String(), nil)
}

// LookupRemote finds peer's mirror of hid, or returns ErrUnknownHistory.
func (d *DTM) LookupRemote(hid HistoryID, peer ID) (*History, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if h, ok := d.remotes[remoteKey{HistoryID: hid, Peer: peer}]; ok {
		return h, nil
	}
	return nil, newErr(ErrProto, "dtm.lookup", "unknown remote history "+hid.String(), nil)
}

// Siblings returns every peer's mirror of kind that this instance
// currently maintains, for EAGER fan-out of a just-advanced owned
// history's notices (§4.1's fol_persistent sibling walk).
func (d *DTM) Siblings(kind HKind) []*History {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make([]*History, 0, len(d.remotes))
	for key, h := range d.remotes {
		if key.Kind == kind {
			out = append(out, h)
		}
	}
	return out
}

// Deliver dispatches an incoming one-way notice received from the peer
// wrapped by from (§6). Every opcode applies to from's mirror of the
// named history, never to this instance's own OWNED copy: a notice only
// ever describes the sender's history, which this side holds as an
// RFOL/RSLOT. PERSISTENT/RESET/UNDO/FIXED update that mirror's state
// directly; REDO first opens (or reuses) a mirror for every participant
// in the carried operation descriptor, fills in any unknown
// placeholders, and prepares the mirrored Op.
func (d *DTM) Deliver(from *Remote, n *Notice) error {
	_, span := startSpan(context.Background(), "dtm.deliver",
		hkAttr("dtm.history", n.History), attribute.String("dtm.opcode", n.Opcode.String()))
	defer span.End()

	err := d.deliver(from, n)

	outcome := OutcomeOK
	switch {
	case err == nil:
	case IsKind(err, ErrProto):
		outcome = OutcomeEProto
	case IsKind(err, ErrVer):
		outcome = OutcomeEVer
	default:
		outcome = OutcomeEOther
	}
	d.metricsRef().ObserveNoticeReceived(n.Opcode, outcome)
	recordSpanError(span, err)
	return err
}

func (d *DTM) deliver(from *Remote, n *Notice) error {
	switch n.Opcode {
	case OpcodePersistent:
		h := d.OpenRemote(remoteKindOf(n.History.Kind), n.History.ID, from)
		h.Persistent(n.Ver)
		if n.Op != nil && h.ops != nil {
			return h.ops.Onp(h, n.Op)
		}
		return nil
	case OpcodeReset:
		h := d.OpenRemote(remoteKindOf(n.History.Kind), n.History.ID, from)
		h.Reset(n.Ver)
		return nil
	case OpcodeUndo:
		h := d.OpenRemote(remoteKindOf(n.History.Kind), n.History.ID, from)
		h.Undo(n.Ver)
		return nil
	case OpcodeFixed:
		h := d.OpenRemote(remoteKindOf(n.History.Kind), n.History.ID, from)
		if h.ops != nil {
			return h.ops.Fixed(h)
		}
		return nil
	case OpcodeRedo:
		if n.Op == nil {
			return newErr(ErrProto, "dtm.deliver", "REDO with no operation descriptor", nil)
		}
		return d.deliverRedo(from, n.Op)
	default:
		return newErr(ErrProto, "dtm.deliver", "unknown opcode", nil)
	}
}

func (d *DTM) deliverRedo(from *Remote, od *OperationDescr) error {
	op := NewOp(nil, nil)
	touched := make([]*History, 0, len(od.Updates))

	for _, ud := range od.Updates {
		if ud.isUnknown() {
			continue
		}
		h := d.OpenRemote(remoteKindOf(ud.History.Kind), ud.History.ID, from)
		touched = append(touched, h)
		op.AddRemote(h, ud.Ver, ud.OrigVer)
	}

	if err := op.Prepare(); err != nil {
		return err
	}

	for _, h := range touched {
		if h.ops != nil {
			if err := h.ops.Onp(h, od); err != nil {
				return err
			}
		}
	}
	return nil
}

// Close tears down every history this instance tracks, discarding
// in-memory state. It does not flush or finalise persistence; callers
// holding a FOL store do that themselves before calling Close.
func (d *DTM) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.owned = make(map[HistoryID]*History)
	d.remotes = make(map[remoteKey]*History)
}

func opsFor(ht *HistoryType) HistoryOps {
	if ht == nil {
		return nil
	}
	return ht.Ops
}
