package dtm

import (
	"bytes"
	"context"
	"sort"
	"sync"

	"go.opentelemetry.io/otel/attribute"
)

// Op is one atomic group of per-history participations (§4.3): the
// caller adds one participant per history the update touches, then
// calls Prepare once to mint/accept versions for all of them under a
// single, deadlock-free lock order.
type Op struct {
	mu sync.Mutex

	dtm          *DTM
	update       *Update
	participants []*participant
	state        State
	prepared     bool

	dtx0 *Dtx0 // set by NewDtx0 when this op backs a coordinator
}

type participant struct {
	h        *History
	up       *Up
	ver      uint64 // expectedOrigVer for owned; authoritative ver for remote
	origVer  uint64 // only meaningful when remote
	isRemote bool
}

// NewOp starts a fresh operation carrying payload as its Update's
// opaque descriptor.
func NewOp(d *DTM, payload []byte) *Op {
	op := &Op{dtm: d, state: StateFuture}
	op.update = newUpdate(op, payload)
	return op
}

// Update returns the Update all of this Op's participants share.
func (o *Op) Update() *Update { return o.update }

// AddOwned registers a participation on an OWNED history: Prepare will
// mint the next version under h's lock, failing with EVER if another
// Op raced ahead in between Add and Prepare (§4.1's tie-break).
func (o *Op) AddOwned(h *History) *Up {
	up := &Up{history: h, update: o.update, State: StateFuture}
	expected := h.HighVer()

	o.mu.Lock()
	o.participants = append(o.participants, &participant{h: h, up: up, ver: expected})
	o.update.ups = append(o.update.ups, up)
	o.mu.Unlock()
	return up
}

// AddRemote registers a participation on a non-OWNED history mirroring
// a peer's update that already carries an authoritative (ver, orig_ver)
// pair, as delivered by an incoming notice.
func (o *Op) AddRemote(h *History, ver, origVer uint64) *Up {
	up := &Up{history: h, update: o.update, State: StateFuture}

	o.mu.Lock()
	o.participants = append(o.participants, &participant{h: h, up: up, ver: ver, origVer: origVer, isRemote: true})
	o.update.ups = append(o.update.ups, up)
	o.mu.Unlock()
	return up
}

// lockOrder returns parts sorted into the fixed (kind, id) order every
// caller must acquire multi-history locks in (§5), so that two Ops
// naming an overlapping set of histories can never deadlock.
func lockOrder(parts []*participant) []*participant {
	sorted := append([]*participant(nil), parts...)
	sort.Slice(sorted, func(i, j int) bool {
		hi, hj := sorted[i].h, sorted[j].h
		if hi.kind != hj.kind {
			return hi.kind < hj.kind
		}
		return bytes.Compare(hi.id[:], hj.id[:]) < 0
	})
	return sorted
}

// Prepare commits every participant added so far: it locks all of their
// histories in ascending order, mints or accepts versions one by one,
// and unlocks in reverse order. On the first failure it stops and
// returns that error; participants already committed keep their
// assigned versions (a failed Op is expected to Undo them, see Client's
// HA-FAILED handling).
func (o *Op) Prepare() error {
	o.mu.Lock()
	parts := append([]*participant(nil), o.participants...)
	o.mu.Unlock()

	_, span := startSpan(context.Background(), "dtm.op.prepare", attribute.Int("dtm.participants", len(parts)))
	defer span.End()

	err := o.prepare(parts)
	recordSpanError(span, err)
	o.metrics().ObserveOpPrepared(prepareOutcome(err))
	return err
}

func prepareOutcome(err error) string {
	switch {
	case err == nil:
		return OutcomeOK
	case IsKind(err, ErrVer):
		return OutcomeEVer
	case IsKind(err, ErrProto):
		return OutcomeEProto
	default:
		return OutcomeEOther
	}
}

// metrics resolves the Metrics to report against: this Op's DTM if set,
// else the first participant's history's DTM (deliverRedo builds Ops
// with no DTM of their own, only participant histories that carry one).
func (o *Op) metrics() *Metrics {
	if o.dtm != nil {
		return o.dtm.metricsRef()
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.participants) > 0 && o.participants[0].h.dtm != nil {
		return o.participants[0].h.dtm.metricsRef()
	}
	return nil
}

func (o *Op) prepare(parts []*participant) error {
	ordered := lockOrder(parts)
	for _, p := range ordered {
		p.h.Lock()
	}
	defer func() {
		for i := len(ordered) - 1; i >= 0; i-- {
			ordered[i].h.Unlock()
		}
	}()

	for _, p := range ordered {
		var err error
		if p.isRemote {
			err = p.h.prepareRemoteLocked(p.up, p.ver, p.origVer)
		} else {
			err = p.h.prepareOwnedLocked(p.up, p.ver)
		}
		if err != nil {
			return err
		}
	}

	o.mu.Lock()
	o.state = StateInProgress
	o.prepared = true
	o.mu.Unlock()
	return nil
}

// State returns the Op's last-derived state.
func (o *Op) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// DeriveState recomputes the Op's overall state from its participants'
// Ups (§4.3): PERSISTENT once every OWNED participant reaches
// PERSISTENT; STABLE once every non-OWNED (remote) participant has also
// reported PERSISTENT, meaning every peer has durably recorded the
// update.
func (o *Op) DeriveState() State {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.prepared {
		return o.state
	}

	ownedDone, remoteDone, hasRemote := true, true, false
	for _, up := range o.update.ups {
		if up.history.Owned() {
			if up.State < StatePersistent {
				ownedDone = false
			}
		} else {
			hasRemote = true
			if up.State < StatePersistent {
				remoteDone = false
			}
		}
	}

	switch {
	case ownedDone && (!hasRemote || remoteDone):
		o.state = StateStable
	case ownedDone:
		o.state = StatePersistent
	default:
		o.state = StateInProgress
	}
	return o.state
}

// Close releases this Op's bookkeeping. It does not touch the
// underlying histories: their Ups outlive the Op that created them.
func (o *Op) Close() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.participants = nil
}

// referencesRemote reports whether any participant is a non-owned
// history mirroring rem, used to scope HA-triggered rollback to just the
// Ops that actually touched a failed peer (§4.5, §8 scenario 2).
func (o *Op) referencesRemote(rem *Remote) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, p := range o.participants {
		if p.isRemote && p.h.Remote() == rem {
			return true
		}
	}
	return false
}

// ownedParticipants returns the OWNED histories this op touched, each
// paired with the version this op assigned it, so a peer-failure undo
// can rewind just the owning side rather than any mirror (§4.5).
func (o *Op) ownedParticipants() map[*History]uint64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make(map[*History]uint64, len(o.participants))
	for _, p := range o.participants {
		if !p.isRemote {
			out[p.h] = p.up.Ver
		}
	}
	return out
}

// dtx0Coordinator returns the Dtx0 this op backs, if it was created
// through NewDtx0.
func (o *Op) dtx0Coordinator() *Dtx0 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.dtx0
}
