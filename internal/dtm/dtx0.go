package dtm

import (
	"sync"

	"github.com/cortx-motr/dtm/internal/logger"
)

// Dtx0State is the coordinator-visible state of a DTM0 distributed
// transaction (dtm0/dtx.h's m0_dtm0_dtx_state).
type Dtx0State int

const (
	Dtx0Init Dtx0State = iota
	Dtx0InProgress
	Dtx0Executed
	Dtx0Persistent
	Dtx0Stable
	Dtx0Done
	Dtx0Failed
)

func (s Dtx0State) String() string {
	switch s {
	case Dtx0Init:
		return "INIT"
	case Dtx0InProgress:
		return "INPROGRESS"
	case Dtx0Executed:
		return "EXECUTED"
	case Dtx0Persistent:
		return "PERSISTENT"
	case Dtx0Stable:
		return "STABLE"
	case Dtx0Done:
		return "DONE"
	case Dtx0Failed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// MaxSlots bounds the number of participants a single Dtx0 can track,
// one per replica taking part in the transaction.
const MaxSlots = 16

// slotParticipant is one replica's slot assignment within a Dtx0, built
// from the Op touching that replica's slot history.
type slotParticipant struct {
	fid  ID
	up   *Up
	done bool
}

// Dtx0Callbacks are the user-supplied hooks a Dtx0 fires on state
// transitions (dtm0/dtx.h's dtx0_init(cb_persistent, cb_stable, datum)).
// Any field may be left nil.
type Dtx0Callbacks struct {
	// Persistent fires the first time any participant reaches PERSISTENT.
	Persistent func(datum interface{})
	// Stable fires once every participant has reached PERSISTENT.
	Stable func(datum interface{})
	// Failed fires when HA declares a participant's peer dead mid-flight
	// (§7); peer identifies the first failed remote.
	Failed func(datum interface{}, peer ID)
}

// Dtx0 is a DTM0 coordinator-side transaction: a group of per-replica
// participations whose combined Op must all reach PERSISTENT before the
// transaction itself is STABLE (dtm0/dtx.h).
type Dtx0 struct {
	mu           sync.Mutex
	id           ID
	state        Dtx0State
	op           *Op
	participants []*slotParticipant
	cb           Dtx0Callbacks
	datum        interface{}
}

// NewDtx0 allocates an empty, INIT-state transaction bound to dtm,
// wiring cb as the user callbacks fired on PERSISTENT/STABLE/FAILED and
// datum as the opaque value passed back to them (m0_dtx0_alloc +
// dtx0_init).
func NewDtx0(dtm *DTM, payload []byte, cb Dtx0Callbacks, datum interface{}) *Dtx0 {
	d := &Dtx0{id: NewID(), state: Dtx0Init, op: NewOp(dtm, payload), cb: cb, datum: datum}
	d.op.dtx0 = d
	return d
}

// ID returns the transaction's identity, stable for its lifetime.
func (d *Dtx0) ID() ID { return d.id }

// Open reserves room for nr participants and moves the transaction to
// INPROGRESS (m0_dtx0_open).
func (d *Dtx0) Open(nr int) error {
	if nr <= 0 || nr > MaxSlots {
		return newErr(ErrInternal, "dtx0.open", "participant count out of range", nil)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state != Dtx0Init {
		return newErr(ErrInternal, "dtx0.open", "dtx already open", nil)
	}
	d.participants = make([]*slotParticipant, 0, nr)
	d.state = Dtx0InProgress
	return nil
}

// Assign binds participant fid's OWNED slot history to this
// transaction's Op (m0_dtx0_assign): fid names the owning replica, h is
// that replica's own slot history, whose version Close mints.
func (d *Dtx0) Assign(fid ID, h *History) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.state != Dtx0InProgress {
		return newErr(ErrInternal, "dtx0.assign", "dtx not in progress", nil)
	}
	if !h.Owned() {
		return newErr(ErrInternal, "dtx0.assign", "participant history must be owned by this instance", nil)
	}
	if len(d.participants) >= MaxSlots {
		return newErr(ErrInternal, "dtx0.assign", "too many participants", nil)
	}

	up := d.op.AddOwned(h)
	d.participants = append(d.participants, &slotParticipant{fid: fid, up: up})
	return nil
}

// Close commits every participant's version assignment and moves the
// transaction to EXECUTED once the local Op has prepared successfully
// (m0_dtx0_close).
func (d *Dtx0) Close() error {
	d.mu.Lock()
	op := d.op
	d.mu.Unlock()

	if err := op.Prepare(); err != nil {
		d.mu.Lock()
		d.state = Dtx0Failed
		d.mu.Unlock()
		return err
	}

	d.mu.Lock()
	d.state = Dtx0Executed
	d.mu.Unlock()
	return nil
}

// markDone marks every participant matched by match as done, advances
// the transaction's state accordingly, and fires cb.Persistent/cb.Stable
// outside the lock when the state changed. It is a no-op if match
// matched nothing.
func (d *Dtx0) markDone(match func(*slotParticipant) bool) {
	d.mu.Lock()
	allDone := true
	matched := false
	for _, p := range d.participants {
		if match(p) {
			p.done = true
			matched = true
		}
		if !p.done {
			allDone = false
		}
	}
	if !matched {
		d.mu.Unlock()
		return
	}

	prev := d.state
	switch {
	case allDone && len(d.participants) > 0:
		d.state = Dtx0Stable
	case d.state == Dtx0Executed:
		d.state = Dtx0Persistent
	}
	state, cb, datum := d.state, d.cb, d.datum
	d.mu.Unlock()

	if state == prev {
		return
	}
	switch state {
	case Dtx0Persistent:
		logger.Debug("dtm: dtx0 persistent", logger.DtxID(d.id))
		if cb.Persistent != nil {
			cb.Persistent(datum)
		}
	case Dtx0Stable:
		logger.Debug("dtm: dtx0 stable", logger.DtxID(d.id))
		if cb.Stable != nil {
			cb.Stable(datum)
		}
	}
}

// OnParticipantPersistent records that fid's slot reached PERSISTENT,
// advancing the transaction to PERSISTENT on the first report and to
// STABLE once every participant has reported.
func (d *Dtx0) OnParticipantPersistent(fid ID) {
	d.markDone(func(p *slotParticipant) bool { return p.fid == fid })
}

// onUpPersistent is the History.Persistent promotion hook's entry point
// (§4.3's piggy-backing): it records the participant whose Up ptr was
// just promoted to PERSISTENT without requiring the caller to know that
// participant's fid.
func (d *Dtx0) onUpPersistent(up *Up) {
	d.markDone(func(p *slotParticipant) bool { return p.up == up })
}

// State returns the transaction's current state.
func (d *Dtx0) State() Dtx0State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Fail marks the transaction FAILED and fires cb.Failed with the first
// peer observed dead, once; repeated calls after the first are no-ops
// (§7: Dtx0 surfaces FAILED through its callback).
func (d *Dtx0) Fail(peer ID) {
	d.mu.Lock()
	already := d.state == Dtx0Failed
	d.state = Dtx0Failed
	cb, datum := d.cb, d.datum
	d.mu.Unlock()

	if already {
		return
	}
	logger.Warn("dtm: dtx0 failed", logger.DtxID(d.id), logger.Peer(peer))
	if cb.Failed != nil {
		cb.Failed(datum, peer)
	}
}

// Snapshot returns the transaction's current descriptor: one
// UpdateDescr per participant, suitable for wiring into a REDO notice
// (m0_dtx0_copy_txd, supplemented as a plain accessor rather than an
// in/out parameter).
func (d *Dtx0) Snapshot() *OperationDescr {
	d.mu.Lock()
	defer d.mu.Unlock()

	od := &OperationDescr{Updates: make([]UpdateDescr, 0, len(d.participants))}
	for _, p := range d.participants {
		if p.up == nil {
			continue
		}
		od.Updates = append(od.Updates, UpdateDescr{
			History: p.up.History().HistoryID(),
			Ver:     p.up.Ver,
			OrigVer: p.up.OrigVer,
			Rule:    p.up.Rule,
			Payload: d.op.Update().Payload,
		})
	}
	return od
}
