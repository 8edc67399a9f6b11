package dtm

import (
	"sort"
	"sync"

	"github.com/cortx-motr/dtm/internal/logger"
)

// HistoryOps is the per-kind function table a history type registers
// (§4.2): find/id is handled by DTM.OpenOwned/OpenRemote and
// History.HistoryID, the rest is the duck-typed dispatch surface every
// kind implements.
type HistoryOps interface {
	// Persistent is invoked when persistent_cursor advances.
	Persistent(h *History)
	// Fixed is invoked when the history is sealed; slots implement this
	// as an EINTERNAL impossibility check (§9).
	Fixed(h *History) error
	// Update is the per-update user hook.
	Update(h *History, u *Up)
	// Onp handles receipt of a persistent-notice operation descriptor.
	Onp(h *History, descr *OperationDescr) error
	// IsStable is the stability predicate for one update; Stable is the
	// history-wide counterpart, called by History.Persistent once a
	// promoted Up's Op derives STABLE. Nothing in this package calls
	// IsStable.
	IsStable(h *History, u *Up) bool
	Stable(h *History)
}

// History is a named, versioned, totally-ordered sequence of updates
// (§3). A history is the smallest unit of synchronisation: callers
// serialise access to it with Lock/Unlock.
type History struct {
	mu sync.Mutex

	kind  HKind
	id    ID
	flags Flags
	rem   *Remote // set for RFOL/RSLOT only

	dtm   *DTM
	ops   HistoryOps
	htype *HistoryType

	highVer          uint64
	persistentCursor uint64
	ups              []*Up
}

func newHistory(d *DTM, kind HKind, id ID, flags Flags, ops HistoryOps, ht *HistoryType) *History {
	return &History{
		kind:  kind,
		id:    id,
		flags: flags,
		dtm:   d,
		ops:   ops,
		htype: ht,
	}
}

// HistoryID returns this history's globally addressable name.
func (h *History) HistoryID() HistoryID { return HistoryID{Kind: h.kind, ID: h.id} }

// Kind returns the history's tagged discriminant.
func (h *History) Kind() HKind { return h.kind }

// Owned reports whether this history mints its own versions.
func (h *History) Owned() bool { return h.flags.Has(FlagOwned) }

// Eager reports whether PERSISTENT fans out to siblings on this history.
func (h *History) Eager() bool { return h.flags.Has(FlagEager) }

// Remote returns the remote this history mirrors, or nil for OWNED
// histories.
func (h *History) Remote() *Remote { return h.rem }

// HighVer returns the largest version yet assigned.
func (h *History) HighVer() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.highVer
}

// PersistentCursor returns the largest version known to be durable.
func (h *History) PersistentCursor() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.persistentCursor
}

// Lock and Unlock implement the per-history synchronisation unit of
// §5: callers touching N histories must acquire them in ascending
// (kind, id) order (see lockOrder in operation.go).
func (h *History) Lock()   { h.mu.Lock() }
func (h *History) Unlock() { h.mu.Unlock() }

// find locates the Up at the given version, or nil. Caller holds the
// history lock.
func (h *History) find(ver uint64) *Up {
	i := sort.Search(len(h.ups), func(i int) bool { return h.ups[i].Ver >= ver })
	if i < len(h.ups) && h.ups[i].Ver == ver {
		return h.ups[i]
	}
	return nil
}

// Find is the locking counterpart of find, part of §4.1's
// history_find.
func (h *History) Find(ver uint64) *Up {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.find(ver)
}

// earliest returns the first (lowest-version) Up in the history, or nil.
func (h *History) earliest() *Up {
	if len(h.ups) == 0 {
		return nil
	}
	return h.ups[0]
}

// Earliest is the locking counterpart of earliest.
func (h *History) Earliest() *Up {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.earliest()
}

// later returns the Up immediately following up in version order, or
// nil if up is the last one known to this history. Caller holds the
// history lock.
func (h *History) later(up *Up) *Up {
	i := sort.Search(len(h.ups), func(i int) bool { return h.ups[i].Ver >= up.Ver })
	if i+1 < len(h.ups) {
		return h.ups[i+1]
	}
	return nil
}

// Later is the locking counterpart of later.
func (h *History) Later(up *Up) *Up {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.later(up)
}

func (h *History) insertSorted(up *Up) {
	i := sort.Search(len(h.ups), func(i int) bool { return h.ups[i].Ver >= up.Ver })
	h.ups = append(h.ups, nil)
	copy(h.ups[i+1:], h.ups[i:])
	h.ups[i] = up
}

// prepareOwnedLocked consumes high_ver+1 for up, provided the caller's
// expectedOrigVer still matches the current high_ver (§4.1's tie-break:
// the lock serialises racing Ops, the first wins, the second sees its
// orig_ver stale and fails with EVER). Caller must hold h's lock.
func (h *History) prepareOwnedLocked(up *Up, expectedOrigVer uint64) error {
	if h.highVer != expectedOrigVer {
		return newErr(ErrVer, "history.prepare", "stale orig_ver on owned history", nil)
	}
	up.OrigVer = h.highVer
	h.highVer++
	up.Ver = h.highVer
	up.Rule = RuleINC
	up.State = StateInProgress
	h.insertSorted(up)
	return nil
}

// prepareRemoteLocked accepts an externally supplied version on a
// non-OWNED history. ver must be greater than high_ver, or must already
// exist as an unknown placeholder, which is then filled in with the
// authoritative (ver, orig_ver) (§4.1). Caller must hold h's lock.
func (h *History) prepareRemoteLocked(up *Up, ver, origVer uint64) error {
	if existing := h.find(ver); existing != nil {
		if !existing.IsUnknown() {
			return newErr(ErrVer, "history.prepare", "version already filled on remote history", nil)
		}
		existing.OrigVer = origVer
		existing.update = up.update
		existing.State = StateInProgress
		*up = *existing
		return nil
	}

	if ver <= h.highVer {
		return newErr(ErrVer, "history.prepare", "out-of-order version on remote history", nil)
	}

	// Insert unknown placeholders for every gap between high_ver and
	// ver (scenario 6): the arriving update fills ver; the gaps remain
	// "unknown" until a later message fills them in.
	for gap := h.highVer + 1; gap < ver; gap++ {
		h.insertSorted(newUnknownUp(h, gap))
	}

	up.Ver = ver
	up.OrigVer = origVer
	up.Rule = RuleINC
	up.State = StateInProgress
	h.highVer = ver
	h.insertSorted(up)
	return nil
}

// PrepareOwned is the locking counterpart of prepareOwnedLocked, for
// standalone use outside an Op (e.g. tests exercising a bare history).
func (h *History) PrepareOwned(up *Up, expectedOrigVer uint64) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.prepareOwnedLocked(up, expectedOrigVer)
}

// PrepareRemote is the locking counterpart of prepareRemoteLocked.
func (h *History) PrepareRemote(up *Up, ver, origVer uint64) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.prepareRemoteLocked(up, ver, origVer)
}

// Persistent advances persistent_cursor to uptoVer, transitions every Up
// with ver <= uptoVer to PERSISTENT, and fires the EAGER fan-out and the
// kind's Persistent hook (§4.1). It is idempotent: re-delivering the
// same or an older cursor position has no additional effect (§8).
func (h *History) Persistent(uptoVer uint64) {
	h.mu.Lock()
	if uptoVer <= h.persistentCursor {
		h.mu.Unlock()
		return
	}
	h.persistentCursor = uptoVer
	var promoted []*Up
	for _, up := range h.ups {
		if up.Ver <= uptoVer && up.State < StatePersistent && !up.IsUnknown() {
			up.State = StatePersistent
			promoted = append(promoted, up)
		}
	}
	h.mu.Unlock()

	if h.ops != nil {
		h.ops.Persistent(h)
	}
	for _, up := range promoted {
		if up.update == nil || up.update.op == nil {
			continue
		}
		if tx := up.update.op.dtx0Coordinator(); tx != nil {
			tx.onUpPersistent(up)
		}
		if up.update.op.DeriveState() == StateStable && h.ops != nil {
			h.ops.Stable(h)
		}
	}
	if h.dtm != nil {
		h.dtm.metricsRef().SetPersistentCursor(h.kind, uptoVer)
	}
	logger.Debug("dtm: history persistent", logger.HistoryField(h.HistoryID()), logger.UptoVer(uptoVer))
}

// Reset rewinds high_ver to ver, marking every Up strictly above it as
// LIMBO (§4.1).
func (h *History) Reset(ver uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.highVer = ver
	kept := h.ups[:0:0]
	for _, up := range h.ups {
		if up.Ver > ver {
			up.State = StateLimbo
			continue
		}
		kept = append(kept, up)
	}
	h.ups = kept

	if h.dtm != nil {
		h.dtm.metricsRef().ObserveReset(h.kind)
	}
}

// Undo transitions every Up in [upto, high] to LIMBO, in reverse
// (highest-version-first) order, firing the kind's per-update hook on
// each as it is rolled back (§4.1).
func (h *History) Undo(upto uint64) {
	h.mu.Lock()
	var rolledBack []*Up
	for i := len(h.ups) - 1; i >= 0; i-- {
		up := h.ups[i]
		if up.Ver < upto {
			break
		}
		up.State = StateLimbo
		rolledBack = append(rolledBack, up)
	}
	if upto <= h.highVer {
		h.highVer = upto
		if upto > 0 {
			h.highVer--
		}
	}
	h.mu.Unlock()

	if h.dtm != nil {
		h.dtm.metricsRef().ObserveUndo(h.kind)
	}

	if h.ops == nil {
		return
	}
	for _, up := range rolledBack {
		h.ops.Update(h, up)
	}
}
