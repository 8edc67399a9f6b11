package dtm

import "github.com/cortx-motr/dtm/internal/logger"

// folOps is the HistoryOps table for FOL and RFOL histories (§4.2),
// grounded on fol.c. A FOL is the per-instance, OWNED, EAGER log of
// every update this instance originates; an RFOL is one peer's mirror
// of another instance's FOL.
type folOps struct{}

// FolHistoryType returns the HistoryType for the FOL/RFOL kind pair,
// for DTM.RegisterType.
func FolHistoryType() *HistoryType {
	return &HistoryType{Name: "fol", Kind: KindFOL, Ops: folOps{}}
}

// Persistent fans the just-advanced cursor out to every peer this
// instance currently serves as an RFOL subscriber for (§4.1's EAGER
// fan-out, fol_persistent's catalogue walk). Only owned, EAGER
// histories reach here; RFOL's own Persistent hook is the no-op half
// below. The PERSISTENT notice carries the operation descriptor for the
// update that just reached ver, so the peer's Onp hook can promote the
// co-located Slot participant (§4.3's piggy-backing) without waiting for
// a REDO replay.
func (folOps) Persistent(h *History) {
	if h.Kind() != KindFOL || !h.Eager() {
		return
	}
	ver := h.PersistentCursor()

	var od *OperationDescr
	if up := h.Find(ver); up != nil && !up.IsUnknown() {
		od = up.Update().Snapshot()
	}

	for _, sibling := range h.dtm.Siblings(KindRFOL) {
		if sibling.id != h.id {
			continue
		}
		if rem := sibling.Remote(); rem != nil {
			rem.Persistent(sibling, ver, od)
		}
	}
}

// Fixed is impossible on a FOL: it never seals (fol_fixed's
// M0_IMPOSSIBLE).
func (folOps) Fixed(h *History) error {
	return newErr(ErrInternal, "fol.fixed", "a FOL history cannot be fixed", nil)
}

// Update is a no-op hook point for FOL/RFOL updates; persistence to a
// physical log is handled by the caller's FOL store (see the badger-
// backed implementation in the store package), not by the core.
func (folOps) Update(h *History, u *Up) {}

// Onp is fol_remote_onp (§6, supplemented): on receiving an operation
// descriptor for an RFOL (carried by a PERSISTENT or a REDO notice),
// locate the co-located Slot participant and promote it to PERSISTENT,
// and fill in every other RFOL participant's "unknown" placeholder Up
// with its authoritative orig_ver and rule. The descriptor carries no
// sender-side state, so the promotion does not depend on how far the
// slot got on the sender's side.
func (folOps) Onp(h *History, od *OperationDescr) error {
	if !h.Eager() {
		return nil
	}

	var slotDescr *UpdateDescr
	for i := range od.Updates {
		ud := &od.Updates[i]
		if ud.isUnknown() {
			continue
		}
		if ud.History.Kind == KindSlot || ud.History.Kind == KindRSlot {
			if slotDescr != nil {
				return newErr(ErrProto, "fol.onp", "operation descriptor carries more than one slot update", nil)
			}
			slotDescr = ud
		}
	}
	if slotDescr == nil {
		return newErr(ErrProto, "fol.onp", "operation descriptor carries no slot update", nil)
	}

	slotHist, err := h.dtm.LookupRemote(HistoryID{Kind: remoteKindOf(slotDescr.History.Kind), ID: slotDescr.History.ID}, h.rem.ID())
	if err != nil {
		return err
	}

	slotHist.Lock()
	slotUp := slotHist.find(slotDescr.Ver)
	if slotUp == nil || slotUp.IsUnknown() {
		slotHist.Unlock()
		return newErr(ErrProto, "fol.onp", "slot update referenced by operation descriptor not found", nil)
	}
	if slotUp.State < StatePersistent {
		slotUp.State = StatePersistent
	}
	slotHist.Unlock()

	for i := range od.Updates {
		ud := &od.Updates[i]
		if ud.isUnknown() || ud.History.Kind != KindFOL {
			continue
		}
		other, err := h.dtm.LookupRemote(HistoryID{Kind: KindRFOL, ID: ud.History.ID}, h.rem.ID())
		if err != nil {
			continue
		}
		other.Lock()
		up := other.find(ud.Ver)
		if up != nil && up.IsUnknown() {
			up.OrigVer = ud.OrigVer
			up.Rule = ud.Rule
		}
		other.Unlock()
	}

	logger.Debug("dtm: fol onp processed", logger.HistoryField(h.HistoryID()), logger.SlotVer(slotDescr.Ver))
	return nil
}

// IsStable treats a FOL/RFOL update as stable once PERSISTENT;
// Op.DeriveState handles stability across the whole operation.
func (folOps) IsStable(h *History, u *Up) bool { return u.State >= StatePersistent }

// Stable is a no-op for FOL/RFOL (fol_remote_stable).
func (folOps) Stable(h *History) {}
