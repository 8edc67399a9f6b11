package dtm

// slotOps is the HistoryOps table for SLOT and RSLOT histories (§4.2),
// grounded on slot.c. A slot never becomes persistent on its own: it
// piggy-backs on the FOL update it was added alongside (see folOps.Onp
// and fol_remote_persistent's promotion), and it is never sealed.
type slotOps struct{}

// SlotHistoryType returns the HistoryType for the SLOT/RSLOT kind pair,
// for DTM.RegisterType.
func SlotHistoryType() *HistoryType {
	return &HistoryType{Name: "slot", Kind: KindSlot, Ops: slotOps{}}
}

// Persistent is a no-op: a slot's persistence is driven entirely by its
// co-located FOL update (slot_persistent/slot_remote_persistent).
func (slotOps) Persistent(h *History) {}

// Fixed is impossible: a slot history is never closed (slot_fixed's
// M0_IMPOSSIBLE("Slot cannot be fixed!")).
func (slotOps) Fixed(h *History) error {
	return newErr(ErrInternal, "slot.fixed", "a slot history cannot be fixed", nil)
}

// Update is a no-op hook point for slot updates.
func (slotOps) Update(h *History, u *Up) {}

// Onp is a no-op for slots: the fill-in walk lives in folOps.Onp, which
// locates and promotes the co-located slot update directly.
func (slotOps) Onp(h *History, od *OperationDescr) error { return nil }

// IsStable treats a slot update as stable once PERSISTENT, mirroring
// its own persistence semantics.
func (slotOps) IsStable(h *History, u *Up) bool { return u.State >= StatePersistent }

// Stable is a no-op for slots.
func (slotOps) Stable(h *History) {}
