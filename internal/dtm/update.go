package dtm

// Update is one user-level change participating in an Op, bound to
// exactly one Up per history it touches (§3: an Update normally touches
// a FOL and, piggy-backed, a Slot).
type Update struct {
	Payload []byte // opaque op_descr bytes, carried for remote histories

	ups []*Up
	op  *Op
}

// newUpdate allocates an Update bound to op, carrying payload as its
// opaque descriptor.
func newUpdate(op *Op, payload []byte) *Update {
	return &Update{Payload: payload, op: op}
}

// Op returns the parent operation.
func (u *Update) Op() *Op { return u.op }

// Ups returns every ordering record this update holds, one per history
// it was added to.
func (u *Update) Ups() []*Up { return u.ups }

// Snapshot builds the operation descriptor this update's ups carry
// (§6): one UpdateDescr per history touched, suitable for attaching to a
// REDO or PERSISTENT notice so the receiving side's Onp hook can promote
// or fill in its co-located participants (fol.c's op_descr).
func (u *Update) Snapshot() *OperationDescr {
	od := &OperationDescr{Updates: make([]UpdateDescr, 0, len(u.ups))}
	for _, up := range u.ups {
		if up.IsUnknown() {
			continue
		}
		od.Updates = append(od.Updates, UpdateDescr{
			History: up.History().HistoryID(),
			Ver:     up.Ver,
			OrigVer: up.OrigVer,
			Rule:    up.Rule,
			Payload: u.Payload,
		})
	}
	return od
}
