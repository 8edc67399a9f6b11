package dtm

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// TestFolOnpPromotesSlotAndFillsUnknownSiblings exercises fol_remote_onp's
// two-pass algorithm: the co-located slot update is promoted to
// PERSISTENT, and any unknown FOL placeholder referenced by the same
// operation descriptor is filled in.
func TestFolOnpPromotesSlotAndFillsUnknownSiblings(t *testing.T) {
	d := newTestDTM(t)
	peer := NewRemote(NewID(), d.ID(), NewLocalBackend(d, nil))

	rfol := d.OpenRemote(KindRFOL, NewID(), peer)
	rslot := d.OpenRemote(KindRSlot, NewID(), peer)
	otherFol := d.OpenRemote(KindRFOL, NewID(), peer)

	slotOp := NewOp(d, nil)
	slotUp := slotOp.AddRemote(rslot, 1, 0)
	require.NoError(t, slotOp.Prepare())

	folOp := NewOp(d, nil)
	folUp := folOp.AddRemote(rfol, 1, 0)
	require.NoError(t, folOp.Prepare())

	// otherFol has an unfilled gap at version 1 (e.g. version 2 arrived
	// first), which this operation descriptor should fill in.
	gapOp := NewOp(d, nil)
	gapOp.AddRemote(otherFol, 2, 1)
	require.NoError(t, gapOp.Prepare())

	// operation descriptors travel the wire in base-kind form (SLOT/FOL,
	// never RSLOT/RFOL): the owned/mirrored distinction is purely local
	// bookkeeping (baseKindOf).
	od := &OperationDescr{
		Updates: []UpdateDescr{
			{History: HistoryID{Kind: KindSlot, ID: rslot.id}, Ver: slotUp.Ver, OrigVer: slotUp.OrigVer, Rule: slotUp.Rule},
			{History: HistoryID{Kind: KindFOL, ID: rfol.id}, Ver: folUp.Ver, OrigVer: folUp.OrigVer, Rule: folUp.Rule},
			{History: HistoryID{Kind: KindFOL, ID: otherFol.id}, Ver: 1, OrigVer: 7, Rule: RuleNEW},
		},
	}

	ops := folOps{}
	require.NoError(t, ops.Onp(rfol, od))

	require.Equal(t, StatePersistent, slotUp.State)

	// the fill-in only completes the gap's ordering fields; it still
	// carries no content, so it remains an unknown placeholder until a
	// real update for that version is delivered.
	gap := otherFol.Find(1)
	require.NotNil(t, gap)
	require.True(t, gap.IsUnknown())
	require.Equal(t, uint64(7), gap.OrigVer)
	require.Equal(t, RuleNEW, gap.Rule)
}

func TestFolOnpRejectsMissingSlotUpdate(t *testing.T) {
	d := newTestDTM(t)
	peer := NewRemote(NewID(), d.ID(), NewLocalBackend(d, nil))
	rfol := d.OpenRemote(KindRFOL, NewID(), peer)

	od := &OperationDescr{Updates: []UpdateDescr{{}}}

	ops := folOps{}
	err := ops.Onp(rfol, od)
	require.Error(t, err)
	require.True(t, IsKind(err, ErrProto))
}

func TestFolFixedIsImpossible(t *testing.T) {
	ops := folOps{}
	err := ops.Fixed(&History{})
	require.Error(t, err)
	require.True(t, IsKind(err, ErrInternal))
}

func TestSlotFixedIsImpossible(t *testing.T) {
	ops := slotOps{}
	err := ops.Fixed(&History{})
	require.Error(t, err)
	require.True(t, IsKind(err, ErrInternal))
}
