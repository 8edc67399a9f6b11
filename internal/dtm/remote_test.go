package dtm

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// TestLocalBackendDeliversPersistentToMirror wires two DTM instances
// through in-process Remotes and drives an EAGER FOL fan-out all the
// way to the peer's RFOL mirror, the scenario folOps.Persistent exists
// for. The op also carries a co-located slot participant so the
// PERSISTENT notice's operation descriptor exercises §4.3's piggy-
// backed promotion on the mirror side, not just the bare cursor.
func TestLocalBackendDeliversPersistentToMirror(t *testing.T) {
	owner := newTestDTM(t)
	mirror := newTestDTM(t)

	fid := NewID()
	sid := NewID()
	fol := owner.OpenOwned(KindFOL, fid)
	slot := owner.OpenOwned(KindSlot, sid)

	// ownerSideOfMirror is the handle owner uses to notify mirror;
	// mirrorSideOfOwner is the handle mirror uses to identify owner as a
	// sender. Both describe the same logical connection.
	ownerSideOfMirror := NewRemote(mirror.ID(), owner.ID(), nil)
	mirrorSideOfOwner := NewRemote(owner.ID(), mirror.ID(), nil)
	ownerSideOfMirror.backend = NewLocalBackend(mirror, mirrorSideOfOwner)

	// owner registers subscriber shadow entries purely to hold the
	// Remote its EAGER fan-out notifies through (fol.go's sibling walk).
	owner.OpenRemote(KindRFOL, fid, ownerSideOfMirror)
	// mirror opens its own real mirrors of the same histories.
	rfol := mirror.OpenRemote(KindRFOL, fid, mirrorSideOfOwner)
	rslot := mirror.OpenRemote(KindRSlot, sid, mirrorSideOfOwner)

	op := NewOp(owner, nil)
	folUp := op.AddOwned(fol)
	slotUp := op.AddOwned(slot)
	require.NoError(t, op.Prepare())

	// seed the mirror's slot participant the way a prior REDO delivery
	// would have: a known (non-unknown) Up at the same version,
	// in-flight but not yet PERSISTENT, waiting for this piggy-backed
	// promotion.
	mirrorOp := NewOp(mirror, nil)
	mirrorSlotUp := mirrorOp.AddRemote(rslot, slotUp.Ver, slotUp.OrigVer)
	require.NoError(t, mirrorOp.Prepare())
	require.Equal(t, StateInProgress, mirrorSlotUp.State)

	fol.Persistent(folUp.Ver)

	require.Equal(t, folUp.Ver, rfol.PersistentCursor())
	mirroredSlotUp := rslot.Find(slotUp.Ver)
	require.NotNil(t, mirroredSlotUp)
	require.False(t, mirroredSlotUp.IsUnknown())
	require.Equal(t, StatePersistent, mirroredSlotUp.State)
}

func TestRemoteResendCoalescesPendingSend(t *testing.T) {
	d := newTestDTM(t)
	h := d.OpenOwned(KindFOL, NewID())
	rem := NewRemote(NewID(), d.ID(), NewLocalBackend(d, nil))

	od := &OperationDescr{}
	rem.Send(h, od)
	rem.Resend(h, od)

	rem.mu.Lock()
	p, ok := rem.pending[h.HistoryID()]
	rem.mu.Unlock()
	require.True(t, ok)
	require.Equal(t, MsgReposted, p.state)
}

func TestAddRecordMarkSetsLastFragmentBit(t *testing.T) {
	msg := []byte("hello")
	framed := addRecordMark(msg)
	require.Len(t, framed, 4+len(msg))
	require.Equal(t, byte(0x80), framed[0]&0x80)
}
