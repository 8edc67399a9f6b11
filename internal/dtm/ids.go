// Package dtm implements the core of a distributed transaction manager:
// the history/update/slot state machine that orders multi-participant
// updates, drives them through VOLATILE -> PERSISTENT -> STABLE, and
// converts local updates into on-wire notices and back.
//
// Cluster membership, the RPC transport, and FOL disk persistence are
// treated as external collaborators; this package only calls hooks on
// them (see Backend, PeerSource and the Persistent callback on
// HistoryOps).
package dtm

import (
	"fmt"

	"github.com/google/uuid"
)

// ID is the 128-bit identifier used throughout the core: dtm_id,
// history id, remote id.
type ID = uuid.UUID

// NilID is the zero-value 128-bit id.
var NilID = uuid.Nil

// NewID allocates a fresh random 128-bit id.
func NewID() ID {
	return uuid.New()
}

// HKind tags the four standard history kinds (§4.2) plus the values a
// remote-set manager or a notice handler needs to dispatch on.
type HKind uint8

const (
	KindFOL HKind = iota
	KindRFOL
	KindSlot
	KindRSlot
)

func (k HKind) String() string {
	switch k {
	case KindFOL:
		return "fol"
	case KindRFOL:
		return "rfol"
	case KindSlot:
		return "slot"
	case KindRSlot:
		return "rslot"
	default:
		return fmt.Sprintf("hkind(%d)", uint8(k))
	}
}

// remoteKindOf returns the history kind this DTM instance uses to mirror
// updates originated by the owning kind (FOL -> RFOL, SLOT -> RSLOT).
func remoteKindOf(k HKind) HKind {
	switch k {
	case KindFOL:
		return KindRFOL
	case KindSlot:
		return KindRSlot
	default:
		return k
	}
}

// baseKindOf is remoteKindOf's inverse: it strips the "mirrored on this
// instance" distinction so that a FOL and the RFOL that mirrors it
// elsewhere agree on one wire-level kind (the two sides never need to
// tell each other whether they're looking at the owned or the
// mirrored copy; that's purely local bookkeeping).
func baseKindOf(k HKind) HKind {
	switch k {
	case KindRFOL:
		return KindFOL
	case KindRSlot:
		return KindSlot
	default:
		return k
	}
}

// ParseHKind parses the lower-case names HKind.String returns, for
// callers addressing a history kind from outside the package (the
// introspection HTTP surface, cmdline tools).
func ParseHKind(s string) (HKind, error) {
	switch s {
	case "fol":
		return KindFOL, nil
	case "rfol":
		return KindRFOL, nil
	case "slot":
		return KindSlot, nil
	case "rslot":
		return KindRSlot, nil
	default:
		return 0, fmt.Errorf("dtm: unknown history kind %q", s)
	}
}

// IsOwnedKind reports whether k names a kind this instance can mint its
// own versions for (FOL, SLOT), as opposed to a peer's mirror (RFOL,
// RSLOT).
func IsOwnedKind(k HKind) bool {
	return k == KindFOL || k == KindSlot
}

// HistoryID is the globally addressable name of a history: its kind
// plus an id that's unique within that kind.
type HistoryID struct {
	Kind HKind
	ID   ID
}

func (h HistoryID) String() string {
	return fmt.Sprintf("%s/%s", h.Kind, h.ID)
}
