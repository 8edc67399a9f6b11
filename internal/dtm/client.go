package dtm

import (
	"context"
	"fmt"
	"sync"

	"github.com/cortx-motr/dtm/internal/logger"
)

// ConnState is the connection life-cycle a client-side remote moves
// through (§6, client.c's remote_conn_event_handler), mirroring the
// RPC connection state machine without any RPC-layer specifics.
type ConnState int

const (
	ConnInitialised ConnState = iota
	ConnConnecting
	ConnActive
	ConnTerminating
	ConnTerminated
	ConnFailed
	ConnFinalised
)

func (s ConnState) String() string {
	switch s {
	case ConnInitialised:
		return "INITIALISED"
	case ConnConnecting:
		return "CONNECTING"
	case ConnActive:
		return "ACTIVE"
	case ConnTerminating:
		return "TERMINATING"
	case ConnTerminated:
		return "TERMINATED"
	case ConnFailed:
		return "FAILED"
	case ConnFinalised:
		return "FINALISED"
	default:
		return "UNKNOWN"
	}
}

// HAState is the cluster-membership view of a peer (§6,
// remote_ha_event_handler).
type HAState int

const (
	HAOnline HAState = iota
	HATransient
	HAFailed
)

func (s HAState) String() string {
	switch s {
	case HAOnline:
		return "ONLINE"
	case HATransient:
		return "TRANSIENT"
	case HAFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// PeerInfo is one cluster member discoverable through a PeerSource.
type PeerInfo struct {
	ID   ID
	Addr string
}

// PeerSource enumerates the DTM peers a Client should connect to
// (§6's dtm_client_remotes_setup, generalised away from a specific
// pool/conf implementation). A concrete source backed by Postgres lives
// in the peers package.
type PeerSource interface {
	Peers(ctx context.Context) ([]PeerInfo, error)
}

// ClientRemote bundles one peer's transport-level Remote with the
// connection/HA bookkeeping the Client drives (§6).
type ClientRemote struct {
	mu   sync.Mutex
	peer PeerInfo
	rem  *Remote
	conn ConnState
	ha   HAState
}

// Remote returns the underlying transport handle.
func (cr *ClientRemote) Remote() *Remote { return cr.rem }

// ConnState returns the remote's last observed connection state.
func (cr *ClientRemote) ConnState() ConnState {
	cr.mu.Lock()
	defer cr.mu.Unlock()
	return cr.conn
}

// HAState returns the remote's last observed HA state.
func (cr *ClientRemote) HAState() HAState {
	cr.mu.Lock()
	defer cr.mu.Unlock()
	return cr.ha
}

// Client is the remote-set manager (§6): it discovers peers through a
// PeerSource, keeps one ClientRemote per peer, tracks the Ops currently
// in flight against them, and translates connection/HA life-cycle
// events into scoped history-level Undo calls.
type Client struct {
	mu      sync.Mutex
	dtm     *DTM
	source  PeerSource
	remotes map[ID]*ClientRemote
	dial    func(PeerInfo) Backend

	muOps sync.Mutex
	ops   map[*Op]struct{}
}

// NewClient builds a Client for dtm's instance, discovering peers
// through source. dial constructs the Backend used to reach a newly
// discovered peer (NewTCPBackend in production, NewLocalBackend in
// tests); it must not be nil.
func NewClient(dtm *DTM, source PeerSource, dial func(PeerInfo) Backend) *Client {
	return &Client{
		dtm:     dtm,
		source:  source,
		remotes: make(map[ID]*ClientRemote),
		dial:    dial,
		ops:     make(map[*Op]struct{}),
	}
}

// TrackOp registers op as in flight, so a later HA FAILED transition on
// any peer it references can roll it back (§4.5).
func (c *Client) TrackOp(op *Op) {
	c.muOps.Lock()
	c.ops[op] = struct{}{}
	c.muOps.Unlock()
}

// UntrackOp drops op from the in-flight set, e.g. once it reaches
// STABLE and no HA-triggered rollback could apply to it any longer.
func (c *Client) UntrackOp(op *Op) {
	c.muOps.Lock()
	delete(c.ops, op)
	c.muOps.Unlock()
}

// BeginDtx0 starts a coordinator transaction bound to this Client's DTM
// instance and tracks its backing Op, so a peer FAILED transition mid-
// flight reaches cb.Failed (§4.6, §7).
func (c *Client) BeginDtx0(payload []byte, cb Dtx0Callbacks, datum interface{}) *Dtx0 {
	tx := NewDtx0(c.dtm, payload, cb, datum)
	c.TrackOp(tx.op)
	return tx
}

// Init discovers peers and opens a ClientRemote for every one found
// that is not this instance itself (§6's dtm_client_remotes_setup).
func (c *Client) Init(ctx context.Context) error {
	peers, err := c.source.Peers(ctx)
	if err != nil {
		return newErr(ErrTransient, "client.init", "peer discovery failed", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for _, p := range peers {
		if p.ID == c.dtm.ID() {
			continue
		}
		if _, ok := c.remotes[p.ID]; ok {
			continue
		}
		backend := c.dial(p)
		rem := NewRemote(p.ID, c.dtm.ID(), backend)
		c.remotes[p.ID] = &ClientRemote{peer: p, rem: rem, conn: ConnInitialised, ha: HAOnline}
		logger.Info("dtm: client remote registered", logger.Peer(p.ID), logger.Addr(p.Addr))
	}

	if len(c.remotes) == 0 {
		logger.Warn("dtm: client has no remotes after init", logger.Instance(c.dtm.ID()))
	}
	return nil
}

// Remote returns the ClientRemote for peer, if known.
func (c *Client) Remote(peer ID) (*ClientRemote, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cr, ok := c.remotes[peer]
	return cr, ok
}

// Remotes returns every known ClientRemote.
func (c *Client) Remotes() []*ClientRemote {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*ClientRemote, 0, len(c.remotes))
	for _, cr := range c.remotes {
		out = append(out, cr)
	}
	return out
}

// IsConnected reports whether every known remote is ACTIVE. An empty
// remote set is never considered connected (m0_dtm_cient_is_connected).
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.remotes) == 0 {
		return false
	}
	for _, cr := range c.remotes {
		if cr.ConnState() != ConnActive {
			return false
		}
	}
	return true
}

// HandleConnEvent applies a connection life-cycle transition observed
// on peer (remote_conn_event_handler): only on FINALISED is the remote
// detached and its resources released.
func (c *Client) HandleConnEvent(peer ID, state ConnState) error {
	c.mu.Lock()
	cr, ok := c.remotes[peer]
	c.mu.Unlock()
	if !ok {
		return newErr(ErrProto, "client.conn_event", fmt.Sprintf("unknown peer %s", peer), nil)
	}

	cr.mu.Lock()
	cr.conn = state
	cr.mu.Unlock()

	if state != ConnFinalised {
		logger.Warn("dtm: remote connection event", logger.Peer(peer), logger.State(state))
		return nil
	}

	c.mu.Lock()
	delete(c.remotes, peer)
	c.mu.Unlock()

	return cr.rem.Close()
}

// HandleHAEvent applies an HA membership transition observed on peer
// (remote_ha_event_handler). A transition to FAILED rolls back only the
// in-flight Ops that actually referenced peer as a remote participant
// (§4.5): for each such Op, the OWNED histories it touched are rolled
// back from the version it assigned them onward (that version included)
// and the rollback is fanned out to
// EAGER siblings, mirroring how a normal PERSISTENT notice would have
// fanned out had the peer lived (§8 scenario 2). Histories this
// instance merely mirrors on peer's behalf are left untouched — only
// the owning side ever rewinds.
func (c *Client) HandleHAEvent(peer ID, state HAState) error {
	c.mu.Lock()
	cr, ok := c.remotes[peer]
	c.mu.Unlock()
	if !ok {
		return newErr(ErrProto, "client.ha_event", fmt.Sprintf("unknown peer %s", peer), nil)
	}

	cr.mu.Lock()
	cr.ha = state
	cr.mu.Unlock()

	logger.Warn("dtm: remote ha event", logger.Peer(peer), logger.State(state))

	if state != HAFailed {
		return nil
	}

	c.muOps.Lock()
	affected := make([]*Op, 0, len(c.ops))
	for op := range c.ops {
		if op.referencesRemote(cr.rem) {
			affected = append(affected, op)
		}
	}
	c.muOps.Unlock()

	for _, op := range affected {
		for h, ver := range op.ownedParticipants() {
			c.undoAndNotify(h, ver)
		}
		if tx := op.dtx0Coordinator(); tx != nil {
			tx.Fail(peer)
		}
		c.UntrackOp(op)
	}
	return nil
}

// undoAndNotify rewinds h's own history to ver and, if h is an EAGER
// OWNED history (FOL/SLOT), fans the rollback out to every sibling
// subscribed to it, the same catalogue walk folOps.Persistent uses for
// a successful PERSISTENT advance.
func (c *Client) undoAndNotify(h *History, ver uint64) {
	h.Undo(ver)

	if !h.Eager() || (h.Kind() != KindFOL && h.Kind() != KindSlot) {
		return
	}
	for _, sibling := range c.dtm.Siblings(remoteKindOf(h.Kind())) {
		if sibling.id != h.id {
			continue
		}
		if rem := sibling.Remote(); rem != nil {
			rem.Undo(sibling, ver)
		}
	}
}
