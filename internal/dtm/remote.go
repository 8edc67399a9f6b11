package dtm

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/cortx-motr/dtm/internal/logger"
)

// resendDeadline is the grace period Resend waits before reposting a
// cancelled-in-flight update, giving a chance for a better RPC (more
// updates folded into the same wire record) to be built instead.
const resendDeadline = 10 * time.Millisecond

// Backend delivers notices to one peer. The core never depends on a
// concrete transport: tests use a local, in-process backend, real
// deployments use the one-way TCP backend below.
type Backend interface {
	Notify(ctx context.Context, n *Notice) error
	IsConnected() bool
	Close() error
}

// MsgState tracks an in-flight update's resend lifecycle per history
// (§6): once Posted, a later Resend cancels it and reposts after
// resendDeadline so a burst of closely-spaced updates coalesces into
// one wire record instead of one per version.
type MsgState int

const (
	MsgPosted MsgState = iota
	MsgCancelled
	MsgReposted
)

func (s MsgState) String() string {
	switch s {
	case MsgPosted:
		return "POSTED"
	case MsgCancelled:
		return "CANCELLED"
	case MsgReposted:
		return "REPOSTED"
	default:
		return "UNKNOWN"
	}
}

type pendingSend struct {
	state MsgState
	timer *time.Timer
}

// Remote is one peer connection as seen by the core: every RFOL/RSLOT
// history mirroring that peer notifies it through the same Remote
// (§4.1, §6).
type Remote struct {
	mu      sync.Mutex
	id      ID
	local   ID
	backend Backend
	pending map[HistoryID]*pendingSend
}

// NewRemote wraps backend as the peer identified by id. local is this
// instance's own id, stamped onto every outgoing Notice.From so the
// peer's listener can resolve which of its own Remotes sent it.
func NewRemote(id, local ID, backend Backend) *Remote {
	return &Remote{id: id, local: local, backend: backend, pending: make(map[HistoryID]*pendingSend)}
}

// ID returns the peer's instance id.
func (r *Remote) ID() ID { return r.id }

// IsConnected reports the underlying backend's connectivity.
func (r *Remote) IsConnected() bool { return r.backend.IsConnected() }

func (r *Remote) notify(n *Notice) {
	ctx, cancel := context.WithTimeout(context.Background(), resendDeadline*50)
	defer cancel()
	if err := r.backend.Notify(ctx, n); err != nil {
		logger.Warn("dtm: notice delivery failed", logger.Peer(r.id), logger.HistoryField(n.History), logger.Err(err))
	}
}

// Persistent notifies the peer that h's persistent cursor reached ver.
// od, when non-nil, is the operation descriptor for the update that
// reached ver, letting the peer's Onp hook promote its own co-located
// participants (e.g. a piggy-backed Slot) without a REDO round-trip.
func (r *Remote) Persistent(h *History, ver uint64, od *OperationDescr) {
	r.notify(&Notice{From: r.local, History: wireHistoryIDOf(h), Ver: ver, Opcode: OpcodePersistent, Op: od})
}

// Fixed notifies the peer that h has been sealed.
func (r *Remote) Fixed(h *History) {
	r.notify(&Notice{From: r.local, History: wireHistoryIDOf(h), Opcode: OpcodeFixed})
}

// Reset notifies the peer that h was rewound to ver.
func (r *Remote) Reset(h *History, ver uint64) {
	r.notify(&Notice{From: r.local, History: wireHistoryIDOf(h), Ver: ver, Opcode: OpcodeReset})
}

// Undo notifies the peer that every version from upto onward was rolled
// back.
func (r *Remote) Undo(h *History, upto uint64) {
	r.notify(&Notice{From: r.local, History: wireHistoryIDOf(h), Ver: upto, Opcode: OpcodeUndo})
}

// Send posts od as a REDO notice, the first attempt at delivering an
// operation descriptor to this peer.
func (r *Remote) Send(h *History, od *OperationDescr) {
	r.mu.Lock()
	hid := h.HistoryID()
	r.pending[hid] = &pendingSend{state: MsgPosted}
	r.mu.Unlock()

	r.notify(&Notice{From: r.local, History: wireHistoryIDOf(h), Opcode: OpcodeRedo, Op: od, IsLast: true})
}

// Resend cancels any still-in-flight send for h and reposts od after
// resendDeadline, coalescing with whatever else arrives in that window.
func (r *Remote) Resend(h *History, od *OperationDescr) {
	hid := h.HistoryID()

	r.mu.Lock()
	p, ok := r.pending[hid]
	if ok && p.state == MsgPosted {
		p.state = MsgCancelled
		if p.timer != nil {
			p.timer.Stop()
		}
	}
	p = &pendingSend{state: MsgReposted}
	r.pending[hid] = p
	r.mu.Unlock()

	p.timer = time.AfterFunc(resendDeadline, func() {
		r.mu.Lock()
		p.state = MsgPosted
		r.mu.Unlock()
		r.notify(&Notice{From: r.local, History: wireHistoryIDOf(h), Opcode: OpcodeRedo, Op: od, IsLast: true})
	})
}

// Close tears down the underlying backend and cancels any pending
// resend timers.
func (r *Remote) Close() error {
	r.mu.Lock()
	for _, p := range r.pending {
		if p.timer != nil {
			p.timer.Stop()
		}
	}
	r.pending = make(map[HistoryID]*pendingSend)
	r.mu.Unlock()
	return r.backend.Close()
}

func wireHistoryIDOf(h *History) HistoryID {
	return HistoryID{Kind: baseKindOf(h.kind), ID: h.id}
}

// localBackend delivers notices directly to a collocated DTM instance,
// bypassing any transport; it mirrors rem_local_ops from the original
// implementation, used for same-process peers and in tests. source is
// the Remote the target instance uses to identify the sender.
type localBackend struct {
	target *DTM
	source *Remote
}

// NewLocalBackend returns a Backend that calls straight into target's
// Deliver, with no network hop. source must be the Remote target uses
// to represent this end of the connection.
func NewLocalBackend(target *DTM, source *Remote) Backend {
	return &localBackend{target: target, source: source}
}

func (b *localBackend) Notify(ctx context.Context, n *Notice) error {
	return b.target.Deliver(b.source, n)
}

func (b *localBackend) IsConnected() bool { return true }
func (b *localBackend) Close() error      { return nil }

// tcpBackend is the one-way RPC backend: one fresh TCP connection per
// notice, record-marking framed, fire-and-forget (no reply is awaited,
// matching the notice transport's best-effort contract).
type tcpBackend struct {
	mu      sync.Mutex
	addr    string
	timeout time.Duration
	ok      bool
}

// NewTCPBackend dials addr fresh for every notice, giving up after
// timeout (dial and write combined). A zero timeout uses 5 seconds.
func NewTCPBackend(addr string, timeout time.Duration) Backend {
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	return &tcpBackend{addr: addr, timeout: timeout, ok: true}
}

func (b *tcpBackend) Notify(ctx context.Context, n *Notice) error {
	payload, err := PackNotice(n)
	if err != nil {
		return err
	}

	dialCtx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	var dialer net.Dialer
	conn, err := dialer.DialContext(dialCtx, "tcp", b.addr)
	if err != nil {
		b.setConnected(false)
		return newErr(ErrTransient, "remote.notify", "dial failed", err)
	}
	defer conn.Close()

	if deadline, ok := dialCtx.Deadline(); ok {
		_ = conn.SetWriteDeadline(deadline)
	}

	framed := addRecordMark(payload)
	if _, err := conn.Write(framed); err != nil {
		b.setConnected(false)
		return newErr(ErrTransient, "remote.notify", "write failed", err)
	}

	b.setConnected(true)
	return nil
}

func (b *tcpBackend) setConnected(ok bool) {
	b.mu.Lock()
	b.ok = ok
	b.mu.Unlock()
}

func (b *tcpBackend) IsConnected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ok
}

func (b *tcpBackend) Close() error { return nil }

// addRecordMark prefixes msg with the 4-byte RPC record-marking
// fragment header (RFC 5531 §11), setting the last-fragment bit since
// every notice is sent as a single fragment.
func addRecordMark(msg []byte) []byte {
	header := uint32(len(msg)) | 0x80000000
	out := make([]byte, 4+len(msg))
	binary.BigEndian.PutUint32(out[0:4], header)
	copy(out[4:], msg)
	return out
}

// readRecordMarked reads one record-marked message from r (used by the
// TCP listener side that feeds received bytes to UnpackNotice).
func readRecordMarked(r io.Reader) ([]byte, error) {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(header[:]) & 0x7FFFFFFF
	const maxNotice = 1 << 20
	if n > maxNotice {
		return nil, fmt.Errorf("notice fragment too large: %d", n)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

