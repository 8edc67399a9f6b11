package dtm

import (
	"context"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/cortx-motr/dtm/internal/logger"
)

// PeerResolver maps a sender's instance id to the Remote this instance
// uses to talk back to it, so an inbound notice can be delivered as if
// it arrived on that Remote's own connection. Client implements this.
type PeerResolver interface {
	Remote(peer ID) (*ClientRemote, bool)
}

// Listener accepts one-way, record-marked notice connections and
// dispatches each decoded Notice into a DTM instance (§6), the receiving
// half of tcpBackend. It never writes a reply: the notice transport is
// fire-and-forget in both directions.
type Listener struct {
	dtm      *DTM
	resolve  PeerResolver
	listener net.Listener

	shutdown     chan struct{}
	shutdownOnce sync.Once
	wg           sync.WaitGroup
}

// NewListener builds a Listener that delivers accepted notices into dtm,
// resolving each Notice.From through resolve.
func NewListener(dtm *DTM, resolve PeerResolver) *Listener {
	return &Listener{dtm: dtm, resolve: resolve, shutdown: make(chan struct{})}
}

// Serve listens on addr and accepts notice connections until ctx is
// cancelled or Stop is called. It blocks until the accept loop exits.
func (l *Listener) Serve(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return newErr(ErrTransient, "listener.serve", fmt.Sprintf("listen %s failed", addr), err)
	}
	l.listener = ln

	logger.Info("dtm: notice listener started", logger.Addr(ln.Addr().String()))

	go func() {
		select {
		case <-ctx.Done():
			l.Stop()
		case <-l.shutdown:
		}
	}()

	for {
		conn, err := l.listener.Accept()
		if err != nil {
			select {
			case <-l.shutdown:
				l.wg.Wait()
				return nil
			default:
				return newErr(ErrTransient, "listener.serve", "accept failed", err)
			}
		}
		l.wg.Add(1)
		go func(c net.Conn) {
			defer l.wg.Done()
			l.handleConn(c)
		}(conn)
	}
}

// Addr returns the bound listener address, or empty if not yet serving.
func (l *Listener) Addr() string {
	if l.listener != nil {
		return l.listener.Addr().String()
	}
	return ""
}

// Stop closes the listener without waiting; Serve then waits for
// in-flight connections to drain before it returns.
func (l *Listener) Stop() {
	l.shutdownOnce.Do(func() {
		close(l.shutdown)
		if l.listener != nil {
			_ = l.listener.Close()
		}
	})
}

func (l *Listener) handleConn(conn net.Conn) {
	defer conn.Close()
	remoteAddr := conn.RemoteAddr().String()

	for {
		if err := conn.SetReadDeadline(time.Now().Add(30 * time.Second)); err != nil {
			return
		}
		payload, err := readRecordMarked(conn)
		if err != nil {
			if err != io.EOF {
				logger.Debug("dtm: notice listener read error", logger.Addr(remoteAddr), logger.Err(err))
			}
			return
		}

		n, err := UnpackNotice(payload)
		if err != nil {
			logger.Warn("dtm: notice listener decode error", logger.Addr(remoteAddr), logger.Err(err))
			continue
		}

		ctx := logger.WithContext(context.Background(), logger.NewLogContext(n.From.String()).WithOpcode(n.Opcode.String()))

		cr, ok := l.resolve.Remote(n.From)
		if !ok {
			logger.WarnCtx(ctx, "dtm: notice from unknown peer")
			continue
		}

		if err := l.dtm.Deliver(cr.Remote(), n); err != nil {
			logger.WarnCtx(ctx, "dtm: notice delivery failed", logger.Err(err))
		}
	}
}
