package logger

import (
	"context"
	"time"
)

// contextKey is a private type for context keys to avoid collisions
type contextKey struct{}

// logContextKey is the key for LogContext in context.Context
var logContextKey = contextKey{}

// LogContext holds request-scoped logging context for one inbound
// notice or peer connection: the peer it concerns, the opcode being
// handled, and tracing identity, so a handler can log without
// threading every field through each call explicitly.
type LogContext struct {
	TraceID   string    // OpenTelemetry trace ID
	SpanID    string    // OpenTelemetry span ID
	Peer      string    // remote instance id this notice/connection concerns
	Opcode    string    // notice opcode being handled
	StartTime time.Time // for duration calculation
}

// WithContext returns a new context with the given LogContext
func WithContext(ctx context.Context, lc *LogContext) context.Context {
	return context.WithValue(ctx, logContextKey, lc)
}

// FromContext retrieves the LogContext from context, or nil if not present
func FromContext(ctx context.Context) *LogContext {
	if ctx == nil {
		return nil
	}
	lc, _ := ctx.Value(logContextKey).(*LogContext)
	return lc
}

// NewLogContext creates a new LogContext for a notice/connection
// concerning peer.
func NewLogContext(peer string) *LogContext {
	return &LogContext{
		Peer:      peer,
		StartTime: time.Now(),
	}
}

// Clone creates a copy of the LogContext
func (lc *LogContext) Clone() *LogContext {
	if lc == nil {
		return nil
	}
	return &LogContext{
		TraceID:   lc.TraceID,
		SpanID:    lc.SpanID,
		Peer:      lc.Peer,
		Opcode:    lc.Opcode,
		StartTime: lc.StartTime,
	}
}

// WithOpcode returns a copy with the opcode set
func (lc *LogContext) WithOpcode(opcode string) *LogContext {
	clone := lc.Clone()
	if clone != nil {
		clone.Opcode = opcode
	}
	return clone
}

// WithPeer returns a copy with the peer set
func (lc *LogContext) WithPeer(peer string) *LogContext {
	clone := lc.Clone()
	if clone != nil {
		clone.Peer = peer
	}
	return clone
}

// WithTrace returns a copy with trace info set
func (lc *LogContext) WithTrace(traceID, spanID string) *LogContext {
	clone := lc.Clone()
	if clone != nil {
		clone.TraceID = traceID
		clone.SpanID = spanID
	}
	return clone
}

// DurationMs returns the duration since StartTime in milliseconds
func (lc *LogContext) DurationMs() float64 {
	if lc == nil || lc.StartTime.IsZero() {
		return 0
	}
	return float64(time.Since(lc.StartTime).Microseconds()) / 1000.0
}
