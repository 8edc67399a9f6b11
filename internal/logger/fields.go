package logger

import (
	"fmt"
	"log/slog"
)

// Standard field keys for structured logging.
// These keys are shared by every package in this module so that log
// aggregation and querying stay consistent across the core, the
// listener, the client, and the storage/transport adapters.
const (
	// ========================================================================
	// Distributed Tracing
	// ========================================================================
	KeyTraceID = "trace_id" // OpenTelemetry trace ID for request correlation
	KeySpanID  = "span_id"  // OpenTelemetry span ID for operation tracking

	// ========================================================================
	// Instance & Peer Identity
	// ========================================================================
	KeyInstance = "instance" // this DTM instance's own id
	KeyPeer     = "peer"     // the remote instance id a notice/connection concerns
	KeyAddr     = "addr"     // network address of a peer or listener

	// ========================================================================
	// History & Notice
	// ========================================================================
	KeyHistory   = "history"    // a HistoryID (kind + id)
	KeyOpcode    = "opcode"     // NoticeOpcode carried by a notice
	KeyVer       = "ver"        // a history version
	KeyUptoVer   = "upto_ver"   // the version a PERSISTENT/UNDO applies up to
	KeyOrigVer   = "orig_ver"   // the version an update was minted against
	KeySlotVer   = "slot_ver"   // the piggy-backed slot version in an op descr
	KeyState     = "state"      // a connection/HA/op/up State value
	KeyDtxID     = "dtx_id"     // a Dtx0 coordinator transaction's own id

	// ========================================================================
	// Operation Metadata
	// ========================================================================
	KeyDurationMs   = "duration_ms"  // operation duration in milliseconds
	KeyError        = "error"        // error message
	KeyErrorCode    = "error_code"   // numeric/kind error code
	KeyOutcome      = "outcome"      // coarse outcome label (ok, ever, eproto, ...)
	KeyParticipants = "participants" // participant count in an Op
)

// ============================================================================
// Field constructors for type safety
// These functions provide type-safe construction of slog.Attr values.
// ============================================================================

// ----------------------------------------------------------------------------
// Distributed Tracing
// ----------------------------------------------------------------------------

// TraceID returns a slog.Attr for OpenTelemetry trace ID
func TraceID(id string) slog.Attr {
	return slog.String(KeyTraceID, id)
}

// SpanID returns a slog.Attr for OpenTelemetry span ID
func SpanID(id string) slog.Attr {
	return slog.String(KeySpanID, id)
}

// ----------------------------------------------------------------------------
// Instance & Peer Identity
// ----------------------------------------------------------------------------

// Instance returns a slog.Attr naming this DTM instance.
func Instance(id fmt.Stringer) slog.Attr {
	return slog.String(KeyInstance, id.String())
}

// Peer returns a slog.Attr naming the remote instance a notice or
// connection event concerns.
func Peer(id fmt.Stringer) slog.Attr {
	return slog.String(KeyPeer, id.String())
}

// Addr returns a slog.Attr for a network address.
func Addr(addr string) slog.Attr {
	return slog.String(KeyAddr, addr)
}

// ----------------------------------------------------------------------------
// History & Notice
// ----------------------------------------------------------------------------

// HistoryField returns a slog.Attr naming a history by its stringer
// representation (kind + id), accepting any type that formats itself
// (HistoryID, or a bare history id string).
func HistoryField(h fmt.Stringer) slog.Attr {
	return slog.String(KeyHistory, h.String())
}

// Opcode returns a slog.Attr for a notice opcode.
func Opcode(op fmt.Stringer) slog.Attr {
	return slog.String(KeyOpcode, op.String())
}

// Ver returns a slog.Attr for a history version.
func Ver(v uint64) slog.Attr {
	return slog.Uint64(KeyVer, v)
}

// UptoVer returns a slog.Attr for the version a PERSISTENT or UNDO
// notice applies up to.
func UptoVer(v uint64) slog.Attr {
	return slog.Uint64(KeyUptoVer, v)
}

// OrigVer returns a slog.Attr for the version an update was minted
// against.
func OrigVer(v uint64) slog.Attr {
	return slog.Uint64(KeyOrigVer, v)
}

// SlotVer returns a slog.Attr for the piggy-backed slot version carried
// in an operation descriptor.
func SlotVer(v uint64) slog.Attr {
	return slog.Uint64(KeySlotVer, v)
}

// State returns a slog.Attr for a connection/HA/op/up state, given its
// stringer representation.
func State(s fmt.Stringer) slog.Attr {
	return slog.String(KeyState, s.String())
}

// DtxID returns a slog.Attr naming a Dtx0 coordinator transaction.
func DtxID(id fmt.Stringer) slog.Attr {
	return slog.String(KeyDtxID, id.String())
}

// ----------------------------------------------------------------------------
// Operation Metadata
// ----------------------------------------------------------------------------

// DurationMs returns a slog.Attr for duration in milliseconds
func DurationMs(ms float64) slog.Attr {
	return slog.Float64(KeyDurationMs, ms)
}

// Err returns a slog.Attr for an error
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String(KeyError, err.Error())
}

// ErrorCode returns a slog.Attr for a numeric/kind error code
func ErrorCode(code int) slog.Attr {
	return slog.Int(KeyErrorCode, code)
}

// Outcome returns a slog.Attr for a coarse outcome label (ok, ever,
// eproto, ...).
func Outcome(outcome string) slog.Attr {
	return slog.String(KeyOutcome, outcome)
}

// Participants returns a slog.Attr for the participant count of an Op.
func Participants(n int) slog.Attr {
	return slog.Int(KeyParticipants, n)
}
