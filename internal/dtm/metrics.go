package dtm

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Label constants for DTM metrics.
const (
	LabelKind    = "kind"
	LabelOpcode  = "opcode"
	LabelOutcome = "outcome"
)

// Outcome constants for operation/notice results.
const (
	OutcomeOK     = "ok"
	OutcomeEVer   = "ever"
	OutcomeEProto = "eproto"
	OutcomeEOther = "error"
)

// Metrics exposes Prometheus instrumentation for a DTM instance: op
// preparation outcomes, notice traffic per opcode, and history
// version-conflict rates.
type Metrics struct {
	opsPrepared      *prometheus.CounterVec
	noticesSent      *prometheus.CounterVec
	noticesReceived  *prometheus.CounterVec
	historiesUndone  *prometheus.CounterVec
	historiesReset   *prometheus.CounterVec
	persistentCursor *prometheus.GaugeVec

	registered bool
}

// NewMetrics creates DTM metrics. If registry is nil the metrics are
// created but not registered, matching how the rest of the package
// builds unregistered instances for tests.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	m := &Metrics{
		opsPrepared: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "dtm",
				Subsystem: "ops",
				Name:      "prepared_total",
				Help:      "Total number of Op.Prepare calls by outcome",
			},
			[]string{LabelOutcome},
		),
		noticesSent: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "dtm",
				Subsystem: "notices",
				Name:      "sent_total",
				Help:      "Total number of notices sent by opcode",
			},
			[]string{LabelOpcode},
		),
		noticesReceived: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "dtm",
				Subsystem: "notices",
				Name:      "received_total",
				Help:      "Total number of notices delivered by opcode and outcome",
			},
			[]string{LabelOpcode, LabelOutcome},
		),
		historiesUndone: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "dtm",
				Subsystem: "histories",
				Name:      "undo_total",
				Help:      "Total number of History.Undo calls by kind",
			},
			[]string{LabelKind},
		),
		historiesReset: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "dtm",
				Subsystem: "histories",
				Name:      "reset_total",
				Help:      "Total number of History.Reset calls by kind",
			},
			[]string{LabelKind},
		),
		persistentCursor: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "dtm",
				Subsystem: "histories",
				Name:      "persistent_cursor",
				Help:      "Last version a history advanced PERSISTENT up to",
			},
			[]string{LabelKind},
		),
	}

	if registry != nil {
		registry.MustRegister(
			m.opsPrepared,
			m.noticesSent,
			m.noticesReceived,
			m.historiesUndone,
			m.historiesReset,
			m.persistentCursor,
		)
		m.registered = true
	}

	return m
}

// ObserveOpPrepared records an Op.Prepare outcome.
func (m *Metrics) ObserveOpPrepared(outcome string) {
	if m == nil {
		return
	}
	m.opsPrepared.WithLabelValues(outcome).Inc()
}

// ObserveNoticeSent records an outgoing notice by opcode.
func (m *Metrics) ObserveNoticeSent(op NoticeOpcode) {
	if m == nil {
		return
	}
	m.noticesSent.WithLabelValues(op.String()).Inc()
}

// ObserveNoticeReceived records an inbound notice's dispatch outcome.
func (m *Metrics) ObserveNoticeReceived(op NoticeOpcode, outcome string) {
	if m == nil {
		return
	}
	m.noticesReceived.WithLabelValues(op.String(), outcome).Inc()
}

// ObserveUndo records a History.Undo call.
func (m *Metrics) ObserveUndo(kind HKind) {
	if m == nil {
		return
	}
	m.historiesUndone.WithLabelValues(kind.String()).Inc()
}

// ObserveReset records a History.Reset call.
func (m *Metrics) ObserveReset(kind HKind) {
	if m == nil {
		return
	}
	m.historiesReset.WithLabelValues(kind.String()).Inc()
}

// SetPersistentCursor records a history's latest persistent cursor.
func (m *Metrics) SetPersistentCursor(kind HKind, ver uint64) {
	if m == nil {
		return
	}
	m.persistentCursor.WithLabelValues(kind.String()).Set(float64(ver))
}

// Describe implements prometheus.Collector.
func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	if m == nil || !m.registered {
		return
	}
	m.opsPrepared.Describe(ch)
	m.noticesSent.Describe(ch)
	m.noticesReceived.Describe(ch)
	m.historiesUndone.Describe(ch)
	m.historiesReset.Describe(ch)
	m.persistentCursor.Describe(ch)
}

// Collect implements prometheus.Collector.
func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	if m == nil || !m.registered {
		return
	}
	m.opsPrepared.Collect(ch)
	m.noticesSent.Collect(ch)
	m.noticesReceived.Collect(ch)
	m.historiesUndone.Collect(ch)
	m.historiesReset.Collect(ch)
	m.persistentCursor.Collect(ch)
}
