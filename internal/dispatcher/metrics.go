package dispatcher

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// スキップ理由のラベル値。
const (
	skipKind     = "kind"
	skipDecode   = "decode"
	skipSender   = "sender"
	skipPanic    = "panic"
	skipNoTarget = "recipient"
)

// Metrics は配信処理の観測値を保持する。nilの場合は何も記録しない。
type Metrics struct {
	BatchesReceived   prometheus.Counter
	BatchesSuppressed prometheus.Counter
	ChangesDispatched prometheus.Counter
	ChangesSkipped    *prometheus.CounterVec
	PushSent          prometheus.Counter
	PushFailed        prometheus.Counter
	PushUnregistered  prometheus.Counter
}

// NewMetrics は配信処理のメトリクスを生成し、regに登録する。
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		BatchesReceived: f.NewCounter(prometheus.CounterOpts{
			Name: "pushfeed_feed_batches_received_total",
			Help: "Total number of change-feed batches received",
		}),
		BatchesSuppressed: f.NewCounter(prometheus.CounterOpts{
			Name: "pushfeed_feed_batches_suppressed_total",
			Help: "Total number of initial snapshot batches discarded",
		}),
		ChangesDispatched: f.NewCounter(prometheus.CounterOpts{
			Name: "pushfeed_changes_dispatched_total",
			Help: "Total number of added messages fanned out to recipients",
		}),
		ChangesSkipped: f.NewCounterVec(prometheus.CounterOpts{
			Name: "pushfeed_changes_skipped_total",
			Help: "Total number of changes not dispatched, by reason",
		}, []string{"reason"}),
		PushSent: f.NewCounter(prometheus.CounterOpts{
			Name: "pushfeed_push_sent_total",
			Help: "Total number of push messages accepted by the provider",
		}),
		PushFailed: f.NewCounter(prometheus.CounterOpts{
			Name: "pushfeed_push_failed_total",
			Help: "Total number of push messages that failed",
		}),
		PushUnregistered: f.NewCounter(prometheus.CounterOpts{
			Name: "pushfeed_push_unregistered_total",
			Help: "Total number of push messages rejected because the device is no longer registered",
		}),
	}
}

func (m *Metrics) batchReceived() {
	if m == nil {
		return
	}
	m.BatchesReceived.Inc()
}

func (m *Metrics) batchSuppressed() {
	if m == nil {
		return
	}
	m.BatchesSuppressed.Inc()
}

func (m *Metrics) changeDispatched() {
	if m == nil {
		return
	}
	m.ChangesDispatched.Inc()
}

func (m *Metrics) changeSkipped(reason string) {
	if m == nil {
		return
	}
	m.ChangesSkipped.WithLabelValues(reason).Inc()
}

// observeReport は配信結果を集計する。
func (m *Metrics) observeReport(r Report) {
	if m == nil {
		return
	}
	m.PushSent.Add(float64(len(r.Delivered)))
	m.PushFailed.Add(float64(len(r.Failed)))
	m.PushUnregistered.Add(float64(len(r.Unregistered)))
}
