package billing

import "github.com/prometheus/client_golang/prometheus"

// Metrics are the billing sync's Prometheus instruments. A nil *Metrics is valid and records nothing.
type Metrics struct {
	recordsBilled prometheus.Counter
	amountCharged prometheus.Counter
	recordErrors  *prometheus.CounterVec
	syncDuration  *prometheus.HistogramVec
	syncsSkipped  prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		recordsBilled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "billing",
			Name:      "records_billed_total",
			Help:      "Usage records billed.",
		}),
		amountCharged: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "billing",
			Name:      "amount_charged_total",
			Help:      "Credits debited by billing syncs.",
		}),
		recordErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "billing",
			Name:      "record_errors_total",
			Help:      "Usage records left unbilled by a sync, by error kind.",
		}, []string{"kind"}),
		syncDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "billing",
			Name:      "sync_duration_seconds",
			Help:      "Duration of billing sync passes.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"trigger"}),
		syncsSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "billing",
			Name:      "syncs_skipped_total",
			Help:      "Opportunistic syncs skipped because one was already running.",
		}),
	}
	reg.MustRegister(m.recordsBilled, m.amountCharged, m.recordErrors, m.syncDuration, m.syncsSkipped)
	return m
}

func (m *Metrics) observe(trigger Trigger, s Summary, seconds float64) {
	if m == nil {
		return
	}
	m.recordsBilled.Add(float64(s.BilledCount))
	m.amountCharged.Add(s.TotalCharged.InexactFloat64())
	for _, e := range s.Errors {
		m.recordErrors.WithLabelValues(string(e.Kind)).Inc()
	}
	m.syncDuration.WithLabelValues(string(trigger)).Observe(seconds)
}

func (m *Metrics) skipped() {
	if m == nil {
		return
	}
	m.syncsSkipped.Inc()
}
