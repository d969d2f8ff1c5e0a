package dispatcher

import "github.com/prometheus/client_golang/prometheus"

// Metrics is the dispatcher's prometheus surface: op counts by kind, WAL
// append latency, checkpoint duration, and the active-transaction gauge.
type Metrics struct {
	opsTotal        *prometheus.CounterVec
	opLatency       *prometheus.HistogramVec
	walAppendLatency prometheus.Histogram
	checkpointDuration prometheus.Histogram
	activeTxns      prometheus.Gauge
}

// NewMetrics registers the dispatcher's collectors against reg. Passing
// prometheus.NewRegistry() keeps a kernel instance's metrics isolated from
// the global default registry, which matters when more than one Kernel
// runs in the same process (tests, multi-tenant hosting).
func NewMetrics(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		opsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "otterbrix",
			Subsystem: "dispatcher",
			Name:      "ops_total",
			Help:      "Count of dispatched logical-plan operations by kind and outcome.",
		}, []string{"kind", "outcome"}),
		opLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "otterbrix",
			Subsystem: "dispatcher",
			Name:      "op_latency_seconds",
			Help:      "Latency of a dispatched operation from Execute to return.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"kind"}),
		walAppendLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "otterbrix",
			Subsystem: "wal",
			Name:      "append_latency_seconds",
			Help:      "Latency of a single WAL pool Append call.",
			Buckets:   prometheus.DefBuckets,
		}),
		checkpointDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "otterbrix",
			Subsystem: "checkpoint",
			Name:      "duration_seconds",
			Help:      "Wall time of a Checkpoint operation per collection.",
			Buckets:   prometheus.DefBuckets,
		}),
		activeTxns: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "otterbrix",
			Subsystem: "txn",
			Name:      "active",
			Help:      "Number of transactions currently registered as active.",
		}),
	}
	reg.MustRegister(m.opsTotal, m.opLatency, m.walAppendLatency, m.checkpointDuration, m.activeTxns)
	return m
}

func (m *Metrics) setActiveTxns(n int) {
	m.activeTxns.Set(float64(n))
}

func (m *Metrics) observeOp(kind string, seconds float64, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.opsTotal.WithLabelValues(kind, outcome).Inc()
	m.opLatency.WithLabelValues(kind).Observe(seconds)
}
