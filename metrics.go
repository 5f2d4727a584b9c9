package journal

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics is the set of instruments a Journal reports to. It is grounded in
// the buildbarn/bb-storage block allocator's style of package-level
// counters/gauges registered once via sync.Once, adapted so a Journal can be
// pointed at a caller-supplied registry instead of the global default one.
type Metrics struct {
	RecordsSubmitted prometheus.Counter
	BatchesFlushed   prometheus.Counter
	BytesWritten     prometheus.Counter
	SegmentRolls     prometheus.Counter
	ReplayTornTails  prometheus.Counter
	WriteLatency     prometheus.Histogram
	OutstandingIO    prometheus.Gauge
	WaitQueueDepth   prometheus.Gauge
}

func newMetrics() *Metrics {
	return &Metrics{
		RecordsSubmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "journal",
			Name:      "records_submitted_total",
			Help:      "Number of records accepted by SubmitRecord.",
		}),
		BatchesFlushed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "journal",
			Name:      "batches_flushed_total",
			Help:      "Number of record batches handed to the segment manager.",
		}),
		BytesWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "journal",
			Name:      "bytes_written_total",
			Help:      "Number of encoded bytes written to segments.",
		}),
		SegmentRolls: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "journal",
			Name:      "segment_rolls_total",
			Help:      "Number of times the journal rolled to a new segment.",
		}),
		ReplayTornTails: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "journal",
			Name:      "replay_torn_tails_total",
			Help:      "Number of Replay calls that failed with ErrTornSegment.",
		}),
		WriteLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "journal",
			Name:      "write_latency_seconds",
			Help:      "Latency of individual batch writes to the segment manager.",
			Buckets:   prometheus.DefBuckets,
		}),
		OutstandingIO: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "journal",
			Name:      "outstanding_io",
			Help:      "Current number of in-flight segment writes.",
		}),
		WaitQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "journal",
			Name:      "wait_queue_depth",
			Help:      "Current number of submissions suspended while io_depth_limit is reached.",
		}),
	}
}

var defaultMetrics = newMetrics()

// RegisterMetrics registers m's instruments against reg. Registering the
// same Metrics value twice against one registry returns an
// AlreadyRegisteredError from the second call, same as any other
// prometheus collector.
func RegisterMetrics(reg prometheus.Registerer, m *Metrics) error {
	collectors := []prometheus.Collector{
		m.RecordsSubmitted, m.BatchesFlushed, m.BytesWritten,
		m.SegmentRolls, m.ReplayTornTails, m.WriteLatency,
		m.OutstandingIO, m.WaitQueueDepth,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// NewMetrics allocates a fresh, unregistered Metrics set, for callers who
// want to run multiple Journal instances side by side without collector
// collisions.
func NewMetrics() *Metrics {
	return newMetrics()
}
