package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "concierge"

var (
	once sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by endpoint.",
		},
		[]string{"endpoint"},
	)

	drops = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "drops_total",
			Help:      "Drag gestures finished, by outcome.",
		},
		[]string{"result"},
	)

	flushes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flush_total",
			Help:      "Pending-change flushes, by outcome.",
		},
		[]string{"result"},
	)

	flushDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "flush_duration_seconds",
			Help:      "Time spent sending a batch to the backend.",
			Buckets:   prometheus.DefBuckets,
		},
	)

	pendingChanges = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pending_changes",
			Help:      "Unsynced changes in the log.",
		},
	)

	batchChanges = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recordstore_changes_total",
			Help:      "Changes received by the record store, applied or skipped as duplicates.",
		},
		[]string{"result"},
	)
)

// Register registers Prometheus metrics. Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(httpRequests, drops, flushes, flushDuration, pendingChanges, batchChanges)
	})
}

// IncHTTP increments the counter for an endpoint label.
func IncHTTP(endpoint string) {
	httpRequests.WithLabelValues(endpoint).Inc()
}

// IncDrop records a finished gesture: scheduled, duplicate, rejected or cancelled.
func IncDrop(result string) {
	drops.WithLabelValues(result).Inc()
}

// ObserveFlush records a flush outcome and its duration.
func ObserveFlush(result string, d time.Duration) {
	flushes.WithLabelValues(result).Inc()
	flushDuration.Observe(d.Seconds())
}

func SetPending(n int) {
	pendingChanges.Set(float64(n))
}

// AddBatchChanges counts changes handled by the record store.
func AddBatchChanges(applied, skipped int) {
	batchChanges.WithLabelValues("applied").Add(float64(applied))
	batchChanges.WithLabelValues("skipped").Add(float64(skipped))
}
