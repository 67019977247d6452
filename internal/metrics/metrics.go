package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "syncqueue"

var (
	once sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Bridge HTTP requests by endpoint.",
		},
		[]string{"endpoint"},
	)

	drains = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "drains_total",
			Help:      "Drain runs by result (completed, halted, canceled, skipped).",
		},
		[]string{"result"},
	)

	entries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "entries_total",
			Help:      "Queue entries resolved by outcome.",
		},
		[]string{"outcome"},
	)

	eventsPublished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_published_total",
			Help:      "Sync events delivered to subscribers by kind.",
		},
		[]string{"kind"},
	)

	queueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Entries in the in-memory index after the last seed or dequeue.",
		},
	)

	requestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "Outbound request latency by status class.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"status_class"},
	)
)

// Register registers Prometheus metrics. Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(httpRequests, drains, entries, eventsPublished, queueDepth, requestDuration)
	})
}

// IncHTTP increments the counter for an endpoint label.
func IncHTTP(endpoint string) {
	httpRequests.WithLabelValues(endpoint).Inc()
}

func IncDrain(result string) {
	drains.WithLabelValues(result).Inc()
}

func IncEntry(outcome string) {
	entries.WithLabelValues(outcome).Inc()
}

func IncEvent(kind string) {
	eventsPublished.WithLabelValues(kind).Inc()
}

func SetQueueDepth(n int) {
	queueDepth.Set(float64(n))
}

// ObserveRequest records an outbound request by status class ("2xx", "4xx", "network").
func ObserveRequest(status int, d time.Duration) {
	requestDuration.WithLabelValues(StatusClass(status)).Observe(d.Seconds())
}

func StatusClass(status int) string {
	if status < 100 {
		return "network"
	}
	return strconv.Itoa(status/100) + "xx"
}
