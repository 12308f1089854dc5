// Package metrics exposes Prometheus counters for outbound request
// execution. The registry is package-private so importing the default
// Go runtime collectors stays the caller's choice.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var registry = prometheus.NewRegistry()

var (
	requestsStarted = promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: "scout",
		Subsystem: "executor",
		Name:      "requests_started_total",
		Help:      "Outbound request attempts, by endpoint class.",
	}, []string{"class"})

	requestsSucceeded = promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: "scout",
		Subsystem: "executor",
		Name:      "requests_succeeded_total",
		Help:      "Outbound requests that completed successfully, by endpoint class.",
	}, []string{"class"})

	requestsFailed = promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: "scout",
		Subsystem: "executor",
		Name:      "requests_failed_total",
		Help:      "Outbound requests abandoned after the retry ceiling, by endpoint class.",
	}, []string{"class"})

	throttleBackoffs = promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: "scout",
		Subsystem: "executor",
		Name:      "throttle_backoffs_total",
		Help:      "Backoff sleeps taken after provider 429/503 responses, by endpoint class.",
	}, []string{"class"})

	bucketExhausted = promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: "scout",
		Subsystem: "executor",
		Name:      "bucket_exhausted_total",
		Help:      "Rate-bucket acquisitions that timed out, by endpoint class.",
	}, []string{"class"})

	requestDuration = promauto.With(registry).NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "scout",
		Subsystem: "executor",
		Name:      "request_duration_seconds",
		Help:      "Wall-clock duration of successful requests, by endpoint class.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"class"})
)

// RequestStarted records the start of one request attempt.
func RequestStarted(class string) {
	requestsStarted.WithLabelValues(class).Inc()
}

// RequestSucceeded records a successful request and its duration.
func RequestSucceeded(class string, d time.Duration) {
	requestsSucceeded.WithLabelValues(class).Inc()
	requestDuration.WithLabelValues(class).Observe(d.Seconds())
}

// RequestFailed records a request abandoned after exhausting retries.
func RequestFailed(class string) {
	requestsFailed.WithLabelValues(class).Inc()
}

// ThrottleBackoff records one 429/503-driven backoff sleep.
func ThrottleBackoff(class string) {
	throttleBackoffs.WithLabelValues(class).Inc()
}

// BucketExhausted records a rate-bucket wait that hit its timeout.
func BucketExhausted(class string) {
	bucketExhausted.WithLabelValues(class).Inc()
}

// Registry returns the gatherer for exposition by an external collector.
func Registry() *prometheus.Registry {
	return registry
}
