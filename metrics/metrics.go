// Package metrics records media cache telemetry.
package metrics

import (
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Download results.
const (
	ResultOK          = "ok"
	ResultStatus      = "status"
	ResultTransport   = "transport"
	ResultTimeout     = "timeout"
	ResultUnavailable = "unavailable"
)

// Warm task results.
const (
	WarmQueued    = "queued"
	WarmCoalesced = "coalesced"
	WarmRejected  = "rejected"
	WarmDone      = "done"
	WarmFailed    = "failed"
)

// Observer captures telemetry for cache operations.
// Implementations must be safe for concurrent use.
type Observer interface {
	RecordLookup(hit bool)
	RecordDownload(duration time.Duration, bytes int64, result string)
	RecordShared()
	RecordWarm(result string)
}

// Nop returns an Observer that discards everything.
func Nop() Observer {
	return nopObserver{}
}

// PrometheusObserver exports cache metrics to Prometheus.
type PrometheusObserver struct {
	lookups          *prometheus.CounterVec
	downloads        *prometheus.CounterVec
	downloadDuration *prometheus.HistogramVec
	downloadedBytes  prometheus.Counter
	shared           prometheus.Counter
	warm             *prometheus.CounterVec
}

// NewPrometheusObserver registers cache metrics on reg.
// A nil reg uses prometheus.DefaultRegisterer. Registering twice on the same
// registry reuses the existing collectors.
func NewPrometheusObserver(namespace string, reg prometheus.Registerer) (*PrometheusObserver, error) {
	if namespace == "" {
		namespace = "mediacache"
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	o := &PrometheusObserver{}
	var err error
	if o.lookups, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "lookups_total",
		Help:      "Cache lookups by result (hit or miss).",
	}, []string{"result"})); err != nil {
		return nil, err
	}
	if o.downloads, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "downloads_total",
		Help:      "Network transfers into the cache by result.",
	}, []string{"result"})); err != nil {
		return nil, err
	}
	if o.downloadDuration, err = register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "download_duration_seconds",
		Help:      "Latency of network transfers into the cache.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"result"})); err != nil {
		return nil, err
	}
	if o.downloadedBytes, err = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "downloaded_bytes_total",
		Help:      "Bytes published into the cache.",
	})); err != nil {
		return nil, err
	}
	if o.shared, err = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "shared_fetches_total",
		Help:      "Callers that waited on another caller's in-flight transfer.",
	})); err != nil {
		return nil, err
	}
	if o.warm, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "warm_tasks_total",
		Help:      "Warmup task submissions and completions by result.",
	}, []string{"result"})); err != nil {
		return nil, err
	}
	return o, nil
}

// RecordLookup counts a cache lookup.
func (o *PrometheusObserver) RecordLookup(hit bool) {
	if o == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	o.lookups.WithLabelValues(result).Inc()
}

// RecordDownload tracks transfer latency, size and outcome.
func (o *PrometheusObserver) RecordDownload(duration time.Duration, bytes int64, result string) {
	if o == nil {
		return
	}
	o.downloads.WithLabelValues(result).Inc()
	o.downloadDuration.WithLabelValues(result).Observe(duration.Seconds())
	if result == ResultOK && bytes > 0 {
		o.downloadedBytes.Add(float64(bytes))
	}
}

// RecordShared counts a caller that joined an in-flight transfer.
func (o *PrometheusObserver) RecordShared() {
	if o == nil {
		return
	}
	o.shared.Inc()
}

// RecordWarm counts a warmup event.
func (o *PrometheusObserver) RecordWarm(result string) {
	if o == nil {
		return
	}
	o.warm.WithLabelValues(result).Inc()
}

func register[T prometheus.Collector](reg prometheus.Registerer, c T) (T, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing, nil
			}
		}
		var zero T
		return zero, fmt.Errorf("register cache metric: %w", err)
	}
	return c, nil
}

type nopObserver struct{}

func (nopObserver) RecordLookup(bool) {}

func (nopObserver) RecordDownload(time.Duration, int64, string) {}

func (nopObserver) RecordShared() {}

func (nopObserver) RecordWarm(string) {}
