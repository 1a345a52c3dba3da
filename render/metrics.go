package render

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

// Metrics of rendering jobs. Nil Metrics is valid and records nothing.
type Metrics struct {
	jobs       *prometheus.CounterVec
	cards      *prometheus.CounterVec
	roundTrips *prometheus.CounterVec
	skipped    *prometheus.CounterVec
	cacheHits  prometheus.Counter
	duration   *prometheus.HistogramVec
}

// NewMetrics creates job metrics and registers them.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		jobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cardgen",
			Name:      "jobs_total",
			Help:      "Rendering jobs by kind and result.",
		}, []string{"driver", "kind", "result"}),
		cards: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cardgen",
			Name:      "cards_total",
			Help:      "Cards rendered.",
		}, []string{"driver"}),
		roundTrips: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cardgen",
			Name:      "round_trips_total",
			Help:      "Backend round trips by operation.",
		}, []string{"driver", "op"}),
		skipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cardgen",
			Name:      "exports_skipped_total",
			Help:      "Optional exports skipped by reason.",
		}, []string{"driver", "reason"}),
		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cardgen",
			Name:      "single_cache_hits_total",
			Help:      "Single card requests served from cache.",
		}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "cardgen",
			Name:      "job_duration_seconds",
			Help:      "Rendering job duration.",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 12),
		}, []string{"driver", "kind"}),
	}
	if reg != nil {
		reg.MustRegister(m.jobs, m.cards, m.roundTrips, m.skipped, m.cacheHits, m.duration)
	}
	return m
}

func (m *Metrics) job(drv, kind string, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "failure"
	}
	m.jobs.WithLabelValues(drv, kind, result).Inc()
	m.duration.WithLabelValues(drv, kind).Observe(elapsed.Seconds())
}

func (m *Metrics) rendered(drv string, n int) {
	if m == nil {
		return
	}
	m.cards.WithLabelValues(drv).Add(float64(n))
}

func (m *Metrics) roundTrip(drv, op string) {
	if m == nil {
		return
	}
	m.roundTrips.WithLabelValues(drv, op).Inc()
}

func (m *Metrics) skip(drv, reason string) {
	if m == nil {
		return
	}
	m.skipped.WithLabelValues(drv, reason).Inc()
}

func (m *Metrics) cacheHit() {
	if m == nil {
		return
	}
	m.cacheHits.Inc()
}

// PushMetrics sends everything gathered to push gateway.
func PushMetrics(ctx context.Context, url, job string, g prometheus.Gatherer) error {
	if err := push.New(url, job).Gatherer(g).PushContext(ctx); err != nil {
		return fmt.Errorf("unable to push metrics: %w", err)
	}
	return nil
}
