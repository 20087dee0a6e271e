// Package metrics exports recorded timing samples as Prometheus collectors
// and keeps a running snapshot for the JSON API.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"go.sazak.io/hrclock/clock"
	"go.sazak.io/hrclock/cmd/hrclock/storage"
)

const namespace = "hrclock"

// Stats is the running snapshot served on /api/metrics.
type Stats struct {
	Samples  int64   `json:"samples"`
	Negative int64   `json:"negative"` // samples whose end preceded their start
	Failed   int64   `json:"failed"`   // samples with a non-zero exit code
	MinNs    int64   `json:"min_ns"`
	MaxNs    int64   `json:"max_ns"`
	MeanNs   float64 `json:"mean_ns"`
	LastNs   int64   `json:"last_ns"`
}

type Metrics struct {
	sampleDuration prometheus.Histogram
	samplesTotal   prometheus.Counter
	negativeTotal  prometheus.Counter
	failedTotal    prometheus.Counter

	mu      sync.Mutex
	stats   Stats
	totalNs float64
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		sampleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sample_duration_seconds",
			Help:      "Bucketed histogram of recorded sample durations.",
			Buckets:   prometheus.ExponentialBuckets(1e-6, 4, 14),
		}),
		samplesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "samples_total",
			Help:      "Count of recorded samples.",
		}),
		negativeTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "negative_samples_total",
			Help:      "Count of samples whose end reading precedes their start.",
		}),
		failedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "failed_samples_total",
			Help:      "Count of samples with a non-zero exit code.",
		}),
	}

	monotonicNow := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "monotonic_clock_seconds",
		Help:      "Current monotonic clock reading.",
	}, func() float64 {
		return float64(clock.Now()) / float64(time.Second)
	})

	reg.MustRegister(m.sampleDuration, m.samplesTotal, m.negativeTotal, m.failedTotal, monotonicNow)
	return m
}

// Observe records one sample. Negative intervals are counted but kept out of
// the duration histogram.
func (m *Metrics) Observe(s *storage.Sample) {
	elapsed := s.Elapsed()

	m.samplesTotal.Inc()
	if elapsed < 0 {
		m.negativeTotal.Inc()
	} else {
		m.sampleDuration.Observe(time.Duration(elapsed).Seconds())
	}
	if s.ExitCode != 0 {
		m.failedTotal.Inc()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stats.Samples == 0 {
		m.stats.MinNs, m.stats.MaxNs = elapsed, elapsed
	} else {
		m.stats.MinNs = min(m.stats.MinNs, elapsed)
		m.stats.MaxNs = max(m.stats.MaxNs, elapsed)
	}
	m.stats.Samples++
	if elapsed < 0 {
		m.stats.Negative++
	}
	if s.ExitCode != 0 {
		m.stats.Failed++
	}
	m.totalNs += float64(elapsed)
	m.stats.MeanNs = m.totalNs / float64(m.stats.Samples)
	m.stats.LastNs = elapsed
}

// ObserveBatch records every sample in samples.
func (m *Metrics) ObserveBatch(samples []*storage.Sample) {
	for _, s := range samples {
		m.Observe(s)
	}
}

func (m *Metrics) Snapshot() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats
}
