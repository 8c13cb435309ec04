// Package metrics exposes dragcheck outcomes as Prometheus metrics.
//
// A Collector is an engine observer: attach it to an engine and every
// discarded sample, drop, verification and reset is counted.
package metrics

import (
	"math"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"dragcheck/internal/challenge"
	"dragcheck/internal/telemetry"
	"dragcheck/internal/verify"
)

const namespace = "dragcheck"

// Collector holds every dragcheck metric.
type Collector struct {
	gatherer prometheus.Gatherer

	// Counters
	SamplesDiscarded *prometheus.CounterVec
	Drops            *prometheus.CounterVec
	Verifications    *prometheus.CounterVec
	Rejections       *prometheus.CounterVec
	Resets           prometheus.Counter
	Replays          *prometheus.CounterVec

	// Gauges
	LastReplay prometheus.Gauge

	// Histograms
	Accuracy   prometheus.Histogram
	SearchTime prometheus.Histogram
}

// New creates the dragcheck metrics and registers them on reg. When reg is
// nil a private registry is used.
func New(reg *prometheus.Registry) (*Collector, error) {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	c := &Collector{
		gatherer: reg,

		SamplesDiscarded: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "samples_discarded_total",
				Help:      "Pointer samples the recorder refused, by reason.",
			},
			[]string{"reason"},
		),
		Drops: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "drops_total",
				Help:      "Drops on the target zone, by result.",
			},
			[]string{"result"},
		),
		Verifications: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "verifications_total",
				Help:      "Verification requests, by outcome.",
			},
			[]string{"outcome"},
		),
		Rejections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rejections_total",
				Help:      "Gate flags raised on rejected verifications.",
			},
			[]string{"reason"},
		),
		Resets: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "resets_total",
				Help:      "Attempts discarded by reset or restart.",
			},
		),
		Replays: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "replays_total",
				Help:      "Recordings replayed, by result.",
			},
			[]string{"result"},
		),
		LastReplay: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "last_replay_timestamp_seconds",
				Help:      "Unix time of the most recent replay.",
			},
		),
		Accuracy: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "accuracy_score",
				Help:      "Movement accuracy of scored attempts (0-100).",
				Buckets:   prometheus.LinearBuckets(0, 10, 11),
			},
		),
		SearchTime: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "search_time_seconds",
				Help:      "Time from first movement to the correct drop.",
				Buckets:   []float64{0.1, 0.2, 0.5, 1, 2, 5, 10, 30},
			},
		),
	}

	for _, col := range []prometheus.Collector{
		c.SamplesDiscarded, c.Drops, c.Verifications, c.Rejections,
		c.Resets, c.Replays, c.LastReplay, c.Accuracy, c.SearchTime,
	} {
		if err := reg.Register(col); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// SampleDiscarded counts a refused sample.
func (c *Collector) SampleDiscarded(reason telemetry.DiscardReason) {
	c.SamplesDiscarded.WithLabelValues(string(reason)).Inc()
}

// DropResolved counts a drop. Drops after the challenge was solved are
// counted as ignored.
func (c *Collector) DropResolved(_ string, out challenge.DropOutcome) {
	result := "mismatch"
	switch {
	case out.Ignored:
		result = "ignored"
	case out.Matched:
		result = "match"
	}
	c.Drops.WithLabelValues(result).Inc()
}

// Verified counts a verification and, when it was scored, observes its
// metrics.
func (c *Collector) Verified(res verify.Result) {
	c.Verifications.WithLabelValues(string(res.Outcome)).Inc()
	if !res.Scored() {
		return
	}

	for _, r := range res.Verdict.Reasons {
		c.Rejections.WithLabelValues(string(r)).Inc()
	}
	if !math.IsNaN(res.Metrics.Accuracy) {
		c.Accuracy.Observe(res.Metrics.Accuracy)
	}
	if st := res.Metrics.SearchTime; !math.IsNaN(st) && !math.IsInf(st, 0) {
		c.SearchTime.Observe(st)
	}
}

// AttemptReset counts a reset or restart.
func (c *Collector) AttemptReset(string, bool) {
	c.Resets.Inc()
}

// ReplayFinished records the end of one recording replay.
func (c *Collector) ReplayFinished(err error, at time.Time) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	c.Replays.WithLabelValues(result).Inc()
	c.LastReplay.Set(float64(at.Unix()))
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.gatherer, promhttp.HandlerOpts{})
}

// WriteTextfile writes the current values for the node_exporter textfile
// collector. The file is replaced atomically.
func (c *Collector) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, c.gatherer)
}
