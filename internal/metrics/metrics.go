// Package metrics records client activity as Prometheus series. A nil
// *Recorder is valid and records nothing.
package metrics

import (
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "secops_client"

// Recorder holds the client's collectors.
type Recorder struct {
	Attempts     *prometheus.CounterVec
	Retries      *prometheus.CounterVec
	Chunks       *prometheus.CounterVec
	StreamEvents *prometheus.CounterVec
	Latency      *prometheus.HistogramVec
}

// New registers the collectors on reg. A nil reg returns a nil Recorder.
// Collectors already registered on reg, for example by an earlier client,
// are shared rather than registered again.
func New(reg prometheus.Registerer) (*Recorder, error) {
	if reg == nil {
		return nil, nil
	}

	r := &Recorder{
		// Attempts tracks every network attempt by endpoint and outcome
		Attempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "attempts_total",
				Help:      "Total number of API attempts",
			},
			[]string{"endpoint", "outcome"},
		),

		// Retries tracks attempts that were followed by a backoff
		Retries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "retries_total",
				Help:      "Total number of retried API attempts",
			},
			[]string{"endpoint"},
		),

		Chunks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "batch_chunks_total",
				Help:      "Total number of dispatched batch chunks",
			},
			[]string{"operation", "result"},
		),

		StreamEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "stream_events_total",
				Help:      "Total number of decoded stream events",
			},
			[]string{"kind"},
		),

		Latency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "attempt_duration_seconds",
				Help:      "API attempt latency in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"endpoint"},
		),
	}

	var err error
	if r.Attempts, err = register(reg, r.Attempts); err != nil {
		return nil, err
	}
	if r.Retries, err = register(reg, r.Retries); err != nil {
		return nil, err
	}
	if r.Chunks, err = register(reg, r.Chunks); err != nil {
		return nil, err
	}
	if r.StreamEvents, err = register(reg, r.StreamEvents); err != nil {
		return nil, err
	}
	if r.Latency, err = register(reg, r.Latency); err != nil {
		return nil, err
	}
	return r, nil
}

// register adds c to reg, or returns the equivalent collector reg already
// holds.
func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	err := reg.Register(c)
	if err == nil {
		return c, nil
	}

	var already prometheus.AlreadyRegisteredError
	if errors.As(err, &already) {
		if existing, ok := already.ExistingCollector.(C); ok {
			return existing, nil
		}
	}
	var zero C
	return zero, fmt.Errorf("failed to register metrics: %w", err)
}

// Attempt records one finished network attempt.
func (r *Recorder) Attempt(endpoint, outcome string, elapsed time.Duration, retried bool) {
	if r == nil {
		return
	}
	r.Attempts.WithLabelValues(endpoint, outcome).Inc()
	r.Latency.WithLabelValues(endpoint).Observe(elapsed.Seconds())
	if retried {
		r.Retries.WithLabelValues(endpoint).Inc()
	}
}

// Chunk records the final result of one batch chunk.
func (r *Recorder) Chunk(operation string, err error) {
	if r == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	r.Chunks.WithLabelValues(operation, result).Inc()
}

// StreamEvent records one decoded stream event.
func (r *Recorder) StreamEvent(kind string) {
	if r == nil {
		return
	}
	r.StreamEvents.WithLabelValues(kind).Inc()
}
