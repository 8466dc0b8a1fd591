// Package promsink exports frameloop metrics to Prometheus.
//
// Sink implements frameloop.MetricsSink on top of a prometheus
// Registerer, so pacing, synchronization, cache, and scheduler samples
// show up on an existing /metrics endpoint:
//
//	sink, err := promsink.New(prometheus.DefaultRegisterer)
//	if err != nil {
//	    // handle error
//	}
//	engine, err := frameloop.New(frameloop.Config{
//	    TargetFPS: 60,
//	    Metrics:   sink,
//	})
package promsink

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/gogpu/frameloop"
)

// Sink bridges frameloop metrics and alerts to Prometheus collectors.
// Samples land in a gauge vector labeled by category, name, and unit;
// alerts increment a counter vector labeled by severity.
type Sink struct {
	samples *prometheus.GaugeVec
	alerts  *prometheus.CounterVec
}

// New creates a Sink and registers its collectors with reg. Registration
// fails if another Sink with the same namespace is already registered.
func New(reg prometheus.Registerer) (*Sink, error) {
	s := &Sink{
		samples: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "frameloop",
				Name:      "sample",
				Help:      "Most recent frameloop metric sample by category and name.",
			},
			[]string{"category", "name", "unit"},
		),
		alerts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "frameloop",
				Name:      "alerts_total",
				Help:      "Frameloop alerts raised, by severity.",
			},
			[]string{"severity"},
		),
	}

	if err := reg.Register(s.samples); err != nil {
		return nil, fmt.Errorf("promsink: register samples: %w", err)
	}
	if err := reg.Register(s.alerts); err != nil {
		reg.Unregister(s.samples)
		return nil, fmt.Errorf("promsink: register alerts: %w", err)
	}
	return s, nil
}

// RecordMetric stores the sample in the gauge vector.
func (s *Sink) RecordMetric(category, name string, value float64, unit string) {
	s.samples.WithLabelValues(category, name, unit).Set(value)
}

// RaiseAlert increments the alert counter for the severity.
func (s *Sink) RaiseAlert(severity frameloop.AlertSeverity, _ string, _ time.Time) {
	s.alerts.WithLabelValues(severity.String()).Inc()
}

var _ frameloop.MetricsSink = (*Sink)(nil)
