package frameloop

import (
	"log/slog"
	"time"
)

// AlertSeverity classifies an alert raised through a MetricsSink.
type AlertSeverity int

// Alert severities, ordered from least to most severe.
const (
	SeverityInfo AlertSeverity = iota
	SeverityWarning
	SeverityCritical
)

// String returns the lowercase name of the severity.
func (s AlertSeverity) String() string {
	switch s {
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// MetricsSink accepts scalar samples and alerts from all frameloop
// components. Components never depend on how metrics are stored or
// displayed; they only emit through this interface.
//
// Implementations must be safe for concurrent use. RecordMetric and
// RaiseAlert are called from the render loop and must return quickly.
type MetricsSink interface {
	// RecordMetric records a scalar sample. Category groups related metrics
	// (e.g. "frame", "cache", "scheduler"); unit is a free-form unit label
	// (e.g. "ms", "bytes", "ratio").
	RecordMetric(category, name string, value float64, unit string)

	// RaiseAlert reports an observational alert. Alerts are never fatal;
	// the render loop keeps running.
	RaiseAlert(severity AlertSeverity, message string, at time.Time)
}

// NopSink is a MetricsSink that discards everything. It is the default
// sink when none is configured.
type NopSink struct{}

// RecordMetric implements MetricsSink.
func (NopSink) RecordMetric(string, string, float64, string) {}

// RaiseAlert implements MetricsSink.
func (NopSink) RaiseAlert(AlertSeverity, string, time.Time) {}

// LogSink is a MetricsSink that writes samples at debug level and alerts
// at warn level through the frameloop logger.
type LogSink struct{}

// RecordMetric implements MetricsSink.
func (LogSink) RecordMetric(category, name string, value float64, unit string) {
	Logger().Debug("metric",
		slog.String("category", category),
		slog.String("name", name),
		slog.Float64("value", value),
		slog.String("unit", unit))
}

// RaiseAlert implements MetricsSink.
func (LogSink) RaiseAlert(severity AlertSeverity, message string, at time.Time) {
	Logger().Warn("alert",
		slog.String("severity", severity.String()),
		slog.String("message", message),
		slog.Time("at", at))
}
