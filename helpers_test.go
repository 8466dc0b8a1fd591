package frameloop

import (
	"sync"
	"time"
)

// fakeClock is a manually advanced clock for deterministic timing tests.
// Sleep advances the clock instead of blocking.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(d time.Duration) {
	c.advance(d)
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// recordedMetric is one sample captured by recordingSink.
type recordedMetric struct {
	category string
	name     string
	value    float64
	unit     string
}

// recordedAlert is one alert captured by recordingSink.
type recordedAlert struct {
	severity AlertSeverity
	message  string
	at       time.Time
}

// recordingSink captures metrics and alerts for assertions.
type recordingSink struct {
	mu      sync.Mutex
	metrics []recordedMetric
	alerts  []recordedAlert
}

func (s *recordingSink) RecordMetric(category, name string, value float64, unit string) {
	s.mu.Lock()
	s.metrics = append(s.metrics, recordedMetric{category, name, value, unit})
	s.mu.Unlock()
}

func (s *recordingSink) RaiseAlert(severity AlertSeverity, message string, at time.Time) {
	s.mu.Lock()
	s.alerts = append(s.alerts, recordedAlert{severity, message, at})
	s.mu.Unlock()
}

func (s *recordingSink) alertCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.alerts)
}
