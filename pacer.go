package frameloop

import (
	"sync"
	"time"
)

// Frame pacer configuration constants.
const (
	// DefaultHistorySize is the number of frame timing samples retained
	// when no explicit size is configured.
	DefaultHistorySize = 120

	// MaxHistorySize bounds the configurable history window.
	MaxHistorySize = 300

	// predictionWeight is the exponential smoothing weight applied to each
	// new sample. The weight is in (0, 1], so the prediction never amplifies
	// single-sample noise beyond the raw sample itself.
	predictionWeight = 0.3

	// driftWindow is the number of consecutive over-target samples after
	// which the pacer stops recommending sleep entirely. Attempting to
	// "catch up" against persistent drift causes runaway oscillation.
	driftWindow = 10
)

// FramePacer predicts the next frame's duration from recent history and
// computes how long the render loop should sleep to hold a target frame
// rate. It never recommends a negative wait and never attempts to catch up
// after sustained overruns.
//
// FramePacer is safe for concurrent use, though in the intended threading
// model only the render loop calls it.
type FramePacer struct {
	mu        sync.Mutex
	target    time.Duration // target frame time (1s / fps)
	history   *timingHistory
	predicted time.Duration // smoothed next-frame estimate
	overRun   int           // consecutive samples exceeding target
}

// NewFramePacer creates a pacer for the given target frame rate.
//
// historySize selects the retained sample window; pass 0 for
// DefaultHistorySize. Returns ErrInvalidFrameRate if fps <= 0 and
// ErrInvalidHistorySize if historySize is negative or exceeds
// MaxHistorySize.
func NewFramePacer(fps float64, historySize int) (*FramePacer, error) {
	if fps <= 0 {
		return nil, ErrInvalidFrameRate
	}
	if historySize < 0 || historySize > MaxHistorySize {
		return nil, ErrInvalidHistorySize
	}
	if historySize == 0 {
		historySize = DefaultHistorySize
	}
	return &FramePacer{
		target:  fpsToFrameTime(fps),
		history: newTimingHistory(historySize),
	}, nil
}

func fpsToFrameTime(fps float64) time.Duration {
	return time.Duration(float64(time.Second) / fps)
}

// RecordFrameTime appends a measured frame duration and updates the
// rolling statistics and the next-frame prediction.
func (p *FramePacer) RecordFrameTime(d time.Duration) {
	if d < 0 {
		d = 0
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.history.push(d)

	// Exponential smoothing. Seed from the first sample so early
	// predictions are not biased toward zero.
	if p.history.len() == 1 {
		p.predicted = d
	} else {
		p.predicted += time.Duration(predictionWeight * float64(d-p.predicted))
	}

	if d > p.target {
		p.overRun++
	} else {
		p.overRun = 0
	}
}

// CalculateSleepTime returns the recommended wait before starting the next
// frame: max(0, target - predicted).
//
// It returns 0 when the last recorded frame already met or exceeded the
// target, and 0 under persistent drift (driftWindow consecutive overruns),
// so an overloaded loop degrades to running flat out instead of
// oscillating.
func (p *FramePacer) CalculateSleepTime() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()

	if last, ok := p.history.last(); ok && last.duration >= p.target {
		return 0
	}
	if p.overRun >= driftWindow {
		return 0
	}
	if sleep := p.target - p.predicted; sleep > 0 {
		return sleep
	}
	return 0
}

// SetTargetFrameRate updates the target frame time to 1s/fps.
// Returns ErrInvalidFrameRate if fps <= 0; the current target is kept.
func (p *FramePacer) SetTargetFrameRate(fps float64) error {
	if fps <= 0 {
		return ErrInvalidFrameRate
	}
	p.mu.Lock()
	p.target = fpsToFrameTime(fps)
	p.mu.Unlock()
	return nil
}

// TargetFrameTime returns the current target frame duration.
func (p *FramePacer) TargetFrameTime() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.target
}

// ClearHistory resets the sample window and all prediction state. No
// hidden state survives a clear.
func (p *FramePacer) ClearHistory() {
	p.mu.Lock()
	p.history.clear()
	p.predicted = 0
	p.overRun = 0
	p.mu.Unlock()
}

// PacerStats is a snapshot of the pacer's rolling statistics. All fields
// are zero when the history is empty.
type PacerStats struct {
	Average     time.Duration
	StdDev      time.Duration
	Min         time.Duration
	Max         time.Duration
	Predicted   time.Duration
	SampleCount int
}

// Stats returns a snapshot of the rolling frame-time statistics.
func (p *FramePacer) Stats() PacerStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	hs := p.history.stats()
	return PacerStats{
		Average:     hs.average,
		StdDev:      hs.stdDev,
		Min:         hs.min,
		Max:         hs.max,
		Predicted:   p.predicted,
		SampleCount: p.history.len(),
	}
}
