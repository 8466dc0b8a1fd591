package frameloop

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// FrameProcessor is work driven once per rendered frame, between the
// caller's GPU submission and the frame's EndFrame bookkeeping. The
// audio-visual scheduler (avsched.Scheduler) implements it.
type FrameProcessor interface {
	ProcessFrame()
}

// Config configures an Engine.
type Config struct {
	// TargetFPS is the target frame rate. Must be positive.
	TargetFPS float64

	// MaxInFlight is the maximum number of outstanding frames.
	// Must be in [1, MaxInFlightLimit].
	MaxInFlight int

	// FrameBudget is the alert threshold for slow frames.
	// Zero selects 150% of the target frame time.
	FrameBudget time.Duration

	// HistorySize is the pacer's sample window. Zero selects
	// DefaultHistorySize.
	HistorySize int

	// InitialPoolSize pre-allocates frame tokens. Must not be negative.
	InitialPoolSize int

	// Clock is the time source. Nil selects SystemClock.
	Clock Clock

	// Metrics receives samples and alerts from all components.
	// Nil selects NopSink.
	Metrics MetricsSink
}

// Engine ties the frame pacer and synchronizer together behind a single
// per-frame API and fans completed-frame notifications out to listeners.
//
// Per-frame control flow: BeginFrame allocates a token (waiting if the
// in-flight budget is exhausted), the caller submits GPU work, EndFrame
// drives attached frame processors, signals the token, feeds the pacer,
// and WaitNextFrame sleeps off the pacing recommendation.
type Engine struct {
	clock  Clock
	sink   MetricsSink
	pacer  *FramePacer
	syncer *Synchronizer

	listeners listenerSet

	procMu     sync.RWMutex
	processors []FrameProcessor
}

// New creates an Engine. Configuration errors fail fast: an invalid target
// frame rate, in-flight count, history size, or pool size is reported
// immediately and never clamped.
func New(cfg Config) (*Engine, error) {
	clock := cfg.Clock
	if clock == nil {
		clock = SystemClock()
	}
	sink := cfg.Metrics
	if sink == nil {
		sink = NopSink{}
	}

	pacer, err := NewFramePacer(cfg.TargetFPS, cfg.HistorySize)
	if err != nil {
		return nil, err
	}

	budget := cfg.FrameBudget
	if budget < 0 {
		return nil, ErrInvalidBudget
	}
	if budget == 0 {
		budget = pacer.TargetFrameTime() * 3 / 2
	}

	syncer, err := NewSynchronizer(SyncConfig{
		MaxInFlight:     cfg.MaxInFlight,
		FrameBudget:     budget,
		InitialPoolSize: cfg.InitialPoolSize,
		Clock:           clock,
		Metrics:         sink,
	})
	if err != nil {
		return nil, err
	}

	Logger().Info("engine created",
		"target_fps", cfg.TargetFPS,
		"max_in_flight", cfg.MaxInFlight,
		"frame_budget", budget)

	return &Engine{
		clock:  clock,
		sink:   sink,
		pacer:  pacer,
		syncer: syncer,
	}, nil
}

// BeginFrame allocates the next frame token, blocking while MaxInFlight
// frames are outstanding. See Synchronizer.BeginFrame.
func (e *Engine) BeginFrame(ctx context.Context) (*FrameToken, error) {
	return e.syncer.BeginFrame(ctx)
}

// EndFrame completes the CPU side of a frame: it drives attached frame
// processors, submits the token with its fence, records the measured
// duration into the pacer, and notifies listeners. The returned FrameInfo
// carries the measured duration and the recommended pacing sleep.
//
// Budget overruns surface as alerts, not errors; the error return is
// reserved for token misuse.
func (e *Engine) EndFrame(token *FrameToken, fence Fence) (FrameInfo, error) {
	e.procMu.RLock()
	processors := e.processors
	e.procMu.RUnlock()
	for _, p := range processors {
		Notify(p.ProcessFrame)
	}

	elapsed, err := e.syncer.EndFrame(token, fence)
	if err != nil {
		return FrameInfo{}, err
	}

	e.pacer.RecordFrameTime(elapsed)
	sleep := e.pacer.CalculateSleepTime()

	if budget := e.syncer.FrameBudget(); budget > 0 && elapsed > budget {
		e.listeners.notifyAlert(Alert{
			Kind:      AlertFrameBudgetExceeded,
			Message:   fmt.Sprintf("frame %d took %v, budget %v", token.Index(), elapsed, budget),
			Timestamp: e.clock.Now(),
		})
	}

	info := FrameInfo{Frame: token.Index(), Duration: elapsed, Sleep: sleep}
	e.listeners.notifyFrame(info)
	return info, nil
}

// WaitNextFrame sleeps for the pacer's current recommendation. It returns
// early with ctx.Err() if the context is cancelled mid-sleep.
func (e *Engine) WaitNextFrame(ctx context.Context) error {
	d := e.pacer.CalculateSleepTime()
	if d <= 0 {
		return ctx.Err()
	}

	done := make(chan struct{})
	go func() {
		e.clock.Sleep(d)
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// AttachProcessor registers per-frame work driven by EndFrame. Processors
// run in attachment order; a panicking processor is isolated and logged.
func (e *Engine) AttachProcessor(p FrameProcessor) {
	e.procMu.Lock()
	e.processors = append(e.processors, p)
	e.procMu.Unlock()
}

// AddFrameListener registers a listener for completed frames.
// Listeners are notified in registration order.
func (e *Engine) AddFrameListener(l FrameListener) { e.listeners.addFrame(l) }

// AddAlertListener registers a listener for engine alerts.
func (e *Engine) AddAlertListener(l AlertListener) { e.listeners.addAlert(l) }

// RaiseAlert fans an alert out to alert listeners and the metrics sink.
// Sub-systems wired to the engine (cache, scheduler) report overload
// conditions through this so hosts observe a single alert stream.
func (e *Engine) RaiseAlert(alert Alert) {
	e.sink.RaiseAlert(SeverityWarning, alert.Kind.String()+": "+alert.Message, alert.Timestamp)
	e.listeners.notifyAlert(alert)
}

// Pacer returns the engine's frame pacer.
func (e *Engine) Pacer() *FramePacer { return e.pacer }

// Synchronizer returns the engine's frame synchronizer.
func (e *Engine) Synchronizer() *Synchronizer { return e.syncer }

// Clock returns the engine's time source.
func (e *Engine) Clock() Clock { return e.clock }
