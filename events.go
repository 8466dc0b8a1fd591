package frameloop

import (
	"fmt"
	"sync"
	"time"
)

// AlertKind identifies the condition that triggered an engine alert.
type AlertKind int

// Engine alert kinds.
const (
	// AlertFrameBudgetExceeded means a frame's measured duration exceeded
	// the configured budget threshold.
	AlertFrameBudgetExceeded AlertKind = iota

	// AlertBudgetExceeded means a non-frame resource budget was exceeded
	// (e.g. the pipeline cache memory estimate).
	AlertBudgetExceeded

	// AlertQueueOverflow means a scheduler queue dropped an event to admit
	// a new one.
	AlertQueueOverflow
)

// String returns the name of the alert kind.
func (k AlertKind) String() string {
	switch k {
	case AlertFrameBudgetExceeded:
		return "frame_budget_exceeded"
	case AlertBudgetExceeded:
		return "budget_exceeded"
	case AlertQueueOverflow:
		return "queue_overflow"
	default:
		return "unknown"
	}
}

// Alert carries an observational engine alert. Alerts report overload
// conditions; they never stop the render loop.
type Alert struct {
	Kind      AlertKind
	Message   string
	Timestamp time.Time
}

// FrameInfo describes one completed frame, delivered to FrameListeners
// after EndFrame.
type FrameInfo struct {
	// Frame is the monotonic frame index.
	Frame uint64

	// Duration is the measured wall-clock frame duration.
	Duration time.Duration

	// Sleep is the pacing sleep recommended before the next frame.
	Sleep time.Duration
}

// FrameListener receives a notification after each completed frame.
type FrameListener interface {
	FrameRendered(info FrameInfo)
}

// AlertListener receives engine alerts.
type AlertListener interface {
	EngineAlert(alert Alert)
}

// listenerSet holds the engine's registered listeners. Dispatch order is
// insertion order; each call is isolated so one listener's panic cannot
// block the others.
type listenerSet struct {
	mu     sync.RWMutex
	frame  []FrameListener
	alerts []AlertListener
}

func (ls *listenerSet) addFrame(l FrameListener) {
	ls.mu.Lock()
	ls.frame = append(ls.frame, l)
	ls.mu.Unlock()
}

func (ls *listenerSet) addAlert(l AlertListener) {
	ls.mu.Lock()
	ls.alerts = append(ls.alerts, l)
	ls.mu.Unlock()
}

func (ls *listenerSet) notifyFrame(info FrameInfo) {
	ls.mu.RLock()
	listeners := ls.frame
	ls.mu.RUnlock()

	for _, l := range listeners {
		Notify(func() { l.FrameRendered(info) })
	}
}

func (ls *listenerSet) notifyAlert(alert Alert) {
	ls.mu.RLock()
	listeners := ls.alerts
	ls.mu.RUnlock()

	for _, l := range listeners {
		Notify(func() { l.EngineAlert(alert) })
	}
}

// Notify invokes fn, converting a panic into a logged warning. It returns
// the recovered panic as an error, or nil. Listener dispatch throughout
// frameloop and its sub-packages runs through Notify so that one failing
// subscriber never prevents the remaining subscribers from being called.
func Notify(fn func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("frameloop: listener panic: %v", r)
			Logger().Warn("listener panic recovered", "panic", r)
		}
	}()
	fn()
	return nil
}
