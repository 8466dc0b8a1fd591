package frameloop

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func testEngineConfig(clock Clock) Config {
	return Config{
		TargetFPS:   60,
		MaxInFlight: 2,
		Clock:       clock,
	}
}

type recordingFrameListener struct {
	mu     sync.Mutex
	frames []FrameInfo
}

func (l *recordingFrameListener) FrameRendered(info FrameInfo) {
	l.mu.Lock()
	l.frames = append(l.frames, info)
	l.mu.Unlock()
}

type recordingAlertListener struct {
	mu     sync.Mutex
	alerts []Alert
}

func (l *recordingAlertListener) EngineAlert(alert Alert) {
	l.mu.Lock()
	l.alerts = append(l.alerts, alert)
	l.mu.Unlock()
}

type countingProcessor struct{ calls int }

func (p *countingProcessor) ProcessFrame() { p.calls++ }

type panickyProcessor struct{}

func (panickyProcessor) ProcessFrame() { panic("processor failure") }

func TestNewEngineValidation(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		want error
	}{
		{"zero fps", Config{MaxInFlight: 2}, ErrInvalidFrameRate},
		{"zero in-flight", Config{TargetFPS: 60}, ErrInvalidInFlight},
		{"negative budget", Config{TargetFPS: 60, MaxInFlight: 2, FrameBudget: -time.Millisecond}, ErrInvalidBudget},
		{"bad history", Config{TargetFPS: 60, MaxInFlight: 2, HistorySize: -1}, ErrInvalidHistorySize},
		{"negative pool", Config{TargetFPS: 60, MaxInFlight: 2, InitialPoolSize: -1}, ErrInvalidPoolSize},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.cfg); !errors.Is(err, tt.want) {
				t.Fatalf("New error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestNewEngineDefaultBudget(t *testing.T) {
	e, err := New(testEngineConfig(newFakeClock()))
	if err != nil {
		t.Fatal(err)
	}
	// Default budget is 150% of the target frame time.
	want := (time.Second / 60) * 3 / 2
	if got := e.Synchronizer().FrameBudget(); got != want {
		t.Fatalf("default budget = %v, want %v", got, want)
	}
}

func TestEngineFrameFlow(t *testing.T) {
	clock := newFakeClock()
	e, err := New(testEngineConfig(clock))
	if err != nil {
		t.Fatal(err)
	}

	frames := &recordingFrameListener{}
	proc := &countingProcessor{}
	e.AddFrameListener(frames)
	e.AttachProcessor(proc)

	token, err := e.BeginFrame(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	clock.advance(10 * time.Millisecond)
	info, err := e.EndFrame(token, SignaledFence())
	if err != nil {
		t.Fatal(err)
	}

	if info.Frame != 0 || info.Duration != 10*time.Millisecond {
		t.Fatalf("frame info = %+v, want frame 0 at 10ms", info)
	}
	if info.Sleep <= 0 {
		t.Fatalf("sleep = %v for a fast frame, want > 0", info.Sleep)
	}
	if proc.calls != 1 {
		t.Fatalf("processor ran %d times, want 1", proc.calls)
	}
	if len(frames.frames) != 1 || frames.frames[0] != info {
		t.Fatalf("frame listener saw %v, want [%+v]", frames.frames, info)
	}
}

func TestEngineBudgetAlertListeners(t *testing.T) {
	clock := newFakeClock()
	cfg := testEngineConfig(clock)
	cfg.FrameBudget = 10 * time.Millisecond
	e, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	alerts := &recordingAlertListener{}
	e.AddAlertListener(alerts)

	token, err := e.BeginFrame(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	clock.advance(30 * time.Millisecond)
	if _, err := e.EndFrame(token, SignaledFence()); err != nil {
		t.Fatal(err)
	}

	if len(alerts.alerts) != 1 {
		t.Fatalf("alert listeners saw %d alerts, want 1", len(alerts.alerts))
	}
	if alerts.alerts[0].Kind != AlertFrameBudgetExceeded {
		t.Fatalf("alert kind = %v, want frame budget exceeded", alerts.alerts[0].Kind)
	}
}

func TestEngineProcessorPanicIsolation(t *testing.T) {
	clock := newFakeClock()
	e, err := New(testEngineConfig(clock))
	if err != nil {
		t.Fatal(err)
	}
	good := &countingProcessor{}
	e.AttachProcessor(panickyProcessor{})
	e.AttachProcessor(good)

	token, err := e.BeginFrame(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := e.EndFrame(token, SignaledFence()); err != nil {
		t.Fatal(err)
	}
	if good.calls != 1 {
		t.Fatalf("healthy processor ran %d times, want 1", good.calls)
	}
}

func TestEngineEndFrameTokenMisuse(t *testing.T) {
	e, err := New(testEngineConfig(newFakeClock()))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := e.EndFrame(nil, SignaledFence()); !errors.Is(err, ErrNilToken) {
		t.Fatalf("nil token error = %v, want ErrNilToken", err)
	}
}

func TestEngineWaitNextFrame(t *testing.T) {
	clock := newFakeClock()
	e, err := New(testEngineConfig(clock))
	if err != nil {
		t.Fatal(err)
	}

	// A fast frame produces a pacing recommendation; the fake clock's
	// Sleep returns immediately, so WaitNextFrame must not block.
	token, err := e.BeginFrame(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	clock.advance(5 * time.Millisecond)
	if _, err := e.EndFrame(token, SignaledFence()); err != nil {
		t.Fatal(err)
	}
	before := clock.Now()
	if err := e.WaitNextFrame(context.Background()); err != nil {
		t.Fatal(err)
	}
	if !clock.Now().After(before) {
		t.Fatal("WaitNextFrame did not sleep on the clock")
	}
}

func TestEngineRaiseAlert(t *testing.T) {
	sink := &recordingSink{}
	cfg := testEngineConfig(newFakeClock())
	cfg.Metrics = sink
	e, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	alerts := &recordingAlertListener{}
	e.AddAlertListener(alerts)

	e.RaiseAlert(Alert{Kind: AlertQueueOverflow, Message: "audio queue overflow"})

	if sink.alertCount() != 1 {
		t.Fatalf("sink saw %d alerts, want 1", sink.alertCount())
	}
	if len(alerts.alerts) != 1 || alerts.alerts[0].Kind != AlertQueueOverflow {
		t.Fatalf("listener saw %v, want one queue overflow alert", alerts.alerts)
	}
}
