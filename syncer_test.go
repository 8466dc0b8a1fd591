package frameloop

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestNewSynchronizerValidation(t *testing.T) {
	tests := []struct {
		name string
		cfg  SyncConfig
		want error
	}{
		{"zero in-flight", SyncConfig{MaxInFlight: 0}, ErrInvalidInFlight},
		{"in-flight over limit", SyncConfig{MaxInFlight: MaxInFlightLimit + 1}, ErrInvalidInFlight},
		{"negative pool", SyncConfig{MaxInFlight: 2, InitialPoolSize: -1}, ErrInvalidPoolSize},
		{"negative budget", SyncConfig{MaxInFlight: 2, FrameBudget: -time.Millisecond}, ErrInvalidBudget},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewSynchronizer(tt.cfg); !errors.Is(err, tt.want) {
				t.Fatalf("NewSynchronizer error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestTokenLifecycle(t *testing.T) {
	clock := newFakeClock()
	s, err := NewSynchronizer(SyncConfig{MaxInFlight: 2, Clock: clock})
	if err != nil {
		t.Fatal(err)
	}

	token, err := s.BeginFrame(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if token.State() != TokenPending {
		t.Fatalf("state after BeginFrame = %v, want pending", token.State())
	}
	if token.Index() != 0 {
		t.Fatalf("first frame index = %d, want 0", token.Index())
	}

	fence := NewManualFence()
	clock.advance(8 * time.Millisecond)
	elapsed, err := s.EndFrame(token, fence)
	if err != nil {
		t.Fatal(err)
	}
	if elapsed != 8*time.Millisecond {
		t.Fatalf("elapsed = %v, want 8ms", elapsed)
	}
	if token.State() != TokenSubmitted {
		t.Fatalf("state after EndFrame = %v, want submitted", token.State())
	}
	if got := s.InFlight(); got != 1 {
		t.Fatalf("in-flight = %d, want 1", got)
	}

	fence.Signal()
	if got := s.InFlight(); got != 0 {
		t.Fatalf("in-flight after signal = %d, want 0", got)
	}
	if token.State() != TokenCompleted {
		t.Fatalf("state after reap = %v, want completed", token.State())
	}
}

func TestBeginFrameBlocksAtCapacity(t *testing.T) {
	s, err := NewSynchronizer(SyncConfig{MaxInFlight: 1, Clock: newFakeClock()})
	if err != nil {
		t.Fatal(err)
	}

	first, err := s.BeginFrame(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	fence := NewManualFence()
	if _, err := s.EndFrame(first, fence); err != nil {
		t.Fatal(err)
	}

	got := make(chan *FrameToken, 1)
	go func() {
		token, err := s.BeginFrame(context.Background())
		if err != nil {
			got <- nil
			return
		}
		got <- token
	}()

	select {
	case <-got:
		t.Fatal("BeginFrame returned with the in-flight bound exhausted")
	case <-time.After(50 * time.Millisecond):
	}

	fence.Signal()
	select {
	case token := <-got:
		if token == nil {
			t.Fatal("BeginFrame failed after the fence signaled")
		}
		if token.Index() != 1 {
			t.Fatalf("second frame index = %d, want 1", token.Index())
		}
	case <-time.After(time.Second):
		t.Fatal("BeginFrame still blocked after the fence signaled")
	}
}

func TestBeginFrameWaitsForSubmission(t *testing.T) {
	s, err := NewSynchronizer(SyncConfig{MaxInFlight: 1, Clock: newFakeClock()})
	if err != nil {
		t.Fatal(err)
	}

	first, err := s.BeginFrame(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	// The bound is exhausted by a still-pending frame: the waiter must
	// first see the submission, then the fence.
	got := make(chan *FrameToken, 1)
	go func() {
		token, _ := s.BeginFrame(context.Background())
		got <- token
	}()

	select {
	case <-got:
		t.Fatal("BeginFrame returned while the only frame was still pending")
	case <-time.After(50 * time.Millisecond):
	}

	if _, err := s.EndFrame(first, SignaledFence()); err != nil {
		t.Fatal(err)
	}

	select {
	case token := <-got:
		if token == nil {
			t.Fatal("BeginFrame failed after submission")
		}
	case <-time.After(time.Second):
		t.Fatal("BeginFrame still blocked after the frame completed")
	}
}

func TestBeginFrameContextCancel(t *testing.T) {
	s, err := NewSynchronizer(SyncConfig{MaxInFlight: 1, Clock: newFakeClock()})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.BeginFrame(context.Background()); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := s.BeginFrame(ctx)
		errCh <- err
	}()

	cancel()
	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("BeginFrame error = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("BeginFrame ignored context cancellation")
	}

	// The aborted wait must not have touched the in-flight set.
	if got := s.InFlight(); got != 1 {
		t.Fatalf("in-flight after cancel = %d, want 1", got)
	}
}

func TestEndFrameValidation(t *testing.T) {
	s, err := NewSynchronizer(SyncConfig{MaxInFlight: 2, Clock: newFakeClock()})
	if err != nil {
		t.Fatal(err)
	}
	other, err := NewSynchronizer(SyncConfig{MaxInFlight: 2, Clock: newFakeClock()})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := s.EndFrame(nil, SignaledFence()); !errors.Is(err, ErrNilToken) {
		t.Fatalf("nil token error = %v, want ErrNilToken", err)
	}

	foreign, err := other.BeginFrame(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.EndFrame(foreign, SignaledFence()); !errors.Is(err, ErrForeignToken) {
		t.Fatalf("foreign token error = %v, want ErrForeignToken", err)
	}

	token, err := s.BeginFrame(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.EndFrame(token, nil); !errors.Is(err, ErrNilFence) {
		t.Fatalf("nil fence error = %v, want ErrNilFence", err)
	}

	if _, err := s.EndFrame(token, SignaledFence()); err != nil {
		t.Fatal(err)
	}
	if _, err := s.EndFrame(token, SignaledFence()); !errors.Is(err, ErrTokenNotPending) {
		t.Fatalf("double EndFrame error = %v, want ErrTokenNotPending", err)
	}
}

func TestEndFrameBudgetAlert(t *testing.T) {
	clock := newFakeClock()
	sink := &recordingSink{}
	s, err := NewSynchronizer(SyncConfig{
		MaxInFlight: 2,
		FrameBudget: 10 * time.Millisecond,
		Clock:       clock,
		Metrics:     sink,
	})
	if err != nil {
		t.Fatal(err)
	}

	token, err := s.BeginFrame(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	clock.advance(5 * time.Millisecond)
	if _, err := s.EndFrame(token, SignaledFence()); err != nil {
		t.Fatal(err)
	}
	if got := sink.alertCount(); got != 0 {
		t.Fatalf("alerts after in-budget frame = %d, want 0", got)
	}

	token, err = s.BeginFrame(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	clock.advance(25 * time.Millisecond)
	if _, err := s.EndFrame(token, SignaledFence()); err != nil {
		t.Fatal(err)
	}
	if got := sink.alertCount(); got != 1 {
		t.Fatalf("alerts after over-budget frame = %d, want 1", got)
	}
}

func TestTokenPoolRecycling(t *testing.T) {
	clock := newFakeClock()
	s, err := NewSynchronizer(SyncConfig{MaxInFlight: 1, InitialPoolSize: 1, Clock: clock})
	if err != nil {
		t.Fatal(err)
	}

	first, err := s.BeginFrame(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.EndFrame(first, SignaledFence()); err != nil {
		t.Fatal(err)
	}

	second, err := s.BeginFrame(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if second != first {
		t.Fatal("completed token was not recycled")
	}
	if second.Index() != 1 || second.State() != TokenPending {
		t.Fatalf("recycled token index=%d state=%v, want 1/pending", second.Index(), second.State())
	}
}
