package frameloop

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MaxInFlightLimit is the largest supported number of in-flight frames.
// Letting the CPU run further ahead of the GPU than this only adds latency.
const MaxInFlightLimit = 8

// TokenState is the lifecycle state of a FrameToken.
type TokenState int32

// Token lifecycle: Pending (allocated, GPU work not yet submitted) ->
// Submitted (fence scheduled) -> Completed (fence observed signaled,
// token recycled).
const (
	TokenPending TokenState = iota
	TokenSubmitted
	TokenCompleted
)

// String returns the name of the token state.
func (s TokenState) String() string {
	switch s {
	case TokenPending:
		return "pending"
	case TokenSubmitted:
		return "submitted"
	case TokenCompleted:
		return "completed"
	default:
		return "unknown"
	}
}

// FrameToken represents one in-flight frame from allocation to GPU
// completion. Tokens are owned exclusively by their Synchronizer; callers
// hold one between BeginFrame and EndFrame and must not retain it after.
type FrameToken struct {
	owner *Synchronizer
	index uint64
	start time.Time

	// Guarded by owner.mu.
	state TokenState
	fence Fence

	// submitted is closed when the token transitions to Submitted, waking
	// a BeginFrame blocked on a still-pending oldest frame.
	submitted chan struct{}
}

// Index returns the token's monotonic frame index.
func (t *FrameToken) Index() uint64 { return t.index }

// Start returns the timestamp captured when the frame began.
func (t *FrameToken) Start() time.Time { return t.start }

// State returns the token's current lifecycle state.
func (t *FrameToken) State() TokenState {
	t.owner.mu.Lock()
	defer t.owner.mu.Unlock()
	return t.state
}

// SyncConfig configures a Synchronizer.
type SyncConfig struct {
	// MaxInFlight is the maximum number of frames in Pending or Submitted
	// state. Must be in [1, MaxInFlightLimit].
	MaxInFlight int

	// FrameBudget is the duration threshold above which a completed frame
	// raises a FrameBudgetExceeded alert. Zero disables budget alerts.
	FrameBudget time.Duration

	// InitialPoolSize pre-allocates recycled tokens. Must not be negative.
	// Zero allocates tokens lazily.
	InitialPoolSize int

	// Clock is the time source. Nil selects SystemClock.
	Clock Clock

	// Metrics receives frame duration samples and budget alerts.
	// Nil selects NopSink.
	Metrics MetricsSink
}

// Synchronizer owns the bounded set of in-flight frame tokens. It enforces
// the maximum concurrency of outstanding frames: BeginFrame blocks only
// when the bound is exhausted, waiting for the oldest frame's fence. This
// bound is what prevents unbounded CPU-ahead-of-GPU drift.
//
// BeginFrame and EndFrame are driven by the single render-loop goroutine;
// the accessors are safe from any goroutine.
type Synchronizer struct {
	clock Clock
	sink  MetricsSink

	maxInFlight int
	budget      time.Duration

	mu        sync.Mutex
	inflight  []*FrameToken // FIFO, oldest first
	free      []*FrameToken
	nextIndex uint64
}

// NewSynchronizer creates a frame synchronizer.
//
// Returns ErrInvalidInFlight if MaxInFlight is outside [1, MaxInFlightLimit],
// ErrInvalidPoolSize if InitialPoolSize is negative, and ErrInvalidBudget
// if FrameBudget is negative. Invalid configuration is never clamped.
func NewSynchronizer(cfg SyncConfig) (*Synchronizer, error) {
	if cfg.MaxInFlight < 1 || cfg.MaxInFlight > MaxInFlightLimit {
		return nil, fmt.Errorf("%w: %d", ErrInvalidInFlight, cfg.MaxInFlight)
	}
	if cfg.InitialPoolSize < 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidPoolSize, cfg.InitialPoolSize)
	}
	if cfg.FrameBudget < 0 {
		return nil, ErrInvalidBudget
	}

	clock := cfg.Clock
	if clock == nil {
		clock = SystemClock()
	}
	sink := cfg.Metrics
	if sink == nil {
		sink = NopSink{}
	}

	s := &Synchronizer{
		clock:       clock,
		sink:        sink,
		maxInFlight: cfg.MaxInFlight,
		budget:      cfg.FrameBudget,
	}
	for i := 0; i < cfg.InitialPoolSize; i++ {
		s.free = append(s.free, &FrameToken{owner: s})
	}
	return s, nil
}

// BeginFrame allocates a frame token, blocking while MaxInFlight frames
// are outstanding. The wait is bounded: it ends as soon as the oldest
// in-flight frame's fence signals.
//
// Cancelling ctx aborts the wait and returns ctx.Err() without allocating;
// the in-flight set is left untouched.
func (s *Synchronizer) BeginFrame(ctx context.Context) (*FrameToken, error) {
	for {
		s.mu.Lock()
		s.reapLocked()
		if len(s.inflight) < s.maxInFlight {
			token := s.allocLocked()
			s.mu.Unlock()
			return token, nil
		}

		// Bound exhausted: pick the channel to wait on. A still-pending
		// oldest frame has no fence yet, so wait for its submission first.
		oldest := s.inflight[0]
		var wait <-chan struct{}
		if oldest.state == TokenSubmitted {
			wait = oldest.fence.Done()
		} else {
			wait = oldest.submitted
		}
		s.mu.Unlock()

		select {
		case <-wait:
			// Re-check under the lock; reapLocked recycles the token.
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// EndFrame transitions the token from Pending to Submitted, attaches the
// fence that will signal when the frame's GPU work completes, and returns
// the measured wall-clock frame duration.
//
// A frame exceeding the configured budget raises a FrameBudgetExceeded
// alert through the metrics sink; the error return is reserved for
// programming mistakes (nil/foreign/reused tokens).
func (s *Synchronizer) EndFrame(token *FrameToken, fence Fence) (time.Duration, error) {
	if token == nil {
		return 0, ErrNilToken
	}
	if token.owner != s {
		return 0, ErrForeignToken
	}
	if fence == nil {
		return 0, ErrNilFence
	}

	s.mu.Lock()
	if token.state != TokenPending {
		s.mu.Unlock()
		return 0, fmt.Errorf("%w: frame %d is %s", ErrTokenNotPending, token.index, token.state)
	}
	token.state = TokenSubmitted
	token.fence = fence
	close(token.submitted)
	s.mu.Unlock()

	elapsed := s.clock.Now().Sub(token.start)
	s.sink.RecordMetric("frame", "duration_ms", float64(elapsed)/float64(time.Millisecond), "ms")
	if s.budget > 0 && elapsed > s.budget {
		s.sink.RaiseAlert(SeverityWarning,
			fmt.Sprintf("frame %d took %v, budget %v", token.index, elapsed, s.budget),
			s.clock.Now())
	}
	return elapsed, nil
}

// InFlight returns the number of tokens in Pending or Submitted state.
func (s *Synchronizer) InFlight() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reapLocked()
	return len(s.inflight)
}

// MaxInFlight returns the configured in-flight bound.
func (s *Synchronizer) MaxInFlight() int { return s.maxInFlight }

// FrameBudget returns the configured budget threshold.
func (s *Synchronizer) FrameBudget() time.Duration { return s.budget }

// reapLocked completes and recycles in-flight tokens whose fences have
// signaled. Frames complete in submission order, so only the front of the
// FIFO is inspected.
func (s *Synchronizer) reapLocked() {
	for len(s.inflight) > 0 {
		oldest := s.inflight[0]
		if oldest.state != TokenSubmitted || !oldest.fence.Signaled() {
			return
		}
		oldest.state = TokenCompleted
		oldest.fence = nil
		s.inflight[0] = nil
		s.inflight = s.inflight[1:]
		s.free = append(s.free, oldest)
	}
}

// allocLocked issues a new Pending token, reusing a recycled one when
// available.
func (s *Synchronizer) allocLocked() *FrameToken {
	var token *FrameToken
	if n := len(s.free); n > 0 {
		token = s.free[n-1]
		s.free = s.free[:n-1]
	} else {
		token = &FrameToken{owner: s}
	}
	token.index = s.nextIndex
	s.nextIndex++
	token.start = s.clock.Now()
	token.state = TokenPending
	token.fence = nil
	token.submitted = make(chan struct{})
	s.inflight = append(s.inflight, token)
	return token
}
