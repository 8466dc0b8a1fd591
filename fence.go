package frameloop

import "sync"

// Fence is a GPU-side completion marker the CPU can poll or wait on to
// know that previously submitted work has finished. A graphics-API binding
// supplies a Fence for each frame's submission; ManualFence is provided
// for bindings that poll completion themselves and for tests.
type Fence interface {
	// Signaled reports whether the fence has been signaled. Once true it
	// stays true.
	Signaled() bool

	// Done returns a channel that is closed when the fence signals.
	Done() <-chan struct{}
}

// ManualFence is a software Fence signaled explicitly by the host.
//
// ManualFence is safe for concurrent use. Signal is idempotent.
type ManualFence struct {
	once sync.Once
	done chan struct{}
}

// NewManualFence creates an unsignaled fence.
func NewManualFence() *ManualFence {
	return &ManualFence{done: make(chan struct{})}
}

// Signal marks the fence as signaled, waking any waiters.
func (f *ManualFence) Signal() {
	f.once.Do(func() { close(f.done) })
}

// Signaled implements Fence.
func (f *ManualFence) Signaled() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// Done implements Fence.
func (f *ManualFence) Done() <-chan struct{} { return f.done }

// SignaledFence returns a fence that is already signaled. Useful for
// CPU-only frames that submit no GPU work.
func SignaledFence() Fence {
	f := NewManualFence()
	f.Signal()
	return f
}
