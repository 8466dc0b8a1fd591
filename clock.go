package frameloop

import "time"

// Clock abstracts the time source used by the pacer, synchronizer, and
// scheduler. Injecting a Clock enables deterministic testing with a fake
// time source; production code uses SystemClock.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// Sleep blocks the calling goroutine for the given duration.
	// Implementations must tolerate zero and negative durations.
	Sleep(d time.Duration)
}

// systemClock is the production Clock backed by the runtime's
// high-resolution monotonic clock.
type systemClock struct{}

func (systemClock) Now() time.Time        { return time.Now() }
func (systemClock) Sleep(d time.Duration) { time.Sleep(d) }

// SystemClock returns the real-time Clock used by default.
func SystemClock() Clock { return systemClock{} }
