package frameloop

import "errors"

// Configuration errors. These are returned from constructors; invalid
// configuration always fails fast and is never silently clamped.
var (
	// ErrInvalidFrameRate is returned when the target frame rate is not positive.
	ErrInvalidFrameRate = errors.New("frameloop: target frame rate must be positive")

	// ErrInvalidInFlight is returned when the max in-flight frame count is
	// outside the supported range [1, MaxInFlightLimit].
	ErrInvalidInFlight = errors.New("frameloop: max in-flight frames out of range")

	// ErrInvalidHistorySize is returned when the frame history size is negative
	// or exceeds MaxHistorySize.
	ErrInvalidHistorySize = errors.New("frameloop: invalid frame history size")

	// ErrInvalidPoolSize is returned when a pool-size configuration value is
	// negative.
	ErrInvalidPoolSize = errors.New("frameloop: pool size must not be negative")

	// ErrInvalidBudget is returned when the frame budget is negative.
	ErrInvalidBudget = errors.New("frameloop: frame budget must not be negative")
)

// Programming errors. These indicate misuse of the API rather than overload;
// overload conditions are reported through alerts, never as errors.
var (
	// ErrTokenNotPending is returned by EndFrame when the token has already
	// been submitted or completed.
	ErrTokenNotPending = errors.New("frameloop: frame token is not pending")

	// ErrNilToken is returned by EndFrame when the token is nil.
	ErrNilToken = errors.New("frameloop: frame token is nil")

	// ErrForeignToken is returned by EndFrame when the token was not issued
	// by this synchronizer.
	ErrForeignToken = errors.New("frameloop: frame token belongs to another synchronizer")

	// ErrNilFence is returned by EndFrame when no fence is supplied. Frames
	// that submit no GPU work should pass SignaledFence().
	ErrNilFence = errors.New("frameloop: fence is nil")
)
