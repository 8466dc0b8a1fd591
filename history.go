package frameloop

import (
	"math"
	"time"
)

// timingSample is a single measured frame duration with a sequence number.
type timingSample struct {
	seq      uint64
	duration time.Duration
}

// timingHistory is a fixed-capacity ring buffer of frame timing samples.
// Oldest samples are overwritten once capacity is reached.
//
// The history is not thread-safe; FramePacer handles synchronization.
type timingHistory struct {
	buf     []timingSample
	head    int // index of the next write
	count   int
	nextSeq uint64
}

func newTimingHistory(capacity int) *timingHistory {
	return &timingHistory{buf: make([]timingSample, capacity)}
}

// push appends a sample, overwriting the oldest one at capacity, and
// returns the assigned sequence number.
func (h *timingHistory) push(d time.Duration) uint64 {
	seq := h.nextSeq
	h.nextSeq++
	h.buf[h.head] = timingSample{seq: seq, duration: d}
	h.head = (h.head + 1) % len(h.buf)
	if h.count < len(h.buf) {
		h.count++
	}
	return seq
}

func (h *timingHistory) len() int { return h.count }

// last returns the most recent sample.
func (h *timingHistory) last() (timingSample, bool) {
	if h.count == 0 {
		return timingSample{}, false
	}
	idx := (h.head - 1 + len(h.buf)) % len(h.buf)
	return h.buf[idx], true
}

func (h *timingHistory) clear() {
	h.head = 0
	h.count = 0
	h.nextSeq = 0
}

// historyStats is a snapshot of rolling statistics over retained samples.
type historyStats struct {
	average time.Duration
	stdDev  time.Duration
	min     time.Duration
	max     time.Duration
}

// stats computes rolling statistics over the retained window. An empty
// history yields all-zero stats, never NaN.
func (h *timingHistory) stats() historyStats {
	if h.count == 0 {
		return historyStats{}
	}

	start := (h.head - h.count + len(h.buf)) % len(h.buf)
	var (
		sum time.Duration
		mn  = time.Duration(math.MaxInt64)
		mx  time.Duration
	)
	for i := 0; i < h.count; i++ {
		d := h.buf[(start+i)%len(h.buf)].duration
		sum += d
		if d < mn {
			mn = d
		}
		if d > mx {
			mx = d
		}
	}
	avg := sum / time.Duration(h.count)

	// Population variance in float seconds to avoid integer overflow on
	// long histories.
	var variance float64
	avgSec := avg.Seconds()
	for i := 0; i < h.count; i++ {
		diff := h.buf[(start+i)%len(h.buf)].duration.Seconds() - avgSec
		variance += diff * diff
	}
	variance /= float64(h.count)
	stdDev := time.Duration(math.Sqrt(variance) * float64(time.Second))

	return historyStats{average: avg, stdDev: stdDev, min: mn, max: mx}
}
