package frameloop

import (
	"testing"
	"time"
)

func TestTimingHistoryPushAndLast(t *testing.T) {
	h := newTimingHistory(3)

	if _, ok := h.last(); ok {
		t.Fatal("last on empty history returned a sample")
	}

	h.push(10 * time.Millisecond)
	h.push(20 * time.Millisecond)
	if h.len() != 2 {
		t.Fatalf("len = %d, want 2", h.len())
	}
	last, ok := h.last()
	if !ok || last.duration != 20*time.Millisecond {
		t.Fatalf("last = %v, %v, want 20ms", last.duration, ok)
	}
}

func TestTimingHistoryWraps(t *testing.T) {
	h := newTimingHistory(3)
	for i := 1; i <= 5; i++ {
		h.push(time.Duration(i) * time.Millisecond)
	}

	if h.len() != 3 {
		t.Fatalf("len = %d, want capacity 3", h.len())
	}
	st := h.stats()
	// Only samples 3, 4, 5 remain.
	if st.min != 3*time.Millisecond || st.max != 5*time.Millisecond {
		t.Fatalf("min/max = %v/%v, want 3ms/5ms", st.min, st.max)
	}
	if st.average != 4*time.Millisecond {
		t.Fatalf("average = %v, want 4ms", st.average)
	}
}

func TestTimingHistoryStatsEmpty(t *testing.T) {
	h := newTimingHistory(4)
	st := h.stats()
	if st != (historyStats{}) {
		t.Fatalf("stats of empty history = %+v, want zero value", st)
	}
}

func TestTimingHistoryClear(t *testing.T) {
	h := newTimingHistory(4)
	h.push(time.Millisecond)
	h.push(2 * time.Millisecond)
	h.clear()

	if h.len() != 0 {
		t.Fatalf("len after clear = %d, want 0", h.len())
	}
	if seq := h.push(time.Millisecond); seq != 0 {
		t.Fatalf("first seq after clear = %d, want 0", seq)
	}
}
