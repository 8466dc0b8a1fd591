package avsched

import (
	"testing"
	"time"
)

func TestBoundedQueuePushWithinCapacity(t *testing.T) {
	q := newBoundedQueue[int](3)
	now := time.Now()

	for i := 0; i < 3; i++ {
		admitted, dropped := q.push(i, PriorityNormal, now)
		if !admitted || dropped {
			t.Fatalf("push %d: admitted=%v dropped=%v, want true, false", i, admitted, dropped)
		}
	}
	if got := q.depth(); got != 3 {
		t.Fatalf("depth = %d, want 3", got)
	}
}

func TestBoundedQueueOverflowDropsOldestLowest(t *testing.T) {
	q := newBoundedQueue[int](3)
	now := time.Now()

	q.push(0, PriorityNormal, now)
	q.push(1, PriorityHigh, now)
	q.push(2, PriorityNormal, now)

	// Equal priority arrival evicts the oldest normal entry (value 0).
	admitted, dropped := q.push(3, PriorityNormal, now)
	if !admitted || !dropped {
		t.Fatalf("overflow push: admitted=%v dropped=%v, want true, true", admitted, dropped)
	}

	batch := q.drain(3, nil)
	got := make([]int, len(batch))
	for i, it := range batch {
		got[i] = it.value
	}
	want := []int{1, 2, 3}
	if len(got) != len(want) {
		t.Fatalf("drained %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("drained %v, want %v", got, want)
		}
	}
}

func TestBoundedQueueOverflowRejectsLowerPriorityArrival(t *testing.T) {
	q := newBoundedQueue[int](2)
	now := time.Now()

	q.push(0, PriorityCritical, now)
	q.push(1, PriorityHigh, now)

	admitted, dropped := q.push(2, PriorityNormal, now)
	if admitted {
		t.Fatal("normal arrival admitted into a full queue of higher priorities")
	}
	if !dropped {
		t.Fatal("rejected arrival not reported as a drop")
	}
	if got := q.depth(); got != 2 {
		t.Fatalf("depth = %d, want 2", got)
	}
}

func TestBoundedQueueDrainDispatchOrder(t *testing.T) {
	q := newBoundedQueue[string](8)
	now := time.Now()

	q.push("n1", PriorityNormal, now)
	q.push("c1", PriorityCritical, now)
	q.push("h1", PriorityHigh, now)
	q.push("n2", PriorityNormal, now)
	q.push("c2", PriorityCritical, now)

	batch := q.drain(8, nil)
	want := []string{"c1", "c2", "h1", "n1", "n2"}
	if len(batch) != len(want) {
		t.Fatalf("drained %d entries, want %d", len(batch), len(want))
	}
	for i, it := range batch {
		if it.value != want[i] {
			t.Fatalf("batch[%d] = %q, want %q", i, it.value, want[i])
		}
	}
}

func TestBoundedQueueDrainBatchLimit(t *testing.T) {
	q := newBoundedQueue[int](8)
	now := time.Now()
	for i := 0; i < 6; i++ {
		q.push(i, PriorityNormal, now)
	}

	batch := q.drain(4, nil)
	if len(batch) != 4 {
		t.Fatalf("len(batch) = %d, want 4", len(batch))
	}
	if got := q.depth(); got != 2 {
		t.Fatalf("depth after drain = %d, want 2", got)
	}

	// The remainder drains in its original arrival order.
	rest := q.drain(4, nil)
	if len(rest) != 2 || rest[0].value != 4 || rest[1].value != 5 {
		t.Fatalf("second drain = %v, want values 4, 5", rest)
	}
}

func TestBoundedQueueDrainExtraPredicate(t *testing.T) {
	q := newBoundedQueue[int](8)
	now := time.Now()

	q.push(10, PriorityHigh, now)
	q.push(20, PriorityNormal, now)
	q.push(30, PriorityHigh, now)
	q.push(40, PriorityNormal, now)

	batch := q.drain(1, func(v int, p Priority) bool { return p >= PriorityHigh })
	// Batch holds the first high entry plus the predicate-accepted one.
	if len(batch) != 2 {
		t.Fatalf("len(batch) = %d, want 2", len(batch))
	}
	if batch[0].value != 10 || batch[1].value != 30 {
		t.Fatalf("batch values = %d, %d, want 10, 30", batch[0].value, batch[1].value)
	}
	if got := q.depth(); got != 2 {
		t.Fatalf("depth = %d, want 2", got)
	}
}

func TestBoundedQueueBoostOlderThan(t *testing.T) {
	q := newBoundedQueue[int](8)
	old := time.Now().Add(-time.Second)
	fresh := time.Now()

	q.push(0, PriorityNormal, old)
	q.push(1, PriorityCritical, old)
	q.push(2, PriorityNormal, fresh)

	boosted := q.boostOlderThan(fresh.Add(-100 * time.Millisecond))
	if boosted != 1 {
		t.Fatalf("boosted = %d, want 1", boosted)
	}

	batch := q.drain(8, nil)
	if batch[0].value != 1 {
		t.Fatalf("batch[0] = %d, want the critical entry 1", batch[0].value)
	}
	if batch[1].value != 0 || batch[1].priority != PriorityHigh {
		t.Fatalf("batch[1] = %d (%v), want boosted entry 0 at high", batch[1].value, batch[1].priority)
	}
}
