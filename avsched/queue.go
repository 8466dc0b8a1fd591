package avsched

import (
	"sort"
	"sync"
	"time"
)

// qitem wraps a queued value with its dispatch metadata.
type qitem[T any] struct {
	value    T
	priority Priority
	seq      uint64
	enqueued time.Time
}

// boundedQueue is a bounded multi-producer queue with priority-aware
// overflow. Each of the scheduler's two queues is an independent
// boundedQueue with its own lock, so audio contention never blocks
// visual access.
//
// Overflow policy: at capacity, the oldest entry of the lowest priority
// tier is dropped to admit a higher-or-equal-priority arrival; an arrival
// of strictly lower priority than everything queued is itself dropped.
// Either way exactly one drop occurs per overflow.
type boundedQueue[T any] struct {
	mu       sync.Mutex
	items    []qitem[T] // arrival order (ascending seq)
	maxDepth int
	nextSeq  uint64
}

func newBoundedQueue[T any](maxDepth int) *boundedQueue[T] {
	return &boundedQueue[T]{maxDepth: maxDepth}
}

// push enqueues v. It never blocks. admitted reports whether v entered
// the queue; dropped reports whether the overflow policy discarded an
// entry (the victim or v itself).
func (q *boundedQueue[T]) push(v T, priority Priority, now time.Time) (admitted, dropped bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) >= q.maxDepth {
		victim := 0
		for i := 1; i < len(q.items); i++ {
			if q.items[i].priority < q.items[victim].priority {
				victim = i
			}
		}
		if q.items[victim].priority > priority {
			// Everything queued outranks the arrival; drop the arrival.
			return false, true
		}
		q.items = append(q.items[:victim], q.items[victim+1:]...)
		dropped = true
	}

	q.items = append(q.items, qitem[T]{
		value:    v,
		priority: priority,
		seq:      q.nextSeq,
		enqueued: now,
	})
	q.nextSeq++
	return true, dropped
}

// boostOlderThan promotes entries enqueued before cutoff to the
// next-higher priority tier. Used by the scheduler's priority boosting
// pass to bound worst-case dispatch latency.
func (q *boundedQueue[T]) boostOlderThan(cutoff time.Time) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	boosted := 0
	for i := range q.items {
		if q.items[i].priority < PriorityCritical && q.items[i].enqueued.Before(cutoff) {
			q.items[i].priority = q.items[i].priority.boost()
			boosted++
		}
	}
	return boosted
}

// drain removes and returns up to max entries in dispatch order:
// priority descending, arrival order within a tier. The predicate, if
// non-nil, extends the batch past max with every remaining entry it
// accepts (predictive batching).
func (q *boundedQueue[T]) drain(max int, extra func(v T, priority Priority) bool) []qitem[T] {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 || max <= 0 {
		return nil
	}

	ordered := make([]qitem[T], len(q.items))
	copy(ordered, q.items)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].priority != ordered[j].priority {
			return ordered[i].priority > ordered[j].priority
		}
		return ordered[i].seq < ordered[j].seq
	})

	n := max
	if n > len(ordered) {
		n = len(ordered)
	}
	batch := ordered[:n:n]
	if extra != nil {
		for _, it := range ordered[n:] {
			if extra(it.value, it.priority) {
				batch = append(batch, it)
			}
		}
	}

	// Remove the batch; the remainder keeps arrival order.
	taken := make(map[uint64]struct{}, len(batch))
	for _, it := range batch {
		taken[it.seq] = struct{}{}
	}
	rest := q.items[:0]
	for _, it := range q.items {
		if _, ok := taken[it.seq]; !ok {
			rest = append(rest, it)
		}
	}
	q.items = rest
	return batch
}

// depth returns the current queue depth.
func (q *boundedQueue[T]) depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
