// Package lru provides an intrusive doubly linked list for O(1)
// least-recently-used tracking. The list stores caller-supplied values in
// nodes the caller retains, so touch and evict never search.
package lru

// Node is a list node holding one value. Callers keep the *Node returned
// by PushFront to move or remove the entry later.
type Node[V any] struct {
	Value V

	prev, next *Node[V]
	list       *List[V]
}

// List is a doubly linked list ordered from most to least recently used.
// It uses a circular layout around an internal sentinel, so link and
// unlink need no nil checks.
//
// The list is not thread-safe; callers handle synchronization.
type List[V any] struct {
	root Node[V] // sentinel: root.next is front (MRU), root.prev is back (LRU)
	len  int
}

// New creates an empty list.
func New[V any]() *List[V] {
	l := &List[V]{}
	l.root.next = &l.root
	l.root.prev = &l.root
	l.root.list = l
	return l
}

// Len returns the number of nodes in the list.
func (l *List[V]) Len() int { return l.len }

// PushFront inserts a value at the front (most recently used) and returns
// its node.
func (l *List[V]) PushFront(v V) *Node[V] {
	n := &Node[V]{Value: v, list: l}
	l.insertAfter(n, &l.root)
	l.len++
	return n
}

// MoveToFront marks a node as most recently used.
func (l *List[V]) MoveToFront(n *Node[V]) {
	if n == nil || n.list != l || l.root.next == n {
		return
	}
	l.unlink(n)
	l.insertAfter(n, &l.root)
}

// Back returns the least recently used node, or nil if the list is empty.
func (l *List[V]) Back() *Node[V] {
	if l.len == 0 {
		return nil
	}
	return l.root.prev
}

// Remove unlinks a node from the list. Removing a node twice is a no-op.
func (l *List[V]) Remove(n *Node[V]) {
	if n == nil || n.list != l {
		return
	}
	l.unlink(n)
	n.list = nil
	n.prev, n.next = nil, nil
	l.len--
}

// RemoveBack unlinks and returns the least recently used value.
// The second return is false if the list is empty.
func (l *List[V]) RemoveBack() (V, bool) {
	n := l.Back()
	if n == nil {
		var zero V
		return zero, false
	}
	l.Remove(n)
	return n.Value, true
}

// Clear empties the list. Nodes previously handed out become detached.
func (l *List[V]) Clear() {
	for n := l.root.next; n != &l.root; {
		next := n.next
		n.list = nil
		n.prev, n.next = nil, nil
		n = next
	}
	l.root.next = &l.root
	l.root.prev = &l.root
	l.len = 0
}

func (l *List[V]) insertAfter(n, at *Node[V]) {
	n.prev = at
	n.next = at.next
	at.next.prev = n
	at.next = n
}

func (l *List[V]) unlink(n *Node[V]) {
	n.prev.next = n.next
	n.next.prev = n.prev
}
