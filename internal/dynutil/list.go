package dynutil

// ListNode is a singly linked list node, used by the TCB free list and
// the phys-hash SMC buckets where nodes are threaded in place rather
// than held in a slice (so invalidation never has to shift memory).
type ListNode[T any] struct {
	Data T
	Next *ListNode[T]
}

// List is a minimal singly linked list with O(1) push-front and linear
// scan/remove — the access pattern the TCB manager needs (push on
// alloc, scan-and-unlink on free).
type List[T any] struct {
	head *ListNode[T]
	len  int
}

// PushFront inserts data at the head of the list and returns its node.
func (l *List[T]) PushFront(data T) *ListNode[T] {
	n := &ListNode[T]{Data: data, Next: l.head}
	l.head = n
	l.len++
	return n
}

// Head returns the first node, or nil if the list is empty.
func (l *List[T]) Head() *ListNode[T] { return l.head }

// Len returns the number of elements in the list.
func (l *List[T]) Len() int { return l.len }

// Remove unlinks the first node for which match returns true and
// reports whether a node was removed.
func (l *List[T]) Remove(match func(T) bool) bool {
	var prev *ListNode[T]
	for n := l.head; n != nil; n = n.Next {
		if match(n.Data) {
			if prev == nil {
				l.head = n.Next
			} else {
				prev.Next = n.Next
			}
			l.len--
			return true
		}
		prev = n
	}
	return false
}

// Each calls fn for every element in insertion-reversed (head-first) order.
func (l *List[T]) Each(fn func(T)) {
	for n := l.head; n != nil; n = n.Next {
		fn(n.Data)
	}
}
