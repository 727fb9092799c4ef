// Package util provides a lock-free Multi-Producer Single-Consumer (MPSC) key queue
// used by the change logs of the replicated database.
//
// Features and Guarantees:
//
//   - Lock-Free: producers append with compare-and-swap, no mutex on the write path
//   - Unbounded Size: the queue grows as needed, limited only by available memory
//   - Pull-Based: the single consumer polls with Pop(), there is no consumer goroutine
//   - Per-Producer FIFO: items pushed by one goroutine are popped in push order.
//     Under concurrent Push() calls the order between producers is decided by
//     which producer completes its append first.
package util

import (
	"runtime"
	"sync/atomic"
)

// node represents a single element in the queue
type node[T any] struct {
	value T
	next  atomic.Pointer[node[T]]
}

// KeyQueue is a lock-free multi-producer single-consumer queue.
// Implementation uses a linked list with a sentinel head node. Producers only
// touch the tail, the consumer only touches the head.
type KeyQueue[T any] struct {
	head   atomic.Pointer[node[T]]
	tail   atomic.Pointer[node[T]]
	length atomic.Int64
}

// NewKeyQueue creates a new empty queue
func NewKeyQueue[T any]() *KeyQueue[T] {
	// Create a sentinel node (dummy node at the beginning)
	sentinel := &node[T]{}

	q := &KeyQueue[T]{}
	q.head.Store(sentinel)
	q.tail.Store(sentinel)
	return q
}

// Push appends an item to the queue.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (q *KeyQueue[T]) Push(value T) {
	newNode := &node[T]{value: value}

	var backoff uint8 = 0
	for {
		tailNode := q.tail.Load()
		next := tailNode.next.Load()

		if next == nil {
			// the tail has no next node yet, try to append our node
			if tailNode.next.CompareAndSwap(nil, newNode) {
				// may fail if another producer already helped moving the tail
				q.tail.CompareAndSwap(tailNode, newNode)
				q.length.Add(1)
				return
			}
		} else {
			// another producer appended but did not move the tail yet, help it
			q.tail.CompareAndSwap(tailNode, next)
		}

		// exponential backoff under contention: spin a little, then yield
		if backoff < 10 {
			backoff++
			for i := 0; i < 1<<backoff; i++ {
				runtime.Gosched()
			}
		}
		runtime.Gosched()
	}
}

// Pop removes and returns the oldest item.
// The boolean is false if the queue is empty.
//
// Thread-safety: Only a single goroutine may call Pop.
func (q *KeyQueue[T]) Pop() (T, bool) {
	var zero T

	head := q.head.Load()
	next := head.next.Load()
	if next == nil {
		return zero, false
	}

	value := next.value

	// next becomes the new sentinel, drop the reference to its value to help the go gc
	q.head.Store(next)
	next.value = zero
	q.length.Add(-1)

	return value, true
}

// Empty reports whether the queue currently has no items.
func (q *KeyQueue[T]) Empty() bool {
	return q.head.Load().next.Load() == nil
}

// Len returns an approximate count of the items in the queue.
func (q *KeyQueue[T]) Len() int {
	n := q.length.Load()
	if n < 0 {
		return 0
	}
	return int(n)
}
