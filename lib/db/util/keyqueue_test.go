package util

import (
	"fmt"
	"runtime"
	"sync"
	"testing"
)

// TestBasicOperations tests basic push and pop functionality
func TestBasicOperations(t *testing.T) {
	q := NewKeyQueue[int]()

	if !q.Empty() {
		t.Fatalf("New queue should be empty")
	}

	if _, ok := q.Pop(); ok {
		t.Fatalf("Pop on an empty queue should return false")
	}

	for i := 0; i < 10; i++ {
		q.Push(i)
	}

	if q.Len() != 10 {
		t.Errorf("Expected length 10, got %d", q.Len())
	}

	for i := 0; i < 10; i++ {
		val, ok := q.Pop()
		if !ok {
			t.Fatalf("Expected item %d, queue was empty", i)
		}
		if val != i {
			t.Errorf("Expected %d, got %d", i, val)
		}
	}

	if !q.Empty() || q.Len() != 0 {
		t.Errorf("Queue should be empty after popping all items")
	}
}

// TestInterleavedPushPop verifies the sentinel handling when the queue runs empty repeatedly
func TestInterleavedPushPop(t *testing.T) {
	q := NewKeyQueue[string]()

	for round := 0; round < 100; round++ {
		key := fmt.Sprintf("key-%d", round)
		q.Push(key)

		got, ok := q.Pop()
		if !ok || got != key {
			t.Fatalf("Round %d: expected %s, got %q (ok=%v)", round, key, got, ok)
		}

		if _, ok := q.Pop(); ok {
			t.Fatalf("Round %d: queue should be empty", round)
		}
	}
}

// TestConcurrentProducers verifies the queue works correctly with multiple producers
func TestConcurrentProducers(t *testing.T) {
	q := NewKeyQueue[int]()

	const numProducers = 10
	const itemsPerProducer = 1000
	totalItems := numProducers * itemsPerProducer

	var wg sync.WaitGroup
	wg.Add(numProducers)

	for p := 0; p < numProducers; p++ {
		go func(producerID int) {
			defer wg.Done()

			base := producerID * itemsPerProducer
			for i := 0; i < itemsPerProducer; i++ {
				q.Push(base + i)

				if i%100 == 0 {
					runtime.Gosched()
				}
			}
		}(p)
	}

	wg.Wait()

	// items of one producer must keep their relative order
	lastPerProducer := make(map[int]int)
	received := make(map[int]bool)

	for {
		val, ok := q.Pop()
		if !ok {
			break
		}
		if received[val] {
			t.Errorf("Duplicate item received: %d", val)
		}
		received[val] = true

		producer := val / itemsPerProducer
		if last, seen := lastPerProducer[producer]; seen && val < last {
			t.Errorf("Producer %d: item %d popped after %d", producer, val, last)
		}
		lastPerProducer[producer] = val
	}

	if len(received) != totalItems {
		t.Errorf("Expected %d items, got %d", totalItems, len(received))
	}
}

// TestConcurrentPushAndPop runs producers while the single consumer is popping
func TestConcurrentPushAndPop(t *testing.T) {
	q := NewKeyQueue[int]()

	const numProducers = 4
	const itemsPerProducer = 5000
	totalItems := numProducers * itemsPerProducer

	var wg sync.WaitGroup
	wg.Add(numProducers)
	for p := 0; p < numProducers; p++ {
		go func(producerID int) {
			defer wg.Done()
			for i := 0; i < itemsPerProducer; i++ {
				q.Push(producerID*itemsPerProducer + i)
			}
		}(p)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	count := 0
	for count < totalItems {
		if _, ok := q.Pop(); ok {
			count++
			continue
		}
		select {
		case <-done:
			// producers finished, drain what is left
			for {
				if _, ok := q.Pop(); !ok {
					break
				}
				count++
			}
			if count != totalItems {
				t.Fatalf("Expected %d items, got %d", totalItems, count)
			}
			return
		default:
			runtime.Gosched()
		}
	}
}

// BenchmarkSingleProducer benchmarks push and pop from one goroutine
func BenchmarkSingleProducer(b *testing.B) {
	q := NewKeyQueue[int]()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		q.Push(i)
		q.Pop()
	}
}

// BenchmarkMultiProducer benchmarks the queue with multiple producers
func BenchmarkMultiProducer(b *testing.B) {
	q := NewKeyQueue[int]()

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			q.Push(i)
			i++
		}
	})
}
