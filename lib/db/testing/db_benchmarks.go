package testing

import (
	"fmt"
	"math/rand"
	"sync/atomic"
	"testing"

	"github.com/ValentinKolb/rKV/lib/db"
)

// RunKVDBBenchmarks runs all benchmarks for a key-value database implementations
func RunKVDBBenchmarks(b *testing.B, name string, factory DBFactory) {

	b.Run("Put", func(b *testing.B) {
		benchmarkPut(b, factory(1, db.SystemClock{}))
	})

	b.Run("PutExisting", func(b *testing.B) {
		benchmarkPutExisting(b, factory(1, db.SystemClock{}))
	})

	b.Run("PutLargeValue", func(b *testing.B) {
		benchmarkPutLargeValue(b, factory(1, db.SystemClock{}))
	})

	b.Run("PutWithChangeLogs", func(b *testing.B) {
		benchmarkPutWithChangeLogs(b, factory(1, db.SystemClock{}))
	})

	b.Run("Apply", func(b *testing.B) {
		benchmarkApply(b, factory(1, db.SystemClock{}))
	})

	b.Run("Get", func(b *testing.B) {
		benchmarkGet(b, factory(1, db.SystemClock{}))
	})

	b.Run("Remove", func(b *testing.B) {
		benchmarkRemove(b, factory(1, db.SystemClock{}))
	})

	b.Run("Has", func(b *testing.B) {
		benchmarkHas(b, factory(1, db.SystemClock{}))
	})

	b.Run("Has(not)", func(b *testing.B) {
		benchmarkHasNot(b, factory(1, db.SystemClock{}))
	})

	b.Run("ChangeLogDrain", func(b *testing.B) {
		benchmarkChangeLogDrain(b, factory(1, db.SystemClock{}))
	})

	b.Run("MixedUsage", func(b *testing.B) {
		benchmarkMixedUsage(b, factory(1, db.SystemClock{}))
	})
}

// --------------------------------------------------------------------------
// Benchmark functions
// --------------------------------------------------------------------------

// Benchmark for Put operation
func benchmarkPut(b *testing.B, database db.KVDB) {

	b.Cleanup(func() {
		database.Close()
	})

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		counter := 0
		for pb.Next() {
			key := fmt.Sprintf("test-key-%d", counter)
			value := []byte(fmt.Sprintf("test-value-%d", counter))
			database.Put(key, value)
			counter++
		}
	})
}

// Benchmark for Put operation with existing keys
func benchmarkPutExisting(b *testing.B, database db.KVDB) {

	b.Cleanup(func() {
		database.Close()
	})

	// Prepare data
	numKeys := b.N
	for i := 0; i < numKeys; i++ {
		key := fmt.Sprintf("test-key-%d", i)
		value := []byte(fmt.Sprintf("test-value-%d", i))
		database.Put(key, value)
	}

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		counter := 0
		for pb.Next() {
			key := fmt.Sprintf("test-key-%d", counter%numKeys)
			value := []byte(fmt.Sprintf("test-value-%d", counter))
			database.Put(key, value)
			counter++
		}
	})
}

// Benchmark for Put operation with large values
func benchmarkPutLargeValue(b *testing.B, database db.KVDB) {

	b.Cleanup(func() {
		database.Close()
	})

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		counter := 0
		for pb.Next() {
			key := fmt.Sprintf("test-key-%d", counter)
			largeValue := make([]byte, 1*1024*1024) // 1MB
			database.Put(key, largeValue)
			counter++
		}
	})
}

// Benchmark for Put operation while three peers capture changes
func benchmarkPutWithChangeLogs(b *testing.B, database db.KVDB) {

	b.Cleanup(func() {
		database.Close()
	})

	for peer := uint8(2); peer <= 4; peer++ {
		database.ChangeLog(peer)
	}

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		counter := 0
		for pb.Next() {
			key := fmt.Sprintf("test-key-%d", counter%1000)
			database.Put(key, []byte("value"))
			counter++
		}
	})
}

// Benchmark for applying remote records
func benchmarkApply(b *testing.B, database db.KVDB) {

	b.Cleanup(func() {
		database.Close()
	})

	var ts atomic.Uint64

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		counter := 0
		for pb.Next() {
			database.Apply(db.MutationRecord{
				Key:       fmt.Sprintf("test-key-%d", counter%1000),
				Value:     []byte("value"),
				Timestamp: ts.Add(1),
				Origin:    2,
			})
			counter++
		}
	})
}

// Parallel benchmarking for Get operation
func benchmarkGet(b *testing.B, database db.KVDB) {

	b.Cleanup(func() {
		database.Close()
	})

	// Prepare data
	numKeys := 1000
	for i := 0; i < numKeys; i++ {
		key := fmt.Sprintf("test-key-%d", i)
		value := []byte(fmt.Sprintf("test-value-%d", i))
		database.Put(key, value)
	}

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		counter := 0
		for pb.Next() {
			key := fmt.Sprintf("test-key-%d", counter%numKeys)
			database.Get(key)
			counter++
		}
	})
}

// Parallel benchmarking for Remove operation
func benchmarkRemove(b *testing.B, database db.KVDB) {

	b.Cleanup(func() {
		database.Close()
	})

	// Prepare data
	for i := 0; i < b.N; i++ {
		key := fmt.Sprintf("test-key-%d", i)
		database.Put(key, []byte("value"))
	}

	var counter atomic.Int64

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			i := counter.Add(1) - 1
			database.Remove(fmt.Sprintf("test-key-%d", i))
		}
	})
}

// Parallel benchmarking for Has operation
func benchmarkHas(b *testing.B, database db.KVDB) {

	b.Cleanup(func() {
		database.Close()
	})

	// Prepare data
	numKeys := 1000
	for i := 0; i < numKeys; i++ {
		key := fmt.Sprintf("test-key-%d", i)
		database.Put(key, []byte("value"))
	}

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		counter := 0
		for pb.Next() {
			key := fmt.Sprintf("test-key-%d", counter%numKeys)
			database.Has(key)
			counter++
		}
	})
}

// Parallel benchmarking for Has operation on missing keys
func benchmarkHasNot(b *testing.B, database db.KVDB) {

	b.Cleanup(func() {
		database.Close()
	})

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		counter := 0
		for pb.Next() {
			key := fmt.Sprintf("missing-key-%d", counter)
			database.Has(key)
			counter++
		}
	})
}

// Benchmark for writing and draining a change log from a single goroutine
func benchmarkChangeLogDrain(b *testing.B, database db.KVDB) {

	b.Cleanup(func() {
		database.Close()
	})

	log := database.ChangeLog(2)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		database.Put(fmt.Sprintf("test-key-%d", i%1000), []byte("value"))
		if i%100 == 99 {
			for {
				if _, ok := log.Next(); !ok {
					break
				}
			}
		}
	}
}

// Benchmark for mixed operations
func benchmarkMixedUsage(b *testing.B, database db.KVDB) {

	b.Cleanup(func() {
		database.Close()
	})

	// Prepare data
	numKeys := 1000
	for i := 0; i < numKeys; i++ {
		key := fmt.Sprintf("test-key-%d", i)
		database.Put(key, []byte("value"))
	}

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		r := rand.New(rand.NewSource(rand.Int63()))
		for pb.Next() {
			key := fmt.Sprintf("test-key-%d", r.Intn(numKeys))
			switch op := r.Intn(100); {
			case op < 60:
				database.Get(key)
			case op < 85:
				database.Put(key, []byte("updated"))
			case op < 95:
				database.Has(key)
			default:
				database.Remove(key)
			}
		}
	})
}
