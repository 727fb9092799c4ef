package testing

import (
	"bytes"
	"fmt"
	"math/rand"
	"sync"
	"testing"

	"github.com/ValentinKolb/rKV/lib/db"
)

// DBFactory creates a new instance of a KVDB implementation with the given
// origin identifier that stamps local mutations with the given time source.
type DBFactory func(identifier uint8, clock db.ITimeSource) db.KVDB

// RunKVDBTests runs a comprehensive test suite for a KVDB implementation.
func RunKVDBTests(t *testing.T, name string, factory DBFactory) {
	t.Run(name, func(t *testing.T) {
		t.Run("Put&Get", func(t *testing.T) {
			testPutGet(t, factory)
		})

		t.Run("PutIfAbsent", func(t *testing.T) {
			testPutIfAbsent(t, factory)
		})

		t.Run("Replace", func(t *testing.T) {
			testReplace(t, factory)
		})

		t.Run("Remove", func(t *testing.T) {
			testRemove(t, factory)
		})

		t.Run("SameMillisecondWrites", func(t *testing.T) {
			testSameMillisecondWrites(t, factory)
		})

		t.Run("LateLocalWrites", func(t *testing.T) {
			testLateLocalWrites(t, factory)
		})

		t.Run("ApplyLastWriterWins", func(t *testing.T) {
			testApplyLastWriterWins(t, factory)
		})

		t.Run("ApplyTieOrderIndependent", func(t *testing.T) {
			testApplyTieOrderIndependent(t, factory)
		})

		t.Run("TombstoneBlocksLatePut", func(t *testing.T) {
			testTombstoneBlocksLatePut(t, factory)
		})

		t.Run("PurgeTombstones", func(t *testing.T) {
			testPurgeTombstones(t, factory)
		})

		t.Run("ChangeLog", func(t *testing.T) {
			testChangeLog(t, factory)
		})

		t.Run("ChangeLogDirtyAll", func(t *testing.T) {
			testChangeLogDirtyAll(t, factory)
		})

		t.Run("ConvergenceUnderReordering", func(t *testing.T) {
			testConvergenceUnderReordering(t, factory)
		})

		t.Run("ConcurrentWrites", func(t *testing.T) {
			testConcurrentWrites(t, factory)
		})
	})
}

// --------------------------------------------------------------------------
// Helper functions
// --------------------------------------------------------------------------

// requireValue fails the test if the live value of key is not expected
func requireValue(t testing.TB, database db.KVDB, key string, expected []byte) {
	t.Helper()

	value, ok := database.Get(key)
	if !ok {
		t.Fatalf("Expected key %s to have value %s, but it has none", key, expected)
	}
	if !bytes.Equal(value, expected) {
		t.Fatalf("Expected value %s for key %s, got %s", expected, key, value)
	}
}

// drain collects all records the change log currently yields
func drain(log db.IChangeLog) []db.MutationRecord {
	var recs []db.MutationRecord
	for {
		rec, ok := log.Next()
		if !ok {
			return recs
		}
		recs = append(recs, rec)
	}
}

// --------------------------------------------------------------------------
// Test functions
// --------------------------------------------------------------------------

func testPutGet(t *testing.T, factory DBFactory) {
	clock := db.NewManualClock(1000)
	database := factory(1, clock)
	defer database.Close()

	testKey := "test-key"
	testValue1 := []byte("test-value1")
	testValue2 := []byte("test-value2")

	if !database.Put(testKey, testValue1) {
		t.Errorf("Expected first Put to be applied")
	}
	requireValue(t, database, testKey, testValue1)

	clock.Advance(1)
	if !database.Put(testKey, testValue2) {
		t.Errorf("Expected second Put to be applied")
	}
	requireValue(t, database, testKey, testValue2)

	if _, exists := database.Get("nonexistent-key"); exists {
		t.Errorf("Expected nonexistent key to return exists=false")
	}

	retrievedValue, _ := database.Get(testKey)
	retrievedValue[0] = 'X'

	originalValue, _ := database.Get(testKey)
	if bytes.Equal(retrievedValue, originalValue) {
		t.Errorf("Get should return a copy, not a reference to the stored value")
	}

	// the caller may reuse its buffer after Put returned
	buf := []byte("buffer-value")
	clock.Advance(1)
	database.Put(testKey, buf)
	buf[0] = 'X'
	requireValue(t, database, testKey, []byte("buffer-value"))

	if !database.Has(testKey) {
		t.Errorf("Expected Has to report key %s", testKey)
	}
	if database.Size() != 1 {
		t.Errorf("Expected size 1, got %d", database.Size())
	}
}

func testPutIfAbsent(t *testing.T, factory DBFactory) {
	clock := db.NewManualClock(1000)
	database := factory(1, clock)
	defer database.Close()

	existing, loaded := database.PutIfAbsent("key", []byte("first"))
	if loaded || existing != nil {
		t.Errorf("Expected PutIfAbsent on a new key to insert, got existing=%s loaded=%v", existing, loaded)
	}
	requireValue(t, database, "key", []byte("first"))

	clock.Advance(1)
	existing, loaded = database.PutIfAbsent("key", []byte("second"))
	if !loaded || !bytes.Equal(existing, []byte("first")) {
		t.Errorf("Expected PutIfAbsent to return the existing value, got existing=%s loaded=%v", existing, loaded)
	}
	requireValue(t, database, "key", []byte("first"))

	// a tombstone does not count as a value
	clock.Advance(1)
	database.Remove("key")
	clock.Advance(1)
	if _, loaded = database.PutIfAbsent("key", []byte("third")); loaded {
		t.Errorf("Expected PutIfAbsent to insert over a tombstone")
	}
	requireValue(t, database, "key", []byte("third"))
}

func testReplace(t *testing.T, factory DBFactory) {
	clock := db.NewManualClock(1000)
	database := factory(1, clock)
	defer database.Close()

	if _, replaced := database.Replace("key", []byte("value")); replaced {
		t.Errorf("Replace must not create a missing key")
	}
	if database.Has("key") {
		t.Errorf("Replace created the key")
	}

	clock.Advance(1)
	database.Put("key", []byte("v1"))

	clock.Advance(1)
	prev, replaced := database.Replace("key", []byte("v2"))
	if !replaced || !bytes.Equal(prev, []byte("v1")) {
		t.Errorf("Expected Replace to return v1, got %s (replaced=%v)", prev, replaced)
	}
	requireValue(t, database, "key", []byte("v2"))

	clock.Advance(1)
	if database.ReplaceIf("key", []byte("wrong"), []byte("v3")) {
		t.Errorf("ReplaceIf must not replace on a mismatch")
	}
	requireValue(t, database, "key", []byte("v2"))

	clock.Advance(1)
	if !database.ReplaceIf("key", []byte("v2"), []byte("v3")) {
		t.Errorf("Expected ReplaceIf to replace on a match")
	}
	requireValue(t, database, "key", []byte("v3"))
}

func testRemove(t *testing.T, factory DBFactory) {
	clock := db.NewManualClock(1000)
	database := factory(1, clock)
	defer database.Close()

	if _, removed := database.Remove("missing"); removed {
		t.Errorf("Remove on a missing key must report false")
	}

	database.Put("key", []byte("value"))

	clock.Advance(1)
	if database.RemoveIf("key", []byte("wrong")) {
		t.Errorf("RemoveIf must not remove on a mismatch")
	}

	clock.Advance(1)
	prev, removed := database.Remove("key")
	if !removed || !bytes.Equal(prev, []byte("value")) {
		t.Errorf("Expected Remove to return the previous value, got %s (removed=%v)", prev, removed)
	}
	if database.Has("key") {
		t.Errorf("Removed key must not be found")
	}
	if _, ok := database.Get("key"); ok {
		t.Errorf("Removed key must not return a value")
	}

	clock.Advance(1)
	if _, removed = database.Remove("key"); removed {
		t.Errorf("Removing a tombstone must report false")
	}

	clock.Advance(1)
	database.Put("other", []byte("x"))
	clock.Advance(1)
	if !database.RemoveIf("other", []byte("x")) {
		t.Errorf("Expected RemoveIf to remove on a match")
	}

	info := database.GetInfo()
	if info.Entries != 0 || info.Tombstones != 2 {
		t.Errorf("Expected 0 entries and 2 tombstones, got %d and %d", info.Entries, info.Tombstones)
	}
}

func testSameMillisecondWrites(t *testing.T, factory DBFactory) {
	clock := db.NewManualClock(1000)
	database := factory(1, clock)
	defer database.Close()

	// the clock does not move, every write carries the same timestamp and origin
	tests := []struct {
		name     string
		op       func() bool
		applied  bool
		expected string // expected live value afterwards, "" = none
	}{
		{"first put", func() bool { return database.Put("key", []byte("b")) }, true, "b"},
		{"greater value wins", func() bool { return database.Put("key", []byte("c")) }, true, "c"},
		{"smaller value loses", func() bool { return database.Put("key", []byte("a")) }, false, "c"},
		{"same content is a no-op", func() bool { return database.Put("key", []byte("c")) }, false, "c"},
		{"remove wins over a value", func() bool { _, removed := database.Remove("key"); return removed }, true, ""},
		{"put loses against the tombstone", func() bool { return database.Put("key", []byte("z")) }, false, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if applied := tt.op(); applied != tt.applied {
				t.Errorf("Expected applied=%v, got %v", tt.applied, applied)
			}
			if tt.expected == "" {
				if database.Has("key") {
					t.Errorf("Expected key to have no value")
				}
				return
			}
			requireValue(t, database, "key", []byte(tt.expected))
		})
	}
}

func testLateLocalWrites(t *testing.T, factory DBFactory) {
	clock := db.NewManualClock(1000)
	database := factory(1, clock)
	defer database.Close()

	database.Put("key", []byte("v1"))

	// the local clock jumps back
	clock.Set(995)

	tests := []struct {
		name string
		op   func() bool
	}{
		{"Put", func() bool {
			return database.Put("key", []byte("v2"))
		}},
		{"PutIfAbsent", func() bool {
			v, loaded := database.PutIfAbsent("key", []byte("v2"))
			return loaded || v != nil
		}},
		{"Replace", func() bool {
			_, replaced := database.Replace("key", []byte("v2"))
			return replaced
		}},
		{"ReplaceIf", func() bool {
			return database.ReplaceIf("key", []byte("v1"), []byte("v2"))
		}},
		{"Remove", func() bool {
			_, removed := database.Remove("key")
			return removed
		}},
		{"RemoveIf", func() bool {
			return database.RemoveIf("key", []byte("v1"))
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.op() {
				t.Errorf("A late %s must report that nothing happened", tt.name)
			}
			requireValue(t, database, "key", []byte("v1"))
		})
	}
}

func testApplyLastWriterWins(t *testing.T, factory DBFactory) {
	database := factory(1, db.NewManualClock(0))
	defer database.Close()

	rec := func(ts uint64, origin uint8, value string) db.MutationRecord {
		return db.MutationRecord{Key: "key", Value: []byte(value), Timestamp: ts, Origin: origin}
	}

	tests := []struct {
		name     string
		rec      db.MutationRecord
		applied  bool
		expected string
	}{
		{"first write", rec(1000, 2, "v1"), true, "v1"},
		{"older write", rec(995, 3, "v2"), false, "v1"},
		{"tie higher origin", rec(1000, 3, "v3"), true, "v3"},
		{"tie lower origin", rec(1000, 2, "v4"), false, "v3"},
		{"re-apply", rec(1000, 3, "v3"), false, "v3"},
		{"newer write", rec(1001, 1, "v5"), true, "v5"},
		{"tie same origin smaller value", rec(1001, 1, "v4"), false, "v5"},
		{"tie same origin greater value", rec(1001, 1, "v6"), true, "v6"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if applied := database.Apply(tt.rec); applied != tt.applied {
				t.Errorf("Expected applied=%v for %s, got %v", tt.applied, tt.rec, applied)
			}
			requireValue(t, database, "key", []byte(tt.expected))
		})
	}
}

// testApplyTieOrderIndependent applies records with equal timestamp and origin
// in both orders, the replicas must agree
func testApplyTieOrderIndependent(t *testing.T, factory DBFactory) {
	tie := func(value string, tombstone bool) db.MutationRecord {
		rec := db.MutationRecord{Key: "key", Timestamp: 1000, Origin: 1, Tombstone: tombstone}
		if !tombstone {
			rec.Value = []byte(value)
		}
		return rec
	}

	tests := []struct {
		name     string
		first    db.MutationRecord
		second   db.MutationRecord
		expected string // "" = tombstone
	}{
		{"different values", tie("a", false), tie("b", false), "b"},
		{"value prefix", tie("ab", false), tie("a", false), "ab"},
		{"empty value", tie("", false), tie("x", false), "x"},
		{"value and tombstone", tie("a", false), tie("", true), ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			x := factory(10, db.NewManualClock(0))
			y := factory(11, db.NewManualClock(0))
			defer x.Close()
			defer y.Close()

			x.Apply(tt.first)
			x.Apply(tt.second)
			y.Apply(tt.second)
			y.Apply(tt.first)

			for _, replica := range []db.KVDB{x, y} {
				if tt.expected == "" {
					if replica.Has("key") {
						t.Errorf("Expected the tombstone to win on replica %d", replica.Identifier())
					}
					continue
				}
				requireValue(t, replica, "key", []byte(tt.expected))
			}

			// re-applying either record changes nothing
			if x.Apply(tt.first) || x.Apply(tt.second) {
				t.Errorf("Re-applied tie record changed the database")
			}
		})
	}
}

func testTombstoneBlocksLatePut(t *testing.T, factory DBFactory) {
	clock := db.NewManualClock(1000)
	database := factory(1, clock)
	defer database.Close()

	database.Put("key", []byte("value"))
	clock.Set(1010)
	database.Remove("key")

	if database.Apply(db.MutationRecord{Key: "key", Value: []byte("late"), Timestamp: 1005, Origin: 2}) {
		t.Errorf("A put stamped before the remove must be discarded")
	}
	if database.Has("key") {
		t.Errorf("The late put resurrected the key")
	}

	// a remote remove for an unknown key is kept as tombstone
	if !database.Apply(db.MutationRecord{Key: "unknown", Timestamp: 2000, Origin: 2, Tombstone: true}) {
		t.Errorf("Expected a remote tombstone to be applied")
	}
	if database.Apply(db.MutationRecord{Key: "unknown", Value: []byte("late"), Timestamp: 1999, Origin: 3}) {
		t.Errorf("A put stamped before the remote remove must be discarded")
	}
	if database.Has("unknown") {
		t.Errorf("Key must stay removed")
	}
}

func testPurgeTombstones(t *testing.T, factory DBFactory) {
	clock := db.NewManualClock(1000)
	database := factory(1, clock)
	defer database.Close()

	database.Put("a", []byte("x"))
	database.Put("b", []byte("x"))
	database.Remove("a")
	clock.Set(2000)
	database.Remove("b")

	if n := database.PurgeTombstones(1000); n != 0 {
		t.Errorf("Expected no tombstone older than 1000, purged %d", n)
	}
	if n := database.PurgeTombstones(1001); n != 1 {
		t.Errorf("Expected 1 purged tombstone, got %d", n)
	}
	if info := database.GetInfo(); info.Tombstones != 1 {
		t.Errorf("Expected 1 remaining tombstone, got %d", info.Tombstones)
	}
	if n := database.PurgeTombstones(5000); n != 1 {
		t.Errorf("Expected 1 purged tombstone, got %d", n)
	}
}

func testChangeLog(t *testing.T, factory DBFactory) {
	clock := db.NewManualClock(1000)
	database := factory(1, clock)
	defer database.Close()

	log := database.ChangeLog(2)
	if log.Peer() != 2 {
		t.Errorf("Expected peer 2, got %d", log.Peer())
	}
	if _, ok := log.Next(); ok {
		t.Fatalf("A new change log must be empty")
	}

	database.Put("a", []byte("a1"))
	clock.Advance(1)
	database.Put("b", []byte("b1"))
	clock.Advance(1)
	database.Put("a", []byte("a2"))
	clock.Advance(1)
	database.Apply(db.MutationRecord{Key: "c", Value: []byte("c1"), Timestamp: 500, Origin: 3})

	select {
	case <-log.Wait():
	default:
		t.Errorf("Expected a pending wake-up after writes")
	}

	if log.Pending() != 3 {
		t.Errorf("Expected 3 pending keys, got %d", log.Pending())
	}

	recs := drain(log)
	if len(recs) != 3 {
		t.Fatalf("Expected 3 records, got %d: %v", len(recs), recs)
	}

	expected := []struct {
		key    string
		value  string
		origin uint8
	}{
		{"a", "a2", 1},
		{"b", "b1", 1},
		{"c", "c1", 3},
	}
	for i, e := range expected {
		if recs[i].Key != e.key || string(recs[i].Value) != e.value || recs[i].Origin != e.origin {
			t.Errorf("Record %d: expected %s=%s from %d, got %s", i, e.key, e.value, e.origin, recs[i])
		}
	}

	// discarded writes are not captured
	clock.Set(0)
	database.Put("a", []byte("late"))
	if recs := drain(log); len(recs) != 0 {
		t.Errorf("Expected discarded write not to be captured, got %v", recs)
	}

	// a remove is captured as tombstone
	clock.Set(5000)
	database.Remove("b")
	recs = drain(log)
	if len(recs) != 1 || !recs[0].Tombstone || recs[0].Key != "b" {
		t.Errorf("Expected a tombstone for b, got %v", recs)
	}
}

func testChangeLogDirtyAll(t *testing.T, factory DBFactory) {
	clock := db.NewManualClock(1000)
	database := factory(1, clock)
	defer database.Close()

	for i := 0; i < 100; i++ {
		database.Put(fmt.Sprintf("key-%d", i), []byte("value"))
	}
	database.Remove("key-0")

	log := database.ChangeLog(2)
	if _, ok := log.Next(); ok {
		t.Fatalf("A new change log must not contain earlier writes")
	}

	log.DirtyAll()
	recs := drain(log)
	if len(recs) != 100 {
		t.Fatalf("Expected 100 records after DirtyAll, got %d", len(recs))
	}

	seen := make(map[string]bool)
	for _, rec := range recs {
		if seen[rec.Key] {
			t.Errorf("Key %s yielded twice in one drain", rec.Key)
		}
		seen[rec.Key] = true
		if rec.Key == "key-0" && !rec.Tombstone {
			t.Errorf("Expected key-0 to be offered as tombstone")
		}
	}
}

func testConvergenceUnderReordering(t *testing.T, factory DBFactory) {
	var recs []db.MutationRecord
	for i := 0; i < 200; i++ {
		recs = append(recs, db.MutationRecord{
			Key:       fmt.Sprintf("key-%d", i%10),
			Value:     []byte(fmt.Sprintf("value-%d", i)),
			Timestamp: uint64(1000 + i/3), // ties between origins, (timestamp, origin) stays unique
			Origin:    uint8(1 + i%3),
			Tombstone: i%7 == 0,
		})
	}

	replicas := make([]db.KVDB, 3)
	for i := range replicas {
		replicas[i] = factory(uint8(10+i), db.NewManualClock(0))
		defer replicas[i].Close()

		order := rand.Perm(len(recs))
		for _, j := range order {
			rec := recs[j]
			if rec.Tombstone {
				rec.Value = nil
			}
			replicas[i].Apply(rec)
		}
	}

	for k := 0; k < 10; k++ {
		key := fmt.Sprintf("key-%d", k)
		v0, ok0 := replicas[0].Get(key)
		for i := 1; i < len(replicas); i++ {
			v, ok := replicas[i].Get(key)
			if ok != ok0 || !bytes.Equal(v, v0) {
				t.Errorf("Replicas diverged on %s: %s (%v) vs %s (%v)", key, v0, ok0, v, ok)
			}
		}
	}
}

func testConcurrentWrites(t *testing.T, factory DBFactory) {
	database := factory(1, db.SystemClock{})
	defer database.Close()

	log := database.ChangeLog(2)

	const workers = 8
	const keysPerWorker = 500

	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func(w int) {
			defer wg.Done()
			for i := 0; i < keysPerWorker; i++ {
				database.Put(fmt.Sprintf("w%d-key-%d", w, i), []byte("value"))
			}
		}(w)
	}
	wg.Wait()

	if database.Size() != workers*keysPerWorker {
		t.Errorf("Expected %d entries, got %d", workers*keysPerWorker, database.Size())
	}
	if recs := drain(log); len(recs) != workers*keysPerWorker {
		t.Errorf("Expected %d captured records, got %d", workers*keysPerWorker, len(recs))
	}
}
