package maple

import (
	"testing"
	"time"

	"github.com/ValentinKolb/rKV/lib/db"
)

func TestDefaults(t *testing.T) {
	database := NewMapleDB(nil)
	defer database.Close()

	if database.Identifier() != 1 {
		t.Errorf("Expected default identifier 1, got %d", database.Identifier())
	}

	info := database.GetInfo()
	if info.DbType != db.ImplMaple {
		t.Errorf("Expected db type %s, got %s", db.ImplMaple, info.DbType)
	}
}

func TestGarbageCollector(t *testing.T) {
	clock := db.NewManualClock(1000)
	database := NewMapleDB(&DBOptions{
		Identifier:         1,
		Clock:              clock,
		NumShards:          2,
		GCInterval:         5 * time.Millisecond,
		TombstoneRetention: 100 * time.Millisecond,
	})
	defer database.Close()

	database.Put("key", []byte("value"))
	database.Remove("key")

	if database.GetInfo().Tombstones != 1 {
		t.Fatalf("Expected 1 tombstone")
	}

	// younger than the retention, nothing happens
	time.Sleep(30 * time.Millisecond)
	if database.GetInfo().Tombstones != 1 {
		t.Fatalf("Tombstone purged before the retention period")
	}

	clock.Advance(200)

	deadline := time.Now().Add(2 * time.Second)
	for database.GetInfo().Tombstones != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("Tombstone was not purged by the garbage collector")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestNoGarbageCollectorWithoutRetention(t *testing.T) {
	clock := db.NewManualClock(1000)
	database := NewMapleDB(&DBOptions{
		Identifier: 1,
		Clock:      clock,
		GCInterval: time.Millisecond,
	})

	database.Put("key", []byte("value"))
	database.Remove("key")
	clock.Advance(1_000_000)
	time.Sleep(20 * time.Millisecond)

	if database.GetInfo().Tombstones != 1 {
		t.Errorf("Tombstones must be kept when the retention is 0")
	}

	if err := database.Close(); err != nil {
		t.Errorf("Close returned %v", err)
	}
	// closing twice is fine
	if err := database.Close(); err != nil {
		t.Errorf("Second Close returned %v", err)
	}
}

func TestChangeLogPerPeer(t *testing.T) {
	clock := db.NewManualClock(1000)
	database := NewMapleDB(&DBOptions{Identifier: 1, Clock: clock})
	defer database.Close()

	a := database.ChangeLog(2)
	b := database.ChangeLog(3)
	if database.ChangeLog(2) != a {
		t.Errorf("ChangeLog must return the same log for the same peer")
	}

	database.Put("key", []byte("value"))

	if _, ok := a.Next(); !ok {
		t.Errorf("Peer 2 did not see the write")
	}
	if _, ok := a.Next(); ok {
		t.Errorf("Peer 2 saw the write twice")
	}
	// draining one log does not affect the other
	if _, ok := b.Next(); !ok {
		t.Errorf("Peer 3 did not see the write")
	}

	peers := database.GetInfo().Peers
	if len(peers) != 2 {
		t.Errorf("Expected 2 peers, got %v", peers)
	}
}

func TestChangeLogSkipsPurgedKeys(t *testing.T) {
	clock := db.NewManualClock(1000)
	database := NewMapleDB(&DBOptions{Identifier: 1, Clock: clock})
	defer database.Close()

	log := database.ChangeLog(2)
	database.Put("gone", []byte("value"))
	database.Remove("gone")
	database.Put("kept", []byte("value"))
	database.PurgeTombstones(2000)

	rec, ok := log.Next()
	if !ok || rec.Key != "kept" {
		t.Errorf("Expected only key kept, got %s (ok=%v)", rec, ok)
	}
	if _, ok := log.Next(); ok {
		t.Errorf("Expected the log to be drained")
	}
}
