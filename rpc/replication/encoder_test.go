package replication

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/ValentinKolb/rKV/lib/db"
	"github.com/ValentinKolb/rKV/rpc/serializer"
	"github.com/cockroachdb/errors"
)

// runEncoder starts an encoder for peer and returns the sink and a stop function
func runEncoder(t *testing.T, store db.KVDB, peer uint8, maxEntries, maxEntrySize int) (*recordingSink, func() error) {
	t.Helper()
	sink := newRecordingSink()
	codec := serializer.NewPeerFilter(serializer.NewBinaryCodec(), peer)
	enc := NewFrameEncoder(store.ChangeLog(peer), codec, sink, maxEntries, maxEntrySize)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- enc.Run(ctx) }()

	return sink, func() error {
		cancel()
		return <-done
	}
}

// collect waits until the sink holds n records
func collect(t *testing.T, sink *recordingSink, n int) ([][]byte, []db.MutationRecord) {
	t.Helper()
	var (
		chunks  [][]byte
		records []db.MutationRecord
	)
	eventually(t, 2*time.Second, func() bool {
		chunks = sink.snapshot()
		records = records[:0]
		for _, chunk := range chunks {
			records = append(records, splitChunk(t, serializer.NewBinaryCodec(), chunk)...)
		}
		return len(records) >= n
	}, "expected %d records", n)
	return chunks, records
}

func TestEncoderChunkBounds(t *testing.T) {
	tests := []struct {
		name         string
		keys         int
		maxEntries   int
		maxEntrySize int
		valueSize    int
	}{
		{"single record chunks", 5, 1, 128, 16},
		{"small chunks", 10, 3, 256, 32},
		{"values close to the limit", 12, 4, 256, 200},
		{"many keys", 200, 10, 1024, 64},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newStore(1, db.NewManualClock(1000))
			defer store.Close()

			// register the change log before writing
			store.ChangeLog(2)
			for i := 0; i < tt.keys; i++ {
				store.Put(fmt.Sprintf("key-%03d", i), make([]byte, tt.valueSize))
			}

			sink, stop := runEncoder(t, store, 2, tt.maxEntries, tt.maxEntrySize)
			chunks, records := collect(t, sink, tt.keys)
			if err := stop(); !errors.Is(err, context.Canceled) {
				t.Errorf("expected context.Canceled, got %v", err)
			}

			capacity := (tt.maxEntrySize + 128) * tt.maxEntries
			for i, chunk := range chunks {
				n := len(splitChunk(t, serializer.NewBinaryCodec(), chunk))
				if n == 0 || n > tt.maxEntries {
					t.Errorf("chunk %d holds %d records, want 1..%d", i, n, tt.maxEntries)
				}
				if len(chunk) > capacity {
					t.Errorf("chunk %d has %d bytes, capacity is %d", i, len(chunk), capacity)
				}
			}

			if len(records) != tt.keys {
				t.Fatalf("expected %d records, got %d", tt.keys, len(records))
			}
			seen := make(map[string]bool)
			for i, rec := range records {
				if seen[rec.Key] {
					t.Errorf("key %s sent twice", rec.Key)
				}
				seen[rec.Key] = true
				// first dirty order is kept for keys written by one goroutine
				if want := fmt.Sprintf("key-%03d", i); rec.Key != want {
					t.Errorf("record %d: expected %s, got %s", i, want, rec.Key)
				}
			}
		})
	}
}

func TestEncoderSendsLatestState(t *testing.T) {
	clock := db.NewManualClock(1000)
	store := newStore(1, clock)
	defer store.Close()

	store.ChangeLog(2)
	store.Put("key", []byte("v1"))
	clock.Advance(1)
	store.Put("key", []byte("v2"))
	clock.Advance(1)
	store.Remove("key")

	sink, stop := runEncoder(t, store, 2, 10, 128)
	_, records := collect(t, sink, 1)
	_ = stop()

	if len(records) != 1 {
		t.Fatalf("expected a single record, got %d", len(records))
	}
	if !records[0].Tombstone || records[0].Timestamp != 1002 {
		t.Errorf("expected tombstone at 1002, got %s", records[0])
	}
}

func TestEncoderFiltersPeerRecords(t *testing.T) {
	store := newStore(1, db.NewManualClock(1000))
	defer store.Close()

	store.ChangeLog(2)
	store.ChangeLog(3)
	store.Apply(db.MutationRecord{Key: "from-2", Value: []byte("x"), Timestamp: 900, Origin: 2})
	store.Apply(db.MutationRecord{Key: "from-3", Value: []byte("y"), Timestamp: 900, Origin: 3})
	store.Put("local", []byte("z"))

	sink, stop := runEncoder(t, store, 2, 10, 128)
	_, records := collect(t, sink, 2)
	// give the encoder time to send a record that should have been filtered
	time.Sleep(20 * time.Millisecond)
	_, records = collect(t, sink, 2)
	_ = stop()

	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d: %v", len(records), records)
	}
	for _, rec := range records {
		if rec.Origin == 2 {
			t.Errorf("record of the destination peer was sent: %s", rec)
		}
	}
}

func TestEncoderSkipsOversizedRecords(t *testing.T) {
	store := newStore(1, db.NewManualClock(1000))
	defer store.Close()

	store.ChangeLog(2)
	store.Put("big", make([]byte, 200))
	store.Put("small", []byte("ok"))

	sink, stop := runEncoder(t, store, 2, 10, 64)
	_, records := collect(t, sink, 1)
	_ = stop()

	if len(records) != 1 || records[0].Key != "small" {
		t.Fatalf("expected only the small record, got %v", records)
	}
}

func TestEncoderStopsOnSinkError(t *testing.T) {
	store := newStore(1, db.NewManualClock(1000))
	defer store.Close()

	sinkErr := errors.New("sink closed")
	sink := newRecordingSink()
	sink.err = sinkErr

	store.ChangeLog(2)
	store.Put("key", []byte("value"))

	enc := NewFrameEncoder(store.ChangeLog(2), serializer.NewBinaryCodec(), sink, 10, 128)
	done := make(chan error, 1)
	go func() { done <- enc.Run(context.Background()) }()

	select {
	case err := <-done:
		if !errors.Is(err, sinkErr) {
			t.Errorf("expected sink error, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("encoder did not stop after a sink error")
	}
	if enc.State() != EncoderIdle {
		t.Errorf("expected Idle after stop, got %s", enc.State())
	}
}

func TestEncoderWakesUpOnNewWork(t *testing.T) {
	store := newStore(1, db.NewManualClock(1000))
	defer store.Close()

	sink, stop := runEncoder(t, store, 2, 10, 128)
	defer stop()

	eventually(t, time.Second, func() bool {
		return store.ChangeLog(2).Pending() == 0
	}, "encoder did not start")

	for i := 0; i < 3; i++ {
		store.Put(fmt.Sprintf("key-%d", i), []byte("value"))
		collect(t, sink, i+1)
	}
}
