package replication

import (
	"bytes"
	"context"
	"encoding/binary"
	"sync"
	"testing"
	"time"

	"github.com/ValentinKolb/rKV/lib/db"
	"github.com/ValentinKolb/rKV/lib/db/engines/maple"
	"github.com/ValentinKolb/rKV/rpc/common"
	"github.com/ValentinKolb/rKV/rpc/serializer"
)

func newStore(identifier uint8, clock db.ITimeSource) db.KVDB {
	return maple.NewMapleDB(&maple.DBOptions{
		Identifier: identifier,
		Clock:      clock,
		NumShards:  4,
	})
}

func testConfig(identifier uint8) common.ReplicationConfig {
	cfg := common.DefaultReplicationConfig()
	cfg.Identifier = identifier
	cfg.Transport.Endpoint = "127.0.0.1:0"
	cfg.Transport.ReconnectBackoff = 20 * time.Millisecond
	cfg.Transport.CloseGrace = 0
	cfg.MaxEntriesPerChunk = 4
	cfg.MaxEntrySize = 1024
	return cfg
}

// recordingSink collects the chunks handed to it
type recordingSink struct {
	mu     sync.Mutex
	chunks [][]byte
	notify chan struct{}
	err    error
}

func newRecordingSink() *recordingSink {
	return &recordingSink{notify: make(chan struct{}, 1)}
}

func (s *recordingSink) PutChunk(_ context.Context, chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.chunks = append(s.chunks, chunk)
	select {
	case s.notify <- struct{}{}:
	default:
	}
	return nil
}

func (s *recordingSink) snapshot() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]byte(nil), s.chunks...)
}

// buildChunk frames the records with codec
func buildChunk(t *testing.T, codec serializer.IEntryCodec, records ...db.MutationRecord) []byte {
	t.Helper()
	var chunk []byte
	for _, rec := range records {
		data, err := codec.WriteEntry(nil, rec)
		if err != nil {
			t.Fatalf("WriteEntry(%s) failed: %v", rec, err)
		}
		chunk = binary.AppendUvarint(chunk, uint64(len(data)))
		chunk = append(chunk, data...)
	}
	return chunk
}

// splitChunk decodes all records of a well formed chunk
func splitChunk(t *testing.T, codec serializer.IEntryCodec, chunk []byte) []db.MutationRecord {
	t.Helper()
	var records []db.MutationRecord
	for off := 0; off < len(chunk); {
		n, w := binary.Uvarint(chunk[off:])
		if w <= 0 || int(n) > len(chunk)-off-w {
			t.Fatalf("malformed frame at offset %d", off)
		}
		off += w
		rec, err := codec.ReadEntry(chunk[off : off+int(n)])
		if err != nil {
			t.Fatalf("ReadEntry failed: %v", err)
		}
		records = append(records, rec)
		off += int(n)
	}
	return records
}

// eventually polls cond until it holds or the timeout expires
func eventually(t *testing.T, timeout time.Duration, cond func() bool, format string, args ...interface{}) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf(format, args...)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// hasValue reports whether key holds value in store
func hasValue(store db.KVDB, key string, value []byte) bool {
	got, ok := store.Get(key)
	return ok && bytes.Equal(got, value)
}
