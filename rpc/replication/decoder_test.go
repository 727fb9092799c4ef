package replication

import (
	"context"
	"encoding/binary"
	"testing"
	"time"

	"github.com/ValentinKolb/rKV/lib/db"
	"github.com/ValentinKolb/rKV/rpc/common"
	"github.com/ValentinKolb/rKV/rpc/serializer"
	"github.com/ValentinKolb/rKV/rpc/transport/queue"
	"github.com/cockroachdb/errors"
)

func TestApplyChunk(t *testing.T) {
	codec := serializer.NewBinaryCodec()

	tests := []struct {
		name      string
		records   []db.MutationRecord
		applied   int
		discarded int
		want      map[string]string // expected live values, "" = no live value
	}{
		{
			name: "independent keys",
			records: []db.MutationRecord{
				{Key: "a", Value: []byte("1"), Timestamp: 1000, Origin: 2},
				{Key: "b", Value: []byte("2"), Timestamp: 1000, Origin: 2},
			},
			applied: 2,
			want:    map[string]string{"a": "1", "b": "2"},
		},
		{
			name: "late record in the same chunk",
			records: []db.MutationRecord{
				{Key: "k", Value: []byte("v1"), Timestamp: 1000, Origin: 2},
				{Key: "k", Value: []byte("v2"), Timestamp: 995, Origin: 2},
			},
			applied:   1,
			discarded: 1,
			want:      map[string]string{"k": "v1"},
		},
		{
			name: "tie broken by origin",
			records: []db.MutationRecord{
				{Key: "k", Value: []byte("high"), Timestamp: 1000, Origin: 3},
				{Key: "k", Value: []byte("low"), Timestamp: 1000, Origin: 2},
			},
			applied:   1,
			discarded: 1,
			want:      map[string]string{"k": "high"},
		},
		{
			name: "tombstone wins over older value",
			records: []db.MutationRecord{
				{Key: "k", Value: []byte("v"), Timestamp: 1000, Origin: 2},
				{Key: "k", Timestamp: 1001, Origin: 3, Tombstone: true},
				{Key: "k", Value: []byte("late"), Timestamp: 999, Origin: 4},
			},
			applied:   2,
			discarded: 1,
			want:      map[string]string{"k": ""},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newStore(1, db.NewManualClock(0))
			defer store.Close()

			dec := NewFrameDecoder(nil, codec, store, 2)
			chunk := buildChunk(t, codec, tt.records...)

			res, err := dec.ApplyChunk(chunk)
			if err != nil {
				t.Fatalf("ApplyChunk failed: %v", err)
			}
			if res.Applied != tt.applied || res.Discarded != tt.discarded {
				t.Errorf("expected %d applied / %d discarded, got %+v", tt.applied, tt.discarded, res)
			}
			for key, want := range tt.want {
				got, ok := store.Get(key)
				if want == "" {
					if ok {
						t.Errorf("%s: expected no live value, got %q", key, got)
					}
					continue
				}
				if !ok || string(got) != want {
					t.Errorf("%s: expected %q, got %q (loaded %v)", key, want, got, ok)
				}
			}

			// the same chunk again changes nothing
			res, err = dec.ApplyChunk(chunk)
			if err != nil {
				t.Fatalf("second ApplyChunk failed: %v", err)
			}
			if res.Applied != 0 || res.Discarded != len(tt.records) {
				t.Errorf("re-applied chunk changed the store: %+v", res)
			}
		})
	}
}

func TestApplyChunkMalformedFrames(t *testing.T) {
	codec := serializer.NewBinaryCodec()
	valid := buildChunk(t, codec, db.MutationRecord{Key: "ok", Value: []byte("v"), Timestamp: 1, Origin: 2})

	tests := []struct {
		name  string
		chunk []byte
	}{
		{"length beyond the chunk", binary.AppendUvarint(append([]byte{}, valid...), 1000)},
		{"truncated length", append(append([]byte{}, valid...), 0x80)},
		{"length overflow", append(append([]byte{}, valid...), 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0x01)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newStore(1, db.NewManualClock(0))
			defer store.Close()

			res, err := NewFrameDecoder(nil, codec, store, 2).ApplyChunk(tt.chunk)
			if !errors.Is(err, common.ErrMalformedFrame) {
				t.Fatalf("expected ErrMalformedFrame, got %v", err)
			}
			// records before the broken frame stay applied
			if res.Applied != 1 || !store.Has("ok") {
				t.Errorf("expected the leading record to be applied, got %+v", res)
			}
		})
	}
}

func TestApplyChunkSkipsUnreadableRecords(t *testing.T) {
	codec := serializer.NewBinaryCodec()
	store := newStore(1, db.NewManualClock(0))
	defer store.Close()

	var chunk []byte
	chunk = binary.AppendUvarint(chunk, 3)
	chunk = append(chunk, 0xff, 0x00, 0x00)
	chunk = append(chunk, buildChunk(t, codec, db.MutationRecord{Key: "ok", Value: []byte("v"), Timestamp: 1, Origin: 2})...)

	res, err := NewFrameDecoder(nil, codec, store, 2).ApplyChunk(chunk)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Skipped != 1 || res.Applied != 1 {
		t.Errorf("expected 1 skipped and 1 applied, got %+v", res)
	}
}

func TestDecoderRun(t *testing.T) {
	codec := serializer.NewBinaryCodec()
	store := newStore(1, db.NewManualClock(0))
	defer store.Close()

	local, remote := queue.NewPipe(4)
	dec := NewFrameDecoder(local, codec, store, 2)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- dec.Run(ctx) }()

	chunks := [][]byte{
		buildChunk(t, codec, db.MutationRecord{Key: "k", Value: []byte("v1"), Timestamp: 1000, Origin: 2}),
		{0x80}, // broken chunk, the decoder continues
		buildChunk(t, codec, db.MutationRecord{Key: "k", Value: []byte("v2"), Timestamp: 995, Origin: 2}),
		buildChunk(t, codec, db.MutationRecord{Key: "done", Value: []byte("x"), Timestamp: 1, Origin: 2}),
	}
	for _, chunk := range chunks {
		if err := remote.PutChunk(ctx, chunk); err != nil {
			t.Fatalf("PutChunk failed: %v", err)
		}
	}

	eventually(t, 2*time.Second, func() bool { return store.Has("done") }, "chunks were not applied")
	if !hasValue(store, "k", []byte("v1")) {
		got, _ := store.Get("k")
		t.Errorf("expected v1 to survive the late record, got %q", got)
	}

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}
