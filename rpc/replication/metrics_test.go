package replication

import (
	"testing"

	"github.com/ValentinKolb/rKV/lib/db"
	"github.com/ValentinKolb/rKV/rpc/serializer"
	gometrics "github.com/rcrowley/go-metrics"
)

func TestPeerMetricsWithoutRegistry(t *testing.T) {
	store := newStore(1, db.NewManualClock(0))
	defer store.Close()

	codec := serializer.NewBinaryCodec()
	tests := []struct {
		name    string
		metrics *peerMetrics
	}{
		{"nil registry", newPeerMetrics(nil, 2)},
		{"encoder default", NewFrameEncoder(store.ChangeLog(2), codec, newRecordingSink(), 1, 1).metrics},
		{"decoder default", NewFrameDecoder(nil, codec, store, 2).metrics},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, ok := tt.metrics.applied.(gometrics.NilMeter); !ok {
				t.Errorf("expected a NilMeter for applied records, got %T", tt.metrics.applied)
			}
			if _, ok := tt.metrics.discarded.(gometrics.NilMeter); !ok {
				t.Errorf("expected a NilMeter for discarded records, got %T", tt.metrics.discarded)
			}
			if _, ok := tt.metrics.chunkBytes.(gometrics.NilHistogram); !ok {
				t.Errorf("expected a NilHistogram for chunk bytes, got %T", tt.metrics.chunkBytes)
			}
			if _, ok := tt.metrics.chunkRecords.(gometrics.NilHistogram); !ok {
				t.Errorf("expected a NilHistogram for chunk records, got %T", tt.metrics.chunkRecords)
			}
		})
	}
}

func TestPeerMetricsAreSharedPerPeer(t *testing.T) {
	registry := gometrics.NewRegistry()

	first := newPeerMetrics(registry, 2)
	second := newPeerMetrics(registry, 2)
	other := newPeerMetrics(registry, 3)

	if first.applied != second.applied || first.chunkBytes != second.chunkBytes {
		t.Error("sessions with the same peer must share their metrics")
	}
	if first.applied == other.applied {
		t.Error("different peers must not share metrics")
	}

	// one meter per peer and direction, however many sessions ran
	count := 0
	registry.Each(func(string, interface{}) { count++ })
	if count != 8 {
		t.Errorf("expected 8 registered metrics for 2 peers, got %d", count)
	}
}
