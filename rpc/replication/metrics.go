package replication

import (
	"fmt"

	vm "github.com/VictoriaMetrics/metrics"
	gometrics "github.com/rcrowley/go-metrics"
)

// process wide counters, exported in prometheus format by the serve command
var (
	chunksSent       = vm.GetOrCreateCounter("rkv_chunks_sent_total")
	chunksReceived   = vm.GetOrCreateCounter("rkv_chunks_received_total")
	recordsEncoded   = vm.GetOrCreateCounter("rkv_records_encoded_total")
	recordsFiltered  = vm.GetOrCreateCounter("rkv_records_filtered_total")
	recordsApplied   = vm.GetOrCreateCounter("rkv_records_applied_total")
	recordsDiscarded = vm.GetOrCreateCounter("rkv_records_discarded_total")
	frameErrors      = vm.GetOrCreateCounter("rkv_frame_errors_total")
	codecErrors      = vm.GetOrCreateCounter("rkv_codec_errors_total")
	sessionsStarted  = vm.GetOrCreateCounter("rkv_sessions_started_total")
	sessionsRejected = vm.GetOrCreateCounter("rkv_sessions_rejected_total")
)

// peerMetrics holds the per peer statistics of a session
type peerMetrics struct {
	chunkBytes   gometrics.Histogram
	chunkRecords gometrics.Histogram
	applied      gometrics.Meter
	discarded    gometrics.Meter
}

// newPeerMetrics registers (or looks up) the metrics of a peer in registry,
// sessions with the same peer share them. A nil registry disables the metrics.
func newPeerMetrics(registry gometrics.Registry, peer uint8) *peerMetrics {
	// meters are ticked by a global goroutine until stopped, so there are no unregistered ones
	if registry == nil {
		return &peerMetrics{
			chunkBytes:   gometrics.NilHistogram{},
			chunkRecords: gometrics.NilHistogram{},
			applied:      gometrics.NilMeter{},
			discarded:    gometrics.NilMeter{},
		}
	}
	name := func(metric string) string {
		return fmt.Sprintf("peer.%d.%s", peer, metric)
	}
	return &peerMetrics{
		chunkBytes:   gometrics.GetOrRegisterHistogram(name("chunk.bytes"), registry, gometrics.NewExpDecaySample(1028, 0.015)),
		chunkRecords: gometrics.GetOrRegisterHistogram(name("chunk.records"), registry, gometrics.NewExpDecaySample(1028, 0.015)),
		applied:      gometrics.GetOrRegisterMeter(name("records.applied"), registry),
		discarded:    gometrics.GetOrRegisterMeter(name("records.discarded"), registry),
	}
}
