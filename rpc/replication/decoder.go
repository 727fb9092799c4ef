package replication

import (
	"context"
	"encoding/binary"
	"sync/atomic"

	"github.com/ValentinKolb/rKV/lib/db"
	"github.com/ValentinKolb/rKV/rpc/common"
	"github.com/ValentinKolb/rKV/rpc/serializer"
	"github.com/ValentinKolb/rKV/rpc/transport"
	"github.com/cockroachdb/errors"
)

// FrameDecoder consumes chunks in arrival order and applies every framed
// record to the store. Records are applied strictly one after the other, the
// store decides with last-writer-wins whether a record takes effect.
type FrameDecoder struct {
	source transport.IChunkSource
	codec  serializer.IEntryCodec
	store  db.KVDB
	peer   uint8

	state   atomic.Int32
	metrics *peerMetrics
}

// ChunkResult summarizes the application of one chunk
type ChunkResult struct {
	Applied   int // records that changed the store
	Discarded int // records that lost against the stored entry
	Skipped   int // records the codec could not read
}

// NewFrameDecoder creates a decoder for the chunks sent by peer
func NewFrameDecoder(source transport.IChunkSource, codec serializer.IEntryCodec, store db.KVDB, peer uint8) *FrameDecoder {
	return &FrameDecoder{
		source:  source,
		codec:   codec,
		store:   store,
		peer:    peer,
		metrics: newPeerMetrics(nil, peer), // attached by the Replicator
	}
}

// State returns the current state of the decoder loop
func (d *FrameDecoder) State() DecoderState {
	return DecoderState(d.state.Load())
}

// Run applies chunks until the source fails or the context is done.
// A malformed chunk is logged and the decoder continues with the next chunk.
func (d *FrameDecoder) Run(ctx context.Context) error {
	for {
		d.state.Store(int32(DecoderIdle))

		chunk, err := d.source.NextChunk(ctx)
		if err != nil {
			return err
		}

		d.state.Store(int32(DecoderApplying))
		chunksReceived.Inc()

		if _, err := d.ApplyChunk(chunk); err != nil {
			frameErrors.Inc()
			Logger.Errorf("dropped rest of chunk from peer %d: %v", d.peer, err)
		}
	}
}

// ApplyChunk applies the records of one chunk in order. A frame that can not
// be read aborts the chunk with an ErrMalformedFrame; records before it stay applied.
func (d *FrameDecoder) ApplyChunk(chunk []byte) (ChunkResult, error) {
	var res ChunkResult

	for off := 0; off < len(chunk); {
		n, w := binary.Uvarint(chunk[off:])
		if w <= 0 {
			return res, errors.Wrapf(common.ErrMalformedFrame, "unreadable length at offset %d", off)
		}
		off += w

		if n > uint64(len(chunk)-off) {
			return res, errors.Wrapf(common.ErrMalformedFrame,
				"record length %d at offset %d exceeds the %d remaining bytes", n, off, len(chunk)-off)
		}

		// the codec only sees the declared window
		end := off + int(n)
		window := chunk[off:end:end]
		off = end

		rec, err := d.codec.ReadEntry(window)
		if err != nil {
			res.Skipped++
			codecErrors.Inc()
			Logger.Errorf("skipping unreadable record from peer %d: %v", d.peer, err)
			continue
		}

		if d.store.Apply(rec) {
			res.Applied++
			recordsApplied.Inc()
			d.metrics.applied.Mark(1)
		} else {
			res.Discarded++
			recordsDiscarded.Inc()
			d.metrics.discarded.Mark(1)
		}
	}

	return res, nil
}
