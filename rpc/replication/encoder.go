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

// FrameEncoder drains a change log, serializes the records and packs them into
// size bounded chunks of {uvarint length, record bytes}*.
//
// A chunk is flushed when it holds MaxEntriesPerChunk records, when the
// remaining capacity can not take another record of maximum size, or when
// the change log is drained and records are pending.
type FrameEncoder struct {
	log   db.IChangeLog
	codec serializer.IEntryCodec
	sink  transport.IChunkSink

	maxEntries   int
	maxEntrySize int

	buf     []byte // chunk buffer, capacity (MaxEntrySize + EntryOverhead) * MaxEntriesPerChunk
	scratch []byte // serialization of the current record
	queued  int    // records in buf

	state   atomic.Int32
	metrics *peerMetrics
}

// NewFrameEncoder creates an encoder. maxEntries and maxEntrySize must be at least 1.
func NewFrameEncoder(log db.IChangeLog, codec serializer.IEntryCodec, sink transport.IChunkSink, maxEntries, maxEntrySize int) *FrameEncoder {
	return &FrameEncoder{
		log:          log,
		codec:        codec,
		sink:         sink,
		maxEntries:   maxEntries,
		maxEntrySize: maxEntrySize,
		buf:          make([]byte, 0, (maxEntrySize+common.EntryOverhead)*maxEntries),
		scratch:      make([]byte, 0, maxEntrySize),
		metrics:      newPeerMetrics(nil, log.Peer()), // attached by the Replicator
	}
}

// State returns the current state of the encoder loop
func (e *FrameEncoder) State() EncoderState {
	return EncoderState(e.state.Load())
}

// Run encodes until the context is done or the sink fails.
// Errors of single records are logged and the record is skipped.
func (e *FrameEncoder) Run(ctx context.Context) error {
	defer e.state.Store(int32(EncoderIdle))

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		rec, ok := e.log.Next()
		if !ok {
			// drain is empty, hand off what we have
			if e.queued > 0 {
				if err := e.flush(ctx); err != nil {
					return err
				}
				continue
			}

			e.state.Store(int32(EncoderIdle))
			select {
			case <-e.log.Wait():
			case <-ctx.Done():
				return ctx.Err()
			}
			continue
		}

		e.state.Store(int32(EncoderDraining))
		if err := e.append(rec); err != nil {
			codecErrors.Inc()
			Logger.Errorf("skipping %s for peer %d: %v", rec, e.log.Peer(), err)
			continue
		}

		if e.full() {
			if err := e.flush(ctx); err != nil {
				return err
			}
		}
	}
}

// append serializes rec and frames it into the chunk buffer
func (e *FrameEncoder) append(rec db.MutationRecord) error {
	var err error
	e.scratch, err = e.codec.WriteEntry(e.scratch[:0], rec)
	if err != nil {
		return err
	}

	// zero length means the codec filtered the record
	if len(e.scratch) == 0 {
		recordsFiltered.Inc()
		return nil
	}
	if len(e.scratch) > e.maxEntrySize {
		return errors.Wrapf(common.ErrRecordTooLarge, "%d > %d bytes", len(e.scratch), e.maxEntrySize)
	}

	e.buf = binary.AppendUvarint(e.buf, uint64(len(e.scratch)))
	e.buf = append(e.buf, e.scratch...)
	e.queued++
	recordsEncoded.Inc()
	return nil
}

// full reports whether the chunk can not take another record
func (e *FrameEncoder) full() bool {
	if e.queued == 0 {
		return false
	}
	if e.queued >= e.maxEntries {
		return true
	}
	return cap(e.buf)-len(e.buf) < e.maxEntrySize+binary.MaxVarintLen64
}

// flush copies the chunk buffer into an immutable chunk, hands it to the sink and clears the buffer
func (e *FrameEncoder) flush(ctx context.Context) error {
	e.state.Store(int32(EncoderFlushing))

	chunk := make([]byte, len(e.buf))
	copy(chunk, e.buf)
	records := e.queued

	e.buf = e.buf[:0]
	e.queued = 0

	if err := e.sink.PutChunk(ctx, chunk); err != nil {
		return errors.Wrapf(err, "failed to hand off chunk of %d records to peer %d", records, e.log.Peer())
	}

	chunksSent.Inc()
	e.metrics.chunkBytes.Update(int64(len(chunk)))
	e.metrics.chunkRecords.Update(int64(records))
	return nil
}
