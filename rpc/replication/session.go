package replication

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/ValentinKolb/rKV/lib/db"
	"github.com/ValentinKolb/rKV/rpc/common"
	"github.com/ValentinKolb/rKV/rpc/serializer"
	"github.com/ValentinKolb/rKV/rpc/transport"
	"github.com/cockroachdb/errors"
	"github.com/lni/dragonboat/v4/logger"
	gometrics "github.com/rcrowley/go-metrics"
	"golang.org/x/sync/errgroup"
)

var Logger = logger.GetLogger("replication")

// Replicator runs the replication session over one stream: a FrameEncoder
// that drains the change log of the peer into the stream and a FrameDecoder
// that applies the chunks of the peer to the store.
type Replicator struct {
	store    db.KVDB
	stream   transport.IStream
	config   common.ReplicationConfig
	codec    serializer.IEntryCodec
	registry gometrics.Registry

	peer atomic.Uint32 // 0 until the handshake completed

	mu      sync.Mutex
	encoder *FrameEncoder
	decoder *FrameDecoder
	log     db.IChangeLog
}

// NewReplicator creates a session for stream. registry receives the per peer
// metrics, it may be nil.
func NewReplicator(store db.KVDB, stream transport.IStream, config common.ReplicationConfig, registry gometrics.Registry) (*Replicator, error) {
	codec, err := serializer.NewCodec(config.Codec)
	if err != nil {
		return nil, errors.WithAssertionFailure(err)
	}
	if config.MaxEntriesPerChunk < 1 || config.MaxEntrySize < 1 {
		return nil, errors.AssertionFailedf("invalid chunk bounds: %d entries of %d bytes",
			config.MaxEntriesPerChunk, config.MaxEntrySize)
	}
	return &Replicator{
		store:    store,
		stream:   stream,
		config:   config,
		codec:    codec,
		registry: registry,
	}, nil
}

// Handshake exchanges the identifiers with the other end and returns the peer
func (r *Replicator) Handshake(ctx context.Context) (uint8, error) {
	peer, err := r.stream.Handshake(ctx, r.store.Identifier())
	if err != nil {
		return 0, err
	}
	if peer == r.store.Identifier() {
		return 0, errors.Wrapf(common.ErrHandshake, "peer at %s uses our own identifier %d", r.stream.RemoteAddr(), peer)
	}
	r.peer.Store(uint32(peer))
	return peer, nil
}

// Replicate runs encoder and decoder until one of them fails or ctx is done.
// The stream is closed when Replicate returns. The whole store is offered to
// the peer again at the start, so records lost with a previous connection
// are delivered.
func (r *Replicator) Replicate(ctx context.Context) error {
	defer func() { _ = r.stream.Close() }()

	peer := r.Peer()
	if peer == 0 {
		return errors.AssertionFailedf("Replicate called before Handshake")
	}

	log := r.store.ChangeLog(peer)
	log.DirtyAll()

	encoder := NewFrameEncoder(log, serializer.NewPeerFilter(r.codec, peer), r.stream,
		r.config.MaxEntriesPerChunk, r.config.MaxEntrySize)
	decoder := NewFrameDecoder(r.stream, r.codec, r.store, peer)
	metrics := newPeerMetrics(r.registry, peer)
	encoder.metrics = metrics
	decoder.metrics = metrics

	r.mu.Lock()
	r.encoder, r.decoder, r.log = encoder, decoder, log
	r.mu.Unlock()

	Logger.Infof("replicating with peer %d at %s (%d keys pending)", peer, r.stream.RemoteAddr(), log.Pending())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return errors.Wrap(encoder.Run(gctx), "encoder stopped")
	})
	g.Go(func() error {
		return errors.Wrap(decoder.Run(gctx), "decoder stopped")
	})
	g.Go(func() error {
		// unblocks the loop that is still waiting on the stream
		<-gctx.Done()
		_ = r.stream.Close()
		return nil
	})

	return g.Wait()
}

// Run performs the handshake and replicates until the session ends
func (r *Replicator) Run(ctx context.Context) error {
	if _, err := r.Handshake(ctx); err != nil {
		_ = r.stream.Close()
		return err
	}
	return r.Replicate(ctx)
}

// Close closes the stream, a running Replicate returns shortly after
func (r *Replicator) Close() error {
	return r.stream.Close()
}

// Peer returns the identifier of the peer (0 before the handshake)
func (r *Replicator) Peer() uint8 {
	return uint8(r.peer.Load())
}

// RemoteAddr describes the other end of the session
func (r *Replicator) RemoteAddr() string {
	return r.stream.RemoteAddr()
}

// EncoderState returns the state of the outgoing direction
func (r *Replicator) EncoderState() EncoderState {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.encoder == nil {
		return EncoderIdle
	}
	return r.encoder.State()
}

// DecoderState returns the state of the incoming direction
func (r *Replicator) DecoderState() DecoderState {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.decoder == nil {
		return DecoderIdle
	}
	return r.decoder.State()
}

// Pending returns an estimate of the keys not yet sent to the peer
func (r *Replicator) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.log == nil {
		return 0
	}
	return r.log.Pending()
}
