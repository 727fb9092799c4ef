package queue

import (
	"context"
	"fmt"
	"sync"

	"github.com/ValentinKolb/rKV/rpc/common"
	"github.com/ValentinKolb/rKV/rpc/transport"
	"github.com/cockroachdb/errors"
)

// endpoint is one side of an in-process stream
type endpoint struct {
	name string

	// outgoing
	hello  chan<- uint8
	chunks chan<- []byte

	// incoming
	peerHello  <-chan uint8
	peerChunks <-chan []byte

	closed    chan struct{} // shared by both ends
	closeOnce *sync.Once
}

// NewPipe creates two connected in-process streams. Chunks put into one end are
// returned by NextChunk of the other end in the same order. buffer is the number
// of chunks that can be in flight per direction before PutChunk blocks.
// Closing either end closes both.
func NewPipe(buffer int) (transport.IStream, transport.IStream) {
	var (
		helloAB  = make(chan uint8, 1)
		helloBA  = make(chan uint8, 1)
		chunksAB = make(chan []byte, buffer)
		chunksBA = make(chan []byte, buffer)
		closed   = make(chan struct{})
		once     = &sync.Once{}
	)

	a := &endpoint{
		name:       "queue-a",
		hello:      helloAB,
		chunks:     chunksAB,
		peerHello:  helloBA,
		peerChunks: chunksBA,
		closed:     closed,
		closeOnce:  once,
	}
	b := &endpoint{
		name:       "queue-b",
		hello:      helloBA,
		chunks:     chunksBA,
		peerHello:  helloAB,
		peerChunks: chunksAB,
		closed:     closed,
		closeOnce:  once,
	}
	return a, b
}

// --------------------------------------------------------------------------
// Interface Methods (docu see transport.IStream)
// --------------------------------------------------------------------------

func (e *endpoint) Handshake(ctx context.Context, origin uint8) (uint8, error) {
	if origin == 0 {
		return 0, errors.AssertionFailedf("origin 0 is reserved")
	}

	select {
	case e.hello <- origin:
	case <-e.closed:
		return 0, common.ErrConnectionClosed
	case <-ctx.Done():
		return 0, ctx.Err()
	}

	select {
	case peer := <-e.peerHello:
		return peer, nil
	case <-e.closed:
		return 0, common.ErrConnectionClosed
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

func (e *endpoint) PutChunk(ctx context.Context, chunk []byte) error {
	if len(chunk) == 0 {
		return nil
	}

	select {
	case <-e.closed:
		return common.ErrConnectionClosed
	default:
	}

	select {
	case e.chunks <- chunk:
		return nil
	case <-e.closed:
		return common.ErrConnectionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *endpoint) NextChunk(ctx context.Context) ([]byte, error) {
	select {
	case chunk := <-e.peerChunks:
		return chunk, nil
	case <-e.closed:
		return nil, common.ErrConnectionClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (e *endpoint) RemoteAddr() string {
	return fmt.Sprintf("%s-peer", e.name)
}

func (e *endpoint) Close() error {
	e.closeOnce.Do(func() {
		close(e.closed)
	})
	return nil
}
