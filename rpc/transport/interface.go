package transport

import (
	"context"
	"net"

	"github.com/ValentinKolb/rKV/rpc/common"
)

// --------------------------------------------------------------------------
// Connectors (socket specific operations)
// --------------------------------------------------------------------------

// IClientConnector defines the interface for transport-specific dial operations
type IClientConnector interface {
	// Connect establishes a single connection to the endpoint
	Connect(endpoint string) (net.Conn, error)

	// GetName returns the name of the transport type (e.g., "unix", "tcp")
	GetName() string

	// UpgradeConnection applies protocol-specific settings to an established connection
	UpgradeConnection(conn net.Conn, config common.TransportConfig) error
}

// IServerConnector defines the interface for transport-specific listen operations
type IServerConnector interface {
	// Listen creates a listener on the configured endpoint
	Listen(config common.TransportConfig) (net.Listener, error)

	// GetName returns the name of the transport type (e.g., "unix", "tcp")
	GetName() string

	// UpgradeConnection applies protocol-specific settings to an accepted connection
	UpgradeConnection(conn net.Conn, config common.TransportConfig) error
}

// --------------------------------------------------------------------------
// Chunk Streams
// --------------------------------------------------------------------------

// IChunkSink accepts chunks for delivery to the peer in submission order.
type IChunkSink interface {
	// PutChunk hands a chunk to the transport. The sink may keep a reference
	// to chunk until it is written, the caller must not modify it afterward.
	// An error means the sink is closed or the context is done.
	PutChunk(ctx context.Context, chunk []byte) error
}

// IChunkSource yields the chunks sent by the peer in arrival order.
type IChunkSource interface {
	// NextChunk blocks until a chunk arrives, the context is done or the
	// stream is closed.
	NextChunk(ctx context.Context) ([]byte, error)
}

// IStream is one bidirectional replication link to a peer
type IStream interface {
	IChunkSink
	IChunkSource

	// Handshake sends the own origin identifier and returns the identifier of the peer.
	// It must be called once, before any chunk is sent or received.
	Handshake(ctx context.Context, origin uint8) (peer uint8, err error)

	// RemoteAddr describes the other end of the stream
	RemoteAddr() string

	// Close closes the stream, blocked calls return an error
	Close() error
}
