// Package transport defines the interfaces and abstractions that carry
// replication chunks between replicas.
//
// The package focuses on:
//   - Connector interfaces that hide the socket type (tcp, unix)
//   - Ordered chunk streams with a handshake identifying the peer
//
// Key Components:
//
//   - IClientConnector/IServerConnector: Socket specific dial, listen and
//     connection tuning, implemented by the tcp and unix packages.
//
//   - IChunkSink/IChunkSource: The two directions of a stream as seen by the
//     replication encoder and decoder.
//
//   - IStream: A bidirectional link. The base package implements it on top of
//     a net.Conn, the queue package in memory.
//
// Subpackages:
//
//   - base: ConnectionManager, HandoffMailbox, stream and listener implementations
//   - tcp, unix: connectors
//   - queue: in-process streams for wiring two stores without sockets
package transport
