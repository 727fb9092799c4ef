// Package rpc contains everything that moves mutations between rKV replicas
// and exposes a replica to clients.
//
// The package is organized into several subpackages:
//
//   - common: Configuration structures, sentinel errors and logging shared by all layers.
//
//   - serializer: Mutation record codecs (Binary, JSON, GOB) and the peer filter
//     that keeps records from being sent back to their origin.
//
//   - transport: Connection abstractions with pluggable connectors (TCP, Unix
//     sockets), the handoff mailbox, chunk streams over sockets and an
//     in-process queue transport.
//
//   - replication: Replication sessions (frame encoder and decoder) and the hub
//     that keeps one session per peer alive.
//
//   - api: The HTTP api of a replica and its client.
package rpc
