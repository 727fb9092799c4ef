// Package tcp implements the TCP connectors of the replication transport.
// They plug into the base package (ConnectionManager, Server) which provides
// the dial loop, the accept loop and the chunk streams.
//
// Key Components:
//
//   - clientConnector: TCP implementation of transport.IClientConnector
//
//   - serverConnector: TCP implementation of transport.IServerConnector
//
// Both connectors apply the configured socket settings to every connection:
// receive and send buffer sizes (the receive buffer defaults to 256 KiB),
// TCP_NODELAY, keep-alive and linger.
package tcp
