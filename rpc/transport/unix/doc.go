// Package unix implements the Unix domain socket connectors of the replication
// transport, for replicas running on the same machine.
//
// Key Components:
//
//   - clientConnector: Establishes connections using Unix domain sockets
//
//   - serverConnector: Creates Unix socket listeners, an existing socket file
//     at the endpoint path is removed first
//
// Only the buffer sizes of the socket configuration apply, TCP options are ignored.
package unix
