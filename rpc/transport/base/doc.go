// Package base provides the socket independent building blocks of the
// replication transport. Protocol specific behavior is injected through the
// connector interfaces of the transport package (see the tcp and unix packages).
//
// Key Components:
//
//   - ConnectionManager: Owns one client connection. It dials until it succeeds
//     or is closed, waiting ReconnectBackoff between attempts, applies the socket
//     settings (receive buffer, no-delay, keep-alive) and publishes the
//     connection to waiters. Close waits CloseGrace after closing the socket.
//
//   - Mailbox: Single-slot handoff between the goroutines that produce units and
//     the one goroutine that writes them to the connection. A unit is either an
//     Int (4 bytes big endian) or a view over a byte slice. Submitting waits
//     until the previous unit was written, so writes happen strictly in order
//     and no unit is ever overwritten.
//
//   - Stream: transport.IStream over a net.Conn. Sends the handshake and chunks
//     through a Mailbox and parses the incoming side with a buffered reader.
//
//   - Server: Accept loop that upgrades every connection and hands it to a
//     handler goroutine.
//
// Wire Format:
//
//	handshake: Int(-origin)
//	chunk:     Int(len > 0) Bytes(len)
//
//	Non-positive Ints after the handshake are control words and are skipped.
//
// Thread Safety:
//
//	All exported methods are safe for concurrent use. NextChunk must only be
//	called by a single goroutine.
package base
