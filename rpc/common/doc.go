// Package common provides configuration, logging and error definitions
// shared across the replication system.
//
// Key Components:
//
//   - ReplicationConfig: Configuration of one replica: its identifier, its
//     peers, transport settings, chunk sizing and the store's tombstone
//     retention. Validate reports invalid values as assertion failures
//     (errors.IsAssertionFailure).
//
//   - ClientConfig: Configuration of the HTTP client used by the kv commands.
//
//   - Logger: Custom logging implementation that plugs into dragonboat's
//     logger facade and formats all package loggers the same way.
//
//   - Errors: Sentinel errors (ErrMailboxClosed, ErrConnectionClosed,
//     ErrMalformedFrame, ErrRecordTooLarge, ErrHandshake).
package common
