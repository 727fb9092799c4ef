package common

import "github.com/cockroachdb/errors"

// Sentinel errors shared by the transport and replication layers.
// Use errors.Is to test for them, they are usually wrapped.
var (
	ErrMailboxClosed    = errors.New("mailbox closed")
	ErrConnectionClosed = errors.New("connection closed")
	ErrMalformedFrame   = errors.New("malformed frame")
	ErrRecordTooLarge   = errors.New("record exceeds max entry size")
	ErrHandshake        = errors.New("invalid handshake")
	ErrWriteFailed      = errors.New("transport write failed")
)
