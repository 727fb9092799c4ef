// Package serializer provides the entry codecs of the replication system.
// A codec turns one db.MutationRecord into bytes and back; the framing of
// several records into a chunk is done by the replication encoder.
//
// Key Components:
//
//   - IEntryCodec: Core interface that all codec implementations must satisfy.
//     WriteEntry appends to a caller supplied buffer, so the encoder can reuse
//     one scratch buffer for every record.
//
//   - binaryCodecImpl: Compact big endian format (flags, origin, timestamp and
//     length prefixed key, value and optional meta). Recommended for production use.
//
//   - jsonCodecImpl: JSON encoding, useful for debugging and for inspecting
//     captured chunks by hand.
//
//   - gobCodecImpl: Go's gob encoding. Every record carries its own type
//     description, which makes it by far the largest format. Not recommended.
//
//   - NewPeerFilter: Wraps a codec and serializes records originating at the
//     destination peer to zero bytes, which tells the encoder to drop them.
//
// Thread Safety:
//
//	All codec implementations are stateless and safe for concurrent use
//	across multiple goroutines without additional synchronization.
//
// Usage:
//
//	codec := serializer.NewBinaryCodec()
//	buf, err := codec.WriteEntry(buf[:0], rec)
//	// ... frame and send buf ...
//	rec, err = codec.ReadEntry(received)
package serializer
