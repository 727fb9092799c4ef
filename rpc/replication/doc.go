// Package replication keeps replicas of a db.KVDB in sync without a coordinator.
//
// Every pair of replicas shares one session (Replicator). A session runs two
// loops over a transport.IStream:
//
//	FrameEncoder: change log of the peer -> codec -> chunk -> stream
//	FrameDecoder: stream -> chunk -> codec -> store.Apply
//
// Chunk format:
//
//	{uvarint record length, record bytes}*
//
// A chunk holds at most MaxEntriesPerChunk records and never more than
// (MaxEntrySize + EntryOverhead) * MaxEntriesPerChunk bytes. The encoder
// flushes when the chunk is full or when the change log is drained.
//
// The store decides with last-writer-wins whether a received record takes
// effect, so chunks can be applied more than once and records can take any
// path through the replica graph. Applied records are offered to all other
// peers, which forwards them over multiple hops. Records are never sent back
// to the replica they originated at.
//
// Hub owns the sessions of a replica. It listens for peers with a lower
// identifier and dials the peers with a greater identifier, dialing again
// when a session is lost. Each new session re-offers the whole store to the
// peer, so nothing written while a peer was unreachable is lost (as long as
// its tombstones were not purged yet).
package replication
