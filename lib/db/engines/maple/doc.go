// Package maple implements a sharded in-memory key-value database (KVDB) with
// last-writer-wins conflict resolution. It provides a complete implementation
// of the db.KVDB interface and is the store every rKV replica runs on.
//
// The package focuses on:
//   - Concurrent access through sharding and lock-minimizing data structures
//   - Timestamped mutations that are compared with db.Wins before they are stored
//   - Tombstones for removed keys and a background collector that purges them
//   - Per-peer change capture that feeds the replication encoder
//
// Key Components:
//
//   - mapleImpl: The central database structure implementing db.KVDB. It manages
//     shards, stamps local mutations with its time source and identifier and
//     registers the change logs of the peers.
//
//   - Shard: A partition of the database that manages a subset of the key space.
//     Each shard is an xsync.MapOf from key to db.MutationRecord. Keys are
//     distributed across shards with util.ShardIndex and a seed per instance.
//
//   - changeLog: The db.IChangeLog of one destination peer. It consists of a
//     dirty set (xsync.MapOf) and a lock-free queue of keys (util.KeyQueue).
//
// Internal Mechanisms:
//
//   - Compute: Every write, local or remote, runs inside xsync's Compute for
//     the key. Within that callback the candidate record is compared with the
//     stored one; a candidate that loses is discarded and the operation reports
//     that nothing happened. Conditional operations (PutIfAbsent, Replace,
//     ReplaceIf, Remove, RemoveIf) check their condition only after the
//     candidate won, so a late conditional write is ignored like a late Put.
//
//   - Change Capture: After a record was stored, its key is marked dirty in
//     every change log. Marking a key that is already dirty does nothing, so
//     the queue holds every key at most once. Next pops a key, clears its dirty
//     flag and only then loads the record. A write that races with the load
//     is either contained in the loaded record or marks the key again.
//
//   - Tombstones: Remove stores a tombstone record stamped with the removal
//     time. It keeps older writes from resurrecting the key on this and on
//     every other replica.
//
// Garbage Collection:
//
//   - With a TombstoneRetention > 0 a single goroutine runs every GCInterval
//     and purges tombstones older than now - retention. Each candidate is
//     re-checked inside Compute, so a key written again in the meantime is
//     never removed.
//
//   - A peer that stays disconnected for longer than the retention may miss a
//     purged removal. The retention should exceed the longest expected outage.
package maple
