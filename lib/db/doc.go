// Package db defines the replicated key-value database contract of rKV.
//
// The package focuses on:
//   - A unified interface for local key-value operations (KVDB)
//   - The record that is stored per key and exchanged between replicas (MutationRecord)
//   - The last-writer-wins conflict policy (Wins)
//   - Change capture per destination peer (IChangeLog)
//   - Time sources used to stamp mutations (ITimeSource, SystemClock, ManualClock)
//
// Conflict Resolution:
//
//	Every key stores exactly one MutationRecord, either a live value or a tombstone.
//	A mutation, local or remote, only takes effect if it wins against that record:
//
//	- the greater timestamp wins
//	- on a timestamp tie the greater origin identifier wins
//	- with the same timestamp and origin a tombstone wins over a value and
//	  the bytewise greater value wins over the smaller one
//
//	This is a total order, so replicas converge regardless of arrival order.
//	Two writes of one replica within the same millisecond are ordered by
//	their content, not by the order they were issued in.
//
//	Late mutations are discarded silently. This holds for every operation
//	(Put, PutIfAbsent, Replace, ReplaceIf, Remove, RemoveIf and Apply).
//	Because equal records never win, applying the same record twice leaves
//	the database untouched, which makes replication idempotent.
//
// Tombstones:
//
//	Remove does not physically delete the key. It stores a tombstone with the
//	removal timestamp so that a late write stamped before the removal cannot
//	resurrect the key. Tombstones are purged with PurgeTombstones once they are
//	old enough that no late write is expected anymore.
//
// Change Capture:
//
//	Each destination peer gets its own IChangeLog. Any applied mutation marks
//	its key dirty in every change log. Draining a change log yields the current
//	record of each dirty key, so a key that changed several times between two
//	drains is only sent once, with its latest state.
//
// Related Packages:
//
// The engines/maple package (github.com/ValentinKolb/rKV/lib/db/engines/maple)
// provides the sharded in-memory implementation of KVDB.
//
// The testing package (github.com/ValentinKolb/rKV/lib/db/testing) provides the
// conformance suite (RunKVDBTests) every implementation runs.
package db
