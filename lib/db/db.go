package db

import (
	"bytes"
	"fmt"
	"sync/atomic"
	"time"
)

// --------------------------------------------------------------------------
// Helper Types
// --------------------------------------------------------------------------

type Implementation string

const (
	ImplMaple Implementation = "maple"
)

// DatabaseInfo contains metadata about a replicated database.
// The numbers are estimates, they are not taken under a global lock.
type DatabaseInfo struct {
	DbType     Implementation `json:"db_type"`
	Identifier uint8          `json:"identifier"`
	Entries    int            `json:"entries"`
	Tombstones int            `json:"tombstones"`
	Peers      []uint8        `json:"peers"`
}

// --------------------------------------------------------------------------
// Mutation Record
// --------------------------------------------------------------------------

// MutationRecord is one captured change to a key. It is what the database
// stores per key and what is exchanged between replicas.
type MutationRecord struct {
	Key       string
	Value     []byte
	Meta      []byte // opaque metadata, len(Meta) is the metadata length
	Timestamp uint64 // unix millis at the moment of the local mutation
	Origin    uint8  // identifier of the replica that made the mutation
	Tombstone bool   // true for removes, Value is nil
}

func (r MutationRecord) String() string {
	if r.Tombstone {
		return fmt.Sprintf("Record{Key: %q, Tombstone, Ts: %d, Origin: %d}", r.Key, r.Timestamp, r.Origin)
	}
	return fmt.Sprintf("Record{Key: %q, Value: %d bytes, Ts: %d, Origin: %d}", r.Key, len(r.Value), r.Timestamp, r.Origin)
}

// Wins reports whether candidate replaces current under last-writer-wins.
// The records are compared by (timestamp, origin, tombstone, value), so every
// replica picks the same winner regardless of the order records arrive in:
//
//   - the greater timestamp wins
//   - on equal timestamps the greater origin wins
//   - on equal (timestamp, origin) a tombstone wins over a value
//   - between two values the bytewise greater one wins
//
// Equal content never wins, so applying the same record twice is a no-op.
func Wins(candidate, current MutationRecord) bool {
	switch {
	case candidate.Timestamp != current.Timestamp:
		return candidate.Timestamp > current.Timestamp
	case candidate.Origin != current.Origin:
		return candidate.Origin > current.Origin
	case candidate.Tombstone != current.Tombstone:
		return candidate.Tombstone
	default:
		return bytes.Compare(candidate.Value, current.Value) > 0
	}
}

// --------------------------------------------------------------------------
// Time Sources
// --------------------------------------------------------------------------

// ITimeSource supplies the wall clock timestamp that is tagged onto every local mutation.
type ITimeSource interface {
	// Now returns the current time in unix milliseconds.
	Now() uint64
}

// SystemClock is the default ITimeSource backed by time.Now.
type SystemClock struct{}

func (SystemClock) Now() uint64 {
	return uint64(time.Now().UnixMilli())
}

// ManualClock is an ITimeSource that only moves when told to. It is used to
// simulate clock skew between replicas.
type ManualClock struct {
	now atomic.Uint64
}

// NewManualClock creates a ManualClock starting at the given unix millis.
func NewManualClock(start uint64) *ManualClock {
	c := &ManualClock{}
	c.now.Store(start)
	return c
}

func (c *ManualClock) Now() uint64 {
	return c.now.Load()
}

// Set moves the clock to t, backwards moves are allowed.
func (c *ManualClock) Set(t uint64) {
	c.now.Store(t)
}

// Advance moves the clock forward by d milliseconds and returns the new time.
func (c *ManualClock) Advance(d uint64) uint64 {
	return c.now.Add(d)
}

// --------------------------------------------------------------------------
// Change Log Interface
// --------------------------------------------------------------------------

// IChangeLog is the change capture feed of one destination peer.
// It yields the keys that changed since they were last yielded, in the
// order they first became dirty. A drain is a sequence of Next calls until
// Next returns false; the caller controls the pacing.
//
// Thread-safety: Next must only be called by a single goroutine. All other
// methods are safe for concurrent use.
type IChangeLog interface {
	// Next returns the current state of the next dirty key.
	// The boolean is false once the log is drained.
	Next() (rec MutationRecord, ok bool)

	// Wait returns a channel that receives a value whenever new work was
	// queued after the last drain. Spurious wake-ups are possible.
	Wait() <-chan struct{}

	// DirtyAll marks every entry of the database as dirty again, which re-offers
	// the whole state to the peer (used when a peer (re)connects).
	DirtyAll()

	// Pending returns an estimate of the number of dirty keys.
	Pending() int

	// Peer returns the identifier of the destination peer.
	Peer() uint8
}

// --------------------------------------------------------------------------
// Database Interface
// --------------------------------------------------------------------------

// KVDB defines an interface for replicated key-value databases.
// Every local mutation is stamped with the timestamp of the database's time
// source and the database identifier. All mutations, local and remote, go
// through the same last-writer-wins check (see Wins): a mutation that loses
// against the current entry of a key is discarded silently.
type KVDB interface {

	// --------------------------------------------------------------------------
	// Local Write Operations
	// --------------------------------------------------------------------------

	// Put inserts or updates the value of a key.
	// Returns false if the write was discarded because it was stamped earlier than the current entry.
	Put(key string, value []byte) (applied bool)

	// PutIfAbsent inserts the value only if the key has no live value.
	// If a live value exists it is returned with loaded=true.
	// A discarded (late) write returns (nil, false).
	PutIfAbsent(key string, value []byte) (existing []byte, loaded bool)

	// Replace updates the value only if the key has a live value and returns the previous value.
	Replace(key string, value []byte) (prev []byte, replaced bool)

	// ReplaceIf updates the value only if the current live value equals expected.
	ReplaceIf(key string, expected, value []byte) (replaced bool)

	// Remove deletes the key and returns the previous value.
	// A tombstone stays behind so that older writes for the key are still discarded.
	Remove(key string) (prev []byte, removed bool)

	// RemoveIf deletes the key only if the current live value equals expected.
	RemoveIf(key string, expected []byte) (removed bool)

	// --------------------------------------------------------------------------
	// Replication
	// --------------------------------------------------------------------------

	// Apply applies a mutation received from a peer.
	// Returns true if the record replaced the current entry.
	Apply(rec MutationRecord) (applied bool)

	// ChangeLog returns the change log for a destination peer, creating it on first use.
	ChangeLog(peer uint8) IChangeLog

	// Identifier returns the origin identifier used for local mutations.
	Identifier() uint8

	// --------------------------------------------------------------------------
	// Query Operations
	// --------------------------------------------------------------------------

	// Get retrieves a copy of the live value of a key.
	Get(key string) (value []byte, loaded bool)

	// Has checks whether a key has a live value.
	Has(key string) (loaded bool)

	// Size returns the number of live entries.
	Size() int

	// GetInfo returns information about the database.
	GetInfo() (info DatabaseInfo)

	// --------------------------------------------------------------------------
	// Maintenance
	// --------------------------------------------------------------------------

	// PurgeTombstones physically removes tombstones stamped before the given timestamp.
	// Returns the number of removed tombstones.
	PurgeTombstones(before uint64) (purged int)

	// Close stops background work of the database.
	Close() (err error)
}
