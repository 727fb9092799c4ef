package maple

import (
	"bytes"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/rKV/lib/db"
	"github.com/ValentinKolb/rKV/lib/db/engines/maple/internal"
	"github.com/ValentinKolb/rKV/lib/db/util"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
)

var Logger = logger.GetLogger("store")

// --------------------------------------------------------------------------
// Constants
// --------------------------------------------------------------------------

const (
	defaultGCInterval         = 10 * time.Second // Default interval between tombstone GC runs
	defaultTombstoneRetention = 5 * time.Minute  // Default age a tombstone must reach before it is purged
)

// --------------------------------------------------------------------------
// Core Maple database structure
// --------------------------------------------------------------------------

// mapleImpl implements a sharded in-memory database with last-writer-wins semantics
type mapleImpl struct {
	id        uint8             // Origin identifier of local mutations
	clock     db.ITimeSource    // Stamps local mutations
	numShards int               // Number of shards
	seed      uint64            // Seed for the shard hash
	shards    []*internal.Shard // Array of shards

	logs *xsync.MapOf[uint8, *changeLog] // Change log per destination peer

	// garbage collection
	gcInterval  time.Duration
	retention   time.Duration
	gcIsRunning atomic.Bool
	gcStop      chan struct{}
	gcDone      sync.WaitGroup
}

// DBOptions configures the mapleImpl behavior during initialization
type DBOptions struct {
	Identifier         uint8          // Origin identifier of this replica (must not be 0)
	Clock              db.ITimeSource // Time source for local mutations (nil = db.SystemClock)
	NumShards          int            // Number of shards (0 = number of CPUs)
	GCInterval         time.Duration  // Time between tombstone GC runs (0 = default)
	TombstoneRetention time.Duration  // Minimum age of a purged tombstone (0 = never purge)
}

// DefaultOptions returns the default mapleImpl options
func DefaultOptions() *DBOptions {
	return &DBOptions{
		Identifier:         1,
		Clock:              db.SystemClock{},
		NumShards:          runtime.NumCPU(),
		GCInterval:         defaultGCInterval,
		TombstoneRetention: defaultTombstoneRetention,
	}
}

// --------------------------------------------------------------------------
// Initialization and Setup
// --------------------------------------------------------------------------

// NewMapleDB creates a new MapleDB instance with the specified options (optional)
//
// Thread-safety: This function is not thread-safe and should only be called once
// during initialization.
func NewMapleDB(opts *DBOptions) db.KVDB {

	// Generate default options if not provided
	if opts == nil {
		opts = DefaultOptions()
	}

	numShards := opts.NumShards
	if numShards <= 0 {
		numShards = runtime.NumCPU()
	}
	clock := opts.Clock
	if clock == nil {
		clock = db.SystemClock{}
	}
	gcInterval := opts.GCInterval
	if gcInterval <= 0 {
		gcInterval = defaultGCInterval
	}

	shards := make([]*internal.Shard, numShards)
	for i := 0; i < numShards; i++ {
		shards[i] = internal.NewShard()
	}

	newDB := &mapleImpl{
		id:         opts.Identifier,
		clock:      clock,
		numShards:  numShards,
		seed:       util.GenerateSeed(),
		shards:     shards,
		logs:       xsync.NewMapOf[uint8, *changeLog](),
		gcInterval: gcInterval,
		retention:  opts.TombstoneRetention,
		gcStop:     make(chan struct{}),
	}

	// a retention of 0 keeps tombstones forever
	if newDB.retention > 0 {
		newDB.startGC()
	}

	return newDB
}

// --------------------------------------------------------------------------
// Compute
// --------------------------------------------------------------------------

// outcome describes what compute did with a candidate record
type outcome int

const (
	outcomeStale    outcome = iota // the candidate lost against the current record
	outcomeRejected                // the candidate won but the condition did not hold
	outcomeApplied                 // the candidate replaced the current record
)

// compute is the shared implementation of all write operations, local and remote.
// The candidate is only stored if it wins against the current record of the key
// (see db.Wins) and the optional condition holds for the current record.
// Live reports whether the current record held a value (not a tombstone).
//
// On success the key is marked dirty in every change log.
//
// Thread-safety: This method is thread-safe, the check and the store happen atomically per key.
func (maple *mapleImpl) compute(candidate db.MutationRecord, cond func(current db.MutationRecord, live bool) bool) (prev db.MutationRecord, live bool, res outcome) {
	shard := internal.GetShard(candidate.Key, maple.seed, maple.shards)

	shard.Data.Compute(candidate.Key, func(current db.MutationRecord, loaded bool) (db.MutationRecord, bool) {
		prev = current
		live = loaded && !current.Tombstone

		// late writes are ignored
		if loaded && !db.Wins(candidate, current) {
			res = outcomeStale
			return current, false
		}

		if cond != nil && !cond(current, live) {
			res = outcomeRejected
			return current, !loaded // delete if not loaded, because else the zero value will be created
		}

		res = outcomeApplied
		return candidate, false
	})

	if res == outcomeApplied {
		maple.markDirty(candidate.Key)
	}
	return prev, live, res
}

// localRecord stamps a local mutation with the time source and identifier of the database
func (maple *mapleImpl) localRecord(key string, value []byte, tombstone bool) db.MutationRecord {
	rec := db.MutationRecord{
		Key:       key,
		Timestamp: maple.clock.Now(),
		Origin:    maple.id,
		Tombstone: tombstone,
	}
	if !tombstone {
		// copy value to prevent memory corruption
		rec.Value = internal.CopyBytes(value)
		if rec.Value == nil {
			rec.Value = []byte{}
		}
	}
	return rec
}

// --------------------------------------------------------------------------
// Core KVDB Interface Methods - Write Operations
// --------------------------------------------------------------------------

// Put inserts or updates the value of a key.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (maple *mapleImpl) Put(key string, value []byte) bool {
	_, _, res := maple.compute(maple.localRecord(key, value, false), nil)
	return res == outcomeApplied
}

// PutIfAbsent inserts the value only if the key has no live value.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (maple *mapleImpl) PutIfAbsent(key string, value []byte) ([]byte, bool) {
	prev, _, res := maple.compute(maple.localRecord(key, value, false), func(_ db.MutationRecord, live bool) bool {
		return !live
	})
	if res == outcomeRejected {
		return internal.CopyBytes(prev.Value), true
	}
	return nil, false
}

// Replace updates the value only if the key has a live value.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (maple *mapleImpl) Replace(key string, value []byte) ([]byte, bool) {
	prev, _, res := maple.compute(maple.localRecord(key, value, false), func(_ db.MutationRecord, live bool) bool {
		return live
	})
	if res == outcomeApplied {
		return internal.CopyBytes(prev.Value), true
	}
	return nil, false
}

// ReplaceIf updates the value only if the current live value equals expected.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (maple *mapleImpl) ReplaceIf(key string, expected, value []byte) bool {
	_, _, res := maple.compute(maple.localRecord(key, value, false), func(current db.MutationRecord, live bool) bool {
		return live && bytes.Equal(current.Value, expected)
	})
	return res == outcomeApplied
}

// Remove replaces the live value of a key with a tombstone.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (maple *mapleImpl) Remove(key string) ([]byte, bool) {
	prev, _, res := maple.compute(maple.localRecord(key, nil, true), func(_ db.MutationRecord, live bool) bool {
		return live
	})
	if res == outcomeApplied {
		return internal.CopyBytes(prev.Value), true
	}
	return nil, false
}

// RemoveIf replaces the live value of a key with a tombstone if it equals expected.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (maple *mapleImpl) RemoveIf(key string, expected []byte) bool {
	_, _, res := maple.compute(maple.localRecord(key, nil, true), func(current db.MutationRecord, live bool) bool {
		return live && bytes.Equal(current.Value, expected)
	})
	return res == outcomeApplied
}

// --------------------------------------------------------------------------
// Replication
// --------------------------------------------------------------------------

// Apply applies a record received from a peer.
// Tombstones are stored even if the key is unknown, so that older puts
// arriving later are still discarded.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (maple *mapleImpl) Apply(rec db.MutationRecord) bool {
	rec.Meta = internal.CopyBytes(rec.Meta)
	if rec.Tombstone {
		rec.Value = nil
	} else {
		rec.Value = internal.CopyBytes(rec.Value)
		if rec.Value == nil {
			rec.Value = []byte{}
		}
	}

	_, _, res := maple.compute(rec, nil)
	return res == outcomeApplied
}

// ChangeLog returns the change log of a destination peer.
// A new change log starts empty; use DirtyAll to offer the existing state.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (maple *mapleImpl) ChangeLog(peer uint8) db.IChangeLog {
	log, _ := maple.logs.LoadOrCompute(peer, func() *changeLog {
		return newChangeLog(maple, peer)
	})
	return log
}

// Identifier returns the origin identifier of local mutations
func (maple *mapleImpl) Identifier() uint8 {
	return maple.id
}

// markDirty marks a key dirty in every change log
func (maple *mapleImpl) markDirty(key string) {
	maple.logs.Range(func(_ uint8, log *changeLog) bool {
		log.mark(key)
		return true
	})
}

// load returns the stored record of a key, live or tombstone
func (maple *mapleImpl) load(key string) (db.MutationRecord, bool) {
	shard := internal.GetShard(key, maple.seed, maple.shards)
	return shard.Data.Load(key)
}

// --------------------------------------------------------------------------
// Core KVDB Interface Methods - Read Operations
// --------------------------------------------------------------------------

// Get retrieves a value for a key.
// The returned value is a copy of the stored data and therefore safe to use and modify.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (maple *mapleImpl) Get(key string) ([]byte, bool) {
	rec, ok := maple.load(key)
	if !ok || rec.Tombstone {
		return nil, false
	}
	return internal.CopyBytes(rec.Value), true
}

// Has checks if a key has a live value.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (maple *mapleImpl) Has(key string) bool {
	rec, ok := maple.load(key)
	return ok && !rec.Tombstone
}

// Size returns the number of live entries
//
// Thread-safety: This method is thread-safe but the result is an estimate under concurrent writes.
func (maple *mapleImpl) Size() int {
	total := 0
	for _, shard := range maple.shards {
		live, _ := shard.Count()
		total += live
	}
	return total
}

// GetInfo returns information about the database
func (maple *mapleImpl) GetInfo() db.DatabaseInfo {
	info := db.DatabaseInfo{
		DbType:     db.ImplMaple,
		Identifier: maple.id,
	}
	for _, shard := range maple.shards {
		live, tombstones := shard.Count()
		info.Entries += live
		info.Tombstones += tombstones
	}
	maple.logs.Range(func(peer uint8, _ *changeLog) bool {
		info.Peers = append(info.Peers, peer)
		return true
	})
	return info
}

// --------------------------------------------------------------------------
// Garbage Collection
// --------------------------------------------------------------------------

// PurgeTombstones physically removes tombstones stamped before the given timestamp.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (maple *mapleImpl) PurgeTombstones(before uint64) int {
	purged := 0
	for _, shard := range maple.shards {
		// collect first, the removal below re-checks every record atomically
		var candidates []string
		shard.Data.Range(func(key string, rec db.MutationRecord) bool {
			if rec.Tombstone && rec.Timestamp < before {
				candidates = append(candidates, key)
			}
			return true
		})

		for _, key := range candidates {
			shard.Data.Compute(key, func(rec db.MutationRecord, loaded bool) (db.MutationRecord, bool) {
				// the key may have been written again in the meantime
				if !loaded || !rec.Tombstone || rec.Timestamp >= before {
					return rec, !loaded
				}
				purged++
				return rec, true
			})
		}
	}
	return purged
}

// startGC starts the tombstone garbage collector
// if the GC is already running, this function does nothing
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (maple *mapleImpl) startGC() {
	if maple.gcIsRunning.CompareAndSwap(false, true) {
		maple.gcDone.Add(1)
		go maple.garbageCollector()
	}
}

// stopGC stops the garbage collector and waits for it to exit.
// the gc can't be started again after it has been stopped!
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (maple *mapleImpl) stopGC() {
	if maple.gcIsRunning.CompareAndSwap(true, false) {
		close(maple.gcStop)
		maple.gcDone.Wait()
	}
}

// garbageCollector is the main garbage collection loop
// WARNING: this method should never be called! to enable GC, use startGC() and stopGC()
func (maple *mapleImpl) garbageCollector() {
	defer maple.gcDone.Done()

	ticker := time.NewTicker(maple.gcInterval)
	defer ticker.Stop()

	retention := uint64(maple.retention.Milliseconds())

	for {
		select {
		case <-maple.gcStop:
			return
		case <-ticker.C:
			now := maple.clock.Now()
			if now <= retention {
				continue
			}
			if n := maple.PurgeTombstones(now - retention); n > 0 {
				Logger.Debugf("purged %d tombstones older than %d", n, now-retention)
			}
		}
	}
}

// Close stops the garbage collector
func (maple *mapleImpl) Close() error {
	maple.stopGC()
	return nil
}
