package internal

import (
	"github.com/ValentinKolb/rKV/lib/db"
	"github.com/ValentinKolb/rKV/lib/db/util"
	"github.com/puzpuzpuz/xsync/v3"
)

// --------------------------------------------------------------------------
// Shard Type (partition of the database)
// --------------------------------------------------------------------------

// Shard represents a partition of the database.
// Every key maps to exactly one record, either a live value or a tombstone.
type Shard struct {
	Data *xsync.MapOf[string, db.MutationRecord]
}

// NewShard creates a new empty shard
func NewShard() *Shard {
	return &Shard{
		Data: xsync.NewMapOf[string, db.MutationRecord](),
	}
}

// Count returns the number of live entries and tombstones of the shard.
// The result is an estimate if the shard is modified concurrently.
func (s *Shard) Count() (live, tombstones int) {
	s.Data.Range(func(_ string, rec db.MutationRecord) bool {
		if rec.Tombstone {
			tombstones++
		} else {
			live++
		}
		return true
	})
	return live, tombstones
}

// GetShard returns the appropriate shard for a given key
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func GetShard[T any](key string, seed uint64, shards []*T) *T {
	return shards[util.ShardIndex(key, seed, len(shards))]
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

// CopyBytes returns a copy of b that is nil if b is nil
func CopyBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	c := make([]byte, len(b))
	copy(c, b)
	return c
}
