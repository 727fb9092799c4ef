package maple

import (
	"github.com/ValentinKolb/rKV/lib/db"
	"github.com/ValentinKolb/rKV/lib/db/util"
	"github.com/puzpuzpuz/xsync/v3"
)

// changeLog implements db.IChangeLog for one destination peer.
//
// A key is queued once when it becomes dirty. Marking an already dirty key
// is a no-op, so a key that changes several times before it is drained is
// yielded once with its latest record.
type changeLog struct {
	peer   uint8
	maple  *mapleImpl
	dirty  *xsync.MapOf[string, struct{}]
	queue  *util.KeyQueue[string]
	signal chan struct{}
}

func newChangeLog(maple *mapleImpl, peer uint8) *changeLog {
	return &changeLog{
		peer:   peer,
		maple:  maple,
		dirty:  xsync.NewMapOf[string, struct{}](),
		queue:  util.NewKeyQueue[string](),
		signal: make(chan struct{}, 1),
	}
}

// mark queues a key if it is not dirty yet and wakes up the consumer
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (c *changeLog) mark(key string) {
	if _, loaded := c.dirty.LoadOrStore(key, struct{}{}); loaded {
		return
	}
	c.queue.Push(key)

	select {
	case c.signal <- struct{}{}:
	default: // a wake-up is already pending
	}
}

// Next returns the current record of the next dirty key.
//
// Thread-safety: Only a single goroutine may call Next.
func (c *changeLog) Next() (db.MutationRecord, bool) {
	for {
		key, ok := c.queue.Pop()
		if !ok {
			return db.MutationRecord{}, false
		}

		// clear the flag before loading, a write that races with this load is
		// either contained in the record or marks the key again
		c.dirty.Delete(key)

		rec, ok := c.maple.load(key)
		if !ok {
			continue // tombstone was purged
		}
		return rec, true
	}
}

func (c *changeLog) Wait() <-chan struct{} {
	return c.signal
}

// DirtyAll marks every stored key dirty, tombstones included
func (c *changeLog) DirtyAll() {
	for _, shard := range c.maple.shards {
		shard.Data.Range(func(key string, _ db.MutationRecord) bool {
			c.mark(key)
			return true
		})
	}
}

func (c *changeLog) Pending() int {
	return c.queue.Len()
}

func (c *changeLog) Peer() uint8 {
	return c.peer
}
