package maple

import (
	"testing"

	"github.com/ValentinKolb/rKV/lib/db"
	dbtesting "github.com/ValentinKolb/rKV/lib/db/testing"
)

func newTestDB(identifier uint8, clock db.ITimeSource) db.KVDB {
	return NewMapleDB(&DBOptions{
		Identifier: identifier,
		Clock:      clock,
		NumShards:  4,
	})
}

func Test(t *testing.T) {
	dbtesting.RunKVDBTests(t, "MapleDB", newTestDB)
}

func Benchmark(t *testing.B) {
	dbtesting.RunKVDBBenchmarks(t, "MapleDB", newTestDB)
}
