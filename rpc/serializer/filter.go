package serializer

import "github.com/ValentinKolb/rKV/lib/db"

// NewPeerFilter wraps a codec so that records originating at peer serialize to
// zero bytes. The encoder of a session with that peer then skips them; the
// peer already has every record it created.
func NewPeerFilter(inner IEntryCodec, peer uint8) IEntryCodec {
	return &peerFilter{inner: inner, peer: peer}
}

type peerFilter struct {
	inner IEntryCodec
	peer  uint8
}

func (f *peerFilter) WriteEntry(dst []byte, rec db.MutationRecord) ([]byte, error) {
	if rec.Origin == f.peer {
		return dst, nil
	}
	return f.inner.WriteEntry(dst, rec)
}

func (f *peerFilter) ReadEntry(data []byte) (db.MutationRecord, error) {
	return f.inner.ReadEntry(data)
}
