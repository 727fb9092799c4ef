package serializer

import (
	"bytes"
	"encoding/gob"

	"github.com/ValentinKolb/rKV/lib/db"
	"github.com/cockroachdb/errors"
)

// NewGOBCodec creates a new codec using Go's binary gob format
func NewGOBCodec() IEntryCodec {
	return &gobCodecImpl{}
}

// gobCodecImpl implements the IEntryCodec interface using gob encoding.
// Every record is a self-contained gob stream including the type description.
type gobCodecImpl struct {
}

// --------------------------------------------------------------------------
// Interface Methods (docu see serializer.IEntryCodec)
// --------------------------------------------------------------------------

func (g gobCodecImpl) WriteEntry(dst []byte, rec db.MutationRecord) ([]byte, error) {
	buf := bytes.NewBuffer(dst)
	if err := gob.NewEncoder(buf).Encode(rec); err != nil {
		return dst, errors.Wrapf(err, "failed to encode record for key %q", rec.Key)
	}
	return buf.Bytes(), nil
}

func (g gobCodecImpl) ReadEntry(data []byte) (db.MutationRecord, error) {
	var rec db.MutationRecord
	r := bytes.NewReader(data)
	if err := gob.NewDecoder(r).Decode(&rec); err != nil {
		return rec, errors.Wrap(err, "failed to decode record")
	}
	if r.Len() > 0 {
		return rec, errors.Newf("%d trailing bytes after record", r.Len())
	}
	if !rec.Tombstone && rec.Value == nil {
		rec.Value = []byte{}
	}
	return rec, nil
}
