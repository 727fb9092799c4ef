package serializer

import (
	"encoding/json"

	"github.com/ValentinKolb/rKV/lib/db"
	"github.com/cockroachdb/errors"
)

// NewJSONCodec creates a new codec using json encoding
func NewJSONCodec() IEntryCodec {
	return &jsonCodecImpl{}
}

// jsonCodecImpl implements the IEntryCodec interface using json encoding
type jsonCodecImpl struct {
}

// jsonRecord is the json representation of a db.MutationRecord
type jsonRecord struct {
	Key       string `json:"key"`
	Value     []byte `json:"value,omitempty"`
	Meta      []byte `json:"meta,omitempty"`
	Timestamp uint64 `json:"ts"`
	Origin    uint8  `json:"origin"`
	Tombstone bool   `json:"tombstone,omitempty"`
}

// --------------------------------------------------------------------------
// Interface Methods (docu see serializer.IEntryCodec)
// --------------------------------------------------------------------------

func (j jsonCodecImpl) WriteEntry(dst []byte, rec db.MutationRecord) ([]byte, error) {
	b, err := json.Marshal(jsonRecord(rec))
	if err != nil {
		return dst, errors.Wrapf(err, "failed to marshal record for key %q", rec.Key)
	}
	return append(dst, b...), nil
}

func (j jsonCodecImpl) ReadEntry(data []byte) (db.MutationRecord, error) {
	var rec jsonRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return db.MutationRecord{}, errors.Wrap(err, "failed to unmarshal record")
	}
	if !rec.Tombstone && rec.Value == nil {
		rec.Value = []byte{}
	}
	return db.MutationRecord(rec), nil
}
