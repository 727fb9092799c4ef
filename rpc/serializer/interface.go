package serializer

import (
	"github.com/ValentinKolb/rKV/lib/db"
	"github.com/cockroachdb/errors"
)

// IEntryCodec is the interface for all mutation record codecs
type IEntryCodec interface {
	// WriteEntry appends the serialized record to dst and returns the extended slice.
	// Appending nothing means the record is filtered and must not be framed.
	WriteEntry(dst []byte, rec db.MutationRecord) ([]byte, error)

	// ReadEntry deserializes exactly one record from data. Trailing bytes are an error.
	// The returned record may reference data, callers that keep it must copy.
	ReadEntry(data []byte) (db.MutationRecord, error)
}

// NewCodec returns the codec with the given name (binary, json or gob)
func NewCodec(name string) (IEntryCodec, error) {
	switch name {
	case "binary", "":
		return NewBinaryCodec(), nil
	case "json":
		return NewJSONCodec(), nil
	case "gob":
		return NewGOBCodec(), nil
	default:
		return nil, errors.Newf("unknown codec %q", name)
	}
}
