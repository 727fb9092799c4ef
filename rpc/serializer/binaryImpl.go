package serializer

import (
	"encoding/binary"

	"github.com/ValentinKolb/rKV/lib/db"
	"github.com/cockroachdb/errors"
)

// NewBinaryCodec creates a new codec using the compact big endian record format
func NewBinaryCodec() IEntryCodec {
	return &binaryCodecImpl{}
}

// binaryCodecImpl implements IEntryCodec using a custom binary format:
//
//	1 byte  flags (bit0 tombstone, bit1 has-meta)
//	1 byte  origin
//	8 bytes timestamp
//	4 bytes key length   + key
//	4 bytes value length + value
//	4 bytes meta length  + meta (only if has-meta)
type binaryCodecImpl struct {
}

// Bit flags of the first byte
const (
	flagTombstone byte = 1 << 0
	flagHasMeta   byte = 1 << 1
)

// headerSize is flags + origin + timestamp
const headerSize = 1 + 1 + 8

// --------------------------------------------------------------------------
// Interface Methods (docu see serializer.IEntryCodec)
// --------------------------------------------------------------------------

func (b binaryCodecImpl) WriteEntry(dst []byte, rec db.MutationRecord) ([]byte, error) {
	var flags byte
	if rec.Tombstone {
		flags |= flagTombstone
	}
	if rec.Meta != nil {
		flags |= flagHasMeta
	}

	dst = append(dst, flags, rec.Origin)
	dst = binary.BigEndian.AppendUint64(dst, rec.Timestamp)

	dst = binary.BigEndian.AppendUint32(dst, uint32(len(rec.Key)))
	dst = append(dst, rec.Key...)

	dst = binary.BigEndian.AppendUint32(dst, uint32(len(rec.Value)))
	dst = append(dst, rec.Value...)

	if rec.Meta != nil {
		dst = binary.BigEndian.AppendUint32(dst, uint32(len(rec.Meta)))
		dst = append(dst, rec.Meta...)
	}

	return dst, nil
}

func (b binaryCodecImpl) ReadEntry(data []byte) (db.MutationRecord, error) {
	var rec db.MutationRecord

	// Check minimum size (flags + origin + timestamp)
	if len(data) < headerSize {
		return rec, errors.Newf("data too short for record header (%d bytes)", len(data))
	}

	flags := data[0]
	if flags&^(flagTombstone|flagHasMeta) != 0 {
		return rec, errors.Newf("unknown flags %08b", flags)
	}

	rec.Tombstone = flags&flagTombstone != 0
	rec.Origin = data[1]
	rec.Timestamp = binary.BigEndian.Uint64(data[2:headerSize])

	pos := headerSize

	key, pos, err := readSection(data, pos, "key")
	if err != nil {
		return rec, err
	}
	rec.Key = string(key)

	value, pos, err := readSection(data, pos, "value")
	if err != nil {
		return rec, err
	}
	if !rec.Tombstone {
		rec.Value = value
	} else if len(value) > 0 {
		return rec, errors.Newf("tombstone for key %q carries a value", rec.Key)
	}

	if flags&flagHasMeta != 0 {
		meta, next, err := readSection(data, pos, "meta")
		if err != nil {
			return rec, err
		}
		rec.Meta = meta
		pos = next
	}

	if pos != len(data) {
		return rec, errors.Newf("%d trailing bytes after record", len(data)-pos)
	}

	return rec, nil
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// readSection reads a 4 byte length followed by that many bytes.
// The returned slice is bounded to the section, it can not be appended into the following bytes.
func readSection(data []byte, pos int, name string) ([]byte, int, error) {
	if pos+4 > len(data) {
		return nil, pos, errors.Newf("data too short for %s length", name)
	}
	n := int(binary.BigEndian.Uint32(data[pos : pos+4]))
	pos += 4

	if n > len(data)-pos {
		return nil, pos, errors.Newf("data too short for %s data (%d > %d)", name, n, len(data)-pos)
	}
	return data[pos : pos+n : pos+n], pos + n, nil
}
