package base

import (
	"encoding/binary"
	"io"
)

// intSize is the size of an Int unit on the wire (int32, big endian)
const intSize = 4

// writeInt writes v as 4 bytes big endian
func writeInt(w io.Writer, v int32) error {
	var buf [intSize]byte
	binary.BigEndian.PutUint32(buf[:], uint32(v))
	_, err := w.Write(buf[:])
	return err
}

// readInt reads a 4 byte big endian int32
func readInt(r io.Reader) (int32, error) {
	var buf [intSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return int32(binary.BigEndian.Uint32(buf[:])), nil
}

// writeBytes writes b completely
func writeBytes(w io.Writer, b []byte) error {
	for len(b) > 0 {
		n, err := w.Write(b)
		if err != nil {
			return err
		}
		b = b[n:]
	}
	return nil
}
