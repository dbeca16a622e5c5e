package ident

import (
	"encoding/binary"
	"hash/crc32"
	"io"
	"math"

	"github.com/beetlebugorg/geostore/internal/errs"
)

// File layout (little endian):
//
//	magic "GIX1" | version u16 | pad u16 | count u32
//	count × (idLen u16 | id | record u32 | offset u64), sorted by id
//	CRC-32 (IEEE) of everything before it
const (
	magic      = "GIX1"
	version    = 1
	headerSize = 12
	fixedSize  = 2 + 4 + 8
)

// MarshalBinary encodes the index.
func (x *Index) MarshalBinary() ([]byte, error) {
	size := headerSize + 4
	for _, e := range x.entries {
		size += fixedSize + len(e.ID)
	}
	b := make([]byte, headerSize, size)
	copy(b, magic)
	binary.LittleEndian.PutUint16(b[4:], version)
	binary.LittleEndian.PutUint32(b[8:], uint32(len(x.entries)))
	for _, e := range x.entries {
		if len(e.ID) > math.MaxUint16 {
			return nil, errs.Corrupt("identifier of %d bytes cannot be stored", len(e.ID))
		}
		b = binary.LittleEndian.AppendUint16(b, uint16(len(e.ID)))
		b = append(b, e.ID...)
		b = binary.LittleEndian.AppendUint32(b, e.Record)
		b = binary.LittleEndian.AppendUint64(b, e.Offset)
	}
	return binary.LittleEndian.AppendUint32(b, crc32.ChecksumIEEE(b)), nil
}

// WriteTo writes the encoded index to w.
func (x *Index) WriteTo(w io.Writer) (int64, error) {
	b, err := x.MarshalBinary()
	if err != nil {
		return 0, err
	}
	n, err := w.Write(b)
	return int64(n), err
}

// Read decodes an index from r.
func Read(r io.Reader) (*Index, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return Decode(b)
}

// Decode parses and validates an encoded index. Structural problems are
// reported as errs.ErrIndexCorrupt.
func Decode(b []byte) (*Index, error) {
	if len(b) < headerSize+4 {
		return nil, errs.Corrupt("identifier index is %d bytes", len(b))
	}
	if string(b[:4]) != magic {
		return nil, errs.Corrupt("bad identifier index magic %q", b[:4])
	}
	if v := binary.LittleEndian.Uint16(b[4:]); v != version {
		return nil, errs.Corrupt("unsupported identifier index version %d", v)
	}
	body := b[:len(b)-4]
	if crc32.ChecksumIEEE(body) != binary.LittleEndian.Uint32(b[len(b)-4:]) {
		return nil, errs.Corrupt("identifier index checksum mismatch")
	}
	count := binary.LittleEndian.Uint32(b[8:])
	buf := body[headerSize:]
	if uint64(count)*fixedSize > uint64(len(buf)) {
		return nil, errs.Corrupt("%d entries cannot fit in %d bytes", count, len(buf))
	}

	entries := make([]Entry, count)
	for i := range entries {
		if len(buf) < 2 {
			return nil, errs.Corrupt("truncated entry %d", i)
		}
		n := int(binary.LittleEndian.Uint16(buf))
		if len(buf) < fixedSize+n {
			return nil, errs.Corrupt("truncated entry %d", i)
		}
		e := Entry{ID: string(buf[2 : 2+n])}
		e.Record = binary.LittleEndian.Uint32(buf[2+n:])
		e.Offset = binary.LittleEndian.Uint64(buf[6+n:])
		if i > 0 && entries[i-1].ID >= e.ID {
			return nil, errs.Corrupt("entry %d (%q) out of order", i, e.ID)
		}
		entries[i] = e
		buf = buf[fixedSize+n:]
	}
	if len(buf) != 0 {
		return nil, errs.Corrupt("%d trailing bytes", len(buf))
	}
	return &Index{entries: entries}, nil
}
