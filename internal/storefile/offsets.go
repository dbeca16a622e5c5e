package storefile

import (
	"encoding/binary"
	"fmt"
)

const (
	offsetMagic = "GOX1"

	// OffsetHeaderSize is the size of the offset table header.
	OffsetHeaderSize = 16

	// OffsetEntrySize is the size of one offset table entry.
	OffsetEntrySize = 12
)

func marshalOffsetHeader(count uint32) []byte {
	b := make([]byte, OffsetHeaderSize)
	copy(b, offsetMagic)
	binary.LittleEndian.PutUint16(b[4:], Version)
	binary.LittleEndian.PutUint32(b[8:], count)
	return b
}

// OffsetTable maps record numbers to (offset, length) in the primary file.
// It reads directly from the bytes it was parsed from, usually a mapping.
type OffsetTable struct {
	data  []byte
	count uint32
}

// ParseOffsetTable validates b as an offset table.
func ParseOffsetTable(b []byte) (*OffsetTable, error) {
	if len(b) < OffsetHeaderSize {
		return nil, fmt.Errorf("%w: offset table is %d bytes", ErrFormat, len(b))
	}
	if string(b[:4]) != offsetMagic {
		return nil, fmt.Errorf("%w: bad offset table magic %q", ErrFormat, b[:4])
	}
	if v := binary.LittleEndian.Uint16(b[4:]); v != Version {
		return nil, fmt.Errorf("%w: unsupported offset table version %d", ErrFormat, v)
	}
	count := binary.LittleEndian.Uint32(b[8:])
	if want := uint64(OffsetHeaderSize) + uint64(count)*OffsetEntrySize; uint64(len(b)) < want {
		return nil, fmt.Errorf("%w: offset table truncated: %d entries need %d bytes, have %d",
			ErrFormat, count, want, len(b))
	}
	return &OffsetTable{data: b, count: count}, nil
}

// Count returns the number of records.
func (t *OffsetTable) Count() uint32 { return t.count }

// Lookup returns the byte offset and length of record rec.
func (t *OffsetTable) Lookup(rec uint32) (offset uint64, length uint32, err error) {
	if rec == 0 || rec > t.count {
		return 0, 0, fmt.Errorf("record %d out of range [1, %d]", rec, t.count)
	}
	p := OffsetHeaderSize + int(rec-1)*OffsetEntrySize
	return binary.LittleEndian.Uint64(t.data[p:]), binary.LittleEndian.Uint32(t.data[p+8:]), nil
}
