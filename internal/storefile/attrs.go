package storefile

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"strings"
)

const (
	attrMagic      = "GAT1"
	attrHeaderSize = 16
)

// ColumnType is the value type of an attribute column.
type ColumnType uint8

const (
	ColumnInt64 ColumnType = iota + 1
	ColumnFloat64
	ColumnBool
	ColumnString
)

func (t ColumnType) String() string {
	switch t {
	case ColumnInt64:
		return "int64"
	case ColumnFloat64:
		return "float64"
	case ColumnBool:
		return "bool"
	case ColumnString:
		return "string"
	default:
		return fmt.Sprintf("ColumnType(%d)", uint8(t))
	}
}

// Column describes one attribute column. Width is only meaningful for
// ColumnString, where it is the maximum encoded length in bytes.
type Column struct {
	Name  string
	Type  ColumnType
	Width uint16
}

// valueSize is the number of value bytes the column occupies per row.
func (c Column) valueSize() int {
	switch c.Type {
	case ColumnInt64, ColumnFloat64:
		return 8
	case ColumnBool:
		return 1
	case ColumnString:
		return int(c.Width)
	default:
		return 0
	}
}

// cellSize includes the leading null flag.
func (c Column) cellSize() int { return 1 + c.valueSize() }

func validateColumns(cols []Column) error {
	seen := make(map[string]bool, len(cols))
	for i, c := range cols {
		if c.Name == "" {
			return fmt.Errorf("column %d has no name", i)
		}
		if len(c.Name) > math.MaxUint16 {
			return fmt.Errorf("column %d name too long", i)
		}
		if seen[c.Name] {
			return fmt.Errorf("duplicate column %q", c.Name)
		}
		seen[c.Name] = true
		switch c.Type {
		case ColumnInt64, ColumnFloat64, ColumnBool:
		case ColumnString:
			if c.Width == 0 {
				return fmt.Errorf("string column %q needs a width", c.Name)
			}
		default:
			return fmt.Errorf("column %q has unknown type %d", c.Name, c.Type)
		}
	}
	if len(cols) > math.MaxUint16 {
		return fmt.Errorf("%d columns exceed the limit", len(cols))
	}
	return nil
}

type attrLayout struct {
	cols    []Column
	offsets []int // cell offset of each column within a row
	rowSize int
}

func newAttrLayout(cols []Column) attrLayout {
	l := attrLayout{cols: cols, offsets: make([]int, len(cols))}
	for i, c := range cols {
		l.offsets[i] = l.rowSize
		l.rowSize += c.cellSize()
	}
	return l
}

// AttrWriter writes fixed-width attribute rows, one per record.
type AttrWriter struct {
	w        io.WriteSeeker
	buf      *bufio.Writer
	layout   attrLayout
	row      []byte
	count    uint32
	finished bool
}

// NewAttrWriter writes the header and column descriptors for cols.
func NewAttrWriter(w io.WriteSeeker, cols []Column) (*AttrWriter, error) {
	if err := validateColumns(cols); err != nil {
		return nil, fmt.Errorf("new attribute writer: %w", err)
	}
	aw := &AttrWriter{
		w:      w,
		buf:    bufio.NewWriter(w),
		layout: newAttrLayout(cols),
	}
	aw.row = make([]byte, aw.layout.rowSize)
	if _, err := aw.buf.Write(aw.header()); err != nil {
		return nil, fmt.Errorf("write attribute header: %w", err)
	}
	var desc []byte
	for _, c := range cols {
		desc = binary.LittleEndian.AppendUint16(desc, uint16(len(c.Name)))
		desc = append(desc, c.Name...)
		desc = append(desc, byte(c.Type))
		desc = binary.LittleEndian.AppendUint16(desc, c.Width)
	}
	if _, err := aw.buf.Write(desc); err != nil {
		return nil, fmt.Errorf("write column descriptors: %w", err)
	}
	return aw, nil
}

func (aw *AttrWriter) header() []byte {
	b := make([]byte, attrHeaderSize)
	copy(b, attrMagic)
	binary.LittleEndian.PutUint16(b[4:], Version)
	binary.LittleEndian.PutUint16(b[6:], uint16(len(aw.layout.cols)))
	binary.LittleEndian.PutUint32(b[8:], uint32(aw.layout.rowSize))
	binary.LittleEndian.PutUint32(b[12:], aw.count)
	return b
}

// Check reports whether Append would accept vals, without writing.
func (aw *AttrWriter) Check(vals []any) error {
	return aw.encode(vals)
}

func (aw *AttrWriter) encode(vals []any) error {
	if aw.finished {
		return fmt.Errorf("append row: writer finished")
	}
	if len(vals) != len(aw.layout.cols) {
		return fmt.Errorf("append row: got %d values for %d columns", len(vals), len(aw.layout.cols))
	}
	clear(aw.row)
	for i, c := range aw.layout.cols {
		if err := encodeCell(aw.row[aw.layout.offsets[i]:], c, vals[i]); err != nil {
			return fmt.Errorf("append row %d: %w", aw.count+1, err)
		}
	}
	return nil
}

// Append writes one row. vals follows column order; a nil value is null.
func (aw *AttrWriter) Append(vals []any) error {
	if err := aw.encode(vals); err != nil {
		return err
	}
	if _, err := aw.buf.Write(aw.row); err != nil {
		return fmt.Errorf("write row %d: %w", aw.count+1, err)
	}
	aw.count++
	return nil
}

// Finish flushes rows and rewrites the header with the final row count.
func (aw *AttrWriter) Finish() error {
	if aw.finished {
		return nil
	}
	aw.finished = true
	if err := aw.buf.Flush(); err != nil {
		return fmt.Errorf("flush attribute file: %w", err)
	}
	if err := rewriteAt(aw.w, aw.header()); err != nil {
		return fmt.Errorf("rewrite attribute header: %w", err)
	}
	return nil
}

func encodeCell(cell []byte, c Column, v any) error {
	if v == nil {
		return nil
	}
	val := cell[1:]
	switch c.Type {
	case ColumnInt64:
		n, ok := asInt64(v)
		if !ok {
			return fmt.Errorf("column %q: %T is not an integer", c.Name, v)
		}
		binary.LittleEndian.PutUint64(val, uint64(n))
	case ColumnFloat64:
		f, ok := asFloat64(v)
		if !ok {
			return fmt.Errorf("column %q: %T is not a number", c.Name, v)
		}
		binary.LittleEndian.PutUint64(val, math.Float64bits(f))
	case ColumnBool:
		b, ok := v.(bool)
		if !ok {
			return fmt.Errorf("column %q: %T is not a bool", c.Name, v)
		}
		if b {
			val[0] = 1
		}
	case ColumnString:
		s, ok := v.(string)
		if !ok {
			return fmt.Errorf("column %q: %T is not a string", c.Name, v)
		}
		if len(s) > int(c.Width) {
			return fmt.Errorf("column %q: value is %d bytes, width is %d", c.Name, len(s), c.Width)
		}
		if strings.IndexByte(s, 0) >= 0 {
			return fmt.Errorf("column %q: value contains NUL", c.Name)
		}
		copy(val, s)
	}
	cell[0] = 1
	return nil
}

func asInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	default:
		return 0, false
	}
}

func asFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	if i, ok := asInt64(v); ok {
		return float64(i), true
	}
	return 0, false
}

func decodeCell(cell []byte, c Column) any {
	if cell[0] == 0 {
		return nil
	}
	val := cell[1:]
	switch c.Type {
	case ColumnInt64:
		return int64(binary.LittleEndian.Uint64(val))
	case ColumnFloat64:
		return math.Float64frombits(binary.LittleEndian.Uint64(val))
	case ColumnBool:
		return val[0] != 0
	case ColumnString:
		if i := bytes.IndexByte(val[:c.Width], 0); i >= 0 {
			return string(val[:i])
		}
		return string(val[:c.Width])
	default:
		return nil
	}
}

// AttrReader reads projected columns of attribute rows.
type AttrReader struct {
	r         io.ReaderAt
	layout    attrLayout
	count     uint32
	dataStart int64
	index     map[string]int
}

// NewAttrReader parses the header and column descriptors.
func NewAttrReader(r io.ReaderAt) (*AttrReader, error) {
	hdr := make([]byte, attrHeaderSize)
	if _, err := r.ReadAt(hdr, 0); err != nil {
		return nil, fmt.Errorf("%w: read attribute header: %v", ErrFormat, err)
	}
	if string(hdr[:4]) != attrMagic {
		return nil, fmt.Errorf("%w: bad attribute file magic %q", ErrFormat, hdr[:4])
	}
	if v := binary.LittleEndian.Uint16(hdr[4:]); v != Version {
		return nil, fmt.Errorf("%w: unsupported attribute file version %d", ErrFormat, v)
	}
	ncols := int(binary.LittleEndian.Uint16(hdr[6:]))
	rowSize := int(binary.LittleEndian.Uint32(hdr[8:]))
	count := binary.LittleEndian.Uint32(hdr[12:])

	cols := make([]Column, 0, ncols)
	pos := int64(attrHeaderSize)
	var small [2]byte
	for i := 0; i < ncols; i++ {
		if _, err := r.ReadAt(small[:], pos); err != nil {
			return nil, fmt.Errorf("%w: read column %d: %v", ErrFormat, i, err)
		}
		nameLen := int64(binary.LittleEndian.Uint16(small[:]))
		rest := make([]byte, nameLen+3)
		if _, err := r.ReadAt(rest, pos+2); err != nil {
			return nil, fmt.Errorf("%w: read column %d: %v", ErrFormat, i, err)
		}
		cols = append(cols, Column{
			Name:  string(rest[:nameLen]),
			Type:  ColumnType(rest[nameLen]),
			Width: binary.LittleEndian.Uint16(rest[nameLen+1:]),
		})
		pos += 2 + nameLen + 3
	}
	if err := validateColumns(cols); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFormat, err)
	}
	layout := newAttrLayout(cols)
	if layout.rowSize != rowSize {
		return nil, fmt.Errorf("%w: row size %d does not match columns (%d)", ErrFormat, rowSize, layout.rowSize)
	}
	ar := &AttrReader{
		r:         r,
		layout:    layout,
		count:     count,
		dataStart: pos,
		index:     make(map[string]int, len(cols)),
	}
	for i, c := range cols {
		ar.index[c.Name] = i
	}
	return ar, nil
}

// Columns returns the schema in file order.
func (ar *AttrReader) Columns() []Column { return ar.layout.cols }

// Count returns the number of rows.
func (ar *AttrReader) Count() uint32 { return ar.count }

// ColumnIndex returns the position of the named column.
func (ar *AttrReader) ColumnIndex(name string) (int, bool) {
	i, ok := ar.index[name]
	return i, ok
}

// ReadColumns returns the values of the given column positions for record
// rec, in the order requested. Only the byte span covering those columns is
// read.
func (ar *AttrReader) ReadColumns(rec uint32, cols []int) ([]any, error) {
	if rec == 0 || rec > ar.count {
		return nil, fmt.Errorf("attribute row %d out of range [1, %d]", rec, ar.count)
	}
	if len(cols) == 0 {
		return nil, nil
	}
	lo, hi := ar.layout.rowSize, 0
	for _, ci := range cols {
		if ci < 0 || ci >= len(ar.layout.cols) {
			return nil, fmt.Errorf("column position %d out of range", ci)
		}
		start := ar.layout.offsets[ci]
		lo = min(lo, start)
		hi = max(hi, start+ar.layout.cols[ci].cellSize())
	}
	span := make([]byte, hi-lo)
	rowStart := ar.dataStart + int64(rec-1)*int64(ar.layout.rowSize)
	if _, err := ar.r.ReadAt(span, rowStart+int64(lo)); err != nil {
		return nil, fmt.Errorf("read attribute row %d: %w", rec, err)
	}
	out := make([]any, len(cols))
	for i, ci := range cols {
		out[i] = decodeCell(span[ar.layout.offsets[ci]-lo:], ar.layout.cols[ci])
	}
	return out, nil
}
