package storefile

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/beetlebugorg/geostore/internal/codec"
	"github.com/beetlebugorg/geostore/internal/geom"
)

const (
	dataMagic = "GEO1"

	// HeaderSize is the size of the primary data file header.
	HeaderSize = 48

	// RecordHeaderSize is the fixed part of every record, before the id.
	RecordHeaderSize = 44

	// MaxIDLength is the longest identifier a record can carry.
	MaxIDLength = math.MaxUint16
)

// Header describes a primary data file.
type Header struct {
	Version uint16
	Codec   codec.Codec
	Count   uint32
	Bounds  geom.Envelope
}

func (h Header) marshal() []byte {
	b := make([]byte, HeaderSize)
	copy(b, dataMagic)
	binary.LittleEndian.PutUint16(b[4:], h.Version)
	b[6] = byte(h.Codec)
	binary.LittleEndian.PutUint32(b[8:], h.Count)
	putEnvelope(b[16:], h.Bounds)
	return b
}

// ReadHeader reads and validates the header of a primary data file.
func ReadHeader(r io.ReaderAt) (Header, error) {
	b := make([]byte, HeaderSize)
	if _, err := r.ReadAt(b, 0); err != nil {
		return Header{}, fmt.Errorf("%w: read data header: %v", ErrFormat, err)
	}
	if string(b[:4]) != dataMagic {
		return Header{}, fmt.Errorf("%w: bad data file magic %q", ErrFormat, b[:4])
	}
	h := Header{
		Version: binary.LittleEndian.Uint16(b[4:]),
		Codec:   codec.Codec(b[6]),
		Count:   binary.LittleEndian.Uint32(b[8:]),
		Bounds:  getEnvelope(b[16:]),
	}
	if h.Version != Version {
		return Header{}, fmt.Errorf("%w: unsupported data file version %d", ErrFormat, h.Version)
	}
	if !h.Codec.Valid() {
		return Header{}, fmt.Errorf("%w: unknown codec %d", ErrFormat, h.Codec)
	}
	return h, nil
}

// RecordHeader is the fixed metadata stored in front of every record.
type RecordHeader struct {
	Record     uint32
	Type       geom.GeometryType
	Envelope   geom.Envelope
	ID         string // empty when the record carries no identifier
	PayloadLen uint32
}

// Size returns the on-disk size of the record described by h.
func (h RecordHeader) Size() uint32 {
	return RecordHeaderSize + uint32(len(h.ID)) + h.PayloadLen
}

// payloadOffset is the offset of the payload relative to the record start.
func (h RecordHeader) payloadOffset() uint64 {
	return RecordHeaderSize + uint64(len(h.ID))
}

func putEnvelope(b []byte, e geom.Envelope) {
	binary.LittleEndian.PutUint64(b[0:], math.Float64bits(e.MinX))
	binary.LittleEndian.PutUint64(b[8:], math.Float64bits(e.MinY))
	binary.LittleEndian.PutUint64(b[16:], math.Float64bits(e.MaxX))
	binary.LittleEndian.PutUint64(b[24:], math.Float64bits(e.MaxY))
}

func getEnvelope(b []byte) geom.Envelope {
	return geom.Envelope{
		MinX: math.Float64frombits(binary.LittleEndian.Uint64(b[0:])),
		MinY: math.Float64frombits(binary.LittleEndian.Uint64(b[8:])),
		MaxX: math.Float64frombits(binary.LittleEndian.Uint64(b[16:])),
		MaxY: math.Float64frombits(binary.LittleEndian.Uint64(b[24:])),
	}
}

// DataWriter appends records to a primary data file and maintains its
// offset table. Both headers are rewritten by Finish.
type DataWriter struct {
	data, offsets     io.WriteSeeker
	dataBuf, offBuf   *bufio.Writer
	codec             codec.Codec
	count             uint32
	offset            uint64
	bounds            geom.Envelope
	scratch, entryBuf []byte
	finished          bool
}

// NewDataWriter writes placeholder headers to data and offsets and returns a
// writer positioned at the first record.
func NewDataWriter(data, offsets io.WriteSeeker, c codec.Codec) (*DataWriter, error) {
	if !c.Valid() {
		return nil, fmt.Errorf("new data writer: unknown codec %d", c)
	}
	w := &DataWriter{
		data:     data,
		offsets:  offsets,
		dataBuf:  bufio.NewWriter(data),
		offBuf:   bufio.NewWriter(offsets),
		codec:    c,
		offset:   HeaderSize,
		bounds:   geom.EmptyEnvelope(),
		entryBuf: make([]byte, OffsetEntrySize),
	}
	if _, err := w.dataBuf.Write(w.header().marshal()); err != nil {
		return nil, fmt.Errorf("write data header: %w", err)
	}
	if _, err := w.offBuf.Write(marshalOffsetHeader(0)); err != nil {
		return nil, fmt.Errorf("write offset header: %w", err)
	}
	return w, nil
}

func (w *DataWriter) header() Header {
	return Header{Version: Version, Codec: w.codec, Count: w.count, Bounds: w.bounds}
}

// Count returns the number of records appended so far.
func (w *DataWriter) Count() uint32 { return w.count }

// Bounds returns the union of all appended envelopes.
func (w *DataWriter) Bounds() geom.Envelope { return w.bounds }

// Append writes one record and returns its record number and byte offset.
func (w *DataWriter) Append(id string, g *geom.Geometry) (uint32, uint64, error) {
	if w.finished {
		return 0, 0, fmt.Errorf("append record: writer finished")
	}
	if len(id) > MaxIDLength {
		return 0, 0, fmt.Errorf("append record: id is %d bytes, limit is %d", len(id), MaxIDLength)
	}
	if w.count == math.MaxUint32 {
		return 0, 0, fmt.Errorf("append record: record limit reached")
	}
	if err := g.Validate(); err != nil {
		return 0, 0, fmt.Errorf("append record %d: %w", w.count+1, err)
	}

	raw := geom.AppendPayload(w.scratch[:0], g)
	w.scratch = raw
	payload, err := codec.Encode(w.codec, raw)
	if err != nil {
		return 0, 0, fmt.Errorf("append record %d: %w", w.count+1, err)
	}

	rec := w.count + 1
	env := g.Envelope()
	hdr := make([]byte, RecordHeaderSize, RecordHeaderSize+len(id))
	binary.LittleEndian.PutUint32(hdr[0:], rec)
	hdr[4] = byte(g.Type)
	binary.LittleEndian.PutUint16(hdr[6:], uint16(len(id)))
	putEnvelope(hdr[8:], env)
	binary.LittleEndian.PutUint32(hdr[40:], uint32(len(payload)))
	hdr = append(hdr, id...)

	if _, err := w.dataBuf.Write(hdr); err != nil {
		return 0, 0, fmt.Errorf("write record %d: %w", rec, err)
	}
	if _, err := w.dataBuf.Write(payload); err != nil {
		return 0, 0, fmt.Errorf("write record %d: %w", rec, err)
	}

	length := uint32(len(hdr) + len(payload))
	binary.LittleEndian.PutUint64(w.entryBuf[0:], w.offset)
	binary.LittleEndian.PutUint32(w.entryBuf[8:], length)
	if _, err := w.offBuf.Write(w.entryBuf); err != nil {
		return 0, 0, fmt.Errorf("write offset entry %d: %w", rec, err)
	}

	offset := w.offset
	w.offset += uint64(length)
	w.count = rec
	w.bounds = w.bounds.Union(env)
	return rec, offset, nil
}

// Finish flushes buffered records and rewrites both headers with the final
// count and bounds. It does not close the underlying files.
func (w *DataWriter) Finish() error {
	if w.finished {
		return nil
	}
	w.finished = true
	if err := w.dataBuf.Flush(); err != nil {
		return fmt.Errorf("flush data file: %w", err)
	}
	if err := w.offBuf.Flush(); err != nil {
		return fmt.Errorf("flush offset table: %w", err)
	}
	if err := rewriteAt(w.data, w.header().marshal()); err != nil {
		return fmt.Errorf("rewrite data header: %w", err)
	}
	if err := rewriteAt(w.offsets, marshalOffsetHeader(w.count)); err != nil {
		return fmt.Errorf("rewrite offset header: %w", err)
	}
	return nil
}

func rewriteAt(ws io.WriteSeeker, b []byte) error {
	if _, err := ws.Seek(0, io.SeekStart); err != nil {
		return err
	}
	_, err := ws.Write(b)
	return err
}

// DataReader reads records from a primary data file through its offset table.
type DataReader struct {
	r       io.ReaderAt
	header  Header
	offsets *OffsetTable
}

// NewDataReader validates the data header against the offset table.
func NewDataReader(r io.ReaderAt, offsets *OffsetTable) (*DataReader, error) {
	h, err := ReadHeader(r)
	if err != nil {
		return nil, err
	}
	if h.Count != offsets.Count() {
		return nil, fmt.Errorf("%w: data file holds %d records, offset table %d", ErrFormat, h.Count, offsets.Count())
	}
	return &DataReader{r: r, header: h, offsets: offsets}, nil
}

// Header returns the data file header.
func (d *DataReader) Header() Header { return d.header }

// Count returns the number of records.
func (d *DataReader) Count() uint32 { return d.header.Count }

// Offsets returns the offset table backing the reader.
func (d *DataReader) Offsets() *OffsetTable { return d.offsets }

// ReadRecordHeader reads the metadata of record rec without its payload.
func (d *DataReader) ReadRecordHeader(rec uint32) (RecordHeader, error) {
	off, length, err := d.offsets.Lookup(rec)
	if err != nil {
		return RecordHeader{}, err
	}
	if length < RecordHeaderSize {
		return RecordHeader{}, fmt.Errorf("%w: record %d length %d below header size", ErrFormat, rec, length)
	}
	b := make([]byte, RecordHeaderSize)
	if _, err := d.r.ReadAt(b, int64(off)); err != nil {
		return RecordHeader{}, fmt.Errorf("read record %d header: %w", rec, err)
	}
	h := RecordHeader{
		Record:     binary.LittleEndian.Uint32(b[0:]),
		Type:       geom.GeometryType(b[4]),
		Envelope:   getEnvelope(b[8:]),
		PayloadLen: binary.LittleEndian.Uint32(b[40:]),
	}
	idLen := binary.LittleEndian.Uint16(b[6:])
	if h.Record != rec {
		return RecordHeader{}, fmt.Errorf("%w: offset %d holds record %d, want %d", ErrFormat, off, h.Record, rec)
	}
	if uint64(RecordHeaderSize)+uint64(idLen)+uint64(h.PayloadLen) != uint64(length) {
		return RecordHeader{}, fmt.Errorf("%w: record %d sizes disagree with offset table", ErrFormat, rec)
	}
	if idLen > 0 {
		id := make([]byte, idLen)
		if _, err := d.r.ReadAt(id, int64(off)+RecordHeaderSize); err != nil {
			return RecordHeader{}, fmt.Errorf("read record %d id: %w", rec, err)
		}
		h.ID = string(id)
	}
	return h, nil
}

// ReadGeometry reads and decodes the payload of the record described by h.
func (d *DataReader) ReadGeometry(h RecordHeader) (*geom.Geometry, error) {
	off, _, err := d.offsets.Lookup(h.Record)
	if err != nil {
		return nil, err
	}
	payload := make([]byte, h.PayloadLen)
	if _, err := d.r.ReadAt(payload, int64(off+h.payloadOffset())); err != nil {
		return nil, fmt.Errorf("read record %d payload: %w", h.Record, err)
	}
	raw, err := codec.Decode(d.header.Codec, payload)
	if err != nil {
		return nil, fmt.Errorf("decode record %d payload: %w", h.Record, err)
	}
	g, err := geom.DecodePayload(h.Type, raw)
	if err != nil {
		return nil, fmt.Errorf("decode record %d geometry: %w", h.Record, err)
	}
	return g, nil
}

// ReadRecord reads the header and geometry of record rec.
func (d *DataReader) ReadRecord(rec uint32) (RecordHeader, *geom.Geometry, error) {
	h, err := d.ReadRecordHeader(rec)
	if err != nil {
		return RecordHeader{}, nil, err
	}
	g, err := d.ReadGeometry(h)
	if err != nil {
		return RecordHeader{}, nil, err
	}
	return h, g, nil
}
