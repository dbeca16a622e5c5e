package spatial

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"math"

	"github.com/beetlebugorg/geostore/internal/errs"
	"github.com/beetlebugorg/geostore/internal/geom"
)

// File layout (little endian):
//
//	header  magic "GSX1" | version u16 | fanOut u16 | nodes u32 | entries u32
//	nodes   preorder; each node is
//	          kind u8 (0 leaf, 1 internal) | bounds 4×f64 | n u32
//	        followed by n entries (record u32 | offset u64 | envelope 4×f64)
//	        for a leaf, or by its n children for an internal node
//	trailer CRC-32 (IEEE) of everything before it
const (
	magic        = "GSX1"
	version      = 1
	headerSize   = 16
	nodeSize     = 1 + 32 + 4
	entrySize    = 4 + 8 + 32
	trailerSize  = 4
	kindLeaf     = 0
	kindInternal = 1
)

// MarshalBinary encodes the tree.
func (t *Tree) MarshalBinary() ([]byte, error) {
	size := headerSize + len(t.nodes)*nodeSize + t.count*entrySize + trailerSize
	b := make([]byte, headerSize, size)
	copy(b, magic)
	binary.LittleEndian.PutUint16(b[4:], version)
	binary.LittleEndian.PutUint16(b[6:], uint16(t.fanOut))
	binary.LittleEndian.PutUint32(b[8:], uint32(len(t.nodes)))
	binary.LittleEndian.PutUint32(b[12:], uint32(t.count))
	if len(t.nodes) > 0 {
		b = t.appendNode(b, 0)
	}
	return binary.LittleEndian.AppendUint32(b, crc32.ChecksumIEEE(b)), nil
}

func (t *Tree) appendNode(b []byte, id int32) []byte {
	n := &t.nodes[id]
	if n.IsLeaf() {
		b = append(b, kindLeaf)
		b = appendEnvelope(b, n.Bounds)
		b = binary.LittleEndian.AppendUint32(b, uint32(len(n.Entries)))
		for _, e := range n.Entries {
			b = binary.LittleEndian.AppendUint32(b, e.Record)
			b = binary.LittleEndian.AppendUint64(b, e.Offset)
			b = appendEnvelope(b, e.Envelope)
		}
		return b
	}
	b = append(b, kindInternal)
	b = appendEnvelope(b, n.Bounds)
	b = binary.LittleEndian.AppendUint32(b, uint32(len(n.Children)))
	for _, c := range n.Children {
		b = t.appendNode(b, c)
	}
	return b
}

// WriteTo writes the encoded tree to w.
func (t *Tree) WriteTo(w io.Writer) (int64, error) {
	b, err := t.MarshalBinary()
	if err != nil {
		return 0, err
	}
	n, err := w.Write(b)
	return int64(n), err
}

// Read decodes a tree from r.
func Read(r io.Reader) (*Tree, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read spatial index: %w", err)
	}
	return Decode(b)
}

// Decode parses and validates an encoded tree. Any structural problem is
// reported as errs.ErrIndexCorrupt.
func Decode(b []byte) (*Tree, error) {
	if len(b) < headerSize+trailerSize {
		return nil, errs.Corrupt("spatial index is %d bytes", len(b))
	}
	if string(b[:4]) != magic {
		return nil, errs.Corrupt("bad spatial index magic %q", b[:4])
	}
	if v := binary.LittleEndian.Uint16(b[4:]); v != version {
		return nil, errs.Corrupt("unsupported spatial index version %d", v)
	}
	body, sum := b[:len(b)-trailerSize], binary.LittleEndian.Uint32(b[len(b)-trailerSize:])
	if crc32.ChecksumIEEE(body) != sum {
		return nil, errs.Corrupt("spatial index checksum mismatch")
	}

	fanOut := int(binary.LittleEndian.Uint16(b[6:]))
	nodeCount := binary.LittleEndian.Uint32(b[8:])
	entryCount := binary.LittleEndian.Uint32(b[12:])
	if fanOut < 2 {
		return nil, errs.Corrupt("fan-out %d", fanOut)
	}
	// Bound allocations by what the body can actually hold.
	payload := uint64(len(body) - headerSize)
	if uint64(nodeCount)*nodeSize+uint64(entryCount)*entrySize != payload {
		return nil, errs.Corrupt("%d nodes and %d entries do not fill %d bytes", nodeCount, entryCount, payload)
	}

	d := decoder{
		buf:  body[headerSize:],
		tree: &Tree{fanOut: fanOut, nodes: make([]Node, 0, nodeCount)},
	}
	if nodeCount > 0 {
		if _, err := d.node(-1, 0); err != nil {
			return nil, err
		}
	}
	switch {
	case len(d.buf) != 0:
		return nil, errs.Corrupt("%d trailing bytes after nodes", len(d.buf))
	case uint32(len(d.tree.nodes)) != nodeCount:
		return nil, errs.Corrupt("decoded %d nodes, header says %d", len(d.tree.nodes), nodeCount)
	case uint32(d.tree.count) != entryCount:
		return nil, errs.Corrupt("decoded %d entries, header says %d", d.tree.count, entryCount)
	}
	return d.tree, nil
}

type decoder struct {
	buf  []byte
	tree *Tree
}

func (d *decoder) node(parent int32, depth int) (int32, error) {
	if depth > HardDepthLimit {
		return 0, errs.Corrupt("tree deeper than %d levels", HardDepthLimit)
	}
	if len(d.buf) < nodeSize {
		return 0, errs.Corrupt("truncated node")
	}
	kind := d.buf[0]
	bounds := readEnvelope(d.buf[1:])
	n := binary.LittleEndian.Uint32(d.buf[33:])
	d.buf = d.buf[nodeSize:]

	id := int32(len(d.tree.nodes))
	if uint64(id) >= uint64(cap(d.tree.nodes)) {
		return 0, errs.Corrupt("more nodes than declared")
	}
	d.tree.nodes = append(d.tree.nodes, Node{Parent: parent, Bounds: bounds})
	if parent >= 0 && !covers(d.tree.nodes[parent].Bounds, bounds) {
		return 0, errs.Corrupt("node %d bounds %v escape parent %v", id, bounds, d.tree.nodes[parent].Bounds)
	}

	switch kind {
	case kindLeaf:
		if uint64(n)*entrySize > uint64(len(d.buf)) {
			return 0, errs.Corrupt("leaf %d: truncated entry list", id)
		}
		entries := make([]Entry, n)
		for i := range entries {
			e := Entry{
				Record:   binary.LittleEndian.Uint32(d.buf),
				Offset:   binary.LittleEndian.Uint64(d.buf[4:]),
				Envelope: readEnvelope(d.buf[12:]),
			}
			d.buf = d.buf[entrySize:]
			if !covers(bounds, e.Envelope) {
				return 0, errs.Corrupt("leaf %d: entry for record %d escapes node bounds", id, e.Record)
			}
			entries[i] = e
		}
		if n == 0 && parent >= 0 {
			return 0, errs.Corrupt("leaf %d is empty", id)
		}
		d.tree.nodes[id].Entries = entries
		d.tree.count += int(n)
	case kindInternal:
		if n < 2 {
			return 0, errs.Corrupt("internal node %d has %d children", id, n)
		}
		if uint64(n)*nodeSize > uint64(len(d.buf)) {
			return 0, errs.Corrupt("internal node %d: truncated child list", id)
		}
		children := make([]int32, 0, n)
		for i := uint32(0); i < n; i++ {
			c, err := d.node(id, depth+1)
			if err != nil {
				return 0, err
			}
			children = append(children, c)
		}
		d.tree.nodes[id].Children = children
	default:
		return 0, errs.Corrupt("node %d has unknown kind %d", id, kind)
	}
	return id, nil
}

// covers is Contains, except that an empty child is covered by anything.
func covers(parent, child geom.Envelope) bool {
	return child.IsEmpty() || parent.Contains(child)
}

func appendEnvelope(b []byte, e geom.Envelope) []byte {
	b = binary.LittleEndian.AppendUint64(b, math.Float64bits(e.MinX))
	b = binary.LittleEndian.AppendUint64(b, math.Float64bits(e.MinY))
	b = binary.LittleEndian.AppendUint64(b, math.Float64bits(e.MaxX))
	return binary.LittleEndian.AppendUint64(b, math.Float64bits(e.MaxY))
}

func readEnvelope(b []byte) geom.Envelope {
	return geom.Envelope{
		MinX: math.Float64frombits(binary.LittleEndian.Uint64(b)),
		MinY: math.Float64frombits(binary.LittleEndian.Uint64(b[8:])),
		MaxX: math.Float64frombits(binary.LittleEndian.Uint64(b[16:])),
		MaxY: math.Float64frombits(binary.LittleEndian.Uint64(b[24:])),
	}
}
