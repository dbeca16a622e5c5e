package access

import (
	"fmt"
	"path/filepath"
	"strings"
)

// FileKind identifies one of the correlated files of a store.
type FileKind int

const (
	Primary FileKind = iota
	Offsets
	Attributes
	SpatialIndex
	IdentifierIndex

	numKinds
)

// Kinds lists every file kind in publication order.
var Kinds = []FileKind{Primary, Offsets, Attributes, SpatialIndex, IdentifierIndex}

func (k FileKind) String() string {
	switch k {
	case Primary:
		return "primary"
	case Offsets:
		return "offset table"
	case Attributes:
		return "attribute"
	case SpatialIndex:
		return "spatial index"
	case IdentifierIndex:
		return "identifier index"
	default:
		return fmt.Sprintf("FileKind(%d)", int(k))
	}
}

// Suffix returns the file name suffix used for k.
func (k FileKind) Suffix() string {
	switch k {
	case Primary:
		return ".geo"
	case Offsets:
		return ".gox"
	case Attributes:
		return ".gat"
	case SpatialIndex:
		return ".gsx"
	case IdentifierIndex:
		return ".gix"
	default:
		return ""
	}
}

// Mandatory reports whether a store cannot be opened without k.
func (k FileKind) Mandatory() bool { return k == Primary || k == Offsets }

// IsIndex reports whether k is a derived index file.
func (k FileKind) IsIndex() bool { return k == SpatialIndex || k == IdentifierIndex }

// Paths holds the file paths of one store.
type Paths struct {
	Primary         string
	Offsets         string
	Attributes      string
	SpatialIndex    string
	IdentifierIndex string
}

// PathsFor derives every path from a base name. A trailing ".geo" on base
// is ignored, so "charts/harbor" and "charts/harbor.geo" are equivalent.
func PathsFor(base string) Paths {
	base = strings.TrimSuffix(base, Primary.Suffix())
	return Paths{
		Primary:         base + Primary.Suffix(),
		Offsets:         base + Offsets.Suffix(),
		Attributes:      base + Attributes.Suffix(),
		SpatialIndex:    base + SpatialIndex.Suffix(),
		IdentifierIndex: base + IdentifierIndex.Suffix(),
	}
}

// Path returns the path of kind k.
func (p Paths) Path(k FileKind) string {
	switch k {
	case Primary:
		return p.Primary
	case Offsets:
		return p.Offsets
	case Attributes:
		return p.Attributes
	case SpatialIndex:
		return p.SpatialIndex
	case IdentifierIndex:
		return p.IdentifierIndex
	default:
		return ""
	}
}

// Name returns the logical store name: the primary file name without its
// directory and suffix.
func (p Paths) Name() string {
	return strings.TrimSuffix(filepath.Base(p.Primary), filepath.Ext(p.Primary))
}

// key identifies the store in the registry.
func (p Paths) key() string {
	if abs, err := filepath.Abs(p.Primary); err == nil {
		return abs
	}
	return filepath.Clean(p.Primary)
}
