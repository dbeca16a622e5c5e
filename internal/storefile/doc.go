// Package storefile reads and writes the three data files of a store:
//
//   - the primary data file (.geo): a header followed by variable-length
//     geometry records, each carrying its envelope, optional identifier and
//     encoded coordinates;
//   - the offset table (.gox): fixed 12-byte entries mapping record number
//     to byte offset and length in the primary file;
//   - the attribute file (.gat): fixed-width rows of typed, nullable columns
//     addressed by record number.
//
// All integers are little endian. Record numbers start at 1.
package storefile

import "errors"

// ErrFormat indicates a file that does not follow the expected layout.
var ErrFormat = errors.New("storefile: invalid format")

// Version is the format version written for every file kind.
const Version uint16 = 1
