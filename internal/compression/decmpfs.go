// Package compression implements §4.12: decmpfs-triggered decompression,
// both the inline form (the whole payload lives in the com.apple.decmpfs
// attribute) and the resource-fork form (a chunked stream in the separate
// com.apple.ResourceFork attribute).
package compression

import (
	"fmt"

	"github.com/deploymenttheory/go-apfs/internal/apfserrors"
	"github.com/deploymenttheory/go-apfs/internal/endian"
)

// decmpfsMagic is "fpmc" as it appears in the little-endian header word.
const decmpfsMagic = 0x636d7066

// Compression types carried in the decmpfs header's Type field.
const (
	TypeInlineZlib      = 3
	TypeResourceForkZlib = 4
	TypePseudoZero      = 5
	TypeInlineLZVN      = 7
	TypeResourceForkLZVN = 8
)

// Header is the fixed decmpfs attribute header: magic, compression type,
// and the file's true uncompressed size.
type Header struct {
	Type             uint32
	UncompressedSize uint64
}

// ParseHeader decodes the fixed decmpfs header from the start of the
// com.apple.decmpfs attribute's value.
func ParseHeader(data []byte) (Header, error) {
	if len(data) < 16 {
		return Header{}, fmt.Errorf("%w: decmpfs header too small (%d bytes)", apfserrors.ErrCorruptMetadata, len(data))
	}
	magic := endian.U32(data[0:4])
	if magic != decmpfsMagic {
		return Header{}, fmt.Errorf("%w: bad decmpfs magic 0x%08x", apfserrors.ErrCorruptMetadata, magic)
	}
	return Header{
		Type:             endian.U32(data[4:8]),
		UncompressedSize: endian.U64(data[8:16]),
	}, nil
}

// lzvnUncompressedMarker is the leading payload byte (0x06, APFS_LZFSE
// _UNCOMPRESSED_DATA) that marks an inline type-7 blob as an uncompressed
// passthrough rather than a real LZVN stream.
const lzvnUncompressedMarker = 0x06

// DecodeInline decompresses an inline (type 3/5/7) decmpfs payload (the
// attribute value with the 16-byte header already stripped) into a buffer
// of hdr.UncompressedSize bytes.
func DecodeInline(hdr Header, payload []byte) ([]byte, error) {
	switch hdr.Type {
	case TypePseudoZero:
		return make([]byte, hdr.UncompressedSize), nil

	case TypeInlineZlib:
		return Inflate(payload, int(hdr.UncompressedSize))

	case TypeInlineLZVN:
		if len(payload) > 0 && payload[0] == lzvnUncompressedMarker {
			if uint64(len(payload)-1) < hdr.UncompressedSize {
				return nil, fmt.Errorf("%w: inline LZVN passthrough shorter than uncompressed size", apfserrors.ErrCorruptMetadata)
			}
			return append([]byte(nil), payload[1:1+int(hdr.UncompressedSize)]...), nil
		}
		dst := make([]byte, hdr.UncompressedSize)
		var state LzvnState
		if _, err := DecodeLZVN(payload, dst, &state); err != nil {
			return nil, err
		}
		return dst[:state.Produced()], nil

	default:
		return nil, fmt.Errorf("%w: compression type %d is not an inline form", apfserrors.ErrNotImplemented, hdr.Type)
	}
}
