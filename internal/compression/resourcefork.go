package compression

import (
	"fmt"

	"github.com/deploymenttheory/go-apfs/internal/apfserrors"
	"github.com/deploymenttheory/go-apfs/internal/endian"
)

// ChunkWindow is the fixed uncompressed size of every resource-fork chunk
// except possibly the last.
const ChunkWindow = 65536

const (
	zlibHeaderSize       = 0x100
	zlibFooterSize       = 0x32
	zlibBlockTableOffset = zlibHeaderSize + 8 // data_table_size + entry count
)

type chunkSpan struct {
	offset uint32
	size   uint32
}

// ResourceForkReader decodes the com.apple.ResourceFork attribute's chunk
// table for a type-4 (zlib) or type-8 (LZVN) compressed file and serves
// one 64 KiB window at a time.
type ResourceForkReader struct {
	raw              []byte
	spans            []chunkSpan
	lzvn             bool
	uncompressedSize uint64
}

// NewResourceForkReader parses the chunk table at the head of resourceFork
// according to hdr.Type (TypeResourceForkZlib or TypeResourceForkLZVN).
func NewResourceForkReader(hdr Header, resourceFork []byte) (*ResourceForkReader, error) {
	switch hdr.Type {
	case TypeResourceForkZlib:
		return parseZlibChunkTable(resourceFork, hdr.UncompressedSize)
	case TypeResourceForkLZVN:
		return parseLZVNChunkTable(resourceFork, hdr.UncompressedSize)
	default:
		return nil, fmt.Errorf("%w: compression type %d is not a resource-fork form", apfserrors.ErrNotImplemented, hdr.Type)
	}
}

func parseZlibChunkTable(raw []byte, uncompressedSize uint64) (*ResourceForkReader, error) {
	if len(raw) < zlibBlockTableOffset {
		return nil, fmt.Errorf("%w: resource-fork zlib header too small", apfserrors.ErrCorruptMetadata)
	}
	headerSize := endian.U32(raw[0:4])
	footerSize := endian.U32(raw[12:16])
	if headerSize != zlibHeaderSize || footerSize != zlibFooterSize {
		return nil, fmt.Errorf("%w: unexpected resource-fork zlib header (size=0x%x footer=0x%x)", apfserrors.ErrCorruptMetadata, headerSize, footerSize)
	}

	count := endian.U32(raw[zlibHeaderSize+4 : zlibHeaderSize+8])
	entriesStart := zlibBlockTableOffset
	entriesEnd := entriesStart + int(count)*8
	if entriesEnd > len(raw) {
		return nil, fmt.Errorf("%w: resource-fork zlib block table overruns attribute", apfserrors.ErrCorruptMetadata)
	}

	spans := make([]chunkSpan, count)
	for i := uint32(0); i < count; i++ {
		off := entriesStart + int(i)*8
		spans[i] = chunkSpan{
			offset: endian.U32(raw[off:off+4]) + uint32(zlibHeaderSize) - 4,
			size:   endian.U32(raw[off+4 : off+8]),
		}
	}
	return &ResourceForkReader{raw: raw, spans: spans, uncompressedSize: uncompressedSize}, nil
}

func parseLZVNChunkTable(raw []byte, uncompressedSize uint64) (*ResourceForkReader, error) {
	if len(raw) < 4 {
		return nil, fmt.Errorf("%w: resource-fork LZVN header too small", apfserrors.ErrCorruptMetadata)
	}
	headerSize := endian.U32(raw[0:4])
	if headerSize < 8 || int(headerSize) > len(raw) {
		return nil, fmt.Errorf("%w: bad resource-fork LZVN header size %d", apfserrors.ErrCorruptMetadata, headerSize)
	}
	n := int(headerSize)/4 - 1
	offsets := make([]uint32, n+1)
	for i := 0; i <= n; i++ {
		off := i * 4
		if off+4 > len(raw) {
			return nil, fmt.Errorf("%w: resource-fork LZVN offset table overruns attribute", apfserrors.ErrCorruptMetadata)
		}
		offsets[i] = endian.U32(raw[off : off+4])
	}

	spans := make([]chunkSpan, n)
	for i := 0; i < n; i++ {
		spans[i] = chunkSpan{offset: offsets[i], size: offsets[i+1] - offsets[i]}
	}
	return &ResourceForkReader{raw: raw, spans: spans, lzvn: true, uncompressedSize: uncompressedSize}, nil
}

// NumChunks returns the number of 64 KiB windows in the stream.
func (r *ResourceForkReader) NumChunks() int { return len(r.spans) }

// ChunkSize returns chunk i's uncompressed size: ChunkWindow for every
// chunk but the last, whose size is the remainder (or a full window if the
// total is an exact multiple).
func (r *ResourceForkReader) ChunkSize(i int) int {
	if i < len(r.spans)-1 {
		return ChunkWindow
	}
	rem := int(r.uncompressedSize % ChunkWindow)
	if rem == 0 {
		return ChunkWindow
	}
	return rem
}

// GetChunk decompresses chunk i independently of every other chunk.
func (r *ResourceForkReader) GetChunk(i int) ([]byte, error) {
	if i < 0 || i >= len(r.spans) {
		return nil, fmt.Errorf("%w: resource-fork chunk index %d out of range", apfserrors.ErrCorruptMetadata, i)
	}
	span := r.spans[i]
	if uint64(span.offset)+uint64(span.size) > uint64(len(r.raw)) {
		return nil, fmt.Errorf("%w: resource-fork chunk %d overruns attribute", apfserrors.ErrCorruptMetadata, i)
	}
	payload := r.raw[span.offset : span.offset+span.size]
	size := r.ChunkSize(i)

	if !r.lzvn {
		return Inflate(payload, size)
	}

	if len(payload) > 0 && payload[0] == lzvnUncompressedMarker && len(payload) >= size {
		return append([]byte(nil), payload[1:1+size]...), nil
	}
	dst := make([]byte, size)
	var state LzvnState
	if _, err := DecodeLZVN(payload, dst, &state); err != nil {
		return nil, err
	}
	return dst[:state.Produced()], nil
}

// ReadAt serves a read request of len(buf) bytes starting at logical
// offset by iterating whichever chunks the range spans, per §4.12's "first
// chunk = floor(offset/65536), iterate until offset+len" rule.
func (r *ResourceForkReader) ReadAt(offset uint64, buf []byte) (int, error) {
	total := 0
	chunkIdx := int(offset / ChunkWindow)
	inChunkOff := int(offset % ChunkWindow)

	for total < len(buf) && chunkIdx < len(r.spans) {
		chunk, err := r.GetChunk(chunkIdx)
		if err != nil {
			return total, err
		}
		if inChunkOff >= len(chunk) {
			break
		}
		n := copy(buf[total:], chunk[inChunkOff:])
		total += n
		inChunkOff = 0
		chunkIdx++
	}
	return total, nil
}
