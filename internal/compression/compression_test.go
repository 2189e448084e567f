package compression

import (
	"bytes"
	stdflate "compress/flate"
	"testing"

	"github.com/deploymenttheory/go-apfs/internal/endian"
	"github.com/stretchr/testify/require"
)

func deflateBytes(t *testing.T, plain []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	w, err := stdflate.NewWriter(&buf, stdflate.BestSpeed)
	require.NoError(t, err)
	_, err = w.Write(plain)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func TestInflateRoundTrip(t *testing.T) {
	plain := []byte("hello world, this is a compressed payload")
	compressed := deflateBytes(t, plain)

	got, err := Inflate(compressed, len(plain))
	require.NoError(t, err)
	require.Equal(t, plain, got)
}

func TestDecodeInlinePseudoZero(t *testing.T) {
	hdr := Header{Type: TypePseudoZero, UncompressedSize: 16}
	got, err := DecodeInline(hdr, nil)
	require.NoError(t, err)
	require.Len(t, got, 16)
	for _, b := range got {
		require.Zero(t, b)
	}
}

func TestDecodeInlineZlib(t *testing.T) {
	plain := []byte("compress me please")
	hdr := Header{Type: TypeInlineZlib, UncompressedSize: uint64(len(plain))}
	got, err := DecodeInline(hdr, deflateBytes(t, plain))
	require.NoError(t, err)
	require.Equal(t, plain, got)
}

func TestDecodeInlineLZVNPassthrough(t *testing.T) {
	payload := append([]byte{lzvnUncompressedMarker}, []byte("hello")...)
	hdr := Header{Type: TypeInlineLZVN, UncompressedSize: 5}
	got, err := DecodeInline(hdr, payload)
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), got)
}

func TestDecodeLZVNLiteralAndMatch(t *testing.T) {
	// literal "XYZ" (small-literal opcode 0xE3, L=3), then a small-distance
	// opcode (0x18) with L=0, M=6, D=3 repeating the literal twice more,
	// then the 8-byte end-of-stream opcode.
	stream := []byte{0xE3, 'X', 'Y', 'Z', 0x18, 0x03, 0x06, 0, 0, 0, 0, 0, 0, 0, 0}
	dst := make([]byte, 9)
	var state LzvnState
	consumed, err := DecodeLZVN(stream, dst, &state)
	require.NoError(t, err)
	require.Equal(t, len(stream), consumed)
	require.Equal(t, 9, state.Produced())
	require.Equal(t, "XYZXYZXYZ", string(dst))
	require.True(t, state.Done())
}

func TestDecodeLZVNResumesAcrossShortDestination(t *testing.T) {
	// Same backing array throughout: the first call only exposes its first
	// four bytes, forcing the match opcode's copy to pause partway through;
	// the second call exposes the full array so the pending match can reach
	// back across the boundary into bytes the first call already wrote.
	stream := []byte{0xE3, 'X', 'Y', 'Z', 0x18, 0x03, 0x06, 0, 0, 0, 0, 0, 0, 0, 0}
	var state LzvnState
	full := make([]byte, 9)

	consumed1, err := DecodeLZVN(stream, full[:4], &state)
	require.NoError(t, err)
	require.False(t, state.Done())
	require.Equal(t, 4, state.Produced())

	_, err = DecodeLZVN(stream[consumed1:], full[:9], &state)
	require.NoError(t, err)
	require.True(t, state.Done())
	require.Equal(t, 9, state.Produced())

	require.Equal(t, "XYZXYZXYZ", string(full))
}

func buildZlibResourceFork(t *testing.T, chunks [][]byte) []byte {
	t.Helper()
	var compressed [][]byte
	for _, c := range chunks {
		compressed = append(compressed, deflateBytes(t, c))
	}

	header := make([]byte, zlibBlockTableOffset)
	endian.PutU32(header[0:4], zlibHeaderSize)
	endian.PutU32(header[4:8], 0) // footer_offset, unused by our reader
	endian.PutU32(header[8:12], 0)            // data_size, unused by our reader
	endian.PutU32(header[12:16], zlibFooterSize)
	endian.PutU32(header[zlibHeaderSize+4:zlibHeaderSize+8], uint32(len(compressed)))

	blockTable := make([]byte, len(compressed)*8)
	actualDataStart := uint32(zlibBlockTableOffset + len(compressed)*8)
	cumulative := uint32(0)
	var data []byte
	for i, c := range compressed {
		// parseZlibChunkTable computes the real offset as
		// storedOffset + zlibHeaderSize - 4; invert that here so the
		// stored value resolves back to actualDataStart+cumulative.
		storedOffset := actualDataStart + cumulative - zlibHeaderSize + 4
		endian.PutU32(blockTable[i*8:i*8+4], storedOffset)
		endian.PutU32(blockTable[i*8+4:i*8+8], uint32(len(c)))
		cumulative += uint32(len(c))
		data = append(data, c...)
	}

	raw := append([]byte{}, header...)
	raw = append(raw, blockTable...)
	raw = append(raw, data...)
	return raw
}

func TestResourceForkZlibSingleChunk(t *testing.T) {
	plain := []byte("resource fork chunk contents")
	raw := buildZlibResourceFork(t, [][]byte{plain})

	hdr := Header{Type: TypeResourceForkZlib, UncompressedSize: uint64(len(plain))}
	r, err := NewResourceForkReader(hdr, raw)
	require.NoError(t, err)
	require.Equal(t, 1, r.NumChunks())

	got, err := r.GetChunk(0)
	require.NoError(t, err)
	require.Equal(t, plain, got)

	buf := make([]byte, len(plain))
	n, err := r.ReadAt(0, buf)
	require.NoError(t, err)
	require.Equal(t, len(plain), n)
	require.Equal(t, plain, buf)
}

func buildLZVNResourceFork(chunks [][]byte) []byte {
	n := len(chunks)
	headerSize := uint32((n + 1) * 4)
	offsets := make([]uint32, n+1)
	var data []byte
	cur := headerSize
	for i, c := range chunks {
		offsets[i] = cur
		data = append(data, c...)
		cur += uint32(len(c))
	}
	offsets[n] = cur

	raw := make([]byte, headerSize)
	endian.PutU32(raw[0:4], headerSize)
	for i, off := range offsets {
		if i*4+4 > len(raw) {
			continue
		}
		endian.PutU32(raw[i*4:i*4+4], off)
	}
	return append(raw, data...)
}

func TestResourceForkLZVNPassthroughChunk(t *testing.T) {
	plain := make([]byte, ChunkWindow)
	for i := range plain {
		plain[i] = byte(i)
	}
	passthrough := append([]byte{lzvnUncompressedMarker}, plain...)
	raw := buildLZVNResourceFork([][]byte{passthrough})

	hdr := Header{Type: TypeResourceForkLZVN, UncompressedSize: uint64(len(plain))}
	r, err := NewResourceForkReader(hdr, raw)
	require.NoError(t, err)
	require.Equal(t, 1, r.NumChunks())
	require.Equal(t, ChunkWindow, r.ChunkSize(0))

	got, err := r.GetChunk(0)
	require.NoError(t, err)
	require.Equal(t, plain, got)
}

func TestResourceForkLastChunkSizeIsRemainder(t *testing.T) {
	full := make([]byte, ChunkWindow)
	partial := make([]byte, 100)
	raw := buildLZVNResourceFork([][]byte{
		append([]byte{lzvnUncompressedMarker}, full...),
		append([]byte{lzvnUncompressedMarker}, partial...),
	})

	hdr := Header{Type: TypeResourceForkLZVN, UncompressedSize: uint64(len(full) + len(partial))}
	r, err := NewResourceForkReader(hdr, raw)
	require.NoError(t, err)
	require.Equal(t, ChunkWindow, r.ChunkSize(0))
	require.Equal(t, 100, r.ChunkSize(1))
}
