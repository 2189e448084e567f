package btree

import (
	"bytes"
	"testing"

	"github.com/deploymenttheory/go-apfs/internal/apfserrors"
	"github.com/deploymenttheory/go-apfs/internal/checksum"
	"github.com/deploymenttheory/go-apfs/internal/endian"
	"github.com/deploymenttheory/go-apfs/internal/types"
	"github.com/stretchr/testify/require"
)

func uint64Cmp(a, b []byte) int {
	av, bv := endian.U64(a), endian.U64(b)
	switch {
	case av < bv:
		return -1
	case av > bv:
		return 1
	default:
		return 0
	}
}

// buildLeaf constructs a single-node tree (root+leaf) holding fixed 8-byte
// keys each mapped to an 8-byte value equal to key*10, using variable KV
// layout to mirror how the teacher's reader lays out table-of-contents
// entries.
func buildLeaf(t *testing.T, keys []uint64, blockSize int) []byte {
	t.Helper()
	raw := make([]byte, blockSize)
	endian.PutU16(raw[32:34], types.BtnodeRoot|types.BtnodeLeaf)
	endian.PutU32(raw[36:40], uint32(len(keys)))

	tocOff := 0
	tocLen := len(keys) * 8
	endian.PutU16(raw[40:42], uint16(tocOff))
	endian.PutU16(raw[42:44], uint16(tocLen))

	body := raw[56 : blockSize-types.BtreeInfoSize]
	keyAreaStart := tocLen

	keyCursor := keyAreaStart
	valEnd := len(body)
	valCursor := 0
	for i, k := range keys {
		var kb, vb [8]byte
		endian.PutU64(kb[:], k)
		endian.PutU64(vb[:], k*10)

		copy(body[keyCursor:keyCursor+8], kb[:])
		valCursor += 8
		copy(body[valEnd-valCursor:valEnd-valCursor+8], vb[:])

		tocEntryOff := i * 8
		endian.PutU16(body[tocEntryOff:tocEntryOff+2], uint16(keyCursor-keyAreaStart))
		endian.PutU16(body[tocEntryOff+2:tocEntryOff+4], 8)
		endian.PutU16(body[tocEntryOff+4:tocEntryOff+6], uint16(valCursor))
		endian.PutU16(body[tocEntryOff+6:tocEntryOff+8], 8)

		keyCursor += 8
	}

	footer := raw[blockSize-types.BtreeInfoSize:]
	endian.PutU32(footer[4:8], uint32(blockSize))
	endian.PutU32(footer[8:12], 8)
	endian.PutU32(footer[12:16], 8)

	csum := checksum.Compute(zeroed(raw))
	copy(raw[0:8], csum[:])
	return raw
}

func zeroed(raw []byte) []byte {
	scratch := make([]byte, len(raw))
	copy(scratch, raw)
	for i := 0; i < checksum.MaxCksumSize; i++ {
		scratch[i] = 0
	}
	return scratch
}

func TestParseNodeAndLookup(t *testing.T) {
	raw := buildLeaf(t, []uint64{10, 20, 30, 40}, 4096)
	node, err := ParseNode(raw)
	require.NoError(t, err)
	require.True(t, node.IsLeaf())
	require.True(t, node.IsRoot())
	require.Equal(t, 4, node.KeyCount())

	var target [8]byte
	endian.PutU64(target[:], 30)
	val, err := Lookup(node, target[:], uint64Cmp, func(types.OidT) ([]byte, error) { return nil, nil })
	require.NoError(t, err)
	require.Equal(t, uint64(300), endian.U64(val))
}

func TestFindDataIndexNotFound(t *testing.T) {
	raw := buildLeaf(t, []uint64{10, 20, 30}, 4096)
	node, err := ParseNode(raw)
	require.NoError(t, err)

	var target [8]byte
	endian.PutU64(target[:], 25)
	_, err = FindDataIndex(node, target[:], uint64Cmp, ModeEQ)
	require.ErrorIs(t, err, apfserrors.ErrNotFound)
}

func TestFindDataIndexModeGENotImplemented(t *testing.T) {
	raw := buildLeaf(t, []uint64{10}, 4096)
	node, err := ParseNode(raw)
	require.NoError(t, err)

	var target [8]byte
	_, err = FindDataIndex(node, target[:], uint64Cmp, ModeGE)
	require.ErrorIs(t, err, apfserrors.ErrNotImplemented)
}

func TestCursorEnumeratesInOrder(t *testing.T) {
	raw := buildLeaf(t, []uint64{10, 20, 30, 40}, 4096)
	node, err := ParseNode(raw)
	require.NoError(t, err)

	var start [8]byte
	endian.PutU64(start[:], 10)
	c, err := StartAtKey(node, start[:], uint64Cmp, func(types.OidT) ([]byte, error) { return nil, nil }, ModeEQ)
	require.NoError(t, err)

	var got []uint64
	k, v, err := c.Current()
	require.NoError(t, err)
	got = append(got, endian.U64(k))
	_ = v
	for {
		k, _, err := c.Next()
		if err != nil {
			require.ErrorIs(t, err, ErrEndOfTree)
			break
		}
		got = append(got, endian.U64(k))
	}

	require.Equal(t, []uint64{10, 20, 30, 40}, got)
}

func TestNodeChecksumMismatchRejected(t *testing.T) {
	raw := buildLeaf(t, []uint64{1, 2}, 4096)
	raw[1000] ^= 0xFF
	_, err := ParseNode(raw)
	require.True(t, bytes.Contains([]byte(err.Error()), []byte("checksum")))
	require.ErrorIs(t, err, apfserrors.ErrCorruptMetadata)
}
