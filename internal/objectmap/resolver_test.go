package objectmap

import (
	"testing"

	"github.com/deploymenttheory/go-apfs/internal/apfserrors"
	"github.com/deploymenttheory/go-apfs/internal/checksum"
	"github.com/deploymenttheory/go-apfs/internal/endian"
	"github.com/deploymenttheory/go-apfs/internal/types"
	"github.com/stretchr/testify/require"
)

const testBlockSize = 4096

func zeroed(raw []byte) []byte {
	scratch := make([]byte, len(raw))
	copy(scratch, raw)
	for i := 0; i < checksum.MaxCksumSize; i++ {
		scratch[i] = 0
	}
	return scratch
}

// buildOmapRootLeaf builds a root+leaf node holding one location record per
// (oid, xid, paddr) triple.
func buildOmapRootLeaf(t *testing.T, records [][3]uint64) []byte {
	t.Helper()
	raw := make([]byte, testBlockSize)
	endian.PutU16(raw[32:34], types.BtnodeRoot|types.BtnodeLeaf)
	endian.PutU32(raw[36:40], uint32(len(records)))

	tocLen := len(records) * 8
	endian.PutU16(raw[40:42], 0)
	endian.PutU16(raw[42:44], uint16(tocLen))

	body := raw[56 : testBlockSize-types.BtreeInfoSize]
	keyAreaStart := tocLen
	keyCursor := keyAreaStart
	valEnd := len(body)
	valCursor := 0

	for i, rec := range records {
		oid, xid, paddr := rec[0], rec[1], rec[2]
		var kb [16]byte
		endian.PutU64(kb[0:8], oid)
		endian.PutU64(kb[8:16], xid)

		var vb [16]byte
		endian.PutU32(vb[0:4], 0)
		endian.PutU32(vb[4:8], uint32(testBlockSize))
		endian.PutU64(vb[8:16], paddr)

		copy(body[keyCursor:keyCursor+16], kb[:])
		valCursor += 16
		copy(body[valEnd-valCursor:valEnd-valCursor+16], vb[:])

		off := i * 8
		endian.PutU16(body[off:off+2], uint16(keyCursor-keyAreaStart))
		endian.PutU16(body[off+2:off+4], 16)
		endian.PutU16(body[off+4:off+6], uint16(valCursor))
		endian.PutU16(body[off+6:off+8], 16)

		keyCursor += 16
	}

	footer := raw[testBlockSize-types.BtreeInfoSize:]
	endian.PutU32(footer[4:8], testBlockSize)
	endian.PutU32(footer[8:12], 16)
	endian.PutU32(footer[12:16], 16)

	csum := checksum.Compute(zeroed(raw))
	copy(raw[0:8], csum[:])
	return raw
}

func buildOmapHeader(t *testing.T, treeOid uint64) []byte {
	t.Helper()
	raw := make([]byte, types.OmapPhysSize+64)
	endian.PutU64(raw[48:56], treeOid)
	csum := checksum.Compute(zeroed(raw))
	copy(raw[0:8], csum[:])
	return raw
}

func TestResolverResolveLatestLEXid(t *testing.T) {
	leaf := buildOmapRootLeaf(t, [][3]uint64{
		{10, 3, 0x100},
		{10, 7, 0x200},
		{20, 1, 0x300},
	})
	header := buildOmapHeader(t, 999)

	resolver, err := Load(header, func(oid types.OidT) ([]byte, error) { return leaf, nil })
	require.NoError(t, err)

	paddr, _, _, err := resolver.Resolve(10, 9)
	require.NoError(t, err)
	require.EqualValues(t, 0x200, paddr)

	paddr, _, _, err = resolver.Resolve(10, 5)
	require.NoError(t, err)
	require.EqualValues(t, 0x100, paddr)

	_, _, _, err = resolver.Resolve(10, 2)
	require.ErrorIs(t, err, apfserrors.ErrNotFound)

	_, _, _, err = resolver.Resolve(999, 9)
	require.ErrorIs(t, err, apfserrors.ErrNotFound)
}
