package extent

import (
	"testing"

	"github.com/deploymenttheory/go-apfs/internal/apfserrors"
	"github.com/deploymenttheory/go-apfs/internal/btree"
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

// buildFilesLeaf builds a root+leaf holding one FileExtent record for
// objID covering [0, length) at physBlock.
func buildFilesLeaf(t *testing.T, objID, length, physBlock uint64) []byte {
	t.Helper()
	raw := make([]byte, testBlockSize)
	endian.PutU16(raw[32:34], types.BtnodeRoot|types.BtnodeLeaf)
	endian.PutU32(raw[36:40], 1)
	endian.PutU16(raw[40:42], 0)
	endian.PutU16(raw[42:44], 8)

	body := raw[56 : testBlockSize-types.BtreeInfoSize]
	var key [16]byte
	endian.PutU64(key[0:8], (objID&types.ObjIdMask)|(uint64(types.ApfsTypeFileExtent)<<types.ObjTypeShift))
	endian.PutU64(key[8:16], 0)

	var val [24]byte
	endian.PutU64(val[0:8], length)
	endian.PutU64(val[8:16], physBlock)

	copy(body[8:24], key[:])
	copy(body[len(body)-24:], val[:])

	endian.PutU16(body[0:2], 0)
	endian.PutU16(body[2:4], 16)
	endian.PutU16(body[4:6], 24)
	endian.PutU16(body[6:8], 24)

	footer := raw[testBlockSize-types.BtreeInfoSize:]
	endian.PutU32(footer[4:8], testBlockSize)

	csum := checksum.Compute(zeroed(raw))
	copy(raw[0:8], csum[:])
	return raw
}

func TestResolverGetExtent(t *testing.T) {
	raw := buildFilesLeaf(t, 5, 8192, 0x1000)
	root, err := btree.ParseNode(raw)
	require.NoError(t, err)

	r := NewResolver(root, func(types.OidT) ([]byte, error) { return nil, nil })
	ext, err := r.GetExtent(5, 100)
	require.NoError(t, err)
	require.EqualValues(t, 0x1000, ext.PhysBlockNum)
	require.False(t, ext.IsHole())

	_, err = r.GetExtent(5, 9000)
	require.ErrorIs(t, err, apfserrors.ErrNotFound)
}
