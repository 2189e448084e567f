package container

import (
	"testing"

	"github.com/deploymenttheory/go-apfs/internal/apfserrors"
	"github.com/deploymenttheory/go-apfs/internal/checksum"
	"github.com/deploymenttheory/go-apfs/internal/endian"
	"github.com/deploymenttheory/go-apfs/internal/types"
	"github.com/stretchr/testify/require"
)

const testBlockSize = 4096

func buildSuperblockBlock(t *testing.T, oid types.OidT, xid types.XidT, descBase, descBlocks, descIndex, descLen, descNext uint32) []byte {
	t.Helper()
	data := make([]byte, testBlockSize)
	endian.PutU64(data[8:16], uint64(oid))
	endian.PutU64(data[16:24], uint64(xid))
	endian.PutU32(data[24:28], types.ObjectTypeNxSuperblock)

	endian.PutU32(data[32:36], types.NxMagic)
	endian.PutU32(data[36:40], testBlockSize)
	endian.PutU64(data[40:48], 1024)

	endian.PutU32(data[104:108], descBlocks)
	endian.PutU64(data[112:120], uint64(descBase))
	endian.PutU32(data[128:132], descNext)
	endian.PutU32(data[136:140], descIndex)
	endian.PutU32(data[140:144], descLen)

	endian.PutU64(data[152:160], 1234)
	endian.PutU64(data[160:168], 5678)
	endian.PutU64(data[168:176], 9012)
	endian.PutU32(data[180:184], types.NxMaxFileSystems)
	endian.PutU64(data[88:96], 9999)
	endian.PutU64(data[96:104], uint64(xid)+1)

	csum := checksum.Compute(zeroedChecksum(data))
	copy(data[0:8], csum[:])
	return data
}

func zeroedChecksum(data []byte) []byte {
	scratch := make([]byte, len(data))
	copy(scratch, data)
	for i := 0; i < checksum.MaxCksumSize; i++ {
		scratch[i] = 0
	}
	return scratch
}

func TestParseAndValidateMainSuperblock(t *testing.T) {
	raw := buildSuperblockBlock(t, 1, 10, 0x10, 4, 0, 1, 0)
	sb, err := ParseSuperblock(raw)
	require.NoError(t, err)
	require.NoError(t, ValidateMainSuperblock(raw, sb))
	require.Equal(t, types.NxMagic, sb.NxMagic)
	require.EqualValues(t, testBlockSize, sb.NxBlockSize)
}

func TestValidateMainSuperblockBadMagic(t *testing.T) {
	raw := buildSuperblockBlock(t, 1, 10, 0x10, 4, 0, 1, 0)
	endian.PutU32(raw[32:36], 0xdeadbeef)
	sb, err := ParseSuperblock(raw)
	require.NoError(t, err)
	err = ValidateMainSuperblock(raw, sb)
	require.ErrorIs(t, err, apfserrors.ErrFsUnknown)
}

func TestValidateMainSuperblockChecksumMismatch(t *testing.T) {
	raw := buildSuperblockBlock(t, 1, 10, 0x10, 4, 0, 1, 0)
	raw[500] ^= 0xFF
	sb, err := ParseSuperblock(raw)
	require.NoError(t, err)
	err = ValidateMainSuperblock(raw, sb)
	require.ErrorIs(t, err, apfserrors.ErrCorruptMetadata)
}

func TestSelectCheckpointPicksHighestXid(t *testing.T) {
	blocks := make(map[uint64][]byte)

	// Main SB at block 0: ring is blocks [0x10, 0x14), current index 0, len 1.
	blocks[0] = buildSuperblockBlock(t, 1, 7, 0x10, 4, 0, 1, 1)

	// Ring entries: xid 5 at 0x10, xid 7 (best) at 0x11, empty elsewhere.
	blocks[0x10] = buildSuperblockBlock(t, 1, 5, 0x10, 4, 0, 1, 0)
	blocks[0x11] = buildSuperblockBlock(t, 1, 7, 0x10, 4, 0, 1, 2)
	blocks[0x12] = make([]byte, testBlockSize) // Empty (type 0)
	blocks[0x13] = make([]byte, testBlockSize)

	cp, err := SelectCheckpoint(func(b uint64) ([]byte, error) { return blocks[b], nil })
	require.NoError(t, err)
	require.EqualValues(t, 7, cp.Superblock.NxO.OXid)
	require.EqualValues(t, 0x11, cp.SBBlock)
}

func TestSelectCheckpointNoCandidateFails(t *testing.T) {
	blocks := make(map[uint64][]byte)
	blocks[0] = buildSuperblockBlock(t, 1, 1, 0x10, 4, 0, 1, 1)
	for i := uint64(0x10); i < 0x14; i++ {
		blocks[i] = make([]byte, testBlockSize)
	}
	_, err := SelectCheckpoint(func(b uint64) ([]byte, error) { return blocks[b], nil })
	require.ErrorIs(t, err, apfserrors.ErrCorruptMetadata)
}

func TestSBMapLookup(t *testing.T) {
	data := make([]byte, testBlockSize)
	endian.PutU32(data[24:28], types.ObjectTypeCheckpointMap)
	endian.PutU32(data[36:40], 1) // count

	off := 40
	endian.PutU32(data[off:off+4], types.ObjectTypeOmap)
	endian.PutU64(data[off+16:off+24], 42) // CpmFsOid unused
	endian.PutU64(data[off+24:off+32], 42) // CpmOid
	endian.PutU64(data[off+32:off+40], 0x200) // CpmPaddr

	csum := checksum.Compute(zeroedChecksum(data))
	copy(data[0:8], csum[:])

	m, err := LoadSBMap(func(b uint64) ([]byte, error) { return data, nil }, 0x10, 4, 0x10, 2)
	require.NoError(t, err)

	block, size, err := m.Lookup(42, types.ObjectTypeOmap)
	require.NoError(t, err)
	require.EqualValues(t, 0x200, block)
	_ = size

	_, _, err = m.Lookup(42, types.ObjectTypeFs)
	require.ErrorIs(t, err, apfserrors.ErrCorruptMetadata)

	_, _, err = m.Lookup(999, types.ObjectTypeOmap)
	require.ErrorIs(t, err, apfserrors.ErrNotFound)
}
