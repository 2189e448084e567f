// Package container implements §4.1-4.2: locating the main superblock,
// scanning the checkpoint-SB ring for the latest valid checkpoint, and
// loading the checkpoint superblock map.
package container

import (
	"fmt"

	"github.com/deploymenttheory/go-apfs/internal/apfserrors"
	"github.com/deploymenttheory/go-apfs/internal/checksum"
	"github.com/deploymenttheory/go-apfs/internal/endian"
	"github.com/deploymenttheory/go-apfs/internal/types"
)

const minSuperblockSize = 184 + types.NxMaxFileSystems*8 + types.NxNumCounters*8 + 16 + 8 + 8 + 8 + 16 + 16 + 32 + 8 + 8 + 8 + 16 + 8 + 16

// ParseSuperblock decodes a raw block into an NxSuperblockT. It does not
// verify the checksum or magic; callers combine this with checksum.Verify
// and a magic check per the invariants in §3.1/§3.2.
func ParseSuperblock(data []byte) (*types.NxSuperblockT, error) {
	if len(data) < minSuperblockSize {
		return nil, fmt.Errorf("%w: container superblock block too small (%d bytes)", apfserrors.ErrCorruptMetadata, len(data))
	}

	sb := &types.NxSuperblockT{}
	copy(sb.NxO.OChecksum[:], data[0:8])
	sb.NxO.OOid = types.OidT(endian.U64(data[8:16]))
	sb.NxO.OXid = types.XidT(endian.U64(data[16:24]))
	sb.NxO.OType = endian.U32(data[24:28])
	sb.NxO.OSubtype = endian.U32(data[28:32])

	sb.NxMagic = endian.U32(data[32:36])
	sb.NxBlockSize = endian.U32(data[36:40])
	sb.NxBlockCount = endian.U64(data[40:48])
	sb.NxFeatures = endian.U64(data[48:56])
	sb.NxReadonlyCompatibleFeatures = endian.U64(data[56:64])
	sb.NxIncompatibleFeatures = endian.U64(data[64:72])
	copy(sb.NxUuid[:], data[72:88])
	sb.NxNextOid = types.OidT(endian.U64(data[88:96]))
	sb.NxNextXid = types.XidT(endian.U64(data[96:104]))

	sb.NxXpDescBlocks = endian.U32(data[104:108])
	sb.NxXpDataBlocks = endian.U32(data[108:112])
	sb.NxXpDescBase = types.Paddr(endian.U64(data[112:120]))
	sb.NxXpDataBase = types.Paddr(endian.U64(data[120:128]))
	sb.NxXpDescNext = endian.U32(data[128:132])
	sb.NxXpDataNext = endian.U32(data[132:136])
	sb.NxXpDescIndex = endian.U32(data[136:140])
	sb.NxXpDescLen = endian.U32(data[140:144])
	sb.NxXpDataIndex = endian.U32(data[144:148])
	sb.NxXpDataLen = endian.U32(data[148:152])

	sb.NxSpacemanOid = types.OidT(endian.U64(data[152:160]))
	sb.NxOmapOid = types.OidT(endian.U64(data[160:168]))
	sb.NxReaperOid = types.OidT(endian.U64(data[168:176]))

	sb.NxTestType = endian.U32(data[176:180])
	sb.NxMaxFileSystems = endian.U32(data[180:184])

	off := 184
	for i := 0; i < types.NxMaxFileSystems; i++ {
		sb.NxFsOid[i] = types.OidT(endian.U64(data[off : off+8]))
		off += 8
	}
	for i := 0; i < types.NxNumCounters; i++ {
		sb.NxCounters[i] = endian.U64(data[off : off+8])
		off += 8
	}

	sb.NxBlockedOutPrange.PrStartPaddr = types.Paddr(endian.U64(data[off : off+8]))
	sb.NxBlockedOutPrange.PrBlockCount = endian.U64(data[off+8 : off+16])
	off += 16

	sb.NxEvictMappingTreeOid = types.OidT(endian.U64(data[off : off+8]))
	off += 8
	sb.NxFlags = endian.U64(data[off : off+8])
	off += 8
	sb.NxEfiJumpstart = types.Paddr(endian.U64(data[off : off+8]))
	off += 8
	copy(sb.NxFusionUuid[:], data[off:off+16])
	off += 16

	sb.NxKeylocker.PrStartPaddr = types.Paddr(endian.U64(data[off : off+8]))
	sb.NxKeylocker.PrBlockCount = endian.U64(data[off+8 : off+16])
	off += 16

	for i := 0; i < types.NxEphInfoCount; i++ {
		sb.NxEphemeralInfo[i] = endian.U64(data[off : off+8])
		off += 8
	}

	sb.NxTestOid = types.OidT(endian.U64(data[off : off+8]))
	off += 8
	sb.NxFusionMtOid = types.OidT(endian.U64(data[off : off+8]))
	off += 8
	sb.NxFusionWbcOid = types.OidT(endian.U64(data[off : off+8]))
	off += 8

	sb.NxFusionWbc.PrStartPaddr = types.Paddr(endian.U64(data[off : off+8]))
	sb.NxFusionWbc.PrBlockCount = endian.U64(data[off+8 : off+16])
	off += 16

	sb.NxNewestMountedVersion = endian.U64(data[off : off+8])
	off += 8

	if off+16 <= len(data) {
		sb.NxMkbLocker.PrStartPaddr = types.Paddr(endian.U64(data[off : off+8]))
		sb.NxMkbLocker.PrBlockCount = endian.U64(data[off+8 : off+16])
	}

	return sb, nil
}

// ValidateMainSuperblock applies the §4.1 invariants on the main SB read
// from block 0: magic, block type, block-size-is-power-of-two, a sane
// block count, and a passing Fletcher64.
func ValidateMainSuperblock(raw []byte, sb *types.NxSuperblockT) error {
	if sb.NxMagic != types.NxMagic {
		return fmt.Errorf("%w: bad container magic 0x%08x", apfserrors.ErrFsUnknown, sb.NxMagic)
	}
	if sb.NxO.Type() != types.ObjectTypeNxSuperblock {
		return fmt.Errorf("%w: block 0 is not a container superblock (type 0x%x)", apfserrors.ErrCorruptMetadata, sb.NxO.Type())
	}
	if sb.NxBlockSize == 0 || sb.NxBlockSize&(sb.NxBlockSize-1) != 0 {
		return fmt.Errorf("%w: block size %d is not a power of two", apfserrors.ErrCorruptMetadata, sb.NxBlockSize)
	}
	if sb.NxBlockCount > (1 << 32) {
		return fmt.Errorf("%w: block count %d exceeds 2^32", apfserrors.ErrCorruptMetadata, sb.NxBlockCount)
	}
	if !checksum.Verify(raw) {
		return fmt.Errorf("%w: main superblock checksum mismatch", apfserrors.ErrCorruptMetadata)
	}
	return nil
}
