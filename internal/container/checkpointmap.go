package container

import (
	"fmt"

	"github.com/deploymenttheory/go-apfs/internal/apfserrors"
	"github.com/deploymenttheory/go-apfs/internal/checksum"
	"github.com/deploymenttheory/go-apfs/internal/endian"
	"github.com/deploymenttheory/go-apfs/internal/types"
)

// SBMap is the in-memory concatenation of every SuperblockMap entry found
// across the checkpoint descriptor area's data blocks (§4.2).
type SBMap struct {
	entries []types.CheckpointMappingT
}

// LoadSBMap reads currentSBLen-1 consecutive blocks starting at startBlock,
// wrapping within the descriptor ring of numberOfSB blocks that begins at
// firstSB, and concatenates every
// CheckpointMapPhysT entry it finds into one lookup table.
func LoadSBMap(read BlockReader, firstSB, numberOfSB, startBlock, currentSBLen uint64) (*SBMap, error) {
	if currentSBLen == 0 {
		return nil, fmt.Errorf("%w: empty checkpoint superblock length", apfserrors.ErrCorruptMetadata)
	}

	m := &SBMap{}
	count := currentSBLen - 1
	for i := uint64(0); i < count; i++ {
		blockNum := firstSB + (startBlock-firstSB+i)%numberOfSB
		raw, err := read(blockNum)
		if err != nil {
			return nil, fmt.Errorf("%w: reading SB map block %d: %v", apfserrors.ErrReadFailed, blockNum, err)
		}
		if endianObjType(raw) != types.ObjectTypeCheckpointMap {
			continue
		}
		if !checksum.Verify(raw) {
			return nil, fmt.Errorf("%w: SB map block %d checksum mismatch", apfserrors.ErrCorruptMetadata, blockNum)
		}
		entries, err := parseCheckpointMapBlock(raw)
		if err != nil {
			return nil, err
		}
		m.entries = append(m.entries, entries...)
	}
	return m, nil
}

func parseCheckpointMapBlock(raw []byte) ([]types.CheckpointMappingT, error) {
	const headerSize = 32 + 4 + 4 // ObjPhysT + CpmFlags + CpmCount
	if len(raw) < headerSize {
		return nil, fmt.Errorf("%w: checkpoint map block too small", apfserrors.ErrCorruptMetadata)
	}
	count := endian.U32(raw[36:40])
	entries := make([]types.CheckpointMappingT, 0, count)
	off := headerSize
	for i := uint32(0); i < count; i++ {
		if off+types.CheckpointMapEntrySize > len(raw) {
			return nil, fmt.Errorf("%w: checkpoint map entry %d out of bounds", apfserrors.ErrCorruptMetadata, i)
		}
		e := types.CheckpointMappingT{
			CpmType:    endian.U32(raw[off : off+4]),
			CpmSubtype: endian.U32(raw[off+4 : off+8]),
			CpmSize:    endian.U32(raw[off+8 : off+12]),
			CpmPad:     endian.U32(raw[off+12 : off+16]),
			CpmFsOid:   types.OidT(endian.U64(raw[off+16 : off+24])),
			CpmOid:     types.OidT(endian.U64(raw[off+24 : off+32])),
			CpmPaddr:   types.Paddr(endian.U64(raw[off+32 : off+40])),
		}
		entries = append(entries, e)
		off += types.CheckpointMapEntrySize
	}
	return entries, nil
}

// Lookup finds the container-meta object matching (objectID, expectedType).
// A hit returns its physical block and size in bytes. A present entry with
// a different type than expected is a corruption, not a miss.
func (m *SBMap) Lookup(objectID types.OidT, expectedType uint32) (block uint64, size uint32, err error) {
	for _, e := range m.entries {
		if e.CpmOid != objectID {
			continue
		}
		if e.CpmType&types.ObjectTypeMask != expectedType {
			return 0, 0, fmt.Errorf("%w: object %d has type 0x%x, expected 0x%x", apfserrors.ErrCorruptMetadata, objectID, e.CpmType&types.ObjectTypeMask, expectedType)
		}
		return uint64(e.CpmPaddr), e.CpmSize, nil
	}
	return 0, 0, fmt.Errorf("%w: object %d (type 0x%x) not in checkpoint SB map", apfserrors.ErrNotFound, objectID, expectedType)
}
