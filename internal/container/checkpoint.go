package container

import (
	"fmt"

	"github.com/deploymenttheory/go-apfs/internal/apfserrors"
	"github.com/deploymenttheory/go-apfs/internal/checksum"
	"github.com/deploymenttheory/go-apfs/internal/types"
)

// BlockReader fetches one block's raw, un-decrypted bytes by absolute block
// number. The checkpoint scan works on those bytes exactly as read;
// container-UUID-key decryption is applied only on the keybag read path
// (internal/keybag), never to blocks passed through here.
type BlockReader func(block uint64) ([]byte, error)

// Checkpoint is the selected mount checkpoint: the validated superblock,
// the block it was read from, and that block's raw bytes.
type Checkpoint struct {
	Superblock *types.NxSuperblockT
	SBBlock    uint64
	Raw        []byte
}

// SelectCheckpoint implements §4.1: read block 0, then scan the checkpoint
// descriptor ring for the best (highest checkpoint_id) valid Superblock
// entry. firstSB and numberOfSB describe the ring's block range; both come
// from the main SB's NxXpDescBase/NxXpDescBlocks (masked).
func SelectCheckpoint(read BlockReader) (*Checkpoint, error) {
	mainRaw, err := read(0)
	if err != nil {
		return nil, fmt.Errorf("%w: reading block 0: %v", apfserrors.ErrReadFailed, err)
	}
	mainSB, err := ParseSuperblock(mainRaw)
	if err != nil {
		return nil, err
	}
	if err := ValidateMainSuperblock(mainRaw, mainSB); err != nil {
		return nil, err
	}

	firstSB := uint64(mainSB.NxXpDescBase)
	numberOfSB := uint64(mainSB.NxXpDescBlocks & types.NxXpDescLenMask)
	if numberOfSB == 0 {
		return nil, fmt.Errorf("%w: empty checkpoint descriptor area", apfserrors.ErrCorruptMetadata)
	}

	currentSB := uint64(mainSB.NxXpDescIndex)
	currentSBLen := uint64(mainSB.NxXpDescLen)
	hint := firstSB + (currentSB+currentSBLen-1)%numberOfSB

	var best *Checkpoint
	var bestID types.XidT

	for {
		blockNum := firstSB + (hint-firstSB)%numberOfSB
		raw, err := read(blockNum)
		if err != nil {
			return nil, fmt.Errorf("%w: reading checkpoint ring block %d: %v", apfserrors.ErrReadFailed, blockNum, err)
		}

		objType := endianObjType(raw)
		if objType == types.ObjectTypeCheckpointMap {
			hint++
			if hint-firstSB >= numberOfSB*2 {
				break
			}
			continue
		}
		if objType == types.ObjectTypeInvalid {
			break
		}
		if objType != types.ObjectTypeNxSuperblock {
			break
		}

		cand, err := ParseSuperblock(raw)
		if err != nil {
			break
		}
		if !checksum.Verify(raw) {
			break
		}
		if best != nil && cand.NxO.OXid <= bestID {
			break
		}

		best = &Checkpoint{Superblock: cand, SBBlock: blockNum, Raw: raw}
		bestID = cand.NxO.OXid

		nextSB := uint64(cand.NxXpDescNext)
		hint = firstSB + nextSB + 1
	}

	if best == nil {
		return nil, fmt.Errorf("%w: no valid checkpoint superblock found in ring", apfserrors.ErrCorruptMetadata)
	}
	if uint64(best.Superblock.NxO.OXid) > uint64(mainSB.NxNextXid) {
		return nil, fmt.Errorf("%w: checkpoint_id %d exceeds container's next_xid %d", apfserrors.ErrCorruptMetadata, best.Superblock.NxO.OXid, mainSB.NxNextXid)
	}
	return best, nil
}

// SelectCheckpointAgo rescans the ring for the checkpoint whose id equals
// latest-n, per §4.1's "N checkpoints ago" rewind option. The result is
// always intended to be mounted read-only by the caller.
func SelectCheckpointAgo(read BlockReader, n uint64) (*Checkpoint, error) {
	latest, err := SelectCheckpoint(read)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return latest, nil
	}
	target := uint64(latest.Superblock.NxO.OXid) - n

	mainRaw, err := read(0)
	if err != nil {
		return nil, fmt.Errorf("%w: reading block 0: %v", apfserrors.ErrReadFailed, err)
	}
	mainSB, err := ParseSuperblock(mainRaw)
	if err != nil {
		return nil, err
	}
	firstSB := uint64(mainSB.NxXpDescBase)
	numberOfSB := uint64(mainSB.NxXpDescBlocks & types.NxXpDescLenMask)

	for i := uint64(0); i < numberOfSB; i++ {
		blockNum := firstSB + i
		raw, err := read(blockNum)
		if err != nil {
			continue
		}
		if endianObjType(raw) != types.ObjectTypeNxSuperblock {
			continue
		}
		cand, err := ParseSuperblock(raw)
		if err != nil || !checksum.Verify(raw) {
			continue
		}
		if uint64(cand.NxO.OXid) == target {
			return &Checkpoint{Superblock: cand, SBBlock: blockNum, Raw: raw}, nil
		}
	}
	return nil, fmt.Errorf("%w: no checkpoint found for %d checkpoints ago", apfserrors.ErrCorruptMetadata, n)
}

// endianObjType reads the object type field (bytes 24:28) without fully
// parsing the block, so the ring scan can cheaply classify a block before
// committing to a full superblock decode.
func endianObjType(raw []byte) uint32 {
	if len(raw) < 28 {
		return types.ObjectTypeInvalid
	}
	return (uint32(raw[24]) | uint32(raw[25])<<8 | uint32(raw[26])<<16 | uint32(raw[27])<<24) & types.ObjectTypeMask
}
