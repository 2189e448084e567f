package keybag

import (
	"errors"
	"fmt"

	"github.com/deploymenttheory/go-apfs/internal/apfserrors"
	"github.com/deploymenttheory/go-apfs/internal/decrypt"
	"github.com/deploymenttheory/go-apfs/internal/types"
)

// RawBlockReader fetches count consecutive blocks starting at block, as
// stored on disk (still encrypted).
type RawBlockReader func(block uint64, count uint64) ([]byte, error)

// VolumeKeyState is the outcome of attempting to recover one volume's VEK.
type VolumeKeyState struct {
	VEK         []byte
	CanDecrypt  bool
	Locked      bool
}

// LoadVolumeKey implements load_encryption_keys for a single volume
// (§4.10): reads the container keybag (layer-1 decrypted), finds this
// volume's VEK_BLOB and RECS_BAG_EXTENT records, reads the recovery bag,
// finds the KEK_BLOB, and recovers the VEK from password.
//
// containerUUID and plane perform the §4.9 layer-1 decryption; keybagBlock
// /keybagCount/containerLatestXid come from the container superblock's
// keylocker and checkpoint id.
func LoadVolumeKey(
	read RawBlockReader,
	plane *decrypt.Plane,
	containerUUID [16]byte,
	keybagBlock, keybagCount uint64,
	containerLatestXid types.XidT,
	volUUID types.UUID,
	password string,
) (*VolumeKeyState, error) {
	raw, err := read(keybagBlock, keybagCount)
	if err != nil {
		return nil, fmt.Errorf("%w: reading container keybag: %v", apfserrors.ErrReadFailed, err)
	}
	// read returns whole blocks, so its length over the count is the
	// container block size used to turn block numbers into byte offsets.
	var blockSize uint64
	if keybagCount > 0 {
		blockSize = uint64(len(raw)) / keybagCount
	}
	if err := plane.DecryptContainerMeta(containerUUID, keybagBlock*blockSize, raw); err != nil {
		return nil, err
	}

	locker, err := ParseLocker(raw, containerLatestXid)
	if err != nil {
		return nil, err
	}

	vekEntry, ok := locker.Find(volUUID, types.KbTagVolumeKey)
	if !ok {
		return &VolumeKeyState{Locked: true}, nil
	}
	recsEntry, ok := locker.Find(volUUID, types.KbTagVolumeUnlockRecords)
	if !ok {
		return &VolumeKeyState{Locked: true}, nil
	}
	if len(recsEntry.Data) < 16 {
		return nil, fmt.Errorf("%w: RECS_BAG_EXTENT entry too small", apfserrors.ErrCorruptMetadata)
	}

	if password == "" {
		return &VolumeKeyState{Locked: true}, nil
	}

	bagBlock := endianU64(recsEntry.Data[0:8])
	bagCount := endianU64(recsEntry.Data[8:16])

	bagRaw, err := read(bagBlock, bagCount)
	if err != nil {
		return nil, fmt.Errorf("%w: reading volume recovery bag: %v", apfserrors.ErrReadFailed, err)
	}
	if err := plane.DecryptContainerMeta(containerUUID, bagBlock*blockSize, bagRaw); err != nil {
		return nil, err
	}

	bagLocker, err := ParseLocker(bagRaw, containerLatestXid)
	if err != nil {
		return nil, err
	}
	kekEntry, ok := bagLocker.Find(volUUID, types.KbTagReserved1)
	if !ok {
		// KEK_BLOB is carried with the recovery-bag's own private tag
		// space; fall back to scanning every entry in the bag for this
		// volume's UUID regardless of tag if the canonical tag isn't set.
		for _, e := range bagLocker.Entries {
			if e.UUID == volUUID {
				kekEntry = e
				ok = true
				break
			}
		}
	}
	if !ok {
		return &VolumeKeyState{Locked: true}, nil
	}

	vekBlob, err := ParseBlob(vekEntry.Data)
	if err != nil {
		return nil, err
	}
	kekBlob, err := ParseBlob(kekEntry.Data)
	if err != nil {
		return nil, err
	}

	vek, err := RecoverVEK(password, kekBlob, vekBlob, volUUID)
	if err != nil {
		if errors.Is(err, apfserrors.ErrBadParams) {
			return &VolumeKeyState{Locked: true}, nil
		}
		return nil, err
	}

	return &VolumeKeyState{VEK: vek, CanDecrypt: true}, nil
}

func endianU64(b []byte) uint64 {
	var v uint64
	for i := 0; i < 8; i++ {
		v |= uint64(b[i]) << (8 * i)
	}
	return v
}
