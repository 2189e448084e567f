package fsapi

import (
	"fmt"

	"github.com/deploymenttheory/go-apfs/internal/apfserrors"
	"github.com/deploymenttheory/go-apfs/internal/btree"
	"github.com/deploymenttheory/go-apfs/internal/endian"
	"github.com/deploymenttheory/go-apfs/internal/namehash"
	"github.com/deploymenttheory/go-apfs/internal/types"
	"github.com/deploymenttheory/go-apfs/internal/volume"
)

// nameHashKeyCompare orders directory-entry records by (parent_id, type,
// name_hash) only, ignoring the raw name bytes entirely — even when both
// sides carry them. This is the same minimal-key trick btree.ModeAllTypes
// is built for, applied one level deeper than dirStartKey: it lets
// nameHashStartKey seed a cursor at the first record sharing a target
// hash, so every record whose name collides under that hash (case-folding
// collisions included) can be walked and checked with namehash.Equal.
func nameHashKeyCompare(a, b []byte) int {
	aID := endian.U64(a[0:8]) & types.ObjIdMask
	bID := endian.U64(b[0:8]) & types.ObjIdMask
	if aID != bID {
		if aID < bID {
			return -1
		}
		return 1
	}
	aType := (endian.U64(a[0:8]) & types.ObjTypeMask) >> types.ObjTypeShift
	bType := (endian.U64(b[0:8]) & types.ObjTypeMask) >> types.ObjTypeShift
	if aType != bType {
		if aType < bType {
			return -1
		}
		return 1
	}
	aHash := (endian.U32(a[8:12]) & types.JDrecHashMask) >> types.JDrecHashShift
	bHash := (endian.U32(b[8:12]) & types.JDrecHashMask) >> types.JDrecHashShift
	if aHash != bHash {
		if aHash < bHash {
			return -1
		}
		return 1
	}
	return 0
}

func nameHashStartKey(parentID uint64, hash uint32) []byte {
	b := make([]byte, 12)
	endian.PutU64(b[0:8], (parentID&types.ObjIdMask)|(uint64(types.ApfsTypeDirRec)<<types.ObjTypeShift))
	endian.PutU32(b[8:12], hash<<types.JDrecHashShift)
	return b
}

// Lookup resolves name within ir's directory to the child it names,
// without enumerating the whole directory: it hashes name (per §4.11,
// honoring the volume's case-insensitivity/normalization flags) to reach
// the matching B+-tree neighborhood directly, then resolves any hash
// collision by comparing each candidate's stored name with namehash.Equal.
func (ir *InodeRef) Lookup(name string) (*InodeRef, error) {
	if ir.synthetic == syntheticVolumesDir {
		return ir.lookupSynthetic(name)
	}
	if !ir.real.IsDir() {
		return nil, fmt.Errorf("%w: inode %d is not a directory", apfserrors.ErrBadParams, ir.localID)
	}

	caseInsensitive := ir.mv.vol.CaseInsensitive
	hash, err := namehash.Hash(name, caseInsensitive)
	if err != nil {
		return nil, err
	}

	fetch := ir.mount.volumeFetch(ir.mv)
	cur, err := btree.StartAtKey(ir.mv.vol.FilesRoot, nameHashStartKey(ir.localID, hash), nameHashKeyCompare, fetch, btree.ModeAllTypes)
	if err != nil {
		if err == apfserrors.ErrNotFound {
			return nil, apfserrors.ErrNotFound
		}
		return nil, err
	}

	key, val, err := cur.Current()
	for err == nil {
		k := types.JKeyT{ObjIdAndType: endian.U64(key[0:8])}
		if k.ObjId() != ir.localID || k.ObjType() != types.ApfsTypeDirRec {
			break
		}
		entryHash := (endian.U32(key[8:12]) & types.JDrecHashMask) >> types.JDrecHashShift
		if entryHash != hash {
			break
		}

		storedName := string(key[12 : len(key)-1])
		match, eqErr := namehash.Equal(name, storedName, caseInsensitive)
		if eqErr != nil {
			return nil, eqErr
		}
		if match {
			dv, decErr := decodeDirValue(val)
			if decErr != nil {
				return nil, decErr
			}
			return ir.mount.OpenInode(externalID(ir.mv.index, dv.FileId))
		}

		key, val, err = cur.Next()
	}

	return nil, fmt.Errorf("%w: %q not found in directory %d", apfserrors.ErrNotFound, name, ir.localID)
}

// lookupSynthetic resolves name against the Ufsd_Volumes directory's
// entries (§4.14): one case-sensitive exact match per mounted volume other
// than volume 0.
func (ir *InodeRef) lookupSynthetic(name string) (*InodeRef, error) {
	for _, mv := range ir.mount.volumes {
		if mv.index == 0 {
			continue
		}
		volName := ""
		if !mv.locked {
			volName = volume.Name(mv.vol.Superblock)
		}
		if volName == "" {
			volName = fmt.Sprintf("volume%d", mv.index)
		}
		if volName == name {
			return ir.mount.OpenInode(externalID(mv.index, types.RootDirInoNum))
		}
	}
	return nil, fmt.Errorf("%w: %q not found under %s", apfserrors.ErrNotFound, name, ufsdVolumesDirName)
}
