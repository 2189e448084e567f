package fsapi

import (
	"fmt"

	"github.com/deploymenttheory/go-apfs/internal/apfserrors"
	"github.com/deploymenttheory/go-apfs/internal/btree"
	"github.com/deploymenttheory/go-apfs/internal/endian"
	"github.com/deploymenttheory/go-apfs/internal/types"
	"github.com/deploymenttheory/go-apfs/internal/volume"
)

// ufsdVolumesDirName is the synthetic directory injected into volume 0's
// root when more than one volume is mounted (§4.14).
const ufsdVolumesDirName = "Ufsd_Volumes"

// dirKeyCompare orders directory-entry records by (parent_id, type), then
// by the 22-bit name hash, then by the raw name bytes, matching the
// on-disk key ordering for j_drec_hashed_key_t (§3.9). A target with no
// bytes past the 12-byte fixed header compares equal to any record
// sharing its (parent_id, type) prefix, regardless of name: this is what
// lets dirStartKey seed a cursor at the first entry of a directory
// without knowing any child's name in advance.
func dirKeyCompare(a, b []byte) int {
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
	if len(a) > 12 && len(b) > 12 {
		aHash := (endian.U32(a[8:12]) & types.JDrecHashMask) >> types.JDrecHashShift
		bHash := (endian.U32(b[8:12]) & types.JDrecHashMask) >> types.JDrecHashShift
		if aHash != bHash {
			if aHash < bHash {
				return -1
			}
			return 1
		}
		aName := a[12:]
		bName := b[12:]
		n := len(aName)
		if len(bName) < n {
			n = len(bName)
		}
		for i := 0; i < n; i++ {
			if aName[i] != bName[i] {
				if aName[i] < bName[i] {
					return -1
				}
				return 1
			}
		}
		if len(aName) != len(bName) {
			if len(aName) < len(bName) {
				return -1
			}
			return 1
		}
	}
	return 0
}

// dirStartKey builds the minimal (parent_id, DirRec) key used to seed a
// directory-enumeration cursor at its first entry, per btree.ModeAllTypes.
func dirStartKey(parentID uint64) []byte {
	b := make([]byte, 12)
	endian.PutU64(b[0:8], (parentID&types.ObjIdMask)|(uint64(types.ApfsTypeDirRec)<<types.ObjTypeShift))
	return b
}

func decodeDirValue(val []byte) (types.JDrecValT, error) {
	if len(val) < 18 {
		return types.JDrecValT{}, fmt.Errorf("%w: directory-entry value too small", apfserrors.ErrCorruptMetadata)
	}
	return types.JDrecValT{
		FileId:    endian.U64(val[0:8]),
		DateAdded: endian.U64(val[8:16]),
		Flags:     endian.U16(val[16:18]),
	}, nil
}

// DirCursor holds the state needed to resume a Readdir enumeration across
// calls: the underlying tree cursor (nil until first seeded), whether the
// real Files-tree portion of the directory is exhausted, and progress
// through the synthetic Ufsd_Volumes entries appended after it.
type DirCursor struct {
	started         bool
	realDone        bool
	bt              *btree.Cursor
	parentID        uint64
	syntheticEmitted bool
	volIdx          int
}

// Readdir returns the next entry in ir's directory, or ok=false once the
// directory (including any synthetic Ufsd_Volumes tail, per §4.14) is
// exhausted.
func (ir *InodeRef) Readdir(dc *DirCursor) (DirEntry, bool, error) {
	if ir.synthetic == syntheticVolumesDir {
		return ir.readdirSynthetic(dc)
	}
	if !ir.real.IsDir() {
		return DirEntry{}, false, fmt.Errorf("%w: inode %d is not a directory", apfserrors.ErrBadParams, ir.localID)
	}

	if !dc.started {
		dc.started = true
		dc.parentID = ir.localID
		fetch := ir.mount.volumeFetch(ir.mv)
		cur, err := btree.StartAtKey(ir.mv.vol.FilesRoot, dirStartKey(ir.localID), dirKeyCompare, fetch, btree.ModeAllTypes)
		if err != nil {
			if err == apfserrors.ErrNotFound {
				dc.realDone = true
			} else {
				return DirEntry{}, false, err
			}
		} else {
			dc.bt = cur
		}
	}

	for !dc.realDone {
		key, val, err := dc.bt.Current()
		if err != nil {
			dc.realDone = true
			break
		}
		k := types.JKeyT{ObjIdAndType: endian.U64(key[0:8])}
		if k.ObjId() != dc.parentID || k.ObjType() != types.ApfsTypeDirRec {
			dc.realDone = true
			break
		}

		dv, err := decodeDirValue(val)
		if err != nil {
			return DirEntry{}, false, err
		}
		name := string(key[12 : len(key)-1])
		entry := DirEntry{
			Name:    name,
			InodeID: externalID(ir.mv.index, dv.FileId),
			DirType: uint8(dv.Flags & types.DrecTypeMask),
		}

		if _, _, nerr := dc.bt.Next(); nerr != nil {
			dc.realDone = true
		}
		return entry, true, nil
	}

	return ir.appendSyntheticTail(dc)
}

func (ir *InodeRef) appendSyntheticTail(dc *DirCursor) (DirEntry, bool, error) {
	opts := ir.mount.opts
	if opts.MountAllVolumes && ir.mv.index == 0 && ir.localID == types.RootDirInoNum &&
		len(ir.mount.volumes) > 1 && !dc.syntheticEmitted {
		dc.syntheticEmitted = true
		return DirEntry{Name: ufsdVolumesDirName, InodeID: externalSyntheticVolumesDir, DirType: types.DtDir}, true, nil
	}
	return DirEntry{}, false, nil
}

// readdirSynthetic walks the set of mounted volumes other than volume 0
// (already the real root's own contents), one synthetic mount-point entry
// per volume.
func (ir *InodeRef) readdirSynthetic(dc *DirCursor) (DirEntry, bool, error) {
	if !dc.started {
		dc.started = true
		dc.volIdx = 1
	}
	for dc.volIdx < len(ir.mount.volumes) {
		mv := ir.mount.volumes[dc.volIdx]
		idx := dc.volIdx
		dc.volIdx++

		name := ""
		if !mv.locked {
			name = volume.Name(mv.vol.Superblock)
		}
		if name == "" {
			name = fmt.Sprintf("volume%d", mv.index)
		}
		return DirEntry{Name: name, InodeID: externalID(idx, types.RootDirInoNum), DirType: types.DtDir}, true, nil
	}
	return DirEntry{}, false, nil
}

// Position returns an opaque resume token for dc's current place in the
// real (Files-tree) portion of the enumeration, or ok=false if there's
// nothing resumable (not yet started, or past the real entries).
func (dc *DirCursor) Position() (token uint64, ok bool) {
	if dc.bt == nil || dc.realDone {
		return 0, false
	}
	return dc.bt.Position(), true
}

// RestoreAt re-seeds dc at a token previously returned by Position. If the
// underlying leaf can no longer be resolved to the same node (§4.13 — this
// never happens against a read-only, unmounted-for-write tree, but the
// fallback exists for a token taken from a stale mount), the enumeration
// restarts from the beginning of parentID's directory.
func (ir *InodeRef) RestoreAt(dc *DirCursor, parentID uint64, token uint64) error {
	fetch := ir.mount.volumeFetch(ir.mv)
	cur, ok, err := btree.RestoreAtKey(ir.mv.vol.FilesRoot, token, dirKeyCompare, fetch)
	if err != nil {
		return err
	}
	*dc = DirCursor{started: true, parentID: parentID}
	if ok {
		dc.bt = cur
		return nil
	}

	restarted, err := btree.StartAtKey(ir.mv.vol.FilesRoot, dirStartKey(parentID), dirKeyCompare, fetch, btree.ModeAllTypes)
	if err != nil {
		if err == apfserrors.ErrNotFound {
			dc.realDone = true
			return nil
		}
		return err
	}
	dc.bt = restarted
	return nil
}
