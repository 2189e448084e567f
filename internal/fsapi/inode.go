package fsapi

import (
	"fmt"

	"github.com/deploymenttheory/go-apfs/internal/apfserrors"
	"github.com/deploymenttheory/go-apfs/internal/btree"
	"github.com/deploymenttheory/go-apfs/internal/compression"
	"github.com/deploymenttheory/go-apfs/internal/decrypt"
	"github.com/deploymenttheory/go-apfs/internal/endian"
	"github.com/deploymenttheory/go-apfs/internal/extent"
	"github.com/deploymenttheory/go-apfs/internal/inode"
	"github.com/deploymenttheory/go-apfs/internal/types"
	"github.com/deploymenttheory/go-apfs/internal/xattr"
)

const (
	decmpfsXattrName      = "com.apple.decmpfs"
	resourceForkXattrName = "com.apple.ResourceFork"
	symlinkXattrName      = "com.apple.fs.symlink"
)

type syntheticKind int

const (
	syntheticNone syntheticKind = iota
	syntheticVolumesDir
)

// externalSyntheticVolumesDir is the well-known external id of the §4.14
// Ufsd_Volumes directory: a volume-index byte (0xff) that can never match
// a real mounted volume, since the container's file-system-object array
// holds at most types.NxMaxFileSystems (100) entries.
const externalSyntheticVolumesDir uint64 = 0xff00000000000000

// externalID packs a volume's position and a local (volume-relative)
// inode id into the external id the host-facing API deals in exclusively,
// per §4.14.
func externalID(volIndex int, localID uint64) uint64 {
	return uint64(volIndex)<<56 | (localID & 0x00ffffffffffffff)
}

// InodeRef is an open inode handle: either a real Files-tree inode backed
// by one mounted volume, or the synthetic Ufsd_Volumes directory injected
// when more than one volume is mounted (§4.14).
type InodeRef struct {
	mount     *Mount
	mv        *mountedVolume
	localID   uint64
	real      *inode.Inode
	synthetic syntheticKind
}

// ExternalID returns the id OpenInode would need to reopen this inode.
func (ir *InodeRef) ExternalID() uint64 {
	if ir.synthetic == syntheticVolumesDir {
		return externalSyntheticVolumesDir
	}
	return externalID(ir.mv.index, ir.localID)
}

// RootInode opens volume 0's root directory, the container's single mount
// root (§6.5).
func (m *Mount) RootInode() (*InodeRef, error) {
	return m.OpenInode(externalID(0, types.RootDirInoNum))
}

// headerOnlyCompare orders Files-tree records by (object_id, type) alone,
// ignoring any secondary key bytes. It's sufficient for Inode records,
// which carry no secondary key component and are unique per object id.
func headerOnlyCompare(a, b []byte) int {
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
	return 0
}

func encodeInodeKey(objID uint64) []byte {
	b := make([]byte, 8)
	endian.PutU64(b, (objID&types.ObjIdMask)|(uint64(types.ApfsTypeInode)<<types.ObjTypeShift))
	return b
}

// OpenInode resolves an external inode id (as returned by ExternalID,
// Readdir, or RootInode) to a handle. The synthetic Ufsd_Volumes
// directory and its per-volume mount-point aliases are recognized here
// without touching any real Files tree (§4.14).
func (m *Mount) OpenInode(id uint64) (*InodeRef, error) {
	if id == externalSyntheticVolumesDir {
		return &InodeRef{mount: m, synthetic: syntheticVolumesDir}, nil
	}

	volIndex := int(id >> 56)
	localID := id & 0x00ffffffffffffff

	mv, err := m.volumeByIndex(volIndex)
	if err != nil {
		return nil, err
	}
	if mv.locked {
		return nil, fmt.Errorf("%w: volume %d is locked", apfserrors.ErrReadFailed, volIndex)
	}

	fetch := m.volumeFetch(mv)
	val, err := btree.Lookup(mv.vol.FilesRoot, encodeInodeKey(localID), headerOnlyCompare, fetch)
	if err != nil {
		return nil, err
	}
	in, err := inode.Decode(localID, val)
	if err != nil {
		return nil, err
	}
	return &InodeRef{mount: m, mv: mv, localID: localID, real: in}, nil
}

// volumeFetch resolves a virtual object id through mv's own object map at
// its own transaction id, then reads the resulting physical block
// (decrypted, if mv is encrypted).
func (m *Mount) volumeFetch(mv *mountedVolume) btree.NodeFetcher {
	return func(oid types.OidT) ([]byte, error) {
		paddr, _, _, err := mv.vol.Omap.Resolve(oid, mv.volumeXid)
		if err != nil {
			return nil, err
		}
		return mv.physFetch(uint64(paddr))
	}
}

// Stat returns the inode's metadata (§6.5's stat).
func (ir *InodeRef) Stat() (FileInfo, error) {
	if ir.synthetic == syntheticVolumesDir {
		return FileInfo{
			InodeID: externalSyntheticVolumesDir,
			Mode:    types.SIfdir | 0555,
			NLink:   int32(len(ir.mount.volumes)) - 1,
			IsDir:   true,
		}, nil
	}
	f := ir.real.Fixed
	return FileInfo{
		InodeID:    ir.ExternalID(),
		Mode:       f.Mode,
		NLink:      f.NchildrenOrNlink,
		UID:        f.Owner,
		GID:        f.Group,
		Size:       ir.real.Size(),
		CreateTime: f.CreateTime,
		ModTime:    f.ModTime,
		ChangeTime: f.ChangeTime,
		AccessTime: f.AccessTime,
		IsDir:      ir.real.IsDir(),
		IsSymlink:  ir.real.IsSymlink(),
		Compressed: ir.real.IsCompressed(),
	}, nil
}

// Read copies up to len(buf) bytes starting at the file's logical offset
// into buf, returning the number of bytes actually copied (short at
// end-of-file). Compressed files (§4.12) are transparently decompressed;
// everything else is resolved through the volume's extents (§4.7) with
// per-file decryption (§4.9 layer 3) applied as needed.
func (ir *InodeRef) Read(offset uint64, buf []byte) (int, error) {
	if ir.synthetic != syntheticNone {
		return 0, fmt.Errorf("%w: synthetic directory is not a regular file", apfserrors.ErrBadParams)
	}
	if ir.real.IsDir() {
		return 0, fmt.Errorf("%w: inode %d is a directory", apfserrors.ErrBadParams, ir.localID)
	}
	if ir.real.IsCompressed() {
		return ir.readCompressed(offset, buf)
	}
	return ir.readExtents(offset, buf)
}

func (ir *InodeRef) readExtents(offset uint64, buf []byte) (int, error) {
	fetch := ir.mount.volumeFetch(ir.mv)
	resolver := extent.NewResolver(ir.mv.vol.FilesRoot, fetch)

	blockSize := uint64(ir.mount.blockSize)
	size := ir.real.Size()
	total := 0

	for total < len(buf) {
		pos := offset + uint64(total)
		if pos >= size {
			break
		}
		ext, err := resolver.GetExtent(ir.localID, pos)
		if err != nil {
			return total, err
		}

		inExtentOff := pos - ext.LogicalAddr
		want := uint64(len(buf) - total)
		if avail := ext.Length - inExtentOff; want > avail {
			want = avail
		}
		if size-pos < want {
			want = size - pos
		}

		if ext.IsHole() {
			for i := uint64(0); i < want; i++ {
				buf[total+int(i)] = 0
			}
			total += int(want)
			continue
		}

		blockIdx := inExtentOff / blockSize
		offInBlock := inExtentOff % blockSize
		if want > blockSize-offInBlock {
			want = blockSize - offInBlock
		}
		physBlock := ext.PhysBlockNum + blockIdx

		n, err := ir.mount.readFileBlock(ir.mv, ext.CryptoID, physBlock, int(offInBlock), buf[total:total+int(want)])
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

// readFileBlock reads len(buf) file-data bytes starting offInBlock bytes
// into physBlock, decrypting in place with the volume's VEK (layer 3, per
// §4.9) when the volume is encrypted. File data carries no per-block
// checksum, so this bypasses the metadata block cache entirely and reads
// the device directly.
func (m *Mount) readFileBlock(mv *mountedVolume, cryptoID uint64, physBlock uint64, offInBlock int, buf []byte) (int, error) {
	raw, err := m.dev.ReadBytes(physBlock*uint64(m.blockSize)+uint64(offInBlock), len(buf))
	if err != nil {
		return 0, err
	}
	if len(mv.vek) > 0 {
		logBlockSectors := log2PowerOfTwo(m.blockSize / decrypt.SectorSize)
		if err := m.plane.DecryptFileRange(mv.vek, cryptoID, logBlockSectors, physBlock, offInBlock, raw); err != nil {
			return 0, err
		}
	}
	copy(buf, raw)
	return len(raw), nil
}

func (ir *InodeRef) readCompressed(offset uint64, buf []byte) (int, error) {
	fetch := ir.mount.volumeFetch(ir.mv)

	decAttr, err := xattr.Get(ir.mv.vol.FilesRoot, fetch, ir.localID, decmpfsXattrName)
	if err != nil {
		return 0, err
	}
	if !decAttr.Embedded {
		return 0, fmt.Errorf("%w: non-embedded decmpfs attribute", apfserrors.ErrNotImplemented)
	}
	hdr, err := compression.ParseHeader(decAttr.Value)
	if err != nil {
		return 0, err
	}
	payload := decAttr.Value[16:]

	switch hdr.Type {
	case compression.TypeResourceForkZlib, compression.TypeResourceForkLZVN:
		rfAttr, err := xattr.Get(ir.mv.vol.FilesRoot, fetch, ir.localID, resourceForkXattrName)
		if err != nil {
			return 0, err
		}
		if !rfAttr.Embedded {
			return 0, fmt.Errorf("%w: non-embedded resource fork attribute", apfserrors.ErrNotImplemented)
		}
		r, err := compression.NewResourceForkReader(hdr, rfAttr.Value)
		if err != nil {
			return 0, err
		}
		return r.ReadAt(offset, buf)

	default:
		full, err := compression.DecodeInline(hdr, payload)
		if err != nil {
			return 0, err
		}
		if offset >= uint64(len(full)) {
			return 0, nil
		}
		return copy(buf, full[offset:]), nil
	}
}

// Readlink copies a symbolic link's target into buf (§4.13's
// `com.apple.fs.symlink` convention).
func (ir *InodeRef) Readlink(buf []byte) (int, error) {
	if ir.synthetic != syntheticNone || !ir.real.IsSymlink() {
		return 0, fmt.Errorf("%w: not a symbolic link", apfserrors.ErrBadParams)
	}
	fetch := ir.mount.volumeFetch(ir.mv)
	a, err := xattr.Get(ir.mv.vol.FilesRoot, fetch, ir.localID, symlinkXattrName)
	if err != nil {
		return 0, err
	}
	if !a.Embedded {
		return 0, fmt.Errorf("%w: non-embedded symlink target", apfserrors.ErrNotImplemented)
	}
	if len(a.Value) > len(buf) {
		return 0, apfserrors.ErrInsufficientBuffer
	}
	return copy(buf, a.Value), nil
}

// ListEA writes the NUL-separated concatenation of every extended
// attribute's name into buf, excluding the resource-fork and symlink
// attributes that back other operations (§4.13).
func (ir *InodeRef) ListEA(buf []byte) (int, error) {
	if ir.synthetic != syntheticNone {
		return 0, nil
	}
	fetch := ir.mount.volumeFetch(ir.mv)
	attrs, err := xattr.List(ir.mv.vol.FilesRoot, fetch, ir.localID)
	if err != nil {
		return 0, err
	}
	var out []byte
	for _, a := range attrs {
		if a.Name == resourceForkXattrName || a.Name == symlinkXattrName {
			continue
		}
		out = append(out, []byte(a.Name)...)
		out = append(out, 0)
	}
	if len(out) > len(buf) {
		return 0, apfserrors.ErrInsufficientBuffer
	}
	return copy(buf, out), nil
}

// GetEA copies one named extended attribute's value into buf.
func (ir *InodeRef) GetEA(name string, buf []byte) (int, error) {
	if ir.synthetic != syntheticNone {
		return 0, apfserrors.ErrNotFound
	}
	fetch := ir.mount.volumeFetch(ir.mv)
	a, err := xattr.Get(ir.mv.vol.FilesRoot, fetch, ir.localID, name)
	if err != nil {
		return 0, err
	}
	if !a.Embedded {
		return 0, fmt.Errorf("%w: non-embedded attribute value", apfserrors.ErrNotImplemented)
	}
	if len(a.Value) > len(buf) {
		return 0, apfserrors.ErrInsufficientBuffer
	}
	return copy(buf, a.Value), nil
}
