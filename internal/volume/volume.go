// Package volume loads a per-volume superblock and wires up the trees it
// roots: its own object map, file-system (files) tree, and extent-ref tree.
package volume

import (
	"fmt"

	"github.com/deploymenttheory/go-apfs/internal/apfserrors"
	"github.com/deploymenttheory/go-apfs/internal/btree"
	"github.com/deploymenttheory/go-apfs/internal/checksum"
	"github.com/deploymenttheory/go-apfs/internal/endian"
	"github.com/deploymenttheory/go-apfs/internal/objectmap"
	"github.com/deploymenttheory/go-apfs/internal/types"
)

// Volume is a mounted volume's parsed superblock plus its wired trees.
type Volume struct {
	Superblock *types.ApfsSuperblockT
	Omap       *objectmap.Resolver
	FilesRoot  *btree.Node
	ExtentRoot *btree.Node

	// CaseInsensitive mirrors ApfsIncompatCaseInsensitive for name hashing.
	CaseInsensitive    bool
	NormalizationInsensitive bool

	Locked bool // true when the volume is encrypted and no VEK was recovered
}

const minSuperblockSize = 1008 // up through ApfsVolname and the trailing fields

// ParseSuperblock decodes a raw per-volume superblock block, verifying its
// Fletcher64 checksum before decoding any field.
func ParseSuperblock(raw []byte) (*types.ApfsSuperblockT, error) {
	if len(raw) < minSuperblockSize {
		return nil, fmt.Errorf("%w: volume superblock block too small (%d bytes)", apfserrors.ErrCorruptMetadata, len(raw))
	}
	if !checksum.Verify(raw) {
		return nil, fmt.Errorf("%w: volume superblock checksum mismatch", apfserrors.ErrCorruptMetadata)
	}

	sb := &types.ApfsSuperblockT{}
	copy(sb.ApfsO.OChecksum[:], raw[0:8])
	sb.ApfsO.OOid = types.OidT(endian.U64(raw[8:16]))
	sb.ApfsO.OXid = types.XidT(endian.U64(raw[16:24]))
	sb.ApfsO.OType = endian.U32(raw[24:28])
	sb.ApfsO.OSubtype = endian.U32(raw[28:32])

	sb.ApfsMagic = endian.U32(raw[32:36])
	sb.ApfsFsIndex = endian.U32(raw[36:40])
	sb.ApfsFeatures = endian.U64(raw[40:48])
	sb.ApfsReadonlyCompatibleFeatures = endian.U64(raw[48:56])
	sb.ApfsIncompatibleFeatures = endian.U64(raw[56:64])
	sb.ApfsUnmountTime = endian.U64(raw[64:72])

	sb.ApfsFsReserveBlockCount = endian.U64(raw[72:80])
	sb.ApfsFsQuoteBlockCount = endian.U64(raw[80:88])
	sb.ApfsFsAllocCount = endian.U64(raw[88:96])

	sb.ApfsMetaCrypto.MajorVersion = endian.U16(raw[96:98])
	sb.ApfsMetaCrypto.MinorVersion = endian.U16(raw[98:100])
	sb.ApfsMetaCrypto.Cpflags = endian.U32(raw[100:104])
	sb.ApfsMetaCrypto.PersistentClass = endian.U32(raw[104:108])
	sb.ApfsMetaCrypto.KeyOsVersion = endian.U32(raw[108:112])
	sb.ApfsMetaCrypto.KeyRevision = endian.U16(raw[112:114])
	sb.ApfsMetaCrypto.Unused = endian.U16(raw[114:116])

	sb.ApfsRootTreeType = endian.U32(raw[116:120])
	sb.ApfsExtentrefTreeType = endian.U32(raw[120:124])
	sb.ApfsSnapMetaTreeType = endian.U32(raw[124:128])

	sb.ApfsOmapOid = types.OidT(endian.U64(raw[128:136]))
	sb.ApfsRootTreeOid = types.OidT(endian.U64(raw[136:144]))
	sb.ApfsExtentrefTreeOid = types.OidT(endian.U64(raw[144:152]))
	sb.ApfsSnapMetaTreeOid = types.OidT(endian.U64(raw[152:160]))

	sb.ApfsRevertToXid = types.OidT(endian.U64(raw[160:168]))
	sb.ApfsRevertToSblockOid = types.OidT(endian.U64(raw[168:176]))

	sb.ApfsNextObjId = endian.U64(raw[176:184])

	sb.ApfsNumFiles = endian.U64(raw[184:192])
	sb.ApfsNumDirectories = endian.U64(raw[192:200])
	sb.ApfsNumSymlinks = endian.U64(raw[200:208])
	sb.ApfsNumOtherFsobjects = endian.U64(raw[208:216])
	sb.ApfsNumSnapshots = endian.U64(raw[216:224])

	sb.ApfsTotalBlocksAlloced = endian.U64(raw[224:232])
	sb.ApfsTotalBlocksFreed = endian.U64(raw[232:240])

	copy(sb.ApfsVolUuid[:], raw[240:256])
	sb.ApfsLastModTime = endian.U64(raw[256:264])
	sb.ApfsFsFlags = endian.U64(raw[264:272])

	off := 272
	off += parseModifiedBy(raw[off:], &sb.ApfsFormattedBy)
	for i := 0; i < types.ApfsMaxHist; i++ {
		off += parseModifiedBy(raw[off:], &sb.ApfsModifiedBy[i])
	}

	copy(sb.ApfsVolname[:], raw[off:off+256])
	off += 256
	sb.ApfsNextDocId = endian.U32(raw[off : off+4])
	off += 4

	sb.ApfsRole = endian.U16(raw[off : off+2])
	off += 2
	sb.Reserved = endian.U16(raw[off : off+2])
	off += 2

	sb.ApfsRootToXid = types.XidT(endian.U64(raw[off : off+8]))
	off += 8
	sb.ApfsEraseXid = types.XidT(endian.U64(raw[off : off+8]))
	off += 8

	sb.ApfsSnapMetaExtOid = types.OidT(endian.U64(raw[off : off+8]))
	off += 8
	copy(sb.ApfsVolumeGroupId[:], raw[off:off+16])
	off += 16

	if off+8 <= len(raw) {
		sb.ApfsIntegrityMetaOid = types.OidT(endian.U64(raw[off : off+8]))
		off += 8
	}
	if off+4 <= len(raw) {
		sb.ApfsFextTreeOid = types.OidT(endian.U64(raw[off : off+8]))
	}

	return sb, nil
}

func parseModifiedBy(b []byte, m *types.ApfsModifiedByT) int {
	copy(m.Id[:], b[0:types.ApfsModifiedNamelen])
	m.Timestamp = endian.U64(b[types.ApfsModifiedNamelen : types.ApfsModifiedNamelen+8])
	m.LastXid = types.XidT(endian.U64(b[types.ApfsModifiedNamelen+8 : types.ApfsModifiedNamelen+16]))
	return types.ApfsModifiedNamelen + 16
}

// Validate applies §4.6's top-level invariants on the decoded superblock.
func Validate(sb *types.ApfsSuperblockT) error {
	if sb.ApfsMagic != types.ApfsMagic {
		return fmt.Errorf("%w: bad volume magic 0x%08x", apfserrors.ErrFsUnknown, sb.ApfsMagic)
	}
	if sb.ApfsIncompatibleFeatures&^supportedIncompat != 0 {
		return fmt.Errorf("%w: volume requires unsupported incompatible features 0x%x", apfserrors.ErrFsUnknown, sb.ApfsIncompatibleFeatures&^supportedIncompat)
	}
	return nil
}

const supportedIncompat = types.ApfsIncompatCaseInsensitive |
	types.ApfsIncompatDatalessSnaps |
	types.ApfsIncompatEncRolled |
	types.ApfsIncompatNormalizationInsensitive |
	types.ApfsIncompatIncompleteRestore |
	types.ApfsIncompatSealedVolume

// Load parses sb, loads its object map, and wires the files and
// extent-ref tree roots. fetchPhysical reads a raw physical block
// (decrypted already, if the volume is encrypted) by block number;
// volumeXid is the checkpoint transaction id the mount is pinned to, used
// when resolving objects through the volume's own object map.
func Load(raw []byte, fetchPhysical func(block uint64) ([]byte, error), volumeXid types.XidT) (*Volume, error) {
	sb, err := ParseSuperblock(raw)
	if err != nil {
		return nil, err
	}
	if err := Validate(sb); err != nil {
		return nil, err
	}

	physFetch := func(oid types.OidT) ([]byte, error) { return fetchPhysical(uint64(oid)) }

	omapRaw, err := fetchPhysical(uint64(sb.ApfsOmapOid))
	if err != nil {
		return nil, fmt.Errorf("%w: reading volume object map: %v", apfserrors.ErrReadFailed, err)
	}
	omap, err := objectmap.Load(omapRaw, physFetch)
	if err != nil {
		return nil, err
	}

	virtFetch := func(oid types.OidT) ([]byte, error) {
		paddr, _, _, err := omap.Resolve(oid, volumeXid)
		if err != nil {
			return nil, err
		}
		return fetchPhysical(uint64(paddr))
	}

	filesRaw, err := virtFetch(sb.ApfsRootTreeOid)
	if err != nil {
		return nil, fmt.Errorf("%w: reading files tree root: %v", apfserrors.ErrReadFailed, err)
	}
	filesRoot, err := btree.ParseNode(filesRaw)
	if err != nil {
		return nil, err
	}

	extRaw, err := virtFetch(sb.ApfsExtentrefTreeOid)
	if err != nil {
		return nil, fmt.Errorf("%w: reading extent-ref tree root: %v", apfserrors.ErrReadFailed, err)
	}
	extRoot, err := btree.ParseNode(extRaw)
	if err != nil {
		return nil, err
	}

	return &Volume{
		Superblock:               sb,
		Omap:                     omap,
		FilesRoot:                filesRoot,
		ExtentRoot:               extRoot,
		CaseInsensitive:          sb.ApfsIncompatibleFeatures&types.ApfsIncompatCaseInsensitive != 0,
		NormalizationInsensitive: sb.ApfsIncompatibleFeatures&types.ApfsIncompatNormalizationInsensitive != 0,
	}, nil
}

// Name returns the volume's NUL-terminated name field decoded as a string.
func Name(sb *types.ApfsSuperblockT) string {
	n := 0
	for n < len(sb.ApfsVolname) && sb.ApfsVolname[n] != 0 {
		n++
	}
	return string(sb.ApfsVolname[:n])
}
