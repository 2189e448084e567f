package types

// ApfsMagic is the volume superblock's magic number, ASCII "APSB".
const ApfsMagic uint32 = 'B'<<24 | 'S'<<16 | 'P'<<8 | 'A'

const ApfsModifiedNamelen = 32

type ApfsModifiedByT struct {
	Id        [ApfsModifiedNamelen]byte
	Timestamp uint64
	LastXid   XidT
}

const ApfsMaxHist = 8

// ApfsSuperblockT is a per-volume superblock: identity, feature flags,
// the volume's object map, root-tree oid, extent-ref tree oid, and
// encryption metadata (keybag location, crypto-root tree oid).
type ApfsSuperblockT struct {
	ApfsO ObjPhysT

	ApfsMagic               uint32
	ApfsFsIndex              uint32
	ApfsFeatures             uint64
	ApfsReadonlyCompatibleFeatures uint64
	ApfsIncompatibleFeatures uint64
	ApfsUnmountTime          uint64

	ApfsFsReserveBlockCount uint64
	ApfsFsQuoteBlockCount   uint64
	ApfsFsAllocCount        uint64

	ApfsMetaCrypto ApfsWrappedMetaCryptoStateT

	ApfsRootTreeType   uint32
	ApfsExtentrefTreeType uint32
	ApfsSnapMetaTreeType uint32

	ApfsOmapOid        OidT
	ApfsRootTreeOid    OidT
	ApfsExtentrefTreeOid OidT
	ApfsSnapMetaTreeOid OidT

	ApfsRevertToXid OidT
	ApfsRevertToSblockOid OidT

	ApfsNextObjId uint64

	ApfsNumFiles uint64
	ApfsNumDirectories uint64
	ApfsNumSymlinks uint64
	ApfsNumOtherFsobjects uint64
	ApfsNumSnapshots uint64

	ApfsTotalBlocksAlloced uint64
	ApfsTotalBlocksFreed   uint64

	ApfsVolUuid UUID
	ApfsLastModTime uint64
	ApfsFsFlags uint64

	ApfsFormattedBy ApfsModifiedByT
	ApfsModifiedBy  [ApfsMaxHist]ApfsModifiedByT

	ApfsVolname [256]byte
	ApfsNextDocId uint32

	ApfsRole uint16
	Reserved uint16

	ApfsRootToXid XidT
	ApfsEraseXid  XidT

	ApfsSnapMetaExtOid OidT
	ApfsVolumeGroupId  UUID

	ApfsIntegrityMetaOid OidT
	ApfsFextTreeOid      OidT
	ApfsFextTreeType     uint32
	ReservedType         uint32
	ReservedOid          OidT
}

// ApfsWrappedMetaCryptoStateT describes the per-volume metadata encryption
// state: protection class, key os version/revision, and flags.
type ApfsWrappedMetaCryptoStateT struct {
	MajorVersion     uint16
	MinorVersion     uint16
	Cpflags          uint32
	PersistentClass  uint32
	KeyOsVersion     uint32
	KeyRevision      uint16
	Unused           uint16
}

// Volume feature flags (subset used by the read-only core).
const (
	ApfsFsUnencrypted          uint64 = 0x00000001
	ApfsFsEffaceUnencrypted    uint64 = 0x00000002
	ApfsFsReserved4            uint64 = 0x00000004
	ApfsFsReserved8            uint64 = 0x00000008
	ApfsFsOnekey               uint64 = 0x00000010
	ApfsFsSpilledover          uint64 = 0x00000020
	ApfsFsRunSpiloverCleaner   uint64 = 0x00000040
	ApfsFsAlwaysCheckExtentref uint64 = 0x00000080
)

const (
	ApfsIncompatCaseInsensitive         uint64 = 0x00000001
	ApfsIncompatDatalessSnaps           uint64 = 0x00000002
	ApfsIncompatEncRolled               uint64 = 0x00000004
	ApfsIncompatNormalizationInsensitive uint64 = 0x00000008
	ApfsIncompatIncompleteRestore        uint64 = 0x00000010
	ApfsIncompatSealedVolume             uint64 = 0x00000020
)

// Role bits (apfs_volume_role_t).
const (
	ApfsVolRoleNone     uint16 = 0x0000
	ApfsVolRoleSystem   uint16 = 0x0001
	ApfsVolRoleUser     uint16 = 0x0002
	ApfsVolRoleRecovery uint16 = 0x0004
	ApfsVolRoleVm       uint16 = 0x0008
	ApfsVolRolePreboot  uint16 = 0x0010
	ApfsVolRoleInstaller uint16 = 0x0020
	ApfsVolRoleData     uint16 = 0x0040
)
