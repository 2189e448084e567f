package types

// NxMagic is the container superblock's magic number, ASCII "NXSB".
const NxMagic uint32 = 'B'<<24 | 'S'<<16 | 'X'<<8 | 'N'

const (
	NxMaxFileSystems = 100
	NxEphInfoCount   = 4
	NxNumCounters    = 32
)

// NxSuperblockT is the container superblock (checkpoint SB), identifying
// the container: block size, the checkpoint-SB ring, the space manager,
// the object map root, and up to 100 volume object ids.
type NxSuperblockT struct {
	NxO      ObjPhysT
	NxMagic  uint32
	NxBlockSize uint32
	NxBlockCount uint64

	NxFeatures                   uint64
	NxReadonlyCompatibleFeatures uint64
	NxIncompatibleFeatures       uint64

	NxUuid UUID

	NxNextOid OidT
	NxNextXid XidT

	NxXpDescBlocks uint32
	NxXpDataBlocks uint32
	NxXpDescBase   Paddr
	NxXpDataBase   Paddr
	NxXpDescNext   uint32
	NxXpDataNext   uint32
	NxXpDescIndex  uint32
	NxXpDescLen    uint32
	NxXpDataIndex  uint32
	NxXpDataLen    uint32

	NxSpacemanOid OidT
	NxOmapOid     OidT
	NxReaperOid   OidT

	NxTestType       uint32
	NxMaxFileSystems uint32
	NxFsOid          [NxMaxFileSystems]OidT
	NxCounters       [NxNumCounters]uint64

	NxBlockedOutPrange    Prange
	NxEvictMappingTreeOid OidT
	NxFlags               uint64
	NxEfiJumpstart        Paddr
	NxFusionUuid          UUID
	NxKeylocker           Prange
	NxEphemeralInfo       [NxEphInfoCount]uint64

	NxTestOid OidT

	NxFusionMtOid   OidT
	NxFusionWbcOid  OidT
	NxFusionWbc     Prange

	NxNewestMountedVersion uint64

	NxMkbLocker Prange
}

// NxXpDescLenMask isolates the count field of NxXpDescBlocks/NxXpDataBlocks;
// the top bit is a flag meaning "base is an object id of a tree", per the
// Apple File System Reference.
const NxXpDescLenMask uint32 = 0x7fffffff
const NxXpDescFlagTree uint32 = 0x80000000

// Container feature flags (subset actually consulted by the read-only core).
const (
	NxFeatureDefrag          uint64 = 0x0000000000000001
	NxFeatureLcfd            uint64 = 0x0000000000000002
	NxSupportedFeaturesMask  uint64 = NxFeatureDefrag | NxFeatureLcfd
	NxIncompatVersion1       uint64 = 0x0000000000000001
	NxIncompatVersion2       uint64 = 0x0000000000000002
	NxIncompatFusion         uint64 = 0x0000000000000100
	NxSupportedIncompatMask  uint64 = NxIncompatVersion2 | NxIncompatFusion
)

// CheckpointMapPhysT is the superblock map: a header followed by Cpm entries.
type CheckpointMapPhysT struct {
	CpmO     ObjPhysT
	CpmFlags uint32
	CpmCount uint32
	CpmMap   []CheckpointMappingT
}

const CheckpointMapLast uint32 = 0x00000001

// CheckpointMappingT locates one container-meta object for a checkpoint.
type CheckpointMappingT struct {
	CpmType    uint32
	CpmSubtype uint32
	CpmSize    uint32
	CpmPad     uint32
	CpmFsOid   OidT
	CpmOid     OidT
	CpmPaddr   Paddr
}

const CheckpointMapEntrySize = 40
