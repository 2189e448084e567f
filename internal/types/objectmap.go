package types

// OmapPhysT is the header of an object map: the root node's oid and the
// most recent transaction its contents reflect.
type OmapPhysT struct {
	OmO             ObjPhysT
	OmFlags         uint32
	OmSnapCount     uint32
	OmTreeType      uint32
	OmSnapshotTreeType uint32
	OmTreeOid       OidT
	OmSnapshotTreeOid OidT
	OmMostRecentSnap  XidT
	OmPendingRevertMin XidT
	OmPendingRevertMax XidT
}

const OmapPhysSize = 32 + 4*4 + 8*3 + 8*2

// OmapKeyT is the key of a location-tree record: (object_id asc,
// checkpoint_id asc).
type OmapKeyT struct {
	OkOid OidT
	OkXid XidT
}

// OmapValT is the value of a location-tree record: the physical block, its
// size, and flags (bit 2 = encrypted, bit 0 = checkpoint-id mismatch
// tolerated).
type OmapValT struct {
	OvFlags uint32
	OvSize  uint32
	OvPaddr Paddr
}

const (
	OmapValDeleted          uint32 = 0x00000001
	OmapValSaved            uint32 = 0x00000002
	OmapValEncrypted        uint32 = 0x00000004
	OmapValNoheader         uint32 = 0x00000008
	OmapValCryptoGeneration uint32 = 0x00000010
)
