package types

// BtreeNodePhysT is a single B+-tree node (one block): header, optional
// table-of-contents/key/value area, and (root nodes only) a trailing
// btree_info_t footer.
type BtreeNodePhysT struct {
	BtnO           ObjPhysT
	BtnFlags       uint16
	BtnLevel       uint16
	BtnNkeys       uint32
	BtnTableSpace  NlocT
	BtnFreeSpace   NlocT
	BtnKeyFreeList NlocT
	BtnValFreeList NlocT
	// BtnData is everything after the 56-byte fixed header: table of
	// contents, key area, free space, and value area, in that order.
	BtnData []byte
}

// NlocT is a location within a B-tree node.
type NlocT struct {
	Off uint16
	Len uint16
}

const BtoffInvalid uint16 = 0xffff

// KvlocT is the location, within a node, of a variable-size key and value.
type KvlocT struct {
	K NlocT
	V NlocT
}

// KvoffT is the location, within a node, of a fixed-size key and value.
type KvoffT struct {
	K uint16
	V uint16
}

// B-tree node flags.
const (
	BtnodeRoot        uint16 = 0x0001
	BtnodeLeaf        uint16 = 0x0002
	BtnodeFixedKVSize uint16 = 0x0004
	BtnodeHashed      uint16 = 0x0008
	BtnodeNoheader    uint16 = 0x0010
	BtnodeCheckKoffInval uint16 = 0x8000
)

// BtreeInfoFixedT is the static, content-type-wide part of a tree's footer.
type BtreeInfoFixedT struct {
	BtFlags    uint32
	BtNodeSize uint32
	BtKeySize  uint32
	BtValSize  uint32
}

// BtreeInfoT is the footer appended to a root node's data area.
type BtreeInfoT struct {
	BtFixed      BtreeInfoFixedT
	BtLongestKey uint32
	BtLongestVal uint32
	BtKeyCount   uint64
	BtNodeCount  uint64
}

const BtreeInfoSize = 16 + 8 + 8 + 8 // BtreeInfoFixedT(16) + longestKey/Val(8) + keyCount + nodeCount

// B-tree flags (btree_flags_t), stored in BtreeInfoFixedT.BtFlags.
const (
	BtreeUint64Keys       uint32 = 0x00000001
	BtreeSequentialInsert uint32 = 0x00000002
	BtreeAllowGhosts      uint32 = 0x00000004
	BtreeEphemeral        uint32 = 0x00000008
	BtreePhysical         uint32 = 0x00000010
	BtreeNonpersistent    uint32 = 0x00000020
	BtreeKVNonaligned     uint32 = 0x00000040
	BtreeHashed           uint32 = 0x00000080
	BtreeNoheader         uint32 = 0x00000100
)

// ContentType identifies the semantic key/value shape of a B+-tree,
// carried in ObjPhysT.OSubtype for the tree's root object.
type ContentType uint32

const (
	ContentTypeInvalid      ContentType = 0x00
	ContentTypeHistory      ContentType = 0x01
	ContentTypeFiles        ContentType = 0x0e // matches ObjectTypeFstree
	ContentTypeExtents      ContentType = 0x0f // matches ObjectTypeBlockreftree
	ContentTypeLocation     ContentType = 0x0b // matches ObjectTypeOmap
	ContentTypeSnapshots    ContentType = 0x10
	ContentTypeSnapshotsMap ContentType = 0x13
	ContentTypeEncryption   ContentType = 0xf0 // keybag trees: implementation-private
)
