package types

// XFieldT is the 4-byte header preceding the array of extended-field
// descriptors that trails a packed inode or directory-entry record.
type XFieldT struct {
	XfNumExts  uint16
	XfUsedData uint16
}

// XFBlobT pairs the header with its descriptor array and data blob, as
// read directly off disk.
type XFBlobT struct {
	Blob    XFieldT
	Exts    []XFieldEntryT
	XfData  []byte
}

// XFieldEntryT is one (type, size) descriptor; payloads are 8-byte aligned
// in the trailing data area.
type XFieldEntryT struct {
	XType  uint8
	XFlags uint8
	XSize  uint16
}

// Inode extended-field types (j_inode_xfield_type, a subset).
const (
	InoExtTypeSnapXid        uint8 = 1
	InoExtTypeDeltaTreeOid   uint8 = 2
	InoExtTypeDocumentId     uint8 = 3
	InoExtTypeName           uint8 = 4
	InoExtTypePrevFsize      uint8 = 5
	InoExtTypeFinderInfo     uint8 = 6
	InoExtTypeDstream        uint8 = 8
	InoExtTypeReserved9      uint8 = 9
	InoExtTypeDirStatsKey    uint8 = 10
	InoExtTypeFsUuid         uint8 = 11
	InoExtTypeReserved12     uint8 = 12
	InoExtTypeSparseBytes    uint8 = 13
	InoExtTypeRdev           uint8 = 14
	InoExtTypePurgeableFlags uint8 = 15
	InoExtTypeOrigSyncRootId uint8 = 16
)

// Directory-entry extended-field types (j_drec_ext_type).
const (
	DrecExtTypeSiblingId uint8 = 1
)

// Extended-field flags.
const (
	XfDataDependent uint8 = 0x01
	XfDoNotCopy     uint8 = 0x02
	XfReserved4     uint8 = 0x04
	XfChildrenInherit uint8 = 0x08
	XfUserField     uint8 = 0x10
	XfSystemField   uint8 = 0x20
	XfReserved40    uint8 = 0x40
	XfReserved80    uint8 = 0x80
)

// JDstreamT / JDstreamIdValT back the "data-size" extended field (§3.6):
// bytes, allocated blocks, a default crypto id, and two cloning counters.
type JDstreamT struct {
	Size               uint64
	AllocedSize        uint64
	DefaultCryptoId    uint64
	TotalBytesWritten  uint64
	TotalBytesRead     uint64
}

const JDstreamSize = 40
