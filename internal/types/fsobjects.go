package types

// JKeyT is the header at the start of every file-system key: a packed
// object id (low 60 bits) and record type (high 4 bits).
type JKeyT struct {
	ObjIdAndType uint64
}

const (
	ObjIdMask  uint64 = 0x0fffffffffffffff
	ObjTypeMask uint64 = 0xf000000000000000
	ObjTypeShift uint64 = 60
)

// ObjId returns the 60-bit object identifier packed into the key header.
func (k JKeyT) ObjId() uint64 { return k.ObjIdAndType & ObjIdMask }

// ObjType returns the 4-bit record type packed into the key header.
func (k JKeyT) ObjType() JObjType { return JObjType((k.ObjIdAndType & ObjTypeMask) >> ObjTypeShift) }

// JObjType is the record type discriminant for the Files content type.
type JObjType uint8

const (
	ApfsTypeAny          JObjType = 0
	ApfsTypeSnapMetadata JObjType = 1
	ApfsTypeExtent       JObjType = 2
	ApfsTypeInode        JObjType = 3
	ApfsTypeXattr        JObjType = 4
	ApfsTypeSiblingLink  JObjType = 5
	ApfsTypeDstreamId    JObjType = 6
	ApfsTypeCryptoState  JObjType = 7
	ApfsTypeFileExtent   JObjType = 8
	ApfsTypeDirRec       JObjType = 9
	ApfsTypeDirStats     JObjType = 10
	ApfsTypeSnapName     JObjType = 11
	ApfsTypeSiblingMap   JObjType = 12
	ApfsTypeFileInfo     JObjType = 13
	ApfsTypeMaxValid     JObjType = 13
	ApfsTypeInvalid      JObjType = 15
)

// UidT / GidT / ModeT mirror POSIX identifiers and the packed mode word.
type UidT uint32
type GidT uint32
type ModeT uint16

// File mode bits (a subset of S_IFMT used by the decoder).
const (
	SIfmt   ModeT = 0xf000
	SIfifo  ModeT = 0x1000
	SIfchr  ModeT = 0x2000
	SIfdir  ModeT = 0x4000
	SIfblk  ModeT = 0x6000
	SIfreg  ModeT = 0x8000
	SIflnk  ModeT = 0xa000
	SIfsock ModeT = 0xc000
)

// JInodeValT is the decoded, fixed part of an inode record's value (the
// packed 92-byte on-disk header, §3.6). Variable-size extended fields
// follow on disk and are decoded separately (internal/inode).
type JInodeValT struct {
	ParentId               uint64
	PrivateId               uint64
	CreateTime             uint64
	ModTime                uint64
	ChangeTime             uint64
	AccessTime             uint64
	InternalFlags          uint64
	NchildrenOrNlink       int32
	DefaultProtectionClass uint32
	WriteGenerationCounter uint32
	BsdFlags               uint32
	Owner                  UidT
	Group                  GidT
	Mode                   ModeT
	Pad1                   uint16
	UncompressedSize       uint64
}

// Inode flags (j_inode_flags), a subset consulted by the read-only core.
const (
	InodeIsApfsPrivate       uint64 = 0x00000001
	InodeMaintainDirStats    uint64 = 0x00000002
	InodeHasSecurityEa       uint64 = 0x00000040
	InodeHasFinderInfo       uint64 = 0x00000100
	InodeIsSparse            uint64 = 0x00000200
	InodeWasEverCloned       uint64 = 0x00000400
	InodeHasRsrcFork         uint64 = 0x00004000
	InodeNoRsrcFork          uint64 = 0x00008000
	InodeHasUncompressedSize uint64 = 0x00040000
	InodeIsCloned            uint64 = InodeWasEverCloned
	InodeFullyCloned         uint64 = 0x00100000 // matches INODE_WANTS_TO_BE_PURGEABLE slot, repurposed as "full_cloned" marker by convention
)

// BSD/fs flags surfaced on stat() (apfs_fs_flags is volume-wide; these are
// the per-inode internal_flags the spec calls "fs flags").
const (
	FsFlagCompressed uint64 = 0x00000001 // implementation-private bit used alongside BSD UF_COMPRESSED
)

// BSD chflags bits (subset).
const (
	UfImmutable uint32 = 0x00000002
	UfHidden    uint32 = 0x00008000
	UfCompressed uint32 = 0x00000020
	SfRestricted uint32 = 0x00080000
)

// JDrecHashedKeyT is the key half of a directory-entry record with a
// precomputed 22-bit name hash.
type JDrecHashedKeyT struct {
	Hdr            JKeyT
	NameLenAndHash uint32
	Name           []byte // includes trailing NUL
}

const (
	JDrecLenMask   uint32 = 0x000003ff
	JDrecHashMask  uint32 = 0xfffffc00
	JDrecHashShift uint32 = 10
)

func (k JDrecHashedKeyT) NameLen() int { return int(k.NameLenAndHash & JDrecLenMask) }
func (k JDrecHashedKeyT) NameHash() uint32 {
	return (k.NameLenAndHash & JDrecHashMask) >> JDrecHashShift
}

// JDrecValT is the value half of a directory-entry record.
type JDrecValT struct {
	FileId    uint64
	DateAdded uint64
	Flags     uint16
}

const DrecTypeMask uint16 = 0x000f

// Directory-entry file types (4-bit POSIX type code, DT_* values).
const (
	DtUnknown = 0
	DtFifo = 1
	DtChr  = 2
	DtDir  = 4
	DtBlk  = 6
	DtReg  = 8
	DtLnk  = 10
	DtSock = 12
	DtWht  = 14
)

// JXattrKeyT is the key half of an extended-attribute record.
type JXattrKeyT struct {
	Hdr     JKeyT
	NameLen uint16
	Name    []byte // includes trailing NUL
}

// JXattrValT is the value half of an extended-attribute record.
type JXattrValT struct {
	Flags    uint16
	XdataLen uint16
	Xdata    []byte
}

const (
	XattrDataStream   uint16 = 0x0001
	XattrDataEmbedded uint16 = 0x0002
	XattrFileSystemOwned uint16 = 0x0004
)

const (
	XattrMaxEmbeddedSize = 1023
	XattrMaxNameLen      = 127 // + trailing NUL (128 on disk)
)

// JFileExtentKeyT / JFileExtentValT are the key/value halves of an extent
// record mapping [file_offset, file_offset+size) of an owner stream.
type JFileExtentKeyT struct {
	Hdr        JKeyT
	LogicalAddr uint64
}

type JFileExtentValT struct {
	LenAndFlags uint64
	PhysBlockNum uint64
	CryptoId     uint64
}

const (
	JFileExtentLenMask   uint64 = 0x00ffffffffffffff
	JFileExtentFlagMask  uint64 = 0xff00000000000000
	JFileExtentFlagShift uint64 = 56
	JFileExtentCryptoIdIsTweak uint64 = 0x01
)

func (v JFileExtentValT) Length() uint64 { return v.LenAndFlags & JFileExtentLenMask }
func (v JFileExtentValT) Flags() uint64 {
	return (v.LenAndFlags & JFileExtentFlagMask) >> JFileExtentFlagShift
}

// JPhysExtKeyT / JPhysExtValT: records in the extent-reference tree
// (content type Extents), keyed by (extent_owner_id, file_offset) for
// History/Extents style trees, and carrying a clone reference count.
type JPhysExtKeyT struct {
	Hdr JKeyT
}

type JPhysExtValT struct {
	LenAndKind uint64
	OwningObjId uint64
	RefCount    int32
}

const (
	PextLenMask   uint64 = 0x0fffffffffffffff
	PextKindMask  uint64 = 0xf000000000000000
	PextKindShift uint64 = 60
)

func (v JPhysExtValT) Length() uint64  { return v.LenAndKind & PextLenMask }
func (v JPhysExtValT) ExtLinks() int32 { return v.RefCount }

// JSiblingKeyT / JSiblingValT implement hard-link back-references: given an
// inode and a link id, resolve the parent directory + name that produced
// this link.
type JSiblingKeyT struct {
	Hdr      JKeyT
	SiblingId uint64
}

type JSiblingValT struct {
	ParentId uint64
	NameLen  uint16
	Name     []byte
}
