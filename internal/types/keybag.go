package types

// KbLockerT is the 8192-byte-aligned on-disk keybag object: a header
// followed by a packed array of KeybagEntryT records.
type KbLockerT struct {
	KlO         ObjPhysT
	KlVersion   uint16
	KlNkeys     uint16
	KlNbytes    uint32
	Padding     [8]byte
	KlEntries   []byte // raw bytes of the entry array, decoded on demand
}

const KeybagVersion = 2

// MediaKeybagT wraps a KbLockerT at the block level (container/volume
// keybags are read as plain blocks holding exactly this).
type MediaKeybagT struct {
	Locker KbLockerT
}

// KeybagEntryT is one fixed 16-byte-aligned record inside a keybag: a
// volume UUID, a type tag, and a TLV-ish wrapped blob.
type KeybagEntryT struct {
	KeUuid    UUID
	KeTag     uint16
	KeKeylen  uint16
	KeKeydata []byte
}

// Keybag entry tags (kb_tag_t).
const (
	KbTagUnknown       uint16 = 0
	KbTagReserved1     uint16 = 1
	KbTagVolumeKey     uint16 = 2 // VEK_BLOB
	KbTagVolumeUnlockRecords uint16 = 3 // RECS_BAG_EXTENT
	KbTagVolumePassphraseHint uint16 = 4
	KbTagReservedF8    uint16 = 0xF8
)

// CpKeyClassT / CpKeyRevisionT describe per-file protection class state.
type CpKeyClassT uint32
type CpKeyRevisionT uint16

const (
	ProtectionClassDirNone CpKeyClassT = 0
	ProtectionClassA       CpKeyClassT = 1
	ProtectionClassB       CpKeyClassT = 2
	ProtectionClassC       CpKeyClassT = 3
	ProtectionClassD       CpKeyClassT = 4
	ProtectionClassF       CpKeyClassT = 6
)

const CpMaxWrappedkeysize = 128

// Recovery-blob / KEK-blob TLV tags (§4.10 step 5). These mirror the
// structure Apple's keybag blobs use: an outer SEQUENCE holding a header,
// a UUID, flags, the wrapped key, the PBKDF2 iteration count and salt, and
// an inner DATA element.
const (
	TlvTagHeader     byte = 0x30
	TlvTagSequence   byte = 0x80
	TlvTagHmac       byte = 0x81
	TlvTagAesFlags   byte = 0x82
	TlvTagWrappedKey byte = 0x83
	TlvTagIterations byte = 0x84
	TlvTagSalt       byte = 0x85
	TlvTagData       byte = 0xA3
)

// RFC-3394 default IV, checked after unwrap to detect a wrong password.
const Rfc3394Iv uint64 = 0xA6A6A6A6A6A6A6A6

const (
	PbkdfSaltLen        = 16
	WrappedKekLen        = 40 // RFC-3394 wrap of a 32-byte KEK: 32 + 8
	WrappedVekLen        = 40 // RFC-3394 wrap of a 32-byte VEK: 32 + 8
)
