// Package keybag implements §4.9 layer-1 keybag access and §4.10 key
// unwrap: parsing the on-disk keybag locker, finding a volume's VEK/KEK
// blob records, and recovering the volume encryption key from a password.
package keybag

import (
	"crypto/sha256"
	"fmt"

	"github.com/deploymenttheory/go-apfs/internal/apfserrors"
	"github.com/deploymenttheory/go-apfs/internal/checksum"
	"github.com/deploymenttheory/go-apfs/internal/endian"
	"github.com/deploymenttheory/go-apfs/internal/types"
	"golang.org/x/crypto/pbkdf2"
)

// Entry is one decoded keybag record.
type Entry struct {
	UUID types.UUID
	Tag  uint16
	Data []byte
}

// Locker is a parsed keybag block (container or per-volume recovery bag).
type Locker struct {
	Version uint16
	Entries []Entry
}

const lockerHeaderSize = 32 + 2 + 2 + 4 + 8

// ParseLocker decodes a decrypted keybag block (already passed through
// the container-UUID AES-XTS layer by the caller) into its header and
// entry list, verifying checksum, version, and checkpoint range per §4.10
// step 2.
func ParseLocker(raw []byte, containerLatestXid types.XidT) (*Locker, error) {
	if len(raw) < lockerHeaderSize {
		return nil, fmt.Errorf("%w: keybag block too small", apfserrors.ErrCorruptMetadata)
	}
	if !checksum.Verify(raw) {
		return nil, fmt.Errorf("%w: keybag checksum mismatch", apfserrors.ErrCorruptMetadata)
	}

	xid := types.XidT(endian.U64(raw[16:24]))
	if xid > containerLatestXid {
		return nil, fmt.Errorf("%w: keybag checkpoint_id %d exceeds container latest %d", apfserrors.ErrCorruptMetadata, xid, containerLatestXid)
	}

	version := endian.U16(raw[32:34])
	if version != types.KeybagVersion {
		return nil, fmt.Errorf("%w: unsupported keybag version %d", apfserrors.ErrFsUnknown, version)
	}
	nkeys := endian.U16(raw[34:36])

	l := &Locker{Version: version}
	off := lockerHeaderSize
	for i := uint16(0); i < nkeys; i++ {
		if off+16+2+2 > len(raw) {
			return nil, fmt.Errorf("%w: keybag entry %d header out of bounds", apfserrors.ErrCorruptMetadata, i)
		}
		var e Entry
		copy(e.UUID[:], raw[off:off+16])
		e.Tag = endian.U16(raw[off+16 : off+18])
		keylen := endian.U16(raw[off+18 : off+20])
		off += 20
		if off+int(keylen) > len(raw) {
			return nil, fmt.Errorf("%w: keybag entry %d data out of bounds", apfserrors.ErrCorruptMetadata, i)
		}
		e.Data = raw[off : off+int(keylen)]
		off += int(keylen)
		// Entries are 16-byte aligned.
		if pad := off % 16; pad != 0 {
			off += 16 - pad
		}
		l.Entries = append(l.Entries, e)
	}
	return l, nil
}

// Find returns the first entry matching volUUID and tag.
func (l *Locker) Find(volUUID types.UUID, tag uint16) (Entry, bool) {
	for _, e := range l.Entries {
		if e.UUID == volUUID && e.Tag == tag {
			return e, true
		}
	}
	return Entry{}, false
}

// DeriveKey runs the §4.10 PBKDF2-HMAC-SHA256 derivation, producing a
// 32-byte derived key from password and the blob's salt/iteration count.
func DeriveKey(password string, blob *Blob) []byte {
	return pbkdf2.Key([]byte(password), blob.Salt, int(blob.Iterations), 32, sha256.New)
}

// RecoverVEK implements §4.10 steps 6-8: derive DK from password, unwrap
// the KEK blob's wrapped key with DK, then unwrap the VEK blob's wrapped
// key with the recovered KEK. For an AES-128 VEK (the unwrap yields 16
// bytes) the final 32-byte AES-XTS key is unwrapped||SHA256(unwrapped||
// volUUID)[:16], per step 8.
func RecoverVEK(password string, kekBlob, vekBlob *Blob, volUUID types.UUID) ([]byte, error) {
	dk := DeriveKey(password, kekBlob)

	kek, err := Unwrap(dk, kekBlob.WrappedKey)
	if err != nil {
		return nil, err
	}

	unwrapped, err := Unwrap(kek, vekBlob.WrappedKey)
	if err != nil {
		return nil, err
	}

	if len(unwrapped) == 32 {
		return unwrapped, nil
	}
	if len(unwrapped) == 16 {
		h := sha256.Sum256(append(append([]byte{}, unwrapped...), volUUID[:]...))
		vek := make([]byte, 32)
		copy(vek[:16], unwrapped)
		copy(vek[16:], h[:16])
		return vek, nil
	}
	return nil, fmt.Errorf("%w: unexpected unwrapped VEK length %d", apfserrors.ErrCorruptMetadata, len(unwrapped))
}
