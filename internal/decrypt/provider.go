// Package decrypt implements the §6.2 crypto provider and the three-layer
// decrypt plane described in §4.9: container-meta (keybag) decryption,
// per-volume metadata-block decryption, and per-file sector decryption,
// all AES-XTS keyed by the volume's VEK with the physical offset (or a
// per-extent crypto id) as the tweak.
package decrypt

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/sha256"
	"fmt"

	"github.com/deploymenttheory/go-apfs/internal/apfserrors"
)

// Provider is the §6.2 external crypto collaborator. The core calls
// through this interface exclusively; it never reaches for crypto/aes
// itself outside this package.
type Provider interface {
	AESXTSDecrypt(key []byte, tweak uint64, inOut []byte) error
	AESCBCDecrypt(key, iv, inOut []byte) error
	HMACSHA256(key, msg []byte) [32]byte
	SHA256(msg []byte) [32]byte
}

// StdProvider implements Provider on top of the standard library, with a
// hand-rolled AES-XTS tweak schedule (Go's standard library and the rest
// of this pack carry no XTS-mode package, so the GF(2^128) tweak doubling
// specified by IEEE P1619 is implemented directly against crypto/aes; see
// DESIGN.md).
type StdProvider struct{}

func NewStdProvider() *StdProvider { return &StdProvider{} }

const SectorSize = 512

// AESXTSDecrypt decrypts inOut in place. key is 32 or 64 bytes (AES-128 or
// AES-256 XTS: the first half is the data-unit key, the second half keys
// the tweak); inOut's length must be a multiple of 16 and is processed one
// 512-byte sector at a time, each sector's tweak being `tweak+sectorIndex`
// encoded per IEEE P1619.
func (StdProvider) AESXTSDecrypt(key []byte, tweak uint64, inOut []byte) error {
	if len(inOut)%aes.BlockSize != 0 {
		return fmt.Errorf("%w: xts input not block aligned", apfserrors.ErrBadParams)
	}
	half := len(key) / 2
	if half != 16 && half != 32 {
		return fmt.Errorf("%w: xts key must be 32 or 64 bytes", apfserrors.ErrBadParams)
	}
	dataCipher, err := aes.NewCipher(key[:half])
	if err != nil {
		return fmt.Errorf("%w: %v", apfserrors.ErrBadParams, err)
	}
	tweakCipher, err := aes.NewCipher(key[half:])
	if err != nil {
		return fmt.Errorf("%w: %v", apfserrors.ErrBadParams, err)
	}

	for off := 0; off < len(inOut); off += SectorSize {
		end := off + SectorSize
		if end > len(inOut) {
			end = len(inOut)
		}
		sectorTweak := tweak + uint64(off/SectorSize)
		xtsDecryptSector(dataCipher, tweakCipher, inOut[off:end], sectorTweak)
	}
	return nil
}

// xtsDecryptSector decrypts one sector (which may be shorter than
// SectorSize for a trailing partial sector, as long as it's a multiple of
// the AES block size) in place using the IEEE P1619 XTS construction.
func xtsDecryptSector(dataCipher, tweakCipher cipher.Block, sector []byte, sectorIndex uint64) {
	var t [16]byte
	for i := 0; i < 8; i++ {
		t[i] = byte(sectorIndex >> (8 * i))
	}
	tweakCipher.Encrypt(t[:], t[:])

	for off := 0; off < len(sector); off += 16 {
		block := sector[off : off+16]
		var x [16]byte
		for i := range x {
			x[i] = block[i] ^ t[i]
		}
		dataCipher.Decrypt(x[:], x[:])
		for i := range x {
			block[i] = x[i] ^ t[i]
		}
		gfDouble(&t)
	}
}

// gfDouble multiplies t by alpha (the polynomial x) in GF(2^128), the
// tweak-update step XTS performs between consecutive 16-byte blocks of the
// same sector.
func gfDouble(t *[16]byte) {
	var carry byte
	for i := 0; i < 16; i++ {
		next := t[i] >> 7
		t[i] = (t[i] << 1) | carry
		carry = next
	}
	if carry != 0 {
		t[0] ^= 0x87
	}
}

// AESCBCDecrypt decrypts inOut in place with AES-CBC, used for the
// FileVault-migrated-volume path (§4.9 layer 2 legacy fallback).
func (StdProvider) AESCBCDecrypt(key, iv, inOut []byte) error {
	if len(inOut)%aes.BlockSize != 0 {
		return fmt.Errorf("%w: cbc input not block aligned", apfserrors.ErrBadParams)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return fmt.Errorf("%w: %v", apfserrors.ErrBadParams, err)
	}
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(inOut, inOut)
	return nil
}

func (StdProvider) HMACSHA256(key, msg []byte) [32]byte {
	h := hmac.New(sha256.New, key)
	h.Write(msg)
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

func (StdProvider) SHA256(msg []byte) [32]byte { return sha256.Sum256(msg) }
