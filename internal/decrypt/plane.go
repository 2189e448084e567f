package decrypt

import (
	"fmt"

	"github.com/deploymenttheory/go-apfs/internal/apfserrors"
)

// Plane implements the three decrypt layers of §4.9 on top of a Provider.
type Plane struct {
	p Provider
}

func NewPlane(p Provider) *Plane { return &Plane{p: p} }

// ContainerUUIDKey replicates the container's own UUID into a 32-byte
// AES-XTS key, used only to read the keybag (§4.9 layer 1, §4.10 step 1).
func ContainerUUIDKey(uuid [16]byte) []byte {
	key := make([]byte, 32)
	copy(key, uuid[:])
	copy(key[16:], uuid[:])
	return key
}

// DecryptContainerMeta decrypts data (a whole number of 512-byte sectors
// starting at byteOffset within the container) with the container-UUID
// key, tweaked by the absolute sector offset.
func (pl *Plane) DecryptContainerMeta(uuid [16]byte, byteOffset uint64, data []byte) error {
	key := ContainerUUIDKey(uuid)
	tweak := byteOffset / SectorSize
	return pl.p.AESXTSDecrypt(key, tweak, data)
}

// DecryptVolumeMetaBlock decrypts one physical block belonging to an
// encrypted volume's metadata trees, keyed by the VEK and tweaked by the
// block's physical byte offset (§4.9 layer 2).
func (pl *Plane) DecryptVolumeMetaBlock(vek []byte, blockByteOffset uint64, block []byte) error {
	tweak := blockByteOffset / SectorSize
	return pl.p.AESXTSDecrypt(vek, tweak, block)
}

// DecryptFileRange decrypts file data read from the container in place.
// offsetInBlock and length describe the byte range within the block that
// begins at blockTweakBase (the extent's crypto_id shifted by
// log2(blockSize/sectorSize), per §4.9 layer 3); unaligned head and tail
// are decrypted through a one-sector scratch buffer so the aligned middle
// can be decrypted directly in place.
func (pl *Plane) DecryptFileRange(vek []byte, cryptoID uint64, logBlockSectors uint, blockLCN uint64, offsetInBlock int, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	baseTweak := (cryptoID << logBlockSectors) + blockLCN<<logBlockSectors

	pos := 0
	for pos < len(data) {
		curOffsetInBlock := offsetInBlock + pos
		curSectorStart := curOffsetInBlock - curOffsetInBlock%SectorSize
		inSectorOff := curOffsetInBlock - curSectorStart
		chunk := SectorSize - inSectorOff
		if chunk > len(data)-pos {
			chunk = len(data) - pos
		}

		if inSectorOff == 0 && chunk == SectorSize {
			// Aligned full sector: decrypt in place.
			tweak := baseTweak + uint64(curSectorStart)/SectorSize
			if err := pl.p.AESXTSDecrypt(vek, tweak, data[pos:pos+SectorSize]); err != nil {
				return err
			}
		} else {
			// Partial head/tail sector: decrypt through a scratch buffer.
			// Caller is expected to have supplied the whole containing
			// sector's ciphertext via data when spanning a boundary; for a
			// genuinely partial read (only part of the sector available),
			// decrypting that partial slice directly is only valid because
			// XTS is a block-by-block tweak construction with no chaining
			// across 16-byte blocks within the sector beyond the doubling
			// schedule, so any aligned 16-byte-multiple sub-range can be
			// decrypted on its own once the tweak is advanced to the
			// correct starting block.
			if chunk%16 != 0 || inSectorOff%16 != 0 {
				return fmt.Errorf("%w: unaligned decrypt sub-range", apfserrors.ErrReadFailed)
			}
			tweak := baseTweak + uint64(curSectorStart)/SectorSize
			if err := decryptPartialSector(pl.p, vek, tweak, inSectorOff, data[pos:pos+chunk]); err != nil {
				return err
			}
		}
		pos += chunk
	}
	return nil
}

// decryptPartialSector decrypts a 16-byte-aligned sub-range of a sector
// whose full tweak schedule starts at sectorTweak, skipping the first
// skipBytes/16 block tweaks before decrypting data in place.
func decryptPartialSector(p Provider, key []byte, sectorTweak uint64, skipBytes int, data []byte) error {
	// Reconstruct the sector-initial tweak and advance it skipBytes/16
	// times, then decrypt exactly len(data) bytes from there. We delegate
	// to AESXTSDecrypt on a synthetic single "sector" whose tweak already
	// reflects the skip, by scaling: XTS's per-block tweak only depends on
	// the starting tweak doubled block-by-block, so treating this
	// sub-range as its own provider call is correct as long as the
	// doubling start point matches the skip.
	scratchTweak := sectorTweak
	// Advance the tweak schedule "in spirit" by prefixing a dummy region;
	// simplest correct approach: decrypt a scratch buffer covering the
	// whole sector from offset 0 and keep only the requested slice.
	full := make([]byte, SectorSize)
	copy(full[skipBytes:skipBytes+len(data)], data)
	if err := p.AESXTSDecrypt(key, scratchTweak, full); err != nil {
		return err
	}
	copy(data, full[skipBytes:skipBytes+len(data)])
	return nil
}
