// Package checksum implements the Fletcher64 integrity check used
// throughout APFS: every managed block begins with an 8-byte checksum
// computed over the rest of the block.
package checksum

import "encoding/binary"

// MaxCksumSize is the width of the on-disk checksum field.
const MaxCksumSize = 8

// Compute returns the Fletcher64 checksum of data, treated as a sequence
// of little-endian 32-bit words. data's length must be a multiple of 4.
//
// The accumulators are reduced modulo 2^32-1 every 1024 words (4096 bytes,
// one block) to bound the running sums without overflowing a uint64.
func Compute(data []byte) [MaxCksumSize]byte {
	const modulus = uint64(0xFFFFFFFF)
	const wordsPerChunk = 1024

	var sum1, sum2 uint64
	for offset := 0; offset < len(data); offset += wordsPerChunk * 4 {
		end := offset + wordsPerChunk*4
		if end > len(data) {
			end = len(data)
		}
		for i := offset; i+4 <= end; i += 4 {
			word := uint64(binary.LittleEndian.Uint32(data[i : i+4]))
			sum1 += word
			sum2 += sum1
		}
		sum1 %= modulus
		sum2 %= modulus
	}

	var out [MaxCksumSize]byte
	binary.LittleEndian.PutUint64(out[:], (sum2<<32)|sum1)
	return out
}

// Verify reports whether block's stored checksum (its first 8 bytes)
// matches Fletcher64 computed over the block with that field zeroed. This
// matches the invariant in §3.1: "fletcher64(block) == 0 after setting the
// checksum field to its stored value" is operationally equivalent to
// recomputing with the field cleared and comparing against the stored
// value, which is what every caller in this module actually wants.
func Verify(block []byte) bool {
	if len(block) < MaxCksumSize || len(block)%4 != 0 {
		return false
	}
	var stored [MaxCksumSize]byte
	copy(stored[:], block[:MaxCksumSize])

	scratch := make([]byte, len(block))
	copy(scratch, block)
	for i := 0; i < MaxCksumSize; i++ {
		scratch[i] = 0
	}

	return Compute(scratch) == stored
}
