// Package endian provides little-endian field decode helpers for reading
// packed on-disk APFS structures out of unaligned byte slices. APFS is
// little-endian on disk regardless of host byte order, so every field
// access in this module goes through here rather than relying on the host
// language's struct layout.
package endian

import "encoding/binary"

func U16(b []byte) uint16 { return binary.LittleEndian.Uint16(b) }
func U32(b []byte) uint32 { return binary.LittleEndian.Uint32(b) }
func U64(b []byte) uint64 { return binary.LittleEndian.Uint64(b) }
func I32(b []byte) int32  { return int32(binary.LittleEndian.Uint32(b)) }
func I64(b []byte) int64  { return int64(binary.LittleEndian.Uint64(b)) }

func PutU16(b []byte, v uint16) { binary.LittleEndian.PutUint16(b, v) }
func PutU32(b []byte, v uint32) { binary.LittleEndian.PutUint32(b, v) }
func PutU64(b []byte, v uint64) { binary.LittleEndian.PutUint64(b, v) }
