package keybag

import (
	"fmt"

	"github.com/deploymenttheory/go-apfs/internal/apfserrors"
	"github.com/deploymenttheory/go-apfs/internal/types"
)

// TLVRecord is one decoded tag-length-value element from a recovery or KEK
// blob (§4.10 step 5).
type TLVRecord struct {
	Tag   byte
	Value []byte
}

// ParseTLVStream decodes a flat sequence of {tag(1), len(2 BE), value}
// records. Any length that would run past the end of data is a parsing
// failure, per §4.10's "record parsing fails on any length-encoding error".
func ParseTLVStream(data []byte) ([]TLVRecord, error) {
	var out []TLVRecord
	off := 0
	for off < len(data) {
		if off+3 > len(data) {
			return nil, fmt.Errorf("%w: truncated TLV tag/length at offset %d", apfserrors.ErrCorruptMetadata, off)
		}
		tag := data[off]
		length := int(data[off+1])<<8 | int(data[off+2])
		off += 3
		if off+length > len(data) {
			return nil, fmt.Errorf("%w: TLV value for tag 0x%02x overruns buffer", apfserrors.ErrCorruptMetadata, tag)
		}
		out = append(out, TLVRecord{Tag: tag, Value: data[off : off+length]})
		off += length
	}
	return out, nil
}

// Find returns the first record with the given tag, or nil.
func Find(records []TLVRecord, tag byte) []byte {
	for _, r := range records {
		if r.Tag == tag {
			return r.Value
		}
	}
	return nil
}

// Blob is a parsed recovery/KEK TLV blob: the wrapped key plus the PBKDF2
// parameters needed to derive the unwrapping key from a password.
type Blob struct {
	WrappedKey []byte
	Iterations uint32
	Salt       []byte
}

// ParseBlob decodes the §4.10 step-5 TLV layout: the outer 0x30 header
// wraps a 0x80 sequence containing the 0x83 wrapped key, 0x84 iteration
// count, and 0x85 salt (the 0x81 HMAC/UUID and 0x82 AES-mode-flags records
// are present but not consulted by a read-only unwrap).
func ParseBlob(data []byte) (*Blob, error) {
	outer, err := ParseTLVStream(data)
	if err != nil {
		return nil, err
	}
	header := Find(outer, types.TlvTagHeader)
	if header == nil {
		return nil, fmt.Errorf("%w: keybag blob missing header record", apfserrors.ErrCorruptMetadata)
	}
	inner, err := ParseTLVStream(header)
	if err != nil {
		return nil, err
	}
	seq := Find(inner, types.TlvTagSequence)
	if seq == nil {
		seq = header // some blobs place the fields directly under the header
	} else {
		var err error
		inner, err = ParseTLVStream(seq)
		if err != nil {
			return nil, err
		}
	}

	wrapped := Find(inner, types.TlvTagWrappedKey)
	iterBytes := Find(inner, types.TlvTagIterations)
	salt := Find(inner, types.TlvTagSalt)
	if wrapped == nil || iterBytes == nil || salt == nil {
		return nil, fmt.Errorf("%w: keybag blob missing wrapped-key, iterations, or salt", apfserrors.ErrCorruptMetadata)
	}

	var iterations uint32
	for _, b := range iterBytes {
		iterations = iterations<<8 | uint32(b)
	}

	return &Blob{WrappedKey: wrapped, Iterations: iterations, Salt: salt}, nil
}
