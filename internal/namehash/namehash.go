// Package namehash implements §4.11: hashing a directory entry's name to
// the 22-bit value used as its B+-tree key, after Unicode normalization
// and (for case-insensitive volumes) case folding.
package namehash

import (
	"fmt"
	"hash/crc32"
	"unicode/utf8"

	"github.com/deploymenttheory/go-apfs/internal/apfserrors"
	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

var castagnoliTable = crc32.MakeTable(crc32.Castagnoli)

var folder = cases.Fold()

// Decompose runs strict UTF-8 decode followed by NFD decomposition,
// returning the resulting codepoints. Any invalid UTF-8 byte sequence is
// rejected rather than silently replaced, since a corrupt name must not
// silently hash to something else.
func Decompose(name string) ([]rune, error) {
	if !utf8.ValidString(name) {
		return nil, fmt.Errorf("%w: name is not valid UTF-8", apfserrors.ErrBadParams)
	}
	decomposed := norm.NFD.String(name)
	return []rune(decomposed), nil
}

// Normalize decomposes name and, if caseInsensitive is set, case-folds it,
// returning the final codepoint sequence used for both hashing and
// collision-resolution comparison.
func Normalize(name string, caseInsensitive bool) ([]rune, error) {
	runes, err := Decompose(name)
	if err != nil {
		return nil, err
	}
	if !caseInsensitive {
		return runes, nil
	}
	folded := folder.String(string(runes))
	return []rune(norm.NFD.String(folded)), nil
}

// Hash returns the 22-bit name hash (§4.11 steps 4-5): each normalized
// codepoint encoded as a 32-bit LE word, fed through CRC32C with a
// register that starts at 0xFFFFFFFF and is never complemented, masked
// to 22 bits.
//
// This does not use crc32.Update: that function complements its register
// on entry and on exit, so chaining it call-by-call (as a seed of ^0
// would require) yields a different, non-standard result. crc32cUpdate
// below runs the table loop directly instead.
func Hash(name string, caseInsensitive bool) (uint32, error) {
	runes, err := Normalize(name, caseInsensitive)
	if err != nil {
		return 0, err
	}

	crc := uint32(0xFFFFFFFF)
	for _, r := range runes {
		var word [4]byte
		word[0] = byte(r)
		word[1] = byte(r >> 8)
		word[2] = byte(r >> 16)
		word[3] = byte(r >> 24)
		crc = crc32cUpdate(crc, word[:])
	}
	return crc & 0x3FFFFF, nil
}

// crc32cUpdate runs the CRC32C (Castagnoli) table loop directly on crc,
// without the entry/exit complement crc32.Update applies.
func crc32cUpdate(crc uint32, p []byte) uint32 {
	for _, b := range p {
		crc = castagnoliTable[byte(crc)^b] ^ (crc >> 8)
	}
	return crc
}

// Equal reports whether a and b normalize (decompose, and case-fold if
// caseInsensitive) to the same codepoint sequence — the comparison used
// to resolve a hash collision within one directory (§4.11's final
// paragraph).
func Equal(a, b string, caseInsensitive bool) (bool, error) {
	an, err := Normalize(a, caseInsensitive)
	if err != nil {
		return false, err
	}
	bn, err := Normalize(b, caseInsensitive)
	if err != nil {
		return false, err
	}
	if len(an) != len(bn) {
		return false, nil
	}
	for i := range an {
		if an[i] != bn[i] {
			return false, nil
		}
	}
	return true, nil
}
