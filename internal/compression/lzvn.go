package compression

import (
	"fmt"

	"github.com/deploymenttheory/go-apfs/internal/apfserrors"
	"github.com/deploymenttheory/go-apfs/internal/endian"
)

// lzvnEOSOpcode is the opcode that terminates an LZVN stream; it has an
// 8-byte operand and no length or distance fields.
const lzvnEOSOpcode = 0x06

// opcode classes, one per byte value, transcribed from Apple's reference
// 256-entry dispatch table (distance-encoding width for matches, literal
// and match length encodings, nop, undefined, end-of-stream).
type opClass int

const (
	opSmallDistance opClass = iota
	opMediumDistance
	opLargeDistance
	opPrevDistance
	opSmallLiteral
	opLargeLiteral
	opSmallMatch
	opLargeMatch
	opNop
	opEOS
	opUndefined
)

var opcodeTable = buildOpcodeTable()

func buildOpcodeTable() [256]opClass {
	var t [256]opClass
	rowSml := [8]opClass{opSmallDistance, opSmallDistance, opSmallDistance, opSmallDistance, opSmallDistance, opSmallDistance, opUndefined, opLargeDistance}
	rowEOS := [8]opClass{opSmallDistance, opSmallDistance, opSmallDistance, opSmallDistance, opSmallDistance, opSmallDistance, opEOS, opLargeDistance}
	rowNop := [8]opClass{opSmallDistance, opSmallDistance, opSmallDistance, opSmallDistance, opSmallDistance, opSmallDistance, opNop, opLargeDistance}
	rowPre := [8]opClass{opSmallDistance, opSmallDistance, opSmallDistance, opSmallDistance, opSmallDistance, opSmallDistance, opPrevDistance, opLargeDistance}
	rowUdef8 := [8]opClass{opUndefined, opUndefined, opUndefined, opUndefined, opUndefined, opUndefined, opUndefined, opUndefined}
	rowMed8 := [8]opClass{opMediumDistance, opMediumDistance, opMediumDistance, opMediumDistance, opMediumDistance, opMediumDistance, opMediumDistance, opMediumDistance}

	rows := [32][8]opClass{
		0:  rowEOS,
		1:  rowNop,
		2:  rowNop,
		3:  rowSml,
		4:  rowSml,
		5:  rowSml,
		6:  rowSml,
		7:  rowSml,
		8:  rowPre,
		9:  rowPre,
		10: rowPre,
		11: rowPre,
		12: rowPre,
		13: rowPre,
		14: rowUdef8,
		15: rowUdef8,
		16: rowPre,
		17: rowPre,
		18: rowPre,
		19: rowPre,
		20: rowMed8,
		21: rowMed8,
		22: rowMed8,
		23: rowMed8,
		24: rowPre,
		25: rowPre,
		26: rowUdef8,
		27: rowUdef8,
		28: {opLargeLiteral, opSmallLiteral, opSmallLiteral, opSmallLiteral, opSmallLiteral, opSmallLiteral, opSmallLiteral, opSmallLiteral},
		29: {opSmallLiteral, opSmallLiteral, opSmallLiteral, opSmallLiteral, opSmallLiteral, opSmallLiteral, opSmallLiteral, opSmallLiteral},
		30: {opLargeMatch, opSmallMatch, opSmallMatch, opSmallMatch, opSmallMatch, opSmallMatch, opSmallMatch, opSmallMatch},
		31: {opSmallMatch, opSmallMatch, opSmallMatch, opSmallMatch, opSmallMatch, opSmallMatch, opSmallMatch, opSmallMatch},
	}

	for row := 0; row < 32; row++ {
		for col := 0; col < 8; col++ {
			t[row*8+col] = rows[row][col]
		}
	}
	return t
}

// LzvnState tracks one LZVN decode across however many calls it takes to
// fill the destination buffer: a pending literal/match carried over from an
// opcode that was cut off by a truncated source, the last explicit
// distance (for the "previous distance" opcode), the write cursor into the
// destination, and whether the end-of-stream opcode has been seen.
//
// dst must be the same backing buffer on every call for a given state (or
// at least addressable at the same absolute positions), since match copies
// reference earlier output by absolute offset.
type LzvnState struct {
	l, m, d uint64
	dPrev   uint64
	outPos  int
	done    bool
}

func (s *LzvnState) Done() bool    { return s.done }
func (s *LzvnState) Produced() int { return s.outPos }

func extract(x uint64, lsb, width uint) uint64 {
	return (x >> lsb) & ((1 << width) - 1)
}

// DecodeLZVN decodes src into dst starting at state's write cursor,
// stopping when dst fills, src runs out mid-opcode (truncated source, to be
// resumed with more src on the next call), or the end-of-stream opcode is
// reached. It returns the number of source bytes consumed this call;
// state.Produced() reports the total destination bytes written so far.
func DecodeLZVN(src []byte, dst []byte, state *LzvnState) (consumed int, err error) {
	if state.done || len(src) == 0 {
		return 0, nil
	}

	srcPos := 0
	d := state.dPrev

	if state.l != 0 || state.m != 0 {
		l, m := state.l, state.m
		d = state.d
		state.l, state.m, state.d = 0, 0, 0
		if m == 0 {
			if !copyLiteralThenMatch(src, dst, &srcPos, state, l, 0, d) {
				return srcPos, nil
			}
		} else if l == 0 {
			if !copyMatch(dst, state, m, d) {
				return srcPos, nil
			}
		} else {
			if !copyLiteralThenMatch(src, dst, &srcPos, state, l, m, d) {
				return srcPos, nil
			}
		}
	}

	for srcPos < len(src) {
		opc := src[srcPos]
		class := opcodeTable[opc]

		switch class {
		case opSmallDistance:
			if len(src)-srcPos <= 2 {
				state.dPrev = d
				return srcPos, nil
			}
			l := extract(uint64(opc), 6, 2)
			m := extract(uint64(opc), 3, 3) + 3
			d = extract(uint64(opc), 0, 3)<<8 | uint64(src[srcPos+1])
			srcPos += 2
			if !copyLiteralThenMatch(src, dst, &srcPos, state, l, m, d) {
				state.dPrev = d
				return srcPos, nil
			}

		case opMediumDistance:
			if len(src)-srcPos <= 3 {
				state.dPrev = d
				return srcPos, nil
			}
			opc23 := endian.U16(src[srcPos+1 : srcPos+3])
			l := extract(uint64(opc), 3, 2)
			m := (extract(uint64(opc), 0, 3)<<2 | extract(uint64(opc23), 0, 2)) + 3
			d = extract(uint64(opc23), 2, 14)
			srcPos += 3
			if !copyLiteralThenMatch(src, dst, &srcPos, state, l, m, d) {
				state.dPrev = d
				return srcPos, nil
			}

		case opLargeDistance:
			if len(src)-srcPos <= 3 {
				state.dPrev = d
				return srcPos, nil
			}
			l := extract(uint64(opc), 6, 2)
			m := extract(uint64(opc), 3, 3) + 3
			d = uint64(endian.U16(src[srcPos+1 : srcPos+3]))
			srcPos += 3
			if !copyLiteralThenMatch(src, dst, &srcPos, state, l, m, d) {
				state.dPrev = d
				return srcPos, nil
			}

		case opPrevDistance:
			if len(src)-srcPos <= 1 {
				state.dPrev = d
				return srcPos, nil
			}
			l := extract(uint64(opc), 6, 2)
			m := extract(uint64(opc), 3, 3) + 3
			srcPos++
			if !copyLiteralThenMatch(src, dst, &srcPos, state, l, m, d) {
				state.dPrev = d
				return srcPos, nil
			}

		case opLargeMatch:
			if len(src)-srcPos <= 2 {
				state.dPrev = d
				return srcPos, nil
			}
			m := uint64(src[srcPos+1]) + 16
			srcPos += 2
			if !copyMatch(dst, state, m, d) {
				state.dPrev = d
				return srcPos, nil
			}

		case opSmallMatch:
			if len(src)-srcPos <= 1 {
				state.dPrev = d
				return srcPos, nil
			}
			m := extract(uint64(opc), 0, 4)
			srcPos++
			if !copyMatch(dst, state, m, d) {
				state.dPrev = d
				return srcPos, nil
			}

		case opLargeLiteral:
			if len(src)-srcPos <= 2 {
				state.dPrev = d
				return srcPos, nil
			}
			l := uint64(src[srcPos+1]) + 16
			srcPos += 2
			if !copyLiteralThenMatch(src, dst, &srcPos, state, l, 0, 0) {
				state.dPrev = d
				return srcPos, nil
			}

		case opSmallLiteral:
			l := extract(uint64(opc), 0, 4)
			srcPos++
			if !copyLiteralThenMatch(src, dst, &srcPos, state, l, 0, 0) {
				state.dPrev = d
				return srcPos, nil
			}

		case opNop:
			srcPos++

		case opEOS:
			if len(src)-srcPos < 9 {
				state.dPrev = d
				return srcPos, nil
			}
			srcPos += 9
			state.done = true
			state.dPrev = d
			return srcPos, nil

		default:
			return srcPos, fmt.Errorf("%w: undefined LZVN opcode 0x%02x", apfserrors.ErrCorruptMetadata, opc)
		}
	}

	state.dPrev = d
	return srcPos, nil
}

// copyLiteralThenMatch copies an l-byte literal, optionally followed by an
// m-byte match at distance d (m == 0 means literal-only), saving whichever
// part doesn't fit in dst for the next call. dst is the persistent output
// buffer; state.outPos is the absolute write cursor into it.
func copyLiteralThenMatch(src, dst []byte, srcPos *int, state *LzvnState, l, m, d uint64) bool {
	if l > 0 {
		if uint64(len(src)-*srcPos) < l {
			state.l, state.m, state.d = l, m, d
			return false
		}
		n := int(l)
		avail := len(dst) - state.outPos
		if n > avail {
			copy(dst[state.outPos:], src[*srcPos:*srcPos+avail])
			state.l = l - uint64(avail)
			state.m = m
			state.d = d
			*srcPos += avail
			state.outPos += avail
			return false
		}
		copy(dst[state.outPos:state.outPos+n], src[*srcPos:*srcPos+n])
		*srcPos += n
		state.outPos += n
	}

	if m == 0 {
		return true
	}
	if d == 0 || uint64(state.outPos) < d {
		return false
	}
	return copyMatch(dst, state, m, d)
}

// copyMatch copies an m-byte back-reference at distance d ending at the
// current write cursor, consuming no source bytes.
func copyMatch(dst []byte, state *LzvnState, m, d uint64) bool {
	n := int(m)
	avail := len(dst) - state.outPos
	if n > avail {
		for i := 0; i < avail; i++ {
			dst[state.outPos+i] = dst[state.outPos+i-int(d)]
		}
		state.l = 0
		state.m = m - uint64(avail)
		state.d = d
		state.outPos += avail
		return false
	}
	for i := 0; i < n; i++ {
		dst[state.outPos+i] = dst[state.outPos+i-int(d)]
	}
	state.outPos += n
	return true
}
