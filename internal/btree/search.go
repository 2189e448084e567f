package btree

import (
	"fmt"

	"github.com/deploymenttheory/go-apfs/internal/apfserrors"
)

// KeyCompare orders two raw key byte-slices for a given content type. It
// returns <0, 0, >0 like bytes.Compare. Implementations live alongside each
// tree's record types (objectmap, volume's files/extents/history trees).
type KeyCompare func(a, b []byte) int

// Mode selects FindDataIndex's search semantics.
type Mode int

const (
	// ModeEQ finds the unique record whose key equals the target exactly.
	ModeEQ Mode = iota
	// ModeLE finds the rightmost record whose key is <= the target; used
	// to pick the descent child at non-leaf levels and for the
	// "closest preceding" object-map generation lookup.
	ModeLE
	// ModeAllTypes finds the leftmost record whose key's primary component
	// (as judged by cmp, which must tolerate a target with a zeroed
	// secondary component) equals the target's primary component,
	// regardless of secondary component — used to start a directory or
	// extent enumeration at the first record for a given owning id.
	ModeAllTypes
	// ModeGE is not implemented by the read-only core (§7).
	ModeGE
)

// FindDataIndex performs the binary search described in §4.4 over a node's
// nkeys records ordered by cmp, returning the selected index.
// ModeEQ/ModeAllTypes return apfserrors.ErrNotFound when no record matches.
// ModeLE returns apfserrors.ErrNotFound when every key is greater than the
// target (no valid child to descend into). ModeGE always returns
// apfserrors.ErrNotImplemented.
func FindDataIndex(n *Node, target []byte, cmp KeyCompare, mode Mode) (int, error) {
	if mode == ModeGE {
		return 0, fmt.Errorf("%w: GE-mode tree search", apfserrors.ErrNotImplemented)
	}

	count := n.KeyCount()
	if count == 0 {
		return 0, apfserrors.ErrNotFound
	}

	lo, hi := 0, count // [lo, hi)
	for lo < hi {
		mid := (lo + hi) / 2
		k, err := n.Key(mid)
		if err != nil {
			return 0, err
		}
		if cmp(k, target) < 0 {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	// lo is now the first index whose key >= target.

	switch mode {
	case ModeEQ:
		if lo < count {
			k, err := n.Key(lo)
			if err != nil {
				return 0, err
			}
			if cmp(k, target) == 0 {
				return lo, nil
			}
		}
		return 0, apfserrors.ErrNotFound

	case ModeAllTypes:
		if lo < count {
			k, err := n.Key(lo)
			if err != nil {
				return 0, err
			}
			if cmp(k, target) == 0 {
				return lo, nil
			}
		}
		return 0, apfserrors.ErrNotFound

	case ModeLE:
		idx := lo
		if idx >= count {
			idx = count - 1
		} else {
			k, err := n.Key(idx)
			if err != nil {
				return 0, err
			}
			if cmp(k, target) > 0 {
				idx--
			}
		}
		if idx < 0 {
			return 0, apfserrors.ErrNotFound
		}
		return idx, nil
	}

	return 0, fmt.Errorf("%w: unknown search mode", apfserrors.ErrBadParams)
}
