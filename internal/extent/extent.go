// Package extent implements §4.7: resolving a file's logical byte range to
// physical blocks through its FileExtent records, handling sparse holes,
// and reporting clone-sharing via the volume's extent-ref tree.
package extent

import (
	"fmt"

	"github.com/deploymenttheory/go-apfs/internal/apfserrors"
	"github.com/deploymenttheory/go-apfs/internal/btree"
	"github.com/deploymenttheory/go-apfs/internal/endian"
	"github.com/deploymenttheory/go-apfs/internal/types"
)

// Extent is one decoded FileExtent record: the logical range it covers and
// where it lives physically (PhysBlockNum == 0 marks a hole).
type Extent struct {
	LogicalAddr  uint64
	Length       uint64
	PhysBlockNum uint64
	CryptoID     uint64
}

func (e Extent) IsHole() bool { return e.PhysBlockNum == 0 }

// filesKeyCompare orders Files-tree records by (object_id asc, type asc,
// then type-specific secondary key), matching the on-disk B+-tree order
// for a tree holding every record type interleaved.
func filesKeyCompare(a, b []byte) int {
	ak := types.JKeyT{ObjIdAndType: endian.U64(a[0:8])}
	bk := types.JKeyT{ObjIdAndType: endian.U64(b[0:8])}
	if ak.ObjId() != bk.ObjId() {
		if ak.ObjId() < bk.ObjId() {
			return -1
		}
		return 1
	}
	if ak.ObjType() != bk.ObjType() {
		if ak.ObjType() < bk.ObjType() {
			return -1
		}
		return 1
	}
	// Secondary key: FileExtent orders by LogicalAddr; other types compare
	// equal here since only FileExtent lookups use this comparator.
	if len(a) >= 16 && len(b) >= 16 {
		aAddr, bAddr := endian.U64(a[8:16]), endian.U64(b[8:16])
		if aAddr != bAddr {
			if aAddr < bAddr {
				return -1
			}
			return 1
		}
	}
	return 0
}

func encodeExtentKey(objID uint64, logicalAddr uint64) []byte {
	b := make([]byte, 16)
	endian.PutU64(b[0:8], (objID&types.ObjIdMask)|(uint64(types.ApfsTypeFileExtent)<<types.ObjTypeShift))
	endian.PutU64(b[8:16], logicalAddr)
	return b
}

// decodeExtentValue decodes a FileExtent record's value.
func decodeExtentValue(logicalAddr uint64, val []byte) (Extent, error) {
	if len(val) < 24 {
		return Extent{}, fmt.Errorf("%w: file extent value too small", apfserrors.ErrCorruptMetadata)
	}
	lenAndFlags := endian.U64(val[0:8])
	return Extent{
		LogicalAddr:  logicalAddr,
		Length:       lenAndFlags & types.JFileExtentLenMask,
		PhysBlockNum: endian.U64(val[8:16]),
		CryptoID:     endian.U64(val[16:24]),
	}, nil
}

// Resolver locates a file's extents via the volume's files tree, caching
// the single most-recently-resolved extent in one slot (a hole is an
// extent with physical block 0 and shares that slot) so sequential reads
// don't re-descend the tree for every small read.
type Resolver struct {
	filesRoot *btree.Node
	fetch     btree.NodeFetcher

	lastExtent    *Extent
	lastExtentObj uint64
}

func NewResolver(filesRoot *btree.Node, fetch btree.NodeFetcher) *Resolver {
	return &Resolver{filesRoot: filesRoot, fetch: fetch}
}

// GetExtent returns the extent covering logicalOffset for objID, resolving
// via the files tree if it's not the cached last extent.
func (r *Resolver) GetExtent(objID uint64, logicalOffset uint64) (Extent, error) {
	if r.lastExtent != nil && r.lastExtentObj == objID &&
		logicalOffset >= r.lastExtent.LogicalAddr &&
		logicalOffset < r.lastExtent.LogicalAddr+r.lastExtent.Length {
		return *r.lastExtent, nil
	}

	target := encodeExtentKey(objID, logicalOffset)
	nodes, indices, err := btree.DescendToLeaf(r.filesRoot, target, filesKeyCompare, r.fetch, btree.ModeLE)
	if err != nil {
		return Extent{}, err
	}
	leaf := nodes[len(nodes)-1]
	idx := indices[len(indices)-1]

	key, err := leaf.Key(idx)
	if err != nil {
		return Extent{}, err
	}
	k := types.JKeyT{ObjIdAndType: endian.U64(key[0:8])}
	if k.ObjId() != objID || k.ObjType() != types.ApfsTypeFileExtent {
		return Extent{}, fmt.Errorf("%w: no extent covers offset %d of object %d", apfserrors.ErrNotFound, logicalOffset, objID)
	}

	val, err := leaf.Value(idx)
	if err != nil {
		return Extent{}, err
	}
	ext, err := decodeExtentValue(endian.U64(key[8:16]), val)
	if err != nil {
		return Extent{}, err
	}
	if logicalOffset >= ext.LogicalAddr+ext.Length {
		return Extent{}, fmt.Errorf("%w: offset %d past last extent of object %d", apfserrors.ErrNotFound, logicalOffset, objID)
	}

	r.lastExtent = &ext
	r.lastExtentObj = objID
	return ext, nil
}

// extentRefKeyCompare orders JPhysExtKeyT records by their packed object
// id/type header only; the extent-ref tree is keyed purely by the
// physical extent's owning object id.
func extentRefKeyCompare(a, b []byte) int {
	aID := endian.U64(a[0:8]) & types.ObjIdMask
	bID := endian.U64(b[0:8]) & types.ObjIdMask
	if aID == bID {
		return 0
	}
	if aID < bID {
		return -1
	}
	return 1
}

// RefCount looks up the clone reference count for the physical extent
// starting at physBlockNum in the volume's extent-ref tree (§8.1's clone
// correctness invariant), returning 1 for an extent with no tracked
// clones.
func RefCount(extentRefRoot *btree.Node, fetch btree.NodeFetcher, physBlockNum uint64) (int32, error) {
	target := make([]byte, 8)
	endian.PutU64(target, physBlockNum&types.ObjIdMask)

	val, err := btree.Lookup(extentRefRoot, target, extentRefKeyCompare, fetch)
	if err != nil {
		if err == apfserrors.ErrNotFound {
			return 1, nil
		}
		return 0, err
	}
	if len(val) < 20 {
		return 0, fmt.Errorf("%w: extent-ref value too small", apfserrors.ErrCorruptMetadata)
	}
	refCount := int32(endian.U32(val[16:20]))
	return refCount, nil
}
