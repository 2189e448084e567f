// Package objectmap implements §4.5: resolving a virtual (object_id,
// checkpoint_id) pair to the physical (block, size, flags) of the object
// version current as of that checkpoint.
package objectmap

import (
	"fmt"

	"github.com/deploymenttheory/go-apfs/internal/apfserrors"
	"github.com/deploymenttheory/go-apfs/internal/btree"
	"github.com/deploymenttheory/go-apfs/internal/checksum"
	"github.com/deploymenttheory/go-apfs/internal/endian"
	"github.com/deploymenttheory/go-apfs/internal/types"
)

// Resolver wraps one loaded object map: its header and root B+-tree node,
// plus the raw-block fetcher needed to descend it.
type Resolver struct {
	Header types.OmapPhysT
	root   *btree.Node
	fetch  btree.NodeFetcher
}

// Load parses an OmapPhysT header from raw and its root tree node via
// fetch, both addressed physically (object maps are themselves physical
// objects; they're never looked up through another object map).
func Load(raw []byte, fetch btree.NodeFetcher) (*Resolver, error) {
	if len(raw) < types.OmapPhysSize {
		return nil, fmt.Errorf("%w: object map block too small", apfserrors.ErrCorruptMetadata)
	}
	if !checksum.Verify(raw) {
		return nil, fmt.Errorf("%w: object map checksum mismatch", apfserrors.ErrCorruptMetadata)
	}

	h := types.OmapPhysT{}
	copy(h.OmO.OChecksum[:], raw[0:8])
	h.OmO.OOid = types.OidT(endian.U64(raw[8:16]))
	h.OmO.OXid = types.XidT(endian.U64(raw[16:24]))
	h.OmO.OType = endian.U32(raw[24:28])
	h.OmO.OSubtype = endian.U32(raw[28:32])
	h.OmFlags = endian.U32(raw[32:36])
	h.OmSnapCount = endian.U32(raw[36:40])
	h.OmTreeType = endian.U32(raw[40:44])
	h.OmSnapshotTreeType = endian.U32(raw[44:48])
	h.OmTreeOid = types.OidT(endian.U64(raw[48:56]))
	h.OmSnapshotTreeOid = types.OidT(endian.U64(raw[56:64]))
	h.OmMostRecentSnap = types.XidT(endian.U64(raw[64:72]))
	h.OmPendingRevertMin = types.XidT(endian.U64(raw[72:80]))
	h.OmPendingRevertMax = types.XidT(endian.U64(raw[80:88]))

	rootRaw, err := fetch(h.OmTreeOid)
	if err != nil {
		return nil, fmt.Errorf("%w: reading object map root: %v", apfserrors.ErrReadFailed, err)
	}
	root, err := btree.ParseNode(rootRaw)
	if err != nil {
		return nil, err
	}

	return &Resolver{Header: h, root: root, fetch: fetch}, nil
}

// locationKeyCompare orders OmapKeyT records by (object_id, checkpoint_id),
// both ascending, per §3's location-tree content type.
func locationKeyCompare(a, b []byte) int {
	aOid, bOid := endian.U64(a[0:8]), endian.U64(b[0:8])
	if aOid != bOid {
		if aOid < bOid {
			return -1
		}
		return 1
	}
	aXid, bXid := endian.U64(a[8:16]), endian.U64(b[8:16])
	switch {
	case aXid < bXid:
		return -1
	case aXid > bXid:
		return 1
	default:
		return 0
	}
}

const omapKeySize = 16

func encodeKey(oid types.OidT, xid types.XidT) []byte {
	b := make([]byte, omapKeySize)
	endian.PutU64(b[0:8], uint64(oid))
	endian.PutU64(b[8:16], uint64(xid))
	return b
}

// Resolve finds the object version of oid current as of checkpointXid: the
// location-tree record with the given object_id and the largest
// checkpoint_id <= checkpointXid.
func (r *Resolver) Resolve(oid types.OidT, checkpointXid types.XidT) (paddr types.Paddr, size uint32, flags uint32, err error) {
	target := encodeKey(oid, checkpointXid)

	nodes, indices, err := btree.DescendToLeaf(r.root, target, locationKeyCompare, r.fetch, btree.ModeLE)
	if err != nil {
		return 0, 0, 0, err
	}
	leaf := nodes[len(nodes)-1]
	idx := indices[len(indices)-1]

	key, err := leaf.Key(idx)
	if err != nil {
		return 0, 0, 0, err
	}
	if endian.U64(key[0:8]) != uint64(oid) {
		return 0, 0, 0, fmt.Errorf("%w: object %d not present in object map as of checkpoint %d", apfserrors.ErrNotFound, oid, checkpointXid)
	}

	val, err := leaf.Value(idx)
	if err != nil {
		return 0, 0, 0, err
	}
	if len(val) < 16 {
		return 0, 0, 0, fmt.Errorf("%w: object map value too small", apfserrors.ErrCorruptMetadata)
	}
	ovFlags := endian.U32(val[0:4])
	ovSize := endian.U32(val[4:8])
	ovPaddr := types.Paddr(endian.U64(val[8:16]))
	return ovPaddr, ovSize, ovFlags, nil
}
