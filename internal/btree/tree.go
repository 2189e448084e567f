package btree

import (
	"fmt"

	"github.com/deploymenttheory/go-apfs/internal/apfserrors"
	"github.com/deploymenttheory/go-apfs/internal/types"
)

// NodeFetcher fetches the raw block bytes for a child node given its
// object id. Callers close over whichever addressing scheme the tree uses:
// physical trees read the block directly; virtual trees resolve the oid
// through the container or volume object map first (§4.5).
type NodeFetcher func(oid types.OidT) ([]byte, error)

// Lookup descends from root to a leaf using cmp to order keys, returning
// the leaf-level value for the first exact match of key.
func Lookup(root *Node, key []byte, cmp KeyCompare, fetch NodeFetcher) ([]byte, error) {
	node := root
	for {
		if node.IsLeaf() {
			idx, err := FindDataIndex(node, key, cmp, ModeEQ)
			if err != nil {
				return nil, err
			}
			return node.Value(idx)
		}

		idx, err := FindDataIndex(node, key, cmp, ModeLE)
		if err != nil {
			return nil, err
		}
		childOID, err := node.ChildOID(idx)
		if err != nil {
			return nil, err
		}
		raw, err := fetch(childOID)
		if err != nil {
			return nil, err
		}
		node, err = ParseNode(raw)
		if err != nil {
			return nil, err
		}
	}
}

// DescendToLeaf walks from root to the leaf that would contain key,
// returning the full root-to-leaf path (root first). Used by Cursor to
// seed an enumeration and by LookupAllTypes-style prefix scans.
func DescendToLeaf(root *Node, key []byte, cmp KeyCompare, fetch NodeFetcher, mode Mode) ([]*Node, []int, error) {
	var nodes []*Node
	var indices []int

	node := root
	for {
		nodes = append(nodes, node)
		if node.IsLeaf() {
			idx, err := FindDataIndex(node, key, cmp, mode)
			if err != nil {
				return nil, nil, err
			}
			indices = append(indices, idx)
			return nodes, indices, nil
		}

		idx, err := FindDataIndex(node, key, cmp, ModeLE)
		if err != nil {
			return nil, nil, err
		}
		indices = append(indices, idx)

		childOID, err := node.ChildOID(idx)
		if err != nil {
			return nil, nil, err
		}
		raw, err := fetch(childOID)
		if err != nil {
			return nil, nil, err
		}
		node, err = ParseNode(raw)
		if err != nil {
			return nil, nil, err
		}
	}
}

// ErrEndOfTree is returned by Cursor.Next when enumeration has passed the
// last record in the tree.
var ErrEndOfTree = fmt.Errorf("%w: end of tree", apfserrors.ErrNotFound)

// DescendToFirst walks from root to the tree's leftmost leaf, always
// taking child index 0, and returns the full path with every frame at
// index 0. Used to seed a cursor for a full-tree scan that isn't anchored
// to a particular key (e.g. enumerating every volume or every checkpoint
// entry from the start).
func DescendToFirst(root *Node, fetch NodeFetcher) ([]*Node, []int, error) {
	var nodes []*Node
	var indices []int

	node := root
	for {
		nodes = append(nodes, node)
		indices = append(indices, 0)
		if node.IsLeaf() {
			return nodes, indices, nil
		}
		childOID, err := node.ChildOID(0)
		if err != nil {
			return nil, nil, err
		}
		raw, err := fetch(childOID)
		if err != nil {
			return nil, nil, err
		}
		node, err = ParseNode(raw)
		if err != nil {
			return nil, nil, err
		}
	}
}
