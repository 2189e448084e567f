package btree

import (
	"github.com/deploymenttheory/go-apfs/internal/types"
)

type frame struct {
	node *Node
	idx  int
}

// Cursor enumerates a tree's leaf records in key order, starting from a
// seeded key. It never triggers eviction or mutation; in a read-only mount
// the tree's write-generation counter never advances, so a Cursor is valid
// for the whole mount's lifetime (§5).
type Cursor struct {
	fetch  NodeFetcher
	cmp    KeyCompare
	frames []frame
	done   bool
}

// StartAtBeginning seeds a cursor positioned at the tree's very first
// record, independent of any key comparison.
func StartAtBeginning(root *Node, fetch NodeFetcher) (*Cursor, error) {
	nodes, indices, err := DescendToFirst(root, fetch)
	if err != nil {
		return nil, err
	}
	c := &Cursor{fetch: fetch}
	for i, n := range nodes {
		c.frames = append(c.frames, frame{node: n, idx: indices[i]})
	}
	return c, nil
}

// StartAtKey seeds a cursor positioned at the first record (per mode) at or
// after key, descending from root.
func StartAtKey(root *Node, key []byte, cmp KeyCompare, fetch NodeFetcher, mode Mode) (*Cursor, error) {
	nodes, indices, err := DescendToLeaf(root, key, cmp, fetch, mode)
	if err != nil {
		return nil, err
	}
	c := &Cursor{fetch: fetch, cmp: cmp}
	for i, n := range nodes {
		c.frames = append(c.frames, frame{node: n, idx: indices[i]})
	}
	return c, nil
}

// Current returns the record the cursor is positioned at, without advancing.
func (c *Cursor) Current() (key, val []byte, err error) {
	if c.done || len(c.frames) == 0 {
		return nil, nil, ErrEndOfTree
	}
	leaf := c.frames[len(c.frames)-1]
	k, v, err := leaf.node.entry(leaf.idx)
	return k, v, err
}

// Next advances the cursor to the following leaf record in key order,
// climbing up through ancestor frames and back down the next child as the
// current leaf is exhausted.
func (c *Cursor) Next() (key, val []byte, err error) {
	if c.done {
		return nil, nil, ErrEndOfTree
	}

	leafFrame := len(c.frames) - 1
	c.frames[leafFrame].idx++
	if c.frames[leafFrame].idx < c.frames[leafFrame].node.KeyCount() {
		return c.Current()
	}

	// Leaf exhausted: climb until we find an ancestor with a next child.
	level := leafFrame - 1
	for level >= 0 {
		c.frames[level].idx++
		if c.frames[level].idx < c.frames[level].node.KeyCount() {
			break
		}
		level--
	}
	if level < 0 {
		c.done = true
		return nil, nil, ErrEndOfTree
	}

	c.frames = c.frames[:level+1]
	for !c.frames[len(c.frames)-1].node.IsLeaf() {
		top := c.frames[len(c.frames)-1]
		childOID, err := top.node.ChildOID(top.idx)
		if err != nil {
			return nil, nil, err
		}
		raw, err := c.fetch(childOID)
		if err != nil {
			return nil, nil, err
		}
		child, err := ParseNode(raw)
		if err != nil {
			return nil, nil, err
		}
		c.frames = append(c.frames, frame{node: child, idx: 0})
	}
	return c.Current()
}

// Position returns an opaque 64-bit token identifying the cursor's current
// leaf and index, suitable for handing back to the host across a readdir
// batch boundary (§4.13). The leaf is identified by its own object id
// packed into the high 48 bits; the low 16 bits hold the index, which is
// sufficient since a node never holds more than 65535 records.
func (c *Cursor) Position() uint64 {
	if len(c.frames) == 0 {
		return 0
	}
	leaf := c.frames[len(c.frames)-1]
	return uint64(leaf.node.Header.BtnO.OOid)<<16 | uint64(uint16(leaf.idx))
}

// RestoreAtKey re-seeds a cursor for the same (oid, idx) token previously
// returned by Position, when the caller can re-resolve the leaf directly
// (not mutated, so it's still there); if leafOID no longer resolves to the
// same node, the caller should fall back to StartAtKey plus skipping
// entries, per §4.13.
func RestoreAtKey(root *Node, token uint64, cmp KeyCompare, fetch NodeFetcher) (*Cursor, bool, error) {
	leafOID := types.OidT(token >> 16)
	idx := int(uint16(token))

	raw, err := fetch(leafOID)
	if err != nil {
		return nil, false, nil
	}
	leaf, err := ParseNode(raw)
	if err != nil || !leaf.IsLeaf() {
		return nil, false, nil
	}
	if idx >= leaf.KeyCount() {
		return nil, false, nil
	}
	key, _, err := leaf.entry(idx)
	if err != nil {
		return nil, false, nil
	}

	nodes, indices, err := DescendToLeaf(root, key, cmp, fetch, ModeLE)
	if err != nil {
		return nil, false, nil
	}
	if nodes[len(nodes)-1].Header.BtnO.OOid != leafOID {
		return nil, false, nil
	}

	c := &Cursor{fetch: fetch, cmp: cmp}
	for i, n := range nodes {
		c.frames = append(c.frames, frame{node: n, idx: indices[i]})
	}
	c.frames[len(c.frames)-1].idx = idx
	return c, true, nil
}
