// Package btree implements the read-only B+-tree runtime of §4.4: node
// parsing, key search, child descent, and forward cursors. Key comparison
// is injected by the caller since each content type (location, files,
// extents, history, snapshots map, encryption) orders its keys differently.
package btree

import (
	"fmt"

	"github.com/deploymenttheory/go-apfs/internal/apfserrors"
	"github.com/deploymenttheory/go-apfs/internal/checksum"
	"github.com/deploymenttheory/go-apfs/internal/endian"
	"github.com/deploymenttheory/go-apfs/internal/types"
)

const nodeHeaderSize = 56

// Node is a parsed B+-tree node: its fixed header plus the variable table
// of contents / key / value region that follows it, and (root nodes only)
// the trailing btree_info_t footer.
type Node struct {
	Header types.BtreeNodePhysT
	Data   []byte // everything after the 56-byte header, footer excluded
	Footer *types.BtreeInfoT
}

// ParseNode decodes raw (one full block) into a Node, verifying its
// Fletcher64 checksum after decoding the header. Every node's checksum is
// verified; no header flag skips the check.
func ParseNode(raw []byte) (*Node, error) {
	if len(raw) < nodeHeaderSize {
		return nil, fmt.Errorf("%w: B-tree node block too small (%d bytes)", apfserrors.ErrCorruptMetadata, len(raw))
	}

	n := &Node{}
	copy(n.Header.BtnO.OChecksum[:], raw[0:8])
	n.Header.BtnO.OOid = types.OidT(endian.U64(raw[8:16]))
	n.Header.BtnO.OXid = types.XidT(endian.U64(raw[16:24]))
	n.Header.BtnO.OType = endian.U32(raw[24:28])
	n.Header.BtnO.OSubtype = endian.U32(raw[28:32])

	n.Header.BtnFlags = endian.U16(raw[32:34])
	n.Header.BtnLevel = endian.U16(raw[34:36])
	n.Header.BtnNkeys = endian.U32(raw[36:40])
	n.Header.BtnTableSpace = types.NlocT{Off: endian.U16(raw[40:42]), Len: endian.U16(raw[42:44])}
	n.Header.BtnFreeSpace = types.NlocT{Off: endian.U16(raw[44:46]), Len: endian.U16(raw[46:48])}
	n.Header.BtnKeyFreeList = types.NlocT{Off: endian.U16(raw[48:50]), Len: endian.U16(raw[50:52])}
	n.Header.BtnValFreeList = types.NlocT{Off: endian.U16(raw[52:56]), Len: endian.U16(raw[52:56])}
	n.Header.BtnValFreeList.Off = endian.U16(raw[52:54])
	n.Header.BtnValFreeList.Len = endian.U16(raw[54:56])

	if !checksum.Verify(raw) {
		return nil, fmt.Errorf("%w: B-tree node (oid %d) checksum mismatch", apfserrors.ErrCorruptMetadata, n.Header.BtnO.OOid)
	}

	body := raw[nodeHeaderSize:]
	if n.IsRoot() {
		if len(body) < types.BtreeInfoSize {
			return nil, fmt.Errorf("%w: root node missing btree_info_t footer", apfserrors.ErrCorruptMetadata)
		}
		footerOff := len(body) - types.BtreeInfoSize
		n.Data = body[:footerOff]
		n.Footer = parseFooter(body[footerOff:])
	} else {
		n.Data = body
	}

	return n, nil
}

func parseFooter(b []byte) *types.BtreeInfoT {
	f := &types.BtreeInfoT{}
	f.BtFixed.BtFlags = endian.U32(b[0:4])
	f.BtFixed.BtNodeSize = endian.U32(b[4:8])
	f.BtFixed.BtKeySize = endian.U32(b[8:12])
	f.BtFixed.BtValSize = endian.U32(b[12:16])
	f.BtLongestKey = endian.U32(b[16:20])
	f.BtLongestVal = endian.U32(b[20:24])
	f.BtKeyCount = endian.U64(b[24:32])
	f.BtNodeCount = endian.U64(b[32:40])
	return f
}

func (n *Node) IsRoot() bool          { return n.Header.BtnFlags&types.BtnodeRoot != 0 }
func (n *Node) IsLeaf() bool          { return n.Header.BtnFlags&types.BtnodeLeaf != 0 }
func (n *Node) HasFixedKV() bool      { return n.Header.BtnFlags&types.BtnodeFixedKVSize != 0 }
func (n *Node) KeyCount() int         { return int(n.Header.BtnNkeys) }
func (n *Node) Level() int            { return int(n.Header.BtnLevel) }

// valueAreaEnd is the exclusive end of the value area: the end of Data for
// a non-root node, or start-of-footer for a root node (already excluded
// from n.Data by ParseNode).
func (n *Node) valueAreaEnd() int { return len(n.Data) }

// entry returns the raw key and value bytes for record i (0-based).
func (n *Node) entry(i int) (key, val []byte, err error) {
	if i < 0 || i >= n.KeyCount() {
		return nil, nil, fmt.Errorf("%w: B-tree record index %d out of range [0,%d)", apfserrors.ErrCorruptMetadata, i, n.KeyCount())
	}
	tocStart := int(n.Header.BtnTableSpace.Off)
	keyAreaStart := tocStart + int(n.Header.BtnTableSpace.Len)

	if n.HasFixedKV() {
		const entrySize = 4 // KvoffT: 2 x uint16
		off := tocStart + i*entrySize
		if off+entrySize > len(n.Data) {
			return nil, nil, fmt.Errorf("%w: fixed KV table-of-contents entry %d out of bounds", apfserrors.ErrCorruptMetadata, i)
		}
		kOff := int(endian.U16(n.Data[off : off+2]))
		vOff := int(endian.U16(n.Data[off+2 : off+4]))

		keySize := int(0)
		valSize := int(0)
		if n.Footer != nil {
			keySize = int(n.Footer.BtFixed.BtKeySize)
			valSize = int(n.Footer.BtFixed.BtValSize)
		}
		keyStart := keyAreaStart + kOff
		if keySize == 0 || keyStart+keySize > len(n.Data) {
			return nil, nil, fmt.Errorf("%w: fixed key %d out of bounds", apfserrors.ErrCorruptMetadata, i)
		}
		key = n.Data[keyStart : keyStart+keySize]

		if vOff == int(types.BtoffInvalid) || valSize == 0 {
			return key, nil, nil
		}
		valEnd := n.valueAreaEnd()
		valStart := valEnd - vOff
		if valStart < 0 || valStart+valSize > valEnd {
			return nil, nil, fmt.Errorf("%w: fixed value %d out of bounds", apfserrors.ErrCorruptMetadata, i)
		}
		val = n.Data[valStart : valStart+valSize]
		return key, val, nil
	}

	const entrySize = 8 // KvlocT: 4 x NlocT fields packed as 4 x uint16
	off := tocStart + i*entrySize
	if off+entrySize > len(n.Data) {
		return nil, nil, fmt.Errorf("%w: variable KV table-of-contents entry %d out of bounds", apfserrors.ErrCorruptMetadata, i)
	}
	kOff := int(endian.U16(n.Data[off : off+2]))
	kLen := int(endian.U16(n.Data[off+2 : off+4]))
	vOff := int(endian.U16(n.Data[off+4 : off+6]))
	vLen := int(endian.U16(n.Data[off+6 : off+8]))

	keyStart := keyAreaStart + kOff
	if kLen == 0 || keyStart+kLen > len(n.Data) {
		return nil, nil, fmt.Errorf("%w: variable key %d out of bounds", apfserrors.ErrCorruptMetadata, i)
	}
	key = n.Data[keyStart : keyStart+kLen]

	if vOff == int(types.BtoffInvalid) || vLen == 0 {
		return key, nil, nil
	}
	valEnd := n.valueAreaEnd()
	valStart := valEnd - vOff
	if valStart < 0 || valStart+vLen > valEnd {
		return nil, nil, fmt.Errorf("%w: variable value %d out of bounds", apfserrors.ErrCorruptMetadata, i)
	}
	val = n.Data[valStart : valStart+vLen]
	return key, val, nil
}

// Key returns record i's key bytes.
func (n *Node) Key(i int) ([]byte, error) {
	k, _, err := n.entry(i)
	return k, err
}

// Value returns record i's value bytes (a child OID for non-leaf nodes).
func (n *Node) Value(i int) ([]byte, error) {
	_, v, err := n.entry(i)
	return v, err
}

// ChildOID interprets record i's value as a little-endian child object id,
// valid only on non-leaf nodes.
func (n *Node) ChildOID(i int) (types.OidT, error) {
	_, v, err := n.entry(i)
	if err != nil {
		return 0, err
	}
	if len(v) != 8 {
		return 0, fmt.Errorf("%w: non-leaf value %d is not an 8-byte OID (got %d bytes)", apfserrors.ErrCorruptMetadata, i, len(v))
	}
	return types.OidT(endian.U64(v)), nil
}
