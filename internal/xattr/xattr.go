// Package xattr resolves extended attributes: inline-embedded values and
// data-stream (extent-ref) values, per §4.8.
package xattr

import (
	"fmt"

	"github.com/deploymenttheory/go-apfs/internal/apfserrors"
	"github.com/deploymenttheory/go-apfs/internal/btree"
	"github.com/deploymenttheory/go-apfs/internal/endian"
	"github.com/deploymenttheory/go-apfs/internal/types"
)

// Attr is one decoded extended-attribute record.
type Attr struct {
	Name       string
	Embedded   bool
	Value      []byte        // valid when Embedded
	DataStream *types.JDstreamT // valid when !Embedded
}

func xattrKeyCompare(a, b []byte) int {
	aID := endian.U64(a[0:8]) & types.ObjIdMask
	bID := endian.U64(b[0:8]) & types.ObjIdMask
	if aID != bID {
		if aID < bID {
			return -1
		}
		return 1
	}
	aType := (endian.U64(a[0:8]) & types.ObjTypeMask) >> types.ObjTypeShift
	bType := (endian.U64(b[0:8]) & types.ObjTypeMask) >> types.ObjTypeShift
	if aType != bType {
		if aType < bType {
			return -1
		}
		return 1
	}
	if len(a) > 10 && len(b) > 10 {
		aName := a[10:]
		bName := b[10:]
		n := len(aName)
		if len(bName) < n {
			n = len(bName)
		}
		for i := 0; i < n; i++ {
			if aName[i] != bName[i] {
				if aName[i] < bName[i] {
					return -1
				}
				return 1
			}
		}
		if len(aName) != len(bName) {
			if len(aName) < len(bName) {
				return -1
			}
			return 1
		}
	}
	return 0
}

func encodeXattrKey(objID uint64, name string) []byte {
	nameBytes := append([]byte(name), 0)
	b := make([]byte, 10+len(nameBytes))
	endian.PutU64(b[0:8], (objID&types.ObjIdMask)|(uint64(types.ApfsTypeXattr)<<types.ObjTypeShift))
	endian.PutU16(b[8:10], uint16(len(nameBytes)))
	copy(b[10:], nameBytes)
	return b
}

func decodeValue(val []byte) (Attr, error) {
	if len(val) < 4 {
		return Attr{}, fmt.Errorf("%w: xattr value too small", apfserrors.ErrCorruptMetadata)
	}
	flags := endian.U16(val[0:2])
	xdataLen := int(endian.U16(val[2:4]))
	if 4+xdataLen > len(val) {
		return Attr{}, fmt.Errorf("%w: xattr data length %d overruns value", apfserrors.ErrCorruptMetadata, xdataLen)
	}
	xdata := val[4 : 4+xdataLen]

	if flags&types.XattrDataEmbedded != 0 {
		if xdataLen > types.XattrMaxEmbeddedSize {
			return Attr{}, fmt.Errorf("%w: embedded xattr size %d exceeds max %d", apfserrors.ErrCorruptMetadata, xdataLen, types.XattrMaxEmbeddedSize)
		}
		return Attr{Embedded: true, Value: xdata}, nil
	}

	if len(xdata) < types.JDstreamSize {
		return Attr{}, fmt.Errorf("%w: xattr data-stream reference too small", apfserrors.ErrCorruptMetadata)
	}
	ds := &types.JDstreamT{
		Size:              endian.U64(xdata[0:8]),
		AllocedSize:       endian.U64(xdata[8:16]),
		DefaultCryptoId:   endian.U64(xdata[16:24]),
		TotalBytesWritten: endian.U64(xdata[24:32]),
		TotalBytesRead:    endian.U64(xdata[32:40]),
	}
	return Attr{DataStream: ds}, nil
}

// Get looks up a single named attribute on objID via the files tree.
// Name and value length limits (§3.8 / §7 InsufficientBuffer) are the
// caller's concern when copying into a host buffer; this just returns the
// decoded record.
func Get(filesRoot *btree.Node, fetch btree.NodeFetcher, objID uint64, name string) (Attr, error) {
	if len(name) > types.XattrMaxNameLen {
		return Attr{}, fmt.Errorf("%w: xattr name %q exceeds max length %d", apfserrors.ErrBadParams, name, types.XattrMaxNameLen)
	}
	key := encodeXattrKey(objID, name)
	val, err := btree.Lookup(filesRoot, key, xattrKeyCompare, fetch)
	if err != nil {
		return Attr{}, err
	}
	a, err := decodeValue(val)
	if err != nil {
		return Attr{}, err
	}
	a.Name = name
	return a, nil
}

// List enumerates every extended attribute attached to objID by scanning
// the files tree from (objID, Xattr, "") until the key's object id or type
// changes.
func List(filesRoot *btree.Node, fetch btree.NodeFetcher, objID uint64) ([]Attr, error) {
	start := make([]byte, 10)
	endian.PutU64(start[0:8], (objID&types.ObjIdMask)|(uint64(types.ApfsTypeXattr)<<types.ObjTypeShift))

	cur, err := btree.StartAtKey(filesRoot, start, xattrKeyCompare, fetch, btree.ModeLE)
	if err != nil {
		if err == apfserrors.ErrNotFound {
			return nil, nil
		}
		return nil, err
	}

	var attrs []Attr
	key, val, err := cur.Current()
	for err == nil {
		k := types.JKeyT{ObjIdAndType: endian.U64(key[0:8])}
		if k.ObjId() != objID || k.ObjType() != types.ApfsTypeXattr {
			break
		}
		a, decErr := decodeValue(val)
		if decErr != nil {
			return nil, decErr
		}
		a.Name = string(key[10 : len(key)-1])
		attrs = append(attrs, a)

		key, val, err = cur.Next()
	}
	return attrs, nil
}
