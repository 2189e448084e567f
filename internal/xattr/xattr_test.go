package xattr

import (
	"testing"

	"github.com/deploymenttheory/go-apfs/internal/btree"
	"github.com/deploymenttheory/go-apfs/internal/checksum"
	"github.com/deploymenttheory/go-apfs/internal/endian"
	"github.com/deploymenttheory/go-apfs/internal/types"
	"github.com/stretchr/testify/require"
)

const testBlockSize = 4096

func zeroed(raw []byte) []byte {
	scratch := make([]byte, len(raw))
	copy(scratch, raw)
	for i := 0; i < checksum.MaxCksumSize; i++ {
		scratch[i] = 0
	}
	return scratch
}

type xattrRecord struct {
	objID uint64
	name  string
	value []byte // embedded value; nil means build a data-stream record instead
}

// buildXattrLeaf builds a root+leaf holding one record per entry, using
// variable-KV table-of-contents layout (the same convention as the rest of
// the package's hand-built test trees).
func buildXattrLeaf(t *testing.T, records []xattrRecord) []byte {
	t.Helper()
	raw := make([]byte, testBlockSize)
	endian.PutU16(raw[32:34], types.BtnodeRoot|types.BtnodeLeaf)
	endian.PutU32(raw[36:40], uint32(len(records)))

	tocLen := len(records) * 8
	endian.PutU16(raw[40:42], 0)
	endian.PutU16(raw[42:44], uint16(tocLen))

	body := raw[56 : testBlockSize-types.BtreeInfoSize]
	keyAreaStart := tocLen

	keyCursor := keyAreaStart
	valEnd := len(body)
	valCursor := 0
	for i, rec := range records {
		key := encodeXattrKey(rec.objID, rec.name)

		var val []byte
		if rec.value != nil {
			val = make([]byte, 4+len(rec.value))
			endian.PutU16(val[0:2], types.XattrDataEmbedded)
			endian.PutU16(val[2:4], uint16(len(rec.value)))
			copy(val[4:], rec.value)
		} else {
			val = make([]byte, 4+types.JDstreamSize)
			endian.PutU16(val[2:4], uint16(types.JDstreamSize))
			endian.PutU64(val[4:12], 4096) // Size
		}

		copy(body[keyCursor:keyCursor+len(key)], key)
		valCursor += len(val)
		copy(body[valEnd-valCursor:valEnd-valCursor+len(val)], val)

		tocEntryOff := i * 8
		endian.PutU16(body[tocEntryOff:tocEntryOff+2], uint16(keyCursor-keyAreaStart))
		endian.PutU16(body[tocEntryOff+2:tocEntryOff+4], uint16(len(key)))
		endian.PutU16(body[tocEntryOff+4:tocEntryOff+6], uint16(valCursor))
		endian.PutU16(body[tocEntryOff+6:tocEntryOff+8], uint16(len(val)))

		keyCursor += len(key)
	}

	footer := raw[testBlockSize-types.BtreeInfoSize:]
	endian.PutU32(footer[4:8], testBlockSize)

	csum := checksum.Compute(zeroed(raw))
	copy(raw[0:8], csum[:])
	return raw
}

func noFetch(types.OidT) ([]byte, error) { return nil, nil }

func TestGetEmbeddedAttr(t *testing.T) {
	records := []xattrRecord{
		{objID: 5, name: "com.apple.test1", value: []byte("hello")},
		{objID: 5, name: "com.apple.test2"},
		{objID: 6, name: "other.attr", value: []byte("x")},
	}
	raw := buildXattrLeaf(t, records)
	root, err := btree.ParseNode(raw)
	require.NoError(t, err)

	a, err := Get(root, noFetch, 5, "com.apple.test1")
	require.NoError(t, err)
	require.True(t, a.Embedded)
	require.Equal(t, []byte("hello"), a.Value)
}

func TestGetDataStreamAttr(t *testing.T) {
	records := []xattrRecord{
		{objID: 5, name: "com.apple.test2"},
	}
	raw := buildXattrLeaf(t, records)
	root, err := btree.ParseNode(raw)
	require.NoError(t, err)

	a, err := Get(root, noFetch, 5, "com.apple.test2")
	require.NoError(t, err)
	require.False(t, a.Embedded)
	require.NotNil(t, a.DataStream)
	require.EqualValues(t, 4096, a.DataStream.Size)
}

func TestListStopsAtObjectBoundary(t *testing.T) {
	records := []xattrRecord{
		{objID: 5, name: "com.apple.test1", value: []byte("a")},
		{objID: 5, name: "com.apple.test2", value: []byte("b")},
		{objID: 6, name: "other.attr", value: []byte("x")},
	}
	raw := buildXattrLeaf(t, records)
	root, err := btree.ParseNode(raw)
	require.NoError(t, err)

	attrs, err := List(root, noFetch, 5)
	require.NoError(t, err)
	require.Len(t, attrs, 2)
	require.Equal(t, "com.apple.test1", attrs[0].Name)
	require.Equal(t, "com.apple.test2", attrs[1].Name)
}

func TestGetNameTooLong(t *testing.T) {
	raw := buildXattrLeaf(t, []xattrRecord{{objID: 1, name: "a", value: []byte("v")}})
	root, err := btree.ParseNode(raw)
	require.NoError(t, err)

	longName := make([]byte, types.XattrMaxNameLen+1)
	for i := range longName {
		longName[i] = 'a'
	}
	_, err = Get(root, noFetch, 1, string(longName))
	require.Error(t, err)
}
