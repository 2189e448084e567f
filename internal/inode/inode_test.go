package inode

import (
	"testing"

	"github.com/deploymenttheory/go-apfs/internal/endian"
	"github.com/deploymenttheory/go-apfs/internal/types"
	"github.com/stretchr/testify/require"
)

func buildInodeValue(t *testing.T, mode types.ModeT, name string) []byte {
	t.Helper()
	fixed := make([]byte, 92)
	endian.PutU16(fixed[80:82], uint16(mode))

	nameField := append([]byte(name), 0)
	aligned := (len(nameField) + 7) &^ 7
	padded := make([]byte, aligned)
	copy(padded, nameField)

	xf := make([]byte, 4+4+len(padded))
	endian.PutU16(xf[0:2], 1) // 1 extended field
	xf[4] = types.InoExtTypeName
	endian.PutU16(xf[6:8], uint16(len(nameField)))
	copy(xf[8:], padded)

	return append(fixed, xf...)
}

func TestDecodeInodeWithNameField(t *testing.T) {
	val := buildInodeValue(t, types.SIfdir, "Documents")
	in, err := Decode(42, val)
	require.NoError(t, err)
	require.True(t, in.IsDir())
	require.Equal(t, "Documents", in.Name)
}

func TestDecodeInodeRejectsShortValue(t *testing.T) {
	_, err := Decode(1, make([]byte, 10))
	require.Error(t, err)
}
