package keybag

import (
	"crypto/aes"
	"encoding/binary"
	"testing"

	"github.com/deploymenttheory/go-apfs/internal/apfserrors"
	"github.com/deploymenttheory/go-apfs/internal/types"
	"github.com/stretchr/testify/require"
)

// wrapForTest mirrors Unwrap's inverse (RFC 3394 wrap), giving this test
// file an independent encode path to validate Unwrap against.
func wrapForTest(kek, plaintext []byte) []byte {
	block, _ := aes.NewCipher(kek)
	n := len(plaintext) / 8

	var a [8]byte
	binary.BigEndian.PutUint64(a[:], types.Rfc3394Iv)

	r := make([][8]byte, n)
	for i := 0; i < n; i++ {
		copy(r[i][:], plaintext[i*8:(i+1)*8])
	}

	var buf [16]byte
	for j := 0; j <= 5; j++ {
		for i := 1; i <= n; i++ {
			copy(buf[0:8], a[:])
			copy(buf[8:16], r[i-1][:])
			block.Encrypt(buf[:], buf[:])

			t := uint64(n*j + i)
			var tBytes [8]byte
			binary.BigEndian.PutUint64(tBytes[:], t)
			for k := 0; k < 8; k++ {
				buf[k] ^= tBytes[k]
			}
			copy(a[:], buf[0:8])
			copy(r[i-1][:], buf[8:16])
		}
	}

	out := make([]byte, 8+n*8)
	copy(out[0:8], a[:])
	for i := 0; i < n; i++ {
		copy(out[8+i*8:8+(i+1)*8], r[i][:])
	}
	return out
}

func TestRFC3394RoundTrip(t *testing.T) {
	kek := make([]byte, 32)
	for i := range kek {
		kek[i] = byte(i)
	}
	plaintext := make([]byte, 32)
	for i := range plaintext {
		plaintext[i] = byte(0xA0 + i)
	}

	wrapped := wrapForTest(kek, plaintext)
	got, err := Unwrap(kek, wrapped)
	require.NoError(t, err)
	require.Equal(t, plaintext, got)
}

func TestRFC3394WrongKeyDetected(t *testing.T) {
	kek := make([]byte, 32)
	wrongKek := make([]byte, 32)
	wrongKek[0] = 1
	plaintext := make([]byte, 16)

	wrapped := wrapForTest(kek, plaintext)
	_, err := Unwrap(wrongKek, wrapped)
	require.ErrorIs(t, err, apfserrors.ErrBadParams)
}

func TestParseTLVStreamAndBlob(t *testing.T) {
	salt := []byte("0123456789abcdef")
	wrappedKey := make([]byte, 40)

	iterVal := []byte{0x00, 0x00, 0x04, 0x00} // 1024 iterations

	seq := buildTLV([]byte{types.TlvTagWrappedKey}, [][]byte{wrappedKey})
	seq = append(seq, buildTLV([]byte{types.TlvTagIterations}, [][]byte{iterVal})...)
	seq = append(seq, buildTLV([]byte{types.TlvTagSalt}, [][]byte{salt})...)

	header := buildTLV([]byte{types.TlvTagSequence}, [][]byte{seq})
	outer := buildTLV([]byte{types.TlvTagHeader}, [][]byte{header})

	blob, err := ParseBlob(outer)
	require.NoError(t, err)
	require.Equal(t, wrappedKey, blob.WrappedKey)
	require.EqualValues(t, 1024, blob.Iterations)
	require.Equal(t, salt, blob.Salt)
}

func buildTLV(tags []byte, values [][]byte) []byte {
	var out []byte
	for i, tag := range tags {
		v := values[i]
		out = append(out, tag, byte(len(v)>>8), byte(len(v)))
		out = append(out, v...)
	}
	return out
}
