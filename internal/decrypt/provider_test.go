package decrypt

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

// xtsEncryptSector mirrors xtsDecryptSector but calls Encrypt, giving this
// test file an independent encrypt path to validate decryption against.
func xtsEncryptSector(dataCipher, tweakCipher cipher.Block, sector []byte, sectorIndex uint64) {
	var t [16]byte
	for i := 0; i < 8; i++ {
		t[i] = byte(sectorIndex >> (8 * i))
	}
	tweakCipher.Encrypt(t[:], t[:])

	for off := 0; off < len(sector); off += 16 {
		block := sector[off : off+16]
		var x [16]byte
		for i := range x {
			x[i] = block[i] ^ t[i]
		}
		dataCipher.Encrypt(x[:], x[:])
		for i := range x {
			block[i] = x[i] ^ t[i]
		}
		gfDouble(&t)
	}
}

func xtsEncrypt(key []byte, tweak uint64, inOut []byte) {
	half := len(key) / 2
	dataCipher, _ := aes.NewCipher(key[:half])
	tweakCipher, _ := aes.NewCipher(key[half:])
	for off := 0; off < len(inOut); off += SectorSize {
		end := off + SectorSize
		if end > len(inOut) {
			end = len(inOut)
		}
		xtsEncryptSector(dataCipher, tweakCipher, inOut[off:end], tweak+uint64(off/SectorSize))
	}
}

func TestAESXTSRoundTrip(t *testing.T) {
	p := NewStdProvider()
	key := make([]byte, 64)
	_, err := rand.Read(key)
	require.NoError(t, err)

	plain := make([]byte, SectorSize*3)
	_, err = rand.Read(plain)
	require.NoError(t, err)
	orig := append([]byte(nil), plain...)

	enc := append([]byte(nil), plain...)
	xtsEncrypt(key, 5, enc)
	require.False(t, bytes.Equal(enc, orig))

	require.NoError(t, p.AESXTSDecrypt(key, 5, enc))
	require.Equal(t, orig, enc)
}

func TestAESCBCRoundTrip(t *testing.T) {
	p := NewStdProvider()
	key := make([]byte, 32)
	iv := make([]byte, 16)
	_, _ = rand.Read(key)
	_, _ = rand.Read(iv)

	plain := make([]byte, 64)
	_, _ = rand.Read(plain)

	block, err := aes.NewCipher(key)
	require.NoError(t, err)
	enc := append([]byte(nil), plain...)
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(enc, enc)

	require.NoError(t, p.AESCBCDecrypt(key, iv, enc))
	require.Equal(t, plain, enc)
}

func TestHMACSHA256Deterministic(t *testing.T) {
	p := NewStdProvider()
	a := p.HMACSHA256([]byte("key"), []byte("msg"))
	b := p.HMACSHA256([]byte("key"), []byte("msg"))
	require.Equal(t, a, b)
}
