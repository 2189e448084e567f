package keybag

import (
	"crypto/aes"
	"encoding/binary"
	"fmt"

	"github.com/deploymenttheory/go-apfs/internal/apfserrors"
	"github.com/deploymenttheory/go-apfs/internal/types"
)

// Unwrap implements RFC 3394 AES key unwrap: an 8n+8-byte ciphertext
// (an IV plus n 8-byte blocks) unwraps to n 8-byte plaintext blocks under
// kek. The recovered IV must equal types.Rfc3394Iv; a mismatch means the
// wrong key was used to unwrap (§4.10 step 7), which this package surfaces
// by returning apfserrors.ErrBadParams rather than failing silently.
func Unwrap(kek, ciphertext []byte) ([]byte, error) {
	if len(ciphertext) < 16 || (len(ciphertext)-8)%8 != 0 {
		return nil, fmt.Errorf("%w: RFC-3394 ciphertext length %d is not 8n+8", apfserrors.ErrCorruptMetadata, len(ciphertext))
	}
	block, err := aes.NewCipher(kek)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid unwrap key: %v", apfserrors.ErrBadParams, err)
	}

	n := (len(ciphertext) - 8) / 8
	var a [8]byte
	copy(a[:], ciphertext[:8])

	r := make([][8]byte, n)
	for i := 0; i < n; i++ {
		copy(r[i][:], ciphertext[8+i*8:8+(i+1)*8])
	}

	var buf [16]byte
	for j := 5; j >= 0; j-- {
		for i := n; i >= 1; i-- {
			t := uint64(n*j + i)
			copy(buf[0:8], a[:])
			copy(buf[8:16], r[i-1][:])

			var tBytes [8]byte
			binary.BigEndian.PutUint64(tBytes[:], t)
			for k := 0; k < 8; k++ {
				buf[k] ^= tBytes[k]
			}

			block.Decrypt(buf[:], buf[:])
			copy(a[:], buf[0:8])
			copy(r[i-1][:], buf[8:16])
		}
	}

	if binary.BigEndian.Uint64(a[:]) != types.Rfc3394Iv {
		return nil, fmt.Errorf("%w: RFC-3394 unwrap IV mismatch, wrong password or key", apfserrors.ErrBadParams)
	}

	out := make([]byte, n*8)
	for i := 0; i < n; i++ {
		copy(out[i*8:(i+1)*8], r[i][:])
	}
	return out, nil
}
