package compression

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/flate"

	"github.com/deploymenttheory/go-apfs/internal/apfserrors"
)

// Inflate decompresses a raw DEFLATE stream (no zlib or gzip framing; that's
// how decmpfs stores type 3/4 payloads) into a buffer of at most
// uncompressedSize bytes; if the stream ends early, the shorter result is
// returned without error.
func Inflate(src []byte, uncompressedSize int) ([]byte, error) {
	r := flate.NewReader(bytes.NewReader(src))
	defer r.Close()

	dst := make([]byte, uncompressedSize)
	n, err := io.ReadFull(r, dst)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return nil, fmt.Errorf("%w: inflate failed after %d bytes: %v", apfserrors.ErrCorruptMetadata, n, err)
	}
	return dst[:n], nil
}
