package checksum

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestVerifyRoundTrip(t *testing.T) {
	block := make([]byte, 64)
	for i := range block {
		block[i] = byte(i * 7)
	}
	for i := 0; i < MaxCksumSize; i++ {
		block[i] = 0
	}
	sum := Compute(block)
	copy(block[:MaxCksumSize], sum[:])

	require.True(t, Verify(block))
}

func TestVerifyDetectsCorruption(t *testing.T) {
	block := make([]byte, 64)
	for i := range block {
		block[i] = byte(i * 3)
	}
	for i := 0; i < MaxCksumSize; i++ {
		block[i] = 0
	}
	sum := Compute(block)
	copy(block[:MaxCksumSize], sum[:])

	block[40] ^= 0xFF
	require.False(t, Verify(block))
}

func TestVerifyRejectsBadLength(t *testing.T) {
	require.False(t, Verify(make([]byte, 6)))
	require.False(t, Verify(make([]byte, 0)))
}

func TestComputeDeterministic(t *testing.T) {
	data := make([]byte, 4096)
	binary.LittleEndian.PutUint32(data[100:104], 0xdeadbeef)
	a := Compute(data)
	b := Compute(data)
	require.Equal(t, a, b)
}
