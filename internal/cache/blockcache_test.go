package cache

import (
	"errors"
	"testing"

	"github.com/deploymenttheory/go-apfs/internal/apfserrors"
	"github.com/stretchr/testify/require"
)

func fakeReader(calls *int) Reader {
	return func(block uint64) ([]byte, error) {
		*calls++
		buf := make([]byte, 64)
		buf[8] = byte(block)
		return buf, nil
	}
}

func TestGetCachesOnHit(t *testing.T) {
	c := New(4)
	var calls int
	h1, err := c.Get(10, false, fakeReader(&calls))
	require.NoError(t, err)
	c.Release(h1)

	h2, err := c.Get(10, false, fakeReader(&calls))
	require.NoError(t, err)
	c.Release(h2)

	require.Equal(t, 1, calls)
}

func TestReleaseEvictsOverCapacity(t *testing.T) {
	c := New(2)
	var calls int
	for i := uint64(0); i < 3; i++ {
		h, err := c.Get(i, false, fakeReader(&calls))
		require.NoError(t, err)
		c.Release(h)
	}
	require.LessOrEqual(t, c.Len(), 2)
}

func TestHeldHandleNeverEvicted(t *testing.T) {
	c := New(1)
	var calls int
	held, err := c.Get(1, false, fakeReader(&calls))
	require.NoError(t, err)

	for i := uint64(2); i < 10; i++ {
		h, err := c.Get(i, false, fakeReader(&calls))
		require.NoError(t, err)
		c.Release(h)
	}

	// held's block must still be resolvable without a fresh read.
	callsBefore := calls
	h2, err := c.Get(1, false, fakeReader(&calls))
	require.NoError(t, err)
	require.Equal(t, callsBefore, calls)
	c.Release(h2)
	c.Release(held)
}

func TestChecksumMismatchNotCached(t *testing.T) {
	c := New(4)
	_, err := c.Get(2, true, func(block uint64) ([]byte, error) {
		buf := make([]byte, 64)
		buf[0] = 0xFF
		return buf, nil
	})
	require.True(t, errors.Is(err, apfserrors.ErrCorruptMetadata))
	require.Equal(t, 0, c.Len())
}
