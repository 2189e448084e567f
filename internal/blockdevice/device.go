// Package blockdevice defines the narrow device-reader collaborator the
// core calls through (§6.1) and a plain file-backed implementation for
// mounting a raw container image or a .dmg on disk.
package blockdevice

import (
	"fmt"
	"io"
	"os"

	"github.com/deploymenttheory/go-apfs/internal/apfserrors"
)

// Device is the synchronous, positioned byte-read collaborator the core
// mounts on top of. Implementations are expected to be safe for concurrent
// ReadBytes calls from independent mounts, but a single mount drives one
// Device serially per §5.
type Device interface {
	// ReadBytes reads exactly len bytes starting at offset, or returns
	// apfserrors.ErrReadFailed.
	ReadBytes(offset uint64, length int) ([]byte, error)
	SectorSize() uint32
	NumBytes() uint64
	IsReadOnly() bool
}

// FileDevice implements Device directly on an *os.File, optionally offset
// into the file (e.g. an APFS container embedded at a GPT partition offset
// inside a raw disk image or .dmg payload).
type FileDevice struct {
	f          *os.File
	baseOffset uint64
	size       uint64
	sectorSize uint32
}

// OpenFile opens path read-only and wraps it as a Device. baseOffset is the
// byte offset of the APFS container within the file (zero for a bare
// container image); sectorSize defaults to 512 when zero.
func OpenFile(path string, baseOffset uint64, sectorSize uint32) (*FileDevice, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", apfserrors.ErrReadFailed, path, err)
	}
	stat, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: stat %s: %v", apfserrors.ErrReadFailed, path, err)
	}
	if sectorSize == 0 {
		sectorSize = 512
	}
	size := uint64(stat.Size())
	if baseOffset > size {
		f.Close()
		return nil, fmt.Errorf("%w: base offset %d beyond file size %d", apfserrors.ErrBadParams, baseOffset, size)
	}
	return &FileDevice{f: f, baseOffset: baseOffset, size: size - baseOffset, sectorSize: sectorSize}, nil
}

func (d *FileDevice) ReadBytes(offset uint64, length int) ([]byte, error) {
	if length < 0 {
		return nil, fmt.Errorf("%w: negative read length", apfserrors.ErrBadParams)
	}
	buf := make([]byte, length)
	n, err := d.f.ReadAt(buf, int64(d.baseOffset+offset))
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("%w: %v", apfserrors.ErrReadFailed, err)
	}
	if n != length {
		return nil, fmt.Errorf("%w: short read at offset %d: got %d want %d", apfserrors.ErrReadFailed, offset, n, length)
	}
	return buf, nil
}

func (d *FileDevice) SectorSize() uint32 { return d.sectorSize }
func (d *FileDevice) NumBytes() uint64   { return d.size }
func (d *FileDevice) IsReadOnly() bool   { return true }

// Close releases the underlying file handle.
func (d *FileDevice) Close() error { return d.f.Close() }
