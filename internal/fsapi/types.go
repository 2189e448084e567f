// Package fsapi implements §6.5: the public read-only mount API, wiring
// together the container, volume, tree, extent, xattr, namehash,
// compression, and decrypt packages into Mount and Inode operations a host
// program drives directly.
package fsapi

import (
	"github.com/deploymenttheory/go-apfs/internal/types"
)

// Options configures a mount, mirroring §6.5's mount_options.
type Options struct {
	// MountAllVolumes adds the synthetic Ufsd_Volumes directory (§4.14)
	// to volume 0's root listing when more than one volume is mounted.
	// Every volume named in the container's file-system-object array is
	// loaded, and reachable through OpenInode and Volumes, either way.
	MountAllVolumes bool

	// IgnoreBlockDeviceSizeMismatch skips the check that the device's
	// byte size is an exact multiple of the container's block size.
	IgnoreBlockDeviceSizeMismatch bool

	// CheckpointAgo rewinds the mount to the checkpoint N versions
	// before the latest one (0 mounts the latest, per §4.1).
	CheckpointAgo uint64

	// Passwords supplies one password per volume, indexed by the
	// volume's position among the non-empty entries of the container's
	// file-system-object array (not by its on-disk volume index). A missing or wrong password
	// leaves that volume mounted but Locked.
	Passwords []string
}

// FileInfo is the result of InodeRef.Stat.
type FileInfo struct {
	InodeID    uint64
	Mode       types.ModeT
	NLink      int32
	UID        types.UidT
	GID        types.GidT
	Size       uint64
	CreateTime uint64
	ModTime    uint64
	ChangeTime uint64
	AccessTime uint64
	IsDir      bool
	IsSymlink  bool
	Compressed bool
}

// DirEntry is one entry returned by InodeRef.Readdir.
type DirEntry struct {
	Name    string
	InodeID uint64
	DirType uint8 // one of types.Dt*
}

// VolumeInfo describes one mounted volume, returned by Mount.Volumes.
type VolumeInfo struct {
	Index     int
	Name      string
	UUID            types.UUID
	RootInode       uint64
	Locked          bool
	Encrypted       bool
	CaseInsensitive bool
}
