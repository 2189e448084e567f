package app

import (
	"fmt"
	"os"

	"github.com/deploymenttheory/go-apfs/internal/blockdevice"
	"github.com/deploymenttheory/go-apfs/internal/fsapi"
)

// OpenedContainer is a mounted container together with the volume root
// resolved from a VolumeTarget, ready for a command to traverse.
type OpenedContainer struct {
	Dev        *blockdevice.FileDevice
	Mount      *fsapi.Mount
	VolumeInfo fsapi.VolumeInfo
	Root       *fsapi.InodeRef
}

// Close releases the underlying device handle.
func (oc *OpenedContainer) Close() error {
	return oc.Dev.Close()
}

// OpenTarget opens containerPath (auto-detecting a GPT/.dmg-embedded
// container offset, per blockdevice.DetectContainerOffset) and resolves
// target to one mounted volume's root inode. An empty target resolves to
// volume 0. Snapshot selection is not yet implemented: a non-empty
// target.Snapshot reports ErrCodeNotImplemented.
func OpenTarget(containerPath string, target VolumeTarget, passwords []string) (*OpenedContainer, error) {
	if err := target.Validate(); err != nil {
		return nil, NewError(ErrCodeInvalidInput, "invalid volume target", err)
	}
	if target.Snapshot != "" {
		return nil, NewError(ErrCodeNotImplemented, "snapshot-scoped access is not implemented", nil)
	}

	probe, err := os.Open(containerPath)
	if err != nil {
		return nil, NewError(ErrCodeContainerAccess, "cannot open container", err)
	}
	head := make([]byte, 65536)
	n, _ := probe.ReadAt(head, 0)
	probe.Close()
	head = head[:n]

	offsetCfg, err := blockdevice.LoadContainerOffsetConfig()
	if err != nil {
		return nil, NewError(ErrCodeInvalidInput, "loading container offset config", err)
	}
	offset := offsetCfg.DefaultOffset
	if offsetCfg.AutoDetect {
		if detected, found := blockdevice.DetectContainerOffset(head, offsetCfg); found {
			offset = detected
		}
	}

	dev, err := blockdevice.OpenFile(containerPath, offset, 0)
	if err != nil {
		return nil, NewError(ErrCodeContainerAccess, "opening device", err)
	}

	mount, err := fsapi.OpenMount(dev, fsapi.Options{
		MountAllVolumes: true,
		Passwords:       passwords,
	})
	if err != nil {
		dev.Close()
		return nil, NewError(ErrCodeContainerAccess, "mounting container", err)
	}

	info, err := resolveVolume(mount, target)
	if err != nil {
		dev.Close()
		return nil, err
	}

	extID := uint64(info.Index)<<56 | (info.RootInode & 0x00ffffffffffffff)
	root, err := mount.OpenInode(extID)
	if err != nil {
		dev.Close()
		return nil, NewError(ErrCodeVolumeNotFound, "opening volume root", err)
	}

	return &OpenedContainer{Dev: dev, Mount: mount, VolumeInfo: info, Root: root}, nil
}

func resolveVolume(mount *fsapi.Mount, target VolumeTarget) (fsapi.VolumeInfo, error) {
	volumes := mount.Volumes()
	if target.IsEmpty() {
		return volumes[0], nil
	}
	for _, v := range volumes {
		if target.VolumeName != "" && v.Name == target.VolumeName {
			return v, nil
		}
		if target.VolumeName == "" && uint64(v.Index) == target.VolumeID {
			return v, nil
		}
	}
	return fsapi.VolumeInfo{}, NewError(ErrCodeVolumeNotFound, fmt.Sprintf("no volume matches %s", target.String()), nil)
}

// ResolvePath walks path (slash-separated, rooted at root) through
// successive fsapi.InodeRef.Lookup calls.
func ResolvePath(root *fsapi.InodeRef, path string) (*fsapi.InodeRef, error) {
	cur := root
	for _, part := range splitPath(path) {
		next, err := cur.Lookup(part)
		if err != nil {
			return nil, err
		}
		cur = next
	}
	return cur, nil
}

func splitPath(path string) []string {
	var parts []string
	start := 0
	for i := 0; i <= len(path); i++ {
		if i == len(path) || path[i] == '/' {
			if i > start {
				parts = append(parts, path[start:i])
			}
			start = i + 1
		}
	}
	return parts
}
