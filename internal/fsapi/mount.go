package fsapi

import (
	"fmt"

	"github.com/deploymenttheory/go-apfs/internal/apfserrors"
	"github.com/deploymenttheory/go-apfs/internal/blockdevice"
	"github.com/deploymenttheory/go-apfs/internal/cache"
	"github.com/deploymenttheory/go-apfs/internal/container"
	"github.com/deploymenttheory/go-apfs/internal/decrypt"
	"github.com/deploymenttheory/go-apfs/internal/keybag"
	"github.com/deploymenttheory/go-apfs/internal/objectmap"
	"github.com/deploymenttheory/go-apfs/internal/types"
	"github.com/deploymenttheory/go-apfs/internal/volume"
)

// mountedVolume pairs a loaded Volume with the bookkeeping fsapi needs
// that volume.Volume doesn't carry itself: its position among the
// non-empty entries of the container's file-system-object array (used to build external inode
// ids), its own object-map transaction id, its physical-block fetcher, and
// its recovered VEK (if any).
type mountedVolume struct {
	index     int
	vol       *volume.Volume
	volumeXid types.XidT
	physFetch func(block uint64) ([]byte, error)
	vek       []byte
	locked    bool
	encrypted bool
}

// Mount is one opened, read-only APFS container (§4.1-§4.10).
type Mount struct {
	dev        blockdevice.Device
	cache      *cache.Cache
	blockSize  uint32
	checkpoint *container.Checkpoint
	omap       *objectmap.Resolver
	volumes    []*mountedVolume
	plane      *decrypt.Plane
	opts       Options
}

// defaultBlockSizeGuess is read first to learn the container's real block
// size from the main superblock; the probe is redone at the correct size
// if it disagrees.
const defaultBlockSizeGuess = 4096

// OpenMount opens dev as an APFS container: selects the checkpoint (or a
// rewound one, per opts.CheckpointAgo), loads the container object map as
// a direct physical read, resolves and loads every volume named in the
// container superblock's file-system-object array through that object
// map, and recovers each encrypted volume's VEK from opts.Passwords.
func OpenMount(dev blockdevice.Device, opts Options) (*Mount, error) {
	plane := decrypt.NewPlane(decrypt.NewStdProvider())
	blockSize := uint32(defaultBlockSizeGuess)

	rawRead := func(block uint64) ([]byte, error) {
		return dev.ReadBytes(block*uint64(blockSize), int(blockSize))
	}

	probe, err := rawRead(0)
	if err != nil {
		return nil, err
	}
	probeSB, err := container.ParseSuperblock(probe)
	if err != nil {
		return nil, err
	}
	if probeSB.NxBlockSize != 0 && probeSB.NxBlockSize != blockSize {
		blockSize = probeSB.NxBlockSize
		// rawRead closes over blockSize by reference, so every
		// subsequent call already reads at the corrected size.
	}

	if !opts.IgnoreBlockDeviceSizeMismatch && dev.NumBytes()%uint64(blockSize) != 0 {
		return nil, fmt.Errorf("%w: device size %d is not a multiple of block size %d", apfserrors.ErrBadParams, dev.NumBytes(), blockSize)
	}

	bc := cache.New(cache.DefaultCapacity)
	metaRead := func(block uint64) ([]byte, error) {
		h, err := bc.Get(block, true, rawRead)
		if err != nil {
			return nil, err
		}
		defer bc.Release(h)
		return append([]byte(nil), h.Data()...), nil
	}

	var checkpoint *container.Checkpoint
	if opts.CheckpointAgo == 0 {
		checkpoint, err = container.SelectCheckpoint(metaRead)
	} else {
		checkpoint, err = container.SelectCheckpointAgo(metaRead, opts.CheckpointAgo)
	}
	if err != nil {
		return nil, err
	}
	sb := checkpoint.Superblock
	checkpointXid := sb.NxO.OXid

	// The container's own object map is itself a physical object: it is
	// read directly, never resolved through another object map.
	omapRaw, err := metaRead(uint64(sb.NxOmapOid))
	if err != nil {
		return nil, fmt.Errorf("%w: reading container object map: %v", apfserrors.ErrReadFailed, err)
	}
	physFetch := func(oid types.OidT) ([]byte, error) { return metaRead(uint64(oid)) }
	omap, err := objectmap.Load(omapRaw, physFetch)
	if err != nil {
		return nil, err
	}

	rawReadCount := func(block uint64, count uint64) ([]byte, error) {
		return dev.ReadBytes(block*uint64(blockSize), int(count*uint64(blockSize)))
	}

	m := &Mount{
		dev:        dev,
		cache:      bc,
		blockSize:  blockSize,
		checkpoint: checkpoint,
		omap:       omap,
		plane:      plane,
		opts:       opts,
	}

	keybagBlock := uint64(sb.NxKeylocker.PrStartPaddr)
	keybagCount := sb.NxKeylocker.PrBlockCount

	volIdx := 0
	for i := 0; i < types.NxMaxFileSystems; i++ {
		oid := sb.NxFsOid[i]
		if oid == 0 {
			continue
		}

		// NxFsOid entries are virtual object ids, resolved through the
		// container's own object map at the selected checkpoint's xid.
		paddr, _, _, err := omap.Resolve(oid, checkpointXid)
		if err != nil {
			return nil, fmt.Errorf("%w: resolving volume %d superblock: %v", apfserrors.ErrReadFailed, i, err)
		}
		volSBRaw, err := metaRead(uint64(paddr))
		if err != nil {
			return nil, fmt.Errorf("%w: reading volume %d superblock: %v", apfserrors.ErrReadFailed, i, err)
		}
		volSB, err := volume.ParseSuperblock(volSBRaw)
		if err != nil {
			return nil, fmt.Errorf("%w: parsing volume %d superblock: %v", apfserrors.ErrCorruptMetadata, i, err)
		}

		encrypted := volSB.ApfsFsFlags&types.ApfsFsUnencrypted == 0
		var vek []byte
		locked := false
		if encrypted {
			password := ""
			if volIdx < len(opts.Passwords) {
				password = opts.Passwords[volIdx]
			}
			state, err := keybag.LoadVolumeKey(rawReadCount, plane, sb.NxUuid, keybagBlock, keybagCount, checkpointXid, volSB.ApfsVolUuid, password)
			if err != nil {
				return nil, fmt.Errorf("%w: recovering volume %d key: %v", apfserrors.ErrReadFailed, i, err)
			}
			if state.CanDecrypt {
				vek = state.VEK
			} else {
				locked = true
			}
		}

		mv := &mountedVolume{
			index:     volIdx,
			volumeXid: volSB.ApfsO.OXid,
			vek:       vek,
			locked:    locked,
			encrypted: encrypted,
		}
		mv.physFetch = func(block uint64) ([]byte, error) {
			reader := func(b uint64) ([]byte, error) {
				raw, err := rawRead(b)
				if err != nil {
					return nil, err
				}
				if encrypted && !locked {
					buf := append([]byte(nil), raw...)
					if err := plane.DecryptVolumeMetaBlock(vek, b*uint64(blockSize), buf); err != nil {
						return nil, err
					}
					return buf, nil
				}
				return raw, nil
			}
			h, err := bc.Get(block, true, reader)
			if err != nil {
				return nil, err
			}
			defer bc.Release(h)
			return append([]byte(nil), h.Data()...), nil
		}

		if locked {
			mv.vol = &volume.Volume{Superblock: volSB, Locked: true}
		} else {
			vol, err := volume.Load(volSBRaw, mv.physFetch, mv.volumeXid)
			if err != nil {
				return nil, fmt.Errorf("%w: loading volume %d: %v", apfserrors.ErrReadFailed, i, err)
			}
			mv.vol = vol
		}

		m.volumes = append(m.volumes, mv)
		volIdx++
	}

	if len(m.volumes) == 0 {
		return nil, fmt.Errorf("%w: container has no mountable volumes", apfserrors.ErrCorruptMetadata)
	}
	return m, nil
}

// Unmount releases the mount's device handle, if it supports closing.
func (m *Mount) Unmount() error {
	if c, ok := m.dev.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}

// Volumes reports every mounted volume, in file-system-object-array order.
func (m *Mount) Volumes() []VolumeInfo {
	infos := make([]VolumeInfo, len(m.volumes))
	for i, mv := range m.volumes {
		infos[i] = VolumeInfo{
			Index:     mv.index,
			UUID:      mv.vol.Superblock.ApfsVolUuid,
			RootInode: types.RootDirInoNum,
			Locked:    mv.locked,
			Encrypted: mv.encrypted,
		}
		if !mv.locked {
			infos[i].Name = volume.Name(mv.vol.Superblock)
			infos[i].CaseInsensitive = mv.vol.CaseInsensitive
		}
	}
	return infos
}

func (m *Mount) volumeByIndex(i int) (*mountedVolume, error) {
	for _, mv := range m.volumes {
		if mv.index == i {
			return mv, nil
		}
	}
	return nil, fmt.Errorf("%w: no mounted volume at index %d", apfserrors.ErrNotFound, i)
}

// log2PowerOfTwo returns n's base-2 logarithm, assuming n is a power of two.
func log2PowerOfTwo(n uint32) uint {
	var l uint
	for n > 1 {
		n >>= 1
		l++
	}
	return l
}
