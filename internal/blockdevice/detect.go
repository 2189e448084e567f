package blockdevice

import (
	"fmt"

	"github.com/deploymenttheory/go-apfs/internal/endian"
	"github.com/deploymenttheory/go-apfs/internal/types"
	"github.com/spf13/viper"
)

// ContainerOffsetConfig controls how OpenFile locates an APFS container
// that isn't the first byte of its backing file — e.g. a raw disk image
// carrying a GPT header, or a .dmg payload with the container placed past
// a partition table. Loaded with LoadContainerOffsetConfig, which
// pkg/app's OpenTarget calls each time it opens a container.
type ContainerOffsetConfig struct {
	AutoDetect    bool    `mapstructure:"auto_detect_apfs"`
	DefaultOffset uint64  `mapstructure:"default_offset"`
	ProbeOffsets  []int64 `mapstructure:"probe_offsets"`
}

// LoadContainerOffsetConfig reads apfs-config.yaml (if present) from the
// current directory, ./config, $HOME/.apfs, or /etc/apfs, falling back to defaults
// tuned for the common GPT partition-start offsets macOS uses.
func LoadContainerOffsetConfig() (*ContainerOffsetConfig, error) {
	v := viper.New()
	v.SetConfigName("apfs-config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("$HOME/.apfs")
	v.AddConfigPath("/etc/apfs")

	v.SetDefault("auto_detect_apfs", true)
	v.SetDefault("default_offset", 20480)
	v.SetDefault("probe_offsets", []int64{0, 20480, 32768, 65536})

	v.SetEnvPrefix("APFS")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading apfs-config: %w", err)
		}
	}

	cfg := &ContainerOffsetConfig{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling apfs-config: %w", err)
	}
	return cfg, nil
}

// DetectContainerOffset scans head (the file's leading bytes, at least 64KB
// recommended) for the container superblock's magic at each of cfg's probe
// offsets, returning the first one whose nx_superblock_t.nx_magic field
// matches types.NxMagic. It reports cfg.DefaultOffset, found=false if none
// of the probe points carry a valid superblock.
func DetectContainerOffset(head []byte, cfg *ContainerOffsetConfig) (offset uint64, found bool) {
	const magicFieldOffset = 32 // nx_magic follows the 32-byte nx_o header, per nx_superblock_t layout
	for _, probe := range cfg.ProbeOffsets {
		magicAt := probe + magicFieldOffset
		if magicAt < 0 || magicAt+4 > int64(len(head)) {
			continue
		}
		if endian.U32(head[magicAt:magicAt+4]) == types.NxMagic {
			return uint64(probe), true
		}
	}
	return cfg.DefaultOffset, false
}
