package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/deploymenttheory/go-apfs/internal/fsapi"
	"github.com/deploymenttheory/go-apfs/pkg/app"
)

var (
	// Source and destination (extract-specific)
	extractSource string
	extractDest   string

	// Extraction options (extract-specific)
	extractRecursive  bool
	preserveMetadata  bool
	preservePerms     bool
	overwriteExisting bool
	verifyExtraction  bool

	volumeName   string
	volumeID     uint64
	snapshotName string
)

var extractCmd = &cobra.Command{
	Use:   "extract [container-path]",
	Short: "Extract files, directories, or volumes",
	Long: `Extract files from APFS containers.

Examples:
  # Extract entire volume
  go-apfs extract /dev/disk2 --volume-name "Macintosh HD" --dest ./backup

  # Extract specific directory
  go-apfs extract /dev/disk2 --source /Users/alice --dest ./alice-backup --recursive

  # Extract from snapshot
  go-apfs extract backup.dmg --snapshot "Daily-2024-01-15" --source /Documents --dest ./docs`,

	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runExtract(args[0])
	},
}

func init() {
	rootCmd.AddCommand(extractCmd)

	// Source and destination (extract-specific flags only)
	extractCmd.Flags().StringVarP(&extractSource, "source", "s", "", "source path (default: entire volume)")
	extractCmd.Flags().StringVarP(&extractDest, "dest", "d", "", "destination path (required)")
	extractCmd.MarkFlagRequired("dest")

	// Extraction behavior
	extractCmd.Flags().BoolVarP(&extractRecursive, "recursive", "r", false, "extract recursively")
	extractCmd.Flags().BoolVar(&preserveMetadata, "preserve-metadata", true, "preserve metadata")
	extractCmd.Flags().BoolVar(&preservePerms, "preserve-perms", true, "preserve permissions")
	extractCmd.Flags().BoolVar(&overwriteExisting, "overwrite", false, "overwrite existing files")
	extractCmd.Flags().BoolVar(&verifyExtraction, "verify", false, "verify extraction integrity")

	extractCmd.Flags().Uint64Var(&volumeID, "volume-id", 0, "volume ID to extract from")
	extractCmd.Flags().StringVar(&volumeName, "volume-name", "", "volume name to extract from")
	extractCmd.Flags().StringVar(&snapshotName, "snapshot", "", "snapshot to extract from")
	extractCmd.MarkFlagsMutuallyExclusive("volume-id", "volume-name")
}

func runExtract(containerPath string) error {
	target := app.VolumeTarget{VolumeID: volumeID, VolumeName: volumeName, Snapshot: snapshotName}
	oc, err := app.OpenTarget(containerPath, target, nil)
	if err != nil {
		return err
	}
	defer oc.Close()

	root := oc.Root
	srcPath := "/"
	if extractSource != "" {
		srcPath = extractSource
		root, err = app.ResolvePath(oc.Root, extractSource)
		if err != nil {
			return err
		}
	}

	info, err := root.Stat()
	if err != nil {
		return err
	}

	if info.IsDir {
		if !extractRecursive && extractSource != "" {
			return fmt.Errorf("%s is a directory; pass --recursive to extract it", srcPath)
		}
		if err := os.MkdirAll(extractDest, 0o755); err != nil {
			return fmt.Errorf("creating destination directory: %w", err)
		}
		return app.Walk(root, srcPath, true, func(v app.VisitedFile) error {
			return extractEntry(v, srcPath, extractDest)
		})
	}
	return writeExtractedFile(root, info, filepath.Join(extractDest, filepath.Base(srcPath)))
}

// extractEntry materializes one walked entry under destRoot, at the same
// relative position it held under rootPath.
func extractEntry(v app.VisitedFile, rootPath, destRoot string) error {
	rel, err := filepath.Rel(rootPath, v.Path)
	if err != nil {
		return err
	}
	destPath := filepath.Join(destRoot, rel)

	if v.Info.IsDir {
		if err := os.MkdirAll(destPath, 0o755); err != nil {
			return err
		}
		return applyMetadata(destPath, v.Info)
	}
	if v.Info.IsSymlink {
		return extractSymlink(v.Ref, v.Info, destPath)
	}
	return writeExtractedFile(v.Ref, v.Info, destPath)
}

func writeExtractedFile(ref *fsapi.InodeRef, info fsapi.FileInfo, destPath string) error {
	if info.IsSymlink {
		return extractSymlink(ref, info, destPath)
	}

	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return err
	}
	if !overwriteExisting {
		if _, err := os.Stat(destPath); err == nil {
			return fmt.Errorf("%s already exists (pass --overwrite to replace it)", destPath)
		}
	}

	out, err := os.OpenFile(destPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("creating %s: %w", destPath, err)
	}
	defer out.Close()

	const chunkSize = 1 << 20
	buf := make([]byte, chunkSize)
	var offset uint64
	for offset < info.Size {
		want := buf
		if remaining := info.Size - offset; remaining < uint64(len(buf)) {
			want = buf[:remaining]
		}
		n, err := ref.Read(offset, want)
		if n > 0 {
			if _, werr := out.Write(want[:n]); werr != nil {
				return fmt.Errorf("writing %s: %w", destPath, werr)
			}
		}
		if err != nil {
			return fmt.Errorf("reading file data: %w", err)
		}
		if n == 0 {
			break
		}
		offset += uint64(n)
	}

	if verifyExtraction {
		if err := verifyExtractedSize(destPath, info.Size); err != nil {
			return err
		}
	}

	return applyMetadata(destPath, info)
}

func extractSymlink(ref *fsapi.InodeRef, info fsapi.FileInfo, destPath string) error {
	buf := make([]byte, 4096)
	n, err := ref.Readlink(buf)
	if err != nil {
		return fmt.Errorf("reading symlink target: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return err
	}
	if overwriteExisting {
		os.Remove(destPath)
	}
	return os.Symlink(string(buf[:n]), destPath)
}

func verifyExtractedSize(destPath string, wantSize uint64) error {
	stat, err := os.Stat(destPath)
	if err != nil {
		return err
	}
	if uint64(stat.Size()) != wantSize {
		return fmt.Errorf("%s: extracted %d bytes, expected %d", destPath, stat.Size(), wantSize)
	}
	return nil
}

// applyMetadata restores permission bits and modification time on the
// already-written destPath, honoring --preserve-perms/--preserve-metadata.
func applyMetadata(destPath string, info fsapi.FileInfo) error {
	if preservePerms {
		if err := os.Chmod(destPath, os.FileMode(info.Mode&0o777)); err != nil && !os.IsPermission(err) {
			return fmt.Errorf("setting permissions on %s: %w", destPath, err)
		}
	}
	if preserveMetadata {
		modTime := app.NanoTime(info.ModTime)
		accessTime := app.NanoTime(info.AccessTime)
		if err := os.Chtimes(destPath, accessTime, modTime); err != nil {
			return fmt.Errorf("setting timestamps on %s: %w", destPath, err)
		}
	}
	return nil
}
