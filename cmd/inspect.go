package cmd

import (
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/deploymenttheory/go-apfs/pkg/app"
)

var (
	inspectVolumeID   uint64
	inspectVolumeName string
)

func inspectTarget() app.VolumeTarget {
	return app.VolumeTarget{VolumeID: inspectVolumeID, VolumeName: inspectVolumeName}
}

func addVolumeFlags(c *cobra.Command) {
	c.Flags().Uint64Var(&inspectVolumeID, "volume-id", 0, "volume ID")
	c.Flags().StringVar(&inspectVolumeName, "volume-name", "", "volume name")
	c.MarkFlagsMutuallyExclusive("volume-id", "volume-name")
}

var statCmd = &cobra.Command{
	Use:   "stat [container-path] [path]",
	Short: "Print one file or directory's metadata",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		oc, err := app.OpenTarget(args[0], inspectTarget(), nil)
		if err != nil {
			return err
		}
		defer oc.Close()

		ref, err := app.ResolvePath(oc.Root, args[1])
		if err != nil {
			return err
		}
		info, err := ref.Stat()
		if err != nil {
			return err
		}
		fmt.Printf("Inode:       %d\n", info.InodeID)
		fmt.Printf("Mode:        %s\n", app.FormatMode(info.Mode))
		fmt.Printf("Links:       %d\n", info.NLink)
		fmt.Printf("Owner:Group: %d:%d\n", info.UID, info.GID)
		fmt.Printf("Size:        %d\n", info.Size)
		fmt.Printf("Created:     %s\n", app.NanoTime(info.CreateTime))
		fmt.Printf("Modified:    %s\n", app.NanoTime(info.ModTime))
		fmt.Printf("Changed:     %s\n", app.NanoTime(info.ChangeTime))
		fmt.Printf("Accessed:    %s\n", app.NanoTime(info.AccessTime))
		fmt.Printf("Compressed:  %v\n", info.Compressed)
		return nil
	},
}

var catCmd = &cobra.Command{
	Use:   "cat [container-path] [path]",
	Short: "Print a file's contents to stdout",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		oc, err := app.OpenTarget(args[0], inspectTarget(), nil)
		if err != nil {
			return err
		}
		defer oc.Close()

		ref, err := app.ResolvePath(oc.Root, args[1])
		if err != nil {
			return err
		}
		info, err := ref.Stat()
		if err != nil {
			return err
		}
		if info.IsSymlink {
			buf := make([]byte, 4096)
			n, err := ref.Readlink(buf)
			if err != nil {
				return err
			}
			fmt.Println(string(buf[:n]))
			return nil
		}
		const chunkSize = 1 << 20
		buf := make([]byte, chunkSize)
		var offset uint64
		for offset < info.Size {
			n, err := ref.Read(offset, buf)
			if n > 0 {
				os.Stdout.Write(buf[:n])
			}
			if err != nil {
				return err
			}
			if n == 0 {
				break
			}
			offset += uint64(n)
		}
		return nil
	},
}

var listEACmd = &cobra.Command{
	Use:   "listea [container-path] [path]",
	Short: "List a file's extended attribute names",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		oc, err := app.OpenTarget(args[0], inspectTarget(), nil)
		if err != nil {
			return err
		}
		defer oc.Close()

		ref, err := app.ResolvePath(oc.Root, args[1])
		if err != nil {
			return err
		}
		buf := make([]byte, 64*1024)
		n, err := ref.ListEA(buf)
		if err != nil {
			return err
		}
		for _, name := range splitNulTerminated(buf[:n]) {
			fmt.Println(name)
		}
		return nil
	},
}

var getEACmd = &cobra.Command{
	Use:   "getea [container-path] [path] [attr-name]",
	Short: "Print one extended attribute's value",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		oc, err := app.OpenTarget(args[0], inspectTarget(), nil)
		if err != nil {
			return err
		}
		defer oc.Close()

		ref, err := app.ResolvePath(oc.Root, args[1])
		if err != nil {
			return err
		}
		buf := make([]byte, 64*1024)
		n, err := ref.GetEA(args[2], buf)
		if err != nil {
			return err
		}
		os.Stdout.Write(buf[:n])
		return nil
	},
}

var infoCmd = &cobra.Command{
	Use:   "info [container-path]",
	Short: "Print container and volume metadata",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		oc, err := app.OpenTarget(args[0], app.VolumeTarget{}, nil)
		if err != nil {
			return err
		}
		defer oc.Close()

		for _, v := range oc.Mount.Volumes() {
			fmt.Printf("Volume %d: %s\n", v.Index, v.Name)
			fmt.Printf("  UUID:      %s\n", uuid.UUID(v.UUID).String())
			fmt.Printf("  Locked:    %v\n", v.Locked)
			fmt.Printf("  Encrypted: %v\n", v.Encrypted)
		}
		return nil
	},
}

func splitNulTerminated(b []byte) []string {
	var out []string
	start := 0
	for i, c := range b {
		if c == 0 {
			if i > start {
				out = append(out, string(b[start:i]))
			}
			start = i + 1
		}
	}
	return out
}

func init() {
	rootCmd.AddCommand(statCmd, catCmd, listEACmd, getEACmd, infoCmd)
	addVolumeFlags(statCmd)
	addVolumeFlags(catCmd)
	addVolumeFlags(listEACmd)
	addVolumeFlags(getEACmd)
}
