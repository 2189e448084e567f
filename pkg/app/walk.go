package app

import (
	"path"
	"time"

	"github.com/deploymenttheory/go-apfs/internal/fsapi"
	"github.com/deploymenttheory/go-apfs/internal/types"
)

// NanoTime converts an APFS on-disk timestamp (nanoseconds since the Unix
// epoch) to a time.Time.
func NanoTime(ns uint64) time.Time {
	return time.Unix(0, int64(ns))
}

// VisitedFile is one file or directory reached by Walk.
type VisitedFile struct {
	Path string
	Info fsapi.FileInfo
	Ref  *fsapi.InodeRef
}

// WalkFunc is called once per entry Walk visits. Returning an error stops
// the walk and propagates the error to Walk's caller.
type WalkFunc func(VisitedFile) error

// Walk visits dir (already opened, at rootPath) and, when recursive, every
// descendant reachable through Readdir, depth-first. dir itself is not
// passed to fn; only its contents are.
func Walk(dir *fsapi.InodeRef, rootPath string, recursive bool, fn WalkFunc) error {
	var dc fsapi.DirCursor
	for {
		entry, ok, err := dir.Readdir(&dc)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		if entry.Name == "." || entry.Name == ".." {
			continue
		}

		childPath := path.Join(rootPath, entry.Name)
		child, err := dir.Lookup(entry.Name)
		if err != nil {
			return err
		}
		info, err := child.Stat()
		if err != nil {
			return err
		}
		if err := fn(VisitedFile{Path: childPath, Info: info, Ref: child}); err != nil {
			return err
		}
		if recursive && info.IsDir {
			if err := Walk(child, childPath, true, fn); err != nil {
				return err
			}
		}
	}
}

// FormatMode renders a POSIX-style permission string (e.g. "-rw-r--r--",
// "drwxr-xr-x", "lrwxrwxrwx") from a stat mode word.
func FormatMode(mode types.ModeT) string {
	b := []byte("----------")
	switch mode & types.SIfmt {
	case types.SIfdir:
		b[0] = 'd'
	case types.SIflnk:
		b[0] = 'l'
	case types.SIfblk:
		b[0] = 'b'
	case types.SIfchr:
		b[0] = 'c'
	case types.SIfifo:
		b[0] = 'p'
	case types.SIfsock:
		b[0] = 's'
	}
	const perms = "rwxrwxrwx"
	for i := 0; i < 9; i++ {
		if mode&(1<<uint(8-i)) != 0 {
			b[1+i] = perms[i]
		}
	}
	return string(b)
}
