//go:build linux || darwin || freebsd

package storage

import (
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// DiskFree returns the bytes available to unprivileged users on the file system
// holding path.  A path that doesn't exist yet is measured at its nearest existing
// parent.
func DiskFree(path string) (uint64, error) {
	path = existingParent(path)
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return 0, err
	}
	return uint64(st.Bavail) * uint64(st.Bsize), nil
}

func existingParent(path string) string {
	for {
		if _, err := os.Stat(path); err == nil {
			return path
		}
		parent := filepath.Dir(path)
		if parent == path {
			return path
		}
		path = parent
	}
}
