//go:build !(linux || darwin || freebsd)

package storage

import "fmt"

// DiskFree isn't supported on this platform.
func DiskFree(path string) (uint64, error) {
	return 0, fmt.Errorf("free disk space unavailable for %s on this platform", path)
}
