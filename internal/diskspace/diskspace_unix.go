//go:build !windows

package diskspace

import "golang.org/x/sys/unix"

// availableSpace returns the bytes available to non-root users on the
// filesystem containing dir, or 0 when it cannot be determined.
func availableSpace(dir string) int64 {
	var stat unix.Statfs_t
	if err := unix.Statfs(dir, &stat); err != nil {
		return 0
	}
	// Bavail = blocks available to non-root users, Bsize = block size.
	return int64(stat.Bavail) * int64(stat.Bsize)
}
