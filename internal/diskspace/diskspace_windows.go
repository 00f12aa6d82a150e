//go:build windows

package diskspace

import "golang.org/x/sys/windows"

// availableSpace returns the bytes available on the volume containing dir,
// or 0 when it cannot be determined.
func availableSpace(dir string) int64 {
	pathPtr, err := windows.UTF16PtrFromString(dir)
	if err != nil {
		return 0
	}

	var freeBytesAvailable, totalBytes, totalFreeBytes uint64
	if err := windows.GetDiskFreeSpaceEx(pathPtr, &freeBytesAvailable, &totalBytes, &totalFreeBytes); err != nil {
		return 0
	}
	return int64(freeBytesAvailable)
}
