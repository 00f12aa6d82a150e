// Package diskspace provides utilities for checking available disk space
// before starting a large download.
package diskspace

import (
	"fmt"
	"path/filepath"
)

// InsufficientSpaceError indicates that there is not enough disk space available.
type InsufficientSpaceError struct {
	Path           string
	RequiredBytes  int64
	AvailableBytes int64
}

func (e *InsufficientSpaceError) Error() string {
	requiredMB := float64(e.RequiredBytes) / (1024 * 1024)
	availableMB := float64(e.AvailableBytes) / (1024 * 1024)
	return fmt.Sprintf("insufficient disk space for %s: need %.2f MB, have %.2f MB available",
		e.Path, requiredMB, availableMB)
}

// CheckAvailableSpace checks if there is sufficient disk space for a file
// operation on the filesystem where targetPath will be created.
//
// Parameters:
//   - targetPath: the path where the file will be created (can be non-existent)
//   - requiredBytes: the number of bytes needed
//   - safetyMargin: multiplier for safety (e.g., 1.1 for 10% buffer)
//
// Returns an InsufficientSpaceError if there is not enough space.
func CheckAvailableSpace(targetPath string, requiredBytes int64, safetyMargin float64) error {
	// The containing directory must exist for the filesystem stat.
	dir := filepath.Dir(targetPath)

	availableBytes := availableSpace(dir)
	if availableBytes == 0 {
		// If the filesystem can't be statted the check is skipped and the
		// operation is allowed to fail naturally. This covers network and
		// virtual filesystems.
		return nil
	}

	requiredWithMargin := int64(float64(requiredBytes) * safetyMargin)
	if availableBytes < requiredWithMargin {
		return &InsufficientSpaceError{
			Path:           targetPath,
			RequiredBytes:  requiredWithMargin,
			AvailableBytes: availableBytes,
		}
	}

	return nil
}

// GetAvailableSpace returns the available space in bytes for the filesystem
// containing the given path. Returns 0 if unable to determine.
func GetAvailableSpace(path string) int64 {
	return availableSpace(filepath.Dir(path))
}

// IsInsufficientSpaceError checks if an error is an InsufficientSpaceError.
func IsInsufficientSpaceError(err error) bool {
	_, ok := err.(*InsufficientSpaceError)
	return ok
}
