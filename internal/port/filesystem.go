package port

import (
	"io"
	"time"
)

// DiskUsage represents disk usage statistics
type DiskUsage struct {
	Total   uint64  // Total disk space in bytes
	Used    uint64  // Used disk space in bytes
	Free    uint64  // Free disk space in bytes
	UsedPct float64 // Used percentage (0-100)
}

// WriteFile is an open destination or scratch file
type WriteFile interface {
	io.Writer
	io.Closer
	Sync() error
}

// FileSystem defines the local file operations used by the download engine
type FileSystem interface {
	// EnsureDir ensures the directory for a file path exists
	EnsureDir(filePath string) error

	// ScratchPath returns the scratch file path for segment index of dest
	ScratchPath(dest string, index int) string

	// OpenAt opens path for writing positioned at offset.
	// The file is created if missing and truncated to offset.
	OpenAt(path string, offset int64) (WriteFile, error)

	// Open opens path for reading
	Open(path string) (io.ReadCloser, error)

	// FileSize returns the size of path, or 0 if it does not exist
	FileSize(path string) (int64, error)

	// Remove deletes path. A missing file is not an error.
	Remove(path string) error

	// Rename moves oldPath to newPath
	Rename(oldPath, newPath string) error

	// UniquePath returns path, or "name (n).ext" if path is taken
	UniquePath(path string) string

	// GetDiskUsage returns disk usage statistics for the volume holding dir
	GetDiskUsage(dir string) (*DiskUsage, error)

	// CleanOldScratchFiles removes scratch files under dir older than the specified duration.
	// Returns the number of files deleted
	CleanOldScratchFiles(dir string, olderThan time.Duration, keep func(path string) bool) (int, error)
}
