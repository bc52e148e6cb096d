package filesystem

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/vertextoedge/segfetch/internal/port"
)

// scratchSuffix marks per-segment scratch files: "<dest>.seg<i>"
const scratchSuffix = ".seg"

var scratchPattern = regexp.MustCompile(`\.seg\d+$`)

// Manager handles local filesystem operations
type Manager struct {
	bufferSize int
}

// Ensure Manager implements port.FileSystem
var _ port.FileSystem = (*Manager)(nil)

// NewManager creates a new filesystem manager
func NewManager() *Manager {
	return NewManagerWithBufferSize(256 * 1024)
}

// NewManagerWithBufferSize creates a new filesystem manager with custom copy buffer size
func NewManagerWithBufferSize(bufferSize int) *Manager {
	if bufferSize <= 0 {
		bufferSize = 256 * 1024
	}
	return &Manager{bufferSize: bufferSize}
}

// BufferSize returns the copy buffer size
func (m *Manager) BufferSize() int {
	return m.bufferSize
}

// EnsureDir ensures the directory for a file path exists
func (m *Manager) EnsureDir(filePath string) error {
	dir := filepath.Dir(filePath)
	return os.MkdirAll(dir, 0755)
}

// ScratchPath returns the scratch file path for segment index of dest
func (m *Manager) ScratchPath(dest string, index int) string {
	return dest + scratchSuffix + strconv.Itoa(index)
}

// OpenAt opens path for writing positioned at offset
func (m *Manager) OpenAt(path string, offset int64) (port.WriteFile, error) {
	if err := m.EnsureDir(path); err != nil {
		return nil, fmt.Errorf("failed to create parent dir: %w", err)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	if offset < 0 {
		offset = 0
	}
	if err := f.Truncate(offset); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to truncate file: %w", err)
	}
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to seek file: %w", err)
	}
	return f, nil
}

// Open opens path for reading
func (m *Manager) Open(path string) (io.ReadCloser, error) {
	return os.Open(path)
}

// FileSize returns the size of path, or 0 if it does not exist
func (m *Manager) FileSize(path string) (int64, error) {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// Remove deletes a file
func (m *Manager) Remove(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete file: %w", err)
	}
	return nil
}

// Rename moves oldPath to newPath
func (m *Manager) Rename(oldPath, newPath string) error {
	if oldPath == newPath {
		return nil
	}
	if err := m.EnsureDir(newPath); err != nil {
		return fmt.Errorf("failed to create parent dir: %w", err)
	}
	if err := os.Rename(oldPath, newPath); err != nil {
		return fmt.Errorf("failed to rename file: %w", err)
	}
	return nil
}

// UniquePath returns path if nothing exists there, otherwise the first
// free "name (n).ext" sibling.
func (m *Manager) UniquePath(path string) string {
	if !exists(path) {
		return path
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	ext := filepath.Ext(base)
	name := strings.TrimSuffix(base, ext)

	for n := 1; ; n++ {
		candidate := filepath.Join(dir, fmt.Sprintf("%s (%d)%s", name, n, ext))
		if !exists(candidate) {
			return candidate
		}
	}
}

// CleanOldScratchFiles removes scratch files older than the specified duration.
// Files for which keep returns true are left alone.
func (m *Manager) CleanOldScratchFiles(dir string, olderThan time.Duration, keep func(path string) bool) (int, error) {
	count := 0
	threshold := time.Now().Add(-olderThan)

	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if info.IsDir() {
			if path != dir {
				return filepath.SkipDir
			}
			return nil
		}
		if !scratchPattern.MatchString(path) || !info.ModTime().Before(threshold) {
			return nil
		}
		if keep != nil && keep(path) {
			return nil
		}
		if removeErr := os.Remove(path); removeErr == nil {
			count++
		}
		return nil
	})
	return count, err
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// existingAncestor walks up from dir to the first directory that exists
func existingAncestor(dir string) string {
	for {
		if _, err := os.Stat(dir); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return dir
		}
		dir = parent
	}
}
