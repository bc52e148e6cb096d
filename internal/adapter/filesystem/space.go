package filesystem

import (
	"github.com/vertextoedge/segfetch/internal/port"
)

// SpaceManager handles space availability checks for downloads
type SpaceManager struct {
	fs              diskUsager
	reserveBytes    uint64
	maxDiskUsagePct float64
}

type diskUsager interface {
	GetDiskUsage(dir string) (*port.DiskUsage, error)
}

// NewSpaceManager creates a new SpaceManager.
// reserveBytes is always kept free; maxDiskUsagePct <= 0 disables the usage ceiling.
func NewSpaceManager(fs diskUsager, reserveBytes int64, maxDiskUsagePct float64) *SpaceManager {
	if reserveBytes < 0 {
		reserveBytes = 0
	}
	return &SpaceManager{
		fs:              fs,
		reserveBytes:    uint64(reserveBytes),
		maxDiskUsagePct: maxDiskUsagePct,
	}
}

// CheckSpace checks if dir can take size more bytes
func (sm *SpaceManager) CheckSpace(dir string, size int64) (*port.SpaceCheckResult, error) {
	result := &port.SpaceCheckResult{
		RequiredBytes:   size,
		MaxDiskUsagePct: sm.maxDiskUsagePct,
	}

	usage, err := sm.fs.GetDiskUsage(dir)
	if err != nil {
		return nil, err
	}
	result.FreeBytes = usage.Free
	result.DiskUsedPct = usage.UsedPct

	if size <= 0 {
		result.HasSpace = true
		return result, nil
	}

	if usage.Free < uint64(size)+sm.reserveBytes {
		result.LimitedByFreeSpace = true
		return result, nil
	}

	// Check if adding this file would exceed disk limit
	if sm.maxDiskUsagePct > 0 && usage.Total > 0 {
		newUsedPct := float64(usage.Used+uint64(size)) / float64(usage.Total) * 100
		if newUsedPct > sm.maxDiskUsagePct {
			result.LimitedByDiskUsage = true
			return result, nil
		}
	}

	result.HasSpace = true
	return result, nil
}

// Ensure SpaceManager implements port.SpaceChecker
var _ port.SpaceChecker = (*SpaceManager)(nil)
