package port

// SpaceCheckResult contains detailed space availability information
type SpaceCheckResult struct {
	HasSpace           bool
	RequiredBytes      int64
	FreeBytes          uint64
	DiskUsedPct        float64
	MaxDiskUsagePct    float64
	LimitedByFreeSpace bool
	LimitedByDiskUsage bool
}

// SpaceChecker decides whether a download of a given size fits on disk
type SpaceChecker interface {
	// CheckSpace checks if dir can take size more bytes
	CheckSpace(dir string, size int64) (*SpaceCheckResult, error)
}
