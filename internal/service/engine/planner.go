package engine

import (
	"github.com/vertextoedge/segfetch/internal/domain"
)

// Plan splits totalBytes into contiguous inclusive ranges.
//
//	count = clamp(floor(total / minSegmentSize), 1, maxSegments)
//	size  = ceil(total / count)
//
// Unknown size, missing range support, or total <= minSegmentSize yields a
// single range; End is -1 when the size is unknown.
func Plan(totalBytes, minSegmentSize int64, maxSegments int, acceptsRanges bool) []domain.Range {
	if totalBytes <= 0 {
		return []domain.Range{{Start: 0, End: -1}}
	}
	if !acceptsRanges || minSegmentSize <= 0 || totalBytes <= minSegmentSize || maxSegments <= 1 {
		return []domain.Range{{Start: 0, End: totalBytes - 1}}
	}

	count := totalBytes / minSegmentSize
	if count < 1 {
		count = 1
	}
	if count > int64(maxSegments) {
		count = int64(maxSegments)
	}
	size := (totalBytes + count - 1) / count

	ranges := make([]domain.Range, 0, count)
	for start := int64(0); start < totalBytes; start += size {
		end := start + size - 1
		if end >= totalBytes {
			end = totalBytes - 1
		}
		ranges = append(ranges, domain.Range{Start: start, End: end})
	}
	return ranges
}

// segmentsFor materializes a plan into segments with scratch paths for dest
func segmentsFor(ranges []domain.Range, dest string, scratchPath func(dest string, index int) string) []domain.Segment {
	segments := make([]domain.Segment, len(ranges))
	for i, r := range ranges {
		segments[i] = domain.Segment{
			Index:       i,
			Start:       r.Start,
			End:         r.End,
			ScratchPath: scratchPath(dest, i),
		}
	}
	return segments
}
