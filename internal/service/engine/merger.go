package engine

import (
	"fmt"
	"io"
	"sort"

	"github.com/vertextoedge/segfetch/internal/domain"
	"github.com/vertextoedge/segfetch/internal/port"
	"go.uber.org/multierr"
)

// Merge concatenates scratch files into dest in ascending segment index.
// Scratch files are left in place; on failure dest is left partial.
func Merge(fs port.FileSystem, dest string, segments []domain.Segment, bufferSize int) error {
	ordered := make([]domain.Segment, len(segments))
	copy(ordered, segments)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Index < ordered[j].Index })

	out, err := fs.OpenAt(dest, 0)
	if err != nil {
		return &domain.FilesystemError{Op: "create", Path: dest, Err: err}
	}

	if bufferSize <= 0 {
		bufferSize = 256 * 1024
	}
	buf := make([]byte, bufferSize)

	for _, seg := range ordered {
		if err := appendSegment(fs, out, seg, buf); err != nil {
			out.Close()
			return &domain.MergeError{Segment: seg.Index, Err: err}
		}
	}

	if err := multierr.Append(out.Sync(), out.Close()); err != nil {
		return &domain.FilesystemError{Op: "close", Path: dest, Err: err}
	}
	return nil
}

// RemoveScratch deletes the scratch files of segments, attempting every
// file and returning all failures combined.
func RemoveScratch(fs port.FileSystem, segments []domain.Segment) error {
	var errs error
	for _, seg := range segments {
		if err := fs.Remove(seg.ScratchPath); err != nil {
			errs = multierr.Append(errs, &domain.FilesystemError{Op: "remove", Path: seg.ScratchPath, Err: err})
		}
	}
	return errs
}

func appendSegment(fs port.FileSystem, out io.Writer, seg domain.Segment, buf []byte) error {
	in, err := fs.Open(seg.ScratchPath)
	if err != nil {
		return err
	}
	defer in.Close()

	n, err := io.CopyBuffer(out, in, buf)
	if err != nil {
		return err
	}
	if want := seg.Length(); seg.End >= 0 && n != want {
		return fmt.Errorf("scratch file holds %d bytes, want %d", n, want)
	}
	return nil
}
