package domain

import (
	"fmt"
	"time"
)

// Range is an inclusive byte range. End == -1 means "to end of file".
type Range struct {
	Start int64 `json:"start"`
	End   int64 `json:"end"`
}

// Length returns the number of bytes covered, or -1 when open-ended
func (r Range) Length() int64 {
	if r.End < 0 {
		return -1
	}
	return r.End - r.Start + 1
}

// Segment is one contiguous byte range fetched by a single worker
type Segment struct {
	Index       int    `json:"index"`
	Start       int64  `json:"start"`
	End         int64  `json:"end"`
	Received    int64  `json:"received"`
	Retries     int    `json:"retries,omitempty"`
	ScratchPath string `json:"scratch_path,omitempty"`
	Speed       int64  `json:"speed,omitempty"`
}

// Length returns the segment size in bytes
func (s Segment) Length() int64 {
	return s.End - s.Start + 1
}

// Complete returns true once every byte of the range has been received
func (s Segment) Complete() bool {
	return s.Received >= s.Length()
}

// Descriptor is the record of one download's identity, progress and status
type Descriptor struct {
	ID            string    `json:"id"`
	URL           string    `json:"url"`
	FinalURL      string    `json:"final_url,omitempty"`
	Filename      string    `json:"filename"`
	Path          string    `json:"path"`
	FilenameFixed bool      `json:"filename_fixed,omitempty"`
	ContentType   string    `json:"content_type,omitempty"`
	Referrer      string    `json:"referrer,omitempty"`
	TotalBytes    int64     `json:"total_bytes"`
	ReceivedBytes int64     `json:"received_bytes"`
	AcceptsRanges bool      `json:"accepts_ranges"`
	Status        Status    `json:"status"`
	Priority      Priority  `json:"priority"`
	Speed         int64     `json:"speed"`
	Segments      []Segment `json:"segments,omitempty"`
	LastError     string    `json:"error,omitempty"`
	QueuePosition int       `json:"queue_position,omitempty"`

	AddedAt     time.Time  `json:"added_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Progress returns the completion percentage clamped to [0, 100]
func (d *Descriptor) Progress() float64 {
	if d.TotalBytes <= 0 {
		if d.Status == StatusCompleted {
			return 100
		}
		return 0
	}
	p := float64(d.ReceivedBytes) * 100 / float64(d.TotalBytes)
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}

// SumSegments recomputes ReceivedBytes and Speed from the segments.
// It is a no-op for single-stream downloads.
func (d *Descriptor) SumSegments() {
	if len(d.Segments) == 0 {
		return
	}
	var received, speed int64
	for _, s := range d.Segments {
		received += s.Received
		speed += s.Speed
	}
	d.ReceivedBytes = received
	d.Speed = speed
}

// Clone returns a deep copy
func (d *Descriptor) Clone() *Descriptor {
	if d == nil {
		return nil
	}
	c := *d
	if d.Segments != nil {
		c.Segments = make([]Segment, len(d.Segments))
		copy(c.Segments, d.Segments)
	}
	if d.StartedAt != nil {
		t := *d.StartedAt
		c.StartedAt = &t
	}
	if d.CompletedAt != nil {
		t := *d.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

// TransitionTo moves d to next. Staying in the current status is allowed;
// any move outside the state machine returns ErrInvalidStateTransition.
func (d *Descriptor) TransitionTo(next Status) error {
	if d.Status == next {
		return nil
	}
	if !d.Status.CanTransition(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidStateTransition, d.Status, next)
	}
	d.Status = next
	return nil
}

// MarkStarted records the first admission time
func (d *Descriptor) MarkStarted(now time.Time) {
	if d.StartedAt == nil {
		d.StartedAt = &now
	}
}

// MarkCompleted sets the completed state and timestamp
func (d *Descriptor) MarkCompleted(now time.Time) {
	d.Status = StatusCompleted
	d.Speed = 0
	d.LastError = ""
	d.CompletedAt = &now
	if d.TotalBytes <= 0 {
		d.TotalBytes = d.ReceivedBytes
	}
}

// MarkFailed sets the error state with a message
func (d *Descriptor) MarkFailed(err error) {
	d.Status = StatusError
	d.Speed = 0
	if err != nil {
		d.LastError = err.Error()
	}
}

// FileInfo is what the resolver learned about a remote resource
type FileInfo struct {
	TotalBytes    int64
	ContentType   string
	Filename      string
	AcceptsRanges bool
	FinalURL      string
	LastModified  string
	StatusCode    int
}
