package event

import (
	"time"

	"github.com/vertextoedge/segfetch/internal/domain"
)

// Event names
const (
	NameQueued    = "download.queued"
	NameAdmitted  = "download.admitted"
	NameProgress  = "download.progress"
	NameCompleted = "download.completed"
	NameFailed    = "download.failed"
	NamePaused    = "download.paused"
	NameResumed   = "download.resumed"
	NameCancelled = "download.cancelled"
	NameReordered = "download.reordered"
	NameAllEvents = "*"
)

// DomainEvent is the interface for all domain events
type DomainEvent interface {
	// EventName returns the name of the event
	EventName() string
	// OccurredAt returns when the event occurred
	OccurredAt() time.Time
}

// DownloadEvent is a DomainEvent about a single download
type DownloadEvent interface {
	DomainEvent
	DownloadID() string
	Snapshot() *domain.Descriptor
}

// BaseEvent provides common fields for all download events
type BaseEvent struct {
	Timestamp  time.Time
	ID         string
	Descriptor *domain.Descriptor
}

// OccurredAt returns when the event occurred
func (e BaseEvent) OccurredAt() time.Time {
	return e.Timestamp
}

// DownloadID returns the download identifier
func (e BaseEvent) DownloadID() string {
	return e.ID
}

// Snapshot returns the descriptor copy taken when the event was raised
func (e BaseEvent) Snapshot() *domain.Descriptor {
	return e.Descriptor
}

func newBase(d *domain.Descriptor) BaseEvent {
	return BaseEvent{Timestamp: time.Now(), ID: d.ID, Descriptor: d.Clone()}
}

// DownloadQueued is raised when a download enters the waiting list
type DownloadQueued struct {
	BaseEvent
	Position int
}

// EventName returns the event name
func (e DownloadQueued) EventName() string { return NameQueued }

// NewDownloadQueued creates a new DownloadQueued event
func NewDownloadQueued(d *domain.Descriptor, position int) DownloadQueued {
	return DownloadQueued{BaseEvent: newBase(d), Position: position}
}

// DownloadAdmitted is raised when the queue grants a download an active slot.
// Receiving it is the signal to start transferring.
type DownloadAdmitted struct {
	BaseEvent
}

// EventName returns the event name
func (e DownloadAdmitted) EventName() string { return NameAdmitted }

// NewDownloadAdmitted creates a new DownloadAdmitted event
func NewDownloadAdmitted(d *domain.Descriptor) DownloadAdmitted {
	return DownloadAdmitted{BaseEvent: newBase(d)}
}

// DownloadProgress carries a throttled progress snapshot
type DownloadProgress struct {
	BaseEvent
}

// EventName returns the event name
func (e DownloadProgress) EventName() string { return NameProgress }

// NewDownloadProgress creates a new DownloadProgress event
func NewDownloadProgress(d *domain.Descriptor) DownloadProgress {
	return DownloadProgress{BaseEvent: newBase(d)}
}

// DownloadCompleted is raised after the destination file is final
type DownloadCompleted struct {
	BaseEvent
	Duration time.Duration
}

// EventName returns the event name
func (e DownloadCompleted) EventName() string { return NameCompleted }

// NewDownloadCompleted creates a new DownloadCompleted event
func NewDownloadCompleted(d *domain.Descriptor, duration time.Duration) DownloadCompleted {
	return DownloadCompleted{BaseEvent: newBase(d), Duration: duration}
}

// DownloadFailed is raised once the retry budget is exhausted or a fatal error occurs
type DownloadFailed struct {
	BaseEvent
	Err error
}

// EventName returns the event name
func (e DownloadFailed) EventName() string { return NameFailed }

// Message returns the error text
func (e DownloadFailed) Message() string {
	if e.Err == nil {
		return ""
	}
	return e.Err.Error()
}

// NewDownloadFailed creates a new DownloadFailed event
func NewDownloadFailed(d *domain.Descriptor, err error) DownloadFailed {
	return DownloadFailed{BaseEvent: newBase(d), Err: err}
}

// DownloadPaused is raised when in-flight transfers are stopped by request
type DownloadPaused struct {
	BaseEvent
}

// EventName returns the event name
func (e DownloadPaused) EventName() string { return NamePaused }

// NewDownloadPaused creates a new DownloadPaused event
func NewDownloadPaused(d *domain.Descriptor) DownloadPaused {
	return DownloadPaused{BaseEvent: newBase(d)}
}

// DownloadResumed is raised when a paused download restarts its transfers
type DownloadResumed struct {
	BaseEvent
}

// EventName returns the event name
func (e DownloadResumed) EventName() string { return NameResumed }

// NewDownloadResumed creates a new DownloadResumed event
func NewDownloadResumed(d *domain.Descriptor) DownloadResumed {
	return DownloadResumed{BaseEvent: newBase(d)}
}

// DownloadCancelled is raised when a download is abandoned
type DownloadCancelled struct {
	BaseEvent
}

// EventName returns the event name
func (e DownloadCancelled) EventName() string { return NameCancelled }

// NewDownloadCancelled creates a new DownloadCancelled event
func NewDownloadCancelled(d *domain.Descriptor) DownloadCancelled {
	return DownloadCancelled{BaseEvent: newBase(d)}
}

// DownloadReordered is raised when a waiting entry changes position or priority
type DownloadReordered struct {
	BaseEvent
	Position int
}

// EventName returns the event name
func (e DownloadReordered) EventName() string { return NameReordered }

// NewDownloadReordered creates a new DownloadReordered event
func NewDownloadReordered(d *domain.Descriptor, position int) DownloadReordered {
	return DownloadReordered{BaseEvent: newBase(d), Position: position}
}
