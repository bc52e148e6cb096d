package domain

// Status is the lifecycle state of a download
type Status string

// Download status constants
const (
	StatusPending     Status = "pending"
	StatusQueued      Status = "queued"
	StatusDownloading Status = "downloading"
	StatusPaused      Status = "paused"
	StatusCompleted   Status = "completed"
	StatusError       Status = "error"
	StatusCancelled   Status = "cancelled"
)

// Restorable reports whether a persisted download should be re-admitted at startup
func (s Status) Restorable() bool {
	switch s {
	case StatusPending, StatusQueued, StatusDownloading, StatusPaused:
		return true
	}
	return false
}

var transitions = map[Status][]Status{
	StatusPending:     {StatusQueued, StatusCancelled},
	StatusQueued:      {StatusDownloading, StatusPaused, StatusCancelled},
	StatusDownloading: {StatusPaused, StatusCompleted, StatusError, StatusCancelled},
	StatusPaused:      {StatusQueued, StatusDownloading, StatusCancelled},
	StatusError:       {StatusDownloading, StatusQueued, StatusCancelled},
}

// CanTransition reports whether moving from s to next is allowed
func (s Status) CanTransition(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}
