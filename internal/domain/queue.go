package domain

import "time"

// Location names the queue list an entry currently sits in
type Location string

const (
	LocationQueued    Location = "queued"
	LocationActive    Location = "active"
	LocationPaused    Location = "paused"
	LocationCompleted Location = "completed"
)

// QueueEntry is a snapshot of one queue member
type QueueEntry struct {
	Descriptor *Descriptor `json:"descriptor"`
	Location   Location    `json:"location"`
	// Position is 1-based within the waiting list, 0 elsewhere
	Position int `json:"position"`
}

// QueueSnapshot groups entries by list
type QueueSnapshot struct {
	Queued    []*Descriptor `json:"queued"`
	Active    []*Descriptor `json:"active"`
	Paused    []*Descriptor `json:"paused"`
	Completed []*Descriptor `json:"completed"`
}

// QueueStats holds queue counters
type QueueStats struct {
	Queued    int `json:"queued"`
	Active    int `json:"active"`
	Paused    int `json:"paused"`
	Completed int `json:"completed"`
	Total     int `json:"total"`
}

// HistoryEntry records a finished download
type HistoryEntry struct {
	ID          string    `json:"id"`
	URL         string    `json:"url"`
	Filename    string    `json:"filename"`
	Path        string    `json:"path"`
	Size        int64     `json:"size"`
	CompletedAt time.Time `json:"completed_at"`
}
