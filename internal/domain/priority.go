package domain

import (
	"fmt"
	"strings"
)

// Priority is a queue admission level.
// Lower number = higher priority
type Priority int

const (
	PriorityHigh   Priority = 1
	PriorityNormal Priority = 2
	PriorityLow    Priority = 3
)

// String returns the wire name of the priority level
func (p Priority) String() string {
	switch p {
	case PriorityHigh:
		return "high"
	case PriorityNormal:
		return "normal"
	case PriorityLow:
		return "low"
	default:
		return "unknown"
	}
}

// Valid reports whether p is one of the known levels
func (p Priority) Valid() bool {
	return p >= PriorityHigh && p <= PriorityLow
}

// HigherThan returns true if p is admitted before other
func (p Priority) HigherThan(other Priority) bool {
	return p < other
}

// ParsePriority converts a level name into a Priority.
// An empty string yields PriorityNormal.
func ParsePriority(s string) (Priority, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "high":
		return PriorityHigh, nil
	case "", "normal":
		return PriorityNormal, nil
	case "low":
		return PriorityLow, nil
	default:
		return PriorityNormal, fmt.Errorf("%w: unknown priority %q", ErrInvalidInput, s)
	}
}
