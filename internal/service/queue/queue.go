package queue

import (
	"fmt"
	"sync"
	"time"

	"github.com/vertextoedge/segfetch/internal/domain"
	"github.com/vertextoedge/segfetch/internal/domain/event"
	"go.uber.org/zap"
)

// DefaultMaxConcurrent is the admission bound used when none is configured
const DefaultMaxConcurrent = 3

// Queue admits downloads in priority order against a bounded active set.
// It emits download.admitted as the start signal; it never performs I/O.
// A paused active entry stays in the active set and keeps its slot.
type Queue struct {
	dispatcher event.EventDispatcher
	logger     *zap.Logger

	mu            sync.Mutex
	maxConcurrent int
	waiting       []*domain.Descriptor
	active        []*domain.Descriptor
	paused        []*domain.Descriptor
	completed     []*domain.Descriptor
	// active entries that are paused
	held map[string]bool
}

// New creates a Queue. maxConcurrent < 1 falls back to DefaultMaxConcurrent.
func New(maxConcurrent int, dispatcher event.EventDispatcher, logger *zap.Logger) *Queue {
	if maxConcurrent < 1 {
		maxConcurrent = DefaultMaxConcurrent
	}
	if dispatcher == nil {
		dispatcher = event.NewNullDispatcher()
	}
	return &Queue{
		dispatcher:    dispatcher,
		logger:        logger,
		maxConcurrent: maxConcurrent,
		held:          make(map[string]bool),
	}
}

// Add inserts desc into the waiting list after every entry of equal or
// higher priority and re-runs admission. An unknown priority is treated as normal.
func (q *Queue) Add(desc *domain.Descriptor, priority domain.Priority) (*domain.Descriptor, error) {
	if desc == nil || desc.ID == "" {
		return nil, fmt.Errorf("%w: descriptor without id", domain.ErrInvalidInput)
	}
	if !priority.Valid() {
		priority = domain.PriorityNormal
	}

	q.mu.Lock()
	if _, _, ok := q.findLocked(desc.ID); ok {
		q.mu.Unlock()
		return nil, fmt.Errorf("%w: download %s", domain.ErrAlreadyExists, desc.ID)
	}

	d := desc.Clone()
	d.Priority = priority
	d.Status = domain.StatusQueued
	if d.AddedAt.IsZero() {
		d.AddedAt = time.Now()
	}
	q.insertLocked(d, false)

	events := []event.DomainEvent{event.NewDownloadQueued(d, d.QueuePosition)}
	events = append(events, q.processLocked()...)
	out := d.Clone()
	q.mu.Unlock()

	q.logger.Debug("download queued",
		zap.String("download_id", d.ID),
		zap.String("priority", priority.String()),
		zap.Int("position", out.QueuePosition))
	q.dispatcher.DispatchAll(events)
	return out, nil
}

// AddPaused places desc directly into the paused set
func (q *Queue) AddPaused(desc *domain.Descriptor) error {
	if desc == nil || desc.ID == "" {
		return fmt.Errorf("%w: descriptor without id", domain.ErrInvalidInput)
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if _, _, ok := q.findLocked(desc.ID); ok {
		return fmt.Errorf("%w: download %s", domain.ErrAlreadyExists, desc.ID)
	}
	d := desc.Clone()
	if !d.Priority.Valid() {
		d.Priority = domain.PriorityNormal
	}
	d.Status = domain.StatusPaused
	d.QueuePosition = 0
	d.Speed = 0
	q.paused = append(q.paused, d)
	return nil
}

// ProcessQueue admits waiting entries while slots are free.
// It is level-triggered and safe to call at any time.
func (q *Queue) ProcessQueue() {
	q.mu.Lock()
	events := q.processLocked()
	q.mu.Unlock()
	q.dispatcher.DispatchAll(events)
}

func (q *Queue) processLocked() []event.DomainEvent {
	var events []event.DomainEvent
	for len(q.active) < q.maxConcurrent && len(q.waiting) > 0 {
		d := q.waiting[0]
		q.waiting = q.waiting[1:]

		d.QueuePosition = 0
		d.Status = domain.StatusDownloading
		q.active = append(q.active, d)
		events = append(events, event.NewDownloadAdmitted(d))

		q.logger.Debug("download admitted",
			zap.String("download_id", d.ID),
			zap.Int("active", len(q.active)),
			zap.Int("max", q.maxConcurrent))
	}
	q.renumberLocked()
	return events
}

// MoveToCompleted moves an active entry to the completed list and frees its slot
func (q *Queue) MoveToCompleted(id string) error {
	q.mu.Lock()
	i := indexOf(q.active, id)
	if i < 0 {
		q.mu.Unlock()
		return fmt.Errorf("%w: active download %s", domain.ErrNotFound, id)
	}
	d := q.active[i]
	if err := d.TransitionTo(domain.StatusCompleted); err != nil {
		q.mu.Unlock()
		return err
	}
	q.active = removeAt(q.active, i)
	delete(q.held, id)

	d.Speed = 0
	d.QueuePosition = 0
	if d.CompletedAt == nil {
		now := time.Now()
		d.CompletedAt = &now
	}
	q.completed = append(q.completed, d)

	events := q.processLocked()
	q.mu.Unlock()

	q.dispatcher.DispatchAll(events)
	return nil
}

// Remove drops id from whichever list holds it and returns its last snapshot
func (q *Queue) Remove(id string) (*domain.Descriptor, error) {
	q.mu.Lock()
	list, i, ok := q.findLocked(id)
	if !ok {
		q.mu.Unlock()
		return nil, fmt.Errorf("%w: download %s", domain.ErrNotFound, id)
	}
	d := (*list)[i]
	*list = removeAt(*list, i)
	delete(q.held, id)

	events := q.processLocked()
	out := d.Clone()
	q.mu.Unlock()

	q.dispatcher.DispatchAll(events)
	return out, nil
}

// Pause marks an active entry paused, keeping its slot, or moves a waiting
// entry to the paused set. It reports where the entry is. Pausing a paused
// entry is a no-op.
func (q *Queue) Pause(id string) (domain.Location, error) {
	q.mu.Lock()
	list, i, ok := q.findLocked(id)
	if !ok {
		q.mu.Unlock()
		return "", fmt.Errorf("%w: download %s", domain.ErrNotFound, id)
	}

	loc := q.locationLocked(list)
	d := (*list)[i]
	if loc == domain.LocationPaused || q.held[id] {
		q.mu.Unlock()
		return loc, nil
	}
	if err := d.TransitionTo(domain.StatusPaused); err != nil {
		q.mu.Unlock()
		return loc, fmt.Errorf("download %s: %w", id, err)
	}
	d.Speed = 0

	if loc == domain.LocationActive {
		q.held[id] = true
		q.mu.Unlock()
		return loc, nil
	}

	*list = removeAt(*list, i)
	d.QueuePosition = 0
	q.paused = append(q.paused, d)
	q.renumberLocked()
	q.mu.Unlock()
	return loc, nil
}

// Resume clears the pause of an active entry, or puts an entry from the
// paused set back into the waiting list ahead of waiting entries of the same
// priority. It reports where the entry was. Resuming an entry that is not
// paused is a no-op.
func (q *Queue) Resume(id string) (domain.Location, error) {
	q.mu.Lock()
	list, i, ok := q.findLocked(id)
	if !ok {
		q.mu.Unlock()
		return "", fmt.Errorf("%w: download %s", domain.ErrNotFound, id)
	}

	loc := q.locationLocked(list)
	d := (*list)[i]
	switch {
	case q.held[id]:
		if err := d.TransitionTo(domain.StatusDownloading); err != nil {
			q.mu.Unlock()
			return loc, err
		}
		delete(q.held, id)
		q.mu.Unlock()
		return loc, nil
	case loc != domain.LocationPaused:
		q.mu.Unlock()
		return loc, nil
	}

	if err := d.TransitionTo(domain.StatusQueued); err != nil {
		q.mu.Unlock()
		return loc, err
	}
	q.paused = removeAt(q.paused, i)
	q.insertLocked(d, true)

	events := q.processLocked()
	q.mu.Unlock()

	q.dispatcher.DispatchAll(events)
	return loc, nil
}

// Held reports whether id is a paused entry that keeps its active slot
func (q *Queue) Held(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.held[id]
}

// ChangePriority re-sorts a waiting entry under its new priority.
// Entries outside the waiting list only record the new value.
func (q *Queue) ChangePriority(id string, priority domain.Priority) error {
	if !priority.Valid() {
		return fmt.Errorf("%w: priority %d", domain.ErrInvalidInput, priority)
	}

	q.mu.Lock()
	list, i, ok := q.findLocked(id)
	if !ok {
		q.mu.Unlock()
		return fmt.Errorf("%w: download %s", domain.ErrNotFound, id)
	}
	d := (*list)[i]
	if d.Priority == priority {
		q.mu.Unlock()
		return nil
	}
	d.Priority = priority

	var events []event.DomainEvent
	if q.locationLocked(list) == domain.LocationQueued {
		q.waiting = removeAt(q.waiting, i)
		q.insertLocked(d, false)
		events = append(events, event.NewDownloadReordered(d, d.QueuePosition))
	}
	q.mu.Unlock()

	q.dispatcher.DispatchAll(events)
	return nil
}

// MoveUp swaps a waiting entry with its predecessor
func (q *Queue) MoveUp(id string) error {
	return q.move(id, -1)
}

// MoveDown swaps a waiting entry with its successor
func (q *Queue) MoveDown(id string) error {
	return q.move(id, 1)
}

func (q *Queue) move(id string, delta int) error {
	q.mu.Lock()
	list, _, ok := q.findLocked(id)
	if !ok {
		q.mu.Unlock()
		return fmt.Errorf("%w: download %s", domain.ErrNotFound, id)
	}
	if q.locationLocked(list) != domain.LocationQueued {
		q.mu.Unlock()
		return nil
	}

	i := indexOf(q.waiting, id)
	j := i + delta
	if j < 0 || j >= len(q.waiting) {
		q.mu.Unlock()
		return nil
	}
	q.waiting[i], q.waiting[j] = q.waiting[j], q.waiting[i]
	q.renumberLocked()
	events := []event.DomainEvent{
		event.NewDownloadReordered(q.waiting[j], q.waiting[j].QueuePosition),
		event.NewDownloadReordered(q.waiting[i], q.waiting[i].QueuePosition),
	}
	q.mu.Unlock()

	q.dispatcher.DispatchAll(events)
	return nil
}

// SetMaxConcurrent updates the admission bound and admits more entries if
// slots opened. Active transfers are never preempted.
func (q *Queue) SetMaxConcurrent(n int) error {
	if n < 1 {
		return fmt.Errorf("%w: max concurrent must be at least 1, got %d", domain.ErrInvalidInput, n)
	}

	q.mu.Lock()
	q.maxConcurrent = n
	events := q.processLocked()
	q.mu.Unlock()

	q.logger.Info("max concurrent downloads updated", zap.Int("max", n))
	q.dispatcher.DispatchAll(events)
	return nil
}

// MaxConcurrent returns the admission bound
func (q *Queue) MaxConcurrent() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.maxConcurrent
}

// Update refreshes the stored snapshot of id from an engine snapshot.
// Queue-owned fields (priority, position, and status outside the active set)
// are kept. Returns false when id is unknown.
func (q *Queue) Update(desc *domain.Descriptor) bool {
	if desc == nil {
		return false
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	list, i, ok := q.findLocked(desc.ID)
	if !ok {
		return false
	}

	cur := (*list)[i]
	d := desc.Clone()
	d.Priority = cur.Priority
	d.QueuePosition = cur.QueuePosition
	d.AddedAt = cur.AddedAt
	switch {
	case q.locationLocked(list) != domain.LocationActive:
		d.Status = cur.Status
		d.Speed = 0
	case q.held[d.ID] && d.Status != domain.StatusCompleted && d.Status != domain.StatusError:
		d.Status = cur.Status
		d.Speed = 0
	case q.held[d.ID]:
		// the transfer ended before the pause took effect
		delete(q.held, d.ID)
	}
	(*list)[i] = d
	return true
}

// Get returns a snapshot of id and the list holding it
func (q *Queue) Get(id string) (domain.QueueEntry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	list, i, ok := q.findLocked(id)
	if !ok {
		return domain.QueueEntry{}, false
	}
	d := (*list)[i]
	return domain.QueueEntry{
		Descriptor: d.Clone(),
		Location:   q.locationLocked(list),
		Position:   d.QueuePosition,
	}, true
}

// GetAll returns snapshots grouped by list, waiting entries in admission order
func (q *Queue) GetAll() domain.QueueSnapshot {
	q.mu.Lock()
	defer q.mu.Unlock()
	return domain.QueueSnapshot{
		Queued:    cloneAll(q.waiting),
		Active:    cloneAll(q.active),
		Paused:    cloneAll(q.paused),
		Completed: cloneAll(q.completed),
	}
}

// Stats returns the size of every list. Paused entries holding a slot count
// as paused, not active.
func (q *Queue) Stats() domain.QueueStats {
	q.mu.Lock()
	defer q.mu.Unlock()
	s := domain.QueueStats{
		Queued:    len(q.waiting),
		Active:    len(q.active) - len(q.held),
		Paused:    len(q.paused) + len(q.held),
		Completed: len(q.completed),
	}
	s.Total = s.Queued + s.Active + s.Paused + s.Completed
	return s
}

// ClearCompleted forgets completed entries and returns how many were dropped
func (q *Queue) ClearCompleted() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.completed)
	q.completed = nil
	return n
}

// insertLocked places d before the first waiting entry with a strictly
// greater priority value, or, when ahead is set, before the first entry of
// equal or greater value.
func (q *Queue) insertLocked(d *domain.Descriptor, ahead bool) {
	at := len(q.waiting)
	for i, w := range q.waiting {
		if w.Priority > d.Priority || ahead && w.Priority == d.Priority {
			at = i
			break
		}
	}
	q.waiting = append(q.waiting, nil)
	copy(q.waiting[at+1:], q.waiting[at:])
	q.waiting[at] = d
	q.renumberLocked()
}

func (q *Queue) renumberLocked() {
	for i, d := range q.waiting {
		d.QueuePosition = i + 1
	}
}

func (q *Queue) findLocked(id string) (*[]*domain.Descriptor, int, bool) {
	for _, list := range []*[]*domain.Descriptor{&q.waiting, &q.active, &q.paused, &q.completed} {
		if i := indexOf(*list, id); i >= 0 {
			return list, i, true
		}
	}
	return nil, -1, false
}

func (q *Queue) locationLocked(list *[]*domain.Descriptor) domain.Location {
	switch list {
	case &q.waiting:
		return domain.LocationQueued
	case &q.active:
		return domain.LocationActive
	case &q.paused:
		return domain.LocationPaused
	default:
		return domain.LocationCompleted
	}
}

func indexOf(list []*domain.Descriptor, id string) int {
	for i, d := range list {
		if d.ID == id {
			return i
		}
	}
	return -1
}

func removeAt(list []*domain.Descriptor, i int) []*domain.Descriptor {
	copy(list[i:], list[i+1:])
	list[len(list)-1] = nil
	return list[:len(list)-1]
}

func cloneAll(list []*domain.Descriptor) []*domain.Descriptor {
	out := make([]*domain.Descriptor, len(list))
	for i, d := range list {
		out[i] = d.Clone()
	}
	return out
}
