package event

import (
	"sync"
)

// EventHandler handles domain events
type EventHandler interface {
	// Handle processes the event
	Handle(event DomainEvent) error
	// HandledEvents returns the event names this handler handles
	HandledEvents() []string
}

// EventDispatcher dispatches domain events to registered handlers
type EventDispatcher interface {
	// Dispatch sends an event to all registered handlers
	Dispatch(event DomainEvent)
	// DispatchAll dispatches multiple events
	DispatchAll(events []DomainEvent)
	// Subscribe registers a handler for events
	Subscribe(handler EventHandler)
	// Unsubscribe removes a handler
	Unsubscribe(handler EventHandler)
}

// HandlerFunc adapts a function to EventHandler
type HandlerFunc struct {
	Events []string
	Fn     func(event DomainEvent) error
}

// Handle calls Fn
func (h *HandlerFunc) Handle(event DomainEvent) error {
	return h.Fn(event)
}

// HandledEvents returns Events, or all events when empty
func (h *HandlerFunc) HandledEvents() []string {
	if len(h.Events) == 0 {
		return []string{NameAllEvents}
	}
	return h.Events
}

// InMemoryDispatcher is an in-memory implementation of EventDispatcher
type InMemoryDispatcher struct {
	handlers map[string][]EventHandler
	mu       sync.RWMutex
	async    bool
}

// NewInMemoryDispatcher creates a new InMemoryDispatcher
func NewInMemoryDispatcher(async bool) *InMemoryDispatcher {
	return &InMemoryDispatcher{
		handlers: make(map[string][]EventHandler),
		async:    async,
	}
}

// Dispatch sends an event to all registered handlers
func (d *InMemoryDispatcher) Dispatch(event DomainEvent) {
	for _, handler := range d.handlersFor(event.EventName()) {
		if d.async {
			go func(h EventHandler) {
				_ = h.Handle(event)
			}(handler)
		} else {
			_ = handler.Handle(event)
		}
	}
}

func (d *InMemoryDispatcher) handlersFor(name string) []EventHandler {
	d.mu.RLock()
	defer d.mu.RUnlock()

	handlers := d.handlers[name]
	allHandlers := d.handlers[NameAllEvents]
	combined := make([]EventHandler, 0, len(handlers)+len(allHandlers))
	combined = append(combined, handlers...)
	return append(combined, allHandlers...)
}

// DispatchAll dispatches multiple events
func (d *InMemoryDispatcher) DispatchAll(events []DomainEvent) {
	for _, event := range events {
		d.Dispatch(event)
	}
}

// Subscribe registers a handler for events
func (d *InMemoryDispatcher) Subscribe(handler EventHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, eventName := range handler.HandledEvents() {
		d.handlers[eventName] = append(d.handlers[eventName], handler)
	}
}

// Unsubscribe removes a handler
func (d *InMemoryDispatcher) Unsubscribe(handler EventHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, eventName := range handler.HandledEvents() {
		handlers := d.handlers[eventName]
		for i, h := range handlers {
			if h == handler {
				d.handlers[eventName] = append(handlers[:i:i], handlers[i+1:]...)
				break
			}
		}
	}
}

// OrderedDispatcher delivers events on a single goroutine in emission order.
// Dispatch never blocks, so handlers may call back into whatever raised the event.
type OrderedDispatcher struct {
	*InMemoryDispatcher

	mu      sync.Mutex
	pending []DomainEvent
	notify  chan struct{}
	closed  bool
	done    chan struct{}
}

// NewOrderedDispatcher creates an OrderedDispatcher and starts its loop
func NewOrderedDispatcher() *OrderedDispatcher {
	d := &OrderedDispatcher{
		InMemoryDispatcher: NewInMemoryDispatcher(false),
		notify:             make(chan struct{}, 1),
		done:               make(chan struct{}),
	}
	go d.loop()
	return d
}

// Dispatch enqueues the event. Events dispatched after Close are dropped.
func (d *OrderedDispatcher) Dispatch(event DomainEvent) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.pending = append(d.pending, event)
	d.mu.Unlock()

	select {
	case d.notify <- struct{}{}:
	default:
	}
}

// DispatchAll enqueues multiple events
func (d *OrderedDispatcher) DispatchAll(events []DomainEvent) {
	for _, event := range events {
		d.Dispatch(event)
	}
}

// Close stops accepting events, delivers what is pending and waits for the loop to exit
func (d *OrderedDispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		<-d.done
		return
	}
	d.closed = true
	d.mu.Unlock()

	select {
	case d.notify <- struct{}{}:
	default:
	}
	<-d.done
}

func (d *OrderedDispatcher) loop() {
	defer close(d.done)

	for range d.notify {
		for {
			d.mu.Lock()
			if len(d.pending) == 0 {
				closed := d.closed
				d.mu.Unlock()
				if closed {
					return
				}
				break
			}
			batch := d.pending
			d.pending = nil
			d.mu.Unlock()

			for _, event := range batch {
				d.InMemoryDispatcher.Dispatch(event)
			}
		}
	}
}

// NullDispatcher is a no-op dispatcher for when events are not needed
type NullDispatcher struct{}

// NewNullDispatcher creates a new NullDispatcher
func NewNullDispatcher() *NullDispatcher {
	return &NullDispatcher{}
}

// Dispatch does nothing
func (d *NullDispatcher) Dispatch(event DomainEvent) {}

// DispatchAll does nothing
func (d *NullDispatcher) DispatchAll(events []DomainEvent) {}

// Subscribe does nothing
func (d *NullDispatcher) Subscribe(handler EventHandler) {}

// Unsubscribe does nothing
func (d *NullDispatcher) Unsubscribe(handler EventHandler) {}
