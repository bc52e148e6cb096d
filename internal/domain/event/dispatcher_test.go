package event

import (
	"sync"
	"testing"

	"github.com/vertextoedge/segfetch/internal/domain"
	"go.uber.org/zap"
)

type recordingHandler struct {
	mu     sync.Mutex
	events []string
	names  []string
}

func (h *recordingHandler) Handle(event DomainEvent) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, event.EventName()+":"+event.(DownloadEvent).DownloadID())
	return nil
}

func (h *recordingHandler) HandledEvents() []string { return h.names }

func (h *recordingHandler) got() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.events...)
}

func TestInMemoryDispatcher_Subscribe(t *testing.T) {
	d := NewInMemoryDispatcher(false)
	completed := &recordingHandler{names: []string{NameCompleted}}
	all := &recordingHandler{names: []string{NameAllEvents}}
	d.Subscribe(completed)
	d.Subscribe(all)

	desc := &domain.Descriptor{ID: "a"}
	d.Dispatch(NewDownloadPaused(desc))
	d.Dispatch(NewDownloadCompleted(desc, 0))

	if got := completed.got(); len(got) != 1 || got[0] != "download.completed:a" {
		t.Errorf("completed handler got %v", got)
	}
	if got := all.got(); len(got) != 2 {
		t.Errorf("wildcard handler got %v, want 2 events", got)
	}

	d.Unsubscribe(completed)
	d.Dispatch(NewDownloadCompleted(desc, 0))
	if got := completed.got(); len(got) != 1 {
		t.Errorf("unsubscribed handler got %v", got)
	}
}

func TestOrderedDispatcher_PreservesOrder(t *testing.T) {
	d := NewOrderedDispatcher()
	h := &recordingHandler{names: []string{NameAllEvents}}
	d.Subscribe(h)

	const n = 500
	var want []string
	for i := 0; i < n; i++ {
		desc := &domain.Descriptor{ID: string(rune('a' + i%26))}
		d.Dispatch(NewDownloadProgress(desc))
		want = append(want, "download.progress:"+desc.ID)
	}
	d.Close()

	got := h.got()
	if len(got) != n {
		t.Fatalf("got %d events, want %d", len(got), n)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("event %d = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestOrderedDispatcher_ReentrantDispatch(t *testing.T) {
	d := NewOrderedDispatcher()
	rec := &recordingHandler{names: []string{NameAllEvents}}
	d.Subscribe(rec)

	// A handler that raises a follow-up event must not deadlock.
	d.Subscribe(&HandlerFunc{
		Events: []string{NameAdmitted},
		Fn: func(e DomainEvent) error {
			d.Dispatch(NewDownloadResumed(e.(DownloadEvent).Snapshot()))
			return nil
		},
	})

	done := make(chan struct{})
	d.Subscribe(&HandlerFunc{
		Events: []string{NameResumed},
		Fn: func(DomainEvent) error {
			close(done)
			return nil
		},
	})

	d.Dispatch(NewDownloadAdmitted(&domain.Descriptor{ID: "x"}))
	<-done
	d.Close()

	got := rec.got()
	if len(got) < 2 || got[0] != "download.admitted:x" || got[1] != "download.resumed:x" {
		t.Errorf("got %v", got)
	}
}

func TestOrderedDispatcher_DropsAfterClose(t *testing.T) {
	d := NewOrderedDispatcher()
	h := &recordingHandler{names: []string{NameAllEvents}}
	d.Subscribe(h)
	d.Close()
	d.Close()

	d.Dispatch(NewDownloadCancelled(&domain.Descriptor{ID: "late"}))
	if got := h.got(); len(got) != 0 {
		t.Errorf("got %v after Close, want none", got)
	}
}

func TestMetricsHandler(t *testing.T) {
	d := NewInMemoryDispatcher(false)
	m := NewMetricsHandler()
	d.Subscribe(m)
	d.Subscribe(NewLoggingHandler(zap.NewNop()))

	desc := &domain.Descriptor{ID: "a", ReceivedBytes: 1024}
	d.Dispatch(NewDownloadQueued(desc, 1))
	d.Dispatch(NewDownloadCompleted(desc, 0))
	d.Dispatch(NewDownloadFailed(desc, domain.NewProtocolError(500)))

	got := m.GetMetrics()
	if got["downloads_queued"] != 1 || got["downloads_completed"] != 1 || got["downloads_failed"] != 1 {
		t.Errorf("GetMetrics() = %v", got)
	}
	if got["bytes_downloaded"] != 1024 {
		t.Errorf("bytes_downloaded = %d, want 1024", got["bytes_downloaded"])
	}
}
