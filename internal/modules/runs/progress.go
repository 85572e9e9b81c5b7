package runs

import (
	"sync"
	"time"
)

// ProgressEvent is one progress update for a run, consumed by the
// websocket stream.
type ProgressEvent struct {
	RunID     string    `json:"run_id"`
	Status    Status    `json:"status"`
	Completed int       `json:"completed"`
	Total     int       `json:"total"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ProgressHub fans progress events out to per-run subscribers. Sends are
// non-blocking: a slow subscriber drops events rather than stalling the
// simulation workers.
type ProgressHub struct {
	mu   sync.Mutex
	subs map[string]map[chan ProgressEvent]struct{}
}

// NewProgressHub creates an empty hub.
func NewProgressHub() *ProgressHub {
	return &ProgressHub{
		subs: make(map[string]map[chan ProgressEvent]struct{}),
	}
}

// Subscribe registers a listener for one run's events. The returned
// cancel function must be called to release the subscription.
func (h *ProgressHub) Subscribe(runID string) (<-chan ProgressEvent, func()) {
	ch := make(chan ProgressEvent, 16)

	h.mu.Lock()
	if h.subs[runID] == nil {
		h.subs[runID] = make(map[chan ProgressEvent]struct{})
	}
	h.subs[runID][ch] = struct{}{}
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		if set, ok := h.subs[runID]; ok {
			delete(set, ch)
			if len(set) == 0 {
				delete(h.subs, runID)
			}
		}
		h.mu.Unlock()
	}
	return ch, cancel
}

// Publish delivers an event to all subscribers of its run.
func (h *ProgressHub) Publish(ev ProgressEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs[ev.RunID] {
		select {
		case ch <- ev:
		default:
			// Subscriber buffer full, drop.
		}
	}
}

// progressReporter throttles engine progress callbacks before publishing
// them. Completion always bypasses the throttle.
type progressReporter struct {
	hub         *ProgressHub
	runID       string
	mu          sync.Mutex
	lastReport  time.Time
	minInterval time.Duration
}

func newProgressReporter(hub *ProgressHub, runID string) *progressReporter {
	return &progressReporter{
		hub:         hub,
		runID:       runID,
		minInterval: 100 * time.Millisecond, // max 10 updates/sec
	}
}

func (r *progressReporter) report(completed, total int) {
	if r.hub == nil {
		return
	}

	now := time.Now()
	r.mu.Lock()
	if now.Sub(r.lastReport) < r.minInterval && completed != total {
		r.mu.Unlock()
		return
	}
	r.lastReport = now
	r.mu.Unlock()

	r.hub.Publish(ProgressEvent{
		RunID:     r.runID,
		Status:    StatusRunning,
		Completed: completed,
		Total:     total,
		Timestamp: now,
	})
}
