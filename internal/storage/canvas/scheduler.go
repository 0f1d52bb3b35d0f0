package canvas

import (
	"log/slog"
	"sync"
	"time"
)

// Write delays per stream. Typing produces far more events than geometry
// changes, so content coalesces harder; properties persist faster so a
// crash mid-drag loses less.
const (
	contentDelay    = 300 * time.Millisecond
	propertiesDelay = 100 * time.Millisecond
	edgeDelay       = 100 * time.Millisecond
)

// Scheduler coalesces rapid writes per entity id. Scheduling replaces
// any pending timer for the same id, so only the most recent payload of
// a burst reaches the sink (last-write-wins). One Scheduler instance
// serves one write stream.
type Scheduler struct {
	name   string
	delay  time.Duration
	sink   func(id string, payload []byte) error
	logger *slog.Logger

	mu     sync.Mutex
	timers map[string]*time.Timer
}

// NewScheduler creates a scheduler writing through sink after delay.
func NewScheduler(name string, delay time.Duration, sink func(id string, payload []byte) error, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		name:   name,
		delay:  delay,
		sink:   sink,
		logger: logger,
		timers: make(map[string]*time.Timer),
	}
}

// Schedule queues payload for id, replacing any pending write for the
// same id. A sink error is logged and dropped; the entry is cleared
// either way and the edit is retried only by a later Schedule call.
func (s *Scheduler) Schedule(id string, payload []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.timers[id]; ok {
		t.Stop()
	}
	var tm *time.Timer
	tm = time.AfterFunc(s.delay, func() {
		s.mu.Lock()
		current, ok := s.timers[id]
		if !ok || current != tm {
			// Cancelled or superseded between firing and running.
			s.mu.Unlock()
			return
		}
		delete(s.timers, id)
		s.mu.Unlock()
		if err := s.sink(id, payload); err != nil {
			s.logger.Error("debounced write failed", "stream", s.name, "id", id, "err", err)
		}
	})
	s.timers[id] = tm
}

// WriteNow bypasses debouncing: any pending timer for id is cancelled
// and the payload goes to the sink synchronously. Used at entity
// creation so the entity exists before anything references it.
func (s *Scheduler) WriteNow(id string, payload []byte) error {
	s.Cancel(id)
	return s.sink(id, payload)
}

// Cancel clears a pending write for id without writing.
func (s *Scheduler) Cancel(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.timers[id]; ok {
		t.Stop()
		delete(s.timers, id)
	}
}

// CancelAll drops every pending write without writing. Called on
// workspace close; pending edits are not guaranteed durable.
func (s *Scheduler) CancelAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
}

// Pending returns the number of outstanding writes.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}
