// Package schedule holds the per-task grace timers that delay a completed
// task's move from the active list into history.
package schedule

import (
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// DefaultGrace is how long a completed task stays in the active view.
const DefaultGrace = 3 * time.Second

// ExpireFunc is called once a grace timer runs out.
type ExpireFunc func(id string)

type entry struct {
	timer Timer
	until time.Time
}

// Scheduler maps task ids to at most one pending timer each.
type Scheduler struct {
	clock Clock
	log   log.FieldLogger

	mu      sync.Mutex
	entries map[string]*entry
}

func New(clock Clock, logger log.FieldLogger) *Scheduler {
	if clock == nil {
		clock = RealClock{}
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Scheduler{
		clock:   clock,
		log:     logger.WithField("component", "scheduler"),
		entries: map[string]*entry{},
	}
}

// Arm starts a timer for id, replacing any timer already pending for it.
func (s *Scheduler) Arm(id string, d time.Duration, onExpire ExpireFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.entries[id]; ok {
		prev.timer.Stop()
		delete(s.entries, id)
	}
	e := &entry{until: s.clock.Now().Add(d)}
	e.timer = s.clock.AfterFunc(d, func() { s.fire(id, e, onExpire) })
	s.entries[id] = e
	s.log.WithField("task", id).Debugf("armed grace timer (%s)", d)
}

// Cancel stops the pending timer for id. It reports whether one existed.
func (s *Scheduler) Cancel(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return false
	}
	e.timer.Stop()
	delete(s.entries, id)
	s.log.WithField("task", id).Debug("cancelled grace timer")
	return true
}

func (s *Scheduler) IsActive(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[id]
	return ok
}

// Deadline returns when the pending timer for id expires.
func (s *Scheduler) Deadline(id string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return time.Time{}, false
	}
	return e.until, true
}

func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Stop cancels every pending timer without running callbacks.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, e := range s.entries {
		e.timer.Stop()
		delete(s.entries, id)
	}
}

func (s *Scheduler) fire(id string, e *entry, onExpire ExpireFunc) {
	s.mu.Lock()
	// A cancel or re-arm may have won the race with this callback.
	if s.entries[id] != e {
		s.mu.Unlock()
		return
	}
	delete(s.entries, id)
	s.mu.Unlock()

	s.log.WithField("task", id).Debug("grace timer expired")
	if onExpire != nil {
		onExpire(id)
	}
}
