// Package store is the task state engine: it owns every task, keeps the
// per-category ordering dense, and decides which view a task belongs to.
package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/amirbrooks/tasker-engine/internal/schedule"
)

var (
	ErrNotFound = errors.New("not found")
	ErrInvalid  = errors.New("invalid")
	// ErrSaveFailed is returned alongside a valid result when the mutation
	// was applied in memory but the persister rejected the snapshot.
	ErrSaveFailed = errors.New("save failed")
)

// Persister durably holds one snapshot.
type Persister interface {
	// Load returns the saved snapshot, or DefaultSnapshot when nothing usable
	// has been saved.
	Load(ctx context.Context) (Snapshot, error)
	Save(ctx context.Context, s Snapshot) error
	Clear(ctx context.Context) error
}

// Store is safe for concurrent use; every operation runs under one lock so
// operations never interleave.
type Store struct {
	mu      sync.Mutex
	state   Snapshot
	persist Persister

	sched    *schedule.Scheduler
	clock    schedule.Clock
	grace    time.Duration
	loc      *time.Location
	log      log.FieldLogger
	onExpire schedule.ExpireFunc
	newID    func() string
}

type Option func(*Store)

func WithClock(c schedule.Clock) Option { return func(s *Store) { s.clock = c } }

func WithScheduler(sc *schedule.Scheduler) Option { return func(s *Store) { s.sched = sc } }

func WithGrace(d time.Duration) Option { return func(s *Store) { s.grace = d } }

// WithLocation sets the time zone whose midnight separates history days.
func WithLocation(loc *time.Location) Option { return func(s *Store) { s.loc = loc } }

func WithLogger(l log.FieldLogger) Option { return func(s *Store) { s.log = l } }

// WithExpiryFunc registers the callback told when a completed task leaves
// the active view.
func WithExpiryFunc(f schedule.ExpireFunc) Option { return func(s *Store) { s.onExpire = f } }

func WithIDFunc(f func() string) Option { return func(s *Store) { s.newID = f } }

// Open hydrates a store from p. Load failures are logged and the store starts
// from the default snapshot.
func Open(ctx context.Context, p Persister, opts ...Option) (*Store, error) {
	if p == nil {
		return nil, fmt.Errorf("%w: persister is required", ErrInvalid)
	}
	s := &Store{
		persist: p,
		grace:   schedule.DefaultGrace,
		loc:     time.UTC,
		newID:   uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = log.StandardLogger()
	}
	s.log = s.log.WithField("component", "store")
	if s.clock == nil {
		s.clock = schedule.RealClock{}
	}
	if s.sched == nil {
		s.sched = schedule.New(s.clock, s.log)
	}
	if s.loc == nil {
		s.loc = time.UTC
	}

	snap, err := p.Load(ctx)
	if err != nil {
		s.log.WithError(err).Warn("load failed; starting from default snapshot")
		snap = DefaultSnapshot()
	}
	s.state = normalizeSnapshot(snap)
	s.log.Debugf("loaded %d tasks", len(s.state.Tasks))
	return s, nil
}

// Create adds a task at the end of its category. A blank title is rejected
// without touching state.
func (s *Store) Create(ctx context.Context, title, category string) (*Task, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, fmt.Errorf("%w: title is required", ErrInvalid)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	category = strings.TrimSpace(category)
	if category == "" {
		category = s.state.Settings.DefaultCategory
	}
	t := Task{
		ID:        s.newID(),
		Title:     title,
		Category:  category,
		CreatedAt: s.clock.Now().UnixMilli(),
		Order:     s.nextOrderLocked(category, ""),
	}
	s.state.Tasks = append(s.state.Tasks, t)
	out := t.clone()
	return &out, s.saveLocked(ctx)
}

func (s *Store) Update(ctx context.Context, id string, patch TaskPatch) (*Task, error) {
	var title string
	if patch.Title != nil {
		title = strings.TrimSpace(*patch.Title)
		if title == "" {
			return nil, fmt.Errorf("%w: title is required", ErrInvalid)
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexLocked(id)
	if i < 0 {
		return nil, ErrNotFound
	}
	t := &s.state.Tasks[i]
	if patch.Title != nil {
		t.Title = title
	}
	if patch.Category != nil {
		category := strings.TrimSpace(*patch.Category)
		if category == "" {
			category = s.state.Settings.DefaultCategory
		}
		if category != t.Category {
			old := t.Category
			if !t.Completed {
				t.Order = s.nextOrderLocked(category, t.ID)
			}
			t.Category = category
			if !t.Completed {
				s.reindexLocked(old)
			}
		}
	}
	out := t.clone()
	return &out, s.saveLocked(ctx)
}

// ToggleComplete flips completion. Completing starts the grace timer that
// keeps the task in the active view; un-completing cancels it.
func (s *Store) ToggleComplete(ctx context.Context, id string) (*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexLocked(id)
	if i < 0 {
		return nil, ErrNotFound
	}
	s.sched.Cancel(id)

	t := &s.state.Tasks[i]
	t.Completed = !t.Completed
	if t.Completed {
		now := s.clock.Now().UnixMilli()
		t.CompletedAt = &now
	} else {
		t.CompletedAt = nil
		if s.orderTakenLocked(t.Category, t.Order, t.ID) {
			t.Order = s.nextOrderLocked(t.Category, t.ID)
		}
	}
	out := t.clone()
	err := s.saveLocked(ctx)
	if out.Completed {
		s.sched.Arm(id, s.grace, s.expired)
	}
	return &out, err
}

// Delete removes a task and any pending grace timer. Nothing is saved when
// the id is unknown.
func (s *Store) Delete(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sched.Cancel(id)
	i := s.indexLocked(id)
	if i < 0 {
		return false, nil
	}
	s.state.Tasks = append(s.state.Tasks[:i], s.state.Tasks[i+1:]...)
	return true, s.saveLocked(ctx)
}

// Reorder moves an incomplete task to position within its category and
// rewrites every order in that category as 0..n-1. Positions past the end
// append; negative positions insert first.
func (s *Store) Reorder(ctx context.Context, id string, position int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexLocked(id)
	if i < 0 {
		return ErrNotFound
	}
	target := s.state.Tasks[i]
	if target.Completed {
		return fmt.Errorf("%w: task %s is completed", ErrInvalid, id)
	}

	list := s.activeIndexesLocked(target.Category)
	current := -1
	for n, idx := range list {
		if idx == i {
			current = n
			break
		}
	}
	if current == position {
		return nil
	}
	list = append(list[:current], list[current+1:]...)
	if position < 0 {
		position = 0
	}
	if position > len(list) {
		position = len(list)
	}
	list = append(list, 0)
	copy(list[position+1:], list[position:])
	list[position] = i

	for n, idx := range list {
		s.state.Tasks[idx].Order = n
	}
	return s.saveLocked(ctx)
}

func (s *Store) Task(id string) (*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexLocked(id)
	if i < 0 {
		return nil, ErrNotFound
	}
	out := s.state.Tasks[i].clone()
	return &out, nil
}

// Tasks returns every task in insertion order.
func (s *Store) Tasks() []Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Clone().Tasks
}

func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Clone()
}

func (s *Store) Categories() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.state.Categories...)
}

func (s *Store) Settings() Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Settings
}

// AddCategory appends a category name. Existing names (case-insensitive) are
// left as they are.
func (s *Store) AddCategory(ctx context.Context, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("%w: category name is required", ErrInvalid)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if containsCategory(s.state.Categories, name) {
		return nil
	}
	s.state.Categories = append(s.state.Categories, name)
	return s.saveLocked(ctx)
}

func (s *Store) SetDefaultCategory(ctx context.Context, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("%w: category name is required", ErrInvalid)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !containsCategory(s.state.Categories, name) {
		s.state.Categories = append(s.state.Categories, name)
	}
	s.state.Settings.DefaultCategory = name
	return s.saveLocked(ctx)
}

// Pending reports whether id is inside its grace window.
func (s *Store) Pending(id string) bool {
	return s.sched.IsActive(id)
}

// Reset drops every task and timer and erases persisted state.
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sched.Stop()
	s.state = DefaultSnapshot()
	if err := s.persist.Clear(ctx); err != nil {
		s.log.WithError(err).Warn("clear failed")
		return fmt.Errorf("%w: %w", ErrSaveFailed, err)
	}
	return nil
}

// Close stops pending timers and writes a final snapshot.
func (s *Store) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sched.Stop()
	return s.saveLocked(ctx)
}

func (s *Store) expired(id string) {
	s.mu.Lock()
	i := s.indexLocked(id)
	stillDone := i >= 0 && s.state.Tasks[i].Completed
	s.mu.Unlock()
	if !stillDone {
		return
	}
	s.log.WithField("task", id).Debug("task moved to history")
	if s.onExpire != nil {
		s.onExpire(id)
	}
}

func (s *Store) saveLocked(ctx context.Context) error {
	if err := s.persist.Save(ctx, s.state.Clone()); err != nil {
		s.log.WithError(err).Warn("save failed; keeping in-memory state")
		return fmt.Errorf("%w: %w", ErrSaveFailed, err)
	}
	return nil
}

func (s *Store) indexLocked(id string) int {
	for i := range s.state.Tasks {
		if s.state.Tasks[i].ID == id {
			return i
		}
	}
	return -1
}

// nextOrderLocked is one past the highest order among incomplete tasks in
// category, ignoring the task with id skip.
func (s *Store) nextOrderLocked(category, skip string) int {
	next := 0
	for _, t := range s.state.Tasks {
		if t.Completed || t.Category != category || t.ID == skip {
			continue
		}
		if t.Order+1 > next {
			next = t.Order + 1
		}
	}
	return next
}

func (s *Store) orderTakenLocked(category string, order int, skip string) bool {
	for _, t := range s.state.Tasks {
		if !t.Completed && t.Category == category && t.ID != skip && t.Order == order {
			return true
		}
	}
	return false
}

// activeIndexesLocked returns indexes of incomplete tasks in category sorted
// by order.
func (s *Store) activeIndexesLocked(category string) []int {
	var idx []int
	for i, t := range s.state.Tasks {
		if !t.Completed && t.Category == category {
			idx = append(idx, i)
		}
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return s.state.Tasks[idx[a]].Order < s.state.Tasks[idx[b]].Order
	})
	return idx
}

func (s *Store) reindexLocked(category string) {
	for n, i := range s.activeIndexesLocked(category) {
		s.state.Tasks[i].Order = n
	}
}
