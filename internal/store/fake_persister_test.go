package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/amirbrooks/tasker-engine/internal/schedule"
)

type fakePersister struct {
	snap    *Snapshot
	saves   int
	clears  int
	saveErr error
	loadErr error
}

func (f *fakePersister) Load(ctx context.Context) (Snapshot, error) {
	if f.loadErr != nil {
		return Snapshot{}, f.loadErr
	}
	if f.snap == nil {
		return DefaultSnapshot(), nil
	}
	return f.snap.Clone(), nil
}

func (f *fakePersister) Save(ctx context.Context, s Snapshot) error {
	f.saves++
	if f.saveErr != nil {
		return f.saveErr
	}
	c := s.Clone()
	f.snap = &c
	return nil
}

func (f *fakePersister) Clear(ctx context.Context) error {
	f.clears++
	f.snap = nil
	return nil
}

var errQuota = errors.New("quota exceeded")

var testStart = time.Date(2024, 1, 5, 10, 0, 0, 0, time.UTC)

type harness struct {
	store   *Store
	clock   *schedule.FakeClock
	persist *fakePersister
	expired []string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return newHarnessWith(t, &fakePersister{})
}

func newHarnessWith(t *testing.T, p *fakePersister) *harness {
	t.Helper()
	h := &harness{clock: schedule.NewFakeClock(testStart), persist: p}
	logger := log.New()
	logger.SetOutput(io.Discard)
	n := 0
	s, err := Open(context.Background(), p,
		WithClock(h.clock),
		WithLogger(logger),
		WithIDFunc(func() string { n++; return fmt.Sprintf("task-%d", n) }),
		WithExpiryFunc(func(id string) { h.expired = append(h.expired, id) }),
	)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	h.store = s
	return h
}

func (h *harness) add(t *testing.T, title, category string) *Task {
	t.Helper()
	task, err := h.store.Create(context.Background(), title, category)
	if err != nil {
		t.Fatalf("create %q: %v", title, err)
	}
	return task
}

func activeIn(groups []CategoryGroup, category string) []Task {
	for _, g := range groups {
		if g.Category == category {
			return g.Tasks
		}
	}
	return nil
}

func completedIDs(groups []DayGroup) []string {
	var ids []string
	for _, g := range groups {
		for _, t := range g.Tasks {
			ids = append(ids, t.ID)
		}
	}
	return ids
}
