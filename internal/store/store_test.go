package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateRejectsBlankTitle(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	for _, title := range []string{"", "   ", "\t\n"} {
		task, err := h.store.Create(ctx, title, "Work")
		require.ErrorIs(t, err, ErrInvalid)
		assert.Nil(t, task)
	}
	assert.Empty(t, h.store.Tasks())
	assert.Equal(t, 0, h.persist.saves)
}

func TestCreateDefaultsAndTrims(t *testing.T) {
	h := newHarness(t)
	task := h.add(t, "  Call mom  ", "")

	assert.Equal(t, "task-1", task.ID)
	assert.Equal(t, "Call mom", task.Title)
	assert.Equal(t, DefaultCategory, task.Category)
	assert.False(t, task.Completed)
	assert.Nil(t, task.CompletedAt)
	assert.Equal(t, testStart.UnixMilli(), task.CreatedAt)
	assert.Equal(t, 0, task.Order)
	assert.Equal(t, 1, h.persist.saves)
	require.NotNil(t, h.persist.snap)
	assert.Len(t, h.persist.snap.Tasks, 1)
}

func TestCreateUsesMaxOrderNotCount(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	a := h.add(t, "a", "Work")
	h.add(t, "b", "Work")
	c := h.add(t, "c", "Work")
	require.Equal(t, 2, c.Order)

	_, err := h.store.Delete(ctx, a.ID)
	require.NoError(t, err)

	d := h.add(t, "d", "Work")
	assert.Equal(t, 3, d.Order)

	other := h.add(t, "e", "Shopping")
	assert.Equal(t, 0, other.Order)
}

func TestDefaultCategoryUsedForOrder(t *testing.T) {
	h := newHarness(t)
	h.add(t, "first", DefaultCategory)
	second := h.add(t, "second", "")
	assert.Equal(t, 1, second.Order)
}

func TestShoppingScenario(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	milk := h.add(t, "Buy milk", "Shopping")
	assert.Equal(t, 0, milk.Order)
	shopping := activeIn(h.store.ActiveByCategory(), "Shopping")
	require.Len(t, shopping, 1)
	assert.Equal(t, milk.ID, shopping[0].ID)

	eggs := h.add(t, "Buy eggs", "Shopping")
	assert.Equal(t, 1, eggs.Order)

	require.NoError(t, h.store.Reorder(ctx, eggs.ID, 0))

	gotEggs, err := h.store.Task(eggs.ID)
	require.NoError(t, err)
	gotMilk, err := h.store.Task(milk.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, gotEggs.Order)
	assert.Equal(t, 1, gotMilk.Order)

	shopping = activeIn(h.store.ActiveByCategory(), "Shopping")
	require.Len(t, shopping, 2)
	assert.Equal(t, []string{eggs.ID, milk.ID}, []string{shopping[0].ID, shopping[1].ID})
}

func TestCompletionGraceWindow(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	milk := h.add(t, "Buy milk", "Shopping")

	done, err := h.store.ToggleComplete(ctx, milk.ID)
	require.NoError(t, err)
	require.True(t, done.Completed)
	require.NotNil(t, done.CompletedAt)
	assert.Equal(t, testStart.UnixMilli(), *done.CompletedAt)

	h.clock.Advance(1000 * time.Millisecond)
	assert.True(t, h.store.Pending(milk.ID))
	require.Len(t, activeIn(h.store.ActiveByCategory(), "Shopping"), 1)
	assert.Empty(t, h.store.CompletedByDay())
	assert.Empty(t, h.expired)

	h.clock.Advance(3000 * time.Millisecond)
	assert.False(t, h.store.Pending(milk.ID))
	assert.Empty(t, activeIn(h.store.ActiveByCategory(), "Shopping"))
	history := h.store.CompletedByDay()
	require.Len(t, history, 1)
	assert.Equal(t, LabelToday, history[0].Label)
	assert.Equal(t, []string{milk.ID}, completedIDs(history))
	assert.Equal(t, []string{milk.ID}, h.expired)
}

func TestToggleBackCancelsTimer(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	task := h.add(t, "Write report", "Work")

	_, err := h.store.ToggleComplete(ctx, task.ID)
	require.NoError(t, err)
	h.clock.Advance(time.Second)
	undone, err := h.store.ToggleComplete(ctx, task.ID)
	require.NoError(t, err)
	assert.False(t, undone.Completed)
	assert.Nil(t, undone.CompletedAt)
	assert.False(t, h.store.Pending(task.ID))

	h.clock.Advance(time.Minute)
	assert.Empty(t, h.store.CompletedByDay())
	assert.Empty(t, h.expired)
	assert.Equal(t, 0, h.clock.Pending())

	work := activeIn(h.store.ActiveByCategory(), "Work")
	require.Len(t, work, 1)
	assert.Equal(t, 0, work[0].Order)
}

func TestUncompleteAppendsWhenOrderTaken(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	a := h.add(t, "a", "Work")
	b := h.add(t, "b", "Work")
	c := h.add(t, "c", "Work")

	_, err := h.store.ToggleComplete(ctx, b.ID)
	require.NoError(t, err)
	h.clock.Advance(time.Hour)
	require.NoError(t, h.store.Reorder(ctx, c.ID, 0))
	gotA, err := h.store.Task(a.ID)
	require.NoError(t, err)
	require.Equal(t, 1, gotA.Order)

	back, err := h.store.ToggleComplete(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, back.Order)
}

func TestUncompleteKeepsFreeOrder(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.add(t, "a", "Work")
	b := h.add(t, "b", "Work")
	h.add(t, "c", "Work")

	_, err := h.store.ToggleComplete(ctx, b.ID)
	require.NoError(t, err)
	back, err := h.store.ToggleComplete(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, back.Order)
}

func TestToggleUnknownTask(t *testing.T) {
	h := newHarness(t)
	_, err := h.store.ToggleComplete(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 0, h.persist.saves)
}

func TestDeleteCancelsPendingTimer(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	task := h.add(t, "Buy milk", "Shopping")
	_, err := h.store.ToggleComplete(ctx, task.ID)
	require.NoError(t, err)

	removed, err := h.store.Delete(ctx, task.ID)
	require.NoError(t, err)
	assert.True(t, removed)

	h.clock.Advance(time.Minute)
	assert.Empty(t, h.store.ActiveByCategory())
	assert.Empty(t, h.store.CompletedByDay())
	assert.Empty(t, h.expired)
}

func TestDeleteUnknownDoesNotSave(t *testing.T) {
	h := newHarness(t)
	h.add(t, "keep", "Work")
	saves := h.persist.saves

	removed, err := h.store.Delete(context.Background(), "missing")
	require.NoError(t, err)
	assert.False(t, removed)
	assert.Equal(t, saves, h.persist.saves)
}

func TestReorderToSamePositionIsNoop(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	for _, title := range []string{"a", "b", "c", "d"} {
		h.add(t, title, "Work")
	}
	before := h.store.Tasks()
	saves := h.persist.saves

	for i, task := range before {
		require.NoError(t, h.store.Reorder(ctx, task.ID, i))
	}
	assert.Equal(t, before, h.store.Tasks())
	assert.Equal(t, saves, h.persist.saves)
}

func TestReorderDenseAndClamped(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	a := h.add(t, "a", "Work")
	b := h.add(t, "b", "Work")
	c := h.add(t, "c", "Work")
	other := h.add(t, "x", "Home")

	require.NoError(t, h.store.Reorder(ctx, a.ID, 99))
	work := activeIn(h.store.ActiveByCategory(), "Work")
	require.Len(t, work, 3)
	assert.Equal(t, []string{b.ID, c.ID, a.ID}, []string{work[0].ID, work[1].ID, work[2].ID})
	for i, task := range work {
		assert.Equal(t, i, task.Order)
	}

	require.NoError(t, h.store.Reorder(ctx, a.ID, -5))
	work = activeIn(h.store.ActiveByCategory(), "Work")
	assert.Equal(t, a.ID, work[0].ID)

	home, err := h.store.Task(other.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, home.Order)

	assert.ErrorIs(t, h.store.Reorder(ctx, "missing", 0), ErrNotFound)
}

func TestReorderIgnoresCompletedTasks(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	a := h.add(t, "a", "Work")
	_, err := h.store.ToggleComplete(ctx, a.ID)
	require.NoError(t, err)
	saves := h.persist.saves

	assert.ErrorIs(t, h.store.Reorder(ctx, a.ID, 0), ErrInvalid)
	assert.Equal(t, saves, h.persist.saves)
}

func TestUpdate(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	a := h.add(t, "a", "Work")
	b := h.add(t, "b", "Work")
	c := h.add(t, "c", "Work")
	h.add(t, "h", "Home")

	title := "renamed"
	got, err := h.store.Update(ctx, b.ID, TaskPatch{Title: &title})
	require.NoError(t, err)
	assert.Equal(t, "renamed", got.Title)

	blank := "  "
	_, err = h.store.Update(ctx, b.ID, TaskPatch{Title: &blank})
	require.ErrorIs(t, err, ErrInvalid)
	still, err := h.store.Task(b.ID)
	require.NoError(t, err)
	assert.Equal(t, "renamed", still.Title)

	home := "Home"
	moved, err := h.store.Update(ctx, a.ID, TaskPatch{Category: &home})
	require.NoError(t, err)
	assert.Equal(t, "Home", moved.Category)
	assert.Equal(t, 1, moved.Order)

	work := activeIn(h.store.ActiveByCategory(), "Work")
	require.Len(t, work, 2)
	assert.Equal(t, b.ID, work[0].ID)
	assert.Equal(t, 0, work[0].Order)
	assert.Equal(t, c.ID, work[1].ID)
	assert.Equal(t, 1, work[1].Order)

	_, err = h.store.Update(ctx, "missing", TaskPatch{Title: &title})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestActiveSortedByOrderAndHidesExpired(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	ids := map[string]string{}
	for _, title := range []string{"a", "b", "c", "d", "e"} {
		ids[title] = h.add(t, title, "Work").ID
	}
	require.NoError(t, h.store.Reorder(ctx, ids["e"], 1))
	require.NoError(t, h.store.Reorder(ctx, ids["a"], 3))
	_, err := h.store.ToggleComplete(ctx, ids["c"])
	require.NoError(t, err)
	h.clock.Advance(5 * time.Second)

	for _, g := range h.store.ActiveByCategory() {
		for i := 1; i < len(g.Tasks); i++ {
			assert.Less(t, g.Tasks[i-1].Order, g.Tasks[i].Order, "category %s", g.Category)
		}
		for _, task := range g.Tasks {
			if task.Completed {
				assert.True(t, h.store.Pending(task.ID))
			}
		}
	}
	assert.Len(t, activeIn(h.store.ActiveByCategory(), "Work"), 4)
}

func TestActiveGroupsKeepDiscoveryOrder(t *testing.T) {
	p := &fakePersister{snap: &Snapshot{
		Tasks: []Task{
			{ID: "1", Title: "w", Category: "Work"},
			{ID: "2", Title: "none", Category: ""},
			{ID: "3", Title: "s", Category: "Shopping"},
			{ID: "4", Title: "w2", Category: "Work", Order: 1},
		},
		Categories: []string{"Work"},
		Settings:   Settings{DefaultCategory: "Work"},
	}}
	h := newHarnessWith(t, p)

	groups := h.store.ActiveByCategory()
	require.Len(t, groups, 3)
	assert.Equal(t, "Work", groups[0].Category)
	assert.Equal(t, UncategorizedCategory, groups[1].Category)
	assert.Equal(t, "Shopping", groups[2].Category)
	assert.Len(t, groups[0].Tasks, 2)
}

func TestCompletedByDayOrdering(t *testing.T) {
	day := int64(24 * time.Hour / time.Millisecond)
	now := testStart.UnixMilli()
	at := func(ms int64) *int64 { return &ms }
	p := &fakePersister{snap: &Snapshot{
		Tasks: []Task{
			{ID: "old", Title: "old", Category: "Work", Completed: true, CompletedAt: at(now - 10*day)},
			{ID: "y1", Title: "y1", Category: "Work", Completed: true, CompletedAt: at(now - day)},
			{ID: "t1", Title: "t1", Category: "Work", Completed: true, CompletedAt: at(now - 60_000)},
			{ID: "t2", Title: "t2", Category: "Work", Completed: true, CompletedAt: at(now - 1000)},
			{ID: "y2", Title: "y2", Category: "Work", Completed: true, CompletedAt: at(now - day - 1000)},
			{ID: "open", Title: "open", Category: "Work"},
		},
	}}
	h := newHarnessWith(t, p)

	groups := h.store.CompletedByDay()
	require.Len(t, groups, 3)
	assert.Equal(t, LabelToday, groups[0].Label)
	assert.Equal(t, LabelYesterday, groups[1].Label)
	assert.Equal(t, "Dec 26, 2023", groups[2].Label)
	assert.Equal(t, []string{"t2", "t1", "y1", "y2", "old"}, completedIDs(groups))
}

func TestDayLabel(t *testing.T) {
	now := time.Date(2024, 3, 1, 0, 30, 0, 0, time.UTC)
	assert.Equal(t, LabelToday, DayLabel(time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), now, time.UTC))
	assert.Equal(t, LabelYesterday, DayLabel(time.Date(2024, 2, 29, 23, 59, 0, 0, time.UTC), now, time.UTC))
	assert.Equal(t, "Feb 28, 2024", DayLabel(time.Date(2024, 2, 28, 23, 59, 0, 0, time.UTC), now, time.UTC))
	assert.Equal(t, "Jan 5, 2024", DayLabel(time.Date(2024, 1, 5, 8, 0, 0, 0, time.UTC), now, nil))

	// 23:30 UTC on Feb 29 is already Mar 1 in a UTC+2 zone.
	east := time.FixedZone("UTC+2", 2*60*60)
	assert.Equal(t, LabelToday, DayLabel(time.Date(2024, 2, 29, 23, 30, 0, 0, time.UTC), now, east))
}

func TestSaveFailureKeepsMemoryState(t *testing.T) {
	h := newHarnessWith(t, &fakePersister{saveErr: errQuota})

	task, err := h.store.Create(context.Background(), "still here", "Work")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSaveFailed))
	assert.True(t, errors.Is(err, errQuota))
	require.NotNil(t, task)
	assert.Len(t, h.store.Tasks(), 1)
}

func TestOpenFallsBackOnLoadError(t *testing.T) {
	h := newHarnessWith(t, &fakePersister{loadErr: errors.New("corrupt")})
	assert.Equal(t, DefaultSnapshot(), h.store.Snapshot())
}

func TestOpenNormalizesSnapshot(t *testing.T) {
	done := int64(5)
	p := &fakePersister{snap: &Snapshot{
		Tasks: []Task{
			{ID: "a", Title: "a", Category: "Work"},
			{ID: "a", Title: "dup", Category: "Work"},
			{ID: "b", Title: "b", Category: "Work", Order: 1, CompletedAt: &done},
		},
		Categories: []string{" Work ", "work", ""},
	}}
	h := newHarnessWith(t, p)

	snap := h.store.Snapshot()
	require.Len(t, snap.Tasks, 2)
	assert.Nil(t, snap.Tasks[1].CompletedAt)
	assert.Equal(t, []string{"Work"}, snap.Categories)
	assert.Equal(t, DefaultCategory, snap.Settings.DefaultCategory)
}

func TestCategoriesAndSettings(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	require.NoError(t, h.store.AddCategory(ctx, "Errands"))
	require.NoError(t, h.store.AddCategory(ctx, "errands"))
	assert.ErrorIs(t, h.store.AddCategory(ctx, " "), ErrInvalid)
	assert.Equal(t, []string{"Personal", "Work", "Shopping", "Errands"}, h.store.Categories())

	require.NoError(t, h.store.SetDefaultCategory(ctx, "Garden"))
	assert.Equal(t, "Garden", h.store.Settings().DefaultCategory)
	assert.Contains(t, h.store.Categories(), "Garden")

	task := h.add(t, "Plant", "")
	assert.Equal(t, "Garden", task.Category)
}

func TestResetAndClose(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	task := h.add(t, "x", "Work")
	_, err := h.store.ToggleComplete(ctx, task.ID)
	require.NoError(t, err)

	require.NoError(t, h.store.Reset(ctx))
	assert.Equal(t, 1, h.persist.clears)
	assert.Empty(t, h.store.Tasks())
	assert.False(t, h.store.Pending(task.ID))
	h.clock.Advance(time.Minute)
	assert.Empty(t, h.expired)

	h.add(t, "y", "Work")
	saves := h.persist.saves
	require.NoError(t, h.store.Close(ctx))
	assert.Equal(t, saves+1, h.persist.saves)
}

func TestReturnedTasksAreCopies(t *testing.T) {
	h := newHarness(t)
	task := h.add(t, "draft", "Work")
	task.Title = "mutated"

	got, err := h.store.Task(task.ID)
	require.NoError(t, err)
	assert.Equal(t, "draft", got.Title)
}
