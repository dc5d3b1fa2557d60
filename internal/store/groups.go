package store

import (
	"sort"
	"time"
)

const (
	LabelToday     = "Today"
	LabelYesterday = "Yesterday"
	dayLabelLayout = "Jan 2, 2006"
)

type CategoryGroup struct {
	Category string `json:"category"`
	Tasks    []Task `json:"tasks"`
}

type DayGroup struct {
	Label string `json:"label"`
	Tasks []Task `json:"tasks"`
}

// ActiveByCategory lists incomplete tasks plus completed ones still inside
// their grace window. Categories appear in the order they are first seen;
// tasks inside a category are sorted by order.
func (s *Store) ActiveByCategory() []CategoryGroup {
	s.mu.Lock()
	defer s.mu.Unlock()

	var groups []CategoryGroup
	pos := map[string]int{}
	for _, t := range s.state.Tasks {
		if t.Completed && !s.sched.IsActive(t.ID) {
			continue
		}
		key := t.groupCategory()
		n, ok := pos[key]
		if !ok {
			n = len(groups)
			pos[key] = n
			groups = append(groups, CategoryGroup{Category: key})
		}
		groups[n].Tasks = append(groups[n].Tasks, t.clone())
	}
	for _, g := range groups {
		tasks := g.Tasks
		sort.SliceStable(tasks, func(i, j int) bool { return tasks[i].Order < tasks[j].Order })
	}
	return groups
}

// CompletedByDay lists completed tasks whose grace window has elapsed, newest
// first, grouped under Today, Yesterday or a short date.
func (s *Store) CompletedByDay() []DayGroup {
	s.mu.Lock()
	defer s.mu.Unlock()

	var done []Task
	for _, t := range s.state.Tasks {
		if t.Completed && !s.sched.IsActive(t.ID) {
			done = append(done, t.clone())
		}
	}
	sort.SliceStable(done, func(i, j int) bool {
		return completedMillis(done[i]) > completedMillis(done[j])
	})

	now := s.clock.Now()
	var groups []DayGroup
	for _, t := range done {
		label := DayLabel(t.CompletedTime(), now, s.loc)
		if n := len(groups); n > 0 && groups[n-1].Label == label {
			groups[n-1].Tasks = append(groups[n-1].Tasks, t)
			continue
		}
		groups = append(groups, DayGroup{Label: label, Tasks: []Task{t}})
	}
	return groups
}

// DayLabel names the calendar day of ts relative to now. Both are truncated
// to midnight in loc before comparing.
func DayLabel(ts, now time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	day := midnight(ts.In(loc))
	today := midnight(now.In(loc))
	switch {
	case day.Equal(today):
		return LabelToday
	case day.Equal(today.AddDate(0, 0, -1)):
		return LabelYesterday
	default:
		return ts.In(loc).Format(dayLabelLayout)
	}
}

func midnight(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

func completedMillis(t Task) int64 {
	if t.CompletedAt == nil {
		return 0
	}
	return *t.CompletedAt
}
