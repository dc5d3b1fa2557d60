package store

import (
	"strings"
	"time"
)

const (
	DefaultCategory       = "Personal"
	UncategorizedCategory = "Uncategorized"
)

var defaultCategories = []string{"Personal", "Work", "Shopping"}

type Task struct {
	ID          string `json:"id" yaml:"id"`
	Title       string `json:"title" yaml:"title"`
	Category    string `json:"category" yaml:"category"`
	Completed   bool   `json:"completed" yaml:"completed"`
	CreatedAt   int64  `json:"createdAt" yaml:"createdAt"`
	CompletedAt *int64 `json:"completedAt" yaml:"completedAt"`
	Order       int    `json:"order" yaml:"order"`
}

type Settings struct {
	DefaultCategory string `json:"defaultCategory" yaml:"defaultCategory"`
}

// Snapshot is the unit of persistence: everything the store owns.
type Snapshot struct {
	Tasks      []Task   `json:"tasks" yaml:"tasks"`
	Categories []string `json:"categories" yaml:"categories"`
	Settings   Settings `json:"settings" yaml:"settings"`
}

// TaskPatch carries the fields Update may change. Nil fields are left alone.
type TaskPatch struct {
	Title    *string `json:"title,omitempty"`
	Category *string `json:"category,omitempty"`
}

func DefaultSnapshot() Snapshot {
	return Snapshot{
		Tasks:      []Task{},
		Categories: append([]string(nil), defaultCategories...),
		Settings:   Settings{DefaultCategory: DefaultCategory},
	}
}

// Clone returns a deep copy of the snapshot.
func (s Snapshot) Clone() Snapshot {
	out := Snapshot{
		Tasks:      make([]Task, len(s.Tasks)),
		Categories: append([]string{}, s.Categories...),
		Settings:   s.Settings,
	}
	for i, t := range s.Tasks {
		out.Tasks[i] = t.clone()
	}
	return out
}

func (t Task) clone() Task {
	if t.CompletedAt != nil {
		v := *t.CompletedAt
		t.CompletedAt = &v
	}
	return t
}

// CompletedTime returns CompletedAt as a time, or the zero time when unset.
func (t Task) CompletedTime() time.Time {
	if t.CompletedAt == nil {
		return time.Time{}
	}
	return time.UnixMilli(*t.CompletedAt)
}

func (t Task) CreatedTime() time.Time {
	return time.UnixMilli(t.CreatedAt)
}

func (t Task) IDShort(n int) string {
	if len(t.ID) <= n {
		return t.ID
	}
	return t.ID[:n]
}

func (t Task) StatusAbbrev() string {
	if t.Completed {
		return "✓"
	}
	return "o"
}

// groupCategory is the label a task is listed under in the active view.
func (t Task) groupCategory() string {
	if strings.TrimSpace(t.Category) == "" {
		return UncategorizedCategory
	}
	return t.Category
}

// normalizeSnapshot fills defaults and drops tasks with duplicate ids so a
// loaded snapshot satisfies the same invariants as one built in memory.
func normalizeSnapshot(s Snapshot) Snapshot {
	if s.Tasks == nil {
		s.Tasks = []Task{}
	}
	seen := make(map[string]bool, len(s.Tasks))
	tasks := s.Tasks[:0]
	for _, t := range s.Tasks {
		if t.ID == "" || seen[t.ID] {
			continue
		}
		seen[t.ID] = true
		if !t.Completed {
			t.CompletedAt = nil
		}
		tasks = append(tasks, t)
	}
	s.Tasks = tasks
	s.Categories = dedupeCategories(s.Categories)
	if len(s.Categories) == 0 {
		s.Categories = append([]string(nil), defaultCategories...)
	}
	if strings.TrimSpace(s.Settings.DefaultCategory) == "" {
		s.Settings.DefaultCategory = DefaultCategory
	}
	return s
}

// dedupeCategories trims names and keeps the first spelling of each,
// preserving order.
func dedupeCategories(in []string) []string {
	seen := map[string]bool{}
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		key := strings.ToLower(s)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, s)
	}
	return out
}

func containsCategory(list []string, v string) bool {
	v = strings.TrimSpace(strings.ToLower(v))
	for _, s := range list {
		if strings.ToLower(s) == v {
			return true
		}
	}
	return false
}
