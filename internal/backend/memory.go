package backend

import (
	"context"
	"sync"

	"github.com/amirbrooks/tasker-engine/internal/store"
)

// Memory holds the encoded snapshot in process. Useful for tests and
// throwaway sessions.
type Memory struct {
	mu       sync.Mutex
	data     []byte
	MaxBytes int
}

func NewMemory() *Memory { return &Memory{} }

func (m *Memory) Load(ctx context.Context) (store.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data == nil {
		return store.DefaultSnapshot(), nil
	}
	s, err := decode(FormatJSON, m.data)
	if err != nil {
		return store.DefaultSnapshot(), nil
	}
	return s, nil
}

func (m *Memory) Save(ctx context.Context, s store.Snapshot) error {
	b, err := encode(FormatJSON, s)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.MaxBytes > 0 && len(b) > m.MaxBytes {
		return ErrQuotaExceeded
	}
	m.data = b
	return nil
}

func (m *Memory) Clear(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = nil
	return nil
}
