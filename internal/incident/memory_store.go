package incident

import (
	"context"
	"sort"
	"sync"

	"github.com/Natasha-Nyaga/online-exam-proctoring/internal/pagination"
)

// MemoryStore is an in-memory incident log for development and tests.
type MemoryStore struct {
	mu        sync.RWMutex
	bySession map[string][]*Incident
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{bySession: make(map[string][]*Incident)}
}

func (m *MemoryStore) Create(_ context.Context, inc *Incident) error {
	cp := *inc
	m.mu.Lock()
	m.bySession[inc.SessionID] = append(m.bySession[inc.SessionID], &cp)
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) CountBySession(_ context.Context, sessionID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.bySession[sessionID]), nil
}

func (m *MemoryStore) ListBySession(_ context.Context, sessionID string, limit int, after *pagination.Cursor) ([]*Incident, error) {
	m.mu.RLock()
	var out []*Incident
	for _, inc := range m.bySession[sessionID] {
		if before(inc, after) {
			cp := *inc
			out = append(out, &cp)
		}
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

var _ Store = (*MemoryStore)(nil)
