package calibration

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory calibration store for development and tests.
type MemoryStore struct {
	mu         sync.RWMutex
	sessions   map[string]*Session
	thresholds map[string][]*PersonalThreshold // by student, append order
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions:   make(map[string]*Session),
		thresholds: make(map[string][]*PersonalThreshold),
	}
}

func (m *MemoryStore) CreateSession(_ context.Context, s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[s.ID]; ok {
		return ErrSessionExists
	}
	cp := *s
	m.sessions[s.ID] = &cp
	return nil
}

func (m *MemoryStore) GetSession(_ context.Context, id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *MemoryStore) CompleteSession(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return ErrNotFound
	}
	if s.Status == StatusCompleted {
		return ErrSessionCompleted
	}
	s.Status = StatusCompleted
	s.CompletedAt = &at
	return nil
}

func (m *MemoryStore) AppendThreshold(_ context.Context, t *PersonalThreshold) error {
	cp := *t
	m.mu.Lock()
	m.thresholds[t.StudentID] = append(m.thresholds[t.StudentID], &cp)
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) LatestThreshold(ctx context.Context, studentID string) (*PersonalThreshold, error) {
	rows, _ := m.ListThresholds(ctx, studentID, 1)
	if len(rows) == 0 {
		return nil, ErrNotFound
	}
	return rows[0], nil
}

func (m *MemoryStore) ListThresholds(_ context.Context, studentID string, limit int) ([]*PersonalThreshold, error) {
	m.mu.RLock()
	ledger := m.thresholds[studentID]
	rows := make([]*PersonalThreshold, 0, len(ledger))
	for i := len(ledger) - 1; i >= 0; i-- {
		cp := *ledger[i]
		rows = append(rows, &cp)
	}
	m.mu.RUnlock()

	// Rows start newest-appended first, so equal timestamps keep the later row ahead.
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].CreatedAt.After(rows[j].CreatedAt) })
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}
	return rows, nil
}

var _ Store = (*MemoryStore)(nil)
