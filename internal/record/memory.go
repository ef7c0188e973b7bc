package record

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-process Store used in database-less deployments and
// tests. Records do not survive a restart.
type MemoryStore struct {
	mu     sync.Mutex
	nextID int64
	byID   map[int64]*ExecutionRecord
	byKey  map[recordKey]int64
}

type recordKey struct {
	automationID int64
	fingerprint  string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:  make(map[int64]*ExecutionRecord),
		byKey: make(map[recordKey]int64),
	}
}

func (s *MemoryStore) Create(ctx context.Context, r *ExecutionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := recordKey{r.AutomationID, r.Fingerprint}
	if id, ok := s.byKey[key]; ok {
		existing := *s.byID[id]
		return &DuplicateError{Existing: &existing}
	}

	s.nextID++
	r.ID = s.nextID
	now := time.Now()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	r.UpdatedAt = now

	stored := *r
	s.byID[r.ID] = &stored
	s.byKey[key] = r.ID
	return nil
}

func (s *MemoryStore) Update(ctx context.Context, r *ExecutionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byID[r.ID]; !ok {
		return ErrNotFound
	}
	r.UpdatedAt = time.Now()
	stored := *r
	s.byID[r.ID] = &stored
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id int64) (*ExecutionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := *r
	return &out, nil
}

func (s *MemoryStore) ListByAutomation(ctx context.Context, automationID int64, limit int) ([]*ExecutionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*ExecutionRecord
	for _, r := range s.byID {
		if r.AutomationID == automationID {
			cp := *r
			out = append(out, &cp)
		}
	}
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
