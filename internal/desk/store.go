package desk

import (
	"context"
	"sync"
)

// Store keeps desk state keyed by desk id.
type Store interface {
	// Get returns the stored state, or a fresh state for an unknown desk.
	Get(ctx context.Context, id string) (State, error)
	// Update atomically applies fn to the state. Nothing is written when fn fails.
	Update(ctx context.Context, id string, fn func(*State) error) (State, error)
}

// MemoryStore is a process-local Store.
type MemoryStore struct {
	mu     sync.Mutex
	states map[string]State
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{states: make(map[string]State)}
}

// Get implements Store.
func (s *MemoryStore) Get(ctx context.Context, id string) (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load(id), nil
}

// Update implements Store.
func (s *MemoryStore) Update(ctx context.Context, id string, fn func(*State) error) (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.load(id)
	if err := fn(&st); err != nil {
		return State{}, err
	}
	s.states[id] = st.Clone()
	return st, nil
}

func (s *MemoryStore) load(id string) State {
	if st, ok := s.states[id]; ok {
		return st.Clone()
	}
	return NewState()
}
