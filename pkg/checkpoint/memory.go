package checkpoint

import (
	"context"
	"sync"
)

// MemoryStore keeps the history in process memory
type MemoryStore struct {
	mu      sync.Mutex
	history []Checkpoint
	// FailAppend, when set, is returned by the next Append
	FailAppend error
}

// NewMemoryStore creates an empty store
func NewMemoryStore(seed ...Checkpoint) *MemoryStore {
	return &MemoryStore{history: append([]Checkpoint(nil), seed...)}
}

func (m *MemoryStore) Latest(ctx context.Context) (*Checkpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.history) == 0 {
		return nil, nil
	}
	cp := latest(m.history)
	return &cp, nil
}

func (m *MemoryStore) Append(ctx context.Context, cursor string, sequence int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailAppend != nil {
		err := m.FailAppend
		m.FailAppend = nil
		return err
	}
	m.history = append(m.history, Checkpoint{Cursor: cursor, Sequence: sequence, Time: now()})
	return nil
}

func (m *MemoryStore) History(ctx context.Context, limit int) ([]Checkpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return newestFirst(m.history, limit), nil
}

// Len returns the number of recorded checkpoints
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.history)
}

func (m *MemoryStore) Close() error { return nil }
