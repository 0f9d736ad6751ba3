package session

import (
	"context"
	"sync"
)

// MemoryStore is an in-process SnapshotStore. It is the default for
// single-node deployments without durable persistence configured, and
// the store used throughout the tests.
type MemoryStore struct {
	mu       sync.RWMutex
	live     map[string]*Snapshot
	archived map[string]*Snapshot
	saves    int
	closed   bool
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		live:     make(map[string]*Snapshot),
		archived: make(map[string]*Snapshot),
	}
}

// Save creates or replaces the live snapshot.
func (m *MemoryStore) Save(ctx context.Context, snap *Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrStoreClosed
	}
	m.live[snap.ID] = snap
	m.saves++
	return nil
}

// Load returns the live snapshot if present, otherwise the most recent
// archived one.
func (m *MemoryStore) Load(ctx context.Context, sessionID string) (*Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrStoreClosed
	}
	if snap, ok := m.live[sessionID]; ok {
		return snap, nil
	}
	if snap, ok := m.archived[sessionID]; ok {
		return snap, nil
	}
	return nil, ErrNotFound
}

// Archive records a session leaving the table.
func (m *MemoryStore) Archive(ctx context.Context, snap *Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrStoreClosed
	}
	m.archived[snap.ID] = snap
	return nil
}

// Delete removes the live snapshot.
func (m *MemoryStore) Delete(ctx context.Context, sessionID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrStoreClosed
	}
	delete(m.live, sessionID)
	return nil
}

// Close marks the store closed.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// ArchiveCount reports the number of archived sessions. Test helper.
func (m *MemoryStore) ArchiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.archived)
}

// SaveCount reports the number of completed Save calls. Test helper.
func (m *MemoryStore) SaveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.saves
}
