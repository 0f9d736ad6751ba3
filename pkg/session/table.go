package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Table is the concurrency-safe map of live sessions. Structural
// operations (capacity check + insert, remove) are atomic under the
// table lock; per-session mutation is serialized by each record's own
// lock. The table lock is never held while a record lock is taken by
// external callers, and record locks are never held across table
// operations, so the two levels cannot deadlock.
type Table struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	byOwner  map[string]map[string]*Session

	maxPerUser int
	now        func() time.Time
}

// NewTable creates an empty table with the given per-user capacity.
func NewTable(maxPerUser int) *Table {
	return &Table{
		sessions:   make(map[string]*Session),
		byOwner:    make(map[string]map[string]*Session),
		maxPerUser: maxPerUser,
		now:        time.Now,
	}
}

// newSessionID generates an opaque session identifier. The owner is
// embedded for log readability only; identity checks always use the
// OwnerID field.
func newSessionID(ownerID string) string {
	return fmt.Sprintf("session_%s_%s", ownerID, uuid.New().String()[:8])
}

// GetOrCreate returns the session for sessionID after refreshing its
// last-interaction time, or atomically creates a new session for
// ownerID. The capacity check and insert happen under one critical
// section so concurrent creates cannot exceed the per-user cap.
// The second return value reports whether a session was created.
func (t *Table) GetOrCreate(ownerID, sessionID string) (*Session, bool, error) {
	if sessionID != "" {
		t.mu.RLock()
		s, ok := t.sessions[sessionID]
		t.mu.RUnlock()

		if ok {
			if s.OwnerID != ownerID {
				return nil, false, ErrUnauthorized
			}
			s.mu.Lock()
			s.LastInteractionAt = t.now()
			s.mu.Unlock()
			return s, false, nil
		}
		// Unknown id: fall through and start a fresh session with a
		// newly generated id.
	}

	s, err := t.create(ownerID)
	if err != nil {
		return nil, false, err
	}
	return s, true, nil
}

// create inserts a new session for ownerID, enforcing the cap.
func (t *Table) create(ownerID string) (*Session, error) {
	now := t.now()

	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.byOwner[ownerID]) >= t.maxPerUser {
		return nil, ErrCapacityExceeded
	}

	s := &Session{
		ID:                newSessionID(ownerID),
		OwnerID:           ownerID,
		CreatedAt:         now,
		LastInteractionAt: now,
		History:           make([]Interaction, 0, 8),
	}
	t.insertLocked(s)
	return s, nil
}

// Reinsert places a recovered session back into the table, enforcing
// the owner cap. If the id is already live the existing session is
// returned instead.
func (t *Table) Reinsert(s *Session) (*Session, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if existing, ok := t.sessions[s.ID]; ok {
		return existing, nil
	}
	if len(t.byOwner[s.OwnerID]) >= t.maxPerUser {
		return nil, ErrCapacityExceeded
	}
	t.insertLocked(s)
	return s, nil
}

// insertLocked adds s to both indexes. Caller must hold t.mu.
func (t *Table) insertLocked(s *Session) {
	t.sessions[s.ID] = s
	owned := t.byOwner[s.OwnerID]
	if owned == nil {
		owned = make(map[string]*Session)
		t.byOwner[s.OwnerID] = owned
	}
	owned[s.ID] = s
}

// Get returns a live session, verifying ownership when ownerID is
// non-empty.
func (t *Table) Get(sessionID, ownerID string) (*Session, error) {
	t.mu.RLock()
	s, ok := t.sessions[sessionID]
	t.mu.RUnlock()

	if !ok {
		return nil, ErrNotFound
	}
	if ownerID != "" && s.OwnerID != ownerID {
		return nil, ErrUnauthorized
	}
	return s, nil
}

// Remove deletes a session from both indexes. It reports whether the
// session was present, so a sweep and an explicit delete racing on the
// same id cannot both claim the removal.
func (t *Table) Remove(sessionID string) (*Session, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.sessions[sessionID]
	if !ok {
		return nil, false
	}
	delete(t.sessions, sessionID)
	if owned := t.byOwner[s.OwnerID]; owned != nil {
		delete(owned, sessionID)
		if len(owned) == 0 {
			delete(t.byOwner, s.OwnerID)
		}
	}
	return s, true
}

// ListActive returns all live sessions for an owner.
func (t *Table) ListActive(ownerID string) []*Session {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]*Session, 0, len(t.byOwner[ownerID]))
	for _, s := range t.byOwner[ownerID] {
		out = append(out, s)
	}
	return out
}

// All returns every live session.
func (t *Table) All() []*Session {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]*Session, 0, len(t.sessions))
	for _, s := range t.sessions {
		out = append(out, s)
	}
	return out
}

// Len returns the number of live sessions.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.sessions)
}
