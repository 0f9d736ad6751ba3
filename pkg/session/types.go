// Package session implements the conversational session runtime: a
// concurrency-safe table of per-user dialogue state, lifecycle and
// idle-expiry management, bounded context windows with periodic
// summarization, rate-limited snapshot persistence with bounded-window
// recovery, and read-only analytics over the active table.
package session

import (
	"sync"
	"time"
)

// Interaction is one (utterance, reply) pair in a session's history.
type Interaction struct {
	// UserMessage is the user's utterance.
	UserMessage string `json:"userMessage" firestore:"userMessage"`
	// AssistantReply is the reply that was returned to the user.
	AssistantReply string `json:"assistantReply" firestore:"assistantReply"`
	// Timestamp is when the interaction was committed.
	Timestamp time.Time `json:"timestamp" firestore:"timestamp"`
}

// Session is a live session record. Mutable fields are guarded by mu
// and must only be touched while holding it; ID and OwnerID are
// immutable after creation and safe to read without the lock.
type Session struct {
	mu sync.Mutex

	// ID is the opaque unique session identifier.
	ID string
	// OwnerID is the authenticated user this session belongs to.
	OwnerID string

	CreatedAt         time.Time
	LastInteractionAt time.Time

	// History holds at most the configured window of recent
	// interactions, oldest first.
	History []Interaction

	// Topic is set once on the first interaction, best effort.
	Topic string
	// ContextSummary is refreshed every few interactions, best effort.
	ContextSummary string

	// TotalInteractions counts all interactions ever, including those
	// trimmed out of History.
	TotalInteractions int

	// Paused sessions are exempt from the idle sweep.
	Paused   bool
	PausedAt *time.Time
}

// Snapshot is a full, serializable copy of a session, sufficient to
// reconstruct it after a process restart.
type Snapshot struct {
	ID                string        `json:"id" firestore:"id"`
	OwnerID           string        `json:"ownerId" firestore:"ownerId"`
	CreatedAt         time.Time     `json:"createdAt" firestore:"createdAt"`
	LastInteractionAt time.Time     `json:"lastInteractionAt" firestore:"lastInteractionAt"`
	History           []Interaction `json:"history" firestore:"history"`
	Topic             string        `json:"topic,omitempty" firestore:"topic,omitempty"`
	ContextSummary    string        `json:"contextSummary,omitempty" firestore:"contextSummary,omitempty"`
	TotalInteractions int           `json:"totalInteractions" firestore:"totalInteractions"`
	Paused            bool          `json:"paused" firestore:"paused"`
	PausedAt          *time.Time    `json:"pausedAt,omitempty" firestore:"pausedAt,omitempty"`
	// SavedAt is when this snapshot was written; recovery rejects
	// snapshots older than the recovery window.
	SavedAt time.Time `json:"savedAt" firestore:"savedAt"`
}

// snapshotLocked copies the session's state. Caller must hold s.mu.
func (s *Session) snapshotLocked(now time.Time) *Snapshot {
	history := make([]Interaction, len(s.History))
	copy(history, s.History)

	var pausedAt *time.Time
	if s.PausedAt != nil {
		t := *s.PausedAt
		pausedAt = &t
	}

	return &Snapshot{
		ID:                s.ID,
		OwnerID:           s.OwnerID,
		CreatedAt:         s.CreatedAt,
		LastInteractionAt: s.LastInteractionAt,
		History:           history,
		Topic:             s.Topic,
		ContextSummary:    s.ContextSummary,
		TotalInteractions: s.TotalInteractions,
		Paused:            s.Paused,
		PausedAt:          pausedAt,
		SavedAt:           now,
	}
}

// Snapshot copies the session's state under its lock.
func (s *Session) Snapshot(now time.Time) *Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked(now)
}

// restore builds a live session from a snapshot. The caller decides
// the new LastInteractionAt; recovery resets it to now so a recovered
// session is not immediately sweep-eligible.
func restore(snap *Snapshot, lastInteractionAt time.Time) *Session {
	history := make([]Interaction, len(snap.History))
	copy(history, snap.History)

	return &Session{
		ID:                snap.ID,
		OwnerID:           snap.OwnerID,
		CreatedAt:         snap.CreatedAt,
		LastInteractionAt: lastInteractionAt,
		History:           history,
		Topic:             snap.Topic,
		ContextSummary:    snap.ContextSummary,
		TotalInteractions: snap.TotalInteractions,
	}
}

// Info is the read-only session metadata returned to callers.
type Info struct {
	SessionID         string    `json:"sessionId"`
	OwnerID           string    `json:"ownerId"`
	CreatedAt         time.Time `json:"createdAt"`
	LastInteractionAt time.Time `json:"lastInteractionAt"`
	Topic             string    `json:"topic,omitempty"`
	ContextSummary    string    `json:"contextSummary,omitempty"`
	TotalInteractions int       `json:"totalInteractions"`
	DurationMinutes   float64   `json:"durationMinutes"`
	Paused            bool      `json:"paused"`
}

// Info copies the session's metadata under its lock.
func (s *Session) Info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()

	return Info{
		SessionID:         s.ID,
		OwnerID:           s.OwnerID,
		CreatedAt:         s.CreatedAt,
		LastInteractionAt: s.LastInteractionAt,
		Topic:             s.Topic,
		ContextSummary:    s.ContextSummary,
		TotalInteractions: s.TotalInteractions,
		DurationMinutes:   s.LastInteractionAt.Sub(s.CreatedAt).Minutes(),
		Paused:            s.Paused,
	}
}
