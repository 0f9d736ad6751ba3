package session

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/voxgo-dev/voxgo/internal/gen"
	"github.com/voxgo-dev/voxgo/internal/observability"
	"github.com/voxgo-dev/voxgo/internal/synth"
)

// Manager owns the session lifecycle: it resolves or creates sessions,
// drives the context engine for each interaction, schedules the idle
// sweep, and routes snapshots through the persistence port.
// Manager is safe for concurrent use.
type Manager struct {
	cfg    Config
	table  *Table
	engine *engine
	saver  *saver
	synth  synth.Synthesizer
	sched  *cron.Cron
	now    func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithSynthesizer sets the audio synthesis collaborator. The default
// produces no audio.
func WithSynthesizer(s synth.Synthesizer) Option {
	return func(m *Manager) { m.synth = s }
}

// withClock overrides the manager's clock. Test hook.
func withClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
		m.table.now = now
		m.saver.now = now
	}
}

// NewManager creates a manager over the given generation collaborator
// and snapshot store. Call Start to begin the periodic sweep.
func NewManager(cfg Config, g gen.Generator, store SnapshotStore, opts ...Option) *Manager {
	cfg = cfg.withDefaults()

	m := &Manager{
		cfg:    cfg,
		table:  NewTable(cfg.MaxSessionsPerUser),
		engine: newEngine(g, cfg.GenerationTimeout),
		saver:  newSaver(store, cfg.AutoSaveInterval, cfg.RecoveryWindow),
		synth:  synth.Noop{},
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start launches the periodic expiry sweep. The sweep runs on a timer
// rather than lazily on access, so eviction latency is bounded by the
// sweep interval regardless of traffic.
func (m *Manager) Start() {
	if m.sched != nil {
		return
	}
	m.sched = cron.New()
	_, err := m.sched.AddFunc(fmt.Sprintf("@every %s", m.cfg.SweepInterval), func() {
		m.SweepNow()
	})
	if err != nil {
		log.Printf("[Session] failed to schedule sweep: %v", err)
		return
	}
	m.sched.Start()
}

// Reply is the outcome of one interaction.
type Reply struct {
	SessionID string `json:"sessionId"`
	Text      string `json:"text"`
	// Audio is the synthesized artifact, if a synthesizer is
	// configured and synthesis succeeded.
	Audio *synth.Artifact `json:"audio,omitempty"`
	// Enhanced reports whether the reply was rephrased with
	// conversation context rather than returned as the base reply.
	Enhanced          bool    `json:"enhanced"`
	Topic             string  `json:"topic,omitempty"`
	TotalInteractions int     `json:"totalInteractions"`
	DurationMinutes   float64 `json:"durationMinutes"`
	SessionCreated    bool    `json:"sessionCreated"`
}

// Interact processes one utterance for a user, resolving or creating
// the session, producing a (possibly context-enhanced) reply, and
// committing the interaction to history.
//
// Generation calls run without any session lock held: context is read
// under the lock, the collaborator is called lock-free, and results
// are committed by re-acquiring the lock. A failed or timed-out
// enhancement degrades to the base reply; only a failed base reply
// fails the interaction.
func (m *Manager) Interact(ctx context.Context, ownerID, utterance, sessionID string) (*Reply, error) {
	s, created, err := m.table.GetOrCreate(ownerID, sessionID)
	if err != nil {
		return nil, err
	}
	if created {
		log.Printf("[Session] created session %s for user %s", s.ID, ownerID)
		observability.SetActiveSessions(m.table.Len())
	}

	// Read the context window under the lock; everything below until
	// the commit runs lock-free.
	s.mu.Lock()
	window := make([]Interaction, len(s.History))
	copy(window, s.History)
	topic := s.Topic
	summary := s.ContextSummary
	s.mu.Unlock()

	first := len(window) == 0

	base, err := m.engine.baseReply(ctx, utterance)
	if err != nil {
		return nil, err
	}

	text := base
	enhanced := false
	if first {
		topic = m.engine.classifyTopic(ctx, utterance)
	} else {
		text, enhanced = m.engine.enhance(ctx, utterance, base, window, topic, summary)
	}

	// Commit. The touch shares this critical section, so the session
	// cannot become sweep-eligible between commit and touch.
	now := m.now()
	s.mu.Lock()
	if first && s.Topic == "" {
		s.Topic = topic
	}
	s.History = append(s.History, Interaction{
		UserMessage:    utterance,
		AssistantReply: text,
		Timestamp:      now,
	})
	if len(s.History) > m.cfg.MaxHistory {
		s.History = s.History[len(s.History)-m.cfg.MaxHistory:]
	}
	s.TotalInteractions++
	s.LastInteractionAt = now

	total := s.TotalInteractions
	topic = s.Topic
	duration := s.LastInteractionAt.Sub(s.CreatedAt).Minutes()

	var summaryWindowCopy []Interaction
	if total%m.cfg.SummaryEvery == 0 && len(s.History) >= 2 {
		summaryWindowCopy = make([]Interaction, len(s.History))
		copy(summaryWindowCopy, s.History)
	}
	s.mu.Unlock()

	if summaryWindowCopy != nil {
		m.refreshSummary(ctx, s, summaryWindowCopy)
	}

	m.saver.MaybeSave(s)

	outcome := "enhanced"
	switch {
	case first:
		outcome = "first"
	case !enhanced:
		outcome = "fallback"
	}
	observability.RecordInteraction(outcome)

	reply := &Reply{
		SessionID:         s.ID,
		Text:              text,
		Enhanced:          enhanced,
		Topic:             topic,
		TotalInteractions: total,
		DurationMinutes:   duration,
		SessionCreated:    created,
	}

	// Audio synthesis happens after the reply text is fixed and never
	// affects session state.
	if audio, err := m.synth.Synthesize(ctx, text); err != nil {
		log.Printf("[Session] audio synthesis failed for %s: %v", s.ID, err)
	} else {
		reply.Audio = audio
	}

	return reply, nil
}

// refreshSummary regenerates the context summary, leaving the prior
// summary in place when the call fails.
func (m *Manager) refreshSummary(ctx context.Context, s *Session, window []Interaction) {
	summary, err := m.engine.summarize(ctx, window)
	if err != nil {
		log.Printf("[Session] summary refresh failed for %s: %v", s.ID, err)
		return
	}
	s.mu.Lock()
	s.ContextSummary = summary
	s.mu.Unlock()
}

// Pause marks a session paused, exempting it from the idle sweep, and
// requests an immediate snapshot save. Ownership is verified when
// ownerID is non-empty.
func (m *Manager) Pause(sessionID, ownerID string) error {
	s, err := m.table.Get(sessionID, ownerID)
	if err != nil {
		return err
	}

	now := m.now()
	s.mu.Lock()
	s.Paused = true
	s.PausedAt = &now
	s.mu.Unlock()

	m.saver.SaveNow(s)
	log.Printf("[Session] paused session %s", sessionID)
	return nil
}

// Resume clears a session's paused state. If the session is not in
// memory it is recovered from the last snapshot, subject to the
// recovery window and ownership check, and reinserted into the table.
func (m *Manager) Resume(ctx context.Context, sessionID, ownerID string) (Info, error) {
	s, err := m.table.Get(sessionID, ownerID)
	if err == ErrUnauthorized {
		return Info{}, err
	}
	if err != nil {
		recovered, rerr := m.saver.Recover(ctx, sessionID, ownerID)
		if rerr != nil {
			return Info{}, rerr
		}
		s, rerr = m.table.Reinsert(recovered)
		if rerr != nil {
			return Info{}, rerr
		}
		observability.RecordRecovery()
		observability.SetActiveSessions(m.table.Len())
		log.Printf("[Session] recovered session %s for user %s", sessionID, s.OwnerID)
	}

	s.mu.Lock()
	s.Paused = false
	s.PausedAt = nil
	s.LastInteractionAt = m.now()
	s.mu.Unlock()

	return s.Info(), nil
}

// Delete removes a session from the table after attempting an archive
// write. Archive failure is logged and never blocks the deletion.
func (m *Manager) Delete(sessionID, ownerID string) error {
	s, err := m.table.Get(sessionID, ownerID)
	if err != nil {
		return err
	}

	snap := s.Snapshot(m.now())
	if _, ok := m.table.Remove(sessionID); !ok {
		return ErrNotFound
	}
	m.saver.forget(sessionID)
	m.saver.Archive(snap)
	observability.SetActiveSessions(m.table.Len())

	log.Printf("[Session] deleted session %s", sessionID)
	return nil
}

// GetInfo returns metadata for a live session.
func (m *Manager) GetInfo(sessionID, ownerID string) (Info, error) {
	s, err := m.table.Get(sessionID, ownerID)
	if err != nil {
		return Info{}, err
	}
	return s.Info(), nil
}

// ListActive returns metadata for all of a user's live sessions.
func (m *Manager) ListActive(ownerID string) []Info {
	sessions := m.table.ListActive(ownerID)
	infos := make([]Info, 0, len(sessions))
	for _, s := range sessions {
		infos = append(infos, s.Info())
	}
	return infos
}

// Analytics returns a read-only aggregator over the active table.
func (m *Manager) Analytics() *Analytics {
	return &Analytics{table: m.table}
}

// Flush blocks until in-flight background persistence has finished.
// Intended for tests and shutdown.
func (m *Manager) Flush() {
	m.saver.Flush()
}

// Close stops the sweep scheduler, drains background persistence, and
// closes the snapshot store.
func (m *Manager) Close() error {
	if m.sched != nil {
		m.sched.Stop()
	}
	return m.saver.Close()
}
