package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/voxgo-dev/voxgo/internal/gen"
)

// fakeClock is an adjustable clock shared by the manager, table, and
// saver in tests.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestManager(t *testing.T, cfg Config) (*Manager, *gen.MockGenerator, *MemoryStore, *fakeClock) {
	t.Helper()

	mock := gen.NewMockGenerator()
	mock.Default = "base reply"
	store := NewMemoryStore()
	clock := newFakeClock()

	mgr := NewManager(cfg, mock, store, withClock(clock.Now))
	t.Cleanup(func() { _ = mgr.Close() })

	return mgr, mock, store, clock
}

func TestInteractFirstTurn(t *testing.T) {
	mgr, mock, _, _ := newTestManager(t, Config{})
	mock.Respond("identify the main topic", "Math Education")
	ctx := context.Background()

	reply, err := mgr.Interact(ctx, "user-1", "help me plan a fractions lesson", "")
	if err != nil {
		t.Fatalf("Interact() error = %v", err)
	}

	if !reply.SessionCreated {
		t.Error("first interaction should create a session")
	}
	if reply.SessionID == "" {
		t.Error("reply should carry the session id")
	}
	if reply.Enhanced {
		t.Error("first turn must return the base reply unmodified")
	}
	if reply.Text != "base reply" {
		t.Errorf("Text = %q, want base reply", reply.Text)
	}
	if reply.Topic != "Math Education" {
		t.Errorf("Topic = %q, want Math Education", reply.Topic)
	}
	if reply.TotalInteractions != 1 {
		t.Errorf("TotalInteractions = %d, want 1", reply.TotalInteractions)
	}
}

func TestInteractTopicFallback(t *testing.T) {
	mgr, mock, _, _ := newTestManager(t, Config{})
	mock.Fail("identify the main topic", errors.New("model unavailable"))
	ctx := context.Background()

	reply, err := mgr.Interact(ctx, "user-1", "hello", "")
	if err != nil {
		t.Fatalf("Interact() error = %v", err)
	}
	if reply.Topic != fallbackTopic {
		t.Errorf("Topic = %q, want fallback %q", reply.Topic, fallbackTopic)
	}
}

func TestInteractHistoryBounds(t *testing.T) {
	const maxHistory = 10
	const total = 15

	mgr, _, _, _ := newTestManager(t, Config{MaxHistory: maxHistory})
	ctx := context.Background()

	sessionID := ""
	for i := 0; i < total; i++ {
		reply, err := mgr.Interact(ctx, "user-1", fmt.Sprintf("message %d", i), sessionID)
		if err != nil {
			t.Fatalf("Interact() #%d error = %v", i, err)
		}
		sessionID = reply.SessionID
	}

	s, err := mgr.table.Get(sessionID, "user-1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.History) != maxHistory {
		t.Errorf("len(History) = %d, want %d", len(s.History), maxHistory)
	}
	if s.TotalInteractions != total {
		t.Errorf("TotalInteractions = %d, want %d", s.TotalInteractions, total)
	}

	// The window holds the most recent interactions in order.
	for i, in := range s.History {
		want := fmt.Sprintf("message %d", total-maxHistory+i)
		if in.UserMessage != want {
			t.Errorf("History[%d].UserMessage = %q, want %q", i, in.UserMessage, want)
		}
	}
	for i := 1; i < len(s.History); i++ {
		if s.History[i].Timestamp.Before(s.History[i-1].Timestamp) {
			t.Errorf("History[%d] out of chronological order", i)
		}
	}
}

func TestInteractEnhancement(t *testing.T) {
	mgr, mock, _, _ := newTestManager(t, Config{})
	mock.Respond("Previous conversation context", `{"answer": "enhanced reply"}`)
	ctx := context.Background()

	first, err := mgr.Interact(ctx, "user-1", "first message", "")
	if err != nil {
		t.Fatalf("Interact() error = %v", err)
	}

	second, err := mgr.Interact(ctx, "user-1", "second message", first.SessionID)
	if err != nil {
		t.Fatalf("Interact() error = %v", err)
	}

	if !second.Enhanced {
		t.Error("second turn should use context enhancement")
	}
	if second.Text != "enhanced reply" {
		t.Errorf("Text = %q, want enhanced reply", second.Text)
	}
}

func TestInteractEnhancementFenced(t *testing.T) {
	mgr, mock, _, _ := newTestManager(t, Config{})
	mock.Respond("Previous conversation context", "```json\n{\"answer\": \"fenced reply\"}\n```")
	ctx := context.Background()

	first, err := mgr.Interact(ctx, "user-1", "first", "")
	if err != nil {
		t.Fatalf("Interact() error = %v", err)
	}
	second, err := mgr.Interact(ctx, "user-1", "second", first.SessionID)
	if err != nil {
		t.Fatalf("Interact() error = %v", err)
	}
	if second.Text != "fenced reply" {
		t.Errorf("Text = %q, want fenced reply", second.Text)
	}
}

func TestInteractEnhancementFallback(t *testing.T) {
	mgr, mock, _, _ := newTestManager(t, Config{})
	mock.Fail("Previous conversation context", errors.New("deadline exceeded"))
	ctx := context.Background()

	first, err := mgr.Interact(ctx, "user-1", "first message", "")
	if err != nil {
		t.Fatalf("Interact() error = %v", err)
	}

	// The interaction still succeeds, returns the base reply, and
	// commits it to history.
	second, err := mgr.Interact(ctx, "user-1", "second message", first.SessionID)
	if err != nil {
		t.Fatalf("Interact() error = %v", err)
	}
	if second.Enhanced {
		t.Error("failed enhancement must not be reported as enhanced")
	}
	if second.Text != "base reply" {
		t.Errorf("Text = %q, want base reply", second.Text)
	}

	s, err := mgr.table.Get(first.SessionID, "user-1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.History) != 2 {
		t.Fatalf("len(History) = %d, want 2", len(s.History))
	}
	if s.History[1].AssistantReply != "base reply" {
		t.Errorf("History[1].AssistantReply = %q, want base reply", s.History[1].AssistantReply)
	}
}

func TestInteractBaseFailure(t *testing.T) {
	mgr, mock, _, _ := newTestManager(t, Config{})
	mock.Err = errors.New("provider down")
	ctx := context.Background()

	_, err := mgr.Interact(ctx, "user-1", "hello", "")
	if !errors.Is(err, ErrUpstream) {
		t.Errorf("Interact() error = %v, want ErrUpstream", err)
	}
}

func TestInteractCapacity(t *testing.T) {
	mgr, _, _, _ := newTestManager(t, Config{MaxSessionsPerUser: 1})
	ctx := context.Background()

	if _, err := mgr.Interact(ctx, "user-1", "hello", ""); err != nil {
		t.Fatalf("Interact() error = %v", err)
	}
	_, err := mgr.Interact(ctx, "user-1", "hello again", "")
	if !errors.Is(err, ErrCapacityExceeded) {
		t.Errorf("Interact() error = %v, want ErrCapacityExceeded", err)
	}
	if got := len(mgr.ListActive("user-1")); got != 1 {
		t.Errorf("ListActive() = %d, want 1", got)
	}
}

func TestScenarioFourMessages(t *testing.T) {
	mgr, mock, _, _ := newTestManager(t, Config{})
	mock.Respond("identify the main topic", "Classroom Management")
	ctx := context.Background()

	reply, err := mgr.Interact(ctx, "u1", "message 1", "")
	if err != nil {
		t.Fatalf("Interact() error = %v", err)
	}
	sessionID := reply.SessionID
	if reply.Topic != "Classroom Management" {
		t.Errorf("call 1 Topic = %q, want Classroom Management", reply.Topic)
	}

	for i := 2; i <= 4; i++ {
		reply, err = mgr.Interact(ctx, "u1", fmt.Sprintf("message %d", i), sessionID)
		if err != nil {
			t.Fatalf("Interact() #%d error = %v", i, err)
		}
		if reply.SessionID != sessionID {
			t.Errorf("call %d resolved session %q, want %q", i, reply.SessionID, sessionID)
		}
	}

	if reply.TotalInteractions != 4 {
		t.Errorf("TotalInteractions = %d, want 4", reply.TotalInteractions)
	}
}

func TestSummaryRefresh(t *testing.T) {
	mgr, mock, _, _ := newTestManager(t, Config{SummaryEvery: 3})
	mock.Respond("Summarize this conversation", "talked about lesson planning")
	ctx := context.Background()

	sessionID := ""
	for i := 0; i < 3; i++ {
		reply, err := mgr.Interact(ctx, "user-1", fmt.Sprintf("message %d", i), sessionID)
		if err != nil {
			t.Fatalf("Interact() error = %v", err)
		}
		sessionID = reply.SessionID
	}

	info, err := mgr.GetInfo(sessionID, "user-1")
	if err != nil {
		t.Fatalf("GetInfo() error = %v", err)
	}
	if info.ContextSummary != "talked about lesson planning" {
		t.Errorf("ContextSummary = %q, want refreshed summary", info.ContextSummary)
	}
}

func TestSummaryFailureKeepsPrior(t *testing.T) {
	mgr, mock, _, _ := newTestManager(t, Config{SummaryEvery: 3})
	mock.Respond("Summarize this conversation", "first summary")
	ctx := context.Background()

	sessionID := ""
	for i := 0; i < 3; i++ {
		reply, err := mgr.Interact(ctx, "user-1", fmt.Sprintf("message %d", i), sessionID)
		if err != nil {
			t.Fatalf("Interact() error = %v", err)
		}
		sessionID = reply.SessionID
	}

	// Later summaries fail; the prior one must survive.
	mock.Fail("Summarize this conversation", errors.New("unavailable"))
	for i := 3; i < 6; i++ {
		if _, err := mgr.Interact(ctx, "user-1", fmt.Sprintf("message %d", i), sessionID); err != nil {
			t.Fatalf("Interact() error = %v", err)
		}
	}

	info, err := mgr.GetInfo(sessionID, "user-1")
	if err != nil {
		t.Fatalf("GetInfo() error = %v", err)
	}
	if info.ContextSummary != "first summary" {
		t.Errorf("ContextSummary = %q, want prior summary kept", info.ContextSummary)
	}
}

func TestPauseExemptsFromSweep(t *testing.T) {
	cfg := Config{IdleTimeout: 30 * time.Minute}
	mgr, _, _, clock := newTestManager(t, cfg)
	ctx := context.Background()

	reply, err := mgr.Interact(ctx, "user-1", "hello", "")
	if err != nil {
		t.Fatalf("Interact() error = %v", err)
	}
	if err := mgr.Pause(reply.SessionID, "user-1"); err != nil {
		t.Fatalf("Pause() error = %v", err)
	}

	// Idle far beyond the timeout: a paused session is never swept.
	clock.Advance(48 * time.Hour)
	if removed := mgr.SweepNow(); removed != 0 {
		t.Errorf("SweepNow() removed %d sessions, want 0", removed)
	}

	info, err := mgr.GetInfo(reply.SessionID, "user-1")
	if err != nil {
		t.Fatalf("GetInfo() error = %v", err)
	}
	if !info.Paused {
		t.Error("session should still be paused")
	}

	// Only an explicit resume clears paused.
	resumed, err := mgr.Resume(ctx, reply.SessionID, "user-1")
	if err != nil {
		t.Fatalf("Resume() error = %v", err)
	}
	if resumed.Paused {
		t.Error("resumed session should not be paused")
	}
}

func TestPauseUnauthorized(t *testing.T) {
	mgr, _, _, _ := newTestManager(t, Config{})
	ctx := context.Background()

	reply, err := mgr.Interact(ctx, "user-1", "hello", "")
	if err != nil {
		t.Fatalf("Interact() error = %v", err)
	}

	if err := mgr.Pause(reply.SessionID, "intruder"); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("Pause() error = %v, want ErrUnauthorized", err)
	}

	info, err := mgr.GetInfo(reply.SessionID, "user-1")
	if err != nil {
		t.Fatalf("GetInfo() error = %v", err)
	}
	if info.Paused {
		t.Error("unauthorized pause must not change state")
	}
}

func TestPauseTriggersImmediateSave(t *testing.T) {
	mgr, _, store, _ := newTestManager(t, Config{})
	ctx := context.Background()

	reply, err := mgr.Interact(ctx, "user-1", "hello", "")
	if err != nil {
		t.Fatalf("Interact() error = %v", err)
	}
	mgr.Flush()
	before := store.SaveCount()

	if err := mgr.Pause(reply.SessionID, "user-1"); err != nil {
		t.Fatalf("Pause() error = %v", err)
	}
	mgr.Flush()

	if store.SaveCount() != before+1 {
		t.Errorf("SaveCount = %d, want %d (pause bypasses the throttle)", store.SaveCount(), before+1)
	}
}

func TestSweepRemovesIdleSessions(t *testing.T) {
	cfg := Config{IdleTimeout: 30 * time.Minute}
	mgr, _, store, clock := newTestManager(t, cfg)
	ctx := context.Background()

	reply, err := mgr.Interact(ctx, "user-1", "hello", "")
	if err != nil {
		t.Fatalf("Interact() error = %v", err)
	}

	clock.Advance(31 * time.Minute)
	if removed := mgr.SweepNow(); removed != 1 {
		t.Fatalf("SweepNow() removed %d sessions, want 1", removed)
	}
	mgr.Flush()

	if _, err := mgr.GetInfo(reply.SessionID, "user-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetInfo() after sweep error = %v, want ErrNotFound", err)
	}
	if store.ArchiveCount() != 1 {
		t.Errorf("ArchiveCount = %d, want exactly 1 archive attempt", store.ArchiveCount())
	}
}

func TestSweepKeepsFreshSessions(t *testing.T) {
	cfg := Config{IdleTimeout: 30 * time.Minute}
	mgr, _, _, clock := newTestManager(t, cfg)
	ctx := context.Background()

	stale, err := mgr.Interact(ctx, "user-1", "hello", "")
	if err != nil {
		t.Fatalf("Interact() error = %v", err)
	}

	clock.Advance(20 * time.Minute)
	fresh, err := mgr.Interact(ctx, "user-2", "hi", "")
	if err != nil {
		t.Fatalf("Interact() error = %v", err)
	}

	clock.Advance(15 * time.Minute)
	if removed := mgr.SweepNow(); removed != 1 {
		t.Fatalf("SweepNow() removed %d sessions, want 1", removed)
	}

	if _, err := mgr.GetInfo(stale.SessionID, "user-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("stale session should be gone, got error %v", err)
	}
	if _, err := mgr.GetInfo(fresh.SessionID, "user-2"); err != nil {
		t.Errorf("fresh session should survive, got error %v", err)
	}
}

func TestDeleteArchives(t *testing.T) {
	mgr, _, store, _ := newTestManager(t, Config{})
	ctx := context.Background()

	reply, err := mgr.Interact(ctx, "user-1", "hello", "")
	if err != nil {
		t.Fatalf("Interact() error = %v", err)
	}

	if err := mgr.Delete(reply.SessionID, "user-1"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	mgr.Flush()

	if _, err := mgr.GetInfo(reply.SessionID, "user-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetInfo() after delete error = %v, want ErrNotFound", err)
	}
	if store.ArchiveCount() != 1 {
		t.Errorf("ArchiveCount = %d, want 1", store.ArchiveCount())
	}

	if err := mgr.Delete(reply.SessionID, "user-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("second Delete() error = %v, want ErrNotFound", err)
	}
}

func TestDeleteUnauthorized(t *testing.T) {
	mgr, _, _, _ := newTestManager(t, Config{})
	ctx := context.Background()

	reply, err := mgr.Interact(ctx, "user-1", "hello", "")
	if err != nil {
		t.Fatalf("Interact() error = %v", err)
	}

	if err := mgr.Delete(reply.SessionID, "intruder"); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("Delete() error = %v, want ErrUnauthorized", err)
	}
	if _, err := mgr.GetInfo(reply.SessionID, "user-1"); err != nil {
		t.Errorf("session should still exist, got error %v", err)
	}
}

func TestRecoveryWithinWindow(t *testing.T) {
	cfg := Config{RecoveryWindow: 24 * time.Hour}
	mgr, mock, _, clock := newTestManager(t, cfg)
	mock.Respond("identify the main topic", "Student Assessment")
	ctx := context.Background()

	reply, err := mgr.Interact(ctx, "user-1", "how do I grade essays", "")
	if err != nil {
		t.Fatalf("Interact() error = %v", err)
	}
	mgr.Flush()

	// The session leaves the table via delete; the archive keeps it
	// recoverable.
	if err := mgr.Delete(reply.SessionID, "user-1"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	mgr.Flush()

	clock.Advance(2 * time.Hour)
	resumed, err := mgr.Resume(ctx, reply.SessionID, "user-1")
	if err != nil {
		t.Fatalf("Resume() error = %v", err)
	}

	if resumed.Topic != "Student Assessment" {
		t.Errorf("recovered Topic = %q, want Student Assessment", resumed.Topic)
	}
	if resumed.TotalInteractions != 1 {
		t.Errorf("recovered TotalInteractions = %d, want 1", resumed.TotalInteractions)
	}
	if !resumed.LastInteractionAt.Equal(clock.Now()) {
		t.Errorf("recovered LastInteractionAt = %v, want reset to now %v",
			resumed.LastInteractionAt, clock.Now())
	}

	// Recovered session is live again.
	if _, err := mgr.GetInfo(reply.SessionID, "user-1"); err != nil {
		t.Errorf("GetInfo() after recovery error = %v", err)
	}
}

func TestRecoveryOutsideWindow(t *testing.T) {
	cfg := Config{RecoveryWindow: 24 * time.Hour}
	mgr, _, _, clock := newTestManager(t, cfg)
	ctx := context.Background()

	reply, err := mgr.Interact(ctx, "user-1", "hello", "")
	if err != nil {
		t.Fatalf("Interact() error = %v", err)
	}
	mgr.Flush()
	if err := mgr.Delete(reply.SessionID, "user-1"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	mgr.Flush()

	clock.Advance(25 * time.Hour)
	if _, err := mgr.Resume(ctx, reply.SessionID, "user-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Resume() error = %v, want ErrNotFound", err)
	}
	if got := len(mgr.ListActive("user-1")); got != 0 {
		t.Errorf("failed recovery must not reinsert; ListActive() = %d", got)
	}
}

func TestRecoveryOwnerMismatch(t *testing.T) {
	mgr, _, _, clock := newTestManager(t, Config{})
	ctx := context.Background()

	reply, err := mgr.Interact(ctx, "user-1", "hello", "")
	if err != nil {
		t.Fatalf("Interact() error = %v", err)
	}
	mgr.Flush()
	if err := mgr.Delete(reply.SessionID, "user-1"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	mgr.Flush()

	clock.Advance(time.Hour)
	if _, err := mgr.Resume(ctx, reply.SessionID, "intruder"); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("Resume() error = %v, want ErrUnauthorized", err)
	}
	if got := len(mgr.ListActive("intruder")); got != 0 {
		t.Errorf("failed recovery must not reinsert; ListActive() = %d", got)
	}
}

func TestResumeUnknownSession(t *testing.T) {
	mgr, _, _, _ := newTestManager(t, Config{})
	ctx := context.Background()

	if _, err := mgr.Resume(ctx, "no-such-session", "user-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Resume() error = %v, want ErrNotFound", err)
	}
}

func TestAutoSaveThrottle(t *testing.T) {
	cfg := Config{AutoSaveInterval: 5 * time.Minute}
	mgr, _, store, clock := newTestManager(t, cfg)
	ctx := context.Background()

	// First interaction saves immediately.
	reply, err := mgr.Interact(ctx, "user-1", "one", "")
	if err != nil {
		t.Fatalf("Interact() error = %v", err)
	}
	mgr.Flush()
	if store.SaveCount() != 1 {
		t.Fatalf("SaveCount = %d, want 1", store.SaveCount())
	}

	// Two minutes later: throttled.
	clock.Advance(2 * time.Minute)
	if _, err := mgr.Interact(ctx, "user-1", "two", reply.SessionID); err != nil {
		t.Fatalf("Interact() error = %v", err)
	}
	mgr.Flush()
	if store.SaveCount() != 1 {
		t.Errorf("SaveCount = %d, want 1 (second save throttled)", store.SaveCount())
	}

	// Five more minutes: allowed again.
	clock.Advance(5 * time.Minute)
	if _, err := mgr.Interact(ctx, "user-1", "three", reply.SessionID); err != nil {
		t.Fatalf("Interact() error = %v", err)
	}
	mgr.Flush()
	if store.SaveCount() != 2 {
		t.Errorf("SaveCount = %d, want 2", store.SaveCount())
	}
}

func TestConcurrentInteractionsOneSession(t *testing.T) {
	mgr, _, _, _ := newTestManager(t, Config{MaxHistory: 100})
	ctx := context.Background()

	first, err := mgr.Interact(ctx, "user-1", "first", "")
	if err != nil {
		t.Fatalf("Interact() error = %v", err)
	}

	const workers = 10
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _ = mgr.Interact(ctx, "user-1", fmt.Sprintf("concurrent %d", i), first.SessionID)
		}(i)
	}
	wg.Wait()

	info, err := mgr.GetInfo(first.SessionID, "user-1")
	if err != nil {
		t.Fatalf("GetInfo() error = %v", err)
	}
	if info.TotalInteractions != workers+1 {
		t.Errorf("TotalInteractions = %d, want %d (no lost updates)",
			info.TotalInteractions, workers+1)
	}
}
