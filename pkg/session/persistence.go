package session

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/voxgo-dev/voxgo/internal/observability"
)

// storeTimeout bounds each background write to the snapshot store.
const storeTimeout = 10 * time.Second

// saver is the persistence port: rate-limited auto-save, immediate
// save on pause, unconditional best-effort archive, and bounded-window
// recovery. Writes run as background tasks; their failures are logged
// and counted, never returned to the interaction path.
type saver struct {
	store    SnapshotStore
	interval time.Duration
	window   time.Duration
	now      func() time.Time

	mu       sync.Mutex
	limiters map[string]*rate.Limiter

	wg sync.WaitGroup
}

func newSaver(store SnapshotStore, interval, window time.Duration) *saver {
	return &saver{
		store:    store,
		interval: interval,
		window:   window,
		now:      time.Now,
		limiters: make(map[string]*rate.Limiter),
	}
}

// limiter returns the per-session auto-save limiter, creating it with
// a full token so a new session's first save is never throttled.
func (p *saver) limiter(sessionID string) *rate.Limiter {
	p.mu.Lock()
	defer p.mu.Unlock()

	l, ok := p.limiters[sessionID]
	if !ok {
		l = rate.NewLimiter(rate.Every(p.interval), 1)
		p.limiters[sessionID] = l
	}
	return l
}

// forget drops the limiter for a removed session.
func (p *saver) forget(sessionID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.limiters, sessionID)
}

// MaybeSave writes a snapshot if at least the auto-save interval has
// elapsed since the session's last save. The write happens in the
// background.
func (p *saver) MaybeSave(s *Session) {
	if !p.limiter(s.ID).AllowN(p.now(), 1) {
		observability.RecordAutoSave("throttled")
		return
	}
	p.save(s.Snapshot(p.now()))
}

// SaveNow writes a snapshot immediately, bypassing the auto-save
// throttle. Used on pause.
func (p *saver) SaveNow(s *Session) {
	p.save(s.Snapshot(p.now()))
}

func (p *saver) save(snap *Snapshot) {
	p.run(func(ctx context.Context) {
		if err := p.store.Save(ctx, snap); err != nil {
			observability.RecordAutoSave("failed")
			log.Printf("[Session] snapshot save failed for %s: %v", snap.ID, err)
			return
		}
		observability.RecordAutoSave("saved")
	})
}

// Archive durably records a session leaving the table, then retires
// its live snapshot so only the archived record remains. Failures are
// logged and never block the caller's outcome; a failed archive leaves
// the live snapshot in place so the session stays recoverable.
func (p *saver) Archive(snap *Snapshot) {
	p.run(p.archiveTask(snap))
}

// ArchiveSync archives inline with a bounded deadline. Used by the
// sweep, which bounds its own parallelism.
func (p *saver) ArchiveSync(snap *Snapshot) {
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	p.archiveTask(snap)(ctx)
}

func (p *saver) archiveTask(snap *Snapshot) func(context.Context) {
	return func(ctx context.Context) {
		err := p.store.Archive(ctx, snap)
		observability.RecordArchive(err)
		if err != nil {
			log.Printf("[Session] archive failed for %s: %v", snap.ID, err)
			return
		}
		if err := p.store.Delete(ctx, snap.ID); err != nil {
			log.Printf("[Session] live snapshot cleanup failed for %s: %v", snap.ID, err)
		}
	}
}

// Recover loads the last snapshot for a session id and reconstructs a
// live session. It rejects snapshots older than the recovery window
// and, when ownerID is supplied, snapshots owned by someone else. The
// returned session has its last-interaction time reset to now.
func (p *saver) Recover(ctx context.Context, sessionID, ownerID string) (*Session, error) {
	snap, err := p.store.Load(ctx, sessionID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		log.Printf("[Session] snapshot load failed for %s: %v", sessionID, err)
		return nil, ErrNotFound
	}

	if p.now().Sub(snap.SavedAt) > p.window {
		return nil, ErrNotFound
	}
	if ownerID != "" && snap.OwnerID != ownerID {
		return nil, ErrUnauthorized
	}

	return restore(snap, p.now()), nil
}

// run executes a store write in the background with a bounded
// deadline, tracked so Flush and Close can drain in-flight work.
func (p *saver) run(task func(context.Context)) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
		defer cancel()
		task(ctx)
	}()
}

// Flush blocks until all in-flight background writes have finished.
func (p *saver) Flush() {
	p.wg.Wait()
}

// Close drains in-flight writes and closes the store.
func (p *saver) Close() error {
	p.Flush()
	return p.store.Close()
}
