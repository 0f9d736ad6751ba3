package session

import (
	"log"

	"golang.org/x/sync/errgroup"

	"github.com/voxgo-dev/voxgo/internal/observability"
)

// sweepConcurrency bounds parallel archive writes during one sweep.
const sweepConcurrency = 4

// SweepNow removes every non-paused session idle longer than the
// configured timeout, attempting a final snapshot save and an archive
// write for each before removal. Paused sessions are never swept
// regardless of age. It returns the number of sessions removed.
//
// Eligibility is re-checked under the record lock immediately before
// removal, so a session touched by an in-flight interaction is not
// swept out from under it.
func (m *Manager) SweepNow() int {
	cutoff := m.now().Add(-m.cfg.IdleTimeout)

	var g errgroup.Group
	g.SetLimit(sweepConcurrency)

	removed := 0
	for _, s := range m.table.All() {
		s.mu.Lock()
		expired := !s.Paused && s.LastInteractionAt.Before(cutoff)
		if !expired {
			s.mu.Unlock()
			continue
		}
		snap := s.snapshotLocked(m.now())
		s.mu.Unlock()

		if _, ok := m.table.Remove(s.ID); !ok {
			continue
		}
		removed++
		m.saver.forget(s.ID)
		log.Printf("[Session] expired session %s cleaned up", s.ID)

		g.Go(func() error {
			m.saver.ArchiveSync(snap)
			return nil
		})
	}
	_ = g.Wait()

	if removed > 0 {
		observability.RecordSweep(removed)
		observability.SetActiveSessions(m.table.Len())
	}
	return removed
}
