package session

// Analytics provides read-only rollups over the active table. It never
// mutates session state and never fails on an empty table.
type Analytics struct {
	table *Table
}

// Stats is an aggregate view of the active table.
type Stats struct {
	// ActiveSessions is the number of live sessions counted.
	ActiveSessions int `json:"activeSessions"`
	// TotalInteractions sums the interaction counters of the counted
	// sessions.
	TotalInteractions int `json:"totalInteractions"`
	// MeanDurationMinutes is the mean of each session's lifetime so
	// far (creation to last interaction); 0 when no sessions match.
	MeanDurationMinutes float64 `json:"meanDurationMinutes"`
	// Topics maps topic to session count; empty when no sessions
	// match.
	Topics map[string]int `json:"topics"`
}

// Stats aggregates over the active table, optionally filtered to one
// owner (empty ownerID means all sessions).
func (a *Analytics) Stats(ownerID string) Stats {
	var sessions []*Session
	if ownerID == "" {
		sessions = a.table.All()
	} else {
		sessions = a.table.ListActive(ownerID)
	}

	stats := Stats{Topics: make(map[string]int)}

	var totalMinutes float64
	for _, s := range sessions {
		info := s.Info()
		stats.ActiveSessions++
		stats.TotalInteractions += info.TotalInteractions
		totalMinutes += info.DurationMinutes
		if info.Topic != "" {
			stats.Topics[info.Topic]++
		}
	}

	if stats.ActiveSessions > 0 {
		stats.MeanDurationMinutes = totalMinutes / float64(stats.ActiveSessions)
	}
	return stats
}
