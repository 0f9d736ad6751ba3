package session

import "context"

// SnapshotStore abstracts the durable store for session snapshots.
// Implementations must be safe for concurrent use.
//
// Save and Load operate on the live-snapshot keyspace used by
// auto-save and recovery. Archive writes to a separate, append-only
// keyspace for sessions leaving the table; archived records are also
// consulted by Load so a deleted session stays recoverable within the
// recovery window.
type SnapshotStore interface {
	// Save creates or replaces the live snapshot for snap.ID.
	Save(ctx context.Context, snap *Snapshot) error

	// Load retrieves the most recent snapshot for a session id,
	// whether live or archived. Returns ErrNotFound if none exists.
	Load(ctx context.Context, sessionID string) (*Snapshot, error)

	// Archive durably records a session leaving the table.
	Archive(ctx context.Context, snap *Snapshot) error

	// Delete removes the live snapshot for a session id. Missing
	// snapshots are not an error.
	Delete(ctx context.Context, sessionID string) error

	// Close releases any resources held by the store.
	Close() error
}
