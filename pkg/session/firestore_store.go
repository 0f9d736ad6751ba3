package session

import (
	"context"
	"fmt"
	"sync"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Default Firestore collection names.
const (
	defaultLiveCollection    = "voice_sessions"
	defaultArchiveCollection = "voice_session_archive"
)

// FirestoreStore implements SnapshotStore on Google Cloud Firestore.
// Live snapshots and archived records live in separate collections,
// both keyed by session id.
type FirestoreStore struct {
	client      *firestore.Client
	liveColl    string
	archiveColl string
	mu          sync.RWMutex
	closed      bool
}

// FirestoreConfig holds Firestore connection configuration.
type FirestoreConfig struct {
	// ProjectID is the GCP project (required).
	ProjectID string `yaml:"project_id"`
	// CredentialsFile points at service account credentials; when
	// empty, Application Default Credentials are used.
	CredentialsFile string `yaml:"credentials_file"`
	// LiveCollection overrides the live-snapshot collection name.
	LiveCollection string `yaml:"live_collection"`
	// ArchiveCollection overrides the archive collection name.
	ArchiveCollection string `yaml:"archive_collection"`
}

// NewFirestoreStore creates a Firestore snapshot store.
func NewFirestoreStore(ctx context.Context, cfg FirestoreConfig) (*FirestoreStore, error) {
	if cfg.ProjectID == "" {
		return nil, fmt.Errorf("project ID is required")
	}

	var clientOpts []option.ClientOption
	if cfg.CredentialsFile != "" {
		clientOpts = append(clientOpts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	client, err := firestore.NewClient(ctx, cfg.ProjectID, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("create firestore client: %w", err)
	}

	liveColl := cfg.LiveCollection
	if liveColl == "" {
		liveColl = defaultLiveCollection
	}
	archiveColl := cfg.ArchiveCollection
	if archiveColl == "" {
		archiveColl = defaultArchiveCollection
	}

	return &FirestoreStore{
		client:      client,
		liveColl:    liveColl,
		archiveColl: archiveColl,
	}, nil
}

func (f *FirestoreStore) checkClosed() error {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.closed {
		return ErrStoreClosed
	}
	return nil
}

// Save creates or replaces the live snapshot document.
func (f *FirestoreStore) Save(ctx context.Context, snap *Snapshot) error {
	if err := f.checkClosed(); err != nil {
		return err
	}

	_, err := f.client.Collection(f.liveColl).Doc(snap.ID).Set(ctx, snap)
	if err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

// Load returns the live snapshot, falling back to the archived one.
func (f *FirestoreStore) Load(ctx context.Context, sessionID string) (*Snapshot, error) {
	if err := f.checkClosed(); err != nil {
		return nil, err
	}

	doc, err := f.client.Collection(f.liveColl).Doc(sessionID).Get(ctx)
	if status.Code(err) == codes.NotFound {
		doc, err = f.client.Collection(f.archiveColl).Doc(sessionID).Get(ctx)
	}
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get snapshot: %w", err)
	}

	var snap Snapshot
	if err := doc.DataTo(&snap); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return &snap, nil
}

// Archive records a session leaving the table.
func (f *FirestoreStore) Archive(ctx context.Context, snap *Snapshot) error {
	if err := f.checkClosed(); err != nil {
		return err
	}

	_, err := f.client.Collection(f.archiveColl).Doc(snap.ID).Set(ctx, snap)
	if err != nil {
		return fmt.Errorf("archive snapshot: %w", err)
	}
	return nil
}

// Delete removes the live snapshot document. Deleting a missing
// document is not an error in Firestore.
func (f *FirestoreStore) Delete(ctx context.Context, sessionID string) error {
	if err := f.checkClosed(); err != nil {
		return err
	}

	if _, err := f.client.Collection(f.liveColl).Doc(sessionID).Delete(ctx); err != nil {
		return fmt.Errorf("delete snapshot: %w", err)
	}
	return nil
}

// Close releases the Firestore client.
func (f *FirestoreStore) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return nil
	}
	f.closed = true
	return f.client.Close()
}
