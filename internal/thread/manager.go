// Package thread manages conversation thread lifecycle and the per-thread
// execution lease. At most one graph execution may advance a thread at a time;
// the lease is the thread's monotonic version, checked-and-bumped on every
// checkpoint write.
package thread

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/orchard-run/orchard/internal/store"
)

// Lease is a version token for advancing a thread. It is not a lock: holding
// a lease only means checkpoint writes carrying it succeed until another
// writer advances the version first.
type Lease struct {
	ThreadID string
	Version  int64
}

// Manager creates, lists, and archives threads.
type Manager struct {
	store *store.Store
}

// NewManager creates a thread manager.
func NewManager(st *store.Store) *Manager {
	return &Manager{store: st}
}

// Create persists a new active thread for an owner.
func (m *Manager) Create(ctx context.Context, ownerID, agentKind, title string) (*store.Thread, error) {
	if ownerID == "" {
		return nil, fmt.Errorf("owner id required")
	}
	now := time.Now().UTC()
	t := &store.Thread{
		ThreadID:       uuid.NewString(),
		OwnerID:        ownerID,
		AgentKind:      agentKind,
		Title:          title,
		Status:         store.ThreadActive,
		CreatedAt:      now,
		LastActivityAt: now,
	}
	if err := m.store.InsertThread(ctx, t); err != nil {
		return nil, err
	}
	slog.Info("thread created", "thread_id", t.ThreadID, "owner_id", ownerID, "agent_kind", agentKind)
	return t, nil
}

// Get returns a thread or store.ErrNotFound.
func (m *Manager) Get(ctx context.Context, threadID string) (*store.Thread, error) {
	return m.store.GetThread(ctx, threadID)
}

// List returns an owner's threads, most recently active first.
func (m *Manager) List(ctx context.Context, ownerID string, limit int) ([]store.Thread, error) {
	return m.store.ListThreads(ctx, ownerID, limit)
}

// Touch records activity on a thread.
func (m *Manager) Touch(ctx context.Context, threadID string) error {
	return m.store.TouchThread(ctx, threadID, time.Now().UTC())
}

// Acquire reads the thread's current version as a lease for a graph run.
// Archived threads remain resumable: acquiring on one is allowed, it only
// means the owner explicitly came back to it.
func (m *Manager) Acquire(ctx context.Context, threadID string) (Lease, error) {
	t, err := m.store.GetThread(ctx, threadID)
	if err != nil {
		return Lease{}, err
	}
	return Lease{ThreadID: t.ThreadID, Version: t.Version}, nil
}

// ArchiveInactive archives active threads idle longer than olderThan.
func (m *Manager) ArchiveInactive(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-olderThan)
	n, err := m.store.ArchiveInactive(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		slog.Info("threads archived", "count", n, "older_than", olderThan.String())
	}
	return n, nil
}
