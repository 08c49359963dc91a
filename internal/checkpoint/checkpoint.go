// Package checkpoint persists graph execution state at stage boundaries.
// Writes are append-only: each checkpoint records its parent, forming a chain
// per thread, and the newest row is always the current state. A save is a
// single transaction, so a partial write can never be observed.
package checkpoint

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/orchard-run/orchard/internal/store"
)

// Execution status values recorded in State.
const (
	StatusRunning     = "running"
	StatusInterrupted = "interrupted"
	StatusCompleted   = "completed"
	StatusFailed      = "failed"
	StatusCancelled   = "cancelled"
)

// Interrupt marks a suspension pending an external decision.
type Interrupt struct {
	ApprovalID string `json:"approval_id"`
	ActionType string `json:"action_type"`
	Reason     string `json:"reason,omitempty"`
}

// State is the graph execution payload stored in a checkpoint.
type State struct {
	Graph     string            `json:"graph"`      // orchestrator | workflow
	NextStage string            `json:"next_stage"` // stage to enter on resume; empty when terminal
	Status    string            `json:"status"`
	Values    map[string]any    `json:"values,omitempty"`
	Interrupt *Interrupt        `json:"interrupt,omitempty"`
	FailedFor string            `json:"failed_for,omitempty"` // terminal failure reason
	Usage     map[string]int    `json:"usage,omitempty"`      // token accounting
	Meta      map[string]string `json:"meta,omitempty"`
}

// Terminal reports whether the state is in a terminal status.
func (s *State) Terminal() bool {
	switch s.Status {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Value reads a value key with a typed default.
func (s *State) Value(key string) (any, bool) {
	if s.Values == nil {
		return nil, false
	}
	v, ok := s.Values[key]
	return v, ok
}

// Set writes a value key, allocating the map on first use.
func (s *State) Set(key string, v any) {
	if s.Values == nil {
		s.Values = make(map[string]any)
	}
	s.Values[key] = v
}

// ValueAs reads a state value as T. Values reloaded from a checkpoint arrive
// as generic JSON, so mismatched entries go through a marshal round trip.
func ValueAs[T any](s *State, key string) (T, bool) {
	var zero T
	v, ok := s.Value(key)
	if !ok {
		return zero, false
	}
	if t, ok := v.(T); ok {
		return t, true
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return zero, false
	}
	if err := json.Unmarshal(raw, &zero); err != nil {
		return zero, false
	}
	return zero, true
}

// Checkpoint pairs a decoded state with its stored row.
type Checkpoint struct {
	CheckpointID       string
	ThreadID           string
	ParentCheckpointID string
	State              *State
	WrittenAt          time.Time
}

// Saver reads and writes checkpoints through the store.
type Saver struct {
	store *store.Store
}

// NewSaver creates a Saver.
func NewSaver(st *store.Store) *Saver {
	return &Saver{store: st}
}

// Save appends a checkpoint under the caller's lease version and returns the
// new checkpoint ID. A stale version yields store.ErrConflict and writes
// nothing.
func (s *Saver) Save(ctx context.Context, threadID string, state *State, parentID string, version int64) (string, error) {
	raw, err := json.Marshal(state)
	if err != nil {
		return "", fmt.Errorf("encode checkpoint state: %w", err)
	}
	cp := &store.Checkpoint{
		CheckpointID:       uuid.NewString(),
		ThreadID:           threadID,
		ParentCheckpointID: parentID,
		State:              string(raw),
		WrittenAt:          time.Now().UTC(),
	}
	if err := s.store.SaveCheckpoint(ctx, cp, version); err != nil {
		return "", err
	}
	return cp.CheckpointID, nil
}

// Latest returns the newest checkpoint for a thread, or store.ErrNotFound when
// the thread has none.
func (s *Saver) Latest(ctx context.Context, threadID string) (*Checkpoint, error) {
	row, err := s.store.LatestCheckpoint(ctx, threadID)
	if err != nil {
		return nil, err
	}
	return decode(row)
}

// Get returns a checkpoint by ID.
func (s *Saver) Get(ctx context.Context, checkpointID string) (*Checkpoint, error) {
	row, err := s.store.GetCheckpoint(ctx, checkpointID)
	if err != nil {
		return nil, err
	}
	return decode(row)
}

// History returns the checkpoint chain for a thread, most recent first.
func (s *Saver) History(ctx context.Context, threadID string, limit int) ([]*Checkpoint, error) {
	rowsOut, err := s.store.CheckpointHistory(ctx, threadID, limit)
	if err != nil {
		return nil, err
	}
	out := make([]*Checkpoint, 0, len(rowsOut))
	for i := range rowsOut {
		cp, err := decode(&rowsOut[i])
		if err != nil {
			return nil, err
		}
		out = append(out, cp)
	}
	return out, nil
}

func decode(row *store.Checkpoint) (*Checkpoint, error) {
	var st State
	if err := json.Unmarshal([]byte(row.State), &st); err != nil {
		return nil, fmt.Errorf("decode checkpoint %s: %w", row.CheckpointID, err)
	}
	return &Checkpoint{
		CheckpointID:       row.CheckpointID,
		ThreadID:           row.ThreadID,
		ParentCheckpointID: row.ParentCheckpointID,
		State:              &st,
		WrittenAt:          row.WrittenAt,
	}, nil
}
