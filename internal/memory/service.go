// Package memory extracts and stores durable facts, decisions, and
// preferences out of thread activity, queryable by similarity.
package memory

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/orchard-run/orchard/internal/provider"
	"github.com/orchard-run/orchard/internal/store"
)

// Memory types.
const (
	TypeDecision   = "decision"
	TypePreference = "preference"
	TypeFact       = "fact"
	TypeAction     = "action"
	TypeInsight    = "insight"
)

var validTypes = map[string]bool{
	TypeDecision:   true,
	TypePreference: true,
	TypeFact:       true,
	TypeAction:     true,
	TypeInsight:    true,
}

// Result is a similarity search hit.
type Result struct {
	Memory store.Memory
	Score  float32
}

// Service records and searches memories. The embedder is optional: without
// one, memories are stored unembedded and Search falls back to recency order.
type Service struct {
	store    *store.Store
	embedder provider.Embedder
}

// NewService creates a memory service. embedder may be nil.
func NewService(st *store.Store, embedder provider.Embedder) *Service {
	return &Service{store: st, embedder: embedder}
}

// Record persists a memory, embedding its content when an embedder is
// configured. threadID may be empty for memories that outlive a thread.
func (s *Service) Record(ctx context.Context, ownerID, threadID, memType, content string) (*store.Memory, error) {
	if !validTypes[memType] {
		return nil, fmt.Errorf("invalid memory type: %s", memType)
	}
	if content == "" {
		return nil, fmt.Errorf("memory content required")
	}
	m := &store.Memory{
		ID:        uuid.NewString(),
		ThreadID:  threadID,
		OwnerID:   ownerID,
		Type:      memType,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}
	if s.embedder != nil {
		vec, err := s.embedder.Embed(ctx, content)
		if err != nil {
			// Embedding failure must not lose the memory.
			slog.Warn("memory embedding failed", "error", err)
		} else {
			m.Embedding = encodeFloat32s(vec)
		}
	}
	if err := s.store.InsertMemory(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}

// searchCandidates bounds how many stored rows one similarity pass scores.
// Old memories beyond this window stop being searchable, so it is sized well
// above what a single owner accumulates in practice.
const searchCandidates = 10000

// Search returns the owner's memories most similar to query, best first.
// Unembedded rows (or a missing embedder) rank by recency below embedded hits.
func (s *Service) Search(ctx context.Context, ownerID, query string, limit int) ([]Result, error) {
	if limit <= 0 {
		limit = 10
	}
	rowsOut, err := s.store.ListMemories(ctx, ownerID, searchCandidates)
	if err != nil {
		return nil, err
	}

	var queryVec []float32
	if s.embedder != nil {
		if v, err := s.embedder.Embed(ctx, query); err == nil {
			queryVec = v
		}
	}

	results := make([]Result, 0, len(rowsOut))
	for _, m := range rowsOut {
		r := Result{Memory: m}
		if queryVec != nil {
			if stored := decodeFloat32s(m.Embedding); stored != nil {
				r.Score = cosineSimilarity(queryVec, stored)
			}
		}
		results = append(results, r)
	}
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// List returns an owner's memories, newest first.
func (s *Service) List(ctx context.Context, ownerID string, limit int) ([]store.Memory, error) {
	return s.store.ListMemories(ctx, ownerID, limit)
}

// Delete removes a memory immediately. Deletion is not versioned.
func (s *Service) Delete(ctx context.Context, id string) error {
	return s.store.DeleteMemory(ctx, id)
}
