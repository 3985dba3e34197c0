package analysis

import (
	"context"
	"sync"
)

// MemoryRepo keeps analyses in memory. Used in tests and local runs.
type MemoryRepo struct {
	mu   sync.RWMutex
	rows map[string]CallAnalysis
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{rows: map[string]CallAnalysis{}}
}

func key(familyID, sessionID string) string {
	return familyID + "|" + sessionID
}

func (r *MemoryRepo) Create(ctx context.Context, a CallAnalysis) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := key(a.FamilyID, a.SessionID)
	if _, ok := r.rows[k]; ok {
		return ErrAlreadyExists
	}
	r.rows[k] = a
	return nil
}

func (r *MemoryRepo) Get(ctx context.Context, familyID, sessionID string) (CallAnalysis, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.rows[key(familyID, sessionID)]
	if !ok {
		return CallAnalysis{}, ErrNotFound
	}
	return a, nil
}
