package session

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryRepo is an in-memory session repository for tests and early development.
// It enforces family isolation on reads.

type MemoryRepo struct {
	mu   sync.Mutex
	rows map[string]Session
}

func NewMemoryRepo() *MemoryRepo { return &MemoryRepo{rows: map[string]Session{}} }

func (r *MemoryRepo) Create(ctx context.Context, s Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows[s.ID] = s
	return nil
}

func (r *MemoryRepo) Get(ctx context.Context, familyID, id string) (Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.rows[id]
	if !ok || s.FamilyID != familyID {
		return Session{}, ErrNotFound
	}
	return s, nil
}

func (r *MemoryRepo) Update(ctx context.Context, s Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rows[s.ID]; !ok {
		return ErrNotFound
	}
	r.rows[s.ID] = s
	return nil
}

func (r *MemoryRepo) ListForUser(ctx context.Context, familyID, userID string) ([]Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Session, 0)
	for _, s := range r.rows {
		if s.FamilyID != familyID || !s.HasParticipant(userID) {
			continue
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledStart.After(out[j].ScheduledStart) })
	return out, nil
}

func (r *MemoryRepo) ListStale(ctx context.Context, cutoff time.Time) ([]Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Session, 0)
	for _, s := range r.rows {
		if s.State.Terminal() || s.State == StateLive {
			continue
		}
		if s.ScheduledEnd.Before(cutoff) {
			out = append(out, s)
		}
	}
	return out, nil
}
