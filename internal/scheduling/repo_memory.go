package scheduling

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryRepo is an in-memory invitation repository for tests and early development.
// It enforces family isolation on reads and compare-and-set on status updates.

type MemoryRepo struct {
	mu   sync.Mutex
	rows map[string]Invitation
}

func NewMemoryRepo() *MemoryRepo { return &MemoryRepo{rows: map[string]Invitation{}} }

func (r *MemoryRepo) Create(ctx context.Context, inv Invitation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows[inv.ID] = inv
	return nil
}

func (r *MemoryRepo) Get(ctx context.Context, familyID, id string) (Invitation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	inv, ok := r.rows[id]
	if !ok || inv.FamilyID != familyID {
		return Invitation{}, ErrNotFound
	}
	return inv, nil
}

func (r *MemoryRepo) ListByStatus(ctx context.Context, familyID, userID string, status InvitationStatus) ([]Invitation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Invitation, 0)
	for _, inv := range r.rows {
		if inv.FamilyID != familyID || inv.Status != status {
			continue
		}
		if inv.RecipientID != userID {
			continue
		}
		out = append(out, inv)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProposedTime.Before(out[j].ProposedTime) })
	return out, nil
}

func (r *MemoryRepo) ListForUser(ctx context.Context, familyID, userID string) ([]Invitation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Invitation, 0)
	for _, inv := range r.rows {
		if inv.FamilyID != familyID {
			continue
		}
		if inv.CallerID != userID && inv.RecipientID != userID {
			continue
		}
		out = append(out, inv)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProposedTime.After(out[j].ProposedTime) })
	return out, nil
}

func (r *MemoryRepo) UpdateStatus(ctx context.Context, familyID, id string, from, to InvitationStatus, respondedAt time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	inv, ok := r.rows[id]
	if !ok || inv.FamilyID != familyID {
		return false, ErrNotFound
	}
	if inv.Status != from {
		return false, nil
	}
	inv.Status = to
	t := respondedAt
	inv.RespondedAt = &t
	r.rows[id] = inv
	return true, nil
}

func (r *MemoryRepo) ListPendingBefore(ctx context.Context, cutoff time.Time) ([]Invitation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Invitation, 0)
	for _, inv := range r.rows {
		if inv.Status == InvitationPending && inv.ProposedTime.Before(cutoff) {
			out = append(out, inv)
		}
	}
	return out, nil
}
