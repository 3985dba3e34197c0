package incident

import (
	"context"
	"sync"
	"time"
)

// MemoryRepo is an in-memory append-only ledger useful for tests.
// It enforces the auto-flag fragment uniqueness the Postgres schema provides
// via a partial unique index.

type MemoryRepo struct {
	mu        sync.Mutex
	incidents []Incident
	autoSeen  map[string]struct{} // session_id|fragment_id
}

func NewMemoryRepo() *MemoryRepo { return &MemoryRepo{autoSeen: map[string]struct{}{}} }

func (r *MemoryRepo) Append(ctx context.Context, inc Incident) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if inc.Kind == KindAutoFlagged {
		key := inc.SessionID + "|" + inc.FragmentID
		if _, ok := r.autoSeen[key]; ok {
			return ErrDuplicateIncident
		}
		r.autoSeen[key] = struct{}{}
	}
	r.incidents = append(r.incidents, inc)
	return nil
}

func (r *MemoryRepo) List(ctx context.Context, familyID, sessionID string) ([]Incident, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Incident, 0)
	for _, inc := range r.incidents {
		if inc.FamilyID == familyID && inc.SessionID == sessionID {
			out = append(out, inc)
		}
	}
	return out, nil
}

// MemoryDeduper is an in-process Deduper for tests.
type MemoryDeduper struct {
	mu    sync.Mutex
	seen  map[string]time.Time
	clock func() time.Time
}

func NewMemoryDeduper() *MemoryDeduper {
	return &MemoryDeduper{seen: map[string]time.Time{}, clock: time.Now}
}

func (d *MemoryDeduper) FirstSeen(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	now := d.clock()
	if exp, ok := d.seen[key]; ok && now.Before(exp) {
		return false, nil
	}
	d.seen[key] = now.Add(ttl)
	return true, nil
}
