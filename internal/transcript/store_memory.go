package transcript

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore keeps fragments in memory. Used in tests and local runs.
type MemoryStore struct {
	mu   sync.RWMutex
	rows []Fragment
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Append(ctx context.Context, f Fragment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = append(s.rows, f)
	return nil
}

func (s *MemoryStore) ListFinal(ctx context.Context, familyID, sessionID string) ([]Fragment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Fragment
	for _, f := range s.rows {
		if f.FamilyID == familyID && f.SessionID == sessionID && f.IsFinal {
			out = append(out, f)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].SpeakerID != out[j].SpeakerID {
			return out[i].SpeakerID < out[j].SpeakerID
		}
		return out[i].SequenceNo < out[j].SequenceNo
	})
	return out, nil
}
