package checkpoint

import "sync"

// Compile-time check: MemStore satisfies Store.
var _ Store = (*MemStore)(nil)

// MemStore is an in-memory CheckpointStore backend, primarily for tests
// and for checkpoint.backend = "memory".
type MemStore struct {
	mu       sync.Mutex
	byCard   map[string]Checkpoint
	maxBytes int64
}

// NewMemStore creates an empty MemStore. maxBytes mirrors FileStore's
// size bound using an approximate JSON-size estimate; 0 disables it.
func NewMemStore(maxBytes int64) *MemStore {
	return &MemStore{byCard: make(map[string]Checkpoint), maxBytes: maxBytes}
}

// Save stores a deep copy of cp, replacing any prior checkpoint for the
// same card id. Oversized payloads are rejected without mutating the
// existing entry.
func (s *MemStore) Save(cp Checkpoint) error {
	if cp.CardID == "" {
		return ErrInvalidID
	}
	if s.maxBytes > 0 {
		if size := estimateSize(cp); size > s.maxBytes {
			return ErrTooLarge
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byCard[cp.CardID] = cp.Clone()
	return nil
}

// Load returns a copy of the stored checkpoint for cardID, if any.
func (s *MemStore) Load(cardID string) (Checkpoint, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp, ok := s.byCard[cardID]
	if !ok {
		return Checkpoint{}, false, nil
	}
	return cp.Clone(), true, nil
}

// Delete removes the stored checkpoint for cardID.
func (s *MemStore) Delete(cardID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.byCard, cardID)
	return nil
}

// estimateSize gives a rough byte-size estimate without a full JSON
// encode, good enough for enforcing the same size policy as FileStore
// in tests that don't touch disk.
func estimateSize(cp Checkpoint) int64 {
	total := int64(len(cp.CardID) + len(cp.PipelineState))
	for _, s := range cp.CompletedStages {
		total += int64(len(s.Name) + len(s.Status) + len(s.Error) + 32)
		for k, v := range s.Output {
			total += int64(len(k) + 16)
			if sv, ok := v.(string); ok {
				total += int64(len(sv))
			}
		}
	}
	for _, p := range cp.Plan {
		total += int64(len(p.Name) + 16)
	}
	return total
}
