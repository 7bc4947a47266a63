package localstore

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/stemsi/exstem-session/internal/model"
)

// MemoryStore keeps records in process memory. It backs tests and hosts
// that supply their own durable KV; it stores raw JSON blobs so merge and
// corruption behavior match the durable backends exactly.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string][]byte
	tokens  map[string]string
	now     func() time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string][]byte),
		tokens:  make(map[string]string),
		now:     time.Now,
	}
}

// SetNowFunc overrides the clock, for staleness tests.
func (s *MemoryStore) SetNowFunc(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// InjectRaw stores an arbitrary payload under attemptID, bypassing the
// merge. Tests use it to plant corrupt records.
func (s *MemoryStore) InjectRaw(attemptID string, payload []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[attemptID] = payload
}

func (s *MemoryStore) SaveLocal(_ context.Context, attemptID string, partial model.PersistedPartial) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	state := &model.PersistedState{}
	if raw, ok := s.records[attemptID]; ok {
		// A corrupt record is replaced rather than kept poisoned.
		_ = json.Unmarshal(raw, state)
	}
	partial.ApplyTo(state)
	state.LastSavedAt = s.now()

	raw, err := json.Marshal(state)
	if err != nil {
		return err
	}
	s.records[attemptID] = raw
	return nil
}

func (s *MemoryStore) GetLocal(_ context.Context, attemptID string) (*model.PersistedState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, ok := s.records[attemptID]
	if !ok {
		return nil, nil
	}
	state := &model.PersistedState{}
	if err := json.Unmarshal(raw, state); err != nil {
		return nil, nil
	}
	return state, nil
}

func (s *MemoryStore) ClearLocal(_ context.Context, attemptID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, attemptID)
	delete(s.tokens, attemptID)
	return nil
}

func (s *MemoryStore) SaveSessionToken(_ context.Context, attemptID, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[attemptID] = token
	return nil
}

func (s *MemoryStore) GetSessionToken(_ context.Context, attemptID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tokens[attemptID], nil
}

func (s *MemoryStore) ClearStaleData(_ context.Context, maxAge time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-maxAge)
	cleared := 0
	for id, raw := range s.records {
		state := &model.PersistedState{}
		if err := json.Unmarshal(raw, state); err != nil || state.LastSavedAt.Before(cutoff) {
			delete(s.records, id)
			delete(s.tokens, id)
			cleared++
		}
	}
	return cleared, nil
}

func (s *MemoryStore) ValidateAndCleanup(_ context.Context, keepAttemptID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cleared := 0
	for id := range s.records {
		if keepAttemptID != "" && id == keepAttemptID {
			continue
		}
		delete(s.records, id)
		delete(s.tokens, id)
		cleared++
	}
	return cleared, nil
}

func (s *MemoryStore) ClearAllLocal(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = make(map[string][]byte)
	s.tokens = make(map[string]string)
	return nil
}

func (s *MemoryStore) ListAttemptIDs(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, 0, len(s.records))
	for id := range s.records {
		ids = append(ids, id)
	}
	return ids, nil
}

func (s *MemoryStore) Close() error { return nil }
