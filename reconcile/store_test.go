package reconcile

import (
	"context"
	"fmt"
	"sync"

	"github.com/stretchr/testify/mock"

	"trafficlog/db"
	"trafficlog/models"
)

// memoryStore keeps history in memory with the same append contract as the
// Postgres store.
type memoryStore struct {
	mu       sync.Mutex
	created  map[string]bool
	entries  map[string][]models.HistoryEntry
	failRead map[string]error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		created:  map[string]bool{},
		entries:  map[string][]models.HistoryEntry{},
		failRead: map[string]error{},
	}
}

func (s *memoryStore) ReadLastEntry(_ context.Context, entityID string) (*models.HistoryEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.failRead[entityID]; err != nil {
		return nil, err
	}
	rows := s.entries[entityID]
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: entity %s", db.ErrNoEntriesFound, entityID)
	}
	last := rows[len(rows)-1]
	return &last, nil
}

func (s *memoryStore) CreateEntity(_ context.Context, entityID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.created[entityID] = true
	return nil
}

func (s *memoryStore) AppendEntries(_ context.Context, entityID string, entries []models.HistoryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.created[entityID] {
		return fmt.Errorf("%w: %s", db.ErrEntityNotFound, entityID)
	}
	for i := 1; i < len(entries); i++ {
		if !entries[i].Date.After(entries[i-1].Date) {
			return db.ErrOutOfOrder
		}
	}
	rows := s.entries[entityID]
	if len(rows) > 0 && len(entries) > 0 && !entries[0].Date.After(rows[len(rows)-1].Date) {
		return db.ErrOverlap
	}
	s.entries[entityID] = append(rows, entries...)
	return nil
}

// seed stores rows directly, as if written by earlier runs.
func (s *memoryStore) seed(entityID string, rows ...models.HistoryEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.created[entityID] = true
	s.entries[entityID] = append(s.entries[entityID], rows...)
}

func (s *memoryStore) series(entityID string) []models.HistoryEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.HistoryEntry(nil), s.entries[entityID]...)
}

// MockStore is a mock implementation of HistoryStore
type MockStore struct {
	mock.Mock
}

func (m *MockStore) ReadLastEntry(ctx context.Context, entityID string) (*models.HistoryEntry, error) {
	args := m.Called(ctx, entityID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.HistoryEntry), args.Error(1)
}

func (m *MockStore) CreateEntity(ctx context.Context, entityID string) error {
	args := m.Called(ctx, entityID)
	return args.Error(0)
}

func (m *MockStore) AppendEntries(ctx context.Context, entityID string, entries []models.HistoryEntry) error {
	args := m.Called(ctx, entityID, entries)
	return args.Error(0)
}
