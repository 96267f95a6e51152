package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"edaagent/pkg/domain"
)

// MemoryStore keeps design records in-process. Used when no database is
// configured and in tests.
type MemoryStore struct {
	mu      sync.RWMutex
	seq     uint64
	designs map[string]map[string]memoryDesign // userID -> id -> record
}

type memoryDesign struct {
	rec domain.DesignRecord
	seq uint64
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		designs: make(map[string]map[string]memoryDesign),
	}
}

// InsertDesign stores a new record.
func (m *MemoryStore) InsertDesign(_ context.Context, rec domain.DesignRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	byID := m.designs[rec.UserID]
	if byID == nil {
		byID = make(map[string]memoryDesign)
		m.designs[rec.UserID] = byID
	}
	if _, exists := byID[rec.ID]; exists {
		return fmt.Errorf("design %s already exists", rec.ID)
	}
	m.seq++
	byID[rec.ID] = memoryDesign{rec: cloneRecord(rec), seq: m.seq}
	return nil
}

// GetDesign returns one record owned by userID.
func (m *MemoryStore) GetDesign(_ context.Context, userID, id string) (domain.DesignRecord, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.designs[userID][id]
	if !ok {
		return domain.DesignRecord{}, false, nil
	}
	return cloneRecord(d.rec), true, nil
}

// ListDesigns returns the user's records newest first; ties on CreatedAt are
// broken by insertion order.
func (m *MemoryStore) ListDesigns(_ context.Context, userID string) ([]domain.DesignRecord, error) {
	m.mu.RLock()
	items := make([]memoryDesign, 0, len(m.designs[userID]))
	for _, d := range m.designs[userID] {
		items = append(items, d)
	}
	m.mu.RUnlock()

	sort.Slice(items, func(i, j int) bool {
		if !items[i].rec.CreatedAt.Equal(items[j].rec.CreatedAt) {
			return items[i].rec.CreatedAt.After(items[j].rec.CreatedAt)
		}
		return items[i].seq > items[j].seq
	})
	out := make([]domain.DesignRecord, 0, len(items))
	for _, d := range items {
		out = append(out, cloneRecord(d.rec))
	}
	return out, nil
}

func cloneRecord(rec domain.DesignRecord) domain.DesignRecord {
	rec.StructuredNetlist = rec.StructuredNetlist.Clone()
	return rec
}
