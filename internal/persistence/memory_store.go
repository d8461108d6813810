package persistence

import (
	"context"
	"fmt"
	"sync"

	"github.com/MimeLyc/transcription-service/internal/jobs"
)

// MemoryStore keeps records in process memory. Nothing survives a restart.
type MemoryStore struct {
	mu   sync.RWMutex
	recs map[string]*jobs.Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{recs: make(map[string]*jobs.Record)}
}

func (m *MemoryStore) Save(_ context.Context, rec *jobs.Record) error {
	if rec == nil {
		return fmt.Errorf("record is nil")
	}
	m.mu.Lock()
	m.recs[rec.ID] = rec.Clone()
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) FindByID(_ context.Context, id string) (*jobs.Record, bool, error) {
	m.mu.RLock()
	rec, ok := m.recs[id]
	m.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	return rec.Clone(), true, nil
}

func (m *MemoryStore) FindAll(_ context.Context) ([]*jobs.Record, error) {
	m.mu.RLock()
	ret := make([]*jobs.Record, 0, len(m.recs))
	for _, rec := range m.recs {
		ret = append(ret, rec.Clone())
	}
	m.mu.RUnlock()
	sortByCreatedDesc(ret)
	return ret, nil
}

func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	delete(m.recs, id)
	m.mu.Unlock()
	return nil
}
