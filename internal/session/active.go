package session

import (
	"context"
	"sync"
	"time"
)

// ActiveProjects remembers which shared project each participant has open.
type ActiveProjects interface {
	SaveActiveProject(ctx context.Context, participantID, joinCode string) error
	LookupActiveProject(ctx context.Context, participantID string) (ActiveProject, error)
	ClearActiveProject(ctx context.Context, participantID string) error
}

// MemoryActiveProjects is the in-process ActiveProjects used when Redis is not configured.
// Records expire after the same idle TTL as the Redis store.
type MemoryActiveProjects struct {
	mu      sync.Mutex
	records map[string]memoryRecord
	ttl     time.Duration
	now     func() time.Time
}

type memoryRecord struct {
	active    ActiveProject
	expiresAt time.Time
}

func NewMemoryActiveProjects() *MemoryActiveProjects {
	return &MemoryActiveProjects{
		records: map[string]memoryRecord{},
		ttl:     defaultActiveTTL,
		now:     time.Now,
	}
}

func (m *MemoryActiveProjects) SaveActiveProject(_ context.Context, participantID, joinCode string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	m.records[participantID] = memoryRecord{
		active:    ActiveProject{JoinCode: joinCode, OpenedAt: now.UTC()},
		expiresAt: now.Add(m.ttl),
	}
	return nil
}

func (m *MemoryActiveProjects) LookupActiveProject(_ context.Context, participantID string) (ActiveProject, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	record, ok := m.records[participantID]
	if !ok || !now.Before(record.expiresAt) {
		delete(m.records, participantID)
		return ActiveProject{}, ErrNoActiveProject
	}
	record.expiresAt = now.Add(m.ttl)
	m.records[participantID] = record
	return record.active, nil
}

func (m *MemoryActiveProjects) ClearActiveProject(_ context.Context, participantID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, participantID)
	return nil
}

var (
	_ ActiveProjects = (*RedisStore)(nil)
	_ ActiveProjects = (*MemoryActiveProjects)(nil)
)
