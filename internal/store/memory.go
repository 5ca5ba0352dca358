package store

import (
	"context"
	"sync"
	"time"

	"flowguard/api/internal/project"
)

// DocumentStore persists project documents. Apply commits all changes of a mutation or none
// of them and reports whether the document changed.
type DocumentStore interface {
	Create(ctx context.Context, doc project.Document) error
	Get(ctx context.Context, joinCode string) (project.Document, error)
	Apply(ctx context.Context, joinCode string, m Mutation) (bool, error)
}

type MemoryStore struct {
	mu   sync.RWMutex
	docs map[string]project.Document
	now  func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{docs: map[string]project.Document{}, now: time.Now}
}

func (s *MemoryStore) Create(_ context.Context, doc project.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.docs[doc.JoinCode]; ok {
		return ErrExists
	}
	stored := doc.Clone()
	now := s.now().UTC()
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	stored.UpdatedAt = now
	s.docs[doc.JoinCode] = stored
	return nil
}

func (s *MemoryStore) Get(_ context.Context, joinCode string) (project.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.docs[joinCode]
	if !ok {
		return project.Document{}, ErrNotFound
	}
	return doc.Clone(), nil
}

func (s *MemoryStore) Apply(_ context.Context, joinCode string, m Mutation) (bool, error) {
	if err := m.Validate(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.docs[joinCode]
	if !ok {
		return false, ErrNotFound
	}
	next := current.Clone()
	if !ApplyChanges(&next, m.Changes) {
		return false, nil
	}
	next.UpdatedAt = s.now().UTC()
	s.docs[joinCode] = next
	return true, nil
}
