package realtime

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"flowguard/api/internal/metrics"
	"flowguard/api/internal/project"
	"flowguard/api/internal/store"
)

// Loader reads the authoritative document for a join code.
type Loader interface {
	Get(ctx context.Context, joinCode string) (project.Document, error)
}

// Snapshot is one full-document push. Document is nil when the project does not exist.
type Snapshot struct {
	JoinCode string
	Document *project.Document
}

// Hub delivers the full current document to every subscriber of a join code whenever the
// notifier reports a change. Each subscriber holds at most one undelivered snapshot; a newer
// snapshot replaces an older one that has not been read yet.
type Hub struct {
	loader   Loader
	notifier Notifier
	logger   *zap.Logger

	mu   sync.Mutex
	subs map[string]map[*Subscription]struct{}
}

func NewHub(loader Loader, notifier Notifier, logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		loader:   loader,
		notifier: notifier,
		logger:   logger,
		subs:     map[string]map[*Subscription]struct{}{},
	}
}

type Subscription struct {
	hub      *Hub
	joinCode string
	ch       chan Snapshot

	mu     sync.Mutex
	latest *project.Document
	closed bool
}

// Updates yields snapshots until the subscription is closed.
func (s *Subscription) Updates() <-chan Snapshot {
	return s.ch
}

func (s *Subscription) Close() {
	s.hub.remove(s)
}

// Subscribe registers a subscriber and queues the current document as its first snapshot.
func (h *Hub) Subscribe(ctx context.Context, joinCode string) (*Subscription, error) {
	sub := &Subscription{hub: h, joinCode: joinCode, ch: make(chan Snapshot, 1)}
	h.mu.Lock()
	if h.subs[joinCode] == nil {
		h.subs[joinCode] = map[*Subscription]struct{}{}
	}
	h.subs[joinCode][sub] = struct{}{}
	h.mu.Unlock()
	metrics.Subscribers.Inc()

	doc, err := h.load(ctx, joinCode)
	if err != nil {
		sub.Close()
		return nil, err
	}
	sub.offer(Snapshot{JoinCode: joinCode, Document: doc})
	return sub, nil
}

// Run consumes change signals until ctx is done.
func (h *Hub) Run(ctx context.Context) error {
	changes, err := h.notifier.Listen(ctx)
	if err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case code, ok := <-changes:
			if !ok {
				return ctx.Err()
			}
			h.Broadcast(ctx, code)
		}
	}
}

// Broadcast loads the document once and offers it to every subscriber of joinCode.
func (h *Hub) Broadcast(ctx context.Context, joinCode string) {
	subs := h.subscribers(joinCode)
	if len(subs) == 0 {
		return
	}
	doc, err := h.load(ctx, joinCode)
	if err != nil {
		h.logger.Warn("load project for broadcast", zap.String("join_code", joinCode), zap.Error(err))
		return
	}
	for _, sub := range subs {
		sub.offer(Snapshot{JoinCode: joinCode, Document: doc})
	}
}

func (h *Hub) load(ctx context.Context, joinCode string) (*project.Document, error) {
	doc, err := h.loader.Get(ctx, joinCode)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

func (h *Hub) subscribers(joinCode string) []*Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]*Subscription, 0, len(h.subs[joinCode]))
	for sub := range h.subs[joinCode] {
		out = append(out, sub)
	}
	return out
}

func (h *Hub) remove(sub *Subscription) {
	h.mu.Lock()
	set, ok := h.subs[sub.joinCode]
	_, registered := set[sub]
	if ok && registered {
		delete(set, sub)
		if len(set) == 0 {
			delete(h.subs, sub.joinCode)
		}
	}
	h.mu.Unlock()
	if !registered {
		return
	}
	metrics.Subscribers.Dec()

	sub.mu.Lock()
	sub.closed = true
	close(sub.ch)
	sub.mu.Unlock()
}

// offer queues snap unless the subscriber already saw a newer document.
func (s *Subscription) offer(snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if s.latest != nil && snap.Document != nil && snap.Document.UpdatedAt.Before(s.latest.UpdatedAt) {
		metrics.SnapshotsPushed.WithLabelValues("stale").Inc()
		return
	}
	if snap.Document != nil {
		s.latest = snap.Document
	}
	select {
	case s.ch <- snap:
		metrics.SnapshotsPushed.WithLabelValues("queued").Inc()
		return
	default:
	}
	select {
	case <-s.ch:
	default:
	}
	s.ch <- snap
	metrics.SnapshotsPushed.WithLabelValues("coalesced").Inc()
}
