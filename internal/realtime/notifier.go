// Package realtime fans project changes out to live subscribers as full-document snapshots.
package realtime

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Notifier carries "project changed" signals keyed by join code.
type Notifier interface {
	Publish(ctx context.Context, joinCode string) error
	Listen(ctx context.Context) (<-chan string, error)
}

// LocalNotifier delivers changes within one process. Signals for a code that is already
// pending for a listener are merged, and none are dropped.
type LocalNotifier struct {
	mu        sync.Mutex
	listeners map[*localListener]struct{}
}

type localListener struct {
	mu      sync.Mutex
	pending []string
	queued  map[string]bool
	wake    chan struct{}
}

func NewLocalNotifier() *LocalNotifier {
	return &LocalNotifier{listeners: map[*localListener]struct{}{}}
}

func (n *LocalNotifier) Publish(_ context.Context, joinCode string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	for l := range n.listeners {
		l.add(joinCode)
	}
	return nil
}

func (n *LocalNotifier) Listen(ctx context.Context) (<-chan string, error) {
	l := &localListener{queued: map[string]bool{}, wake: make(chan struct{}, 1)}
	n.mu.Lock()
	n.listeners[l] = struct{}{}
	n.mu.Unlock()

	out := make(chan string)
	go func() {
		defer close(out)
		defer func() {
			n.mu.Lock()
			delete(n.listeners, l)
			n.mu.Unlock()
		}()
		for {
			select {
			case <-ctx.Done():
				return
			case <-l.wake:
			}
			for _, code := range l.drain() {
				select {
				case out <- code:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func (l *localListener) add(code string) {
	l.mu.Lock()
	if !l.queued[code] {
		l.queued[code] = true
		l.pending = append(l.pending, code)
	}
	l.mu.Unlock()
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

func (l *localListener) drain() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	codes := l.pending
	l.pending = nil
	l.queued = map[string]bool{}
	return codes
}

const DefaultChannel = "flowguard:project-changed"

// RedisNotifier shares change signals between API instances over Redis pub/sub.
type RedisNotifier struct {
	client  *redis.Client
	channel string
}

func NewRedisNotifier(client *redis.Client, channel string) *RedisNotifier {
	if channel == "" {
		channel = DefaultChannel
	}
	return &RedisNotifier{client: client, channel: channel}
}

func (n *RedisNotifier) Publish(ctx context.Context, joinCode string) error {
	if err := n.client.Publish(ctx, n.channel, joinCode).Err(); err != nil {
		return fmt.Errorf("publish project change: %w", err)
	}
	return nil
}

func (n *RedisNotifier) Listen(ctx context.Context) (<-chan string, error) {
	pubsub := n.client.Subscribe(ctx, n.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", n.channel, err)
	}
	out := make(chan string, 64)
	go func() {
		defer close(out)
		defer pubsub.Close()
		messages := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-messages:
				if !ok {
					return
				}
				select {
				case out <- msg.Payload:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
