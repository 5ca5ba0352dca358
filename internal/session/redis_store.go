// Package session holds per-participant state: the in-memory solo checklist and the Redis
// record of which shared project a participant has open.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrNoActiveProject is returned when the participant has no project open.
var ErrNoActiveProject = errors.New("no active project")

const defaultActiveTTL = 12 * time.Hour

// ActiveProject is what the store keeps per participant.
type ActiveProject struct {
	JoinCode string    `json:"join_code"`
	OpenedAt time.Time `json:"opened_at"`
}

// RedisStore remembers each participant's open join code using Redis
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisStore creates a new Redis-backed session store
func NewRedisStore(redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisStoreWithClient(client), nil
}

// NewRedisStoreWithClient creates a store from an existing Redis client
func NewRedisStoreWithClient(client *redis.Client) *RedisStore {
	return &RedisStore{
		client: client,
		prefix: "active-project:",
		ttl:    defaultActiveTTL,
	}
}

// WithTTL sets how long an idle record survives. Non-positive values keep the default.
func (s *RedisStore) WithTTL(ttl time.Duration) *RedisStore {
	if ttl > 0 {
		s.ttl = ttl
	}
	return s
}

func (s *RedisStore) Client() *redis.Client {
	return s.client
}

func (s *RedisStore) key(participantID string) string {
	return s.prefix + participantID
}

// SaveActiveProject records joinCode as the participant's open project.
func (s *RedisStore) SaveActiveProject(ctx context.Context, participantID, joinCode string) error {
	data, err := json.Marshal(ActiveProject{JoinCode: joinCode, OpenedAt: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("marshal active project: %w", err)
	}
	if err := s.client.Set(ctx, s.key(participantID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("save active project: %w", err)
	}
	return nil
}

// LookupActiveProject returns the participant's open project and refreshes its TTL.
func (s *RedisStore) LookupActiveProject(ctx context.Context, participantID string) (ActiveProject, error) {
	raw, err := s.client.GetEx(ctx, s.key(participantID), s.ttl).Result()
	if errors.Is(err, redis.Nil) {
		return ActiveProject{}, ErrNoActiveProject
	}
	if err != nil {
		return ActiveProject{}, fmt.Errorf("lookup active project: %w", err)
	}
	var active ActiveProject
	if err := json.Unmarshal([]byte(raw), &active); err != nil {
		return ActiveProject{}, fmt.Errorf("unmarshal active project: %w", err)
	}
	return active, nil
}

// ClearActiveProject forgets the participant's open project
func (s *RedisStore) ClearActiveProject(ctx context.Context, participantID string) error {
	if err := s.client.Del(ctx, s.key(participantID)).Err(); err != nil {
		return fmt.Errorf("clear active project: %w", err)
	}
	return nil
}

// Close closes the Redis connection
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks if Redis is reachable
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
