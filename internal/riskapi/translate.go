package riskapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"flowguard/api/internal/simulation"
)

// TranslationCache keeps translated results per simulation id.
type TranslationCache interface {
	Get(ctx context.Context, simulationID string) (*simulation.Result, bool, error)
	Put(ctx context.Context, simulationID string, result *simulation.Result) error
}

// Translate returns result rendered in the other display language. Answers are cached by
// simulation id when a cache is configured.
func (c *Client) Translate(ctx context.Context, result *simulation.Result) (*simulation.Result, error) {
	if result == nil {
		return nil, fmt.Errorf("%w: nothing to translate", ErrInvalidResponse)
	}
	id := result.SimulationID
	if c.cache != nil && id != "" {
		cached, ok, err := c.cache.Get(ctx, id)
		if err != nil {
			c.logger.Warn("translation cache read failed", zap.String("simulation_id", id), zap.Error(err))
		} else if ok {
			return cached, nil
		}
	}

	body, err := c.call(ctx, "translate", http.MethodPost, "/api/translate-simulation", result, defaultRequestTimeout)
	if err != nil {
		return nil, err
	}
	translated, err := decodeTranslation(body)
	if err != nil {
		return nil, err
	}

	if c.cache != nil && id != "" {
		if err := c.cache.Put(ctx, id, translated); err != nil {
			c.logger.Warn("translation cache write failed", zap.String("simulation_id", id), zap.Error(err))
		}
	}
	return translated, nil
}

// decodeTranslation accepts only bodies with a string simulation_id and a risks array.
func decodeTranslation(body []byte) (*simulation.Result, error) {
	var shape struct {
		SimulationID any `json:"simulation_id"`
		Risks        any `json:"risks"`
	}
	if err := json.Unmarshal(body, &shape); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	if _, ok := shape.SimulationID.(string); !ok {
		return nil, fmt.Errorf("%w: simulation_id is not a string", ErrInvalidResponse)
	}
	if _, ok := shape.Risks.([]any); !ok {
		return nil, fmt.Errorf("%w: risks is not an array", ErrInvalidResponse)
	}
	var out simulation.Result
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	return &out, nil
}

type MemoryTranslationCache struct {
	mu      sync.RWMutex
	entries map[string]*simulation.Result
}

func NewMemoryTranslationCache() *MemoryTranslationCache {
	return &MemoryTranslationCache{entries: map[string]*simulation.Result{}}
}

func (c *MemoryTranslationCache) Get(_ context.Context, simulationID string) (*simulation.Result, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	result, ok := c.entries[simulationID]
	return result, ok, nil
}

func (c *MemoryTranslationCache) Put(_ context.Context, simulationID string, result *simulation.Result) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[simulationID] = result
	return nil
}

// RedisTranslationCache stores translations as JSON with a TTL.
type RedisTranslationCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedisTranslationCache(client *redis.Client, ttl time.Duration) *RedisTranslationCache {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisTranslationCache{client: client, prefix: "translation:", ttl: ttl}
}

func (c *RedisTranslationCache) Get(ctx context.Context, simulationID string) (*simulation.Result, bool, error) {
	raw, err := c.client.Get(ctx, c.prefix+simulationID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read translation: %w", err)
	}
	var result simulation.Result
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, false, fmt.Errorf("decode translation: %w", err)
	}
	return &result, true, nil
}

func (c *RedisTranslationCache) Put(ctx context.Context, simulationID string, result *simulation.Result) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encode translation: %w", err)
	}
	if err := c.client.Set(ctx, c.prefix+simulationID, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("write translation: %w", err)
	}
	return nil
}
