package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/xiaot623/gogo/eyes/internal/domain"
)

// RoutingHashKey is the Redis hash holding one JSON routing record per stage.
const RoutingHashKey = "eyes:routing"

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// RedisRoutingStore is a Redis-backed RoutingStore shared by several replicas.
type RedisRoutingStore struct {
	client *redis.Client
	logger zerolog.Logger
}

// NewRedisRoutingStore connects to Redis and verifies the connection.
func NewRedisRoutingStore(config RedisConfig, logger zerolog.Logger) (*RedisRoutingStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         config.Addr,
		Password:     config.Password,
		DB:           config.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	logger.Info().
		Str("addr", config.Addr).
		Int("db", config.DB).
		Msg("connected to Redis routing store")

	return &RedisRoutingStore{client: client, logger: logger}, nil
}

// GetRouting returns the routing of a stage.
func (s *RedisRoutingStore) GetRouting(ctx context.Context, stage string) (*domain.Routing, error) {
	val, err := s.client.HGet(ctx, RoutingHashKey, stage).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis hget failed: %w", err)
	}

	var routing domain.Routing
	if err := json.Unmarshal(val, &routing); err != nil {
		return nil, fmt.Errorf("failed to unmarshal routing for %s: %w", stage, err)
	}
	return &routing, nil
}

// SetRouting creates or replaces the routing of a stage.
func (s *RedisRoutingStore) SetRouting(ctx context.Context, routing *domain.Routing) error {
	if routing.UpdatedAt.IsZero() {
		routing.UpdatedAt = time.Now()
	}
	data, err := json.Marshal(routing)
	if err != nil {
		return fmt.Errorf("failed to marshal routing: %w", err)
	}
	if err := s.client.HSet(ctx, RoutingHashKey, routing.Stage, data).Err(); err != nil {
		return fmt.Errorf("redis hset failed: %w", err)
	}
	return nil
}

// ListRouting returns every routing record ordered by stage.
func (s *RedisRoutingStore) ListRouting(ctx context.Context) ([]domain.Routing, error) {
	all, err := s.client.HGetAll(ctx, RoutingHashKey).Result()
	if err != nil {
		return nil, fmt.Errorf("redis hgetall failed: %w", err)
	}

	out := make([]domain.Routing, 0, len(all))
	for stage, raw := range all {
		var routing domain.Routing
		if err := json.Unmarshal([]byte(raw), &routing); err != nil {
			s.logger.Warn().Err(err).Str("stage", stage).Msg("skipping unreadable routing record")
			continue
		}
		out = append(out, routing)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Stage < out[j].Stage })
	return out, nil
}

// Close closes the Redis client.
func (s *RedisRoutingStore) Close() error {
	return s.client.Close()
}
