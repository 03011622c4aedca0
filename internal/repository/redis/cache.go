// Package redis provides Redis caching and pub/sub functionality.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/arinc653/partitiond/internal/config"
	"github.com/arinc653/partitiond/internal/domain"
	"github.com/arinc653/partitiond/internal/partition"
)

// ErrCacheMiss indicates the key was not found in cache.
var ErrCacheMiss = errors.New("cache miss")

// Cache wraps a Redis client for caching operations.
type Cache struct {
	client *redis.Client
	logger *zap.Logger
}

// NewCache creates a new Redis cache connection.
func NewCache(cfg config.RedisConfig, logger *zap.Logger) (*Cache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.Info("Connected to Redis", zap.String("addr", cfg.Address()))

	return &Cache{client: client, logger: logger}, nil
}

// Close closes the Redis connection.
func (c *Cache) Close() error {
	return c.client.Close()
}

// Health checks if Redis is reachable.
func (c *Cache) Health(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// =============================================================================
// Generic Cache Operations
// =============================================================================

// Get retrieves a value from cache and unmarshals it into dest.
func (c *Cache) Get(ctx context.Context, key string, dest interface{}) error {
	val, err := c.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return ErrCacheMiss
	}
	if err != nil {
		return fmt.Errorf("redis get error: %w", err)
	}

	return json.Unmarshal([]byte(val), dest)
}

// Set stores a value in cache with a TTL.
func (c *Cache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal value: %w", err)
	}

	return c.client.Set(ctx, key, data, ttl).Err()
}

// Delete removes a key from cache.
func (c *Cache) Delete(ctx context.Context, key string) error {
	return c.client.Del(ctx, key).Err()
}

// =============================================================================
// Schedule Snapshot Cache
// =============================================================================

// scheduleCacheTTL is short: the cached snapshot is only for cheap
// reads (status pages, dashboards), never for anything
// that drives dispatch. The live schedule always lives in the
// partition.Instance of whichever host asked for it.
const scheduleCacheTTL = 30 * time.Second

func scheduleCacheKey(hostID string) string {
	return fmt.Sprintf("schedule:%s", hostID)
}

// GetSchedule retrieves the last-cached installed schedule for a host.
func (c *Cache) GetSchedule(ctx context.Context, hostID string) (*partition.ScheduleTable, error) {
	var table partition.ScheduleTable
	if err := c.Get(ctx, scheduleCacheKey(hostID), &table); err != nil {
		return nil, err
	}
	return &table, nil
}

// SetSchedule caches the schedule table most recently installed on a host.
func (c *Cache) SetSchedule(ctx context.Context, hostID string, table partition.ScheduleTable) error {
	return c.Set(ctx, scheduleCacheKey(hostID), table, scheduleCacheTTL)
}

// =============================================================================
// Pub/Sub Operations for Real-time Updates
// =============================================================================

// Event represents a real-time event.
type Event struct {
	Type       string      `json:"type"` // "schedule.installed", "domain.params_set", "host.heartbeat", etc.
	ResourceID string      `json:"resource_id"`
	Data       interface{} `json:"data,omitempty"`
	Timestamp  time.Time   `json:"timestamp"`
}

// Publish publishes an event to a channel.
func (c *Cache) Publish(ctx context.Context, channel string, event Event) error {
	event.Timestamp = time.Now()
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	return c.client.Publish(ctx, channel, data).Err()
}

// PublishPartitionEvent publishes a partition lifecycle event
// (registration, removal) on "events:partition" so other control
// plane replicas and dashboards can react without polling Postgres.
func (c *Cache) PublishPartitionEvent(ctx context.Context, eventType string, p *domain.Partition) error {
	return c.Publish(ctx, "events:partition", Event{
		Type:       eventType,
		ResourceID: fmt.Sprintf("%d", p.DomainID),
		Data:       p,
	})
}

// PublishHostEvent publishes a host registration or heartbeat event.
func (c *Cache) PublishHostEvent(ctx context.Context, eventType string, h *domain.Host) error {
	return c.Publish(ctx, "events:host", Event{
		Type:       eventType,
		ResourceID: h.ID,
		Data:       h,
	})
}

// =============================================================================
// Session/Token Storage
// =============================================================================

const sessionTTL = 24 * time.Hour

// SetSession stores a user session.
func (c *Cache) SetSession(ctx context.Context, sessionID string, userID string) error {
	key := fmt.Sprintf("session:%s", sessionID)
	return c.client.Set(ctx, key, userID, sessionTTL).Err()
}

// GetSession retrieves a user session.
func (c *Cache) GetSession(ctx context.Context, sessionID string) (string, error) {
	key := fmt.Sprintf("session:%s", sessionID)
	userID, err := c.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", ErrCacheMiss
	}
	return userID, err
}

// DeleteSession removes a user session.
func (c *Cache) DeleteSession(ctx context.Context, sessionID string) error {
	key := fmt.Sprintf("session:%s", sessionID)
	return c.client.Del(ctx, key).Err()
}
