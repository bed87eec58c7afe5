package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/amyangfei/redlock-go/v3/redlock"
	redis "github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/actuallyrizzn/puppet-engine/internal/adapters/config"
	"github.com/actuallyrizzn/puppet-engine/pkg/logger"
)

// Client wraps a RedLock manager for fleet-wide agent ownership plus a
// standard Redis client for caching.
type Client struct {
	lockManager *redlock.RedLock
	cache       *redis.Client
}

// New creates new Redis client with RedLock support
func New(cfg *config.RedisConfig) (*Client, error) {
	addr := fmt.Sprintf("tcp://%s:%d", cfg.Host, cfg.Port)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	lockManager, err := redlock.NewRedLock(ctx, []string{addr})
	if err != nil {
		return nil, fmt.Errorf("failed to create redlock manager: %w", err)
	}

	cache := redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
	})
	if err := cache.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info("✅ Redis connected", zap.String("addr", addr))

	return &Client{lockManager: lockManager, cache: cache}, nil
}

// AgentLock creates a lock handle for one agent
func (c *Client) AgentLock(agentID string) *AgentLock {
	return NewAgentLock(c.lockManager, agentID)
}

// Cache returns the raw cache client
func (c *Client) Cache() *redis.Client {
	return c.cache
}

// Health verifies the connection
func (c *Client) Health(ctx context.Context) error {
	return c.cache.Ping(ctx).Err()
}

// Close shuts down the client
func (c *Client) Close() error {
	return c.cache.Close()
}
