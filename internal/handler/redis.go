package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"hostagent/internal/config"
	"hostagent/internal/network"
)

func init() {
	Register("redis", func(cfg *config.Config, deps Deps) (Handler, error) {
		return NewRedisHandler(cfg.Redis, cfg.SOCKSProxy, deps.Source)
	})
}

// RedisHandler pushes results onto a redis list, newest first, trimmed to
// MaxLen entries.
type RedisHandler struct {
	client *redis.Client
	key    string
	maxLen int64
	source Source
	mu     sync.RWMutex
	closed bool
}

// NewRedisHandler creates a redis handler with an optional SOCKS5 dialer.
func NewRedisHandler(cfg config.RedisConfig, socksCfg config.SOCKSConfig, source Source) (*RedisHandler, error) {
	if cfg.Address == "" {
		return nil, fmt.Errorf("redis handler requires Redis.Address")
	}
	if cfg.Key == "" {
		return nil, fmt.Errorf("redis handler requires Redis.Key")
	}

	opts := &redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	}

	dial, err := network.ContextDialer(socksCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create SOCKS5 dialer for redis: %w", err)
	}
	if dial != nil {
		opts.Dialer = dial
	}

	return &RedisHandler{
		client: redis.NewClient(opts),
		key:    cfg.Key,
		maxLen: cfg.MaxLen,
		source: source,
	}, nil
}

// Name returns "redis".
func (h *RedisHandler) Name() string { return "redis" }

// Run pushes every record due at ts in one pipeline.
func (h *RedisHandler) Run(ctx context.Context, ts time.Time) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.closed {
		return fmt.Errorf("handler is closed")
	}

	recs := results(h.source, ts)
	if len(recs) == 0 {
		return nil
	}

	values := make([]interface{}, 0, len(recs))
	for _, rec := range recs {
		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("failed to marshal check record: %w", err)
		}
		values = append(values, data)
	}

	pipe := h.client.TxPipeline()
	pipe.LPush(ctx, h.key, values...)
	if h.maxLen > 0 {
		pipe.LTrim(ctx, h.key, 0, h.maxLen-1)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis push to %s failed: %w", h.key, err)
	}
	return nil
}

// Close closes the redis client.
func (h *RedisHandler) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil
	}

	h.closed = true
	return h.client.Close()
}
