// internal/pkg/ratelimit/config_source.go
package ratelimit

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	rl "inkgen-service/internal/domain/ratelimit"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	configCacheKey = "ratelimit:config:default"
	configCacheTTL = 30 * time.Second
)

// ConfigRepo is the persistence lookup the cached source reads through.
type ConfigRepo interface {
	GetByName(ctx context.Context, name string) (*rl.Config, error)
}

// CachedSource serves the effective config from Redis with a
// read-through to Postgres and a last-known-good fallback, so config
// reads stay cheap on the hot path and survive brief store outages.
type CachedSource struct {
	repo   ConfigRepo
	cache  *redis.Client
	logger *zap.Logger

	lastGood atomic.Pointer[rl.Config]
}

func NewCachedSource(repo ConfigRepo, cache *redis.Client, logger *zap.Logger) *CachedSource {
	return &CachedSource{
		repo:   repo,
		cache:  cache,
		logger: logger,
	}
}

// Current returns the effective config.
func (s *CachedSource) Current(ctx context.Context) (*rl.Config, error) {
	if s.cache != nil {
		data, err := s.cache.Get(ctx, configCacheKey).Bytes()
		if err == nil {
			var cfg rl.Config
			if err := json.Unmarshal(data, &cfg); err == nil {
				s.lastGood.Store(&cfg)
				return &cfg, nil
			}
		} else if err != redis.Nil {
			s.logger.Warn("config cache read failed, falling back to DB", zap.Error(err))
		}
	}

	cfg, err := s.repo.GetByName(ctx, rl.DefaultConfigName)
	if err != nil {
		if last := s.lastGood.Load(); last != nil {
			s.logger.Warn("config load failed, serving last known good", zap.Error(err))
			return last, nil
		}
		return nil, fmt.Errorf("failed to load rate limit config: %w", err)
	}

	s.lastGood.Store(cfg)
	s.fill(ctx, cfg)
	return cfg, nil
}

// Refresh drops the cached copy and repopulates it from the store.
// The admin path calls this after every config mutation.
func (s *CachedSource) Refresh(ctx context.Context) error {
	if s.cache != nil {
		if err := s.cache.Del(ctx, configCacheKey).Err(); err != nil {
			s.logger.Warn("failed to invalidate config cache", zap.Error(err))
		}
	}

	cfg, err := s.repo.GetByName(ctx, rl.DefaultConfigName)
	if err != nil {
		return fmt.Errorf("failed to reload rate limit config: %w", err)
	}

	s.lastGood.Store(cfg)
	s.fill(ctx, cfg)
	return nil
}

func (s *CachedSource) fill(ctx context.Context, cfg *rl.Config) {
	if s.cache == nil {
		return
	}
	data, err := json.Marshal(cfg)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, configCacheKey, data, configCacheTTL).Err(); err != nil {
		s.logger.Warn("failed to populate config cache", zap.Error(err))
	}
}

// StaticSource serves a fixed config; the test seam for the limiter
// and a bootstrap default before the admin has saved one.
type StaticSource struct {
	cfg atomic.Pointer[rl.Config]
}

func NewStaticSource(cfg *rl.Config) *StaticSource {
	s := &StaticSource{}
	s.cfg.Store(cfg)
	return s
}

func (s *StaticSource) Current(ctx context.Context) (*rl.Config, error) {
	return s.cfg.Load(), nil
}

func (s *StaticSource) Refresh(ctx context.Context) error {
	return nil
}

// Set swaps the served config.
func (s *StaticSource) Set(cfg *rl.Config) {
	s.cfg.Store(cfg)
}
