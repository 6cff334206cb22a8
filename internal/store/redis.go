package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// DocumentTTL keeps stale engine state from accumulating in Redis.
// State is rewritten on every mutation, so a week is generous.
const DocumentTTL = 7 * 24 * time.Hour

// RedisStore persists documents in Redis with an in-memory fallback
// cache. When Redis drops out, writes land in the cache and trading
// continues; availability is re-probed on the next successful call.
type RedisStore struct {
	client    *redis.Client
	prefix    string
	cache     map[string][]byte
	cacheMu   sync.RWMutex
	available atomic.Bool
	logger    zerolog.Logger
}

// NewRedisStore wraps a Redis client. A nil client gives a cache-only
// store, useful when Redis is not configured.
func NewRedisStore(client *redis.Client, prefix string, logger zerolog.Logger) *RedisStore {
	s := &RedisStore{
		client: client,
		prefix: prefix,
		cache:  make(map[string][]byte),
		logger: logger.With().Str("component", "redis_store").Logger(),
	}

	if client != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := client.Ping(ctx).Err(); err != nil {
			s.logger.Warn().Err(err).Msg("redis unavailable at startup, using in-memory cache")
		} else {
			s.available.Store(true)
			s.logger.Info().Msg("redis connected")
		}
	} else {
		s.logger.Info().Msg("no redis client configured, in-memory cache only")
	}
	return s
}

func (s *RedisStore) redisKey(key string) string {
	return fmt.Sprintf("%s:%s", s.prefix, key)
}

// Load reads a document, preferring Redis and falling back to the cache.
func (s *RedisStore) Load(ctx context.Context, key string) ([]byte, error) {
	if s.client != nil && s.available.Load() {
		data, err := s.client.Get(ctx, s.redisKey(key)).Bytes()
		if err == nil {
			return data, nil
		}
		if errors.Is(err, redis.Nil) {
			return s.loadCache(key)
		}
		s.available.Store(false)
		s.logger.Warn().Err(err).Str("key", key).Msg("redis read failed, falling back to cache")
	}
	return s.loadCache(key)
}

// Upsert writes to the cache always and to Redis when available. A
// Redis failure is not surfaced; the cache write already succeeded.
func (s *RedisStore) Upsert(ctx context.Context, key string, doc []byte) error {
	s.storeCache(key, doc)

	if s.client == nil {
		return nil
	}
	if !s.available.Load() {
		// Probe: a recovered Redis picks the state back up here.
		if err := s.client.Ping(ctx).Err(); err != nil {
			return nil
		}
		s.available.Store(true)
		s.logger.Info().Msg("redis recovered")
	}

	if err := s.client.Set(ctx, s.redisKey(key), doc, DocumentTTL).Err(); err != nil {
		s.available.Store(false)
		s.logger.Warn().Err(err).Str("key", key).Msg("redis write failed, document cached in memory")
	}
	return nil
}

func (s *RedisStore) loadCache(key string) ([]byte, error) {
	s.cacheMu.RLock()
	defer s.cacheMu.RUnlock()
	doc, ok := s.cache[key]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]byte, len(doc))
	copy(out, doc)
	return out, nil
}

func (s *RedisStore) storeCache(key string, doc []byte) {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	stored := make([]byte, len(doc))
	copy(stored, doc)
	s.cache[key] = stored
}

// Available reports whether Redis is currently reachable.
func (s *RedisStore) Available() bool {
	return s.available.Load()
}
