package impl

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/mindspring-backend/metrics"
	"github.com/mindspring-backend/services"
)

// redisCacheProvider backs the cache with Redis. A broken Redis never breaks
// the caller: reads degrade to misses and writes to no-ops, with a warning.
type redisCacheProvider struct {
	client *redis.Client
}

func NewRedisCacheProvider(client *redis.Client) services.CacheProvider {
	return &redisCacheProvider{client: client}
}

func (p *redisCacheProvider) Get(ctx context.Context, key string) ([]byte, bool) {
	data, err := p.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		metrics.CacheOps.WithLabelValues("redis", "miss").Inc()
		return nil, false
	}
	if err != nil {
		metrics.CacheOps.WithLabelValues("redis", "error").Inc()
		log.Warn().Err(err).Str("key", key).Msg("cache get failed")
		return nil, false
	}
	metrics.CacheOps.WithLabelValues("redis", "hit").Inc()
	return data, true
}

func (p *redisCacheProvider) Set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	var err error
	if ttl > 0 {
		err = p.client.SetEx(ctx, key, value, ttl).Err()
	} else {
		err = p.client.Set(ctx, key, value, 0).Err()
	}
	if err != nil {
		log.Warn().Err(err).Str("key", key).Msg("cache set failed")
	}
}

func (p *redisCacheProvider) Delete(ctx context.Context, key string) bool {
	n, err := p.client.Del(ctx, key).Result()
	if err != nil {
		log.Warn().Err(err).Str("key", key).Msg("cache delete failed")
		return false
	}
	return n > 0
}

func (p *redisCacheProvider) Exists(ctx context.Context, key string) bool {
	n, err := p.client.Exists(ctx, key).Result()
	if err != nil {
		log.Warn().Err(err).Str("key", key).Msg("cache exists failed")
		return false
	}
	return n > 0
}

func (p *redisCacheProvider) Clear(ctx context.Context) error {
	return p.client.FlushDB(ctx).Err()
}

func (p *redisCacheProvider) HealthCheck(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}

type memCacheEntry struct {
	data      []byte
	expiresAt time.Time
}

// memoryCacheProvider is the in-process fallback used when Redis is not
// configured. Expired entries are dropped lazily on read.
type memoryCacheProvider struct {
	mu      sync.RWMutex
	entries map[string]memCacheEntry
}

func NewMemoryCacheProvider() services.CacheProvider {
	return &memoryCacheProvider{entries: make(map[string]memCacheEntry)}
}

func (p *memoryCacheProvider) Get(_ context.Context, key string) ([]byte, bool) {
	p.mu.RLock()
	entry, ok := p.entries[key]
	p.mu.RUnlock()

	if !ok {
		metrics.CacheOps.WithLabelValues("memory", "miss").Inc()
		return nil, false
	}
	if !entry.expiresAt.IsZero() && time.Now().After(entry.expiresAt) {
		p.mu.Lock()
		delete(p.entries, key)
		p.mu.Unlock()
		metrics.CacheOps.WithLabelValues("memory", "miss").Inc()
		return nil, false
	}
	metrics.CacheOps.WithLabelValues("memory", "hit").Inc()
	return entry.data, true
}

func (p *memoryCacheProvider) Set(_ context.Context, key string, value []byte, ttl time.Duration) {
	entry := memCacheEntry{data: value}
	if ttl != 0 {
		entry.expiresAt = time.Now().Add(ttl)
	}
	p.mu.Lock()
	p.entries[key] = entry
	p.mu.Unlock()
}

func (p *memoryCacheProvider) Delete(_ context.Context, key string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.entries[key]; !ok {
		return false
	}
	delete(p.entries, key)
	return true
}

func (p *memoryCacheProvider) Exists(ctx context.Context, key string) bool {
	_, ok := p.Get(ctx, key)
	return ok
}

func (p *memoryCacheProvider) Clear(_ context.Context) error {
	p.mu.Lock()
	p.entries = make(map[string]memCacheEntry)
	p.mu.Unlock()
	return nil
}

func (p *memoryCacheProvider) HealthCheck(_ context.Context) error {
	return nil
}
