package repositories

import (
	"context"
	"time"

	"duetrec/internal/core/ports"
	"duetrec/internal/infrastructure/repositories/memory"
	redisrepo "duetrec/internal/infrastructure/repositories/redis"
	"duetrec/pkg/config"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RepositoryFactory creates repositories with fallback support
type RepositoryFactory struct {
	useRedis    bool
	redisClient *redis.Client
	ttl         time.Duration
	cacheTTL    time.Duration
	cacheSize   int
	cached      []*CachedDuetRepository
	logger      *zap.SugaredLogger
}

// NewRepositoryFactory connects to Redis when enabled and falls back to
// memory repositories when it is unreachable.
func NewRepositoryFactory(cfg *config.Config, logger *zap.SugaredLogger) (*RepositoryFactory, error) {
	factory := &RepositoryFactory{
		useRedis: cfg.Redis.Enabled,
		ttl:       cfg.Redis.TTL,
		cacheTTL:  cfg.Redis.CacheTTL,
		cacheSize: cfg.Redis.CacheSize,
		logger:    logger,
	}

	if cfg.Redis.Enabled {
		client, err := redisrepo.NewRedisClient(cfg.Redis, logger)
		if err != nil {
			logger.Warnw("failed to connect to Redis, falling back to memory repositories",
				"error", err,
			)
			factory.useRedis = false
		} else {
			factory.redisClient = client
			logger.Info("using Redis repositories")
		}
	}

	if !factory.useRedis {
		logger.Info("using memory repositories")
	}

	return factory, nil
}

// CreateDuetRepository creates the published duet repository. Redis reads
// go through an in-process cache when cache_ttl is set.
func (f *RepositoryFactory) CreateDuetRepository() ports.DuetRepository {
	if f.useRedis && f.redisClient != nil {
		repo := redisrepo.NewRedisDuetRepository(f.redisClient, f.ttl)
		if f.cacheTTL <= 0 {
			return repo
		}
		cached := NewCachedDuetRepository(repo, f.cacheTTL, f.cacheSize)
		f.cached = append(f.cached, cached)
		return cached
	}
	return memory.NewMemoryDuetRepository()
}

// RedisClient returns the shared client, nil when running on memory.
func (f *RepositoryFactory) RedisClient() *redis.Client {
	if !f.useRedis {
		return nil
	}
	return f.redisClient
}

// Close closes Redis connection if used
func (f *RepositoryFactory) Close() error {
	for _, c := range f.cached {
		c.Close()
	}
	if f.redisClient != nil {
		return redisrepo.CloseRedisClient(f.redisClient)
	}
	return nil
}

// HealthCheck checks Redis connection health
func (f *RepositoryFactory) HealthCheck(ctx context.Context) error {
	if f.useRedis && f.redisClient != nil {
		return f.redisClient.Ping(ctx).Err()
	}
	return nil
}
