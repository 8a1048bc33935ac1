package repositories

import (
	"context"
	"time"

	"duetrec/internal/core/domain"
	"duetrec/internal/core/ports"
	"duetrec/pkg/cache"
)

// CachedDuetRepository keeps recently read published duets in process.
// Published duets never change after Save, so entries only expire.
type CachedDuetRepository struct {
	repo  ports.DuetRepository
	cache *cache.Cache[*domain.PublishedDuet]
}

var _ ports.DuetRepository = (*CachedDuetRepository)(nil)

func NewCachedDuetRepository(repo ports.DuetRepository, ttl time.Duration, maxItems int) *CachedDuetRepository {
	return &CachedDuetRepository{
		repo:  repo,
		cache: cache.New[*domain.PublishedDuet](ttl, maxItems),
	}
}

func (r *CachedDuetRepository) Save(ctx context.Context, duet *domain.PublishedDuet) error {
	if err := r.repo.Save(ctx, duet); err != nil {
		return err
	}
	r.cache.Set(string(duet.ID), clone(duet))
	return nil
}

func (r *CachedDuetRepository) GetByID(ctx context.Context, id domain.PublishedID) (*domain.PublishedDuet, error) {
	duet, err := r.cache.GetOrLoad(ctx, string(id), func(ctx context.Context) (*domain.PublishedDuet, error) {
		return r.repo.GetByID(ctx, id)
	})
	if err != nil {
		return nil, err
	}
	return clone(duet), nil
}

func (r *CachedDuetRepository) ListByOriginal(ctx context.Context, originalID string) ([]*domain.PublishedDuet, error) {
	return r.repo.ListByOriginal(ctx, originalID)
}

// Close stops the cache sweeper.
func (r *CachedDuetRepository) Close() {
	r.cache.Stop()
}

func clone(d *domain.PublishedDuet) *domain.PublishedDuet {
	c := *d
	c.Metadata.Hashtags = append([]string(nil), d.Metadata.Hashtags...)
	return &c
}
