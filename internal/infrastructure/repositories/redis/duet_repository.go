package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"duetrec/internal/core/domain"
	"duetrec/internal/core/ports"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "duetrec:"

type RedisDuetRepository struct {
	client redis.Cmdable
	prefix string
	ttl    time.Duration
}

// NewRedisDuetRepository stores published duets as JSON. A ttl of zero keeps
// them forever.
func NewRedisDuetRepository(client redis.Cmdable, ttl time.Duration) ports.DuetRepository {
	return &RedisDuetRepository{
		client: client,
		prefix: keyPrefix,
		ttl:    ttl,
	}
}

func (r *RedisDuetRepository) duetKey(id domain.PublishedID) string {
	return r.prefix + "published:" + string(id)
}

// originalKey indexes published duets by original, scored by publish time.
func (r *RedisDuetRepository) originalKey(originalID string) string {
	return r.prefix + "original:" + originalID + ":published"
}

func (r *RedisDuetRepository) Save(ctx context.Context, duet *domain.PublishedDuet) error {
	data, err := json.Marshal(duet)
	if err != nil {
		return fmt.Errorf("failed to marshal published duet: %w", err)
	}

	indexKey := r.originalKey(duet.OriginalVideoID)
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, r.duetKey(duet.ID), data, r.ttl)
		pipe.ZAdd(ctx, indexKey, redis.Z{
			Score:  float64(duet.PublishedAt.UnixMilli()),
			Member: string(duet.ID),
		})
		if r.ttl > 0 {
			pipe.Expire(ctx, indexKey, r.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to save published duet in Redis: %w", err)
	}
	return nil
}

func (r *RedisDuetRepository) GetByID(ctx context.Context, id domain.PublishedID) (*domain.PublishedDuet, error) {
	data, err := r.client.Get(ctx, r.duetKey(id)).Bytes()
	if err == redis.Nil {
		return nil, domain.ErrDuetNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get published duet from Redis: %w", err)
	}

	var duet domain.PublishedDuet
	if err := json.Unmarshal(data, &duet); err != nil {
		return nil, fmt.Errorf("failed to unmarshal published duet: %w", err)
	}
	return &duet, nil
}

// ListByOriginal returns duets of an original, oldest first. Index entries
// whose record expired are pruned.
func (r *RedisDuetRepository) ListByOriginal(ctx context.Context, originalID string) ([]*domain.PublishedDuet, error) {
	indexKey := r.originalKey(originalID)
	ids, err := r.client.ZRange(ctx, indexKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list published duets: %w", err)
	}
	if len(ids) == 0 {
		return []*domain.PublishedDuet{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = r.duetKey(domain.PublishedID(id))
	}
	values, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load published duets: %w", err)
	}

	out := make([]*domain.PublishedDuet, 0, len(values))
	var stale []interface{}
	for i, v := range values {
		s, ok := v.(string)
		if !ok {
			stale = append(stale, ids[i])
			continue
		}
		var duet domain.PublishedDuet
		if err := json.Unmarshal([]byte(s), &duet); err != nil {
			return nil, fmt.Errorf("failed to unmarshal published duet: %w", err)
		}
		out = append(out, &duet)
	}
	if len(stale) > 0 {
		_ = r.client.ZRem(ctx, indexKey, stale...).Err()
	}
	return out, nil
}
