package memory

import (
	"context"
	"sort"
	"sync"

	"duetrec/internal/core/domain"
	"duetrec/internal/core/ports"
)

type MemoryDuetRepository struct {
	duets      map[domain.PublishedID]*domain.PublishedDuet
	byOriginal map[string][]domain.PublishedID
	mu         sync.RWMutex
}

func NewMemoryDuetRepository() ports.DuetRepository {
	return &MemoryDuetRepository{
		duets:      make(map[domain.PublishedID]*domain.PublishedDuet),
		byOriginal: make(map[string][]domain.PublishedID),
	}
}

func (r *MemoryDuetRepository) Save(ctx context.Context, duet *domain.PublishedDuet) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored := *duet
	if _, exists := r.duets[duet.ID]; !exists {
		r.byOriginal[duet.OriginalVideoID] = append(r.byOriginal[duet.OriginalVideoID], duet.ID)
	}
	r.duets[duet.ID] = &stored
	return nil
}

func (r *MemoryDuetRepository) GetByID(ctx context.Context, id domain.PublishedID) (*domain.PublishedDuet, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	duet, exists := r.duets[id]
	if !exists {
		return nil, domain.ErrDuetNotFound
	}
	out := *duet
	return &out, nil
}

// ListByOriginal returns duets of an original, oldest first.
func (r *MemoryDuetRepository) ListByOriginal(ctx context.Context, originalID string) ([]*domain.PublishedDuet, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := r.byOriginal[originalID]
	out := make([]*domain.PublishedDuet, 0, len(ids))
	for _, id := range ids {
		d := *r.duets[id]
		out = append(out, &d)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].PublishedAt.Before(out[j].PublishedAt)
	})
	return out, nil
}
