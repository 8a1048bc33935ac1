package ports

import (
	"context"
	"io"

	"duetrec/internal/core/domain"
)

type DuetRepository interface {
	Save(ctx context.Context, duet *domain.PublishedDuet) error
	GetByID(ctx context.Context, id domain.PublishedID) (*domain.PublishedDuet, error)
	ListByOriginal(ctx context.Context, originalID string) ([]*domain.PublishedDuet, error)
}

// ArtifactStore is the upload backend. Put returns a durable URL for the object.
type ArtifactStore interface {
	Put(ctx context.Context, key, contentType string, body io.Reader, size int64) (string, error)
	Delete(ctx context.Context, key string) error
}

type Notifier interface {
	Notify(ctx context.Context, notice domain.Notice)
}
