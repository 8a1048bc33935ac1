package storage

import (
	"context"
	"fmt"

	"duetrec/internal/core/ports"
	"duetrec/pkg/config"

	"go.uber.org/zap"
)

const (
	KindFile   = "file"
	KindS3     = "s3"
	KindMemory = "memory"
)

// New creates the artifact store selected by cfg.Kind.
func New(ctx context.Context, cfg config.StorageConfig, logger *zap.SugaredLogger) (ports.ArtifactStore, error) {
	switch cfg.Kind {
	case KindFile, "":
		return NewFileStore(cfg.File.Directory, cfg.File.BaseURL, logger)
	case KindS3:
		return NewS3Store(ctx, cfg, logger)
	case KindMemory:
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unsupported storage kind: %s", cfg.Kind)
	}
}
