package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"sync"
	"time"

	"duetrec/internal/core/domain"
	"duetrec/internal/core/ports"
	"duetrec/pkg/circuitbreaker"
	"duetrec/pkg/retry"
	"duetrec/pkg/tracing"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// ProgressFunc receives upload progress in percent. Values never decrease
// and 100 is reported only once the duet is stored.
type ProgressFunc func(percent int)

type PublishConfig struct {
	Retry         retry.Config
	Breaker       circuitbreaker.Config
	UploadTimeout time.Duration
	KeyPrefix     string
}

func DefaultPublishConfig() PublishConfig {
	breaker := circuitbreaker.DefaultConfig()
	breaker.Name = "artifact-store"
	return PublishConfig{
		Retry:         retry.DefaultConfig(),
		Breaker:       breaker,
		UploadTimeout: 2 * time.Minute,
		KeyPrefix:     "duets",
	}
}

// PublishService uploads finalized artifacts and records published duets.
type PublishService struct {
	store   ports.ArtifactStore
	repo    ports.DuetRepository
	breaker *circuitbreaker.CircuitBreaker
	cfg     PublishConfig
	metrics ports.Metrics
	logger  *zap.SugaredLogger
	now     func() time.Time
}

func NewPublishService(store ports.ArtifactStore, repo ports.DuetRepository, cfg PublishConfig, metrics ports.Metrics, logger *zap.SugaredLogger) *PublishService {
	if metrics == nil {
		metrics = NoopMetrics{}
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	cfg.Retry.NonRetryableErrors = append(cfg.Retry.NonRetryableErrors, circuitbreaker.ErrOpen, context.Canceled)

	breaker := circuitbreaker.New(cfg.Breaker)
	breaker.OnStateChange(func(from, to circuitbreaker.State) {
		logger.Warnw("Artifact store circuit breaker changed state", "from", from.String(), "to", to.String())
	})

	return &PublishService{
		store:   store,
		repo:    repo,
		breaker: breaker,
		cfg:     cfg,
		metrics: metrics,
		logger:  logger,
		now:     time.Now,
	}
}

// Publish uploads the artifact and stores the published duet. On failure the
// artifact is left untouched so the caller can try again.
func (s *PublishService) Publish(
	ctx context.Context,
	artifact *domain.Artifact,
	original domain.OriginalVideo,
	meta domain.PublishMetadata,
	settings domain.DuetSettings,
	progress ProgressFunc,
) (*domain.PublishedDuet, error) {
	if meta.Title == "" {
		meta.Title = domain.DefaultTitle(original)
	}
	if meta.Hashtags == nil {
		meta.Hashtags = []string{}
	}
	if err := ValidateMetadata(meta); err != nil {
		return nil, err
	}
	if artifact == nil || len(artifact.Data) == 0 {
		return nil, domain.ErrArtifactNotReady
	}

	ctx, span := tracing.StartSpan(ctx, "publish.duet")
	defer span.End()
	tracing.AddSpanAttributes(ctx,
		tracing.ArtifactIDKey.String(artifact.ID),
		tracing.OriginalIDKey.String(original.ID),
		attribute.Int("artifact.size", len(artifact.Data)),
	)

	tracker := newProgressTracker(progress)
	tracker.report(0)

	began := s.now()
	key := s.objectKey(original, artifact)

	url, err := retry.RetryWithResult(ctx, s.retryConfig(artifact), func() (string, error) {
		return circuitbreaker.ExecuteWithResult(ctx, s.breaker, func() (string, error) {
			uctx := ctx
			if s.cfg.UploadTimeout > 0 {
				var cancel context.CancelFunc
				uctx, cancel = context.WithTimeout(ctx, s.cfg.UploadTimeout)
				defer cancel()
			}
			body := &progressReader{
				r:       bytes.NewReader(artifact.Data),
				total:   int64(len(artifact.Data)),
				tracker: tracker,
			}
			return s.store.Put(uctx, key, artifact.MimeType, body, int64(len(artifact.Data)))
		})
	})
	if err != nil {
		s.metrics.PublishFailed(failureReason(err))
		tracing.RecordError(ctx, err)
		s.logger.Errorw("Artifact upload failed", "artifact_id", artifact.ID, "key", key, "error", err)
		return nil, fmt.Errorf("%w: upload: %w", domain.ErrPublishFailure, err)
	}

	published := &domain.PublishedDuet{
		ID:              domain.PublishedID(uuid.New().String()),
		OriginalVideoID: original.ID,
		ArtifactID:      artifact.ID,
		ArtifactURL:     url,
		Settings:        settings,
		Metadata:        meta,
		DurationSeconds: artifact.DurationSeconds,
		PublishedAt:     s.now(),
	}

	if err := s.repo.Save(ctx, published); err != nil {
		s.metrics.PublishFailed("repository")
		tracing.RecordError(ctx, err)
		s.logger.Errorw("Failed to save published duet", "artifact_id", artifact.ID, "error", err)
		if derr := s.store.Delete(context.WithoutCancel(ctx), key); derr != nil {
			s.logger.Warnw("Failed to remove orphaned artifact", "key", key, "error", derr)
		}
		return nil, fmt.Errorf("%w: save: %w", domain.ErrPublishFailure, err)
	}

	tracker.report(100)
	s.metrics.PublishCompleted(s.now().Sub(began), len(artifact.Data))
	s.logger.Infow("Duet published",
		"published_id", published.ID,
		"original_id", original.ID,
		"artifact_id", artifact.ID,
		"url", url,
		"size", len(artifact.Data),
	)

	return published, nil
}

func (s *PublishService) GetPublished(ctx context.Context, id domain.PublishedID) (*domain.PublishedDuet, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *PublishService) ListByOriginal(ctx context.Context, originalID string) ([]*domain.PublishedDuet, error) {
	return s.repo.ListByOriginal(ctx, originalID)
}

func (s *PublishService) BreakerState() circuitbreaker.State {
	return s.breaker.GetState()
}

func (s *PublishService) retryConfig(artifact *domain.Artifact) retry.Config {
	cfg := s.cfg.Retry
	cfg.OnRetry = func(attempt int, err error, delay time.Duration) {
		s.logger.Warnw("Retrying artifact upload",
			"artifact_id", artifact.ID, "attempt", attempt, "delay", delay, "error", err)
	}
	return cfg
}

func (s *PublishService) objectKey(original domain.OriginalVideo, artifact *domain.Artifact) string {
	return path.Join(s.cfg.KeyPrefix, original.ID, artifact.ID+extensionFor(artifact.MimeType))
}

func extensionFor(mimeType string) string {
	switch mimeType {
	case "video/webm":
		return ".webm"
	case "video/mp4":
		return ".mp4"
	case "application/x-duet-framed":
		return ".duet"
	default:
		return ".bin"
	}
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, circuitbreaker.ErrOpen):
		return "circuit_open"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "cancelled"
	default:
		return "upload"
	}
}

// progressTracker forwards only increasing percentages.
type progressTracker struct {
	mu   sync.Mutex
	last int
	fn   ProgressFunc
}

func newProgressTracker(fn ProgressFunc) *progressTracker {
	return &progressTracker{last: -1, fn: fn}
}

func (t *progressTracker) report(percent int) {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	t.mu.Lock()
	if percent <= t.last {
		t.mu.Unlock()
		return
	}
	t.last = percent
	fn := t.fn
	t.mu.Unlock()

	if fn != nil {
		fn(percent)
	}
}

// progressReader reports upload progress while the store consumes the body.
// It tops out at 99 so that 100 always means confirmed.
type progressReader struct {
	r       io.Reader
	total   int64
	read    int64
	tracker *progressTracker
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 && p.total > 0 {
		p.read += int64(n)
		percent := int(p.read * 99 / p.total)
		p.tracker.report(percent)
	}
	return n, err
}
