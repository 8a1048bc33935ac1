package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"duetrec/internal/core/domain"
	"duetrec/internal/core/ports"
	"duetrec/pkg/tracing"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type DuetServiceDeps struct {
	Devices   ports.DeviceGateway
	Players   ports.PlaybackFactory
	Encoders  ports.EncoderFactory
	Publisher *PublishService
	Notifier  ports.Notifier
	Metrics   ports.Metrics
	Logger    *zap.SugaredLogger
}

// DuetService keeps one recorder per open duet screen.
type DuetService struct {
	cfg      RecorderConfig
	maxDuets int

	devices   ports.DeviceGateway
	players   ports.PlaybackFactory
	encoders  ports.EncoderFactory
	publisher *PublishService
	notifier  ports.Notifier
	metrics   ports.Metrics
	logger    *zap.SugaredLogger

	mu        sync.RWMutex
	recorders map[domain.DuetID]*Recorder
	reserved  int // slots held by creates still opening their recorder
}

var _ ports.DuetService = (*DuetService)(nil)

func NewDuetService(cfg RecorderConfig, maxDuets int, deps DuetServiceDeps) *DuetService {
	s := &DuetService{
		cfg:       cfg,
		maxDuets:  maxDuets,
		devices:   deps.Devices,
		players:   deps.Players,
		encoders:  deps.Encoders,
		publisher: deps.Publisher,
		notifier:  deps.Notifier,
		metrics:   deps.Metrics,
		logger:    deps.Logger,
		recorders: make(map[domain.DuetID]*Recorder),
	}
	if s.notifier == nil {
		s.notifier = nopNotifier{}
	}
	if s.metrics == nil {
		s.metrics = NoopMetrics{}
	}
	if s.logger == nil {
		s.logger = zap.NewNop().Sugar()
	}
	return s
}

func (s *DuetService) Capabilities(ctx context.Context) domain.Capabilities {
	return s.devices.EnumerateCapabilities(ctx)
}

func (s *DuetService) CreateDuet(ctx context.Context, original domain.OriginalVideo, settings domain.DuetSettings) (domain.SessionSnapshot, error) {
	if err := ValidateOriginal(original); err != nil {
		return domain.SessionSnapshot{}, err
	}
	if err := ValidateSettings(settings, original); err != nil {
		return domain.SessionSnapshot{}, err
	}

	if !s.reserve() {
		return domain.SessionSnapshot{}, fmt.Errorf("%w: limit is %d", domain.ErrCapacityExceeded, s.maxDuets)
	}
	registered := false
	defer func() {
		if !registered {
			s.mu.Lock()
			s.reserved--
			s.mu.Unlock()
		}
	}()

	id := domain.DuetID(uuid.New().String())
	ctx, span := tracing.TraceRecorderCommand(ctx, "create", string(id))
	defer span.End()

	player, err := s.players.Open(ctx, original)
	if err != nil {
		tracing.RecordError(ctx, err)
		return domain.SessionSnapshot{}, fmt.Errorf("open original %s: %w", original.ID, err)
	}

	rec, err := NewRecorder(id, original, settings, s.cfg, RecorderDeps{
		Devices:  s.devices,
		Player:   player,
		Encoders: s.encoders,
		Notifier: s.notifier,
		Metrics:  s.metrics,
		Logger:   s.logger.With("duet_id", id),
	})
	if err != nil {
		_ = player.Close()
		return domain.SessionSnapshot{}, err
	}

	s.mu.Lock()
	s.reserved--
	s.recorders[id] = rec
	s.mu.Unlock()
	registered = true

	s.logger.Infow("Duet created", "duet_id", id, "original_id", original.ID, "layout", settings.Layout)
	return rec.Snapshot(ctx)
}

// reserve claims a slot for a new duet under the capacity limit.
func (s *DuetService) reserve() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.maxDuets > 0 && len(s.recorders)+s.reserved >= s.maxDuets {
		return false
	}
	s.reserved++
	return true
}

func (s *DuetService) recorder(id domain.DuetID) (*Recorder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.recorders[id]
	if !ok {
		return nil, domain.ErrDuetNotFound
	}
	return rec, nil
}

// run traces a recorder command and records its error on the span.
func (s *DuetService) run(ctx context.Context, id domain.DuetID, command string, fn func(ctx context.Context, rec *Recorder) (domain.SessionSnapshot, error)) (domain.SessionSnapshot, error) {
	rec, err := s.recorder(id)
	if err != nil {
		return domain.SessionSnapshot{}, err
	}
	ctx, span := tracing.TraceRecorderCommand(ctx, command, string(id))
	defer span.End()

	snap, err := fn(ctx, rec)
	if err != nil {
		tracing.RecordError(ctx, err)
		return snap, err
	}
	tracing.AddSpanAttributes(ctx, tracing.PhaseKey.String(string(snap.Phase)), tracing.TakeIDKey.String(snap.TakeID))
	return snap, nil
}

func (s *DuetService) GetDuet(ctx context.Context, id domain.DuetID) (domain.SessionSnapshot, error) {
	rec, err := s.recorder(id)
	if err != nil {
		return domain.SessionSnapshot{}, err
	}
	return rec.Snapshot(ctx)
}

func (s *DuetService) CloseDuet(ctx context.Context, id domain.DuetID) error {
	s.mu.Lock()
	rec, ok := s.recorders[id]
	delete(s.recorders, id)
	s.mu.Unlock()
	if !ok {
		return domain.ErrDuetNotFound
	}

	s.logger.Infow("Closing duet", "duet_id", id)
	return rec.Close()
}

func (s *DuetService) UpdateSettings(ctx context.Context, id domain.DuetID, settings domain.DuetSettings) (domain.SessionSnapshot, error) {
	return s.run(ctx, id, "update_settings", func(ctx context.Context, rec *Recorder) (domain.SessionSnapshot, error) {
		return rec.UpdateSettings(ctx, settings)
	})
}

func (s *DuetService) EnableCamera(ctx context.Context, id domain.DuetID, facing domain.FacingMode, wantAudio bool) (domain.SessionSnapshot, error) {
	return s.run(ctx, id, "enable_camera", func(ctx context.Context, rec *Recorder) (domain.SessionSnapshot, error) {
		return rec.EnableCamera(ctx, facing, wantAudio)
	})
}

func (s *DuetService) SwitchCamera(ctx context.Context, id domain.DuetID) (domain.SessionSnapshot, error) {
	return s.run(ctx, id, "switch_camera", func(ctx context.Context, rec *Recorder) (domain.SessionSnapshot, error) {
		return rec.SwitchCamera(ctx)
	})
}

func (s *DuetService) DisableCamera(ctx context.Context, id domain.DuetID) (domain.SessionSnapshot, error) {
	return s.run(ctx, id, "disable_camera", func(ctx context.Context, rec *Recorder) (domain.SessionSnapshot, error) {
		return rec.DisableCamera(ctx)
	})
}

func (s *DuetService) ControlPlayback(ctx context.Context, id domain.DuetID, action ports.PlaybackAction, at float64) (domain.SessionSnapshot, error) {
	return s.run(ctx, id, "playback_"+string(action), func(ctx context.Context, rec *Recorder) (domain.SessionSnapshot, error) {
		return rec.ControlPlayback(ctx, action, at)
	})
}

func (s *DuetService) Start(ctx context.Context, id domain.DuetID) (domain.SessionSnapshot, error) {
	return s.run(ctx, id, "start", func(ctx context.Context, rec *Recorder) (domain.SessionSnapshot, error) {
		return rec.Start(ctx)
	})
}

func (s *DuetService) Pause(ctx context.Context, id domain.DuetID) (domain.SessionSnapshot, error) {
	return s.run(ctx, id, "pause", func(ctx context.Context, rec *Recorder) (domain.SessionSnapshot, error) {
		return rec.Pause(ctx)
	})
}

func (s *DuetService) Resume(ctx context.Context, id domain.DuetID) (domain.SessionSnapshot, error) {
	return s.run(ctx, id, "resume", func(ctx context.Context, rec *Recorder) (domain.SessionSnapshot, error) {
		return rec.Resume(ctx)
	})
}

// Stop ends the take and finalizes the artifact.
func (s *DuetService) Stop(ctx context.Context, id domain.DuetID) (domain.SessionSnapshot, error) {
	return s.run(ctx, id, "stop", func(ctx context.Context, rec *Recorder) (domain.SessionSnapshot, error) {
		if snap, err := rec.Stop(ctx); err != nil {
			return snap, err
		}
		if _, err := rec.Finalize(ctx); err != nil {
			return domain.SessionSnapshot{}, err
		}
		return rec.Snapshot(ctx)
	})
}

func (s *DuetService) Retake(ctx context.Context, id domain.DuetID) (domain.SessionSnapshot, error) {
	return s.run(ctx, id, "retake", func(ctx context.Context, rec *Recorder) (domain.SessionSnapshot, error) {
		return rec.Retake(ctx)
	})
}

// Artifact returns the artifact of a stopped take, finalizing it if needed.
func (s *DuetService) Artifact(ctx context.Context, id domain.DuetID) (*domain.Artifact, error) {
	rec, err := s.recorder(id)
	if err != nil {
		return nil, err
	}
	artifact, err := rec.Finalize(ctx)
	if errors.Is(err, domain.ErrInvalidTransition) {
		return nil, domain.ErrArtifactNotReady
	}
	return artifact, err
}

func (s *DuetService) Publish(ctx context.Context, id domain.DuetID, req ports.PublishRequest) (*domain.PublishedDuet, error) {
	rec, err := s.recorder(id)
	if err != nil {
		return nil, err
	}
	artifact, err := s.Artifact(ctx, id)
	if err != nil {
		return nil, err
	}
	snap, err := rec.Snapshot(ctx)
	if err != nil {
		return nil, err
	}

	notice := func(level domain.NoticeLevel, title, message string, progress *int) {
		s.notifier.Notify(ctx, domain.Notice{
			DuetID:   id,
			Level:    level,
			Title:    title,
			Message:  message,
			Progress: progress,
			At:       time.Now(),
		})
	}

	published, err := s.publisher.Publish(ctx, artifact, snap.Original, req.Metadata, snap.Settings, func(percent int) {
		p := percent
		notice(domain.NoticeInfo, "Publishing", "Uploading your duet.", &p)
	})
	if err != nil {
		if errors.Is(err, domain.ErrPublishFailure) {
			notice(domain.NoticeError, "Publish Failed", "Your duet was kept. Try publishing again.", nil)
		}
		return nil, err
	}

	notice(domain.NoticeSuccess, "Published", "Your duet is live.", nil)
	return published, nil
}

func (s *DuetService) GetPublished(ctx context.Context, id domain.PublishedID) (*domain.PublishedDuet, error) {
	return s.publisher.GetPublished(ctx, id)
}

// ActiveDuets reports how many duets are open.
func (s *DuetService) ActiveDuets() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.recorders)
}

// Shutdown closes every recorder.
func (s *DuetService) Shutdown() {
	s.mu.Lock()
	recs := s.recorders
	s.recorders = make(map[domain.DuetID]*Recorder)
	s.mu.Unlock()

	for id, rec := range recs {
		if err := rec.Close(); err != nil {
			s.logger.Warnw("Failed to close recorder", "duet_id", id, "error", err)
		}
	}
}
