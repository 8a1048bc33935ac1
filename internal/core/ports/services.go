package ports

import (
	"context"
	"time"

	"duetrec/internal/core/domain"
)

type PlaybackAction string

const (
	PlaybackPlay   PlaybackAction = "play"
	PlaybackPause  PlaybackAction = "pause"
	PlaybackSeek   PlaybackAction = "seek"
	PlaybackMute   PlaybackAction = "mute"
	PlaybackUnmute PlaybackAction = "unmute"
)

type PublishRequest struct {
	Metadata domain.PublishMetadata
}

type DuetService interface {
	Capabilities(ctx context.Context) domain.Capabilities
	CreateDuet(ctx context.Context, original domain.OriginalVideo, settings domain.DuetSettings) (domain.SessionSnapshot, error)
	GetDuet(ctx context.Context, id domain.DuetID) (domain.SessionSnapshot, error)
	CloseDuet(ctx context.Context, id domain.DuetID) error
	UpdateSettings(ctx context.Context, id domain.DuetID, settings domain.DuetSettings) (domain.SessionSnapshot, error)
	EnableCamera(ctx context.Context, id domain.DuetID, facing domain.FacingMode, wantAudio bool) (domain.SessionSnapshot, error)
	SwitchCamera(ctx context.Context, id domain.DuetID) (domain.SessionSnapshot, error)
	DisableCamera(ctx context.Context, id domain.DuetID) (domain.SessionSnapshot, error)
	ControlPlayback(ctx context.Context, id domain.DuetID, action PlaybackAction, at float64) (domain.SessionSnapshot, error)
	Start(ctx context.Context, id domain.DuetID) (domain.SessionSnapshot, error)
	Pause(ctx context.Context, id domain.DuetID) (domain.SessionSnapshot, error)
	Resume(ctx context.Context, id domain.DuetID) (domain.SessionSnapshot, error)
	Stop(ctx context.Context, id domain.DuetID) (domain.SessionSnapshot, error)
	Retake(ctx context.Context, id domain.DuetID) (domain.SessionSnapshot, error)
	Artifact(ctx context.Context, id domain.DuetID) (*domain.Artifact, error)
	Publish(ctx context.Context, id domain.DuetID, req PublishRequest) (*domain.PublishedDuet, error)
	GetPublished(ctx context.Context, id domain.PublishedID) (*domain.PublishedDuet, error)
}

// Metrics is the instrumentation surface used by the core services.
type Metrics interface {
	RecorderOpened()
	RecorderClosed()
	PhaseChanged(from, to domain.Phase)
	FrameComposed(d time.Duration)
	FrameSkipped(reason string)
	ChunkAppended(bytes int)
	RecordedSecond()
	PublishCompleted(d time.Duration, bytes int)
	PublishFailed(reason string)
}
