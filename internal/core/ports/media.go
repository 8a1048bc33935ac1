package ports

import (
	"context"
	"image"
	"time"

	"duetrec/internal/core/domain"
)

// VideoSource yields the most recent frame. ok is false while the source has
// nothing to show (not loaded, stream detached).
type VideoSource interface {
	Frame() (img image.Image, ok bool)
}

type AudioSource interface {
	SampleRate() int
	Packets() <-chan domain.AudioPacket
}

// MediaStream is a live camera (and optional microphone) handle.
// Done is closed when the underlying device goes away.
type MediaStream interface {
	ID() string
	Facing() domain.FacingMode
	Video() VideoSource
	Audio() AudioSource
	Done() <-chan struct{}
}

type DeviceGateway interface {
	EnumerateCapabilities(ctx context.Context) domain.Capabilities
	Acquire(ctx context.Context, facing domain.FacingMode, wantAudio bool) (MediaStream, error)
	Release(stream MediaStream)
	SwitchFacing(ctx context.Context, stream MediaStream) (MediaStream, error)
}

type PlaybackController interface {
	VideoSource
	Play() error
	Pause() error
	Seek(seconds float64) error
	SetMuted(muted bool)
	Muted() bool
	Playing() bool
	CurrentTime() float64
	Tick() float64
	Close() error
}

type PlaybackFactory interface {
	Open(ctx context.Context, original domain.OriginalVideo) (PlaybackController, error)
}

type SinkConfig struct {
	Width           int
	Height          int
	FPS             int
	AudioSampleRate int
	Plan            domain.AudioPlan
	Microphone      bool
	Original        domain.OriginalVideo
	StartOffset     float64
}

// EncoderSink consumes composed frames and audio and emits encoded chunks in
// production order. Chunks is closed once Close has flushed everything.
type EncoderSink interface {
	WriteVideo(frame image.Image, pts time.Duration) error
	WriteAudio(pkt domain.AudioPacket) error
	Pause()
	Resume()
	Chunks() <-chan domain.Chunk
	Close() error
	MimeType() string
}

type EncoderFactory interface {
	Open(ctx context.Context, cfg SinkConfig) (EncoderSink, error)
}
