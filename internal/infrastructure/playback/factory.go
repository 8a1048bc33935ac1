package playback

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"duetrec/internal/core/domain"
	"duetrec/internal/core/ports"
	"duetrec/pkg/config"

	"go.uber.org/zap"
)

// Factory opens a Player for an original video using the configured decoder.
type Factory struct {
	cfg    config.PlaybackConfig
	logger *zap.SugaredLogger
}

var _ ports.PlaybackFactory = (*Factory)(nil)

func NewFactory(cfg config.PlaybackConfig, logger *zap.SugaredLogger) *Factory {
	return &Factory{cfg: cfg, logger: logger}
}

func (f *Factory) Open(ctx context.Context, original domain.OriginalVideo) (ports.PlaybackController, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var decoder Decoder
	switch f.cfg.Decoder {
	case "ffmpeg":
		dec, err := StartFFmpegDecoder(
			f.cfg.FFmpeg.Binary,
			sourcePath(original.SourceURL),
			f.cfg.FFmpeg.FPS,
			f.cfg.FFmpeg.Width,
			f.cfg.FFmpeg.JPEGQuality,
			f.logger.With("original_id", original.ID),
		)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrDeviceUnavailable, err)
		}
		decoder = dec
	default:
		w := f.cfg.FFmpeg.Width
		if w <= 0 {
			w = 640
		}
		decoder = NewTestPatternDecoder(w, w*9/16, original.Duration)
	}

	return NewPlayer(decoder, original.Duration, nil, f.logger.With("original_id", original.ID)), nil
}

// sourcePath turns file URLs into local paths for ffmpeg.
func sourcePath(source string) string {
	if !strings.HasPrefix(source, "file:") {
		return source
	}
	u, err := url.Parse(source)
	if err != nil || u.Path == "" {
		return strings.TrimPrefix(source, "file://")
	}
	return u.Path
}
