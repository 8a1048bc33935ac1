package encoder

import (
	"context"
	"fmt"

	"duetrec/internal/core/ports"
	"duetrec/pkg/config"
	"duetrec/pkg/optimize"

	"go.uber.org/zap"
)

const (
	KindFramed = "framed"
	KindFFmpeg = "ffmpeg"
)

// Factory opens encoder sinks of the configured kind.
type Factory struct {
	cfg     config.EncoderConfig
	buffers *optimize.BufferPool
	reads   *optimize.BytePool
	logger  *zap.SugaredLogger
}

var _ ports.EncoderFactory = (*Factory)(nil)

func NewFactory(cfg config.EncoderConfig, logger *zap.SugaredLogger) (*Factory, error) {
	switch cfg.Kind {
	case KindFramed, KindFFmpeg:
	default:
		return nil, fmt.Errorf("unknown encoder kind %q", cfg.Kind)
	}

	readSize := cfg.FFmpeg.ReadSize
	if readSize <= 0 {
		readSize = 64 * 1024
	}
	return &Factory{
		cfg:     cfg,
		buffers: optimize.NewBufferPool(4 << 20),
		reads:   optimize.NewBytePool(readSize),
		logger:  logger,
	}, nil
}

func (f *Factory) Open(ctx context.Context, cfg ports.SinkConfig) (ports.EncoderSink, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if cfg.Width <= 0 || cfg.Height <= 0 || cfg.FPS <= 0 {
		return nil, fmt.Errorf("invalid sink geometry %dx%d@%d", cfg.Width, cfg.Height, cfg.FPS)
	}

	switch f.cfg.Kind {
	case KindFFmpeg:
		return startFFmpegSink(f.cfg.FFmpeg, cfg, f.reads, f.logger)
	default:
		return newFramedSink(cfg, f.cfg.JPEGQuality, f.cfg.ChunkDuration, f.buffers, f.logger)
	}
}
