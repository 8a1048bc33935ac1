package devices

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"math"
	"sync"
	"time"

	"duetrec/internal/core/domain"
	"duetrec/internal/core/ports"
	"duetrec/pkg/config"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const tonePacket = 20 * time.Millisecond

// SyntheticGateway produces a moving test pattern and a sine tone in place of
// real hardware. Availability can be toggled to exercise failure paths.
type SyntheticGateway struct {
	cfg    config.DevicesConfig
	now    func() time.Time
	logger *zap.SugaredLogger

	mu          sync.Mutex
	unavailable bool
	streams     map[string]*syntheticStream
}

type syntheticStream struct {
	*Stream
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

var _ ports.DeviceGateway = (*SyntheticGateway)(nil)

func NewSyntheticGateway(cfg config.DevicesConfig, logger *zap.SugaredLogger) *SyntheticGateway {
	return &SyntheticGateway{
		cfg:     cfg,
		now:     time.Now,
		logger:  logger,
		streams: make(map[string]*syntheticStream),
	}
}

// SetAvailable simulates plugging the camera in or denying access.
func (g *SyntheticGateway) SetAvailable(available bool) {
	g.mu.Lock()
	g.unavailable = !available
	g.mu.Unlock()
}

// Disconnect simulates losing the device behind a stream.
func (g *SyntheticGateway) Disconnect(streamID string) bool {
	g.mu.Lock()
	s, ok := g.streams[streamID]
	if ok {
		delete(g.streams, streamID)
	}
	g.mu.Unlock()
	if !ok {
		return false
	}
	g.stop(s)
	g.logger.Infow("Synthetic camera disconnected", "stream_id", streamID)
	return true
}

// Active reports how many streams are currently leased.
func (g *SyntheticGateway) Active() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.streams)
}

func (g *SyntheticGateway) EnumerateCapabilities(ctx context.Context) domain.Capabilities {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.unavailable {
		return domain.Capabilities{Warning: "Camera access is unavailable."}
	}
	return domain.Capabilities{HasCamera: true, HasMicrophone: g.cfg.Synthetic.Microphone}
}

func (g *SyntheticGateway) Acquire(ctx context.Context, facing domain.FacingMode, wantAudio bool) (ports.MediaStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrDeviceUnavailable, err)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.unavailable {
		return nil, fmt.Errorf("%w: camera access denied", domain.ErrDeviceUnavailable)
	}

	video := &patternSource{
		width:  g.cfg.Synthetic.Width,
		height: g.cfg.Synthetic.Height,
		fps:    g.cfg.Synthetic.FPS,
		facing: facing,
		start:  g.now(),
		now:    g.now,
	}

	var feed *AudioFeed
	if wantAudio && g.cfg.Synthetic.Microphone {
		feed = NewAudioFeed(g.cfg.Synthetic.SampleRate, 0)
	}

	toneCtx, cancel := context.WithCancel(context.Background())
	s := &syntheticStream{
		Stream: NewStream(uuid.NewString(), facing, video, feed),
		cancel: cancel,
	}
	if feed != nil {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			g.tone(toneCtx, feed)
		}()
	}
	g.streams[s.ID()] = s

	g.logger.Infow("Synthetic camera acquired",
		"stream_id", s.ID(),
		"facing", facing,
		"audio", feed != nil,
	)
	return s.Stream, nil
}

func (g *SyntheticGateway) Release(stream ports.MediaStream) {
	if stream == nil {
		return
	}
	g.mu.Lock()
	s, ok := g.streams[stream.ID()]
	if ok {
		delete(g.streams, stream.ID())
	}
	g.mu.Unlock()
	if ok {
		g.stop(s)
		g.logger.Debugw("Synthetic camera released", "stream_id", stream.ID())
	}
}

func (g *SyntheticGateway) SwitchFacing(ctx context.Context, stream ports.MediaStream) (ports.MediaStream, error) {
	wantAudio := stream.Audio() != nil
	facing := stream.Facing().Opposite()
	g.Release(stream)
	return g.Acquire(ctx, facing, wantAudio)
}

func (g *SyntheticGateway) stop(s *syntheticStream) {
	s.cancel()
	s.wg.Wait()
	s.End()
}

func (g *SyntheticGateway) tone(ctx context.Context, feed *AudioFeed) {
	rate := feed.SampleRate()
	n := rate * int(tonePacket) / int(time.Second)
	step := 2 * math.Pi * float64(g.cfg.Synthetic.ToneFrequency) / float64(rate)
	phase := 0.0

	ticker := time.NewTicker(tonePacket)
	defer ticker.Stop()

	var ts time.Duration
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		samples := make([]float32, n)
		for i := range samples {
			samples[i] = float32(0.2 * math.Sin(phase))
			phase += step
		}
		phase = math.Mod(phase, 2*math.Pi)
		feed.Push(domain.AudioPacket{SampleRate: rate, Samples: samples, Timestamp: ts})
		ts += tonePacket
	}
}

var facingColors = map[domain.FacingMode]color.RGBA{
	domain.FacingUser:        {R: 40, G: 90, B: 200, A: 255},
	domain.FacingEnvironment: {R: 40, G: 160, B: 80, A: 255},
}

// patternSource renders a solid background in the facing colour with a
// vertical bar sweeping across once per second.
type patternSource struct {
	width  int
	height int
	fps    int
	facing domain.FacingMode
	start  time.Time
	now    func() time.Time

	mu    sync.Mutex
	index int
	img   *image.RGBA
}

func (p *patternSource) Frame() (image.Image, bool) {
	if p.width <= 0 || p.height <= 0 {
		return nil, false
	}
	fps := p.fps
	if fps <= 0 {
		fps = 30
	}
	idx := int(p.now().Sub(p.start).Seconds() * float64(fps))

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.img != nil && idx == p.index {
		return p.img, true
	}

	img := image.NewRGBA(image.Rect(0, 0, p.width, p.height))
	draw.Draw(img, img.Bounds(), image.NewUniform(facingColors[p.facing]), image.Point{}, draw.Src)
	barW := p.width / 16
	if barW < 1 {
		barW = 1
	}
	x := (idx % fps) * (p.width - barW) / fps
	draw.Draw(img, image.Rect(x, 0, x+barW, p.height), image.White, image.Point{}, draw.Src)

	p.index = idx
	p.img = img
	return img, true
}
