package services

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"sync"

	"duetrec/internal/core/domain"
	"duetrec/internal/core/ports"

	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// ErrSourceNotReady is returned for a frame that cannot be composed yet.
var ErrSourceNotReady = errors.New("video source not ready")

// CompositorConfig configures the composed canvas.
type CompositorConfig struct {
	Landscape          image.Point
	Portrait           image.Point
	PortraitSideBySide bool
	SeparatorWidth     int
	Watermark          string
	WatermarkOffset    image.Point
}

// DefaultCompositorConfig returns the 720p canvases used by the duet screen.
func DefaultCompositorConfig() CompositorConfig {
	return CompositorConfig{
		Landscape:       image.Pt(1280, 720),
		Portrait:        image.Pt(720, 1280),
		SeparatorWidth:  2,
		Watermark:       "Duet",
		WatermarkOffset: image.Pt(10, 10),
	}
}

// compositingStrategy places the two sources on the canvas.
type compositingStrategy interface {
	kind() domain.DuetType
	regions(w, h int) (original, duet, separator image.Rectangle, err error)
}

type sideBySideStrategy struct {
	layout         domain.Layout
	separatorWidth int
}

func (s sideBySideStrategy) kind() domain.DuetType { return domain.DuetSideBySide }

func (s sideBySideStrategy) regions(w, h int) (image.Rectangle, image.Rectangle, image.Rectangle, error) {
	original, duet, err := s.layout.Split(w, h)
	if err != nil {
		return image.Rectangle{}, image.Rectangle{}, image.Rectangle{}, err
	}
	return original, duet, s.layout.Separator(w, h, s.separatorWidth), nil
}

// notImplementedStrategy stands in for duet types whose geometry is not
// defined yet (react/respond, picture-in-picture).
type notImplementedStrategy struct {
	duetType domain.DuetType
}

func (s notImplementedStrategy) kind() domain.DuetType { return s.duetType }

func (s notImplementedStrategy) regions(int, int) (image.Rectangle, image.Rectangle, image.Rectangle, error) {
	return image.Rectangle{}, image.Rectangle{}, image.Rectangle{}, fmt.Errorf("%w: %s compositing", domain.ErrNotImplemented, s.duetType)
}

func strategyFor(settings domain.DuetSettings, separatorWidth int) compositingStrategy {
	switch settings.DuetType {
	case domain.DuetSideBySide:
		return sideBySideStrategy{layout: settings.Layout, separatorWidth: separatorWidth}
	default:
		return notImplementedStrategy{duetType: settings.DuetType}
	}
}

// Compositor draws the original and the live camera into one surface.
// The surface is reused between frames; consumers must not retain it.
type Compositor struct {
	cfg       CompositorConfig
	strategy  compositingStrategy
	width     int
	height    int
	original  image.Rectangle
	duet      image.Rectangle
	separator image.Rectangle

	mu       sync.RWMutex
	surface  *image.RGBA
	composed bool

	scaler xdraw.Scaler
	face   font.Face
}

// NewCompositor resolves canvas size and regions for the given settings.
func NewCompositor(cfg CompositorConfig, settings domain.DuetSettings) (*Compositor, error) {
	if !settings.Layout.Valid() {
		return nil, fmt.Errorf("%w: layout %q", domain.ErrInvalidSettings, settings.Layout)
	}

	size := cfg.Portrait
	if settings.Layout.Vertical() && !cfg.PortraitSideBySide {
		size = cfg.Landscape
	}

	strategy := strategyFor(settings, cfg.SeparatorWidth)
	original, duet, separator, err := strategy.regions(size.X, size.Y)
	if err != nil {
		return nil, err
	}

	return &Compositor{
		cfg:       cfg,
		strategy:  strategy,
		width:     size.X,
		height:    size.Y,
		original:  original,
		duet:      duet,
		separator: separator,
		surface:   image.NewRGBA(image.Rect(0, 0, size.X, size.Y)),
		scaler:    xdraw.ApproxBiLinear,
		face:      basicfont.Face7x13,
	}, nil
}

func (c *Compositor) Size() (int, int) { return c.width, c.height }

func (c *Compositor) Regions() (original, duet image.Rectangle) { return c.original, c.duet }

// Compose renders one frame. Panics raised while drawing are converted into
// errors so a bad frame never takes the render loop down.
func (c *Compositor) Compose(original, duet ports.VideoSource) (out *image.RGBA, err error) {
	defer func() {
		if r := recover(); r != nil {
			out = nil
			err = fmt.Errorf("compose panic: %v", r)
		}
	}()

	if original == nil || duet == nil {
		return nil, ErrSourceNotReady
	}
	originalFrame, ok := original.Frame()
	if !ok || originalFrame == nil || originalFrame.Bounds().Empty() {
		return nil, ErrSourceNotReady
	}
	duetFrame, ok := duet.Frame()
	if !ok || duetFrame == nil || duetFrame.Bounds().Empty() {
		return nil, ErrSourceNotReady
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.scaler.Scale(c.surface, c.original, originalFrame, originalFrame.Bounds(), draw.Src, nil)
	c.scaler.Scale(c.surface, c.duet, duetFrame, duetFrame.Bounds(), draw.Src, nil)

	if !c.separator.Empty() {
		draw.Draw(c.surface, c.separator, image.NewUniform(color.White), image.Point{}, draw.Src)
	}
	c.drawWatermark()
	c.composed = true

	return c.surface, nil
}

func (c *Compositor) drawWatermark() {
	if c.cfg.Watermark == "" {
		return
	}
	d := &font.Drawer{
		Dst:  c.surface,
		Src:  image.NewUniform(color.RGBA{R: 255, G: 255, B: 255, A: 255}),
		Face: c.face,
		Dot:  fixed.P(c.cfg.WatermarkOffset.X, c.height-c.cfg.WatermarkOffset.Y),
	}
	d.DrawString(c.cfg.Watermark)
}

// Frame exposes the last composed surface as a capturable source.
func (c *Compositor) Frame() (image.Image, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.composed {
		return nil, false
	}
	return c.surface, true
}
