package playback

import (
	"image"
	"image/color"
	"image/draw"
	"math"
)

// StillDecoder serves in-memory frames, each shown for Interval seconds.
type StillDecoder struct {
	frames   []image.Image
	interval float64
}

func NewStillDecoder(frames []image.Image, interval float64) *StillDecoder {
	if interval <= 0 {
		interval = 1
	}
	return &StillDecoder{frames: frames, interval: interval}
}

// NewTestPatternDecoder renders one colour-bar frame per second of media,
// with a marker that moves left to right so progress is visible.
func NewTestPatternDecoder(width, height int, duration float64) *StillDecoder {
	n := int(math.Ceil(duration))
	if n < 1 {
		n = 1
	}
	frames := make([]image.Image, n)
	for i := range frames {
		frames[i] = testPattern(width, height, float64(i)/float64(n))
	}
	return NewStillDecoder(frames, 1)
}

var bars = []color.RGBA{
	{R: 192, G: 192, B: 192, A: 255},
	{R: 192, G: 192, A: 255},
	{G: 192, B: 192, A: 255},
	{G: 192, A: 255},
	{R: 192, B: 192, A: 255},
	{R: 192, A: 255},
	{B: 192, A: 255},
}

func testPattern(width, height int, progress float64) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	barWidth := (width + len(bars) - 1) / len(bars)
	for i, c := range bars {
		r := image.Rect(i*barWidth, 0, (i+1)*barWidth, height)
		draw.Draw(img, r, image.NewUniform(c), image.Point{}, draw.Src)
	}

	markerW := width / 20
	if markerW < 1 {
		markerW = 1
	}
	x := int(progress * float64(width-markerW))
	marker := image.Rect(x, height-height/10, x+markerW, height)
	draw.Draw(img, marker, image.White, image.Point{}, draw.Src)
	return img
}

func (d *StillDecoder) FrameAt(seconds float64) (image.Image, bool) {
	if len(d.frames) == 0 || seconds < 0 {
		return nil, false
	}
	i := int(seconds / d.interval)
	if i >= len(d.frames) {
		i = len(d.frames) - 1
	}
	return d.frames[i], true
}

func (d *StillDecoder) Close() error { return nil }
