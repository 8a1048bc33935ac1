package playback

import (
	"bufio"
	"bytes"
	"context"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"sync"
	"testing"
	"time"

	"duetrec/internal/core/domain"
	"duetrec/pkg/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestPlayer(t *testing.T, duration float64) (*Player, *fakeClock) {
	clock := &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	dec := NewTestPatternDecoder(32, 18, duration)
	return NewPlayer(dec, duration, clock.Now, zaptest.NewLogger(t).Sugar()), clock
}

func TestPlayer_AdvancesOnlyWhilePlaying(t *testing.T) {
	p, clock := newTestPlayer(t, 30)

	clock.Advance(2 * time.Second)
	assert.Equal(t, 0.0, p.Tick())

	require.NoError(t, p.Seek(5))
	require.NoError(t, p.Play())
	clock.Advance(1500 * time.Millisecond)
	assert.InDelta(t, 6.5, p.Tick(), 1e-9)
	assert.True(t, p.Playing())

	require.NoError(t, p.Pause())
	clock.Advance(10 * time.Second)
	assert.InDelta(t, 6.5, p.Tick(), 1e-9)
	assert.InDelta(t, 6.5, p.CurrentTime(), 1e-9)
	assert.False(t, p.Playing())
}

func TestPlayer_PausesAtEndOfMedia(t *testing.T) {
	p, clock := newTestPlayer(t, 3)
	var seen []float64
	p.Observe(func(s float64) { seen = append(seen, s) })

	require.NoError(t, p.Play())
	clock.Advance(2 * time.Second)
	p.Tick()
	clock.Advance(5 * time.Second)
	p.Tick()

	assert.Equal(t, []float64{2, 3}, seen)
	assert.False(t, p.Playing())

	require.NoError(t, p.Play())
	assert.Equal(t, 0.0, p.CurrentTime(), "playing at the end restarts")
}

func TestPlayer_SeekBounds(t *testing.T) {
	p, _ := newTestPlayer(t, 10)

	assert.Error(t, p.Seek(-1))
	assert.Error(t, p.Seek(10.5))
	assert.NoError(t, p.Seek(10))
}

func TestPlayer_MuteAndClose(t *testing.T) {
	p, _ := newTestPlayer(t, 10)

	p.SetMuted(true)
	assert.True(t, p.Muted())

	img, ok := p.Frame()
	require.True(t, ok)
	assert.Equal(t, image.Rect(0, 0, 32, 18), img.Bounds())

	require.NoError(t, p.Close())
	require.NoError(t, p.Close())
	assert.ErrorIs(t, p.Play(), ErrPlayerClosed)
	_, ok = p.Frame()
	assert.False(t, ok)
}

func TestStillDecoder_FrameAt(t *testing.T) {
	a := image.NewRGBA(image.Rect(0, 0, 1, 1))
	b := image.NewRGBA(image.Rect(0, 0, 2, 2))
	d := NewStillDecoder([]image.Image{a, b}, 0.5)

	img, ok := d.FrameAt(0.2)
	require.True(t, ok)
	assert.Same(t, a, img)

	img, ok = d.FrameAt(0.7)
	require.True(t, ok)
	assert.Same(t, b, img)

	img, ok = d.FrameAt(100)
	require.True(t, ok)
	assert.Same(t, b, img, "holds the last frame")

	_, ok = d.FrameAt(-1)
	assert.False(t, ok)
	_, ok = NewStillDecoder(nil, 1).FrameAt(0)
	assert.False(t, ok)
}

func encodeJPEG(t *testing.T, c color.Color) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	draw.Draw(img, img.Bounds(), image.NewUniform(c), image.Point{}, draw.Src)
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))
	return buf.Bytes()
}

func TestScanJPEG_SplitsConcatenatedFrames(t *testing.T) {
	red := encodeJPEG(t, color.RGBA{R: 255, A: 255})
	blue := encodeJPEG(t, color.RGBA{B: 255, A: 255})

	var stream bytes.Buffer
	stream.WriteString("junk")
	stream.Write(red)
	stream.Write(blue)
	stream.Write(red[:len(red)/2])

	scanner := bufio.NewScanner(&stream)
	scanner.Buffer(make([]byte, 0, 16), maxJPEGSize)
	scanner.Split(scanJPEG)

	var frames [][]byte
	for scanner.Scan() {
		frames = append(frames, scanner.Bytes())
	}
	require.NoError(t, scanner.Err())
	require.Len(t, frames, 2, "the truncated tail is dropped")
	assert.Equal(t, red, frames[0])
	assert.Equal(t, blue, frames[1])
}

func TestStreamDecoder_ServesFramesByTime(t *testing.T) {
	red := encodeJPEG(t, color.RGBA{R: 255, A: 255})
	blue := encodeJPEG(t, color.RGBA{B: 255, A: 255})
	closed := false
	d := NewStreamDecoder(bytes.NewReader(append(append([]byte{}, red...), blue...)), 2,
		func() error { closed = true; return nil }, zaptest.NewLogger(t).Sugar())

	require.NoError(t, d.Wait())
	assert.Equal(t, 2, d.Frames())

	img, ok := d.FrameAt(0.1)
	require.True(t, ok)
	r, _, b, _ := img.At(4, 4).RGBA()
	assert.Greater(t, r, b)

	img, ok = d.FrameAt(0.6)
	require.True(t, ok)
	r, _, b, _ = img.At(4, 4).RGBA()
	assert.Greater(t, b, r)

	_, ok = d.FrameAt(9)
	assert.True(t, ok, "past the end holds the last frame once the stream finished")

	require.NoError(t, d.Close())
	assert.True(t, closed)
}

func TestFactory_OpensTestPatternPlayer(t *testing.T) {
	f := NewFactory(config.DefaultConfig().Playback, zaptest.NewLogger(t).Sugar())

	p, err := f.Open(context.Background(), domain.OriginalVideo{ID: "o", SourceURL: "file:///tmp/o.mp4", Duration: 4, Creator: "c"})
	require.NoError(t, err)
	defer p.Close()

	img, ok := p.Frame()
	require.True(t, ok)
	assert.Equal(t, 640, img.Bounds().Dx())
}

func TestSourcePath(t *testing.T) {
	assert.Equal(t, "/videos/a.mp4", sourcePath("file:///videos/a.mp4"))
	assert.Equal(t, "https://cdn/a.mp4", sourcePath("https://cdn/a.mp4"))
}
