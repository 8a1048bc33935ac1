package devices

import (
	"context"
	"testing"
	"time"

	"duetrec/internal/core/domain"
	"duetrec/pkg/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestSynthetic(t *testing.T) *SyntheticGateway {
	cfg := config.DefaultConfig().Devices
	cfg.Synthetic.Width = 64
	cfg.Synthetic.Height = 48
	return NewSyntheticGateway(cfg, zaptest.NewLogger(t).Sugar())
}

func TestAudioFeed_DropsWhenFullAndStopsAfterClose(t *testing.T) {
	feed := NewAudioFeed(8000, 2)

	assert.True(t, feed.Push(domain.AudioPacket{}))
	assert.True(t, feed.Push(domain.AudioPacket{}))
	assert.False(t, feed.Push(domain.AudioPacket{}))
	assert.Equal(t, uint64(1), feed.Dropped())

	feed.Close()
	feed.Close()
	assert.False(t, feed.Push(domain.AudioPacket{}))

	n := 0
	for range feed.Packets() {
		n++
	}
	assert.Equal(t, 2, n)
}

func TestStream_EndIsIdempotent(t *testing.T) {
	s := NewStream("s1", domain.FacingUser, &FrameSlot{}, nil)
	assert.Nil(t, s.Audio())
	assert.False(t, s.Ended())

	assert.True(t, s.End())
	assert.False(t, s.End())
	assert.True(t, s.Ended())
}

func TestSynthetic_AcquireProducesFramesAndTone(t *testing.T) {
	g := newTestSynthetic(t)

	caps := g.EnumerateCapabilities(context.Background())
	assert.True(t, caps.HasCamera)
	assert.True(t, caps.HasMicrophone)

	stream, err := g.Acquire(context.Background(), domain.FacingUser, true)
	require.NoError(t, err)
	defer g.Release(stream)

	img, ok := stream.Video().Frame()
	require.True(t, ok)
	assert.Equal(t, 64, img.Bounds().Dx())
	assert.Equal(t, 48, img.Bounds().Dy())

	require.NotNil(t, stream.Audio())
	select {
	case pkt := <-stream.Audio().Packets():
		assert.Equal(t, 48000, pkt.SampleRate)
		assert.Len(t, pkt.Samples, 960)
		for _, s := range pkt.Samples {
			assert.LessOrEqual(t, s, float32(0.2001))
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no tone packet")
	}
}

func TestSynthetic_WithoutAudio(t *testing.T) {
	g := newTestSynthetic(t)

	stream, err := g.Acquire(context.Background(), domain.FacingEnvironment, false)
	require.NoError(t, err)
	assert.Nil(t, stream.Audio())
	assert.Equal(t, domain.FacingEnvironment, stream.Facing())
	g.Release(stream)
}

func TestSynthetic_UnavailableCamera(t *testing.T) {
	g := newTestSynthetic(t)
	g.SetAvailable(false)

	caps := g.EnumerateCapabilities(context.Background())
	assert.False(t, caps.HasCamera)
	assert.False(t, caps.HasMicrophone)
	assert.NotEmpty(t, caps.Warning)

	_, err := g.Acquire(context.Background(), domain.FacingUser, true)
	assert.ErrorIs(t, err, domain.ErrDeviceUnavailable)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	g.SetAvailable(true)
	_, err = g.Acquire(ctx, domain.FacingUser, true)
	assert.ErrorIs(t, err, domain.ErrDeviceUnavailable)
}

func TestSynthetic_ReleaseAndDisconnect(t *testing.T) {
	g := newTestSynthetic(t)

	stream, err := g.Acquire(context.Background(), domain.FacingUser, true)
	require.NoError(t, err)
	assert.Equal(t, 1, g.Active())

	assert.True(t, g.Disconnect(stream.ID()))
	assert.False(t, g.Disconnect(stream.ID()))
	select {
	case <-stream.Done():
	default:
		t.Fatal("disconnect should end the stream")
	}
	g.Release(stream)
	assert.Equal(t, 0, g.Active())
}

func TestSynthetic_SwitchFacingKeepsAudio(t *testing.T) {
	g := newTestSynthetic(t)

	front, err := g.Acquire(context.Background(), domain.FacingUser, true)
	require.NoError(t, err)

	back, err := g.SwitchFacing(context.Background(), front)
	require.NoError(t, err)
	defer g.Release(back)

	assert.Equal(t, domain.FacingEnvironment, back.Facing())
	assert.NotNil(t, back.Audio())
	assert.Equal(t, 1, g.Active())
	select {
	case <-front.Done():
	default:
		t.Fatal("old stream should be released")
	}
}

func TestPatternSource_CachesPerFrameIndex(t *testing.T) {
	now := time.Unix(0, 0)
	p := &patternSource{width: 32, height: 16, fps: 10, facing: domain.FacingUser, start: now, now: func() time.Time { return now }}

	a, ok := p.Frame()
	require.True(t, ok)
	b, _ := p.Frame()
	assert.Same(t, a, b)

	now = now.Add(150 * time.Millisecond)
	c, _ := p.Frame()
	assert.NotSame(t, a, c)

	_, ok = (&patternSource{now: time.Now}).Frame()
	assert.False(t, ok)
}
