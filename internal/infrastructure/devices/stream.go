package devices

import (
	"image"
	"sync"
	"sync/atomic"

	"duetrec/internal/core/domain"
	"duetrec/internal/core/ports"
)

// FrameSlot holds the most recent camera frame.
type FrameSlot struct {
	mu  sync.RWMutex
	img image.Image
}

func (s *FrameSlot) Store(img image.Image) {
	s.mu.Lock()
	s.img = img
	s.mu.Unlock()
}

func (s *FrameSlot) Frame() (image.Image, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.img, s.img != nil
}

// AudioFeed is a bounded PCM packet queue. Push never blocks; packets are
// dropped when the consumer falls behind.
type AudioFeed struct {
	rate    int
	dropped atomic.Uint64

	mu     sync.Mutex
	ch     chan domain.AudioPacket
	closed bool
}

func NewAudioFeed(sampleRate, buffer int) *AudioFeed {
	if buffer <= 0 {
		buffer = 64
	}
	return &AudioFeed{rate: sampleRate, ch: make(chan domain.AudioPacket, buffer)}
}

func (f *AudioFeed) SampleRate() int                    { return f.rate }
func (f *AudioFeed) Packets() <-chan domain.AudioPacket { return f.ch }

// Dropped reports how many packets were discarded on a full queue.
func (f *AudioFeed) Dropped() uint64 { return f.dropped.Load() }

func (f *AudioFeed) Push(pkt domain.AudioPacket) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return false
	}
	select {
	case f.ch <- pkt:
		return true
	default:
		f.dropped.Add(1)
		return false
	}
}

func (f *AudioFeed) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.ch)
	}
}

// Stream is a leased camera handle shared by the device drivers.
type Stream struct {
	id     string
	facing domain.FacingMode
	video  ports.VideoSource
	audio  *AudioFeed

	done chan struct{}
	once sync.Once
}

var _ ports.MediaStream = (*Stream)(nil)

// NewStream wraps a video source and an optional audio feed.
func NewStream(id string, facing domain.FacingMode, video ports.VideoSource, audio *AudioFeed) *Stream {
	return &Stream{
		id:     id,
		facing: facing,
		video:  video,
		audio:  audio,
		done:   make(chan struct{}),
	}
}

func (s *Stream) ID() string                { return s.id }
func (s *Stream) Facing() domain.FacingMode { return s.facing }
func (s *Stream) Video() ports.VideoSource  { return s.video }

func (s *Stream) Audio() ports.AudioSource {
	if s.audio == nil {
		return nil
	}
	return s.audio
}

// Feed returns the concrete audio feed, nil without a microphone.
func (s *Stream) Feed() *AudioFeed { return s.audio }

func (s *Stream) Done() <-chan struct{} { return s.done }

// End closes Done and the audio feed. It reports whether this call ended
// the stream.
func (s *Stream) End() bool {
	ended := false
	s.once.Do(func() {
		ended = true
		close(s.done)
		if s.audio != nil {
			s.audio.Close()
		}
	})
	return ended
}

func (s *Stream) Ended() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}
