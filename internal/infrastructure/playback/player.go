package playback

import (
	"errors"
	"fmt"
	"image"
	"sync"
	"time"

	"duetrec/internal/core/ports"

	"go.uber.org/zap"
)

var ErrPlayerClosed = errors.New("player closed")

// Decoder yields the frame of the original at a media time.
type Decoder interface {
	FrameAt(seconds float64) (image.Image, bool)
	Close() error
}

// Player is a media clock over a Decoder. Time advances on Tick while
// playing and stops at the end of the media.
type Player struct {
	decoder  Decoder
	duration float64
	now      func() time.Time
	logger   *zap.SugaredLogger

	mu        sync.Mutex
	position  float64
	playing   bool
	muted     bool
	closed    bool
	lastTick  time.Time
	observers []func(seconds float64)
}

var _ ports.PlaybackController = (*Player)(nil)

func NewPlayer(decoder Decoder, duration float64, now func() time.Time, logger *zap.SugaredLogger) *Player {
	if now == nil {
		now = time.Now
	}
	return &Player{
		decoder:  decoder,
		duration: duration,
		now:      now,
		logger:   logger,
	}
}

// Observe registers fn to be called with the media time after every Tick.
func (p *Player) Observe(fn func(seconds float64)) {
	p.mu.Lock()
	p.observers = append(p.observers, fn)
	p.mu.Unlock()
}

func (p *Player) Frame() (image.Image, bool) {
	p.mu.Lock()
	pos, closed := p.position, p.closed
	p.mu.Unlock()
	if closed {
		return nil, false
	}
	return p.decoder.FrameAt(pos)
}

func (p *Player) Play() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrPlayerClosed
	}
	if p.position >= p.duration {
		p.position = 0
	}
	p.playing = true
	p.lastTick = p.now()
	return nil
}

func (p *Player) Pause() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrPlayerClosed
	}
	p.advanceLocked()
	p.playing = false
	return nil
}

func (p *Player) Seek(seconds float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrPlayerClosed
	}
	if seconds < 0 || seconds > p.duration {
		return fmt.Errorf("seek to %.3fs outside [0, %.3f]", seconds, p.duration)
	}
	p.position = seconds
	p.lastTick = p.now()
	return nil
}

func (p *Player) SetMuted(muted bool) {
	p.mu.Lock()
	p.muted = muted
	p.mu.Unlock()
}

func (p *Player) Muted() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.muted
}

func (p *Player) Playing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.playing
}

func (p *Player) CurrentTime() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.position
}

// Tick advances the clock and notifies observers.
func (p *Player) Tick() float64 {
	p.mu.Lock()
	wasPlaying := p.playing
	p.advanceLocked()
	pos := p.position
	ended := wasPlaying && !p.playing
	observers := p.observers
	p.mu.Unlock()

	if ended {
		p.logger.Debugw("Original reached end of media", "position", pos)
	}
	for _, fn := range observers {
		fn(pos)
	}
	return pos
}

func (p *Player) advanceLocked() {
	now := p.now()
	if p.playing && !p.closed {
		p.position += now.Sub(p.lastTick).Seconds()
		if p.position >= p.duration {
			p.position = p.duration
			p.playing = false
		}
	}
	p.lastTick = now
}

func (p *Player) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.playing = false
	p.mu.Unlock()
	return p.decoder.Close()
}
