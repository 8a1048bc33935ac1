package services

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/draw"
	"io"
	"sync"
	"time"

	"duetrec/internal/core/domain"
	"duetrec/internal/core/ports"

	"github.com/stretchr/testify/mock"
)

func solidImage(w, h int, c color.Color) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), image.NewUniform(c), image.Point{}, draw.Src)
	return img
}

// manualTimer hands out one shared fire channel and records every arming.
type manualTimer struct {
	fire chan time.Time

	mu    sync.Mutex
	armed []time.Duration
	stops int
}

func newManualTimer() *manualTimer {
	return &manualTimer{fire: make(chan time.Time)}
}

func (m *manualTimer) start(d time.Duration) (<-chan time.Time, func() bool) {
	m.mu.Lock()
	m.armed = append(m.armed, d)
	m.mu.Unlock()
	return m.fire, func() bool {
		m.mu.Lock()
		m.stops++
		m.mu.Unlock()
		return true
	}
}

func (m *manualTimer) arms() []time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]time.Duration(nil), m.armed...)
}

// manualClock is a settable time source.
type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type staticVideo struct {
	img   image.Image
	ready bool
}

func (v *staticVideo) Frame() (image.Image, bool) { return v.img, v.ready }

type panickingVideo struct{}

func (panickingVideo) Frame() (image.Image, bool) { panic("decoder exploded") }

type fakeAudio struct {
	rate    int
	packets chan domain.AudioPacket
}

func (a *fakeAudio) SampleRate() int                    { return a.rate }
func (a *fakeAudio) Packets() <-chan domain.AudioPacket { return a.packets }

type fakeStream struct {
	id     string
	facing domain.FacingMode
	video  *staticVideo
	audio  *fakeAudio
	done   chan struct{}
	once   sync.Once
}

func newFakeStream(id string, facing domain.FacingMode, withAudio bool) *fakeStream {
	s := &fakeStream{
		id:     id,
		facing: facing,
		video:  &staticVideo{img: solidImage(8, 8, color.RGBA{B: 255, A: 255}), ready: true},
		done:   make(chan struct{}),
	}
	if withAudio {
		s.audio = &fakeAudio{rate: 48000, packets: make(chan domain.AudioPacket)}
	}
	return s
}

func (s *fakeStream) ID() string                { return s.id }
func (s *fakeStream) Facing() domain.FacingMode { return s.facing }
func (s *fakeStream) Video() ports.VideoSource  { return s.video }
func (s *fakeStream) Audio() ports.AudioSource {
	if s.audio == nil {
		return nil
	}
	return s.audio
}
func (s *fakeStream) Done() <-chan struct{} { return s.done }
func (s *fakeStream) lose()                 { s.once.Do(func() { close(s.done) }) }

type MockDeviceGateway struct {
	mock.Mock
}

func (m *MockDeviceGateway) EnumerateCapabilities(ctx context.Context) domain.Capabilities {
	args := m.Called(ctx)
	return args.Get(0).(domain.Capabilities)
}

func (m *MockDeviceGateway) Acquire(ctx context.Context, facing domain.FacingMode, wantAudio bool) (ports.MediaStream, error) {
	args := m.Called(ctx, facing, wantAudio)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(ports.MediaStream), args.Error(1)
}

func (m *MockDeviceGateway) Release(stream ports.MediaStream) {
	m.Called(stream)
}

func (m *MockDeviceGateway) SwitchFacing(ctx context.Context, stream ports.MediaStream) (ports.MediaStream, error) {
	args := m.Called(ctx, stream)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(ports.MediaStream), args.Error(1)
}

type MockPlayer struct {
	mock.Mock
}

func (m *MockPlayer) Frame() (image.Image, bool) {
	args := m.Called()
	if args.Get(0) == nil {
		return nil, args.Bool(1)
	}
	return args.Get(0).(image.Image), args.Bool(1)
}

func (m *MockPlayer) Play() error                { return m.Called().Error(0) }
func (m *MockPlayer) Pause() error               { return m.Called().Error(0) }
func (m *MockPlayer) Seek(seconds float64) error { return m.Called(seconds).Error(0) }
func (m *MockPlayer) SetMuted(muted bool)        { m.Called(muted) }
func (m *MockPlayer) Muted() bool                { return m.Called().Bool(0) }
func (m *MockPlayer) Playing() bool              { return m.Called().Bool(0) }
func (m *MockPlayer) CurrentTime() float64       { return m.Called().Get(0).(float64) }
func (m *MockPlayer) Tick() float64              { return m.Called().Get(0).(float64) }
func (m *MockPlayer) Close() error               { return m.Called().Error(0) }

// newPassivePlayer stubs the calls the render loop makes on every tick.
func newPassivePlayer() *MockPlayer {
	p := &MockPlayer{}
	p.On("Frame").Return(solidImage(8, 8, color.RGBA{R: 255, A: 255}), true).Maybe()
	p.On("CurrentTime").Return(0.0).Maybe()
	p.On("Tick").Return(0.0).Maybe()
	p.On("Close").Return(nil).Maybe()
	return p
}

// fakeSink emits one chunk per written frame and a trailing chunk on Close.
type fakeSink struct {
	mu        sync.Mutex
	chunks    chan domain.Chunk
	frames    int
	audio     int
	paused    bool
	closed    bool
	writeErr  error
	nextIndex int
	cfg       ports.SinkConfig
}

func newFakeSink(cfg ports.SinkConfig) *fakeSink {
	return &fakeSink{chunks: make(chan domain.Chunk, 256), cfg: cfg}
}

func (s *fakeSink) emit(data string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.chunks <- domain.Chunk{Index: s.nextIndex, Data: []byte(data), Duration: time.Second}
	s.nextIndex++
}

func (s *fakeSink) WriteVideo(frame image.Image, pts time.Duration) error {
	s.mu.Lock()
	err := s.writeErr
	if err == nil {
		s.frames++
	}
	s.mu.Unlock()
	if err != nil {
		return err
	}
	s.emit("v")
	return nil
}

func (s *fakeSink) WriteAudio(pkt domain.AudioPacket) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audio++
	return s.writeErr
}

func (s *fakeSink) Pause() {
	s.mu.Lock()
	s.paused = true
	s.mu.Unlock()
}

func (s *fakeSink) Resume() {
	s.mu.Lock()
	s.paused = false
	s.mu.Unlock()
}

func (s *fakeSink) Chunks() <-chan domain.Chunk { return s.chunks }

func (s *fakeSink) Close() error {
	s.emit("tail")
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.chunks)
	}
	return nil
}

// crash closes the output without a flush, as a dying encoder would.
func (s *fakeSink) crash() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.chunks)
	}
}

func (s *fakeSink) MimeType() string { return "video/webm" }

func (s *fakeSink) setWriteErr(err error) {
	s.mu.Lock()
	s.writeErr = err
	s.mu.Unlock()
}

func (s *fakeSink) counts() (frames, audio int, paused bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frames, s.audio, s.paused
}

type fakeEncoders struct {
	mu      sync.Mutex
	sinks   []*fakeSink
	openErr error
}

func (f *fakeEncoders) Open(ctx context.Context, cfg ports.SinkConfig) (ports.EncoderSink, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.openErr != nil {
		return nil, f.openErr
	}
	s := newFakeSink(cfg)
	f.sinks = append(f.sinks, s)
	return s, nil
}

func (f *fakeEncoders) last() *fakeSink {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sinks) == 0 {
		return nil
	}
	return f.sinks[len(f.sinks)-1]
}

func (f *fakeEncoders) opened() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sinks)
}

type recordingNotifier struct {
	mu      sync.Mutex
	notices []domain.Notice
}

func (n *recordingNotifier) Notify(ctx context.Context, notice domain.Notice) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notices = append(n.notices, notice)
}

func (n *recordingNotifier) titles() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, 0, len(n.notices))
	for _, notice := range n.notices {
		out = append(out, notice.Title)
	}
	return out
}

func (n *recordingNotifier) progress() []int {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []int
	for _, notice := range n.notices {
		if notice.Progress != nil {
			out = append(out, *notice.Progress)
		}
	}
	return out
}

var errStoreDown = errors.New("store unavailable")

// fakeStore consumes uploads in small reads so progress is observable.
type fakeStore struct {
	mu       sync.Mutex
	failures int
	calls    int
	objects  map[string][]byte
	deleted  []string
}

func newFakeStore(failures int) *fakeStore {
	return &fakeStore{failures: failures, objects: make(map[string][]byte)}
}

func (s *fakeStore) Put(ctx context.Context, key, contentType string, body io.Reader, size int64) (string, error) {
	s.mu.Lock()
	s.calls++
	fail := s.calls <= s.failures
	s.mu.Unlock()

	var buf bytes.Buffer
	if _, err := io.CopyBuffer(&buf, io.LimitReader(body, size/2+1), make([]byte, 64)); err != nil {
		return "", err
	}
	if fail {
		return "", errStoreDown
	}
	if _, err := io.CopyBuffer(&buf, body, make([]byte, 64)); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = buf.Bytes()
	return "mem://" + key, nil
}

func (s *fakeStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, key)
	s.deleted = append(s.deleted, key)
	return nil
}

func (s *fakeStore) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type fakeRepo struct {
	mu      sync.Mutex
	saveErr error
	duets   map[domain.PublishedID]*domain.PublishedDuet
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{duets: make(map[domain.PublishedID]*domain.PublishedDuet)}
}

func (r *fakeRepo) Save(ctx context.Context, duet *domain.PublishedDuet) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.saveErr != nil {
		return r.saveErr
	}
	r.duets[duet.ID] = duet
	return nil
}

func (r *fakeRepo) GetByID(ctx context.Context, id domain.PublishedID) (*domain.PublishedDuet, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.duets[id]
	if !ok {
		return nil, domain.ErrDuetNotFound
	}
	return d, nil
}

func (r *fakeRepo) ListByOriginal(ctx context.Context, originalID string) ([]*domain.PublishedDuet, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.PublishedDuet
	for _, d := range r.duets {
		if d.OriginalVideoID == originalID {
			out = append(out, d)
		}
	}
	return out, nil
}
