package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"duetrec/internal/core/domain"
	"duetrec/internal/core/ports"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// RecorderConfig holds the timing and canvas parameters of a recorder.
type RecorderConfig struct {
	Compositor      CompositorConfig
	FPS             int
	RefreshInterval time.Duration
	MaxDuration     time.Duration
	AudioSampleRate int
}

func DefaultRecorderConfig() RecorderConfig {
	return RecorderConfig{
		Compositor:      DefaultCompositorConfig(),
		FPS:             30,
		RefreshInterval: time.Second / 60,
		MaxDuration:     3 * time.Minute,
		AudioSampleRate: 48000,
	}
}

// RecorderDeps are the collaborators of a recorder. The recorder takes
// ownership of Player and of every stream attached to it.
type RecorderDeps struct {
	Devices  ports.DeviceGateway
	Player   ports.PlaybackController
	Encoders ports.EncoderFactory
	Notifier ports.Notifier
	Metrics  ports.Metrics
	Logger   *zap.SugaredLogger

	// SecondTimer arms the one-shot timer behind the elapsed counter and
	// FrameTicks replaces the render ticker. Both default to the time package.
	SecondTimer SecondTimerFunc
	FrameTicks  <-chan time.Time
	Now         func() time.Time
}

// SecondTimerFunc starts a timer firing once after d. stop cancels it.
type SecondTimerFunc func(d time.Duration) (fire <-chan time.Time, stop func() bool)

func newSecondTimer(d time.Duration) (<-chan time.Time, func() bool) {
	t := time.NewTimer(d)
	return t.C, t.Stop
}

type recorderCommand struct {
	ctx   context.Context
	fn    func(ctx context.Context) error
	reply chan error
}

// Recorder drives one duet: camera attachment, the recording state machine,
// frame composition and chunk accumulation. All state is owned by a single
// event loop goroutine; public methods post commands to it.
type Recorder struct {
	id       domain.DuetID
	cfg      RecorderConfig
	original domain.OriginalVideo

	devices  ports.DeviceGateway
	player   ports.PlaybackController
	encoders ports.EncoderFactory
	notifier ports.Notifier
	metrics  ports.Metrics
	logger   *zap.SugaredLogger
	now      func() time.Time

	cmds      chan recorderCommand
	quit      chan struct{}
	done      chan struct{}
	closeOnce sync.Once

	frameTicks  <-chan time.Time
	stopTickers func()
	secondTimer SecondTimerFunc

	// loop-owned elapsed clock; armed only while recording
	secondFire  <-chan time.Time
	stopSecond  func() bool
	secondArmed time.Time
	untilSecond time.Duration

	// loop-owned
	settings   domain.DuetSettings
	session    *domain.RecordingSession
	stream     ports.MediaStream
	streamDone <-chan struct{}
	audio      <-chan domain.AudioPacket
	sink       ports.EncoderSink
	chunks     <-chan domain.Chunk
	mimeType   string
	plan       domain.AudioPlan
	compositor *Compositor
	limiter    *rate.Limiter
	frames     int64

	// Microphone packets are re-stamped onto the video timeline: each
	// segment (take start, resume, camera switch) is anchored at the video
	// position it began at.
	audioOffset time.Duration
	audioBase   time.Duration
	audioSynced bool
}

// NewRecorder validates its inputs and starts the event loop.
func NewRecorder(id domain.DuetID, original domain.OriginalVideo, settings domain.DuetSettings, cfg RecorderConfig, deps RecorderDeps) (*Recorder, error) {
	if err := ValidateSettings(settings, original); err != nil {
		return nil, err
	}
	if deps.Devices == nil || deps.Player == nil || deps.Encoders == nil {
		return nil, errors.New("recorder requires devices, player and encoders")
	}
	if cfg.FPS <= 0 {
		cfg.FPS = 30
	}
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = time.Second / 60
	}

	r := &Recorder{
		id:       id,
		cfg:      cfg,
		original: original,
		devices:  deps.Devices,
		player:   deps.Player,
		encoders: deps.Encoders,
		notifier: deps.Notifier,
		metrics:  deps.Metrics,
		logger:   deps.Logger,
		now:      deps.Now,
		cmds:     make(chan recorderCommand),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
		settings: settings,
	}
	if r.notifier == nil {
		r.notifier = nopNotifier{}
	}
	if r.metrics == nil {
		r.metrics = NoopMetrics{}
	}
	if r.logger == nil {
		r.logger = zap.NewNop().Sugar()
	}
	if r.now == nil {
		r.now = time.Now
	}
	r.session = r.newSession()

	r.secondTimer, r.frameTicks = deps.SecondTimer, deps.FrameTicks
	if r.secondTimer == nil {
		r.secondTimer = newSecondTimer
	}
	var tickers []*time.Ticker
	if r.frameTicks == nil {
		t := time.NewTicker(cfg.RefreshInterval)
		tickers = append(tickers, t)
		r.frameTicks = t.C
	}
	r.stopTickers = func() {
		for _, t := range tickers {
			t.Stop()
		}
	}

	r.metrics.RecorderOpened()
	go r.loop()

	return r, nil
}

func (r *Recorder) ID() domain.DuetID { return r.id }

func (r *Recorder) newSession() *domain.RecordingSession {
	return &domain.RecordingSession{
		ID:    uuid.New().String(),
		Phase: domain.PhaseIdle,
	}
}

func (r *Recorder) loop() {
	defer close(r.done)
	defer r.stopTickers()

	for {
		select {
		case <-r.quit:
			r.teardown()
			return
		case cmd := <-r.cmds:
			cmd.reply <- cmd.fn(cmd.ctx)
		case <-r.secondFire:
			r.onSecond()
		case t := <-r.frameTicks:
			r.onFrame(t)
		case pkt, ok := <-r.audio:
			if !ok {
				r.audio = nil
				continue
			}
			r.onAudio(pkt)
		case chunk, ok := <-r.chunks:
			if !ok {
				r.chunks = nil
				if r.session.Phase.Active() {
					r.failEncoding(errors.New("encoder closed its output early"))
				}
				continue
			}
			r.appendChunk(chunk)
		case <-r.streamDone:
			r.onDeviceLost()
		}
	}
}

// do runs fn on the event loop and waits for it.
func (r *Recorder) do(ctx context.Context, fn func(ctx context.Context) error) error {
	reply := make(chan error, 1)
	select {
	case r.cmds <- recorderCommand{ctx: ctx, fn: fn, reply: reply}:
	case <-r.done:
		return domain.ErrRecorderClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	return <-reply
}

func (r *Recorder) query(ctx context.Context, fn func(ctx context.Context) error) (domain.SessionSnapshot, error) {
	var snap domain.SessionSnapshot
	err := r.do(ctx, func(ctx context.Context) error {
		err := fn(ctx)
		snap = r.snapshot()
		return err
	})
	return snap, err
}

// Snapshot returns the current state of the recorder.
func (r *Recorder) Snapshot(ctx context.Context) (domain.SessionSnapshot, error) {
	return r.query(ctx, func(context.Context) error { return nil })
}

func (r *Recorder) snapshot() domain.SessionSnapshot {
	s := domain.SessionSnapshot{
		DuetID:         r.id,
		TakeID:         r.session.ID,
		Phase:          r.session.Phase,
		ElapsedSeconds: r.session.ElapsedSeconds,
		ChunkCount:     len(r.session.Chunks),
		ChunkBytes:     r.session.ChunkBytes(),
		CameraActive:   r.stream != nil,
		PlaybackTime:   r.player.CurrentTime(),
		StopReason:     r.session.StopReason,
		Original:       r.original,
		Settings:       r.settings,
		Artifact:       r.session.Artifact,
	}
	if r.stream != nil {
		s.Facing = r.stream.Facing()
		s.Microphone = r.stream.Audio() != nil
	}
	return s
}

// UpdateSettings replaces the duet settings. Fields that shape the take are
// frozen outside idle.
func (r *Recorder) UpdateSettings(ctx context.Context, settings domain.DuetSettings) (domain.SessionSnapshot, error) {
	if err := ValidateSettings(settings, r.original); err != nil {
		return domain.SessionSnapshot{}, err
	}
	return r.query(ctx, func(context.Context) error {
		if r.session.Phase != domain.PhaseIdle && !r.settings.LockedFieldsEqual(settings) {
			return domain.ErrSettingsLocked
		}
		r.settings = settings
		return nil
	})
}

// EnableCamera acquires a camera outside the loop and attaches it.
func (r *Recorder) EnableCamera(ctx context.Context, facing domain.FacingMode, wantAudio bool) (domain.SessionSnapshot, error) {
	if !facing.Valid() {
		return domain.SessionSnapshot{}, fmt.Errorf("%w: facing %q", domain.ErrInvalidSettings, facing)
	}

	var attached bool
	if _, err := r.query(ctx, func(context.Context) error {
		attached = r.stream != nil
		return nil
	}); err != nil {
		return domain.SessionSnapshot{}, err
	}
	if attached {
		return r.Snapshot(ctx)
	}

	stream, err := r.devices.Acquire(ctx, facing, wantAudio)
	if err != nil {
		r.notify(domain.NoticeError, "Camera Error", "Could not access the camera. Check that it is connected and permitted.")
		return domain.SessionSnapshot{}, err
	}

	snap, err := r.query(ctx, func(context.Context) error {
		if r.stream != nil {
			r.devices.Release(stream)
			return nil
		}
		r.attach(stream)
		return nil
	})
	if err != nil {
		r.devices.Release(stream)
	}
	return snap, err
}

// SwitchCamera flips the camera facing. The stream is detached while the
// device is re-acquired; the render loop skips frames in the gap.
func (r *Recorder) SwitchCamera(ctx context.Context) (domain.SessionSnapshot, error) {
	var old ports.MediaStream
	if err := r.do(ctx, func(context.Context) error {
		if r.stream == nil {
			return fmt.Errorf("%w: no camera attached", domain.ErrDeviceUnavailable)
		}
		old = r.detach()
		return nil
	}); err != nil {
		return domain.SessionSnapshot{}, err
	}

	next, err := r.devices.SwitchFacing(ctx, old)
	if err != nil {
		r.devices.Release(old)
		snap, qerr := r.query(ctx, func(context.Context) error {
			r.logger.Warnw("Camera switch failed", "duet_id", r.id, "error", err)
			r.notify(domain.NoticeError, "Camera Error", "Could not switch the camera.")
			if r.session.Phase.Active() {
				r.stopTake(domain.StopDeviceLost)
			}
			return nil
		})
		if qerr != nil {
			return snap, qerr
		}
		return snap, err
	}

	snap, err := r.query(ctx, func(context.Context) error {
		if r.stream != nil {
			r.devices.Release(next)
			return nil
		}
		r.attach(next)
		return nil
	})
	if err != nil {
		r.devices.Release(next)
	}
	return snap, err
}

// DisableCamera releases the camera. Not allowed during a take.
func (r *Recorder) DisableCamera(ctx context.Context) (domain.SessionSnapshot, error) {
	return r.query(ctx, func(context.Context) error {
		if r.session.Phase.Active() {
			return fmt.Errorf("%w: camera is in use by the current take", domain.ErrInvalidTransition)
		}
		if s := r.detach(); s != nil {
			r.devices.Release(s)
		}
		return nil
	})
}

func (r *Recorder) attach(stream ports.MediaStream) {
	r.stream = stream
	r.streamDone = stream.Done()
	if r.session.Phase.Active() {
		r.subscribeAudio()
	}
	r.logger.Infow("Camera attached", "duet_id", r.id, "stream_id", stream.ID(), "facing", stream.Facing())
}

func (r *Recorder) detach() ports.MediaStream {
	s := r.stream
	r.stream = nil
	r.streamDone = nil
	r.audio = nil
	return s
}

func (r *Recorder) subscribeAudio() {
	r.audio = nil
	if r.stream == nil || !r.plan.IncludeDuet {
		return
	}
	if src := r.stream.Audio(); src != nil {
		r.audio = src.Packets()
		r.beginAudioSegment()
	}
}

// beginAudioSegment discards microphone audio queued before this point and
// anchors the next packet at the current video position.
func (r *Recorder) beginAudioSegment() {
	if r.audio == nil {
		return
	}
	for drained := false; !drained; {
		select {
		case _, ok := <-r.audio:
			if !ok {
				r.audio = nil
				drained = true
			}
		default:
			drained = true
		}
	}
	r.audioOffset = r.videoPosition()
	r.audioSynced = false
}

func (r *Recorder) videoPosition() time.Duration {
	return time.Duration(r.frames) * time.Second / time.Duration(r.cfg.FPS)
}

// armSecond schedules the next elapsed-second increment d from now.
func (r *Recorder) armSecond(d time.Duration) {
	r.disarmSecond()
	r.untilSecond = d
	r.secondArmed = r.now()
	r.secondFire, r.stopSecond = r.secondTimer(d)
}

// disarmSecond stops the elapsed clock and keeps the time still missing
// to complete the current second.
func (r *Recorder) disarmSecond() {
	if r.stopSecond == nil {
		return
	}
	r.stopSecond()
	r.secondFire, r.stopSecond = nil, nil
	r.untilSecond -= r.now().Sub(r.secondArmed)
	if r.untilSecond < 0 {
		r.untilSecond = 0
	}
}

// ControlPlayback applies a user playback action. With sync enabled the
// original is driven by the recorder during a take.
func (r *Recorder) ControlPlayback(ctx context.Context, action ports.PlaybackAction, at float64) (domain.SessionSnapshot, error) {
	return r.query(ctx, func(context.Context) error {
		switch action {
		case ports.PlaybackMute:
			r.player.SetMuted(true)
			return nil
		case ports.PlaybackUnmute:
			r.player.SetMuted(false)
			return nil
		}

		if r.settings.SyncToOriginal && r.session.Phase.Active() {
			return domain.ErrPlaybackLocked
		}
		switch action {
		case ports.PlaybackPlay:
			return r.player.Play()
		case ports.PlaybackPause:
			return r.player.Pause()
		case ports.PlaybackSeek:
			return r.player.Seek(at)
		default:
			return fmt.Errorf("%w: playback action %q", domain.ErrInvalidSettings, action)
		}
	})
}

// Start begins a take. Without an attached camera the request is rejected and
// nothing changes.
func (r *Recorder) Start(ctx context.Context) (domain.SessionSnapshot, error) {
	return r.query(ctx, func(ctx context.Context) error {
		if r.session.Phase != domain.PhaseIdle {
			return fmt.Errorf("%w: start from %s", domain.ErrInvalidTransition, r.session.Phase)
		}
		if r.stream == nil {
			r.notify(domain.NoticeWarning, "Camera Required", "Enable your camera before recording.")
			return domain.ErrStartRejected
		}

		settings := r.settings
		compositor, err := NewCompositor(r.cfg.Compositor, settings)
		if err != nil {
			r.notify(domain.NoticeError, "Recording Error", err.Error())
			return err
		}

		plan := settings.Plan()
		w, h := compositor.Size()
		sink, err := r.encoders.Open(ctx, ports.SinkConfig{
			Width:           w,
			Height:          h,
			FPS:             r.cfg.FPS,
			AudioSampleRate: r.cfg.AudioSampleRate,
			Plan:            plan,
			Microphone:      plan.IncludeDuet && r.stream.Audio() != nil,
			Original:        r.original,
			StartOffset:     settings.StartOffset,
		})
		if err != nil {
			r.notify(domain.NoticeError, "Encoding Failure", "The recorder could not be started.")
			return fmt.Errorf("%w: %v", domain.ErrEncodingFailure, err)
		}

		if settings.SyncToOriginal {
			if err := r.player.Seek(settings.StartOffset); err != nil {
				_ = sink.Close()
				return fmt.Errorf("seek original: %w", err)
			}
			if err := r.player.Play(); err != nil {
				_ = sink.Close()
				return fmt.Errorf("play original: %w", err)
			}
		}

		r.compositor = compositor
		r.sink = sink
		r.chunks = sink.Chunks()
		r.mimeType = sink.MimeType()
		r.plan = plan
		r.limiter = rate.NewLimiter(rate.Limit(r.cfg.FPS), 1)
		r.frames = 0

		r.session.ElapsedSeconds = 0
		r.session.Chunks = nil
		r.session.StartedAt = r.now()
		r.setPhase(domain.PhaseRecording)
		r.armSecond(time.Second)
		r.subscribeAudio()

		r.logger.Infow("Recording started", "duet_id", r.id, "take_id", r.session.ID,
			"layout", settings.Layout, "width", w, "height", h, "mime_type", r.mimeType)
		r.notify(domain.NoticeSuccess, "Recording Started", "Your duet is being recorded.")
		return nil
	})
}

func (r *Recorder) Pause(ctx context.Context) (domain.SessionSnapshot, error) {
	return r.query(ctx, func(context.Context) error {
		if r.session.Phase != domain.PhaseRecording {
			return fmt.Errorf("%w: pause from %s", domain.ErrInvalidTransition, r.session.Phase)
		}
		r.sink.Pause()
		r.disarmSecond()
		if r.settings.SyncToOriginal {
			if err := r.player.Pause(); err != nil {
				r.logger.Warnw("Failed to pause original", "duet_id", r.id, "error", err)
			}
		}
		r.setPhase(domain.PhasePaused)
		r.notify(domain.NoticeInfo, "Recording Paused", "Tap resume to continue.")
		return nil
	})
}

func (r *Recorder) Resume(ctx context.Context) (domain.SessionSnapshot, error) {
	return r.query(ctx, func(context.Context) error {
		if r.session.Phase != domain.PhasePaused {
			return fmt.Errorf("%w: resume from %s", domain.ErrInvalidTransition, r.session.Phase)
		}
		r.sink.Resume()
		if r.settings.SyncToOriginal {
			if err := r.player.Play(); err != nil {
				r.logger.Warnw("Failed to resume original", "duet_id", r.id, "error", err)
			}
		}
		r.setPhase(domain.PhaseRecording)
		r.armSecond(r.untilSecond)
		r.beginAudioSegment()
		r.notify(domain.NoticeInfo, "Recording Resumed", "")
		return nil
	})
}

// Stop ends the take. Calling it again after the take ended returns the
// current state.
func (r *Recorder) Stop(ctx context.Context) (domain.SessionSnapshot, error) {
	return r.query(ctx, func(context.Context) error {
		switch r.session.Phase {
		case domain.PhaseStopped, domain.PhaseFinalized:
			return nil
		case domain.PhaseIdle:
			return fmt.Errorf("%w: stop from idle", domain.ErrInvalidTransition)
		}
		r.stopTake(domain.StopRequested)
		return nil
	})
}

// Finalize assembles the recorded chunks into an artifact.
func (r *Recorder) Finalize(ctx context.Context) (*domain.Artifact, error) {
	var artifact *domain.Artifact
	err := r.do(ctx, func(context.Context) error {
		switch r.session.Phase {
		case domain.PhaseFinalized:
			artifact = r.session.Artifact
			return nil
		case domain.PhaseStopped:
		default:
			return fmt.Errorf("%w: finalize from %s", domain.ErrInvalidTransition, r.session.Phase)
		}

		var buf bytes.Buffer
		buf.Grow(r.session.ChunkBytes())
		for _, c := range r.session.Chunks {
			buf.Write(c.Data)
		}

		w, h := 0, 0
		if r.compositor != nil {
			w, h = r.compositor.Size()
		}
		artifact = &domain.Artifact{
			ID:              uuid.New().String(),
			MimeType:        r.mimeType,
			Data:            buf.Bytes(),
			Size:            buf.Len(),
			DurationSeconds: r.session.ElapsedSeconds,
			ChunkCount:      len(r.session.Chunks),
			Width:           w,
			Height:          h,
			CreatedAt:       r.now(),
		}
		r.session.Artifact = artifact
		r.setPhase(domain.PhaseFinalized)

		r.logger.Infow("Recording finalized", "duet_id", r.id, "take_id", r.session.ID,
			"artifact_id", artifact.ID, "size", artifact.Size, "chunks", artifact.ChunkCount)
		return nil
	})
	return artifact, err
}

// Artifact returns the finalized artifact of the current take.
func (r *Recorder) Artifact(ctx context.Context) (*domain.Artifact, error) {
	var artifact *domain.Artifact
	err := r.do(ctx, func(context.Context) error {
		if r.session.Phase != domain.PhaseFinalized || r.session.Artifact == nil {
			return domain.ErrArtifactNotReady
		}
		artifact = r.session.Artifact
		return nil
	})
	return artifact, err
}

// Retake discards the stopped take and returns to idle with a fresh session.
func (r *Recorder) Retake(ctx context.Context) (domain.SessionSnapshot, error) {
	return r.query(ctx, func(context.Context) error {
		switch r.session.Phase {
		case domain.PhaseStopped, domain.PhaseFinalized:
		default:
			return fmt.Errorf("%w: retake from %s", domain.ErrInvalidTransition, r.session.Phase)
		}
		from := r.session.Phase
		r.session = r.newSession()
		r.compositor = nil
		r.sink = nil
		r.chunks = nil
		r.metrics.PhaseChanged(from, domain.PhaseIdle)
		r.logger.Infow("Retake", "duet_id", r.id, "take_id", r.session.ID)
		return nil
	})
}

// Close stops any take, releases the camera and the player, and ends the
// loop. Safe to call more than once.
func (r *Recorder) Close() error {
	r.closeOnce.Do(func() {
		close(r.quit)
		<-r.done
		r.metrics.RecorderClosed()
	})
	return nil
}

func (r *Recorder) teardown() {
	if r.session.Phase.Active() {
		r.stopTake(domain.StopClosed)
	}
	if s := r.detach(); s != nil {
		r.devices.Release(s)
	}
	if err := r.player.Close(); err != nil {
		r.logger.Warnw("Failed to close player", "duet_id", r.id, "error", err)
	}
	r.logger.Infow("Recorder closed", "duet_id", r.id)
}

func (r *Recorder) setPhase(to domain.Phase) {
	from := r.session.Phase
	r.session.Phase = to
	r.metrics.PhaseChanged(from, to)
}

// stopTake closes the sink and drains every chunk it still holds.
func (r *Recorder) stopTake(reason domain.StopReason) {
	r.disarmSecond()
	if r.settings.SyncToOriginal {
		if err := r.player.Pause(); err != nil {
			r.logger.Warnw("Failed to pause original", "duet_id", r.id, "error", err)
		}
	}

	if r.sink != nil {
		if err := r.sink.Close(); err != nil {
			r.logger.Warnw("Encoder close failed", "duet_id", r.id, "error", err)
		}
	}
	if r.chunks != nil {
		for c := range r.chunks {
			r.appendChunk(c)
		}
		r.chunks = nil
	}
	r.audio = nil

	r.session.StoppedAt = r.now()
	r.session.StopReason = reason
	r.setPhase(domain.PhaseStopped)

	r.logger.Infow("Recording stopped", "duet_id", r.id, "take_id", r.session.ID,
		"reason", reason, "elapsed", r.session.ElapsedSeconds, "chunks", len(r.session.Chunks))

	switch reason {
	case domain.StopDeviceLost:
		r.notify(domain.NoticeError, "Camera Disconnected", "Recording stopped. Your clip so far has been kept.")
	case domain.StopEncoderError:
		r.notify(domain.NoticeError, "Encoding Failure", "Recording stopped. Your clip so far has been kept.")
	case domain.StopMaxDuration:
		r.notify(domain.NoticeInfo, "Recording Stopped", "Maximum duration reached.")
	case domain.StopRequested:
		r.notify(domain.NoticeSuccess, "Recording Stopped", "Review your duet before publishing.")
	}
}

func (r *Recorder) failEncoding(err error) {
	r.logger.Errorw("Encoder failure", "duet_id", r.id, "take_id", r.session.ID, "error", err)
	r.stopTake(domain.StopEncoderError)
}

func (r *Recorder) onSecond() {
	r.secondFire, r.stopSecond = nil, nil
	if r.session.Phase != domain.PhaseRecording {
		return
	}
	r.session.ElapsedSeconds++
	r.metrics.RecordedSecond()

	if r.cfg.MaxDuration > 0 && time.Duration(r.session.ElapsedSeconds)*time.Second >= r.cfg.MaxDuration {
		r.stopTake(domain.StopMaxDuration)
		return
	}
	r.armSecond(time.Second)
}

func (r *Recorder) onFrame(t time.Time) {
	r.player.Tick()

	if r.session.Phase != domain.PhaseRecording {
		return
	}
	if !r.limiter.AllowN(t, 1) {
		return
	}

	var duet ports.VideoSource
	if r.stream != nil {
		duet = r.stream.Video()
	}

	began := time.Now()
	frame, err := r.compositor.Compose(r.player, duet)
	if err != nil {
		if errors.Is(err, ErrSourceNotReady) {
			r.metrics.FrameSkipped("not_ready")
			return
		}
		r.metrics.FrameSkipped("compose_error")
		r.logger.Warnw("Frame compose failed", "duet_id", r.id, "error", err)
		return
	}
	r.metrics.FrameComposed(time.Since(began))

	pts := time.Duration(r.frames) * time.Second / time.Duration(r.cfg.FPS)
	r.frames++
	if err := r.sink.WriteVideo(frame, pts); err != nil {
		r.failEncoding(err)
	}
}

func (r *Recorder) onAudio(pkt domain.AudioPacket) {
	if r.session.Phase != domain.PhaseRecording || r.sink == nil {
		return
	}
	if !r.audioSynced {
		r.audioBase = pkt.Timestamp
		r.audioSynced = true
	}
	rel := pkt.Timestamp - r.audioBase
	if rel < 0 {
		rel = 0
	}
	pkt.Timestamp = r.audioOffset + rel
	if err := r.sink.WriteAudio(pkt.Scaled(r.plan.DuetGain)); err != nil {
		r.failEncoding(err)
	}
}

func (r *Recorder) appendChunk(c domain.Chunk) {
	if len(c.Data) == 0 {
		return
	}
	r.session.Chunks = append(r.session.Chunks, c)
	r.metrics.ChunkAppended(len(c.Data))
}

func (r *Recorder) onDeviceLost() {
	lost := r.detach()
	if lost != nil {
		r.devices.Release(lost)
	}
	r.logger.Warnw("Camera lost", "duet_id", r.id, "phase", r.session.Phase)

	if r.session.Phase.Active() {
		r.stopTake(domain.StopDeviceLost)
		return
	}
	r.notify(domain.NoticeWarning, "Camera Disconnected", "Enable your camera again to record.")
}

func (r *Recorder) notify(level domain.NoticeLevel, title, message string) {
	r.notifier.Notify(context.Background(), domain.Notice{
		DuetID:  r.id,
		Level:   level,
		Title:   title,
		Message: message,
		At:      r.now(),
	})
}

type nopNotifier struct{}

func (nopNotifier) Notify(context.Context, domain.Notice) {}
