package encoder

import (
	"encoding/binary"
	"fmt"
	"image"
	"image/draw"
	"io"
	"math"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"duetrec/internal/core/domain"
	"duetrec/internal/core/ports"
	"duetrec/pkg/config"
	"duetrec/pkg/optimize"

	"go.uber.org/zap"
)

const WebMMimeType = "video/webm"

// buildFFmpegArgs lays out the inputs as: 0 raw RGBA video on stdin, then the
// microphone on fd 3 when present, then the original when its audio is mixed.
func buildFFmpegArgs(cfg config.FFmpegConfig, sink ports.SinkConfig) []string {
	args := []string{
		"-hide_banner", "-loglevel", "error",
		"-f", "rawvideo", "-pix_fmt", "rgba",
		"-s", fmt.Sprintf("%dx%d", sink.Width, sink.Height),
		"-r", strconv.Itoa(sink.FPS),
		"-i", "pipe:0",
	}

	input := 1
	micInput, originalInput := -1, -1
	if sink.Microphone {
		args = append(args, "-f", "f32le", "-ar", strconv.Itoa(sink.AudioSampleRate), "-ac", "1", "-i", "pipe:3")
		micInput = input
		input++
	}
	if sink.Plan.IncludeOriginal && sink.Original.SourceURL != "" {
		args = append(args, "-ss", strconv.FormatFloat(sink.StartOffset, 'f', 3, 64), "-i", sink.Original.SourceURL)
		originalInput = input
	}

	var filter string
	switch {
	case micInput >= 0 && originalInput >= 0:
		filter = fmt.Sprintf("[%d:a]volume=%s[mic];[%d:a]volume=%s[orig];[mic][orig]amix=inputs=2:duration=first[aout]",
			micInput, gain(sink.Plan.DuetGain), originalInput, gain(sink.Plan.OriginalGain))
	case micInput >= 0:
		filter = fmt.Sprintf("[%d:a]volume=%s[aout]", micInput, gain(sink.Plan.DuetGain))
	case originalInput >= 0:
		filter = fmt.Sprintf("[%d:a]volume=%s[aout]", originalInput, gain(sink.Plan.OriginalGain))
	}

	args = append(args, "-map", "0:v")
	if filter != "" {
		args = append(args, "-filter_complex", filter, "-map", "[aout]", "-c:a", cfg.AudioCodec)
	} else {
		args = append(args, "-an")
	}
	if originalInput >= 0 {
		args = append(args, "-shortest")
	}

	args = append(args,
		"-c:v", cfg.VideoCodec,
		"-deadline", "realtime",
		"-b:v", cfg.VideoBitrate,
		"-f", "webm",
		"pipe:1",
	)
	return args
}

func gain(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}

// FFmpegSink pipes raw frames into an ffmpeg subprocess and emits its WebM
// output as chunks in the order ffmpeg produced them.
type FFmpegSink struct {
	cfg    config.FFmpegConfig
	sink   ports.SinkConfig
	logger *zap.SugaredLogger

	cmd     *exec.Cmd
	video   io.WriteCloser
	audio   *os.File
	queue   *chunkQueue
	reads   *optimize.BytePool
	scratch *image.RGBA
	pcm     []byte
	done    chan struct{}

	mu       sync.Mutex
	paused   bool
	closed   bool
	waitErr  error
	closeErr error
}

var _ ports.EncoderSink = (*FFmpegSink)(nil)

func startFFmpegSink(cfg config.FFmpegConfig, sink ports.SinkConfig, reads *optimize.BytePool, logger *zap.SugaredLogger) (*FFmpegSink, error) {
	path, err := exec.LookPath(cfg.Binary)
	if err != nil {
		return nil, fmt.Errorf("ffmpeg not found: %w", err)
	}

	// The process outlives the request that started the take; Close ends it.
	cmd := exec.Command(path, buildFFmpegArgs(cfg, sink)...)

	s := &FFmpegSink{
		cfg:     cfg,
		sink:    sink,
		logger:  logger,
		cmd:     cmd,
		reads:   reads,
		scratch: image.NewRGBA(image.Rect(0, 0, sink.Width, sink.Height)),
		done:    make(chan struct{}),
	}

	s.video, err = cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}

	var audioRead *os.File
	if sink.Microphone {
		audioRead, s.audio, err = os.Pipe()
		if err != nil {
			return nil, fmt.Errorf("audio pipe: %w", err)
		}
		cmd.ExtraFiles = []*os.File{audioRead}
	}

	if err := cmd.Start(); err != nil {
		if audioRead != nil {
			audioRead.Close()
			s.audio.Close()
		}
		return nil, fmt.Errorf("start ffmpeg: %w", err)
	}
	if audioRead != nil {
		audioRead.Close()
	}

	s.queue = newChunkQueue()
	go s.readOutput(stdout)

	logger.Infow("ffmpeg encoder started",
		"pid", cmd.Process.Pid,
		"width", sink.Width,
		"height", sink.Height,
		"fps", sink.FPS,
		"microphone", sink.Microphone,
		"original_audio", sink.Plan.IncludeOriginal,
	)
	return s, nil
}

func (s *FFmpegSink) readOutput(stdout io.Reader) {
	defer close(s.done)
	defer s.queue.close()

	buf := s.reads.Get()
	defer s.reads.Put(buf)

	index := 0
	for {
		n, err := stdout.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			s.queue.push(domain.Chunk{Index: index, Data: data})
			index++
		}
		if err != nil {
			if err != io.EOF {
				s.logger.Warnw("ffmpeg output read failed", "error", err)
			}
			break
		}
	}

	err := s.cmd.Wait()
	s.mu.Lock()
	s.waitErr = err
	closed := s.closed
	s.mu.Unlock()
	if err != nil && !closed {
		s.logger.Errorw("ffmpeg exited unexpectedly", "error", err)
	}
}

func (s *FFmpegSink) WriteVideo(frame image.Image, pts time.Duration) error {
	s.mu.Lock()
	closed, paused := s.closed, s.paused
	s.mu.Unlock()
	if closed {
		return ErrSinkClosed
	}
	if paused {
		return nil
	}

	pix := s.rgba(frame)
	if _, err := s.video.Write(pix); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// rgba returns tightly packed RGBA pixels of the canvas size.
func (s *FFmpegSink) rgba(frame image.Image) []byte {
	if img, ok := frame.(*image.RGBA); ok &&
		img.Rect == s.scratch.Rect && img.Stride == 4*s.sink.Width {
		return img.Pix
	}
	draw.Draw(s.scratch, s.scratch.Rect, frame, frame.Bounds().Min, draw.Src)
	return s.scratch.Pix
}

func (s *FFmpegSink) WriteAudio(pkt domain.AudioPacket) error {
	if s.audio == nil {
		return nil
	}
	s.mu.Lock()
	closed, paused := s.closed, s.paused
	s.mu.Unlock()
	if closed {
		return ErrSinkClosed
	}
	if paused || len(pkt.Samples) == 0 {
		return nil
	}

	s.pcm = optimize.GrowSlice(s.pcm, 4*len(pkt.Samples))
	for i, v := range pkt.Samples {
		binary.LittleEndian.PutUint32(s.pcm[4*i:], math.Float32bits(v))
	}
	if _, err := s.audio.Write(s.pcm); err != nil {
		return fmt.Errorf("write audio: %w", err)
	}
	return nil
}

func (s *FFmpegSink) Pause() {
	s.mu.Lock()
	s.paused = true
	s.mu.Unlock()
}

func (s *FFmpegSink) Resume() {
	s.mu.Lock()
	s.paused = false
	s.mu.Unlock()
}

func (s *FFmpegSink) Chunks() <-chan domain.Chunk { return s.queue.out }

// Close ends the inputs so ffmpeg can flush the container. The process is
// killed if it does not exit within CloseTimeout.
func (s *FFmpegSink) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return s.closeErr
	}
	s.closed = true
	s.mu.Unlock()

	var err error
	if cerr := s.video.Close(); cerr != nil {
		err = fmt.Errorf("close video input: %w", cerr)
	}
	if s.audio != nil {
		if cerr := s.audio.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close audio input: %w", cerr)
		}
	}

	select {
	case <-s.done:
	case <-time.After(s.cfg.CloseTimeout):
		s.logger.Warnw("ffmpeg did not exit in time, killing", "pid", s.cmd.Process.Pid)
		_ = s.cmd.Process.Kill()
		<-s.done
		err = fmt.Errorf("ffmpeg close timed out after %s", s.cfg.CloseTimeout)
	}

	s.mu.Lock()
	if err == nil && s.waitErr != nil {
		err = fmt.Errorf("ffmpeg: %w", s.waitErr)
	}
	s.closeErr = err
	s.mu.Unlock()
	return err
}

func (s *FFmpegSink) MimeType() string { return WebMMimeType }
