package playback

import (
	"bufio"
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"os/exec"
	"strconv"
	"sync"

	"go.uber.org/zap"
)

const maxJPEGSize = 16 << 20

var (
	jpegSOI = []byte{0xFF, 0xD8}
	jpegEOI = []byte{0xFF, 0xD9}
)

// scanJPEG is a bufio.SplitFunc that yields whole JPEG images from an
// MJPEG byte stream. Bytes outside SOI..EOI are discarded.
func scanJPEG(data []byte, atEOF bool) (int, []byte, error) {
	soi := bytes.Index(data, jpegSOI)
	if soi < 0 {
		if atEOF {
			return len(data), nil, nil
		}
		// Keep a trailing 0xFF in case it starts the next marker.
		if n := len(data); n > 0 && data[n-1] == 0xFF {
			return n - 1, nil, nil
		}
		return len(data), nil, nil
	}

	eoi := bytes.Index(data[soi+2:], jpegEOI)
	if eoi < 0 {
		if atEOF {
			return len(data), nil, nil
		}
		return soi, nil, nil
	}
	end := soi + 2 + eoi + 2
	frame := make([]byte, end-soi)
	copy(frame, data[soi:end])
	return end, frame, nil
}

// StreamDecoder indexes the JPEG frames of an MJPEG stream produced at a
// fixed rate. Frames become available as the stream is read.
type StreamDecoder struct {
	fps    float64
	closer func() error
	logger *zap.SugaredLogger

	mu         sync.Mutex
	frames     [][]byte
	finished   bool
	readErr    error
	cacheIndex int
	cacheImage image.Image
	done       chan struct{}
}

// NewStreamDecoder starts reading r in the background. closer runs on Close.
func NewStreamDecoder(r io.Reader, fps float64, closer func() error, logger *zap.SugaredLogger) *StreamDecoder {
	d := &StreamDecoder{
		fps:        fps,
		closer:     closer,
		logger:     logger,
		cacheIndex: -1,
		done:       make(chan struct{}),
	}
	go d.read(r)
	return d
}

func (d *StreamDecoder) read(r io.Reader) {
	defer close(d.done)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 256*1024), maxJPEGSize)
	scanner.Split(scanJPEG)
	for scanner.Scan() {
		d.mu.Lock()
		d.frames = append(d.frames, scanner.Bytes())
		d.mu.Unlock()
	}

	d.mu.Lock()
	d.finished = true
	d.readErr = scanner.Err()
	count := len(d.frames)
	d.mu.Unlock()

	if err := scanner.Err(); err != nil {
		d.logger.Warnw("Original stream ended with error", "frames", count, "error", err)
		return
	}
	d.logger.Debugw("Original stream fully decoded", "frames", count)
}

// Frames reports how many frames have been read so far.
func (d *StreamDecoder) Frames() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.frames)
}

func (d *StreamDecoder) FrameAt(seconds float64) (image.Image, bool) {
	if seconds < 0 {
		return nil, false
	}
	idx := int(seconds * d.fps)

	d.mu.Lock()
	defer d.mu.Unlock()
	if idx >= len(d.frames) {
		if !d.finished || len(d.frames) == 0 {
			return nil, false
		}
		idx = len(d.frames) - 1
	}
	if idx == d.cacheIndex {
		return d.cacheImage, true
	}

	img, err := jpeg.Decode(bytes.NewReader(d.frames[idx]))
	if err != nil {
		d.logger.Warnw("Failed to decode original frame", "index", idx, "error", err)
		return nil, false
	}
	d.cacheIndex = idx
	d.cacheImage = img
	return img, true
}

// Wait blocks until the stream has been read completely.
func (d *StreamDecoder) Wait() error {
	<-d.done
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.readErr
}

func (d *StreamDecoder) Close() error {
	if d.closer == nil {
		return nil
	}
	return d.closer()
}

// StartFFmpegDecoder transcodes source into MJPEG at fps frames per second
// and serves the frames by media time.
func StartFFmpegDecoder(binary, source string, fps, width, quality int, logger *zap.SugaredLogger) (*StreamDecoder, error) {
	path, err := exec.LookPath(binary)
	if err != nil {
		return nil, fmt.Errorf("ffmpeg not found: %w", err)
	}

	cmd := exec.Command(path,
		"-hide_banner", "-loglevel", "error",
		"-i", source,
		"-vf", fmt.Sprintf("fps=%d,scale=%d:-2", fps, width),
		"-f", "image2pipe",
		"-c:v", "mjpeg",
		"-q:v", strconv.Itoa(quality),
		"pipe:1",
	)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start ffmpeg: %w", err)
	}

	var once sync.Once
	var d *StreamDecoder
	closer := func() error {
		once.Do(func() {
			_ = cmd.Process.Kill()
			<-d.done
			_ = cmd.Wait()
		})
		return nil
	}
	d = NewStreamDecoder(stdout, float64(fps), closer, logger)

	logger.Infow("Decoding original", "source", source, "fps", fps, "width", width, "pid", cmd.Process.Pid)
	return d, nil
}
