package encoder

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"math"
	"sync"
	"time"

	"duetrec/internal/core/domain"
	"duetrec/internal/core/ports"
	"duetrec/pkg/optimize"

	"go.uber.org/zap"
)

const (
	FramedMimeType = "application/x-duet-framed"

	framedMagic = "DUETREC1"

	recordVideo byte = 'V'
	recordAudio byte = 'A'
)

var ErrSinkClosed = errors.New("encoder sink closed")

// FramedHeader opens every framed artifact.
type FramedHeader struct {
	Width       int              `json:"width"`
	Height      int              `json:"height"`
	FPS         int              `json:"fps"`
	SampleRate  int              `json:"sample_rate"`
	OriginalID  string           `json:"original_id"`
	OriginalURL string           `json:"original_url"`
	StartOffset float64          `json:"start_offset"`
	Plan        domain.AudioPlan `json:"plan"`
}

// FramedSink writes composed frames as JPEG records and microphone audio as
// 16-bit PCM records into a single self-describing stream. The original's
// audio is not embedded; the header carries the plan needed to mix it later.
type FramedSink struct {
	header        FramedHeader
	quality       int
	chunkDuration time.Duration
	buffers       *optimize.BufferPool
	logger        *zap.SugaredLogger

	mu         sync.Mutex
	current    *bytes.Buffer
	chunkStart time.Duration
	lastPTS    time.Duration
	index      int
	paused     bool
	closed     bool
	queue      *chunkQueue
}

var _ ports.EncoderSink = (*FramedSink)(nil)

func newFramedSink(cfg ports.SinkConfig, quality int, chunkDuration time.Duration, buffers *optimize.BufferPool, logger *zap.SugaredLogger) (*FramedSink, error) {
	header := FramedHeader{
		Width:       cfg.Width,
		Height:      cfg.Height,
		FPS:         cfg.FPS,
		SampleRate:  cfg.AudioSampleRate,
		OriginalID:  cfg.Original.ID,
		OriginalURL: cfg.Original.SourceURL,
		StartOffset: cfg.StartOffset,
		Plan:        cfg.Plan,
	}
	meta, err := json.Marshal(header)
	if err != nil {
		return nil, fmt.Errorf("encode header: %w", err)
	}

	s := &FramedSink{
		header:        header,
		quality:       quality,
		chunkDuration: chunkDuration,
		buffers:       buffers,
		logger:        logger,
		current:       new(bytes.Buffer),
		queue:         newChunkQueue(),
	}

	s.current.WriteString(framedMagic)
	writeUint32(s.current, uint32(len(meta)))
	s.current.Write(meta)
	return s, nil
}

func (s *FramedSink) WriteVideo(frame image.Image, pts time.Duration) error {
	buf := s.buffers.Get()
	defer s.buffers.Put(buf)

	if err := jpeg.Encode(buf, frame, &jpeg.Options{Quality: s.quality}); err != nil {
		return fmt.Errorf("jpeg encode: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSinkClosed
	}
	if s.paused {
		return nil
	}

	s.appendRecord(recordVideo, pts, buf.Bytes())
	if pts-s.chunkStart >= s.chunkDuration {
		s.flushLocked()
	}
	return nil
}

func (s *FramedSink) WriteAudio(pkt domain.AudioPacket) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSinkClosed
	}
	if s.paused || len(pkt.Samples) == 0 {
		return nil
	}

	payload := make([]byte, 4+2*len(pkt.Samples))
	binary.LittleEndian.PutUint32(payload, uint32(pkt.SampleRate))
	for i, v := range pkt.Samples {
		binary.LittleEndian.PutUint16(payload[4+2*i:], uint16(floatToPCM16(v)))
	}
	s.appendRecord(recordAudio, pkt.Timestamp, payload)
	return nil
}

func (s *FramedSink) appendRecord(kind byte, pts time.Duration, payload []byte) {
	s.current.WriteByte(kind)
	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], uint64(pts))
	s.current.Write(ts[:])
	writeUint32(s.current, uint32(len(payload)))
	s.current.Write(payload)
	if pts > s.lastPTS {
		s.lastPTS = pts
	}
}

// flushLocked hands the current buffer to the queue as the next chunk.
func (s *FramedSink) flushLocked() {
	if s.current.Len() == 0 {
		return
	}
	chunk := domain.Chunk{
		Index:    s.index,
		Data:     s.current.Bytes(),
		Duration: s.lastPTS - s.chunkStart,
	}
	s.index++
	s.current = new(bytes.Buffer)
	s.chunkStart = s.lastPTS
	s.queue.push(chunk)
}

func (s *FramedSink) Pause() {
	s.mu.Lock()
	s.paused = true
	s.mu.Unlock()
}

func (s *FramedSink) Resume() {
	s.mu.Lock()
	s.paused = false
	s.mu.Unlock()
}

func (s *FramedSink) Chunks() <-chan domain.Chunk { return s.queue.out }

// Close flushes the tail chunk and closes Chunks once it has been read.
func (s *FramedSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.flushLocked()
	s.queue.close()
	s.logger.Debugw("Framed sink closed", "chunks", s.index, "original_id", s.header.OriginalID)
	return nil
}

func (s *FramedSink) MimeType() string { return FramedMimeType }

func writeUint32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func floatToPCM16(v float32) int16 {
	if v > 1 {
		v = 1
	} else if v < -1 {
		v = -1
	}
	return int16(math.Round(float64(v) * math.MaxInt16))
}
