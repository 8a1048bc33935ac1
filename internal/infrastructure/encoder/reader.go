package encoder

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"math"
	"time"

	"duetrec/internal/core/domain"
)

var ErrNotFramed = errors.New("not a framed duet stream")

// maxRecordSize bounds a single record so a corrupt length cannot exhaust memory.
const maxRecordSize = 64 << 20

// FramedRecord is one entry of a framed artifact.
type FramedRecord struct {
	Kind    byte
	PTS     time.Duration
	Payload []byte
}

func (r FramedRecord) IsVideo() bool { return r.Kind == recordVideo }
func (r FramedRecord) IsAudio() bool { return r.Kind == recordAudio }

// Image decodes a video record.
func (r FramedRecord) Image() (image.Image, error) {
	if !r.IsVideo() {
		return nil, fmt.Errorf("record %q is not video", r.Kind)
	}
	return jpeg.Decode(bytes.NewReader(r.Payload))
}

// Audio decodes an audio record.
func (r FramedRecord) Audio() (domain.AudioPacket, error) {
	if !r.IsAudio() {
		return domain.AudioPacket{}, fmt.Errorf("record %q is not audio", r.Kind)
	}
	if len(r.Payload) < 4 || (len(r.Payload)-4)%2 != 0 {
		return domain.AudioPacket{}, fmt.Errorf("malformed audio record of %d bytes", len(r.Payload))
	}
	n := (len(r.Payload) - 4) / 2
	pkt := domain.AudioPacket{
		SampleRate: int(binary.LittleEndian.Uint32(r.Payload)),
		Samples:    make([]float32, n),
		Timestamp:  r.PTS,
	}
	for i := 0; i < n; i++ {
		v := int16(binary.LittleEndian.Uint16(r.Payload[4+2*i:]))
		pkt.Samples[i] = float32(v) / math.MaxInt16
	}
	return pkt, nil
}

// FramedReader iterates the records of a framed artifact.
type FramedReader struct {
	r      *bufio.Reader
	Header FramedHeader
}

// ReadFramed parses the header of a framed artifact and returns a reader
// positioned at the first record.
func ReadFramed(r io.Reader) (*FramedReader, error) {
	br := bufio.NewReader(r)

	magic := make([]byte, len(framedMagic))
	if _, err := io.ReadFull(br, magic); err != nil || string(magic) != framedMagic {
		return nil, ErrNotFramed
	}

	var metaLen uint32
	if err := binary.Read(br, binary.BigEndian, &metaLen); err != nil {
		return nil, fmt.Errorf("read header length: %w", err)
	}
	if metaLen > maxRecordSize {
		return nil, fmt.Errorf("header length %d exceeds limit", metaLen)
	}
	meta := make([]byte, metaLen)
	if _, err := io.ReadFull(br, meta); err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}

	fr := &FramedReader{r: br}
	if err := json.Unmarshal(meta, &fr.Header); err != nil {
		return nil, fmt.Errorf("decode header: %w", err)
	}
	return fr, nil
}

// Next returns the next record, or io.EOF after the last one.
func (fr *FramedReader) Next() (FramedRecord, error) {
	kind, err := fr.r.ReadByte()
	if err != nil {
		return FramedRecord{}, err
	}
	if kind != recordVideo && kind != recordAudio {
		return FramedRecord{}, fmt.Errorf("unknown record kind %q", kind)
	}

	var fixed [12]byte
	if _, err := io.ReadFull(fr.r, fixed[:]); err != nil {
		return FramedRecord{}, fmt.Errorf("truncated record: %w", err)
	}
	pts := time.Duration(binary.BigEndian.Uint64(fixed[:8]))
	size := binary.BigEndian.Uint32(fixed[8:])
	if size > maxRecordSize {
		return FramedRecord{}, fmt.Errorf("record size %d exceeds limit", size)
	}

	payload := make([]byte, size)
	if _, err := io.ReadFull(fr.r, payload); err != nil {
		return FramedRecord{}, fmt.Errorf("truncated record: %w", err)
	}
	return FramedRecord{Kind: kind, PTS: pts, Payload: payload}, nil
}

// ReadAll drains the remaining records.
func (fr *FramedReader) ReadAll() ([]FramedRecord, error) {
	var out []FramedRecord
	for {
		rec, err := fr.Next()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, rec)
	}
}
