package webrtc

import (
	"time"

	"duetrec/internal/core/domain"

	"github.com/pion/rtp"
)

// G.711 µ-law expansion table, scaled to [-1, 1].
var mulawTable = func() [256]float32 {
	var t [256]float32
	for i := range t {
		t[i] = float32(mulawToLinear(byte(i))) / 32768
	}
	return t
}()

func mulawToLinear(u byte) int16 {
	u = ^u
	sign := u & 0x80
	exponent := (u >> 4) & 0x07
	mantissa := int32(u & 0x0F)
	sample := ((mantissa << 3) + 0x84) << exponent
	sample -= 0x84
	if sign != 0 {
		sample = -sample
	}
	return int16(sample)
}

// decodeMulaw appends the PCM samples of a PCMU payload to dst.
func decodeMulaw(dst []float32, payload []byte) []float32 {
	for _, b := range payload {
		dst = append(dst, mulawTable[b])
	}
	return dst
}

// pcmuPacket converts an RTP packet of a PCMU track into an audio packet
// timestamped relative to the first packet of the track.
func pcmuPacket(pkt *rtp.Packet, first uint32) domain.AudioPacket {
	return domain.AudioPacket{
		SampleRate: pcmuClockRate,
		Samples:    decodeMulaw(make([]float32, 0, len(pkt.Payload)), pkt.Payload),
		Timestamp:  time.Duration(pkt.Timestamp-first) * time.Second / pcmuClockRate,
	}
}
