package domain

import "time"

type AudioMix string

const (
	AudioMixOriginalOnly AudioMix = "original_only"
	AudioMixDuetOnly     AudioMix = "duet_only"
	AudioMixBoth         AudioMix = "both"
	AudioMixMixed        AudioMix = "mixed"
)

func (m AudioMix) Valid() bool {
	switch m {
	case AudioMixOriginalOnly, AudioMixDuetOnly, AudioMixBoth, AudioMixMixed:
		return true
	}
	return false
}

// AudioPlan is the resolved routing of the two audio sources into the output.
type AudioPlan struct {
	IncludeOriginal bool
	OriginalGain    float64
	IncludeDuet     bool
	DuetGain        float64
}

// Plan resolves the audio routing. Gains are unity unless the mix is "mixed",
// in which case the configured volumes weight both sources.
func (s DuetSettings) Plan() AudioPlan {
	switch s.AudioMix {
	case AudioMixOriginalOnly:
		return AudioPlan{IncludeOriginal: true, OriginalGain: 1}
	case AudioMixDuetOnly:
		return AudioPlan{IncludeDuet: true, DuetGain: 1}
	case AudioMixMixed:
		return AudioPlan{
			IncludeOriginal: true,
			OriginalGain:    clampUnit(s.OriginalAudioVolume),
			IncludeDuet:     true,
			DuetGain:        clampUnit(s.DuetAudioVolume),
		}
	default:
		return AudioPlan{IncludeOriginal: true, OriginalGain: 1, IncludeDuet: true, DuetGain: 1}
	}
}

// AudioPacket is a block of mono PCM samples in [-1, 1].
type AudioPacket struct {
	SampleRate int
	Samples    []float32
	Timestamp  time.Duration
}

// Scaled returns a copy of p with every sample multiplied by gain.
func (p AudioPacket) Scaled(gain float64) AudioPacket {
	if gain == 1 {
		return p
	}
	out := make([]float32, len(p.Samples))
	for i, s := range p.Samples {
		v := float64(s) * gain
		if v > 1 {
			v = 1
		} else if v < -1 {
			v = -1
		}
		out[i] = float32(v)
	}
	return AudioPacket{SampleRate: p.SampleRate, Samples: out, Timestamp: p.Timestamp}
}

func clampUnit(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
