package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDuetSettingsPlan(t *testing.T) {
	s := DefaultDuetSettings()
	s.OriginalAudioVolume = 0.25
	s.DuetAudioVolume = 0.75

	s.AudioMix = AudioMixOriginalOnly
	assert.Equal(t, AudioPlan{IncludeOriginal: true, OriginalGain: 1}, s.Plan())

	s.AudioMix = AudioMixDuetOnly
	assert.Equal(t, AudioPlan{IncludeDuet: true, DuetGain: 1}, s.Plan())

	s.AudioMix = AudioMixBoth
	assert.Equal(t, AudioPlan{IncludeOriginal: true, OriginalGain: 1, IncludeDuet: true, DuetGain: 1}, s.Plan())

	s.AudioMix = AudioMixMixed
	assert.Equal(t, AudioPlan{IncludeOriginal: true, OriginalGain: 0.25, IncludeDuet: true, DuetGain: 0.75}, s.Plan())
}

func TestAudioPacketScaled(t *testing.T) {
	p := AudioPacket{SampleRate: 8000, Samples: []float32{0.5, -0.5, 1}}

	assert.Equal(t, p, p.Scaled(1))

	half := p.Scaled(0.5)
	assert.InDeltaSlice(t, []float32{0.25, -0.25, 0.5}, half.Samples, 1e-6)
	assert.Equal(t, []float32{0.5, -0.5, 1}, p.Samples, "original packet must not change")

	loud := p.Scaled(4)
	assert.InDeltaSlice(t, []float32{1, -1, 1}, loud.Samples, 1e-6)
}
