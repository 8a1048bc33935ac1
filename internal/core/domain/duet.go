package domain

import (
	"time"
)

type DuetID string
type PublishedID string

type OriginalVideo struct {
	ID        string  `json:"id"`
	SourceURL string  `json:"source_url"`
	Duration  float64 `json:"duration"`
	Creator   string  `json:"creator"`
}

type DuetType string

const (
	DuetSideBySide       DuetType = "side_by_side"
	DuetReactRespond     DuetType = "react_respond"
	DuetPictureInPicture DuetType = "picture_in_picture"
)

func (t DuetType) Valid() bool {
	switch t {
	case DuetSideBySide, DuetReactRespond, DuetPictureInPicture:
		return true
	}
	return false
}

type DuetSettings struct {
	Layout              Layout   `json:"layout" yaml:"layout"`
	DuetType            DuetType `json:"duet_type" yaml:"duet_type"`
	AudioMix            AudioMix `json:"audio_mix" yaml:"audio_mix"`
	OriginalAudioVolume float64  `json:"original_audio_volume" yaml:"original_audio_volume"`
	DuetAudioVolume     float64  `json:"duet_audio_volume" yaml:"duet_audio_volume"`
	SyncToOriginal      bool     `json:"sync_to_original" yaml:"sync_to_original"`
	StartOffset         float64  `json:"start_offset" yaml:"start_offset"`
	AllowComments       bool     `json:"allow_comments" yaml:"allow_comments"`
	AllowDuets          bool     `json:"allow_duets" yaml:"allow_duets"`
}

// DefaultDuetSettings mirrors what a fresh duet screen starts with.
func DefaultDuetSettings() DuetSettings {
	return DuetSettings{
		Layout:              LayoutOriginalLeft,
		DuetType:            DuetSideBySide,
		AudioMix:            AudioMixBoth,
		OriginalAudioVolume: 1.0,
		DuetAudioVolume:     1.0,
		SyncToOriginal:      true,
		AllowComments:       true,
		AllowDuets:          true,
	}
}

// LockedFieldsEqual reports whether the fields that are frozen for the
// duration of a take are unchanged between s and o.
func (s DuetSettings) LockedFieldsEqual(o DuetSettings) bool {
	return s.Layout == o.Layout &&
		s.DuetType == o.DuetType &&
		s.AudioMix == o.AudioMix &&
		s.SyncToOriginal == o.SyncToOriginal &&
		s.StartOffset == o.StartOffset
}

type FacingMode string

const (
	FacingUser        FacingMode = "user"
	FacingEnvironment FacingMode = "environment"
)

func (f FacingMode) Opposite() FacingMode {
	if f == FacingEnvironment {
		return FacingUser
	}
	return FacingEnvironment
}

func (f FacingMode) Valid() bool {
	return f == FacingUser || f == FacingEnvironment
}

type Capabilities struct {
	HasCamera     bool   `json:"has_camera"`
	HasMicrophone bool   `json:"has_microphone"`
	Warning       string `json:"warning,omitempty"`
}

type Chunk struct {
	Index    int
	Data     []byte
	Duration time.Duration
}

type Artifact struct {
	ID              string    `json:"id"`
	MimeType        string    `json:"mime_type"`
	Data            []byte    `json:"-"`
	Size            int       `json:"size"`
	DurationSeconds int       `json:"duration_seconds"`
	ChunkCount      int       `json:"chunk_count"`
	Width           int       `json:"width"`
	Height          int       `json:"height"`
	CreatedAt       time.Time `json:"created_at"`
}

type PublishedDuet struct {
	ID              PublishedID     `json:"id"`
	OriginalVideoID string          `json:"original_video_id"`
	ArtifactID      string          `json:"artifact_id"`
	ArtifactURL     string          `json:"artifact_url"`
	Settings        DuetSettings    `json:"settings"`
	Metadata        PublishMetadata `json:"metadata"`
	DurationSeconds int             `json:"duration_seconds"`
	PublishedAt     time.Time       `json:"published_at"`
}
