package domain

import "time"

type Phase string

const (
	PhaseIdle      Phase = "idle"
	PhaseRecording Phase = "recording"
	PhasePaused    Phase = "paused"
	PhaseStopped   Phase = "stopped"
	PhaseFinalized Phase = "finalized"
)

// Active reports whether a take is in progress (sink open).
func (p Phase) Active() bool {
	return p == PhaseRecording || p == PhasePaused
}

type StopReason string

const (
	StopRequested    StopReason = "requested"
	StopDeviceLost   StopReason = "device_lost"
	StopEncoderError StopReason = "encoder_error"
	StopMaxDuration  StopReason = "max_duration"
	StopClosed       StopReason = "closed"
)

// RecordingSession is the state of one take. A retake replaces it.
type RecordingSession struct {
	ID             string
	Phase          Phase
	ElapsedSeconds int
	Chunks         []Chunk
	Artifact       *Artifact
	StartedAt      time.Time
	StoppedAt      time.Time
	StopReason     StopReason
}

func (s *RecordingSession) ChunkBytes() int {
	n := 0
	for _, c := range s.Chunks {
		n += len(c.Data)
	}
	return n
}

// SessionSnapshot is the read-only projection of a recorder handed to callers.
type SessionSnapshot struct {
	DuetID         DuetID        `json:"duet_id"`
	TakeID         string        `json:"take_id"`
	Phase          Phase         `json:"phase"`
	ElapsedSeconds int           `json:"elapsed_seconds"`
	ChunkCount     int           `json:"chunk_count"`
	ChunkBytes     int           `json:"chunk_bytes"`
	CameraActive   bool          `json:"camera_active"`
	Facing         FacingMode    `json:"facing,omitempty"`
	Microphone     bool          `json:"microphone"`
	PlaybackTime   float64       `json:"playback_time"`
	StopReason     StopReason    `json:"stop_reason,omitempty"`
	Original       OriginalVideo `json:"original"`
	Settings       DuetSettings  `json:"settings"`
	Artifact       *Artifact     `json:"artifact,omitempty"`
}
