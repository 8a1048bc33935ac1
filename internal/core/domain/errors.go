package domain

import "errors"

var (
	ErrDeviceUnavailable = errors.New("media device unavailable")
	ErrStartRejected     = errors.New("start rejected: camera is not active")
	ErrEncodingFailure   = errors.New("encoding failure")
	ErrPublishFailure    = errors.New("publish failure")
	ErrInvalidTransition = errors.New("invalid recording transition")
	ErrNotImplemented    = errors.New("not implemented")
	ErrDuetNotFound      = errors.New("duet not found")
	ErrCapacityExceeded  = errors.New("too many open duets")
	ErrArtifactNotReady  = errors.New("artifact not ready")
	ErrSettingsLocked    = errors.New("settings locked while a take is in progress")
	ErrPlaybackLocked    = errors.New("playback is driven by the recording")
	ErrRecorderClosed    = errors.New("recorder closed")
	ErrInvalidSettings   = errors.New("invalid duet settings")
	ErrInvalidMetadata   = errors.New("invalid publish metadata")
)
