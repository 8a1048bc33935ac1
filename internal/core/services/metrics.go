package services

import (
	"time"

	"duetrec/internal/core/domain"
	"duetrec/internal/core/ports"
)

// NoopMetrics discards all observations.
type NoopMetrics struct{}

var _ ports.Metrics = NoopMetrics{}

func (NoopMetrics) RecorderOpened()                     {}
func (NoopMetrics) RecorderClosed()                     {}
func (NoopMetrics) PhaseChanged(from, to domain.Phase)  {}
func (NoopMetrics) FrameComposed(time.Duration)         {}
func (NoopMetrics) FrameSkipped(string)                 {}
func (NoopMetrics) ChunkAppended(int)                   {}
func (NoopMetrics) RecordedSecond()                     {}
func (NoopMetrics) PublishCompleted(time.Duration, int) {}
func (NoopMetrics) PublishFailed(string)                {}
