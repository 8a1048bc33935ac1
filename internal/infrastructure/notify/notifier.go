package notify

import (
	"context"

	"duetrec/internal/core/domain"
	"duetrec/internal/core/ports"

	"go.uber.org/zap"
)

// Multi forwards each notice to all notifiers in order.
type Multi []ports.Notifier

func (m Multi) Notify(ctx context.Context, notice domain.Notice) {
	for _, n := range m {
		n.Notify(ctx, notice)
	}
}

// LogNotifier writes notices to the service log.
type LogNotifier struct {
	logger *zap.SugaredLogger
}

func NewLogNotifier(logger *zap.SugaredLogger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (l *LogNotifier) Notify(ctx context.Context, notice domain.Notice) {
	fields := []interface{}{
		"duet_id", notice.DuetID,
		"title", notice.Title,
		"message", notice.Message,
	}
	if notice.Progress != nil {
		fields = append(fields, "progress", *notice.Progress)
	}

	switch notice.Level {
	case domain.NoticeError:
		l.logger.Errorw("Notice", fields...)
	case domain.NoticeWarning:
		l.logger.Warnw("Notice", fields...)
	case domain.NoticeInfo:
		if notice.Progress != nil {
			l.logger.Debugw("Notice", fields...)
			return
		}
		l.logger.Infow("Notice", fields...)
	default:
		l.logger.Infow("Notice", fields...)
	}
}
